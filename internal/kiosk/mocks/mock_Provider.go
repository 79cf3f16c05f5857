// Package mocks provides test doubles for the kiosk package.
package mocks

import (
	"context"

	overpass "github.com/sells-group/kiosk-status/pkg/overpass"
	mock "github.com/stretchr/testify/mock"
)

// MockProvider is a mock type for the Provider interface.
type MockProvider struct {
	mock.Mock
}

// Search provides a mock function with given fields: ctx, lat, lng, radius
func (_m *MockProvider) Search(ctx context.Context, lat float64, lng float64, radius int) ([]overpass.Element, error) {
	ret := _m.Called(ctx, lat, lng, radius)

	if len(ret) == 0 {
		panic("no return value specified for Search")
	}

	var r0 []overpass.Element
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, float64, float64, int) ([]overpass.Element, error)); ok {
		return rf(ctx, lat, lng, radius)
	}
	if rf, ok := ret.Get(0).(func(context.Context, float64, float64, int) []overpass.Element); ok {
		r0 = rf(ctx, lat, lng, radius)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]overpass.Element)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, float64, float64, int) error); ok {
		r1 = rf(ctx, lat, lng, radius)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockProvider creates a new instance of MockProvider. It also registers
// a testing interface on the mock and a cleanup function to assert the
// mocks expectations.
func NewMockProvider(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockProvider {
	m := &MockProvider{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
