package kiosk

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/kiosk-status/internal/kiosk/mocks"
	"github.com/sells-group/kiosk-status/internal/kioskcache"
	"github.com/sells-group/kiosk-status/internal/model"
	"github.com/sells-group/kiosk-status/internal/report"
	"github.com/sells-group/kiosk-status/internal/trust"
	"github.com/sells-group/kiosk-status/pkg/overpass"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	provider *mocks.MockProvider
	cache    *kioskcache.Cache
	store    *report.MemoryStore
	ledger   *trust.MemoryLedger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := func() time.Time { return testNow }
	f := &fixture{
		provider: mocks.NewMockProvider(t),
		cache:    kioskcache.New(kioskcache.WithClock(now)),
		store:    report.NewMemoryStore(),
		ledger:   trust.NewMemoryLedger(trust.DefaultConfig()),
	}
	f.svc = NewService(f.provider, f.cache, f.store, f.ledger, WithClock(now))
	return f
}

func sampleElements() []overpass.Element {
	return []overpass.Element{
		{
			Type: "node", ID: 101, Lat: 40.7127, Lon: -74.0059,
			Tags: map[string]string{
				"amenity":     "atm",
				"name":        "Lobby ATM",
				"operator":    "Chase",
				"brand":       "JPMorgan",
				"addr:street": "Broadway",
				"addr:city":   "New York",
			},
		},
		{
			Type: "node", ID: 202, Lat: 40.7131, Lon: -74.0062,
			Tags: map[string]string{
				"amenity":   "atm",
				"brand":     "Citi",
				"addr:city": "New York",
			},
		},
	}
}

func TestNearby_MapsTagsAndJoinsStatus(t *testing.T) {
	f := newFixture(t)
	f.provider.On("Search", mock.Anything, 40.7128, -74.006, 15000).Return(sampleElements(), nil).Once()

	_, err := f.svc.Submit(context.Background(), "101", "no_cash", "dev-a")
	require.NoError(t, err)

	got, err := f.svc.Nearby(context.Background(), 40.7128, -74.006, 15000)
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "101", first.ID)
	require.NotNil(t, first.Name)
	assert.Equal(t, "Lobby ATM", *first.Name)
	require.NotNil(t, first.Bank)
	assert.Equal(t, "Chase", *first.Bank)
	require.NotNil(t, first.Address)
	assert.Equal(t, "Broadway, New York", *first.Address)
	assert.Equal(t, model.StatusNoCash, first.Status)
	assert.InDelta(t, 1.0, first.Confidence, 1e-9)
	assert.Equal(t, 1, first.ReportCount)
	require.NotNil(t, first.LastReportedAt)
	assert.True(t, testNow.Equal(*first.LastReportedAt))

	second := got[1]
	assert.Equal(t, "202", second.ID)
	assert.Nil(t, second.Name)
	require.NotNil(t, second.Bank)
	assert.Equal(t, "Citi", *second.Bank)
	assert.Nil(t, second.Address, "city without street is not an address")
	assert.Equal(t, model.StatusUnknown, second.Status)
	assert.Zero(t, second.Confidence)
	assert.Zero(t, second.ReportCount)
	assert.Nil(t, second.LastReportedAt)
}

func TestNearby_CachedMetadataFreshStatus(t *testing.T) {
	f := newFixture(t)
	f.provider.On("Search", mock.Anything, 40.7128, -74.006, 15000).Return(sampleElements(), nil).Once()

	ctx := context.Background()
	before, err := f.svc.Nearby(ctx, 40.7128, -74.006, 15000)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnknown, before[0].Status)

	_, err = f.svc.Submit(ctx, "101", "out_of_service", "dev-a")
	require.NoError(t, err)

	// Nearby point in the same cache cell; provider is not called again.
	after, err := f.svc.Nearby(ctx, 40.71281, -74.00601, 15000)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, before[0].Kiosk, after[0].Kiosk)
	assert.Equal(t, model.StatusOutOfService, after[0].Status)
	assert.Equal(t, 1, after[0].ReportCount)

	stats := f.cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestNearby_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("overpass: status 504")
	f.provider.On("Search", mock.Anything, 40.7128, -74.006, 15000).Return(nil, boom).Once()
	f.provider.On("Search", mock.Anything, 40.7128, -74.006, 15000).Return(sampleElements(), nil).Once()

	_, err := f.svc.Nearby(context.Background(), 40.7128, -74.006, 15000)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUpstreamUnavailable)
	assert.Contains(t, err.Error(), "status 504")

	_, ok := f.cache.Lookup(40.7128, -74.006, 15000)
	assert.False(t, ok, "failures are not cached")

	got, err := f.svc.Nearby(context.Background(), 40.7128, -74.006, 15000)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestNearby_EmptyResult(t *testing.T) {
	f := newFixture(t)
	f.provider.On("Search", mock.Anything, 10.0, 10.0, 500).Return(nil, nil).Once()

	got, err := f.svc.Nearby(context.Background(), 10, 10, 500)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestNearby_InvalidArea(t *testing.T) {
	tests := []struct {
		name     string
		lat, lng float64
		radius   int
	}{
		{name: "lat too high", lat: 91, lng: 0, radius: 100},
		{name: "lat too low", lat: -90.5, lng: 0, radius: 100},
		{name: "lng out of range", lat: 0, lng: 181, radius: 100},
		{name: "nan", lat: math.NaN(), lng: 0, radius: 100},
		{name: "inf", lat: 0, lng: math.Inf(1), radius: 100},
		{name: "zero radius", lat: 0, lng: 0, radius: 0},
		{name: "negative radius", lat: 0, lng: 0, radius: -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Nearby(context.Background(), tt.lat, tt.lng, tt.radius)
			assert.ErrorIs(t, err, model.ErrInvalidArgument)
		})
	}
}

func TestSubmit_ReturnsWeightedStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, "k1", "working", "dev-a")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.NotEmpty(t, res.Report.ID)
	assert.Equal(t, "k1", res.Report.KioskID)
	assert.Equal(t, model.StatusWorking, res.Report.Status)
	assert.Equal(t, "dev-a", res.Report.DeviceHash)
	assert.InDelta(t, 0.5, res.Report.TrustAtSubmission, 1e-9)
	assert.True(t, testNow.Equal(res.Report.SubmittedAt))
	assert.Equal(t, model.StatusWorking, res.WeightedStatus)
	assert.InDelta(t, 1.0, res.Confidence, 1e-9)

	res, err = f.svc.Submit(ctx, "k1", "no_cash", "dev-b")
	require.NoError(t, err)
	// Equal weights tie; working comes first.
	assert.Equal(t, model.StatusWorking, res.WeightedStatus)
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)
}

func TestSubmit_SameDeviceOverwrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, "k1", "working", "dev-a")
	require.NoError(t, err)
	second, err := f.svc.Submit(ctx, "k1", "out_of_service", "dev-a")
	require.NoError(t, err)
	assert.NotEqual(t, first.Report.ID, second.Report.ID)
	assert.Equal(t, model.StatusOutOfService, second.WeightedStatus)

	got, err := f.svc.KioskReports(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReportCount)
	require.Len(t, got.Reports, 1)
	assert.Equal(t, second.Report.ID, got.Reports[0].ID)
}

func TestSubmit_AnonymousDevice(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Submit(context.Background(), "k1", "working", "   ")
	require.NoError(t, err)
	assert.Equal(t, AnonymousDevice, res.Report.DeviceHash)

	devices := f.ledger.Devices()
	require.Len(t, devices, 1)
	assert.Equal(t, AnonymousDevice, devices[0].DeviceHash)
}

func TestSubmit_RegistersDeviceWithoutOutcome(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), "k1", "working", "dev-a")
	require.NoError(t, err)

	devices := f.ledger.Devices()
	require.Len(t, devices, 1)
	assert.Zero(t, devices[0].TotalReports)
	assert.Zero(t, devices[0].AccurateReports)
	assert.InDelta(t, 0.5, devices[0].TrustScore, 1e-9)
}

func TestSubmit_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		kioskID string
		status  string
	}{
		{name: "unknown status", kioskID: "k1", status: "unknown"},
		{name: "garbage status", kioskID: "k1", status: "broken"},
		{name: "empty status", kioskID: "k1", status: ""},
		{name: "empty kiosk", kioskID: "  ", status: "working"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Submit(context.Background(), tt.kioskID, tt.status, "dev-a")
			assert.ErrorIs(t, err, model.ErrInvalidArgument)
			assert.Zero(t, f.ledger.Len(), "rejected submissions leave no trace")

			all, err := f.store.All(context.Background())
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestKioskReports_SnapshotVersusCurrentTrust(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "k1", "working", "dev-a")
	require.NoError(t, err)
	for range 3 {
		f.ledger.RecordOutcome("dev-a", true, testNow)
	}

	got, err := f.svc.KioskReports(ctx, "k1")
	require.NoError(t, err)
	require.Len(t, got.Reports, 1)
	assert.InDelta(t, 0.5, got.Reports[0].TrustAtSubmission, 1e-9)
	assert.InDelta(t, 0.85, got.Reports[0].DeviceTrust, 1e-9)
	assert.Equal(t, model.StatusWorking, got.Status)
}

func TestKioskReports_NoReports(t *testing.T) {
	f := newFixture(t)

	got, err := f.svc.KioskReports(context.Background(), "nothing-here")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnknown, got.Status)
	assert.Zero(t, got.Confidence)
	assert.Zero(t, got.ReportCount)
	assert.NotNil(t, got.Reports)
	assert.Empty(t, got.Reports)
}

func TestKioskReports_EmptyID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.KioskReports(context.Background(), "")
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestSubmit_ConcurrentDevices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			device := "dev-" + string(rune('a'+i))
			_, err := f.svc.Submit(ctx, "k1", "working", device)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := f.svc.KioskReports(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 20, got.ReportCount)
	assert.Equal(t, 20, f.ledger.Len())
}

func TestService_SharedWriteLock(t *testing.T) {
	mu := &sync.Mutex{}
	svc := NewService(nil, kioskcache.New(), report.NewMemoryStore(), trust.NewMemoryLedger(trust.DefaultConfig()), WithWriteLock(mu))
	assert.Same(t, mu, svc.WriteLock())
}

// cancelAfterPut cancels the request context once the write has landed, and
// fails reads made under a cancelled context the way the sqlite driver does.
type cancelAfterPut struct {
	report.Store
	cancel context.CancelFunc
}

func (c *cancelAfterPut) Put(ctx context.Context, r model.Report) error {
	err := c.Store.Put(ctx, r)
	c.cancel()
	return err
}

func (c *cancelAfterPut) ForKiosk(ctx context.Context, kioskID string) ([]model.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.Store.ForKiosk(ctx, kioskID)
}

func TestSubmit_CallerCancelsAfterCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inner := report.NewMemoryStore()
	store := &cancelAfterPut{Store: inner, cancel: cancel}
	ledger := trust.NewMemoryLedger(trust.DefaultConfig())
	svc := NewService(mocks.NewMockProvider(t), kioskcache.New(), store, ledger,
		WithClock(func() time.Time { return testNow }))

	res, err := svc.Submit(ctx, "k1", "working", "dev-a")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, model.StatusWorking, res.WeightedStatus)
	assert.InDelta(t, 1.0, res.Confidence, 1e-9)

	stored, err := inner.ForKiosk(context.Background(), "k1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, res.Report.ID, stored[0].ID)
	assert.Equal(t, 1, ledger.Len())
}
