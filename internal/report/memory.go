package report

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/kiosk-status/internal/model"
)

// MemoryStore is a Store backed by per-kiosk slices under one lock.
type MemoryStore struct {
	mu     sync.RWMutex
	kiosks map[string][]model.Report
	byID   map[string]string // report id -> kiosk id
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kiosks: make(map[string][]model.Report),
		byID:   make(map[string]string),
	}
}

// Put implements Store. A report from the same device replaces the prior
// one in place.
func (m *MemoryStore) Put(_ context.Context, r model.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reports := m.kiosks[r.KioskID]
	for i, existing := range reports {
		if existing.DeviceHash == r.DeviceHash {
			delete(m.byID, existing.ID)
			reports[i] = r
			m.byID[r.ID] = r.KioskID
			return nil
		}
	}
	m.kiosks[r.KioskID] = append(reports, r)
	m.byID[r.ID] = r.KioskID
	return nil
}

// ForKiosk implements Store.
func (m *MemoryStore) ForKiosk(_ context.Context, kioskID string) ([]model.Report, error) {
	m.mu.RLock()
	out := append([]model.Report(nil), m.kiosks[kioskID]...)
	m.mu.RUnlock()

	SortNewestFirst(out)
	return out, nil
}

// FindByID implements Store.
func (m *MemoryStore) FindByID(_ context.Context, reportID string) (model.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if kioskID, ok := m.byID[reportID]; ok {
		for _, r := range m.kiosks[kioskID] {
			if r.ID == reportID {
				return r, nil
			}
		}
	}
	return model.Report{}, eris.Wrapf(model.ErrNotFound, "report %s", reportID)
}

// All implements Store.
func (m *MemoryStore) All(_ context.Context) ([]model.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Report, 0, len(m.byID))
	for _, reports := range m.kiosks {
		out = append(out, reports...)
	}
	return out, nil
}

// Kiosks implements Store.
func (m *MemoryStore) Kiosks(_ context.Context) ([]string, error) {
	m.mu.RLock()
	out := make([]string, 0, len(m.kiosks))
	for id, reports := range m.kiosks {
		if len(reports) > 0 {
			out = append(out, id)
		}
	}
	m.mu.RUnlock()

	sort.Strings(out)
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
