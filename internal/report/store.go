// Package report holds the latest report per device per kiosk.
package report

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/kiosk-status/internal/model"
)

// Store persists reports keyed by (kiosk, device). Implementations must make
// Put a single atomic replace so readers never see a partial report.
type Store interface {
	// Put inserts r, or replaces the existing report for the same
	// (KioskID, DeviceHash) pair.
	Put(ctx context.Context, r model.Report) error

	// ForKiosk returns the live reports for a kiosk, newest first.
	ForKiosk(ctx context.Context, kioskID string) ([]model.Report, error)

	// FindByID looks a report up across all kiosks.
	FindByID(ctx context.Context, reportID string) (model.Report, error)

	// All returns every live report in no particular order.
	All(ctx context.Context) ([]model.Report, error)

	// Kiosks returns the ids of kiosks holding at least one report.
	Kiosks(ctx context.Context) ([]string, error)

	Close() error
}

// TrustSource supplies the trust snapshot frozen into a new report.
type TrustSource interface {
	ScoreFor(deviceHash string) float64
}

// Submit validates and records a report, snapshotting the device's current
// trust. Callers that need the trust read and the write to be atomic with
// respect to trust updates must hold their write lock around this call.
func Submit(ctx context.Context, s Store, trust TrustSource, kioskID string, status model.Status, deviceHash string, now time.Time) (model.Report, error) {
	kioskID = strings.TrimSpace(kioskID)
	if kioskID == "" {
		return model.Report{}, eris.Wrap(model.ErrInvalidArgument, "kiosk_id is required")
	}
	if !status.Valid() {
		return model.Report{}, eris.Wrapf(model.ErrInvalidArgument, "invalid status value %q", status)
	}
	if deviceHash == "" {
		return model.Report{}, eris.Wrap(model.ErrInvalidArgument, "device_hash is required")
	}

	r := model.Report{
		ID:                uuid.NewString(),
		KioskID:           kioskID,
		Status:            status,
		DeviceHash:        deviceHash,
		SubmittedAt:       now.UTC(),
		TrustAtSubmission: trust.ScoreFor(deviceHash),
	}
	if err := s.Put(ctx, r); err != nil {
		return model.Report{}, eris.Wrapf(err, "report: submit for kiosk %s", kioskID)
	}
	return r, nil
}

// SortNewestFirst orders reports by submission time descending, breaking
// ties on id so the order is stable.
func SortNewestFirst(reports []model.Report) {
	sort.Slice(reports, func(i, j int) bool {
		if !reports[i].SubmittedAt.Equal(reports[j].SubmittedAt) {
			return reports[i].SubmittedAt.After(reports[j].SubmittedAt)
		}
		return reports[i].ID < reports[j].ID
	})
}
