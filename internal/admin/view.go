// Package admin exposes operator views over the report store and trust
// ledger, and the verification step that feeds device trust.
package admin

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/kiosk-status/internal/model"
	"github.com/sells-group/kiosk-status/internal/report"
	"github.com/sells-group/kiosk-status/internal/status"
	"github.com/sells-group/kiosk-status/internal/trust"
)

// DefaultLimit caps RecentReports when no usable limit is given.
const DefaultLimit = 50

// Stats summarizes the current state of all kiosks with reports.
type Stats struct {
	TotalKiosks   int                  `json:"total_kiosks_with_reports"`
	TotalReports  int                  `json:"total_reports"`
	StatusCounts  map[model.Status]int `json:"status_counts"`
	ActiveDevices int                  `json:"active_devices"`
}

// Option configures a View.
type Option func(*View)

// WithWriteLock shares the submit path's write lock.
func WithWriteLock(l sync.Locker) Option {
	return func(v *View) {
		v.writeMu = l
	}
}

// WithAggregator sets the decay parameters used for per-kiosk status.
func WithAggregator(cfg status.Config) Option {
	return func(v *View) {
		v.agg = cfg
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(v *View) {
		v.nowFunc = now
	}
}

// WithDefaultLimit overrides DefaultLimit.
func WithDefaultLimit(n int) Option {
	return func(v *View) {
		if n > 0 {
			v.defaultLimit = n
		}
	}
}

// View is the admin surface.
type View struct {
	reports report.Store
	ledger  trust.Ledger

	agg          status.Config
	writeMu      sync.Locker
	nowFunc      func() time.Time
	defaultLimit int
}

// New creates a View. Pass WithWriteLock with the kiosk service's lock so
// verification and submission never interleave.
func New(reports report.Store, ledger trust.Ledger, opts ...Option) *View {
	v := &View{
		reports:      reports,
		ledger:       ledger,
		agg:          status.DefaultConfig(),
		writeMu:      &sync.Mutex{},
		nowFunc:      time.Now,
		defaultLimit: DefaultLimit,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// DefaultLimit returns the limit applied when callers give none.
func (v *View) DefaultLimit() int {
	return v.defaultLimit
}

// Stats counts kiosks, live reports, devices, and kiosks per current status.
func (v *View) Stats(ctx context.Context) (Stats, error) {
	kiosks, err := v.reports.Kiosks(ctx)
	if err != nil {
		return Stats{}, eris.Wrap(err, "admin: list kiosks")
	}

	out := Stats{
		TotalKiosks: len(kiosks),
		StatusCounts: map[model.Status]int{
			model.StatusWorking:      0,
			model.StatusNoCash:       0,
			model.StatusOutOfService: 0,
			model.StatusUnknown:      0,
		},
		ActiveDevices: v.ledger.Len(),
	}

	now := v.nowFunc()
	for _, id := range kiosks {
		reports, err := v.reports.ForKiosk(ctx, id)
		if err != nil {
			return Stats{}, eris.Wrapf(err, "admin: reports for %s", id)
		}
		out.TotalReports += len(reports)
		out.StatusCounts[v.agg.Aggregate(reports, now).Status]++
	}
	return out, nil
}

// RecentReports returns up to limit reports across all kiosks, newest
// first, annotated with current device trust. A non-positive limit uses the
// default.
func (v *View) RecentReports(ctx context.Context, limit int) ([]model.AnnotatedReport, error) {
	if limit <= 0 {
		limit = v.defaultLimit
	}

	all, err := v.reports.All(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "admin: list reports")
	}
	report.SortNewestFirst(all)
	if len(all) > limit {
		all = all[:limit]
	}

	out := make([]model.AnnotatedReport, 0, len(all))
	for _, r := range all {
		out = append(out, model.AnnotatedReport{
			Report:      r,
			DeviceTrust: v.ledger.ScoreFor(r.DeviceHash),
		})
	}
	return out, nil
}

// Devices returns every device's trust record, most active first.
func (v *View) Devices() []model.DeviceTrust {
	return v.ledger.Devices()
}

// VerifyReport records whether a report turned out accurate and updates
// the reporting device's trust. The report itself is not changed.
func (v *View) VerifyReport(ctx context.Context, reportID string, accurate bool) (model.DeviceTrust, error) {
	reportID = strings.TrimSpace(reportID)
	if reportID == "" {
		return model.DeviceTrust{}, eris.Wrap(model.ErrInvalidArgument, "report_id is required")
	}

	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	r, err := v.reports.FindByID(ctx, reportID)
	if err != nil {
		return model.DeviceTrust{}, eris.Wrap(err, "admin: verify report")
	}

	dt := v.ledger.RecordOutcome(r.DeviceHash, accurate, v.nowFunc())
	zap.L().Info("admin: report verified",
		zap.String("report_id", r.ID),
		zap.String("device_hash", r.DeviceHash),
		zap.Bool("accurate", accurate),
		zap.Int("total_reports", dt.TotalReports),
		zap.Float64("trust_score", dt.TrustScore),
	)
	return dt, nil
}
