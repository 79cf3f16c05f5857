// Package kiosk answers nearby and report queries by joining cached kiosk
// metadata with freshly aggregated status.
package kiosk

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/kiosk-status/internal/kioskcache"
	"github.com/sells-group/kiosk-status/internal/model"
	"github.com/sells-group/kiosk-status/internal/report"
	"github.com/sells-group/kiosk-status/internal/status"
	"github.com/sells-group/kiosk-status/internal/trust"
	"github.com/sells-group/kiosk-status/pkg/overpass"
)

const (
	// DefaultRadius is the search radius in meters when none is given.
	DefaultRadius = 15000
	// AnonymousDevice stands in for a missing device hash.
	AnonymousDevice = "anonymous"
)

// Provider is the upstream geodata source.
type Provider interface {
	Search(ctx context.Context, lat, lng float64, radius int) ([]overpass.Element, error)
}

// SubmitResult is the outcome of a report submission.
type SubmitResult struct {
	OK             bool         `json:"ok"`
	Report         model.Report `json:"report"`
	WeightedStatus model.Status `json:"weighted_status"`
	Confidence     float64      `json:"confidence"`
}

// Reports is a kiosk's current status together with its live reports.
type Reports struct {
	status.Result
	Reports []model.AnnotatedReport `json:"reports"`
}

// Option configures a Service.
type Option func(*Service)

// WithAggregator sets the decay parameters used for status.
func WithAggregator(cfg status.Config) Option {
	return func(s *Service) {
		s.agg = cfg
	}
}

// WithFetchTimeout bounds each upstream fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.nowFunc = now
	}
}

// WithWriteLock shares a write lock with other writers of the same ledger
// and store.
func WithWriteLock(l sync.Locker) Option {
	return func(s *Service) {
		s.writeMu = l
	}
}

// Service is the query and submission core.
type Service struct {
	provider Provider
	cache    *kioskcache.Cache
	reports  report.Store
	ledger   trust.Ledger

	agg          status.Config
	fetchTimeout time.Duration
	writeMu      sync.Locker
	nowFunc      func() time.Time
}

// NewService wires the core components together.
func NewService(p Provider, c *kioskcache.Cache, r report.Store, l trust.Ledger, opts ...Option) *Service {
	s := &Service{
		provider:     p,
		cache:        c,
		reports:      r,
		ledger:       l,
		agg:          status.DefaultConfig(),
		fetchTimeout: overpass.DefaultTimeout,
		writeMu:      &sync.Mutex{},
		nowFunc:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WriteLock returns the lock serializing trust reads and report writes.
func (s *Service) WriteLock() sync.Locker {
	return s.writeMu
}

// Nearby returns the kiosks around (lat, lng) with their current status.
// Metadata may come from cache. Status never does.
func (s *Service) Nearby(ctx context.Context, lat, lng float64, radius int) ([]model.KioskStatus, error) {
	if err := validateArea(lat, lng, radius); err != nil {
		return nil, err
	}

	kiosks, err := s.cache.GetOrFetch(ctx, lat, lng, radius, func(fctx context.Context) ([]model.Kiosk, error) {
		fctx, cancel := context.WithTimeout(fctx, s.fetchTimeout)
		defer cancel()

		elements, err := s.provider.Search(fctx, lat, lng, radius)
		if err != nil {
			return nil, err
		}
		out := make([]model.Kiosk, 0, len(elements))
		for _, e := range elements {
			out = append(out, toKiosk(e))
		}
		zap.L().Info("kiosk: fetched from provider",
			zap.Float64("lat", lat), zap.Float64("lng", lng),
			zap.Int("radius", radius), zap.Int("kiosks", len(out)),
		)
		return out, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "kiosk: nearby abandoned")
		}
		zap.L().Warn("kiosk: provider fetch failed", zap.Error(err))
		return nil, eris.Wrapf(model.ErrUpstreamUnavailable, "kiosk: provider fetch: %v", err)
	}

	now := s.nowFunc()
	out := make([]model.KioskStatus, 0, len(kiosks))
	for _, k := range kiosks {
		reports, err := s.reports.ForKiosk(ctx, k.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "kiosk: reports for %s", k.ID)
		}
		res := s.agg.Aggregate(reports, now)

		ks := model.KioskStatus{
			Kiosk:       k,
			Status:      res.Status,
			Confidence:  res.Confidence,
			ReportCount: res.ReportCount,
		}
		if len(reports) > 0 {
			last := reports[0].SubmittedAt
			ks.LastReportedAt = &last
		}
		out = append(out, ks)
	}
	return out, nil
}

// Submit records a device's report and returns the kiosk's new consensus.
// The trust snapshot and the write happen under the write lock, so a
// concurrent verification is either fully before or fully after.
func (s *Service) Submit(ctx context.Context, kioskID, rawStatus, deviceHash string) (SubmitResult, error) {
	st, err := model.ParseStatus(rawStatus)
	if err != nil {
		return SubmitResult{}, err
	}
	deviceHash = strings.TrimSpace(deviceHash)
	if deviceHash == "" {
		deviceHash = AnonymousDevice
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.nowFunc()
	r, err := report.Submit(ctx, s.reports, s.ledger, kioskID, st, deviceHash, now)
	if err != nil {
		return SubmitResult{}, err
	}
	s.ledger.Register(deviceHash, now)

	// The report is committed; a caller that goes away now must not turn
	// that into a failed submission.
	reports, err := s.reports.ForKiosk(context.WithoutCancel(ctx), r.KioskID)
	if err != nil {
		return SubmitResult{}, eris.Wrapf(err, "kiosk: reports for %s", r.KioskID)
	}
	res := s.agg.Aggregate(reports, now)

	zap.L().Info("kiosk: report received",
		zap.String("report_id", r.ID),
		zap.String("kiosk_id", r.KioskID),
		zap.String("status", string(r.Status)),
		zap.Float64("trust", r.TrustAtSubmission),
		zap.String("weighted_status", string(res.Status)),
		zap.Float64("confidence", res.Confidence),
	)

	return SubmitResult{
		OK:             true,
		Report:         r,
		WeightedStatus: res.Status,
		Confidence:     res.Confidence,
	}, nil
}

// KioskReports returns a kiosk's status and its reports, each annotated with
// the reporting device's current trust.
func (s *Service) KioskReports(ctx context.Context, kioskID string) (Reports, error) {
	kioskID = strings.TrimSpace(kioskID)
	if kioskID == "" {
		return Reports{}, eris.Wrap(model.ErrInvalidArgument, "kiosk_id is required")
	}

	reports, err := s.reports.ForKiosk(ctx, kioskID)
	if err != nil {
		return Reports{}, eris.Wrapf(err, "kiosk: reports for %s", kioskID)
	}

	out := Reports{
		Result:  s.agg.Aggregate(reports, s.nowFunc()),
		Reports: make([]model.AnnotatedReport, 0, len(reports)),
	}
	for _, r := range reports {
		out.Reports = append(out.Reports, model.AnnotatedReport{
			Report:      r,
			DeviceTrust: s.ledger.ScoreFor(r.DeviceHash),
		})
	}
	return out, nil
}

func validateArea(lat, lng float64, radius int) error {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return eris.Wrap(model.ErrInvalidArgument, "invalid lat or lng values")
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return eris.Wrapf(model.ErrInvalidArgument, "coordinates out of range: %g,%g", lat, lng)
	}
	if radius <= 0 {
		return eris.Wrapf(model.ErrInvalidArgument, "radius must be positive, got %d", radius)
	}
	return nil
}

// toKiosk maps a raw provider element to kiosk metadata. Every tag is
// optional.
func toKiosk(e overpass.Element) model.Kiosk {
	k := model.Kiosk{
		ID:   strconv.FormatInt(e.ID, 10),
		Lat:  e.Lat,
		Lng:  e.Lon,
		Name: optional(e.Tag("name")),
	}

	bank := e.Tag("operator")
	if bank == "" {
		bank = e.Tag("brand")
	}
	k.Bank = optional(bank)

	if street := e.Tag("addr:street"); street != "" {
		addr := street
		if city := e.Tag("addr:city"); city != "" {
			addr += ", " + city
		}
		k.Address = &addr
	}
	return k
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
