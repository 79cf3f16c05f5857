package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/kiosk-status/internal/admin"
	"github.com/sells-group/kiosk-status/internal/api"
	"github.com/sells-group/kiosk-status/internal/config"
	"github.com/sells-group/kiosk-status/internal/kiosk"
	"github.com/sells-group/kiosk-status/internal/kioskcache"
	"github.com/sells-group/kiosk-status/internal/report"
	"github.com/sells-group/kiosk-status/internal/resilience"
	"github.com/sells-group/kiosk-status/internal/status"
	"github.com/sells-group/kiosk-status/internal/trust"
	"github.com/sells-group/kiosk-status/pkg/overpass"
)

// serviceEnv holds every component the serve command wires together.
type serviceEnv struct {
	Store   report.Store
	Ledger  *trust.MemoryLedger
	Cache   *kioskcache.Cache
	Kiosks  *kiosk.Service
	Admin   *admin.View
	Handler http.Handler
}

// Close releases resources held by the environment.
func (se *serviceEnv) Close() {
	if se.Store != nil {
		_ = se.Store.Close()
	}
}

func initStore(ctx context.Context, c *config.Config) (report.Store, error) {
	switch c.Store.Driver {
	case "", "memory":
		return report.NewMemoryStore(), nil
	case "sqlite":
		return report.NewSQLite(ctx, c.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

func initProvider(c *config.Config) *overpass.Client {
	retry := resilience.DefaultRetryConfig()
	if c.Provider.MaxAttempts > 0 {
		retry.MaxAttempts = c.Provider.MaxAttempts
	}

	breaker := resilience.DefaultBreakerConfig()
	if c.Provider.BreakerThreshold > 0 {
		breaker.FailureThreshold = c.Provider.BreakerThreshold
	}
	if c.Provider.BreakerResetSecs > 0 {
		breaker.ResetTimeout = time.Duration(c.Provider.BreakerResetSecs) * time.Second
	}

	opts := []overpass.Option{
		overpass.WithBaseURL(c.Provider.URL),
		overpass.WithRateLimit(c.Provider.RateLimit),
		overpass.WithGuard(resilience.NewGuard("overpass", breaker, retry)),
	}
	if c.Provider.TimeoutSecs > 0 {
		opts = append(opts, overpass.WithHTTPClient(&http.Client{Timeout: c.Provider.Timeout()}))
	}
	return overpass.NewClient(opts...)
}

// initService validates the config and builds the full component graph.
// Callers should defer env.Close().
func initService(ctx context.Context, c *config.Config, provider kiosk.Provider) (*serviceEnv, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}

	ledger := trust.NewMemoryLedger(trust.Config{
		Min:            c.Trust.Min,
		Max:            c.Trust.Max,
		Default:        c.Trust.Default,
		MinReports:     c.Trust.MinReports,
		AccuracyWeight: c.Trust.AccuracyWeight,
	})
	agg := status.Config{
		Horizon:    time.Duration(c.Status.HorizonHours * float64(time.Hour)),
		DecayScale: time.Duration(c.Status.DecayHours * float64(time.Hour)),
	}
	cache := kioskcache.New(
		kioskcache.WithTTL(c.Cache.TTL()),
		kioskcache.WithPrecision(c.Cache.Precision),
	)

	if provider == nil {
		provider = initProvider(c)
	}

	svc := kiosk.NewService(provider, cache, st, ledger,
		kiosk.WithAggregator(agg),
		kiosk.WithFetchTimeout(c.Provider.Timeout()),
	)
	view := admin.New(st, ledger,
		admin.WithAggregator(agg),
		admin.WithWriteLock(svc.WriteLock()),
		admin.WithDefaultLimit(c.Admin.DefaultLimit),
	)
	handler := api.NewServer(svc, view, cache, api.WithCORSOrigins(c.Server.CORSOrigins)).Routes()

	zap.L().Info("service initialized",
		zap.String("store", c.Store.Driver),
		zap.Duration("cache_ttl", c.Cache.TTL()),
		zap.String("provider", c.Provider.URL),
	)

	return &serviceEnv{
		Store:   st,
		Ledger:  ledger,
		Cache:   cache,
		Kiosks:  svc,
		Admin:   view,
		Handler: handler,
	}, nil
}
