// Package api serves the kiosk status HTTP surface.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/kiosk-status/internal/admin"
	"github.com/sells-group/kiosk-status/internal/kiosk"
	"github.com/sells-group/kiosk-status/internal/kioskcache"
)

// Server holds the handlers' dependencies.
type Server struct {
	kiosks      *kiosk.Service
	admin       *admin.View
	cache       *kioskcache.Cache
	corsOrigins []string
}

// Option configures a Server.
type Option func(*Server)

// WithCORSOrigins sets the allowed browser origins. Defaults to any.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.corsOrigins = origins
		}
	}
}

// NewServer creates a Server.
func NewServer(k *kiosk.Service, a *admin.View, c *kioskcache.Cache, opts ...Option) *Server {
	s := &Server{
		kiosks:      k,
		admin:       a,
		cache:       c,
		corsOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/kiosks/nearby", s.handleNearby)
		r.Post("/report", s.handleReport)
		r.Get("/reports/{kioskID}", s.handleKioskReports)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/stats", s.handleAdminStats)
			r.Get("/reports", s.handleAdminReports)
			r.Get("/devices", s.handleAdminDevices)
			r.Post("/verify-report", s.handleVerifyReport)
			r.Get("/cache", s.handleCacheStats)
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
