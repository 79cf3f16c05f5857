package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/kiosk-status/internal/kiosk"
	"github.com/sells-group/kiosk-status/internal/model"
)

type reportRequest struct {
	KioskID    string `json:"kiosk_id"`
	Status     string `json:"status"`
	DeviceHash string `json:"device_hash"`
}

type verifyRequest struct {
	ReportID   string `json:"report_id"`
	IsAccurate *bool  `json:"is_accurate"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rawLat, rawLng := q.Get("lat"), q.Get("lng")
	if rawLat == "" || rawLng == "" {
		writeMessage(w, http.StatusBadRequest, "lat and lng are required")
		return
	}
	lat, errLat := strconv.ParseFloat(rawLat, 64)
	lng, errLng := strconv.ParseFloat(rawLng, 64)
	if errLat != nil || errLng != nil {
		writeMessage(w, http.StatusBadRequest, "invalid lat or lng values")
		return
	}

	radius := kiosk.DefaultRadius
	if raw := q.Get("radius"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid radius value")
			return
		}
		radius = n
	}

	kiosks, err := s.kiosks.Nearby(r.Context(), lat, lng, radius)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, kiosks)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.KioskID) == "" || strings.TrimSpace(req.Status) == "" {
		writeMessage(w, http.StatusBadRequest, "kiosk_id and status are required")
		return
	}

	res, err := s.kiosks.Submit(r.Context(), req.KioskID, req.Status, req.DeviceHash)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleKioskReports(w http.ResponseWriter, r *http.Request) {
	res, err := s.kiosks.KioskReports(r.Context(), chi.URLParam(r, "kioskID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.admin.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAdminReports(w http.ResponseWriter, r *http.Request) {
	// Unusable limits fall back to the default rather than failing.
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = s.admin.DefaultLimit()
	}

	reports, err := s.admin.RecentReports(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleAdminDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.admin.Devices())
}

func (s *Server) handleVerifyReport(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ReportID) == "" || req.IsAccurate == nil {
		writeMessage(w, http.StatusBadRequest, "report_id and is_accurate are required")
		return
	}

	dt, err := s.admin.VerifyReport(r.Context(), req.ReportID, *req.IsAccurate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": "Device trust updated",
		"device":  dt,
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps domain errors onto status codes. Server-side failures are
// logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidArgument):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrNotFound):
		writeMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrUpstreamUnavailable):
		zap.L().Warn("api: upstream unavailable", zap.String("path", r.URL.Path), zap.Error(err))
		writeMessage(w, http.StatusBadGateway, "failed to fetch kiosks")
	default:
		zap.L().Error("api: request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "internal server error")
	}
}
