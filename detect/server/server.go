// Package server exposes the detector's HTTP control API and the live
// ingress middleware. Only control-plane errors reach callers; they are
// rendered as an HTTP status plus {"error": kind}, never a stack trace.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/apisentinel/apisentinel/detect"
	"github.com/apisentinel/apisentinel/detect/simulation"
)

// Default and maximum page sizes for list endpoints.
const (
	defaultListLimit      = 100
	maxListLimit          = 1000
	defaultEmergencyLimit = 10
)

// DetectionReader serves the stored detection log, newest first.
type DetectionReader interface {
	Detections(ctx context.Context, mode detect.Mode, limit int) ([]detect.Detection, error)
}

// Server wires the control API handlers. Construct with New, mount with
// Routes.
type Server struct {
	orch       *detect.Orchestrator
	engine     *simulation.Engine
	detections DetectionReader
	ws         http.Handler
	gatherer   prometheus.Gatherer
	log        *logrus.Entry
}

// New assembles the control API. ws and gatherer may be nil, which disables
// the /ws and /metrics endpoints.
func New(orch *detect.Orchestrator, engine *simulation.Engine, detections DetectionReader, ws http.Handler, gatherer prometheus.Gatherer) *Server {
	return &Server{
		orch:       orch,
		engine:     engine,
		detections: detections,
		ws:         ws,
		gatherer:   gatherer,
		log:        logrus.WithField("component", "server"),
	}
}

// Routes returns the control API handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /live/stats", s.handleLiveStats)
	mux.HandleFunc("GET /sim/stats", s.handleSimStats)
	mux.HandleFunc("POST /sim/start", s.handleSimStart)
	mux.HandleFunc("POST /sim/stop", s.handleSimStop)
	mux.HandleFunc("POST /sim/clear", s.handleSimClear)
	mux.HandleFunc("GET /detections", s.handleDetections)
	mux.HandleFunc("GET /sim/emergencies", s.handleEmergencies)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	if s.ws != nil {
		mux.Handle("GET /ws", s.ws)
	}
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":  "apisentinel",
		"modes":    []detect.Mode{detect.ModeLive, detect.ModeSim},
		"features": detect.FeatureNames,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLiveStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.LiveStats())
}

func (s *Server) handleSimStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.simStats())
}

// simStats merges the engine's run state into the orchestrator's SIM-side
// counters.
func (s *Server) simStats() detect.SimStats {
	stats := s.orch.SimStats()
	status := s.engine.Status()
	stats.Active = status.Active
	stats.InjectedTarget = status.Target
	stats.Pattern = status.Pattern
	return stats
}

func (s *Server) handleSimStart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source := q.Get("virtual_source")
	pattern := detect.Pattern(q.Get("pattern"))

	durationS, err := queryFloat(q.Get("duration_s"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidArgument")
		return
	}
	batchSize, err := queryInt(q.Get("batch_size"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidArgument")
		return
	}

	duration := time.Duration(durationS * float64(time.Second))
	if err := s.engine.Start(source, pattern, duration, batchSize); err != nil {
		status, kind := controlError(err)
		writeError(w, status, kind)
		return
	}

	status := s.engine.Status()
	s.log.Infof("simulation started: %s %s", status.Target, status.Pattern)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "started",
		"virtual_source": status.Target,
		"pattern":        status.Pattern,
		"duration_s":     status.DurationS,
		"batch_size":     status.BatchSize,
	})
}

func (s *Server) handleSimStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.Stop(); err != nil {
		status, kind := controlError(err)
		writeError(w, status, kind)
		return
	}

	// Settle in-flight windows so the final stats are authoritative.
	s.orch.Drain()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "stopped",
		"final_stats": s.simStats(),
	})
}

func (s *Server) handleSimClear(w http.ResponseWriter, _ *http.Request) {
	if s.engine.Active() {
		writeError(w, http.StatusConflict, "AlreadyActive")
		return
	}
	s.orch.Drain()
	s.orch.ResetSim()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var mode detect.Mode
	if raw := q.Get("mode"); raw != "" {
		parsed, err := detect.ParseMode(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "InvalidMode")
			return
		}
		mode = parsed
	}

	limit, err := queryInt(q.Get("limit"), defaultListLimit)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "InvalidArgument")
		return
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	if s.detections == nil {
		writeError(w, http.StatusServiceUnavailable, "StoreUnavailable")
		return
	}
	list, err := s.detections.Detections(r.Context(), mode, limit)
	if err != nil {
		s.log.WithError(err).Warn("detection query failed")
		writeError(w, http.StatusInternalServerError, "Internal")
		return
	}
	if list == nil {
		list = []detect.Detection{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleEmergencies(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r.URL.Query().Get("limit"), defaultEmergencyLimit)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "InvalidArgument")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"top_emergencies": s.orch.Emergencies(limit),
		"total":           s.orch.HistoryLen(),
	})
}

// controlError maps engine sentinels onto HTTP status + error kind.
func controlError(err error) (int, string) {
	switch {
	case errors.Is(err, simulation.ErrInvalidTarget):
		return http.StatusBadRequest, "InvalidTarget"
	case errors.Is(err, simulation.ErrInvalidPattern):
		return http.StatusBadRequest, "InvalidPattern"
	case errors.Is(err, simulation.ErrAlreadyActive):
		return http.StatusConflict, "AlreadyActive"
	case errors.Is(err, simulation.ErrNotActive):
		return http.StatusConflict, "NotActive"
	default:
		return http.StatusInternalServerError, "Internal"
	}
}

func queryInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func queryFloat(raw string, fallback float64) (float64, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(raw, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Debug("response write failed")
	}
}

func writeError(w http.ResponseWriter, status int, kind string) {
	writeJSON(w, status, map[string]string{"error": kind})
}
