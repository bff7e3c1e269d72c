// Package api serves the read-mostly report surface: engine status, entity
// posture, the action and alert logs, operator unblocks, access-list edits
// and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"netwarden/internal/config"
	"netwarden/internal/engine"
	"netwarden/internal/model"
	"netwarden/internal/window"
)

// Engine is the slice of the pipeline the API reads and controls.
type Engine interface {
	Status() engine.Status
	Entities(blacklistedOnly bool) []model.ThreatRecord
	Entity(key model.EntityKey) (engine.EntityReport, bool)
	Unblock(key model.EntityKey) (model.Action, error)
	Trackers() []model.TrackerSummary
	Verdicts() map[string]window.Verdict
	Actions(limit int) []model.Action
	Action(id string) (model.Action, bool)
	Alerts(limit int) []model.Alert
	AlertsSince(ts time.Time) []model.Alert
	ClearAlerts()
	UpdateConfig(cfg *config.Config) error
}

type Server struct {
	cfg      *config.Manager
	engine   Engine
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	version  string
	router   chi.Router
}

type statusResponse struct {
	Status        string              `json:"status"`
	Time          string              `json:"time"`
	Version       string              `json:"version"`
	ConfigPath    string              `json:"config_path"`
	AccessControl config.AccessConfig `json:"access_control"`
	Ingest        ingestStatus        `json:"ingest"`
	Engine        engine.Status       `json:"engine"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	UDP       bool `json:"udp"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
}

// NewServer builds the router. A nil gatherer serves the default registry.
func NewServer(cfg *config.Manager, eng Engine, gatherer prometheus.Gatherer, logger *slog.Logger, version string) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:      cfg,
		engine:   eng,
		gatherer: gatherer,
		logger:   logger,
		version:  version,
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/status", s.handleStatus)
	r.Route("/entities", func(r chi.Router) {
		r.Get("/", s.handleEntities)
		r.Get("/{key}", s.handleEntity)
		r.Post("/{key}/unblock", s.handleUnblock)
	})
	r.Get("/trackers", s.handleTrackers)
	r.Get("/verdicts", s.handleVerdicts)
	r.Get("/actions", s.handleActions)
	r.Get("/actions/{id}", s.handleAction)
	r.Get("/alerts", s.handleAlerts)
	r.Get("/config/access_control", s.handleGetAccessControl)
	r.Post("/config/access_control", s.handleSetAccessControl)
	r.Post("/admin/clear", s.handleClear)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is done. It returns nil when the API is
// disabled.
func Start(ctx context.Context, cfg *config.Manager, eng Engine, gatherer prometheus.Gatherer, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(cfg, eng, gatherer, logger, version)
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.logger == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:        "ok",
		Time:          time.Now().UTC().Format(time.RFC3339Nano),
		Version:       s.version,
		ConfigPath:    s.cfg.Path(),
		AccessControl: cfg.Access,
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			UDP:       cfg.Ingest.UDP.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
		},
		Engine: s.engine.Status(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	blacklisted, _ := strconv.ParseBool(r.URL.Query().Get("blacklisted"))
	list := s.engine.Entities(blacklisted)
	writeJSON(w, http.StatusOK, map[string]any{
		"entities": list,
		"count":    len(list),
	})
}

func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	key, ok := entityParam(w, r)
	if !ok {
		return
	}
	report, found := s.engine.Entity(key)
	if !found {
		writeError(w, http.StatusNotFound, "unknown entity")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	key, ok := entityParam(w, r)
	if !ok {
		return
	}
	action, err := s.engine.Unblock(key)
	switch {
	case errors.Is(err, engine.ErrUnknownEntity):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, engine.ErrNotBlacklisted):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.logger != nil {
		s.logger.Info("operator unblock", "entity_key", key.String(), "action_id", action.ID)
	}
	resp := map[string]any{"status": "ok", "entity_key": key.String()}
	if action.ID != "" {
		resp["action"] = action
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleTrackers(w http.ResponseWriter, r *http.Request) {
	list := s.engine.Trackers()
	writeJSON(w, http.StatusOK, map[string]any{
		"trackers": list,
		"count":    len(list),
	})
}

func (s *Server) handleVerdicts(w http.ResponseWriter, r *http.Request) {
	all := s.engine.Verdicts()
	writeJSON(w, http.StatusOK, map[string]any{
		"verdicts": all,
		"count":    len(all),
	})
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	list := s.engine.Actions(limitParam(r))
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := list[:0]
		for _, a := range list {
			if string(a.Status) == status {
				filtered = append(filtered, a)
			}
		}
		list = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"actions": list,
		"count":   len(list),
	})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	a, ok := s.engine.Action(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	var list []model.Alert
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		list = s.engine.AlertsSince(ts)
	} else {
		list = s.engine.Alerts(limitParam(r))
	}
	if entity := r.URL.Query().Get("entity"); entity != "" {
		key, err := model.ParseEntityKey(entity)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filtered := make([]model.Alert, 0, len(list))
		for _, a := range list {
			if a.EntityKey == key.String() {
				filtered = append(filtered, a)
			}
		}
		list = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleGetAccessControl(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"access_control": s.cfg.Get().Access,
	})
}

func (s *Server) handleSetAccessControl(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	var ac config.AccessConfig
	if err := json.Unmarshal(body, &ac); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	ac.Allowlist = sanitizeKeyList(ac.Allowlist)
	ac.Denylist = sanitizeKeyList(ac.Denylist)
	next := *s.cfg.Get()
	next.Access = ac
	if err := config.Validate(&next); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.cfg.Update(&next); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.engine.UpdateConfig(&next); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	switch target {
	case "", "all", "alerts":
		s.engine.ClearAlerts()
	default:
		writeError(w, http.StatusBadRequest, "unknown target")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func entityParam(w http.ResponseWriter, r *http.Request) (model.EntityKey, bool) {
	raw, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entity key")
		return model.EntityKey{}, false
	}
	key, err := model.ParseEntityKey(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return model.EntityKey{}, false
	}
	return key, true
}

func limitParam(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func sanitizeKeyList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
