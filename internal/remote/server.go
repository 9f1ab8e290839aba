// Package remote serves the conversion queue over HTTP and a websocket event
// stream for headless use.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"videomorph/internal/diagnostics"
	"videomorph/internal/domain"
	"videomorph/internal/jobs"
	"videomorph/internal/probe"
	"videomorph/internal/profiles"
)

const defaultHistoryLimit = 50

// HistoryReader lists finished tasks, newest first.
type HistoryReader interface {
	Recent(limit int) ([]domain.Job, error)
}

// Config holds the services exposed by the server.
type Config struct {
	Coordinator *jobs.Coordinator
	Catalog     *profiles.Catalog
	History     HistoryReader
	Settings    func() domain.Settings
	Diagnostics func() domain.DiagnosticReport
	Logger      *slog.Logger
}

// Server routes HTTP requests to the coordinator and catalog.
type Server struct {
	coordinator *jobs.Coordinator
	catalog     *profiles.Catalog
	history     HistoryReader
	settings    func() domain.Settings
	diagnostics func() domain.DiagnosticReport
	logger      *slog.Logger

	router *chi.Mux
	hub    *hub
}

// NewServer registers routes and subscribes the websocket hub to events.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		coordinator: cfg.Coordinator,
		catalog:     cfg.Catalog,
		history:     cfg.History,
		settings:    cfg.Settings,
		diagnostics: cfg.Diagnostics,
		logger:      logger,
		router:      chi.NewRouter(),
		hub:         newHub(logger),
	}
	s.coordinator.Subscribe(s.hub.broadcast)
	s.registerRoutes()
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.health)
	s.router.Get("/ws", s.events)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.requireSameOrigin)
		r.Use(middleware.AllowContentType("application/json"))

		r.Get("/settings", s.getSettings)
		r.Get("/diagnostics", s.getDiagnostics)

		r.Get("/tasks", s.listTasks)
		r.Post("/tasks", s.addTasks)
		r.Delete("/tasks", s.clearTasks)
		r.Get("/tasks/{id}", s.getTask)
		r.Patch("/tasks/{id}", s.setTaskQuality)
		r.Delete("/tasks/{id}", s.removeTask)
		r.Post("/tasks/{id}/requeue", s.requeueTask)

		r.Post("/convert/start", s.startConversion)
		r.Post("/convert/stop", s.stopTask)
		r.Post("/convert/stop-all", s.stopAll)
		r.Get("/totals", s.totals)
		r.Get("/events", s.pollEvents)

		r.Get("/profiles", s.listProfiles)
		r.Post("/profiles", s.addProfile)
		r.Post("/profiles/export", s.exportProfiles)
		r.Post("/profiles/import", s.importProfiles)
		r.Post("/profiles/restore", s.restoreProfiles)

		r.Get("/history", s.listHistory)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"state":     s.coordinator.State(),
		"clients":   s.hub.count(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	s.hub.serve(w, r, func() []jobs.Event { return s.coordinator.Events(since) })
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.settings())
}

func (s *Server) getDiagnostics(w http.ResponseWriter, r *http.Request) {
	if s.diagnostics == nil {
		s.respondJSON(w, http.StatusOK, domain.DiagnosticReport{})
		return
	}
	s.respondJSON(w, http.StatusOK, s.diagnostics())
}

type addTasksRequest struct {
	Paths   []string `json:"paths"`
	Quality string   `json:"quality"`
}

type addTasksResponse struct {
	Added    []domain.Job     `json:"added"`
	Rejected []jobs.Rejection `json:"rejected"`
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.coordinator.Queue().List())
}

func (s *Server) addTasks(w http.ResponseWriter, r *http.Request) {
	var req addTasksRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Paths) == 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("paths are required"))
		return
	}
	profile, err := s.catalog.Lookup(req.Quality)
	if err != nil {
		s.fail(w, err)
		return
	}

	added, rejected := s.coordinator.Queue().AddMany(r.Context(), req.Paths, profile)
	code := http.StatusCreated
	if len(added) == 0 {
		code = http.StatusBadRequest
	}
	s.respondJSON(w, code, addTasksResponse{Added: added, Rejected: rejected})
}

func (s *Server) clearTasks(w http.ResponseWriter, r *http.Request) {
	if !confirmed(r) {
		s.fail(w, domain.ErrConfirmationRequired)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"removed": s.coordinator.Queue().Clear()})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	job, err := s.coordinator.Queue().Get(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

func (s *Server) setTaskQuality(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quality string `json:"quality"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	profile, err := s.catalog.Lookup(req.Quality)
	if err != nil {
		s.fail(w, err)
		return
	}
	job, err := s.coordinator.Queue().SetProfile(chi.URLParam(r, "id"), profile)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

func (s *Server) removeTask(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.Queue().Remove(chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requeueTask(w http.ResponseWriter, r *http.Request) {
	job, err := s.coordinator.Queue().Requeue(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

func (s *Server) startConversion(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.Start(); err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]any{"state": s.coordinator.State()})
}

func (s *Server) stopTask(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.Stop(); err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"state": s.coordinator.State()})
}

func (s *Server) stopAll(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.StopAll(); err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"state": s.coordinator.State()})
}

func (s *Server) totals(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.coordinator.Totals())
}

func (s *Server) pollEvents(w http.ResponseWriter, r *http.Request) {
	since, err := parseInt64(r.URL.Query().Get("since"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.coordinator.Events(since))
}

func (s *Server) listProfiles(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.catalog.List())
}

func (s *Server) addProfile(w http.ResponseWriter, r *http.Request) {
	var req domain.Profile
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.catalog.AddCustom(req.Name, req.Quality, req.Params, req.Extension)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, p)
}

func (s *Server) exportProfiles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Dir string `json:"dir"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	path, err := s.catalog.ExportTo(req.Dir)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"path": path})
}

func (s *Server) importProfiles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		File string `json:"file"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.catalog.ImportFrom(req.File)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"imported": n})
}

func (s *Server) restoreProfiles(w http.ResponseWriter, r *http.Request) {
	if !confirmed(r) {
		s.fail(w, domain.ErrConfirmationRequired)
		return
	}
	if err := s.catalog.RestoreDefaults(); err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.catalog.List())
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondJSON(w, http.StatusOK, []domain.Job{})
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	recent, err := s.history.Recent(limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if recent == nil {
		recent = []domain.Job{}
	}
	s.respondJSON(w, http.StatusOK, recent)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound),
		errors.Is(err, profiles.ErrProfileNotFound),
		errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrJobRunning),
		errors.Is(err, jobs.ErrDuplicateJob),
		errors.Is(err, jobs.ErrAlreadyConverting),
		errors.Is(err, jobs.ErrNothingQueued),
		errors.Is(err, jobs.ErrNoRunningJob),
		errors.Is(err, domain.ErrConfirmationRequired):
		return http.StatusConflict
	case errors.Is(err, diagnostics.ErrDirectoryNotWritable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, profiles.ErrValidation),
		errors.Is(err, profiles.ErrUnsupportedVersion),
		errors.Is(err, probe.ErrInvalidInput),
		errors.Is(err, jobs.ErrInvalidTransition):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.respondError(w, code, err)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return false
	}
	return true
}

func (s *Server) respondError(w http.ResponseWriter, code int, err error) {
	s.respondJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode json", "error", err)
	}
}

func confirmed(r *http.Request) bool {
	ok, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	return ok
}

func parseInt64(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.New("since must be an integer")
	}
	return n, nil
}
