// Package api provides read-only HTTP handlers over the run ledger and the
// live stack state.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stackd/stackd/internal/shell/docker"
	"github.com/stackd/stackd/internal/shell/ledger"
	"github.com/stackd/stackd/internal/shell/runner"
)

// defaultListLimit caps run listings when the client doesn't ask for less.
const defaultListLimit = 50

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the API.
type Handler struct {
	store  *ledger.Store
	docker docker.Client
	runner *runner.Runner
	logger *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(store *ledger.Store, client docker.Client, run *runner.Runner, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  store,
		docker: client,
		runner: run,
		logger: logger,
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)
	r.Use(h.requestLogger)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.handleListRuns)
			r.Get("/{id}", h.handleGetRun)
		})
		r.Get("/stacks/{project}", h.handleStackStatus)
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	// If we got here the ledger opened and migrated.
	checks["ledger"] = "ok"

	if err := h.docker.Ping(r.Context()); err != nil {
		checks["docker"] = "failed"
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}
	checks["docker"] = "ok"

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Run Handlers
// =============================================================================

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer", "validation_error")
			return
		}
		limit = parsed
	}

	runs, err := h.store.ListRuns(r.Context(), project, limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list runs", "internal_error")
		return
	}

	resp := RunListResponse{Runs: make([]RunResponse, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, runToResponse(&run))
	}
	resp.Total = len(resp.Runs)

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "run not found", "run_not_found")
			return
		}
		h.logger.Error("failed to get run", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get run", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, runToResponse(run))
}

// =============================================================================
// Stack Handlers
// =============================================================================

func (h *Handler) handleStackStatus(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")

	rows, err := h.runner.Status(r.Context(), project)
	if err != nil {
		h.logger.Error("failed to get stack status", "project", project, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get stack status", "internal_error")
		return
	}

	resp := StackStatusResponse{
		Project:  project,
		Services: make([]ServiceStatusResponse, 0, len(rows)),
	}
	for _, row := range rows {
		resp.Services = append(resp.Services, ServiceStatusResponse{
			Service:     row.Service,
			ContainerID: row.ContainerID,
			State:       row.State,
			Health:      row.Health,
			ExitCode:    row.ExitCode,
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Response Helpers
// =============================================================================

func runToResponse(run *ledger.Run) RunResponse {
	resp := RunResponse{
		ID:        run.ID,
		Project:   run.Project,
		Kind:      string(run.Kind),
		ImageRef:  run.ImageRef,
		Status:    string(run.Status),
		Error:     run.Error,
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
	}
	for _, sr := range run.Services {
		resp.Services = append(resp.Services, ServiceRunResponse{
			Service:     sr.Service,
			State:       sr.State,
			ContainerID: sr.ContainerID,
			ExitCode:    sr.ExitCode,
			Position:    sr.Position,
		})
	}
	return resp
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
