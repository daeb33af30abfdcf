// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"scenepipe/internal/cache"
	"scenepipe/internal/estimate"
	"scenepipe/internal/logger"
	"scenepipe/internal/media"
	"scenepipe/internal/pipeline"
	"scenepipe/internal/store"
	"scenepipe/pkg/api"
)

// Orchestrator admits and reports on jobs.
type Orchestrator interface {
	Submit(ctx context.Context, p media.Project) (pipeline.Submission, error)
	Estimate(p media.Project) (estimate.Estimate, error)
	Status(jobID string) (pipeline.JobStatus, error)
	List() []store.JobView
}

// CacheAdmin exposes cache inspection and invalidation.
type CacheAdmin interface {
	Stats() cache.Stats
	Invalidate(key string) bool
}

// EventSource streams serialized job events by topic.
type EventSource interface {
	Subscribe(ctx context.Context, ch chan []byte, topic string) error
	Unsubscribe(ctx context.Context, ch chan []byte, topic string)
}

// Deps are the dependencies of the handlers. Cache, Events and Ready may be nil.
type Deps struct {
	Orchestrator Orchestrator
	Cache        CacheAdmin
	Events       EventSource
	// Ready is pinged by the readiness probe.
	Ready  store.Pinger
	Logger *slog.Logger
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	orch   Orchestrator
	cache  CacheAdmin
	events EventSource
	ready  store.Pinger
	logger *slog.Logger
}

// New creates a new Handlers instance.
func New(d Deps) *Handlers {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Handlers{
		orch:   d.Orchestrator,
		cache:  d.Cache,
		events: d.Events,
		ready:  d.Ready,
		logger: d.Logger,
	}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// domainError maps pipeline errors onto status codes.
func (h *Handlers) domainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr     *media.ValidationError
		conflict *media.ConflictError
		notFound *media.NotFoundError
	)
	switch {
	case errors.As(err, &verr):
		h.respondJson(w, http.StatusBadRequest, api.ErrorResponse{
			Error:   "Invalid submission",
			Code:    strconv.Itoa(http.StatusBadRequest),
			Details: verr.Problems,
		})
	case errors.As(err, &conflict):
		h.respondJson(w, http.StatusConflict, api.ErrorResponse{
			Error: "Project already has a running job",
			Code:  strconv.Itoa(http.StatusConflict),
			JobID: conflict.JobID,
		})
	case errors.As(err, &notFound):
		h.httpError(w, "Job not found", http.StatusNotFound)
	case errors.Is(err, pipeline.ErrShuttingDown):
		h.httpError(w, "Service is shutting down", http.StatusServiceUnavailable)
	default:
		logger.FromContext(r.Context(), h.logger).Error("request failed", "path", r.URL.Path, "error", err)
		h.httpError(w, "Internal server error", http.StatusInternalServerError)
	}
}
