// Package handler exposes the enrollment engine as a read-only JSON API.
package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"nimbus/internal/experiments/models"
	"nimbus/internal/platform/metrics"
	"nimbus/internal/platform/middleware"
	dErrors "nimbus/pkg/domain-errors"
	"nimbus/pkg/platform/httputil"
)

// Engine is the read surface of the enrollment engine.
type Engine interface {
	GetExperiments() []models.Experiment
	GetEnrolledExperiments() []models.EnrolledExperiment
	GetExperimentBranch(experimentID string) (string, error)
	GetBucket() uint32
	IsCached() bool
}

// Handler serves enrollment queries.
type Handler struct {
	engine  Engine
	logger  *slog.Logger
	metrics *metrics.HTTP
}

// New creates a Handler. metrics may be nil.
func New(engine Engine, logger *slog.Logger, m *metrics.HTTP) *Handler {
	return &Handler{engine: engine, logger: logger, metrics: m}
}

// Register mounts the read routes on r.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.Logger(h.logger))
	router.Use(chimw.Timeout(10 * time.Second))
	router.Use(middleware.Latency(h.metrics))
	router.Get("/experiments", h.handleListExperiments)
	router.Get("/enrollments", h.handleListEnrollments)
	router.Get("/enrollments/{experimentID}", h.handleGetEnrollment)
	router.Get("/bucket", h.handleGetBucket)

	r.Mount("/", router)
}

type experimentResponse struct {
	ID       string   `json:"id"`
	Enabled  bool     `json:"enabled"`
	Paused   bool     `json:"paused"`
	Start    uint32   `json:"bucket_start"`
	Count    uint32   `json:"bucket_count"`
	Branches []string `json:"branches"`
	Enrolled bool     `json:"enrolled"`
	Branch   string   `json:"branch,omitempty"`
}

type listExperimentsResponse struct {
	Experiments []experimentResponse `json:"experiments"`
	Cached      bool                 `json:"cached"`
}

func (h *Handler) handleListExperiments(w http.ResponseWriter, _ *http.Request) {
	experiments := h.engine.GetExperiments()
	resp := listExperimentsResponse{
		Experiments: make([]experimentResponse, 0, len(experiments)),
		Cached:      h.engine.IsCached(),
	}
	for _, e := range experiments {
		cfg := e.BucketConfig()
		item := experimentResponse{
			ID:       e.ID,
			Enabled:  e.Enabled,
			Paused:   e.Arguments.IsEnrollmentPaused,
			Start:    cfg.Start,
			Count:    cfg.Count,
			Branches: make([]string, 0, len(e.Branches())),
		}
		for _, b := range e.Branches() {
			item.Branches = append(item.Branches, b.Slug)
		}
		if branch, err := h.engine.GetExperimentBranch(e.ID); err == nil {
			item.Enrolled = true
			item.Branch = branch
		}
		resp.Experiments = append(resp.Experiments, item)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type listEnrollmentsResponse struct {
	Enrollments []models.EnrolledExperiment `json:"enrollments"`
}

func (h *Handler) handleListEnrollments(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, listEnrollmentsResponse{Enrollments: h.engine.GetEnrolledExperiments()})
}

func (h *Handler) handleGetEnrollment(w http.ResponseWriter, r *http.Request) {
	experimentID := strings.TrimSpace(chi.URLParam(r, "experimentID"))
	if experimentID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "experiment id is required"))
		return
	}
	branch, err := h.engine.GetExperimentBranch(experimentID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.EnrolledExperiment{ID: experimentID, Branch: branch})
}

type bucketResponse struct {
	Bucket uint32 `json:"bucket"`
	Total  uint32 `json:"total"`
}

func (h *Handler) handleGetBucket(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, bucketResponse{Bucket: h.engine.GetBucket(), Total: models.MaxBuckets})
}
