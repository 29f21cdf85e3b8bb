package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/importer"
	"github.com/ignite/campaign-dispatch/internal/pkg/httputil"
	"github.com/ignite/campaign-dispatch/internal/store"
)

// ImportHandlers serves the import job lifecycle: create, list, inspect,
// advance one chunk, cancel, delete.
type ImportHandlers struct {
	jobs   *importer.Jobs
	chunks *importer.ChunkProcessor
	mirror *importer.ProgressMirror
}

func NewImportHandlers(jobs *importer.Jobs, chunks *importer.ChunkProcessor, mirror *importer.ProgressMirror) *ImportHandlers {
	return &ImportHandlers{jobs: jobs, chunks: chunks, mirror: mirror}
}

func (h *ImportHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/import-jobs", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Route("/{jobID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Get("/progress", h.GetProgress)
			r.Post("/advance", h.Advance)
			r.Post("/cancel", h.Cancel)
			r.Delete("/", h.Delete)
		})
	})
}

// CreateImportJobRequest is the body for job creation.
type CreateImportJobRequest struct {
	FileName            string `json:"file_name"`
	FileSize            int64  `json:"file_size"`
	TotalItems          int    `json:"total_items"`
	ChunkSize           int    `json:"chunk_size"`
	MaxProcessingTimeMs int    `json:"max_processing_time_ms"`
	AutoResume          bool   `json:"auto_resume"`
}

func (h *ImportHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateImportJobRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	job, err := h.jobs.Create(r.Context(), importer.CreateInput{
		FileName:          req.FileName,
		FileSize:          req.FileSize,
		TotalItems:        req.TotalItems,
		ChunkSize:         req.ChunkSize,
		MaxProcessingTime: time.Duration(req.MaxProcessingTimeMs) * time.Millisecond,
		AutoResume:        req.AutoResume,
	})
	if errors.Is(err, importer.ErrValidation) {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, job)
}

// ListImportJobsResponse wraps a page of jobs with the total match count.
type ListImportJobsResponse struct {
	Jobs  []domain.ImportJob `json:"jobs"`
	Total int                `json:"total"`
}

func (h *ImportHandlers) List(w http.ResponseWriter, r *http.Request) {
	q := store.ImportJobQuery{
		Status: domain.ImportStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		q.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		q.Offset, _ = strconv.Atoi(v)
	}

	jobs, total, err := h.jobs.List(r.Context(), q)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if jobs == nil {
		jobs = []domain.ImportJob{}
	}
	httputil.OK(w, ListImportJobsResponse{Jobs: jobs, Total: total})
}

func (h *ImportHandlers) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if errors.Is(err, importer.ErrJobNotFound) {
		httputil.NotFound(w, "import job not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, job)
}

// GetProgress serves the cheap Redis-cached progress snapshot when
// available, falling back to the authoritative store record.
func (h *ImportHandlers) GetProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if h.mirror != nil {
		if snap, ok, err := h.mirror.Fetch(r.Context(), jobID); err == nil && ok {
			httputil.OK(w, snap)
			return
		}
	}
	h.Get(w, r)
}

// Advance runs one chunk's worth of work for the job.
func (h *ImportHandlers) Advance(w http.ResponseWriter, r *http.Request) {
	job, err := h.chunks.Advance(r.Context(), chi.URLParam(r, "jobID"))
	switch {
	case errors.Is(err, importer.ErrJobNotFound):
		httputil.NotFound(w, "import job not found")
	case errors.Is(err, importer.ErrJobTerminal):
		httputil.Conflict(w, "import job is in a terminal state")
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.OK(w, job)
	}
}

func (h *ImportHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Cancel(r.Context(), chi.URLParam(r, "jobID"))
	switch {
	case errors.Is(err, importer.ErrJobNotFound):
		httputil.NotFound(w, "import job not found")
	case errors.Is(err, importer.ErrJobTerminal):
		httputil.Conflict(w, "import job is in a terminal state")
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.OK(w, job)
	}
}

func (h *ImportHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	err := h.jobs.Delete(r.Context(), jobID)
	if errors.Is(err, importer.ErrJobNotFound) {
		httputil.NotFound(w, "import job not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if h.mirror != nil {
		_ = h.mirror.Forget(r.Context(), jobID)
	}
	httputil.NoContent(w)
}
