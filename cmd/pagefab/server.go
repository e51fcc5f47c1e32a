package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/pagefab/batch"
	"github.com/hazyhaar/pagefab/indexing"
	"github.com/hazyhaar/pagefab/quality"
)

// server owns the HTTP control surface over the queue and the indexing
// service.
type server struct {
	queue      *batch.Queue
	idx        *indexing.Service
	thresholds quality.Thresholds
	log        *slog.Logger
}

func newRouter(s *server) chi.Router {
	if s.log == nil {
		s.log = slog.Default()
	}
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleJobStatus)
		r.Post("/jobs/{id}/pause", s.handlePause)
		r.Post("/jobs/{id}/resume", s.handleResume)
		r.Post("/jobs/{id}/cancel", s.handleCancel)
		r.Post("/jobs/{id}/rollback", s.handleRollback)
		r.Get("/models/{id}/preview", s.handlePreview)
		r.Get("/coverage", s.handleCoverage)
	})
	r.Get("/sitemap.xml", s.handleSitemap)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
}

// writeQueueError maps queue errors onto the response codes callers key on.
func writeQueueError(w http.ResponseWriter, err error) {
	var ite *batch.InvalidTransitionError
	switch {
	case errors.Is(err, batch.ErrNotFound):
		writeJSON(w, http.StatusNotFound, apiError{Error: "not_found"})
	case errors.As(err, &ite):
		writeJSON(w, http.StatusConflict, apiError{
			Error: "invalid_transition",
			From:  string(ite.From),
			To:    string(ite.To),
		})
	case errors.Is(err, batch.ErrJobActive):
		writeJSON(w, http.StatusConflict, apiError{Error: "job_active"})
	default:
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal", Detail: err.Error()})
	}
}

type createJobRequest struct {
	Model      string              `json:"model"`
	Template   string              `json:"template"`
	MaxPages   int                 `json:"max_pages"`
	Thresholds *quality.Thresholds `json:"thresholds"`
}

func (s *server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "bad_request", Detail: err.Error()})
		return
	}
	th := s.thresholds
	if req.Thresholds != nil {
		th = *req.Thresholds
	}
	jobID, err := s.queue.Generate(r.Context(), req.Model, req.Template, req.MaxPages, th)
	if err != nil {
		if errors.Is(err, batch.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, apiError{Error: "not_found", Detail: err.Error()})
			return
		}
		writeQueueError(w, err)
		return
	}
	s.log.Info("job created", "job", jobID, "model", req.Model, "template", req.Template)
	writeJSON(w, http.StatusCreated, map[string]string{"job_id": jobID})
}

func (s *server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.queue.List(r.Context())
	if err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.queue.Pause)
}

func (s *server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.queue.Resume)
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.queue.Cancel)
}

func (s *server) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, jobID string) error) {
	jobID := chi.URLParam(r, "id")
	if err := op(r.Context(), jobID); err != nil {
		writeQueueError(w, err)
		return
	}
	job, err := s.queue.Status(r.Context(), jobID)
	if err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type rollbackRequest struct {
	Mode batch.RollbackMode `json:"mode"`
}

func (s *server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "bad_request", Detail: err.Error()})
		return
	}
	report, err := s.queue.Rollback(r.Context(), chi.URLParam(r, "id"), req.Mode)
	if err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  report.Status(),
		"results": report.Results,
	})
}

func (s *server) handlePreview(w http.ResponseWriter, r *http.Request) {
	count := 5
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "bad_request", Detail: "count must be a positive integer"})
			return
		}
		count = n
	}
	combos, err := s.queue.Preview(r.Context(), chi.URLParam(r, "id"), count)
	if err != nil {
		writeQueueError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(combos))
	for _, c := range combos {
		values := map[string]string{}
		for _, a := range c.Assignments() {
			values[a.Dimension] = a.Value.ID
		}
		out = append(out, map[string]any{"key": c.Key(), "values": values})
	}
	writeJSON(w, http.StatusOK, map[string]any{"combinations": out})
}

func (s *server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	cov, err := s.idx.CheckCoverage(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal", Detail: err.Error()})
		return
	}
	records, err := s.idx.Records(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal", Detail: err.Error()})
		return
	}
	attention := make([]indexing.Record, 0)
	for _, rec := range records {
		if rec.NeedsAttention {
			attention = append(attention, rec)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"coverage":        cov,
		"needs_attention": attention,
	})
}

func (s *server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	body, err := s.idx.Sitemap(r.Context())
	if err != nil {
		http.Error(w, "sitemap unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write(body)
}
