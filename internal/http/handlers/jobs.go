package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"gateway/internal/domain"
	"gateway/internal/jobs"
)

type submitRequest struct {
	Kind    domain.Kind     `json:"kind"`
	Mode    domain.Mode     `json:"mode,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type submitResponse struct {
	JobID  string        `json:"job_id"`
	Status domain.Status `json:"status"`
}

type listResponse struct {
	Jobs     []domain.Job `json:"jobs"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
}

// SubmitJob godoc
// @Summary Submit a generation job
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body submitRequest true "kind is chat, image or video; mode defaults to the service mode"
// @Success 202 {object} submitResponse
// @Failure 400 {object} apiError
// @Failure 429 {string} string
// @Failure 503 {object} apiError
// @Router /v1/jobs [post]
func (a *App) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !a.decode(w, r, &req) {
		return
	}
	job, err := a.Jobs.Submit(r.Context(), req.Kind, req.Mode, req.Payload)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	a.json(w, http.StatusAccepted, submitResponse{JobID: job.ID, Status: job.Status})
}

// ListJobs godoc
// @Summary List jobs, newest first
// @Tags jobs
// @Produce json
// @Param status query string false "queued, running, succeeded, failed or cancelled"
// @Param kind query string false "chat, image or video"
// @Param mode query string false "mock or real"
// @Param page query int false "1-based page"
// @Param page_size query int false "at most 100"
// @Success 200 {object} listResponse
// @Failure 400 {object} apiError
// @Router /v1/jobs [get]
func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := jobs.Filter{
		Status: domain.Status(q.Get("status")),
		Kind:   domain.Kind(q.Get("kind")),
		Mode:   domain.Mode(q.Get("mode")),
	}
	if f.Status != "" && !f.Status.Valid() {
		a.error(w, http.StatusBadRequest, "validation", "unknown status "+strconv.Quote(string(f.Status)))
		return
	}
	if f.Kind != "" && !f.Kind.Valid() {
		a.error(w, http.StatusBadRequest, "validation", "unknown kind "+strconv.Quote(string(f.Kind)))
		return
	}
	if f.Mode != "" && !f.Mode.Valid() {
		a.error(w, http.StatusBadRequest, "validation", "unknown mode "+strconv.Quote(string(f.Mode)))
		return
	}
	var ok bool
	if f.Page, ok = a.intParam(w, q.Get("page"), "page"); !ok {
		return
	}
	if f.PageSize, ok = a.intParam(w, q.Get("page_size"), "page_size"); !ok {
		return
	}
	f.Normalize()

	list, total := a.Jobs.List(f)
	if list == nil {
		list = []domain.Job{}
	}
	a.json(w, http.StatusOK, listResponse{Jobs: list, Total: total, Page: f.Page, PageSize: f.PageSize})
}

func (a *App) intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		a.error(w, http.StatusBadRequest, "validation", name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// JobStats godoc
// @Summary Job counts per status
// @Tags jobs
// @Produce json
// @Success 200 {object} jobs.Stats
// @Router /v1/jobs/stats [get]
func (a *App) JobStats(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.Jobs.Stats())
}

// GetJob godoc
// @Summary Fetch one job
// @Tags jobs
// @Produce json
// @Param id path string true "job id"
// @Success 200 {object} domain.Job
// @Failure 404 {object} apiError
// @Router /v1/jobs/{id} [get]
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

// CancelJob godoc
// @Summary Cancel a queued or running job
// @Tags jobs
// @Produce json
// @Param id path string true "job id"
// @Success 200 {object} domain.Job
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /v1/jobs/{id} [delete]
func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Jobs.Cancel(id); err != nil {
		a.fail(w, r, err)
		return
	}
	job, err := a.Jobs.Get(id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}
