package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gateway/internal/providers/comfyui"
)

type workflowList struct {
	Workflows []string `json:"workflows"`
}

type saveWorkflowRequest struct {
	Name     string          `json:"name"`
	Workflow json.RawMessage `json:"workflow"`
}

type backendStatus struct {
	Available bool                 `json:"available"`
	BaseURL   string               `json:"base_url"`
	System    *comfyui.SystemStats `json:"system_stats,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// ListWorkflows godoc
// @Summary List stored workflow templates
// @Tags workflows
// @Produce json
// @Success 200 {object} workflowList
// @Router /v1/workflows [get]
func (a *App) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	names, err := a.Workflows.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	a.json(w, http.StatusOK, workflowList{Workflows: names})
}

// GetWorkflow godoc
// @Summary Fetch one workflow template
// @Tags workflows
// @Produce json
// @Param name path string true "workflow name"
// @Success 200 {object} map[string]any
// @Failure 404 {object} apiError
// @Router /v1/workflows/{name} [get]
func (a *App) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := a.Workflows.Load(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, wf)
}

// SaveWorkflow godoc
// @Summary Store a workflow template in ComfyUI API format
// @Tags workflows
// @Accept json
// @Produce json
// @Param request body saveWorkflowRequest true "name and node graph"
// @Success 201 {object} workflowList
// @Failure 400 {object} apiError
// @Router /v1/workflows [post]
func (a *App) SaveWorkflow(w http.ResponseWriter, r *http.Request) {
	var req saveWorkflowRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := comfyui.ValidateName(req.Name); err != nil {
		a.fail(w, r, err)
		return
	}
	wf, err := comfyui.ParseWorkflow(req.Workflow)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Workflows.Save(r.Context(), req.Name, wf); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, workflowList{Workflows: []string{req.Name}})
}

// DeleteWorkflow godoc
// @Summary Remove a workflow template
// @Tags workflows
// @Param name path string true "workflow name"
// @Success 204
// @Failure 404 {object} apiError
// @Router /v1/workflows/{name} [delete]
func (a *App) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := a.Workflows.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BackendStatus godoc
// @Summary Probe the ComfyUI server
// @Tags backends
// @Produce json
// @Success 200 {object} backendStatus
// @Router /v1/backends/comfyui/status [get]
func (a *App) BackendStatus(w http.ResponseWriter, r *http.Request) {
	if a.ComfyUI == nil {
		a.json(w, http.StatusOK, backendStatus{Error: "comfyui client not configured"})
		return
	}
	resp := backendStatus{BaseURL: a.ComfyUI.BaseURL()}
	stats, err := a.ComfyUI.Available(r.Context())
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Available = true
		resp.System = stats
	}
	a.json(w, http.StatusOK, resp)
}
