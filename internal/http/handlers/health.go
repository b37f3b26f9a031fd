package handlers

import (
	"net/http"

	"gateway/internal/domain"
	"gateway/internal/events"
	"gateway/internal/jobs"
)

type healthResponse struct {
	Status string        `json:"status"`
	Mode   domain.Mode   `json:"mode"`
	Jobs   jobs.Stats    `json:"jobs"`
	Events *events.Stats `json:"events,omitempty"`
}

// Health godoc
// @Summary Liveness and queue summary
// @Tags system
// @Produce json
// @Success 200 {object} healthResponse
// @Router /v1/healthz [get]
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Mode: a.ServiceMode, Jobs: a.Jobs.Stats()}
	if a.EventStats != nil {
		s := a.EventStats()
		resp.Events = &s
	}
	a.json(w, http.StatusOK, resp)
}
