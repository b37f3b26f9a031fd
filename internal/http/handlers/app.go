package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"gateway/internal/domain"
	"gateway/internal/events"
	"gateway/internal/infra"
	"gateway/internal/jobs"
	"gateway/internal/providers/comfyui"
)

// DefaultKeepAlive is the interval between SSE keepalive comments.
const DefaultKeepAlive = 30 * time.Second

const maxBodyBytes = 1 << 20

// JobService is the queue surface the handlers drive.
type JobService interface {
	Submit(ctx context.Context, kind domain.Kind, mode domain.Mode, payload json.RawMessage) (domain.Job, error)
	Get(id string) (domain.Job, error)
	List(f jobs.Filter) ([]domain.Job, int)
	Cancel(id string) error
	Watch(jobID string) (*events.Subscription, error)
	Unwatch(sub *events.Subscription)
	Stats() jobs.Stats
}

// BackendProbe reports whether the workflow engine is reachable.
type BackendProbe interface {
	BaseURL() string
	Available(ctx context.Context) (*comfyui.SystemStats, error)
}

// OutputReader reads stored result files by key.
type OutputReader interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

type App struct {
	Jobs        JobService
	Workflows   *comfyui.Library
	ComfyUI     BackendProbe
	Outputs     OutputReader
	EventStats  func() events.Stats
	ServiceMode domain.Mode
	KeepAlive   time.Duration
	Logger      *infra.Logger
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, apiError{Error: errCode, Message: message})
}

// fail maps a domain error onto a status code and error body.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, errCode := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, domain.ErrNotFound):
		code, errCode = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrAlreadyTerminal):
		code, errCode = http.StatusConflict, "already_terminal"
	case errors.Is(err, domain.ErrValidation):
		code, errCode = http.StatusBadRequest, "validation"
	case errors.Is(err, domain.ErrUnavailable):
		code, errCode = http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		code, errCode = http.StatusGatewayTimeout, "timeout"
	}
	if code >= http.StatusInternalServerError {
		infra.LoggerOrDiscard(a.Logger).Error().Err(err).
			Str("path", r.URL.Path).Msg("http: request failed")
	}
	a.error(w, code, errCode, err.Error())
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		a.error(w, http.StatusBadRequest, "validation", "invalid json: "+err.Error())
		return false
	}
	return true
}

func (a *App) keepAlive() time.Duration {
	if a.KeepAlive > 0 {
		return a.KeepAlive
	}
	return DefaultKeepAlive
}
