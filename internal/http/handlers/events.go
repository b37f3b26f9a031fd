package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"gateway/internal/domain"
	"gateway/internal/events"
)

type resyncEvent struct {
	Dropped uint64      `json:"dropped"`
	Job     *domain.Job `json:"job,omitempty"`
}

// JobEvents godoc
// @Summary Stream one job's events
// @Description Server-Sent Events. The first event is the current snapshot; the stream ends after the terminal status.
// @Tags events
// @Produce text/event-stream
// @Param id path string true "job id"
// @Success 200 {string} string
// @Failure 404 {object} apiError
// @Router /v1/jobs/{id}/events [get]
func (a *App) JobEvents(w http.ResponseWriter, r *http.Request) {
	sub, err := a.Jobs.Watch(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.stream(w, r, sub)
}

// AllEvents godoc
// @Summary Stream events for every job
// @Tags events
// @Produce text/event-stream
// @Success 200 {string} string
// @Router /v1/events [get]
func (a *App) AllEvents(w http.ResponseWriter, r *http.Request) {
	sub, err := a.Jobs.Watch("")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.stream(w, r, sub)
}

func (a *App) stream(w http.ResponseWriter, r *http.Request, sub *events.Subscription) {
	defer a.Jobs.Unwatch(sub)

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(a.keepAlive())
	defer ticker.Stop()

	var seenDrops uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if d := sub.Dropped(); d > seenDrops {
				if err := a.writeResync(w, sub, d-seenDrops); err != nil {
					return
				}
				seenDrops = d
			}
			if err := writeEvent(w, evt.Seq, string(evt.Type), evt); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// writeResync tells the client events were lost; job streams also carry the
// current snapshot so the client can catch up without another request.
func (a *App) writeResync(w http.ResponseWriter, sub *events.Subscription, dropped uint64) error {
	payload := resyncEvent{Dropped: dropped}
	if id := sub.JobID(); id != "" {
		if job, err := a.Jobs.Get(id); err == nil {
			payload.Job = &job
		}
	}
	return writeEvent(w, 0, "resync", payload)
}

func writeEvent(w http.ResponseWriter, seq uint64, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", seq); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
