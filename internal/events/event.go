package events

import (
	"time"

	"gateway/internal/domain"
)

// Type distinguishes lifecycle transitions from progress ticks.
type Type string

const (
	TypeStatus   Type = "status"
	TypeProgress Type = "progress"
)

// Event is one job lifecycle notification. Seq is assigned by the hub and
// increases across all jobs.
type Event struct {
	Seq      uint64            `json:"seq"`
	Type     Type              `json:"type"`
	JobID    string            `json:"job_id"`
	Kind     domain.Kind       `json:"kind"`
	Mode     domain.Mode       `json:"mode"`
	Status   domain.Status     `json:"status"`
	Progress int               `json:"progress"`
	Message  string            `json:"message,omitempty"`
	Error    *domain.ErrorInfo `json:"error,omitempty"`
	Result   *domain.Result    `json:"result,omitempty"`
	Time     time.Time         `json:"time"`
}

// Terminal reports whether the event announces a job's final state.
func (e Event) Terminal() bool {
	return e.Type == TypeStatus && e.Status.Terminal()
}

// FromJob builds an event describing the given snapshot.
func FromJob(t Type, job domain.Job) Event {
	evt := Event{
		Type:     t,
		JobID:    job.ID,
		Kind:     job.Kind,
		Mode:     job.Mode,
		Status:   job.Status,
		Progress: job.Progress,
		Message:  job.ProgressMessage,
	}
	if job.Error != nil {
		e := *job.Error
		evt.Error = &e
	}
	if job.Result != nil {
		r := *job.Result
		r.Files = append([]string(nil), job.Result.Files...)
		evt.Result = &r
	}
	return evt
}
