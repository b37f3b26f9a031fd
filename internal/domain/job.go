package domain

import (
	"encoding/json"
	"time"
)

// Kind enumerates supported generation job categories.
type Kind string

const (
	KindChat  Kind = "chat"
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Valid reports whether k is a known job kind.
func (k Kind) Valid() bool {
	switch k {
	case KindChat, KindImage, KindVideo:
		return true
	default:
		return false
	}
}

// Mode selects whether a job is served by the simulator or the remote workflow engine.
type Mode string

const (
	ModeMock Mode = "mock"
	ModeReal Mode = "real"
)

// Valid reports whether m is a known service mode.
func (m Mode) Valid() bool {
	return m == ModeMock || m == ModeReal
}

// Status enumerates job lifecycle states.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusQueued || s == StatusRunning || s.Terminal()
}

// Result holds the normalized output of a successful job.
type Result struct {
	Text  string   `json:"text,omitempty"`
	Files []string `json:"files,omitempty"`
}

// ErrorInfo describes why a job failed.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Job encapsulates the lifecycle of one chat/image/video generation request.
type Job struct {
	ID              string          `json:"id"`
	Kind            Kind            `json:"kind"`
	Mode            Mode            `json:"mode"`
	Status          Status          `json:"status"`
	Progress        int             `json:"progress"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	Payload         json.RawMessage `json:"request_payload"`
	Result          *Result         `json:"result,omitempty"`
	Error           *ErrorInfo      `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// Snapshot returns a deep copy of the job that shares no memory with j.
func (j *Job) Snapshot() Job {
	out := *j
	if j.Payload != nil {
		out.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	if j.Result != nil {
		res := *j.Result
		if j.Result.Files != nil {
			res.Files = append([]string(nil), j.Result.Files...)
		}
		out.Result = &res
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	out.StartedAt = copyTime(j.StartedAt)
	out.CompletedAt = copyTime(j.CompletedAt)
	return out
}

// Duration returns the wall time between start and completion, when both are known.
func (j Job) Duration() (time.Duration, bool) {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0, false
	}
	return j.CompletedAt.Sub(*j.StartedAt), true
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
