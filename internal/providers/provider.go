package providers

import (
	"context"

	"gateway/internal/domain"
)

// ProgressFunc receives backend progress as a percentage with an optional
// human readable message. Callers clamp and de-duplicate the values.
type ProgressFunc func(pct int, msg string)

// Generator is the contract implemented by every generation backend. The
// job passed in is a snapshot; backends must not retain it beyond the call.
type Generator interface {
	Generate(ctx context.Context, job domain.Job, progress ProgressFunc) (*domain.Result, error)
}

// Preflighter is implemented by backends that can reject a normalized
// payload at submission time, before a job record exists.
type Preflighter interface {
	Preflight(ctx context.Context, kind domain.Kind, payload []byte) error
}

// NopProgress discards progress updates.
func NopProgress(int, string) {}
