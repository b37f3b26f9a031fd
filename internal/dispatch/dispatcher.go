package dispatch

import (
	"context"
	"fmt"

	"gateway/internal/domain"
	"gateway/internal/providers"
)

// Dispatcher maps a (kind, mode) pair to the backend that serves it.
type Dispatcher struct {
	backends map[domain.Mode]providers.Generator
}

// New registers the mock backend and, when configured, the real one.
func New(mock, real providers.Generator) *Dispatcher {
	d := &Dispatcher{backends: make(map[domain.Mode]providers.Generator, 2)}
	if mock != nil {
		d.backends[domain.ModeMock] = mock
	}
	if real != nil {
		d.backends[domain.ModeReal] = real
	}
	return d
}

// Select returns the backend for kind in mode. Real-mode chat is not served
// by any backend.
func (d *Dispatcher) Select(kind domain.Kind, mode domain.Mode) (providers.Generator, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unsupported job kind %q", domain.ErrValidation, kind)
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unsupported mode %q", domain.ErrValidation, mode)
	}
	if mode == domain.ModeReal && kind == domain.KindChat {
		return nil, fmt.Errorf("%w: chat jobs only run in mock mode", domain.ErrValidation)
	}
	backend, ok := d.backends[mode]
	if !ok {
		return nil, fmt.Errorf("%w: no %s backend configured", domain.ErrUnavailable, mode)
	}
	return backend, nil
}

// Preflight resolves the backend and lets it reject the payload before a
// job record is created.
func (d *Dispatcher) Preflight(ctx context.Context, kind domain.Kind, mode domain.Mode, payload []byte) error {
	backend, err := d.Select(kind, mode)
	if err != nil {
		return err
	}
	if pf, ok := backend.(providers.Preflighter); ok {
		return pf.Preflight(ctx, kind, payload)
	}
	return nil
}
