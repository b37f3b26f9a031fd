package mock

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gateway/internal/domain"
	"gateway/internal/storage"
)

func newTestSimulator(t *testing.T, opts Options) *Simulator {
	t.Helper()
	sim, err := NewSimulator(opts)
	if err != nil {
		t.Fatalf("NewSimulator returned error: %v", err)
	}
	return sim
}

func testJob(t *testing.T, kind domain.Kind, raw string) domain.Job {
	t.Helper()
	payload, err := domain.ValidatePayload(kind, domain.ModeMock, json.RawMessage(raw))
	if err != nil {
		t.Fatalf("ValidatePayload returned error: %v", err)
	}
	return domain.Job{ID: "job-" + string(kind), Kind: kind, Mode: domain.ModeMock, Payload: payload}
}

func TestSimulatorChatResult(t *testing.T) {
	sim := newTestSimulator(t, Options{Seed: 1})
	job := testJob(t, domain.KindChat, `{"model":"gpt-4o","messages":[{"role":"user","content":"what is go?"}]}`)

	res, err := sim.Generate(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if res.Text != `This is a mock response from gpt-4o. You asked: "what is go?"` {
		t.Fatalf("unexpected text: %q", res.Text)
	}
}

func TestSimulatorChatNormalizesQuestion(t *testing.T) {
	sim := newTestSimulator(t, Options{Seed: 1})
	// "café" spelled with a combining acute accent.
	job := testJob(t, domain.KindChat, `{"model":"llama3","messages":[{"role":"user","content":"cafe\u0301"}]}`)

	res, err := sim.Generate(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if !strings.Contains(res.Text, "from llama3.") || !strings.Contains(res.Text, "caf\u00e9") {
		t.Fatalf("unexpected text: %q", res.Text)
	}
}

func TestSimulatorErrorRateAlwaysFails(t *testing.T) {
	sim := newTestSimulator(t, Options{Seed: 7, ErrorRate: 1})
	job := testJob(t, domain.KindImage, `{"prompt":"a cat"}`)

	res, err := sim.Generate(context.Background(), job, nil)
	if res != nil {
		t.Fatalf("expected no result, got %+v", res)
	}
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "simulated image generation failure") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestSimulatorWritesPlaceholders(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	sim := newTestSimulator(t, Options{Seed: 3, Assets: store})
	job := testJob(t, domain.KindImage, `{"prompt":"a cat","n":2,"size":"64x32"}`)

	res, err := sim.Generate(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(res.Files) != 2 {
		t.Fatalf("files = %v", res.Files)
	}
	for _, key := range res.Files {
		if !strings.HasPrefix(key, "images/job-image/") {
			t.Fatalf("unexpected key %q", key)
		}
		data, err := store.Read(context.Background(), key)
		if err != nil || len(data) == 0 {
			t.Fatalf("Read(%q) = %d bytes, %v", key, len(data), err)
		}
	}
}

func TestSimulatorVideoWithoutStoreUsesPlaceholderURL(t *testing.T) {
	sim := newTestSimulator(t, Options{Seed: 3})
	job := testJob(t, domain.KindVideo, `{"prompt":"waves","n":3}`)

	res, err := sim.Generate(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(res.Files) != 3 || res.Files[0] != PlaceholderURL {
		t.Fatalf("files = %v", res.Files)
	}
}

func TestSimulatorProgressTicksAreBounded(t *testing.T) {
	delay := 120 * time.Millisecond
	sim := newTestSimulator(t, Options{
		Seed:         5,
		ChatDelay:    DelayRange{Min: delay, Max: delay},
		TickInterval: 10 * time.Millisecond,
	})
	job := testJob(t, domain.KindChat, `{"messages":[{"role":"user","content":"hi"}]}`)

	var mu sync.Mutex
	var ticks []int
	_, err := sim.Generate(context.Background(), job, func(pct int, _ string) {
		mu.Lock()
		ticks = append(ticks, pct)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(ticks) == 0 {
		t.Fatalf("expected progress ticks")
	}
	for i, pct := range ticks {
		if pct < 0 || pct > 99 {
			t.Fatalf("tick %d out of range: %d", i, pct)
		}
		if i > 0 && pct < ticks[i-1] {
			t.Fatalf("ticks regressed: %v", ticks)
		}
	}
}

func TestSimulatorHonorsCancellation(t *testing.T) {
	sim := newTestSimulator(t, Options{
		Seed:       9,
		VideoDelay: DelayRange{Min: 10 * time.Second, Max: 10 * time.Second},
	})
	job := testJob(t, domain.KindVideo, `{"prompt":"waves"}`)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := sim.Generate(ctx, job, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("cancellation took %s", elapsed)
	}
}

func TestSimulatorSeedIsReproducible(t *testing.T) {
	opts := Options{Seed: 42, ImageDelay: DelayRange{Min: time.Second, Max: 5 * time.Second}, ErrorRate: 0.5}
	a := newTestSimulator(t, opts)
	b := newTestSimulator(t, opts)
	for i := 0; i < 10; i++ {
		da, fa := a.roll(domain.KindImage)
		db, fb := b.roll(domain.KindImage)
		if da != db || fa != fb {
			t.Fatalf("roll %d differs: (%s,%v) vs (%s,%v)", i, da, fa, db, fb)
		}
		if da < time.Second || da > 5*time.Second {
			t.Fatalf("delay %s outside range", da)
		}
	}
}

func TestNewSimulatorRejectsBadOptions(t *testing.T) {
	if _, err := NewSimulator(Options{ErrorRate: 1.5}); err == nil {
		t.Fatalf("expected error for error rate > 1")
	}
	if _, err := NewSimulator(Options{ImageDelay: DelayRange{Min: 2 * time.Second, Max: time.Second}}); err == nil {
		t.Fatalf("expected error for inverted delay range")
	}
}

func TestRenderPlaceholderIsDeterministic(t *testing.T) {
	a, err := renderPlaceholder(2048, 1024, "0123456789abcdef")
	if err != nil {
		t.Fatalf("renderPlaceholder returned error: %v", err)
	}
	b, _ := renderPlaceholder(2048, 1024, "0123456789abcdef")
	if string(a) != string(b) {
		t.Fatalf("placeholder bytes differ for identical seed")
	}
	if w, h := placeholderSize(2048, 1024); w != 512 || h != 256 {
		t.Fatalf("placeholderSize = %dx%d", w, h)
	}
}
