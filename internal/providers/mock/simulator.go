package mock

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"gateway/internal/domain"
	"gateway/internal/infra"
	"gateway/internal/providers"
)

// PlaceholderURL is returned for image and video jobs when no asset store
// is configured.
const PlaceholderURL = "/static/img/placeholder.png"

// DelayRange bounds the simulated processing time of one job.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// AssetWriter persists rendered placeholder assets.
type AssetWriter interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// Options controls the simulator's behaviour.
type Options struct {
	ChatDelay    DelayRange
	ImageDelay   DelayRange
	VideoDelay   DelayRange
	ErrorRate    float64
	Seed         int64
	TickInterval time.Duration
	Assets       AssetWriter
	Logger       *infra.Logger
}

// Simulator is the mock generation backend. Delays and failures are drawn
// from a seeded generator so a fixed seed replays the same run.
type Simulator struct {
	delays    map[domain.Kind]DelayRange
	errorRate float64
	tick      time.Duration
	assets    AssetWriter
	logger    *infra.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator validates opts and builds a Simulator. A zero seed picks one
// from the clock.
func NewSimulator(opts Options) (*Simulator, error) {
	delays := map[domain.Kind]DelayRange{
		domain.KindChat:  opts.ChatDelay,
		domain.KindImage: opts.ImageDelay,
		domain.KindVideo: opts.VideoDelay,
	}
	for kind, d := range delays {
		if d.Min < 0 || d.Max < d.Min {
			return nil, fmt.Errorf("mock: invalid %s delay range [%s, %s]", kind, d.Min, d.Max)
		}
	}
	if opts.ErrorRate < 0 || opts.ErrorRate > 1 {
		return nil, fmt.Errorf("mock: error rate %v outside [0, 1]", opts.ErrorRate)
	}

	tick := opts.TickInterval
	if tick <= 0 {
		tick = 250 * time.Millisecond
	}
	seed := uint64(opts.Seed)
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	return &Simulator{
		delays:    delays,
		errorRate: opts.ErrorRate,
		tick:      tick,
		assets:    opts.Assets,
		logger:    infra.LoggerOrDiscard(opts.Logger),
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Generate waits out the simulated delay, reporting progress on every tick,
// then either fails with ErrUnavailable or returns a synthesized result.
func (s *Simulator) Generate(ctx context.Context, job domain.Job, progress providers.ProgressFunc) (*domain.Result, error) {
	if progress == nil {
		progress = providers.NopProgress
	}
	delay, fail := s.roll(job.Kind)

	s.logger.Debug().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Dur("delay", delay).
		Bool("fail", fail).
		Msg("mock: simulating job")

	if err := s.wait(ctx, delay, progress); err != nil {
		return nil, err
	}
	if fail {
		return nil, fmt.Errorf("%w: simulated %s generation failure", domain.ErrUnavailable, job.Kind)
	}

	switch job.Kind {
	case domain.KindChat:
		return s.chat(job)
	case domain.KindImage:
		p, err := domain.DecodeImage(job.Payload)
		if err != nil {
			return nil, err
		}
		width, height, err := domain.ParseSize(p.Size)
		if err != nil {
			width, height = 1024, 1024
		}
		return s.placeholders(ctx, job, "images", p.Prompt, p.N, width, height)
	case domain.KindVideo:
		p, err := domain.DecodeVideo(job.Payload)
		if err != nil {
			return nil, err
		}
		width, height, err := domain.ParseSize(p.Size)
		if err != nil {
			width, height = 512, 512
		}
		return s.placeholders(ctx, job, "videos", p.Prompt, p.N, width, height)
	default:
		return nil, fmt.Errorf("%w: unsupported kind %q", domain.ErrValidation, job.Kind)
	}
}

func (s *Simulator) roll(kind domain.Kind) (time.Duration, bool) {
	d := s.delays[kind]
	s.mu.Lock()
	defer s.mu.Unlock()
	delay := d.Min
	if span := d.Max - d.Min; span > 0 {
		delay += time.Duration(s.rng.Int64N(int64(span) + 1))
	}
	return delay, s.errorRate > 0 && s.rng.Float64() < s.errorRate
}

func (s *Simulator) wait(ctx context.Context, delay time.Duration, progress providers.ProgressFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if delay <= 0 {
		return nil
	}
	start := time.Now()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-ticker.C:
			pct := int(time.Since(start) * 100 / delay)
			progress(min(pct, 99), "generating")
		}
	}
}

func (s *Simulator) chat(job domain.Job) (*domain.Result, error) {
	p, err := domain.DecodeChat(job.Payload)
	if err != nil {
		return nil, err
	}
	model := p.Model
	question := strings.TrimSpace(norm.NFC.String(p.LastUserMessage()))
	if question == "" {
		return &domain.Result{Text: fmt.Sprintf("Hello from the mock %s assistant.", model)}, nil
	}
	return &domain.Result{
		Text: fmt.Sprintf("This is a mock response from %s. You asked: %q", model, truncate(question, 200)),
	}, nil
}

func (s *Simulator) placeholders(ctx context.Context, job domain.Job, folder, prompt string, n, width, height int) (*domain.Result, error) {
	n = max(n, 1)
	files := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if s.assets == nil {
			files = append(files, PlaceholderURL)
			continue
		}
		seed := deterministicSeed(job.ID, prompt, i)
		data, err := renderPlaceholder(width, height, seed)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
		}
		key := fmt.Sprintf("%s/%s/%s_mock_%02d.png", folder, job.ID, seed[:8], i+1)
		stored, err := s.assets.Write(ctx, key, data)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("mock: store placeholder failed; using static placeholder")
			files = append(files, PlaceholderURL)
			continue
		}
		files = append(files, stored)
	}
	return &domain.Result{Files: files}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

var _ providers.Generator = (*Simulator)(nil)
