package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gateway/internal/domain"
	"gateway/internal/events"
	"gateway/internal/infra"
	"gateway/internal/providers"
)

const (
	DefaultJobTimeout  = 15 * time.Minute
	DefaultCancelGrace = 5 * time.Second
	archiveTimeout     = 5 * time.Second
)

// ErrQueueClosed is returned by Submit once the queue has shut down.
var ErrQueueClosed = fmt.Errorf("%w: job queue is shutting down", domain.ErrUnavailable)

// Dispatcher picks the backend for a job and validates payloads up front.
type Dispatcher interface {
	Select(kind domain.Kind, mode domain.Mode) (providers.Generator, error)
	Preflight(ctx context.Context, kind domain.Kind, mode domain.Mode, payload []byte) error
}

// Archiver persists finished jobs outside the process.
type Archiver interface {
	Save(ctx context.Context, job domain.Job) error
}

// Options configures a Queue.
type Options struct {
	Workers     int
	JobTimeout  time.Duration
	CancelGrace time.Duration
	DefaultMode domain.Mode
	Archiver    Archiver
	Logger      *infra.Logger
}

// Stats summarizes queue occupancy.
type Stats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Workers   int `json:"workers"`
}

// Queue accepts jobs, runs them on a fixed pool of workers and publishes
// every lifecycle change to the event hub. State transitions and their
// events happen under q.mu so each job's events reach the hub in order.
type Queue struct {
	store      *Store
	hub        *events.Hub
	dispatcher Dispatcher
	archiver   Archiver
	logger     *infra.Logger

	workers     int
	jobTimeout  time.Duration
	cancelGrace time.Duration
	defaultMode domain.Mode

	mu      sync.Mutex
	pending []string
	active  map[string]context.CancelFunc
	started bool
	closed  bool

	wake chan struct{}
}

// NewQueue wires a queue around an owned store and hub.
func NewQueue(store *Store, hub *events.Hub, dispatcher Dispatcher, opts Options) (*Queue, error) {
	if store == nil || hub == nil || dispatcher == nil {
		return nil, errors.New("jobs: store, hub and dispatcher are required")
	}
	if opts.Workers < 1 {
		return nil, fmt.Errorf("jobs: workers must be >= 1, got %d", opts.Workers)
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = DefaultCancelGrace
	}
	if opts.DefaultMode == "" {
		opts.DefaultMode = domain.ModeMock
	}
	if !opts.DefaultMode.Valid() {
		return nil, fmt.Errorf("jobs: invalid default mode %q", opts.DefaultMode)
	}
	return &Queue{
		store:       store,
		hub:         hub,
		dispatcher:  dispatcher,
		archiver:    opts.Archiver,
		logger:      infra.LoggerOrDiscard(opts.Logger),
		workers:     opts.Workers,
		jobTimeout:  opts.JobTimeout,
		cancelGrace: opts.CancelGrace,
		defaultMode: opts.DefaultMode,
		active:      make(map[string]context.CancelFunc),
		wake:        make(chan struct{}, 1),
	}, nil
}

// Submit validates the payload, records a queued job and returns its
// snapshot without waiting for execution. An empty mode takes the
// configured default.
func (q *Queue) Submit(ctx context.Context, kind domain.Kind, mode domain.Mode, payload json.RawMessage) (domain.Job, error) {
	if mode == "" {
		mode = q.defaultMode
	}
	normalized, err := domain.ValidatePayload(kind, mode, payload)
	if err != nil {
		return domain.Job{}, err
	}
	if err := q.dispatcher.Preflight(ctx, kind, mode, normalized); err != nil {
		return domain.Job{}, err
	}

	job := domain.Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Mode:      mode,
		Status:    domain.StatusQueued,
		Payload:   normalized,
		CreatedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return domain.Job{}, ErrQueueClosed
	}
	if err := q.store.Insert(job); err != nil {
		q.mu.Unlock()
		return domain.Job{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	q.pending = append(q.pending, job.ID)
	depth := len(q.pending)
	q.hub.Publish(events.FromJob(events.TypeStatus, job))
	q.mu.Unlock()

	q.signal()
	q.logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(kind)).
		Str("mode", string(mode)).
		Int("pending", depth).
		Msg("queue: job accepted")
	return job.Snapshot(), nil
}

// Get returns a snapshot of the job.
func (q *Queue) Get(id string) (domain.Job, error) {
	return q.store.Get(id)
}

// List returns one page of jobs, newest first, with the total match count.
func (q *Queue) List(f Filter) ([]domain.Job, int) {
	return q.store.List(f)
}

// Cancel stops a queued or running job. A queued job is finalized at once;
// a running job is marked cancelled and its backend context cancelled, and
// the worker sets completed_at once the backend has wound down.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	job, err := q.store.Get(id)
	if err != nil {
		q.mu.Unlock()
		return err
	}

	switch job.Status {
	case domain.StatusQueued:
		q.removePending(id)
		now := time.Now().UTC()
		snap, _, err := q.store.Update(id, func(j *domain.Job) bool {
			completed := completionTime(j, now)
			j.Status = domain.StatusCancelled
			j.CompletedAt = &completed
			j.ProgressMessage = "cancelled before start"
			return true
		})
		if err != nil {
			q.mu.Unlock()
			return err
		}
		q.hub.Publish(events.FromJob(events.TypeStatus, snap))
		q.mu.Unlock()

		q.logger.Info().Str("job_id", id).Msg("queue: cancelled queued job")
		q.archive(snap)
		return nil

	case domain.StatusRunning:
		if _, _, err := q.store.Update(id, func(j *domain.Job) bool {
			j.Status = domain.StatusCancelled
			j.ProgressMessage = "cancellation requested"
			return true
		}); err != nil {
			q.mu.Unlock()
			return err
		}
		if cancel := q.active[id]; cancel != nil {
			cancel()
		}
		q.mu.Unlock()

		q.logger.Info().Str("job_id", id).Msg("queue: cancellation requested")
		return nil

	default:
		q.mu.Unlock()
		return fmt.Errorf("job %s is %s: %w", id, job.Status, domain.ErrAlreadyTerminal)
	}
}

// Watch opens an event stream for jobID, or for every job when jobID is
// empty. A job stream starts with a snapshot of the job taken atomically
// with respect to its later events.
func (q *Queue) Watch(jobID string) (*events.Subscription, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if jobID == "" {
		return q.hub.Subscribe(""), nil
	}
	job, err := q.store.Get(jobID)
	if err != nil {
		return nil, err
	}
	return q.hub.Subscribe(jobID, events.FromJob(events.TypeStatus, job)), nil
}

// Unwatch releases a stream returned by Watch.
func (q *Queue) Unwatch(sub *events.Subscription) {
	q.hub.Unsubscribe(sub)
}

// Stats reports counts per status plus scheduler occupancy.
func (q *Queue) Stats() Stats {
	counts := q.store.Counts()
	q.mu.Lock()
	pending, active := len(q.pending), len(q.active)
	q.mu.Unlock()

	s := Stats{
		Queued:    counts[domain.StatusQueued],
		Running:   counts[domain.StatusRunning],
		Succeeded: counts[domain.StatusSucceeded],
		Failed:    counts[domain.StatusFailed],
		Cancelled: counts[domain.StatusCancelled],
		Pending:   pending,
		Active:    active,
		Workers:   q.workers,
	}
	s.Total = s.Queued + s.Running + s.Succeeded + s.Failed + s.Cancelled
	return s
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// removePending drops id from the pending list. Callers hold q.mu.
func (q *Queue) removePending(id string) {
	for i, pid := range q.pending {
		if pid == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

func (q *Queue) archive(job domain.Job) {
	if q.archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := q.archiver.Save(ctx, job); err != nil {
		q.logger.Warn().Err(err).Str("job_id", job.ID).Msg("queue: archive job failed")
	}
}
