package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gateway/internal/domain"
	"gateway/internal/events"
	"gateway/internal/providers"
)

// claimed is a job handed to a worker together with its execution context.
type claimed struct {
	job    domain.Job
	ctx    context.Context
	cancel context.CancelFunc
}

type outcome struct {
	result *domain.Result
	err    error
}

// Run starts the worker pool and blocks until ctx is done. On shutdown,
// running jobs are cancelled, queued jobs are finalized as cancelled and Run
// returns once every worker has exited.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return errors.New("jobs: queue already running")
	}
	q.started = true
	q.mu.Unlock()

	q.logger.Info().Int("workers", q.workers).Msg("queue: started")

	var wg sync.WaitGroup
	for i := 1; i <= q.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			q.work(ctx, worker)
		}(i)
	}

	<-ctx.Done()
	q.shutdown()
	wg.Wait()
	q.logger.Info().Msg("queue: stopped")
	return nil
}

func (q *Queue) shutdown() {
	q.mu.Lock()
	q.closed = true
	for _, cancel := range q.active {
		cancel()
	}
	pending := q.pending
	q.pending = nil

	now := time.Now().UTC()
	var dropped []domain.Job
	for _, id := range pending {
		snap, changed, err := q.store.Update(id, func(j *domain.Job) bool {
			if j.Status != domain.StatusQueued {
				return false
			}
			completed := completionTime(j, now)
			j.Status = domain.StatusCancelled
			j.CompletedAt = &completed
			j.ProgressMessage = "gateway shutting down"
			return true
		})
		if err != nil || !changed {
			continue
		}
		q.hub.Publish(events.FromJob(events.TypeStatus, snap))
		dropped = append(dropped, snap)
	}
	q.mu.Unlock()

	if len(dropped) > 0 {
		q.logger.Warn().Int("jobs", len(dropped)).Msg("queue: cancelled queued jobs on shutdown")
	}
	for _, job := range dropped {
		q.archive(job)
	}
}

func (q *Queue) work(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}
		c, ok := q.claim(ctx)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			}
			continue
		}
		q.execute(worker, c)
	}
}

// claim pops the oldest pending job and marks it running in the same
// critical section.
func (q *Queue) claim(ctx context.Context) (claimed, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.closed && len(q.pending) > 0 {
		id := q.pending[0]
		q.pending = q.pending[1:]

		now := time.Now().UTC()
		snap, changed, err := q.store.Update(id, func(j *domain.Job) bool {
			if j.Status != domain.StatusQueued {
				return false
			}
			started := now
			if started.Before(j.CreatedAt) {
				started = j.CreatedAt
			}
			j.Status = domain.StatusRunning
			j.StartedAt = &started
			j.ProgressMessage = "started"
			return true
		})
		if err != nil || !changed {
			continue
		}

		jobCtx, cancel := context.WithTimeout(ctx, q.jobTimeout)
		q.active[id] = cancel
		q.hub.Publish(events.FromJob(events.TypeStatus, snap))
		if len(q.pending) > 0 {
			q.signal()
		}
		return claimed{job: snap, ctx: jobCtx, cancel: cancel}, true
	}
	return claimed{}, false
}

func (q *Queue) execute(worker int, c claimed) {
	defer c.cancel()
	job := c.job
	q.logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("mode", string(job.Mode)).
		Int("worker", worker).
		Msg("queue: picked job")

	backend, err := q.dispatcher.Select(job.Kind, job.Mode)
	var res *domain.Result
	if err == nil {
		res, err = q.invoke(c.ctx, backend, job)
	}
	q.finish(job.ID, res, err)
}

// invoke runs the backend in its own goroutine so a backend that ignores
// cancellation cannot hold the worker past the grace period.
func (q *Queue) invoke(ctx context.Context, backend providers.Generator, job domain.Job) (*domain.Result, error) {
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: backend panic: %v", domain.ErrInternal, r)}
			}
		}()
		res, err := backend.Generate(ctx, job, q.progressFunc(job.ID))
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
	}

	grace := time.NewTimer(q.cancelGrace)
	defer grace.Stop()
	select {
	case out := <-done:
		return out.result, out.err
	case <-grace.C:
		q.logger.Warn().
			Str("job_id", job.ID).
			Dur("grace", q.cancelGrace).
			Msg("queue: backend did not stop within grace period")
		return nil, ctx.Err()
	}
}

// progressFunc relays backend progress for a running job, clamped to
// [0,99] and never below the last reported value.
func (q *Queue) progressFunc(id string) providers.ProgressFunc {
	return func(pct int, msg string) {
		pct = min(max(pct, 0), 99)

		q.mu.Lock()
		defer q.mu.Unlock()
		snap, changed, err := q.store.Update(id, func(j *domain.Job) bool {
			if j.Status != domain.StatusRunning {
				return false
			}
			grew := pct > j.Progress
			relabel := msg != "" && msg != j.ProgressMessage
			if !grew && !relabel {
				return false
			}
			if grew {
				j.Progress = pct
			}
			if relabel {
				j.ProgressMessage = msg
			}
			return true
		})
		if err != nil || !changed {
			return
		}
		q.hub.Publish(events.FromJob(events.TypeProgress, snap))
	}
}

// finish records the terminal state and publishes it exactly once.
func (q *Queue) finish(id string, res *domain.Result, runErr error) {
	if runErr == nil && res == nil {
		runErr = fmt.Errorf("%w: backend returned no result", domain.ErrInternal)
	}

	q.mu.Lock()
	now := time.Now().UTC()
	snap, _, err := q.store.Update(id, func(j *domain.Job) bool {
		completed := completionTime(j, now)
		j.CompletedAt = &completed

		switch {
		case j.Status == domain.StatusCancelled:
			j.ProgressMessage = "cancelled"
		case runErr == nil:
			j.Status = domain.StatusSucceeded
			j.Progress = 100
			j.ProgressMessage = "completed"
			j.Result = res
		case domain.KindOf(runErr) == domain.KindCancelled:
			j.Status = domain.StatusCancelled
			j.ProgressMessage = "cancelled"
		default:
			j.Status = domain.StatusFailed
			j.ProgressMessage = "failed"
			j.Error = &domain.ErrorInfo{Kind: domain.KindOf(runErr), Message: runErr.Error()}
		}
		return true
	})
	delete(q.active, id)
	if err == nil {
		q.hub.Publish(events.FromJob(events.TypeStatus, snap))
	}
	q.mu.Unlock()

	if err != nil {
		q.logger.Error().Err(err).Str("job_id", id).Msg("queue: finalize job failed")
		return
	}

	logEvt := q.logger.Info()
	switch {
	case snap.Status == domain.StatusFailed && snap.Error.Kind == domain.KindInternal:
		logEvt = q.logger.Error().Err(runErr)
	case snap.Status == domain.StatusFailed:
		logEvt = q.logger.Warn().Err(runErr)
	}
	if d, ok := snap.Duration(); ok {
		logEvt = logEvt.Dur("duration", d)
	}
	logEvt.
		Str("job_id", id).
		Str("status", string(snap.Status)).
		Msg("queue: job finished")

	q.archive(snap)
}

// completionTime returns now, moved forward if needed so that completed_at
// never precedes created_at or started_at. Stored times carry no monotonic
// reading, so a wall clock stepping back could otherwise invert them.
func completionTime(j *domain.Job, now time.Time) time.Time {
	if now.Before(j.CreatedAt) {
		now = j.CreatedAt
	}
	if j.StartedAt != nil && now.Before(*j.StartedAt) {
		now = *j.StartedAt
	}
	return now
}
