package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"gateway/internal/infra"
)

// DefaultRetentionSchedule runs the janitor every ten minutes.
const DefaultRetentionSchedule = "@every 10m"

// Janitor periodically drops finished jobs older than the retention window
// from the in-memory store. Archived copies are left alone.
type Janitor struct {
	store     *Store
	retention time.Duration
	cron      *cron.Cron
	logger    *infra.Logger
	now       func() time.Time
}

// NewJanitor schedules a sweep on the given cron spec.
func NewJanitor(store *Store, retention time.Duration, schedule string, logger *infra.Logger) (*Janitor, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("jobs: retention must be positive, got %s", retention)
	}
	if schedule == "" {
		schedule = DefaultRetentionSchedule
	}
	j := &Janitor{
		store:     store,
		retention: retention,
		cron:      cron.New(),
		logger:    infra.LoggerOrDiscard(logger),
		now:       time.Now,
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.Sweep() }); err != nil {
		return nil, fmt.Errorf("jobs: retention schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Sweep removes expired jobs and returns how many were dropped.
func (j *Janitor) Sweep() int {
	removed := j.store.Prune(j.now().Add(-j.retention))
	if len(removed) > 0 {
		j.logger.Info().
			Int("jobs", len(removed)).
			Dur("retention", j.retention).
			Msg("janitor: pruned finished jobs")
	}
	return len(removed)
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running sweep to finish.
func (j *Janitor) Run(ctx context.Context) error {
	j.cron.Start()
	<-ctx.Done()
	<-j.cron.Stop().Done()
	return nil
}
