package repo

import (
	"context"
	"fmt"

	"gateway/internal/domain"
	"gateway/internal/infra"
	"gateway/internal/sqlinline"
)

// JobArchivePG keeps finished jobs in PostgreSQL.
type JobArchivePG struct {
	db infra.SQLExecutor
}

// NewJobArchivePG creates an archive that runs marked queries through db,
// normally an *infra.SQLRunner.
func NewJobArchivePG(db infra.SQLExecutor) *JobArchivePG {
	return &JobArchivePG{db: db}
}

// Migrate creates the archive table when missing.
func (r *JobArchivePG) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, sqlinline.QArchiveEnsureSchema); err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	return nil
}

// Save upserts a job snapshot.
func (r *JobArchivePG) Save(ctx context.Context, job domain.Job) error {
	cols, err := encodeJob(job)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	_, err = r.db.Exec(ctx, sqlinline.QArchiveUpsertJob,
		job.ID,
		string(job.Kind),
		string(job.Mode),
		string(job.Status),
		job.Progress,
		job.ProgressMessage,
		cols.payload,
		cols.result,
		cols.errInfo,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("archive: save %s: %w", job.ID, err)
	}
	return nil
}

// Load returns up to limit jobs, most recently completed first.
func (r *JobArchivePG) Load(ctx context.Context, limit int) ([]domain.Job, error) {
	rows, err := r.db.Query(ctx, sqlinline.QArchiveRecentJobs, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: load: %w", err)
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		var (
			job                domain.Job
			kind, mode, status string
			cols               archiveColumns
		)
		if err := rows.Scan(
			&job.ID,
			&kind,
			&mode,
			&status,
			&job.Progress,
			&job.ProgressMessage,
			&cols.payload,
			&cols.result,
			&cols.errInfo,
			&job.CreatedAt,
			&job.StartedAt,
			&job.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("archive: scan: %w", err)
		}
		job.Kind, job.Mode, job.Status = domain.Kind(kind), domain.Mode(mode), domain.Status(status)
		if err := decodeJob(&job, cols); err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: load: %w", err)
	}
	return out, nil
}
