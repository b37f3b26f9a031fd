package repo

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"gateway/internal/domain"
)

// archivedJob is the gorm model behind the SQLite archive.
type archivedJob struct {
	ID              string `gorm:"primaryKey;size:36"`
	Kind            string `gorm:"size:16;index;not null"`
	Mode            string `gorm:"size:16;not null"`
	Status          string `gorm:"size:16;index;not null"`
	Progress        int    `gorm:"default:0"`
	ProgressMessage string
	RequestPayload  []byte
	Result          []byte
	Error           []byte
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time `gorm:"index"`
}

func (archivedJob) TableName() string { return "job_archive" }

// JobArchiveSQLite keeps finished jobs in a SQLite file through gorm.
type JobArchiveSQLite struct {
	db *gorm.DB
}

// OpenJobArchiveSQLite opens (creating if needed) the database at path.
func OpenJobArchiveSQLite(path string) (*JobArchiveSQLite, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("archive: open sqlite %s: %w", path, err)
	}
	return NewJobArchiveSQLite(db), nil
}

// NewJobArchiveSQLite wraps an existing gorm handle.
func NewJobArchiveSQLite(db *gorm.DB) *JobArchiveSQLite {
	return &JobArchiveSQLite{db: db}
}

// Migrate creates or updates the archive table.
func (r *JobArchiveSQLite) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&archivedJob{}); err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	return nil
}

// Save upserts a job snapshot.
func (r *JobArchiveSQLite) Save(ctx context.Context, job domain.Job) error {
	cols, err := encodeJob(job)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	row := archivedJob{
		ID:              job.ID,
		Kind:            string(job.Kind),
		Mode:            string(job.Mode),
		Status:          string(job.Status),
		Progress:        job.Progress,
		ProgressMessage: job.ProgressMessage,
		RequestPayload:  cols.payload,
		Result:          cols.result,
		Error:           cols.errInfo,
		CreatedAt:       job.CreatedAt,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("archive: save %s: %w", job.ID, err)
	}
	return nil
}

// Load returns up to limit jobs, most recently completed first.
func (r *JobArchiveSQLite) Load(ctx context.Context, limit int) ([]domain.Job, error) {
	var rows []archivedJob
	err := r.db.WithContext(ctx).
		Order("completed_at desc").
		Order("created_at desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("archive: load: %w", err)
	}

	out := make([]domain.Job, 0, len(rows))
	for _, row := range rows {
		job := domain.Job{
			ID:              row.ID,
			Kind:            domain.Kind(row.Kind),
			Mode:            domain.Mode(row.Mode),
			Status:          domain.Status(row.Status),
			Progress:        row.Progress,
			ProgressMessage: row.ProgressMessage,
			CreatedAt:       row.CreatedAt.UTC(),
			StartedAt:       utcPtr(row.StartedAt),
			CompletedAt:     utcPtr(row.CompletedAt),
		}
		if err := decodeJob(&job, archiveColumns{payload: row.RequestPayload, result: row.Result, errInfo: row.Error}); err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		out = append(out, job)
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (r *JobArchiveSQLite) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
