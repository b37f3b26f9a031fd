package repo

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateway/internal/domain"
)

func finishedJob(id string, status domain.Status, completed time.Time) domain.Job {
	created := completed.Add(-3 * time.Second)
	started := completed.Add(-2 * time.Second)
	job := domain.Job{
		ID:          id,
		Kind:        domain.KindImage,
		Mode:        domain.ModeMock,
		Status:      status,
		Progress:    40,
		Payload:     json.RawMessage(`{"prompt":"harbor"}`),
		CreatedAt:   created,
		StartedAt:   &started,
		CompletedAt: &completed,
	}
	switch status {
	case domain.StatusSucceeded:
		job.Progress = 100
		job.Result = &domain.Result{Files: []string{"images/" + id + "/a.png"}}
	case domain.StatusFailed:
		job.Error = &domain.ErrorInfo{Kind: domain.KindUnavailable, Message: "comfyui down"}
	}
	return job
}

func TestSQLiteArchiveRoundTrip(t *testing.T) {
	archive, err := OpenJobArchiveSQLite(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	defer archive.Close()
	ctx := context.Background()
	require.NoError(t, archive.Migrate(ctx))

	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	ok := finishedJob("0f7c1b8e-2d6a-4c1e-9b9f-1a2b3c4d5e01", domain.StatusSucceeded, base)
	bad := finishedJob("0f7c1b8e-2d6a-4c1e-9b9f-1a2b3c4d5e02", domain.StatusFailed, base.Add(time.Minute))
	require.NoError(t, archive.Save(ctx, ok))
	require.NoError(t, archive.Save(ctx, bad))

	bad.ProgressMessage = "failed"
	require.NoError(t, archive.Save(ctx, bad), "saving again updates in place")

	jobs, err := archive.Load(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, bad.ID, jobs[0].ID, "most recently completed first")
	assert.Equal(t, "failed", jobs[0].ProgressMessage)
	require.NotNil(t, jobs[0].Error)
	assert.Equal(t, domain.KindUnavailable, jobs[0].Error.Kind)
	assert.Nil(t, jobs[0].Result)

	assert.Equal(t, domain.StatusSucceeded, jobs[1].Status)
	require.NotNil(t, jobs[1].Result)
	assert.Equal(t, ok.Result.Files, jobs[1].Result.Files)
	assert.JSONEq(t, `{"prompt":"harbor"}`, string(jobs[1].Payload))
	assert.True(t, jobs[1].CompletedAt.Equal(base))

	limited, err := archive.Load(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

type fakeExecutor struct {
	query string
	args  []any
	rows  pgx.Rows
}

func (f *fakeExecutor) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	f.query, f.args = query, args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeExecutor) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func (f *fakeExecutor) Query(_ context.Context, query string, args ...any) (pgx.Rows, error) {
	f.query, f.args = query, args
	if f.rows == nil {
		return nil, errors.New("no rows configured")
	}
	return f.rows, nil
}

// sliceRows replays prepared values through pgx.Rows.Scan.
type sliceRows struct {
	pgx.Rows
	data [][]any
	pos  int
}

func (r *sliceRows) Next() bool {
	r.pos++
	return r.pos <= len(r.data)
}

func (r *sliceRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row[i].(string)
		case *int:
			*p = row[i].(int)
		case *[]byte:
			if row[i] != nil {
				*p = row[i].([]byte)
			}
		case *time.Time:
			*p = row[i].(time.Time)
		case **time.Time:
			if row[i] != nil {
				v := row[i].(time.Time)
				*p = &v
			}
		default:
			return errors.New("unsupported scan target")
		}
	}
	return nil
}

func (r *sliceRows) Err() error { return nil }
func (r *sliceRows) Close()     {}

func TestPGArchiveSaveBindsColumns(t *testing.T) {
	exec := &fakeExecutor{}
	job := finishedJob("7c9e6679-7425-40de-944b-e07fc1f90ae7", domain.StatusFailed, time.Now())
	require.NoError(t, NewJobArchivePG(exec).Save(context.Background(), job))

	assert.True(t, strings.HasPrefix(exec.query, "--sql "))
	require.Len(t, exec.args, 12)
	assert.Equal(t, job.ID, exec.args[0])
	assert.Equal(t, "failed", exec.args[3])
	assert.Nil(t, exec.args[7], "failed jobs have no result")
	assert.JSONEq(t, `{"kind":"unavailable","message":"comfyui down"}`, string(exec.args[8].([]byte)))
}

func TestPGArchiveLoadDecodesRows(t *testing.T) {
	completed := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	exec := &fakeExecutor{rows: &sliceRows{data: [][]any{{
		"7c9e6679-7425-40de-944b-e07fc1f90ae7", "chat", "mock", "succeeded", 100, "completed",
		[]byte(`{"messages":[]}`), []byte(`{"text":"hi"}`), nil,
		completed.Add(-time.Second), completed.Add(-time.Second), completed,
	}}}}

	jobs, err := NewJobArchivePG(exec).Load(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, []any{5}, exec.args)
	assert.Equal(t, domain.KindChat, jobs[0].Kind)
	assert.Equal(t, domain.StatusSucceeded, jobs[0].Status)
	require.NotNil(t, jobs[0].Result)
	assert.Equal(t, "hi", jobs[0].Result.Text)
	assert.Nil(t, jobs[0].Error)
	require.NotNil(t, jobs[0].CompletedAt)
	assert.True(t, jobs[0].CompletedAt.Equal(completed))
}
