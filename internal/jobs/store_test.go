package jobs

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateway/internal/domain"
)

func seedJob(id string, kind domain.Kind, status domain.Status, created time.Time) domain.Job {
	job := domain.Job{ID: id, Kind: kind, Mode: domain.ModeMock, Status: status, CreatedAt: created, Payload: []byte(`{}`)}
	if status.Terminal() {
		done := created.Add(time.Second)
		job.CompletedAt = &done
	}
	return job
}

func TestStoreSnapshotsAreIsolated(t *testing.T) {
	s := NewStore()
	job := seedJob("a", domain.KindImage, domain.StatusSucceeded, time.Now())
	job.Result = &domain.Result{Files: []string{"images/a/1.png"}}
	require.NoError(t, s.Insert(job))

	got, err := s.Get("a")
	require.NoError(t, err)
	got.Result.Files[0] = "tampered"
	got.Payload[0] = 'x'

	again, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "images/a/1.png", again.Result.Files[0])
	assert.Equal(t, `{}`, string(again.Payload))

	assert.Error(t, s.Insert(job), "duplicate ids are rejected")
	_, err = s.Get("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStoreListFiltersAndPaginates(t *testing.T) {
	s := NewStore()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		kind := domain.KindChat
		if i%2 == 0 {
			kind = domain.KindImage
		}
		require.NoError(t, s.Insert(seedJob(fmt.Sprintf("job-%02d", i), kind, domain.StatusQueued, base.Add(time.Duration(i)*time.Minute))))
	}

	page, total := s.List(Filter{})
	assert.Equal(t, 25, total)
	require.Len(t, page, DefaultPageSize)
	assert.Equal(t, "job-24", page[0].ID, "newest first")

	page, total = s.List(Filter{Kind: domain.KindImage, Page: 2, PageSize: 5})
	assert.Equal(t, 13, total)
	require.Len(t, page, 5)
	assert.Equal(t, "job-14", page[0].ID)

	page, total = s.List(Filter{Page: 9, PageSize: 10})
	assert.Equal(t, 25, total)
	assert.Empty(t, page)

	_, total = s.List(Filter{Status: domain.StatusFailed})
	assert.Zero(t, total)
}

func TestFilterNormalize(t *testing.T) {
	f := Filter{Page: -1, PageSize: 1000}
	f.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, MaxPageSize, f.PageSize)
}

func TestStorePruneKeepsActiveJobs(t *testing.T) {
	s := NewStore()
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.Insert(seedJob("old-done", domain.KindChat, domain.StatusSucceeded, old)))
	require.NoError(t, s.Insert(seedJob("old-queued", domain.KindChat, domain.StatusQueued, old)))
	require.NoError(t, s.Insert(seedJob("fresh", domain.KindChat, domain.StatusFailed, time.Now())))

	removed := s.Prune(time.Now().Add(-24 * time.Hour))
	assert.Equal(t, []string{"old-done"}, removed)
	assert.Equal(t, 2, s.Len())
}

func TestStoreRestoreSkipsUnfinishedAndKnownJobs(t *testing.T) {
	s := NewStore()
	now := time.Now()
	require.NoError(t, s.Insert(seedJob("known", domain.KindChat, domain.StatusQueued, now)))

	n := s.Restore([]domain.Job{
		seedJob("known", domain.KindChat, domain.StatusSucceeded, now),
		seedJob("stale-running", domain.KindChat, domain.StatusRunning, now),
		seedJob("archived", domain.KindVideo, domain.StatusCancelled, now),
	})
	assert.Equal(t, 1, n)
	counts := s.Counts()
	assert.Equal(t, 1, counts[domain.StatusQueued])
	assert.Equal(t, 1, counts[domain.StatusCancelled])
	assert.Equal(t, 0, counts[domain.StatusRunning])
}

func TestStoreClose(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Insert(seedJob("a", domain.KindChat, domain.StatusQueued, time.Now())))
	s.Close()
	assert.Equal(t, 0, s.Len())
	assert.ErrorIs(t, s.Insert(seedJob("b", domain.KindChat, domain.StatusQueued, time.Now())), ErrStoreClosed)
	_, _, err := s.Update("a", func(*domain.Job) bool { return true })
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestJanitorSweep(t *testing.T) {
	s := NewStore()
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, s.Insert(seedJob("old", domain.KindChat, domain.StatusSucceeded, old)))
	require.NoError(t, s.Insert(seedJob("new", domain.KindChat, domain.StatusSucceeded, time.Now())))

	j, err := NewJanitor(s, time.Hour, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, j.Sweep())
	_, err = s.Get("old")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = NewJanitor(s, time.Hour, "not a schedule", nil)
	assert.Error(t, err)
	_, err = NewJanitor(s, 0, "", nil)
	assert.Error(t, err)
}
