package jobs

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gateway/internal/domain"
)

const (
	// DefaultPageSize is used when a listing omits page_size.
	DefaultPageSize = 20
	// MaxPageSize caps page_size for listings.
	MaxPageSize = 100
)

// ErrStoreClosed is returned by mutations after Close.
var ErrStoreClosed = errors.New("jobs: store closed")

// Filter narrows a listing. Zero values match everything.
type Filter struct {
	Status   domain.Status
	Kind     domain.Kind
	Mode     domain.Mode
	Page     int
	PageSize int
}

// Normalize clamps pagination to supported bounds.
func (f *Filter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
}

func (f Filter) matches(j *domain.Job) bool {
	return (f.Status == "" || j.Status == f.Status) &&
		(f.Kind == "" || j.Kind == f.Kind) &&
		(f.Mode == "" || j.Mode == f.Mode)
}

// Store owns every job record held by the process. Callers only ever see
// snapshots; mutation goes through Update.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]*domain.Job
	closed bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]*domain.Job)}
}

// Insert adds a new record.
func (s *Store) Insert(job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("jobs: duplicate id %s", job.ID)
	}
	rec := job.Snapshot()
	s.jobs[job.ID] = &rec
	return nil
}

// Get returns a snapshot of the record or domain.ErrNotFound.
func (s *Store) Get(id string) (domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return rec.Snapshot(), nil
}

// Update applies fn to the live record under the write lock. fn reports
// whether it changed anything. The returned snapshot reflects the record
// after fn ran.
func (s *Store) Update(id string, fn func(*domain.Job) bool) (domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.Job{}, false, ErrStoreClosed
	}
	rec, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	changed := fn(rec)
	return rec.Snapshot(), changed, nil
}

// List returns the page of matching records, newest first, and the total
// number of matches.
func (s *Store) List(f Filter) ([]domain.Job, int) {
	f.Normalize()
	s.mu.RLock()
	matched := make([]*domain.Job, 0, len(s.jobs))
	for _, rec := range s.jobs {
		if f.matches(rec) {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := min((f.Page-1)*f.PageSize, total)
	end := min(start+f.PageSize, total)
	out := make([]domain.Job, 0, end-start)
	for _, rec := range matched[start:end] {
		out = append(out, rec.Snapshot())
	}
	s.mu.RUnlock()
	return out, total
}

// Counts returns the number of records per status.
func (s *Store) Counts() map[domain.Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[domain.Status]int{
		domain.StatusQueued:    0,
		domain.StatusRunning:   0,
		domain.StatusSucceeded: 0,
		domain.StatusFailed:    0,
		domain.StatusCancelled: 0,
	}
	for _, rec := range s.jobs {
		out[rec.Status]++
	}
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Prune removes finished records completed before cutoff and returns their ids.
func (s *Store) Prune(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for id, rec := range s.jobs {
		if rec.Status.Terminal() && rec.CompletedAt != nil && rec.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// Restore loads finished records from an archive. Unfinished or already
// present records are skipped. It returns how many were added.
func (s *Store) Restore(jobs []domain.Job) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	n := 0
	for _, job := range jobs {
		if !job.Status.Terminal() {
			continue
		}
		if _, exists := s.jobs[job.ID]; exists {
			continue
		}
		rec := job.Snapshot()
		s.jobs[job.ID] = &rec
		n++
	}
	return n
}

// Close releases every record. Reads after Close see an empty store.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.jobs = make(map[string]*domain.Job)
}
