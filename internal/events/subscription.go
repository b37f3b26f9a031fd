package events

import (
	"sync"
	"sync/atomic"
)

// Subscription is a bounded, ordered stream of events for one consumer.
// When the consumer falls behind, the oldest buffered event is discarded
// and Dropped increases; the consumer should then refetch a snapshot.
type Subscription struct {
	id    uint64
	jobID string
	ch    chan Event

	mu     sync.Mutex
	closed bool

	dropped atomic.Uint64
}

func newSubscription(id uint64, jobID string, buffer int) *Subscription {
	return &Subscription{id: id, jobID: jobID, ch: make(chan Event, buffer)}
}

// Events returns the receive side of the stream. It is closed when the
// subscription ends.
func (s *Subscription) Events() <-chan Event { return s.ch }

// JobID returns the job the subscription is scoped to, or "" for all jobs.
func (s *Subscription) JobID() string { return s.jobID }

// Dropped returns how many events were discarded for this subscriber.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Closed reports whether the stream has ended.
func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// deliver enqueues evt without blocking, evicting the oldest buffered
// events when full. Job-scoped streams end after their terminal event.
// It returns how many events were evicted.
func (s *Subscription) deliver(evt Event) (evicted int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	for {
		select {
		case s.ch <- evt:
			if s.jobID != "" && evt.Terminal() {
				s.closeLocked()
			}
			return evicted
		default:
		}
		select {
		case <-s.ch:
			evicted++
			s.dropped.Add(1)
		default:
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
