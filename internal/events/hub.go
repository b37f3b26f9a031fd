package events

import (
	"sync"
	"sync/atomic"
	"time"

	"gateway/internal/infra"
)

// DefaultBufferSize is the per-subscriber buffer used when none is configured.
const DefaultBufferSize = 64

// Sink receives a copy of every published event. Forward must not block.
type Sink interface {
	Forward(evt Event)
}

// Options configures a Hub.
type Options struct {
	BufferSize int
	Sinks      []Sink
	Logger     *infra.Logger
}

// Stats summarizes hub activity.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// Hub fans job events out to subscribers scoped to all jobs or to a single
// job. Publish never blocks on a subscriber.
type Hub struct {
	bufferSize int
	sinks      []Sink
	logger     *infra.Logger

	mu     sync.RWMutex
	nextID uint64
	all    map[uint64]*Subscription
	byJob  map[string]map[uint64]*Subscription
	closed bool

	seq       atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub constructs an empty hub.
func NewHub(opts Options) *Hub {
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Hub{
		bufferSize: size,
		sinks:      opts.Sinks,
		logger:     infra.LoggerOrDiscard(opts.Logger),
		all:        make(map[uint64]*Subscription),
		byJob:      make(map[string]map[uint64]*Subscription),
	}
}

func (h *Hub) stamp(evt Event) Event {
	evt.Seq = h.seq.Add(1)
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}
	return evt
}

// Publish stamps evt with the next sequence number and delivers it to every
// matching subscriber. Streams scoped to the event's job end after a
// terminal event.
func (h *Hub) Publish(evt Event) Event {
	evt = h.stamp(evt)
	h.published.Add(1)

	h.mu.RLock()
	for _, sub := range h.all {
		h.countDrops(sub, sub.deliver(evt))
	}
	for _, sub := range h.byJob[evt.JobID] {
		h.countDrops(sub, sub.deliver(evt))
	}
	h.mu.RUnlock()

	if evt.Terminal() {
		h.mu.Lock()
		delete(h.byJob, evt.JobID)
		h.mu.Unlock()
	}

	for _, sink := range h.sinks {
		sink.Forward(evt)
	}
	return evt
}

func (h *Hub) countDrops(sub *Subscription, n int) {
	if n == 0 {
		return
	}
	h.dropped.Add(uint64(n))
	h.logger.Debug().
		Uint64("subscriber", sub.id).
		Str("job_id", sub.jobID).
		Int("dropped", n).
		Msg("events: subscriber buffer full; dropped oldest")
}

// Subscribe opens a stream for jobID ("" means every job). The initial
// events are queued ahead of anything published later; if one of them is
// terminal for a job-scoped stream the subscription is returned already
// closed and never registered.
func (h *Hub) Subscribe(jobID string, initial ...Event) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := newSubscription(h.nextID, jobID, max(h.bufferSize, len(initial)))
	for _, evt := range initial {
		sub.deliver(h.stamp(evt))
	}
	if h.closed {
		sub.close()
		return sub
	}
	if sub.Closed() {
		return sub
	}

	if jobID == "" {
		h.all[sub.id] = sub
	} else {
		if h.byJob[jobID] == nil {
			h.byJob[jobID] = make(map[uint64]*Subscription)
		}
		h.byJob[jobID][sub.id] = sub
	}
	return sub
}

// Unsubscribe detaches and closes sub. It is safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if sub.jobID == "" {
		delete(h.all, sub.id)
	} else if subs := h.byJob[sub.jobID]; subs != nil {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(h.byJob, sub.jobID)
		}
	}
	h.mu.Unlock()
	sub.close()
}

// Stats returns current counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.all)
	for _, subs := range h.byJob {
		n += len(subs)
	}
	h.mu.RUnlock()
	return Stats{
		Subscribers: n,
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
	}
}

// Close ends every open stream. Later subscriptions are returned closed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.all {
		sub.close()
		delete(h.all, id)
	}
	for jobID, subs := range h.byJob {
		for _, sub := range subs {
			sub.close()
		}
		delete(h.byJob, jobID)
	}
}
