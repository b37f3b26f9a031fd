package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"gateway/internal/infra"
)

// Publisher ships serialized events to an external broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes events on a Redis pub/sub channel.
type RedisPublisher struct {
	client redisPublisher
}

// NewRedisPublisher wraps a go-redis client (or any type exposing Publish).
func NewRedisPublisher(client redisPublisher) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("events: redis publish: %w", err)
	}
	return nil
}

type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes events on a NATS subject.
type NATSPublisher struct {
	conn natsPublisher
}

// NewNATSPublisher wraps a NATS connection.
func NewNATSPublisher(conn natsPublisher) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(_ context.Context, subject string, payload []byte) error {
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("events: nats publish: %w", err)
	}
	return nil
}

var (
	_ natsPublisher  = (*nats.Conn)(nil)
	_ redisPublisher = (*redis.Client)(nil)
)

// Relay mirrors hub events to an external broker from its own goroutine.
// It is a hub Sink: Forward queues without blocking and counts overflow.
type Relay struct {
	pub     Publisher
	topic   string
	ch      chan Event
	logger  *infra.Logger
	dropped atomic.Uint64
	sent    atomic.Uint64
}

// NewRelay builds a relay with the given queue capacity.
func NewRelay(pub Publisher, topic string, buffer int, logger *infra.Logger) *Relay {
	if buffer <= 0 {
		buffer = 256
	}
	return &Relay{
		pub:    pub,
		topic:  topic,
		ch:     make(chan Event, buffer),
		logger: infra.LoggerOrDiscard(logger),
	}
}

// Forward implements Sink.
func (r *Relay) Forward(evt Event) {
	select {
	case r.ch <- evt:
	default:
		r.dropped.Add(1)
	}
}

// Run publishes queued events until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-r.ch:
			payload, err := json.Marshal(evt)
			if err != nil {
				r.logger.Error().Err(err).Str("job_id", evt.JobID).Msg("events: encode relay payload")
				continue
			}
			if err := r.pub.Publish(ctx, r.topic, payload); err != nil {
				r.logger.Warn().Err(err).Str("job_id", evt.JobID).Str("topic", r.topic).Msg("events: relay publish failed")
				continue
			}
			r.sent.Add(1)
		}
	}
}

// Sent returns how many events reached the broker.
func (r *Relay) Sent() uint64 { return r.sent.Load() }

// Dropped returns how many events were discarded because the queue was full.
func (r *Relay) Dropped() uint64 { return r.dropped.Load() }
