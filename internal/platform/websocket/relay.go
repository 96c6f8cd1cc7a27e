package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultRelayChannel = "carelink:events"

type relayEnvelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisRelay shares hub events between instances over Redis pub/sub. Each
// instance ignores the envelopes it published itself.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	origin  string
	logger  zerolog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewRedisRelay(client redis.UniversalClient, logger zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: defaultRelayChannel,
		origin:  uuid.NewString(),
		logger:  logger,
	}
}

// Start subscribes and delivers remote events until ctx ends or Close is called.
func (r *RedisRelay) Start(ctx context.Context, deliver func(Event)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		return fmt.Errorf("relay already started")
	}

	ps := r.client.Subscribe(ctx, r.channel)
	// Wait for the subscription confirmation so events published right after
	// Start returns are not missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.pubsub = ps
	r.done = make(chan struct{})

	go r.loop(ctx, ps.Channel(), deliver, r.done)
	return nil
}

func (r *RedisRelay) loop(ctx context.Context, msgs <-chan *redis.Message, deliver func(Event), done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn().Err(err).Msg("relay: malformed envelope")
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			deliver(env.Event)
		}
	}
}

// Forward publishes a locally produced event for the other instances.
func (r *RedisRelay) Forward(ctx context.Context, event Event) error {
	payload, err := json.Marshal(relayEnvelope{Origin: r.origin, Event: event})
	if err != nil {
		return fmt.Errorf("relay encode: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// Close unsubscribes and waits for the delivery loop to exit.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	ps, done := r.pubsub, r.done
	r.pubsub = nil
	r.mu.Unlock()

	if ps == nil {
		return nil
	}
	err := ps.Close()
	<-done
	return err
}
