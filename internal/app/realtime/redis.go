package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/clothbridge/clothbridge/pkg/logger"
)

// envelope is the wire form on the Redis channel.
type envelope struct {
	Origin     string          `json:"origin"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	At         time.Time       `json:"at"`
	Recipients []string        `json:"recipients"`
}

// RedisBridge publishes events to a Redis channel and replays events from
// other instances into the local hub.
type RedisBridge struct {
	client  *redis.Client
	channel string
	hub     Publisher
	log     *logger.Logger
	origin  string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Publisher = (*RedisBridge)(nil)

// NewRedisBridge wraps client. Local delivery goes through hub.
func NewRedisBridge(client *redis.Client, channel string, hub Publisher, log *logger.Logger) *RedisBridge {
	if log == nil {
		log = logger.NewDefault("realtime-redis")
	}
	return &RedisBridge{
		client:  client,
		channel: channel,
		hub:     hub,
		log:     log,
		origin:  uuid.NewString(),
	}
}

func (b *RedisBridge) Name() string { return "realtime-redis" }

// Publish delivers locally first, then announces e to other instances.
func (b *RedisBridge) Publish(ctx context.Context, e Event) {
	b.hub.Publish(ctx, e)

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		b.log.WithError(err).Error("marshal realtime payload")
		return
	}
	msg, err := json.Marshal(envelope{
		Origin:     b.origin,
		Type:       e.Type,
		Payload:    payload,
		At:         e.At,
		Recipients: e.Recipients,
	})
	if err != nil {
		b.log.WithError(err).Error("marshal realtime envelope")
		return
	}
	if err := b.client.Publish(ctx, b.channel, msg).Err(); err != nil {
		b.log.WithError(err).WithField("channel", b.channel).Warn("redis publish failed")
	}
}

// Start subscribes and waits for the subscription to be confirmed.
func (b *RedisBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return nil
	}

	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.loop(runCtx, sub)
	b.log.WithField("channel", b.channel).Info("realtime redis bridge subscribed")
	return nil
}

func (b *RedisBridge) loop(ctx context.Context, sub *redis.PubSub) {
	defer close(b.done)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.deliver(ctx, msg.Payload)
		}
	}
}

func (b *RedisBridge) deliver(ctx context.Context, raw string) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		b.log.WithError(err).Warn("drop malformed realtime envelope")
		return
	}
	if env.Origin == b.origin {
		return
	}
	b.hub.Publish(ctx, Event{
		Type:       env.Type,
		Payload:    env.Payload,
		At:         env.At,
		Recipients: env.Recipients,
	})
}

// Stop ends the subscription.
func (b *RedisBridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel = nil
	b.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.client.Close()
}
