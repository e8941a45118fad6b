// Package relay fans accepted notifications out to peer instances over
// Redis pub/sub so a send reaches connections held by any instance.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"anoa.com/notifyhub/internal/realtime"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// envelope is the message published on the relay channel.
type envelope struct {
	Origin  string          `json:"origin"`
	Kind    string          `json:"kind"`
	Key     string          `json:"key,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type Relay struct {
	client     *redis.Client
	channel    string
	origin     string
	dispatcher *realtime.Dispatcher
	logger     zerolog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

func New(client *redis.Client, channel string, dispatcher *realtime.Dispatcher, logger zerolog.Logger) *Relay {
	return &Relay{
		client:     client,
		channel:    channel,
		origin:     uuid.NewString(),
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Origin identifies this instance on the relay channel.
func (r *Relay) Origin() string {
	return r.origin
}

// Publish forwards an already dispatched payload to the other instances.
func (r *Relay) Publish(ctx context.Context, target realtime.Target, payload []byte) error {
	msg, err := json.Marshal(envelope{
		Origin:  r.origin,
		Kind:    target.Kind.String(),
		Key:     target.Key,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("encode relay envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

// Start subscribes to the relay channel and returns once the subscription
// is confirmed. Messages are dispatched locally until ctx ends or Close.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		return errors.New("relay already started")
	}

	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}

	r.pubsub = pubsub
	r.done = make(chan struct{})
	go r.consume(ctx, pubsub.Channel(), r.done)

	r.logger.Info().Str("channel", r.channel).Str("origin", r.origin).Msg("relay subscribed")
	return nil
}

func (r *Relay) consume(ctx context.Context, ch <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handle(ctx, msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Relay) handle(ctx context.Context, raw string) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		r.logger.Warn().Err(err).Msg("dropping malformed relay message")
		return
	}
	if env.Origin == r.origin {
		return
	}

	target, err := parseTarget(env.Kind, env.Key)
	if err != nil {
		r.logger.Warn().Err(err).Str("origin", env.Origin).Msg("dropping relay message")
		return
	}

	report := r.dispatcher.Dispatch(ctx, target, env.Payload)
	r.logger.Debug().
		Str("origin", env.Origin).
		Str("target", target.String()).
		Int("delivered", report.Delivered).
		Msg("relayed notification dispatched")
}

// Close stops consuming and waits for the consumer to exit.
func (r *Relay) Close() error {
	r.mu.Lock()
	pubsub, done := r.pubsub, r.done
	r.pubsub = nil
	r.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}

func parseTarget(kind, key string) (realtime.Target, error) {
	switch kind {
	case realtime.TargetAll.String():
		return realtime.All(), nil
	case realtime.TargetUser.String():
		if key != "" {
			return realtime.User(key), nil
		}
	case realtime.TargetChannel.String():
		if key != "" {
			return realtime.Channel(key), nil
		}
	default:
		return realtime.Target{}, fmt.Errorf("unknown target kind %q", kind)
	}
	return realtime.Target{}, fmt.Errorf("target kind %q requires a key", kind)
}
