package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/machinat/sociably-sub013/internal/domain"
)

// Default keys used by the server.
const (
	DefaultStream  = "sociably:outcomes"
	DefaultChannel = "sociably:outcomes:live"
)

// RedisNotifier implements domain.OutcomeNotifier on Redis. Every settled
// submission is appended to a stream, kept as a short journal, and
// published on a Pub/Sub channel for live listeners.
type RedisNotifier struct {
	client  *redis.Client
	stream  string
	channel string
	logger  *slog.Logger
}

// Ensure RedisNotifier satisfies the interface
var _ domain.OutcomeNotifier = (*RedisNotifier)(nil)

// Option configures a RedisNotifier.
type Option func(*RedisNotifier)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *RedisNotifier) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithKeys overrides the journal stream and the live channel.
func WithKeys(stream, channel string) Option {
	return func(r *RedisNotifier) {
		if stream != "" {
			r.stream = stream
		}
		if channel != "" {
			r.channel = channel
		}
	}
}

// Dial connects to Redis at addr and checks the connection.
func Dial(ctx context.Context, addr string, opts ...Option) (*RedisNotifier, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	// Fail-fast ping check
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return New(rdb, opts...), nil
}

// New wraps an existing client.
func New(client *redis.Client, opts ...Option) *RedisNotifier {
	r := &RedisNotifier{
		client:  client,
		stream:  DefaultStream,
		channel: DefaultChannel,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish appends n to the journal with XADD and publishes it live.
func (r *RedisNotifier) Publish(ctx context.Context, n domain.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"request_id": n.RequestID,
			"outcome":    data,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis journal append failed: %w", err)
	}

	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Subscribe streams every notification published after the subscription
// is confirmed. The channel is closed when ctx is done.
func (r *RedisNotifier) Subscribe(ctx context.Context) (<-chan domain.Notification, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)

	// Wait for confirmation that we are subscribed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to outcomes: %w", err)
	}

	outCh := make(chan domain.Notification)

	go func() {
		defer close(outCh)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var n domain.Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					r.logger.Error("Failed to unmarshal notification", "error", err)
					continue
				}

				select {
				case outCh <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return outCh, nil
}

// History returns up to count journaled notifications, newest first.
func (r *RedisNotifier) History(ctx context.Context, count int64) ([]domain.Notification, error) {
	msgs, err := r.client.XRevRangeN(ctx, r.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("redis journal read failed: %w", err)
	}

	out := make([]domain.Notification, 0, len(msgs))
	for _, msg := range msgs {
		val, ok := msg.Values["outcome"].(string)
		if !ok {
			r.logger.Error("Invalid journal entry", "msgID", msg.ID)
			continue
		}
		var n domain.Notification
		if err := json.Unmarshal([]byte(val), &n); err != nil {
			r.logger.Error("Failed to unmarshal journal entry", "msgID", msg.ID, "error", err)
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Close releases the Redis connection.
func (r *RedisNotifier) Close() error {
	return r.client.Close()
}
