package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/HammerMeetNail/quizduel/internal/logging"
)

// RedisFeed carries changes over Redis pub/sub so every API instance sees
// writes made by the others.
type RedisFeed struct {
	client *redis.Client
	logger *logging.Logger
}

func NewRedisFeed(client *redis.Client, logger *logging.Logger) *RedisFeed {
	if logger == nil {
		logger = logging.Default
	}
	return &RedisFeed{client: client, logger: logger.WithField("component", "redis_feed")}
}

func (f *RedisFeed) Publish(ctx context.Context, change Change) error {
	data, err := encodeChange(change)
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, RedisChannel(change.Collection), data).Err(); err != nil {
		return fmt.Errorf("publishing change: %w", err)
	}
	return nil
}

func (f *RedisFeed) Subscribe(ctx context.Context, collection string, fn Handler) (Subscription, error) {
	pubsub := f.client.Subscribe(ctx, RedisChannel(collection))

	// Wait for the subscription confirmation so no change published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", collection, err)
	}

	sub := &redisSubscription{pubsub: pubsub, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		f.deliver(pubsub.Channel(), fn)
	}()
	return sub, nil
}

// deliver hands decoded changes to fn until ch is closed. Payloads that do
// not decode are logged and dropped.
func (f *RedisFeed) deliver(ch <-chan *redis.Message, fn Handler) {
	for msg := range ch {
		change, err := decodeChange([]byte(msg.Payload))
		if err != nil {
			f.logger.Warn("Dropping malformed change", map[string]interface{}{
				"channel": msg.Channel,
				"error":   err.Error(),
			})
			continue
		}
		fn(change)
	}
}

func (f *RedisFeed) Health(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

// Close is a no-op: the client is owned by the caller.
func (f *RedisFeed) Close() error {
	return nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *redisSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.err = s.pubsub.Close()
		<-s.done
	})
	return s.err
}
