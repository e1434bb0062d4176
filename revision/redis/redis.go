// Package redis stores revision counters in Redis and publishes every bump
// on a pub/sub channel.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/entitle/revision"
)

// DefaultChannel is the pub/sub channel bumps are published on.
const DefaultChannel = "entitle:revisions"

// Counter is a revision.Counter backed by Redis INCR.
type Counter struct {
	client  goredis.UniversalClient
	prefix  string
	channel string
	logger  *slog.Logger
}

// Option configures a Counter.
type Option func(*Counter)

// WithPrefix namespaces counter keys.
func WithPrefix(prefix string) Option {
	return func(c *Counter) { c.prefix = prefix }
}

// WithChannel sets the pub/sub channel.
func WithChannel(channel string) Option {
	return func(c *Counter) { c.channel = channel }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Counter) { c.logger = logger }
}

// New returns a Counter using client.
func New(client goredis.UniversalClient, opts ...Option) *Counter {
	c := &Counter{
		client:  client,
		prefix:  "entitle:rev:",
		channel: DefaultChannel,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bump implements revision.Counter.
func (c *Counter) Bump(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	pipe := c.client.TxPipeline()
	cmds := make([]*goredis.IntCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.Incr(ctx, c.prefix+k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("revision: incr: %w", err)
	}

	for i, k := range keys {
		payload, err := json.Marshal(revision.Bump{Key: k, Revision: cmds[i].Val()})
		if err != nil {
			return fmt.Errorf("revision: encode bump: %w", err)
		}
		if err := c.client.Publish(ctx, c.channel, payload).Err(); err != nil {
			c.logger.Warn("revision publish failed", "key", k, "error", err)
		}
	}
	return nil
}

// Get implements revision.Counter.
func (c *Counter) Get(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Get(ctx, c.prefix+key).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("revision: get %s: %w", key, err)
	}
	return n, nil
}

// Subscribe streams bumps until ctx is done. The returned channel is
// closed when the subscription ends.
func (c *Counter) Subscribe(ctx context.Context) (<-chan revision.Bump, error) {
	sub := c.client.Subscribe(ctx, c.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close() //nolint:errcheck // subscription failed anyway
		return nil, fmt.Errorf("revision: subscribe: %w", err)
	}

	out := make(chan revision.Bump)
	go func() {
		defer close(out)
		defer sub.Close() //nolint:errcheck // best-effort close on shutdown

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var b revision.Bump
				if err := json.Unmarshal([]byte(msg.Payload), &b); err != nil {
					c.logger.Warn("revision: bad bump payload", "error", err)
					continue
				}
				select {
				case out <- b:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var _ revision.Counter = (*Counter)(nil)
