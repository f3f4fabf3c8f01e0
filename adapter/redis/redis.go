// Package redis publishes merge completion events with Redis PUBLISH.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/coalesce/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "coalesce:merge_completed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the Redis adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel (default coalesce:merge_completed).
	Channel string
	// Encoding is "json" (default) or "msgpack".
	Encoding string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retries after the first attempt.
	Retries int
	// Backoff is the delay before the first retry (default 500ms).
	Backoff time.Duration
}

// Adapter publishes events to a Redis channel.
type Adapter struct {
	config Config
	client *goredis.Client
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates a Redis adapter. It does not dial until the first publish.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Encoding == "" {
		cfg.Encoding = adapter.EncodingJSON
	}
	if cfg.Encoding != adapter.EncodingJSON && cfg.Encoding != adapter.EncodingMsgpack {
		return nil, fmt.Errorf("redis adapter: unknown encoding %q", cfg.Encoding)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = adapter.DefaultBackoff
	}

	return &Adapter{config: cfg, client: goredis.NewClient(opts)}, nil
}

// Publish encodes the event and publishes it, retrying failures.
func (a *Adapter) Publish(ctx context.Context, event *adapter.MergeCompletedEvent) error {
	body, err := adapter.Encode(event, a.config.Encoding)
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}

	err = adapter.Retry(ctx, a.config.Retries, a.config.Backoff, func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		return a.client.Publish(publishCtx, a.config.Channel, body).Err()
	})
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// Close releases the client.
func (a *Adapter) Close() error {
	return a.client.Close()
}
