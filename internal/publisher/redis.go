package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/IshaanNene/reviewgoat/internal/config"
	"github.com/IshaanNene/reviewgoat/internal/types"
)

const publishTimeout = 2 * time.Second

// RedisPublisher appends every record to a Redis stream so downstream
// consumers can follow a run live. Publishing is best effort and never
// affects the run.
type RedisPublisher struct {
	client   *redis.Client
	stream   string
	maxLen   int64
	logger   *slog.Logger
	failures atomic.Int64
}

// NewRedisPublisher creates a publisher for cfg. It does not connect until
// the first command.
func NewRedisPublisher(cfg config.PublisherConfig, logger *slog.Logger) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	return &RedisPublisher{
		client: client,
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
		logger: logger.With("component", "publisher", "stream", cfg.Stream),
	}
}

// Ping checks that Redis is reachable.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Publish adds rec to the stream, trimming it approximately to the
// configured length.
func (p *RedisPublisher) Publish(ctx context.Context, rec types.Record) error {
	values, err := encode(rec)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return p.client.XAdd(ctx, args).Err()
}

// Handle is an engine record callback. Failures are counted and logged;
// the first one at warn level, later ones at debug.
func (p *RedisPublisher) Handle(rec types.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.Publish(ctx, rec); err != nil {
		if p.failures.Add(1) == 1 {
			p.logger.Warn("publish failed", "key", rec.Key(), "error", err)
		} else {
			p.logger.Debug("publish failed", "key", rec.Key(), "error", err)
		}
	}
}

// Failures returns the number of records that could not be published.
func (p *RedisPublisher) Failures() int64 { return p.failures.Load() }

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func encode(rec types.Record) (map[string]any, error) {
	var kind string
	switch rec.(type) {
	case types.ReviewRow:
		kind = "review"
	case types.ProductRow:
		kind = "product"
	default:
		return nil, fmt.Errorf("publisher: unsupported record %T", rec)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("publisher: encode %s: %w", rec.Key(), err)
	}
	return map[string]any{
		"kind":    kind,
		"key":     rec.Key(),
		"payload": string(payload),
	}, nil
}
