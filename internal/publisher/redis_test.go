package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/reviewgoat/internal/config"
	"github.com/IshaanNene/reviewgoat/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func testRow() types.ReviewRow {
	return types.ReviewRow{
		Product: types.ProductRecord{ID: "s101", Name: "Kettle", URL: "https://www.daraz.com.np/products/kettle-s101.html"},
		Review:  types.ReviewRecord{ID: "s101_review_1", Text: "Great", Rating: 5, Images: []string{}},
	}
}

func TestEncode(t *testing.T) {
	values, err := encode(testRow())
	require.NoError(t, err)
	assert.Equal(t, "review", values["kind"])
	assert.Equal(t, "s101_review_1", values["key"])

	var decoded types.ReviewRow
	require.NoError(t, json.Unmarshal([]byte(values["payload"].(string)), &decoded))
	assert.Equal(t, "Kettle", decoded.Product.Name)
	assert.Equal(t, 5, decoded.Review.Rating)

	values, err = encode(types.ProductRow{Product: types.ProductRecord{ID: "s101"}})
	require.NoError(t, err)
	assert.Equal(t, "product", values["kind"])
	assert.Equal(t, "s101", values["key"])
}

func TestHandleCountsFailures(t *testing.T) {
	p := NewRedisPublisher(config.PublisherConfig{Addr: "127.0.0.1:1", Stream: "test"}, testLogger)
	defer p.Close()

	p.Handle(testRow())
	p.Handle(testRow())
	assert.Equal(t, int64(2), p.Failures())
}

func TestRedisPublisher(t *testing.T) {
	ctx := context.Background()
	cfg := config.PublisherConfig{Addr: "localhost:6379", Stream: "test_reviewgoat_records", MaxLen: 100}
	p := NewRedisPublisher(cfg, testLogger)
	defer p.Close()

	if err := p.Ping(ctx); err != nil {
		t.Skip("Redis is not available, skipping test")
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	defer client.Close()
	require.NoError(t, client.Del(ctx, cfg.Stream).Err())

	p.Handle(testRow())
	require.Equal(t, int64(0), p.Failures())

	streams, err := client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{cfg.Stream, "0"},
		Count:   1,
		Block:   time.Second,
	}).Result()
	require.NoError(t, err)
	require.Len(t, streams, 1)
	require.Len(t, streams[0].Messages, 1)

	msg := streams[0].Messages[0]
	assert.Equal(t, "review", msg.Values["kind"])
	assert.Equal(t, "s101_review_1", msg.Values["key"])
}
