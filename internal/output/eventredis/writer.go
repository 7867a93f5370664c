// Package eventredis mirrors canonical events into a capped Redis list so
// other processes can tail recent activity.
package eventredis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"factoryhub/internal/logger"
	"factoryhub/pkg/models"
)

// Config configures the Redis writer.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
	MaxLen   int64
	Timeout  time.Duration
}

// Writer appends events with RPUSH and trims the list to MaxLen.
type Writer struct {
	client  *redis.Client
	key     string
	maxLen  int64
	timeout time.Duration
}

// NewWriter creates a Redis list writer.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis output key is empty")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	logger.Infof("Event Redis writer initialized: %s key=%s max=%d", cfg.Addr, cfg.Key, cfg.MaxLen)
	return &Writer{client: client, key: cfg.Key, maxLen: cfg.MaxLen, timeout: cfg.Timeout}, nil
}

// WriteEvents appends a batch in one transaction.
func (w *Writer) WriteEvents(events []*models.CanonicalEvent) error {
	if len(events) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(events))
	for _, ev := range events {
		raw, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", ev.ID, err)
		}
		values = append(values, raw)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	_, err := w.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, w.key, values...)
		pipe.LTrim(ctx, w.key, -w.maxLen, -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis write failed: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
