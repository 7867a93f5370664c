// Package redis relays webhook deliveries through a Redis list.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultKey is the relay list used when none is configured.
const DefaultKey = "factoryhub:deliveries"

// Config configures the Redis relay client.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Key          string
	BlockTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:6379"
	}
	if c.Key == "" {
		c.Key = DefaultKey
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 5 * time.Second
	}
}

func newClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Consumer pops relay messages from the head of a list.
type Consumer struct {
	client       *redis.Client
	key          string
	blockTimeout time.Duration
}

// NewConsumer creates a list consumer. The connection is lazy; use Ping to
// check reachability up front.
func NewConsumer(cfg Config) (*Consumer, error) {
	cfg.applyDefaults()
	if cfg.BlockTimeout < time.Millisecond {
		return nil, fmt.Errorf("redis block timeout too small: %s", cfg.BlockTimeout)
	}
	return &Consumer{
		client:       newClient(cfg),
		key:          cfg.Key,
		blockTimeout: cfg.BlockTimeout,
	}, nil
}

// Ping checks the server is reachable.
func (c *Consumer) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Pop blocks for up to the block timeout and returns one message, or nil
// when the list stayed empty.
func (c *Consumer) Pop(ctx context.Context) ([]byte, error) {
	res, err := c.client.BLPop(ctx, c.blockTimeout, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	return c.client.Close()
}

// Publisher appends relay messages to the tail of a list.
type Publisher struct {
	client *redis.Client
	key    string
}

// NewPublisher creates a list publisher.
func NewPublisher(cfg Config) *Publisher {
	cfg.applyDefaults()
	return &Publisher{client: newClient(cfg), key: cfg.Key}
}

// Publish appends messages in order.
func (p *Publisher) Publish(ctx context.Context, messages ...[]byte) error {
	if len(messages) == 0 {
		return nil
	}
	values := make([]interface{}, len(messages))
	for i, m := range messages {
		values[i] = m
	}
	if err := p.client.RPush(ctx, p.key, values...).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", p.key, err)
	}
	return nil
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	return p.client.Close()
}
