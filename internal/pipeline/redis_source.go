package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	inputredis "factoryhub/internal/input/redis"
	"factoryhub/internal/logger"
	"factoryhub/internal/metrics"
	"factoryhub/pkg/models"
)

// Popper yields relay messages. Pop returns nil, nil on timeout.
type Popper interface {
	Pop(ctx context.Context) ([]byte, error)
	Close() error
}

var _ Popper = (*inputredis.Consumer)(nil)

// RedisSource feeds deliveries relayed through a Redis list into the
// pipeline. Each message is a JSON models.Delivery and is verified exactly
// like an HTTP delivery.
type RedisSource struct {
	consumer Popper
	pipeline *Pipeline
}

// NewRedisSource creates a relay source.
func NewRedisSource(consumer Popper, p *Pipeline) *RedisSource {
	return &RedisSource{consumer: consumer, pipeline: p}
}

// Run pops and ingests messages until ctx is cancelled.
func (s *RedisSource) Run(ctx context.Context) error {
	logger.Infof("Redis relay source started")
	for {
		payload, err := s.consumer.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.RelayErrors.Inc()
			logger.Errorf("Failed to pop redis message: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if payload == nil {
			continue
		}
		s.handle(ctx, payload)
	}
}

func (s *RedisSource) handle(ctx context.Context, payload []byte) {
	var d models.Delivery
	if err := json.Unmarshal(payload, &d); err != nil {
		metrics.RelayErrors.Inc()
		logger.Warnf("Failed to decode relay message: %v", err)
		return
	}
	if d.Provider == "" {
		d.Provider = ProviderGitHub
	}
	if d.Event == "" {
		d.Event = "unknown"
	}
	if d.ReceivedAt == 0 {
		d.ReceivedAt = time.Now().UnixMilli()
	}

	n, err := s.pipeline.Ingest(ctx, d)
	switch {
	case err == nil:
		logger.Debugf("Relay delivery %s produced %d events", d.DeliveryID, n)
	case errors.Is(err, context.Canceled):
	default:
		metrics.RelayErrors.Inc()
		logger.Warnf("Relay delivery %s rejected: %v", d.DeliveryID, err)
	}
}

// Close releases the consumer.
func (s *RedisSource) Close() error {
	return s.consumer.Close()
}
