package status

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// latestSuffix is appended to the channel name to form the snapshot key.
const latestSuffix = ":latest"

// RedisClient is the subset of *redis.Client the mirror uses.
type RedisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisMirror publishes status snapshots to Redis so dashboards outside the
// process can follow the pipeline. The latest snapshot is also kept under
// "<channel>:latest". A mirror with no client does nothing.
type RedisMirror struct {
	client  RedisClient
	channel string
	ttl     time.Duration
	logger  *zap.Logger
}

// NewRedisMirror creates a mirror. client may be nil when Redis is not
// configured.
func NewRedisMirror(client RedisClient, channel string, ttl time.Duration, logger *zap.Logger) *RedisMirror {
	return &RedisMirror{
		client:  client,
		channel: channel,
		ttl:     ttl,
		logger:  logger.Named("status-mirror"),
	}
}

// Enabled reports whether snapshots are actually sent.
func (m *RedisMirror) Enabled() bool {
	return m != nil && m.client != nil
}

// Publish stores and broadcasts the snapshot.
func (m *RedisMirror) Publish(ctx context.Context, snap Snapshot) error {
	if !m.Enabled() {
		return nil
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal status snapshot: %w", err)
	}

	if err := m.client.Set(ctx, m.channel+latestSuffix, payload, m.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store status snapshot: %w", err)
	}
	if err := m.client.Publish(ctx, m.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish status snapshot: %w", err)
	}

	m.logger.Debug("Published status snapshot", zap.String("channel", m.channel))
	return nil
}
