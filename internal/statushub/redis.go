package statushub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"retailsync/internal/scheduler"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher mirrors status changes onto a Redis channel, for
// back-office dashboards watching many registers.
type RedisPublisher struct {
	client   *redis.Client
	channel  string
	clientID string
}

type redisStatus struct {
	ClientID string `json:"client_id"`
	scheduler.Status
}

// NewRedisPublisher connects to addr and verifies the connection.
func NewRedisPublisher(addr, channel, clientID string) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisPublisher{client: client, channel: channel, clientID: clientID}, nil
}

// Publish sends one status message.
func (p *RedisPublisher) Publish(ctx context.Context, status scheduler.Status) error {
	data, err := json.Marshal(redisStatus{ClientID: p.clientID, Status: status})
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish status: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

var _ scheduler.Publisher = (*RedisPublisher)(nil)
