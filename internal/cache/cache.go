package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const heartbeatPrefix = "hb:"

// Cache keeps the last heartbeat time per device in Redis so the offline
// checker sees pings accepted by other server instances.
type Cache struct {
	Client *redis.Client
}

func New(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Cache{Client: client}, nil
}

func (c *Cache) Close() error {
	return c.Client.Close()
}

// SetHeartbeat records the last heartbeat time for a device.
func (c *Cache) SetHeartbeat(ctx context.Context, deviceID int64, t time.Time) error {
	key := fmt.Sprintf("%s%d", heartbeatPrefix, deviceID)
	return c.Client.Set(ctx, key, t.Unix(), 0).Err()
}

// GetHeartbeat returns the last heartbeat time for a device.
func (c *Cache) GetHeartbeat(ctx context.Context, deviceID int64) (time.Time, error) {
	key := fmt.Sprintf("%s%d", heartbeatPrefix, deviceID)
	val, err := c.Client.Get(ctx, key).Result()
	if err != nil {
		return time.Time{}, err
	}
	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(unix, 0), nil
}

// DeleteHeartbeat drops the cached heartbeat, used when a device is removed.
func (c *Cache) DeleteHeartbeat(ctx context.Context, deviceID int64) error {
	key := fmt.Sprintf("%s%d", heartbeatPrefix, deviceID)
	return c.Client.Del(ctx, key).Err()
}
