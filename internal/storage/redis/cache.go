package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leozw/monitrix/internal/core"
)

const statusCountTTL = 30 * time.Second

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) *Client {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{
			Addr: redisURL,
		}
	}

	return &Client{redis.NewClient(opt)}
}

func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, expiration).Err()
}

// GetJSON returns core.ErrNotFound on a cache miss.
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func statusCountKey(ownerID int64, kind core.ResourceKind) string {
	return fmt.Sprintf("status:count:%d:%s", ownerID, kind)
}

func (c *Client) CacheStatusCount(ctx context.Context, ownerID int64, kind core.ResourceKind, count core.StatusCount) error {
	return c.SetJSON(ctx, statusCountKey(ownerID, kind), count, statusCountTTL)
}

func (c *Client) GetCachedStatusCount(ctx context.Context, ownerID int64, kind core.ResourceKind) (core.StatusCount, error) {
	var count core.StatusCount
	err := c.GetJSON(ctx, statusCountKey(ownerID, kind), &count)
	return count, err
}

// InvalidateStatusCounts drops every cached count of an owner after a
// registry change.
func (c *Client) InvalidateStatusCounts(ctx context.Context, ownerID int64) error {
	keys := make([]string, 0, 5)
	keys = append(keys, statusCountKey(ownerID, ""))
	for _, k := range []core.ResourceKind{core.KindDomain, core.KindWebsite, core.KindSSL, core.KindBlacklist} {
		keys = append(keys, statusCountKey(ownerID, k))
	}
	return c.Del(ctx, keys...).Err()
}

func (c *Client) Healthy(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
