package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/convene/messenger-service/internal/config"
	registrycache "github.com/convene/messenger-service/internal/registry/cache"
	registrystore "github.com/convene/messenger-service/internal/registry/store"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 10 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.MessagePreviewCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: MESSENGER_SERVICE_REDIS_URL is required")
	}
	ttl := cfg.PreviewCacheTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return LoadFromURLWithTTL(ctx, cfg.RedisURL, ttl)
}

// LoadFromURL creates a MessagePreviewCache from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string) (registrycache.MessagePreviewCache, error) {
	return LoadFromURLWithTTL(ctx, redisURL, defaultTTL)
}

// LoadFromURLWithTTL creates a cache with an explicit default preview TTL.
func LoadFromURLWithTTL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.MessagePreviewCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisPreviewCache{client: client, ttl: ttl}, nil
}

type redisPreviewCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func previewKey(convID uuid.UUID) string {
	return fmt.Sprintf("msg-preview:%s", convID.String())
}

func (c *redisPreviewCache) Available() bool {
	return true
}

func (c *redisPreviewCache) Get(ctx context.Context, conversationID uuid.UUID) (*registrystore.MessagePreview, error) {
	data, err := c.client.Get(ctx, previewKey(conversationID)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cached registrystore.MessagePreview
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

func (c *redisPreviewCache) Set(ctx context.Context, conversationID uuid.UUID, preview registrystore.MessagePreview, ttl time.Duration) error {
	data, err := json.Marshal(preview)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, previewKey(conversationID), data, ttl).Err()
}

func (c *redisPreviewCache) Remove(ctx context.Context, conversationID uuid.UUID) error {
	return c.client.Del(ctx, previewKey(conversationID)).Err()
}

var _ registrycache.MessagePreviewCache = (*redisPreviewCache)(nil)
