package cache

import (
	"context"
	"fmt"
	"time"

	registrystore "github.com/convene/messenger-service/internal/registry/store"
	"github.com/google/uuid"
)

type previewCacheKey struct{}

// WithPreviewCacheContext returns a new context carrying the given
// MessagePreviewCache.
func WithPreviewCacheContext(ctx context.Context, c MessagePreviewCache) context.Context {
	return context.WithValue(ctx, previewCacheKey{}, c)
}

// PreviewCacheFromContext retrieves the MessagePreviewCache from the context.
// Returns nil if none was set.
func PreviewCacheFromContext(ctx context.Context) MessagePreviewCache {
	c, _ := ctx.Value(previewCacheKey{}).(MessagePreviewCache)
	return c
}

// MessagePreviewCache caches the latest-message preview per conversation for
// the listing view. Only the preview is cacheable: unread counts and leader
// flags are derived fresh on every call and must never go through here.
type MessagePreviewCache interface {
	Available() bool
	Get(ctx context.Context, conversationID uuid.UUID) (*registrystore.MessagePreview, error)
	Set(ctx context.Context, conversationID uuid.UUID, preview registrystore.MessagePreview, ttl time.Duration) error
	Remove(ctx context.Context, conversationID uuid.UUID) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (MessagePreviewCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
