package noop

import (
	"context"
	"time"

	"github.com/convene/messenger-service/internal/registry/cache"
	registrystore "github.com/convene/messenger-service/internal/registry/store"
	"github.com/google/uuid"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.MessagePreviewCache, error) {
			return &noopPreviewCache{}, nil
		},
	})
}

type noopPreviewCache struct{}

func (n *noopPreviewCache) Available() bool { return false }
func (n *noopPreviewCache) Get(_ context.Context, _ uuid.UUID) (*registrystore.MessagePreview, error) {
	return nil, nil
}
func (n *noopPreviewCache) Set(_ context.Context, _ uuid.UUID, _ registrystore.MessagePreview, _ time.Duration) error {
	return nil
}
func (n *noopPreviewCache) Remove(_ context.Context, _ uuid.UUID) error { return nil }

var _ cache.MessagePreviewCache = (*noopPreviewCache)(nil)
