package builder

import "context"

// StepCache remembers which image a step produced on a given parent, keyed by
// the step's cache material.
type StepCache interface {
	CachedImage(ctx context.Context, parentImageID, cacheKey string) (string, error)
	PutCachedImage(ctx context.Context, parentImageID, cacheKey, imageID string) error
	EvictCachedImage(ctx context.Context, parentImageID, cacheKey string) error
}

// NoopCache disables step caching; every step executes.
type NoopCache struct{}

func (NoopCache) CachedImage(ctx context.Context, parentImageID, cacheKey string) (string, error) {
	return "", nil
}

func (NoopCache) PutCachedImage(ctx context.Context, parentImageID, cacheKey, imageID string) error {
	return nil
}

func (NoopCache) EvictCachedImage(ctx context.Context, parentImageID, cacheKey string) error {
	return nil
}
