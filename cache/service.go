package cache

import (
	"context"
	"fmt"

	"github.com/goliatone/go-repository-sync/internal/cacheinfra"
)

// ErrNotFound is returned by a FetchFn when the source of truth has no record.
// GetOrFetch returns it unchanged and nothing is cached.
var ErrNotFound = cacheinfra.ErrNotFound

// KeySerializer builds a cache key from a namespace + arbitrary parts.
// It is responsible for producing stable keys across calls.
type KeySerializer interface {
	SerializeKey(namespace string, parts ...any) string
}

// FetchFn loads a value from the source of truth on a cache miss.
type FetchFn[T any] func(ctx context.Context) (T, error)

// CacheService is the memory tier in front of the local store.
type CacheService interface {
	GetOrFetch(ctx context.Context, key string, fetchFn FetchFn[any]) (any, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}

// GetOrFetch is the typed counterpart of CacheService.GetOrFetch.
func GetOrFetch[T any](ctx context.Context, service CacheService, key string, fetchFn FetchFn[T]) (T, error) {
	var zero T
	value, err := service.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetchFn(ctx)
	})
	if err != nil {
		return zero, err
	}
	if value == nil {
		return zero, nil
	}
	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("cache: key %q holds %T, want %T", key, value, zero)
	}
	return typed, nil
}

type sturdycService struct {
	*cacheinfra.SturdycService
}

func (s sturdycService) GetOrFetch(ctx context.Context, key string, fetchFn FetchFn[any]) (any, error) {
	return s.SturdycService.GetOrFetch(ctx, key, fetchFn)
}
