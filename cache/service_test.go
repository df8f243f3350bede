package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

// mockCacheService records fetch calls and returns a canned value.
type mockCacheService struct {
	result     any
	err        error
	fetchCalls int
}

func (m *mockCacheService) GetOrFetch(ctx context.Context, key string, fetchFn FetchFn[any]) (any, error) {
	m.fetchCalls++
	if m.result == nil && m.err == nil {
		return fetchFn(ctx)
	}
	return m.result, m.err
}

func (m *mockCacheService) Set(ctx context.Context, key string, value any) error { return nil }

func (m *mockCacheService) Delete(ctx context.Context, key string) error { return nil }

func (m *mockCacheService) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	return 0, nil
}

func TestGetOrFetch_NilResultReturnsZero(t *testing.T) {
	type Named interface{ Name() string }

	mock := &mockCacheService{}
	result, err := GetOrFetch[Named](context.Background(), mock, "k", func(ctx context.Context) (Named, error) {
		return nil, nil
	})

	if err != nil {
		t.Errorf("expected no error but got: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result but got: %v", result)
	}
}

func TestGetOrFetch_TypeMismatch(t *testing.T) {
	mock := &mockCacheService{result: "wrong-type"}

	result, err := GetOrFetch[int](context.Background(), mock, "k", func(ctx context.Context) (int, error) {
		return 42, nil
	})

	if err == nil {
		t.Fatal("expected a type mismatch error")
	}
	if result != 0 {
		t.Errorf("expected zero value but got: %v", result)
	}
}

func TestGetOrFetch_PropagatesError(t *testing.T) {
	mock := &mockCacheService{err: ErrNotFound}

	_, err := GetOrFetch[string](context.Background(), mock, "k", func(ctx context.Context) (string, error) {
		return "", nil
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestNewCacheService_ReadThrough(t *testing.T) {
	svc, err := NewCacheService(DefaultConfig())
	if err != nil {
		t.Fatalf("NewCacheService() error = %v", err)
	}

	ctx := context.Background()
	var calls atomic.Int32
	fetch := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "value", nil
	}

	for i := 0; i < 3; i++ {
		got, err := GetOrFetch(ctx, svc, "entry::players::1", fetch)
		if err != nil {
			t.Fatalf("GetOrFetch() error = %v", err)
		}
		if got != "value" {
			t.Fatalf("GetOrFetch() = %q", got)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single fetch, got %d", calls.Load())
	}

	if err := svc.Delete(ctx, "entry::players::1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := GetOrFetch(ctx, svc, "entry::players::1", fetch); err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected a refetch after Delete, got %d fetches", calls.Load())
	}
}

func TestNewCacheService_NotFoundIsNotCached(t *testing.T) {
	svc, err := NewCacheService(DefaultConfig())
	if err != nil {
		t.Fatalf("NewCacheService() error = %v", err)
	}

	ctx := context.Background()
	var calls atomic.Int32
	missing := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "", ErrNotFound
	}

	for i := 0; i < 2; i++ {
		if _, err := GetOrFetch(ctx, svc, "entry::players::404", missing); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("expected misses to reach the source every time, got %d", calls.Load())
	}
}

func TestConfig_ValidateRejectsInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for zero TTL")
	}
	if _, err := NewCacheService(cfg); err == nil {
		t.Fatal("expected NewCacheService to reject an invalid config")
	}
}
