package di

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-repository-sync/entity"
	"github.com/goliatone/go-repository-sync/pkg/testsupport"
	"github.com/goliatone/go-repository-sync/repositorysync"
)

func seedPlayers(fake *testsupport.FakeRemote[player], n int) {
	now := time.Now()
	for i := 0; i < n; i++ {
		fake.Put(entity.New(fmt.Sprintf("player-%d", i), player{Name: fmt.Sprintf("Player %d", i), Ranking: i + 1}, now))
	}
}

func newBenchRepository(tb testing.TB, fake *testsupport.FakeRemote[player], memoryTier bool) *repositorysync.Repository[player] {
	tb.Helper()
	ctx := context.Background()

	config := DefaultConfig()
	config.Store.DSN = filepath.Join(tb.TempDir(), "bench.db")
	config.Remote.BaseURL = fake.URL()
	config.Remote.Resource = fake.Resource()
	config.Cache.Enabled = memoryTier
	config.Log.Level = "disabled"

	container, err := NewContainer(ctx, config)
	if err != nil {
		tb.Fatalf("Failed to create DI container: %v", err)
	}
	tb.Cleanup(func() { container.Close() })

	repo, err := NewRepository[player](ctx, container, "")
	if err != nil {
		tb.Fatalf("NewRepository() failed: %v", err)
	}
	tb.Cleanup(repo.Close)
	return repo
}

func TestConcurrentAccess(t *testing.T) {
	fake := testsupport.NewFakeRemote[player](t, "players")
	seedPlayers(fake, 20)
	repo := newBenchRepository(t, fake, true)

	ctx := context.Background()
	const numGoroutines = 20
	const operationsPerGoroutine = 10

	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines*operationsPerGoroutine)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < operationsPerGoroutine; j++ {
				id := fmt.Sprintf("player-%d", (workerID+j)%20)
				res, _, err := repo.FindByID(id).Block(ctx)
				if err != nil {
					errs <- err
					continue
				}
				if res.IsFailure() {
					errs <- fmt.Errorf("worker %d FindByID(%s): %w", workerID, id, res.Err())
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	var errorCount int
	for err := range errs {
		t.Error(err)
		errorCount++
		if errorCount > 10 {
			t.Error("... and more errors")
			break
		}
	}

	// reads of the same id queue behind each other, so each id reaches the
	// remote once
	totalOperations := numGoroutines * operationsPerGoroutine
	gets := fake.Calls(http.MethodGet)
	if gets != 20 {
		t.Errorf("Expected one GET per id, got %d for %d operations", gets, totalOperations)
	}
	t.Logf("%d operations resulted in %d remote GETs", totalOperations, gets)
}

func TestConcurrentReadWrite(t *testing.T) {
	fake := testsupport.NewFakeRemote[player](t, "players")
	seedPlayers(fake, 5)
	repo := newBenchRepository(t, fake, false)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("player-%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for r := 1; r <= 5; r++ {
				res, _, _ := repo.Save(entity.New(id, player{Name: id, Ranking: 100 + r}, time.Time{})).Block(ctx)
				if res.IsFailure() {
					t.Errorf("Save(%s) failed: %v", id, res.Err())
				}
			}
		}()
		go func() {
			defer wg.Done()
			for r := 0; r < 5; r++ {
				if res, _, _ := repo.FindByID(id).Block(ctx); res.IsFailure() {
					t.Errorf("FindByID(%s) failed: %v", id, res.Err())
				}
			}
		}()
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("player-%d", i)
		got, ok := fake.Get(id)
		if !ok || got.Payload.Ranking != 105 {
			t.Errorf("Expected last write to win remotely for %s, got %+v", id, got.Payload)
		}
	}
}

func BenchmarkFindByIDFresh(b *testing.B) {
	for _, memoryTier := range []bool{false, true} {
		b.Run(fmt.Sprintf("memory_tier=%t", memoryTier), func(b *testing.B) {
			fake := testsupport.NewFakeRemote[player](b, "players")
			seedPlayers(fake, 100)
			repo := newBenchRepository(b, fake, memoryTier)
			ctx := context.Background()

			if res, _, _ := repo.Refresh().Block(ctx); res.IsFailure() {
				b.Fatalf("Refresh failed: %v", res.Err())
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if res, _, _ := repo.FindByID(fmt.Sprintf("player-%d", i%100)).Block(ctx); res.IsFailure() {
					b.Fatal(res.Err())
				}
			}
		})
	}
}

func BenchmarkSave(b *testing.B) {
	fake := testsupport.NewFakeRemote[player](b, "players")
	repo := newBenchRepository(b, fake, false)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e := entity.New(fmt.Sprintf("player-%d", i%50), player{Name: "Bench", Ranking: i}, time.Time{})
		if res, _, _ := repo.Save(e).Block(ctx); res.IsFailure() {
			b.Fatal(res.Err())
		}
	}
}
