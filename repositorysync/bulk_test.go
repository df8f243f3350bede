package repositorysync

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-repository-sync/entity"
	"github.com/goliatone/go-repository-sync/pkg/testsupport"
	"github.com/goliatone/go-repository-sync/reactive"
	"github.com/goliatone/go-repository-sync/result"
)

func ids(entries []entity.CacheEntry[player]) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID()
	}
	return out
}

func TestFindAll_Merge(t *testing.T) {
	h := setup(t, testConfig())
	h.seed(t, entity.New("a", alcaraz(9), t0.Add(-time.Hour)), entity.OriginSynced)
	h.seed(t, entity.New("z", alcaraz(7), t0), entity.OriginSynced)
	h.remote.Put(
		entity.New("c", alcaraz(1), t0),
		entity.New("a", alcaraz(3), t0),
	)

	res := await(t, h.repo.FindAll())
	require.True(t, res.IsSuccess(), "%v", res.Err())
	got := res.Value()
	assert.Equal(t, []string{"c", "a", "z"}, ids(got))
	assert.Equal(t, 3, got[1].Entity.Payload.Ranking)
	assert.Equal(t, entity.OriginSynced, got[0].Origin)
	assert.Equal(t, entity.OriginLocal, got[2].Origin)

	z, _ := h.local(t, "z")
	assert.True(t, z.Pending(), "unknown to the remote, kept for the next sync")
	c, ok := h.local(t, "c")
	require.True(t, ok)
	assert.Equal(t, entity.OriginSynced, c.Origin)
}

func TestFindAll_Outage(t *testing.T) {
	h := setup(t, testConfig())
	h.remote.SetOutage(true)

	res := await(t, h.repo.FindAll())
	require.True(t, res.IsFailure())
	assert.Equal(t, result.KindNetwork, res.Kind())

	h.seed(t, entity.New("a", alcaraz(3), t0), entity.OriginSynced)
	res = await(t, h.repo.FindAll())
	require.True(t, res.IsSuccess(), "%v", res.Err())
	require.Len(t, res.Value(), 1)
	assert.True(t, res.Value()[0].Stale)
}

func TestFindAll_ManualConflicts(t *testing.T) {
	cfg := testConfig()
	cfg.ConflictPolicy = Manual
	h := setup(t, cfg)
	h.seed(t, entity.New("a", alcaraz(1), t0), entity.OriginLocal)
	h.seed(t, entity.New("b", alcaraz(2), t0), entity.OriginLocal)
	h.remote.Put(
		entity.New("a", alcaraz(5), t0),
		entity.New("b", alcaraz(6), t0),
	)

	res := await(t, h.repo.FindAll())
	require.True(t, res.IsFailure())
	assert.Equal(t, result.KindConflict, res.Kind())
	assert.Contains(t, res.Err().Error(), "a, b")

	a, _ := h.local(t, "a")
	assert.Equal(t, 1, a.Entity.Payload.Ranking)
}

func TestFindAll_CancelLeavesNoPartialEntries(t *testing.T) {
	cfg := testConfig()
	cfg.Concurrency = 2
	h := setup(t, cfg)
	ctx := context.Background()

	want := make(map[string]player, 200)
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("player-%03d", i)
		want[id] = player{Name: "Player " + id, Ranking: i + 1, Country: "IT"}
		h.remote.Put(entity.New(id, want[id], t0))
	}

	for _, after := range []time.Duration{0, time.Millisecond, 5 * time.Millisecond, 20 * time.Millisecond} {
		require.True(t, h.store.DeleteAll(ctx).IsSuccess())

		sub := h.repo.FindAll().Subscribe(ctx, reactive.Observer[result.Result[[]entity.CacheEntry[player]]]{})
		time.Sleep(after)
		sub.Cancel()
		_ = sub.Wait()

		all := h.store.GetAll(ctx)
		require.True(t, all.IsSuccess(), "rows must decode after cancelling at %v: %v", after, all.Err())
		for _, e := range all.Value() {
			sum, err := entity.Fingerprint(e.Entity.Payload)
			require.NoError(t, err)
			assert.Equal(t, sum, e.Checksum, "checksum of %s", e.ID())
			assert.Equal(t, want[e.ID()], e.Entity.Payload, "payload of %s", e.ID())
			assert.Equal(t, entity.OriginSynced, e.Origin)
		}
	}

	res := await(t, h.repo.FindAll())
	require.True(t, res.IsSuccess(), "%v", res.Err())
	assert.Len(t, res.Value(), 200)
}

func TestRefresh_KeepsPending(t *testing.T) {
	h := setup(t, testConfig())
	h.remote.Put(testsupport.LoadEntities[player](t, testsupport.FixturePath("players.json"))...)
	h.seed(t, entity.New("stale", alcaraz(50), t0), entity.OriginSynced)
	h.seed(t, entity.New("mine", alcaraz(40), t0), entity.OriginLocal)

	res := await(t, h.repo.Refresh())
	require.True(t, res.IsSuccess(), "%v", res.Err())
	assert.Equal(t, 3, res.Value())

	count := h.store.Count(context.Background())
	require.True(t, count.IsSuccess())
	assert.Equal(t, 4, count.Value())

	_, ok := h.local(t, "stale")
	assert.False(t, ok)
	mine, ok := h.local(t, "mine")
	require.True(t, ok)
	assert.True(t, mine.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	last, _, err := h.repo.Notifications().Take(1).Collect().Block(ctx)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, NotifyRefresh, last[0].Type)
	assert.Equal(t, 3, last[0].Count)
}

func TestRefresh_Outage(t *testing.T) {
	h := setup(t, testConfig())
	h.seed(t, entity.New("a", alcaraz(3), t0), entity.OriginSynced)
	h.remote.SetOutage(true)

	res := await(t, h.repo.Refresh())
	require.True(t, res.IsFailure())
	assert.Equal(t, result.KindNetwork, res.Kind())

	_, ok := h.local(t, "a")
	assert.True(t, ok, "local set untouched")
}

func TestRefresh_LRUBound(t *testing.T) {
	cfg := testConfig()
	cfg.Eviction = EvictionLRU
	cfg.MaxEntries = 2
	h := setup(t, cfg)
	h.remote.Put(testsupport.LoadEntities[player](t, testsupport.FixturePath("players.json"))...)
	h.seed(t, entity.New("mine", alcaraz(40), t0), entity.OriginLocal)

	res := await(t, h.repo.Refresh())
	require.True(t, res.IsSuccess())

	count := h.store.Count(context.Background())
	require.True(t, count.IsSuccess())
	assert.Equal(t, 2, count.Value())
	_, ok := h.local(t, "mine")
	assert.True(t, ok, "pending entries are never evicted")
}

func TestFindByID_LRUKeepsRecentlyRead(t *testing.T) {
	cfg := testConfig()
	cfg.Eviction = EvictionLRU
	cfg.MaxEntries = 2
	h := setup(t, cfg)
	for _, id := range []string{"a", "b", "c"} {
		h.remote.Put(entity.New(id, alcaraz(1), t0))
	}

	for _, id := range []string{"a", "b", "a", "c"} {
		require.True(t, await(t, h.repo.FindByID(id)).IsSuccess(), id)
		h.clock.Advance(time.Second)
	}
	assert.Equal(t, 3, h.remote.Calls(http.MethodGet), "the second read of a is local")

	_, ok := h.local(t, "a")
	assert.True(t, ok, "a was read after b")
	_, ok = h.local(t, "b")
	assert.False(t, ok, "b is the least recently used")
	_, ok = h.local(t, "c")
	assert.True(t, ok)
}

func TestExport_Golden(t *testing.T) {
	h := setup(t, testConfig())
	h.remote.Put(testsupport.LoadEntities[player](t, testsupport.FixturePath("players.json"))...)
	require.True(t, await(t, h.repo.Refresh()).IsSuccess())

	var buf bytes.Buffer
	res := await(t, h.repo.Export(&buf))
	require.True(t, res.IsSuccess(), "%v", res.Err())
	assert.Equal(t, 3, res.Value())

	testsupport.CompareWithGolden(t, testsupport.GoldenPath("export.json"), buf.Bytes())
}

func TestExportRemote(t *testing.T) {
	h := setup(t, testConfig())
	h.remote.Put(testsupport.LoadEntities[player](t, testsupport.FixturePath("players.json"))...)

	var buf bytes.Buffer
	res := await(t, h.repo.ExportRemote(&buf))
	require.True(t, res.IsSuccess(), "%v", res.Err())
	assert.Equal(t, 3, res.Value())
	testsupport.CompareWithGolden(t, testsupport.GoldenPath("export.json"), buf.Bytes())

	all := h.store.GetAll(context.Background())
	require.True(t, all.IsSuccess())
	assert.Empty(t, all.Value(), "remote export leaves the local store alone")

	h.remote.SetOutage(true)
	buf.Reset()
	res = await(t, h.repo.ExportRemote(&buf))
	require.True(t, res.IsFailure())
	assert.Zero(t, buf.Len())
}

func TestImport(t *testing.T) {
	h := setup(t, testConfig())

	res := await(t, h.repo.Import(testsupport.LoadReader(t, testsupport.FixturePath("players.json"))))
	require.True(t, res.IsSuccess(), "%v", res.Err())
	assert.Equal(t, 3, res.Value())
	assert.Equal(t, 3, h.remote.Len())

	sinner, ok := h.local(t, "sinner")
	require.True(t, ok)
	assert.Equal(t, entity.OriginSynced, sinner.Origin)
	assert.Equal(t, t0, sinner.Entity.UpdatedAt)
}

func TestImport_Failures(t *testing.T) {
	t.Run("malformed input", func(t *testing.T) {
		h := setup(t, testConfig())

		res := await(t, h.repo.Import(strings.NewReader(`{"id":`)))
		require.True(t, res.IsFailure())
		assert.Equal(t, result.KindValidation, res.Kind())
		assert.Zero(t, h.remote.TotalCalls())
	})

	t.Run("remote rejects", func(t *testing.T) {
		h := setup(t, testConfig())
		h.remote.FailWith(http.StatusServiceUnavailable)

		res := await(t, h.repo.Import(testsupport.LoadReader(t, testsupport.FixturePath("players.json"))))
		require.True(t, res.IsFailure())
		assert.Equal(t, result.KindServer, res.Kind())
		assert.Contains(t, res.Err().Error(), "imported 0 of 3")

		pending := h.store.GetPending(context.Background())
		require.True(t, pending.IsSuccess())
		assert.Len(t, pending.Value(), 3, "kept locally for the next sync")
	})
}

func TestAutoRefresh(t *testing.T) {
	h := setup(t, testConfig())
	h.remote.Put(testsupport.LoadEntities[player](t, testsupport.FixturePath("players.json"))...)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, _, err := h.repo.AutoRefresh(10 * time.Millisecond).Take(2).Collect().Block(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, res := range got {
		require.True(t, res.IsSuccess(), "%v", res.Err())
		assert.Equal(t, 3, res.Value())
	}
}

func TestAutoRefresh_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.RefreshInterval = 0
	h := setup(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, _, err := h.repo.AutoRefresh(0).Collect().Block(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, h.remote.TotalCalls())
}

func TestStartAutoRefresh_StopsWithContext(t *testing.T) {
	h := setup(t, testConfig())
	h.remote.Put(entity.New("a", alcaraz(3), t0))

	ctx, cancel := context.WithCancel(context.Background())
	sub := h.repo.StartAutoRefresh(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool { return h.remote.Calls(http.MethodGet) >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("auto refresh did not stop")
	}
}

// brokenStore fails every call.
type brokenStore struct{}

func brokenResult[T any]() result.Result[T] {
	return result.Failure[T](result.New(result.KindStorage, "disk unavailable"))
}

func (brokenStore) Get(context.Context, string) result.Result[result.Option[entity.CacheEntry[player]]] {
	return brokenResult[result.Option[entity.CacheEntry[player]]]()
}

func (brokenStore) GetAll(context.Context) result.Result[[]entity.CacheEntry[player]] {
	return brokenResult[[]entity.CacheEntry[player]]()
}

func (brokenStore) GetPending(context.Context) result.Result[[]entity.CacheEntry[player]] {
	return brokenResult[[]entity.CacheEntry[player]]()
}

func (brokenStore) Save(context.Context, entity.CacheEntry[player]) result.Result[entity.CacheEntry[player]] {
	return brokenResult[entity.CacheEntry[player]]()
}

func (brokenStore) ReplaceAll(context.Context, []entity.CacheEntry[player]) result.Result[int] {
	return brokenResult[int]()
}

func (brokenStore) Evict(context.Context, int) result.Result[int] { return brokenResult[int]() }

func (brokenStore) Touch(context.Context, time.Time, ...string) result.Result[int] {
	return brokenResult[int]()
}

func (brokenStore) Delete(context.Context, string) result.Result[bool] { return brokenResult[bool]() }

func (brokenStore) Table() string { return "broken" }

func TestStorageFailuresAreFatal(t *testing.T) {
	h := setup(t, testConfig())
	h.remote.Put(entity.New("alcaraz", alcaraz(3), t0))
	repo, err := New[player](brokenStore{}, h.repo.remote, testConfig())
	require.NoError(t, err)

	res := await(t, repo.FindByID("alcaraz"))
	require.True(t, res.IsFailure())
	assert.Equal(t, result.KindStorage, res.Kind())

	saved := await(t, repo.Save(entity.New("alcaraz", alcaraz(2), t0)))
	require.True(t, saved.IsFailure())
	assert.Equal(t, result.KindStorage, saved.Kind())

	all := await(t, repo.FindAll())
	require.True(t, all.IsFailure())
	assert.Equal(t, result.KindStorage, all.Kind())

	assert.Zero(t, h.remote.Calls(http.MethodPost))
	assert.Zero(t, h.remote.Calls(http.MethodPut))
}

// explodingRemote panics on Get; other calls are never made.
type explodingRemote struct{ Remote[player] }

func (explodingRemote) Get(string) reactive.Mono[entity.Entity[player]] {
	return reactive.FromFunc(func(context.Context) (entity.Entity[player], error) {
		panic("remote exploded")
	})
}

func TestPanicsBecomeFailures(t *testing.T) {
	h := setup(t, testConfig())
	repo, err := New[player](h.store, explodingRemote{}, testConfig())
	require.NoError(t, err)

	res := await(t, repo.FindByID("alcaraz"))
	require.True(t, res.IsFailure())
	assert.Equal(t, result.KindUnknown, res.Kind())
	assert.ErrorIs(t, res.Err(), reactive.ErrPanic)

	// the lane for the id was released
	res = await(t, repo.FindByID("alcaraz"))
	assert.Equal(t, result.KindUnknown, res.Kind())
}
