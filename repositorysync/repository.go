package repositorysync

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-repository-sync/cache"
	"github.com/goliatone/go-repository-sync/entity"
	"github.com/goliatone/go-repository-sync/internal/keyedlock"
	"github.com/goliatone/go-repository-sync/localstore"
	"github.com/goliatone/go-repository-sync/reactive"
	"github.com/goliatone/go-repository-sync/remote"
	"github.com/goliatone/go-repository-sync/result"
)

// LocalStore is the persistent tier.
type LocalStore[P any] interface {
	Get(ctx context.Context, id string) result.Result[result.Option[entity.CacheEntry[P]]]
	GetAll(ctx context.Context) result.Result[[]entity.CacheEntry[P]]
	GetPending(ctx context.Context) result.Result[[]entity.CacheEntry[P]]
	Save(ctx context.Context, entry entity.CacheEntry[P]) result.Result[entity.CacheEntry[P]]
	ReplaceAll(ctx context.Context, entries []entity.CacheEntry[P]) result.Result[int]
	Evict(ctx context.Context, keep int) result.Result[int]
	Touch(ctx context.Context, at time.Time, ids ...string) result.Result[int]
	Delete(ctx context.Context, id string) result.Result[bool]
	Table() string
}

// Remote is the remote tier.
type Remote[P any] interface {
	GetAll() reactive.Mono[[]entity.Entity[P]]
	Get(id string) reactive.Mono[entity.Entity[P]]
	Create(e entity.Entity[P]) reactive.Mono[entity.Entity[P]]
	Update(e entity.Entity[P]) reactive.Mono[entity.Entity[P]]
	Delete(id string) reactive.Mono[bool]
}

var (
	_ LocalStore[any] = (*localstore.Store[any])(nil)
	_ Remote[any]     = (*remote.Client[any])(nil)
)

// Repository keeps a local store consistent with a remote resource. Every
// method returns a lazy Mono that always emits exactly one Result; failures
// never surface at the producer level.
type Repository[P any] struct {
	store  LocalStore[P]
	remote Remote[P]
	cfg    Config

	cache     cache.CacheService
	keys      cache.KeySerializer
	namespace string
	gen       atomic.Uint64

	seq    reactive.Sequencer
	lanes  *keyedlock.Lanes
	sched  *reactive.Scheduler
	sink   *reactive.Sink[Notification[P]]
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a Repository over store and rem.
func New[P any](store LocalStore[P], rem Remote[P], cfg Config, opts ...Option) (*Repository[P], error) {
	if store == nil {
		return nil, &ConfigError{Field: "Store", Message: "cannot be nil"}
	}
	if rem == nil {
		return nil, &ConfigError{Field: "Remote", Message: "cannot be nil"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.namespace == "" {
		o.namespace = store.Table()
	}

	lanes := keyedlock.New()
	return &Repository[P]{
		store:     store,
		remote:    rem,
		cfg:       cfg,
		cache:     o.cache,
		keys:      o.keys,
		namespace: o.namespace,
		seq:       reactive.SequencerFunc(func(key string) reactive.Ticket { return lanes.Ticket(key) }),
		lanes:     lanes,
		sched:     o.sched,
		sink:      reactive.NewSink[Notification[P]](1, o.buffer),
		logger:    o.logger.With().Str("component", "repositorysync").Str("namespace", o.namespace).Logger(),
		now:       o.now,
	}, nil
}

// Config returns the policies the repository runs with.
func (r *Repository[P]) Config() Config { return r.cfg }

// Close completes every Notifications subscriber.
func (r *Repository[P]) Close() {
	r.sink.Close()
}

// FindByID returns the entry for id. A fresh local copy is served without
// contacting the remote; otherwise the remote copy is reconciled with the
// local one and written through. When the remote cannot answer, a local copy
// is served flagged as stale, and without one the result is KindNotFound.
func (r *Repository[P]) FindByID(id string) reactive.Mono[result.Result[entity.CacheEntry[P]]] {
	const op = "repository.find_by_id"
	if err := entity.ValidateID(id); err != nil {
		return reactive.Just(result.Failure[entity.CacheEntry[P]](invalid(op, id, err)))
	}

	m := reactive.FlatMap(r.readLocal(id), func(local result.Option[entity.CacheEntry[P]]) reactive.Mono[entity.CacheEntry[P]] {
		return reactive.DeferContext(func(ctx context.Context) reactive.Mono[entity.CacheEntry[P]] {
			if cur, ok := local.Get(); ok && r.fresh(cur) && !refreshRequested(ctx) {
				r.logger.Debug().Str("op", op).Str("id", id).Str("origin", string(cur.Origin)).Msg("served locally")
				return r.served(cur)
			}
			return r.fetchOne(op, id, local)
		})
	})
	return settle(r, op, id, serialized(r, id, bounded(r, m)))
}

func (r *Repository[P]) fetchOne(op, id string, local result.Option[entity.CacheEntry[P]]) reactive.Mono[entity.CacheEntry[P]] {
	empty := result.New(result.KindNotFound, "empty response").WithOp("remote.get").WithID(id)
	fetched := remoteRead(r, r.remote.Get(id)).
		SwitchIfEmpty(reactive.Fail[entity.Entity[P]](empty)).
		MapError(func(err error) error { return remoteError{err} })

	return reactive.FlatMap(fetched, func(e entity.Entity[P]) reactive.Mono[entity.CacheEntry[P]] {
		if e.ID == "" {
			e.ID = id
		}
		if e.ID != id {
			return reactive.Fail[entity.CacheEntry[P]](result.Errorf(result.KindServer, "remote answered with id %q", e.ID).WithOp(op).WithID(id))
		}
		return r.reconcile(local, e)
	}).OnErrorResume(func(err error) reactive.Mono[entity.CacheEntry[P]] {
		var re remoteError
		if !errors.As(err, &re) {
			return reactive.Fail[entity.CacheEntry[P]](err)
		}
		return r.degrade(op, id, local, re.err)
	})
}

// degrade answers a read whose remote call failed.
func (r *Repository[P]) degrade(op, id string, local result.Option[entity.CacheEntry[P]], err error) reactive.Mono[entity.CacheEntry[P]] {
	if errors.Is(err, context.Canceled) {
		return reactive.Fail[entity.CacheEntry[P]](err)
	}
	if cur, ok := local.Get(); ok {
		r.logger.Warn().Err(err).Str("op", op).Str("id", id).Msg("remote unavailable, serving stale copy")
		return r.served(cur.WithOrigin(entity.OriginLocal).MarkStale())
	}
	return reactive.Fail[entity.CacheEntry[P]](result.Wrap(result.KindNotFound, err, "not available locally or remotely").WithOp(op).WithID(id))
}

// reconcile applies the conflict policy to one remote copy and writes the
// winner through when it is the remote one.
func (r *Repository[P]) reconcile(local result.Option[entity.CacheEntry[P]], e entity.Entity[P]) reactive.Mono[entity.CacheEntry[P]] {
	v, err := resolve(r.cfg.ConflictPolicy, local, e)
	if err != nil {
		return reactive.Fail[entity.CacheEntry[P]](err)
	}
	switch v {
	case keepLocal:
		cur, _ := local.Get()
		if !cur.RemoteKnown {
			return r.writeLocal(cur.WithRemoteKnown(true))
		}
		return r.served(cur)
	case conflicted:
		return reactive.Fail[entity.CacheEntry[P]](conflictError(e.ID))
	}

	entry, err := entity.NewCacheEntry(e, entity.OriginSynced, r.now())
	if err != nil {
		return reactive.Fail[entity.CacheEntry[P]](result.Wrap(result.KindServer, err, "remote payload").WithID(e.ID))
	}
	return r.writeLocal(entry.WithRemoteKnown(true))
}

type fetchOutcome[P any] struct {
	items []entity.Entity[P]
	err   error
}

// FindAll merges the local and the remote collections, fetched concurrently.
// Remote winners are written through, local entries the remote does not know
// are kept as pending. The result lists remote entries in remote order, then
// local-only entries by id. When the remote fails the local set is served
// flagged as stale, unless it is empty.
func (r *Repository[P]) FindAll() reactive.Mono[result.Result[[]entity.CacheEntry[P]]] {
	const op = "repository.find_all"

	fromRemote := reactive.Map(remoteRead(r, r.remote.GetAll()), func(items []entity.Entity[P]) fetchOutcome[P] {
		return fetchOutcome[P]{items: items}
	}).OnErrorResume(func(err error) reactive.Mono[fetchOutcome[P]] {
		return reactive.Just(fetchOutcome[P]{err: err})
	})

	m := reactive.FlatMap(reactive.Zip(leaf(r, r.store.GetAll), fromRemote), func(p reactive.Pair[[]entity.CacheEntry[P], fetchOutcome[P]]) reactive.Mono[[]entity.CacheEntry[P]] {
		local, fetched := p.First, p.Second
		if fetched.err != nil {
			return r.degradeAll(op, local, fetched.err)
		}
		return r.merge(op, local, fetched.items)
	})
	return settle(r, op, "", bounded(r, m))
}

func (r *Repository[P]) degradeAll(op string, local []entity.CacheEntry[P], err error) reactive.Mono[[]entity.CacheEntry[P]] {
	if errors.Is(err, context.Canceled) || len(local) == 0 {
		return reactive.Fail[[]entity.CacheEntry[P]](err)
	}
	r.logger.Warn().Err(err).Str("op", op).Int("entries", len(local)).Msg("remote unavailable, serving stale copies")
	out := make([]entity.CacheEntry[P], len(local))
	ids := make([]string, len(local))
	for i, e := range local {
		out[i] = e.MarkStale()
		ids[i] = e.ID()
	}
	return reactive.Map(r.touch(ids...), func(int) []entity.CacheEntry[P] { return out })
}

func (r *Repository[P]) merge(op string, local []entity.CacheEntry[P], items []entity.Entity[P]) reactive.Mono[[]entity.CacheEntry[P]] {
	byID := make(map[string]entity.CacheEntry[P], len(local))
	for _, e := range local {
		byID[e.ID()] = e
	}

	seen := make(map[string]bool, len(items))
	accepted := make([]entity.Entity[P], 0, len(items))
	var conflicts []string
	for _, e := range items {
		if err := entity.ValidateID(e.ID); err != nil || seen[e.ID] {
			r.logger.Warn().Str("op", op).Str("id", e.ID).Msg("skipping remote entry with invalid or duplicate id")
			continue
		}
		seen[e.ID] = true
		accepted = append(accepted, e)

		cur := result.None[entity.CacheEntry[P]]()
		if c, ok := byID[e.ID]; ok {
			cur = result.Some(c)
		}
		v, err := resolve(r.cfg.ConflictPolicy, cur, e)
		if err != nil {
			return reactive.Fail[[]entity.CacheEntry[P]](err)
		}
		if v == conflicted {
			conflicts = append(conflicts, e.ID)
		}
	}
	if len(conflicts) > 0 {
		return reactive.Fail[[]entity.CacheEntry[P]](conflictError(conflicts...).WithOp(op))
	}

	// each step rereads the local copy under its lane, so writes that landed
	// since the snapshot are reconciled rather than overwritten
	steps := make([]reactive.Mono[entity.CacheEntry[P]], 0, len(accepted)+len(local))
	for _, e := range accepted {
		steps = append(steps, serialized(r, e.ID, reactive.FlatMap(r.readLocal(e.ID), func(cur result.Option[entity.CacheEntry[P]]) reactive.Mono[entity.CacheEntry[P]] {
			return r.reconcile(cur, e)
		})))
	}
	for _, l := range local {
		if seen[l.ID()] {
			continue
		}
		id := l.ID()
		steps = append(steps, serialized(r, id, reactive.FlatMap(r.readLocal(id), func(cur result.Option[entity.CacheEntry[P]]) reactive.Mono[entity.CacheEntry[P]] {
			c, ok := cur.Get()
			if !ok {
				return reactive.Empty[entity.CacheEntry[P]]()
			}
			if c.Pending() {
				return r.served(c)
			}
			return r.writeLocal(c.WithOrigin(entity.OriginLocal).WithRemoteKnown(false))
		})))
	}
	return reactive.Sequence(r.cfg.Concurrency, steps)
}

// Save validates e, stores it locally as pending and pushes it to the remote.
// An empty id is replaced by a random UUID. Saving a payload identical to a
// synced copy is a no-op. When the push fails the local copy stays pending
// and the remote failure is returned.
func (r *Repository[P]) Save(e entity.Entity[P]) reactive.Mono[result.Result[entity.CacheEntry[P]]] {
	const op = "repository.save"
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.UpdatedAt = entity.NormalizeTime(e.UpdatedAt)
	if err := e.Validate(); err != nil {
		return reactive.Just(result.Failure[entity.CacheEntry[P]](invalid(op, e.ID, err)))
	}
	sum, err := entity.Fingerprint(e.Payload)
	if err != nil {
		return reactive.Just(result.Failure[entity.CacheEntry[P]](invalid(op, e.ID, err)))
	}

	id := e.ID
	m := reactive.FlatMap(r.readLocal(id), func(local result.Option[entity.CacheEntry[P]]) reactive.Mono[entity.CacheEntry[P]] {
		cur, known := local.Get()
		if known && cur.Checksum == sum && cur.Origin == entity.OriginSynced {
			r.logger.Debug().Str("op", op).Str("id", id).Msg("unchanged, skipping")
			return reactive.Just(cur)
		}

		stamped := e.WithUpdatedAt(r.now())
		if known && cur.Checksum == sum {
			stamped.UpdatedAt = cur.Entity.UpdatedAt
		}
		pending, err := entity.NewCacheEntry(stamped, entity.OriginLocal, r.now())
		if err != nil {
			return reactive.Fail[entity.CacheEntry[P]](invalid(op, id, err))
		}
		pending.RemoteKnown = known && cur.RemoteKnown

		kind := NotifyCreate
		if known {
			kind = NotifyUpdate
		}
		return reactive.FlatMap(r.writeLocal(pending), func(saved entity.CacheEntry[P]) reactive.Mono[entity.CacheEntry[P]] {
			r.notifyEntry(kind, saved)
			return r.push(op, saved)
		})
	})
	return settle(r, op, id, serialized(r, id, bounded(r, m)))
}

// push sends a pending entry to the remote and records it as synced. Records
// the remote is known to hold are PUT, others POSTed; each falls back to the
// other verb when the remote disagrees.
func (r *Repository[P]) push(op string, pending entity.CacheEntry[P]) reactive.Mono[entity.CacheEntry[P]] {
	e := pending.Entity

	var call reactive.Mono[entity.Entity[P]]
	if pending.RemoteKnown {
		call = remoteWrite(r, r.remote.Update(e)).OnErrorResume(func(err error) reactive.Mono[entity.Entity[P]] {
			if result.IsKind(err, result.KindNotFound) {
				return remoteWrite(r, r.remote.Create(e))
			}
			return reactive.Fail[entity.Entity[P]](err)
		})
	} else {
		call = remoteWrite(r, r.remote.Create(e)).OnErrorResume(func(err error) reactive.Mono[entity.Entity[P]] {
			if result.IsKind(err, result.KindConflict) {
				return remoteWrite(r, r.remote.Update(e))
			}
			return reactive.Fail[entity.Entity[P]](err)
		})
	}

	return reactive.FlatMap(call, func(echo entity.Entity[P]) reactive.Mono[entity.CacheEntry[P]] {
		echo.ID = e.ID
		if echo.UpdatedAt.IsZero() {
			echo.UpdatedAt = e.UpdatedAt
		}
		echo.UpdatedAt = entity.NormalizeTime(echo.UpdatedAt)
		synced, err := entity.NewCacheEntry(echo, entity.OriginSynced, r.now())
		if err != nil {
			return reactive.Fail[entity.CacheEntry[P]](result.Wrap(result.KindServer, err, "remote payload").WithID(e.ID))
		}
		return r.writeLocal(synced.WithRemoteKnown(true))
	}).DoOnError(func(err error) {
		r.logger.Warn().Err(err).Str("op", op).Str("id", e.ID).Msg("push failed, kept as pending")
	})
}

// Delete removes id from the remote first and then locally. A remote 404
// still deletes the local copy; other remote failures leave it in place. The
// result is the deleted id, or KindNotFound when neither tier had it.
func (r *Repository[P]) Delete(id string) reactive.Mono[result.Result[string]] {
	const op = "repository.delete"
	if err := entity.ValidateID(id); err != nil {
		return reactive.Just(result.Failure[string](invalid(op, id, err)))
	}

	fromRemote := remoteWrite(r, r.remote.Delete(id)).OnErrorResume(func(err error) reactive.Mono[bool] {
		if result.IsKind(err, result.KindNotFound) {
			return reactive.Just(false)
		}
		return reactive.Fail[bool](err)
	})

	m := reactive.FlatMap(fromRemote, func(remoteFound bool) reactive.Mono[string] {
		return reactive.FlatMap(r.deleteLocal(id), func(localFound bool) reactive.Mono[string] {
			if !remoteFound && !localFound {
				return reactive.Fail[string](result.New(result.KindNotFound, "no such entity").WithOp(op).WithID(id))
			}
			r.notify(Notification[P]{Type: NotifyDelete, ID: id})
			return reactive.Just(id)
		})
	})
	return settle(r, op, id, serialized(r, id, m))
}

// SyncPending pushes every pending local entry and returns how many were
// confirmed by the remote. The first remote failure stops the run; entries
// pushed before it stay synced.
func (r *Repository[P]) SyncPending() reactive.Mono[result.Result[int]] {
	const op = "repository.sync_pending"

	m := reactive.FlatMap(leaf(r, r.store.GetPending), func(pending []entity.CacheEntry[P]) reactive.Mono[int] {
		steps := make([]reactive.Mono[bool], 0, len(pending))
		for _, p := range pending {
			id := p.ID()
			steps = append(steps, serialized(r, id, reactive.FlatMap(r.readLocal(id), func(local result.Option[entity.CacheEntry[P]]) reactive.Mono[bool] {
				cur, ok := local.Get()
				if !ok || !cur.Pending() {
					return reactive.Just(false)
				}
				return reactive.Map(r.push(op, cur), func(entity.CacheEntry[P]) bool { return true })
			})))
		}
		return reactive.Map(reactive.Sequence(r.cfg.Concurrency, steps), countTrue)
	})
	return settle(r, op, "", m)
}

// Refresh replaces every non-pending local entry with the remote collection
// and returns how many entries were stored.
func (r *Repository[P]) Refresh() reactive.Mono[result.Result[int]] {
	const op = "repository.refresh"

	m := reactive.FlatMap(remoteRead(r, r.remote.GetAll()), func(items []entity.Entity[P]) reactive.Mono[int] {
		now := r.now()
		entries := make([]entity.CacheEntry[P], 0, len(items))
		for _, e := range items {
			if err := entity.ValidateID(e.ID); err != nil {
				r.logger.Warn().Str("op", op).Str("id", e.ID).Msg("skipping remote entry with invalid id")
				continue
			}
			entry, err := entity.NewCacheEntry(e, entity.OriginSynced, now)
			if err != nil {
				return reactive.Fail[int](result.Wrap(result.KindServer, err, "remote payload").WithID(e.ID))
			}
			entries = append(entries, entry.WithRemoteKnown(true))
		}
		return leaf(r, func(ctx context.Context) result.Result[int] {
			res := r.store.ReplaceAll(ctx, entries)
			r.purge(ctx)
			return res
		}).DoOnSuccess(func(n int) {
			r.logger.Debug().Str("op", op).Int("stored", n).Msg("refreshed")
			r.notify(Notification[P]{Type: NotifyRefresh, Count: n})
		})
	})
	return settle(r, op, "", bounded(r, m))
}

// AutoRefresh emits the outcome of a Refresh every interval until the
// subscriber stops. A non-positive interval falls back to
// Config.RefreshInterval; when that is zero too the flux completes at once.
func (r *Repository[P]) AutoRefresh(interval time.Duration) reactive.Flux[result.Result[int]] {
	if interval <= 0 {
		interval = r.cfg.RefreshInterval
	}
	return reactive.NewFlux(func(ctx context.Context, emit func(result.Result[int]) bool) error {
		if interval <= 0 {
			return nil
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				res, _, _ := r.Refresh().Block(ctx)
				if ctx.Err() != nil {
					return nil
				}
				if !emit(res) {
					return nil
				}
			}
		}
	})
}

// StartAutoRefresh runs AutoRefresh in the background until ctx ends or the
// returned subscription is cancelled.
func (r *Repository[P]) StartAutoRefresh(ctx context.Context, interval time.Duration) *reactive.Subscription {
	return r.AutoRefresh(interval).Subscribe(ctx, reactive.Observer[result.Result[int]]{
		OnNext: func(res result.Result[int]) {
			if res.IsFailure() {
				r.logger.Warn().Err(res.Err()).Msg("auto refresh failed")
			}
		},
	})
}

// Invalidate drops the cached copy of id from the memory tier and the local
// store, so the next read goes to the remote. It reports whether a copy
// existed and refuses with KindConflict when the copy has unsynced changes.
func (r *Repository[P]) Invalidate(id string) reactive.Mono[result.Result[bool]] {
	const op = "repository.invalidate"
	if err := entity.ValidateID(id); err != nil {
		return reactive.Just(result.Failure[bool](invalid(op, id, err)))
	}

	m := reactive.FlatMap(r.readLocal(id), func(local result.Option[entity.CacheEntry[P]]) reactive.Mono[bool] {
		cur, ok := local.Get()
		if !ok {
			return reactive.Just(false)
		}
		if cur.Pending() {
			return reactive.Fail[bool](result.New(result.KindConflict, "entry has unsynced local changes").WithOp(op).WithID(id))
		}
		return r.deleteLocal(id)
	})
	return settle(r, op, id, serialized(r, id, m))
}

func (r *Repository[P]) fresh(e entity.CacheEntry[P]) bool {
	return e.Pending() || !e.ExpiredAt(r.now(), r.cfg.ttl())
}

// serialized queues m behind every earlier operation on id.
func serialized[T, P any](r *Repository[P], id string, m reactive.Mono[T]) reactive.Mono[T] {
	return m.Serialize(r.seq, id)
}

func countTrue(flags []bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}

func invalid(op, id string, err error) *result.Error {
	return result.Wrap(result.KindValidation, err, "invalid entity").WithOp(op).WithID(id)
}

// remoteError marks failures raised by the remote tier so reads can degrade
// on them and only on them.
type remoteError struct{ err error }

func (e remoteError) Error() string { return e.err.Error() }
func (e remoteError) Unwrap() error { return e.err }
