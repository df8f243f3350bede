package repositorysync

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/goliatone/go-repository-sync/cache"
	"github.com/goliatone/go-repository-sync/entity"
	"github.com/goliatone/go-repository-sync/reactive"
	"github.com/goliatone/go-repository-sync/result"
)

// leaf lifts a local store call into a Mono executed on the scheduler.
func leaf[T, P any](r *Repository[P], fn func(ctx context.Context) result.Result[T]) reactive.Mono[T] {
	return reactive.FromFunc(func(ctx context.Context) (T, error) {
		return fn(ctx).Get()
	}).SubscribeOn(r.sched)
}

// key includes the purge generation, so a copy read before a purge and cached
// after it lands under a retired key.
func (r *Repository[P]) key(id string) string {
	return r.keys.SerializeKey("entry", r.namespace, r.gen.Load(), id)
}

// readLocal looks id up in the memory tier, then in the local store.
func (r *Repository[P]) readLocal(id string) reactive.Mono[result.Option[entity.CacheEntry[P]]] {
	return leaf(r, func(ctx context.Context) result.Result[result.Option[entity.CacheEntry[P]]] {
		if r.cache == nil {
			return r.store.Get(ctx, id)
		}
		e, err := cache.GetOrFetch(ctx, r.cache, r.key(id), func(ctx context.Context) (entity.CacheEntry[P], error) {
			res := r.store.Get(ctx, id)
			if res.IsFailure() {
				return entity.CacheEntry[P]{}, res.Err()
			}
			found, ok := res.Value().Get()
			if !ok {
				return entity.CacheEntry[P]{}, cache.ErrNotFound
			}
			return found, nil
		})
		switch {
		case errors.Is(err, cache.ErrNotFound):
			return result.Success(result.None[entity.CacheEntry[P]]())
		case err != nil:
			return result.Failure[result.Option[entity.CacheEntry[P]]](result.As(err, result.KindStorage).WithOp("local.get").WithID(id))
		}
		return result.Success(result.Some(e))
	})
}

func (r *Repository[P]) writeLocal(entry entity.CacheEntry[P]) reactive.Mono[entity.CacheEntry[P]] {
	return leaf(r, func(ctx context.Context) result.Result[entity.CacheEntry[P]] {
		res := r.store.Save(ctx, entry)
		if res.IsSuccess() {
			r.remember(ctx, res.Value())
		}
		return res
	})
}

func (r *Repository[P]) deleteLocal(id string) reactive.Mono[bool] {
	return leaf(r, func(ctx context.Context) result.Result[bool] {
		res := r.store.Delete(ctx, id)
		if res.IsSuccess() {
			r.forget(ctx, id)
		}
		return res
	})
}

// bounded enforces the LRU bound once m has succeeded. Eviction failures are
// logged and do not fail m.
func bounded[T, P any](r *Repository[P], m reactive.Mono[T]) reactive.Mono[T] {
	if r.cfg.Eviction != EvictionLRU || r.cfg.MaxEntries <= 0 {
		return m
	}
	return reactive.FlatMap(m, func(v T) reactive.Mono[T] {
		evict := leaf(r, func(ctx context.Context) result.Result[int] {
			res := r.store.Evict(ctx, r.cfg.MaxEntries)
			if res.Value() > 0 {
				r.purge(ctx)
			}
			return res
		}).OnErrorResume(func(err error) reactive.Mono[int] {
			r.logger.Warn().Err(err).Msg("eviction failed")
			return reactive.Just(0)
		})
		return reactive.Map(evict, func(int) T { return v })
	})
}

// served emits a copy read from the local tiers, recording the read for LRU
// eviction.
func (r *Repository[P]) served(e entity.CacheEntry[P]) reactive.Mono[entity.CacheEntry[P]] {
	if r.cfg.Eviction != EvictionLRU {
		return reactive.Just(e)
	}
	return reactive.Map(r.touch(e.ID()), func(int) entity.CacheEntry[P] { return e })
}

// touch is best effort: a failure is logged and reported as zero touched.
func (r *Repository[P]) touch(ids ...string) reactive.Mono[int] {
	if r.cfg.Eviction != EvictionLRU || len(ids) == 0 {
		return reactive.Just(0)
	}
	return leaf(r, func(ctx context.Context) result.Result[int] {
		return r.store.Touch(ctx, r.now(), ids...)
	}).OnErrorResume(func(err error) reactive.Mono[int] {
		r.logger.Warn().Err(err).Int("entries", len(ids)).Msg("recording access failed")
		return reactive.Just(0)
	})
}

func (r *Repository[P]) remember(ctx context.Context, e entity.CacheEntry[P]) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, r.key(e.ID()), e); err != nil {
		r.logger.Warn().Err(err).Str("id", e.ID()).Msg("memory tier set failed")
	}
}

func (r *Repository[P]) forget(ctx context.Context, id string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, r.key(id)); err != nil {
		r.logger.Warn().Err(err).Str("id", id).Msg("memory tier delete failed")
	}
}

// purge retires the current key generation and drops the whole namespace
// from the memory tier.
func (r *Repository[P]) purge(ctx context.Context) {
	if r.cache == nil {
		return
	}
	r.gen.Add(1)
	if _, err := r.cache.DeleteByPrefix(ctx, cache.Prefix(r.keys, "entry", r.namespace)); err != nil {
		r.logger.Warn().Err(err).Msg("memory tier purge failed")
	}
}

// remoteRead bounds each attempt by RemoteTimeout and retries per policy.
func remoteRead[T, P any](r *Repository[P], m reactive.Mono[T]) reactive.Mono[T] {
	return m.Timeout(r.cfg.RemoteTimeout).Retry(r.cfg.retryPolicy())
}

// remoteWrite is remoteRead without retries unless RetryWrites is set.
func remoteWrite[T, P any](r *Repository[P], m reactive.Mono[T]) reactive.Mono[T] {
	if !r.cfg.RetryWrites {
		return m.Timeout(r.cfg.RemoteTimeout)
	}
	return remoteRead(r, m)
}

// settle materialises m into a Result: failures and panics become Failure,
// an empty completion becomes KindNotFound.
func settle[T, P any](r *Repository[P], op, id string, m reactive.Mono[T]) reactive.Mono[result.Result[T]] {
	return reactive.Map(m.Recover(), result.Success[T]).
		OnErrorResume(func(err error) reactive.Mono[result.Result[T]] {
			e := result.As(err, result.KindUnknown).WithOp(op).WithID(id)
			r.logFailure(e)
			return reactive.Just(result.Failure[T](e))
		}).
		SwitchIfEmpty(reactive.Defer(func() reactive.Mono[result.Result[T]] {
			return reactive.Just(result.Failure[T](result.New(result.KindNotFound, "no result").WithOp(op).WithID(id)))
		}))
}

func (r *Repository[P]) logFailure(e *result.Error) {
	level := zerolog.DebugLevel
	switch e.Kind {
	case result.KindStorage, result.KindUnknown:
		level = zerolog.ErrorLevel
	case result.KindNetwork, result.KindServer:
		level = zerolog.WarnLevel
	}
	r.logger.WithLevel(level).Err(e).Str("op", e.Op).Str("id", e.ID).Str("kind", e.Kind.String()).Msg("operation failed")
}
