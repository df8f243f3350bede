package reactive

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned by Timeout when the deadline elapses. It wraps
	// context.DeadlineExceeded.
	ErrTimeout = fmt.Errorf("reactive: timeout: %w", context.DeadlineExceeded)
	// ErrPanic wraps a value recovered by Recover.
	ErrPanic = errors.New("reactive: panic")
)

// thunk is a prepared producer. It reports the item, whether an item was
// produced, and an error.
type thunk[T any] func(ctx context.Context) (T, bool, error)

// Mono is a lazy producer of at most one item. The zero Mono completes empty.
type Mono[T any] struct {
	prepare func() thunk[T]
}

func (m Mono[T]) start() thunk[T] {
	if m.prepare == nil {
		return emptyThunk[T]
	}
	return m.prepare()
}

func emptyThunk[T any](context.Context) (T, bool, error) {
	var zero T
	return zero, false, nil
}

// New creates a Mono from a function reporting (item, present, error). The
// function is not called when the context is already done.
func New[T any](fn func(ctx context.Context) (T, bool, error)) Mono[T] {
	run := func(ctx context.Context) (T, bool, error) {
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, false, err
		}
		return fn(ctx)
	}
	return Mono[T]{prepare: func() thunk[T] { return run }}
}

// FromFunc creates a Mono that always produces an item unless fn fails.
func FromFunc[T any](fn func(ctx context.Context) (T, error)) Mono[T] {
	return New(func(ctx context.Context) (T, bool, error) {
		v, err := fn(ctx)
		if err != nil {
			return v, false, err
		}
		return v, true, nil
	})
}

// Just creates a Mono emitting v.
func Just[T any](v T) Mono[T] {
	run := func(context.Context) (T, bool, error) { return v, true, nil }
	return Mono[T]{prepare: func() thunk[T] { return run }}
}

// Empty creates a Mono that completes without an item.
func Empty[T any]() Mono[T] {
	return Mono[T]{}
}

// Fail creates a Mono that fails with err.
func Fail[T any](err error) Mono[T] {
	run := func(context.Context) (T, bool, error) {
		var zero T
		return zero, false, err
	}
	return Mono[T]{prepare: func() thunk[T] { return run }}
}

// Defer builds the Mono at preparation time, once per subscription.
func Defer[T any](fn func() Mono[T]) Mono[T] {
	return Mono[T]{prepare: func() thunk[T] { return fn().start() }}
}

// DeferContext is Defer with access to the subscriber's context. The Mono is
// built and prepared at execution time, so a Serialize inside it takes its
// ticket then.
func DeferContext[T any](fn func(ctx context.Context) Mono[T]) Mono[T] {
	return Mono[T]{prepare: func() thunk[T] {
		return func(ctx context.Context) (T, bool, error) {
			return fn(ctx).start()(ctx)
		}
	}}
}

// Block prepares and executes m on the calling goroutine.
func (m Mono[T]) Block(ctx context.Context) (T, bool, error) {
	return m.start()(ctx)
}

// Subscribe prepares m synchronously and executes it on a new goroutine,
// delivering the outcome to obs. Cancelling the subscription cancels the
// context seen by every upstream producer.
func (m Mono[T]) Subscribe(ctx context.Context, obs Observer[T]) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	run := m.start()
	sub := newSubscription(cancel)

	go func() {
		defer sub.finish()
		v, ok, err := guarded(ctx, run)
		if err != nil {
			sub.err = err
			obs.error(err)
			return
		}
		if ok {
			obs.next(v)
		}
		obs.complete()
	}()

	return sub
}

// guarded executes run, turning a panic into an ErrPanic error.
func guarded[T any](ctx context.Context, run thunk[T]) (v T, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, ok, err = zero, false, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return run(ctx)
}
