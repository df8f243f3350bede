package reactive

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Map transforms the item of m.
func Map[T, R any](m Mono[T], fn func(T) R) Mono[R] {
	return Mono[R]{prepare: func() thunk[R] {
		run := m.start()
		return func(ctx context.Context) (R, bool, error) {
			v, ok, err := run(ctx)
			if err != nil || !ok {
				var zero R
				return zero, false, err
			}
			return fn(v), true, nil
		}
	}}
}

// FlatMap chains a Mono-returning step. The inner Mono is prepared only once the
// outer item is available.
func FlatMap[T, R any](m Mono[T], fn func(T) Mono[R]) Mono[R] {
	return Mono[R]{prepare: func() thunk[R] {
		run := m.start()
		return func(ctx context.Context) (R, bool, error) {
			v, ok, err := run(ctx)
			if err != nil || !ok {
				var zero R
				return zero, false, err
			}
			return fn(v).start()(ctx)
		}
	}}
}

// Pair holds the items combined by Zip.
type Pair[A, B any] struct {
	First  A
	Second B
}

// Zip runs a and b concurrently and emits both items. It completes empty when
// either side is empty and fails with the first error, cancelling the other side.
func Zip[A, B any](a Mono[A], b Mono[B]) Mono[Pair[A, B]] {
	return Mono[Pair[A, B]]{prepare: func() thunk[Pair[A, B]] {
		runA, runB := a.start(), b.start()
		return func(ctx context.Context) (Pair[A, B], bool, error) {
			ctx, cancel := context.WithCancelCause(ctx)
			defer cancel(nil)

			type outcome struct {
				v   B
				ok  bool
				err error
			}
			second := make(chan outcome, 1)
			go func() {
				v, ok, err := guarded(ctx, runB)
				if err != nil {
					cancel(err)
				}
				second <- outcome{v, ok, err}
			}()

			va, okA, errA := runA(ctx)
			if errA != nil {
				cancel(errA)
			}
			ob := <-second

			var zero Pair[A, B]
			switch {
			case errA != nil && !errors.Is(errA, context.Canceled):
				return zero, false, errA
			case ob.err != nil:
				return zero, false, ob.err
			case errA != nil:
				return zero, false, errA
			case !okA || !ob.ok:
				return zero, false, nil
			}
			return Pair[A, B]{First: va, Second: ob.v}, true, nil
		}
	}}
}

// RetryPolicy configures Retry. Delays grow by Multiplier from InitialDelay and
// are capped by MaxDelay when it is positive.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Retryable decides whether an error is worth another attempt. Nil retries
	// every error.
	Retryable func(error) bool
}

// Delay returns the backoff before retry number attempt, counting from zero.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.InitialDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (p RetryPolicy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// Retry resubscribes to m after a failure, up to p.MaxRetries times. Empty
// completions are not retried.
func (m Mono[T]) Retry(p RetryPolicy) Mono[T] {
	if p.MaxRetries <= 0 {
		return m
	}
	return Mono[T]{prepare: func() thunk[T] {
		first := m.start()
		return func(ctx context.Context) (T, bool, error) {
			run := first
			for attempt := 0; ; attempt++ {
				v, ok, err := run(ctx)
				if err == nil || attempt >= p.MaxRetries || !p.retryable(err) || ctx.Err() != nil {
					return v, ok, err
				}
				if d := p.Delay(attempt); d > 0 {
					timer := time.NewTimer(d)
					select {
					case <-ctx.Done():
						timer.Stop()
						var zero T
						return zero, false, context.Cause(ctx)
					case <-timer.C:
					}
				}
				run = m.start()
			}
		}
	}}
}

// FallbackTo switches to alt when m fails. An empty completion is not a failure.
func (m Mono[T]) FallbackTo(alt Mono[T]) Mono[T] {
	return m.OnErrorResume(func(error) Mono[T] { return alt })
}

// OnErrorResume switches to the Mono returned by fn when m fails.
func (m Mono[T]) OnErrorResume(fn func(error) Mono[T]) Mono[T] {
	return Mono[T]{prepare: func() thunk[T] {
		run := m.start()
		return func(ctx context.Context) (T, bool, error) {
			v, ok, err := run(ctx)
			if err == nil {
				return v, ok, nil
			}
			return fn(err).start()(ctx)
		}
	}}
}

// SwitchIfEmpty switches to alt when m completes without an item.
func (m Mono[T]) SwitchIfEmpty(alt Mono[T]) Mono[T] {
	return Mono[T]{prepare: func() thunk[T] {
		run := m.start()
		return func(ctx context.Context) (T, bool, error) {
			v, ok, err := run(ctx)
			if err != nil || ok {
				return v, ok, err
			}
			return alt.start()(ctx)
		}
	}}
}

// Timeout fails with ErrTimeout when m does not terminate within d. The
// deadline covers execution only. A non-positive d disables the timeout.
func (m Mono[T]) Timeout(d time.Duration) Mono[T] {
	if d <= 0 {
		return m
	}
	return Mono[T]{prepare: func() thunk[T] {
		run := m.start()
		return func(parent context.Context) (T, bool, error) {
			ctx, cancel := context.WithTimeoutCause(parent, d, ErrTimeout)
			defer cancel()
			v, ok, err := run(ctx)
			if err != nil && parent.Err() == nil && errors.Is(context.Cause(ctx), ErrTimeout) {
				var zero T
				return zero, false, ErrTimeout
			}
			return v, ok, err
		}
	}}
}

// MapError rewrites the error of a failed m.
func (m Mono[T]) MapError(fn func(error) error) Mono[T] {
	return Mono[T]{prepare: func() thunk[T] {
		run := m.start()
		return func(ctx context.Context) (T, bool, error) {
			v, ok, err := run(ctx)
			if err != nil {
				return v, false, fn(err)
			}
			return v, ok, nil
		}
	}}
}

// DoOnSuccess calls fn with the item, when there is one.
func (m Mono[T]) DoOnSuccess(fn func(T)) Mono[T] {
	return Mono[T]{prepare: func() thunk[T] {
		run := m.start()
		return func(ctx context.Context) (T, bool, error) {
			v, ok, err := run(ctx)
			if err == nil && ok {
				fn(v)
			}
			return v, ok, err
		}
	}}
}

// DoOnError calls fn with the error of a failed m.
func (m Mono[T]) DoOnError(fn func(error)) Mono[T] {
	return Mono[T]{prepare: func() thunk[T] {
		run := m.start()
		return func(ctx context.Context) (T, bool, error) {
			v, ok, err := run(ctx)
			if err != nil {
				fn(err)
			}
			return v, ok, err
		}
	}}
}

// SubscribeOn executes m on s, waiting for a free slot first. A nil scheduler
// leaves m unchanged.
func (m Mono[T]) SubscribeOn(s *Scheduler) Mono[T] {
	if s == nil {
		return m
	}
	return Mono[T]{prepare: func() thunk[T] {
		run := m.start()
		return func(ctx context.Context) (T, bool, error) {
			if err := s.Acquire(ctx); err != nil {
				// the prepared producer still runs so it can release what it holds
				return run(ctx)
			}
			defer s.Release()
			return run(ctx)
		}
	}}
}

// Recover turns a panic raised while executing m into an ErrPanic failure.
func (m Mono[T]) Recover() Mono[T] {
	return Mono[T]{prepare: func() thunk[T] {
		var run thunk[T]
		prepErr := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: %v", ErrPanic, r)
				}
			}()
			run = m.start()
			return nil
		}()
		if prepErr != nil {
			return func(context.Context) (T, bool, error) {
				var zero T
				return zero, false, prepErr
			}
		}
		return func(ctx context.Context) (T, bool, error) {
			return guarded(ctx, run)
		}
	}}
}

// Ticket is a place in a per-key queue. Wait blocks until every earlier ticket
// for the key has been released. When Wait fails the ticket is abandoned and
// must not be released by the caller.
type Ticket interface {
	Wait(ctx context.Context) error
	Release()
}

// Sequencer hands out tickets in call order.
type Sequencer interface {
	Ticket(key string) Ticket
}

// SequencerFunc adapts a function to Sequencer.
type SequencerFunc func(key string) Ticket

// Ticket implements Sequencer.
func (f SequencerFunc) Ticket(key string) Ticket { return f(key) }

// Serialize runs m only after every Mono serialized earlier on the same key has
// terminated. The place in the queue is taken when m is prepared, so order
// follows subscription order rather than scheduling order.
func (m Mono[T]) Serialize(seq Sequencer, key string) Mono[T] {
	if seq == nil {
		return m
	}
	return Mono[T]{prepare: func() thunk[T] {
		t := seq.Ticket(key)
		return func(ctx context.Context) (T, bool, error) {
			if err := t.Wait(ctx); err != nil {
				var zero T
				return zero, false, err
			}
			defer t.Release()
			return m.start()(ctx)
		}
	}}
}
