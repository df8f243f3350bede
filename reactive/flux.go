package reactive

import "context"

// Flux is a lazy producer of zero or more items. The source calls emit for each
// item and stops as soon as emit returns false.
type Flux[T any] struct {
	src func(ctx context.Context, emit func(T) bool) error
}

// NewFlux creates a Flux from a source function.
func NewFlux[T any](src func(ctx context.Context, emit func(T) bool) error) Flux[T] {
	return Flux[T]{src: src}
}

// FromSlice emits the items of s in order.
func FromSlice[T any](s []T) Flux[T] {
	return Flux[T]{src: func(ctx context.Context, emit func(T) bool) error {
		for _, v := range s {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !emit(v) {
				return nil
			}
		}
		return nil
	}}
}

func (f Flux[T]) run(ctx context.Context, emit func(T) bool) error {
	if f.src == nil {
		return nil
	}
	return f.src(ctx, emit)
}

// MapFlux transforms every item of f.
func MapFlux[T, R any](f Flux[T], fn func(T) R) Flux[R] {
	return Flux[R]{src: func(ctx context.Context, emit func(R) bool) error {
		return f.run(ctx, func(v T) bool { return emit(fn(v)) })
	}}
}

// Filter keeps the items for which keep returns true.
func (f Flux[T]) Filter(keep func(T) bool) Flux[T] {
	return Flux[T]{src: func(ctx context.Context, emit func(T) bool) error {
		return f.run(ctx, func(v T) bool {
			if !keep(v) {
				return true
			}
			return emit(v)
		})
	}}
}

// Take emits at most n items and then stops the source.
func (f Flux[T]) Take(n int) Flux[T] {
	return Flux[T]{src: func(ctx context.Context, emit func(T) bool) error {
		if n <= 0 {
			return nil
		}
		seen := 0
		return f.run(ctx, func(v T) bool {
			seen++
			if !emit(v) {
				return false
			}
			return seen < n
		})
	}}
}

// Collect gathers every item of f into a slice.
func (f Flux[T]) Collect() Mono[[]T] {
	return New(func(ctx context.Context) ([]T, bool, error) {
		out := []T{}
		err := f.run(ctx, func(v T) bool {
			out = append(out, v)
			return true
		})
		if err != nil {
			return nil, false, err
		}
		return out, true, nil
	})
}

// Subscribe runs f on a new goroutine, delivering each item to obs.OnNext.
func (f Flux[T]) Subscribe(ctx context.Context, obs Observer[T]) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := newSubscription(cancel)

	go func() {
		defer sub.finish()
		_, _, err := guarded[struct{}](ctx, func(ctx context.Context) (struct{}, bool, error) {
			return struct{}{}, false, f.run(ctx, func(v T) bool {
				obs.next(v)
				return ctx.Err() == nil
			})
		})
		if err != nil {
			sub.err = err
			obs.error(err)
			return
		}
		obs.complete()
	}()

	return sub
}
