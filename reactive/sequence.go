package reactive

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Sequence runs monos with at most limit in flight and emits their items in
// input order. Empty completions are skipped. The first failure cancels the
// remaining producers and fails the whole sequence. A non-positive limit runs
// all of them at once.
//
// Every Mono is prepared when the sequence is prepared, so serialized members
// keep their place in line.
func Sequence[T any](limit int, monos []Mono[T]) Mono[[]T] {
	return Mono[[]T]{prepare: func() thunk[[]T] {
		runs := make([]thunk[T], len(monos))
		for i, m := range monos {
			runs[i] = m.start()
		}
		return func(ctx context.Context) ([]T, bool, error) {
			g, gctx := errgroup.WithContext(ctx)
			if limit > 0 {
				g.SetLimit(limit)
			}

			items := make([]T, len(runs))
			present := make([]bool, len(runs))
			for i, run := range runs {
				g.Go(func() error {
					v, ok, err := guarded(gctx, run)
					if err != nil {
						return err
					}
					items[i], present[i] = v, ok
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return nil, false, err
			}

			out := make([]T, 0, len(items))
			for i, v := range items {
				if present[i] {
					out = append(out, v)
				}
			}
			return out, true, nil
		}
	}}
}
