package result

// Result is a tagged union of a value or a *Error. The zero value is a
// Success holding the zero T.
type Result[T any] struct {
	value T
	err   *Error
}

// Success wraps a value.
func Success[T any](value T) Result[T] {
	return Result[T]{value: value}
}

// Failure wraps an error. Errors without an *Error in their chain are
// classified as KindUnknown. A nil error still yields a Failure so the
// invariant "exactly one variant" holds.
func Failure[T any](err error) Result[T] {
	if err == nil {
		return Result[T]{err: New(KindUnknown, "failure without cause")}
	}
	return Result[T]{err: As(err, KindUnknown)}
}

// IsSuccess reports whether r holds a value.
func (r Result[T]) IsSuccess() bool { return r.err == nil }

// IsFailure reports whether r holds an error.
func (r Result[T]) IsFailure() bool { return r.err != nil }

// Value returns the success value, or the zero T on failure.
func (r Result[T]) Value() T { return r.value }

// Err returns the failure as an error, nil on success.
func (r Result[T]) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

// Fault returns the failure payload, nil on success.
func (r Result[T]) Fault() *Error { return r.err }

// Kind returns the failure kind, KindUnknown on success.
func (r Result[T]) Kind() Kind {
	if r.err == nil {
		return KindUnknown
	}
	return r.err.Kind
}

// Get unpacks r in Go style.
func (r Result[T]) Get() (T, error) {
	return r.value, r.Err()
}

// OrElse returns the value, or fallback on failure.
func (r Result[T]) OrElse(fallback T) T {
	if r.err != nil {
		return fallback
	}
	return r.value
}

// MapError transforms the failure, leaving successes untouched.
func (r Result[T]) MapError(fn func(*Error) *Error) Result[T] {
	if r.err == nil {
		return r
	}
	if mapped := fn(r.err); mapped != nil {
		return Result[T]{err: mapped}
	}
	return r
}

// Of builds a Result from a Go (value, error) pair.
func Of[T any](value T, err error) Result[T] {
	if err != nil {
		return Failure[T](err)
	}
	return Success(value)
}

// Map applies fn to the success value.
func Map[T, R any](r Result[T], fn func(T) R) Result[R] {
	if r.err != nil {
		return Result[R]{err: r.err}
	}
	return Success(fn(r.value))
}

// FlatMap chains a Result-returning step.
func FlatMap[T, R any](r Result[T], fn func(T) Result[R]) Result[R] {
	if r.err != nil {
		return Result[R]{err: r.err}
	}
	return fn(r.value)
}

// Fold collapses r into a single value.
func Fold[T, R any](r Result[T], onFailure func(*Error) R, onSuccess func(T) R) R {
	if r.err != nil {
		return onFailure(r.err)
	}
	return onSuccess(r.value)
}

// Option models an optional value, e.g. a store lookup that may find nothing.
type Option[T any] struct {
	value T
	ok    bool
}

// Some wraps a present value.
func Some[T any](value T) Option[T] { return Option[T]{value: value, ok: true} }

// None returns an empty Option.
func None[T any]() Option[T] { return Option[T]{} }

// Get returns the value and whether it is present.
func (o Option[T]) Get() (T, bool) { return o.value, o.ok }

// IsPresent reports whether o holds a value.
func (o Option[T]) IsPresent() bool { return o.ok }
