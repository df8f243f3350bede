// Package result provides the success/failure algebra used across the
// repository boundary layers.
//
// Every boundary call in this module returns a Result[T] instead of panicking or
// leaking raw driver/transport errors. A Result holds exactly one of:
//
//   - a value (Success)
//   - a *Error carrying a Kind from a closed taxonomy (Failure)
//
// The taxonomy is small on purpose, callers branch on the Kind:
//
//   - KindStorage: local persistence fault, fatal for the call
//   - KindNetwork: remote unreachable, timed out or cancelled
//   - KindNotFound: entity absent, terminal
//   - KindServer: remote answered with an unexpected status or body
//   - KindConflict: caller intervention required
//   - KindValidation: malformed entity rejected before any I/O
//
// The original cause is always preserved, so errors.Is and errors.As keep working
// through a Failure:
//
//	res := store.Get(ctx, "42")
//	if res.IsFailure() && errors.Is(res.Err(), context.Canceled) {
//		// the caller gave up
//	}
package result
