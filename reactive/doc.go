// Package reactive provides a small lazy producer toolkit: Mono for zero or one
// item, Flux for zero or more, and the operators the sync repository composes.
//
// A Mono does nothing until it is subscribed or blocked on. Subscribing happens in
// two phases. Preparation runs synchronously on the caller's goroutine and is
// where Serialize takes its place in a per-key queue, so operations observe the
// order in which they were submitted. Execution follows, either on a new
// goroutine (Subscribe) or inline (Block), and honours the context passed at
// subscription time.
//
// Every prepared producer is executed exactly once, even when its context is
// already cancelled, so resources taken during preparation are always released.
//
//	m := reactive.FromFunc(load).
//		Retry(reactive.RetryPolicy{MaxRetries: 3, InitialDelay: 50 * time.Millisecond}).
//		Timeout(2 * time.Second)
//	v, ok, err := m.Block(ctx)
package reactive
