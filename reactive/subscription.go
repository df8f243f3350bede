package reactive

import "context"

// Observer receives the outcome of a subscription. Nil callbacks are skipped.
type Observer[T any] struct {
	OnNext     func(T)
	OnError    func(error)
	OnComplete func()
}

func (o Observer[T]) next(v T) {
	if o.OnNext != nil {
		o.OnNext(v)
	}
}

func (o Observer[T]) error(err error) {
	if o.OnError != nil {
		o.OnError(err)
	}
}

func (o Observer[T]) complete() {
	if o.OnComplete != nil {
		o.OnComplete()
	}
}

// Subscription is a handle on a running producer.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func newSubscription(cancel context.CancelFunc) *Subscription {
	return &Subscription{cancel: cancel, done: make(chan struct{})}
}

func (s *Subscription) finish() {
	s.cancel()
	close(s.done)
}

// Cancel stops the producer. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.cancel()
}

// Done is closed once the producer has terminated and the observer returned.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the producer terminates and returns its error, if any.
func (s *Subscription) Wait() error {
	<-s.done
	return s.err
}
