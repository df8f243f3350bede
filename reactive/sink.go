package reactive

import (
	"context"
	"sync"
	"sync/atomic"
)

// Sink is a hot multicast source. New subscribers first receive the last
// replay items, then live items. A subscriber whose buffer is full misses
// items instead of blocking the emitter.
type Sink[T any] struct {
	mu      sync.Mutex
	replay  int
	buffer  int
	history []T
	subs    map[uint64]chan T
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
}

// NewSink creates a Sink replaying the last replay items, with buffer slots
// per subscriber for live items.
func NewSink[T any](replay, buffer int) *Sink[T] {
	if replay < 0 {
		replay = 0
	}
	if buffer <= 0 {
		buffer = 16
	}
	return &Sink[T]{replay: replay, buffer: buffer, subs: make(map[uint64]chan T)}
}

// Emit publishes v to current subscribers. It reports false once the sink is
// closed.
func (s *Sink[T]) Emit(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.replay > 0 {
		s.history = append(s.history, v)
		if len(s.history) > s.replay {
			s.history = s.history[len(s.history)-s.replay:]
		}
	}
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
			s.dropped.Add(1)
		}
	}
	return true
}

// Flux returns a cold view of the sink: each run registers a new subscriber
// and completes when the sink closes, the context ends or the consumer stops.
func (s *Sink[T]) Flux() Flux[T] {
	return Flux[T]{src: func(ctx context.Context, emit func(T) bool) error {
		id, ch, ok := s.register()
		if !ok {
			return nil
		}
		defer s.unregister(id)
		for {
			select {
			case <-ctx.Done():
				return nil
			case v, open := <-ch:
				if !open {
					return nil
				}
				if !emit(v) {
					return nil
				}
			}
		}
	}}
}

func (s *Sink[T]) register() (uint64, chan T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, nil, false
	}
	ch := make(chan T, s.buffer+len(s.history))
	for _, v := range s.history {
		ch <- v
	}
	s.nextID++
	s.subs[s.nextID] = ch
	return s.nextID, ch, true
}

func (s *Sink[T]) unregister(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// Subscribers returns the number of registered subscribers.
func (s *Sink[T]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (s *Sink[T]) Dropped() uint64 {
	return s.dropped.Load()
}

// Close completes every subscriber. Later emits are ignored.
func (s *Sink[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}
