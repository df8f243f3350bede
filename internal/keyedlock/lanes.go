// Package keyedlock serializes work per key. Each key has a FIFO lane; a ticket
// taken on a lane runs after every earlier ticket on the same lane has been
// released. Distinct keys never block each other and idle lanes are dropped.
package keyedlock

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// Lanes hands out FIFO tickets per key.
type Lanes struct {
	lanes *xsync.MapOf[string, *lane]
}

type lane struct {
	tail chan struct{}
	refs int
}

// New creates an empty set of lanes.
func New() *Lanes {
	return &Lanes{lanes: xsync.NewMapOf[string, *lane]()}
}

// Ticket takes the next place on the lane for key. It never blocks.
func (l *Lanes) Ticket(key string) *Ticket {
	t := &Ticket{lanes: l, key: key, done: make(chan struct{})}
	l.lanes.Compute(key, func(old *lane, loaded bool) (*lane, bool) {
		if !loaded {
			old = &lane{}
		}
		t.prev = old.tail
		old.tail = t.done
		old.refs++
		return old, false
	})
	return t
}

// Len returns the number of keys with outstanding tickets.
func (l *Lanes) Len() int {
	return l.lanes.Size()
}

func (l *Lanes) drop(key string) {
	l.lanes.Compute(key, func(old *lane, loaded bool) (*lane, bool) {
		if !loaded {
			return nil, true
		}
		old.refs--
		return old, old.refs <= 0
	})
}

// Ticket is a place on a lane.
type Ticket struct {
	lanes *Lanes
	key   string
	prev  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// Key returns the lane key.
func (t *Ticket) Key() string { return t.key }

// Wait blocks until the previous ticket on the lane is released. When ctx ends
// first the ticket is abandoned: it releases itself as soon as its turn comes,
// and the caller must not use it further.
func (t *Ticket) Wait(ctx context.Context) error {
	if t.prev == nil {
		if err := ctx.Err(); err != nil {
			t.Release()
			return err
		}
		return nil
	}
	select {
	case <-t.prev:
		return nil
	case <-ctx.Done():
		go func() {
			<-t.prev
			t.Release()
		}()
		return ctx.Err()
	}
}

// Release lets the next ticket on the lane proceed. Extra calls are no-ops.
func (t *Ticket) Release() {
	t.once.Do(func() {
		close(t.done)
		t.lanes.drop(t.key)
	})
}
