package repositorysync

import (
	"time"

	"github.com/goliatone/go-repository-sync/entity"
	"github.com/goliatone/go-repository-sync/reactive"
)

// NotificationType names the change a Notification reports.
type NotificationType string

const (
	NotifyCreate  NotificationType = "create"
	NotifyUpdate  NotificationType = "update"
	NotifyDelete  NotificationType = "delete"
	NotifyRefresh NotificationType = "refresh"
)

// Notification reports a change applied through the repository. Entry is set
// for create and update, ID for every type but refresh, Count for refresh.
type Notification[P any] struct {
	Type  NotificationType
	ID    string
	Entry *entity.CacheEntry[P]
	Count int
	At    time.Time
}

// Notifications streams changes as they are applied locally. A new
// subscriber first receives the most recent notification. Slow subscribers
// miss notifications rather than stall writers.
func (r *Repository[P]) Notifications() reactive.Flux[Notification[P]] {
	return r.sink.Flux()
}

func (r *Repository[P]) notify(n Notification[P]) {
	n.At = r.now()
	r.sink.Emit(n)
}

func (r *Repository[P]) notifyEntry(kind NotificationType, e entity.CacheEntry[P]) {
	r.notify(Notification[P]{Type: kind, ID: e.ID(), Entry: &e})
}
