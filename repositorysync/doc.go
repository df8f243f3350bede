// Package repositorysync keeps a local persistent store consistent with a
// remote REST resource and exposes the pair as a single repository.
//
// # Overview
//
// A Repository sits in front of a LocalStore (see package localstore) and a
// Remote (see package remote), optionally with a memory tier (see package
// cache) in front of the store. For every call it decides whether to answer
// locally, go to the remote, or both, and how to reconcile the two copies.
//
// Every method returns a lazy reactive.Mono that emits exactly one
// result.Result. Nothing runs until the Mono is subscribed or blocked on:
//
//	repo, _ := repositorysync.New(store, client, repositorysync.DefaultConfig())
//
//	res, _, _ := repo.FindByID("alcaraz").Block(ctx)
//	if res.IsFailure() {
//	    switch res.Kind() {
//	    case result.KindNotFound:
//	        // neither tier has it
//	    case result.KindStorage:
//	        // the local database failed
//	    }
//	}
//	entry := res.Value()
//	fmt.Println(entry.Entity.Payload, entry.Origin, entry.Stale)
//
// # Reads
//
// FindByID serves a fresh local copy without touching the remote. A copy is
// fresh while it is younger than Config.CacheTTL, or always with
// EvictionNone. Pending copies, that is local writes the remote has not
// confirmed, are always fresh. Otherwise the remote copy is fetched (with
// RemoteTimeout per attempt and RetryCount retries), reconciled with the local
// copy and written through as synced. When the remote fails, the local copy
// is served with Origin local and Stale set.
//
// WithRefresh forces the remote path for one call:
//
//	res, _, _ := repo.FindByID("alcaraz").Block(repositorysync.WithRefresh(ctx))
//
// FindAll fetches both collections concurrently and merges them by id.
//
// # Writes
//
// Save validates the entity before any I/O, assigns a UUID when the id is
// empty, writes the entity locally as pending and then pushes it. A payload
// identical to a synced copy is a no-op. When the push fails the entity stays
// pending; SyncPending pushes every pending entity later.
//
// Delete goes to the remote first. The local copy is removed when the remote
// confirms or answers 404.
//
// # Conflicts
//
// LastWriteWins keeps the copy with the newer UpdatedAt and gives ties to the
// remote. RemoteWins always takes the remote copy. Manual fails with
// KindConflict rather than overwrite pending local changes that differ from
// the remote.
//
// # Ordering
//
// Operations on the same id run one at a time, in the order their Monos were
// subscribed. Operations on distinct ids run concurrently.
//
// # Notifications
//
// Notifications streams create, update, delete and refresh events. New
// subscribers receive the last event first:
//
//	sub := repo.Notifications().Subscribe(ctx, reactive.Observer[repositorysync.Notification[Player]]{
//	    OnNext: func(n repositorysync.Notification[Player]) { log.Println(n.Type, n.ID) },
//	})
//	defer sub.Cancel()
package repositorysync
