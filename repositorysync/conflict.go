package repositorysync

import (
	"strings"

	"github.com/goliatone/go-repository-sync/entity"
	"github.com/goliatone/go-repository-sync/result"
)

type verdict uint8

const (
	takeRemote verdict = iota
	keepLocal
	conflicted
)

// resolve decides between the local and the remote copy of one record.
func resolve[P any](policy ConflictPolicy, local result.Option[entity.CacheEntry[P]], remote entity.Entity[P]) (verdict, error) {
	cur, ok := local.Get()
	if !ok {
		return takeRemote, nil
	}

	switch policy {
	case RemoteWins:
		return takeRemote, nil
	case Manual:
		if !cur.Pending() {
			return takeRemote, nil
		}
		sum, err := entity.Fingerprint(remote.Payload)
		if err != nil {
			return takeRemote, result.Wrap(result.KindServer, err, "fingerprint remote payload").WithID(remote.ID)
		}
		if sum == cur.Checksum {
			return takeRemote, nil
		}
		return conflicted, nil
	default:
		if cur.Entity.NewerThan(remote) {
			return keepLocal, nil
		}
		return takeRemote, nil
	}
}

func conflictError(ids ...string) *result.Error {
	e := result.Errorf(result.KindConflict, "local changes diverge from remote: %s", strings.Join(ids, ", "))
	if len(ids) == 1 {
		return e.WithID(ids[0])
	}
	return e
}
