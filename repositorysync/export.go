package repositorysync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/goliatone/go-repository-sync/entity"
	"github.com/goliatone/go-repository-sync/reactive"
	"github.com/goliatone/go-repository-sync/result"
)

// Export writes every local entity to w as an indented JSON array ordered by
// id, and returns how many were written. Pending entries are included.
func (r *Repository[P]) Export(w io.Writer) reactive.Mono[result.Result[int]] {
	const op = "repository.export"

	m := reactive.FlatMap(leaf(r, r.store.GetAll), func(entries []entity.CacheEntry[P]) reactive.Mono[int] {
		out := make([]entity.Entity[P], len(entries))
		for i, e := range entries {
			out[i] = e.Entity
		}
		return writeExport(w, out)
	})
	return settle(r, op, "", m)
}

// ExportRemote writes the remote collection to w in the same layout as
// Export, timestamps normalized to UTC. The local tiers are neither read
// nor written.
func (r *Repository[P]) ExportRemote(w io.Writer) reactive.Mono[result.Result[int]] {
	const op = "repository.export_remote"

	m := reactive.FlatMap(remoteRead(r, r.remote.GetAll()), func(items []entity.Entity[P]) reactive.Mono[int] {
		out := make([]entity.Entity[P], len(items))
		for i, e := range items {
			out[i] = e.WithUpdatedAt(entity.NormalizeTime(e.UpdatedAt))
		}
		slices.SortStableFunc(out, func(a, b entity.Entity[P]) int { return strings.Compare(a.ID, b.ID) })
		return writeExport(w, out)
	})
	return settle(r, op, "", m)
}

func writeExport[P any](w io.Writer, out []entity.Entity[P]) reactive.Mono[int] {
	return reactive.FromFunc(func(context.Context) (int, error) {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return 0, result.Wrap(result.KindStorage, err, "write export")
		}
		return len(out), nil
	})
}

// Import reads a JSON array of entities from rd and saves each one through
// Save. Entries sharing an id are applied in file order. It returns the
// number saved; when any save fails the first failure is returned and the
// entities saved so far are kept.
func (r *Repository[P]) Import(rd io.Reader) reactive.Mono[result.Result[int]] {
	const op = "repository.import"

	m := reactive.FlatMap(reactive.FromFunc(func(context.Context) ([]entity.Entity[P], error) {
		var items []entity.Entity[P]
		if err := json.NewDecoder(rd).Decode(&items); err != nil {
			return nil, result.Wrap(result.KindValidation, err, "decode import")
		}
		return items, nil
	}), func(items []entity.Entity[P]) reactive.Mono[int] {
		saves := make([]reactive.Mono[result.Result[entity.CacheEntry[P]]], len(items))
		for i, e := range items {
			saves[i] = r.Save(e)
		}
		return reactive.FlatMap(reactive.Sequence(r.cfg.Concurrency, saves), func(outcomes []result.Result[entity.CacheEntry[P]]) reactive.Mono[int] {
			saved := 0
			var first *result.Error
			for _, res := range outcomes {
				if res.IsSuccess() {
					saved++
				} else if first == nil {
					first = res.Fault()
				}
			}
			if first != nil {
				return reactive.Fail[int](result.Wrap(first.Kind, first, fmt.Sprintf("imported %d of %d", saved, len(items))))
			}
			return reactive.Just(saved)
		})
	})
	return settle(r, op, "", m)
}
