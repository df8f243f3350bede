package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/goliatone/go-repository-sync/entity"
	"github.com/goliatone/go-repository-sync/result"
)

// entryRow is the persisted form of a cache entry. The table name is supplied
// per store through ModelTableExpr.
type entryRow struct {
	bun.BaseModel `bun:"table:entries,alias:e"`

	ID          string    `bun:"id,pk"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
	StoredAt    time.Time `bun:"stored_at,notnull"`
	UsedAt      time.Time `bun:"used_at,notnull"`
	Origin      string    `bun:"origin,notnull"`
	RemoteKnown bool      `bun:"remote_known,notnull"`
	Checksum    string    `bun:"checksum,notnull"`
	Payload     []byte    `bun:"payload"`
}

// Store persists cache entries of payload type P in one table. Every method runs
// in its own transaction; a cancelled context rolls it back.
type Store[P any] struct {
	db     *bun.DB
	table  string
	codec  Codec
	logger zerolog.Logger
}

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	table  string
	codec  Codec
	logger zerolog.Logger
}

// WithTable overrides the derived table name.
func WithTable(name string) Option {
	return func(o *storeOptions) { o.table = name }
}

// WithCodec sets the payload encoding.
func WithCodec(c Codec) Option {
	return func(o *storeOptions) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithLogger sets the logger used for storage faults.
func WithLogger(l zerolog.Logger) Option {
	return func(o *storeOptions) { o.logger = l }
}

// New creates a Store on db and makes sure its table exists.
func New[P any](ctx context.Context, db *bun.DB, opts ...Option) (*Store[P], error) {
	if db == nil {
		return nil, errors.New("localstore: nil database")
	}
	o := storeOptions{codec: JSONCodec{}, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.table == "" {
		o.table = TableName[P]()
	}

	s := &Store[P]{
		db:     db,
		table:  o.table,
		codec:  o.codec,
		logger: o.logger.With().Str("component", "localstore").Str("table", o.table).Logger(),
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Table returns the table name.
func (s *Store[P]) Table() string { return s.table }

// EnsureSchema creates the table and its index when missing.
// used_at orders LRU eviction: it starts at stored_at and moves on Touch.
func (s *Store[P]) EnsureSchema(ctx context.Context) error {
	timeType, blobType := "TIMESTAMP", "BLOB"
	if s.db.Dialect().Name() == dialect.PG {
		timeType, blobType = "TIMESTAMPTZ", "BYTEA"
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS ? (
	id TEXT PRIMARY KEY,
	updated_at %[1]s NOT NULL,
	stored_at %[1]s NOT NULL,
	used_at %[1]s NOT NULL,
	origin TEXT NOT NULL,
	remote_known BOOLEAN NOT NULL DEFAULT FALSE,
	checksum TEXT NOT NULL DEFAULT '',
	payload %[2]s
)`, timeType, blobType)

	if _, err := s.db.ExecContext(ctx, ddl, bun.Ident(s.table)); err != nil {
		return fmt.Errorf("localstore: create table %s: %w", s.table, err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS ? ON ? (used_at)",
		bun.Ident(s.table+"_used_at_idx"), bun.Ident(s.table)); err != nil {
		return fmt.Errorf("localstore: create index on %s: %w", s.table, err)
	}
	return nil
}

func (s *Store[P]) selectQuery(tx bun.Tx, rows *[]entryRow) *bun.SelectQuery {
	return tx.NewSelect().Model(rows).ModelTableExpr("? AS e", bun.Ident(s.table))
}

// Get loads the entry for id.
func (s *Store[P]) Get(ctx context.Context, id string) result.Result[result.Option[entity.CacheEntry[P]]] {
	var rows []entryRow
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return s.selectQuery(tx, &rows).Where("e.id = ?", id).Limit(1).Scan(ctx)
	})
	if err != nil {
		return failure[result.Option[entity.CacheEntry[P]]](s, "store.get", id, err)
	}
	if len(rows) == 0 {
		return result.Success(result.None[entity.CacheEntry[P]]())
	}

	e, err := s.decode(rows[0])
	if err != nil {
		return failure[result.Option[entity.CacheEntry[P]]](s, "store.get", id, err)
	}
	return result.Success(result.Some(e))
}

// GetAll loads every entry ordered by id.
func (s *Store[P]) GetAll(ctx context.Context) result.Result[[]entity.CacheEntry[P]] {
	return s.list(ctx, "store.get_all", nil)
}

// GetPending loads the entries holding unconfirmed local writes, ordered by id.
func (s *Store[P]) GetPending(ctx context.Context) result.Result[[]entity.CacheEntry[P]] {
	return s.list(ctx, "store.get_pending", func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("e.origin = ?", string(entity.OriginLocal))
	})
}

func (s *Store[P]) list(ctx context.Context, op string, filter func(*bun.SelectQuery) *bun.SelectQuery) result.Result[[]entity.CacheEntry[P]] {
	var rows []entryRow
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := s.selectQuery(tx, &rows)
		if filter != nil {
			q = filter(q)
		}
		return q.Order("e.id ASC").Scan(ctx)
	})
	if err != nil {
		return failure[[]entity.CacheEntry[P]](s, op, "", err)
	}

	out := make([]entity.CacheEntry[P], 0, len(rows))
	for _, row := range rows {
		e, err := s.decode(row)
		if err != nil {
			return failure[[]entity.CacheEntry[P]](s, op, row.ID, err)
		}
		out = append(out, e)
	}
	return result.Success(out)
}

// Save upserts entry by id and returns it as stored.
func (s *Store[P]) Save(ctx context.Context, entry entity.CacheEntry[P]) result.Result[entity.CacheEntry[P]] {
	row, err := s.encode(entry)
	if err != nil {
		return failure[entity.CacheEntry[P]](s, "store.save", entry.ID(), err)
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := s.upsert(tx, []entryRow{row}).Exec(ctx)
		return err
	})
	if err != nil {
		return failure[entity.CacheEntry[P]](s, "store.save", entry.ID(), err)
	}
	return result.Success(s.stored(entry, row))
}

// SaveAll upserts entries in a single transaction. Either all of them are
// stored or none is.
func (s *Store[P]) SaveAll(ctx context.Context, entries []entity.CacheEntry[P]) result.Result[[]entity.CacheEntry[P]] {
	if len(entries) == 0 {
		return result.Success([]entity.CacheEntry[P]{})
	}
	rows, err := s.encodeAll(entries)
	if err != nil {
		return failure[[]entity.CacheEntry[P]](s, "store.save_all", "", err)
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := s.upsert(tx, rows).Exec(ctx)
		return err
	})
	if err != nil {
		return failure[[]entity.CacheEntry[P]](s, "store.save_all", "", err)
	}

	out := make([]entity.CacheEntry[P], len(entries))
	for i := range entries {
		out[i] = s.stored(entries[i], rows[i])
	}
	return result.Success(out)
}

// ReplaceAll drops every entry that is not pending and stores entries in one
// transaction. Pending entries win over incoming entries with the same id.
// It returns the number of entries inserted.
func (s *Store[P]) ReplaceAll(ctx context.Context, entries []entity.CacheEntry[P]) result.Result[int] {
	rows, err := s.encodeAll(entries)
	if err != nil {
		return failure[int](s, "store.replace_all", "", err)
	}

	inserted := 0
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM ? WHERE origin <> ?",
			bun.Ident(s.table), string(entity.OriginLocal)); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]string, len(rows))
		for i, row := range rows {
			ids[i] = row.ID
		}
		// pending rows the remote lists are updates, not creates
		if _, err := tx.ExecContext(ctx, "UPDATE ? SET remote_known = ? WHERE id IN (?)",
			bun.Ident(s.table), true, bun.In(ids)); err != nil {
			return err
		}
		res, err := tx.NewInsert().
			Model(&rows).
			ModelTableExpr("?", bun.Ident(s.table)).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		inserted = affected(res)
		return nil
	})
	if err != nil {
		return failure[int](s, "store.replace_all", "", err)
	}
	return result.Success(inserted)
}

// Evict deletes the least recently used entries beyond keep. Pending entries
// are never evicted. It returns the number of entries removed.
func (s *Store[P]) Evict(ctx context.Context, keep int) result.Result[int] {
	if keep < 0 {
		keep = 0
	}

	removed := 0
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		total, err := tx.NewSelect().
			Model((*entryRow)(nil)).
			ModelTableExpr("? AS e", bun.Ident(s.table)).
			Count(ctx)
		if err != nil {
			return err
		}
		excess := total - keep
		if excess <= 0 {
			return nil
		}

		var ids []string
		err = tx.NewSelect().
			Model((*entryRow)(nil)).
			ModelTableExpr("? AS e", bun.Ident(s.table)).
			ColumnExpr("e.id").
			Where("e.origin <> ?", string(entity.OriginLocal)).
			Order("e.used_at ASC", "e.id ASC").
			Limit(excess).
			Scan(ctx, &ids)
		if err != nil || len(ids) == 0 {
			return err
		}

		res, err := tx.ExecContext(ctx, "DELETE FROM ? WHERE id IN (?)", bun.Ident(s.table), bun.In(ids))
		if err != nil {
			return err
		}
		removed = affected(res)
		return nil
	})
	if err != nil {
		return failure[int](s, "store.evict", "", err)
	}
	return result.Success(removed)
}

// Touch records that the entries for ids were read at at.
// It returns the number of entries updated.
func (s *Store[P]) Touch(ctx context.Context, at time.Time, ids ...string) result.Result[int] {
	if len(ids) == 0 {
		return result.Success(0)
	}
	touched := 0
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE ? SET used_at = ? WHERE id IN (?)",
			bun.Ident(s.table), entity.NormalizeTime(at), bun.In(ids))
		if err != nil {
			return err
		}
		touched = affected(res)
		return nil
	})
	if err != nil {
		return failure[int](s, "store.touch", "", err)
	}
	return result.Success(touched)
}

// Count returns the number of stored entries.
func (s *Store[P]) Count(ctx context.Context) result.Result[int] {
	var n int
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		n, err = tx.NewSelect().
			Model((*entryRow)(nil)).
			ModelTableExpr("? AS e", bun.Ident(s.table)).
			Count(ctx)
		return err
	})
	if err != nil {
		return failure[int](s, "store.count", "", err)
	}
	return result.Success(n)
}

// Delete removes the entry for id and reports whether a row was removed.
func (s *Store[P]) Delete(ctx context.Context, id string) result.Result[bool] {
	removed := 0
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM ? WHERE id = ?", bun.Ident(s.table), id)
		if err != nil {
			return err
		}
		removed = affected(res)
		return nil
	})
	if err != nil {
		return failure[bool](s, "store.delete", id, err)
	}
	return result.Success(removed > 0)
}

// DeleteAll removes every entry and returns how many were removed.
func (s *Store[P]) DeleteAll(ctx context.Context) result.Result[int] {
	removed := 0
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM ?", bun.Ident(s.table))
		if err != nil {
			return err
		}
		removed = affected(res)
		return nil
	})
	if err != nil {
		return failure[int](s, "store.delete_all", "", err)
	}
	return result.Success(removed)
}

func (s *Store[P]) upsert(tx bun.Tx, rows []entryRow) *bun.InsertQuery {
	return tx.NewInsert().
		Model(&rows).
		ModelTableExpr("?", bun.Ident(s.table)).
		On("CONFLICT (id) DO UPDATE").
		Set("updated_at = EXCLUDED.updated_at").
		Set("stored_at = EXCLUDED.stored_at").
		Set("used_at = EXCLUDED.used_at").
		Set("origin = EXCLUDED.origin").
		Set("remote_known = EXCLUDED.remote_known").
		Set("checksum = EXCLUDED.checksum").
		Set("payload = EXCLUDED.payload")
}

func (s *Store[P]) encode(entry entity.CacheEntry[P]) (entryRow, error) {
	if entry.ID() == "" {
		return entryRow{}, errors.New("entry has no id")
	}
	if !entry.Origin.Valid() {
		return entryRow{}, fmt.Errorf("invalid origin %q", entry.Origin)
	}

	payload, err := s.codec.Marshal(entry.Entity.Payload)
	if err != nil {
		return entryRow{}, fmt.Errorf("encode payload: %w", err)
	}
	checksum := entry.Checksum
	if checksum == "" {
		if checksum, err = entity.Fingerprint(entry.Entity.Payload); err != nil {
			return entryRow{}, fmt.Errorf("fingerprint payload: %w", err)
		}
	}
	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}

	storedAt = entity.NormalizeTime(storedAt)

	return entryRow{
		ID:          entry.ID(),
		UpdatedAt:   entity.NormalizeTime(entry.Entity.UpdatedAt),
		StoredAt:    storedAt,
		UsedAt:      storedAt,
		Origin:      string(entry.Origin),
		RemoteKnown: entry.RemoteKnown,
		Checksum:    checksum,
		Payload:     payload,
	}, nil
}

func (s *Store[P]) encodeAll(entries []entity.CacheEntry[P]) ([]entryRow, error) {
	rows := make([]entryRow, len(entries))
	for i, e := range entries {
		row, err := s.encode(e)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID(), err)
		}
		rows[i] = row
	}
	return rows, nil
}

func (s *Store[P]) decode(row entryRow) (entity.CacheEntry[P], error) {
	var payload P
	if len(row.Payload) > 0 {
		if err := s.codec.Unmarshal(row.Payload, &payload); err != nil {
			return entity.CacheEntry[P]{}, fmt.Errorf("decode payload: %w", err)
		}
	}
	return entity.CacheEntry[P]{
		Entity: entity.Entity[P]{
			ID:        row.ID,
			UpdatedAt: entity.NormalizeTime(row.UpdatedAt),
			Payload:   payload,
		},
		StoredAt:    entity.NormalizeTime(row.StoredAt),
		Origin:      entity.Origin(row.Origin),
		Checksum:    row.Checksum,
		RemoteKnown: row.RemoteKnown,
	}, nil
}

func (s *Store[P]) stored(entry entity.CacheEntry[P], row entryRow) entity.CacheEntry[P] {
	entry.Entity.UpdatedAt = row.UpdatedAt
	entry.StoredAt = row.StoredAt
	entry.Checksum = row.Checksum
	entry.Stale = false
	return entry
}

func failure[T, P any](s *Store[P], op, id string, err error) result.Result[T] {
	s.logger.Error().Err(err).Str("op", op).Str("id", id).Msg("local store failure")
	return result.Failure[T](result.Wrap(result.KindStorage, err, "local store").WithOp(op).WithID(id))
}

func affected(res sql.Result) int {
	if res == nil {
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}
