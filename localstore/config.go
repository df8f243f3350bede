package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and tunes the database behind the store.
type Config struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// Table overrides the table name derived from the payload type.
	Table string `yaml:"table"`
	// Codec is "json" or "msgpack".
	Codec        string        `yaml:"codec"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
}

// DefaultConfig returns a SQLite configuration writing to cache.db.
func DefaultConfig() Config {
	return Config{
		Driver:      DriverSQLite,
		DSN:         "file:cache.db",
		Codec:       "json",
		BusyTimeout: 5 * time.Second,
	}
}

// Validate checks Driver, DSN and Codec.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return &ConfigError{Field: "Driver", Message: fmt.Sprintf("unsupported driver %q", c.Driver)}
	}
	if c.DSN == "" {
		return &ConfigError{Field: "DSN", Message: "cannot be empty"}
	}
	if _, err := CodecByName(c.Codec); err != nil {
		return &ConfigError{Field: "Codec", Message: err.Error()}
	}
	if c.BusyTimeout < 0 {
		return &ConfigError{Field: "BusyTimeout", Message: "must be non-negative"}
	}
	if c.MaxOpenConns < 0 {
		return &ConfigError{Field: "MaxOpenConns", Message: "must be non-negative"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// Open connects to the configured database and returns a bun handle.
//
// SQLite connections are configured with:
//   - WAL mode so readers do not block the writer
//   - NORMAL synchronous mode
//   - a busy timeout for lock contention
//   - a single open connection, SQLite allows one writer at a time
func Open(ctx context.Context, cfg Config) (*bun.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case DriverPostgres:
		sqldb, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if err := sqldb.PingContext(ctx); err != nil {
			sqldb.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil

	default:
		sqldb, err := sql.Open("sqlite3", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		sqldb.SetMaxOpenConns(1)
		sqldb.SetMaxIdleConns(1)
		if err := sqldb.PingContext(ctx); err != nil {
			sqldb.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := applyPragmas(ctx, sqldb, cfg.BusyTimeout); err != nil {
			sqldb.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	}
}

func applyPragmas(ctx context.Context, db *sql.DB, busy time.Duration) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}
