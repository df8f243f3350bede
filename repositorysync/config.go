package repositorysync

import (
	"errors"
	"time"

	"github.com/goliatone/go-repository-sync/reactive"
	"github.com/goliatone/go-repository-sync/result"
)

// Eviction selects how cached entries stop being served without the remote.
type Eviction string

const (
	// EvictionNone never expires entries; only explicit invalidation removes them.
	EvictionNone Eviction = "none"
	// EvictionTTL treats entries older than CacheTTL as stale.
	EvictionTTL Eviction = "ttl"
	// EvictionLRU applies CacheTTL and bounds the store to MaxEntries,
	// dropping the least recently read or written entries first.
	EvictionLRU Eviction = "lru"
)

// ConflictPolicy decides between a local and a remote copy of the same record.
type ConflictPolicy string

const (
	// LastWriteWins keeps the copy with the newer UpdatedAt. Ties go to the remote.
	LastWriteWins ConflictPolicy = "last_write_wins"
	// RemoteWins always keeps the remote copy.
	RemoteWins ConflictPolicy = "remote_wins"
	// Manual refuses to overwrite unsynced local changes that diverge from
	// the remote and fails with KindConflict.
	Manual ConflictPolicy = "manual"
)

// Config holds the repository policies.
type Config struct {
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	Eviction   Eviction      `yaml:"eviction"`
	MaxEntries int           `yaml:"max_entries"`

	// RetryCount is the number of extra attempts for a failed remote call.
	RetryCount   int           `yaml:"retry_count"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	// RetryWrites extends retries to remote writes. Off by default because
	// POST is not idempotent.
	RetryWrites bool `yaml:"retry_writes"`
	// RemoteTimeout bounds each remote attempt.
	RemoteTimeout time.Duration `yaml:"remote_timeout"`

	ConflictPolicy ConflictPolicy `yaml:"conflict_policy"`
	// Concurrency bounds parallel write-throughs in bulk operations.
	Concurrency int `yaml:"concurrency"`
	// RefreshInterval is the StartAutoRefresh period when none is given.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// DefaultConfig returns a Config with a 5 minute TTL, 3 retries starting at
// 200ms and last-write-wins conflict resolution.
func DefaultConfig() Config {
	return Config{
		CacheTTL:        5 * time.Minute,
		Eviction:        EvictionTTL,
		RetryCount:      3,
		RetryBackoff:    200 * time.Millisecond,
		RemoteTimeout:   10 * time.Second,
		ConflictPolicy:  LastWriteWins,
		Concurrency:     4,
		RefreshInterval: 15 * time.Minute,
	}
}

// Validate checks that the policies are known and the bounds consistent.
func (c Config) Validate() error {
	switch c.Eviction {
	case EvictionNone, EvictionTTL, EvictionLRU:
	default:
		return &ConfigError{Field: "Eviction", Message: "must be one of none, ttl, lru"}
	}
	switch c.ConflictPolicy {
	case LastWriteWins, RemoteWins, Manual:
	default:
		return &ConfigError{Field: "ConflictPolicy", Message: "must be one of last_write_wins, remote_wins, manual"}
	}
	if c.CacheTTL < 0 {
		return &ConfigError{Field: "CacheTTL", Message: "must be non-negative"}
	}
	if c.Eviction == EvictionTTL && c.CacheTTL == 0 {
		return &ConfigError{Field: "CacheTTL", Message: "must be positive with ttl eviction"}
	}
	if c.MaxEntries < 0 {
		return &ConfigError{Field: "MaxEntries", Message: "must be non-negative"}
	}
	if c.Eviction == EvictionLRU && c.MaxEntries == 0 {
		return &ConfigError{Field: "MaxEntries", Message: "must be positive with lru eviction"}
	}
	if c.RetryCount < 0 {
		return &ConfigError{Field: "RetryCount", Message: "must be non-negative"}
	}
	if c.RetryBackoff < 0 {
		return &ConfigError{Field: "RetryBackoff", Message: "must be non-negative"}
	}
	if c.RemoteTimeout < 0 {
		return &ConfigError{Field: "RemoteTimeout", Message: "must be non-negative"}
	}
	if c.Concurrency < 0 {
		return &ConfigError{Field: "Concurrency", Message: "must be non-negative"}
	}
	if c.RefreshInterval < 0 {
		return &ConfigError{Field: "RefreshInterval", Message: "must be non-negative"}
	}
	return nil
}

// ttl is the age after which an entry is stale. Zero never expires.
func (c Config) ttl() time.Duration {
	if c.Eviction == EvictionNone {
		return 0
	}
	return c.CacheTTL
}

func (c Config) retryPolicy() reactive.RetryPolicy {
	return reactive.RetryPolicy{
		MaxRetries:   c.RetryCount,
		InitialDelay: c.RetryBackoff,
		MaxDelay:     c.RetryBackoff * 16,
		Retryable:    retryable,
	}
}

// retryable accepts network and server failures, per-attempt timeouts included.
func retryable(err error) bool {
	return result.Retryable(err) || errors.Is(err, reactive.ErrTimeout)
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}
