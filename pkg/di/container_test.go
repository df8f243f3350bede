package di

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-repository-sync/cache"
	"github.com/goliatone/go-repository-sync/localstore"
	"github.com/goliatone/go-repository-sync/repositorysync"
)

func testConfig(t *testing.T, baseURL string) Config {
	t.Helper()
	config := DefaultConfig()
	config.Store.DSN = filepath.Join(t.TempDir(), "di.db")
	config.Remote.BaseURL = baseURL
	config.Remote.Resource = "players"
	config.Log.Level = "disabled"
	return config
}

func TestParseConfig(t *testing.T) {
	doc := `
store:
  driver: sqlite
  dsn: file:players.db
  codec: msgpack
remote:
  base_url: https://api.example.com/v1
  resource: players
  timeout: 3s
  headers:
    Authorization: Bearer token
cache:
  enabled: true
  ttl: 30s
sync:
  cache_ttl: 10m
  conflict_policy: remote_wins
  retry_count: 5
log:
  level: debug
  format: console
`
	config, err := ParseConfig(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ParseConfig() failed: %v", err)
	}

	if config.Store.Codec != "msgpack" {
		t.Errorf("Expected codec msgpack, got %q", config.Store.Codec)
	}
	if config.Store.BusyTimeout != localstore.DefaultConfig().BusyTimeout {
		t.Errorf("Expected default busy timeout to survive, got %v", config.Store.BusyTimeout)
	}
	if config.Remote.Timeout != 3*time.Second {
		t.Errorf("Expected remote timeout 3s, got %v", config.Remote.Timeout)
	}
	if config.Remote.Headers["Authorization"] != "Bearer token" {
		t.Errorf("Expected authorization header, got %v", config.Remote.Headers)
	}
	if !config.Cache.Enabled || config.Cache.TTL != 30*time.Second {
		t.Errorf("Expected enabled memory tier with 30s TTL, got %+v", config.Cache)
	}
	if config.Cache.Capacity == 0 {
		t.Error("Expected default cache capacity to survive")
	}
	if config.Sync.CacheTTL != 10*time.Minute || config.Sync.ConflictPolicy != repositorysync.RemoteWins {
		t.Errorf("Unexpected sync section %+v", config.Sync)
	}
	if config.Sync.RetryCount != 5 {
		t.Errorf("Expected 5 retries, got %d", config.Sync.RetryCount)
	}
	if config.Sync.Concurrency != repositorysync.DefaultConfig().Concurrency {
		t.Errorf("Expected default concurrency, got %d", config.Sync.Concurrency)
	}
	if config.Log.Format != LogFormatConsole {
		t.Errorf("Expected console format, got %q", config.Log.Format)
	}
}

func TestParseConfig_Errors(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
	}{
		{"missing base url", "store:\n  dsn: x.db\n"},
		{"unknown key", "remote:\n  base_url: http://x\n  colour: red\n"},
		{"bad policy", "remote:\n  base_url: http://x\nsync:\n  conflict_policy: coin_flip\n"},
		{"bad log format", "remote:\n  base_url: http://x\nlog:\n  format: xml\n"},
		{"bad driver", "remote:\n  base_url: http://x\nstore:\n  driver: oracle\n"},
		{"invalid cache", "remote:\n  base_url: http://x\ncache:\n  enabled: true\n  capacity: 0\n"},
		{"cache early refresh", "remote:\n  base_url: http://x\ncache:\n  enabled: true\n  early_refresh:\n    min_async: 1s\n    max_async: 2s\n"},
		{"malformed yaml", "remote: [\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseConfig(strings.NewReader(tc.doc)); err == nil {
				t.Error("ParseConfig() should fail")
			}
		})
	}
}

func TestConfig_EarlyRefreshNeedsDisabledCache(t *testing.T) {
	config := testConfig(t, "http://x")
	config.Cache.EarlyRefresh = &cache.EarlyRefreshConfig{MinAsyncRefreshTime: time.Second, MaxAsyncRefreshTime: 2 * time.Second}

	config.Cache.Enabled = true
	err := config.Validate()
	if err == nil || !strings.Contains(err.Error(), "early_refresh") {
		t.Fatalf("Validate() = %v, want an early_refresh error", err)
	}

	config.Cache.Enabled = false
	if err := config.Validate(); err != nil {
		t.Errorf("Validate() should ignore the settings of a disabled cache: %v", err)
	}
}

func TestParseConfig_ResourceOptional(t *testing.T) {
	if _, err := ParseConfig(strings.NewReader("remote:\n  base_url: http://x\n")); err != nil {
		t.Errorf("ParseConfig() should accept a missing resource: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.yaml")
	if err := os.WriteFile(path, []byte("remote:\n  base_url: http://localhost:8080\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}
	if config.Remote.BaseURL != "http://localhost:8080" {
		t.Errorf("Unexpected base url %q", config.Remote.BaseURL)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected ErrNotExist, got %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Level: "warn", Format: LogFormatJSON}, &buf)
	if err != nil {
		t.Fatalf("NewLogger() failed: %v", err)
	}

	logger.Info().Msg("hidden")
	logger.Warn().Str("op", "repository.save").Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info should be filtered at warn level")
	}
	if !strings.Contains(out, `"op":"repository.save"`) {
		t.Errorf("Expected JSON field in %q", out)
	}

	var cfgErr *ConfigError
	if _, err := NewLogger(LogConfig{Level: "loud", Format: LogFormatJSON}, &buf); !errors.As(err, &cfgErr) || cfgErr.Field != "Level" {
		t.Errorf("Expected Level config error, got %v", err)
	}
}

func TestNewContainer(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t, "http://localhost:8080")
	config.Cache.Enabled = true

	container, err := NewContainer(ctx, config)
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	defer container.Close()

	if container.DB() == nil {
		t.Error("Container should have a database")
	}
	if container.CacheService() == nil {
		t.Error("Container should have a memory tier when enabled")
	}
	if container.KeySerializer() == nil {
		t.Error("Container should have a key serializer")
	}
	if got := container.Scheduler().Size(); got != config.Sync.Concurrency {
		t.Errorf("Expected scheduler size %d, got %d", config.Sync.Concurrency, got)
	}
	if container.Config().Store.DSN != config.Store.DSN {
		t.Error("Config() should return the container configuration")
	}

	if err := container.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	if err := container.Close(); err != nil {
		t.Errorf("second Close() should be a no-op, got %v", err)
	}
}

func TestNewContainer_CacheDisabled(t *testing.T) {
	container, err := NewContainer(context.Background(), testConfig(t, "http://localhost:8080"))
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	defer container.Close()

	if container.CacheService() != nil {
		t.Error("CacheService() should be nil when the memory tier is disabled")
	}
}

func TestNewContainer_InvalidConfig(t *testing.T) {
	config := testConfig(t, "")
	if _, err := NewContainer(context.Background(), config); err == nil {
		t.Error("NewContainer() should fail without a base url")
	}
}

func TestNewContainer_SharedDB(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t, "http://localhost:8080")

	db, err := localstore.Open(ctx, config.Store)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	container, err := NewContainer(ctx, config, WithDB(db))
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	if container.DB() != db {
		t.Error("Container should reuse the given database")
	}
	if err := container.Close(); err != nil {
		t.Fatal(err)
	}
	if err := db.PingContext(ctx); err != nil {
		t.Errorf("Close() should leave a borrowed database open: %v", err)
	}
}

func TestNewContainerFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sync.yaml")
	doc := "store:\n  dsn: " + filepath.Join(dir, "file.db") + "\nremote:\n  base_url: http://localhost:8080\nlog:\n  level: disabled\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	container, err := NewContainerFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("NewContainerFromFile() failed: %v", err)
	}
	defer container.Close()

	if container.Config().Remote.BaseURL != "http://localhost:8080" {
		t.Errorf("Unexpected base url %q", container.Config().Remote.BaseURL)
	}
}
