package di

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-repository-sync/cache"
	"github.com/goliatone/go-repository-sync/localstore"
	"github.com/goliatone/go-repository-sync/remote"
	"github.com/goliatone/go-repository-sync/repositorysync"
)

// Config gathers the configuration of every component the container wires.
// Sections omitted from a YAML file keep their component defaults.
//
//	store:
//	  driver: sqlite
//	  dsn: file:players.db
//	remote:
//	  base_url: https://api.example.com/v1
//	  timeout: 5s
//	cache:
//	  enabled: true
//	  ttl: 1m
//	sync:
//	  cache_ttl: 10m
//	  conflict_policy: remote_wins
//	log:
//	  level: debug
//	  format: console
type Config struct {
	Store  localstore.Config     `yaml:"store"`
	Remote remote.Config         `yaml:"remote"`
	Cache  CacheConfig           `yaml:"cache"`
	Sync   repositorysync.Config `yaml:"sync"`
	Log    LogConfig             `yaml:"log"`
}

// CacheConfig puts the optional memory tier behind a switch.
type CacheConfig struct {
	Enabled      bool `yaml:"enabled"`
	cache.Config `yaml:",inline"`
}

// DefaultConfig returns the defaults of every section. The remote base URL has
// no default and must be configured.
func DefaultConfig() Config {
	return Config{
		Store:  localstore.DefaultConfig(),
		Remote: remote.DefaultConfig(),
		Cache:  CacheConfig{Config: cache.DefaultConfig()},
		Sync:   repositorysync.DefaultConfig(),
		Log:    DefaultLogConfig(),
	}
}

// Validate checks every section, reporting the first invalid one.
func (c Config) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	// the resource may be supplied per repository
	rc := c.Remote
	if strings.Trim(rc.Resource, "/") == "" {
		rc.Resource = "resource"
	}
	if err := rc.Validate(); err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	if c.Cache.Enabled {
		if err := c.Cache.Validate(); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		// the repositories invalidate the memory tier on every write, and a
		// background refresh can put a replaced copy back
		if c.Cache.EarlyRefresh != nil {
			return errors.New("cache: early_refresh is not supported in front of sync repositories")
		}
	}
	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := ParseConfig(bytes.NewReader(data))
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML from r over DefaultConfig and validates the result.
// Unknown keys are rejected. An empty document yields the defaults.
func ParseConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
