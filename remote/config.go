package remote

import (
	"net/url"
	"strings"
	"time"
)

// Config describes the remote resource.
type Config struct {
	// BaseURL is the service root, e.g. https://api.example.com/v1.
	BaseURL string `yaml:"base_url"`
	// Resource is the collection path under BaseURL, e.g. players.
	Resource string `yaml:"resource"`
	// Timeout bounds one request, connection included. Zero means no limit.
	Timeout time.Duration `yaml:"timeout"`
	// RetryCount is the number of extra attempts for failed reads. It
	// defaults to 0 because the sync repository applies its own policy.
	RetryCount   int           `yaml:"retry_count"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	// RetryWrites extends retries to POST, PUT and DELETE.
	RetryWrites bool              `yaml:"retry_writes"`
	Headers     map[string]string `yaml:"headers"`
}

// DefaultConfig returns a Config with a 10s request timeout and no retries.
func DefaultConfig() Config {
	return Config{
		Timeout:      10 * time.Second,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// Validate checks the URL parts and retry settings.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return &ConfigError{Field: "BaseURL", Message: "cannot be empty"}
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{Field: "BaseURL", Message: "must be an absolute URL"}
	}
	if strings.Trim(c.Resource, "/") == "" {
		return &ConfigError{Field: "Resource", Message: "cannot be empty"}
	}
	if c.Timeout < 0 {
		return &ConfigError{Field: "Timeout", Message: "must be non-negative"}
	}
	if c.RetryCount < 0 {
		return &ConfigError{Field: "RetryCount", Message: "must be non-negative"}
	}
	if c.RetryBackoff < 0 {
		return &ConfigError{Field: "RetryBackoff", Message: "must be non-negative"}
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
