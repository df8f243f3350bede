package repositorysync

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/goliatone/go-repository-sync/cache"
	"github.com/goliatone/go-repository-sync/reactive"
)

// Option configures a Repository.
type Option func(*options)

type options struct {
	cache     cache.CacheService
	keys      cache.KeySerializer
	logger    zerolog.Logger
	now       func() time.Time
	sched     *reactive.Scheduler
	namespace string
	buffer    int
}

func defaultOptions() options {
	return options{
		keys:   cache.NewDefaultKeySerializer(),
		logger: zerolog.Nop(),
		now:    time.Now,
		buffer: 64,
	}
}

// WithCache puts a memory tier in front of the local store.
func WithCache(c cache.CacheService) Option {
	return func(o *options) { o.cache = c }
}

// WithKeySerializer replaces the memory tier key strategy.
func WithKeySerializer(k cache.KeySerializer) Option {
	return func(o *options) {
		if k != nil {
			o.keys = k
		}
	}
}

// WithLogger sets the repository logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces time.Now, for stamping and expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithScheduler runs local store calls on s.
func WithScheduler(s *reactive.Scheduler) Option {
	return func(o *options) { o.sched = s }
}

// WithNamespace sets the memory tier namespace. It defaults to the store table
// so repositories sharing a cache do not collide.
func WithNamespace(ns string) Option {
	return func(o *options) { o.namespace = ns }
}

// WithNotificationBuffer sets how many notifications a subscriber may lag
// behind before it starts missing them.
func WithNotificationBuffer(n int) Option {
	return func(o *options) { o.buffer = n }
}
