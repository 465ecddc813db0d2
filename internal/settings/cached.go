package settings

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aidawidget/aidawidget/internal/cache"
	"github.com/sirupsen/logrus"
)

// DefaultCacheTTL is how long a loaded snapshot is served from cache
const DefaultCacheTTL = 300 * time.Second

// Cache lookup outcomes reported to the observer
const (
	OutcomeHit      = "hit"
	OutcomeMiss     = "miss"
	OutcomeFallback = "fallback"
)

// Reader loads the authoritative settings record
type Reader interface {
	Read(ctx context.Context) (*WidgetSettings, error)
}

// Snapshot is the result of a cached settings lookup. When the record
// could not be read, Settings holds the defaults, UsingDefaults is set
// and Err carries the cause (ErrNotConfigured or a storage error).
type Snapshot struct {
	Settings      WidgetSettings
	UsingDefaults bool
	Err           error
}

// Cached serves settings through a cache with a fixed TTL
type Cached struct {
	reader   Reader
	cache    cache.Cache
	ttl      time.Duration
	defaults WidgetSettings
	observe  func(outcome string)
	logger   *logrus.Entry
}

// NewCached wraps reader with c. ttl <= 0 uses DefaultCacheTTL.
func NewCached(reader Reader, c cache.Cache, ttl time.Duration, logger *logrus.Logger) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{
		reader:   reader,
		cache:    c,
		ttl:      ttl,
		defaults: Defaults(),
		observe:  func(string) {},
		logger:   logger.WithField("component", "settings_cache"),
	}
}

// SetDefaults overrides the snapshot served when the record cannot be read
func (c *Cached) SetDefaults(d WidgetSettings) {
	c.defaults = d
}

// SetObserver registers a callback invoked with the outcome of every lookup
func (c *Cached) SetObserver(fn func(outcome string)) {
	if fn == nil {
		fn = func(string) {}
	}
	c.observe = fn
}

// GetOrLoad returns the cached settings, loading them on a miss. Fallback
// snapshots are never cached so a later call retries the read.
func (c *Cached) GetOrLoad(ctx context.Context) Snapshot {
	data, found, err := c.cache.Get(ctx, CacheKey)
	if err != nil {
		c.logger.WithError(err).Warn("Settings cache lookup failed, reading from store")
	}
	if found {
		var s WidgetSettings
		if err := json.Unmarshal(data, &s); err == nil {
			c.observe(OutcomeHit)
			return Snapshot{Settings: s}
		}
		c.logger.Warn("Discarding undecodable settings cache entry")
	}

	stored, err := c.reader.Read(ctx)
	if err != nil {
		c.observe(OutcomeFallback)
		if errors.Is(err, ErrNotConfigured) {
			c.logger.Debug("Widget settings not configured, using defaults")
		} else {
			c.logger.WithError(err).Error("Failed to read widget settings, using defaults")
		}
		return Snapshot{Settings: c.defaults, UsingDefaults: true, Err: err}
	}

	c.observe(OutcomeMiss)
	if data, err := json.Marshal(stored); err == nil {
		if err := c.cache.Set(ctx, CacheKey, data, c.ttl); err != nil {
			c.logger.WithError(err).Warn("Failed to cache widget settings")
		}
	}
	return Snapshot{Settings: *stored}
}

// Invalidate drops the cached snapshot
func (c *Cached) Invalidate(ctx context.Context) error {
	return c.cache.Delete(ctx, CacheKey)
}

// BaseURL returns the configured AIDA server URL, falling back to the
// default when the stored value is empty
func (c *Cached) BaseURL(ctx context.Context) string {
	snap := c.GetOrLoad(ctx)
	if snap.Settings.APIServerURL != "" {
		return snap.Settings.APIServerURL
	}
	return c.defaults.APIServerURL
}
