package rates

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"hazine/internal/log"
	"hazine/internal/metrics"
)

// DefaultTTL is how long a fetched snapshot is served without refetching.
const DefaultTTL = 24 * time.Hour

const usageTimeout = 10 * time.Second

// Meta describes the freshness of a Snapshot.
type Meta struct {
	FetchedAt   time.Time `json:"fetchedAt"`
	CachedUntil time.Time `json:"cachedUntil"`
	Stale       bool      `json:"stale,omitempty"`
}

// Snapshot is the payload of GET /exchange-rate.
type Snapshot struct {
	USD  Quote `json:"usd"`
	Meta Meta  `json:"_meta"`
}

// Cache holds the last successful snapshot for a TTL.
//
// After the TTL a lookup refetches; if that fails and a snapshot exists it
// is served with Meta.Stale set. Concurrent refreshes share one upstream call.
type Cache struct {
	provider Provider
	ttl      time.Duration
	now      func() time.Time
	logger   *log.Logger
	metrics  *metrics.Metrics

	mu   sync.RWMutex
	snap *Snapshot

	group singleflight.Group
	usage sync.WaitGroup
}

type CacheOption func(*Cache)

// WithTTL overrides DefaultTTL. Non-positive values are ignored.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

func WithLogger(l *log.Logger) CacheOption {
	return func(c *Cache) { c.logger = l.WithComponent(log.ComponentRates) }
}

func WithMetrics(m *metrics.Metrics) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

func NewCache(p Provider, opts ...CacheOption) *Cache {
	c := &Cache{
		provider: p,
		ttl:      DefaultTTL,
		now:      time.Now,
		logger:   log.New(log.DefaultConfig()).WithComponent(log.ComponentRates),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL reports the configured freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

func (c *Cache) fresh() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap != nil && c.now().Before(c.snap.Meta.CachedUntil) {
		return *c.snap, true
	}
	return Snapshot{}, false
}

// Get returns a valid cached snapshot, or fetches a new one.
func (c *Cache) Get(ctx context.Context) (Snapshot, error) {
	if snap, ok := c.fresh(); ok {
		c.metrics.RateLookup(metrics.OutcomeHit)
		return snap, nil
	}

	// The shared fetch outlives any single caller's cancellation.
	v, err, _ := c.group.Do("usd", func() (any, error) {
		if snap, ok := c.fresh(); ok {
			return snap, nil
		}
		return c.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

func (c *Cache) refresh(ctx context.Context) (Snapshot, error) {
	quote, err := c.provider.Latest(ctx)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			c.metrics.RateLookup(metrics.OutcomeError)
			return Snapshot{}, err
		}

		c.mu.RLock()
		prev := c.snap
		c.mu.RUnlock()
		if prev != nil {
			stale := *prev
			stale.Meta.Stale = true
			c.logger.WarnContext(ctx, "Serving stale exchange rate after provider failure",
				log.FieldError, err.Error(),
				"fetched_at", stale.Meta.FetchedAt,
			)
			c.metrics.RateLookup(metrics.OutcomeStale)
			return stale, nil
		}

		c.logger.ErrorContext(ctx, "Exchange rate fetch failed", log.FieldError, err.Error())
		c.metrics.RateLookup(metrics.OutcomeError)
		return Snapshot{}, err
	}

	now := c.now().UTC()
	snap := Snapshot{
		USD: quote,
		Meta: Meta{
			FetchedAt:   now,
			CachedUntil: now.Add(c.ttl),
		},
	}

	c.mu.Lock()
	c.snap = &snap
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "Exchange rate fetched",
		log.FieldRateValue, quote.Value,
		"cached_until", snap.Meta.CachedUntil,
	)
	c.metrics.RateLookup(metrics.OutcomeSuccess)
	c.metrics.RateFetched(now)

	if r, ok := c.provider.(UsageReporter); ok {
		c.usage.Add(1)
		go c.logUsage(ctx, r)
	}
	return snap, nil
}

// logUsage records the provider quota. It never affects the rate lookup.
func (c *Cache) logUsage(ctx context.Context, r UsageReporter) {
	defer c.usage.Done()

	ctx, cancel := context.WithTimeout(ctx, usageTimeout)
	defer cancel()

	u, err := r.Usage(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "Failed to fetch exchange rate API usage", log.FieldError, err.Error())
		return
	}
	c.logger.InfoContext(ctx, "Exchange rate API usage",
		"monthly_usage", u.Monthly,
		"daily_usage", u.Daily,
		"hourly_usage", u.Hourly,
	)
}

// Rate returns the parsed USD rate of the current snapshot.
func (c *Cache) Rate(ctx context.Context) (decimal.Decimal, Snapshot, error) {
	snap, err := c.Get(ctx)
	if err != nil {
		return decimal.Zero, Snapshot{}, err
	}
	rate, err := snap.USD.Rate()
	if err != nil {
		return decimal.Zero, Snapshot{}, err
	}
	return rate, snap, nil
}

// Clear drops the cached snapshot.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
}

// Wait blocks until background usage lookups have finished.
func (c *Cache) Wait() {
	c.usage.Wait()
}
