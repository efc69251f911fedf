// Package cache keeps interpolated field models keyed by calendar date.
//
// Interpolating a degree-185 release is cheap compared with evaluating it,
// but a server answering many requests for the same day should not repeat
// it. Entries are bounded; the least recently used date is evicted first.
// Replacing the coefficients drops every entry at once without blocking
// readers.
package cache

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/JohnathanBurchill/chaos/internal/metrics"
	"github.com/JohnathanBurchill/chaos/internal/model"
	"github.com/JohnathanBurchill/chaos/internal/shc"
)

// DefaultMaxEntries bounds the cache when Config leaves it unset.
const DefaultMaxEntries = 64

// Config holds cache configuration.
type Config struct {
	MaxEntries int
}

type entry struct {
	model    *model.Model
	lastUsed atomic.Int64 // unix nanoseconds
}

// ModelCache is an in-memory cache of interpolated models. Safe for
// concurrent use by multiple goroutines.
type ModelCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	coeffs  *shc.Coefficients

	maxEntries int
	logger     *slog.Logger
	group      singleflight.Group

	// Counters (lock-free).
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	now func() time.Time
}

// NewModelCache creates a cache serving models of coeffs.
func NewModelCache(config Config, coeffs *shc.Coefficients, logger *slog.Logger) *ModelCache {
	if config.MaxEntries < 1 {
		config.MaxEntries = DefaultMaxEntries
	}
	logger.Info("model cache initialized", "max_entries", config.MaxEntries)

	return &ModelCache{
		entries:    make(map[string]*entry),
		coeffs:     coeffs,
		maxEntries: config.MaxEntries,
		logger:     logger,
		now:        time.Now,
	}
}

// Key normalizes t to its UTC calendar date. Models only change from one
// day to the next.
func Key(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// Coefficients returns the coefficients currently served.
func (c *ModelCache) Coefficients() *shc.Coefficients {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.coeffs
}

// Get returns the model for the calendar date of t, interpolating it on a
// miss. Concurrent misses for the same date share one interpolation.
func (c *ModelCache) Get(t time.Time) (*model.Model, error) {
	key := Key(t)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		e.lastUsed.Store(c.now().UnixNano())
		c.hits.Add(1)
		metrics.IncModelCacheHits()
		return e.model, nil
	}

	c.misses.Add(1)
	metrics.IncModelCacheMisses()

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		coeffs := c.coeffs
		c.mu.RUnlock()

		utc := t.UTC()
		m, err := model.Interpolate(coeffs, utc.Year(), int(utc.Month()), utc.Day())
		if err != nil {
			return nil, fmt.Errorf("interpolating %s: %w", key, err)
		}
		metrics.RecordInterpolation(m.Branch.String())
		c.put(key, m, coeffs)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Model), nil
}

// put stores a model unless the coefficients were replaced while it was
// being interpolated. Caller must not hold mu.
func (c *ModelCache) put(key string, m *model.Model, from *shc.Coefficients) {
	e := &entry{model: m}
	e.lastUsed.Store(c.now().UnixNano())

	var evicted int
	c.mu.Lock()
	if c.coeffs != from {
		c.mu.Unlock()
		return
	}
	if _, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return
	}
	for len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
		evicted++
	}
	c.entries[key] = e
	count := len(c.entries)
	c.mu.Unlock()

	if evicted > 0 {
		c.evictions.Add(int64(evicted))
		metrics.AddModelCacheEvictions(evicted)
		c.logger.Debug("model cache eviction", "entries_removed", evicted)
	}
	metrics.SetModelCacheEntries(count)
}

func (c *ModelCache) evictOldestLocked() {
	var oldestKey string
	var oldest int64
	for k, e := range c.entries {
		if used := e.lastUsed.Load(); oldestKey == "" || used < oldest {
			oldestKey, oldest = k, used
		}
	}
	delete(c.entries, oldestKey)
}

// Replace swaps in a new coefficient release and drops every cached model.
func (c *ModelCache) Replace(coeffs *shc.Coefficients) {
	c.mu.Lock()
	dropped := len(c.entries)
	c.coeffs = coeffs
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	metrics.SetModelCacheEntries(0)
	c.logger.Info("model coefficients replaced",
		"fingerprint", fmt.Sprintf("%016x", coeffs.Fingerprint()),
		"entries_dropped", dropped,
	)
}

// Stats holds cache statistics for the cache endpoint.
type Stats struct {
	Entries    int      `json:"entries"`
	MaxEntries int      `json:"max_entries"`
	Dates      []string `json:"dates"`
	Hits       int64    `json:"hits"`
	Misses     int64    `json:"misses"`
	Evictions  int64    `json:"evictions"`
}

// Stats returns current cache statistics. Dates are unordered.
func (c *ModelCache) Stats() Stats {
	c.mu.RLock()
	dates := make([]string, 0, len(c.entries))
	for k := range c.entries {
		dates = append(dates, k)
	}
	c.mu.RUnlock()

	return Stats{
		Entries:    len(dates),
		MaxEntries: c.maxEntries,
		Dates:      dates,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Evictions:  c.evictions.Load(),
	}
}
