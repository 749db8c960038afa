package recurrence

import (
	"time"
)

// MaxOccurrencesPerQuery is the hard ceiling on occurrences generated for a
// single query. It bounds the cost of rules with no UNTIL/COUNT (daily
// forever, hourly forever): expansion work stays proportional to this cap,
// never to calendar time.
const MaxOccurrencesPerQuery = 20000

// EngineConfig holds configuration options for the recurrence engine.
type EngineConfig struct {
	// GenerationBudget caps how many candidate instances a single expansion
	// may generate, counting candidates later dropped by DST validation or
	// window filtering. Zero means MaxOccurrencesPerQuery.
	GenerationBudget int

	// ExpansionPad widens the expansion window on both sides of the caller's
	// query window before filtering back down, so rule-set edge semantics
	// never truncate occurrences at the window boundary.
	ExpansionPad time.Duration
}

// DefaultEngineConfig provides sensible defaults for production use.
var DefaultEngineConfig = EngineConfig{
	GenerationBudget: MaxOccurrencesPerQuery,
	ExpansionPad:     7 * 24 * time.Hour,
}

// CacheConfig holds configuration for the occurrence cache.
type CacheConfig struct {
	TTL             time.Duration // How long entries stay valid
	MaxEntries      int           // Maximum number of entries before cleanup
	CleanupInterval time.Duration // How often to run cleanup
}

// DefaultCacheConfig provides sensible defaults for occurrence caching.
var DefaultCacheConfig = CacheConfig{
	TTL:             15 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: 5 * time.Minute,
}

// HighPerformanceCacheConfig is tuned for high-traffic scenarios.
var HighPerformanceCacheConfig = CacheConfig{
	TTL:             30 * time.Minute,
	MaxEntries:      5000,
	CleanupInterval: 10 * time.Minute,
}

// LowMemoryCacheConfig is tuned for memory-constrained environments.
var LowMemoryCacheConfig = CacheConfig{
	TTL:             5 * time.Minute,
	MaxEntries:      100,
	CleanupInterval: 2 * time.Minute,
}

func (c EngineConfig) budget() int {
	if c.GenerationBudget <= 0 {
		return MaxOccurrencesPerQuery
	}
	return c.GenerationBudget
}
