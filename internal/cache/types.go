package cache

import (
	"time"
)

// CachedVerdict represents a cached scan verdict for one record payload
type CachedVerdict struct {
	RecordHash string         `json:"record_hash"`
	Redacted   map[string]any `json:"redacted"`
	Fields     []string       `json:"fields,omitempty"`
	IsPII      bool           `json:"is_pii"`
	CachedAt   time.Time      `json:"cached_at"`
	TTL        int64          `json:"ttl"`
}

// LookupResult represents a cache lookup result
type LookupResult struct {
	Verdict  *CachedVerdict `json:"verdict"`
	CacheHit bool           `json:"cache_hit"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}

// Config contains cache configuration
type Config struct {
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}
