package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// VerdictCache is a Redis-backed cache of scan verdicts keyed by record
// payload hash. Identical payloads across batches get their redacted copy
// and verdict back without re-running classification.
type VerdictCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	stats  *cacheStats
}

// cacheStats tracks cache performance metrics
type cacheStats struct {
	hits   int64
	misses int64
}

// NewVerdictCache creates a new Redis-based verdict cache
func NewVerdictCache(config *Config, logger *zap.Logger) (*VerdictCache, error) {
	// Parse Redis URL
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	cache := &VerdictCache{
		client: client,
		config: config,
		logger: logger,
		stats:  &cacheStats{},
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Verdict cache initialized successfully",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("default_ttl", config.DefaultTTL))

	return cache, nil
}

// ping tests the Redis connection
func (vc *VerdictCache) ping(ctx context.Context) error {
	_, err := vc.client.Ping(ctx).Result()
	return err
}

// HashRecord computes the cache hash of a record payload. json.Marshal sorts
// map keys, so the hash is stable for equal field mappings.
func HashRecord(record map[string]any) string {
	data, err := json.Marshal(record)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Lookup fetches a cached verdict by record hash. Any Redis failure or
// corrupt entry degrades to a cache miss; the caller re-scans the record.
func (vc *VerdictCache) Lookup(ctx context.Context, recordHash string) (*LookupResult, error) {
	if recordHash == "" {
		return &LookupResult{CacheHit: false}, nil
	}

	start := time.Now()
	cacheKey := vc.verdictKey(recordHash)

	cachedData, err := vc.client.Get(ctx, cacheKey).Result()
	if err == redis.Nil {
		vc.stats.misses++
		vc.logger.Debug("Cache miss", zap.String("key", cacheKey))
		return &LookupResult{CacheHit: false}, nil
	} else if err != nil {
		vc.logger.Error("Cache lookup failed", zap.Error(err))
		return &LookupResult{CacheHit: false}, nil
	}

	var verdict CachedVerdict
	if err := json.Unmarshal([]byte(cachedData), &verdict); err != nil {
		vc.logger.Error("Failed to unmarshal cached verdict", zap.Error(err))
		// Delete corrupted cache entry
		vc.client.Del(ctx, cacheKey)
		return &LookupResult{CacheHit: false}, nil
	}

	vc.stats.hits++
	vc.logger.Debug("Cache hit",
		zap.String("key", cacheKey),
		zap.Bool("is_pii", verdict.IsPII),
		zap.Duration("duration", time.Since(start)))

	return &LookupResult{
		Verdict:  &verdict,
		CacheHit: true,
	}, nil
}

// Store caches a verdict under its record hash
func (vc *VerdictCache) Store(ctx context.Context, verdict *CachedVerdict) error {
	cacheKey := vc.verdictKey(verdict.RecordHash)

	// Set cache timestamp and TTL
	verdict.CachedAt = time.Now()
	verdict.TTL = int64(vc.config.DefaultTTL.Seconds())

	data, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict for caching: %w", err)
	}

	err = vc.client.Set(ctx, cacheKey, data, vc.config.DefaultTTL).Err()
	if err != nil {
		vc.logger.Error("Failed to cache verdict", zap.Error(err))
		return fmt.Errorf("failed to cache verdict: %w", err)
	}

	vc.logger.Debug("Verdict cached successfully",
		zap.String("key", cacheKey),
		zap.Bool("is_pii", verdict.IsPII))

	return nil
}

// StoreBatch caches multiple verdicts efficiently using a Redis pipeline
func (vc *VerdictCache) StoreBatch(ctx context.Context, verdicts []*CachedVerdict) error {
	if len(verdicts) == 0 {
		return nil
	}

	pipe := vc.client.Pipeline()

	for _, verdict := range verdicts {
		verdict.CachedAt = time.Now()
		verdict.TTL = int64(vc.config.DefaultTTL.Seconds())

		data, err := json.Marshal(verdict)
		if err != nil {
			vc.logger.Error("Failed to marshal verdict for batch caching", zap.Error(err))
			continue
		}

		pipe.Set(ctx, vc.verdictKey(verdict.RecordHash), data, vc.config.DefaultTTL)
	}

	// Execute pipeline
	if _, err := pipe.Exec(ctx); err != nil {
		vc.logger.Error("Batch cache operation failed", zap.Error(err))
		return fmt.Errorf("batch cache operation failed: %w", err)
	}

	vc.logger.Debug("Batch cache operation completed",
		zap.Int("cached_verdicts", len(verdicts)))

	return nil
}

// GetStats returns cache performance statistics
func (vc *VerdictCache) GetStats(ctx context.Context) (*CacheStats, error) {
	// Get Redis info
	info, err := vc.client.Info(ctx, "memory", "stats").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &CacheStats{
		Hits:   vc.stats.hits,
		Misses: vc.stats.misses,
	}

	// Calculate hit rate
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	// Parse memory usage from Redis info
	lines := strings.Split(info, "\r\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "used_memory:") {
			if memStr := strings.TrimPrefix(line, "used_memory:"); memStr != "" {
				if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
					stats.MemoryUsage = mem
				}
			}
		}
	}

	// Get total keys count
	keys, err := vc.client.DBSize(ctx).Result()
	if err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes all cached verdicts
func (vc *VerdictCache) Clear(ctx context.Context) error {
	pattern := vc.config.KeyPrefix + "*"

	// Use SCAN to find all keys with our prefix
	iter := vc.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	// Delete keys in batches
	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		if err := vc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			vc.logger.Error("Failed to delete cache keys", zap.Error(err))
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	vc.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (vc *VerdictCache) Close() error {
	if vc.client != nil {
		return vc.client.Close()
	}
	return nil
}

// verdictKey builds the cache key for a record hash
func (vc *VerdictCache) verdictKey(recordHash string) string {
	return fmt.Sprintf("%s:verdict:%s", vc.config.KeyPrefix, recordHash)
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
