package docstore

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache defaults
const (
	DefaultRedisAddr   = "localhost:6379"
	DefaultCachePrefix = "docstore"
	DefaultCacheTTL    = 5 * time.Minute
)

// RedisOptions returns redis.Options for the document cache, read from the
// environment:
//   - REDIS_ADDR (default: "localhost:6379")
//   - REDIS_PASSWORD (default: "")
//   - REDIS_DB (default: 0)
//
// Example:
//
//	client := redis.NewClient(docstore.RedisOptions())
//	cache := docstore.NewRedisCache(client, docstore.CacheOptionsFromEnv())
func RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     getEnv("REDIS_ADDR", DefaultRedisAddr),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvAsInt("REDIS_DB", 0),
	}
}

// CacheOptions configures a RedisCache.
type CacheOptions struct {
	Prefix string
	TTL    time.Duration
}

// CacheOptionsFromEnv reads DOCSTORE_CACHE_PREFIX and DOCSTORE_CACHE_TTL.
func CacheOptionsFromEnv() CacheOptions {
	return CacheOptions{
		Prefix: getEnv("DOCSTORE_CACHE_PREFIX", DefaultCachePrefix),
		TTL:    getEnvAsDuration("DOCSTORE_CACHE_TTL", DefaultCacheTTL),
	}
}
