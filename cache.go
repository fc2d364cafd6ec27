package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DocumentCache stores raw records by collection and ID.
//
// Every Invalidate bumps a per-record generation. Readers take the generation
// before reading the database and pass it to Set, which skips the write when
// an invalidation happened in between, so a slow reader cannot cache a record
// older than a concurrent save.
type DocumentCache interface {
	// Get returns the cached record; found is false on a miss.
	Get(ctx context.Context, collection string, id primitive.ObjectID) (record bson.M, found bool, err error)
	Generation(ctx context.Context, collection string, id primitive.ObjectID) (int64, error)
	// Set stores record unless the generation moved past gen. It reports
	// whether the record was stored.
	Set(ctx context.Context, collection string, id primitive.ObjectID, record bson.M, gen int64) (bool, error)
	Invalidate(ctx context.Context, collection string, id primitive.ObjectID) error
}

// RedisCache implements DocumentCache on Redis. Records are BSON encoded so
// ObjectIDs and datetimes survive the round trip.
type RedisCache struct {
	client *redis.Client
	opts   CacheOptions
}

// NewRedisCache creates a cache on client. Empty options fall back to
// DefaultCachePrefix and DefaultCacheTTL.
func NewRedisCache(client *redis.Client, opts CacheOptions) *RedisCache {
	if opts.Prefix == "" {
		opts.Prefix = DefaultCachePrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheTTL
	}
	return &RedisCache{client: client, opts: opts}
}

// Key returns the Redis key for a record: <prefix>:doc:<collection>:<hex id>.
func (c *RedisCache) Key(collection string, id primitive.ObjectID) string {
	return fmt.Sprintf("%s:doc:%s:%s", c.opts.Prefix, collection, id.Hex())
}

// GenerationKey returns the counter key: <prefix>:gen:<collection>:<hex id>.
func (c *RedisCache) GenerationKey(collection string, id primitive.ObjectID) string {
	return fmt.Sprintf("%s:gen:%s:%s", c.opts.Prefix, collection, id.Hex())
}

func (c *RedisCache) Get(ctx context.Context, collection string, id primitive.ObjectID) (bson.M, bool, error) {
	data, err := c.client.Get(ctx, c.Key(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var record bson.M
	if err := bson.Unmarshal(data, &record); err != nil {
		return nil, false, WithContext(ErrInvalidData, map[string]interface{}{
			"key":    c.Key(collection, id),
			"reason": err.Error(),
		})
	}
	return record, true, nil
}

func (c *RedisCache) Generation(ctx context.Context, collection string, id primitive.ObjectID) (int64, error) {
	gen, err := c.client.Get(ctx, c.GenerationKey(collection, id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisCache) Set(ctx context.Context, collection string, id primitive.ObjectID, record bson.M, gen int64) (bool, error) {
	data, err := bson.Marshal(record)
	if err != nil {
		return false, WithContext(ErrInvalidData, map[string]interface{}{
			"collection": collection,
			"reason":     err.Error(),
		})
	}

	genKey := c.GenerationKey(collection, id)
	stored := false
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.Key(collection, id), data, c.opts.TTL)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		// Invalidated while we were writing.
		return false, nil
	}
	return stored, err
}

func (c *RedisCache) Invalidate(ctx context.Context, collection string, id primitive.ObjectID) error {
	genKey := c.GenerationKey(collection, id)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.Key(collection, id))
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, c.opts.TTL)
		return nil
	})
	return err
}

// readThrough loads a record by ID from the cache, falling back to the
// database and filling the cache. Tombstoned records are cached as well;
// visibility is decided by the caller.
func (m *Model) readThrough(ctx context.Context, id primitive.ObjectID) (bson.M, error) {
	record, found, err := m.cache.Get(ctx, m.collection, id)
	switch {
	case err != nil:
		m.metrics.Increment(MetricCacheErrors, "collection", m.collection)
		m.logger.Warn("cache read failed; using database",
			"collection", m.collection,
			"id", id.Hex(),
			"error", err)
	case found:
		m.metrics.Increment(MetricCacheHits, "collection", m.collection)
		return record, nil
	default:
		m.metrics.Increment(MetricCacheMisses, "collection", m.collection)
	}

	// The generation must be read before the database so a save that lands
	// in between is detected by Set.
	gen, genErr := m.cache.Generation(ctx, m.collection, id)
	if genErr != nil {
		m.metrics.Increment(MetricCacheErrors, "collection", m.collection)
		m.logger.Warn("cache generation read failed; not filling cache",
			"collection", m.collection,
			"id", id.Hex(),
			"error", genErr)
	}

	start := time.Now()
	record, err = Retry(ctx, m.conn, m.retry, "find_by_id", func(ctx context.Context) (bson.M, error) {
		coll, err := m.coll(ctx)
		if err != nil {
			return nil, err
		}
		return coll.FindOne(ctx, bson.M{FieldID: id}, FindOptions{})
	})
	m.observe("find_by_id", start, err)
	if err != nil || record == nil || genErr != nil {
		return record, err
	}

	stored, serr := m.cache.Set(ctx, m.collection, id, record, gen)
	switch {
	case serr != nil:
		m.metrics.Increment(MetricCacheErrors, "collection", m.collection)
		m.logger.Warn("cache write failed",
			"collection", m.collection,
			"id", id.Hex(),
			"error", serr)
	case !stored:
		m.logger.Debug("cache fill skipped; record changed during read",
			"collection", m.collection,
			"id", id.Hex())
	}
	return record, nil
}

// invalidate drops id from the cache after a write.
func (m *Model) invalidate(ctx context.Context, id primitive.ObjectID) {
	if m.cache == nil || id.IsZero() {
		return
	}
	if err := m.cache.Invalidate(ctx, m.collection, id); err != nil {
		m.metrics.Increment(MetricCacheErrors, "collection", m.collection)
		m.logger.Warn("cache invalidation failed",
			"collection", m.collection,
			"id", id.Hex(),
			"error", err)
	}
}
