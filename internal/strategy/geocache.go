package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/uncovering-world/track-your-regions-sub005/internal/service"
)

// Cache is the minimal key/value contract the geocode cache needs.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// RedisCache adapts a go-redis client to the Cache contract.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return val, err
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// CachedGeocoder caches geocode responses. External geocoders are slow and
// rate-limited, and rematch passes hit the same names repeatedly.
type CachedGeocoder struct {
	inner service.Geocoder
	cache Cache
	ttl   time.Duration
}

// NewCachedGeocoder wraps a geocoder with a cache. A nil cache disables
// caching entirely.
func NewCachedGeocoder(inner service.Geocoder, cache Cache, ttl time.Duration) *CachedGeocoder {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &CachedGeocoder{inner: inner, cache: cache, ttl: ttl}
}

// Geocode implements service.Geocoder.
func (g *CachedGeocoder) Geocode(ctx context.Context, name, hint string) (*service.GeocodeResult, error) {
	if g.cache == nil {
		return g.inner.Geocode(ctx, name, hint)
	}

	key := "geocode:" + name + "|" + hint
	if val, err := g.cache.Get(ctx, key); err == nil {
		var result service.GeocodeResult
		if unmarshalErr := json.Unmarshal([]byte(val), &result); unmarshalErr == nil {
			return &result, nil
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		// Cache trouble degrades to a direct call.
		slog.Warn("Geocode cache read failed", "error", err)
	}

	result, err := g.inner.Geocode(ctx, name, hint)
	if err != nil || result == nil {
		return result, err
	}

	if payload, marshalErr := json.Marshal(result); marshalErr == nil {
		if setErr := g.cache.Set(ctx, key, string(payload), g.ttl); setErr != nil {
			slog.Warn("Geocode cache write failed", "error", setErr)
		}
	}
	return result, nil
}
