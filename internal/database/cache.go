package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrCacheUnavailable is returned when no Redis connection exists. Callers
// treat it like any other miss.
var ErrCacheUnavailable = errors.New("cache unavailable")

const (
	// Cache key prefixes
	CacheKeyUploadLink    = "docuflow:uploadlink:"
	CacheKeyDocumentTypes = "docuflow:doctypes:all"
	CacheKeyLinkStats     = "docuflow:linkstats:"

	// Cache TTLs
	CacheTTLDocumentTypes = 5 * time.Minute
	CacheTTLLinkStats     = 1 * time.Minute
)

// CacheGet retrieves a value from Redis cache and unmarshals it into dest
func CacheGet(key string, dest interface{}) error {
	if Redis == nil {
		return ErrCacheUnavailable
	}
	ctx := context.Background()
	data, err := Redis.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// CacheSet stores a value in Redis cache with TTL
func CacheSet(key string, value interface{}, ttl time.Duration) error {
	if Redis == nil {
		return ErrCacheUnavailable
	}
	ctx := context.Background()
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return Redis.Set(ctx, key, data, ttl).Err()
}

// CacheDelete removes a key from Redis cache
func CacheDelete(keys ...string) error {
	if Redis == nil || len(keys) == 0 {
		return nil
	}
	ctx := context.Background()
	return Redis.Del(ctx, keys...).Err()
}

// InvalidateDocumentTypesCache clears the document-type reference cache
func InvalidateDocumentTypesCache() {
	CacheDelete(CacheKeyDocumentTypes)
}
