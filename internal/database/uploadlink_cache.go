package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"
)

const (
	// TTL bounds for cached upload links. The ceiling bounds how long a
	// deactivation can go unnoticed; the floor bounds cache churn for
	// long-lived links.
	uploadLinkCacheMinTTL = 60 * time.Second
	uploadLinkCacheMaxTTL = 300 * time.Second
)

// CachedUploadLink holds the fields the authorization gate needs per request
type CachedUploadLink struct {
	ID        string    `json:"id"`
	ClientID  uint      `json:"client_id"`
	IsActive  bool      `json:"is_active"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the link is past its deadline at the given
// instant. Expiry is exclusive: a link presented exactly at ExpiresAt is
// already expired.
func (l *CachedUploadLink) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// uploadLinkCacheKey keys by a digest of the token so raw bearer
// credentials never appear in Redis keys.
func uploadLinkCacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return CacheKeyUploadLink + hex.EncodeToString(sum[:])
}

// UploadLinkCacheTTL clamps the cache lifetime to [60s, 300s] based on the
// link's remaining validity.
func UploadLinkCacheTTL(expiresAt, now time.Time) time.Duration {
	ttl := expiresAt.Sub(now)
	if ttl < uploadLinkCacheMinTTL {
		return uploadLinkCacheMinTTL
	}
	if ttl > uploadLinkCacheMaxTTL {
		return uploadLinkCacheMaxTTL
	}
	return ttl
}

// GetCachedUploadLink retrieves an upload link from cache or returns nil.
// Any cache-layer failure is treated as a miss; the cache is a performance
// optimization, never a correctness dependency.
func GetCachedUploadLink(token string) *CachedUploadLink {
	if Redis == nil {
		return nil
	}

	ctx := context.Background()
	data, err := Redis.Get(ctx, uploadLinkCacheKey(token)).Bytes()
	if err != nil {
		return nil // Cache miss or Redis unavailable
	}

	var link CachedUploadLink
	if err := json.Unmarshal(data, &link); err != nil {
		return nil
	}

	return &link
}

// SetCachedUploadLink stores an upload link in cache with a clamped TTL
func SetCachedUploadLink(token string, link *CachedUploadLink) {
	if Redis == nil || link == nil {
		return
	}

	ctx := context.Background()
	data, err := json.Marshal(link)
	if err != nil {
		log.Printf("Failed to marshal upload link for cache: %v", err)
		return
	}

	ttl := UploadLinkCacheTTL(link.ExpiresAt, time.Now())
	if err := Redis.Set(ctx, uploadLinkCacheKey(token), data, ttl).Err(); err != nil {
		log.Printf("Failed to cache upload link: %v", err)
	}
}

// InvalidateUploadLinkCache removes a link from cache (call on deactivation).
// Not required for correctness given the TTL ceiling, but it tightens the
// staleness window when the deactivation happens in this process.
func InvalidateUploadLinkCache(token string) {
	if Redis == nil {
		return
	}

	ctx := context.Background()
	Redis.Del(ctx, uploadLinkCacheKey(token))
}
