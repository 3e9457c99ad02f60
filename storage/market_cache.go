package storage

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"flipfinder/models"
)

// MarketCache caches verified market values in Redis so repeated refresh
// runs over the same products skip the sold-history query.
type MarketCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMarketCache creates a cache with the given TTL.
func NewMarketCache(client *redis.Client, ttl time.Duration) *MarketCache {
	return &MarketCache{client: client, ttl: ttl}
}

// Get returns the cached result for a product on one platform and sample
// window, if present.
func (c *MarketCache) Get(ctx context.Context, platform, productName string, maxAgeDays int) (*models.MarketValueResult, bool) {
	raw, err := c.client.Get(ctx, c.key(platform, productName, maxAgeDays)).Bytes()
	if err != nil {
		return nil, false
	}
	var result models.MarketValueResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false
	}
	return &result, true
}

// Put stores a result with the configured TTL.
func (c *MarketCache) Put(ctx context.Context, platform, productName string, maxAgeDays int, r *models.MarketValueResult) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("market cache: marshal: %w", err)
	}
	if err := c.client.Set(ctx, c.key(platform, productName, maxAgeDays), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("market cache: set: %w", err)
	}
	return nil
}

// key hashes the product name so arbitrary titles stay within key limits.
// The sample window is part of the key: a value computed over 30 days of
// history is not interchangeable with one computed over 90.
// Key format: marketvalue:{platform}:{maxAgeDays}d:{name_hash}
func (c *MarketCache) key(platform, productName string, maxAgeDays int) string {
	hash := sha256.Sum256([]byte(strings.ToLower(productName)))
	return fmt.Sprintf("marketvalue:%s:%dd:%x", strings.ToLower(platform), maxAgeDays, hash[:8])
}
