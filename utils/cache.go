// File: utils/cache.go
package utils

import (
	"context"
	"log"
	"time"

	"haggle/config"

	"github.com/go-redis/redis/v8"
)

var (
	// CacheClient caches negotiation snapshots for cheap re-fetch.
	CacheClient *redis.Client
	// FeedClient carries the negotiation change feed over pub/sub.
	FeedClient *redis.Client
)

// InitCache initializes the Redis snapshot cache client.
func InitCache() {
	CacheClient = redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisCacheDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := CacheClient.Ping(ctx).Result(); err != nil {
		log.Fatalf("Failed to connect to Redis (Cache): %v", err)
	}
}

// GetCacheClient returns the snapshot cache client.
func GetCacheClient() *redis.Client {
	if CacheClient == nil {
		InitCache()
	}
	return CacheClient
}

// InitFeedClient initializes the Redis client backing the change feed.
func InitFeedClient() {
	FeedClient = redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisFeedDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := FeedClient.Ping(ctx).Result(); err != nil {
		log.Fatalf("Failed to connect to Redis (Feed): %v", err)
	}
}

// GetFeedClient returns the change-feed client.
func GetFeedClient() *redis.Client {
	if FeedClient == nil {
		InitFeedClient()
	}
	return FeedClient
}
