package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	redisClient *redis.Client
	enabled     bool
)

// Initialize sets up the Redis connection if a URL is provided. The cache is
// strictly optional: every operation degrades to a no-op without it.
func Initialize(redisURL string) {
	if redisURL == "" {
		log.Info().Msg("Redis URL not provided, caching disabled")
		enabled = false
		return
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn().Err(err).Msg("failed to parse Redis URL, caching disabled")
		enabled = false
		return
	}

	redisClient = redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("failed to connect to Redis, caching disabled")
		enabled = false
		return
	}

	enabled = true
	log.Info().Msg("Redis cache initialized")
}

// Close closes the Redis connection.
func Close() {
	if redisClient != nil {
		redisClient.Close()
	}
}

// Enabled reports whether the cache backend is live.
func Enabled() bool {
	return enabled
}

// Set stores a JSON-encoded value with an expiration.
func Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if !enabled {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return redisClient.Set(ctx, key, data, expiration).Err()
}

// Get retrieves a JSON-encoded value. Returns redis.Nil on a miss or when the
// cache is disabled.
func Get(ctx context.Context, key string, dest interface{}) error {
	if !enabled {
		return redis.Nil
	}

	data, err := redisClient.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Delete removes a key.
func Delete(ctx context.Context, key string) error {
	if !enabled {
		return nil
	}
	return redisClient.Del(ctx, key).Err()
}
