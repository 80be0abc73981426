// Package redis provides an optional Redis client used as a shared cache
// across askrelay replicas.
//
// Graceful fallback: if Redis is unavailable, operations silently return
// zero values instead of blocking the request path.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dayuer/askrelay/internal/logging"
)

// Key prefixes.
const (
	KeyRoute = "route:" // Routing decisions keyed by query hash
	KeyCache = "cache:" // General cache
)

// Config holds Redis connection settings.
type Config struct {
	URL      string // redis://host:port
	Password string
	DB       int
}

var (
	client    *redis.Client
	connected bool
	mu        sync.RWMutex
)

func logger() *zap.Logger { return logging.Named("redis") }

// Init initializes the Redis connection. Returns true if connected.
func Init(cfg Config) bool {
	if cfg.URL == "" {
		logger().Debug("url not configured, skipping init")
		return false
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		logger().Warn("invalid url", zap.Error(err))
		return false
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.DB = cfg.DB
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.MaxRetries = 3

	c := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Ping(ctx).Err(); err != nil {
		logger().Warn("connection failed", zap.String("addr", opts.Addr), zap.Error(err))
		_ = c.Close()
		return false
	}

	mu.Lock()
	client = c
	connected = true
	mu.Unlock()

	logger().Info("connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return true
}

// Close closes the Redis connection.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if client != nil {
		_ = client.Close()
		client = nil
		connected = false
		logger().Info("connection closed")
	}
}

// Client returns the Redis client. Returns nil if not available.
func Client() *redis.Client {
	mu.RLock()
	defer mu.RUnlock()
	if connected {
		return client
	}
	return nil
}

// IsAvailable checks if Redis is connected.
func IsAvailable() bool {
	mu.RLock()
	defer mu.RUnlock()
	return connected && client != nil
}

// --- Cache operations (with graceful fallback) ---

// CacheGet reads a string value. Returns "" if unavailable.
func CacheGet(ctx context.Context, key string) string {
	c := Client()
	if c == nil {
		return ""
	}
	val, err := c.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger().Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return ""
	}
	return val
}

// CacheSet writes a string value with TTL. Returns false on failure.
func CacheSet(ctx context.Context, key, value string, ttl time.Duration) bool {
	c := Client()
	if c == nil {
		return false
	}
	if err := c.Set(ctx, key, value, ttl).Err(); err != nil {
		logger().Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// CacheGetJSON reads a JSON value into out. Returns false if not found/error.
func CacheGetJSON(ctx context.Context, key string, out any) bool {
	raw := CacheGet(ctx, key)
	if raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		logger().Warn("cache value not json", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// CacheSetJSON writes a JSON-serialized value with TTL.
func CacheSetJSON(ctx context.Context, key string, value any, ttl time.Duration) bool {
	data, err := json.Marshal(value)
	if err != nil {
		logger().Warn("cache marshal failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return CacheSet(ctx, key, string(data), ttl)
}

// RouteKey returns the Redis key for a cached routing decision.
func RouteKey(hash string) string {
	return fmt.Sprintf("%s%s", KeyRoute, hash)
}
