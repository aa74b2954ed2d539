// Package ratelimit provides a Redis-backed fixed-window rate limiter for
// the public license endpoints. It degrades gracefully: when Redis is
// unavailable, requests are allowed through so an outage in the limiter
// never takes down license verification.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"embpay-license-server/internal/logging"
)

// Config holds rate limiter configuration
type Config struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	PoolSize int

	// Requests allowed per window, per client key
	Limit  int
	Window time.Duration
}

// Limiter enforces a fixed-window request limit per client key
type Limiter struct {
	client *redis.Client
	config Config
	logger *logging.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int

	maxFailures int
}

// New creates a rate limiter. A failed initial connection returns the
// limiter in degraded (fail-open) mode rather than an error.
func New(cfg Config) *Limiter {
	l := &Limiter{
		config:      cfg,
		logger:      logging.Default().WithComponent("ratelimit"),
		maxFailures: 3,
	}

	if !cfg.Enabled {
		return l
	}

	l.client = redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.client.Ping(ctx).Err(); err != nil {
		l.logger.WithError(err).Warn("initial redis connection failed, rate limiting degraded")
		return l
	}

	l.healthy = true
	l.logger.WithField("address", cfg.Address).Info("redis connected")
	return l
}

// Enabled reports whether the limiter is actively enforcing limits
func (l *Limiter) Enabled() bool {
	return l.config.Enabled && l.client != nil
}

// IsHealthy returns whether Redis is currently available
func (l *Limiter) IsHealthy() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.healthy
}

// Allow reports whether the client identified by key may make another
// request in the current window. Redis failures allow the request.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, int, error) {
	if !l.Enabled() {
		return true, 0, nil
	}

	window := time.Now().Unix() / int64(l.config.Window.Seconds())
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, window)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.config.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		l.recordFailure()
		l.logger.WithError(err).Warn("rate limit check failed, allowing request")
		return true, 0, err
	}
	l.recordSuccess()

	count := int(incr.Val())
	remaining := l.config.Limit - count
	if remaining < 0 {
		remaining = 0
	}

	return count <= l.config.Limit, remaining, nil
}

// Close releases the Redis connection
func (l *Limiter) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}

func (l *Limiter) recordFailure() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failureCount++
	if l.failureCount >= l.maxFailures {
		if l.healthy {
			l.logger.Warn(fmt.Sprintf("redis marked unhealthy after %d failures", l.failureCount))
		}
		l.healthy = false
	}
}

func (l *Limiter) recordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failureCount > 0 || !l.healthy {
		l.failureCount = 0
		l.healthy = true
	}
}
