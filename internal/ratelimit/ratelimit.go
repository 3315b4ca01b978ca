// Package ratelimit throttles API callers with per-key token buckets.
//
// Anonymous callers are keyed by client IP, operators by API key, and
// requests under /tenants/:tenantID by tenant and IP so one bakery's traffic
// cannot drain another's budget.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/bakehouse/internal/metrics"
)

// Config configures rate limiting
type Config struct {
	// RequestsPerMinute is the sustained refill rate per key
	RequestsPerMinute int
	// BurstSize is the bucket capacity
	BurstSize int
	// CleanupInterval is how often idle buckets are dropped
	CleanupInterval time.Duration
	// ExemptPaths are matched against the route pattern and never limited
	ExemptPaths []string
	// Now defaults to time.Now
	Now func() time.Time
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   time.Minute,
	}
}

// FromRPM derives a config from a per-minute budget, bursting to a tenth of it.
func FromRPM(rpm int, exempt ...string) Config {
	cfg := DefaultConfig()
	if rpm > 0 {
		cfg.RequestsPerMinute = rpm
		cfg.BurstSize = max(rpm/10, 1)
	}
	cfg.ExemptPaths = exempt
	return cfg
}

type bucket struct {
	tokens  float64
	updated time.Time
}

// Limiter holds one token bucket per key.
type Limiter struct {
	cfg      Config
	perSec   float64
	now      func() time.Time
	exempt   map[string]bool
	mu       sync.Mutex
	buckets  map[string]*bucket
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a limiter and starts its cleanup loop. Call Stop when done.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerMinute <= 0 || cfg.BurstSize <= 0 {
		def := DefaultConfig()
		cfg.RequestsPerMinute, cfg.BurstSize = def.RequestsPerMinute, def.BurstSize
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	l := &Limiter{
		cfg:     cfg,
		perSec:  float64(cfg.RequestsPerMinute) / 60,
		now:     now,
		exempt:  make(map[string]bool, len(cfg.ExemptPaths)),
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	for _, p := range cfg.ExemptPaths {
		l.exempt[p] = true
	}
	go l.cleanupLoop()
	return l
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

// sweep drops buckets that have refilled completely; a fresh bucket is
// indistinguishable from them.
func (l *Limiter) sweep() {
	refill := time.Duration(float64(l.cfg.BurstSize) / l.perSec * float64(time.Second))
	cutoff := l.now().Add(-refill)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.updated.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Stop ends the cleanup loop. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Allow takes a token for key if one is available.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.Reserve(key)
	return ok
}

// Reserve takes a token for key. When none is available it reports how long
// until the next one.
func (l *Limiter) Reserve(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.BurstSize), updated: now}
		l.buckets[key] = b
	} else {
		b.tokens = math.Min(float64(l.cfg.BurstSize), b.tokens+now.Sub(b.updated).Seconds()*l.perSec)
		b.updated = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / l.perSec * float64(time.Second))
	return false, wait
}

// Key returns the bucket key for a request.
func Key(c *gin.Context) string {
	if apiKey := c.GetHeader("x-api-key"); apiKey != "" {
		return "key:" + apiKey[:min(20, len(apiKey))]
	}
	if tenantID := c.Param("tenantID"); tenantID != "" {
		return "tenant:" + tenantID + ":ip:" + c.ClientIP()
	}
	return "ip:" + c.ClientIP()
}

// Middleware rejects requests over budget with 429 and a Retry-After header.
// Routes in ExemptPaths, such as processor webhooks, are never limited.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.exempt[c.FullPath()] {
			c.Next()
			return
		}

		ok, wait := l.Reserve(Key(c))
		if !ok {
			retryAfter := int(math.Ceil(wait.Seconds()))
			metrics.RateLimitedTotal.Inc()
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": retryAfter,
			})
			return
		}
		c.Next()
	}
}
