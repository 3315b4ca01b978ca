package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mbd888/bakehouse/internal/metrics"
)

// manualClock only moves when advanced.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (m *manualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

func (m *manualClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.t = m.t.Add(d)
	m.mu.Unlock()
}

func newLimiter(t *testing.T, rpm, burst int) (*Limiter, *manualClock) {
	t.Helper()
	clock := newManualClock()
	l := New(Config{RequestsPerMinute: rpm, BurstSize: burst, CleanupInterval: time.Hour, Now: clock.Now})
	t.Cleanup(l.Stop)
	return l, clock
}

func TestLimiterAllow(t *testing.T) {
	limiter, clock := newLimiter(t, 60, 5)

	for i := 0; i < 5; i++ {
		if !limiter.Allow("ip:1") {
			t.Errorf("Request %d should be allowed (within burst)", i)
		}
	}
	if limiter.Allow("ip:1") {
		t.Error("Request after burst should be denied")
	}

	// 60/min refills one token per second
	clock.Advance(time.Second)
	if !limiter.Allow("ip:1") {
		t.Error("Request after waiting should be allowed")
	}
}

func TestLimiterMultipleClients(t *testing.T) {
	limiter, _ := newLimiter(t, 60, 3)

	for i := 0; i < 3; i++ {
		limiter.Allow("client-a")
	}
	if limiter.Allow("client-a") {
		t.Error("Client A should be rate limited")
	}
	if !limiter.Allow("client-b") {
		t.Error("Client B should not be rate limited")
	}
}

func TestLimiterReserveReportsWait(t *testing.T) {
	limiter, clock := newLimiter(t, 600, 1) // 10 per second

	if ok, _ := limiter.Reserve("k"); !ok {
		t.Fatal("First request should be allowed")
	}
	ok, wait := limiter.Reserve("k")
	if ok {
		t.Fatal("Second immediate request should be denied")
	}
	if wait <= 0 || wait > 100*time.Millisecond {
		t.Errorf("expected wait in (0, 100ms], got %v", wait)
	}

	clock.Advance(100 * time.Millisecond)
	if ok, _ := limiter.Reserve("k"); !ok {
		t.Error("Request after 100ms should be allowed")
	}
}

func TestLimiterBurstCap(t *testing.T) {
	limiter, clock := newLimiter(t, 60, 2)
	limiter.Allow("k")

	// A long idle period refills only up to the burst size
	clock.Advance(time.Hour)
	for i := 0; i < 2; i++ {
		if !limiter.Allow("k") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if limiter.Allow("k") {
		t.Error("bucket should not exceed burst size")
	}
}

func TestLimiterSweepDropsRefilledBuckets(t *testing.T) {
	limiter, clock := newLimiter(t, 60, 5)
	limiter.Allow("old")
	clock.Advance(10 * time.Second)
	limiter.Allow("recent")

	limiter.sweep()
	if got := limiter.Len(); got != 1 {
		t.Errorf("expected 1 tracked key after sweep, got %d", got)
	}
}

func TestLimiterStopIsIdempotent(t *testing.T) {
	limiter := New(DefaultConfig())
	limiter.Stop()
	limiter.Stop()
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.RequestsPerMinute != 60 {
		t.Errorf("Expected 60 requests/min, got %d", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 10 {
		t.Errorf("Expected burst size 10, got %d", cfg.BurstSize)
	}
	if cfg.CleanupInterval != time.Minute {
		t.Errorf("Expected 1 minute cleanup interval, got %v", cfg.CleanupInterval)
	}
}

func TestFromRPM(t *testing.T) {
	cfg := FromRPM(120, "/subscriptions/webhook")
	if cfg.RequestsPerMinute != 120 || cfg.BurstSize != 12 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if len(cfg.ExemptPaths) != 1 {
		t.Errorf("expected one exempt path, got %v", cfg.ExemptPaths)
	}

	if got := FromRPM(0); got.RequestsPerMinute != 60 {
		t.Errorf("zero rpm should keep defaults, got %d", got.RequestsPerMinute)
	}
	if got := FromRPM(5); got.BurstSize != 1 {
		t.Errorf("burst should be at least 1, got %d", got.BurstSize)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	clock := newManualClock()
	limiter := New(Config{
		RequestsPerMinute: 1,
		BurstSize:         1,
		CleanupInterval:   time.Hour,
		ExemptPaths:       []string{"/subscriptions/webhook"},
		Now:               clock.Now,
	})
	defer limiter.Stop()

	r := gin.New()
	r.Use(limiter.Middleware())
	r.GET("/plans", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/tenants/:tenantID/users", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/subscriptions/webhook", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(method, path, apiKey string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		if apiKey != "" {
			req.Header.Set("x-api-key", apiKey)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	if w := do(http.MethodGet, "/plans", ""); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}
	before := testutil.ToFloat64(metrics.RateLimitedTotal)
	w := do(http.MethodGet, "/plans", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Errorf("expected Retry-After 60, got %q", got)
	}
	if got := testutil.ToFloat64(metrics.RateLimitedTotal); got != before+1 {
		t.Errorf("expected rate limited counter to grow by 1, got %v -> %v", before, got)
	}

	// Operator keys and each tenant get their own bucket.
	if w := do(http.MethodGet, "/plans", "k_operator"); w.Code != http.StatusOK {
		t.Errorf("api key request: expected 200, got %d", w.Code)
	}
	if w := do(http.MethodGet, "/tenants/t1/users", ""); w.Code != http.StatusOK {
		t.Errorf("tenant t1: expected 200, got %d", w.Code)
	}
	if w := do(http.MethodGet, "/tenants/t2/users", ""); w.Code != http.StatusOK {
		t.Errorf("tenant t2: expected 200, got %d", w.Code)
	}

	for i := 0; i < 3; i++ {
		if w := do(http.MethodPost, "/subscriptions/webhook", ""); w.Code != http.StatusOK {
			t.Errorf("webhook %d: expected 200, got %d", i, w.Code)
		}
	}
}
