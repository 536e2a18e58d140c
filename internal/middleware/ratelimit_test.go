package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"churnguard/internal/config"

	"github.com/gin-gonic/gin"
)

func newRateLimitRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(cfg))
	r.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.RateLimiting.Enabled = false
	router := newRateLimitRouter(cfg)

	for i := 0; i < 100; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i, w.Code)
		}
	}
}

func TestRateLimitMiddleware_BurstExhaustion(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.RateLimiting.Enabled = true
	cfg.Security.RateLimiting.RequestsPerMinute = 10
	cfg.Security.RateLimiting.Burst = 5
	router := newRateLimitRouter(cfg)

	var limited int
	for i := 0; i < 20; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		router.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited == 0 {
		t.Error("expected some requests to be rate limited after the burst")
	}
	if limited > 15 {
		t.Errorf("limited %d of 20, burst of 5 should have passed", limited)
	}
}

func TestRateLimitMiddleware_PerClientBuckets(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.RateLimiting.Enabled = true
	cfg.Security.RateLimiting.RequestsPerMinute = 10
	cfg.Security.RateLimiting.Burst = 3
	router := newRateLimitRouter(cfg)

	// Exhaust one client's bucket.
	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		router.ServeHTTP(w, req)
	}

	// A different client still has a fresh bucket.
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("second client got %d, want 200", w.Code)
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	b := newBucket(6000, 1) // 100 tokens/sec for a fast test
	if !b.allow() {
		t.Fatal("first request should pass")
	}
	if b.allow() {
		t.Fatal("bucket of 1 should be empty")
	}
	// Force a refill without sleeping.
	b.mu.Lock()
	b.lastRefill = b.lastRefill.Add(-time.Second)
	b.mu.Unlock()
	if !b.allow() {
		t.Error("bucket should refill over time")
	}
}
