package ratelimit

import (
	"fmt"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(cfg Config) (*memoryLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := newMemoryLimiter(cfg)
	l.now = clock.Now
	return l, clock
}

func TestNewMemoryLimiter(t *testing.T) {
	limiter := NewMemoryLimiter(DefaultConfig())
	require.NotNil(t, limiter)

	s, ok := limiter.(Stoppable)
	require.True(t, ok)
	s.Stop()
	s.Stop()
}

func TestMemoryLimiter_Allow(t *testing.T) {
	l, _ := newTestLimiter(Config{Enabled: true, Requests: 3, Window: time.Minute})

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "request %d should pass", i+1)
	}
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestMemoryLimiter_Allow_DifferentKeys(t *testing.T) {
	l, _ := newTestLimiter(Config{Enabled: true, Requests: 1, Window: time.Minute})

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestMemoryLimiter_Allow_Disabled(t *testing.T) {
	l, _ := newTestLimiter(Config{Enabled: false, Requests: 1, Window: time.Minute})

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("a"))
	}
	assert.Equal(t, 0, l.size())
}

func TestMemoryLimiter_Reset(t *testing.T) {
	l, _ := newTestLimiter(Config{Enabled: true, Requests: 1, Window: time.Minute})

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	l.Reset("a")
	assert.True(t, l.Allow("a"))
}

func TestMemoryLimiter_GradualRefill(t *testing.T) {
	l, clock := newTestLimiter(Config{Enabled: true, Requests: 10, Window: 10 * time.Second})

	for i := 0; i < 10; i++ {
		require.True(t, l.Allow("a"))
	}
	require.False(t, l.Allow("a"))

	clock.Advance(time.Second)
	assert.True(t, l.Allow("a"), "one token refills per second")
	assert.False(t, l.Allow("a"))

	clock.Advance(time.Minute)
	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("a"), "refill is capped at the burst")
	}
	assert.False(t, l.Allow("a"))
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(Config{Enabled: true, Requests: 50, Window: time.Hour})

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("shared") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(50), allowed.Load())
}

func TestMemoryLimiter_CleanupStale(t *testing.T) {
	l, clock := newTestLimiter(Config{Enabled: true, Requests: 5, Window: time.Second})

	for i := 0; i < 5; i++ {
		l.Allow(fmt.Sprintf("10.0.0.%d", i))
	}
	require.Equal(t, 5, l.size())

	clock.Advance(time.Second)
	l.Allow("10.0.0.0")

	clock.Advance(1500 * time.Millisecond)
	l.cleanupStale()

	assert.Equal(t, 1, l.size(), "only the recently active key survives")
}

func TestConfigs(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 100, cfg.Requests)
	assert.Equal(t, 2*time.Second, cfg.idleTimeout())

	ingest := IngestConfig()
	assert.Less(t, ingest.Requests, cfg.Requests)

	cfg.IdleTimeout = time.Minute
	assert.Equal(t, time.Minute, cfg.idleTimeout())
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, "1", RetryAfter(DefaultConfig()))
	assert.Equal(t, "30", RetryAfter(Config{Requests: 2, Window: time.Minute}))
	assert.Equal(t, "1", RetryAfter(Config{}))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		remote string
		xff    string
		xri    string
		want   string
	}{
		{remote: "192.168.1.1:12345", want: "192.168.1.1"},
		{remote: "192.168.1.1", want: "192.168.1.1"},
		{remote: "[::ffff:10.1.2.3]:80", want: "10.1.2.3"},
		{remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{remote: "10.0.0.1:1", xff: "203.0.113.195, 70.41.3.18", want: "203.0.113.195"},
		{remote: "10.0.0.1:1", xri: " 203.0.113.7 ", want: "203.0.113.7"},
		{remote: "10.0.0.1:1", xff: "203.0.113.195", xri: "70.41.3.18", want: "203.0.113.195"},
		{remote: "10.0.0.1:1", xff: "not-an-ip, 70.41.3.18", xri: "70.41.3.18", want: "70.41.3.18"},
		{remote: "10.0.0.1:1", xff: "garbage", want: "10.0.0.1"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = tt.remote
		if tt.xff != "" {
			req.Header.Set("X-Forwarded-For", tt.xff)
		}
		if tt.xri != "" {
			req.Header.Set("X-Real-IP", tt.xri)
		}
		assert.Equal(t, tt.want, GetClientIP(req), "%+v", tt)
	}
}
