package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type keyLimiter struct {
	limiter    *rate.Limiter
	lastActive time.Time
}

// memoryLimiter keeps one token bucket per key in process memory.
type memoryLimiter struct {
	config Config
	limit  rate.Limit
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*keyLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryLimiter returns an in-memory limiter. Idle keys are swept in the
// background until Stop is called.
func NewMemoryLimiter(cfg Config) Limiter {
	l := newMemoryLimiter(cfg)
	if cfg.Enabled {
		go l.cleanupLoop(cfg.idleTimeout())
	}
	return l
}

func newMemoryLimiter(cfg Config) *memoryLimiter {
	l := &memoryLimiter{
		config:   cfg,
		now:      time.Now,
		limiters: make(map[string]*keyLimiter),
		stopCh:   make(chan struct{}),
	}
	if cfg.Requests > 0 && cfg.Window > 0 {
		l.limit = rate.Limit(float64(cfg.Requests) / cfg.Window.Seconds())
	}
	return l
}

func (l *memoryLimiter) Allow(key string) bool {
	if !l.config.Enabled {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kl, ok := l.limiters[key]
	if !ok {
		kl = &keyLimiter{limiter: rate.NewLimiter(l.limit, l.config.Requests)}
		l.limiters[key] = kl
	}
	kl.lastActive = now
	return kl.limiter.AllowN(now, 1)
}

func (l *memoryLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
}

func (l *memoryLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanupStale()
		case <-l.stopCh:
			return
		}
	}
}

func (l *memoryLimiter) cleanupStale() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	idle := l.config.idleTimeout()
	for key, kl := range l.limiters {
		if now.Sub(kl.lastActive) > idle {
			delete(l.limiters, key)
		}
	}
}

func (l *memoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Stop ends the background sweep. It is safe to call more than once.
func (l *memoryLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Stoppable extends Limiter with a Stop method for cleanup.
type Stoppable interface {
	Limiter
	Stop()
}

var _ Stoppable = (*memoryLimiter)(nil)
