package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Config holds limiter configuration. A Rate of zero or less disables limiting.
type Config struct {
	// Rate is the number of requests allowed per second
	Rate float64
	// Burst is the maximum number of requests allowed in a burst
	Burst int
}

// DefaultAdminConfig leaves admin API calls unthrottled.
func DefaultAdminConfig() Config {
	return Config{Rate: 0, Burst: 1}
}

func (c Config) Enabled() bool {
	return c.Rate > 0
}

// Limiter throttles outbound requests with one token bucket per key, where the
// key is typically the target host.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	config   Config
}

func New(cfg Config) *Limiter {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		config:   cfg,
	}
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.config.Rate), l.config.Burst)
		l.limiters[key] = lim
	}
	return lim
}

// Wait blocks until a request for key may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if l == nil || !l.config.Enabled() {
		return nil
	}
	return l.get(key).Wait(ctx)
}

// Allow reports whether a request for key may proceed right now.
func (l *Limiter) Allow(key string) bool {
	if l == nil || !l.config.Enabled() {
		return true
	}
	return l.get(key).Allow()
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) Config() Config {
	return l.config
}
