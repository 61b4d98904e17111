// Package ratelimit implements per-caller token buckets for task dispatch.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/site-template-ci/internal/auth"
	"github.com/JakeFAU/site-template-ci/internal/metrics"
)

// DefaultSweepInterval is how often idle buckets are pruned.
const DefaultSweepInterval = time.Minute

// Limiter manages per-key rate limits. Buckets that have refilled completely
// are indistinguishable from new ones and are pruned periodically, so the map
// tracks only recently active callers.
type Limiter struct {
	mu            sync.Mutex
	limiters      map[string]*rate.Limiter
	rate          rate.Limit
	burst         int
	maxWait       time.Duration
	sweepInterval time.Duration
	lastSweep     time.Time
	now           func() time.Time
}

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the sustained rate per key. Zero or less disables limiting.
	RPS   float64
	Burst int
	// MaxWait caps how long a request queues for a token. Zero waits as long as the context allows.
	MaxWait time.Duration
	// SweepInterval defaults to DefaultSweepInterval.
	SweepInterval time.Duration
	Now           func() time.Time
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{
		limiters:      make(map[string]*rate.Limiter),
		rate:          r,
		burst:         burst,
		maxWait:       cfg.MaxWait,
		sweepInterval: cfg.SweepInterval,
		lastSweep:     cfg.Now(),
		now:           cfg.Now,
	}
}

func (l *Limiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now := l.now(); now.Sub(l.lastSweep) >= l.sweepInterval {
		l.sweep(now)
	}
	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	return limiter
}

// sweep drops buckets that are full at now. Callers hold l.mu.
func (l *Limiter) sweep(now time.Time) {
	for key, limiter := range l.limiters {
		if l.rate == rate.Inf || limiter.TokensAt(now) >= float64(l.burst) {
			delete(l.limiters, key)
		}
	}
	l.lastSweep = now
}

// Wait blocks until a token is available for key, respecting the context and MaxWait.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if l.maxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.maxWait)
		defer cancel()
	}

	start := time.Now()
	if err := l.limiterFor(key).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Tokens available immediately are not delays worth recording.
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(d)
	}
	return nil
}

// Middleware throttles requests per authenticated user, answering 429 when
// no token arrives in time. Anonymous requests share one bucket.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "anonymous"
		if id, ok := auth.UserFromContext(r.Context()); ok {
			key = strconv.FormatInt(id, 10)
		}
		if err := l.Wait(r.Context(), key); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
