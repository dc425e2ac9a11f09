package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	PerSecond       float64       // sustained events per second
	Burst           int           // events allowed at once
	CleanupInterval time.Duration // how often idle limiters are dropped
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Keyed hands out one token bucket per user.
type Keyed struct {
	mu       sync.Mutex
	limiters map[int64]*entry
	config   Config
	now      func() time.Time
}

func New(config Config) *Keyed {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}

	return &Keyed{
		limiters: make(map[int64]*entry),
		config:   config,
		now:      time.Now,
	}
}

// Allow consumes one token for key. A zero PerSecond disables limiting.
func (k *Keyed) Allow(key int64) bool {
	if k == nil || k.config.PerSecond <= 0 {
		return true
	}

	now := k.now()

	k.mu.Lock()
	defer k.mu.Unlock()

	e, exists := k.limiters[key]
	if !exists {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(k.config.PerSecond), k.config.Burst)}
		k.limiters[key] = e
	}
	e.lastSeen = now

	return e.limiter.AllowN(now, 1)
}

// Run drops limiters that have been idle for a whole cleanup interval.
func (k *Keyed) Run(ctx context.Context) {
	ticker := time.NewTicker(k.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.cleanup()
		}
	}
}

func (k *Keyed) cleanup() {
	cutoff := k.now().Add(-k.config.CleanupInterval)

	k.mu.Lock()
	defer k.mu.Unlock()

	for key, e := range k.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(k.limiters, key)
		}
	}
}
