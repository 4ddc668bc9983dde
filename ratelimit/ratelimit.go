package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"dealflow/logger"
	"dealflow/models"
)

// State of one provider's quota window.
type State string

const (
	StateOK      State = "ok"
	StateLimited State = "limited"
)

type record struct {
	windowStart time.Time
	count       int
	state       State
}

// Limiter tracks per-provider request quota over a day-long window keyed by
// wall-clock date. Reservation is atomic with respect to concurrent callers:
// two in-flight calls can never both spend the last slot.
type Limiter struct {
	mu      sync.Mutex
	quotas  map[string]int
	records map[string]*record
	now     func() time.Time
	log     *logger.Log
}

// New creates a limiter from a provider -> daily quota map.
func New(quotas map[string]int) *Limiter {
	return &Limiter{
		quotas:  quotas,
		records: make(map[string]*record, len(quotas)),
		now:     time.Now,
		log:     logger.GetLogger(),
	}
}

// CheckAndReserve consumes one request slot for the provider. It returns a
// *models.RateLimitError carrying the time until the next window boundary
// when the quota is exhausted.
func (l *Limiter) CheckAndReserve(provider string) error {
	quota, ok := l.quotas[provider]
	if !ok {
		return fmt.Errorf("rate limiter: unknown provider %q", provider)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec := l.records[provider]
	if rec == nil {
		rec = &record{windowStart: startOfDay(now), state: StateOK}
		l.records[provider] = rec
	}

	// First call observing a new date resets the window.
	if !sameDay(rec.windowStart, now) {
		if rec.state == StateLimited {
			l.log.WithComponent("ratelimit").WithFields(logger.Fields{
				"provider": provider,
			}).Info("quota window rolled over")
		}
		rec.windowStart = startOfDay(now)
		rec.count = 0
		rec.state = StateOK
	}

	if rec.count >= quota {
		if rec.state != StateLimited {
			rec.state = StateLimited
			l.log.WithComponent("ratelimit").WithFields(logger.Fields{
				"provider": provider,
				"quota":    quota,
			}).Warn("daily quota exhausted")
		}
		return &models.RateLimitError{
			Provider:   provider,
			RetryAfter: rec.windowStart.Add(24 * time.Hour).Sub(now),
		}
	}

	rec.count++
	return nil
}

// Remaining reports how many requests are left in the provider's current
// window. Diagnostic only; do not use it to gate calls.
func (l *Limiter) Remaining(provider string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	quota := l.quotas[provider]
	rec := l.records[provider]
	if rec == nil || !sameDay(rec.windowStart, l.now()) {
		return quota
	}
	return quota - rec.count
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
