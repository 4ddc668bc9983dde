package retry

import (
	"context"
	"time"

	"dealflow/config"
	"dealflow/logger"
	"dealflow/models"
)

// Executor wraps a single provider call with bounded, backoff-based retry.
// Only transient failures (request timeout, throttling, 5xx-equivalent) are
// retried; everything else propagates immediately. The final failure after
// exhausting attempts is returned unchanged, not wrapped in a new type.
type Executor struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	log         *logger.Log
}

func NewExecutor(cfg config.RetryConfig) *Executor {
	return &Executor{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		log:         logger.GetLogger(),
	}
}

// Do runs fn up to maxAttempts times. Attempt k waits
// min(baseDelay * 2^(k-1), maxDelay) before retrying. The backoff sleep is
// cancellable through ctx.
func (e *Executor) Do(ctx context.Context, provider string, fn func(context.Context) ([]models.RawCandidate, error)) ([]models.RawCandidate, error) {
	var lastErr error

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		candidates, err := fn(ctx)
		if err == nil {
			return candidates, nil
		}
		lastErr = err

		if !models.IsTransient(err) {
			return nil, err
		}
		if attempt == e.maxAttempts {
			break
		}

		delay := e.backoff(attempt)
		e.log.WithComponent("retry").WithError(err).WithFields(logger.Fields{
			"provider": provider,
			"attempt":  attempt,
			"delay":    delay.String(),
		}).Warn("transient provider failure, backing off")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, lastErr
}

func (e *Executor) backoff(attempt int) time.Duration {
	delay := e.baseDelay << (attempt - 1)
	if delay > e.maxDelay || delay <= 0 {
		delay = e.maxDelay
	}
	return delay
}
