package provider

import (
	"context"
	"net/http"

	"golang.org/x/time/rate"

	"dealflow/config"
)

// NewHTTPClient builds the pooled HTTP client for one provider from its
// connection pool configuration.
func NewHTTPClient(cfg config.ProviderConfig) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     cfg.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.ConnectionPool.IdleConnTimeout,
		DisableCompression:  false,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// Throttle is the per-provider courtesy limiter: it spaces calls inside a
// second so a burst of aggregations does not hammer a paid endpoint. The
// daily quota is enforced separately by the rate limiter; this only shapes
// short-term request rate.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle returns a no-op throttle when rps is zero or negative.
func NewThrottle(rps float64, burst int) *Throttle {
	if rps <= 0 {
		return &Throttle{}
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until the next call is allowed or ctx is cancelled.
func (t *Throttle) Wait(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}
