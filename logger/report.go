package logger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

var (
	providerCalls    int64
	providerFailures int64
	cacheHits        int64
	cacheMisses      int64
	warnCounts       sync.Map // map[string]*int64
	errorCounts      sync.Map // map[string]*int64
)

func recordWarn(component string) {
	counterFor(&warnCounts, component)
}

func recordError(component string) {
	counterFor(&errorCounts, component)
}

func counterFor(m *sync.Map, component string) {
	v, _ := m.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

// IncrementProviderCall counts one upstream call; failed marks calls that
// ended in a provider or rate-limit error.
func IncrementProviderCall(failed bool) {
	atomic.AddInt64(&providerCalls, 1)
	if failed {
		atomic.AddInt64(&providerFailures, 1)
	}
}

// IncrementCacheHit and IncrementCacheMiss feed the periodic report.
func IncrementCacheHit()  { atomic.AddInt64(&cacheHits, 1) }
func IncrementCacheMiss() { atomic.AddInt64(&cacheMisses, 1) }

// StartReport periodically logs a one-line operational summary and resets
// the interval counters. It stops when ctx is cancelled.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				calls := atomic.SwapInt64(&providerCalls, 0)
				failures := atomic.SwapInt64(&providerFailures, 0)
				hits := atomic.SwapInt64(&cacheHits, 0)
				misses := atomic.SwapInt64(&cacheMisses, 0)

				fields := Fields{
					"provider_calls":    calls,
					"provider_failures": failures,
					"cache_hits":        hits,
					"cache_misses":      misses,
				}
				warnCounts.Range(func(k, v any) bool {
					fields["warns_"+k.(string)] = atomic.SwapInt64(v.(*int64), 0)
					return true
				})
				errorCounts.Range(func(k, v any) bool {
					fields["errors_"+k.(string)] = atomic.SwapInt64(v.(*int64), 0)
					return true
				})

				log.WithComponent("report").WithFields(fields).Info("interval report")
			}
		}
	}()
}
