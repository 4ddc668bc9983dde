package aggregator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dealflow/authenticity"
	"dealflow/cache"
	appconfig "dealflow/config"
	"dealflow/logger"
	"dealflow/models"
	"dealflow/normalizer"
	"dealflow/provider"
	"dealflow/ratelimit"
	"dealflow/retry"
	"dealflow/usage"
)

// Engine is the explicitly constructed aggregation context: every
// collaborator is injected, so isolated test instances need no process-wide
// shared state.
type Engine struct {
	config   *appconfig.Config
	registry *provider.Registry
	cache    *cache.Cache
	limiter  *ratelimit.Limiter
	retrier  *retry.Executor
	tracker  *usage.Tracker
	log      *logger.Log
}

func New(cfg *appconfig.Config, registry *provider.Registry, c *cache.Cache, limiter *ratelimit.Limiter, retrier *retry.Executor, tracker *usage.Tracker) *Engine {
	return &Engine{
		config:   cfg,
		registry: registry,
		cache:    c,
		limiter:  limiter,
		retrier:  retrier,
		tracker:  tracker,
		log:      logger.GetLogger(),
	}
}

// taskResult is what one provider task hands to the single-threaded merge.
type taskResult struct {
	provider string
	products []models.Product
	stats    models.ProviderStats
	failure  *models.ProviderFailure
}

// Aggregate fans out one task per provider, merges accepted products and
// returns the ranked result plus per-provider diagnostics. providers == nil
// means every registered provider; sortBy == "" uses the configured default.
// Callers always receive a result object: a partially failed aggregation is
// a valid terminal outcome.
func (e *Engine) Aggregate(ctx context.Context, query models.Query, providers []string, sortBy models.SortCriterion) models.AggregatedResult {
	if len(providers) == 0 {
		providers = e.registry.Names()
	}
	if sortBy == "" {
		sortBy = models.SortCriterion(e.config.Aggregator.DefaultSort)
	}

	if e.config.Aggregator.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Aggregator.Timeout)
		defer cancel()
	}

	aggID := uuid.NewString()
	log := e.log.WithComponent("aggregator").WithFields(logger.Fields{
		"aggregation_id": aggID,
		"query":          query.Digest(),
		"providers":      len(providers),
	})
	log.Info("starting aggregation")
	start := time.Now()

	results := make(chan taskResult, len(providers))
	sem := make(chan struct{}, e.maxConcurrency())
	var wg sync.WaitGroup

	for _, name := range providers {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results <- e.runTask(ctx, name, query)
		}(name)
	}

	wg.Wait()
	close(results)

	// Merge is single-threaded: only this loop touches shared result state.
	result := models.AggregatedResult{
		ID:      aggID,
		Query:   query,
		Sources: make(map[string]models.ProviderStats, len(providers)),
	}
	best := make(map[string]models.Product)

	for tr := range results {
		result.Sources[tr.provider] = tr.stats
		if tr.failure != nil {
			result.Errors = append(result.Errors, *tr.failure)
		}
		for _, p := range tr.products {
			mergeProduct(best, p)
		}
	}

	result.Products = rankProducts(best, query, sortBy)

	logger.LogPerformanceEntry(log, "aggregator", "aggregate", time.Since(start), logger.Fields{
		"products": len(result.Products),
		"failures": len(result.Errors),
	})

	return result
}

// runTask executes the full per-provider pipeline:
// cache -> quota -> retry(search) -> normalize -> validate -> cache write.
// Every failure class is converted into a diagnostic entry here; nothing
// escapes to abort sibling tasks.
func (e *Engine) runTask(ctx context.Context, name string, query models.Query) taskResult {
	tr := taskResult{provider: name, stats: models.ProviderStats{Provider: name}}
	log := e.log.WithComponent("aggregator").WithFields(logger.Fields{"provider": name})

	if e.config.Aggregator.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Aggregator.ProviderTimeout)
		defer cancel()
	}

	start := time.Now()

	if products, ok := e.cache.Get(ctx, name, query); ok {
		tr.products = products
		tr.stats.Cached = true
		tr.stats.Count = len(products)
		tr.stats.Latency = time.Since(start)
		log.WithFields(logger.Fields{"count": len(products)}).Debug("cache hit")
		e.track(name, query, time.Since(start), true, true, 0)
		return tr
	}

	client, ok := e.registry.Get(name)
	if !ok {
		tr.stats.Failed = true
		tr.stats.Latency = time.Since(start)
		tr.failure = &models.ProviderFailure{Provider: name, Message: "provider not registered"}
		return tr
	}

	if err := e.limiter.CheckAndReserve(name); err != nil {
		tr.stats.Failed = true
		tr.stats.Latency = time.Since(start)
		failure := models.ProviderFailure{Provider: name, Message: err.Error()}
		var rle *models.RateLimitError
		if errors.As(err, &rle) {
			failure.RetryAfter = rle.RetryAfter
		}
		tr.failure = &failure
		log.WithError(err).Warn("provider skipped by quota")
		return tr
	}

	candidates, err := e.retrier.Do(ctx, name, func(ctx context.Context) ([]models.RawCandidate, error) {
		return client.Search(ctx, query)
	})
	latency := time.Since(start)
	cost := e.config.Providers[name].CostPerCall

	logger.IncrementProviderCall(err != nil)
	e.track(name, query, latency, err == nil, false, cost)

	if err != nil {
		tr.stats.Failed = true
		tr.stats.Latency = latency
		tr.failure = &models.ProviderFailure{Provider: name, Message: err.Error()}
		log.WithError(err).Warn("provider call failed")
		return tr
	}

	accepted := e.screen(name, candidates, log)
	tr.stats.Count = len(accepted)
	tr.stats.Latency = time.Since(start)

	if len(accepted) == 0 {
		tr.stats.Failed = true
		tr.failure = &models.ProviderFailure{Provider: name, Message: "no authentic items after validation"}
		return tr
	}

	tr.products = accepted
	e.cache.Set(ctx, name, query, accepted)
	return tr
}

// screen normalizes and validates raw candidates. Rejections are logged at
// debug and simply absent from the result; they never fail the task.
func (e *Engine) screen(name string, candidates []models.RawCandidate, log *logger.Entry) []models.Product {
	accepted := make([]models.Product, 0, len(candidates))
	for _, c := range candidates {
		p, err := normalizer.Normalize(c)
		if err != nil {
			log.WithError(err).Debug("candidate rejected by normalizer")
			continue
		}
		verdict := authenticity.Validate(p)
		if !verdict.Accepted {
			log.WithFields(logger.Fields{
				"name":    p.Name,
				"reasons": verdict.Reasons,
			}).Debug("candidate rejected by authenticity validation")
			continue
		}
		p.ConfidenceScore = verdict.Confidence
		accepted = append(accepted, *p)
	}
	return accepted
}

func (e *Engine) track(name string, query models.Query, latency time.Duration, success, cached bool, cost float64) {
	if e.tracker == nil {
		return
	}
	endpoint := e.config.Providers[name].BaseURL
	e.tracker.Track(usage.Record{
		ID:            uuid.NewString(),
		Provider:      name,
		Endpoint:      endpoint,
		Params:        query.Digest(),
		Latency:       latency,
		Success:       success,
		Cached:        cached,
		EstimatedCost: cost,
		Timestamp:     time.Now().UTC(),
	})
}

// mergeProduct keeps the higher-confidence instance per dedup key, breaking
// ties by the more recently fetched record.
func mergeProduct(best map[string]models.Product, p models.Product) {
	key := p.DedupKey()
	cur, exists := best[key]
	if !exists {
		best[key] = p
		return
	}
	if p.ConfidenceScore > cur.ConfidenceScore ||
		(p.ConfidenceScore == cur.ConfidenceScore && p.FetchedAt.After(cur.FetchedAt)) {
		best[key] = p
	}
}

func rankProducts(best map[string]models.Product, query models.Query, sortBy models.SortCriterion) []models.Product {
	products := make([]models.Product, 0, len(best))
	for _, p := range best {
		if query.MinDiscount > 0 && p.DiscountPercentage < query.MinDiscount {
			continue
		}
		products = append(products, p)
	}

	switch sortBy {
	case models.SortByPrice:
		sort.Slice(products, func(i, j int) bool {
			if products[i].SalePrice != products[j].SalePrice {
				return products[i].SalePrice < products[j].SalePrice
			}
			return products[i].DiscountPercentage > products[j].DiscountPercentage
		})
	case models.SortByNewest:
		sort.Slice(products, func(i, j int) bool {
			return products[i].FetchedAt.After(products[j].FetchedAt)
		})
	default:
		sort.Slice(products, func(i, j int) bool {
			if products[i].DiscountPercentage != products[j].DiscountPercentage {
				return products[i].DiscountPercentage > products[j].DiscountPercentage
			}
			return products[i].ConfidenceScore > products[j].ConfidenceScore
		})
	}

	if query.Limit > 0 && len(products) > query.Limit {
		products = products[:query.Limit]
	}
	return products
}

func (e *Engine) maxConcurrency() int {
	if n := e.config.Aggregator.MaxConcurrency; n > 0 {
		return n
	}
	return 4
}
