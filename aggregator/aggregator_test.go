package aggregator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"dealflow/cache"
	appconfig "dealflow/config"
	"dealflow/models"
	"dealflow/provider"
	"dealflow/ratelimit"
	"dealflow/retry"
)

type fakeClient struct {
	name       string
	candidates []models.RawCandidate
	err        error
	delay      time.Duration
	calls      int64
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) Search(ctx context.Context, query models.Query) ([]models.RawCandidate, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, models.TransientProviderError(f.name, ctx.Err())
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.RawCandidate, len(f.candidates))
	copy(out, f.candidates)
	return out, nil
}

func minimalConfig(providers ...string) *appconfig.Config {
	cfg := &appconfig.Config{
		Aggregator: appconfig.AggregatorConfig{
			MaxConcurrency:  4,
			Timeout:         5 * time.Second,
			ProviderTimeout: time.Second,
			DefaultSort:     "discount",
		},
		Retry: appconfig.RetryConfig{
			MaxAttempts: 2,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
		},
		Cache: appconfig.CacheConfig{
			TTL:       time.Hour,
			KeyPrefix: "test",
		},
		Providers: make(map[string]appconfig.ProviderConfig),
	}
	for _, name := range providers {
		cfg.Providers[name] = appconfig.ProviderConfig{
			Enabled:    true,
			Kind:       "serplens",
			BaseURL:    "https://api.example.com",
			DailyQuota: 100,
		}
	}
	return cfg
}

func newEngine(cfg *appconfig.Config, clients ...provider.Client) *Engine {
	registry := provider.NewRegistry()
	for _, c := range clients {
		if err := registry.Register(c); err != nil {
			panic(err)
		}
	}
	quotas := make(map[string]int)
	for name, pc := range cfg.Providers {
		quotas[name] = pc.DailyQuota
	}
	return New(cfg, registry, cache.New(cfg.Cache), ratelimit.New(quotas), retry.NewExecutor(cfg.Retry), nil)
}

func airMaxCandidate(source string, priceText string, images []string) models.RawCandidate {
	return models.RawCandidate{
		Provider:          source,
		Name:              "Air Max 90",
		Brand:             "Nike",
		Category:          "shoes",
		PriceText:         priceText,
		OriginalPriceText: "120.00",
		Currency:          "USD",
		URL:               "https://shop.example.com/p/air-max",
		Images:            images,
		FetchedAt:         time.Now().UTC(),
	}
}

func TestPartialFailureIsolation(t *testing.T) {
	failing := &fakeClient{
		name: "serplens",
		err:  models.NewProviderError("serplens", 401, errors.New("bad key")),
	}
	healthy := &fakeClient{
		name:       "dealcrest",
		candidates: []models.RawCandidate{airMaxCandidate("dealcrest", "84.00", []string{"https://img.example.com/1.jpg"})},
	}

	engine := newEngine(minimalConfig("serplens", "dealcrest"), failing, healthy)
	result := engine.Aggregate(context.Background(), models.Query{Brand: "Nike"}, nil, "")

	if len(result.Products) != 1 {
		t.Fatalf("expected healthy provider's product, got %d", len(result.Products))
	}
	if len(result.Errors) != 1 || result.Errors[0].Provider != "serplens" {
		t.Fatalf("expected exactly one error for serplens, got %+v", result.Errors)
	}
	if len(result.Sources) != 2 {
		t.Errorf("sources must cover every attempted provider, got %d", len(result.Sources))
	}
	if !result.Sources["serplens"].Failed {
		t.Errorf("failing provider should be marked failed in diagnostics")
	}
}

func TestMergePrefersHigherConfidence(t *testing.T) {
	// Provider A has an image, provider B does not; A's record wins the
	// merge because the missing image costs B five confidence points.
	a := &fakeClient{
		name:       "serplens",
		candidates: []models.RawCandidate{airMaxCandidate("serplens", "84.00", []string{"https://img.example.com/1.jpg"})},
	}
	b := &fakeClient{
		name:       "dealcrest",
		candidates: []models.RawCandidate{airMaxCandidate("dealcrest", "90.00", nil)},
	}

	engine := newEngine(minimalConfig("serplens", "dealcrest"), a, b)
	result := engine.Aggregate(context.Background(), models.Query{Brand: "Nike"}, nil, "")

	if len(result.Products) != 1 {
		t.Fatalf("expected one merged record, got %d", len(result.Products))
	}
	p := result.Products[0]
	if p.Source != "serplens" {
		t.Errorf("expected serplens record to win the merge, got %s", p.Source)
	}
	if p.DiscountPercentage != 30 {
		t.Errorf("expected discount 30, got %d", p.DiscountPercentage)
	}
}

func TestDedupIdempotence(t *testing.T) {
	client := &fakeClient{
		name:       "serplens",
		candidates: []models.RawCandidate{airMaxCandidate("serplens", "84.00", []string{"https://img.example.com/1.jpg"})},
	}

	engine := newEngine(minimalConfig("serplens"), client)
	query := models.Query{Brand: "Nike"}

	first := engine.Aggregate(context.Background(), query, nil, "")
	second := engine.Aggregate(context.Background(), query, nil, "")

	if len(first.Products) != len(second.Products) {
		t.Fatalf("duplicate growth across runs: %d then %d", len(first.Products), len(second.Products))
	}
	for i := range first.Products {
		if first.Products[i].DedupKey() != second.Products[i].DedupKey() {
			t.Errorf("product set changed between identical runs")
		}
	}
}

func TestCacheHitSkipsProvider(t *testing.T) {
	client := &fakeClient{
		name:       "serplens",
		candidates: []models.RawCandidate{airMaxCandidate("serplens", "84.00", []string{"https://img.example.com/1.jpg"})},
	}

	engine := newEngine(minimalConfig("serplens"), client)
	query := models.Query{Brand: "Nike"}

	engine.Aggregate(context.Background(), query, nil, "")
	result := engine.Aggregate(context.Background(), query, nil, "")

	if got := atomic.LoadInt64(&client.calls); got != 1 {
		t.Errorf("expected one upstream call, got %d", got)
	}
	if !result.Sources["serplens"].Cached {
		t.Errorf("second run should be served from cache")
	}
	if len(result.Products) != 1 {
		t.Errorf("cached run must still return products")
	}
}

func TestRateLimitRecordedAsFailure(t *testing.T) {
	client := &fakeClient{
		name:       "serplens",
		candidates: []models.RawCandidate{airMaxCandidate("serplens", "84.00", nil)},
	}

	cfg := minimalConfig("serplens")
	pc := cfg.Providers["serplens"]
	pc.DailyQuota = 1
	cfg.Providers["serplens"] = pc

	engine := newEngine(cfg, client)

	engine.Aggregate(context.Background(), models.Query{Brand: "Nike"}, nil, "")
	// Different query to bypass the cache and hit the quota.
	result := engine.Aggregate(context.Background(), models.Query{Brand: "Adidas"}, nil, "")

	if len(result.Errors) != 1 {
		t.Fatalf("expected one rate-limit failure, got %+v", result.Errors)
	}
	if result.Errors[0].RetryAfter <= 0 {
		t.Errorf("rate-limit failure must carry retry-after")
	}
	if !result.Sources["serplens"].Failed {
		t.Errorf("limited provider should be marked failed in diagnostics")
	}
}

func TestSortOrders(t *testing.T) {
	mk := func(name, sale string, url string) models.RawCandidate {
		c := airMaxCandidate("serplens", sale, []string{"https://img.example.com/1.jpg"})
		c.Name = name
		c.URL = url
		return c
	}
	client := &fakeClient{
		name: "serplens",
		candidates: []models.RawCandidate{
			mk("Air Max 90", "84.00", "https://shop.example.com/p/air-max"),   // 30%
			mk("Pegasus 41", "60.00", "https://shop.example.com/p/pegasus"),   // 50%
			mk("Metcon 9", "96.00", "https://shop.example.com/p/metcon"),      // 20%
		},
	}

	engine := newEngine(minimalConfig("serplens"), client)

	result := engine.Aggregate(context.Background(), models.Query{Brand: "Nike"}, nil, models.SortByDiscount)
	if result.Products[0].Name != "Pegasus 41" || result.Products[2].Name != "Metcon 9" {
		t.Errorf("unexpected discount ordering: %v", productNames(result.Products))
	}

	result = engine.Aggregate(context.Background(), models.Query{Brand: "Nike"}, nil, models.SortByPrice)
	if result.Products[0].Name != "Pegasus 41" || result.Products[2].Name != "Metcon 9" {
		t.Errorf("unexpected price ordering: %v", productNames(result.Products))
	}
}

func TestMinDiscountFilter(t *testing.T) {
	client := &fakeClient{
		name: "serplens",
		candidates: []models.RawCandidate{
			airMaxCandidate("serplens", "84.00", nil), // 30%
		},
	}

	engine := newEngine(minimalConfig("serplens"), client)
	result := engine.Aggregate(context.Background(), models.Query{Brand: "Nike", MinDiscount: 40}, nil, "")

	if len(result.Products) != 0 {
		t.Errorf("expected discount filter to drop the record")
	}
}

func TestSlowProviderDoesNotStallSiblings(t *testing.T) {
	cfg := minimalConfig("serplens", "dealcrest")
	cfg.Aggregator.ProviderTimeout = 50 * time.Millisecond
	cfg.Retry.MaxAttempts = 1

	slow := &fakeClient{name: "serplens", delay: 5 * time.Second}
	fast := &fakeClient{
		name:       "dealcrest",
		candidates: []models.RawCandidate{airMaxCandidate("dealcrest", "84.00", nil)},
	}

	engine := newEngine(cfg, slow, fast)

	start := time.Now()
	result := engine.Aggregate(context.Background(), models.Query{Brand: "Nike"}, nil, "")
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Fatalf("slow provider stalled the aggregation: %s", elapsed)
	}
	if len(result.Products) != 1 {
		t.Errorf("fast provider's results must be returned, got %d products", len(result.Products))
	}
	if len(result.Sources) != 2 {
		t.Errorf("sources must include the timed-out provider")
	}
}

func productNames(products []models.Product) []string {
	names := make([]string, len(products))
	for i, p := range products {
		names[i] = p.Name
	}
	return names
}
