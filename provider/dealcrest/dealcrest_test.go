package dealcrest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dealflow/config"
	"dealflow/models"
)

func testConfig(baseURL string) config.ProviderConfig {
	return config.ProviderConfig{
		Enabled: true,
		Kind:    "dealcrest",
		BaseURL: baseURL,
		APIKey:  "dc-test",
		Timeout: 5 * time.Second,
	}
}

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/offers/search" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer dc-test" {
			t.Errorf("unexpected auth header: %q", got)
		}
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Brand != "Nike" || req.PageSize != 10 {
			t.Errorf("unexpected request body: %+v", req)
		}
		w.Write([]byte(`{
			"offers": [
				{
					"sku": "DC-1",
					"product_name": "Air Max 90",
					"brand_name": "Nike",
					"category_path": "Shoes > Running",
					"product_url": "https://shop.example.com/p/air-max",
					"image_urls": ["https://img.example.com/1.jpg"],
					"sale_cents": 8400,
					"list_cents": 12000,
					"discount_percent": 30,
					"currency_code": "USD"
				},
				{
					"sku": "DC-2",
					"product_name": "Mystery Deal",
					"product_url": "https://shop.example.com/p/mystery",
					"sale_cents": 0
				}
			]
		}`))
	}))
	defer srv.Close()

	c := NewClient("dealcrest", testConfig(srv.URL))
	got, err := c.Search(context.Background(), models.Query{Brand: "Nike", Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 candidate (zero-price offer dropped), got %d", len(got))
	}
	c0 := got[0]
	if c0.PriceText != "84.00" || c0.OriginalPriceText != "120.00" {
		t.Errorf("cents not rendered as price text: %+v", c0)
	}
	if c0.Discount != 30 {
		t.Errorf("upstream discount figure lost: %+v", c0)
	}
	if c0.Category != "Shoes" {
		t.Errorf("expected first category segment, got %q", c0.Category)
	}
}

func TestSearchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"offers": [], "error": "index rebuilding"}`))
	}))
	defer srv.Close()

	c := NewClient("dealcrest", testConfig(srv.URL))
	if _, err := c.Search(context.Background(), models.Query{Brand: "Nike"}); err == nil {
		t.Fatalf("expected error for envelope-level failure")
	}
}

func TestSearchThrottledIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("dealcrest", testConfig(srv.URL))
	_, err := c.Search(context.Background(), models.Query{Brand: "Nike"})
	if err == nil {
		t.Fatalf("expected error on 429")
	}
	if !models.IsTransient(err) {
		t.Errorf("429 should be retryable, got %v", err)
	}
}

func TestCentsToText(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{8400, "84.00"},
		{12999, "129.99"},
		{5, "0.05"},
		{0, ""},
		{-100, ""},
	}
	for _, tt := range tests {
		if got := centsToText(tt.cents); got != tt.want {
			t.Errorf("centsToText(%d) = %q, want %q", tt.cents, got, tt.want)
		}
	}
}
