package serplens

import (
	"context"
	"errors"
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
		Kind:    "serplens",
		BaseURL: baseURL,
		APIKey:  "sk-test",
		Timeout: 5 * time.Second,
	}
}

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/search" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("api_key") != "sk-test" {
			t.Errorf("missing api key, got %q", q.Get("api_key"))
		}
		if q.Get("brand") != "Nike" || q.Get("q") != "running" {
			t.Errorf("unexpected query params: %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "ok",
			"results": [
				{
					"id": "SKU-1",
					"title": "Air Max 90",
					"brand": "Nike",
					"category": "shoes",
					"link": "https://shop.example.com/p/air-max",
					"thumbnails": ["https://img.example.com/1.jpg"],
					"price": {"current": "$84.00", "regular": "$120.00", "currency": "USD"}
				},
				{
					"id": "SKU-2",
					"title": "",
					"link": "https://shop.example.com/p/mystery",
					"price": {"current": "$10.00"}
				}
			]
		}`))
	}))
	defer srv.Close()

	c := NewClient("serplens", testConfig(srv.URL))
	got, err := c.Search(context.Background(), models.Query{Keyword: "running", Brand: "Nike"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	// The titleless item is dropped, not defaulted.
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	c0 := got[0]
	if c0.ExternalID != "SKU-1" || c0.Name != "Air Max 90" || c0.Brand != "Nike" {
		t.Errorf("unexpected mapping: %+v", c0)
	}
	if c0.PriceText != "$84.00" || c0.OriginalPriceText != "$120.00" || c0.Currency != "USD" {
		t.Errorf("unexpected price mapping: %+v", c0)
	}
	if c0.Provider != "serplens" {
		t.Errorf("candidate must carry the provider name, got %q", c0.Provider)
	}
}

func TestSearchServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient("serplens", testConfig(srv.URL))
	_, err := c.Search(context.Background(), models.Query{Brand: "Nike"})
	if err == nil {
		t.Fatalf("expected error on 502")
	}
	if !models.IsTransient(err) {
		t.Errorf("502 should be retryable, got %v", err)
	}
}

func TestSearchAuthErrorIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient("serplens", testConfig(srv.URL))
	_, err := c.Search(context.Background(), models.Query{Brand: "Nike"})

	var pe *models.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.StatusCode != http.StatusUnauthorized || pe.Transient {
		t.Errorf("401 must be terminal: %+v", pe)
	}
}

func TestSearchUpstreamStatusRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "quota_exceeded", "message": "plan limit reached", "results": []}`))
	}))
	defer srv.Close()

	c := NewClient("serplens", testConfig(srv.URL))
	if _, err := c.Search(context.Background(), models.Query{Brand: "Nike"}); err == nil {
		t.Fatalf("expected error for non-ok envelope status")
	}
}

func TestSearchConnectionRefusedIsTransient(t *testing.T) {
	// Point at a server that is already gone.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient("serplens", testConfig(url))
	_, err := c.Search(context.Background(), models.Query{Brand: "Nike"})
	if err == nil {
		t.Fatalf("expected connection error")
	}
	if !models.IsTransient(err) {
		t.Errorf("network failure should be retryable, got %v", err)
	}
}
