package serplens

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"dealflow/config"
	"dealflow/logger"
	"dealflow/models"
	"dealflow/provider"
)

// Client queries the SerpLens paid product-search API. Authentication is an
// api_key query parameter; results arrive as a JSON envelope with free-text
// price strings.
type Client struct {
	name       string
	config     config.ProviderConfig
	httpClient *http.Client
	throttle   *provider.Throttle
	log        *logger.Log
}

func NewClient(name string, cfg config.ProviderConfig) *Client {
	log := logger.GetLogger()

	c := &Client{
		name:       name,
		config:     cfg,
		httpClient: provider.NewHTTPClient(cfg),
		throttle:   provider.NewThrottle(cfg.RequestsPerSecond, cfg.Burst),
		log:        log,
	}

	log.WithComponent("serplens").WithFields(logger.Fields{
		"provider":           name,
		"max_idle_conns":     cfg.ConnectionPool.MaxIdleConns,
		"max_conns_per_host": cfg.ConnectionPool.MaxConnsPerHost,
		"timeout":            cfg.Timeout,
	}).Info("serplens client initialized")

	return c
}

func (c *Client) Name() string { return c.name }

// searchResponse is the provider's native envelope.
type searchResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Results []searchResult `json:"results"`
}

type searchResult struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Brand      string      `json:"brand"`
	Category   string      `json:"category"`
	Link       string      `json:"link"`
	Thumbnails []string    `json:"thumbnails"`
	Price      searchPrice `json:"price"`
}

type searchPrice struct {
	Current  string `json:"current"`
	Regular  string `json:"regular"`
	Currency string `json:"currency"`
}

// Search runs one query against the /v1/search endpoint. Unmappable items
// are omitted, never defaulted.
func (c *Client) Search(ctx context.Context, query models.Query) ([]models.RawCandidate, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return nil, models.TransientProviderError(c.name, err)
	}

	reqURL, err := c.buildURL(query)
	if err != nil {
		return nil, &models.ProviderError{Provider: c.name, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &models.ProviderError{Provider: c.name, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network-level failures (timeouts, resets) are retryable.
		return nil, models.TransientProviderError(c.name, err)
	}
	defer resp.Body.Close()

	log := c.log.WithComponent("serplens").WithFields(logger.Fields{
		"provider": c.name,
		"query":    query.Digest(),
	})
	logger.LogPerformanceEntry(log, "serplens", "api_request", time.Since(start), nil)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, models.NewProviderError(c.name, resp.StatusCode,
			fmt.Errorf("search failed: %s", string(body)))
	}

	var envelope searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &models.ProviderError{Provider: c.name, Err: fmt.Errorf("decode response: %w", err)}
	}
	if envelope.Status != "ok" {
		return nil, &models.ProviderError{Provider: c.name, Err: fmt.Errorf("upstream status %q: %s", envelope.Status, envelope.Message)}
	}

	fetchedAt := time.Now().UTC()
	candidates := make([]models.RawCandidate, 0, len(envelope.Results))
	for _, r := range envelope.Results {
		if r.Title == "" || r.Link == "" || r.Price.Current == "" {
			log.WithFields(logger.Fields{"item_id": r.ID}).Debug("skipping unmappable item")
			continue
		}
		candidates = append(candidates, models.RawCandidate{
			Provider:          c.name,
			ExternalID:        r.ID,
			Name:              r.Title,
			Brand:             r.Brand,
			Category:          r.Category,
			PriceText:         r.Price.Current,
			OriginalPriceText: r.Price.Regular,
			Currency:          r.Price.Currency,
			URL:               r.Link,
			Images:            r.Thumbnails,
			FetchedAt:         fetchedAt,
		})
	}

	log.WithFields(logger.Fields{"results": len(candidates)}).Debug("search completed")
	return candidates, nil
}

func (c *Client) buildURL(query models.Query) (string, error) {
	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	base.Path = "/v1/search"

	values := url.Values{}
	values.Set("api_key", c.config.APIKey)
	if query.Keyword != "" {
		values.Set("q", query.Keyword)
	}
	if query.Brand != "" {
		values.Set("brand", query.Brand)
	}
	if query.Category != "" {
		values.Set("category", query.Category)
	}
	if query.Limit > 0 {
		values.Set("num", fmt.Sprintf("%d", query.Limit))
	}
	base.RawQuery = values.Encode()
	return base.String(), nil
}
