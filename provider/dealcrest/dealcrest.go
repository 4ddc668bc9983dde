package dealcrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dealflow/config"
	"dealflow/logger"
	"dealflow/models"
	"dealflow/provider"
)

// Client queries the DealCrest deals API. Requests are POSTed as JSON with a
// Bearer token; prices arrive as integer cents and each offer carries the
// provider's own discount figure, which the normalizer only trusts when it
// is consistent with the prices.
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

	log.WithComponent("dealcrest").WithFields(logger.Fields{
		"provider": name,
		"timeout":  cfg.Timeout,
	}).Info("dealcrest client initialized")

	return c
}

func (c *Client) Name() string { return c.name }

type searchRequest struct {
	Query    string `json:"query,omitempty"`
	Brand    string `json:"brand,omitempty"`
	Category string `json:"category,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
}

type searchResponse struct {
	Offers []offer `json:"offers"`
	Error  string  `json:"error,omitempty"`
}

type offer struct {
	SKU             string   `json:"sku"`
	ProductName     string   `json:"product_name"`
	BrandName       string   `json:"brand_name"`
	CategoryPath    string   `json:"category_path"`
	ProductURL      string   `json:"product_url"`
	ImageURLs       []string `json:"image_urls"`
	SaleCents       int64    `json:"sale_cents"`
	ListCents       int64    `json:"list_cents"`
	DiscountPercent int      `json:"discount_percent"`
	CurrencyCode    string   `json:"currency_code"`
}

// Search posts one query to /api/offers/search.
func (c *Client) Search(ctx context.Context, query models.Query) ([]models.RawCandidate, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return nil, models.TransientProviderError(c.name, err)
	}

	body, err := json.Marshal(searchRequest{
		Query:    query.Keyword,
		Brand:    query.Brand,
		Category: query.Category,
		PageSize: query.Limit,
	})
	if err != nil {
		return nil, &models.ProviderError{Provider: c.name, Err: err}
	}

	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/api/offers/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &models.ProviderError{Provider: c.name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, models.TransientProviderError(c.name, err)
	}
	defer resp.Body.Close()

	log := c.log.WithComponent("dealcrest").WithFields(logger.Fields{
		"provider": c.name,
		"query":    query.Digest(),
	})
	logger.LogPerformanceEntry(log, "dealcrest", "api_request", time.Since(start), nil)

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, models.NewProviderError(c.name, resp.StatusCode,
			fmt.Errorf("offer search failed: %s", string(snippet)))
	}

	var envelope searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &models.ProviderError{Provider: c.name, Err: fmt.Errorf("decode response: %w", err)}
	}
	if envelope.Error != "" {
		return nil, &models.ProviderError{Provider: c.name, Err: fmt.Errorf("upstream error: %s", envelope.Error)}
	}

	fetchedAt := time.Now().UTC()
	candidates := make([]models.RawCandidate, 0, len(envelope.Offers))
	for _, o := range envelope.Offers {
		if o.ProductName == "" || o.ProductURL == "" || o.SaleCents <= 0 {
			log.WithFields(logger.Fields{"sku": o.SKU}).Debug("skipping unmappable offer")
			continue
		}
		candidates = append(candidates, models.RawCandidate{
			Provider:          c.name,
			ExternalID:        o.SKU,
			Name:              o.ProductName,
			Brand:             o.BrandName,
			Category:          firstSegment(o.CategoryPath),
			PriceText:         centsToText(o.SaleCents),
			OriginalPriceText: centsToText(o.ListCents),
			Discount:          o.DiscountPercent,
			Currency:          o.CurrencyCode,
			URL:               o.ProductURL,
			Images:            o.ImageURLs,
			FetchedAt:         fetchedAt,
		})
	}

	log.WithFields(logger.Fields{"results": len(candidates)}).Debug("offer search completed")
	return candidates, nil
}

// centsToText renders integer cents as the free-text price shape the
// normalizer expects from every provider.
func centsToText(cents int64) string {
	if cents <= 0 {
		return ""
	}
	return strconv.FormatFloat(float64(cents)/100, 'f', 2, 64)
}

func firstSegment(path string) string {
	if idx := strings.Index(path, ">"); idx >= 0 {
		return strings.TrimSpace(path[:idx])
	}
	return strings.TrimSpace(path)
}
