package scraperhub

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"dealflow/config"
	"dealflow/logger"
	"dealflow/models"
	"dealflow/provider"
)

// Client bridges the engine to the browser-automation scraping subsystem
// over a websocket RPC. The subsystem owns selector hunting, anti-bot
// evasion and scrolling; this adapter only sends a search frame and waits
// for the result frame, so the engine sees the scraper as just another
// provider.
type Client struct {
	name     string
	config   config.ProviderConfig
	dialer   *websocket.Dialer
	throttle *provider.Throttle
	log      *logger.Log
}

func NewClient(name string, cfg config.ProviderConfig) *Client {
	log := logger.GetLogger()

	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.Timeout,
	}

	c := &Client{
		name:     name,
		config:   cfg,
		dialer:   dialer,
		throttle: provider.NewThrottle(cfg.RequestsPerSecond, cfg.Burst),
		log:      log,
	}

	log.WithComponent("scraperhub").WithFields(logger.Fields{
		"provider": name,
		"url":      cfg.BaseURL,
	}).Info("scraperhub client initialized")

	return c
}

func (c *Client) Name() string { return c.name }

type requestFrame struct {
	Op     string            `json:"op"`
	Params map[string]string `json:"params"`
}

type responseFrame struct {
	Op    string       `json:"op"`
	Code  int          `json:"code,omitempty"`
	Error string       `json:"error,omitempty"`
	Items []scrapeItem `json:"items,omitempty"`
}

type scrapeItem struct {
	Name          string   `json:"name"`
	Brand         string   `json:"brand"`
	Category      string   `json:"category"`
	URL           string   `json:"url"`
	Images        []string `json:"images"`
	PriceText     string   `json:"price_text"`
	WasPriceText  string   `json:"was_price_text"`
	DiscountLabel int      `json:"discount_label,omitempty"`
}

// Search opens a connection per call: the scraping subsystem multiplexes
// browser sessions behind the socket and a short-lived connection keeps
// failure isolation simple.
func (c *Client) Search(ctx context.Context, query models.Query) ([]models.RawCandidate, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return nil, models.TransientProviderError(c.name, err)
	}

	wsURL := strings.TrimRight(c.config.BaseURL, "/") + "/ws/search"

	header := http.Header{}
	if c.config.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	start := time.Now()
	conn, _, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, models.TransientProviderError(c.name, fmt.Errorf("dial scraper subsystem: %w", err))
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	} else if c.config.Timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.config.Timeout))
		_ = conn.SetWriteDeadline(time.Now().Add(c.config.Timeout))
	}

	if err := conn.WriteJSON(requestFrame{Op: "search", Params: query.Params()}); err != nil {
		return nil, models.TransientProviderError(c.name, fmt.Errorf("send search frame: %w", err))
	}

	log := c.log.WithComponent("scraperhub").WithFields(logger.Fields{
		"provider": c.name,
		"query":    query.Digest(),
	})

	// The subsystem may emit progress frames while the browser scrolls;
	// only "result" and "error" terminate the call.
	for {
		var frame responseFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
				return nil, models.TransientProviderError(c.name, fmt.Errorf("connection lost: %w", err))
			}
			return nil, models.TransientProviderError(c.name, fmt.Errorf("read frame: %w", err))
		}

		switch frame.Op {
		case "progress":
			continue
		case "error":
			return nil, models.NewProviderError(c.name, frame.Code, fmt.Errorf("scrape failed: %s", frame.Error))
		case "result":
			logger.LogPerformanceEntry(log, "scraperhub", "scrape_request", time.Since(start), nil)
			return c.mapItems(frame.Items, log), nil
		default:
			return nil, &models.ProviderError{Provider: c.name, Err: fmt.Errorf("unexpected frame op %q", frame.Op)}
		}
	}
}

func (c *Client) mapItems(items []scrapeItem, log *logger.Entry) []models.RawCandidate {
	fetchedAt := time.Now().UTC()
	candidates := make([]models.RawCandidate, 0, len(items))

	for _, item := range items {
		if item.Name == "" || item.URL == "" || item.PriceText == "" {
			log.Debug("skipping unmappable scrape item")
			continue
		}
		candidates = append(candidates, models.RawCandidate{
			Provider:          c.name,
			Name:              item.Name,
			Brand:             item.Brand,
			Category:          item.Category,
			PriceText:         item.PriceText,
			OriginalPriceText: item.WasPriceText,
			Discount:          item.DiscountLabel,
			URL:               item.URL,
			Images:            item.Images,
			FetchedAt:         fetchedAt,
		})
	}

	log.WithFields(logger.Fields{"results": len(candidates)}).Debug("scrape completed")
	return candidates
}
