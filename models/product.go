package models

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"
)

// Category classifies a product into one of the catalog's top-level groups.
type Category string

const (
	CategoryApparel     Category = "apparel"
	CategoryShoes       Category = "shoes"
	CategoryElectronics Category = "electronics"
	CategoryHome        Category = "home"
	CategoryBeauty      Category = "beauty"
	CategorySports      Category = "sports"
	CategoryOther       Category = "other"
)

// ParseCategory maps free-form provider category strings onto the canonical
// enum. Unknown values fall back to CategoryOther rather than failing the
// candidate.
func ParseCategory(s string) Category {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "apparel", "clothing", "fashion":
		return CategoryApparel
	case "shoes", "footwear", "sneakers":
		return CategoryShoes
	case "electronics", "tech":
		return CategoryElectronics
	case "home", "furniture", "kitchen":
		return CategoryHome
	case "beauty", "cosmetics":
		return CategoryBeauty
	case "sports", "outdoor", "fitness":
		return CategorySports
	default:
		return CategoryOther
	}
}

// Product is the canonical, validated deal record produced by the engine.
// A Product is never mutated after validation; a fresher record with the
// same dedup key supersedes it during the merge step.
type Product struct {
	ExternalID         string    `json:"external_id,omitempty"`
	ProductURL         string    `json:"product_url"`
	Name               string    `json:"name"`
	Brand              string    `json:"brand"`
	Category           Category  `json:"category"`
	OriginalPrice      float64   `json:"original_price"`
	SalePrice          float64   `json:"sale_price"`
	DiscountPercentage int       `json:"discount_percentage"`
	Currency           string    `json:"currency"`
	Images             []string  `json:"images,omitempty"`
	Source             string    `json:"source"`
	ConfidenceScore    int       `json:"confidence_score"`
	FetchedAt          time.Time `json:"fetched_at"`
}

// ComputeDiscount derives the discount percentage from the two prices,
// rounded to the nearest integer. Returns 0 when the prices cannot yield a
// meaningful discount.
func ComputeDiscount(originalPrice, salePrice float64) int {
	if originalPrice <= 0 || salePrice <= 0 || salePrice >= originalPrice {
		return 0
	}
	return int(math.Round((originalPrice - salePrice) / originalPrice * 100))
}

// DedupKey identifies equivalent records across providers: the external ID
// (a catalog-level identifier such as a SKU or GTIN) when present, otherwise
// the normalized product URL, otherwise the (name, salePrice) pair.
func (p *Product) DedupKey() string {
	if p.ExternalID != "" {
		return "id:" + strings.ToLower(p.ExternalID)
	}
	if u := NormalizeURL(p.ProductURL); u != "" {
		return "url:" + u
	}
	return fmt.Sprintf("np:%s:%.2f", strings.ToLower(strings.TrimSpace(p.Name)), p.SalePrice)
}

// NormalizeURL strips the query string, fragment and trailing slash so the
// same listing reached through different tracking parameters keys
// identically. Returns "" for unparsable input.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	return strings.TrimRight(u.String(), "/")
}

// RawCandidate is one provider-native result, carried as-extracted. Price
// fields stay free text until the normalizer parses them; a provider that
// supplies its own discount figure reports it via Discount (0 = absent).
type RawCandidate struct {
	Provider          string
	ExternalID        string
	Name              string
	Brand             string
	Category          string
	PriceText         string
	OriginalPriceText string
	Discount          int
	Currency          string
	URL               string
	Images            []string
	FetchedAt         time.Time
}
