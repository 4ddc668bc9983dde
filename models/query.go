package models

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Query describes one aggregation request. The zero value is a valid
// "everything" query.
type Query struct {
	Keyword     string `json:"keyword,omitempty"`
	Brand       string `json:"brand,omitempty"`
	Category    string `json:"category,omitempty"`
	MinDiscount int    `json:"min_discount,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// Params returns the query as a flat parameter map. Empty fields are
// omitted so that equivalent queries produce equal maps.
func (q Query) Params() map[string]string {
	params := make(map[string]string, 5)
	if q.Keyword != "" {
		params["keyword"] = q.Keyword
	}
	if q.Brand != "" {
		params["brand"] = q.Brand
	}
	if q.Category != "" {
		params["category"] = q.Category
	}
	if q.MinDiscount > 0 {
		params["min_discount"] = strconv.Itoa(q.MinDiscount)
	}
	if q.Limit > 0 {
		params["limit"] = strconv.Itoa(q.Limit)
	}
	return params
}

// Digest renders the parameters as a stable "k=v" list sorted by key,
// suitable for logging and usage records.
func (q Query) Digest() string {
	params := q.Params()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, "&")
}

// SortCriterion selects the ordering of the merged product list.
type SortCriterion string

const (
	SortByDiscount SortCriterion = "discount" // descending discount, the default
	SortByPrice    SortCriterion = "price"    // ascending sale price
	SortByNewest   SortCriterion = "newest"   // most recently fetched first
)

// ProviderStats is the per-provider diagnostic entry of an aggregation
// call. One entry exists for every provider attempted, including total
// failures.
type ProviderStats struct {
	Provider string        `json:"provider"`
	Count    int           `json:"count"`
	Latency  time.Duration `json:"latency"`
	Cached   bool          `json:"cached"`
	Failed   bool          `json:"failed"`
}

// ProviderFailure records why a provider contributed nothing.
type ProviderFailure struct {
	Provider   string        `json:"provider"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// AggregatedResult is what callers always receive: possibly zero products
// plus a complete diagnostic record. Partial failure is a valid terminal
// outcome, not an error.
type AggregatedResult struct {
	ID       string                   `json:"id"`
	Query    Query                    `json:"query"`
	Products []Product                `json:"products"`
	Sources  map[string]ProviderStats `json:"sources"`
	Errors   []ProviderFailure        `json:"errors,omitempty"`
}
