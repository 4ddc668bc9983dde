package normalizer

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"dealflow/models"
)

// Rejection reasons surfaced to diagnostics. A rejected candidate is simply
// absent from the result; rejection never fails the provider task.
var (
	ErrMissingName          = errors.New("candidate has no name")
	ErrMissingBrand         = errors.New("candidate has no brand")
	ErrMissingURL           = errors.New("candidate has no product url")
	ErrMissingSalePrice     = errors.New("candidate has no parsable sale price")
	ErrMissingOriginalPrice = errors.New("candidate has no parsable original price")
)

// Normalize maps one provider-native candidate onto the canonical Product
// shape. It is a pure function: no I/O, no shared state.
//
// Candidates without a real original price are rejected outright. Estimating
// one (e.g. salePrice x 1.3) would let fabricated discounts masquerade as
// verified and would collide with the synthetic-markup detector downstream,
// so estimation is not offered at all.
func Normalize(c models.RawCandidate) (*models.Product, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return nil, ErrMissingName
	}
	brand := strings.TrimSpace(c.Brand)
	if brand == "" {
		return nil, ErrMissingBrand
	}
	if strings.TrimSpace(c.URL) == "" {
		return nil, ErrMissingURL
	}

	salePrice, saleCurrency, err := ParsePrice(c.PriceText)
	if err != nil || salePrice <= 0 {
		return nil, ErrMissingSalePrice
	}
	originalPrice, origCurrency, err := ParsePrice(c.OriginalPriceText)
	if err != nil || originalPrice <= 0 {
		return nil, ErrMissingOriginalPrice
	}

	computed := models.ComputeDiscount(originalPrice, salePrice)

	// Trust an upstream discount figure only when it is self-consistent with
	// the two prices; otherwise recompute from the prices.
	discount := computed
	if c.Discount != 0 && abs(c.Discount-computed) <= 1 {
		discount = c.Discount
	}

	currency := strings.ToUpper(strings.TrimSpace(c.Currency))
	if currency == "" {
		currency = saleCurrency
	}
	if currency == "" {
		currency = origCurrency
	}
	if currency == "" {
		currency = "USD"
	}

	fetchedAt := c.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}

	return &models.Product{
		ExternalID:         strings.TrimSpace(c.ExternalID),
		ProductURL:         strings.TrimSpace(c.URL),
		Name:               name,
		Brand:              brand,
		Category:           models.ParseCategory(c.Category),
		OriginalPrice:      originalPrice,
		SalePrice:          salePrice,
		DiscountPercentage: discount,
		Currency:           currency,
		Images:             c.Images,
		Source:             c.Provider,
		FetchedAt:          fetchedAt,
	}, nil
}

var numberRe = regexp.MustCompile(`\d[\d.,]*`)

var currencySymbols = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
	"¥": "JPY",
}

// ParsePrice extracts the first numeric amount from a free-text price field
// such as "$1,299.99", "1.299,99 €" or "was 120". It returns the detected
// currency code when a symbol or ISO code is present in the text.
func ParsePrice(text string) (float64, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, "", fmt.Errorf("empty price text")
	}

	match := numberRe.FindString(text)
	if match == "" {
		return 0, "", fmt.Errorf("no numeric amount in %q", text)
	}

	value, err := strconv.ParseFloat(normalizeSeparators(match), 64)
	if err != nil {
		return 0, "", fmt.Errorf("unparsable amount %q: %w", match, err)
	}

	return value, detectCurrency(text), nil
}

// normalizeSeparators resolves thousands and decimal separators. When both
// appear, the rightmost one is the decimal separator. A lone comma followed
// by exactly two digits is treated as a decimal comma.
func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if len(s)-lastComma == 3 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	}
	return s
}

func detectCurrency(text string) string {
	for symbol, code := range currencySymbols {
		if strings.Contains(text, symbol) {
			return code
		}
	}
	upper := strings.ToUpper(text)
	for _, code := range []string{"USD", "EUR", "GBP", "JPY", "CAD", "AUD"} {
		if strings.Contains(upper, code) {
			return code
		}
	}
	return ""
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
