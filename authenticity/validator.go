package authenticity

import (
	"fmt"
	"math"
	"strings"

	"dealflow/models"
)

// Discount bounds for an authentic record. Anything below the floor is
// noise; anything above the ceiling is almost certainly a data error.
const (
	MinDiscount = 10
	MaxDiscount = 90
)

// Known synthetic-markup fingerprint: a vendor fabricating "30% off" by
// multiplying the sale price. A ratio landing within the tolerance of 1.30
// is suspect, not authentic.
const (
	syntheticRatio     = 1.30
	syntheticTolerance = 0.01
)

const (
	scoreStart   = 100
	scoreFloor   = 70
	scoreCeiling = 99
)

// Verdict is the validator's output: acceptance, a clamped confidence score
// and the list of reasons that lowered or rejected the record.
type Verdict struct {
	Accepted   bool
	Confidence int
	Reasons    []string
}

// Validate scores one normalized product. The policy is applied identically
// regardless of provider so authenticity rules cannot drift between
// adapters.
func Validate(p *models.Product) Verdict {
	var reasons []string

	if p.SalePrice <= 0 || p.OriginalPrice <= p.SalePrice {
		return Verdict{Reasons: []string{"price data invariant violated"}}
	}
	if p.DiscountPercentage < MinDiscount {
		return Verdict{Reasons: []string{fmt.Sprintf("discount %d%% below minimum %d%%", p.DiscountPercentage, MinDiscount)}}
	}
	if p.DiscountPercentage > MaxDiscount {
		return Verdict{Reasons: []string{fmt.Sprintf("discount %d%% above maximum %d%%", p.DiscountPercentage, MaxDiscount)}}
	}

	score := scoreStart

	ratio := p.OriginalPrice / p.SalePrice
	if math.Abs(ratio-syntheticRatio) <= syntheticTolerance {
		score -= 5
		reasons = append(reasons, "price ratio matches synthetic 1.30 markup fingerprint")
	}

	if len(strings.TrimSpace(p.Name)) < 3 {
		score -= 30
		reasons = append(reasons, "missing or short name")
	}
	if strings.TrimSpace(p.Brand) == "" {
		score -= 20
		reasons = append(reasons, "missing brand")
	}
	if models.NormalizeURL(p.ProductURL) == "" {
		score -= 20
		reasons = append(reasons, "unparsable product url")
	}
	if len(p.Images) == 0 {
		score -= 5
		reasons = append(reasons, "no images")
	}

	if score > scoreCeiling {
		score = scoreCeiling
	}
	if score < scoreFloor {
		score = scoreFloor
	}

	return Verdict{Accepted: true, Confidence: score, Reasons: reasons}
}
