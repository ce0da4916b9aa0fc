/*
policy.go - Platform margin rules

PURPOSE:
  A MarginRule is the platform's markup policy for a catalog item: either
  a percentage of the base price or a fixed amount on top of it. The rule
  is data only; pricing/ evaluates it.

DEFAULTS:
  Catalog rows created before margins existed carry no rule. An empty
  Type reads as percent and an empty Value as zero, so such items sell
  at base price.

SEE ALSO:
  - pricing/pricing.go: ComputeMargin, CustomerPrice
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type MarginType string

const (
	MarginPercent MarginType = "percent"
	MarginFixed   MarginType = "fixed"
)

// MarginRule is the platform markup applied on top of a base price.
type MarginRule struct {
	Type  MarginType
	Value decimal.Decimal
}

// Normalized fills in the legacy defaults.
func (r MarginRule) Normalized() MarginRule {
	if r.Type == "" {
		r.Type = MarginPercent
	}
	return r
}

// Validate rejects unknown types and negative values.
func (r MarginRule) Validate() error {
	r = r.Normalized()
	if r.Type != MarginPercent && r.Type != MarginFixed {
		return &ValidationError{Field: "margin_type", Reason: fmt.Sprintf("unknown margin type %q", r.Type)}
	}
	if r.Value.IsNegative() {
		return &ValidationError{Field: "margin_value", Reason: "must not be negative"}
	}
	return nil
}

func PercentMargin(v float64) MarginRule { return MarginRule{Type: MarginPercent, Value: decimal.NewFromFloat(v)} }
func FixedMargin(v float64) MarginRule   { return MarginRule{Type: MarginFixed, Value: decimal.NewFromFloat(v)} }
