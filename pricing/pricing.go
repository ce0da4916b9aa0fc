/*
Package pricing computes customer and fulfiller prices for catalog items.

PURPOSE:
  Two prices exist for every item and they are never interchanged:

    customer price  = base price + platform margin
    display price   = fulfiller's custom price, or the base price

  The customer price is what an order line snapshots. The display price
  is what a cook sees in their own catalog.

MARGIN RULES:
  percent: margin = base * value / 100
  fixed:   margin = value

  Negative inputs are a ValidationError, never silently clamped. The
  computed margin is still floored at zero, and rounded to paise.

OVERRIDES:
  An override only exists while it differs from the base price. Setting a
  custom price equal to the base deletes the override; prices below 1
  are rejected.

SEE ALSO:
  - service.go: Store-backed override management and quotes
  - generic/policy.go: MarginRule
*/
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/fulfillment-engine/generic"
)

// MinOverridePrice is the lowest custom price a fulfiller may set.
var MinOverridePrice = generic.NewMoneyFromInt(1)

// ComputeMargin returns the platform margin for base under rule.
func ComputeMargin(base generic.Money, rule generic.MarginRule) (generic.Money, error) {
	if base.IsNegative() {
		return generic.Zero, &generic.ValidationError{Field: "base_price", Reason: "must not be negative"}
	}
	if err := rule.Validate(); err != nil {
		return generic.Zero, err
	}

	rule = rule.Normalized()
	var margin generic.Money
	switch rule.Type {
	case generic.MarginPercent:
		margin = base.Percent(rule.Value)
	case generic.MarginFixed:
		margin = generic.MoneyOf(rule.Value).Round()
	}
	return margin.Max(generic.Zero), nil
}

// CustomerPrice is base price plus margin.
func CustomerPrice(item generic.CatalogItem) (generic.Money, error) {
	margin, err := ComputeMargin(item.BasePrice, item.Margin)
	if err != nil {
		return generic.Zero, fmt.Errorf("item %s: %w", item.ID, err)
	}
	return item.BasePrice.Add(margin).Round(), nil
}

// FulfillerDisplayPrice is the fulfiller's own price for the item.
// It never includes the platform margin.
func FulfillerDisplayPrice(item generic.CatalogItem, override *generic.FulfillerOverride) generic.Money {
	if override != nil {
		return override.CustomPrice
	}
	return item.BasePrice
}

// ResolveOverride decides what to store for a requested custom price.
// The price is compared as stored, rounded to paise. It returns nil when
// the override should be deleted (price equals base).
func ResolveOverride(newPrice, base generic.Money) (*generic.Money, error) {
	p := newPrice.Round()
	if p.LessThan(MinOverridePrice) {
		return nil, &generic.ValidationError{
			Field:  "custom_price",
			Reason: fmt.Sprintf("must be at least %s", MinOverridePrice),
		}
	}
	if p.Equal(base.Round()) {
		return nil, nil
	}
	return &p, nil
}

// =============================================================================
// ORDER LINES
// =============================================================================

// Line is a requested item and quantity.
type Line struct {
	ItemID   generic.ItemID
	Quantity int
}

// PriceLines snapshots customer prices into order items and returns the
// order total. Every referenced item must be present in items.
func PriceLines(items map[generic.ItemID]generic.CatalogItem, lines []Line) ([]generic.OrderItem, generic.Money, error) {
	if len(lines) == 0 {
		return nil, generic.Zero, &generic.ValidationError{Field: "items", Reason: "at least one item is required"}
	}

	out := make([]generic.OrderItem, 0, len(lines))
	total := generic.Zero
	for _, l := range lines {
		if l.Quantity < 1 {
			return nil, generic.Zero, &generic.ValidationError{
				Field:  "quantity",
				Reason: fmt.Sprintf("item %s: quantity must be at least 1", l.ItemID),
			}
		}
		item, ok := items[l.ItemID]
		if !ok {
			return nil, generic.Zero, generic.NotFound("item", l.ItemID)
		}
		unit, err := CustomerPrice(item)
		if err != nil {
			return nil, generic.Zero, err
		}
		lineTotal := unit.Mul(decimal.NewFromInt(int64(l.Quantity)))
		out = append(out, generic.OrderItem{
			ItemID:     item.ID,
			Quantity:   l.Quantity,
			UnitPrice:  unit,
			TotalPrice: lineTotal,
		})
		total = total.Add(lineTotal)
	}
	return out, total, nil
}
