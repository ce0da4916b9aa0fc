/*
Package factory provides JSON to Go marketplace conversion.

PURPOSE:
  Converts a JSON marketplace definition (catalog items, fulfillers,
  panchayats, referrers and orders) into validated generic types and
  writes them to a store. Operators can stand up a marketplace or a
  demo without code changes, and tests can seed realistic state from
  one document.

JSON SCHEMA:
  {
    "panchayats": [{"id": "p-kottayam", "name": "Kottayam"}],
    "items": [
      {"id": "biryani", "name": "Chicken Biryani", "base_price": "150",
       "margin": {"type": "percent", "value": "10"},
       "service_types": ["cloud_kitchen"]}
    ],
    "fulfillers": [
      {"id": "cook-meena", "role": "cook", "name": "Meena's Kitchen",
       "rating": "4.8", "service_types": ["cloud_kitchen", "homemade"]}
    ],
    "overrides": [{"fulfiller_id": "cook-meena", "item_id": "biryani", "price": "140"}],
    "referrers": [{"user_id": "ref-asha", "name": "Asha", "code": "ASHA10"}],
    "orders": [
      {"id": "o-1001", "customer_id": "cust-1", "service_type": "cloud_kitchen",
       "panchayat_id": "p-kottayam", "referred_by": "ref-asha",
       "items": [{"item_id": "biryani", "quantity": 2}]}
    ]
  }

KEY FEATURES:
  - Validates every enum, margin rule and override price
  - Defaults: margin type percent, fulfillers active and available,
    orders confirmed
  - Order items are priced with pricing.PriceLines, so totals always
    equal the sum of customer prices
  - Amounts may be JSON numbers or strings

USAGE:
  f := NewCatalogFactory()
  catalog, err := f.ParseCatalog(jsonString)
  err = f.Load(ctx, store, catalog)

SEE ALSO:
  - presets.go: Demo marketplace used by the API scenarios
  - pricing/pricing.go: CustomerPrice, PriceLines
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fulfillment-engine/generic"
	"github.com/warp/fulfillment-engine/pricing"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CatalogJSON is the JSON representation of a marketplace.
type CatalogJSON struct {
	Panchayats []PanchayatJSON `json:"panchayats,omitempty"`
	Items      []ItemJSON      `json:"items,omitempty"`
	Fulfillers []FulfillerJSON `json:"fulfillers,omitempty"`
	Overrides  []OverrideJSON  `json:"overrides,omitempty"`
	Referrers  []ReferrerJSON  `json:"referrers,omitempty"`
	Orders     []OrderJSON     `json:"orders,omitempty"`
}

type PanchayatJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ItemJSON struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	BasePrice    decimal.Decimal `json:"base_price"`
	Margin       *MarginJSON     `json:"margin,omitempty"`
	ServiceTypes []string        `json:"service_types,omitempty"`
	Unavailable  bool            `json:"unavailable,omitempty"`
}

// MarginJSON is the platform markup. Missing type means percent.
type MarginJSON struct {
	Type  string          `json:"type,omitempty"`
	Value decimal.Decimal `json:"value"`
}

type FulfillerJSON struct {
	ID           string          `json:"id"`
	Role         string          `json:"role"`
	Name         string          `json:"name"`
	Rating       decimal.Decimal `json:"rating"`
	ServiceTypes []string        `json:"service_types,omitempty"`
	PanchayatID  string          `json:"panchayat_id,omitempty"`
	Inactive     bool            `json:"inactive,omitempty"`
	Unavailable  bool            `json:"unavailable,omitempty"`
}

type OverrideJSON struct {
	FulfillerID string          `json:"fulfiller_id"`
	ItemID      string          `json:"item_id"`
	Price       decimal.Decimal `json:"price"`
}

type ReferrerJSON struct {
	UserID string  `json:"user_id"`
	Name   *string `json:"name,omitempty"`
	Code   string  `json:"code"`
}

type OrderJSON struct {
	ID          string     `json:"id"`
	Number      string     `json:"number,omitempty"`
	CustomerID  string     `json:"customer_id"`
	Status      string     `json:"status,omitempty"`
	ServiceType string     `json:"service_type"`
	PanchayatID string     `json:"panchayat_id,omitempty"`
	WardNumber  int        `json:"ward_number,omitempty"`
	ReferredBy  string     `json:"referred_by,omitempty"`
	CreatedAt   string     `json:"created_at,omitempty"`
	Items       []LineJSON `json:"items"`
}

type LineJSON struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// Catalog is a parsed, validated marketplace ready to be stored.
type Catalog struct {
	Panchayats []generic.Panchayat
	Items      []generic.CatalogItem
	Fulfillers []generic.Fulfiller
	Overrides  []generic.FulfillerOverride
	Referrers  []generic.ReferrerProfile
	Orders     []generic.Order
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

// CatalogFactory converts JSON marketplaces to Go structs.
type CatalogFactory struct {
	Now generic.Clock
}

func NewCatalogFactory() *CatalogFactory {
	return &CatalogFactory{Now: generic.SystemClock}
}

// ParseCatalog parses a JSON string into a Catalog.
func (f *CatalogFactory) ParseCatalog(jsonStr string) (*Catalog, error) {
	var cj CatalogJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return f.FromJSON(cj)
}

// FromJSON converts CatalogJSON to a Catalog. Overrides and order lines
// must reference items of the same document.
func (f *CatalogFactory) FromJSON(cj CatalogJSON) (*Catalog, error) {
	now := f.Now.Now()
	c := &Catalog{}

	for _, pj := range cj.Panchayats {
		if pj.ID == "" {
			return nil, &generic.ValidationError{Field: "panchayats.id", Reason: "required"}
		}
		c.Panchayats = append(c.Panchayats, generic.Panchayat{ID: generic.PanchayatID(pj.ID), Name: pj.Name})
	}

	items := make(map[generic.ItemID]generic.CatalogItem, len(cj.Items))
	for _, ij := range cj.Items {
		item, err := parseItem(ij)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", ij.ID, err)
		}
		items[item.ID] = item
		c.Items = append(c.Items, item)
	}

	for _, fj := range cj.Fulfillers {
		ful, err := parseFulfiller(fj)
		if err != nil {
			return nil, fmt.Errorf("fulfiller %q: %w", fj.ID, err)
		}
		c.Fulfillers = append(c.Fulfillers, ful)
	}

	for _, oj := range cj.Overrides {
		item, ok := items[generic.ItemID(oj.ItemID)]
		if !ok {
			return nil, generic.NotFound("item", oj.ItemID)
		}
		price, err := pricing.ResolveOverride(generic.MoneyOf(oj.Price), item.BasePrice)
		if err != nil {
			return nil, fmt.Errorf("override %s/%s: %w", oj.FulfillerID, oj.ItemID, err)
		}
		if price == nil {
			continue
		}
		c.Overrides = append(c.Overrides, generic.FulfillerOverride{
			FulfillerID: generic.FulfillerID(oj.FulfillerID),
			ItemID:      item.ID,
			CustomPrice: *price,
			UpdatedAt:   now,
		})
	}

	for _, rj := range cj.Referrers {
		if rj.UserID == "" {
			return nil, &generic.ValidationError{Field: "referrers.user_id", Reason: "required"}
		}
		c.Referrers = append(c.Referrers, generic.ReferrerProfile{UserID: generic.UserID(rj.UserID), Name: rj.Name, Code: rj.Code})
	}

	for i, oj := range cj.Orders {
		order, err := parseOrder(oj, items, now)
		if err != nil {
			return nil, fmt.Errorf("order %q: %w", oj.ID, err)
		}
		if order.OrderNumber == "" {
			order.OrderNumber = fmt.Sprintf("ORD-%04d", i+1)
		}
		c.Orders = append(c.Orders, order)
	}
	return c, nil
}

// ToJSON converts catalog items back to their JSON form.
func (f *CatalogFactory) ToJSON(items []generic.CatalogItem) []ItemJSON {
	out := make([]ItemJSON, 0, len(items))
	for _, item := range items {
		rule := item.Margin.Normalized()
		ij := ItemJSON{
			ID:          string(item.ID),
			Name:        item.Name,
			BasePrice:   item.BasePrice.Value,
			Margin:      &MarginJSON{Type: string(rule.Type), Value: rule.Value},
			Unavailable: !item.IsAvailable,
		}
		for _, st := range item.ServiceTypes {
			ij.ServiceTypes = append(ij.ServiceTypes, string(st))
		}
		out = append(out, ij)
	}
	return out
}

// Load writes the catalog to the store in dependency order.
func (f *CatalogFactory) Load(ctx context.Context, store generic.Store, c *Catalog) error {
	for _, p := range c.Panchayats {
		if err := store.SavePanchayat(ctx, p); err != nil {
			return fmt.Errorf("save panchayat %s: %w", p.ID, err)
		}
	}
	for _, item := range c.Items {
		if err := store.SaveItem(ctx, item); err != nil {
			return fmt.Errorf("save item %s: %w", item.ID, err)
		}
	}
	for _, ful := range c.Fulfillers {
		if err := store.SaveFulfiller(ctx, ful); err != nil {
			return fmt.Errorf("save fulfiller %s: %w", ful.ID, err)
		}
	}
	for _, o := range c.Overrides {
		if err := store.PutOverride(ctx, o); err != nil {
			return fmt.Errorf("save override %s/%s: %w", o.FulfillerID, o.ItemID, err)
		}
	}
	for _, r := range c.Referrers {
		if err := store.SaveReferrer(ctx, r); err != nil {
			return fmt.Errorf("save referrer %s: %w", r.UserID, err)
		}
	}
	for _, o := range c.Orders {
		if err := store.SaveOrder(ctx, o); err != nil {
			return fmt.Errorf("save order %s: %w", o.ID, err)
		}
	}
	return nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseItem(ij ItemJSON) (generic.CatalogItem, error) {
	if ij.ID == "" {
		return generic.CatalogItem{}, &generic.ValidationError{Field: "id", Reason: "required"}
	}
	item := generic.CatalogItem{
		ID:          generic.ItemID(ij.ID),
		Name:        ij.Name,
		BasePrice:   generic.MoneyOf(ij.BasePrice),
		IsAvailable: !ij.Unavailable,
	}
	if ij.Margin != nil {
		item.Margin = generic.MarginRule{Type: generic.MarginType(ij.Margin.Type), Value: ij.Margin.Value}
	}
	item.Margin = item.Margin.Normalized()
	if _, err := pricing.CustomerPrice(item); err != nil {
		return generic.CatalogItem{}, err
	}
	types, err := parseServiceTypes(ij.ServiceTypes)
	if err != nil {
		return generic.CatalogItem{}, err
	}
	item.ServiceTypes = types
	return item, nil
}

func parseFulfiller(fj FulfillerJSON) (generic.Fulfiller, error) {
	if fj.ID == "" {
		return generic.Fulfiller{}, &generic.ValidationError{Field: "id", Reason: "required"}
	}
	role, err := generic.ParseRole(fj.Role)
	if err != nil {
		return generic.Fulfiller{}, err
	}
	types, err := parseServiceTypes(fj.ServiceTypes)
	if err != nil {
		return generic.Fulfiller{}, err
	}
	if role == generic.RoleCook && len(types) == 0 {
		return generic.Fulfiller{}, &generic.ValidationError{Field: "service_types", Reason: "a cook must serve at least one service type"}
	}
	return generic.Fulfiller{
		ID:                  generic.FulfillerID(fj.ID),
		Role:                role,
		Name:                fj.Name,
		IsActive:            !fj.Inactive,
		IsAvailable:         !fj.Unavailable,
		Rating:              fj.Rating,
		AllowedServiceTypes: types,
		PanchayatID:         optional[generic.PanchayatID](fj.PanchayatID),
	}, nil
}

func parseOrder(oj OrderJSON, items map[generic.ItemID]generic.CatalogItem, now time.Time) (generic.Order, error) {
	if oj.ID == "" {
		return generic.Order{}, &generic.ValidationError{Field: "id", Reason: "required"}
	}
	st := generic.ServiceType(oj.ServiceType)
	if !st.Valid() {
		return generic.Order{}, &generic.ValidationError{Field: "service_type", Reason: fmt.Sprintf("unknown service type %q", oj.ServiceType)}
	}
	status := generic.OrderConfirmed
	if oj.Status != "" {
		status = generic.OrderStatus(oj.Status)
		if !status.Valid() {
			return generic.Order{}, &generic.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", oj.Status)}
		}
	}
	created := now
	if oj.CreatedAt != "" {
		t, err := generic.ParseDate(oj.CreatedAt)
		if err != nil {
			return generic.Order{}, err
		}
		created = t
	}

	lines := make([]pricing.Line, 0, len(oj.Items))
	for _, l := range oj.Items {
		lines = append(lines, pricing.Line{ItemID: generic.ItemID(l.ItemID), Quantity: l.Quantity})
	}
	orderItems, total, err := pricing.PriceLines(items, lines)
	if err != nil {
		return generic.Order{}, err
	}

	return generic.Order{
		ID:          generic.OrderID(oj.ID),
		OrderNumber: oj.Number,
		CustomerID:  generic.UserID(oj.CustomerID),
		Status:      status,
		ServiceType: st,
		TotalAmount: total,
		PanchayatID: optional[generic.PanchayatID](oj.PanchayatID),
		WardNumber:  oj.WardNumber,
		ReferredBy:  optional[generic.UserID](oj.ReferredBy),
		Items:       orderItems,
		CreatedAt:   created,
		UpdatedAt:   created,
	}, nil
}

func parseServiceTypes(raw []string) ([]generic.ServiceType, error) {
	out := make([]generic.ServiceType, 0, len(raw))
	for _, s := range raw {
		st := generic.ServiceType(s)
		if !st.Valid() {
			return nil, &generic.ValidationError{Field: "service_types", Reason: fmt.Sprintf("unknown service type %q", s)}
		}
		out = append(out, st)
	}
	return out, nil
}

func optional[T ~string](s string) *T {
	if s == "" {
		return nil
	}
	v := T(s)
	return &v
}
