package pricing

import (
	"context"
	"time"

	"github.com/warp/fulfillment-engine/generic"
)

// Service manages fulfiller overrides on top of a catalog store.
type Service struct {
	Store generic.CatalogStore
	Now   generic.Clock
}

func NewService(store generic.CatalogStore) *Service {
	return &Service{Store: store, Now: generic.SystemClock}
}

// OverrideResult is the state after SetOverride.
type OverrideResult struct {
	FulfillerID  generic.FulfillerID
	ItemID       generic.ItemID
	BasePrice    generic.Money
	DisplayPrice generic.Money
	// Stored is false when the override was removed because it equaled the base.
	Stored bool
}

// SetOverride stores, replaces, or deletes a fulfiller's custom price.
func (s *Service) SetOverride(ctx context.Context, fulfillerID generic.FulfillerID, itemID generic.ItemID, newPrice generic.Money) (OverrideResult, error) {
	item, err := s.Store.GetItem(ctx, itemID)
	if err != nil {
		return OverrideResult{}, err
	}
	custom, err := ResolveOverride(newPrice, item.BasePrice)
	if err != nil {
		return OverrideResult{}, err
	}

	result := OverrideResult{FulfillerID: fulfillerID, ItemID: itemID, BasePrice: item.BasePrice}
	if custom == nil {
		if err := s.Store.DeleteOverride(ctx, fulfillerID, itemID); err != nil {
			return OverrideResult{}, err
		}
		result.DisplayPrice = item.BasePrice
		return result, nil
	}

	o := generic.FulfillerOverride{
		FulfillerID: fulfillerID,
		ItemID:      itemID,
		CustomPrice: *custom,
		UpdatedAt:   s.Now.Now(),
	}
	if err := s.Store.PutOverride(ctx, o); err != nil {
		return OverrideResult{}, err
	}
	result.DisplayPrice = FulfillerDisplayPrice(*item, &o)
	result.Stored = true
	return result, nil
}

// Quote is both prices of one item side by side.
type Quote struct {
	Item          generic.CatalogItem
	Margin        generic.Money
	CustomerPrice generic.Money
	DisplayPrice  generic.Money
	Override      *generic.FulfillerOverride
	QuotedAt      time.Time
}

// Quote prices an item; fulfillerID may be empty for customer-only quotes.
func (s *Service) Quote(ctx context.Context, itemID generic.ItemID, fulfillerID generic.FulfillerID) (Quote, error) {
	item, err := s.Store.GetItem(ctx, itemID)
	if err != nil {
		return Quote{}, err
	}
	margin, err := ComputeMargin(item.BasePrice, item.Margin)
	if err != nil {
		return Quote{}, err
	}

	var override *generic.FulfillerOverride
	if fulfillerID != "" {
		if override, err = s.Store.GetOverride(ctx, fulfillerID, itemID); err != nil {
			return Quote{}, err
		}
	}
	return Quote{
		Item:          *item,
		Margin:        margin,
		CustomerPrice: item.BasePrice.Add(margin).Round(),
		DisplayPrice:  FulfillerDisplayPrice(*item, override),
		Override:      override,
		QuotedAt:      s.Now.Now(),
	}, nil
}

// PriceOrder loads the referenced items and snapshots their customer prices.
func (s *Service) PriceOrder(ctx context.Context, lines []Line) ([]generic.OrderItem, generic.Money, error) {
	items := make(map[generic.ItemID]generic.CatalogItem, len(lines))
	for _, l := range lines {
		if _, seen := items[l.ItemID]; seen {
			continue
		}
		item, err := s.Store.GetItem(ctx, l.ItemID)
		if err != nil {
			return nil, generic.Zero, err
		}
		items[l.ItemID] = *item
	}
	return PriceLines(items, lines)
}
