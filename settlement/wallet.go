package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/warp/fulfillment-engine/generic"
)

// =============================================================================
// REQUESTS & RESULTS
// =============================================================================

// CollectionRequest credits a wallet for one delivered order.
type CollectionRequest struct {
	StaffID   generic.FulfillerID
	OrderID   generic.OrderID
	Collected generic.Money
	Earnings  generic.Money
}

// SettleRequest pays out part of a wallet's pending amount. An empty
// IdempotencyKey makes every call a new settlement.
type SettleRequest struct {
	StaffID        generic.FulfillerID
	Amount         generic.Money
	IdempotencyKey string
}

// WalletResult is the wallet after the operation and the entry behind it.
type WalletResult struct {
	Wallet generic.DeliveryWallet
	Entry  generic.WalletEntry
	// Replayed is true when the idempotency key was already applied and
	// nothing changed.
	Replayed bool
}

// =============================================================================
// COLLECTION
// =============================================================================

// PostDeliveryCollection credits the staff member's wallet for a
// delivered order whose delivery slot StaffID accepted. Posting the same
// (order, staff) pair again returns the wallet unchanged with Replayed
// set. Orders that are not delivered are refused.
func (l *Ledger) PostDeliveryCollection(ctx context.Context, req CollectionRequest) (WalletResult, error) {
	if err := req.validate(); err != nil {
		return WalletResult{}, err
	}

	var res WalletResult
	err := l.Store.WithTx(ctx, func(tx generic.Store) error {
		order, err := tx.LockOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if err := checkDeliveryStaff(ctx, tx, req.StaffID); err != nil {
			return err
		}
		if order.Status != generic.OrderDelivered {
			return &generic.ConflictError{Resource: "order:" + string(order.ID), Reason: fmt.Sprintf("order is %s, not delivered", order.Status)}
		}
		if err := checkDeliveredBy(order, req.StaffID); err != nil {
			return err
		}
		res, err = l.postCollectionLocked(ctx, tx, req)
		return err
	})
	return res, err
}

// checkDeliveryStaff requires id to be a delivery fulfiller.
func checkDeliveryStaff(ctx context.Context, tx generic.Store, id generic.FulfillerID) error {
	staff, err := tx.GetFulfiller(ctx, id)
	if err != nil {
		return err
	}
	if staff.Role != generic.RoleDelivery {
		return &generic.ValidationError{
			Field:  "staff_id",
			Reason: fmt.Sprintf("%s is a %s, not delivery staff", staff.ID, staff.Role),
		}
	}
	return nil
}

// checkDeliveredBy requires the delivery slot to be accepted by id.
func checkDeliveredBy(order *generic.Order, id generic.FulfillerID) error {
	slot := order.Slot(generic.RoleDelivery)
	if slot.Status != generic.SlotAccepted || !slot.HeldBy(id) {
		return &generic.ConflictError{
			Resource: "order:" + string(order.ID),
			Reason:   fmt.Sprintf("delivery is not accepted by %s (slot is %s)", id, slot.Status),
		}
	}
	return nil
}

func (req CollectionRequest) validate() error {
	if req.StaffID == "" {
		return &generic.ValidationError{Field: "staff_id", Reason: "required"}
	}
	if req.OrderID == "" {
		return &generic.ValidationError{Field: "order_id", Reason: "required"}
	}
	if err := checkAmount("collected", req.Collected, false); err != nil {
		return err
	}
	return checkAmount("earnings", req.Earnings, false)
}

// postCollectionLocked requires the order lock and a checked delivery
// staff member.
func (l *Ledger) postCollectionLocked(ctx context.Context, tx generic.Store, req CollectionRequest) (WalletResult, error) {
	key := generic.DeliveryKey(req.OrderID, req.StaffID)
	if prior, err := tx.FindWalletEntry(ctx, key); err != nil || prior != nil {
		if err != nil {
			return WalletResult{}, err
		}
		w, err := loadWallet(ctx, tx, req.StaffID)
		return WalletResult{Wallet: w, Entry: *prior, Replayed: true}, err
	}

	w, err := loadWallet(ctx, tx, req.StaffID)
	if err != nil {
		return WalletResult{}, err
	}
	orderID := req.OrderID
	entry := generic.WalletEntry{
		ID:             generic.WalletEntryID(uuid.NewString()),
		StaffID:        req.StaffID,
		OrderID:        &orderID,
		Kind:           generic.EntryCollection,
		CollectedDelta: req.Collected,
		EarningsDelta:  req.Earnings,
		SettledDelta:   generic.Zero,
		IdempotencyKey: key,
		CreatedAt:      l.Now.Now(),
	}
	return l.apply(ctx, tx, w, entry)
}

// =============================================================================
// SETTLE
// =============================================================================

// Settle moves Amount from pending to settled. Amount may equal the
// pending amount but never exceed it; a refused settlement leaves the
// wallet untouched. Re-sending a key that was already applied returns
// the wallet with Replayed set.
func (l *Ledger) Settle(ctx context.Context, req SettleRequest) (WalletResult, error) {
	if req.StaffID == "" {
		return WalletResult{}, &generic.ValidationError{Field: "staff_id", Reason: "required"}
	}
	if err := checkAmount("amount", req.Amount, true); err != nil {
		return WalletResult{}, err
	}
	key := req.IdempotencyKey
	if key == "" {
		key = "settle:" + uuid.NewString()
	}

	var res WalletResult
	err := l.Store.WithTx(ctx, func(tx generic.Store) error {
		prior, err := tx.FindWalletEntry(ctx, key)
		if err != nil {
			return err
		}
		if prior != nil {
			if prior.Kind != generic.EntrySettlement || prior.StaffID != req.StaffID || !prior.SettledDelta.Equal(req.Amount) {
				return &generic.ConflictError{
					Resource: "wallet:" + string(req.StaffID),
					Reason:   fmt.Sprintf("idempotency key %q was used for a different operation", key),
					Cause:    generic.ErrDuplicateIdempotencyKey,
				}
			}
			w, err := loadWallet(ctx, tx, req.StaffID)
			res = WalletResult{Wallet: w, Entry: *prior, Replayed: true}
			return err
		}

		w, err := loadWallet(ctx, tx, req.StaffID)
		if err != nil {
			return err
		}
		if pending := w.Pending(); req.Amount.GreaterThan(pending) {
			return &generic.InsufficientBalanceError{
				StaffID:   req.StaffID,
				Available: pending,
				Requested: req.Amount,
				Shortfall: req.Amount.Sub(pending),
			}
		}
		res, err = l.apply(ctx, tx, w, generic.WalletEntry{
			ID:             generic.WalletEntryID(uuid.NewString()),
			StaffID:        req.StaffID,
			Kind:           generic.EntrySettlement,
			CollectedDelta: generic.Zero,
			EarningsDelta:  generic.Zero,
			SettledDelta:   req.Amount,
			IdempotencyKey: key,
			CreatedAt:      l.Now.Now(),
		})
		return err
	})
	return res, err
}

// =============================================================================
// READS
// =============================================================================

// Wallet returns the staff member's wallet. Delivery staff who never
// collected anything get an empty wallet.
func (l *Ledger) Wallet(ctx context.Context, staffID generic.FulfillerID) (generic.DeliveryWallet, error) {
	if _, err := l.Store.GetFulfiller(ctx, staffID); err != nil {
		return generic.DeliveryWallet{}, err
	}
	return loadWallet(ctx, l.Store, staffID)
}

// Entries returns the wallet's entry log, oldest first.
func (l *Ledger) Entries(ctx context.Context, staffID generic.FulfillerID) ([]generic.WalletEntry, error) {
	if _, err := l.Store.GetFulfiller(ctx, staffID); err != nil {
		return nil, err
	}
	return l.Store.ListWalletEntries(ctx, staffID)
}

// =============================================================================
// HELPERS
// =============================================================================

// apply appends the entry and writes the wallet it produces.
func (l *Ledger) apply(ctx context.Context, tx generic.Store, w generic.DeliveryWallet, entry generic.WalletEntry) (WalletResult, error) {
	if err := tx.AppendWalletEntry(ctx, entry); err != nil {
		if errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
			return WalletResult{}, &generic.ConflictError{
				Resource: "wallet:" + string(entry.StaffID),
				Reason:   fmt.Sprintf("idempotency key %q already applied", entry.IdempotencyKey),
				Cause:    err,
			}
		}
		return WalletResult{}, err
	}

	next := entry.Apply(w)
	next.UpdatedAt = entry.CreatedAt
	if err := next.CheckInvariant(); err != nil {
		return WalletResult{}, err
	}
	saved, err := tx.SaveWallet(ctx, next)
	if errors.Is(err, generic.ErrConcurrentModification) {
		return WalletResult{}, &generic.ConflictError{
			Resource: "wallet:" + string(w.StaffID),
			Reason:   "wallet was modified concurrently",
			Cause:    err,
		}
	}
	if err != nil {
		return WalletResult{}, err
	}
	return WalletResult{Wallet: saved, Entry: entry}, nil
}

// loadWallet returns the stored wallet, or a new one (Version 0) when the
// staff member has none yet.
func loadWallet(ctx context.Context, s generic.WalletStore, staffID generic.FulfillerID) (generic.DeliveryWallet, error) {
	w, err := s.GetWallet(ctx, staffID)
	if generic.IsNotFound(err) {
		return generic.NewWallet(staffID), nil
	}
	if err != nil {
		return generic.DeliveryWallet{}, err
	}
	return *w, nil
}

// checkAmount rejects negative amounts and sub-paise precision.
func checkAmount(field string, m generic.Money, positive bool) error {
	switch {
	case m.IsNegative():
		return &generic.ValidationError{Field: field, Reason: "must not be negative"}
	case positive && m.IsZero():
		return &generic.ValidationError{Field: field, Reason: "must be positive"}
	case !m.Equal(m.Round()):
		return &generic.ValidationError{Field: field, Reason: fmt.Sprintf("more than %d decimal places", generic.MoneyPlaces)}
	}
	return nil
}
