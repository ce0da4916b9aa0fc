package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/fulfillment-engine/generic"
)

// =============================================================================
// ORDER COMPLETION
// =============================================================================

// CompletionRequest reports that StaffID handed the order over.
type CompletionRequest struct {
	OrderID   generic.OrderID
	StaffID   generic.FulfillerID
	Collected generic.Money
	Earnings  generic.Money
}

type CompletionResult struct {
	Order  generic.Order
	Wallet WalletResult
	// Commission is set when the order was referred and a commission
	// exists for the referrer (created now or by an earlier completion).
	Commission *generic.ReferralCommission
	// Replayed is true when the order was already delivered and the
	// wallet credit already posted; nothing changed.
	Replayed bool
}

// CompleteDelivery marks the order delivered, credits the delivery
// wallet and creates the referral commission, all in one atomic section.
// The delivery slot must be accepted by StaffID. Re-sending the same
// completion is safe; completing a cancelled order is a conflict.
func (l *Ledger) CompleteDelivery(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	collection := CollectionRequest{StaffID: req.StaffID, OrderID: req.OrderID, Collected: req.Collected, Earnings: req.Earnings}
	if err := collection.validate(); err != nil {
		return CompletionResult{}, err
	}

	var res CompletionResult
	err := l.Store.WithTx(ctx, func(tx generic.Store) error {
		order, err := tx.LockOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		resource := "order:" + string(order.ID)
		if order.Status == generic.OrderCancelled {
			return &generic.ConflictError{Resource: resource, Reason: "order is cancelled"}
		}
		if err := checkDeliveryStaff(ctx, tx, req.StaffID); err != nil {
			return err
		}
		if err := checkDeliveredBy(order, req.StaffID); err != nil {
			return err
		}

		alreadyDelivered := order.Status == generic.OrderDelivered
		if !alreadyDelivered {
			if err := tx.UpdateOrderStatus(ctx, order.ID, generic.OrderDelivered); err != nil {
				return err
			}
		}

		wallet, err := l.postCollectionLocked(ctx, tx, collection)
		if err != nil {
			return err
		}

		var commission *generic.ReferralCommission
		if order.ReferredBy != nil && l.ReferralPercent.IsPositive() {
			c, err := l.createCommissionLocked(ctx, tx, order, *order.ReferredBy, l.ReferralPercent)
			if err != nil && !errors.Is(err, generic.ErrDuplicateCommission) {
				return err
			}
			commission = &c
		}

		updated, err := tx.GetOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		res = CompletionResult{
			Order:      *updated,
			Wallet:     wallet,
			Commission: commission,
			Replayed:   alreadyDelivered && wallet.Replayed,
		}
		return nil
	})
	return res, err
}

// =============================================================================
// VERIFICATION
// =============================================================================

// WalletCheck compares the stored wallet with the totals rebuilt from its
// entry log.
type WalletCheck struct {
	Stored  generic.DeliveryWallet
	Rebuilt generic.DeliveryWallet
	Entries int
}

// VerifyWallet replays the staff member's entries and returns a
// ConflictError when they disagree with the stored totals or when the
// wallet breaks the settlement invariant.
func (l *Ledger) VerifyWallet(ctx context.Context, staffID generic.FulfillerID) (WalletCheck, error) {
	var check WalletCheck
	err := l.Store.WithTx(ctx, func(tx generic.Store) error {
		if _, err := tx.GetFulfiller(ctx, staffID); err != nil {
			return err
		}
		stored, err := loadWallet(ctx, tx, staffID)
		if err != nil {
			return err
		}
		entries, err := tx.ListWalletEntries(ctx, staffID)
		if err != nil {
			return err
		}
		check = WalletCheck{Stored: stored, Rebuilt: generic.Fold(staffID, entries), Entries: len(entries)}
		return nil
	})
	if err != nil {
		return WalletCheck{}, err
	}

	if !check.Stored.SameTotals(check.Rebuilt) {
		return check, &generic.ConflictError{
			Resource: "wallet:" + string(staffID),
			Reason: fmt.Sprintf("stored totals (collected %s, earnings %s, settled %s) differ from %d entries (collected %s, earnings %s, settled %s)",
				check.Stored.CollectedAmount, check.Stored.JobEarnings, check.Stored.TotalSettled, check.Entries,
				check.Rebuilt.CollectedAmount, check.Rebuilt.JobEarnings, check.Rebuilt.TotalSettled),
		}
	}
	return check, check.Stored.CheckInvariant()
}
