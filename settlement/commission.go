package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/fulfillment-engine/generic"
)

var maxPercent = decimal.NewFromInt(100)

// CreateCommission records a referral commission of percent on the total
// of a delivered order. The amount is fixed here and never recomputed.
//
// A second call for the same (order, referrer) returns the existing row
// unchanged together with a ConflictError wrapping ErrDuplicateCommission.
func (l *Ledger) CreateCommission(ctx context.Context, orderID generic.OrderID, referrerID generic.UserID, percent decimal.Decimal) (generic.ReferralCommission, error) {
	if referrerID == "" {
		return generic.ReferralCommission{}, &generic.ValidationError{Field: "referrer_id", Reason: "required"}
	}
	if err := checkPercent(percent); err != nil {
		return generic.ReferralCommission{}, err
	}

	var c generic.ReferralCommission
	err := l.Store.WithTx(ctx, func(tx generic.Store) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != generic.OrderDelivered {
			return &generic.ConflictError{Resource: "order:" + string(order.ID), Reason: fmt.Sprintf("order is %s, not delivered", order.Status)}
		}
		c, err = l.createCommissionLocked(ctx, tx, order, referrerID, percent)
		return err
	})
	return c, err
}

func (l *Ledger) createCommissionLocked(ctx context.Context, tx generic.Store, order *generic.Order, referrerID generic.UserID, percent decimal.Decimal) (generic.ReferralCommission, error) {
	existing, err := tx.FindCommission(ctx, order.ID, referrerID)
	if err != nil {
		return generic.ReferralCommission{}, err
	}
	if existing != nil {
		return *existing, duplicateCommission(*existing)
	}
	if order.Status == generic.OrderCancelled {
		return generic.ReferralCommission{}, &generic.ConflictError{Resource: "order:" + string(order.ID), Reason: "order is cancelled"}
	}

	c := generic.ReferralCommission{
		ID:                generic.CommissionID(uuid.NewString()),
		ReferrerID:        referrerID,
		OrderID:           order.ID,
		CommissionPercent: percent,
		CommissionAmount:  order.TotalAmount.Percent(percent),
		Status:            generic.CommissionPending,
		CreatedAt:         l.Now.Now(),
	}
	if err := tx.InsertCommission(ctx, c); err != nil {
		if !errors.Is(err, generic.ErrDuplicateCommission) {
			return generic.ReferralCommission{}, err
		}
		// Lost an insert race on the unique pair.
		winner, ferr := tx.FindCommission(ctx, order.ID, referrerID)
		if ferr != nil || winner == nil {
			return generic.ReferralCommission{}, err
		}
		return *winner, duplicateCommission(*winner)
	}
	return c, nil
}

func duplicateCommission(c generic.ReferralCommission) error {
	return &generic.ConflictError{
		Resource: fmt.Sprintf("commission:%s/%s", c.OrderID, c.ReferrerID),
		Reason:   fmt.Sprintf("commission %s already exists", c.ID),
		Cause:    generic.ErrDuplicateCommission,
	}
}

// TransitionCommission moves a commission pending→approved or
// approved→paid and stamps the matching timestamp.
func (l *Ledger) TransitionCommission(ctx context.Context, id generic.CommissionID, next generic.CommissionStatus) (generic.ReferralCommission, error) {
	if !next.Valid() {
		return generic.ReferralCommission{}, &generic.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", next)}
	}

	var c generic.ReferralCommission
	err := l.Store.WithTx(ctx, func(tx generic.Store) error {
		current, err := tx.GetCommission(ctx, id)
		if err != nil {
			return err
		}
		resource := "commission:" + string(id)
		if !current.Status.CanTransitionTo(next) {
			return &generic.ConflictError{
				Resource: resource,
				Reason:   fmt.Sprintf("cannot move from %s to %s", current.Status, next),
			}
		}

		now := l.Now.Now()
		updated := *current
		updated.Status = next
		switch next {
		case generic.CommissionApproved:
			updated.ApprovedAt = &now
		case generic.CommissionPaid:
			updated.PaidAt = &now
		}
		if err := tx.UpdateCommissionStatus(ctx, updated, current.Status); err != nil {
			if errors.Is(err, generic.ErrConcurrentModification) {
				return &generic.ConflictError{Resource: resource, Reason: "status changed concurrently", Cause: err}
			}
			return err
		}
		c = updated
		return nil
	})
	return c, err
}

// Commissions lists commissions matching f.
func (l *Ledger) Commissions(ctx context.Context, f generic.CommissionFilter) ([]generic.ReferralCommission, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, &generic.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", f.Status)}
	}
	return l.Store.ListCommissions(ctx, f)
}

func checkPercent(p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(maxPercent) {
		return &generic.ValidationError{Field: "percent", Reason: fmt.Sprintf("%s is outside [0, 100]", p)}
	}
	return nil
}
