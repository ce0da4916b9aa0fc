package allocation

import (
	"context"
	"errors"
	"time"

	"github.com/warp/fulfillment-engine/generic"
)

// ReasonWindowElapsed is recorded on offers released by SweepExpired.
const ReasonWindowElapsed = "response window elapsed"

// SweepExpired releases pending offers older than window as implicit
// rejections. Each slot is re-checked inside its own atomic section, so
// an offer accepted between the scan and the release is left alone.
// Offers on delivered or cancelled orders are skipped.
// The engine never calls this itself.
func (e *Engine) SweepExpired(ctx context.Context, role generic.Role, window time.Duration) ([]generic.Assignment, error) {
	if err := validateRole(role); err != nil {
		return nil, err
	}
	if window <= 0 {
		return nil, &generic.ValidationError{Field: "window", Reason: "must be positive"}
	}

	pending, err := e.Store.ListSlots(ctx, role, generic.SlotPending)
	if err != nil {
		return nil, err
	}

	var (
		released []generic.Assignment
		errs     []error
	)
	for _, candidate := range pending {
		if !e.expired(candidate, window) {
			continue
		}
		row, ok, err := e.releaseExpired(ctx, candidate, window)
		if err != nil {
			if generic.IsConflict(err) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		if ok {
			released = append(released, row)
		}
	}
	return released, errors.Join(errs...)
}

func (e *Engine) expired(slot generic.AssignmentSlot, window time.Duration) bool {
	return slot.Status == generic.SlotPending &&
		slot.AssignedAt != nil &&
		!e.Now.Now().Before(slot.AssignedAt.Add(window))
}

func (e *Engine) releaseExpired(ctx context.Context, candidate generic.AssignmentSlot, window time.Duration) (generic.Assignment, bool, error) {
	var (
		row generic.Assignment
		ok  bool
	)
	err := e.Store.WithTx(ctx, func(tx generic.Store) error {
		order, err := tx.LockOrder(ctx, candidate.OrderID)
		if err != nil {
			return err
		}
		if order.Status.IsTerminal() {
			return nil
		}
		slot, err := tx.GetSlot(ctx, candidate.OrderID, candidate.Role)
		if err != nil {
			return err
		}
		if !e.expired(*slot, window) || deref(slot.FulfillerID) != deref(candidate.FulfillerID) {
			return nil
		}

		holder := *slot.FulfillerID
		now := e.Now.Now()
		if _, err := saveSlot(ctx, tx, slot.Released(now)); err != nil {
			return err
		}
		row, err = record(ctx, tx, slot.OrderID, slot.Role, holder, generic.OutcomeRejected, ReasonWindowElapsed, now)
		ok = err == nil
		return err
	})
	return row, ok, err
}
