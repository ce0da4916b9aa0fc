package allocation

import (
	"context"
	"fmt"

	"github.com/warp/fulfillment-engine/confirm"
	"github.com/warp/fulfillment-engine/generic"
)

// =============================================================================
// TWO-PHASE CONFIRMATION
// =============================================================================
//
// Plan* reads current state, refuses what is already impossible, and
// describes the effect. The returned Intent carries the observed slot
// version / order status; Execute re-checks them under the atomic section.

// PlanCancelAssignment describes releasing the slot.
func (e *Engine) PlanCancelAssignment(ctx context.Context, orderID generic.OrderID, role generic.Role, reason string) (confirm.Intent, error) {
	if err := validateRole(role); err != nil {
		return confirm.Intent{}, err
	}
	order, err := e.Store.GetOrder(ctx, orderID)
	if err != nil {
		return confirm.Intent{}, err
	}
	if order.Status == generic.OrderDelivered {
		return confirm.Intent{}, &generic.ConflictError{Resource: slotResource(orderID, role), Reason: "order is delivered"}
	}

	slot := order.Slot(role)
	effect := fmt.Sprintf("%s slot on order %s is already unassigned; nothing will change", role, orderID)
	if slot.IsActive() {
		effect = fmt.Sprintf("release %s %s (%s) from order %s", role, deref(slot.FulfillerID), slot.Status, orderID)
	}
	return confirm.Intent{
		Action:      confirm.ActionCancelAssignment,
		OrderID:     orderID,
		Role:        role,
		SlotVersion: slot.Version,
		OrderStatus: order.Status,
		Reason:      reason,
		Effect:      effect,
	}, nil
}

// PlanReassign describes moving the slot to another fulfiller.
func (e *Engine) PlanReassign(ctx context.Context, orderID generic.OrderID, role generic.Role, to generic.FulfillerID, reason string) (confirm.Intent, error) {
	if err := validateRole(role); err != nil {
		return confirm.Intent{}, err
	}
	order, err := e.Store.GetOrder(ctx, orderID)
	if err != nil {
		return confirm.Intent{}, err
	}
	if order.Status.IsTerminal() {
		return confirm.Intent{}, &generic.ConflictError{Resource: "order:" + string(orderID), Reason: fmt.Sprintf("order is %s", order.Status)}
	}
	f, err := e.Store.GetFulfiller(ctx, to)
	if err != nil {
		return confirm.Intent{}, err
	}
	if err := checkCapability(order, f, role); err != nil {
		return confirm.Intent{}, err
	}

	slot := order.Slot(role)
	effect := fmt.Sprintf("offer %s slot on order %s to %s", role, orderID, to)
	if slot.IsActive() {
		effect = fmt.Sprintf("release %s %s (%s) and offer %s slot on order %s to %s",
			role, deref(slot.FulfillerID), slot.Status, role, orderID, to)
	}
	return confirm.Intent{
		Action:      confirm.ActionReassign,
		OrderID:     orderID,
		Role:        role,
		FulfillerID: to,
		SlotVersion: slot.Version,
		OrderStatus: order.Status,
		Reason:      reason,
		Effect:      effect,
	}, nil
}

// PlanCancelOrder describes cancelling the order and releasing its slots.
func (e *Engine) PlanCancelOrder(ctx context.Context, orderID generic.OrderID, reason string) (confirm.Intent, error) {
	order, err := e.Store.GetOrder(ctx, orderID)
	if err != nil {
		return confirm.Intent{}, err
	}
	if order.Status == generic.OrderDelivered {
		return confirm.Intent{}, &generic.ConflictError{Resource: "order:" + string(orderID), Reason: "order is delivered"}
	}

	effect := fmt.Sprintf("cancel order %s (%s)", orderID, order.Status)
	for _, role := range generic.Roles {
		if slot := order.Slot(role); slot.IsActive() {
			effect += fmt.Sprintf("; release %s %s", role, deref(slot.FulfillerID))
		}
	}
	return confirm.Intent{
		Action:      confirm.ActionCancelOrder,
		OrderID:     orderID,
		OrderStatus: order.Status,
		Reason:      reason,
		Effect:      effect,
	}, nil
}

// Execute performs a confirmed intent. Stale preconditions are conflicts.
func (e *Engine) Execute(ctx context.Context, intent confirm.Intent) (Result, *OrderResult, error) {
	switch intent.Action {
	case confirm.ActionCancelAssignment:
		version := intent.SlotVersion
		res, err := e.CancelAssignment(ctx, CancelRequest{
			OrderID: intent.OrderID, Role: intent.Role, Reason: intent.Reason, ExpectedVersion: &version,
		})
		return res, nil, err
	case confirm.ActionReassign:
		version := intent.SlotVersion
		res, err := e.Reassign(ctx, ReassignRequest{
			OrderID: intent.OrderID, Role: intent.Role, FulfillerID: intent.FulfillerID,
			Reason: intent.Reason, ExpectedVersion: &version,
		})
		return res, nil, err
	case confirm.ActionCancelOrder:
		res, err := e.CancelOrder(ctx, CancelOrderRequest{
			OrderID: intent.OrderID, ExpectedStatus: intent.OrderStatus, Reason: intent.Reason,
		})
		if err != nil {
			return Result{}, nil, err
		}
		return Result{NoOp: res.NoOp, Recorded: res.Recorded}, &res, nil
	}
	return Result{}, nil, &generic.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", intent.Action)}
}
