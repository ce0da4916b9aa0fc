/*
Package allocation assigns fulfillers to orders.

PURPOSE:
  Every order has one slot per role (cook, delivery). Each slot is an
  independent state machine that holds at most one fulfiller:

    unassigned ──Assign──▶ pending ──Respond(accept)──▶ accepted
        ▲                    │                             │
        ├──Respond(reject)───┤                             │
        ├──SweepExpired──────┘                             │
        └──CancelAssignment / CancelOrder ─────────────────┘

  Every transition appends a history row (offered, accepted, rejected,
  cancelled). Assignment has no ledger effect; ledgers react to the
  delivered / cancelled order transitions (settlement package).

ATOMICITY:
  Each operation is one TxStore.WithTx section: the order row is locked,
  its status and the slot are re-read, and the slot write compares and
  swaps on Version. Two admins assigning the same slot concurrently get
  exactly one success; the other sees a ConflictError.

ERRORS:
  ValidationError: unknown role, fulfiller of the wrong role or service type
  NotFoundError:   unknown order or fulfiller
  ConflictError:   slot taken, order terminal, fulfiller inactive /
                   unavailable / previously rejected, stale response,
                   stale confirmation precondition

SEE ALSO:
  - eligibility.go: ListEligible
  - sweep.go: Response-window expiry
  - plan.go: Two-phase confirmation
  - generic/assignment.go: Slot and history types
*/
package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/fulfillment-engine/generic"
)

// Engine is the allocation state machine over a transactional store.
type Engine struct {
	Store generic.TxStore
	Now   generic.Clock
}

func NewEngine(store generic.TxStore) *Engine {
	return &Engine{Store: store, Now: generic.SystemClock}
}

// =============================================================================
// REQUESTS & RESULTS
// =============================================================================

type AssignRequest struct {
	OrderID     generic.OrderID
	Role        generic.Role
	FulfillerID generic.FulfillerID
}

type RespondRequest struct {
	OrderID     generic.OrderID
	Role        generic.Role
	FulfillerID generic.FulfillerID
	Accept      bool
	Reason      string
}

type CancelRequest struct {
	OrderID generic.OrderID
	Role    generic.Role
	Reason  string
	// ExpectedVersion, when set, must equal the slot's current Version.
	ExpectedVersion *int64
}

type ReassignRequest struct {
	OrderID         generic.OrderID
	Role            generic.Role
	FulfillerID     generic.FulfillerID
	Reason          string
	ExpectedVersion *int64
}

type CancelOrderRequest struct {
	OrderID generic.OrderID
	// ExpectedStatus, when set, must equal the order's current status.
	ExpectedStatus generic.OrderStatus
	Reason         string
}

// Result is the slot after an operation and the history rows it wrote.
type Result struct {
	Slot     generic.AssignmentSlot
	Recorded []generic.Assignment
	// NoOp is true when nothing changed (e.g. cancelling an unassigned slot).
	NoOp bool
}

// OrderResult is the order after CancelOrder.
type OrderResult struct {
	Order    generic.Order
	Recorded []generic.Assignment
	NoOp     bool
}

// =============================================================================
// ASSIGN
// =============================================================================

// Assign offers the slot to a fulfiller. The slot must be unassigned.
func (e *Engine) Assign(ctx context.Context, req AssignRequest) (Result, error) {
	if err := validateRole(req.Role); err != nil {
		return Result{}, err
	}
	if req.FulfillerID == "" {
		return Result{}, &generic.ValidationError{Field: "fulfiller_id", Reason: "required"}
	}

	var res Result
	err := e.Store.WithTx(ctx, func(tx generic.Store) error {
		order, err := lockAssignable(ctx, tx, req.OrderID)
		if err != nil {
			return err
		}
		res, err = e.assignLocked(ctx, tx, order, req)
		return err
	})
	return res, err
}

func (e *Engine) assignLocked(ctx context.Context, tx generic.Store, order *generic.Order, req AssignRequest) (Result, error) {
	f, err := tx.GetFulfiller(ctx, req.FulfillerID)
	if err != nil {
		return Result{}, err
	}
	if err := checkCapability(order, f, req.Role); err != nil {
		return Result{}, err
	}
	resource := slotResource(order.ID, req.Role)
	if !f.IsActive {
		return Result{}, &generic.ConflictError{Resource: resource, Reason: fmt.Sprintf("fulfiller %s is inactive", f.ID)}
	}
	if !f.IsAvailable {
		return Result{}, &generic.ConflictError{Resource: resource, Reason: fmt.Sprintf("fulfiller %s is unavailable", f.ID)}
	}
	rejected, err := hasRejected(ctx, tx, order.ID, req.Role, f.ID)
	if err != nil {
		return Result{}, err
	}
	if rejected {
		return Result{}, &generic.ConflictError{Resource: resource, Reason: fmt.Sprintf("fulfiller %s already rejected this order", f.ID)}
	}

	slot, err := tx.GetSlot(ctx, order.ID, req.Role)
	if err != nil {
		return Result{}, err
	}
	if slot.IsActive() {
		return Result{}, &generic.ConflictError{
			Resource: resource,
			Reason:   fmt.Sprintf("slot is %s by %s", slot.Status, deref(slot.FulfillerID)),
		}
	}

	now := e.Now.Now()
	next := *slot
	next.FulfillerID = &f.ID
	next.Status = generic.SlotPending
	next.AssignedAt = &now
	next.RespondedAt = nil

	saved, err := saveSlot(ctx, tx, next)
	if err != nil {
		return Result{}, err
	}
	row, err := record(ctx, tx, order.ID, req.Role, f.ID, generic.OutcomeOffered, "", now)
	if err != nil {
		return Result{}, err
	}
	return Result{Slot: saved, Recorded: []generic.Assignment{row}}, nil
}

// =============================================================================
// RESPOND
// =============================================================================

// Respond records the fulfiller's accept or reject of a pending offer.
// Duplicate or stale responses are conflicts.
func (e *Engine) Respond(ctx context.Context, req RespondRequest) (Result, error) {
	if err := validateRole(req.Role); err != nil {
		return Result{}, err
	}

	var res Result
	err := e.Store.WithTx(ctx, func(tx generic.Store) error {
		order, err := tx.LockOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		resource := slotResource(order.ID, req.Role)
		if order.Status.IsTerminal() {
			return &generic.ConflictError{Resource: resource, Reason: fmt.Sprintf("order is %s", order.Status)}
		}
		slot, err := tx.GetSlot(ctx, order.ID, req.Role)
		if err != nil {
			return err
		}
		if slot.Status != generic.SlotPending || !slot.HeldBy(req.FulfillerID) {
			return &generic.ConflictError{
				Resource: resource,
				Reason:   fmt.Sprintf("no pending offer for %s (slot is %s)", req.FulfillerID, slot.Status),
			}
		}

		now := e.Now.Now()
		var (
			next    generic.AssignmentSlot
			outcome generic.Outcome
		)
		if req.Accept {
			next = *slot
			next.Status = generic.SlotAccepted
			next.RespondedAt = &now
			outcome = generic.OutcomeAccepted
		} else {
			next = slot.Released(now)
			outcome = generic.OutcomeRejected
		}

		saved, err := saveSlot(ctx, tx, next)
		if err != nil {
			return err
		}
		row, err := record(ctx, tx, order.ID, req.Role, req.FulfillerID, outcome, req.Reason, now)
		if err != nil {
			return err
		}
		res = Result{Slot: saved, Recorded: []generic.Assignment{row}}
		return nil
	})
	return res, err
}

// =============================================================================
// CANCEL & REASSIGN
// =============================================================================

// CancelAssignment releases a pending or accepted slot. Cancelling an
// unassigned slot is a no-op. Once the order is delivered it is a conflict.
func (e *Engine) CancelAssignment(ctx context.Context, req CancelRequest) (Result, error) {
	if err := validateRole(req.Role); err != nil {
		return Result{}, err
	}

	var res Result
	err := e.Store.WithTx(ctx, func(tx generic.Store) error {
		order, err := tx.LockOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if order.Status == generic.OrderDelivered {
			return &generic.ConflictError{Resource: slotResource(order.ID, req.Role), Reason: "order is delivered"}
		}
		res, err = e.releaseLocked(ctx, tx, order.ID, req.Role, req.ExpectedVersion, req.Reason)
		return err
	})
	return res, err
}

// Reassign releases the current holder (if any) and offers the slot to
// another fulfiller in one atomic step. If the new offer fails nothing
// is released.
func (e *Engine) Reassign(ctx context.Context, req ReassignRequest) (Result, error) {
	if err := validateRole(req.Role); err != nil {
		return Result{}, err
	}
	if req.FulfillerID == "" {
		return Result{}, &generic.ValidationError{Field: "fulfiller_id", Reason: "required"}
	}

	var res Result
	err := e.Store.WithTx(ctx, func(tx generic.Store) error {
		order, err := lockAssignable(ctx, tx, req.OrderID)
		if err != nil {
			return err
		}
		slot, err := tx.GetSlot(ctx, order.ID, req.Role)
		if err != nil {
			return err
		}
		if slot.HeldBy(req.FulfillerID) {
			return &generic.ConflictError{
				Resource: slotResource(order.ID, req.Role),
				Reason:   fmt.Sprintf("slot is already held by %s", req.FulfillerID),
			}
		}

		released, err := e.releaseLocked(ctx, tx, order.ID, req.Role, req.ExpectedVersion, reasonOr(req.Reason, "reassigned"))
		if err != nil {
			return err
		}
		assigned, err := e.assignLocked(ctx, tx, order, AssignRequest{
			OrderID: order.ID, Role: req.Role, FulfillerID: req.FulfillerID,
		})
		if err != nil {
			return err
		}
		res = Result{Slot: assigned.Slot, Recorded: append(released.Recorded, assigned.Recorded...)}
		return nil
	})
	return res, err
}

func (e *Engine) releaseLocked(ctx context.Context, tx generic.Store, orderID generic.OrderID, role generic.Role, expected *int64, reason string) (Result, error) {
	slot, err := tx.GetSlot(ctx, orderID, role)
	if err != nil {
		return Result{}, err
	}
	if expected != nil && *expected != slot.Version {
		return Result{}, &generic.ConflictError{
			Resource: slotResource(orderID, role),
			Reason:   fmt.Sprintf("slot changed since it was read (version %d, now %d)", *expected, slot.Version),
			Cause:    generic.ErrConcurrentModification,
		}
	}
	if !slot.IsActive() {
		return Result{Slot: *slot, NoOp: true}, nil
	}

	holder := *slot.FulfillerID
	now := e.Now.Now()
	saved, err := saveSlot(ctx, tx, slot.Released(now))
	if err != nil {
		return Result{}, err
	}
	row, err := record(ctx, tx, orderID, role, holder, generic.OutcomeCancelled, reason, now)
	if err != nil {
		return Result{}, err
	}
	return Result{Slot: saved, Recorded: []generic.Assignment{row}}, nil
}

// =============================================================================
// CANCEL ORDER
// =============================================================================

// CancelOrder marks the order cancelled and releases both slots atomically.
// Cancelling an already cancelled order is a no-op; a delivered order
// cannot be cancelled.
func (e *Engine) CancelOrder(ctx context.Context, req CancelOrderRequest) (OrderResult, error) {
	var res OrderResult
	err := e.Store.WithTx(ctx, func(tx generic.Store) error {
		order, err := tx.LockOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		resource := "order:" + string(order.ID)
		switch {
		case order.Status == generic.OrderCancelled:
			res = OrderResult{Order: *order, NoOp: true}
			return nil
		case order.Status == generic.OrderDelivered:
			return &generic.ConflictError{Resource: resource, Reason: "order is delivered"}
		case req.ExpectedStatus != "" && order.Status != req.ExpectedStatus:
			return &generic.ConflictError{
				Resource: resource,
				Reason:   fmt.Sprintf("order status changed from %s to %s", req.ExpectedStatus, order.Status),
				Cause:    generic.ErrConcurrentModification,
			}
		}

		if err := tx.UpdateOrderStatus(ctx, order.ID, generic.OrderCancelled); err != nil {
			return err
		}
		var recorded []generic.Assignment
		for _, role := range generic.Roles {
			released, err := e.releaseLocked(ctx, tx, order.ID, role, nil, reasonOr(req.Reason, "order cancelled"))
			if err != nil {
				return err
			}
			recorded = append(recorded, released.Recorded...)
		}

		updated, err := tx.GetOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		res = OrderResult{Order: *updated, Recorded: recorded}
		return nil
	})
	return res, err
}

// =============================================================================
// HISTORY
// =============================================================================

// History returns the assignment rows of an order, optionally for one role.
func (e *Engine) History(ctx context.Context, orderID generic.OrderID, role generic.Role) ([]generic.Assignment, error) {
	if role != "" {
		if err := validateRole(role); err != nil {
			return nil, err
		}
	}
	if _, err := e.Store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return e.Store.ListAssignments(ctx, generic.AssignmentFilter{OrderID: orderID, Role: role})
}

// =============================================================================
// HELPERS
// =============================================================================

func validateRole(role generic.Role) error {
	if !role.Valid() {
		return &generic.ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", role)}
	}
	return nil
}

// lockAssignable locks the order and rejects terminal statuses.
func lockAssignable(ctx context.Context, tx generic.Store, orderID generic.OrderID) (*generic.Order, error) {
	order, err := tx.LockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return nil, &generic.ConflictError{Resource: "order:" + string(order.ID), Reason: fmt.Sprintf("order is %s", order.Status)}
	}
	return order, nil
}

// checkCapability validates that f can fill role on order at all.
func checkCapability(order *generic.Order, f *generic.Fulfiller, role generic.Role) error {
	if f.Role != role {
		return &generic.ValidationError{
			Field:  "fulfiller_id",
			Reason: fmt.Sprintf("%s is a %s, not a %s", f.ID, f.Role, role),
		}
	}
	if role == generic.RoleCook && !f.Serves(order.ServiceType) {
		return &generic.ValidationError{
			Field:  "fulfiller_id",
			Reason: fmt.Sprintf("%s does not serve %s orders", f.ID, order.ServiceType),
		}
	}
	return nil
}

func hasRejected(ctx context.Context, s generic.Store, orderID generic.OrderID, role generic.Role, id generic.FulfillerID) (bool, error) {
	rows, err := s.ListAssignments(ctx, generic.AssignmentFilter{
		OrderID: orderID, Role: role, FulfillerID: id, Outcome: generic.OutcomeRejected,
	})
	return len(rows) > 0, err
}

// saveSlot maps a lost CAS to a ConflictError on the slot.
func saveSlot(ctx context.Context, tx generic.Store, slot generic.AssignmentSlot) (generic.AssignmentSlot, error) {
	saved, err := tx.SaveSlot(ctx, slot)
	if errors.Is(err, generic.ErrConcurrentModification) {
		return generic.AssignmentSlot{}, &generic.ConflictError{
			Resource: slotResource(slot.OrderID, slot.Role),
			Reason:   "slot was modified concurrently",
			Cause:    generic.ErrConcurrentModification,
		}
	}
	return saved, err
}

func record(ctx context.Context, tx generic.Store, orderID generic.OrderID, role generic.Role, id generic.FulfillerID, outcome generic.Outcome, reason string, at time.Time) (generic.Assignment, error) {
	row := generic.Assignment{
		ID:          generic.AssignmentID(uuid.NewString()),
		OrderID:     orderID,
		Role:        role,
		FulfillerID: id,
		Outcome:     outcome,
		Reason:      reason,
		At:          at,
	}
	return row, tx.AppendAssignment(ctx, row)
}

func slotResource(orderID generic.OrderID, role generic.Role) string {
	return fmt.Sprintf("order:%s/%s", orderID, role)
}

func deref[T ~string](p *T) string {
	if p == nil {
		return ""
	}
	return string(*p)
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
