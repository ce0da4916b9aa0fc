package allocation

import (
	"context"
	"fmt"

	"github.com/warp/fulfillment-engine/generic"
)

// =============================================================================
// ORDER LIFECYCLE
// =============================================================================

// AdvanceOrder moves a live order between the non-terminal statuses
// (pending, confirmed, preparing, ready). Delivery goes through
// settlement.CompleteDelivery and cancellation through CancelOrder, so
// neither terminal status is accepted here. Setting the current status
// again is a no-op.
func (e *Engine) AdvanceOrder(ctx context.Context, orderID generic.OrderID, next generic.OrderStatus) (OrderResult, error) {
	if !next.Valid() {
		return OrderResult{}, &generic.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown order status %q", next)}
	}
	if next.IsTerminal() {
		return OrderResult{}, &generic.ValidationError{Field: "status", Reason: fmt.Sprintf("%s is set by its own operation", next)}
	}

	var res OrderResult
	err := e.Store.WithTx(ctx, func(tx generic.Store) error {
		order, err := lockAssignable(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Status == next {
			res = OrderResult{Order: *order, NoOp: true}
			return nil
		}
		if err := tx.UpdateOrderStatus(ctx, order.ID, next); err != nil {
			return err
		}
		updated, err := tx.GetOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		res = OrderResult{Order: *updated}
		return nil
	})
	return res, err
}
