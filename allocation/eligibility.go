package allocation

import (
	"context"
	"sort"

	"github.com/warp/fulfillment-engine/generic"
)

// ListEligible returns fulfillers who could take the role on the order
// right now, best rated first (ties by ID). Fulfillers who already
// rejected this order for this role are left out.
func (e *Engine) ListEligible(ctx context.Context, orderID generic.OrderID, role generic.Role) ([]generic.Fulfiller, error) {
	if err := validateRole(role); err != nil {
		return nil, err
	}
	order, err := e.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	candidates, err := e.Store.ListEligibleFulfillers(ctx, order.ServiceType, role)
	if err != nil {
		return nil, err
	}
	rejections, err := e.Store.ListAssignments(ctx, generic.AssignmentFilter{
		OrderID: orderID, Role: role, Outcome: generic.OutcomeRejected,
	})
	if err != nil {
		return nil, err
	}
	rejected := make(map[generic.FulfillerID]bool, len(rejections))
	for _, r := range rejections {
		rejected[r.FulfillerID] = true
	}

	eligible := make([]generic.Fulfiller, 0, len(candidates))
	for _, f := range candidates {
		// Stores filter already; re-check so every store behaves the same.
		if !f.IsActive || !f.IsAvailable || f.Role != role || rejected[f.ID] {
			continue
		}
		if role == generic.RoleCook && !f.Serves(order.ServiceType) {
			continue
		}
		eligible = append(eligible, f)
	}
	sortByRating(eligible)
	return eligible, nil
}

func sortByRating(fs []generic.Fulfiller) {
	sort.SliceStable(fs, func(i, j int) bool {
		if c := fs[i].Rating.Cmp(fs[j].Rating); c != 0 {
			return c > 0
		}
		return fs[i].ID < fs[j].ID
	})
}
