package reports

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/fulfillment-engine/generic"
)

// =============================================================================
// COOK PERFORMANCE
// =============================================================================

// CookPerformance is derived from assignment history and order state.
// Counts are distinct orders, so an offer that was cancelled and offered
// again counts once.
type CookPerformance struct {
	CookID    generic.FulfillerID
	Name      string
	Rating    decimal.Decimal
	Offered   int
	Accepted  int
	Rejected  int
	Completed int
	// Earnings sums the totals of delivered orders the cook holds.
	Earnings generic.Money
}

// CookPerformance reports every cook, including cooks with no activity in
// the filter. Sorted by earnings, highest first, then by ID.
func (a *Aggregator) CookPerformance(ctx context.Context, f Filter) ([]CookPerformance, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var (
		cooks   []generic.Fulfiller
		orders  []generic.Order
		history []generic.Assignment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		cooks, err = a.Store.ListFulfillers(gctx, generic.RoleCook)
		return err
	})
	g.Go(func() (err error) {
		orders, err = a.Store.ListOrders(gctx, f.orders())
		return err
	})
	g.Go(func() (err error) {
		history, err = a.Store.ListAssignments(gctx, generic.AssignmentFilter{Role: generic.RoleCook})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	inFilter := make(map[generic.OrderID]generic.Order, len(orders))
	for _, o := range orders {
		inFilter[o.ID] = o
	}

	type orderSet map[generic.OrderID]bool
	seen := map[generic.Outcome]map[generic.FulfillerID]orderSet{}
	mark := func(outcome generic.Outcome, cook generic.FulfillerID, order generic.OrderID) {
		if seen[outcome] == nil {
			seen[outcome] = map[generic.FulfillerID]orderSet{}
		}
		if seen[outcome][cook] == nil {
			seen[outcome][cook] = orderSet{}
		}
		seen[outcome][cook][order] = true
	}
	for _, row := range history {
		if _, ok := inFilter[row.OrderID]; ok {
			mark(row.Outcome, row.FulfillerID, row.OrderID)
		}
	}

	report := make([]CookPerformance, 0, len(cooks))
	for _, c := range cooks {
		p := CookPerformance{
			CookID:   c.ID,
			Name:     generic.NameOr(&c.Name),
			Rating:   c.Rating,
			Offered:  len(seen[generic.OutcomeOffered][c.ID]),
			Accepted: len(seen[generic.OutcomeAccepted][c.ID]),
			Rejected: len(seen[generic.OutcomeRejected][c.ID]),
			Earnings: generic.Zero,
		}
		for _, o := range orders {
			slot := o.Slot(generic.RoleCook)
			if o.Status == generic.OrderDelivered && slot.Status == generic.SlotAccepted && slot.HeldBy(c.ID) {
				p.Completed++
				p.Earnings = p.Earnings.Add(o.TotalAmount)
			}
		}
		report = append(report, p)
	}
	sort.Slice(report, func(i, j int) bool {
		if !report[i].Earnings.Equal(report[j].Earnings) {
			return report[i].Earnings.GreaterThan(report[j].Earnings)
		}
		return report[i].CookID < report[j].CookID
	})
	return report, nil
}
