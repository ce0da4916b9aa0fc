package reports

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/warp/fulfillment-engine/generic"
)

// =============================================================================
// REFERRALS
// =============================================================================

type ReferrerSummary struct {
	ReferrerID generic.UserID
	Name       string
	Code       string
	Referrals  int
	Total      generic.Money
	Pending    generic.Money
	Approved   generic.Money
	// Paid is the only figure that counts as referral payout.
	Paid generic.Money
}

// Referrals summarizes commissions per referrer. The filter's Range
// applies to the commission creation time. Referrers with a profile but
// no commissions are listed with zeros.
func (a *Aggregator) Referrals(ctx context.Context, f Filter) ([]ReferrerSummary, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var (
		profiles    []generic.ReferrerProfile
		commissions []generic.ReferralCommission
		orders      []generic.Order
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		profiles, err = a.Store.ListReferrers(gctx)
		return err
	})
	g.Go(func() (err error) {
		commissions, err = a.Store.ListCommissions(gctx, generic.CommissionFilter{})
		return err
	})
	scoped := f.PanchayatID != nil || f.ServiceType != ""
	if scoped {
		g.Go(func() (err error) {
			orders, err = a.Store.ListOrders(gctx, generic.OrderFilter{PanchayatID: f.PanchayatID, ServiceType: f.ServiceType})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	inScope := make(map[generic.OrderID]bool, len(orders))
	for _, o := range orders {
		inScope[o.ID] = true
	}

	rows := make(map[generic.UserID]*ReferrerSummary)
	row := func(id generic.UserID) *ReferrerSummary {
		if r, ok := rows[id]; ok {
			return r
		}
		r := &ReferrerSummary{
			ReferrerID: id, Name: generic.UnknownName,
			Total: generic.Zero, Pending: generic.Zero, Approved: generic.Zero, Paid: generic.Zero,
		}
		rows[id] = r
		return r
	}
	for _, p := range profiles {
		r := row(p.UserID)
		r.Name = generic.NameOr(p.Name)
		r.Code = p.Code
	}
	for _, c := range commissions {
		if !f.Range.Contains(c.CreatedAt) || (scoped && !inScope[c.OrderID]) {
			continue
		}
		r := row(c.ReferrerID)
		r.Referrals++
		r.Total = r.Total.Add(c.CommissionAmount)
		switch c.Status {
		case generic.CommissionPending:
			r.Pending = r.Pending.Add(c.CommissionAmount)
		case generic.CommissionApproved:
			r.Approved = r.Approved.Add(c.CommissionAmount)
		case generic.CommissionPaid:
			r.Paid = r.Paid.Add(c.CommissionAmount)
		}
	}

	report := make([]ReferrerSummary, 0, len(rows))
	for _, r := range rows {
		report = append(report, *r)
	}
	sort.Slice(report, func(i, j int) bool {
		if !report[i].Total.Equal(report[j].Total) {
			return report[i].Total.GreaterThan(report[j].Total)
		}
		return report[i].ReferrerID < report[j].ReferrerID
	})
	return report, nil
}
