package reports

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/warp/fulfillment-engine/generic"
)

// =============================================================================
// DELIVERY SETTLEMENT
// =============================================================================

type StaffSettlement struct {
	StaffID    generic.FulfillerID
	Name       string
	Deliveries int
	Collected  generic.Money
	Earnings   generic.Money
	// Settled is the paid-out figure.
	Settled generic.Money
	Pending generic.Money
}

type DeliverySettlementReport struct {
	Staff  []StaffSettlement
	Totals StaffSettlement
}

// DeliverySettlement summarizes every delivery wallet. Staff without a
// wallet appear with zero totals; wallets of unknown staff appear as
// generic.UnknownName.
func (a *Aggregator) DeliverySettlement(ctx context.Context) (DeliverySettlementReport, error) {
	var (
		staff   []generic.Fulfiller
		wallets []generic.DeliveryWallet
		entries []generic.WalletEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		staff, err = a.Store.ListFulfillers(gctx, generic.RoleDelivery)
		return err
	})
	g.Go(func() (err error) {
		wallets, err = a.Store.ListWallets(gctx)
		return err
	})
	g.Go(func() (err error) {
		entries, err = a.Store.ListWalletEntries(gctx, "")
		return err
	})
	if err := g.Wait(); err != nil {
		return DeliverySettlementReport{}, err
	}

	deliveries := make(map[generic.FulfillerID]int)
	for _, e := range entries {
		if e.Kind == generic.EntryCollection {
			deliveries[e.StaffID]++
		}
	}

	rows := make(map[generic.FulfillerID]*StaffSettlement)
	row := func(id generic.FulfillerID) *StaffSettlement {
		if r, ok := rows[id]; ok {
			return r
		}
		r := &StaffSettlement{
			StaffID: id, Name: generic.UnknownName, Deliveries: deliveries[id],
			Collected: generic.Zero, Earnings: generic.Zero, Settled: generic.Zero, Pending: generic.Zero,
		}
		rows[id] = r
		return r
	}
	for _, s := range staff {
		row(s.ID).Name = generic.NameOr(&s.Name)
	}
	for _, w := range wallets {
		r := row(w.StaffID)
		r.Collected = w.CollectedAmount
		r.Earnings = w.JobEarnings
		r.Settled = w.TotalSettled
		r.Pending = w.Pending()
	}

	report := DeliverySettlementReport{Totals: StaffSettlement{
		Name: "Total", Collected: generic.Zero, Earnings: generic.Zero, Settled: generic.Zero, Pending: generic.Zero,
	}}
	for _, r := range rows {
		report.Staff = append(report.Staff, *r)
		report.Totals.Deliveries += r.Deliveries
		report.Totals.Collected = report.Totals.Collected.Add(r.Collected)
		report.Totals.Earnings = report.Totals.Earnings.Add(r.Earnings)
		report.Totals.Settled = report.Totals.Settled.Add(r.Settled)
		report.Totals.Pending = report.Totals.Pending.Add(r.Pending)
	}
	sort.Slice(report.Staff, func(i, j int) bool {
		x, y := report.Staff[i], report.Staff[j]
		if !x.Pending.Equal(y.Pending) {
			return x.Pending.GreaterThan(y.Pending)
		}
		return x.StaffID < y.StaffID
	})
	return report, nil
}
