/*
Package reports derives read-only rollups from committed state.

PURPOSE:
  Nothing here is stored. Every report is recomputed on demand from
  orders, assignment history, wallets and commissions, so it always
  reflects what the engines last committed.

  Reports:
    Sales:              order counts by status, delivered revenue, by
                        panchayat and by service type
    CookPerformance:    offers, accepts, rejects, completions, earnings
    DeliverySettlement: wallet totals and pending amount per staff member
    Referrals:          commission totals per referrer

  Loads for one report run concurrently. A report never writes.

MISSING LOOKUPS:
  A panchayat, referrer profile or staff member that does not exist is
  shown as generic.UnknownName; its figures are still counted.

SEE ALSO:
  - generic/store.go: OrderFilter, the read side of the store
  - settlement/: Writes the wallets and commissions summarized here
*/
package reports

import (
	"fmt"

	"github.com/warp/fulfillment-engine/generic"
)

// Aggregator computes reports over a store.
type Aggregator struct {
	Store generic.Store
}

func NewAggregator(store generic.Store) *Aggregator {
	return &Aggregator{Store: store}
}

// Filter narrows reports to orders created within Range, optionally in
// one panchayat and of one service type.
type Filter struct {
	Range       generic.DateRange
	PanchayatID *generic.PanchayatID
	ServiceType generic.ServiceType
}

func (f Filter) Validate() error {
	if err := f.Range.Validate(); err != nil {
		return err
	}
	if f.ServiceType != "" && !f.ServiceType.Valid() {
		return &generic.ValidationError{Field: "service_type", Reason: fmt.Sprintf("unknown service type %q", f.ServiceType)}
	}
	return nil
}

func (f Filter) orders() generic.OrderFilter {
	return generic.OrderFilter{Range: f.Range, PanchayatID: f.PanchayatID, ServiceType: f.ServiceType}
}
