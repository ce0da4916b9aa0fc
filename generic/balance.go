/*
balance.go - Delivery wallet and the settlement invariant

PURPOSE:
  Every delivery staff member has one wallet with three running totals:

    CollectedAmount: cash collected from customers on delivery
    JobEarnings:     what the platform owes the staff member for jobs
    TotalSettled:    what has been reconciled/paid out so far

  Pending settlement is derived, never stored:

    Pending = CollectedAmount + JobEarnings - TotalSettled

INVARIANT:
  TotalSettled <= CollectedAmount + JobEarnings, i.e. Pending >= 0.
  All three totals only grow. Settle is the only operation that moves
  TotalSettled and it refuses any amount above Pending.

VERSIONING:
  Version increments on every write. Stores compare-and-swap on it so
  two concurrent settlements cannot both read the same Pending.

SEE ALSO:
  - ledger.go: Append-only wallet entries the totals are built from
  - settlement/wallet.go: PostDeliveryCollection, Settle
*/
package generic

import "time"

// =============================================================================
// DELIVERY WALLET
// =============================================================================

type DeliveryWallet struct {
	StaffID         FulfillerID
	CollectedAmount Money
	JobEarnings     Money
	TotalSettled    Money
	Version         int64
	UpdatedAt       time.Time
}

// NewWallet returns an empty, never-persisted wallet (Version 0).
func NewWallet(staffID FulfillerID) DeliveryWallet {
	return DeliveryWallet{StaffID: staffID, CollectedAmount: Zero, JobEarnings: Zero, TotalSettled: Zero}
}

// Gross is collected cash plus job earnings.
func (w DeliveryWallet) Gross() Money { return w.CollectedAmount.Add(w.JobEarnings) }

// Pending is the amount still awaiting settlement.
func (w DeliveryWallet) Pending() Money { return w.Gross().Sub(w.TotalSettled) }

// CheckInvariant returns a ConflictError when the wallet is over-settled or
// carries a negative total.
func (w DeliveryWallet) CheckInvariant() error {
	if w.CollectedAmount.IsNegative() || w.JobEarnings.IsNegative() || w.TotalSettled.IsNegative() {
		return &ConflictError{Resource: "wallet:" + string(w.StaffID), Reason: "negative wallet total"}
	}
	if w.TotalSettled.GreaterThan(w.Gross()) {
		return &ConflictError{Resource: "wallet:" + string(w.StaffID), Reason: "settled exceeds collected plus earnings"}
	}
	return nil
}
