/*
ledger.go - Append-only wallet entries

PURPOSE:
  Every change to a DeliveryWallet is first recorded as a WalletEntry
  with a unique idempotency key, then applied to the wallet totals in
  the same atomic section. The entry log is the source of truth:
  Fold(entries) must always equal the stored wallet totals.

IDEMPOTENCY:
  Delivery collections use the key "delivery:<order>:<staff>", so a
  redelivered completion event can never credit a wallet twice.
  Settlements use a caller key when given, else a fresh one.

  Entry kinds:
    collection: CollectedDelta and EarningsDelta >= 0, SettledDelta = 0
    settlement: SettledDelta > 0, the other deltas 0

SEE ALSO:
  - balance.go: DeliveryWallet and its invariant
  - settlement/wallet.go: Writes entries
  - settlement/completion.go: VerifyWallet replays them
*/
package generic

import (
	"fmt"
	"time"
)

type EntryKind string

const (
	EntryCollection EntryKind = "collection"
	EntrySettlement EntryKind = "settlement"
)

type WalletEntry struct {
	ID             WalletEntryID
	StaffID        FulfillerID
	OrderID        *OrderID
	Kind           EntryKind
	CollectedDelta Money
	EarningsDelta  Money
	SettledDelta   Money
	IdempotencyKey string
	CreatedAt      time.Time
}

// DeliveryKey is the dedup key for a delivery collection.
func DeliveryKey(orderID OrderID, staffID FulfillerID) string {
	return fmt.Sprintf("delivery:%s:%s", orderID, staffID)
}

// Apply adds the entry's deltas to w.
func (e WalletEntry) Apply(w DeliveryWallet) DeliveryWallet {
	w.CollectedAmount = w.CollectedAmount.Add(e.CollectedDelta)
	w.JobEarnings = w.JobEarnings.Add(e.EarningsDelta)
	w.TotalSettled = w.TotalSettled.Add(e.SettledDelta)
	return w
}

// Fold rebuilds wallet totals for staffID from its entries.
func Fold(staffID FulfillerID, entries []WalletEntry) DeliveryWallet {
	w := NewWallet(staffID)
	for _, e := range entries {
		if e.StaffID != staffID {
			continue
		}
		w = e.Apply(w)
	}
	return w
}

// SameTotals compares the three running totals, ignoring version and timestamps.
func (w DeliveryWallet) SameTotals(o DeliveryWallet) bool {
	return w.CollectedAmount.Equal(o.CollectedAmount) &&
		w.JobEarnings.Equal(o.JobEarnings) &&
		w.TotalSettled.Equal(o.TotalSettled)
}
