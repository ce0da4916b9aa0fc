/*
Package settlement owns the money side of a delivered order.

PURPOSE:
  Two ledgers live here, independent of each other and of allocation:

    Delivery wallet:     per delivery staff member, cash collected plus job
                         earnings, minus what has been settled
    Referral commission: per (order, referrer), a percentage of the order
                         total that moves pending → approved → paid

  Cook performance is the third ledger of the platform. It is never
  stored; reports/ derives it from orders and assignment history.

IDEMPOTENCY:
  A completion event may be delivered more than once. Wallet credits are
  keyed "delivery:<order>:<staff>" and commissions are unique per pair,
  so replays return the already-applied state instead of double counting.

ATOMICITY:
  Every mutation runs in one TxStore.WithTx section and CASes the wallet
  Version (or the commission status). A settlement that would push the
  wallet past its pending amount fails with InsufficientBalanceError and
  writes nothing.

SEE ALSO:
  - wallet.go: PostDeliveryCollection, Settle
  - commission.go: CreateCommission, TransitionCommission
  - completion.go: CompleteDelivery, VerifyWallet
  - generic/ledger.go: Wallet entries and Fold
*/
package settlement

import (
	"github.com/shopspring/decimal"

	"github.com/warp/fulfillment-engine/generic"
)

// DefaultReferralPercent is applied to referred orders on completion
// unless the Ledger is configured otherwise.
var DefaultReferralPercent = decimal.NewFromInt(5)

// Ledger posts wallet and commission effects over a transactional store.
type Ledger struct {
	Store generic.TxStore
	Now   generic.Clock

	// ReferralPercent is the commission CompleteDelivery creates for the
	// order's referrer. Zero disables automatic commissions.
	ReferralPercent decimal.Decimal
}

func NewLedger(store generic.TxStore) *Ledger {
	return &Ledger{Store: store, Now: generic.SystemClock, ReferralPercent: DefaultReferralPercent}
}
