package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REFERRAL COMMISSION
// =============================================================================

type CommissionStatus string

const (
	CommissionPending  CommissionStatus = "pending"
	CommissionApproved CommissionStatus = "approved"
	CommissionPaid     CommissionStatus = "paid"
)

func (s CommissionStatus) Valid() bool {
	return s == CommissionPending || s == CommissionApproved || s == CommissionPaid
}

// CanTransitionTo allows only pending→approved and approved→paid.
func (s CommissionStatus) CanTransitionTo(next CommissionStatus) bool {
	return (s == CommissionPending && next == CommissionApproved) ||
		(s == CommissionApproved && next == CommissionPaid)
}

// ReferralCommission is unique per (OrderID, ReferrerID). The amount is
// fixed at creation and never recomputed.
type ReferralCommission struct {
	ID                CommissionID
	ReferrerID        UserID
	OrderID           OrderID
	CommissionPercent decimal.Decimal
	CommissionAmount  Money
	Status            CommissionStatus
	CreatedAt         time.Time
	ApprovedAt        *time.Time
	PaidAt            *time.Time
}

// CommissionFilter narrows ListCommissions. Zero fields match everything.
type CommissionFilter struct {
	ReferrerID UserID
	OrderID    OrderID
	Status     CommissionStatus
}

func (f CommissionFilter) Matches(c ReferralCommission) bool {
	return (f.ReferrerID == "" || c.ReferrerID == f.ReferrerID) &&
		(f.OrderID == "" || c.OrderID == f.OrderID) &&
		(f.Status == "" || c.Status == f.Status)
}
