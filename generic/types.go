/*
Package generic provides the shared data model of the fulfillment engine.

PURPOSE:
  This package contains the types every engine package speaks: money,
  identifiers, orders and their per-role assignment slots, fulfillers,
  catalog items, delivery wallets and referral commissions. It holds no
  business rules beyond small derived values (wallet pending balance,
  slot activity). The rules live in pricing/, allocation/, settlement/
  and reports/.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal amount of the platform currency, rounded to paise
  - Identifiers: type-safe IDs so an order ID can't be passed as a fulfiller ID
  - Order: header + items, owned by the external order lifecycle
  - Fulfiller: a cook or a delivery staff member

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Type Safety: Strong typing for IDs and enums
  3. Explicit optionals: nullable fields are pointers, never empty strings

SEE ALSO:
  - assignment.go: Per-role assignment slots and the assignment history
  - balance.go: Delivery wallet and its invariant
  - commission.go: Referral commissions
  - store.go: Persistence interfaces
*/
package generic

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal amount in the platform currency
// =============================================================================

// MoneyPlaces is the number of decimal places money is rounded to.
const MoneyPlaces = 2

type Money struct {
	Value decimal.Decimal
}

var (
	Zero    = Money{Value: decimal.Zero}
	hundred = decimal.NewFromInt(100)
)

func NewMoney(value float64) Money      { return Money{Value: decimal.NewFromFloat(value)} }
func NewMoneyFromInt(value int64) Money { return Money{Value: decimal.NewFromInt(value)} }
func MoneyOf(d decimal.Decimal) Money   { return Money{Value: d} }

// ParseMoney parses a decimal string such as "199.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, &ValidationError{Field: "amount", Reason: fmt.Sprintf("not a decimal: %q", s)}
	}
	return Money{Value: d}, nil
}

func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(o Money) Money              { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money              { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Mul(s decimal.Decimal) Money    { return Money{Value: m.Value.Mul(s)} }
func (m Money) MulInt(n int) Money             { return Money{Value: m.Value.Mul(decimal.NewFromInt(int64(n)))} }
func (m Money) Neg() Money                     { return Money{Value: m.Value.Neg()} }
func (m Money) IsNegative() bool               { return m.Value.IsNegative() }
func (m Money) IsZero() bool                   { return m.Value.IsZero() }
func (m Money) IsPositive() bool               { return m.Value.IsPositive() }
func (m Money) Equal(o Money) bool             { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool       { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool          { return m.Value.LessThan(o.Value) }
func (m Money) String() string                 { return m.Value.StringFixed(MoneyPlaces) }

func (m Money) Max(o Money) Money {
	if m.LessThan(o) {
		return o
	}
	return m
}

// Round rounds to MoneyPlaces, half away from zero.
func (m Money) Round() Money { return Money{Value: m.Value.Round(MoneyPlaces)} }

// Percent returns m * percent / 100, rounded.
func (m Money) Percent(percent decimal.Decimal) Money {
	return Money{Value: m.Value.Mul(percent).Div(hundred)}.Round()
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	return m.Value.UnmarshalJSON(data)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrderID string
type ItemID string
type FulfillerID string
type UserID string
type CommissionID string
type PanchayatID string
type AssignmentID string
type WalletEntryID string

// UnknownName is what rollups show when a joined record (referrer profile,
// panchayat, staff member) does not exist.
const UnknownName = "Unknown"

// NameOr returns *name, or UnknownName when the name is missing or blank.
func NameOr(name *string) string {
	if name == nil || *name == "" {
		return UnknownName
	}
	return *name
}

// =============================================================================
// ENUMS
// =============================================================================

type ServiceType string

const (
	ServiceIndoorEvents ServiceType = "indoor_events"
	ServiceCloudKitchen ServiceType = "cloud_kitchen"
	ServiceHomemade     ServiceType = "homemade"
)

func (s ServiceType) Valid() bool {
	switch s {
	case ServiceIndoorEvents, ServiceCloudKitchen, ServiceHomemade:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderPreparing OrderStatus = "preparing"
	OrderReady     OrderStatus = "ready"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether no further lifecycle progress is possible.
func (s OrderStatus) IsTerminal() bool { return s == OrderDelivered || s == OrderCancelled }

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderPreparing, OrderReady, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

// Role distinguishes the two independent allocation machines on an order.
type Role string

const (
	RoleCook     Role = "cook"
	RoleDelivery Role = "delivery"
)

// Roles lists every role in a stable order.
var Roles = []Role{RoleCook, RoleDelivery}

func (r Role) Valid() bool { return r == RoleCook || r == RoleDelivery }

// ParseRole validates a role coming from the outside.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", &ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", s)}
	}
	return r, nil
}

// =============================================================================
// CATALOG
// =============================================================================

// CatalogItem is a dish as listed by the platform. The order item takes a
// price snapshot, so edits never reach orders already placed.
type CatalogItem struct {
	ID           ItemID
	Name         string
	BasePrice    Money
	Margin       MarginRule
	ServiceTypes []ServiceType
	IsAvailable  bool
}

// FulfillerOverride is a fulfiller's own price for an item. It only exists
// when the price differs from the item's base price.
type FulfillerOverride struct {
	FulfillerID FulfillerID
	ItemID      ItemID
	CustomPrice Money
	UpdatedAt   time.Time
}

// =============================================================================
// ORDER
// =============================================================================

type Order struct {
	ID          OrderID
	OrderNumber string
	CustomerID  UserID
	Status      OrderStatus
	ServiceType ServiceType
	TotalAmount Money
	PanchayatID *PanchayatID
	WardNumber  int
	ReferredBy  *UserID
	Items       []OrderItem
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Slots holds the assignment state per role. Missing roles are unassigned.
	Slots map[Role]AssignmentSlot
}

// Slot returns the assignment slot for a role, unassigned when none was recorded.
func (o *Order) Slot(role Role) AssignmentSlot {
	if s, ok := o.Slots[role]; ok {
		return s
	}
	return AssignmentSlot{OrderID: o.ID, Role: role, Status: SlotUnassigned}
}

// ItemsTotal sums the item line totals.
func (o *Order) ItemsTotal() Money {
	total := Zero
	for _, it := range o.Items {
		total = total.Add(it.TotalPrice)
	}
	return total
}

type OrderItem struct {
	ItemID     ItemID
	Quantity   int
	UnitPrice  Money
	TotalPrice Money
}

// =============================================================================
// FULFILLERS & DIRECTORY
// =============================================================================

type Fulfiller struct {
	ID                  FulfillerID
	Role                Role
	Name                string
	IsActive            bool
	IsAvailable         bool
	Rating              decimal.Decimal
	AllowedServiceTypes []ServiceType
	PanchayatID         *PanchayatID
}

// Serves reports whether the fulfiller takes orders of the given service type.
func (f Fulfiller) Serves(st ServiceType) bool {
	for _, s := range f.AllowedServiceTypes {
		if s == st {
			return true
		}
	}
	return false
}

// ReferrerProfile is the referral agent's public profile. Name is optional.
type ReferrerProfile struct {
	UserID UserID
	Name   *string
	Code   string
}

type Panchayat struct {
	ID   PanchayatID
	Name string
}
