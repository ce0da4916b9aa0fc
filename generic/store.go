/*
store.go - Persistence interfaces

PURPOSE:
  Defines the interface between the engines and the database. Engines
  never see SQL; they see these methods, always called inside
  TxStore.WithTx for read-modify-write paths.

KEY INTERFACES:
  OrderStore:      Orders, per-role slots, assignment history
  WalletStore:     Delivery wallets and their append-only entry log
  CommissionStore: Referral commissions
  CatalogStore:    Catalog items and fulfiller price overrides
  Directory:       Fulfillers, referrer profiles, panchayats
  TxStore:         All of the above plus an atomic section

ATOMICITY:
  WithTx runs fn against a Store bound to one transaction. If fn returns
  an error nothing it wrote is visible afterwards. Implementations also
  compare-and-swap on Version for slots and wallets, so a lost update is
  reported as ErrConcurrentModification even without row locks.

ERRORS:
  - Missing rows:          *NotFoundError (Find* methods return nil, nil instead)
  - Duplicate wallet key:  ErrDuplicateIdempotencyKey
  - Duplicate commission:  ErrDuplicateCommission
  - Stale Version/status:  ErrConcurrentModification
  - Driver failures:       *StoreError

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory for tests and demos
  - store/sqlite/sqlite.go:  SQLite, single writer
  - store/postgres:          PostgreSQL, row locks

SEE ALSO:
  - errors.go: Error taxonomy
*/
package generic

import "context"

// OrderFilter narrows ListOrders. Zero fields match everything.
type OrderFilter struct {
	Range       DateRange
	PanchayatID *PanchayatID
	ServiceType ServiceType
	Status      OrderStatus
}

func (f OrderFilter) Matches(o Order) bool {
	if !f.Range.Contains(o.CreatedAt) {
		return false
	}
	if f.PanchayatID != nil && (o.PanchayatID == nil || *o.PanchayatID != *f.PanchayatID) {
		return false
	}
	if f.ServiceType != "" && o.ServiceType != f.ServiceType {
		return false
	}
	return f.Status == "" || o.Status == f.Status
}

// =============================================================================
// ORDERS & SLOTS
// =============================================================================

type OrderStore interface {
	// SaveOrder upserts the order header and items, creating unassigned
	// slots for roles that have none yet. Existing slots are not touched.
	SaveOrder(ctx context.Context, o Order) error

	// GetOrder returns the order with Items and Slots populated.
	GetOrder(ctx context.Context, id OrderID) (*Order, error)

	// LockOrder is GetOrder that also takes the order row lock inside a transaction.
	LockOrder(ctx context.Context, id OrderID) (*Order, error)

	UpdateOrderStatus(ctx context.Context, id OrderID, status OrderStatus) error
	ListOrders(ctx context.Context, f OrderFilter) ([]Order, error)

	// GetSlot returns the slot (locked inside a transaction where supported).
	GetSlot(ctx context.Context, orderID OrderID, role Role) (*AssignmentSlot, error)

	// SaveSlot writes the slot if its stored Version equals s.Version and
	// returns the slot with the incremented Version.
	SaveSlot(ctx context.Context, s AssignmentSlot) (AssignmentSlot, error)

	ListSlots(ctx context.Context, role Role, status SlotStatus) ([]AssignmentSlot, error)

	AppendAssignment(ctx context.Context, a Assignment) error
	ListAssignments(ctx context.Context, f AssignmentFilter) ([]Assignment, error)
}

// =============================================================================
// WALLETS
// =============================================================================

type WalletStore interface {
	GetWallet(ctx context.Context, staffID FulfillerID) (*DeliveryWallet, error)

	// SaveWallet inserts when w.Version is 0, otherwise CASes on Version.
	// Returns the wallet with the incremented Version.
	SaveWallet(ctx context.Context, w DeliveryWallet) (DeliveryWallet, error)

	ListWallets(ctx context.Context) ([]DeliveryWallet, error)

	AppendWalletEntry(ctx context.Context, e WalletEntry) error

	// FindWalletEntry returns nil, nil when no entry carries the key.
	FindWalletEntry(ctx context.Context, idempotencyKey string) (*WalletEntry, error)

	// ListWalletEntries returns entries in insertion order; empty staffID lists all.
	ListWalletEntries(ctx context.Context, staffID FulfillerID) ([]WalletEntry, error)
}

// =============================================================================
// COMMISSIONS
// =============================================================================

type CommissionStore interface {
	InsertCommission(ctx context.Context, c ReferralCommission) error
	GetCommission(ctx context.Context, id CommissionID) (*ReferralCommission, error)

	// FindCommission returns nil, nil when the pair has no commission.
	FindCommission(ctx context.Context, orderID OrderID, referrerID UserID) (*ReferralCommission, error)

	// UpdateCommissionStatus writes c if the stored status still equals from.
	UpdateCommissionStatus(ctx context.Context, c ReferralCommission, from CommissionStatus) error

	ListCommissions(ctx context.Context, f CommissionFilter) ([]ReferralCommission, error)
}

// =============================================================================
// CATALOG & DIRECTORY
// =============================================================================

type CatalogStore interface {
	SaveItem(ctx context.Context, item CatalogItem) error
	GetItem(ctx context.Context, id ItemID) (*CatalogItem, error)

	// GetOverride returns nil, nil when the fulfiller has no custom price.
	GetOverride(ctx context.Context, fulfillerID FulfillerID, itemID ItemID) (*FulfillerOverride, error)
	PutOverride(ctx context.Context, o FulfillerOverride) error
	DeleteOverride(ctx context.Context, fulfillerID FulfillerID, itemID ItemID) error
}

type Directory interface {
	SaveFulfiller(ctx context.Context, f Fulfiller) error
	GetFulfiller(ctx context.Context, id FulfillerID) (*Fulfiller, error)

	// ListFulfillers returns fulfillers of a role; empty role lists all.
	ListFulfillers(ctx context.Context, role Role) ([]Fulfiller, error)

	// ListEligibleFulfillers returns active, available fulfillers of the
	// role, and for cooks only those serving serviceType. Unordered.
	ListEligibleFulfillers(ctx context.Context, serviceType ServiceType, role Role) ([]Fulfiller, error)

	SaveReferrer(ctx context.Context, r ReferrerProfile) error
	ListReferrers(ctx context.Context) ([]ReferrerProfile, error)
	SavePanchayat(ctx context.Context, p Panchayat) error
	ListPanchayats(ctx context.Context) ([]Panchayat, error)
}

// =============================================================================
// COMPOSITION
// =============================================================================

type Store interface {
	OrderStore
	WalletStore
	CommissionStore
	CatalogStore
	Directory
}

// TxStore adds an atomic section. fn receives a Store bound to the
// transaction; it must not retain it after returning.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// Resetter is implemented by stores that can wipe all data (demo scenarios).
type Resetter interface {
	Reset(ctx context.Context) error
}
