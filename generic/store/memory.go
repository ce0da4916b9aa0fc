// Package store provides Store implementations.
package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/warp/fulfillment-engine/generic"
)

// =============================================================================
// STATE - Unlocked data shared by Memory and its transaction view
// =============================================================================

type slotKey struct {
	OrderID generic.OrderID
	Role    generic.Role
}

type pairKey struct {
	OrderID    generic.OrderID
	ReferrerID generic.UserID
}

type overrideKey struct {
	FulfillerID generic.FulfillerID
	ItemID      generic.ItemID
}

// state implements generic.Store without any locking. Callers hold the lock.
type state struct {
	orders      map[generic.OrderID]generic.Order
	slots       map[slotKey]generic.AssignmentSlot
	assignments []generic.Assignment

	wallets   map[generic.FulfillerID]generic.DeliveryWallet
	entries   []generic.WalletEntry
	entryKeys map[string]int

	commissions map[generic.CommissionID]generic.ReferralCommission
	pairs       map[pairKey]generic.CommissionID

	items     map[generic.ItemID]generic.CatalogItem
	overrides map[overrideKey]generic.FulfillerOverride

	fulfillers map[generic.FulfillerID]generic.Fulfiller
	referrers  map[generic.UserID]generic.ReferrerProfile
	panchayats map[generic.PanchayatID]generic.Panchayat
}

func newState() *state {
	return &state{
		orders:      make(map[generic.OrderID]generic.Order),
		slots:       make(map[slotKey]generic.AssignmentSlot),
		wallets:     make(map[generic.FulfillerID]generic.DeliveryWallet),
		entryKeys:   make(map[string]int),
		commissions: make(map[generic.CommissionID]generic.ReferralCommission),
		pairs:       make(map[pairKey]generic.CommissionID),
		items:       make(map[generic.ItemID]generic.CatalogItem),
		overrides:   make(map[overrideKey]generic.FulfillerOverride),
		fulfillers:  make(map[generic.FulfillerID]generic.Fulfiller),
		referrers:   make(map[generic.UserID]generic.ReferrerProfile),
		panchayats:  make(map[generic.PanchayatID]generic.Panchayat),
	}
}

// clone copies every container. Record values are copied by value; their
// slices are never mutated in place, so sharing them is safe.
func (s *state) clone() *state {
	return &state{
		orders:      maps.Clone(s.orders),
		slots:       maps.Clone(s.slots),
		assignments: slices.Clone(s.assignments),
		wallets:     maps.Clone(s.wallets),
		entries:     slices.Clone(s.entries),
		entryKeys:   maps.Clone(s.entryKeys),
		commissions: maps.Clone(s.commissions),
		pairs:       maps.Clone(s.pairs),
		items:       maps.Clone(s.items),
		overrides:   maps.Clone(s.overrides),
		fulfillers:  maps.Clone(s.fulfillers),
		referrers:   maps.Clone(s.referrers),
		panchayats:  maps.Clone(s.panchayats),
	}
}

// --- orders & slots ---

func (s *state) SaveOrder(_ context.Context, o generic.Order) error {
	o.Items = slices.Clone(o.Items)
	o.Slots = nil
	s.orders[o.ID] = o
	for _, role := range generic.Roles {
		k := slotKey{OrderID: o.ID, Role: role}
		if _, ok := s.slots[k]; !ok {
			s.slots[k] = generic.AssignmentSlot{OrderID: o.ID, Role: role, Status: generic.SlotUnassigned}
		}
	}
	return nil
}

func (s *state) GetOrder(_ context.Context, id generic.OrderID) (*generic.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, generic.NotFound("order", id)
	}
	o.Items = slices.Clone(o.Items)
	o.Slots = make(map[generic.Role]generic.AssignmentSlot, len(generic.Roles))
	for _, role := range generic.Roles {
		if slot, ok := s.slots[slotKey{OrderID: id, Role: role}]; ok {
			o.Slots[role] = slot
		}
	}
	return &o, nil
}

func (s *state) LockOrder(ctx context.Context, id generic.OrderID) (*generic.Order, error) {
	return s.GetOrder(ctx, id)
}

func (s *state) UpdateOrderStatus(_ context.Context, id generic.OrderID, status generic.OrderStatus) error {
	o, ok := s.orders[id]
	if !ok {
		return generic.NotFound("order", id)
	}
	o.Status = status
	s.orders[id] = o
	return nil
}

func (s *state) ListOrders(ctx context.Context, f generic.OrderFilter) ([]generic.Order, error) {
	var result []generic.Order
	for id, o := range s.orders {
		if !f.Matches(o) {
			continue
		}
		full, err := s.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, *full)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *state) GetSlot(_ context.Context, orderID generic.OrderID, role generic.Role) (*generic.AssignmentSlot, error) {
	slot, ok := s.slots[slotKey{OrderID: orderID, Role: role}]
	if !ok {
		return nil, generic.NotFound("order", orderID)
	}
	return &slot, nil
}

func (s *state) SaveSlot(_ context.Context, slot generic.AssignmentSlot) (generic.AssignmentSlot, error) {
	k := slotKey{OrderID: slot.OrderID, Role: slot.Role}
	stored, ok := s.slots[k]
	if !ok {
		return generic.AssignmentSlot{}, generic.NotFound("order", slot.OrderID)
	}
	if stored.Version != slot.Version {
		return generic.AssignmentSlot{}, generic.ErrConcurrentModification
	}
	slot.Version++
	s.slots[k] = slot
	return slot, nil
}

func (s *state) ListSlots(_ context.Context, role generic.Role, status generic.SlotStatus) ([]generic.AssignmentSlot, error) {
	var result []generic.AssignmentSlot
	for _, slot := range s.slots {
		if (role == "" || slot.Role == role) && (status == "" || slot.Status == status) {
			result = append(result, slot)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].OrderID != result[j].OrderID {
			return result[i].OrderID < result[j].OrderID
		}
		return result[i].Role < result[j].Role
	})
	return result, nil
}

func (s *state) AppendAssignment(_ context.Context, a generic.Assignment) error {
	s.assignments = append(s.assignments, a)
	return nil
}

func (s *state) ListAssignments(_ context.Context, f generic.AssignmentFilter) ([]generic.Assignment, error) {
	var result []generic.Assignment
	for _, a := range s.assignments {
		if f.Matches(a) {
			result = append(result, a)
		}
	}
	return result, nil
}

// --- wallets ---

func (s *state) GetWallet(_ context.Context, staffID generic.FulfillerID) (*generic.DeliveryWallet, error) {
	w, ok := s.wallets[staffID]
	if !ok {
		return nil, generic.NotFound("wallet", staffID)
	}
	return &w, nil
}

func (s *state) SaveWallet(_ context.Context, w generic.DeliveryWallet) (generic.DeliveryWallet, error) {
	stored, ok := s.wallets[w.StaffID]
	switch {
	case w.Version == 0 && ok:
		return generic.DeliveryWallet{}, generic.ErrConcurrentModification
	case w.Version != 0 && !ok:
		return generic.DeliveryWallet{}, generic.NotFound("wallet", w.StaffID)
	case ok && stored.Version != w.Version:
		return generic.DeliveryWallet{}, generic.ErrConcurrentModification
	}
	w.Version++
	s.wallets[w.StaffID] = w
	return w, nil
}

func (s *state) ListWallets(_ context.Context) ([]generic.DeliveryWallet, error) {
	result := slices.Collect(maps.Values(s.wallets))
	sort.Slice(result, func(i, j int) bool { return result[i].StaffID < result[j].StaffID })
	return result, nil
}

func (s *state) AppendWalletEntry(_ context.Context, e generic.WalletEntry) error {
	if _, dup := s.entryKeys[e.IdempotencyKey]; dup {
		return generic.ErrDuplicateIdempotencyKey
	}
	s.entryKeys[e.IdempotencyKey] = len(s.entries)
	s.entries = append(s.entries, e)
	return nil
}

func (s *state) FindWalletEntry(_ context.Context, idempotencyKey string) (*generic.WalletEntry, error) {
	i, ok := s.entryKeys[idempotencyKey]
	if !ok {
		return nil, nil
	}
	e := s.entries[i]
	return &e, nil
}

func (s *state) ListWalletEntries(_ context.Context, staffID generic.FulfillerID) ([]generic.WalletEntry, error) {
	var result []generic.WalletEntry
	for _, e := range s.entries {
		if staffID == "" || e.StaffID == staffID {
			result = append(result, e)
		}
	}
	return result, nil
}

// --- commissions ---

func (s *state) InsertCommission(_ context.Context, c generic.ReferralCommission) error {
	k := pairKey{OrderID: c.OrderID, ReferrerID: c.ReferrerID}
	if _, dup := s.pairs[k]; dup {
		return generic.ErrDuplicateCommission
	}
	if _, dup := s.commissions[c.ID]; dup {
		return generic.ErrDuplicateCommission
	}
	s.pairs[k] = c.ID
	s.commissions[c.ID] = c
	return nil
}

func (s *state) GetCommission(_ context.Context, id generic.CommissionID) (*generic.ReferralCommission, error) {
	c, ok := s.commissions[id]
	if !ok {
		return nil, generic.NotFound("commission", id)
	}
	return &c, nil
}

func (s *state) FindCommission(_ context.Context, orderID generic.OrderID, referrerID generic.UserID) (*generic.ReferralCommission, error) {
	id, ok := s.pairs[pairKey{OrderID: orderID, ReferrerID: referrerID}]
	if !ok {
		return nil, nil
	}
	c := s.commissions[id]
	return &c, nil
}

func (s *state) UpdateCommissionStatus(_ context.Context, c generic.ReferralCommission, from generic.CommissionStatus) error {
	stored, ok := s.commissions[c.ID]
	if !ok {
		return generic.NotFound("commission", c.ID)
	}
	if stored.Status != from {
		return generic.ErrConcurrentModification
	}
	stored.Status = c.Status
	stored.ApprovedAt = c.ApprovedAt
	stored.PaidAt = c.PaidAt
	s.commissions[c.ID] = stored
	return nil
}

func (s *state) ListCommissions(_ context.Context, f generic.CommissionFilter) ([]generic.ReferralCommission, error) {
	var result []generic.ReferralCommission
	for _, c := range s.commissions {
		if f.Matches(c) {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// --- catalog ---

func (s *state) SaveItem(_ context.Context, item generic.CatalogItem) error {
	item.ServiceTypes = slices.Clone(item.ServiceTypes)
	s.items[item.ID] = item
	return nil
}

func (s *state) GetItem(_ context.Context, id generic.ItemID) (*generic.CatalogItem, error) {
	item, ok := s.items[id]
	if !ok {
		return nil, generic.NotFound("item", id)
	}
	return &item, nil
}

func (s *state) GetOverride(_ context.Context, fulfillerID generic.FulfillerID, itemID generic.ItemID) (*generic.FulfillerOverride, error) {
	o, ok := s.overrides[overrideKey{FulfillerID: fulfillerID, ItemID: itemID}]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *state) PutOverride(_ context.Context, o generic.FulfillerOverride) error {
	s.overrides[overrideKey{FulfillerID: o.FulfillerID, ItemID: o.ItemID}] = o
	return nil
}

func (s *state) DeleteOverride(_ context.Context, fulfillerID generic.FulfillerID, itemID generic.ItemID) error {
	delete(s.overrides, overrideKey{FulfillerID: fulfillerID, ItemID: itemID})
	return nil
}

// --- directory ---

func (s *state) SaveFulfiller(_ context.Context, f generic.Fulfiller) error {
	f.AllowedServiceTypes = slices.Clone(f.AllowedServiceTypes)
	s.fulfillers[f.ID] = f
	return nil
}

func (s *state) GetFulfiller(_ context.Context, id generic.FulfillerID) (*generic.Fulfiller, error) {
	f, ok := s.fulfillers[id]
	if !ok {
		return nil, generic.NotFound("fulfiller", id)
	}
	return &f, nil
}

func (s *state) ListFulfillers(_ context.Context, role generic.Role) ([]generic.Fulfiller, error) {
	var result []generic.Fulfiller
	for _, f := range s.fulfillers {
		if role == "" || f.Role == role {
			result = append(result, f)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *state) ListEligibleFulfillers(ctx context.Context, serviceType generic.ServiceType, role generic.Role) ([]generic.Fulfiller, error) {
	all, err := s.ListFulfillers(ctx, role)
	if err != nil {
		return nil, err
	}
	var result []generic.Fulfiller
	for _, f := range all {
		if !f.IsActive || !f.IsAvailable {
			continue
		}
		if role == generic.RoleCook && !f.Serves(serviceType) {
			continue
		}
		result = append(result, f)
	}
	return result, nil
}

func (s *state) SaveReferrer(_ context.Context, r generic.ReferrerProfile) error {
	s.referrers[r.UserID] = r
	return nil
}

func (s *state) ListReferrers(_ context.Context) ([]generic.ReferrerProfile, error) {
	result := slices.Collect(maps.Values(s.referrers))
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result, nil
}

func (s *state) SavePanchayat(_ context.Context, p generic.Panchayat) error {
	s.panchayats[p.ID] = p
	return nil
}

func (s *state) ListPanchayats(_ context.Context) ([]generic.Panchayat, error) {
	result := slices.Collect(maps.Values(s.panchayats))
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory guards a state with a RWMutex. Every method is one critical section.
type Memory struct {
	mu sync.RWMutex
	s  *state
}

func NewMemory() *Memory {
	return &Memory{s: newState()}
}

func read[T any](m *Memory, fn func(*state) (T, error)) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.s)
}

func write(m *Memory, fn func(*state) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.s)
}

func (m *Memory) SaveOrder(ctx context.Context, o generic.Order) error {
	return write(m, func(s *state) error { return s.SaveOrder(ctx, o) })
}

func (m *Memory) GetOrder(ctx context.Context, id generic.OrderID) (*generic.Order, error) {
	return read(m, func(s *state) (*generic.Order, error) { return s.GetOrder(ctx, id) })
}

func (m *Memory) LockOrder(ctx context.Context, id generic.OrderID) (*generic.Order, error) {
	return m.GetOrder(ctx, id)
}

func (m *Memory) UpdateOrderStatus(ctx context.Context, id generic.OrderID, status generic.OrderStatus) error {
	return write(m, func(s *state) error { return s.UpdateOrderStatus(ctx, id, status) })
}

func (m *Memory) ListOrders(ctx context.Context, f generic.OrderFilter) ([]generic.Order, error) {
	return read(m, func(s *state) ([]generic.Order, error) { return s.ListOrders(ctx, f) })
}

func (m *Memory) GetSlot(ctx context.Context, orderID generic.OrderID, role generic.Role) (*generic.AssignmentSlot, error) {
	return read(m, func(s *state) (*generic.AssignmentSlot, error) { return s.GetSlot(ctx, orderID, role) })
}

func (m *Memory) SaveSlot(ctx context.Context, slot generic.AssignmentSlot) (generic.AssignmentSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveSlot(ctx, slot)
}

func (m *Memory) ListSlots(ctx context.Context, role generic.Role, status generic.SlotStatus) ([]generic.AssignmentSlot, error) {
	return read(m, func(s *state) ([]generic.AssignmentSlot, error) { return s.ListSlots(ctx, role, status) })
}

func (m *Memory) AppendAssignment(ctx context.Context, a generic.Assignment) error {
	return write(m, func(s *state) error { return s.AppendAssignment(ctx, a) })
}

func (m *Memory) ListAssignments(ctx context.Context, f generic.AssignmentFilter) ([]generic.Assignment, error) {
	return read(m, func(s *state) ([]generic.Assignment, error) { return s.ListAssignments(ctx, f) })
}

func (m *Memory) GetWallet(ctx context.Context, staffID generic.FulfillerID) (*generic.DeliveryWallet, error) {
	return read(m, func(s *state) (*generic.DeliveryWallet, error) { return s.GetWallet(ctx, staffID) })
}

func (m *Memory) SaveWallet(ctx context.Context, w generic.DeliveryWallet) (generic.DeliveryWallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveWallet(ctx, w)
}

func (m *Memory) ListWallets(ctx context.Context) ([]generic.DeliveryWallet, error) {
	return read(m, func(s *state) ([]generic.DeliveryWallet, error) { return s.ListWallets(ctx) })
}

func (m *Memory) AppendWalletEntry(ctx context.Context, e generic.WalletEntry) error {
	return write(m, func(s *state) error { return s.AppendWalletEntry(ctx, e) })
}

func (m *Memory) FindWalletEntry(ctx context.Context, idempotencyKey string) (*generic.WalletEntry, error) {
	return read(m, func(s *state) (*generic.WalletEntry, error) { return s.FindWalletEntry(ctx, idempotencyKey) })
}

func (m *Memory) ListWalletEntries(ctx context.Context, staffID generic.FulfillerID) ([]generic.WalletEntry, error) {
	return read(m, func(s *state) ([]generic.WalletEntry, error) { return s.ListWalletEntries(ctx, staffID) })
}

func (m *Memory) InsertCommission(ctx context.Context, c generic.ReferralCommission) error {
	return write(m, func(s *state) error { return s.InsertCommission(ctx, c) })
}

func (m *Memory) GetCommission(ctx context.Context, id generic.CommissionID) (*generic.ReferralCommission, error) {
	return read(m, func(s *state) (*generic.ReferralCommission, error) { return s.GetCommission(ctx, id) })
}

func (m *Memory) FindCommission(ctx context.Context, orderID generic.OrderID, referrerID generic.UserID) (*generic.ReferralCommission, error) {
	return read(m, func(s *state) (*generic.ReferralCommission, error) { return s.FindCommission(ctx, orderID, referrerID) })
}

func (m *Memory) UpdateCommissionStatus(ctx context.Context, c generic.ReferralCommission, from generic.CommissionStatus) error {
	return write(m, func(s *state) error { return s.UpdateCommissionStatus(ctx, c, from) })
}

func (m *Memory) ListCommissions(ctx context.Context, f generic.CommissionFilter) ([]generic.ReferralCommission, error) {
	return read(m, func(s *state) ([]generic.ReferralCommission, error) { return s.ListCommissions(ctx, f) })
}

func (m *Memory) SaveItem(ctx context.Context, item generic.CatalogItem) error {
	return write(m, func(s *state) error { return s.SaveItem(ctx, item) })
}

func (m *Memory) GetItem(ctx context.Context, id generic.ItemID) (*generic.CatalogItem, error) {
	return read(m, func(s *state) (*generic.CatalogItem, error) { return s.GetItem(ctx, id) })
}

func (m *Memory) GetOverride(ctx context.Context, fulfillerID generic.FulfillerID, itemID generic.ItemID) (*generic.FulfillerOverride, error) {
	return read(m, func(s *state) (*generic.FulfillerOverride, error) { return s.GetOverride(ctx, fulfillerID, itemID) })
}

func (m *Memory) PutOverride(ctx context.Context, o generic.FulfillerOverride) error {
	return write(m, func(s *state) error { return s.PutOverride(ctx, o) })
}

func (m *Memory) DeleteOverride(ctx context.Context, fulfillerID generic.FulfillerID, itemID generic.ItemID) error {
	return write(m, func(s *state) error { return s.DeleteOverride(ctx, fulfillerID, itemID) })
}

func (m *Memory) SaveFulfiller(ctx context.Context, f generic.Fulfiller) error {
	return write(m, func(s *state) error { return s.SaveFulfiller(ctx, f) })
}

func (m *Memory) GetFulfiller(ctx context.Context, id generic.FulfillerID) (*generic.Fulfiller, error) {
	return read(m, func(s *state) (*generic.Fulfiller, error) { return s.GetFulfiller(ctx, id) })
}

func (m *Memory) ListFulfillers(ctx context.Context, role generic.Role) ([]generic.Fulfiller, error) {
	return read(m, func(s *state) ([]generic.Fulfiller, error) { return s.ListFulfillers(ctx, role) })
}

func (m *Memory) ListEligibleFulfillers(ctx context.Context, serviceType generic.ServiceType, role generic.Role) ([]generic.Fulfiller, error) {
	return read(m, func(s *state) ([]generic.Fulfiller, error) { return s.ListEligibleFulfillers(ctx, serviceType, role) })
}

func (m *Memory) SaveReferrer(ctx context.Context, r generic.ReferrerProfile) error {
	return write(m, func(s *state) error { return s.SaveReferrer(ctx, r) })
}

func (m *Memory) ListReferrers(ctx context.Context) ([]generic.ReferrerProfile, error) {
	return read(m, func(s *state) ([]generic.ReferrerProfile, error) { return s.ListReferrers(ctx) })
}

func (m *Memory) SavePanchayat(ctx context.Context, p generic.Panchayat) error {
	return write(m, func(s *state) error { return s.SavePanchayat(ctx, p) })
}

func (m *Memory) ListPanchayats(ctx context.Context) ([]generic.Panchayat, error) {
	return read(m, func(s *state) ([]generic.Panchayat, error) { return s.ListPanchayats(ctx) })
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = newState()
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so transactions are serial.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.s.clone()
	if err := fn(tm.s); err != nil {
		tm.s = snapshot
		return err
	}
	return nil
}

var (
	_ generic.TxStore  = (*TxMemory)(nil)
	_ generic.Resetter = (*TxMemory)(nil)
)
