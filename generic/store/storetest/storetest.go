// Package storetest is a behaviour suite every generic.TxStore must pass.
// Each implementation's tests call Run with a constructor for an empty store.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fulfillment-engine/generic"
)

// Opener returns an empty store. The suite never closes it.
type Opener func(t *testing.T) generic.TxStore

var (
	t0       = time.Date(2025, 8, 29, 18, 0, 0, 0, time.UTC)
	kottayam = generic.PanchayatID("p-kottayam")
	asha     = generic.UserID("ref-asha")
)

// Run executes the suite, one fresh store per subtest.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s generic.TxStore)
	}{
		{"OrderRoundTrip", testOrderRoundTrip},
		{"ListOrdersFilterAndOrder", testListOrders},
		{"SlotCompareAndSwap", testSlotCompareAndSwap},
		{"AssignmentHistory", testAssignmentHistory},
		{"WithTxRollsBack", testWithTxRollsBack},
		{"WalletVersioning", testWalletVersioning},
		{"WalletEntryIdempotency", testWalletEntryIdempotency},
		{"CommissionPairIsUnique", testCommissionPairIsUnique},
		{"CommissionStatusCAS", testCommissionStatusCAS},
		{"CatalogAndOverrides", testCatalogAndOverrides},
		{"EligibleFulfillers", testEligibleFulfillers},
		{"Reset", testReset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

// =============================================================================
// FIXTURES
// =============================================================================

func order(id generic.OrderID, createdAt time.Time) generic.Order {
	p := kottayam
	ref := asha
	return generic.Order{
		ID:          id,
		OrderNumber: "ORD-" + string(id),
		CustomerID:  "cust-anil",
		Status:      generic.OrderConfirmed,
		ServiceType: generic.ServiceCloudKitchen,
		TotalAmount: generic.MustParseMoney("410.00"),
		PanchayatID: &p,
		WardNumber:  4,
		ReferredBy:  &ref,
		Items: []generic.OrderItem{
			{ItemID: "biryani", Quantity: 2, UnitPrice: generic.MustParseMoney("165"), TotalPrice: generic.MustParseMoney("330")},
			{ItemID: "porotta", Quantity: 4, UnitPrice: generic.MustParseMoney("20"), TotalPrice: generic.MustParseMoney("80")},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func saveOrder(t *testing.T, s generic.Store, o generic.Order) {
	t.Helper()
	require.NoError(t, s.SaveOrder(context.Background(), o))
}

func fulfiller(id generic.FulfillerID, role generic.Role, rating string, types ...generic.ServiceType) generic.Fulfiller {
	return generic.Fulfiller{
		ID:                  id,
		Role:                role,
		Name:                string(id),
		IsActive:            true,
		IsAvailable:         true,
		Rating:              decimal.RequireFromString(rating),
		AllowedServiceTypes: types,
	}
}

func entry(id, key string, staff generic.FulfillerID, collected string, at time.Time) generic.WalletEntry {
	return generic.WalletEntry{
		ID:             generic.WalletEntryID(id),
		StaffID:        staff,
		Kind:           generic.EntryCollection,
		CollectedDelta: generic.MustParseMoney(collected),
		EarningsDelta:  generic.Zero,
		SettledDelta:   generic.Zero,
		IdempotencyKey: key,
		CreatedAt:      at,
	}
}

func commission(id generic.CommissionID, orderID generic.OrderID) generic.ReferralCommission {
	return generic.ReferralCommission{
		ID:                id,
		ReferrerID:        asha,
		OrderID:           orderID,
		CommissionPercent: decimal.NewFromInt(5),
		CommissionAmount:  generic.MustParseMoney("20.50"),
		Status:            generic.CommissionPending,
		CreatedAt:         t0,
	}
}

// =============================================================================
// ORDERS & SLOTS
// =============================================================================

func testOrderRoundTrip(t *testing.T, s generic.TxStore) {
	ctx := context.Background()
	saveOrder(t, s, order("o-1", t0))

	got, err := s.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "ORD-o-1", got.OrderNumber)
	assert.Equal(t, generic.OrderConfirmed, got.Status)
	assert.True(t, got.TotalAmount.Equal(generic.MustParseMoney("410")), got.TotalAmount.String())
	require.NotNil(t, got.PanchayatID)
	assert.Equal(t, kottayam, *got.PanchayatID)
	require.NotNil(t, got.ReferredBy)
	assert.Equal(t, asha, *got.ReferredBy)
	assert.True(t, got.CreatedAt.Equal(t0))
	require.Len(t, got.Items, 2)
	assert.Equal(t, generic.ItemID("biryani"), got.Items[0].ItemID)
	assert.True(t, got.Items[1].TotalPrice.Equal(generic.MustParseMoney("80")))

	for _, role := range generic.Roles {
		slot := got.Slot(role)
		assert.Equal(t, generic.SlotUnassigned, slot.Status, role)
		assert.Nil(t, slot.FulfillerID)
	}

	require.NoError(t, s.UpdateOrderStatus(ctx, "o-1", generic.OrderPreparing))
	got, err = s.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, generic.OrderPreparing, got.Status)

	_, err = s.GetOrder(ctx, "o-missing")
	assert.True(t, generic.IsNotFound(err))
	assert.True(t, generic.IsNotFound(s.UpdateOrderStatus(ctx, "o-missing", generic.OrderReady)))
}

func testListOrders(t *testing.T, s generic.TxStore) {
	ctx := context.Background()
	later := order("o-2", t0.Add(time.Hour))
	later.ServiceType = generic.ServiceHomemade
	later.PanchayatID = nil
	saveOrder(t, s, later)
	saveOrder(t, s, order("o-1", t0))
	saveOrder(t, s, order("o-3", t0.Add(48*time.Hour)))

	all, err := s.ListOrders(ctx, generic.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []generic.OrderID{"o-1", "o-2", "o-3"}, []generic.OrderID{all[0].ID, all[1].ID, all[2].ID})

	end := generic.EndOfDay(t0)
	p := kottayam
	filtered, err := s.ListOrders(ctx, generic.OrderFilter{
		Range:       generic.DateRange{End: &end},
		PanchayatID: &p,
	})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, generic.OrderID("o-1"), filtered[0].ID)

	homemade, err := s.ListOrders(ctx, generic.OrderFilter{ServiceType: generic.ServiceHomemade})
	require.NoError(t, err)
	require.Len(t, homemade, 1)
	assert.Equal(t, generic.OrderID("o-2"), homemade[0].ID)
}

func testSlotCompareAndSwap(t *testing.T, s generic.TxStore) {
	ctx := context.Background()
	saveOrder(t, s, order("o-1", t0))

	slot, err := s.GetSlot(ctx, "o-1", generic.RoleCook)
	require.NoError(t, err)
	stale := *slot

	meena := generic.FulfillerID("cook-meena")
	at := t0.Add(time.Minute)
	slot.FulfillerID = &meena
	slot.Status = generic.SlotPending
	slot.AssignedAt = &at

	saved, err := s.SaveSlot(ctx, *slot)
	require.NoError(t, err)
	assert.Equal(t, stale.Version+1, saved.Version)

	stale.Status = generic.SlotPending
	_, err = s.SaveSlot(ctx, stale)
	assert.True(t, errors.Is(err, generic.ErrConcurrentModification), "write from an old version must fail, got %v", err)

	pending, err := s.ListSlots(ctx, generic.RoleCook, generic.SlotPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].FulfillerID)
	assert.Equal(t, meena, *pending[0].FulfillerID)
	require.NotNil(t, pending[0].AssignedAt)
	assert.True(t, pending[0].AssignedAt.Equal(at))

	// Saving the order header again leaves the slot alone.
	saveOrder(t, s, order("o-1", t0))
	got, err := s.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, generic.SlotPending, got.Slot(generic.RoleCook).Status)
	assert.Equal(t, saved.Version, got.Slot(generic.RoleCook).Version)
}

func testAssignmentHistory(t *testing.T, s generic.TxStore) {
	ctx := context.Background()
	saveOrder(t, s, order("o-1", t0))

	rows := []generic.Assignment{
		{ID: "a-1", OrderID: "o-1", Role: generic.RoleCook, FulfillerID: "cook-joseph", Outcome: generic.OutcomeOffered, At: t0},
		{ID: "a-2", OrderID: "o-1", Role: generic.RoleCook, FulfillerID: "cook-joseph", Outcome: generic.OutcomeRejected, Reason: "fully booked", At: t0.Add(time.Minute)},
		{ID: "a-3", OrderID: "o-1", Role: generic.RoleDelivery, FulfillerID: "rider-ravi", Outcome: generic.OutcomeOffered, At: t0.Add(2 * time.Minute)},
	}
	for _, a := range rows {
		require.NoError(t, s.AppendAssignment(ctx, a))
	}

	cook, err := s.ListAssignments(ctx, generic.AssignmentFilter{OrderID: "o-1", Role: generic.RoleCook})
	require.NoError(t, err)
	require.Len(t, cook, 2)
	assert.Equal(t, generic.AssignmentID("a-1"), cook[0].ID)
	assert.Equal(t, "fully booked", cook[1].Reason)

	rejected, err := s.ListAssignments(ctx, generic.AssignmentFilter{Outcome: generic.OutcomeRejected})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, generic.FulfillerID("cook-joseph"), rejected[0].FulfillerID)
}

func testWithTxRollsBack(t *testing.T, s generic.TxStore) {
	ctx := context.Background()
	saveOrder(t, s, order("o-1", t0))
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx generic.Store) error {
		if err := tx.UpdateOrderStatus(ctx, "o-1", generic.OrderCancelled); err != nil {
			return err
		}
		if err := tx.AppendWalletEntry(ctx, entry("e-1", "k-1", "rider-ravi", "10", t0)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, generic.OrderConfirmed, got.Status)
	prior, err := s.FindWalletEntry(ctx, "k-1")
	require.NoError(t, err)
	assert.Nil(t, prior)

	require.NoError(t, s.WithTx(ctx, func(tx generic.Store) error {
		locked, err := tx.LockOrder(ctx, "o-1")
		if err != nil {
			return err
		}
		assert.Equal(t, generic.OrderConfirmed, locked.Status)
		return tx.UpdateOrderStatus(ctx, "o-1", generic.OrderReady)
	}))
	got, err = s.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, generic.OrderReady, got.Status)
}

// =============================================================================
// WALLETS
// =============================================================================

func testWalletVersioning(t *testing.T, s generic.TxStore) {
	ctx := context.Background()

	_, err := s.GetWallet(ctx, "rider-ravi")
	assert.True(t, generic.IsNotFound(err))

	w := generic.NewWallet("rider-ravi")
	w.CollectedAmount = generic.MustParseMoney("410")
	w.JobEarnings = generic.MustParseMoney("40")
	w.UpdatedAt = t0
	saved, err := s.SaveWallet(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	_, err = s.SaveWallet(ctx, w)
	assert.True(t, errors.Is(err, generic.ErrConcurrentModification), "second insert must fail, got %v", err)

	saved.TotalSettled = generic.MustParseMoney("100")
	saved, err = s.SaveWallet(ctx, saved)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	stale := saved
	stale.Version = 1
	_, err = s.SaveWallet(ctx, stale)
	assert.True(t, errors.Is(err, generic.ErrConcurrentModification))

	got, err := s.GetWallet(ctx, "rider-ravi")
	require.NoError(t, err)
	assert.True(t, got.Pending().Equal(generic.MustParseMoney("350")), got.Pending().String())

	all, err := s.ListWallets(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testWalletEntryIdempotency(t *testing.T, s generic.TxStore) {
	ctx := context.Background()

	require.NoError(t, s.AppendWalletEntry(ctx, entry("e-1", "delivery:o-1:rider-ravi", "rider-ravi", "410", t0)))
	require.NoError(t, s.AppendWalletEntry(ctx, entry("e-2", "delivery:o-2:rider-anu", "rider-anu", "315", t0)))
	require.NoError(t, s.AppendWalletEntry(ctx, entry("e-3", "delivery:o-3:rider-ravi", "rider-ravi", "165", t0.Add(time.Minute))))

	err := s.AppendWalletEntry(ctx, entry("e-4", "delivery:o-1:rider-ravi", "rider-ravi", "410", t0))
	assert.True(t, errors.Is(err, generic.ErrDuplicateIdempotencyKey), "got %v", err)

	found, err := s.FindWalletEntry(ctx, "delivery:o-1:rider-ravi")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, generic.WalletEntryID("e-1"), found.ID)

	missing, err := s.FindWalletEntry(ctx, "delivery:o-9:rider-ravi")
	require.NoError(t, err)
	assert.Nil(t, missing)

	ravi, err := s.ListWalletEntries(ctx, "rider-ravi")
	require.NoError(t, err)
	require.Len(t, ravi, 2)
	assert.Equal(t, generic.WalletEntryID("e-1"), ravi[0].ID)
	assert.Equal(t, generic.WalletEntryID("e-3"), ravi[1].ID)

	all, err := s.ListWalletEntries(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// =============================================================================
// COMMISSIONS
// =============================================================================

func testCommissionPairIsUnique(t *testing.T, s generic.TxStore) {
	ctx := context.Background()
	saveOrder(t, s, order("o-1", t0))

	require.NoError(t, s.InsertCommission(ctx, commission("c-1", "o-1")))
	err := s.InsertCommission(ctx, commission("c-2", "o-1"))
	assert.True(t, errors.Is(err, generic.ErrDuplicateCommission), "got %v", err)

	found, err := s.FindCommission(ctx, "o-1", asha)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, generic.CommissionID("c-1"), found.ID)
	assert.True(t, found.CommissionAmount.Equal(generic.MustParseMoney("20.50")))
	assert.True(t, found.CommissionPercent.Equal(decimal.NewFromInt(5)))

	none, err := s.FindCommission(ctx, "o-1", "ref-vinod")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = s.GetCommission(ctx, "c-2")
	assert.True(t, generic.IsNotFound(err))
}

func testCommissionStatusCAS(t *testing.T, s generic.TxStore) {
	ctx := context.Background()
	saveOrder(t, s, order("o-1", t0))
	require.NoError(t, s.InsertCommission(ctx, commission("c-1", "o-1")))

	approvedAt := t0.Add(time.Hour)
	c := commission("c-1", "o-1")
	c.Status = generic.CommissionApproved
	c.ApprovedAt = &approvedAt
	require.NoError(t, s.UpdateCommissionStatus(ctx, c, generic.CommissionPending))

	err := s.UpdateCommissionStatus(ctx, c, generic.CommissionPending)
	assert.True(t, errors.Is(err, generic.ErrConcurrentModification), "got %v", err)

	got, err := s.GetCommission(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, generic.CommissionApproved, got.Status)
	require.NotNil(t, got.ApprovedAt)
	assert.True(t, got.ApprovedAt.Equal(approvedAt))
	assert.Nil(t, got.PaidAt)

	approved, err := s.ListCommissions(ctx, generic.CommissionFilter{Status: generic.CommissionApproved})
	require.NoError(t, err)
	assert.Len(t, approved, 1)
	pending, err := s.ListCommissions(ctx, generic.CommissionFilter{Status: generic.CommissionPending})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// =============================================================================
// CATALOG & DIRECTORY
// =============================================================================

func testCatalogAndOverrides(t *testing.T, s generic.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.SaveItem(ctx, generic.CatalogItem{
		ID:           "biryani",
		Name:         "Chicken Biryani",
		BasePrice:    generic.MustParseMoney("150"),
		Margin:       generic.PercentMargin(10),
		ServiceTypes: []generic.ServiceType{generic.ServiceCloudKitchen, generic.ServiceHomemade},
		IsAvailable:  true,
	}))
	require.NoError(t, s.SaveFulfiller(ctx, fulfiller("cook-meena", generic.RoleCook, "4.8", generic.ServiceCloudKitchen)))

	item, err := s.GetItem(ctx, "biryani")
	require.NoError(t, err)
	assert.True(t, item.BasePrice.Equal(generic.MustParseMoney("150")))
	assert.Equal(t, generic.MarginPercent, item.Margin.Type)
	assert.True(t, item.Margin.Value.Equal(decimal.NewFromInt(10)))
	assert.ElementsMatch(t, []generic.ServiceType{generic.ServiceCloudKitchen, generic.ServiceHomemade}, item.ServiceTypes)

	_, err = s.GetItem(ctx, "kappa")
	assert.True(t, generic.IsNotFound(err))

	none, err := s.GetOverride(ctx, "cook-meena", "biryani")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, s.PutOverride(ctx, generic.FulfillerOverride{
		FulfillerID: "cook-meena", ItemID: "biryani", CustomPrice: generic.MustParseMoney("140"), UpdatedAt: t0,
	}))
	require.NoError(t, s.PutOverride(ctx, generic.FulfillerOverride{
		FulfillerID: "cook-meena", ItemID: "biryani", CustomPrice: generic.MustParseMoney("145"), UpdatedAt: t0,
	}))
	o, err := s.GetOverride(ctx, "cook-meena", "biryani")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.True(t, o.CustomPrice.Equal(generic.MustParseMoney("145")), "put replaces")

	require.NoError(t, s.DeleteOverride(ctx, "cook-meena", "biryani"))
	o, err = s.GetOverride(ctx, "cook-meena", "biryani")
	require.NoError(t, err)
	assert.Nil(t, o)
}

func testEligibleFulfillers(t *testing.T, s generic.TxStore) {
	ctx := context.Background()
	busy := fulfiller("cook-busy", generic.RoleCook, "5.0", generic.ServiceCloudKitchen)
	busy.IsAvailable = false
	retired := fulfiller("cook-retired", generic.RoleCook, "4.0", generic.ServiceCloudKitchen)
	retired.IsActive = false

	for _, f := range []generic.Fulfiller{
		fulfiller("cook-meena", generic.RoleCook, "4.8", generic.ServiceCloudKitchen, generic.ServiceHomemade),
		fulfiller("cook-latha", generic.RoleCook, "4.5", generic.ServiceHomemade),
		busy,
		retired,
		fulfiller("rider-ravi", generic.RoleDelivery, "4.7"),
	} {
		require.NoError(t, s.SaveFulfiller(ctx, f))
	}

	cooks, err := s.ListEligibleFulfillers(ctx, generic.ServiceCloudKitchen, generic.RoleCook)
	require.NoError(t, err)
	require.Len(t, cooks, 1)
	assert.Equal(t, generic.FulfillerID("cook-meena"), cooks[0].ID)

	riders, err := s.ListEligibleFulfillers(ctx, generic.ServiceIndoorEvents, generic.RoleDelivery)
	require.NoError(t, err)
	require.Len(t, riders, 1, "delivery staff serve every service type")

	allCooks, err := s.ListFulfillers(ctx, generic.RoleCook)
	require.NoError(t, err)
	assert.Len(t, allCooks, 4)

	got, err := s.GetFulfiller(ctx, "cook-meena")
	require.NoError(t, err)
	assert.True(t, got.Rating.Equal(decimal.RequireFromString("4.8")))
	assert.True(t, got.Serves(generic.ServiceHomemade))

	_, err = s.GetFulfiller(ctx, "cook-nobody")
	assert.True(t, generic.IsNotFound(err))
}

func testReset(t *testing.T, s generic.TxStore) {
	ctx := context.Background()
	resetter, ok := s.(generic.Resetter)
	if !ok {
		t.Skip("store does not support reset")
	}

	saveOrder(t, s, order("o-1", t0))
	require.NoError(t, s.SavePanchayat(ctx, generic.Panchayat{ID: kottayam, Name: "Kottayam"}))
	require.NoError(t, s.SaveReferrer(ctx, generic.ReferrerProfile{UserID: asha, Code: "ASHA10"}))
	require.NoError(t, s.AppendWalletEntry(ctx, entry("e-1", "k-1", "rider-ravi", "10", t0)))

	require.NoError(t, resetter.Reset(ctx))

	orders, err := s.ListOrders(ctx, generic.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
	panchayats, err := s.ListPanchayats(ctx)
	require.NoError(t, err)
	assert.Empty(t, panchayats)
	referrers, err := s.ListReferrers(ctx)
	require.NoError(t, err)
	assert.Empty(t, referrers)
	prior, err := s.FindWalletEntry(ctx, "k-1")
	require.NoError(t, err)
	assert.Nil(t, prior)
}
