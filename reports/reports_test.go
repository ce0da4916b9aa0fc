package reports_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fulfillment-engine/allocation"
	"github.com/warp/fulfillment-engine/generic"
	"github.com/warp/fulfillment-engine/generic/store"
	"github.com/warp/fulfillment-engine/reports"
	"github.com/warp/fulfillment-engine/settlement"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var day = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	agg    *reports.Aggregator
	store  *store.TxMemory
	alloc  *allocation.Engine
	ledger *settlement.Ledger
}

func ptr[T any](v T) *T { return &v }

func money(s string) generic.Money { return generic.MustParseMoney(s) }

func today() reports.Filter {
	return reports.Filter{Range: generic.DateRange{Start: ptr(day), End: ptr(generic.EndOfDay(day))}}
}

// newFixture seeds:
//
//	o-1  1000  delivered  p-1 (Kottayam)  homemade
//	o-2   500  delivered  p-2 (no record) homemade
//	o-3   300  cancelled  p-1             homemade
//	o-4   200  pending    none            cloud_kitchen
//	o-5   800  delivered  p-1             homemade, created the next day
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewTxMemory()

	require.NoError(t, s.SavePanchayat(ctx, generic.Panchayat{ID: "p-1", Name: "Kottayam"}))
	for _, f := range []generic.Fulfiller{
		{ID: "cook-a", Role: generic.RoleCook, Name: "Meena", IsActive: true, IsAvailable: true, Rating: decimal.NewFromFloat(4.6),
			AllowedServiceTypes: []generic.ServiceType{generic.ServiceHomemade, generic.ServiceCloudKitchen}},
		{ID: "cook-b", Role: generic.RoleCook, Name: "Latha", IsActive: true, IsAvailable: true, Rating: decimal.NewFromFloat(4.1),
			AllowedServiceTypes: []generic.ServiceType{generic.ServiceHomemade}},
		{ID: "cook-c", Role: generic.RoleCook, Name: "", IsActive: true, IsAvailable: true,
			AllowedServiceTypes: []generic.ServiceType{generic.ServiceHomemade}},
		{ID: "rider-1", Role: generic.RoleDelivery, Name: "Ravi", IsActive: true, IsAvailable: true},
		{ID: "rider-2", Role: generic.RoleDelivery, Name: "Anu", IsActive: true, IsAvailable: true},
	} {
		require.NoError(t, s.SaveFulfiller(ctx, f))
	}

	order := func(id string, total string, panchayat *generic.PanchayatID, st generic.ServiceType, created time.Time) {
		require.NoError(t, s.SaveOrder(ctx, generic.Order{
			ID: generic.OrderID(id), OrderNumber: "ORD-" + id, CustomerID: "cust", Status: generic.OrderConfirmed,
			ServiceType: st, TotalAmount: money(total), PanchayatID: panchayat, CreatedAt: created, UpdatedAt: created,
		}))
	}
	p1, p2 := ptr(generic.PanchayatID("p-1")), ptr(generic.PanchayatID("p-2"))
	order("o-1", "1000", p1, generic.ServiceHomemade, day.Add(9*time.Hour))
	order("o-2", "500", p2, generic.ServiceHomemade, day.Add(12*time.Hour))
	order("o-3", "300", p1, generic.ServiceHomemade, day.Add(13*time.Hour))
	order("o-4", "200", nil, generic.ServiceCloudKitchen, day.Add(20*time.Hour))
	order("o-5", "800", p1, generic.ServiceHomemade, day.Add(30*time.Hour))

	clock := generic.FixedClock(day.Add(21 * time.Hour))
	alloc := allocation.NewEngine(s)
	alloc.Now = clock
	ledger := settlement.NewLedger(s)
	ledger.Now = clock
	return &fixture{agg: reports.NewAggregator(s), store: s, alloc: alloc, ledger: ledger}
}

func (f *fixture) offer(t *testing.T, order generic.OrderID, cook generic.FulfillerID, accept bool) {
	t.Helper()
	ctx := context.Background()
	_, err := f.alloc.Assign(ctx, allocation.AssignRequest{OrderID: order, Role: generic.RoleCook, FulfillerID: cook})
	require.NoError(t, err)
	_, err = f.alloc.Respond(ctx, allocation.RespondRequest{OrderID: order, Role: generic.RoleCook, FulfillerID: cook, Accept: accept})
	require.NoError(t, err)
}

func (f *fixture) setStatus(t *testing.T, order generic.OrderID, status generic.OrderStatus) {
	t.Helper()
	require.NoError(t, f.store.UpdateOrderStatus(context.Background(), order, status))
}

// deliver completes the order through the ledger with staffID as the
// accepted delivery fulfiller.
func (f *fixture) deliver(t *testing.T, order generic.OrderID, staffID generic.FulfillerID, collected, earnings string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.alloc.Assign(ctx, allocation.AssignRequest{OrderID: order, Role: generic.RoleDelivery, FulfillerID: staffID})
	require.NoError(t, err)
	_, err = f.alloc.Respond(ctx, allocation.RespondRequest{OrderID: order, Role: generic.RoleDelivery, FulfillerID: staffID, Accept: true})
	require.NoError(t, err)
	_, err = f.ledger.CompleteDelivery(ctx, settlement.CompletionRequest{
		OrderID: order, StaffID: staffID, Collected: money(collected), Earnings: money(earnings),
	})
	require.NoError(t, err)
}

func (f *fixture) settleStatuses(t *testing.T) {
	f.setStatus(t, "o-1", generic.OrderDelivered)
	f.setStatus(t, "o-2", generic.OrderDelivered)
	f.setStatus(t, "o-3", generic.OrderCancelled)
	f.setStatus(t, "o-4", generic.OrderPending)
	f.setStatus(t, "o-5", generic.OrderDelivered)
}

// =============================================================================
// SALES
// =============================================================================

func TestSales_CountsAllRevenueDeliveredOnly(t *testing.T) {
	f := newFixture(t)
	f.settleStatuses(t)

	report, err := f.agg.Sales(context.Background(), today())
	require.NoError(t, err)

	assert.Equal(t, 4, report.TotalOrders, "o-5 is outside the range")
	assert.Equal(t, 2, report.ByStatus[generic.OrderDelivered])
	assert.Equal(t, 1, report.ByStatus[generic.OrderCancelled])
	assert.Equal(t, 1, report.ByStatus[generic.OrderPending])
	assert.Equal(t, "1500.00", report.Revenue.String())
	assert.Equal(t, "750.00", report.AverageOrderValue.String())

	require.Len(t, report.ByPanchayat, 3)
	assert.Equal(t, "Kottayam", report.ByPanchayat[0].Name)
	assert.Equal(t, 2, report.ByPanchayat[0].Orders)
	assert.Equal(t, 1, report.ByPanchayat[0].Delivered)
	assert.Equal(t, "1000.00", report.ByPanchayat[0].Revenue.String())
	assert.Equal(t, generic.UnknownName, report.ByPanchayat[1].Name, "p-2 has no record")
	assert.Equal(t, "500.00", report.ByPanchayat[1].Revenue.String())
	assert.Equal(t, generic.UnknownName, report.ByPanchayat[2].Name, "order without panchayat")

	require.Len(t, report.ByServiceType, 2)
	assert.Equal(t, generic.ServiceHomemade, report.ByServiceType[0].ServiceType)
	assert.Equal(t, "1500.00", report.ByServiceType[0].Revenue.String())
}

func TestSales_FilterByPanchayatAndServiceType(t *testing.T) {
	f := newFixture(t)
	f.settleStatuses(t)
	ctx := context.Background()

	filter := reports.Filter{PanchayatID: ptr(generic.PanchayatID("p-1"))}
	report, err := f.agg.Sales(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, 3, report.TotalOrders, "no range: o-1, o-3, o-5")
	assert.Equal(t, "1800.00", report.Revenue.String())

	filter = reports.Filter{ServiceType: generic.ServiceCloudKitchen}
	report, err = f.agg.Sales(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalOrders)
	assert.True(t, report.Revenue.IsZero())
	assert.True(t, report.AverageOrderValue.IsZero())
}

func TestFilter_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.agg.Sales(ctx, reports.Filter{Range: generic.DateRange{Start: ptr(day), End: ptr(day.Add(-time.Hour))}})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = f.agg.CookPerformance(ctx, reports.Filter{ServiceType: "catering"})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

// =============================================================================
// COOK PERFORMANCE
// =============================================================================

func TestCookPerformance(t *testing.T) {
	// GIVEN: cook-a accepts o-1; cook-b rejects o-2, then cook-a accepts it
	// WHEN: o-1 is delivered and o-2 is still being prepared
	// THEN: cook-a completed one order worth 1000; cook-b only has a reject

	f := newFixture(t)
	f.offer(t, "o-1", "cook-a", true)
	f.offer(t, "o-2", "cook-b", false)
	f.offer(t, "o-2", "cook-a", true)
	f.setStatus(t, "o-1", generic.OrderDelivered)
	f.setStatus(t, "o-2", generic.OrderPreparing)

	report, err := f.agg.CookPerformance(context.Background(), today())
	require.NoError(t, err)
	require.Len(t, report, 3)

	a := report[0]
	assert.Equal(t, generic.FulfillerID("cook-a"), a.CookID)
	assert.Equal(t, 2, a.Offered)
	assert.Equal(t, 2, a.Accepted)
	assert.Equal(t, 0, a.Rejected)
	assert.Equal(t, 1, a.Completed)
	assert.Equal(t, "1000.00", a.Earnings.String())
	assert.True(t, decimal.NewFromFloat(4.6).Equal(a.Rating))

	b := report[1]
	assert.Equal(t, generic.FulfillerID("cook-b"), b.CookID)
	assert.Equal(t, 1, b.Offered)
	assert.Equal(t, 1, b.Rejected)
	assert.Equal(t, 0, b.Completed)

	c := report[2]
	assert.Equal(t, generic.UnknownName, c.Name, "blank name")
	assert.Zero(t, c.Offered)
}

// =============================================================================
// DELIVERY SETTLEMENT
// =============================================================================

func TestDeliverySettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deliver(t, "o-1", "rider-1", "500", "50")
	f.deliver(t, "o-2", "rider-1", "100", "30")
	_, err := f.ledger.Settle(ctx, settlement.SettleRequest{StaffID: "rider-1", Amount: money("200")})
	require.NoError(t, err)

	report, err := f.agg.DeliverySettlement(ctx)
	require.NoError(t, err)
	require.Len(t, report.Staff, 2)

	r := report.Staff[0]
	assert.Equal(t, "Ravi", r.Name)
	assert.Equal(t, 2, r.Deliveries)
	assert.Equal(t, "600.00", r.Collected.String())
	assert.Equal(t, "80.00", r.Earnings.String())
	assert.Equal(t, "200.00", r.Settled.String())
	assert.Equal(t, "480.00", r.Pending.String())

	assert.Equal(t, generic.FulfillerID("rider-2"), report.Staff[1].StaffID)
	assert.True(t, report.Staff[1].Pending.IsZero())

	assert.Equal(t, 2, report.Totals.Deliveries)
	assert.Equal(t, "480.00", report.Totals.Pending.String())
}

// =============================================================================
// REFERRALS
// =============================================================================

func TestReferrals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveReferrer(ctx, generic.ReferrerProfile{UserID: "ref-1", Name: ptr("Asha"), Code: "ASHA10"}))
	require.NoError(t, f.store.SaveReferrer(ctx, generic.ReferrerProfile{UserID: "ref-2", Code: "NONAME"}))
	for _, id := range []generic.OrderID{"o-1", "o-2", "o-4"} {
		f.setStatus(t, id, generic.OrderDelivered)
	}

	paid, err := f.ledger.CreateCommission(ctx, "o-1", "ref-1", decimal.NewFromInt(5))
	require.NoError(t, err)
	_, err = f.ledger.TransitionCommission(ctx, paid.ID, generic.CommissionApproved)
	require.NoError(t, err)
	_, err = f.ledger.TransitionCommission(ctx, paid.ID, generic.CommissionPaid)
	require.NoError(t, err)
	_, err = f.ledger.CreateCommission(ctx, "o-2", "ref-1", decimal.NewFromInt(10))
	require.NoError(t, err)
	_, err = f.ledger.CreateCommission(ctx, "o-4", "ref-3", decimal.NewFromInt(5))
	require.NoError(t, err)

	report, err := f.agg.Referrals(ctx, reports.Filter{})
	require.NoError(t, err)
	require.Len(t, report, 3)

	asha := report[0]
	assert.Equal(t, "Asha", asha.Name)
	assert.Equal(t, "ASHA10", asha.Code)
	assert.Equal(t, 2, asha.Referrals)
	assert.Equal(t, "100.00", asha.Total.String())
	assert.Equal(t, "50.00", asha.Paid.String())
	assert.Equal(t, "50.00", asha.Pending.String())
	assert.True(t, asha.Approved.IsZero())

	noProfile := report[1]
	assert.Equal(t, generic.UserID("ref-3"), noProfile.ReferrerID)
	assert.Equal(t, generic.UnknownName, noProfile.Name)
	assert.Equal(t, "10.00", noProfile.Total.String())

	noName := report[2]
	assert.Equal(t, generic.UnknownName, noName.Name)
	assert.Equal(t, "NONAME", noName.Code)
	assert.Zero(t, noName.Referrals)

	// Scoped to cloud kitchen orders only ref-3's commission remains.
	report, err = f.agg.Referrals(ctx, reports.Filter{ServiceType: generic.ServiceCloudKitchen})
	require.NoError(t, err)
	assert.Equal(t, "10.00", report[0].Total.String())
	assert.Equal(t, generic.UserID("ref-3"), report[0].ReferrerID)
}
