package allocation_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fulfillment-engine/allocation"
	"github.com/warp/fulfillment-engine/confirm"
	"github.com/warp/fulfillment-engine/generic"
	"github.com/warp/fulfillment-engine/generic/store"
	"github.com/warp/fulfillment-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	engine *allocation.Engine
	store  generic.TxStore
	now    time.Time
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func seed(t *testing.T, s generic.TxStore) {
	t.Helper()
	ctx := context.Background()

	cook := func(id string, rating float64, active, available bool, types ...generic.ServiceType) generic.Fulfiller {
		return generic.Fulfiller{
			ID: generic.FulfillerID(id), Role: generic.RoleCook, Name: id,
			IsActive: active, IsAvailable: available,
			Rating: decimal.NewFromFloat(rating), AllowedServiceTypes: types,
		}
	}
	fulfillers := []generic.Fulfiller{
		cook("cook-a", 4.5, true, true, generic.ServiceCloudKitchen),
		cook("cook-b", 4.8, true, true, generic.ServiceCloudKitchen, generic.ServiceHomemade),
		cook("cook-c", 4.5, true, true, generic.ServiceCloudKitchen),
		cook("cook-home", 5.0, true, true, generic.ServiceHomemade),
		cook("cook-off", 4.9, false, true, generic.ServiceCloudKitchen),
		cook("cook-busy", 4.9, true, false, generic.ServiceCloudKitchen),
		{ID: "rider-1", Role: generic.RoleDelivery, Name: "Rider", IsActive: true, IsAvailable: true, Rating: decimal.NewFromInt(4)},
	}
	for _, f := range fulfillers {
		require.NoError(t, s.SaveFulfiller(ctx, f))
	}

	for _, id := range []generic.OrderID{"o-1", "o-2"} {
		require.NoError(t, s.SaveOrder(ctx, generic.Order{
			ID: id, OrderNumber: "ORD-" + string(id), CustomerID: "cust-1",
			Status: generic.OrderConfirmed, ServiceType: generic.ServiceCloudKitchen,
			TotalAmount: generic.NewMoneyFromInt(1000), CreatedAt: t0, UpdatedAt: t0,
		}))
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, store.NewTxMemory())
}

func newFixtureWith(t *testing.T, s generic.TxStore) *fixture {
	t.Helper()
	seed(t, s)
	f := &fixture{store: s, now: t0}
	f.engine = allocation.NewEngine(s)
	f.engine.Now = func() time.Time { return f.now }
	return f
}

func newSQLiteStore(t *testing.T) generic.TxStore {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func (f *fixture) assign(t *testing.T, order generic.OrderID, role generic.Role, who generic.FulfillerID) (allocation.Result, error) {
	t.Helper()
	return f.engine.Assign(context.Background(), allocation.AssignRequest{OrderID: order, Role: role, FulfillerID: who})
}

func (f *fixture) respond(t *testing.T, order generic.OrderID, role generic.Role, who generic.FulfillerID, accept bool) (allocation.Result, error) {
	t.Helper()
	return f.engine.Respond(context.Background(), allocation.RespondRequest{OrderID: order, Role: role, FulfillerID: who, Accept: accept})
}

// =============================================================================
// ASSIGN
// =============================================================================

func TestAssign_OffersSlot(t *testing.T) {
	f := newFixture(t)

	res, err := f.assign(t, "o-1", generic.RoleCook, "cook-a")
	require.NoError(t, err)

	assert.Equal(t, generic.SlotPending, res.Slot.Status)
	require.NotNil(t, res.Slot.FulfillerID)
	assert.Equal(t, generic.FulfillerID("cook-a"), *res.Slot.FulfillerID)
	assert.Equal(t, t0, *res.Slot.AssignedAt)
	require.Len(t, res.Recorded, 1)
	assert.Equal(t, generic.OutcomeOffered, res.Recorded[0].Outcome)

	// Read-your-writes: the stored order shows the same slot.
	order, err := f.store.GetOrder(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, res.Slot.Version, order.Slot(generic.RoleCook).Version)
	assert.Equal(t, generic.SlotUnassigned, order.Slot(generic.RoleDelivery).Status, "roles are independent")
}

func TestAssign_RejectThenReassign(t *testing.T) {
	// GIVEN: Order offered to cook A
	// WHEN: Cook C is assigned before A answers, then A rejects, then B is assigned
	// THEN: C conflicts, B succeeds, A can't be offered the same order again

	f := newFixture(t)

	_, err := f.assign(t, "o-1", generic.RoleCook, "cook-a")
	require.NoError(t, err)

	_, err = f.assign(t, "o-1", generic.RoleCook, "cook-c")
	assert.ErrorIs(t, err, generic.ErrConflict)

	res, err := f.respond(t, "o-1", generic.RoleCook, "cook-a", false)
	require.NoError(t, err)
	assert.Equal(t, generic.SlotUnassigned, res.Slot.Status)
	assert.Nil(t, res.Slot.FulfillerID)

	res, err = f.assign(t, "o-1", generic.RoleCook, "cook-b")
	require.NoError(t, err)
	assert.Equal(t, generic.SlotPending, res.Slot.Status)

	_, err = f.respond(t, "o-1", generic.RoleCook, "cook-b", false)
	require.NoError(t, err)
	_, err = f.assign(t, "o-1", generic.RoleCook, "cook-a")
	assert.ErrorIs(t, err, generic.ErrConflict, "cook-a already rejected this order")
}

func TestAssign_Errors(t *testing.T) {
	tests := []struct {
		name   string
		order  generic.OrderID
		role   generic.Role
		who    generic.FulfillerID
		target error
	}{
		{"unknown role", "o-1", "waiter", "cook-a", generic.ErrValidation},
		{"unknown order", "o-404", generic.RoleCook, "cook-a", generic.ErrNotFound},
		{"unknown fulfiller", "o-1", generic.RoleCook, "cook-404", generic.ErrNotFound},
		{"delivery staff as cook", "o-1", generic.RoleCook, "rider-1", generic.ErrValidation},
		{"cook as delivery", "o-1", generic.RoleDelivery, "cook-a", generic.ErrValidation},
		{"service type not served", "o-1", generic.RoleCook, "cook-home", generic.ErrValidation},
		{"inactive", "o-1", generic.RoleCook, "cook-off", generic.ErrConflict},
		{"unavailable", "o-1", generic.RoleCook, "cook-busy", generic.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.assign(t, tt.order, tt.role, tt.who)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestAssign_TerminalOrder_Conflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpdateOrderStatus(ctx, "o-1", generic.OrderDelivered))

	_, err := f.assign(t, "o-1", generic.RoleCook, "cook-a")
	assert.ErrorIs(t, err, generic.ErrConflict)
}

func TestAssign_FailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	_, err := f.assign(t, "o-1", generic.RoleCook, "cook-a")
	require.NoError(t, err)
	_, err = f.assign(t, "o-1", generic.RoleCook, "cook-b")
	require.Error(t, err)

	rows, err := f.engine.History(context.Background(), "o-1", generic.RoleCook)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "only the first offer is recorded")
}

// =============================================================================
// RESPOND
// =============================================================================

func TestRespond_Accept(t *testing.T) {
	f := newFixture(t)
	_, err := f.assign(t, "o-1", generic.RoleDelivery, "rider-1")
	require.NoError(t, err)

	f.advance(time.Minute)
	res, err := f.respond(t, "o-1", generic.RoleDelivery, "rider-1", true)
	require.NoError(t, err)
	assert.Equal(t, generic.SlotAccepted, res.Slot.Status)
	assert.Equal(t, t0.Add(time.Minute), *res.Slot.RespondedAt)
	assert.Equal(t, generic.OutcomeAccepted, res.Recorded[0].Outcome)
}

func TestRespond_DuplicateOrStale_Conflict(t *testing.T) {
	f := newFixture(t)
	_, err := f.assign(t, "o-1", generic.RoleCook, "cook-a")
	require.NoError(t, err)

	_, err = f.respond(t, "o-1", generic.RoleCook, "cook-b", true)
	assert.ErrorIs(t, err, generic.ErrConflict, "not the offered cook")

	_, err = f.respond(t, "o-1", generic.RoleCook, "cook-a", true)
	require.NoError(t, err)

	_, err = f.respond(t, "o-1", generic.RoleCook, "cook-a", true)
	assert.ErrorIs(t, err, generic.ErrConflict, "duplicate accept")

	_, err = f.respond(t, "o-1", generic.RoleCook, "cook-a", false)
	assert.ErrorIs(t, err, generic.ErrConflict, "reject after accept")
}

// =============================================================================
// CANCEL & REASSIGN
// =============================================================================

func TestCancelAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Unassigned slot: no-op.
	res, err := f.engine.CancelAssignment(ctx, allocation.CancelRequest{OrderID: "o-1", Role: generic.RoleCook})
	require.NoError(t, err)
	assert.True(t, res.NoOp)

	_, err = f.assign(t, "o-1", generic.RoleCook, "cook-a")
	require.NoError(t, err)
	_, err = f.respond(t, "o-1", generic.RoleCook, "cook-a", true)
	require.NoError(t, err)

	res, err = f.engine.CancelAssignment(ctx, allocation.CancelRequest{OrderID: "o-1", Role: generic.RoleCook, Reason: "cook fell ill"})
	require.NoError(t, err)
	assert.False(t, res.NoOp)
	assert.Equal(t, generic.SlotUnassigned, res.Slot.Status)
	require.Len(t, res.Recorded, 1)
	assert.Equal(t, generic.OutcomeCancelled, res.Recorded[0].Outcome)
	assert.Equal(t, generic.FulfillerID("cook-a"), res.Recorded[0].FulfillerID)

	// A cancelled cook was not a rejection; they can be offered again.
	_, err = f.assign(t, "o-1", generic.RoleCook, "cook-a")
	assert.NoError(t, err)
}

func TestCancelAssignment_DeliveredOrder_Conflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.assign(t, "o-1", generic.RoleDelivery, "rider-1")
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateOrderStatus(ctx, "o-1", generic.OrderDelivered))

	_, err = f.engine.CancelAssignment(ctx, allocation.CancelRequest{OrderID: "o-1", Role: generic.RoleDelivery})
	assert.ErrorIs(t, err, generic.ErrConflict)
}

func TestCancelAssignment_StaleVersion_Conflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.assign(t, "o-1", generic.RoleCook, "cook-a")
	require.NoError(t, err)
	seen := res.Slot.Version

	_, err = f.respond(t, "o-1", generic.RoleCook, "cook-a", true)
	require.NoError(t, err)

	_, err = f.engine.CancelAssignment(ctx, allocation.CancelRequest{OrderID: "o-1", Role: generic.RoleCook, ExpectedVersion: &seen})
	assert.ErrorIs(t, err, generic.ErrConflict)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
}

func TestReassign_Atomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.assign(t, "o-1", generic.RoleCook, "cook-a")
	require.NoError(t, err)

	// GIVEN: Reassign to an inactive cook
	// THEN: Fails and cook-a still holds the slot
	_, err = f.engine.Reassign(ctx, allocation.ReassignRequest{OrderID: "o-1", Role: generic.RoleCook, FulfillerID: "cook-off"})
	assert.ErrorIs(t, err, generic.ErrConflict)
	order, err := f.store.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.True(t, order.Slot(generic.RoleCook).HeldBy("cook-a"))

	res, err := f.engine.Reassign(ctx, allocation.ReassignRequest{OrderID: "o-1", Role: generic.RoleCook, FulfillerID: "cook-b"})
	require.NoError(t, err)
	assert.True(t, res.Slot.HeldBy("cook-b"))
	assert.Equal(t, generic.SlotPending, res.Slot.Status)
	require.Len(t, res.Recorded, 2)
	assert.Equal(t, generic.OutcomeCancelled, res.Recorded[0].Outcome)
	assert.Equal(t, generic.OutcomeOffered, res.Recorded[1].Outcome)

	_, err = f.engine.Reassign(ctx, allocation.ReassignRequest{OrderID: "o-1", Role: generic.RoleCook, FulfillerID: "cook-b"})
	assert.ErrorIs(t, err, generic.ErrConflict, "already held by cook-b")
}

// =============================================================================
// CANCEL ORDER
// =============================================================================

func TestCancelOrder_ReleasesBothSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.assign(t, "o-1", generic.RoleCook, "cook-a")
	require.NoError(t, err)
	_, err = f.assign(t, "o-1", generic.RoleDelivery, "rider-1")
	require.NoError(t, err)

	res, err := f.engine.CancelOrder(ctx, allocation.CancelOrderRequest{OrderID: "o-1"})
	require.NoError(t, err)
	assert.Equal(t, generic.OrderCancelled, res.Order.Status)
	assert.Len(t, res.Recorded, 2)
	for _, role := range generic.Roles {
		assert.Equal(t, generic.SlotUnassigned, res.Order.Slot(role).Status)
	}

	// Replay is a no-op.
	res, err = f.engine.CancelOrder(ctx, allocation.CancelOrderRequest{OrderID: "o-1"})
	require.NoError(t, err)
	assert.True(t, res.NoOp)
}

func TestCancelOrder_Delivered_Conflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpdateOrderStatus(ctx, "o-1", generic.OrderDelivered))

	_, err := f.engine.CancelOrder(ctx, allocation.CancelOrderRequest{OrderID: "o-1"})
	assert.ErrorIs(t, err, generic.ErrConflict)
}

func TestCancelOrder_ExpectedStatusMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpdateOrderStatus(ctx, "o-1", generic.OrderPreparing))

	_, err := f.engine.CancelOrder(ctx, allocation.CancelOrderRequest{OrderID: "o-1", ExpectedStatus: generic.OrderConfirmed})
	assert.ErrorIs(t, err, generic.ErrConflict)

	order, err := f.store.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, generic.OrderPreparing, order.Status)
}

func TestAdvanceOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.AdvanceOrder(ctx, "o-1", generic.OrderReady)
	require.NoError(t, err)
	assert.Equal(t, generic.OrderReady, res.Order.Status)
	assert.False(t, res.NoOp)

	res, err = f.engine.AdvanceOrder(ctx, "o-1", generic.OrderReady)
	require.NoError(t, err)
	assert.True(t, res.NoOp)

	_, err = f.engine.AdvanceOrder(ctx, "o-1", generic.OrderDelivered)
	assert.ErrorIs(t, err, generic.ErrValidation, "delivery has its own operation")

	_, err = f.engine.AdvanceOrder(ctx, "o-1", "shipped")
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = f.engine.CancelOrder(ctx, allocation.CancelOrderRequest{OrderID: "o-2"})
	require.NoError(t, err)
	_, err = f.engine.AdvanceOrder(ctx, "o-2", generic.OrderPreparing)
	assert.ErrorIs(t, err, generic.ErrConflict, "cancelled orders stay cancelled")
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

func TestListEligible_SortedAndFiltered(t *testing.T) {
	f := newFixture(t)

	list, err := f.engine.ListEligible(context.Background(), "o-1", generic.RoleCook)
	require.NoError(t, err)

	var ids []generic.FulfillerID
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	// cook-home serves homemade only; cook-off inactive; cook-busy unavailable.
	assert.Equal(t, []generic.FulfillerID{"cook-b", "cook-a", "cook-c"}, ids)
}

func TestListEligible_ExcludesRejecters(t *testing.T) {
	f := newFixture(t)
	_, err := f.assign(t, "o-1", generic.RoleCook, "cook-b")
	require.NoError(t, err)
	_, err = f.respond(t, "o-1", generic.RoleCook, "cook-b", false)
	require.NoError(t, err)

	list, err := f.engine.ListEligible(context.Background(), "o-1", generic.RoleCook)
	require.NoError(t, err)
	for _, c := range list {
		assert.NotEqual(t, generic.FulfillerID("cook-b"), c.ID)
	}

	// Other orders are unaffected.
	list, err = f.engine.ListEligible(context.Background(), "o-2", generic.RoleCook)
	require.NoError(t, err)
	assert.Equal(t, generic.FulfillerID("cook-b"), list[0].ID)
}

// =============================================================================
// SWEEP
// =============================================================================

func TestSweepExpired(t *testing.T) {
	// GIVEN: o-1 offered at 10:00, o-2 offered at 10:10 and accepted
	// WHEN: Sweeping at 10:16 with a 15 minute window
	// THEN: Only o-1 is released, recorded as an implicit rejection

	f := newFixture(t)
	ctx := context.Background()
	_, err := f.assign(t, "o-1", generic.RoleCook, "cook-a")
	require.NoError(t, err)
	f.advance(10 * time.Minute)
	_, err = f.assign(t, "o-2", generic.RoleCook, "cook-b")
	require.NoError(t, err)
	_, err = f.respond(t, "o-2", generic.RoleCook, "cook-b", true)
	require.NoError(t, err)

	f.advance(6 * time.Minute)
	released, err := f.engine.SweepExpired(ctx, generic.RoleCook, 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, generic.OrderID("o-1"), released[0].OrderID)
	assert.Equal(t, generic.OutcomeRejected, released[0].Outcome)
	assert.Equal(t, allocation.ReasonWindowElapsed, released[0].Reason)

	order, err := f.store.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, generic.SlotUnassigned, order.Slot(generic.RoleCook).Status)

	// Second sweep finds nothing.
	released, err = f.engine.SweepExpired(ctx, generic.RoleCook, 15*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, released)
}

func TestSweepExpired_SkipsTerminalOrders(t *testing.T) {
	// GIVEN: o-1 has a pending cook offer and is then marked delivered
	// WHEN: Sweeping after the window elapsed
	// THEN: Nothing is released and no rejection is recorded after delivery

	f := newFixture(t)
	ctx := context.Background()
	_, err := f.assign(t, "o-1", generic.RoleCook, "cook-a")
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateOrderStatus(ctx, "o-1", generic.OrderDelivered))

	f.advance(20 * time.Minute)
	released, err := f.engine.SweepExpired(ctx, generic.RoleCook, 15*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, released)

	order, err := f.store.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, generic.SlotPending, order.Slot(generic.RoleCook).Status)

	history, err := f.engine.History(ctx, "o-1", generic.RoleCook)
	require.NoError(t, err)
	for _, row := range history {
		assert.NotEqual(t, generic.OutcomeRejected, row.Outcome)
	}
}

// =============================================================================
// TWO-PHASE CONFIRMATION
// =============================================================================

func TestPlanExecute_CancelAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.assign(t, "o-1", generic.RoleCook, "cook-a")
	require.NoError(t, err)

	intent, err := f.engine.PlanCancelAssignment(ctx, "o-1", generic.RoleCook, "")
	require.NoError(t, err)
	assert.Contains(t, intent.Effect, "cook-a")

	res, _, err := f.engine.Execute(ctx, intent)
	require.NoError(t, err)
	assert.Equal(t, generic.SlotUnassigned, res.Slot.Status)
}

func TestPlanExecute_StateChangedInBetween_Conflict(t *testing.T) {
	// GIVEN: An admin plans to cancel cook-a's pending offer
	// WHEN: cook-a accepts before the admin confirms
	// THEN: Executing the plan is a conflict and cook-a keeps the order

	f := newFixture(t)
	ctx := context.Background()
	_, err := f.assign(t, "o-1", generic.RoleCook, "cook-a")
	require.NoError(t, err)

	intent, err := f.engine.PlanCancelAssignment(ctx, "o-1", generic.RoleCook, "")
	require.NoError(t, err)

	_, err = f.respond(t, "o-1", generic.RoleCook, "cook-a", true)
	require.NoError(t, err)

	_, _, err = f.engine.Execute(ctx, intent)
	assert.ErrorIs(t, err, generic.ErrConflict)

	order, err := f.store.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, generic.SlotAccepted, order.Slot(generic.RoleCook).Status)
}

func TestPlanExecute_CancelOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	intent, err := f.engine.PlanCancelOrder(ctx, "o-2", "customer request")
	require.NoError(t, err)
	assert.Equal(t, confirm.ActionCancelOrder, intent.Action)

	_, orderRes, err := f.engine.Execute(ctx, intent)
	require.NoError(t, err)
	require.NotNil(t, orderRes)
	assert.Equal(t, generic.OrderCancelled, orderRes.Order.Status)
}

func TestPlanReassign_RejectsWrongRole(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.PlanReassign(context.Background(), "o-1", generic.RoleCook, "rider-1", "")
	assert.ErrorIs(t, err, generic.ErrValidation)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestAssign_ConcurrentAdmins_ExactlyOneWins(t *testing.T) {
	stores := map[string]func(t *testing.T) generic.TxStore{
		"memory": func(*testing.T) generic.TxStore { return store.NewTxMemory() },
		"sqlite": newSQLiteStore,
	}
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			f := newFixtureWith(t, mk(t))
			cooks := []generic.FulfillerID{"cook-a", "cook-b", "cook-c"}

			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				wins     int
				conflict int
			)
			for i := 0; i < 30; i++ {
				wg.Add(1)
				go func(who generic.FulfillerID) {
					defer wg.Done()
					_, err := f.engine.Assign(context.Background(), allocation.AssignRequest{
						OrderID: "o-1", Role: generic.RoleCook, FulfillerID: who,
					})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						wins++
					case generic.IsConflict(err):
						conflict++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}(cooks[i%len(cooks)])
			}
			wg.Wait()

			assert.Equal(t, 1, wins)
			assert.Equal(t, 29, conflict)

			rows, err := f.engine.History(context.Background(), "o-1", generic.RoleCook)
			require.NoError(t, err)
			assert.Len(t, rows, 1, fmt.Sprintf("%s: one offer recorded", name))
		})
	}
}
