/*
handlers_test.go - HTTP tests for the API handlers

Tests drive the router with httptest against the in-memory store seeded
with the demo marketplace. They cover:
- Pricing quotes and overrides
- Order placement and the allocation endpoints
- Two-phase confirmation
- Delivery completion, wallets and commissions
- Reports, scenarios, sweeps, rate limiting and store retries
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fulfillment-engine/generic"
	"github.com/warp/fulfillment-engine/generic/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var t0 = time.Date(2025, 8, 29, 18, 0, 0, 0, time.UTC)

type testServer struct {
	h      *Handler
	router http.Handler
	now    time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{now: t0}

	h, err := NewHandler(store.NewTxMemory(), Options{
		ConfirmSecret: "test-secret",
		Now:           func() time.Time { return ts.now },
		Retry:         RetryPolicy{MaxTries: 1},
	})
	require.NoError(t, err)
	router, err := NewRouter(h, RouterOptions{})
	require.NoError(t, err)

	require.NoError(t, loadDemoMarketplace(context.Background(), h))
	ts.h, ts.router = h, router
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
}

// =============================================================================
// PRICING
// =============================================================================

func TestGetQuote(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/items/biryani/quote?fulfiller_id=cook-meena", nil)
	requireStatus(t, rec, http.StatusOK)
	q := decodeAs[QuoteDTO](t, rec)

	assert.Equal(t, "150.00", q.BasePrice.String())
	assert.Equal(t, "15.00", q.Margin.String())
	assert.Equal(t, "165.00", q.CustomerPrice.String())
	assert.Equal(t, "140.00", q.DisplayPrice.String(), "Meena sees her own price")
	assert.True(t, q.HasOverride)

	rec = ts.do(t, http.MethodGet, "/api/items/biryani/quote", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, "150.00", decodeAs[QuoteDTO](t, rec).DisplayPrice.String())

	rec = ts.do(t, http.MethodGet, "/api/items/kappa/quote", nil)
	requireStatus(t, rec, http.StatusNotFound)
}

func TestSetOverride_PriceEqualToBaseClearsIt(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPut, "/api/fulfillers/cook-meena/overrides/biryani", OverrideRequest{Price: generic.MustParseMoney("150")})
	requireStatus(t, rec, http.StatusOK)
	res := decodeAs[OverrideDTO](t, rec)
	assert.False(t, res.Stored)
	assert.Equal(t, "150.00", res.DisplayPrice.String())

	rec = ts.do(t, http.MethodGet, "/api/items/biryani/quote?fulfiller_id=cook-meena", nil)
	assert.False(t, decodeAs[QuoteDTO](t, rec).HasOverride)

	rec = ts.do(t, http.MethodPut, "/api/fulfillers/cook-meena/overrides/biryani", OverrideRequest{Price: generic.MustParseMoney("-1")})
	requireStatus(t, rec, http.StatusBadRequest)
}

// =============================================================================
// ORDERS & ALLOCATION
// =============================================================================

func TestCreateOrder_SnapshotsCustomerPrices(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/orders", CreateOrderRequest{
		ID:          "o-web-1",
		CustomerID:  "cust-new",
		ServiceType: "cloud_kitchen",
		Items:       []LineRequest{{ItemID: "biryani", Quantity: 2}},
	})
	requireStatus(t, rec, http.StatusCreated)
	order := decodeAs[OrderDTO](t, rec)

	assert.Equal(t, "pending", order.Status)
	assert.Equal(t, "330.00", order.TotalAmount.String())
	assert.Equal(t, "ORD-OWEB1", order.OrderNumber)
	assert.Equal(t, "unassigned", order.Slots["cook"].Status)
	assert.Equal(t, "unassigned", order.Slots["delivery"].Status)

	// Same ID again is a conflict
	rec = ts.do(t, http.MethodPost, "/api/orders", CreateOrderRequest{
		ID: "o-web-1", CustomerID: "cust-new", ServiceType: "cloud_kitchen",
		Items: []LineRequest{{ItemID: "biryani", Quantity: 1}},
	})
	requireStatus(t, rec, http.StatusConflict)
}

func TestCreateOrder_Invalid(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		req    CreateOrderRequest
		status int
	}{
		{"unknown service type", CreateOrderRequest{CustomerID: "c", ServiceType: "takeaway", Items: []LineRequest{{ItemID: "biryani", Quantity: 1}}}, http.StatusBadRequest},
		{"no customer", CreateOrderRequest{ServiceType: "homemade", Items: []LineRequest{{ItemID: "biryani", Quantity: 1}}}, http.StatusBadRequest},
		{"no items", CreateOrderRequest{CustomerID: "c", ServiceType: "homemade"}, http.StatusBadRequest},
		{"unknown item", CreateOrderRequest{CustomerID: "c", ServiceType: "homemade", Items: []LineRequest{{ItemID: "kappa", Quantity: 1}}}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/orders", tt.req)
			requireStatus(t, rec, tt.status)
		})
	}
}

func TestAssignAndRespond(t *testing.T) {
	// GIVEN: o-1001 waiting for a cook
	// WHEN: Meena is offered the order, Joseph is offered it too, Meena accepts
	// THEN: Joseph's offer conflicts and the order shows Meena accepted

	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/orders/o-1001/slots/cook/assign", AssignSlotRequest{FulfillerID: "cook-meena"})
	requireStatus(t, rec, http.StatusOK)
	res := decodeAs[SlotResultDTO](t, rec)
	assert.Equal(t, "pending", res.Slot.Status)
	require.Len(t, res.Recorded, 1)
	assert.Equal(t, "offered", res.Recorded[0].Outcome)

	rec = ts.do(t, http.MethodPost, "/api/orders/o-1001/slots/cook/assign", AssignSlotRequest{FulfillerID: "cook-joseph"})
	requireStatus(t, rec, http.StatusConflict)
	assert.Equal(t, "conflict", decodeAs[ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/api/orders/o-1001/slots/cook/respond", RespondSlotRequest{FulfillerID: "cook-meena", Accept: true})
	requireStatus(t, rec, http.StatusOK)

	rec = ts.do(t, http.MethodGet, "/api/orders/o-1001", nil)
	requireStatus(t, rec, http.StatusOK)
	order := decodeAs[OrderDTO](t, rec)
	assert.Equal(t, "accepted", order.Slots["cook"].Status)
	require.NotNil(t, order.Slots["cook"].FulfillerID)
	assert.Equal(t, "cook-meena", *order.Slots["cook"].FulfillerID)
	assert.Equal(t, "unassigned", order.Slots["delivery"].Status)

	rec = ts.do(t, http.MethodGet, "/api/orders/o-1001/history?role=cook", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Len(t, decodeAs[[]AssignmentDTO](t, rec), 2)
}

func TestSlotRoutes_InvalidRole(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/orders/o-1001/slots/waiter/assign", AssignSlotRequest{FulfillerID: "cook-meena"})
	requireStatus(t, rec, http.StatusBadRequest)
	assert.Equal(t, "validation", decodeAs[ErrorResponse](t, rec).Code)
}

func TestListEligible(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/orders/o-1001/slots/cook/eligible", nil)
	requireStatus(t, rec, http.StatusOK)
	cooks := decodeAs[[]FulfillerDTO](t, rec)

	ids := make([]string, len(cooks))
	for i, c := range cooks {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"cook-meena", "cook-joseph"}, ids, "cloud kitchen cooks, best rated first")
}

func TestUpdateOrderStatus(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/orders/o-1001/status", StatusRequest{Status: "preparing"})
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, "preparing", decodeAs[OrderResultDTO](t, rec).Order.Status)

	rec = ts.do(t, http.MethodPost, "/api/orders/o-1001/status", StatusRequest{Status: "delivered"})
	requireStatus(t, rec, http.StatusBadRequest)
}

// =============================================================================
// TWO-PHASE CONFIRMATION
// =============================================================================

func TestCancelAssignment_RequiresConfirmation(t *testing.T) {
	// GIVEN: Meena holds the o-1001 cook slot
	// WHEN: An admin asks to release it
	// THEN: Nothing changes until the token is confirmed, and the token
	//       cannot be used twice

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/orders/o-1001/slots/cook/assign", AssignSlotRequest{FulfillerID: "cook-meena"})
	requireStatus(t, rec, http.StatusOK)

	rec = ts.do(t, http.MethodPost, "/api/orders/o-1001/slots/cook/cancel", ReasonRequest{Reason: "cook fell ill"})
	requireStatus(t, rec, http.StatusAccepted)
	plan := decodeAs[ConfirmationDTO](t, rec)
	assert.Equal(t, "cancel_assignment", plan.Action)
	assert.Contains(t, plan.Effect, "cook-meena")
	require.NotEmpty(t, plan.Token)

	rec = ts.do(t, http.MethodGet, "/api/orders/o-1001", nil)
	assert.Equal(t, "pending", decodeAs[OrderDTO](t, rec).Slots["cook"].Status, "planning changes nothing")

	rec = ts.do(t, http.MethodPost, "/api/confirmations", ConfirmRequest{Token: plan.Token})
	requireStatus(t, rec, http.StatusOK)
	resp := decodeAs[ConfirmResponse](t, rec)
	require.NotNil(t, resp.Slot)
	assert.Equal(t, "unassigned", resp.Slot.Slot.Status)
	require.Len(t, resp.Slot.Recorded, 1)
	assert.Equal(t, "cook fell ill", resp.Slot.Recorded[0].Reason)

	rec = ts.do(t, http.MethodPost, "/api/confirmations", ConfirmRequest{Token: plan.Token})
	requireStatus(t, rec, http.StatusConflict)
	assert.Equal(t, "stale", decodeAs[ErrorResponse](t, rec).Code)
}

func TestReassign_ViaConfirmation(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/orders/o-1001/slots/cook/assign", AssignSlotRequest{FulfillerID: "cook-meena"})
	requireStatus(t, rec, http.StatusOK)

	rec = ts.do(t, http.MethodPost, "/api/orders/o-1001/slots/cook/reassign", ReassignSlotRequest{FulfillerID: "cook-joseph"})
	requireStatus(t, rec, http.StatusAccepted)
	plan := decodeAs[ConfirmationDTO](t, rec)

	rec = ts.do(t, http.MethodPost, "/api/confirmations", ConfirmRequest{Token: plan.Token})
	requireStatus(t, rec, http.StatusOK)
	resp := decodeAs[ConfirmResponse](t, rec)
	require.NotNil(t, resp.Slot)
	require.NotNil(t, resp.Slot.Slot.FulfillerID)
	assert.Equal(t, "cook-joseph", *resp.Slot.Slot.FulfillerID)
	assert.Equal(t, "pending", resp.Slot.Slot.Status)
}

func TestCancelOrder_ViaConfirmation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/orders/o-1002/cancel", nil)
	requireStatus(t, rec, http.StatusAccepted)
	plan := decodeAs[ConfirmationDTO](t, rec)
	assert.Equal(t, "cancel_order", plan.Action)

	rec = ts.do(t, http.MethodPost, "/api/confirmations", ConfirmRequest{Token: plan.Token})
	requireStatus(t, rec, http.StatusOK)
	resp := decodeAs[ConfirmResponse](t, rec)
	require.NotNil(t, resp.Order)
	assert.Equal(t, "cancelled", resp.Order.Order.Status)
}

func TestConfirmation_InvalidOrExpiredToken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/confirmations", ConfirmRequest{Token: "not-a-token"})
	requireStatus(t, rec, http.StatusBadRequest)

	rec = ts.do(t, http.MethodPost, "/api/orders/o-1002/cancel", nil)
	requireStatus(t, rec, http.StatusAccepted)
	plan := decodeAs[ConfirmationDTO](t, rec)

	ts.now = ts.now.Add(10 * time.Minute)
	rec = ts.do(t, http.MethodPost, "/api/confirmations", ConfirmRequest{Token: plan.Token})
	requireStatus(t, rec, http.StatusBadRequest)

	rec = ts.do(t, http.MethodGet, "/api/orders/o-1002", nil)
	assert.Equal(t, "confirmed", decodeAs[OrderDTO](t, rec).Status, "expired token changes nothing")
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func loadRush(t *testing.T, ts *testServer) {
	t.Helper()
	require.NoError(t, ts.h.reset(context.Background()))
	require.NoError(t, loadEveningRush(context.Background(), ts.h))
}

func TestCompleteDelivery_CreditsWalletAndReferral(t *testing.T) {
	ts := newTestServer(t)
	loadRush(t, ts)

	rec := ts.do(t, http.MethodGet, "/api/wallets/rider-ravi", nil)
	requireStatus(t, rec, http.StatusOK)
	wallet := decodeAs[WalletDTO](t, rec)
	assert.Equal(t, "410.00", wallet.Collected.String())
	assert.Equal(t, "40.00", wallet.Earnings.String())
	assert.Equal(t, "450.00", wallet.Pending.String())

	rec = ts.do(t, http.MethodGet, "/api/commissions?referrer_id=ref-asha", nil)
	requireStatus(t, rec, http.StatusOK)
	commissions := decodeAs[[]CommissionDTO](t, rec)
	require.Len(t, commissions, 1)
	assert.Equal(t, "20.50", commissions[0].Amount.String(), "5% of 410.00")
	assert.Equal(t, "pending", commissions[0].Status)

	// Redelivered completion event: nothing moves
	rec = ts.do(t, http.MethodPost, "/api/orders/o-1001/complete", CompleteDeliveryRequest{
		StaffID: "rider-ravi", Collected: generic.MustParseMoney("410"), Earnings: generic.MustParseMoney("40"),
	})
	requireStatus(t, rec, http.StatusOK)
	completion := decodeAs[CompletionDTO](t, rec)
	assert.True(t, completion.Replayed)
	assert.Equal(t, "450.00", completion.Wallet.Wallet.Pending.String())
	require.NotNil(t, completion.Commission)

	rec = ts.do(t, http.MethodGet, "/api/wallets/rider-ravi/entries", nil)
	assert.Len(t, decodeAs[[]WalletEntryDTO](t, rec), 1)

	rec = ts.do(t, http.MethodGet, "/api/wallets/rider-ravi/verify", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, 1, decodeAs[WalletCheckDTO](t, rec).Entries)
}

func TestCompleteDelivery_CancelledOrder_Conflict(t *testing.T) {
	ts := newTestServer(t)
	loadRush(t, ts)

	rec := ts.do(t, http.MethodPost, "/api/orders/o-1004/complete", CompleteDeliveryRequest{
		StaffID: "rider-anu", Collected: generic.MustParseMoney("165"), Earnings: generic.MustParseMoney("30"),
	})
	requireStatus(t, rec, http.StatusConflict)

	rec = ts.do(t, http.MethodGet, "/api/wallets/rider-anu", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.True(t, decodeAs[WalletDTO](t, rec).Pending.IsZero())
}

func TestSettle_CannotExceedPending(t *testing.T) {
	// GIVEN: Ravi's wallet has 450.00 pending
	// WHEN: Settling 450.01, then 450.00
	// THEN: The first is refused with the shortfall, the second empties the wallet

	ts := newTestServer(t)
	loadRush(t, ts)

	rec := ts.do(t, http.MethodPost, "/api/wallets/rider-ravi/settlements", SettleRequest{Amount: generic.MustParseMoney("450.01")})
	requireStatus(t, rec, http.StatusConflict)
	body := decodeAs[ErrorResponse](t, rec)
	assert.Equal(t, "insufficient_balance", body.Code)
	require.NotNil(t, body.Shortfall)
	assert.Equal(t, "0.01", body.Shortfall.String())

	rec = ts.do(t, http.MethodPost, "/api/wallets/rider-ravi/settlements", SettleRequest{Amount: generic.MustParseMoney("450.00")})
	requireStatus(t, rec, http.StatusCreated)
	res := decodeAs[WalletResultDTO](t, rec)
	assert.True(t, res.Wallet.Pending.IsZero())
	assert.Equal(t, "450.00", res.Wallet.Settled.String())
}

func TestSettle_IdempotencyKeyReplays(t *testing.T) {
	ts := newTestServer(t)
	loadRush(t, ts)

	req := SettleRequest{Amount: generic.MustParseMoney("100"), IdempotencyKey: "payout-0829-ravi"}
	rec := ts.do(t, http.MethodPost, "/api/wallets/rider-ravi/settlements", req)
	requireStatus(t, rec, http.StatusCreated)

	rec = ts.do(t, http.MethodPost, "/api/wallets/rider-ravi/settlements", req)
	requireStatus(t, rec, http.StatusOK)
	res := decodeAs[WalletResultDTO](t, rec)
	assert.True(t, res.Replayed)
	assert.Equal(t, "350.00", res.Wallet.Pending.String())

	req.Amount = generic.MustParseMoney("200")
	rec = ts.do(t, http.MethodPost, "/api/wallets/rider-ravi/settlements", req)
	requireStatus(t, rec, http.StatusConflict)
	assert.Equal(t, "duplicate_idempotency_key", decodeAs[ErrorResponse](t, rec).Code)
}

func TestPostCollection(t *testing.T) {
	// GIVEN: o-1002 is still waiting for a cook
	// WHEN: A rider posts a collection for it
	// THEN: It is refused; money only moves for delivered orders

	ts := newTestServer(t)

	early := CollectionRequest{OrderID: "o-1002", Collected: generic.MustParseMoney("315"), Earnings: generic.MustParseMoney("35")}
	rec := ts.do(t, http.MethodPost, "/api/wallets/rider-anu/collections", early)
	requireStatus(t, rec, http.StatusConflict)

	rec = ts.do(t, http.MethodGet, "/api/wallets/rider-anu", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.True(t, decodeAs[WalletDTO](t, rec).Pending.IsZero())

	// GIVEN: o-1001 was delivered and credited by Ravi
	loadRush(t, ts)
	delivered := CollectionRequest{OrderID: "o-1001", Collected: generic.MustParseMoney("410"), Earnings: generic.MustParseMoney("40")}

	rec = ts.do(t, http.MethodPost, "/api/wallets/rider-ravi/collections", delivered)
	requireStatus(t, rec, http.StatusOK)
	replay := decodeAs[WalletResultDTO](t, rec)
	assert.True(t, replay.Replayed)
	assert.Equal(t, "450.00", replay.Wallet.Pending.String())

	rec = ts.do(t, http.MethodPost, "/api/wallets/rider-anu/collections", delivered)
	requireStatus(t, rec, http.StatusConflict)

	rec = ts.do(t, http.MethodPost, "/api/wallets/cook-meena/collections", delivered)
	requireStatus(t, rec, http.StatusBadRequest)
}

func TestCreateCommission_DuplicateReturnsExisting(t *testing.T) {
	ts := newTestServer(t)
	loadRush(t, ts)

	rec := ts.do(t, http.MethodPost, "/api/commissions", CreateCommissionRequest{OrderID: "o-1001", ReferrerID: "ref-asha"})
	requireStatus(t, rec, http.StatusConflict)
	var body struct {
		Code     string        `json:"code"`
		Existing CommissionDTO `json:"existing"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "duplicate_commission", body.Code)
	assert.Equal(t, "20.50", body.Existing.Amount.String())

	rec = ts.do(t, http.MethodPost, "/api/commissions/"+body.Existing.ID+"/status", StatusRequest{Status: "paid"})
	requireStatus(t, rec, http.StatusConflict)

	rec = ts.do(t, http.MethodPost, "/api/commissions/"+body.Existing.ID+"/status", StatusRequest{Status: "approved"})
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, "approved", decodeAs[CommissionDTO](t, rec).Status)

	// o-1002 is not delivered yet
	rec = ts.do(t, http.MethodPost, "/api/commissions", CreateCommissionRequest{OrderID: "o-1002", ReferrerID: "ref-asha"})
	requireStatus(t, rec, http.StatusConflict)
	assert.Equal(t, "conflict", decodeAs[ErrorResponse](t, rec).Code)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestSalesReport(t *testing.T) {
	ts := newTestServer(t)
	loadRush(t, ts)

	rec := ts.do(t, http.MethodGet, "/api/reports/sales", nil)
	requireStatus(t, rec, http.StatusOK)
	report := decodeAs[SalesReportDTO](t, rec)

	assert.Equal(t, 4, report.TotalOrders)
	assert.Equal(t, 1, report.ByStatus["delivered"])
	assert.Equal(t, 1, report.ByStatus["cancelled"])
	assert.Equal(t, "410.00", report.Revenue.String(), "only delivered orders count")
	assert.Equal(t, "410.00", report.AverageOrderValue.String())

	rec = ts.do(t, http.MethodGet, "/api/reports/sales?service_type=homemade", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, 1, decodeAs[SalesReportDTO](t, rec).TotalOrders)

	rec = ts.do(t, http.MethodGet, "/api/reports/sales?from=2025-08-29&to=2025-08-29", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, 4, decodeAs[SalesReportDTO](t, rec).TotalOrders, "a bare to date covers the whole day")

	rec = ts.do(t, http.MethodGet, "/api/reports/sales?days=7", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, 4, decodeAs[SalesReportDTO](t, rec).TotalOrders)

	// WHEN: the clock moves past the window
	ts.now = ts.now.AddDate(0, 0, 10)
	rec = ts.do(t, http.MethodGet, "/api/reports/sales?days=7", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, 0, decodeAs[SalesReportDTO](t, rec).TotalOrders)
}

func TestReports_InvalidFilter(t *testing.T) {
	ts := newTestServer(t)

	for _, q := range []string{
		"from=2025-09-01&to=2025-08-01",
		"from=yesterday",
		"days=-1",
		"service_type=takeaway",
	} {
		rec := ts.do(t, http.MethodGet, "/api/reports/sales?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestDeliveryAndReferralReports(t *testing.T) {
	ts := newTestServer(t)
	loadRush(t, ts)

	rec := ts.do(t, http.MethodGet, "/api/reports/delivery", nil)
	requireStatus(t, rec, http.StatusOK)
	delivery := decodeAs[DeliverySettlementDTO](t, rec)
	require.NotEmpty(t, delivery.Staff)
	assert.Equal(t, "rider-ravi", delivery.Staff[0].StaffID)
	assert.Equal(t, "450.00", delivery.Totals.Pending.String())

	rec = ts.do(t, http.MethodGet, "/api/reports/referrals", nil)
	requireStatus(t, rec, http.StatusOK)
	referrals := decodeAs[[]ReferrerSummaryDTO](t, rec)
	require.NotEmpty(t, referrals)
	assert.Equal(t, "ref-asha", referrals[0].ReferrerID)
	assert.Equal(t, "20.50", referrals[0].Pending.String())
	assert.True(t, referrals[0].Paid.IsZero())

	rec = ts.do(t, http.MethodGet, "/api/reports/cooks", nil)
	requireStatus(t, rec, http.StatusOK)
	cooks := decodeAs[[]CookPerformanceDTO](t, rec)
	require.NotEmpty(t, cooks)
	assert.Equal(t, "cook-meena", cooks[0].CookID)
	assert.Equal(t, 1, cooks[0].Completed)
}

// =============================================================================
// SCENARIOS, SWEEPS, MIDDLEWARE
// =============================================================================

func TestLoadScenario(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "referral-payout"})
	requireStatus(t, rec, http.StatusOK)

	rec = ts.do(t, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "referral-payout", decodeAs[ScenarioDTO](t, rec).ID)

	rec = ts.do(t, http.MethodGet, "/api/wallets/rider-ravi", nil)
	assert.Equal(t, "150.00", decodeAs[WalletDTO](t, rec).Pending.String())

	rec = ts.do(t, http.MethodGet, "/api/commissions?status=paid", nil)
	assert.Len(t, decodeAs[[]CommissionDTO](t, rec), 1)

	rec = ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	requireStatus(t, rec, http.StatusBadRequest)

	rec = ts.do(t, http.MethodPost, "/api/scenarios/reset", nil)
	requireStatus(t, rec, http.StatusOK)
	rec = ts.do(t, http.MethodGet, "/api/orders", nil)
	assert.Empty(t, decodeAs[[]OrderDTO](t, rec))
}

func TestTriggerSweep_ReleasesExpiredOffers(t *testing.T) {
	ts := newTestServer(t)
	loadRush(t, ts)

	rec := ts.do(t, http.MethodPost, "/api/admin/sweep", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Empty(t, decodeAs[SweepResponse](t, rec).Released, "Latha's offer is still fresh")

	ts.now = ts.now.Add(20 * time.Minute)
	rec = ts.do(t, http.MethodPost, "/api/admin/sweep", SweepRequest{Role: "cook"})
	requireStatus(t, rec, http.StatusOK)
	released := decodeAs[SweepResponse](t, rec).Released
	require.Len(t, released, 1)
	assert.Equal(t, "o-1002", released[0].OrderID)
	assert.Equal(t, "cook-latha", released[0].FulfillerID)

	rec = ts.do(t, http.MethodPost, "/api/admin/sweep", SweepRequest{Window: "forever"})
	requireStatus(t, rec, http.StatusBadRequest)
}

func TestSweeper_RunNow(t *testing.T) {
	ts := newTestServer(t)
	loadRush(t, ts)

	sweeper := NewSweeper(ts.h)
	assert.Equal(t, DefaultResponseWindow, sweeper.Window)
	assert.Empty(t, sweeper.RunNow(context.Background()))

	ts.now = ts.now.Add(16 * time.Minute)
	assert.Len(t, sweeper.RunNow(context.Background()), 1)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t)
	router, err := NewRouter(ts.h, RouterOptions{RateLimit: "2-M"})
	require.NoError(t, err)
	ts.router = router

	requireStatus(t, ts.do(t, http.MethodGet, "/api/scenarios", nil), http.StatusOK)
	requireStatus(t, ts.do(t, http.MethodGet, "/api/scenarios", nil), http.StatusOK)
	requireStatus(t, ts.do(t, http.MethodGet, "/api/scenarios", nil), http.StatusTooManyRequests)

	_, err = NewRouter(ts.h, RouterOptions{RateLimit: "fast"})
	assert.Error(t, err)
}

// =============================================================================
// RETRY
// =============================================================================

func TestWithRetry(t *testing.T) {
	policy := RetryPolicy{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	busy := &generic.StoreError{Op: "save wallet", Err: errors.New("database is locked")}
	ambiguous := &generic.StoreError{Op: "commit", Err: errors.New("connection reset"), Ambiguous: true}
	ctx := context.Background()

	t.Run("transient failure then success", func(t *testing.T) {
		calls := 0
		v, err := withRetry(ctx, policy, notDedupSafe, func() (int, error) {
			calls++
			if calls < 3 {
				return 0, busy
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, v)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max tries", func(t *testing.T) {
		calls := 0
		_, err := withRetry(ctx, policy, dedupSafe, func() (int, error) {
			calls++
			return 0, busy
		})
		assert.True(t, generic.IsRetryable(err))
		assert.Equal(t, 3, calls)
	})

	t.Run("ambiguous commit only retried when dedup safe", func(t *testing.T) {
		calls := 0
		_, err := withRetry(ctx, policy, notDedupSafe, func() (int, error) {
			calls++
			return 0, ambiguous
		})
		assert.True(t, generic.IsAmbiguous(err))
		assert.Equal(t, 1, calls)

		calls = 0
		_, _ = withRetry(ctx, policy, dedupSafe, func() (int, error) {
			calls++
			return 0, ambiguous
		})
		assert.Equal(t, 3, calls)
	})

	t.Run("domain errors are not retried", func(t *testing.T) {
		calls := 0
		_, err := withRetry(ctx, policy, dedupSafe, func() (int, error) {
			calls++
			return 0, &generic.ValidationError{Field: "amount", Reason: "negative"}
		})
		assert.ErrorIs(t, err, generic.ErrValidation)
		assert.Equal(t, 1, calls)
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&generic.ValidationError{Field: "x", Reason: "y"}, http.StatusBadRequest},
		{generic.NotFound("order", "o-9"), http.StatusNotFound},
		{&generic.ConflictError{Resource: "slot", Reason: "taken"}, http.StatusConflict},
		{generic.ErrDuplicateCommission, http.StatusConflict},
		{&generic.InsufficientBalanceError{StaffID: "r"}, http.StatusConflict},
		{&generic.StoreError{Op: "get", Err: errors.New("down")}, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}
