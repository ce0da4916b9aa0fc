/*
handlers.go - HTTP API handlers for the fulfillment engine

PURPOSE:
  Exposes pricing, allocation, settlement and reporting via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to
  the engines. Handlers hold no business rules of their own.

ENDPOINTS:
  Catalog:
    POST   /api/catalog                               Import a marketplace JSON document
    GET    /api/items/{id}/quote?fulfiller_id=        Customer and fulfiller prices
    GET    /api/fulfillers?role=                      Directory listing
    PUT    /api/fulfillers/{id}/overrides/{itemID}    Set/clear a price override

  Orders:
    GET    /api/orders                                Filtered order list
    POST   /api/orders                                Place an order (prices snapshotted)
    GET    /api/orders/{id}                           Order with both slots
    POST   /api/orders/{id}/status                    Advance a live order
    GET    /api/orders/{id}/history?role=             Assignment history
    POST   /api/orders/{id}/complete                  Delivered + wallet + commission
    POST   /api/orders/{id}/cancel                    Plan order cancellation (token)
    GET    /api/orders/{id}/slots/{role}/eligible     Candidates, best first
    POST   /api/orders/{id}/slots/{role}/assign       Offer the slot
    POST   /api/orders/{id}/slots/{role}/respond      Accept/reject an offer
    POST   /api/orders/{id}/slots/{role}/cancel       Plan slot release (token)
    POST   /api/orders/{id}/slots/{role}/reassign     Plan reassignment (token)

  Confirmations:
    POST   /api/confirmations                         Execute a planned action

  Wallets:
    GET    /api/wallets/{staffID}                     Wallet + pending settlement
    GET    /api/wallets/{staffID}/entries             Append-only entry log
    GET    /api/wallets/{staffID}/verify              Rebuild totals from entries
    POST   /api/wallets/{staffID}/collections         Credit one delivered order
    POST   /api/wallets/{staffID}/settlements         Pay out part of pending

  Commissions:
    GET    /api/commissions?referrer_id=&order_id=&status=
    POST   /api/commissions
    POST   /api/commissions/{id}/status

  Reports (filters: from, to, panchayat_id, service_type):
    GET    /api/reports/sales | cooks | delivery | referrals

  Admin:
    POST   /api/admin/sweep                           Release expired offers

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: transactional persistence
  - Pricing, Alloc, Ledger, Reports: the engines
  - Confirm: signs the two-phase confirmation tokens
  - Factory: JSON to catalog conversion

REQUEST FLOW:
  1. Parse HTTP request
  2. Call the engine (wrapped in withRetry for writes)
  3. Serialize response
  4. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (state changed, duplicate, insufficient balance)
  - 503: Store unavailable after retries
  - 500: Internal errors

SECURITY NOTE:
  No authentication. Destructive slot/order actions require a signed
  confirmation token, which protects against accidental clicks, not
  against a hostile client.

SEE ALSO:
  - dto.go: Request/response data structures
  - retry.go: Store error retry policy
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/fulfillment-engine/allocation"
	"github.com/warp/fulfillment-engine/confirm"
	"github.com/warp/fulfillment-engine/factory"
	"github.com/warp/fulfillment-engine/generic"
	"github.com/warp/fulfillment-engine/pricing"
	"github.com/warp/fulfillment-engine/reports"
	"github.com/warp/fulfillment-engine/settlement"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   generic.TxStore
	Pricing *pricing.Service
	Alloc   *allocation.Engine
	Ledger  *settlement.Ledger
	Reports *reports.Aggregator
	Confirm *confirm.Issuer
	Factory *factory.CatalogFactory

	Retry          RetryPolicy
	ResponseWindow time.Duration

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// Options configures NewHandler. Zero values pick the package defaults,
// except ReferralPercent where nil means the default and zero disables
// automatic commissions.
type Options struct {
	ConfirmSecret   string
	ConfirmTTL      time.Duration
	ReferralPercent *decimal.Decimal
	ResponseWindow  time.Duration
	Retry           RetryPolicy
	Now             generic.Clock
}

// DefaultResponseWindow is how long a fulfiller has to answer an offer.
const DefaultResponseWindow = 15 * time.Minute

// NewHandler wires the engines over one store.
func NewHandler(store generic.TxStore, opts Options) (*Handler, error) {
	issuer, err := confirm.NewIssuer(opts.ConfirmSecret, opts.ConfirmTTL)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		Store:          store,
		Pricing:        pricing.NewService(store),
		Alloc:          allocation.NewEngine(store),
		Ledger:         settlement.NewLedger(store),
		Reports:        reports.NewAggregator(store),
		Confirm:        issuer,
		Factory:        factory.NewCatalogFactory(),
		Retry:          opts.Retry,
		ResponseWindow: opts.ResponseWindow,
	}
	if opts.ReferralPercent != nil {
		h.Ledger.ReferralPercent = *opts.ReferralPercent
	}
	if h.ResponseWindow <= 0 {
		h.ResponseWindow = DefaultResponseWindow
	}
	if opts.Now != nil {
		h.Pricing.Now = opts.Now
		h.Alloc.Now = opts.Now
		h.Ledger.Now = opts.Now
		h.Confirm.Now = opts.Now
		h.Factory.Now = opts.Now
	}
	return h, nil
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ImportCatalog loads a marketplace document (panchayats, items,
// fulfillers, overrides, referrers, orders) into the store.
func (h *Handler) ImportCatalog(w http.ResponseWriter, r *http.Request) {
	var req factory.CatalogJSON
	if !decode(w, r, &req) {
		return
	}

	catalog, err := h.Factory.FromJSON(req)
	if err != nil {
		writeDomainError(w, "Invalid catalog", err)
		return
	}
	if err := h.Factory.Load(r.Context(), h.Store, catalog); err != nil {
		writeDomainError(w, "Failed to import catalog", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]int{
		"panchayats": len(catalog.Panchayats),
		"items":      len(catalog.Items),
		"fulfillers": len(catalog.Fulfillers),
		"overrides":  len(catalog.Overrides),
		"referrers":  len(catalog.Referrers),
		"orders":     len(catalog.Orders),
	})
}

// GetQuote returns the customer price and, with ?fulfiller_id=, the
// price that fulfiller sees.
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	itemID := generic.ItemID(chi.URLParam(r, "id"))
	fulfillerID := generic.FulfillerID(r.URL.Query().Get("fulfiller_id"))

	quote, err := h.Pricing.Quote(r.Context(), itemID, fulfillerID)
	if err != nil {
		writeDomainError(w, "Failed to quote item", err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteDTO(quote))
}

// SetOverride stores a fulfiller's own price for an item.
func (h *Handler) SetOverride(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if !decode(w, r, &req) {
		return
	}
	fulfillerID := generic.FulfillerID(chi.URLParam(r, "id"))
	itemID := generic.ItemID(chi.URLParam(r, "itemID"))

	result, err := withRetry(r.Context(), h.Retry, dedupSafe, func() (pricing.OverrideResult, error) {
		return h.Pricing.SetOverride(r.Context(), fulfillerID, itemID, req.Price)
	})
	if err != nil {
		writeDomainError(w, "Failed to set override", err)
		return
	}
	writeJSON(w, http.StatusOK, toOverrideDTO(result))
}

// ListFulfillers returns the directory, optionally for one role.
func (h *Handler) ListFulfillers(w http.ResponseWriter, r *http.Request) {
	var role generic.Role
	if raw := r.URL.Query().Get("role"); raw != "" {
		parsed, err := generic.ParseRole(raw)
		if err != nil {
			writeDomainError(w, "Invalid role", err)
			return
		}
		role = parsed
	}

	fulfillers, err := h.Store.ListFulfillers(r.Context(), role)
	if err != nil {
		writeDomainError(w, "Failed to list fulfillers", err)
		return
	}
	dtos := make([]FulfillerDTO, len(fulfillers))
	for i, f := range fulfillers {
		dtos[i] = toFulfillerDTO(f)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// ListOrders returns the orders matching the report filter plus ?status=.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r, h.Alloc.Now.Now())
	if err != nil {
		writeDomainError(w, "Invalid filter", err)
		return
	}
	of := generic.OrderFilter{Range: filter.Range, PanchayatID: filter.PanchayatID, ServiceType: filter.ServiceType}
	if raw := r.URL.Query().Get("status"); raw != "" {
		of.Status = generic.OrderStatus(raw)
		if !of.Status.Valid() {
			writeError(w, http.StatusBadRequest, "Invalid status", fmt.Errorf("unknown order status %q", raw))
			return
		}
	}

	orders, err := h.Store.ListOrders(r.Context(), of)
	if err != nil {
		writeDomainError(w, "Failed to list orders", err)
		return
	}
	dtos := make([]OrderDTO, len(orders))
	for i, o := range orders {
		dtos[i] = toOrderDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateOrder places a pending order priced from the current catalog.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	serviceType := generic.ServiceType(req.ServiceType)
	if !serviceType.Valid() {
		writeDomainError(w, "Invalid order", &generic.ValidationError{Field: "service_type", Reason: fmt.Sprintf("unknown service type %q", req.ServiceType)})
		return
	}
	if req.CustomerID == "" {
		writeDomainError(w, "Invalid order", &generic.ValidationError{Field: "customer_id", Reason: "required"})
		return
	}
	if len(req.Items) == 0 {
		writeDomainError(w, "Invalid order", &generic.ValidationError{Field: "items", Reason: "order has no items"})
		return
	}

	lines := make([]pricing.Line, len(req.Items))
	for i, l := range req.Items {
		lines[i] = pricing.Line{ItemID: generic.ItemID(l.ItemID), Quantity: l.Quantity}
	}
	items, total, err := h.Pricing.PriceOrder(ctx, lines)
	if err != nil {
		writeDomainError(w, "Failed to price order", err)
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := h.Alloc.Now.Now()
	order := generic.Order{
		ID:          generic.OrderID(id),
		OrderNumber: orderNumber(id),
		CustomerID:  generic.UserID(req.CustomerID),
		Status:      generic.OrderPending,
		ServiceType: serviceType,
		TotalAmount: total,
		PanchayatID: optionalID[generic.PanchayatID](req.PanchayatID),
		WardNumber:  req.WardNumber,
		ReferredBy:  optionalID[generic.UserID](req.ReferredBy),
		Items:       items,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := withRetry(ctx, h.Retry, dedupSafe, func() (*generic.Order, error) {
		var saved *generic.Order
		err := h.Store.WithTx(ctx, func(tx generic.Store) error {
			if _, err := tx.GetOrder(ctx, order.ID); err == nil {
				return &generic.ConflictError{Resource: "order:" + string(order.ID), Reason: "order already exists"}
			} else if !generic.IsNotFound(err) {
				return err
			}
			if err := tx.SaveOrder(ctx, order); err != nil {
				return err
			}
			var err error
			saved, err = tx.GetOrder(ctx, order.ID)
			return err
		})
		return saved, err
	})
	if err != nil {
		writeDomainError(w, "Failed to create order", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderDTO(*created))
}

// GetOrder returns a single order with both assignment slots.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Store.GetOrder(r.Context(), orderParam(r))
	if err != nil {
		writeDomainError(w, "Failed to get order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(*order))
}

// UpdateOrderStatus advances a live order (pending to ready).
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !decode(w, r, &req) {
		return
	}
	id := orderParam(r)

	result, err := withRetry(r.Context(), h.Retry, dedupSafe, func() (allocation.OrderResult, error) {
		return h.Alloc.AdvanceOrder(r.Context(), id, generic.OrderStatus(req.Status))
	})
	if err != nil {
		writeDomainError(w, "Failed to update order status", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResultDTO(result))
}

// GetOrderHistory returns the assignment rows of an order.
func (h *Handler) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	role := generic.Role(r.URL.Query().Get("role"))
	history, err := h.Alloc.History(r.Context(), orderParam(r), role)
	if err != nil {
		writeDomainError(w, "Failed to get history", err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentDTOs(history))
}

// CompleteDelivery marks the order delivered and posts its ledger effects.
func (h *Handler) CompleteDelivery(w http.ResponseWriter, r *http.Request) {
	var req CompleteDeliveryRequest
	if !decode(w, r, &req) {
		return
	}
	completion := settlement.CompletionRequest{
		OrderID:   orderParam(r),
		StaffID:   generic.FulfillerID(req.StaffID),
		Collected: req.Collected,
		Earnings:  req.Earnings,
	}

	result, err := withRetry(r.Context(), h.Retry, dedupSafe, func() (settlement.CompletionResult, error) {
		return h.Ledger.CompleteDelivery(r.Context(), completion)
	})
	if err != nil {
		writeDomainError(w, "Failed to complete delivery", err)
		return
	}

	dto := CompletionDTO{
		Order:    toOrderDTO(result.Order),
		Wallet:   toWalletResultDTO(result.Wallet),
		Replayed: result.Replayed,
	}
	if result.Commission != nil {
		c := toCommissionDTO(*result.Commission)
		dto.Commission = &c
	}
	if result.Replayed {
		log.Printf("[Ledger] completion of %s replayed", completion.OrderID)
	}
	writeJSON(w, http.StatusOK, dto)
}

// PlanCancelOrder issues a confirmation token for cancelling the order.
func (h *Handler) PlanCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	intent, err := h.Alloc.PlanCancelOrder(r.Context(), orderParam(r), req.Reason)
	h.issue(w, intent, err)
}

// =============================================================================
// SLOT HANDLERS
// =============================================================================

// ListEligible returns the fulfillers who could take the slot, best first.
func (h *Handler) ListEligible(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(w, r)
	if !ok {
		return
	}
	fulfillers, err := h.Alloc.ListEligible(r.Context(), orderParam(r), role)
	if err != nil {
		writeDomainError(w, "Failed to list eligible fulfillers", err)
		return
	}
	dtos := make([]FulfillerDTO, len(fulfillers))
	for i, f := range fulfillers {
		dtos[i] = toFulfillerDTO(f)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AssignSlot offers the slot to a fulfiller.
func (h *Handler) AssignSlot(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(w, r)
	if !ok {
		return
	}
	var req AssignSlotRequest
	if !decode(w, r, &req) {
		return
	}
	assign := allocation.AssignRequest{OrderID: orderParam(r), Role: role, FulfillerID: generic.FulfillerID(req.FulfillerID)}

	result, err := withRetry(r.Context(), h.Retry, notDedupSafe, func() (allocation.Result, error) {
		return h.Alloc.Assign(r.Context(), assign)
	})
	if err != nil {
		writeDomainError(w, "Failed to assign", err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotResultDTO(result))
}

// RespondSlot records the fulfiller's answer to an offer.
func (h *Handler) RespondSlot(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(w, r)
	if !ok {
		return
	}
	var req RespondSlotRequest
	if !decode(w, r, &req) {
		return
	}
	respond := allocation.RespondRequest{
		OrderID:     orderParam(r),
		Role:        role,
		FulfillerID: generic.FulfillerID(req.FulfillerID),
		Accept:      req.Accept,
		Reason:      req.Reason,
	}

	result, err := withRetry(r.Context(), h.Retry, notDedupSafe, func() (allocation.Result, error) {
		return h.Alloc.Respond(r.Context(), respond)
	})
	if err != nil {
		writeDomainError(w, "Failed to record response", err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotResultDTO(result))
}

// PlanCancelAssignment issues a confirmation token for releasing the slot.
func (h *Handler) PlanCancelAssignment(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	intent, err := h.Alloc.PlanCancelAssignment(r.Context(), orderParam(r), role, req.Reason)
	h.issue(w, intent, err)
}

// PlanReassign issues a confirmation token for moving the slot.
func (h *Handler) PlanReassign(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(w, r)
	if !ok {
		return
	}
	var req ReassignSlotRequest
	if !decode(w, r, &req) {
		return
	}
	intent, err := h.Alloc.PlanReassign(r.Context(), orderParam(r), role, generic.FulfillerID(req.FulfillerID), req.Reason)
	h.issue(w, intent, err)
}

func (h *Handler) issue(w http.ResponseWriter, intent confirm.Intent, err error) {
	if err != nil {
		writeDomainError(w, "Failed to plan action", err)
		return
	}
	token, err := h.Confirm.Issue(intent)
	if err != nil {
		writeDomainError(w, "Failed to issue confirmation", err)
		return
	}
	writeJSON(w, http.StatusAccepted, toConfirmationDTO(token))
}

// =============================================================================
// CONFIRMATION HANDLERS
// =============================================================================

// ExecuteConfirmation runs a planned action. The precondition captured at plan
// time is re-checked; a changed slot or order is a 409.
func (h *Handler) ExecuteConfirmation(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if !decode(w, r, &req) {
		return
	}
	intent, err := h.Confirm.Verify(req.Token)
	if err != nil {
		writeDomainError(w, "Invalid confirmation", err)
		return
	}

	type executed struct {
		slot  allocation.Result
		order *allocation.OrderResult
	}
	result, err := withRetry(r.Context(), h.Retry, notDedupSafe, func() (executed, error) {
		slot, order, err := h.Alloc.Execute(r.Context(), intent)
		return executed{slot: slot, order: order}, err
	})
	if err != nil {
		writeDomainError(w, "Failed to execute confirmation", err)
		return
	}

	resp := ConfirmResponse{Action: string(intent.Action)}
	if result.order != nil {
		dto := toOrderResultDTO(*result.order)
		resp.Order = &dto
	} else {
		dto := toSlotResultDTO(result.slot)
		resp.Slot = &dto
	}
	log.Printf("[Confirm] %s executed on order %s", intent.Action, intent.OrderID)
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

// GetWallet returns the wallet; staff without one get an empty wallet.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.Ledger.Wallet(r.Context(), staffParam(r))
	if err != nil {
		writeDomainError(w, "Failed to get wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(wallet))
}

// ListWalletEntries returns the append-only entry log of a wallet.
func (h *Handler) ListWalletEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Ledger.Entries(r.Context(), staffParam(r))
	if err != nil {
		writeDomainError(w, "Failed to list wallet entries", err)
		return
	}
	dtos := make([]WalletEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toWalletEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// VerifyWallet rebuilds the totals from the entry log and compares.
func (h *Handler) VerifyWallet(w http.ResponseWriter, r *http.Request) {
	check, err := h.Ledger.VerifyWallet(r.Context(), staffParam(r))
	if err != nil {
		writeDomainError(w, "Wallet verification failed", err)
		return
	}
	writeJSON(w, http.StatusOK, WalletCheckDTO{
		Stored:  toWalletDTO(check.Stored),
		Rebuilt: toWalletDTO(check.Rebuilt),
		Entries: check.Entries,
	})
}

// PostCollection credits a wallet for one delivered order.
func (h *Handler) PostCollection(w http.ResponseWriter, r *http.Request) {
	var req CollectionRequest
	if !decode(w, r, &req) {
		return
	}
	collection := settlement.CollectionRequest{
		StaffID:   staffParam(r),
		OrderID:   generic.OrderID(req.OrderID),
		Collected: req.Collected,
		Earnings:  req.Earnings,
	}

	result, err := withRetry(r.Context(), h.Retry, dedupSafe, func() (settlement.WalletResult, error) {
		return h.Ledger.PostDeliveryCollection(r.Context(), collection)
	})
	if err != nil {
		writeDomainError(w, "Failed to post collection", err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, toWalletResultDTO(result))
}

// Settle pays out part of the pending amount. Requests without an
// idempotency key get one here so store retries cannot settle twice.
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if !decode(w, r, &req) {
		return
	}
	settle := settlement.SettleRequest{
		StaffID:        staffParam(r),
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
	}
	if settle.IdempotencyKey == "" {
		settle.IdempotencyKey = "settle:" + uuid.NewString()
	}

	result, err := withRetry(r.Context(), h.Retry, dedupSafe, func() (settlement.WalletResult, error) {
		return h.Ledger.Settle(r.Context(), settle)
	})
	if err != nil {
		writeDomainError(w, "Failed to settle", err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, toWalletResultDTO(result))
}

// =============================================================================
// COMMISSION HANDLERS
// =============================================================================

// ListCommissions filters by referrer, order and status.
func (h *Handler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := generic.CommissionFilter{
		ReferrerID: generic.UserID(q.Get("referrer_id")),
		OrderID:    generic.OrderID(q.Get("order_id")),
		Status:     generic.CommissionStatus(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status", fmt.Errorf("unknown commission status %q", filter.Status))
		return
	}

	commissions, err := h.Ledger.Commissions(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to list commissions", err)
		return
	}
	dtos := make([]CommissionDTO, len(commissions))
	for i, c := range commissions {
		dtos[i] = toCommissionDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCommission records a referral commission. A second request for
// the same (order, referrer) pair returns 409 with the existing row.
func (h *Handler) CreateCommission(w http.ResponseWriter, r *http.Request) {
	var req CreateCommissionRequest
	if !decode(w, r, &req) {
		return
	}
	percent := h.Ledger.ReferralPercent
	if req.Percent != nil {
		percent = *req.Percent
	}

	// A duplicate comes back with the existing row, which the conflict
	// response includes.
	var commission generic.ReferralCommission
	_, err := withRetry(r.Context(), h.Retry, dedupSafe, func() (struct{}, error) {
		var err error
		commission, err = h.Ledger.CreateCommission(r.Context(), generic.OrderID(req.OrderID), generic.UserID(req.ReferrerID), percent)
		return struct{}{}, err
	})
	if errors.Is(err, generic.ErrDuplicateCommission) {
		writeJSON(w, http.StatusConflict, struct {
			ErrorResponse
			Existing CommissionDTO `json:"existing"`
		}{
			ErrorResponse: ErrorResponse{Error: "Commission already exists", Details: err.Error(), Code: codeFor(err)},
			Existing:      toCommissionDTO(commission),
		})
		return
	}
	if err != nil {
		writeDomainError(w, "Failed to create commission", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCommissionDTO(commission))
}

// TransitionCommission moves a commission forward (pending, approved, paid).
func (h *Handler) TransitionCommission(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !decode(w, r, &req) {
		return
	}
	id := generic.CommissionID(chi.URLParam(r, "id"))

	commission, err := withRetry(r.Context(), h.Retry, dedupSafe, func() (generic.ReferralCommission, error) {
		return h.Ledger.TransitionCommission(r.Context(), id, generic.CommissionStatus(req.Status))
	})
	if err != nil {
		writeDomainError(w, "Failed to update commission", err)
		return
	}
	writeJSON(w, http.StatusOK, toCommissionDTO(commission))
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

func (h *Handler) SalesReport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r, h.Alloc.Now.Now())
	if err != nil {
		writeDomainError(w, "Invalid filter", err)
		return
	}
	report, err := h.Reports.Sales(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to build sales report", err)
		return
	}
	writeJSON(w, http.StatusOK, toSalesReportDTO(report))
}

func (h *Handler) CookReport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r, h.Alloc.Now.Now())
	if err != nil {
		writeDomainError(w, "Invalid filter", err)
		return
	}
	rows, err := h.Reports.CookPerformance(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to build cook report", err)
		return
	}
	dtos := make([]CookPerformanceDTO, len(rows))
	for i, c := range rows {
		dtos[i] = CookPerformanceDTO{
			CookID:    string(c.CookID),
			Name:      c.Name,
			Rating:    c.Rating,
			Offered:   c.Offered,
			Accepted:  c.Accepted,
			Rejected:  c.Rejected,
			Completed: c.Completed,
			Earnings:  c.Earnings,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DeliveryReport is the settlement position of every delivery staff member.
// It takes no filter: wallets are running totals.
func (h *Handler) DeliveryReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.Reports.DeliverySettlement(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to build delivery report", err)
		return
	}
	dto := DeliverySettlementDTO{
		Staff:  make([]StaffSettlementDTO, len(report.Staff)),
		Totals: toStaffSettlementDTO(report.Totals),
	}
	for i, s := range report.Staff {
		dto.Staff[i] = toStaffSettlementDTO(s)
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) ReferralReport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r, h.Alloc.Now.Now())
	if err != nil {
		writeDomainError(w, "Invalid filter", err)
		return
	}
	rows, err := h.Reports.Referrals(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to build referral report", err)
		return
	}
	dtos := make([]ReferrerSummaryDTO, len(rows))
	for i, s := range rows {
		dtos[i] = ReferrerSummaryDTO{
			ReferrerID: string(s.ReferrerID),
			Name:       s.Name,
			Code:       s.Code,
			Referrals:  s.Referrals,
			Total:      s.Total,
			Pending:    s.Pending,
			Approved:   s.Approved,
			Paid:       s.Paid,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep releases pending offers older than the response window.
// Without a role both roles are swept.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	window := h.ResponseWindow
	if req.Window != "" {
		d, err := time.ParseDuration(req.Window)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid window", fmt.Errorf("window %q is not a positive duration", req.Window))
			return
		}
		window = d
	}
	roles := generic.Roles
	if req.Role != "" {
		role, err := generic.ParseRole(req.Role)
		if err != nil {
			writeDomainError(w, "Invalid role", err)
			return
		}
		roles = []generic.Role{role}
	}

	released, err := h.sweep(r.Context(), roles, window)
	if err != nil {
		writeDomainError(w, "Sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{Released: toAssignmentDTOs(released)})
}

func (h *Handler) sweep(ctx context.Context, roles []generic.Role, window time.Duration) ([]generic.Assignment, error) {
	released := []generic.Assignment{}
	for _, role := range roles {
		rows, err := h.Alloc.SweepExpired(ctx, role, window)
		released = append(released, rows...)
		if err != nil {
			return released, err
		}
	}
	return released, nil
}

// =============================================================================
// REQUEST HELPERS
// =============================================================================

func orderParam(r *http.Request) generic.OrderID {
	return generic.OrderID(chi.URLParam(r, "id"))
}

func staffParam(r *http.Request) generic.FulfillerID {
	return generic.FulfillerID(chi.URLParam(r, "staffID"))
}

func roleParam(w http.ResponseWriter, r *http.Request) (generic.Role, bool) {
	role, err := generic.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		writeDomainError(w, "Invalid role", err)
		return "", false
	}
	return role, true
}

func optionalID[T ~string](s *string) *T {
	if s == nil || *s == "" {
		return nil
	}
	v := T(*s)
	return &v
}

// decode reads a required JSON body.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// orderNumber derives the human-facing number from the order ID.
func orderNumber(id string) string {
	compact := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(compact) > 8 {
		compact = compact[:8]
	}
	return "ORD-" + compact
}

// parseFilter reads days, from, to, panchayat_id and service_type. Dates may
// be YYYY-MM-DD or RFC3339; a bare "to" date covers that whole day. days=N
// selects the last N days through today and wins over from/to.
func parseFilter(r *http.Request, now time.Time) (reports.Filter, error) {
	q := r.URL.Query()
	var f reports.Filter

	if raw := q.Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, &generic.ValidationError{Field: "days", Reason: fmt.Sprintf("invalid day count %q", raw)}
		}
		f.Range = generic.LastDays(now, n)
	} else if raw := q.Get("from"); raw != "" {
		t, err := generic.ParseDate(raw)
		if err != nil {
			return f, &generic.ValidationError{Field: "from", Reason: fmt.Sprintf("invalid date %q", raw)}
		}
		f.Range.Start = &t
	}
	if raw := q.Get("to"); raw != "" && q.Get("days") == "" {
		t, err := generic.ParseDate(raw)
		if err != nil {
			return f, &generic.ValidationError{Field: "to", Reason: fmt.Sprintf("invalid date %q", raw)}
		}
		if !strings.Contains(raw, "T") {
			t = generic.EndOfDay(t)
		}
		f.Range.End = &t
	}
	if raw := q.Get("panchayat_id"); raw != "" {
		id := generic.PanchayatID(raw)
		f.PanchayatID = &id
	}
	f.ServiceType = generic.ServiceType(q.Get("service_type"))

	return f, f.Validate()
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Code    string `json:"code,omitempty"`
	// Shortfall is set on insufficient balance errors.
	Shortfall *generic.Money `json:"shortfall,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
		resp.Code = codeFor(err)
	}
	var insufficient *generic.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		resp.Shortfall = &insufficient.Shortfall
	}
	writeJSON(w, status, resp)
}

// writeDomainError picks the status code from the error taxonomy.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		log.Printf("[API] %s: %v", message, err)
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case generic.IsClientError(err):
		return http.StatusBadRequest
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsConflict(err):
		return http.StatusConflict
	case generic.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, generic.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, generic.ErrDuplicateCommission):
		return "duplicate_commission"
	case errors.Is(err, generic.ErrDuplicateIdempotencyKey):
		return "duplicate_idempotency_key"
	case errors.Is(err, generic.ErrConcurrentModification):
		return "stale"
	case generic.IsClientError(err):
		return "validation"
	case generic.IsNotFound(err):
		return "not_found"
	case generic.IsConflict(err):
		return "conflict"
	case generic.IsRetryable(err):
		return "unavailable"
	}
	return ""
}
