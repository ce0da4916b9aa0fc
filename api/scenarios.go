/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the store with realistic
  data for demos. Every scenario starts from the demo marketplace
  (factory.DemoMarketplaceJSON) and then drives the engines, so the
  data it leaves behind went through the same rules as live traffic.

AVAILABLE SCENARIOS:
  demo-marketplace:  Catalog, fulfillers and four confirmed orders, nothing assigned
  evening-rush:      Orders in every allocation state, one delivery completed
  referral-payout:   evening-rush plus a settled wallet and a paid commission

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Parse and load the demo marketplace via the factory
 3. Run allocation / settlement operations on top

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "evening-rush"}

NOTE:
  Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Engines the loaders drive
  - factory/presets.go: Demo marketplace JSON
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/warp/fulfillment-engine/allocation"
	"github.com/warp/fulfillment-engine/factory"
	"github.com/warp/fulfillment-engine/generic"
	"github.com/warp/fulfillment-engine/settlement"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "demo-marketplace",
		Name:        "Demo Marketplace",
		Description: "Two panchayats, three cooks, two riders and four confirmed orders waiting for allocation",
	},
	{
		ID:          "evening-rush",
		Name:        "Evening Rush",
		Description: "One order delivered with a referral commission, one offer pending, one rejected, one cancelled",
	},
	{
		ID:          "referral-payout",
		Name:        "Referral Payout",
		Description: "Evening rush after the rider settled part of the wallet and the referral was paid",
	},
}

var scenarioLoaders = map[string]func(ctx context.Context, h *Handler) error{
	"demo-marketplace": loadDemoMarketplace,
	"evening-rush":     loadEveningRush,
	"referral-payout":  loadReferralPayout,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	loader, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("no scenario %q", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeDomainError(w, "Failed to reset store", err)
		return
	}
	if err := loader(ctx, h); err != nil {
		writeDomainError(w, "Failed to load scenario", err)
		return
	}
	h.currentScenario = req.ScenarioID
	log.Printf("[Scenarios] Loaded %s", req.ScenarioID)

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reset(r.Context()); err != nil {
		writeDomainError(w, "Failed to reset store", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// reset requires h.mu.
func (h *Handler) reset(ctx context.Context) error {
	resetter, ok := h.Store.(generic.Resetter)
	if !ok {
		return errors.New("store does not support reset")
	}
	if err := resetter.Reset(ctx); err != nil {
		return err
	}
	h.currentScenario = ""
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadDemoMarketplace(ctx context.Context, h *Handler) error {
	catalog, err := h.Factory.ParseCatalog(factory.DemoMarketplaceJSON)
	if err != nil {
		return err
	}
	return h.Factory.Load(ctx, h.Store, catalog)
}

func loadEveningRush(ctx context.Context, h *Handler) error {
	if err := loadDemoMarketplace(ctx, h); err != nil {
		return err
	}

	// o-1001: cooked by Meena, delivered by Ravi, referred by Asha.
	if err := offerAndAccept(ctx, h.Alloc, "o-1001", generic.RoleCook, "cook-meena"); err != nil {
		return err
	}
	if err := offerAndAccept(ctx, h.Alloc, "o-1001", generic.RoleDelivery, "rider-ravi"); err != nil {
		return err
	}
	if _, err := h.Alloc.AdvanceOrder(ctx, "o-1001", generic.OrderReady); err != nil {
		return err
	}
	if _, err := h.Ledger.CompleteDelivery(ctx, settlement.CompletionRequest{
		OrderID:   "o-1001",
		StaffID:   "rider-ravi",
		Collected: generic.MustParseMoney("410.00"),
		Earnings:  generic.MustParseMoney("40.00"),
	}); err != nil {
		return err
	}

	// o-1002: offered to Latha, no answer yet.
	if _, err := h.Alloc.Assign(ctx, allocation.AssignRequest{OrderID: "o-1002", Role: generic.RoleCook, FulfillerID: "cook-latha"}); err != nil {
		return err
	}

	// o-1003: Joseph turned the event down.
	if _, err := h.Alloc.Assign(ctx, allocation.AssignRequest{OrderID: "o-1003", Role: generic.RoleCook, FulfillerID: "cook-joseph"}); err != nil {
		return err
	}
	if _, err := h.Alloc.Respond(ctx, allocation.RespondRequest{
		OrderID: "o-1003", Role: generic.RoleCook, FulfillerID: "cook-joseph",
		Accept: false, Reason: "fully booked for Onam",
	}); err != nil {
		return err
	}

	// o-1004: customer cancelled.
	_, err := h.Alloc.CancelOrder(ctx, allocation.CancelOrderRequest{OrderID: "o-1004", Reason: "customer cancelled"})
	return err
}

func loadReferralPayout(ctx context.Context, h *Handler) error {
	if err := loadEveningRush(ctx, h); err != nil {
		return err
	}

	if _, err := h.Ledger.Settle(ctx, settlement.SettleRequest{
		StaffID:        "rider-ravi",
		Amount:         generic.MustParseMoney("300.00"),
		IdempotencyKey: "scenario:referral-payout:ravi",
	}); err != nil {
		return err
	}

	commissions, err := h.Ledger.Commissions(ctx, generic.CommissionFilter{OrderID: "o-1001"})
	if err != nil {
		return err
	}
	for _, c := range commissions {
		for _, next := range []generic.CommissionStatus{generic.CommissionApproved, generic.CommissionPaid} {
			if _, err := h.Ledger.TransitionCommission(ctx, c.ID, next); err != nil {
				return err
			}
		}
	}
	return nil
}

func offerAndAccept(ctx context.Context, alloc *allocation.Engine, orderID generic.OrderID, role generic.Role, who generic.FulfillerID) error {
	if _, err := alloc.Assign(ctx, allocation.AssignRequest{OrderID: orderID, Role: role, FulfillerID: who}); err != nil {
		return fmt.Errorf("assign %s to %s: %w", who, orderID, err)
	}
	if _, err := alloc.Respond(ctx, allocation.RespondRequest{OrderID: orderID, Role: role, FulfillerID: who, Accept: true}); err != nil {
		return fmt.Errorf("%s accepting %s: %w", who, orderID, err)
	}
	return nil
}
