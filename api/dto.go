/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract:
  - snake_case field names
  - money as fixed two-decimal strings ("199.50")
  - timestamps as RFC3339 strings, optional ones omitted

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Catalog:     QuoteDTO, OverrideDTO, FulfillerDTO
  Orders:      OrderDTO, SlotDTO, AssignmentDTO, SlotResultDTO, OrderResultDTO
  Confirm:     ConfirmationDTO, ConfirmRequest
  Wallets:     WalletDTO, WalletEntryDTO, WalletResultDTO, WalletCheckDTO
  Commissions: CommissionDTO
  Reports:     SalesReportDTO, CookPerformanceDTO, DeliverySettlementDTO,
               ReferrerSummaryDTO
  Scenarios:   ScenarioDTO

VALIDATION:
  Validation is done by the engines, not in DTOs. DTOs are pure data
  carriers; handlers only check that required path/query values parse.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fulfillment-engine/allocation"
	"github.com/warp/fulfillment-engine/confirm"
	"github.com/warp/fulfillment-engine/generic"
	"github.com/warp/fulfillment-engine/pricing"
	"github.com/warp/fulfillment-engine/reports"
	"github.com/warp/fulfillment-engine/settlement"
)

// =============================================================================
// CATALOG & DIRECTORY
// =============================================================================

type QuoteDTO struct {
	ItemID        string        `json:"item_id"`
	Name          string        `json:"name"`
	BasePrice     generic.Money `json:"base_price"`
	Margin        generic.Money `json:"margin"`
	CustomerPrice generic.Money `json:"customer_price"`
	DisplayPrice  generic.Money `json:"display_price"`
	HasOverride   bool          `json:"has_override"`
	Available     bool          `json:"available"`
	QuotedAt      string        `json:"quoted_at"`
}

// OverrideRequest sets a fulfiller's price for an item. A price equal to
// the base price clears the override.
type OverrideRequest struct {
	Price generic.Money `json:"price"`
}

type OverrideDTO struct {
	FulfillerID  string        `json:"fulfiller_id"`
	ItemID       string        `json:"item_id"`
	BasePrice    generic.Money `json:"base_price"`
	DisplayPrice generic.Money `json:"display_price"`
	Stored       bool          `json:"stored"`
}

type FulfillerDTO struct {
	ID           string          `json:"id"`
	Role         string          `json:"role"`
	Name         string          `json:"name"`
	Active       bool            `json:"active"`
	Available    bool            `json:"available"`
	Rating       decimal.Decimal `json:"rating"`
	ServiceTypes []string        `json:"service_types,omitempty"`
	PanchayatID  *string         `json:"panchayat_id,omitempty"`
}

// =============================================================================
// ORDERS
// =============================================================================

// CreateOrderRequest places an order. Prices are snapshotted from the
// catalog at creation time.
type CreateOrderRequest struct {
	ID          string        `json:"id,omitempty"`
	CustomerID  string        `json:"customer_id"`
	ServiceType string        `json:"service_type"`
	PanchayatID *string       `json:"panchayat_id,omitempty"`
	WardNumber  int           `json:"ward_number,omitempty"`
	ReferredBy  *string       `json:"referred_by,omitempty"`
	Items       []LineRequest `json:"items"`
}

type LineRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type OrderDTO struct {
	ID          string             `json:"id"`
	OrderNumber string             `json:"order_number"`
	CustomerID  string             `json:"customer_id"`
	Status      string             `json:"status"`
	ServiceType string             `json:"service_type"`
	TotalAmount generic.Money      `json:"total_amount"`
	PanchayatID *string            `json:"panchayat_id,omitempty"`
	WardNumber  int                `json:"ward_number,omitempty"`
	ReferredBy  *string            `json:"referred_by,omitempty"`
	Items       []OrderItemDTO     `json:"items"`
	Slots       map[string]SlotDTO `json:"slots"`
	CreatedAt   string             `json:"created_at"`
	UpdatedAt   string             `json:"updated_at"`
}

type OrderItemDTO struct {
	ItemID     string        `json:"item_id"`
	Quantity   int           `json:"quantity"`
	UnitPrice  generic.Money `json:"unit_price"`
	TotalPrice generic.Money `json:"total_price"`
}

type SlotDTO struct {
	Role        string  `json:"role"`
	FulfillerID *string `json:"fulfiller_id,omitempty"`
	Status      string  `json:"status"`
	AssignedAt  *string `json:"assigned_at,omitempty"`
	RespondedAt *string `json:"responded_at,omitempty"`
	Version     int64   `json:"version"`
}

type AssignmentDTO struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	Role        string `json:"role"`
	FulfillerID string `json:"fulfiller_id"`
	Outcome     string `json:"outcome"`
	Reason      string `json:"reason,omitempty"`
	At          string `json:"at"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type AssignSlotRequest struct {
	FulfillerID string `json:"fulfiller_id"`
}

type RespondSlotRequest struct {
	FulfillerID string `json:"fulfiller_id"`
	Accept      bool   `json:"accept"`
	Reason      string `json:"reason,omitempty"`
}

// ReassignSlotRequest asks for a confirmation token to move a slot to
// another fulfiller.
type ReassignSlotRequest struct {
	FulfillerID string `json:"fulfiller_id"`
	Reason      string `json:"reason,omitempty"`
}

// ReasonRequest is the body of the cancel endpoints.
type ReasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

type SlotResultDTO struct {
	Slot     SlotDTO         `json:"slot"`
	Recorded []AssignmentDTO `json:"recorded"`
	NoOp     bool            `json:"no_op"`
}

type OrderResultDTO struct {
	Order    OrderDTO        `json:"order"`
	Recorded []AssignmentDTO `json:"recorded"`
	NoOp     bool            `json:"no_op"`
}

// SweepRequest releases pending offers older than Window (Go duration
// string, e.g. "15m"). Empty fields use the server defaults.
type SweepRequest struct {
	Role   string `json:"role,omitempty"`
	Window string `json:"window,omitempty"`
}

type SweepResponse struct {
	Released []AssignmentDTO `json:"released"`
}

// =============================================================================
// CONFIRMATIONS
// =============================================================================

// ConfirmationDTO describes a planned destructive action. Posting Token
// to /api/confirmations executes it.
type ConfirmationDTO struct {
	Token       string `json:"token"`
	ExpiresAt   string `json:"expires_at"`
	Action      string `json:"action"`
	OrderID     string `json:"order_id"`
	Role        string `json:"role,omitempty"`
	FulfillerID string `json:"fulfiller_id,omitempty"`
	Effect      string `json:"effect"`
}

type ConfirmRequest struct {
	Token string `json:"token"`
}

// ConfirmResponse carries the slot result for slot actions and the order
// result for order cancellation.
type ConfirmResponse struct {
	Action string          `json:"action"`
	Slot   *SlotResultDTO  `json:"slot,omitempty"`
	Order  *OrderResultDTO `json:"order,omitempty"`
}

// =============================================================================
// WALLETS
// =============================================================================

type WalletDTO struct {
	StaffID   string        `json:"staff_id"`
	Collected generic.Money `json:"collected_amount"`
	Earnings  generic.Money `json:"job_earnings"`
	Settled   generic.Money `json:"total_settled"`
	Pending   generic.Money `json:"pending_settlement"`
	Version   int64         `json:"version"`
	UpdatedAt string        `json:"updated_at,omitempty"`
}

type WalletEntryDTO struct {
	ID             string        `json:"id"`
	StaffID        string        `json:"staff_id"`
	OrderID        *string       `json:"order_id,omitempty"`
	Kind           string        `json:"kind"`
	CollectedDelta generic.Money `json:"collected_delta"`
	EarningsDelta  generic.Money `json:"earnings_delta"`
	SettledDelta   generic.Money `json:"settled_delta"`
	IdempotencyKey string        `json:"idempotency_key"`
	CreatedAt      string        `json:"created_at"`
}

type WalletResultDTO struct {
	Wallet   WalletDTO      `json:"wallet"`
	Entry    WalletEntryDTO `json:"entry"`
	Replayed bool           `json:"replayed"`
}

type CollectionRequest struct {
	OrderID   string        `json:"order_id"`
	Collected generic.Money `json:"collected"`
	Earnings  generic.Money `json:"earnings"`
}

type SettleRequest struct {
	Amount         generic.Money `json:"amount"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
}

type CompleteDeliveryRequest struct {
	StaffID   string        `json:"staff_id"`
	Collected generic.Money `json:"collected"`
	Earnings  generic.Money `json:"earnings"`
}

type CompletionDTO struct {
	Order      OrderDTO        `json:"order"`
	Wallet     WalletResultDTO `json:"wallet"`
	Commission *CommissionDTO  `json:"commission,omitempty"`
	Replayed   bool            `json:"replayed"`
}

type WalletCheckDTO struct {
	Stored  WalletDTO `json:"stored"`
	Rebuilt WalletDTO `json:"rebuilt"`
	Entries int       `json:"entries"`
}

// =============================================================================
// COMMISSIONS
// =============================================================================

type CommissionDTO struct {
	ID         string          `json:"id"`
	ReferrerID string          `json:"referrer_id"`
	OrderID    string          `json:"order_id"`
	Percent    decimal.Decimal `json:"commission_percent"`
	Amount     generic.Money   `json:"commission_amount"`
	Status     string          `json:"status"`
	CreatedAt  string          `json:"created_at"`
	ApprovedAt *string         `json:"approved_at,omitempty"`
	PaidAt     *string         `json:"paid_at,omitempty"`
}

type CreateCommissionRequest struct {
	OrderID    string           `json:"order_id"`
	ReferrerID string           `json:"referrer_id"`
	Percent    *decimal.Decimal `json:"percent,omitempty"`
}

// =============================================================================
// REPORTS
// =============================================================================

type SalesReportDTO struct {
	TotalOrders       int                 `json:"total_orders"`
	ByStatus          map[string]int      `json:"by_status"`
	Revenue           generic.Money       `json:"revenue"`
	AverageOrderValue generic.Money       `json:"average_order_value"`
	ByPanchayat       []PanchayatSalesDTO `json:"by_panchayat"`
	ByServiceType     []ServiceSalesDTO   `json:"by_service_type"`
}

type PanchayatSalesDTO struct {
	PanchayatID *string       `json:"panchayat_id,omitempty"`
	Name        string        `json:"name"`
	Orders      int           `json:"orders"`
	Delivered   int           `json:"delivered"`
	Revenue     generic.Money `json:"revenue"`
}

type ServiceSalesDTO struct {
	ServiceType string        `json:"service_type"`
	Orders      int           `json:"orders"`
	Delivered   int           `json:"delivered"`
	Revenue     generic.Money `json:"revenue"`
}

type CookPerformanceDTO struct {
	CookID    string          `json:"cook_id"`
	Name      string          `json:"name"`
	Rating    decimal.Decimal `json:"rating"`
	Offered   int             `json:"offered"`
	Accepted  int             `json:"accepted"`
	Rejected  int             `json:"rejected"`
	Completed int             `json:"completed"`
	Earnings  generic.Money   `json:"earnings"`
}

type StaffSettlementDTO struct {
	StaffID    string        `json:"staff_id,omitempty"`
	Name       string        `json:"name,omitempty"`
	Deliveries int           `json:"deliveries"`
	Collected  generic.Money `json:"collected_amount"`
	Earnings   generic.Money `json:"job_earnings"`
	Settled    generic.Money `json:"total_settled"`
	Pending    generic.Money `json:"pending_settlement"`
}

type DeliverySettlementDTO struct {
	Staff  []StaffSettlementDTO `json:"staff"`
	Totals StaffSettlementDTO   `json:"totals"`
}

type ReferrerSummaryDTO struct {
	ReferrerID string        `json:"referrer_id"`
	Name       string        `json:"name"`
	Code       string        `json:"code,omitempty"`
	Referrals  int           `json:"referrals"`
	Total      generic.Money `json:"total"`
	Pending    generic.Money `json:"pending"`
	Approved   generic.Money `json:"approved"`
	Paid       generic.Money `json:"paid"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func optionalString[T ~string](p *T) *string {
	if p == nil {
		return nil
	}
	s := string(*p)
	return &s
}

func toQuoteDTO(q pricing.Quote) QuoteDTO {
	return QuoteDTO{
		ItemID:        string(q.Item.ID),
		Name:          q.Item.Name,
		BasePrice:     q.Item.BasePrice,
		Margin:        q.Margin,
		CustomerPrice: q.CustomerPrice,
		DisplayPrice:  q.DisplayPrice,
		HasOverride:   q.Override != nil,
		Available:     q.Item.IsAvailable,
		QuotedAt:      formatTime(q.QuotedAt),
	}
}

func toOverrideDTO(r pricing.OverrideResult) OverrideDTO {
	return OverrideDTO{
		FulfillerID:  string(r.FulfillerID),
		ItemID:       string(r.ItemID),
		BasePrice:    r.BasePrice,
		DisplayPrice: r.DisplayPrice,
		Stored:       r.Stored,
	}
}

func toFulfillerDTO(f generic.Fulfiller) FulfillerDTO {
	types := make([]string, len(f.AllowedServiceTypes))
	for i, st := range f.AllowedServiceTypes {
		types[i] = string(st)
	}
	return FulfillerDTO{
		ID:           string(f.ID),
		Role:         string(f.Role),
		Name:         f.Name,
		Active:       f.IsActive,
		Available:    f.IsAvailable,
		Rating:       f.Rating,
		ServiceTypes: types,
		PanchayatID:  optionalString(f.PanchayatID),
	}
}

func toOrderDTO(o generic.Order) OrderDTO {
	items := make([]OrderItemDTO, len(o.Items))
	for i, it := range o.Items {
		items[i] = OrderItemDTO{
			ItemID:     string(it.ItemID),
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			TotalPrice: it.TotalPrice,
		}
	}
	slots := make(map[string]SlotDTO, len(generic.Roles))
	for _, role := range generic.Roles {
		slots[string(role)] = toSlotDTO(o.Slot(role))
	}
	return OrderDTO{
		ID:          string(o.ID),
		OrderNumber: o.OrderNumber,
		CustomerID:  string(o.CustomerID),
		Status:      string(o.Status),
		ServiceType: string(o.ServiceType),
		TotalAmount: o.TotalAmount,
		PanchayatID: optionalString(o.PanchayatID),
		WardNumber:  o.WardNumber,
		ReferredBy:  optionalString(o.ReferredBy),
		Items:       items,
		Slots:       slots,
		CreatedAt:   formatTime(o.CreatedAt),
		UpdatedAt:   formatTime(o.UpdatedAt),
	}
}

func toSlotDTO(s generic.AssignmentSlot) SlotDTO {
	return SlotDTO{
		Role:        string(s.Role),
		FulfillerID: optionalString(s.FulfillerID),
		Status:      string(s.Status),
		AssignedAt:  formatOptionalTime(s.AssignedAt),
		RespondedAt: formatOptionalTime(s.RespondedAt),
		Version:     s.Version,
	}
}

func toAssignmentDTOs(as []generic.Assignment) []AssignmentDTO {
	dtos := make([]AssignmentDTO, len(as))
	for i, a := range as {
		dtos[i] = AssignmentDTO{
			ID:          string(a.ID),
			OrderID:     string(a.OrderID),
			Role:        string(a.Role),
			FulfillerID: string(a.FulfillerID),
			Outcome:     string(a.Outcome),
			Reason:      a.Reason,
			At:          formatTime(a.At),
		}
	}
	return dtos
}

func toSlotResultDTO(r allocation.Result) SlotResultDTO {
	return SlotResultDTO{Slot: toSlotDTO(r.Slot), Recorded: toAssignmentDTOs(r.Recorded), NoOp: r.NoOp}
}

func toOrderResultDTO(r allocation.OrderResult) OrderResultDTO {
	return OrderResultDTO{Order: toOrderDTO(r.Order), Recorded: toAssignmentDTOs(r.Recorded), NoOp: r.NoOp}
}

func toConfirmationDTO(t confirm.Token) ConfirmationDTO {
	return ConfirmationDTO{
		Token:       t.Value,
		ExpiresAt:   formatTime(t.ExpiresAt),
		Action:      string(t.Intent.Action),
		OrderID:     string(t.Intent.OrderID),
		Role:        string(t.Intent.Role),
		FulfillerID: string(t.Intent.FulfillerID),
		Effect:      t.Intent.Effect,
	}
}

func toWalletDTO(w generic.DeliveryWallet) WalletDTO {
	dto := WalletDTO{
		StaffID:   string(w.StaffID),
		Collected: w.CollectedAmount,
		Earnings:  w.JobEarnings,
		Settled:   w.TotalSettled,
		Pending:   w.Pending(),
		Version:   w.Version,
	}
	if !w.UpdatedAt.IsZero() {
		dto.UpdatedAt = formatTime(w.UpdatedAt)
	}
	return dto
}

func toWalletEntryDTO(e generic.WalletEntry) WalletEntryDTO {
	return WalletEntryDTO{
		ID:             string(e.ID),
		StaffID:        string(e.StaffID),
		OrderID:        optionalString(e.OrderID),
		Kind:           string(e.Kind),
		CollectedDelta: e.CollectedDelta,
		EarningsDelta:  e.EarningsDelta,
		SettledDelta:   e.SettledDelta,
		IdempotencyKey: e.IdempotencyKey,
		CreatedAt:      formatTime(e.CreatedAt),
	}
}

func toWalletResultDTO(r settlement.WalletResult) WalletResultDTO {
	return WalletResultDTO{Wallet: toWalletDTO(r.Wallet), Entry: toWalletEntryDTO(r.Entry), Replayed: r.Replayed}
}

func toCommissionDTO(c generic.ReferralCommission) CommissionDTO {
	return CommissionDTO{
		ID:         string(c.ID),
		ReferrerID: string(c.ReferrerID),
		OrderID:    string(c.OrderID),
		Percent:    c.CommissionPercent,
		Amount:     c.CommissionAmount,
		Status:     string(c.Status),
		CreatedAt:  formatTime(c.CreatedAt),
		ApprovedAt: formatOptionalTime(c.ApprovedAt),
		PaidAt:     formatOptionalTime(c.PaidAt),
	}
}

func toSalesReportDTO(r reports.SalesReport) SalesReportDTO {
	byStatus := make(map[string]int, len(r.ByStatus))
	for status, n := range r.ByStatus {
		byStatus[string(status)] = n
	}
	panchayats := make([]PanchayatSalesDTO, len(r.ByPanchayat))
	for i, p := range r.ByPanchayat {
		panchayats[i] = PanchayatSalesDTO{
			PanchayatID: optionalString(p.PanchayatID),
			Name:        p.Name,
			Orders:      p.Orders,
			Delivered:   p.Delivered,
			Revenue:     p.Revenue,
		}
	}
	services := make([]ServiceSalesDTO, len(r.ByServiceType))
	for i, s := range r.ByServiceType {
		services[i] = ServiceSalesDTO{
			ServiceType: string(s.ServiceType),
			Orders:      s.Orders,
			Delivered:   s.Delivered,
			Revenue:     s.Revenue,
		}
	}
	return SalesReportDTO{
		TotalOrders:       r.TotalOrders,
		ByStatus:          byStatus,
		Revenue:           r.Revenue,
		AverageOrderValue: r.AverageOrderValue,
		ByPanchayat:       panchayats,
		ByServiceType:     services,
	}
}

func toStaffSettlementDTO(s reports.StaffSettlement) StaffSettlementDTO {
	return StaffSettlementDTO{
		StaffID:    string(s.StaffID),
		Name:       s.Name,
		Deliveries: s.Deliveries,
		Collected:  s.Collected,
		Earnings:   s.Earnings,
		Settled:    s.Settled,
		Pending:    s.Pending,
	}
}
