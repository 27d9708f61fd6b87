/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Every amount is a decimal string with exactly two places ("1500.00").
  Request amounts accept a JSON string or number and are parsed from their
  text; they never pass through float64.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/invoice.go: InvoiceJSON import schema
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/framehouse/studio-ledger/invoice"
	"github.com/framehouse/studio-ledger/ledger"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// InvoiceDTO represents an invoice in list responses.
type InvoiceDTO struct {
	ID            string        `json:"id"`
	Number        string        `json:"number"`
	ClientID      string        `json:"client_id,omitempty"`
	ClientName    string        `json:"client_name"`
	Amount        string        `json:"amount"`
	PaidAmount    string        `json:"paid_amount"`
	BalanceAmount string        `json:"balance_amount"`
	Status        string        `json:"status"`
	LineItems     []LineItemDTO `json:"line_items,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	Version       int64         `json:"version"`
	CreatedAt     string        `json:"created_at,omitempty"`
	UpdatedAt     string        `json:"updated_at,omitempty"`
}

// InvoiceDetailDTO is an invoice with its ledger in recorded order.
type InvoiceDetailDTO struct {
	InvoiceDTO
	Payments []PaymentDTO `json:"payments"`
}

type LineItemDTO struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Total       string `json:"total"`
}

// PaymentDTO represents one ledger entry.
type PaymentDTO struct {
	ID          string `json:"id"`
	InvoiceID   string `json:"invoice_id"`
	Type        string `json:"type"`
	Date        string `json:"date"`
	Amount      string `json:"amount"`
	Method      string `json:"method"`
	CollectedBy string `json:"collected_by"`
	RecordedAt  string `json:"recorded_at"`
	Sequence    int64  `json:"sequence"`
}

// RecordPaymentRequest is the body of POST /api/invoices/{id}/payments.
// The Idempotency-Key header may carry PaymentID instead.
type RecordPaymentRequest struct {
	PaymentID   string          `json:"payment_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date,omitempty"` // YYYY-MM-DD, default today
	Method      string          `json:"method"`
	CollectedBy string          `json:"collected_by"`
}

// RecordPaymentResponse is returned for committed and replayed payments.
type RecordPaymentResponse struct {
	Invoice  InvoiceDetailDTO `json:"invoice"`
	Payment  PaymentDTO       `json:"payment"`
	Warnings []WarningDTO     `json:"warnings"`
	Replayed bool             `json:"replayed"`
}

// WarningDTO is a non-fatal condition attached to a successful response.
type WarningDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ReconcileResponse summarizes an on-demand reconcile sweep.
type ReconcileResponse struct {
	Checked  int                `json:"checked"`
	Repaired []string           `json:"repaired"`
	Overpaid []OverpaymentDTO   `json:"overpaid"`
	Failed   []ReconcileFailDTO `json:"failed"`
}

// ReconcileStatusResponse describes the background reconcile scheduler.
type ReconcileStatusResponse struct {
	Enabled    bool               `json:"enabled"`
	Interval   string             `json:"interval,omitempty"`
	LastRun    string             `json:"last_run,omitempty"`
	NextRun    string             `json:"next_run,omitempty"`
	LastReport *ReconcileResponse `json:"last_report,omitempty"`
}

type OverpaymentDTO struct {
	InvoiceID string `json:"invoice_id"`
	Excess    string `json:"excess"`
}

type ReconcileFailDTO struct {
	InvoiceID string `json:"invoice_id"`
	Error     string `json:"error"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenarioResponse reports what a scenario created.
type LoadScenarioResponse struct {
	Scenario ScenarioDTO        `json:"scenario"`
	Invoices []InvoiceDetailDTO `json:"invoices"`
	Notes    []string           `json:"notes,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Field     string `json:"field,omitempty"`
	Remaining string `json:"remaining,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toInvoiceDTO(v invoice.InvoiceView) InvoiceDTO {
	dto := InvoiceDTO{
		ID:            string(v.ID),
		Number:        v.Number,
		ClientID:      v.ClientID,
		ClientName:    v.ClientName,
		Amount:        ledger.FormatMoney(v.Amount),
		PaidAmount:    ledger.FormatMoney(v.PaidAmount),
		BalanceAmount: ledger.FormatMoney(v.BalanceAmount),
		Status:        string(v.Status),
		Notes:         v.Notes,
		Version:       v.Version,
		CreatedAt:     formatTimestamp(v.CreatedAt),
		UpdatedAt:     formatTimestamp(v.UpdatedAt),
	}
	for _, li := range v.LineItems {
		dto.LineItems = append(dto.LineItems, LineItemDTO{
			Description: li.Description,
			Quantity:    li.Quantity.String(),
			UnitPrice:   ledger.FormatMoney(li.UnitPrice),
			Total:       ledger.FormatMoney(li.Total()),
		})
	}
	return dto
}

func toInvoiceDetailDTO(v invoice.InvoiceView) InvoiceDetailDTO {
	return InvoiceDetailDTO{InvoiceDTO: toInvoiceDTO(v), Payments: toPaymentDTOs(v.Payments)}
}

func toPaymentDTO(e ledger.PaymentEntry) PaymentDTO {
	return PaymentDTO{
		ID:          string(e.ID),
		InvoiceID:   string(e.InvoiceID),
		Type:        string(e.Type),
		Date:        e.Date.String(),
		Amount:      ledger.FormatMoney(e.Amount),
		Method:      string(e.Method),
		CollectedBy: e.CollectedBy,
		RecordedAt:  formatTimestamp(e.RecordedAt),
		Sequence:    e.Sequence,
	}
}

func toPaymentDTOs(entries []ledger.PaymentEntry) []PaymentDTO {
	dtos := make([]PaymentDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toPaymentDTO(e)
	}
	return dtos
}

func toReconcileResponse(r *invoice.ReconcileReport) ReconcileResponse {
	resp := ReconcileResponse{
		Checked:  r.Checked,
		Repaired: []string{},
		Overpaid: []OverpaymentDTO{},
		Failed:   []ReconcileFailDTO{},
	}
	for _, id := range r.Repaired {
		resp.Repaired = append(resp.Repaired, string(id))
	}
	for _, o := range r.Overpaid {
		resp.Overpaid = append(resp.Overpaid, OverpaymentDTO{InvoiceID: string(o.InvoiceID), Excess: ledger.FormatMoney(o.Excess)})
	}
	for _, f := range r.Failed {
		resp.Failed = append(resp.Failed, ReconcileFailDTO{InvoiceID: string(f.InvoiceID), Error: f.Err.Error()})
	}
	return resp
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
