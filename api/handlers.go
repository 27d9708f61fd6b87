/*
handlers.go - HTTP API handlers for the invoice payment ledger

PURPOSE:
  Exposes the invoice service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to invoice.Service.

ENDPOINTS:
  Invoices:
    GET    /api/invoices                    List invoices (no ledgers)
    POST   /api/invoices                    Import an invoice (factory JSON)
    GET    /api/invoices/{id}               Invoice with ledger (repairs stale aggregates)

  Payments:
    GET    /api/invoices/{id}/payments      Ledger in recorded order
    POST   /api/invoices/{id}/payments      Record a payment
    GET    /api/invoices/{id}/events        Server-sent events for open views

  Admin:
    GET    /api/admin/reconcile             Last scheduled sweep and next run time
    POST   /api/admin/reconcile             Rebuild stale aggregates, flag overpayments

  Scenarios:
    GET    /api/scenarios                   List demo scenarios
    GET    /api/scenarios/current           Currently loaded scenario
    POST   /api/scenarios/load              Load a demo scenario
    POST   /api/scenarios/reset             Clear all data

IDEMPOTENCY:
  POST /payments accepts an Idempotency-Key header (or payment_id in the
  body). Re-sending the same key and amount returns the original payment
  with 200 and "replayed": true instead of recording it twice.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors (invalid_amount, amount_exceeds_balance, invalid_payment)
  - 404: Invoice not found
  - 409: Idempotency key reused, invoice exists, version conflict (retryable)
  - 503: Storage unavailable (retryable)
  - 500: Anything else

SECURITY NOTE:
  No authentication. Deploy behind the studio's reverse proxy.

SEE ALSO:
  - dto.go: Request/response data structures
  - events.go: Server-sent events
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/framehouse/studio-ledger/factory"
	"github.com/framehouse/studio-ledger/invoice"
	"github.com/framehouse/studio-ledger/ledger"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service        *invoice.Service
	InvoiceFactory *factory.InvoiceFactory
	// Ping reports storage health for /healthz. Optional.
	Ping func(ctx context.Context) error
	// Scheduler backs GET /api/admin/reconcile. Optional.
	Scheduler *ReconcileScheduler

	log *zap.Logger

	// beforeSnapshot runs between an event subscription and its snapshot read.
	beforeSnapshot func()

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over the invoice service.
func NewHandler(svc *invoice.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Service:        svc,
		InvoiceFactory: factory.NewInvoiceFactory(),
		log:            log.Named("api"),
	}
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// ListInvoices returns all invoices without their ledgers.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	views, err := h.Service.ListInvoices(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to list invoices", err)
		return
	}

	dtos := make([]InvoiceDTO, len(views))
	for i, v := range views {
		dtos[i] = toInvoiceDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ImportInvoice creates an invoice from factory JSON.
// POST /api/invoices
func (h *Handler) ImportInvoice(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	inv, err := h.InvoiceFactory.ParseInvoice(body)
	if err != nil {
		if !errors.Is(err, ledger.ErrValidation) {
			writeError(w, http.StatusBadRequest, "Invalid invoice JSON", err)
			return
		}
		h.writeServiceError(w, r, "Invalid invoice", err)
		return
	}

	view, err := h.Service.ImportInvoice(r.Context(), *inv)
	if err != nil {
		h.writeServiceError(w, r, "Failed to import invoice", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDetailDTO(*view))
}

// GetInvoice returns one invoice with its ledger.
// GET /api/invoices/{id}
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := invoiceIDParam(r)

	view, err := h.Service.GetInvoice(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDetailDTO(*view))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// GetPayments returns the invoice's ledger.
// GET /api/invoices/{id}/payments
func (h *Handler) GetPayments(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.GetPaymentHistory(r.Context(), invoiceIDParam(r))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(entries))
}

// RecordPayment records one payment against an invoice.
// POST /api/invoices/{id}/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	paymentID := strings.TrimSpace(req.PaymentID)
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		if paymentID != "" && paymentID != key {
			writeError(w, http.StatusBadRequest, "Idempotency-Key header and payment_id disagree", nil)
			return
		}
		paymentID = key
	}

	var date ledger.BusinessDate
	if strings.TrimSpace(req.Date) != "" {
		parsed, err := ledger.ParseDate(strings.TrimSpace(req.Date))
		if err != nil {
			h.writeServiceError(w, r, "Invalid payment", &ledger.ValidationError{
				Field: "date", Message: err.Error(), Reason: ledger.ErrInvalidPayment,
			})
			return
		}
		date = parsed
	}

	receipt, err := h.Service.RecordPayment(r.Context(), invoice.PaymentRequest{
		InvoiceID:   invoiceIDParam(r),
		PaymentID:   ledger.PaymentID(paymentID),
		Amount:      req.Amount,
		Date:        date,
		Method:      req.Method,
		CollectedBy: req.CollectedBy,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to record payment", err)
		return
	}

	resp := RecordPaymentResponse{
		Invoice:  toInvoiceDetailDTO(receipt.Invoice),
		Payment:  toPaymentDTO(receipt.Payment),
		Warnings: []WarningDTO{},
		Replayed: receipt.Replayed,
	}
	for _, warn := range receipt.Warnings {
		resp.Warnings = append(resp.Warnings, WarningDTO{Code: warn.Code(), Message: warn.Error()})
	}

	status := http.StatusCreated
	if receipt.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Reconcile runs a reconcile sweep now.
// POST /api/admin/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.Reconcile(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Reconcile failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconcileResponse(report))
}

// ReconcileStatus reports the scheduler's last sweep and when the next one runs.
// GET /api/admin/reconcile
func (h *Handler) ReconcileStatus(w http.ResponseWriter, r *http.Request) {
	rs := h.Scheduler
	if rs == nil || rs.Interval <= 0 {
		writeJSON(w, http.StatusOK, ReconcileStatusResponse{Enabled: false})
		return
	}

	report, lastRun := rs.LastReport()
	resp := ReconcileStatusResponse{
		Enabled:  true,
		Interval: rs.Interval.String(),
		LastRun:  formatTimestamp(lastRun),
		NextRun:  formatTimestamp(rs.GetNextRunTime()),
	}
	if report != nil {
		last := toReconcileResponse(report)
		resp.LastReport = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health reports liveness and storage reachability.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Storage unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func invoiceIDParam(r *http.Request) ledger.InvoiceID {
	return ledger.InvoiceID(strings.TrimSpace(chi.URLParam(r, "id")))
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
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps ledger errors to a status and error code. Server
// side failures are logged; client errors are not.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, resp := mapError(err)
	if resp.Error == "" {
		resp.Error = message
	}
	if status >= http.StatusInternalServerError {
		h.log.Error(message,
			zap.String("path", r.URL.Path),
			zap.String("code", resp.Code),
			zap.Error(err),
		)
	}
	writeJSON(w, status, resp)
}

func mapError(err error) (int, ErrorResponse) {
	resp := ErrorResponse{Details: err.Error()}

	var verr *ledger.ValidationError
	if errors.As(err, &verr) {
		resp.Error = verr.Error()
		resp.Field = verr.Field
		if verr.Remaining != nil {
			resp.Remaining = ledger.FormatMoney(*verr.Remaining)
		}
		resp.Details = nil
		switch {
		case errors.Is(err, ledger.ErrAmountExceedsBalance):
			resp.Code = "amount_exceeds_balance"
		case errors.Is(err, ledger.ErrInvalidAmount):
			resp.Code = "invalid_amount"
		case errors.Is(err, ledger.ErrInvalidPayment):
			resp.Code = "invalid_payment"
		default:
			resp.Code = "validation_error"
		}
		return http.StatusBadRequest, resp
	}

	switch {
	case errors.Is(err, ledger.ErrInvoiceNotFound):
		resp.Code = "invoice_not_found"
		resp.Error = "Invoice not found"
		return http.StatusNotFound, resp
	case errors.Is(err, ledger.ErrIdempotencyKeyReused), errors.Is(err, ledger.ErrDuplicatePayment):
		resp.Code = "idempotency_key_reused"
		resp.Error = "Idempotency key already used for a different payment"
		return http.StatusConflict, resp
	case errors.Is(err, ledger.ErrInvoiceExists):
		resp.Code = "invoice_exists"
		resp.Error = "Invoice already exists"
		return http.StatusConflict, resp
	case errors.Is(err, ledger.ErrVersionConflict):
		resp.Code = "version_conflict"
		resp.Error = "Invoice changed concurrently, retry"
		resp.Retryable = true
		return http.StatusConflict, resp
	case errors.Is(err, ledger.ErrUnsupportedEntryType):
		resp.Code = "unsupported_entry_type"
		return http.StatusBadRequest, resp
	case errors.Is(err, ledger.ErrPersistence):
		resp.Code = "persistence_failed"
		resp.Error = "Storage unavailable, nothing was recorded"
		resp.Retryable = true
		resp.Details = nil
		return http.StatusServiceUnavailable, resp
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		resp.Code = "request_canceled"
		resp.Error = "Request canceled before commit, nothing was recorded"
		resp.Retryable = true
		return http.StatusServiceUnavailable, resp
	}

	resp.Code = "internal_error"
	return http.StatusInternalServerError, resp
}
