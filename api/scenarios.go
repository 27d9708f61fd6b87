/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	studio invoices and payments. Every payment goes through
	invoice.Service.RecordPayment, so scenarios exercise the same checks
	as the UI.

AVAILABLE SCENARIOS:

	wedding-advance:    Wedding package with a 50% bank-transfer advance
	settled-portraits:  Portrait session paid in two instalments
	overpayment-guard:  Two clerks race to record 150 against a 200 balance
	fresh-invoices:     Three pending invoices, no payments

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Import invoices via factory JSON
 3. Record payments through the service

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "wedding-advance"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: HTTP handlers
  - factory/invoice.go: Invoice JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/framehouse/studio-ledger/factory"
	"github.com/framehouse/studio-ledger/invoice"
	"github.com/framehouse/studio-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "wedding-advance",
		Name:        "Wedding Advance",
		Description: "Two-day wedding package with a 50% advance paid by bank transfer",
	},
	{
		ID:          "settled-portraits",
		Name:        "Settled Portraits",
		Description: "Portrait session paid in two instalments (cash, then UPI)",
	},
	{
		ID:          "overpayment-guard",
		Name:        "Overpayment Guard",
		Description: "Two clerks record 150 at the same time against a 200 balance; one is rejected",
	},
	{
		ID:          "fresh-invoices",
		Name:        "Fresh Invoices",
		Description: "Three pending invoices with no payments",
	},
}

type scenarioLoader func(ctx context.Context, h *Handler) ([]string, error)

var scenarioLoaders = map[string]scenarioLoader{
	"wedding-advance":   loadWeddingAdvanceScenario,
	"settled-portraits": loadSettledPortraitsScenario,
	"overpayment-guard": loadOverpaymentGuardScenario,
	"fresh-invoices":    loadFreshInvoicesScenario,
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// ListScenarios returns all available scenarios.
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
	if s, ok := findScenario(current); ok {
		writeJSON(w, http.StatusOK, s)
		return
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	scenario, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	// Loading is serialized so two loads cannot interleave their resets.
	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	h.currentScenario = ""
	if err := h.Service.Reset(ctx); err != nil {
		h.writeServiceError(w, r, "Failed to reset store", err)
		return
	}

	notes, err := scenarioLoaders[scenario.ID](ctx, h)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = scenario.ID

	views, err := h.Service.ListInvoices(ctx)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list invoices", err)
		return
	}
	resp := LoadScenarioResponse{Scenario: scenario, Notes: notes}
	for _, v := range views {
		full, err := h.Service.GetInvoice(ctx, v.ID)
		if err != nil {
			h.writeServiceError(w, r, "Failed to get invoice", err)
			return
		}
		resp.Invoices = append(resp.Invoices, toInvoiceDetailDTO(*full))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ResetDatabase clears all invoices and payments.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Service.Reset(r.Context()); err != nil {
		h.writeServiceError(w, r, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func findScenario(id string) (ScenarioDTO, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return ScenarioDTO{}, false
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadWeddingAdvanceScenario(ctx context.Context, h *Handler) ([]string, error) {
	if err := h.importInvoices(ctx, factory.InvoiceJSON{
		ID:         "inv-wed-001",
		Number:     "FH-2025-041",
		ClientID:   "cl-rao",
		ClientName: "Asha Rao & Vikram Iyer",
		LineItems: []factory.LineItemJSON{
			lineItem("Wedding coverage, per day", "2", "35000"),
			lineItem("Lay-flat album, 40 pages", "1", "15000"),
		},
		Notes: "50% advance due before the first event day",
	}); err != nil {
		return nil, err
	}

	if _, err := h.seedPayment(ctx, "inv-wed-001", "42500", "bank_transfer", "priya", 12); err != nil {
		return nil, err
	}
	return []string{"Advance of 42500.00 recorded; 42500.00 remains"}, nil
}

func loadSettledPortraitsScenario(ctx context.Context, h *Handler) ([]string, error) {
	if err := h.importInvoices(ctx, factory.InvoiceJSON{
		ID:         "inv-por-007",
		Number:     "FH-2025-037",
		ClientName: "Lumen Events",
		LineItems: []factory.LineItemJSON{
			lineItem("Studio portrait session", "1", "8000"),
			lineItem("Retouched prints", "8", "500"),
		},
	}); err != nil {
		return nil, err
	}

	if _, err := h.seedPayment(ctx, "inv-por-007", "5000", "cash", "front-desk", 20); err != nil {
		return nil, err
	}
	if _, err := h.seedPayment(ctx, "inv-por-007", "7000", "upi", "front-desk", 3); err != nil {
		return nil, err
	}
	return []string{"Invoice settled in two instalments"}, nil
}

func loadOverpaymentGuardScenario(ctx context.Context, h *Handler) ([]string, error) {
	if err := h.importInvoices(ctx, factory.InvoiceJSON{
		ID:         "inv-guard-01",
		Number:     "FH-2025-050",
		ClientName: "Meera Nair",
		Amount:     money("1200"),
	}); err != nil {
		return nil, err
	}
	if _, err := h.seedPayment(ctx, "inv-guard-01", "1000", "card", "priya", 5); err != nil {
		return nil, err
	}

	// Two clerks record 150 against the remaining 200 at the same moment.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, clerk := range []string{"priya", "arjun"} {
		wg.Add(1)
		go func(i int, clerk string) {
			defer wg.Done()
			_, errs[i] = h.seedPayment(ctx, "inv-guard-01", "150", "cash", clerk, 0)
		}(i, clerk)
	}
	wg.Wait()

	var notes []string
	for i, err := range errs {
		switch {
		case err == nil:
			notes = append(notes, fmt.Sprintf("clerk %d: payment of 150.00 recorded", i+1))
		case errors.Is(err, ledger.ErrAmountExceedsBalance):
			notes = append(notes, fmt.Sprintf("clerk %d: rejected, %v", i+1, err))
		default:
			return nil, err
		}
	}
	return notes, nil
}

func loadFreshInvoicesScenario(ctx context.Context, h *Handler) ([]string, error) {
	return nil, h.importInvoices(ctx,
		factory.InvoiceJSON{ID: "inv-new-101", Number: "FH-2025-101", ClientName: "Kabir Shah", Amount: money("18000")},
		factory.InvoiceJSON{ID: "inv-new-102", Number: "FH-2025-102", ClientName: "Northwind Cafe", LineItems: []factory.LineItemJSON{
			lineItem("Menu shoot", "1", "12500"),
			lineItem("Extra dish", "6", "750.50"),
		}},
		factory.InvoiceJSON{ID: "inv-new-103", Number: "FH-2025-103", ClientName: "Complimentary reshoot", Amount: money("0")},
	)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) importInvoices(ctx context.Context, defs ...factory.InvoiceJSON) error {
	for _, def := range defs {
		inv, err := h.InvoiceFactory.FromJSON(def)
		if err != nil {
			return fmt.Errorf("invoice %s: %w", def.ID, err)
		}
		if _, err := h.Service.ImportInvoice(ctx, *inv); err != nil {
			return fmt.Errorf("invoice %s: %w", def.ID, err)
		}
	}
	return nil
}

func (h *Handler) seedPayment(ctx context.Context, invoiceID, amount, method, collectedBy string, daysAgo int) (*invoice.Receipt, error) {
	return h.Service.RecordPayment(ctx, invoice.PaymentRequest{
		InvoiceID:   ledger.InvoiceID(invoiceID),
		Amount:      decimal.RequireFromString(amount),
		Date:        ledger.DateOf(h.Service.Clock().Now().UTC().AddDate(0, 0, -daysAgo)),
		Method:      method,
		CollectedBy: collectedBy,
	})
}

func lineItem(description, quantity, unitPrice string) factory.LineItemJSON {
	qty := decimal.RequireFromString(quantity)
	return factory.LineItemJSON{
		Description: description,
		Quantity:    &qty,
		UnitPrice:   decimal.RequireFromString(unitPrice),
	}
}

func money(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
