/*
Package factory converts upstream invoice definitions into ledger invoices.

PURPOSE:
  Invoices are created by the studio's invoicing tool, not by this service.
  They arrive as JSON (API import, seed files, demo scenarios) and the
  factory turns them into ledger.Invoice values with a consistent amount.

JSON SCHEMA:
  {
    "id": "inv-2025-014",
    "number": "INV-2025-014",
    "client_id": "cl-rao",
    "client_name": "Asha Rao",
    "amount": "85000.00",
    "line_items": [
      {"description": "Wedding coverage, 2 days", "quantity": 2, "unit_price": "35000"},
      {"description": "Album (40 pages)", "quantity": 1, "unit_price": 15000}
    ],
    "notes": "50% advance due before the event"
  }

AMOUNT RULES:
  - amount and unit_price accept JSON numbers or strings; both are parsed
    from their decimal text, never through float64
  - amount may be omitted when line_items are given; it is then the sum
    of line totals, rounded once
  - when both are given they must agree to the cent
  - amount must not be negative; zero is allowed and imports as paid

SEE ALSO:
  - invoice/view.go: ImportInvoice
  - api/scenarios.go: demo invoices built from InvoiceJSON
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/framehouse/studio-ledger/ledger"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// InvoiceJSON is the JSON representation of an invoice.
type InvoiceJSON struct {
	ID         string           `json:"id"`
	Number     string           `json:"number"`
	ClientID   string           `json:"client_id,omitempty"`
	ClientName string           `json:"client_name"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	LineItems  []LineItemJSON   `json:"line_items,omitempty"`
	Notes      string           `json:"notes,omitempty"`
	CreatedAt  *time.Time       `json:"created_at,omitempty"`
}

// LineItemJSON is one billed line. Quantity defaults to 1.
type LineItemJSON struct {
	Description string           `json:"description"`
	Quantity    *decimal.Decimal `json:"quantity,omitempty"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
}

// =============================================================================
// INVOICE FACTORY
// =============================================================================

// InvoiceFactory converts JSON invoices to ledger invoices.
type InvoiceFactory struct{}

func NewInvoiceFactory() *InvoiceFactory {
	return &InvoiceFactory{}
}

// ParseInvoice parses a single JSON invoice.
func (f *InvoiceFactory) ParseInvoice(data []byte) (*ledger.Invoice, error) {
	var ij InvoiceJSON
	if err := json.Unmarshal(data, &ij); err != nil {
		return nil, fmt.Errorf("failed to parse invoice JSON: %w", err)
	}
	return f.FromJSON(ij)
}

// ParseInvoices parses a JSON array of invoices. The first invalid invoice
// fails the whole batch.
func (f *InvoiceFactory) ParseInvoices(data []byte) ([]ledger.Invoice, error) {
	var batch []InvoiceJSON
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to parse invoice JSON: %w", err)
	}

	invoices := make([]ledger.Invoice, 0, len(batch))
	seen := make(map[string]bool, len(batch))
	for i, ij := range batch {
		inv, err := f.FromJSON(ij)
		if err != nil {
			return nil, fmt.Errorf("invoice %d: %w", i, err)
		}
		if seen[string(inv.ID)] {
			return nil, fmt.Errorf("invoice %d: %w: %s", i, ledger.ErrInvoiceExists, inv.ID)
		}
		seen[string(inv.ID)] = true
		invoices = append(invoices, *inv)
	}
	return invoices, nil
}

// FromJSON converts InvoiceJSON to a ledger.Invoice with no payments.
func (f *InvoiceFactory) FromJSON(ij InvoiceJSON) (*ledger.Invoice, error) {
	id := strings.TrimSpace(ij.ID)
	if id == "" {
		return nil, &ledger.ValidationError{Field: "id", Message: "is required"}
	}

	items := make([]ledger.LineItem, 0, len(ij.LineItems))
	lineTotal := decimal.Zero
	for i, lj := range ij.LineItems {
		item, err := parseLineItem(lj)
		if err != nil {
			return nil, fmt.Errorf("line_items[%d]: %w", i, err)
		}
		items = append(items, item)
		lineTotal = lineTotal.Add(item.Total())
	}

	amount, err := resolveAmount(ij.Amount, lineTotal, len(items) > 0)
	if err != nil {
		return nil, err
	}

	number := strings.TrimSpace(ij.Number)
	if number == "" {
		number = id
	}

	inv := ledger.Invoice{
		ID:         ledger.InvoiceID(id),
		Number:     number,
		ClientID:   strings.TrimSpace(ij.ClientID),
		ClientName: strings.TrimSpace(ij.ClientName),
		Amount:     amount,
		LineItems:  items,
		Notes:      ij.Notes,
	}
	if ij.CreatedAt != nil {
		inv.CreatedAt = ij.CreatedAt.UTC()
	}
	inv = inv.WithAggregate(ledger.Compute(amount, nil), 0)
	return &inv, nil
}

// ToJSON is the inverse of FromJSON, used for exports and scenario listings.
func (f *InvoiceFactory) ToJSON(inv ledger.Invoice) InvoiceJSON {
	amount := ledger.RoundMoney(inv.Amount)
	ij := InvoiceJSON{
		ID:         string(inv.ID),
		Number:     inv.Number,
		ClientID:   inv.ClientID,
		ClientName: inv.ClientName,
		Amount:     &amount,
		Notes:      inv.Notes,
	}
	for _, li := range inv.LineItems {
		qty := li.Quantity
		ij.LineItems = append(ij.LineItems, LineItemJSON{Description: li.Description, Quantity: &qty, UnitPrice: li.UnitPrice})
	}
	if !inv.CreatedAt.IsZero() {
		created := inv.CreatedAt
		ij.CreatedAt = &created
	}
	return ij
}

func parseLineItem(lj LineItemJSON) (ledger.LineItem, error) {
	qty := decimal.NewFromInt(1)
	if lj.Quantity != nil {
		qty = *lj.Quantity
	}
	if !qty.IsPositive() {
		return ledger.LineItem{}, &ledger.ValidationError{Field: "quantity", Message: "must be greater than zero", Reason: ledger.ErrInvalidAmount}
	}
	if lj.UnitPrice.IsNegative() {
		return ledger.LineItem{}, &ledger.ValidationError{Field: "unit_price", Message: "must not be negative", Reason: ledger.ErrInvalidAmount}
	}
	return ledger.LineItem{
		Description: strings.TrimSpace(lj.Description),
		Quantity:    qty,
		UnitPrice:   lj.UnitPrice,
	}, nil
}

func resolveAmount(given *decimal.Decimal, lineTotal decimal.Decimal, hasLines bool) (decimal.Decimal, error) {
	derived := ledger.RoundMoney(lineTotal)
	if given == nil {
		if !hasLines {
			return decimal.Zero, &ledger.ValidationError{Field: "amount", Message: "is required when there are no line items", Reason: ledger.ErrInvalidAmount}
		}
		return derived, nil
	}

	amount := ledger.RoundMoney(*given)
	if amount.IsNegative() {
		return decimal.Zero, &ledger.ValidationError{Field: "amount", Message: "must not be negative", Reason: ledger.ErrInvalidAmount}
	}
	if hasLines && !amount.Equal(derived) {
		return decimal.Zero, &ledger.ValidationError{
			Field:   "amount",
			Message: fmt.Sprintf("%s does not match line item total %s", ledger.FormatMoney(amount), ledger.FormatMoney(derived)),
			Reason:  ledger.ErrInvalidAmount,
		}
	}
	return amount, nil
}
