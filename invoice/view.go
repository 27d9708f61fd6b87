package invoice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/framehouse/studio-ledger/ledger"
)

// InvoiceView is an invoice as callers see it: aggregates agree with the
// ledger, which is listed in recorded order.
type InvoiceView struct {
	ID            ledger.InvoiceID
	Number        string
	ClientID      string
	ClientName    string
	Amount        decimal.Decimal
	PaidAmount    decimal.Decimal
	BalanceAmount decimal.Decimal
	Status        ledger.Status
	LineItems     []ledger.LineItem
	Notes         string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Payments      []ledger.PaymentEntry
}

func newView(snap ledger.Snapshot) InvoiceView {
	v := summaryView(snap.Invoice)
	v.Payments = append([]ledger.PaymentEntry{}, snap.Entries...)
	return v
}

func summaryView(inv ledger.Invoice) InvoiceView {
	return InvoiceView{
		ID:            inv.ID,
		Number:        inv.Number,
		ClientID:      inv.ClientID,
		ClientName:    inv.ClientName,
		Amount:        ledger.RoundMoney(inv.Amount),
		PaidAmount:    inv.PaidAmount,
		BalanceAmount: inv.BalanceAmount,
		Status:        inv.Status,
		LineItems:     inv.LineItems,
		Notes:         inv.Notes,
		Version:       inv.Version,
		CreatedAt:     inv.CreatedAt,
		UpdatedAt:     inv.UpdatedAt,
	}
}

// GetInvoice returns the invoice with its ledger. Aggregates that lag the
// ledger are recomputed and persisted before returning, so repeated calls
// return the same values.
func (s *Service) GetInvoice(ctx context.Context, id ledger.InvoiceID) (*InvoiceView, error) {
	snap, err := s.ledger.Snapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if !snap.Stale() {
		v := newView(*snap)
		return &v, nil
	}

	repaired, err := s.repair(ctx, id)
	if err != nil {
		if !ledger.IsRetryable(err) {
			return nil, err
		}
		// Serve ledger truth even if the write-back lost a race.
		s.log.Warn("aggregate repair not persisted",
			zap.String("invoice_id", string(id)),
			zap.Error(err),
		)
		fixed := *snap
		fixed.Invoice = snap.Invoice.WithAggregate(snap.Computed(), ledger.LastSequence(snap.Entries))
		v := newView(fixed)
		return &v, nil
	}
	v := newView(*repaired)
	return &v, nil
}

// repair rebuilds one invoice and reports the repair if one was written.
func (s *Service) repair(ctx context.Context, id ledger.InvoiceID) (*ledger.Snapshot, error) {
	snap, repaired, err := s.ledger.Rebuild(ctx, id)
	if err != nil {
		return nil, err
	}
	if repaired {
		s.metrics.AggregateRepaired()
		s.events.Publish(newEvent(EventAggregatesRepaired, snap.Invoice, nil, s.clock.Now()))
		s.log.Warn("repaired stale invoice aggregates",
			zap.String("invoice_id", string(id)),
			zap.String("paid", ledger.FormatMoney(snap.Invoice.PaidAmount)),
			zap.String("status", string(snap.Invoice.Status)),
			zap.Int64("applied_sequence", snap.Invoice.AppliedSequence),
		)
	}
	return snap, nil
}

// GetPaymentHistory returns the invoice's ledger ordered by recordedAt.
func (s *Service) GetPaymentHistory(ctx context.Context, id ledger.InvoiceID) ([]ledger.PaymentEntry, error) {
	snap, err := s.ledger.Snapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	return snap.Entries, nil
}

// ListInvoices returns stored invoice summaries without ledgers.
func (s *Service) ListInvoices(ctx context.Context) ([]InvoiceView, error) {
	invoices, err := s.catalog.ListInvoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	views := make([]InvoiceView, len(invoices))
	for i, inv := range invoices {
		views[i] = summaryView(inv)
	}
	return views, nil
}

// ImportInvoice creates an invoice with no payments. Invoices are created
// upstream; this is how they arrive in the ledger.
func (s *Service) ImportInvoice(ctx context.Context, inv ledger.Invoice) (*InvoiceView, error) {
	inv.ID = ledger.InvoiceID(strings.TrimSpace(string(inv.ID)))
	if inv.ID == "" {
		return nil, &ledger.ValidationError{Field: "id", Message: "is required"}
	}
	inv.Amount = ledger.RoundMoney(inv.Amount)
	if inv.Amount.IsNegative() {
		return nil, &ledger.ValidationError{Field: "amount", Message: "must not be negative", Reason: ledger.ErrInvalidAmount}
	}
	inv = inv.WithAggregate(ledger.Compute(inv.Amount, nil), 0)
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = s.clock.Now()
	}

	if err := s.catalog.CreateInvoice(ctx, inv); err != nil {
		if errors.Is(err, ledger.ErrInvoiceExists) {
			return nil, err
		}
		return nil, &ledger.PersistenceError{Op: "create invoice", Err: err}
	}
	s.log.Info("invoice imported",
		zap.String("invoice_id", string(inv.ID)),
		zap.String("amount", ledger.FormatMoney(inv.Amount)),
	)
	return s.GetInvoice(ctx, inv.ID)
}
