package invoice

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/framehouse/studio-ledger/ledger"
)

// ReconcileReport summarizes one Reconcile sweep.
type ReconcileReport struct {
	Checked  int
	Repaired []ledger.InvoiceID
	Overpaid []Overpayment
	Failed   []ReconcileFailure
}

// Overpayment is an invoice whose ledger sums past its amount. The ledger
// should make this impossible; one showing up means data was edited
// outside the service.
type Overpayment struct {
	InvoiceID ledger.InvoiceID
	Excess    decimal.Decimal
}

type ReconcileFailure struct {
	InvoiceID ledger.InvoiceID
	Err       error
}

// Clean reports whether the sweep found nothing to fix or flag.
func (r *ReconcileReport) Clean() bool {
	return len(r.Repaired) == 0 && len(r.Overpaid) == 0 && len(r.Failed) == 0
}

// Reconcile walks every invoice, rebuilds stale aggregates from the ledger
// and flags overpaid ledgers. One invoice failing does not stop the sweep;
// a done ctx does, and the partial report is returned with ctx's error.
func (s *Service) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	invoices, err := s.catalog.ListInvoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}

	report := &ReconcileReport{}
	for _, inv := range invoices {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		snap, repaired, err := s.ledger.Rebuild(ctx, inv.ID)
		if err != nil {
			report.Failed = append(report.Failed, ReconcileFailure{InvoiceID: inv.ID, Err: err})
			s.log.Error("reconcile failed", zap.String("invoice_id", string(inv.ID)), zap.Error(err))
			continue
		}
		if repaired {
			report.Repaired = append(report.Repaired, inv.ID)
			s.metrics.AggregateRepaired()
			s.events.Publish(newEvent(EventAggregatesRepaired, snap.Invoice, nil, s.clock.Now()))
		}
		if excess, over := ledger.Overpaid(snap.Invoice.Amount, snap.Entries); over {
			report.Overpaid = append(report.Overpaid, Overpayment{InvoiceID: inv.ID, Excess: excess})
			s.log.Error("invoice ledger exceeds invoice amount",
				zap.String("invoice_id", string(inv.ID)),
				zap.String("excess", ledger.FormatMoney(excess)),
			)
		}
	}

	s.log.Info("reconcile finished",
		zap.Int("checked", report.Checked),
		zap.Int("repaired", len(report.Repaired)),
		zap.Int("overpaid", len(report.Overpaid)),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}

// Reset removes every invoice and ledger. Demo use only.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.catalog.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	s.log.Warn("store reset")
	return nil
}
