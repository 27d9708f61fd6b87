package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/framehouse/studio-ledger/bridge"
	"github.com/framehouse/studio-ledger/ledger"
	"github.com/framehouse/studio-ledger/metrics"
)

// Receipt is the outcome of RecordPayment.
type Receipt struct {
	Invoice InvoiceView
	Payment ledger.PaymentEntry
	// Warnings are non-fatal. The payment is committed regardless.
	Warnings []ledger.Warning
	// Replayed is true when the idempotency key matched an earlier commit
	// and nothing new was written.
	Replayed bool
}

// RecordPayment validates req, commits it to the invoice's ledger together
// with the recomputed aggregates, and returns the updated invoice.
//
// Errors:
//   - ledger.ErrValidation (with ErrInvalidAmount, ErrAmountExceedsBalance
//     or ErrInvalidPayment): nothing was written
//   - ledger.ErrInvoiceNotFound
//   - ledger.ErrIdempotencyKeyReused: PaymentID names a different payment
//   - ledger.ErrVersionConflict: retries exhausted, safe to retry
//   - ledger.ErrPersistence: storage failed, nothing was written
//   - context errors: canceled before commit, nothing was written
//
// Accounting forwarding happens after commit and is not subject to ctx
// cancellation. Its failure is reported as a PartialSuccessWarning.
func (s *Service) RecordPayment(ctx context.Context, req PaymentRequest) (*Receipt, error) {
	start := time.Now()
	defer s.metrics.ObserveRecord(start)

	p, err := validate(req, ledger.DateOf(s.clock.Now()))
	if err != nil {
		return nil, s.rejected(p, err)
	}
	if p.id == "" {
		p.id = s.newID()
	}

	unlock, err := s.locks.Lock(ctx, p.invoiceID)
	if err != nil {
		return nil, s.rejected(p, err)
	}
	commit, replayed, err := s.commit(ctx, p)
	unlock()
	if err != nil {
		return nil, s.rejected(p, err)
	}

	receipt := &Receipt{
		Invoice:  newView(commit.Snapshot),
		Payment:  commit.Entry,
		Replayed: replayed,
	}
	if replayed {
		s.log.Info("payment replayed",
			zap.String("invoice_id", string(p.invoiceID)),
			zap.String("payment_id", string(p.id)),
		)
		return receipt, nil
	}

	s.metrics.PaymentRecorded(string(commit.Entry.Method))
	s.events.Publish(newEvent(EventPaymentRecorded, commit.Invoice, &commit.Entry, commit.Entry.RecordedAt))
	s.log.Info("payment recorded",
		zap.String("invoice_id", string(commit.Invoice.ID)),
		zap.String("payment_id", string(commit.Entry.ID)),
		zap.String("amount", ledger.FormatMoney(commit.Entry.Amount)),
		zap.String("method", string(commit.Entry.Method)),
		zap.Int64("sequence", commit.Entry.Sequence),
		zap.String("status", string(commit.Invoice.Status)),
		zap.String("balance", ledger.FormatMoney(commit.Invoice.BalanceAmount)),
		zap.Int64("version", commit.Invoice.Version),
	)

	if w := s.forward(ctx, commit); w != nil {
		receipt.Warnings = append(receipt.Warnings, w)
	}
	return receipt, nil
}

// commit runs the read / check / append cycle, re-reading after version
// conflicts. The bool result reports an idempotent replay.
func (s *Service) commit(ctx context.Context, p payment) (*ledger.Commit, bool, error) {
	for attempt := 0; ; attempt++ {
		existing, err := s.ledger.Entry(ctx, p.id)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return s.replay(ctx, p, *existing)
		}

		snap, err := s.ledger.Snapshot(ctx, p.invoiceID)
		if err != nil {
			return nil, false, err
		}

		entry := ledger.PaymentEntry{
			ID:          p.id,
			InvoiceID:   p.invoiceID,
			Type:        ledger.EntryPayment,
			Date:        p.date,
			Amount:      p.amount,
			Method:      p.method,
			CollectedBy: p.collectedBy,
			RecordedAt:  s.clock.Now(),
		}
		commit, err := s.ledger.AppendAndRecompute(ctx, entry, snap.Invoice.Version)
		switch {
		case err == nil:
			return commit, false, nil
		case errors.Is(err, ledger.ErrVersionConflict):
			s.metrics.VersionConflict()
		case errors.Is(err, ledger.ErrDuplicatePayment):
			// Same key committed elsewhere between our lookup and append;
			// the next lookup resolves it as a replay or a reuse.
		default:
			return nil, false, err
		}

		if attempt >= s.maxRetries {
			return nil, false, err
		}
		s.log.Debug("retrying payment after concurrent write",
			zap.String("invoice_id", string(p.invoiceID)),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
}

// replay answers a request whose idempotency key is already committed.
func (s *Service) replay(ctx context.Context, p payment, existing ledger.PaymentEntry) (*ledger.Commit, bool, error) {
	if existing.InvoiceID != p.invoiceID || !existing.Amount.Equal(p.amount) {
		return nil, false, fmt.Errorf("%w: payment %s is already recorded as %s on invoice %s",
			ledger.ErrIdempotencyKeyReused, existing.ID, ledger.FormatMoney(existing.Amount), existing.InvoiceID)
	}
	snap, err := s.ledger.Snapshot(ctx, p.invoiceID)
	if err != nil {
		return nil, false, err
	}
	return &ledger.Commit{Snapshot: *snap, Entry: existing}, true, nil
}

// forward hands a committed payment to accounting. The caller's deadline no
// longer applies: the payment is durable and the bridge bounds itself.
func (s *Service) forward(ctx context.Context, commit *ledger.Commit) ledger.Warning {
	if s.bridge == nil {
		return nil
	}

	inv, entry := commit.Invoice, commit.Entry
	label := inv.Number
	if label == "" {
		label = string(inv.ID)
	}
	err := s.bridge.Forward(context.WithoutCancel(ctx), bridge.Transfer{
		PaymentID:   string(entry.ID),
		InvoiceID:   string(inv.ID),
		ClientName:  inv.ClientName,
		Amount:      entry.Amount,
		Date:        entry.Date.String(),
		Method:      string(entry.Method),
		Description: "Payment for invoice " + label,
	})
	if err == nil {
		return nil
	}

	s.metrics.AccountingSyncFailed()
	s.log.Warn("accounting sync failed",
		zap.String("invoice_id", string(inv.ID)),
		zap.String("payment_id", string(entry.ID)),
		zap.Error(err),
	)
	return &ledger.PartialSuccessWarning{InvoiceID: inv.ID, PaymentID: entry.ID, Err: err}
}

// rejected records a failed RecordPayment and returns err unchanged.
func (s *Service) rejected(p payment, err error) error {
	reason := rejectionReason(err)
	s.metrics.PaymentRejected(reason)

	fields := []zap.Field{
		zap.String("invoice_id", string(p.invoiceID)),
		zap.String("payment_id", string(p.id)),
		zap.String("reason", reason),
		zap.Error(err),
	}
	if ledger.IsClientError(err) || ledger.IsNotFound(err) || reason == metrics.ReasonCanceled {
		s.log.Info("payment rejected", fields...)
	} else {
		s.log.Error("payment failed", fields...)
	}
	return err
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return metrics.ReasonInvalidAmount
	case errors.Is(err, ledger.ErrAmountExceedsBalance):
		return metrics.ReasonExceedsBalance
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, ledger.ErrUnsupportedEntryType):
		return metrics.ReasonInvalidPayment
	case errors.Is(err, ledger.ErrInvoiceNotFound):
		return metrics.ReasonNotFound
	case errors.Is(err, ledger.ErrIdempotencyKeyReused), errors.Is(err, ledger.ErrDuplicatePayment):
		return metrics.ReasonIdempotencyKey
	case errors.Is(err, ledger.ErrVersionConflict):
		return metrics.ReasonVersionConflict
	case errors.Is(err, ledger.ErrPersistence):
		return metrics.ReasonPersistence
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.ReasonCanceled
	default:
		return metrics.ReasonUnknown
	}
}
