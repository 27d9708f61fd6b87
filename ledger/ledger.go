/*
ledger.go - Transactional append-and-recompute

PURPOSE:
  DefaultLedger turns the two writes a payment needs (ledger append and
  invoice aggregate update) into one unit. Both happen inside a single
  TxStore transaction; a failure anywhere rolls both back.

CRITICAL INVARIANTS (checked inside the transaction, against fresh state):
  1. sum(ledger) <= invoice.Amount, so an invoice is never overpaid
  2. invoice aggregates == Compute(invoice.Amount, ledger) after commit
  3. entry sequence numbers strictly increase per invoice
  4. recordedAt never goes backwards per invoice, so (RecordedAt, Sequence)
     order is commit order

STALENESS:
  Aggregates are a cache. If a store lost an aggregate write (or was
  edited by hand), Rebuild recomputes from the ledger and persists the
  result with the same optimistic version check.

SEE ALSO:
  - reconcile.go: Compute
  - store.go: the contracts DefaultLedger is built on
  - invoice/recorder.go: the only production caller of AppendAndRecompute
*/
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER STORE - Transactional unit of work
// =============================================================================

// LedgerStore is the transactional boundary for payment writes.
type LedgerStore interface {
	// AppendAndRecompute appends entry and persists the recomputed aggregates
	// atomically, provided the invoice is still at expectedVersion.
	AppendAndRecompute(ctx context.Context, entry PaymentEntry, expectedVersion int64) (*Commit, error)

	// Snapshot reads an invoice and its ledger as one consistent state.
	Snapshot(ctx context.Context, id InvoiceID) (*Snapshot, error)

	// Rebuild recomputes stale aggregates from the ledger and persists them.
	Rebuild(ctx context.Context, id InvoiceID) (*Snapshot, bool, error)

	// Entry looks a payment up by ID across all invoices. It returns nil
	// when no entry has that ID.
	Entry(ctx context.Context, id PaymentID) (*PaymentEntry, error)
}

// Snapshot is an invoice and its ordered ledger read at one point in time.
type Snapshot struct {
	Invoice Invoice
	Entries []PaymentEntry
}

// Computed is the aggregate the ledger implies.
func (s Snapshot) Computed() Aggregate {
	return Compute(s.Invoice.Amount, s.Entries)
}

// Stale reports whether the stored aggregates lag or disagree with the ledger.
func (s Snapshot) Stale() bool {
	return s.Invoice.AppliedSequence != LastSequence(s.Entries) ||
		!s.Invoice.Aggregate().Equal(s.Computed())
}

// Remaining is the exact unpaid amount according to the ledger. It is
// negative if the ledger is overpaid.
func (s Snapshot) Remaining() decimal.Decimal {
	return s.Invoice.Amount.Sub(PaidTotal(s.Entries))
}

// Find returns the entry with the given ID, if present.
func (s Snapshot) Find(id PaymentID) (PaymentEntry, bool) {
	for _, e := range s.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return PaymentEntry{}, false
}

// Commit is the result of a successful AppendAndRecompute.
type Commit struct {
	Snapshot
	Entry PaymentEntry
}

// =============================================================================
// DEFAULT LEDGER - Implementation over any TxStore
// =============================================================================

type DefaultLedger struct {
	Store TxStore
}

func NewLedger(store TxStore) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

// AppendAndRecompute assigns the entry its sequence number, validates it
// against the live balance and commits it together with the new aggregates.
//
// The caller's Sequence is ignored. RecordedAt is raised to the previous
// entry's RecordedAt if the caller's clock is behind.
func (l *DefaultLedger) AppendAndRecompute(ctx context.Context, entry PaymentEntry, expectedVersion int64) (*Commit, error) {
	if entry.Type == "" {
		entry.Type = EntryPayment
	}
	if entry.Type != EntryPayment {
		return nil, ErrUnsupportedEntryType
	}
	if !entry.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be greater than zero", Reason: ErrInvalidAmount}
	}

	var commit *Commit
	err := l.Store.WithTx(ctx, func(s Store) error {
		inv, err := s.GetInvoice(ctx, entry.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Version != expectedVersion {
			return &VersionConflictError{InvoiceID: inv.ID, Expected: expectedVersion, Actual: inv.Version}
		}

		existing, err := s.GetEntry(ctx, entry.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrDuplicatePayment
		}

		entries, err := s.GetLedger(ctx, inv.ID)
		if err != nil {
			return err
		}

		remaining := Snapshot{Invoice: *inv, Entries: entries}.Remaining()
		if entry.Amount.GreaterThan(remaining) {
			return NewExceedsBalanceError(entry.Amount, remaining)
		}

		entry.Sequence = LastSequence(entries) + 1
		if n := len(entries); n > 0 && entry.RecordedAt.Before(entries[n-1].RecordedAt) {
			entry.RecordedAt = entries[n-1].RecordedAt
		}
		if err := s.AppendLedgerEntry(ctx, inv.ID, entry); err != nil {
			return err
		}

		entries = append(entries, entry)
		agg := Compute(inv.Amount, entries)
		version, err := s.SaveInvoiceAggregates(ctx, inv.ID, agg, entry.Sequence, inv.Version)
		if err != nil {
			return err
		}

		// Abandoned callers must not get a commit.
		if err := ctx.Err(); err != nil {
			return err
		}

		updated := inv.WithAggregate(agg, entry.Sequence)
		updated.Version = version
		commit = &Commit{Snapshot: Snapshot{Invoice: updated, Entries: entries}, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, asPersistence("append payment", err)
	}
	return commit, nil
}

// Snapshot reads the invoice and its ledger inside one transaction.
func (l *DefaultLedger) Snapshot(ctx context.Context, id InvoiceID) (*Snapshot, error) {
	var snap *Snapshot
	err := l.Store.WithTx(ctx, func(s Store) error {
		var err error
		snap, err = readSnapshot(ctx, s, id)
		return err
	})
	if err != nil {
		return nil, asPersistence("read invoice", err)
	}
	return snap, nil
}

// Rebuild repairs the invoice's aggregates if they are stale. The bool result
// reports whether a repair was written.
func (l *DefaultLedger) Rebuild(ctx context.Context, id InvoiceID) (*Snapshot, bool, error) {
	var (
		snap     *Snapshot
		repaired bool
	)
	err := l.Store.WithTx(ctx, func(s Store) error {
		var err error
		snap, err = readSnapshot(ctx, s, id)
		if err != nil {
			return err
		}
		if !snap.Stale() {
			return nil
		}

		agg := snap.Computed()
		last := LastSequence(snap.Entries)
		version, err := s.SaveInvoiceAggregates(ctx, id, agg, last, snap.Invoice.Version)
		if err != nil {
			return err
		}
		snap.Invoice = snap.Invoice.WithAggregate(agg, last)
		snap.Invoice.Version = version
		repaired = true
		return nil
	})
	if err != nil {
		return nil, false, asPersistence("rebuild aggregates", err)
	}
	return snap, repaired, nil
}

func (l *DefaultLedger) Entry(ctx context.Context, id PaymentID) (*PaymentEntry, error) {
	var entry *PaymentEntry
	err := l.Store.WithTx(ctx, func(s Store) error {
		var err error
		entry, err = s.GetEntry(ctx, id)
		return err
	})
	if err != nil {
		return nil, asPersistence("read payment", err)
	}
	return entry, nil
}

func readSnapshot(ctx context.Context, s Store, id InvoiceID) (*Snapshot, error) {
	inv, err := s.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.GetLedger(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Invoice: *inv, Entries: entries}, nil
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// domainErrors pass through unwrapped; anything else a store returns is a
// persistence failure.
var domainErrors = []error{
	ErrValidation,
	ErrInvoiceNotFound,
	ErrInvoiceExists,
	ErrVersionConflict,
	ErrDuplicatePayment,
	ErrUnsupportedEntryType,
	ErrIdempotencyKeyReused,
	ErrPersistence,
	context.Canceled,
	context.DeadlineExceeded,
}

func asPersistence(op string, err error) error {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	return &PersistenceError{Op: op, Err: err}
}
