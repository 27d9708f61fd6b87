/*
store.go - Persistence contracts for invoices and their payment ledgers

PURPOSE:
  Defines the boundary between the payment logic and the database.
  Implementations can be SQLite, PostgreSQL or in-memory; the rules
  below hold for all of them.

KEY INTERFACES:
  InvoiceStore:   authoritative invoice record + optimistic aggregate writes
  PaymentLedger:  append-only, ordered payment entries per invoice
  Store:          both of the above, as seen inside one transaction
  TxStore:        Store + WithTx for atomic multi-table writes
  InvoiceCatalog: invoice import, listing and demo reset

APPEND-ONLY CONTRACT:
  PaymentLedger has exactly one write: AppendLedgerEntry.
  There is no Update or Delete for entries. Ever.

IDEMPOTENCY:
  The entry ID is the idempotency key. Appending an ID that already
  exists fails with ErrDuplicatePayment and writes nothing, so a retry
  after an ambiguous failure can never double-count.

OPTIMISTIC CONCURRENCY:
  SaveInvoiceAggregates is a compare-and-swap on Invoice.Version.
  A mismatch returns *VersionConflictError and writes nothing.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (database/sql)
  - ledger/store/memory.go: in-memory for tests and local runs

SEE ALSO:
  - ledger.go: DefaultLedger, the only caller of the write methods
*/
package ledger

import "context"

// =============================================================================
// INVOICE STORE
// =============================================================================

type InvoiceStore interface {
	// GetInvoice returns the invoice or *NotFoundError.
	GetInvoice(ctx context.Context, id InvoiceID) (*Invoice, error)

	// SaveInvoiceAggregates writes paid/balance/status and the applied ledger
	// sequence if the stored version equals expectedVersion, and returns the
	// new version. Returns *NotFoundError or *VersionConflictError otherwise.
	SaveInvoiceAggregates(ctx context.Context, id InvoiceID, agg Aggregate, appliedSequence, expectedVersion int64) (int64, error)
}

// =============================================================================
// PAYMENT LEDGER (append-only)
// =============================================================================

type PaymentLedger interface {
	// GetLedger returns the invoice's entries ordered by (RecordedAt, Sequence).
	GetLedger(ctx context.Context, id InvoiceID) ([]PaymentEntry, error)

	// GetEntry looks an entry up by its ID across all invoices.
	// Returns nil, nil when no such entry exists.
	GetEntry(ctx context.Context, id PaymentID) (*PaymentEntry, error)

	// AppendLedgerEntry durably records entry under invoice id, or nothing at all.
	// Returns ErrDuplicatePayment if the entry ID is already committed.
	// This is the ONLY write operation.
	AppendLedgerEntry(ctx context.Context, id InvoiceID, entry PaymentEntry) error
}

// Store is the view of persistence available inside a transaction.
type Store interface {
	InvoiceStore
	PaymentLedger
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns an error, or ctx is done before commit, nothing fn
	// wrote becomes visible. Otherwise everything is committed together.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// INVOICE CATALOG - Invoice lifecycle outside the payment path
// =============================================================================

// InvoiceCatalog covers invoice creation and listing. Invoices are created
// upstream (estimate approval); this exists for imports and demos.
type InvoiceCatalog interface {
	// CreateInvoice stores a new invoice with Version 1. Returns ErrInvoiceExists
	// if the ID is taken.
	CreateInvoice(ctx context.Context, inv Invoice) error

	// ListInvoices returns every invoice ordered by CreatedAt, then ID.
	ListInvoices(ctx context.Context) ([]Invoice, error)

	// Reset clears all invoices and ledgers (demo only).
	Reset(ctx context.Context) error
}

// Backend is everything a concrete storage engine provides.
type Backend interface {
	TxStore
	InvoiceCatalog
}
