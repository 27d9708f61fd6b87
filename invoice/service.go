/*
Package invoice is the payment-recording service for studio invoices.

PURPOSE:
  Service is the only writer of payment ledgers and invoice aggregates.
  It validates untrusted input, serializes writers per invoice, commits
  through ledger.LedgerStore, forwards committed payments to accounting,
  and serves the read paths that UI and CLI layers call.

OPERATIONS:
  RecordPayment     - validate, commit one payment, forward it, return the view
  GetInvoice        - invoice view with ledger; repairs stale aggregates first
  GetPaymentHistory - ordered ledger entries
  ListInvoices      - stored invoice summaries
  ImportInvoice     - create an invoice from an upstream definition
  Reconcile         - sweep all invoices, repair stale aggregates, report overpayments

CONCURRENCY MODEL (three layers, each sufficient on its own for its scope):
  1. Per-invoice lock in this process: one RecordPayment per invoice at a time.
  2. Store transaction: the ledger append and aggregate write commit together.
  3. Optimistic version check: a writer in another process that moved the
     invoice since our read causes a VersionConflict; we re-read and retry
     up to MaxConflictRetries times.
  Overpayment is re-checked inside the transaction, so two racing payments
  that would jointly overpay can never both commit.

SEE ALSO:
  - recorder.go: RecordPayment
  - view.go: read paths
  - reconcile.go: Reconcile sweep
  - ledger/ledger.go: AppendAndRecompute
*/
package invoice

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/framehouse/studio-ledger/bridge"
	"github.com/framehouse/studio-ledger/clock"
	"github.com/framehouse/studio-ledger/ledger"
	"github.com/framehouse/studio-ledger/metrics"
)

// DefaultMaxConflictRetries is used when Options.MaxConflictRetries is zero.
const DefaultMaxConflictRetries = 3

type Options struct {
	// Bridge receives committed payments. Nil disables forwarding.
	Bridge bridge.Bridge
	// Clock stamps recordedAt. Defaults to the system clock.
	Clock clock.Clock
	// Events receives a notification per committed payment. Optional.
	Events *Hub
	// Metrics is optional.
	Metrics *metrics.Metrics
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// MaxConflictRetries bounds re-reads after a version conflict.
	// Zero means DefaultMaxConflictRetries; negative disables retries.
	MaxConflictRetries int
}

type Service struct {
	ledger     ledger.LedgerStore
	catalog    ledger.InvoiceCatalog
	bridge     bridge.Bridge
	clock      clock.Clock
	locks      *lockTable
	events     *Hub
	metrics    *metrics.Metrics
	log        *zap.Logger
	maxRetries int
	newID      func() ledger.PaymentID
}

// NewService wires a Service over a storage backend.
func NewService(backend ledger.Backend, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	switch {
	case opts.MaxConflictRetries == 0:
		opts.MaxConflictRetries = DefaultMaxConflictRetries
	case opts.MaxConflictRetries < 0:
		opts.MaxConflictRetries = 0
	}

	return &Service{
		ledger:     ledger.NewLedger(backend),
		catalog:    backend,
		bridge:     opts.Bridge,
		clock:      opts.Clock,
		locks:      newLockTable(),
		events:     opts.Events,
		metrics:    opts.Metrics,
		log:        opts.Logger.Named("invoice.service"),
		maxRetries: opts.MaxConflictRetries,
		newID: func() ledger.PaymentID {
			return ledger.PaymentID(uuid.NewString())
		},
	}
}

// Clock returns the clock that stamps payments and dates defaults.
func (s *Service) Clock() clock.Clock {
	return s.clock
}

// Events returns the hub payments are published to, or nil.
func (s *Service) Events() *Hub {
	return s.events
}
