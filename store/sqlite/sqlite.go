/*
Package sqlite provides a SQLite-backed implementation of the ledger storage interfaces.

PURPOSE:
  Implements ledger.TxStore and ledger.InvoiceCatalog using SQLite.
  The same patterns apply to PostgreSQL with minor dialect differences.

INTERFACES IMPLEMENTED:
  ledger.InvoiceStore:   invoice records with optimistic version CAS
  ledger.PaymentLedger:  append-only payment entries
  ledger.TxStore:        WithTx spanning both tables
  ledger.InvoiceCatalog: import, listing, demo reset

APPEND-ONLY ENFORCEMENT:
  The payments table is protected twice:
  - the Go code has no UPDATE or DELETE statement for it
  - triggers abort any UPDATE or DELETE issued by anything else
  Reset drops and recreates the schema instead of deleting rows.

KEY TABLES:
  invoices: one row per invoice; paid/balance/status are a cached projection
  payments: immutable ledger rows, UNIQUE(invoice_id, sequence)

MONEY:
  Amounts are TEXT columns holding exact decimal strings (decimal.Decimal
  implements sql.Scanner and driver.Valuer). Never REAL.

CONCURRENCY:
  One connection, guarded by sync.RWMutex. WithTx holds the write lock for
  the whole transaction and all reads inside it go through the sql.Tx, so
  readers see either the state before a commit or after it.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.NewLedger(store)

SEE ALSO:
  - ledger/store.go: the contracts
  - ledger/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/framehouse/studio-ledger/clock"
	"github.com/framehouse/studio-ledger/ledger"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// timeLayout is fixed-width UTC so lexical order equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.Backend using SQLite.
type Store struct {
	db    *sql.DB
	mu    sync.RWMutex
	clock clock.Clock
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, clock: clock.System{}}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// WithClock sets the clock used for created/updated timestamps.
func (s *Store) WithClock(c clock.Clock) *Store {
	s.clock = c
	return s
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const schema = `
	-- Invoices (aggregates are a projection of payments)
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL,
		client_id TEXT NOT NULL DEFAULT '',
		client_name TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		balance_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		line_items_json TEXT,
		notes TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		applied_sequence INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_created
		ON invoices(created_at, id);

	-- Payments (append-only ledger)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		entry_type TEXT NOT NULL,
		payment_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		collected_by TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		UNIQUE(invoice_id, sequence)
	);

	-- Ledger order (hot path)
	CREATE INDEX IF NOT EXISTS idx_payments_invoice_order
		ON payments(invoice_id, recorded_at, sequence);

	CREATE TRIGGER IF NOT EXISTS payments_no_update
		BEFORE UPDATE ON payments
		BEGIN SELECT RAISE(ABORT, 'payments are append-only'); END;

	CREATE TRIGGER IF NOT EXISTS payments_no_delete
		BEFORE DELETE ON payments
		BEGIN SELECT RAISE(ABORT, 'payments are append-only'); END;
`

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// INVOICE STORE (ledger.InvoiceStore interface)
// =============================================================================

const invoiceColumns = `id, number, client_id, client_name, amount, paid_amount, balance_amount,
	status, line_items_json, notes, version, applied_sequence, created_at, updated_at`

// GetInvoice returns the invoice or *ledger.NotFoundError.
func (s *Store) GetInvoice(ctx context.Context, id ledger.InvoiceID) (*ledger.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getInvoice(ctx, s.db, id)
}

func getInvoice(ctx context.Context, q querier, id ledger.InvoiceID) (*ledger.Invoice, error) {
	row := q.QueryRowContext(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE id = ?", id)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{InvoiceID: id}
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// SaveInvoiceAggregates is a compare-and-swap on the invoice version.
func (s *Store) SaveInvoiceAggregates(ctx context.Context, id ledger.InvoiceID, agg ledger.Aggregate, appliedSequence, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveAggregates(ctx, s.db, id, agg, appliedSequence, expectedVersion)
}

func (s *Store) saveAggregates(ctx context.Context, q querier, id ledger.InvoiceID, agg ledger.Aggregate, appliedSequence, expectedVersion int64) (int64, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE invoices
		SET paid_amount = ?, balance_amount = ?, status = ?, applied_sequence = ?,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`,
		ledger.RoundMoney(agg.Paid),
		ledger.RoundMoney(agg.Balance),
		agg.Status,
		appliedSequence,
		formatTime(s.clock.Now()),
		id,
		expectedVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save invoice aggregates: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to save invoice aggregates: %w", err)
	}
	if n == 1 {
		return expectedVersion + 1, nil
	}

	// Nothing matched: either the invoice is gone or someone else moved the version.
	var actual int64
	err = q.QueryRowContext(ctx, "SELECT version FROM invoices WHERE id = ?", id).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &ledger.NotFoundError{InvoiceID: id}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read invoice version: %w", err)
	}
	return 0, &ledger.VersionConflictError{InvoiceID: id, Expected: expectedVersion, Actual: actual}
}

// =============================================================================
// PAYMENT LEDGER (ledger.PaymentLedger interface)
// =============================================================================

const paymentColumns = `id, invoice_id, entry_type, payment_date, amount, method,
	collected_by, recorded_at, sequence`

// GetLedger returns the invoice's entries in (recorded_at, sequence) order.
func (s *Store) GetLedger(ctx context.Context, id ledger.InvoiceID) ([]ledger.PaymentEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLedger(ctx, s.db, id)
}

func getLedger(ctx context.Context, q querier, id ledger.InvoiceID) ([]ledger.PaymentEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE invoice_id = ?
		ORDER BY recorded_at ASC, sequence ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var entries []ledger.PaymentEntry
	for rows.Next() {
		e, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetEntry returns the entry with the given id, or nil if there is none.
func (s *Store) GetEntry(ctx context.Context, id ledger.PaymentID) (*ledger.PaymentEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEntry(ctx, s.db, id)
}

func getEntry(ctx context.Context, q querier, id ledger.PaymentID) (*ledger.PaymentEntry, error) {
	row := q.QueryRowContext(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = ?", id)
	e, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// AppendLedgerEntry adds an entry to the ledger. This is the ONLY write to payments.
func (s *Store) AppendLedgerEntry(ctx context.Context, id ledger.InvoiceID, entry ledger.PaymentEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, id, entry)
}

func appendEntry(ctx context.Context, q querier, id ledger.InvoiceID, entry ledger.PaymentEntry) error {
	if _, err := getInvoice(ctx, q, id); err != nil {
		return err
	}

	entryType := entry.Type
	if entryType == "" {
		entryType = ledger.EntryPayment
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		id,
		entryType,
		entry.Date.String(),
		entry.Amount,
		entry.Method,
		entry.CollectedBy,
		formatTime(entry.RecordedAt),
		entry.Sequence,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicatePayment
		}
		return fmt.Errorf("failed to append payment: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &txStore{tx: sqlTx, parent: s}
	if err := fn(txStore); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) GetInvoice(ctx context.Context, id ledger.InvoiceID) (*ledger.Invoice, error) {
	return getInvoice(ctx, ts.tx, id)
}

func (ts *txStore) SaveInvoiceAggregates(ctx context.Context, id ledger.InvoiceID, agg ledger.Aggregate, appliedSequence, expectedVersion int64) (int64, error) {
	return ts.parent.saveAggregates(ctx, ts.tx, id, agg, appliedSequence, expectedVersion)
}

func (ts *txStore) GetLedger(ctx context.Context, id ledger.InvoiceID) ([]ledger.PaymentEntry, error) {
	return getLedger(ctx, ts.tx, id)
}

func (ts *txStore) GetEntry(ctx context.Context, id ledger.PaymentID) (*ledger.PaymentEntry, error) {
	return getEntry(ctx, ts.tx, id)
}

func (ts *txStore) AppendLedgerEntry(ctx context.Context, id ledger.InvoiceID, entry ledger.PaymentEntry) error {
	return appendEntry(ctx, ts.tx, id, entry)
}

// =============================================================================
// INVOICE CATALOG (ledger.InvoiceCatalog interface)
// =============================================================================

// lineItemRecord is the JSON shape of line_items_json.
type lineItemRecord struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// CreateInvoice inserts a new invoice at version 1.
func (s *Store) CreateInvoice(ctx context.Context, inv ledger.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]lineItemRecord, 0, len(inv.LineItems))
	for _, li := range inv.LineItems {
		items = append(items, lineItemRecord(li))
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}

	now := s.clock.Now()
	createdAt := inv.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
	`,
		inv.ID,
		inv.Number,
		inv.ClientID,
		inv.ClientName,
		inv.Amount,
		ledger.RoundMoney(inv.PaidAmount),
		ledger.RoundMoney(inv.BalanceAmount),
		inv.Status,
		string(itemsJSON),
		inv.Notes,
		inv.AppliedSequence,
		formatTime(createdAt),
		formatTime(now),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrInvoiceExists
		}
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

// ListInvoices returns all invoices ordered by creation time.
func (s *Store) ListInvoices(ctx context.Context) ([]ledger.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+invoiceColumns+" FROM invoices ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []ledger.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// Reset drops and recreates the schema (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range []string{"DROP TABLE IF EXISTS payments", "DROP TABLE IF EXISTS invoices"} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return s.migrate(ctx)
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row scanner) (ledger.Invoice, error) {
	var (
		inv       ledger.Invoice
		itemsJSON sql.NullString
		status    string
		created   string
		updated   string
	)

	err := row.Scan(
		&inv.ID, &inv.Number, &inv.ClientID, &inv.ClientName,
		&inv.Amount, &inv.PaidAmount, &inv.BalanceAmount, &status,
		&itemsJSON, &inv.Notes, &inv.Version, &inv.AppliedSequence,
		&created, &updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inv, err
		}
		return inv, fmt.Errorf("failed to scan invoice: %w", err)
	}

	inv.Status = ledger.Status(status)
	if inv.CreatedAt, err = parseTime(created); err != nil {
		return inv, fmt.Errorf("invoice %s created_at: %w", inv.ID, err)
	}
	if inv.UpdatedAt, err = parseTime(updated); err != nil {
		return inv, fmt.Errorf("invoice %s updated_at: %w", inv.ID, err)
	}

	if itemsJSON.Valid && itemsJSON.String != "" {
		var items []lineItemRecord
		if err := json.Unmarshal([]byte(itemsJSON.String), &items); err != nil {
			return inv, fmt.Errorf("failed to decode line items for invoice %s: %w", inv.ID, err)
		}
		for _, it := range items {
			inv.LineItems = append(inv.LineItems, ledger.LineItem(it))
		}
	}
	return inv, nil
}

func scanPayment(row scanner) (ledger.PaymentEntry, error) {
	var (
		e          ledger.PaymentEntry
		entryType  string
		date       string
		method     string
		recordedAt string
	)

	err := row.Scan(
		&e.ID, &e.InvoiceID, &entryType, &date, &e.Amount, &method,
		&e.CollectedBy, &recordedAt, &e.Sequence,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan payment: %w", err)
	}

	e.Type = ledger.EntryType(entryType)
	e.Method = ledger.Method(method)
	if e.RecordedAt, err = parseTime(recordedAt); err != nil {
		return e, fmt.Errorf("payment %s recorded_at: %w", e.ID, err)
	}
	if e.Date, err = ledger.ParseDate(date); err != nil {
		return e, fmt.Errorf("payment %s: %w", e.ID, err)
	}
	return e, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
