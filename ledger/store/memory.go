// Package store provides in-process ledger.Backend implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/framehouse/studio-ledger/clock"
	"github.com/framehouse/studio-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	invoices map[ledger.InvoiceID]ledger.Invoice
	entries  map[ledger.InvoiceID][]ledger.PaymentEntry
	byID     map[ledger.PaymentID]ledger.PaymentEntry
	clock    clock.Clock
}

func NewMemory() *Memory {
	return &Memory{
		invoices: make(map[ledger.InvoiceID]ledger.Invoice),
		entries:  make(map[ledger.InvoiceID][]ledger.PaymentEntry),
		byID:     make(map[ledger.PaymentID]ledger.PaymentEntry),
		clock:    clock.System{},
	}
}

// WithClock sets the clock used for created/updated timestamps.
func (m *Memory) WithClock(c clock.Clock) *Memory {
	m.clock = c
	return m
}

func (m *Memory) GetInvoice(_ context.Context, id ledger.InvoiceID) (*ledger.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getInvoiceLocked(id)
}

func (m *Memory) SaveInvoiceAggregates(_ context.Context, id ledger.InvoiceID, agg ledger.Aggregate, appliedSequence, expectedVersion int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveAggregatesLocked(id, agg, appliedSequence, expectedVersion)
}

func (m *Memory) GetLedger(_ context.Context, id ledger.InvoiceID) ([]ledger.PaymentEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledgerLocked(id), nil
}

func (m *Memory) GetEntry(_ context.Context, id ledger.PaymentID) (*ledger.PaymentEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entryLocked(id), nil
}

// AppendLedgerEntry adds a single entry. Append-only.
func (m *Memory) AppendLedgerEntry(_ context.Context, id ledger.InvoiceID, entry ledger.PaymentEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(id, entry)
}

func (m *Memory) CreateInvoice(_ context.Context, inv ledger.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.invoices[inv.ID]; ok {
		return ledger.ErrInvoiceExists
	}
	inv = inv.Clone()
	inv.Version = 1
	now := m.clock.Now()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now
	m.invoices[inv.ID] = inv
	return nil
}

func (m *Memory) ListInvoices(_ context.Context) ([]ledger.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Invoice, 0, len(m.invoices))
	for _, inv := range m.invoices {
		result = append(result, inv.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restore(memorySnapshot{
		invoices: make(map[ledger.InvoiceID]ledger.Invoice),
		entries:  make(map[ledger.InvoiceID][]ledger.PaymentEntry),
		byID:     make(map[ledger.PaymentID]ledger.PaymentEntry),
	})
	return nil
}

// =============================================================================
// LOCKED HELPERS - Caller holds m.mu
// =============================================================================

func (m *Memory) getInvoiceLocked(id ledger.InvoiceID) (*ledger.Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, &ledger.NotFoundError{InvoiceID: id}
	}
	inv = inv.Clone()
	return &inv, nil
}

func (m *Memory) saveAggregatesLocked(id ledger.InvoiceID, agg ledger.Aggregate, appliedSequence, expectedVersion int64) (int64, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return 0, &ledger.NotFoundError{InvoiceID: id}
	}
	if inv.Version != expectedVersion {
		return 0, &ledger.VersionConflictError{InvoiceID: id, Expected: expectedVersion, Actual: inv.Version}
	}
	inv = inv.WithAggregate(agg, appliedSequence)
	inv.Version++
	inv.UpdatedAt = m.clock.Now()
	m.invoices[id] = inv
	return inv.Version, nil
}

func (m *Memory) ledgerLocked(id ledger.InvoiceID) []ledger.PaymentEntry {
	result := make([]ledger.PaymentEntry, len(m.entries[id]))
	copy(result, m.entries[id])
	return result
}

func (m *Memory) entryLocked(id ledger.PaymentID) *ledger.PaymentEntry {
	e, ok := m.byID[id]
	if !ok {
		return nil
	}
	return &e
}

func (m *Memory) appendLocked(id ledger.InvoiceID, entry ledger.PaymentEntry) error {
	if _, ok := m.invoices[id]; !ok {
		return &ledger.NotFoundError{InvoiceID: id}
	}
	if _, ok := m.byID[entry.ID]; ok {
		return ledger.ErrDuplicatePayment
	}
	entry.InvoiceID = id

	entries := m.entries[id]
	for _, e := range entries {
		if e.Sequence == entry.Sequence {
			return ledger.ErrDuplicatePayment
		}
	}

	// Binary search for the insertion point in (RecordedAt, Sequence) order.
	i := sort.Search(len(entries), func(i int) bool {
		e := entries[i]
		if !e.RecordedAt.Equal(entry.RecordedAt) {
			return e.RecordedAt.After(entry.RecordedAt)
		}
		return e.Sequence > entry.Sequence
	})
	entries = append(entries, ledger.PaymentEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = entry
	m.entries[id] = entries

	m.byID[entry.ID] = entry
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

func (tm *TxMemory) WithClock(c clock.Clock) *TxMemory {
	tm.Memory.WithClock(c)
	return tm
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are serialized; readers outside a transaction see either the
// state before it or after it.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm}

	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	if err := ctx.Err(); err != nil {
		tm.restore(snapshot)
		return err
	}

	// Commit (already done via direct writes)
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	invoices := make(map[ledger.InvoiceID]ledger.Invoice, len(tm.invoices))
	for k, v := range tm.invoices {
		invoices[k] = v.Clone()
	}
	entries := make(map[ledger.InvoiceID][]ledger.PaymentEntry, len(tm.entries))
	for k, v := range tm.entries {
		entries[k] = append([]ledger.PaymentEntry{}, v...)
	}
	byID := make(map[ledger.PaymentID]ledger.PaymentEntry, len(tm.byID))
	for k, v := range tm.byID {
		byID[k] = v
	}
	return memorySnapshot{invoices: invoices, entries: entries, byID: byID}
}

func (m *Memory) restore(s memorySnapshot) {
	m.invoices = s.invoices
	m.entries = s.entries
	m.byID = s.byID
}

type memorySnapshot struct {
	invoices map[ledger.InvoiceID]ledger.Invoice
	entries  map[ledger.InvoiceID][]ledger.PaymentEntry
	byID     map[ledger.PaymentID]ledger.PaymentEntry
}

// txMemoryView runs against the parent's maps while WithTx holds the lock.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) GetInvoice(_ context.Context, id ledger.InvoiceID) (*ledger.Invoice, error) {
	return tv.parent.getInvoiceLocked(id)
}

func (tv *txMemoryView) SaveInvoiceAggregates(_ context.Context, id ledger.InvoiceID, agg ledger.Aggregate, appliedSequence, expectedVersion int64) (int64, error) {
	return tv.parent.saveAggregatesLocked(id, agg, appliedSequence, expectedVersion)
}

func (tv *txMemoryView) GetLedger(_ context.Context, id ledger.InvoiceID) ([]ledger.PaymentEntry, error) {
	return tv.parent.ledgerLocked(id), nil
}

func (tv *txMemoryView) GetEntry(_ context.Context, id ledger.PaymentID) (*ledger.PaymentEntry, error) {
	return tv.parent.entryLocked(id), nil
}

func (tv *txMemoryView) AppendLedgerEntry(_ context.Context, id ledger.InvoiceID, entry ledger.PaymentEntry) error {
	return tv.parent.appendLocked(id, entry)
}
