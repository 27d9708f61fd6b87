package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/framehouse/studio-ledger/clock"
	"github.com/framehouse/studio-ledger/ledger"
	"github.com/framehouse/studio-ledger/ledger/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, time.April, 1, 12, 0, 0, 0, time.UTC)

func newTestMemory(t *testing.T) *store.TxMemory {
	t.Helper()
	mem := store.NewTxMemory().WithClock(clock.NewFakeClock(t0))
	require.NoError(t, mem.CreateInvoice(context.Background(), ledger.Invoice{
		ID:            "inv-1",
		Number:        "INV-0001",
		Amount:        ledger.MustParseMoney("500"),
		BalanceAmount: ledger.MustParseMoney("500"),
		Status:        ledger.StatusPending,
	}))
	return mem
}

func payment(id string, seq int64, at time.Time) ledger.PaymentEntry {
	return ledger.PaymentEntry{
		ID:         ledger.PaymentID(id),
		Type:       ledger.EntryPayment,
		Amount:     ledger.MustParseMoney("10"),
		Method:     ledger.MethodCash,
		RecordedAt: at,
		Sequence:   seq,
	}
}

func TestMemory_CreateInvoice_Duplicate(t *testing.T) {
	mem := newTestMemory(t)

	err := mem.CreateInvoice(context.Background(), ledger.Invoice{ID: "inv-1"})
	assert.ErrorIs(t, err, ledger.ErrInvoiceExists)

	inv, err := mem.GetInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), inv.Version)
	assert.True(t, inv.CreatedAt.Equal(t0))
}

func TestMemory_GetInvoice_NotFound(t *testing.T) {
	mem := newTestMemory(t)

	_, err := mem.GetInvoice(context.Background(), "nope")
	var nf *ledger.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestMemory_AppendLedgerEntry_OrderedAndDeduplicated(t *testing.T) {
	// GIVEN: Entries appended out of (RecordedAt, Sequence) order
	// THEN: GetLedger returns them ordered; a repeated ID is rejected

	mem := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, mem.AppendLedgerEntry(ctx, "inv-1", payment("p-2", 2, t0.Add(time.Second))))
	require.NoError(t, mem.AppendLedgerEntry(ctx, "inv-1", payment("p-1", 1, t0)))
	require.NoError(t, mem.AppendLedgerEntry(ctx, "inv-1", payment("p-3", 3, t0.Add(time.Second))))

	err := mem.AppendLedgerEntry(ctx, "inv-1", payment("p-1", 4, t0))
	assert.ErrorIs(t, err, ledger.ErrDuplicatePayment)

	entries, err := mem.GetLedger(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ledger.PaymentID("p-1"), entries[0].ID)
	assert.Equal(t, ledger.PaymentID("p-2"), entries[1].ID)
	assert.Equal(t, ledger.PaymentID("p-3"), entries[2].ID)
	assert.Equal(t, ledger.InvoiceID("inv-1"), entries[0].InvoiceID)

	got, err := mem.GetEntry(ctx, "p-2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.Sequence)

	missing, err := mem.GetEntry(ctx, "p-9")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemory_AppendLedgerEntry_UnknownInvoice(t *testing.T) {
	mem := newTestMemory(t)

	err := mem.AppendLedgerEntry(context.Background(), "nope", payment("p-1", 1, t0))
	assert.True(t, ledger.IsNotFound(err))
}

func TestMemory_SaveInvoiceAggregates_CAS(t *testing.T) {
	mem := newTestMemory(t)
	ctx := context.Background()
	agg := ledger.Aggregate{
		Paid:    ledger.MustParseMoney("10"),
		Balance: ledger.MustParseMoney("490"),
		Status:  ledger.StatusPartial,
	}

	v, err := mem.SaveInvoiceAggregates(ctx, "inv-1", agg, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	_, err = mem.SaveInvoiceAggregates(ctx, "inv-1", agg, 1, 1)
	var conflict *ledger.VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.Expected)
	assert.Equal(t, int64(2), conflict.Actual)

	inv, _ := mem.GetInvoice(ctx, "inv-1")
	assert.Equal(t, ledger.StatusPartial, inv.Status)
	assert.Equal(t, int64(1), inv.AppliedSequence)
}

func TestTxMemory_WithTx_RollbackOnError(t *testing.T) {
	// GIVEN: A transaction that appends then fails
	// THEN: Nothing it wrote is visible

	mem := newTestMemory(t)
	ctx := context.Background()

	err := mem.WithTx(ctx, func(s ledger.Store) error {
		require.NoError(t, s.AppendLedgerEntry(ctx, "inv-1", payment("p-1", 1, t0)))
		_, err := s.SaveInvoiceAggregates(ctx, "inv-1", ledger.Aggregate{Status: ledger.StatusPartial}, 1, 1)
		require.NoError(t, err)
		return errors.New("boom")
	})
	require.EqualError(t, err, "boom")

	entries, _ := mem.GetLedger(ctx, "inv-1")
	assert.Empty(t, entries)
	got, _ := mem.GetEntry(ctx, "p-1")
	assert.Nil(t, got)
	inv, _ := mem.GetInvoice(ctx, "inv-1")
	assert.Equal(t, int64(1), inv.Version)
	assert.Equal(t, ledger.StatusPending, inv.Status)
}

func TestTxMemory_WithTx_ContextCanceledDuringTx(t *testing.T) {
	mem := newTestMemory(t)
	ctx, cancel := context.WithCancel(context.Background())

	err := mem.WithTx(ctx, func(s ledger.Store) error {
		require.NoError(t, s.AppendLedgerEntry(ctx, "inv-1", payment("p-1", 1, t0)))
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	entries, _ := mem.GetLedger(context.Background(), "inv-1")
	assert.Empty(t, entries)
}

func TestTxMemory_ReadersNeverSeeInterleaving(t *testing.T) {
	// GIVEN: A writer appending entries and bumping aggregates in transactions
	// WHEN: Readers call GetInvoice/GetLedger concurrently
	// THEN: AppliedSequence always equals the ledger length for a consistent pair
	//       read inside WithTx

	mem := newTestMemory(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(1); i <= 20; i++ {
			_ = mem.WithTx(ctx, func(s ledger.Store) error {
				if err := s.AppendLedgerEntry(ctx, "inv-1", payment(string(rune('a'+i)), i, t0)); err != nil {
					return err
				}
				_, err := s.SaveInvoiceAggregates(ctx, "inv-1", ledger.Aggregate{Status: ledger.StatusPartial}, i, i)
				return err
			})
		}
	}()

	for i := 0; i < 50; i++ {
		_ = mem.WithTx(ctx, func(s ledger.Store) error {
			inv, err := s.GetInvoice(ctx, "inv-1")
			require.NoError(t, err)
			entries, err := s.GetLedger(ctx, "inv-1")
			require.NoError(t, err)
			assert.Equal(t, int64(len(entries)), inv.AppliedSequence)
			return nil
		})
	}
	wg.Wait()

	entries, _ := mem.GetLedger(ctx, "inv-1")
	assert.Len(t, entries, 20)
}

func TestMemory_ListAndReset(t *testing.T) {
	mem := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, mem.CreateInvoice(ctx, ledger.Invoice{ID: "inv-0", CreatedAt: t0.Add(-time.Hour)}))

	list, err := mem.ListInvoices(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ledger.InvoiceID("inv-0"), list[0].ID)

	require.NoError(t, mem.Reset(ctx))
	list, err = mem.ListInvoices(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
