package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/framehouse/studio-ledger/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScanStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.CreateInvoice(ctx, ledger.Invoice{
		ID:            "inv-1",
		Number:        "INV-2025-031",
		Amount:        ledger.MustParseMoney("500"),
		BalanceAmount: ledger.MustParseMoney("500"),
		Status:        ledger.StatusPending,
	}))
	require.NoError(t, s.AppendLedgerEntry(ctx, "inv-1", ledger.PaymentEntry{
		ID:          "pay-1",
		InvoiceID:   "inv-1",
		Type:        ledger.EntryPayment,
		Date:        ledger.NewDate(2025, time.August, 2),
		Amount:      ledger.MustParseMoney("200"),
		Method:      ledger.MethodCash,
		CollectedBy: "front-desk",
		RecordedAt:  time.Date(2025, time.August, 2, 10, 0, 0, 0, time.UTC),
		Sequence:    1,
	}))
	return s
}

func TestScanPayment_CorruptRecordedAt(t *testing.T) {
	// GIVEN: A payment row whose recorded_at is not a timestamp
	s := newScanStore(t)
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, "UPDATE payments SET recorded_at = 'yesterday' WHERE id = 'pay-1'")
	require.NoError(t, err)

	// WHEN: The ledger and the entry are read back
	entries, ledgerErr := s.GetLedger(ctx, "inv-1")
	entry, entryErr := s.GetEntry(ctx, "pay-1")

	// THEN: Both reads fail instead of returning a zero time
	require.Error(t, ledgerErr)
	assert.Contains(t, ledgerErr.Error(), "pay-1 recorded_at")
	assert.Nil(t, entries)
	require.Error(t, entryErr)
	assert.Nil(t, entry)
}

func TestScanInvoice_CorruptTimestamps(t *testing.T) {
	s := newScanStore(t)
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, "UPDATE invoices SET updated_at = '' WHERE id = 'inv-1'")
	require.NoError(t, err)

	inv, err := s.GetInvoice(ctx, "inv-1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "inv-1 updated_at")
	assert.Nil(t, inv)
}

func TestParseTime_RoundTripsFormatTime(t *testing.T) {
	at := time.Date(2025, time.August, 2, 10, 30, 0, 987654321, time.FixedZone("IST", 5*3600+1800))

	got, err := parseTime(formatTime(at))

	require.NoError(t, err)
	assert.True(t, got.Equal(at))
}
