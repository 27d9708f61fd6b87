package invoice

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/framehouse/studio-ledger/bridge"
	"github.com/framehouse/studio-ledger/clock"
	"github.com/framehouse/studio-ledger/ledger"
	"github.com/framehouse/studio-ledger/ledger/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var t0 = time.Date(2025, time.June, 3, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	mem   *store.TxMemory
	clock *clock.FakeClock
	logs  *observer.ObservedLogs
}

func newFixture(t *testing.T, opts Options, invoices ...ledger.Invoice) *fixture {
	t.Helper()
	clk := clock.NewFakeClock(t0)
	mem := store.NewTxMemory().WithClock(clk)
	for _, inv := range invoices {
		require.NoError(t, mem.CreateInvoice(context.Background(), inv))
	}

	core, logs := observer.New(zapcore.DebugLevel)
	opts.Clock = clk
	opts.Logger = zap.New(core)
	return &fixture{svc: NewService(mem, opts), mem: mem, clock: clk, logs: logs}
}

func testInvoice(id, total string) ledger.Invoice {
	amount := ledger.MustParseMoney(total)
	return ledger.Invoice{
		ID:         ledger.InvoiceID(id),
		Number:     "INV-" + id,
		ClientName: "Meera & Karan",
		Amount:     amount,
	}.WithAggregate(ledger.Compute(amount, nil), 0)
}

func pay(invoiceID, amount string) PaymentRequest {
	return PaymentRequest{
		InvoiceID:   ledger.InvoiceID(invoiceID),
		Amount:      decimal.RequireFromString(amount),
		Method:      "upi",
		CollectedBy: "studio-desk",
	}
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Equal(t, want, ledger.FormatMoney(got))
}

// =============================================================================
// RECORD PAYMENT
// =============================================================================

func TestRecordPayment_PartialThenPaid(t *testing.T) {
	// GIVEN: An invoice for 50000
	// WHEN: Recording 20000 then 30000
	// THEN: Status goes pending -> partial -> paid and the ledger has both rows

	f := newFixture(t, Options{}, testInvoice("inv-1", "50000"))
	ctx := context.Background()

	first, err := f.svc.RecordPayment(ctx, pay("inv-1", "20000"))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPartial, first.Invoice.Status)
	assertMoney(t, "20000.00", first.Invoice.PaidAmount)
	assertMoney(t, "30000.00", first.Invoice.BalanceAmount)
	assert.Empty(t, first.Warnings)
	assert.False(t, first.Replayed)

	f.clock.Advance(time.Minute)
	second, err := f.svc.RecordPayment(ctx, pay("inv-1", "30000"))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPaid, second.Invoice.Status)
	assertMoney(t, "0.00", second.Invoice.BalanceAmount)
	require.Len(t, second.Invoice.Payments, 2)
	assert.Equal(t, first.Payment.ID, second.Invoice.Payments[0].ID)
	assert.Equal(t, int64(2), second.Payment.Sequence)
	assert.Equal(t, int64(3), second.Invoice.Version)
	assert.Equal(t, ledger.DateOf(t0), second.Payment.Date, "zero date defaults to today")
	assert.Equal(t, ledger.MethodUPI, second.Payment.Method)
}

func TestRecordPayment_Overpayment_NothingWritten(t *testing.T) {
	f := newFixture(t, Options{}, testInvoice("inv-1", "1000"))
	ctx := context.Background()

	_, err := f.svc.RecordPayment(ctx, pay("inv-1", "800"))
	require.NoError(t, err)

	_, err = f.svc.RecordPayment(ctx, pay("inv-1", "200.01"))
	require.ErrorIs(t, err, ledger.ErrAmountExceedsBalance)
	require.ErrorIs(t, err, ledger.ErrValidation)
	assert.Contains(t, err.Error(), "remaining balance 200.00")

	var verr *ledger.ValidationError
	require.ErrorAs(t, err, &verr)
	require.NotNil(t, verr.Remaining)
	assertMoney(t, "200.00", *verr.Remaining)

	history, err := f.svc.GetPaymentHistory(ctx, "inv-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRecordPayment_RoundsHalfEvenBeforeChecks(t *testing.T) {
	// GIVEN: Sub-cent input
	// THEN: 10.005 rounds to 10.00, 0.004 rounds to zero and is rejected

	f := newFixture(t, Options{}, testInvoice("inv-1", "100"))
	ctx := context.Background()

	r, err := f.svc.RecordPayment(ctx, pay("inv-1", "10.005"))
	require.NoError(t, err)
	assertMoney(t, "10.00", r.Payment.Amount)

	_, err = f.svc.RecordPayment(ctx, pay("inv-1", "0.004"))
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestRecordPayment_UnknownInvoice(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.svc.RecordPayment(context.Background(), pay("inv-missing", "10"))
	assert.True(t, ledger.IsNotFound(err))
}

func TestRecordPayment_Validation(t *testing.T) {
	f := newFixture(t, Options{}, testInvoice("inv-1", "100"))

	tests := []struct {
		name   string
		mutate func(*PaymentRequest)
		want   error
		field  string
	}{
		{"zero amount", func(r *PaymentRequest) { r.Amount = decimal.Zero }, ledger.ErrInvalidAmount, "amount"},
		{"negative amount", func(r *PaymentRequest) { r.Amount = decimal.NewFromInt(-5) }, ledger.ErrInvalidAmount, "amount"},
		{"unknown method", func(r *PaymentRequest) { r.Method = "barter" }, ledger.ErrInvalidPayment, "method"},
		{"blank collector", func(r *PaymentRequest) { r.CollectedBy = "  " }, ledger.ErrInvalidPayment, "collected_by"},
		{"missing invoice id", func(r *PaymentRequest) { r.InvoiceID = "" }, ledger.ErrInvalidPayment, "invoice_id"},
		{"future date", func(r *PaymentRequest) { r.Date = ledger.DateOf(t0.AddDate(0, 0, 7)) }, ledger.ErrInvalidPayment, "date"},
		{"key with spaces", func(r *PaymentRequest) { r.PaymentID = "pay 1" }, ledger.ErrInvalidPayment, "payment_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := pay("inv-1", "10")
			tt.mutate(&req)

			_, err := f.svc.RecordPayment(context.Background(), req)
			require.ErrorIs(t, err, tt.want)
			require.ErrorIs(t, err, ledger.ErrValidation)

			var verr *ledger.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	history, err := f.svc.GetPaymentHistory(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRecordPayment_TomorrowAllowed(t *testing.T) {
	f := newFixture(t, Options{}, testInvoice("inv-1", "100"))

	req := pay("inv-1", "10")
	req.Date = ledger.DateOf(t0.AddDate(0, 0, 1))
	_, err := f.svc.RecordPayment(context.Background(), req)
	assert.NoError(t, err)
}

func TestRecordPayment_CanceledBeforeCommit(t *testing.T) {
	f := newFixture(t, Options{}, testInvoice("inv-1", "100"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.RecordPayment(ctx, pay("inv-1", "10"))
	require.ErrorIs(t, err, context.Canceled)

	history, err := f.svc.GetPaymentHistory(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestRecordPayment_SameKeyReplays(t *testing.T) {
	// GIVEN: A payment recorded with key pay-abc
	// WHEN: The same request is submitted again (double click)
	// THEN: The original is returned, nothing is appended or forwarded twice

	var forwards atomic.Int32
	b := bridge.Func(func(ctx context.Context, tr bridge.Transfer) error {
		forwards.Add(1)
		return nil
	})
	f := newFixture(t, Options{Bridge: b}, testInvoice("inv-1", "500"))
	ctx := context.Background()

	req := pay("inv-1", "120")
	req.PaymentID = "pay-abc"

	first, err := f.svc.RecordPayment(ctx, req)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	again, err := f.svc.RecordPayment(ctx, req)
	require.NoError(t, err)

	assert.True(t, again.Replayed)
	assert.Equal(t, first.Payment, again.Payment)
	assert.Len(t, again.Invoice.Payments, 1)
	assert.Equal(t, first.Invoice.Version, again.Invoice.Version)
	assert.Equal(t, int32(1), forwards.Load())
}

func TestRecordPayment_KeyReusedWithDifferentAmount(t *testing.T) {
	f := newFixture(t, Options{}, testInvoice("inv-1", "500"), testInvoice("inv-2", "500"))
	ctx := context.Background()

	req := pay("inv-1", "120")
	req.PaymentID = "pay-abc"
	_, err := f.svc.RecordPayment(ctx, req)
	require.NoError(t, err)

	req.Amount = decimal.NewFromInt(121)
	_, err = f.svc.RecordPayment(ctx, req)
	assert.ErrorIs(t, err, ledger.ErrIdempotencyKeyReused)

	other := pay("inv-2", "120")
	other.PaymentID = "pay-abc"
	_, err = f.svc.RecordPayment(ctx, other)
	assert.ErrorIs(t, err, ledger.ErrIdempotencyKeyReused)
	assert.True(t, ledger.IsClientError(err))
}

func TestRecordPayment_ReplayAfterInvoicePaid(t *testing.T) {
	f := newFixture(t, Options{}, testInvoice("inv-1", "100"))
	ctx := context.Background()

	req := pay("inv-1", "100")
	req.PaymentID = "pay-full"
	_, err := f.svc.RecordPayment(ctx, req)
	require.NoError(t, err)

	again, err := f.svc.RecordPayment(ctx, req)
	require.NoError(t, err, "a replay is not a new overpayment")
	assert.True(t, again.Replayed)
	assert.Equal(t, ledger.StatusPaid, again.Invoice.Status)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestRecordPayment_ConcurrentOverpay_ExactlyOneWins(t *testing.T) {
	// GIVEN: Balance 200 and two clerks each recording 150 at once
	// THEN: Exactly one commits; the other sees the live 50 remaining

	for _, shared := range []bool{true, false} {
		name := "one service"
		if !shared {
			name = "two services"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, Options{}, testInvoice("inv-1", "200"))
			services := []*Service{f.svc, f.svc}
			if !shared {
				services[1] = NewService(f.mem, Options{Clock: f.clock})
			}

			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i := range services {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, errs[i] = services[i].RecordPayment(context.Background(), pay("inv-1", "150"))
				}(i)
			}
			wg.Wait()

			var ok, rejected int
			for _, err := range errs {
				switch {
				case err == nil:
					ok++
				case errors.Is(err, ledger.ErrAmountExceedsBalance):
					rejected++
					assert.Contains(t, err.Error(), "remaining balance 50.00")
				default:
					t.Fatalf("unexpected error: %v", err)
				}
			}
			assert.Equal(t, 1, ok)
			assert.Equal(t, 1, rejected)

			view, err := f.svc.GetInvoice(context.Background(), "inv-1")
			require.NoError(t, err)
			assert.Len(t, view.Payments, 1)
			assertMoney(t, "150.00", view.PaidAmount)
		})
	}
}

func TestRecordPayment_ManyConcurrentSmallPayments(t *testing.T) {
	f := newFixture(t, Options{}, testInvoice("inv-1", "1000"))

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordPayment(context.Background(), pay("inv-1", "25"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	view, err := f.svc.GetInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPaid, view.Status)
	assert.Len(t, view.Payments, 40)
	assert.Equal(t, int64(41), view.Version)
	for i, p := range view.Payments {
		assert.Equal(t, int64(i+1), p.Sequence)
	}
	assert.Zero(t, f.svc.locks.size())
}

// racingBackend commits a rival payment right after every snapshot read,
// so the caller's next append sees a newer version.
type racingBackend struct {
	*store.TxMemory
	rival *ledger.DefaultLedger

	mu     sync.Mutex
	races  int
	rivals int
}

func newRacingBackend(mem *store.TxMemory, races int) *racingBackend {
	return &racingBackend{TxMemory: mem, rival: ledger.NewLedger(mem), races: races}
}

func (b *racingBackend) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	view := &trackingView{}
	err := b.TxMemory.WithTx(ctx, func(s ledger.Store) error {
		view.Store = s
		return fn(view)
	})
	if err == nil && view.readLedger && !view.appended {
		b.race(ctx)
	}
	return err
}

func (b *racingBackend) race(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.races == 0 {
		return
	}
	b.races--
	b.rivals++

	snap, err := b.rival.Snapshot(ctx, "inv-1")
	if err != nil {
		panic(err)
	}
	_, err = b.rival.AppendAndRecompute(ctx, ledger.PaymentEntry{
		ID:          ledger.PaymentID("rival-" + strconv.Itoa(b.rivals)),
		InvoiceID:   "inv-1",
		Amount:      decimal.NewFromInt(10),
		Method:      ledger.MethodCash,
		CollectedBy: "other-terminal",
		Date:        ledger.DateOf(t0),
		RecordedAt:  t0,
	}, snap.Invoice.Version)
	if err != nil {
		panic(err)
	}
}

type trackingView struct {
	ledger.Store
	readLedger bool
	appended   bool
}

func (v *trackingView) GetLedger(ctx context.Context, id ledger.InvoiceID) ([]ledger.PaymentEntry, error) {
	v.readLedger = true
	return v.Store.GetLedger(ctx, id)
}

func (v *trackingView) AppendLedgerEntry(ctx context.Context, id ledger.InvoiceID, e ledger.PaymentEntry) error {
	v.appended = true
	return v.Store.AppendLedgerEntry(ctx, id, e)
}

func TestRecordPayment_VersionConflict_RetriedOnFreshState(t *testing.T) {
	// GIVEN: Another process commits between our read and our append
	// THEN: We re-read and commit on top of it

	clk := clock.NewFakeClock(t0)
	mem := store.NewTxMemory().WithClock(clk)
	require.NoError(t, mem.CreateInvoice(context.Background(), testInvoice("inv-1", "1000")))
	backend := newRacingBackend(mem, 1)
	svc := NewService(backend, Options{Clock: clk, MaxConflictRetries: 3})

	r, err := svc.RecordPayment(context.Background(), pay("inv-1", "100"))
	require.NoError(t, err)

	assert.Equal(t, 1, backend.rivals)
	require.Len(t, r.Invoice.Payments, 2)
	assert.Equal(t, "rival-1", string(r.Invoice.Payments[0].ID))
	assertMoney(t, "110.00", r.Invoice.PaidAmount)
	assert.Equal(t, int64(3), r.Invoice.Version)
}

func TestRecordPayment_VersionConflict_RetriesExhausted(t *testing.T) {
	clk := clock.NewFakeClock(t0)
	mem := store.NewTxMemory().WithClock(clk)
	require.NoError(t, mem.CreateInvoice(context.Background(), testInvoice("inv-1", "1000")))
	backend := newRacingBackend(mem, 100)
	svc := NewService(backend, Options{Clock: clk, MaxConflictRetries: 2})

	_, err := svc.RecordPayment(context.Background(), pay("inv-1", "100"))
	require.ErrorIs(t, err, ledger.ErrVersionConflict)
	assert.True(t, ledger.IsRetryable(err))
	assert.Equal(t, 3, backend.rivals, "one attempt plus two retries")

	entries, err := mem.GetLedger(context.Background(), "inv-1")
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, "studio-desk", e.CollectedBy)
	}
}

// =============================================================================
// ACCOUNTING BRIDGE
// =============================================================================

func TestRecordPayment_BridgeFailure_IsWarningNotError(t *testing.T) {
	// GIVEN: Accounting is down
	// WHEN: Recording a payment
	// THEN: The payment commits and a PartialSuccessWarning is attached

	b := bridge.Func(func(ctx context.Context, tr bridge.Transfer) error {
		return errors.New("accounting unreachable")
	})
	f := newFixture(t, Options{Bridge: b}, testInvoice("inv-1", "300"))

	r, err := f.svc.RecordPayment(context.Background(), pay("inv-1", "300"))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPaid, r.Invoice.Status)

	require.Len(t, r.Warnings, 1)
	var partial *ledger.PartialSuccessWarning
	require.ErrorAs(t, r.Warnings[0], &partial)
	assert.Equal(t, r.Payment.ID, partial.PaymentID)
	assert.Equal(t, "accounting_sync_failed", r.Warnings[0].Code())

	assert.Equal(t, 1, f.logs.FilterMessage("accounting sync failed").Len())
}

func TestRecordPayment_BridgeIgnoresCallerDeadline(t *testing.T) {
	var got bridge.Transfer
	var hadDeadline bool
	b := bridge.Func(func(ctx context.Context, tr bridge.Transfer) error {
		got = tr
		_, hadDeadline = ctx.Deadline()
		return ctx.Err()
	})
	f := newFixture(t, Options{Bridge: b}, testInvoice("inv-1", "300"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	r, err := f.svc.RecordPayment(ctx, pay("inv-1", "75.5"))
	require.NoError(t, err)
	assert.Empty(t, r.Warnings)
	assert.False(t, hadDeadline)

	assert.Equal(t, string(r.Payment.ID), got.PaymentID)
	assert.Equal(t, "Payment for invoice INV-inv-1", got.Description)
	assert.Equal(t, "2025-06-03", got.Date)
	assertMoney(t, "75.50", got.Amount)
}

// =============================================================================
// READ PATHS
// =============================================================================

func TestGetInvoice_StaleAggregates_RepairedOnRead(t *testing.T) {
	// GIVEN: Stored aggregates that lag the ledger (lost write)
	// WHEN: Reading the invoice twice
	// THEN: The first read repairs and persists; both return identical values

	f := newFixture(t, Options{}, testInvoice("inv-1", "1000"))
	ctx := context.Background()

	_, err := f.svc.RecordPayment(ctx, pay("inv-1", "400"))
	require.NoError(t, err)

	inv, err := f.mem.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	_, err = f.mem.SaveInvoiceAggregates(ctx, "inv-1", ledger.Compute(inv.Amount, nil), 0, inv.Version)
	require.NoError(t, err)

	first, err := f.svc.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	second, err := f.svc.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)

	assertMoney(t, "400.00", first.PaidAmount)
	assert.Equal(t, ledger.StatusPartial, first.Status)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, first.PaidAmount.String(), second.PaidAmount.String())

	stored, err := f.mem.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.AppliedSequence)
	assertMoney(t, "600.00", stored.BalanceAmount)
	assert.Equal(t, 1, f.logs.FilterMessage("repaired stale invoice aggregates").Len())
}

func TestGetInvoice_NotFound(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.svc.GetInvoice(context.Background(), "nope")
	assert.ErrorIs(t, err, ledger.ErrInvoiceNotFound)
}

func TestListAndImportInvoices(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	view, err := f.svc.ImportInvoice(ctx, ledger.Invoice{ID: " inv-9 ", Number: "INV-0009", Amount: ledger.MustParseMoney("0")})
	require.NoError(t, err)
	assert.Equal(t, ledger.InvoiceID("inv-9"), view.ID)
	assert.Equal(t, ledger.StatusPaid, view.Status, "zero-total invoices are settled")
	assert.Equal(t, int64(1), view.Version)

	_, err = f.svc.ImportInvoice(ctx, ledger.Invoice{ID: "inv-9", Amount: ledger.MustParseMoney("10")})
	assert.ErrorIs(t, err, ledger.ErrInvoiceExists)

	_, err = f.svc.ImportInvoice(ctx, ledger.Invoice{ID: "inv-10", Amount: ledger.MustParseMoney("-1")})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	list, err := f.svc.ListInvoices(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Payments)
}

func TestImportInvoice_SubCentTotal_RoundedBeforeStore(t *testing.T) {
	// GIVEN: An invoice total with three decimal places
	f := newFixture(t, Options{})
	ctx := context.Background()

	// WHEN: It is imported and paid in full at two decimals
	view, err := f.svc.ImportInvoice(ctx, ledger.Invoice{ID: "inv-sub", Amount: ledger.MustParseMoney("100.005")})
	require.NoError(t, err)
	assertMoney(t, "100.00", view.Amount)

	receipt, err := f.svc.RecordPayment(ctx, pay("inv-sub", "100.00"))
	require.NoError(t, err)

	// THEN: The invoice is settled and nothing more can be paid
	assert.Equal(t, ledger.StatusPaid, receipt.Invoice.Status)
	assertMoney(t, "0.00", receipt.Invoice.BalanceAmount)

	_, err = f.svc.RecordPayment(ctx, pay("inv-sub", "0.01"))
	assert.ErrorIs(t, err, ledger.ErrAmountExceedsBalance)
	var verr *ledger.ValidationError
	require.ErrorAs(t, err, &verr)
	require.NotNil(t, verr.Remaining)
	assertMoney(t, "0.00", *verr.Remaining)
}

// =============================================================================
// RECONCILE
// =============================================================================

func TestReconcile_RepairsAndFlags(t *testing.T) {
	// GIVEN: One healthy invoice, one with stale aggregates, one overpaid by
	//        a row written behind the service's back
	// THEN: Reconcile repairs the stale one and flags the overpaid one

	f := newFixture(t, Options{},
		testInvoice("inv-a", "100"),
		testInvoice("inv-b", "100"),
		testInvoice("inv-c", "100"),
	)
	ctx := context.Background()

	_, err := f.svc.RecordPayment(ctx, pay("inv-a", "40"))
	require.NoError(t, err)
	_, err = f.svc.RecordPayment(ctx, pay("inv-b", "40"))
	require.NoError(t, err)

	b, err := f.mem.GetInvoice(ctx, "inv-b")
	require.NoError(t, err)
	_, err = f.mem.SaveInvoiceAggregates(ctx, "inv-b", ledger.Compute(b.Amount, nil), 0, b.Version)
	require.NoError(t, err)

	require.NoError(t, f.mem.AppendLedgerEntry(ctx, "inv-c", ledger.PaymentEntry{
		ID: "manual-1", InvoiceID: "inv-c", Type: ledger.EntryPayment,
		Amount: ledger.MustParseMoney("130"), Method: ledger.MethodCash,
		CollectedBy: "import", RecordedAt: t0, Sequence: 1,
	}))

	report, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.ElementsMatch(t, []ledger.InvoiceID{"inv-b", "inv-c"}, report.Repaired)
	require.Len(t, report.Overpaid, 1)
	assert.Equal(t, ledger.InvoiceID("inv-c"), report.Overpaid[0].InvoiceID)
	assertMoney(t, "30.00", report.Overpaid[0].Excess)
	assert.Empty(t, report.Failed)
	assert.False(t, report.Clean())

	again, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Repaired)
}

func TestReconcile_CanceledContext(t *testing.T) {
	f := newFixture(t, Options{}, testInvoice("inv-a", "100"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.svc.Reconcile(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Zero(t, report.Checked)
}

func TestReset(t *testing.T) {
	f := newFixture(t, Options{}, testInvoice("inv-a", "100"))
	ctx := context.Background()

	require.NoError(t, f.svc.Reset(ctx))
	list, err := f.svc.ListInvoices(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
