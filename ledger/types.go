/*
Package ledger provides the invoice payment ledger and its reconciliation engine.

PURPOSE:
  This package owns the data model for invoices and their payment history,
  the pure computation that derives an invoice's paid/balance/status from
  that history, and the persistence contracts every store must honour.
  It does no HTTP, no logging and no network I/O.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal, rounded half-even to 2 places when stored
  - Invoice: authoritative invoice record with cached aggregates
  - PaymentEntry: an immutable ledger row, ordered by (RecordedAt, Sequence)
  - Aggregate: the derived paid/balance/status triple

DESIGN PRINCIPLES:
  1. The ledger is the source of truth; invoice aggregates are a projection
  2. Entries are never updated or deleted once committed
  3. No binary floating point anywhere money is handled
  4. Every entry carries its own idempotency key (its ID)

SEE ALSO:
  - reconcile.go: Compute, the reconciliation engine
  - store.go: persistence contracts
  - ledger.go: DefaultLedger, the transactional append-and-recompute unit
*/
package ledger

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// MoneyPlaces is the number of decimal places every stored amount carries.
const MoneyPlaces = 2

// RoundMoney rounds d to MoneyPlaces using round-half-even.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(MoneyPlaces)
}

// FormatMoney renders d with exactly MoneyPlaces decimals.
func FormatMoney(d decimal.Decimal) string {
	return RoundMoney(d).StringFixedBank(MoneyPlaces)
}

// ParseMoney parses a decimal string such as "1250.50". The result is not rounded.
func ParseMoney(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(s))
}

// MustParseMoney is ParseMoney for literals in tests and fixtures; it panics on bad input.
func MustParseMoney(s string) decimal.Decimal {
	d, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type InvoiceID string
type PaymentID string

// =============================================================================
// INVOICE
// =============================================================================

type Status string

const (
	StatusPending Status = "pending"
	StatusPartial Status = "partial"
	StatusPaid    Status = "paid"
)

// rank orders statuses along the only legal direction of travel.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusPartial:
		return 1
	case StatusPaid:
		return 2
	default:
		return -1
	}
}

// CanAdvanceTo reports whether moving from s to next keeps status monotonic.
func (s Status) CanAdvanceTo(next Status) bool {
	return next.rank() >= s.rank() && next.rank() >= 0
}

type LineItem struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

// Total is the exact (unrounded) line total.
func (li LineItem) Total() decimal.Decimal {
	return li.Quantity.Mul(li.UnitPrice)
}

// Invoice is the authoritative invoice record. PaidAmount, BalanceAmount and
// Status are a cached projection of the invoice's ledger.
type Invoice struct {
	ID         InvoiceID
	Number     string
	ClientID   string
	ClientName string

	Amount        decimal.Decimal
	PaidAmount    decimal.Decimal
	BalanceAmount decimal.Decimal
	Status        Status

	LineItems []LineItem
	Notes     string

	// Version is the optimistic concurrency token; every aggregate write bumps it.
	Version int64
	// AppliedSequence is the highest ledger sequence folded into the aggregates.
	AppliedSequence int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Aggregate returns the cached aggregate stored on the invoice.
func (inv Invoice) Aggregate() Aggregate {
	return Aggregate{Paid: inv.PaidAmount, Balance: inv.BalanceAmount, Status: inv.Status}
}

// WithAggregate returns a copy of inv carrying agg.
func (inv Invoice) WithAggregate(agg Aggregate, appliedSequence int64) Invoice {
	inv.PaidAmount = agg.Paid
	inv.BalanceAmount = agg.Balance
	inv.Status = agg.Status
	inv.AppliedSequence = appliedSequence
	return inv
}

// Clone returns a deep copy so callers cannot alias store-owned slices.
func (inv Invoice) Clone() Invoice {
	if inv.LineItems != nil {
		inv.LineItems = append([]LineItem(nil), inv.LineItems...)
	}
	return inv
}

// =============================================================================
// PAYMENT ENTRY - Immutable ledger row
// =============================================================================

// EntryType distinguishes payments from future offsetting entries.
// Only EntryPayment is accepted today.
type EntryType string

const (
	EntryPayment    EntryType = "payment"
	EntryCorrection EntryType = "correction" // reserved, rejected by the ledger
)

type Method string

const (
	MethodCash         Method = "cash"
	MethodBankTransfer Method = "bank_transfer"
	MethodCard         Method = "card"
	MethodUPI          Method = "upi"
	MethodCheque       Method = "cheque"
	MethodOther        Method = "other"
)

// Methods lists every accepted payment method.
var Methods = []Method{MethodCash, MethodBankTransfer, MethodCard, MethodUPI, MethodCheque, MethodOther}

// ParseMethod normalizes free-form input ("Bank Transfer", "bank-transfer") to a Method.
func ParseMethod(s string) (Method, bool) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	switch normalized {
	case "check":
		normalized = string(MethodCheque)
	case "bank", "transfer":
		normalized = string(MethodBankTransfer)
	}
	for _, m := range Methods {
		if string(m) == normalized {
			return m, true
		}
	}
	return "", false
}

// PaymentEntry is one committed payment. Never mutated after commit.
type PaymentEntry struct {
	ID          PaymentID
	InvoiceID   InvoiceID
	Type        EntryType
	Date        BusinessDate
	Amount      decimal.Decimal
	Method      Method
	CollectedBy string

	// RecordedAt is the system time of persistence; Sequence breaks ties.
	RecordedAt time.Time
	Sequence   int64
}

// SortEntries orders entries by (RecordedAt, Sequence) ascending, in place.
func SortEntries(entries []PaymentEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entryLess(entries[i], entries[j])
	})
}

func entryLess(a, b PaymentEntry) bool {
	if !a.RecordedAt.Equal(b.RecordedAt) {
		return a.RecordedAt.Before(b.RecordedAt)
	}
	return a.Sequence < b.Sequence
}

// LastSequence returns the highest sequence in entries, or 0.
func LastSequence(entries []PaymentEntry) int64 {
	var last int64
	for _, e := range entries {
		if e.Sequence > last {
			last = e.Sequence
		}
	}
	return last
}
