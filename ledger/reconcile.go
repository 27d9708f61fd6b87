package ledger

import "github.com/shopspring/decimal"

// =============================================================================
// RECONCILIATION ENGINE - Pure derivation of invoice aggregates
// =============================================================================

// Aggregate is the derived payment state of one invoice.
type Aggregate struct {
	Paid    decimal.Decimal
	Balance decimal.Decimal
	Status  Status
}

// Equal compares aggregates by value; decimals with different exponents but
// equal values compare equal.
func (a Aggregate) Equal(b Aggregate) bool {
	return a.Paid.Equal(b.Paid) && a.Balance.Equal(b.Balance) && a.Status == b.Status
}

// PaidTotal is the exact sum of payment entries. Non-payment entry types do
// not contribute.
func PaidTotal(entries []PaymentEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if e.Type != EntryPayment {
			continue
		}
		total = total.Add(e.Amount)
	}
	return total
}

// Compute derives {paid, balance, status} from an invoice total and its ledger.
//
// Sums are exact; only the returned values are rounded (half-even, 2 places).
// Status is decided on the rounded values, so it always agrees with them.
// Status rules:
//   - paid    when balance <= 0 (this includes a zero-total invoice)
//   - pending when nothing has been paid
//   - partial otherwise
//
// Balance never goes below zero. An over-paid ledger still reports paid with a
// zero balance; detecting that is Overpaid's job.
func Compute(invoiceAmount decimal.Decimal, entries []PaymentEntry) Aggregate {
	exactPaid := PaidTotal(entries)
	paid := RoundMoney(exactPaid)
	balance := RoundMoney(invoiceAmount.Sub(exactPaid))

	var status Status
	switch {
	case !balance.IsPositive():
		status = StatusPaid
	case paid.IsZero():
		status = StatusPending
	default:
		status = StatusPartial
	}

	if balance.IsNegative() {
		balance = decimal.Zero
	}
	return Aggregate{
		Paid:    paid,
		Balance: balance,
		Status:  status,
	}
}

// Overpaid reports by how much the ledger exceeds the invoice total, if at all.
func Overpaid(invoiceAmount decimal.Decimal, entries []PaymentEntry) (decimal.Decimal, bool) {
	excess := PaidTotal(entries).Sub(invoiceAmount)
	if excess.IsPositive() {
		return RoundMoney(excess), true
	}
	return decimal.Zero, false
}
