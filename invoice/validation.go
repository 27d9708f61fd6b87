package invoice

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/framehouse/studio-ledger/ledger"
)

const (
	maxCollectedByLen = 100
	maxPaymentIDLen   = 128
)

// PaymentRequest is one payment as entered in a form or CLI. Every field is
// untrusted and re-validated here.
type PaymentRequest struct {
	InvoiceID ledger.InvoiceID
	// PaymentID is the idempotency key. Empty means generate one.
	PaymentID ledger.PaymentID
	Amount    decimal.Decimal
	// Date is the business date of the payment. Zero means today.
	Date        ledger.BusinessDate
	Method      string
	CollectedBy string
}

// payment is a validated, normalized PaymentRequest.
type payment struct {
	invoiceID   ledger.InvoiceID
	id          ledger.PaymentID
	amount      decimal.Decimal
	date        ledger.BusinessDate
	method      ledger.Method
	collectedBy string
}

// validate checks the request shape. It never touches storage; balance
// checks happen against live state inside the commit.
func validate(req PaymentRequest, today ledger.BusinessDate) (payment, error) {
	p := payment{
		invoiceID:   ledger.InvoiceID(strings.TrimSpace(string(req.InvoiceID))),
		id:          ledger.PaymentID(strings.TrimSpace(string(req.PaymentID))),
		amount:      ledger.RoundMoney(req.Amount),
		date:        req.Date,
		collectedBy: strings.TrimSpace(req.CollectedBy),
	}

	if p.invoiceID == "" {
		return p, invalidPayment("invoice_id", "is required")
	}

	if !p.amount.IsPositive() {
		return p, &ledger.ValidationError{
			Field:   "amount",
			Message: "must be greater than zero",
			Reason:  ledger.ErrInvalidAmount,
		}
	}

	method, ok := ledger.ParseMethod(req.Method)
	if !ok {
		return p, invalidPayment("method", fmt.Sprintf("unknown payment method %q (accepted: %s)", req.Method, methodList()))
	}
	p.method = method

	switch {
	case p.collectedBy == "":
		return p, invalidPayment("collected_by", "is required")
	case len(p.collectedBy) > maxCollectedByLen:
		return p, invalidPayment("collected_by", fmt.Sprintf("must be at most %d characters", maxCollectedByLen))
	}

	if p.date.IsZero() {
		p.date = today
	}
	// One day of slack for clients ahead of UTC.
	if p.date.After(ledger.DateOf(today.Time.AddDate(0, 0, 1))) {
		return p, invalidPayment("date", fmt.Sprintf("%s is in the future", p.date))
	}

	if p.id != "" {
		if len(p.id) > maxPaymentIDLen {
			return p, invalidPayment("payment_id", fmt.Sprintf("must be at most %d characters", maxPaymentIDLen))
		}
		if strings.IndexFunc(string(p.id), func(r rune) bool { return !unicode.IsPrint(r) || unicode.IsSpace(r) }) >= 0 {
			return p, invalidPayment("payment_id", "must not contain whitespace or control characters")
		}
	}

	return p, nil
}

func invalidPayment(field, msg string) *ledger.ValidationError {
	return &ledger.ValidationError{Field: field, Message: msg, Reason: ledger.ErrInvalidPayment}
}

func methodList() string {
	names := make([]string, len(ledger.Methods))
	for i, m := range ledger.Methods {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}
