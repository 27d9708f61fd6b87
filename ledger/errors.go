/*
errors.go - Error taxonomy for the payment ledger

PURPOSE:
  All error types in one place. Callers branch with errors.Is / errors.As;
  the HTTP layer maps categories to status codes.

ERROR CATEGORIES:
  1. Validation  - bad amount, overpayment, bad method/date/collector.
                   Zero side effects guaranteed.
  2. Not found   - unknown invoice id. Zero side effects guaranteed.
  3. Conflict    - optimistic version check failed; safe to retry.
  4. Persistence - a durable write failed; safe to retry with the same
                   payment id, the ledger deduplicates on it.
  5. Warnings    - the payment committed but a side channel failed.
                   Never returned as an error.

SEE ALSO:
  - ledger.go: raises VersionConflictError and overpayment ValidationError
  - invoice/recorder.go: raises the rest and produces PartialSuccessWarning
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidAmount is returned for zero, negative or unparseable amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrAmountExceedsBalance is returned when a payment would overpay the invoice.
	ErrAmountExceedsBalance = errors.New("amount exceeds remaining balance")

	// ErrInvalidPayment is returned for a bad method, date or collector.
	ErrInvalidPayment = errors.New("invalid payment")

	// ErrIdempotencyKeyReused is returned when a payment id is replayed with a
	// different invoice or amount than the one it was first committed with.
	ErrIdempotencyKeyReused = errors.New("payment id already used for a different payment")

	// ErrInvoiceNotFound is returned when the invoice id is unknown.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrInvoiceExists is returned when importing an invoice id twice.
	ErrInvoiceExists = errors.New("invoice already exists")

	// ErrDuplicatePayment is returned by stores when an entry id is already committed.
	ErrDuplicatePayment = errors.New("duplicate payment id")

	// ErrVersionConflict is returned when optimistic locking detects a concurrent write.
	ErrVersionConflict = errors.New("invoice version conflict")

	// ErrPersistence matches every *PersistenceError.
	ErrPersistence = errors.New("persistence failed")

	// ErrUnsupportedEntryType is returned for entry types the ledger cannot fold yet.
	ErrUnsupportedEntryType = errors.New("unsupported ledger entry type")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes rejected input. Reason is one of the validation
// sentinels above; Remaining is set for overpayments.
type ValidationError struct {
	Field     string
	Message   string
	Reason    error
	Remaining *decimal.Decimal
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() []error {
	if e.Reason == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Reason}
}

// NewExceedsBalanceError reports a payment larger than the remaining balance.
func NewExceedsBalanceError(requested, remaining decimal.Decimal) *ValidationError {
	rem := RoundMoney(remaining)
	return &ValidationError{
		Field:     "amount",
		Message:   fmt.Sprintf("amount %s exceeds remaining balance %s", FormatMoney(requested), FormatMoney(rem)),
		Reason:    ErrAmountExceedsBalance,
		Remaining: &rem,
	}
}

// NotFoundError identifies the missing invoice.
type NotFoundError struct {
	InvoiceID InvoiceID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("invoice %s not found", e.InvoiceID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrInvoiceNotFound
}

// VersionConflictError reports a failed compare-and-swap on the invoice version.
type VersionConflictError struct {
	InvoiceID InvoiceID
	Expected  int64
	Actual    int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("invoice %s changed concurrently: expected version %d, found %d",
		e.InvoiceID, e.Expected, e.Actual)
}

func (e *VersionConflictError) Unwrap() error {
	return ErrVersionConflict
}

// PersistenceError wraps a storage failure. No partial state is visible after one.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger: %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// =============================================================================
// WARNINGS - Non-fatal conditions attached to a committed payment
// =============================================================================

// Warning is a non-fatal condition. It is reported alongside a successful
// result and never causes a rollback.
type Warning interface {
	error
	Code() string
}

// PartialSuccessWarning means the payment is committed but forwarding it to
// the accounting system failed.
type PartialSuccessWarning struct {
	InvoiceID InvoiceID
	PaymentID PaymentID
	Err       error
}

func (w *PartialSuccessWarning) Error() string {
	return fmt.Sprintf("payment %s recorded on invoice %s but accounting sync failed: %v",
		w.PaymentID, w.InvoiceID, w.Err)
}

func (w *PartialSuccessWarning) Code() string { return "accounting_sync_failed" }

func (w *PartialSuccessWarning) Unwrap() error { return w.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the same request may succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrPersistence)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrIdempotencyKeyReused)
}

// IsNotFound returns true if the error indicates a missing invoice.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInvoiceNotFound)
}
