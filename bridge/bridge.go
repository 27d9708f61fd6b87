/*
Package bridge forwards committed payments to the downstream accounting system.

PURPOSE:
  The studio's finance ledger keeps its own record of money received.
  After a payment is committed here, a Transfer describing it is sent
  there. Nothing flows back: the call reports success or failure only.

BEST EFFORT:
  Forwarding happens after the payment commit and can never undo it.
  Callers turn a failed Forward into a ledger.PartialSuccessWarning.

BOUNDED BLOCKING:
  WithRetry gives each attempt its own timeout and allows at most one
  retry, so a slow accounting system delays a RecordPayment response by
  at most 2 x timeout plus a short pause.

IMPLEMENTATIONS:
  - HTTP: JSON POST to a configured endpoint
  - Noop: forwarding disabled
  - Func: adapter for tests and in-process sinks
*/
package bridge

import (
	"context"

	"github.com/shopspring/decimal"
)

// Transfer is what the accounting system receives for one payment.
type Transfer struct {
	PaymentID   string          `json:"payment_id"`
	InvoiceID   string          `json:"invoice_id"`
	ClientName  string          `json:"client_name"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date"`
	Method      string          `json:"method"`
	Description string          `json:"description"`
}

// Bridge forwards a transfer. A nil error means the downstream accepted it.
type Bridge interface {
	Forward(ctx context.Context, t Transfer) error
}

// Noop accepts every transfer without sending it anywhere.
type Noop struct{}

func (Noop) Forward(context.Context, Transfer) error { return nil }

// Func adapts a function to Bridge.
type Func func(ctx context.Context, t Transfer) error

func (f Func) Forward(ctx context.Context, t Transfer) error { return f(ctx, t) }
