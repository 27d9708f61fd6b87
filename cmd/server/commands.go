package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/framehouse/studio-ledger/factory"
	"github.com/framehouse/studio-ledger/invoice"
	"github.com/framehouse/studio-ledger/ledger"
)

// =============================================================================
// RECONCILE
// =============================================================================

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Rebuild stale invoice aggregates and flag overpaid ledgers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.service.Reconcile(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "checked %d invoices\n", report.Checked)
		for _, id := range report.Repaired {
			fmt.Fprintf(out, "repaired  %s\n", id)
		}
		for _, o := range report.Overpaid {
			fmt.Fprintf(out, "OVERPAID  %s by %s\n", o.InvoiceID, ledger.FormatMoney(o.Excess))
		}
		for _, f := range report.Failed {
			fmt.Fprintf(out, "failed    %s: %v\n", f.InvoiceID, f.Err)
		}
		if len(report.Failed) > 0 || len(report.Overpaid) > 0 {
			return fmt.Errorf("reconcile found %d overpaid and %d failed invoices", len(report.Overpaid), len(report.Failed))
		}
		return nil
	},
}

// =============================================================================
// PAY
// =============================================================================

var payFlags struct {
	method      string
	collectedBy string
	date        string
	paymentID   string
}

var payCmd = &cobra.Command{
	Use:   "pay <invoice-id> <amount>",
	Short: "Record a payment against an invoice",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := decimal.NewFromString(args[1])
		if err != nil {
			return fmt.Errorf("amount %q: %w", args[1], ledger.ErrInvalidAmount)
		}
		var date ledger.BusinessDate
		if payFlags.date != "" {
			if date, err = ledger.ParseDate(payFlags.date); err != nil {
				return err
			}
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		receipt, err := a.service.RecordPayment(cmd.Context(), invoice.PaymentRequest{
			InvoiceID:   ledger.InvoiceID(args[0]),
			PaymentID:   ledger.PaymentID(payFlags.paymentID),
			Amount:      amount,
			Date:        date,
			Method:      payFlags.method,
			CollectedBy: payFlags.collectedBy,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		verb := "recorded"
		if receipt.Replayed {
			verb = "already recorded"
		}
		fmt.Fprintf(out, "payment %s %s: %s by %s on %s\n",
			receipt.Payment.ID, verb, ledger.FormatMoney(receipt.Payment.Amount), receipt.Payment.Method, receipt.Payment.Date)
		fmt.Fprintf(out, "invoice %s: paid %s, balance %s, %s\n",
			receipt.Invoice.ID, ledger.FormatMoney(receipt.Invoice.PaidAmount), ledger.FormatMoney(receipt.Invoice.BalanceAmount), receipt.Invoice.Status)
		for _, w := range receipt.Warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning [%s]: %v\n", w.Code(), w)
		}
		return nil
	},
}

func init() {
	payCmd.Flags().StringVarP(&payFlags.method, "method", "m", string(ledger.MethodCash), "payment method")
	payCmd.Flags().StringVar(&payFlags.collectedBy, "by", "", "staff member who collected the payment (required)")
	payCmd.Flags().StringVar(&payFlags.date, "date", "", "business date YYYY-MM-DD (default today)")
	payCmd.Flags().StringVar(&payFlags.paymentID, "id", "", "payment id, reuse it to retry safely")
	payCmd.MarkFlagRequired("by")
}

// =============================================================================
// IMPORT
// =============================================================================

var importCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Import invoices from a JSON object or array",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		invoices, err := parseInvoiceFile(data)
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var imported, skipped int
		for _, inv := range invoices {
			_, err := a.service.ImportInvoice(cmd.Context(), inv)
			switch {
			case errors.Is(err, ledger.ErrInvoiceExists):
				skipped++
				a.log.Warn("invoice already exists, skipped", zap.String("invoice_id", string(inv.ID)))
			case err != nil:
				return fmt.Errorf("invoice %s: %w", inv.ID, err)
			default:
				imported++
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d invoices, skipped %d existing\n", imported, skipped)
		return nil
	},
}

func parseInvoiceFile(data []byte) ([]ledger.Invoice, error) {
	f := factory.NewInvoiceFactory()
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		return f.ParseInvoices(trimmed)
	}
	inv, err := f.ParseInvoice(trimmed)
	if err != nil {
		return nil, err
	}
	return []ledger.Invoice{*inv}, nil
}
