/*
main.go - Application entry point

PURPOSE:
  Starts the studio ledger server and hosts the operator commands.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve       HTTP API, event streams and the reconcile scheduler (default)
  reconcile   One reconcile sweep, then exit
  pay         Record one payment from the shell
  import      Import invoices from a JSON file

STARTUP SEQUENCE (serve):
  1. Load config (YAML file, .env, STUDIO_LEDGER_* variables)
  2. Build the zap logger
  3. Open the SQLite store
  4. Wire metrics, accounting bridge, event hub and invoice service
  5. Configure HTTP router and start the reconcile scheduler
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the reconcile scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (server.shutdown_timeout)
  4. Close database connection

EXAMPLES:
  # Run with defaults (./data/studio-ledger.db on :8080)
  ./server

  # Run with in-memory database
  STUDIO_LEDGER_DB_PATH=":memory:" ./server serve

  # Record a payment
  ./server pay inv-wed-001 42500 --method bank_transfer --by priya

SEE ALSO:
  - config/config.go: Settings and environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "studio-ledger",
	Short: "Invoice payment ledger for the studio",
	Long: `studio-ledger records client payments against invoices, keeps paid
and balance amounts consistent with the payment ledger, and forwards
committed payments to the accounting system.

Running without a subcommand starts the HTTP server.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "studio-ledger.yaml", "YAML config file (optional)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(payCmd)
	rootCmd.AddCommand(importCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
