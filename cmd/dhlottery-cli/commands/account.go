package commands

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(ledgerCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Establishes a session with the configured credentials.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := createClient()
		if err := client.Login(cmd.Context()); err != nil {
			return err
		}
		slog.Info("session established")
		return nil
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Prints the deposit balance and unclaimed-win counters.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := createClient()
		summary, err := client.FetchAccountSummary(cmd.Context())
		if err != nil {
			return err
		}
		printJSON(summary)
		return nil
	},
}

var (
	ledgerStart *string
	ledgerEnd   *string
)

func init() {
	ledgerStart = ledgerCmd.Flags().String("start", "", "Start date (YYYYMMDD), defaults to today KST.")
	ledgerEnd = ledgerCmd.Flags().String("end", "", "End date (YYYYMMDD), defaults to today KST.")
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger [--start <YYYYMMDD>] [--end <YYYYMMDD>]",
	Short: "Prints the purchase history for a date range.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := createClient()
		ledger, err := client.FetchPurchaseLedger(cmd.Context(), *ledgerStart, *ledgerEnd)
		if err != nil {
			return err
		}
		printJSON(ledger)
		return nil
	},
}
