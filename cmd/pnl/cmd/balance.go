package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pnl-tracker/internal/app"
	"github.com/pnl-tracker/internal/service"
)

var showBalanceCmd = &cobra.Command{
	Use:   "show-balance",
	Short: "Show the latest stored balance with its per-asset breakdown",
	Args:  cobra.NoArgs,
	RunE:  runShowBalance,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored daily balance totals, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored data as CSV",
}

var exportBalancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "Export balance snapshots, one row per asset",
	Long: `Export balance snapshots as CSV, one row per asset per day.

Examples:
  pnl export balances --limit 90 > balances.csv
  pnl export balances -o balances.csv`,
	Args: cobra.NoArgs,
	RunE: runExportBalances,
}

var (
	showAllFlag  bool
	historyLimit int
	exportLimit  int
	exportOutput string
)

func init() {
	rootCmd.AddCommand(showBalanceCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(exportCmd)
	exportCmd.AddCommand(exportBalancesCmd)

	showBalanceCmd.Flags().BoolVar(&showAllFlag, "all", false, "include dust balances")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", service.DefaultHistoryLimit, "number of days")
	exportBalancesCmd.Flags().IntVarP(&exportLimit, "limit", "n", service.MaxHistoryLimit, "number of days")
	exportBalancesCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file instead of stdout")
}

func runShowBalance(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app.App) error {
		account, err := queryAccount(a)
		if err != nil {
			return err
		}
		snapshot, err := a.Query.LatestBalance(cmd.Context(), account)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), renderBalance(snapshot, showAllFlag))
		return nil
	})
}

func runHistory(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app.App) error {
		account, err := queryAccount(a)
		if err != nil {
			return err
		}
		snapshots, err := a.Query.BalanceHistory(cmd.Context(), account, service.Page{Limit: historyLimit})
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), renderHistory(snapshots))
		return nil
	})
}

func runExportBalances(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app.App) error {
		account, err := queryAccount(a)
		if err != nil {
			return err
		}
		snapshots, err := a.Query.BalanceHistory(cmd.Context(), account, service.Page{Limit: exportLimit})
		if err != nil {
			return err
		}

		if exportOutput == "" {
			return writeBalancesCSV(cmd.OutOrStdout(), snapshots)
		}

		f, err := os.Create(exportOutput) // #nosec G304 - path chosen by the operator
		if err != nil {
			return fmt.Errorf("create %s: %w", exportOutput, err)
		}
		if err := writeBalancesCSV(f, snapshots); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d snapshot(s) to %s\n", len(snapshots), exportOutput)
		return nil
	})
}
