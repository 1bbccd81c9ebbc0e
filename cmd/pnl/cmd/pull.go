package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pnl-tracker/internal/app"
	apperrors "github.com/pnl-tracker/internal/errors"
	"github.com/pnl-tracker/internal/service"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Fetch the balance, store today's snapshot and compute the daily return",
	Long: `Fetch the account's balance and prices, store today's snapshot, derive the
daily return against the previous stored day and sync new trades.

Running pull again on the same day overwrites that day's snapshot.`,
	Args: cobra.NoArgs,
	RunE: runPull,
}

var testConnectionCmd = &cobra.Command{
	Use:   "test-connection",
	Short: "Check the exchange credentials by fetching the balance",
	Args:  cobra.NoArgs,
	RunE:  runTestConnection,
}

func init() {
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(testConnectionCmd)
}

func runPull(cmd *cobra.Command, args []string) error {
	acc, err := configuredAccount()
	if err != nil {
		return err
	}

	return withApp(func(a *app.App) error {
		res, err := a.Pull.PullAndReconcile(cmd.Context(), acc)
		if res == nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), renderPull(res, err))
		return nil
	})
}

func runTestConnection(cmd *cobra.Command, args []string) error {
	acc, err := configuredAccount()
	if err != nil {
		return err
	}

	client, err := service.NewClientPool(cfg.Exchange).Client(acc)
	if err != nil {
		return err
	}

	balance, err := client.FetchBalance(cmd.Context())
	if err != nil {
		if apperrors.Categorize(err).Code == "PROVIDER_AUTH" {
			return fmt.Errorf("credentials rejected by %s: %w", client.Name(), err)
		}
		return fmt.Errorf("connection to %s failed: %w", client.Name(), err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), gainStyle.Render(fmt.Sprintf("Connected to %s as %s", client.Name(), acc.AccountID())))
	fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render(fmt.Sprintf("%d asset(s) reported", len(balance))))
	return nil
}
