package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pnl-tracker/internal/app"
	"github.com/pnl-tracker/internal/models"
	"github.com/pnl-tracker/internal/service"
)

var returnsCmd = &cobra.Command{
	Use:   "returns",
	Short: "List daily returns, newest first, with total and average",
	Args:  cobra.NoArgs,
	RunE:  runReturns,
}

var latestReturnCmd = &cobra.Command{
	Use:   "latest-return",
	Short: "Show the most recent daily return",
	Args:  cobra.NoArgs,
	RunE:  runLatestReturn,
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List accounts with stored snapshots",
	Args:  cobra.NoArgs,
	RunE:  runAccounts,
}

var tradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "List stored trades, newest first",
	Args:  cobra.NoArgs,
	RunE:  runTrades,
}

var (
	returnsLimit int
	tradesLimit  int
)

func init() {
	rootCmd.AddCommand(returnsCmd)
	rootCmd.AddCommand(latestReturnCmd)
	rootCmd.AddCommand(accountsCmd)
	rootCmd.AddCommand(tradesCmd)

	returnsCmd.Flags().IntVarP(&returnsLimit, "limit", "n", service.DefaultHistoryLimit, "number of days")
	tradesCmd.Flags().IntVarP(&tradesLimit, "limit", "n", 20, "number of trades")
}

func runReturns(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app.App) error {
		account, err := queryAccount(a)
		if err != nil {
			return err
		}
		returns, err := a.Query.ReturnHistory(cmd.Context(), account, service.Page{Limit: returnsLimit})
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), renderReturns(returns))
		return nil
	})
}

func runLatestReturn(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app.App) error {
		account, err := queryAccount(a)
		if err != nil {
			return err
		}
		r, err := a.Query.LatestReturn(cmd.Context(), account)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s -> %s\n",
			titleStyle.Render(account.String()),
			models.DateString(r.PreviousDate),
			models.DateString(r.ReturnDate),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "Return: %s\n", returnLine(r))
		return nil
	})
}

func runAccounts(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app.App) error {
		exchange := ""
		if cmd.Flags().Changed("exchange") {
			exchange = exchangeFlag
		}
		accounts, err := a.Query.Accounts(cmd.Context(), exchange)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), renderAccounts(accounts))
		return nil
	})
}

func runTrades(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app.App) error {
		account, err := queryAccount(a)
		if err != nil {
			return err
		}
		trades, err := a.Query.TradeHistory(cmd.Context(), account, service.Page{Limit: tradesLimit})
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), renderTrades(trades))
		return nil
	})
}
