package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/pnl-tracker/internal/app"
	"github.com/pnl-tracker/internal/config"
	"github.com/pnl-tracker/internal/logging"
	"github.com/pnl-tracker/internal/models"
)

var rootCmd = &cobra.Command{
	Use:   "pnl",
	Short: "Track exchange account balances and daily returns",
	Long: `pnl pulls account balances from Kraken (and Binance), stores one USD
valued snapshot per account per day and derives the daily return against
the previous stored day.

Examples:
  pnl pull
  pnl show-balance --all
  pnl returns --limit 7
  pnl export balances > balances.csv`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

var (
	exchangeFlag string
	accountFlag  string
	verboseFlag  bool

	cfg    *config.Config
	logger *logging.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&exchangeFlag, "exchange", "e", config.ExchangeKraken, "exchange of the account")
	rootCmd.PersistentFlags().StringVarP(&accountFlag, "account", "a", "", "account id (defaults to the only configured account)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "log progress to stderr")
}

// ExecuteContext runs the root command with ctx
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.LoadConfig()
	if err != nil {
		return err
	}

	level := logging.LevelWarn
	if verboseFlag {
		level = logging.ParseLogLevel(cfg.Logging.Level)
	}
	logger = logging.NewLoggerWithOutput(level, logging.ParseLogFormat(cfg.Logging.Format), os.Stderr)
	return nil
}

// withApp builds the service graph for the duration of fn
func withApp(fn func(a *app.App) error) error {
	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// configuredAccount resolves the flags to a configured account with credentials
func configuredAccount() (config.AccountConfig, error) {
	return cfg.FindAccount(exchangeFlag, accountFlag)
}

// queryAccount resolves the flags to a stored account
func queryAccount(a *app.App) (models.Account, error) {
	return a.Query.ResolveAccount(exchangeFlag, accountFlag)
}
