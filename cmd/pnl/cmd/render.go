package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"

	"github.com/pnl-tracker/internal/format"
	"github.com/pnl-tracker/internal/models"
	"github.com/pnl-tracker/internal/service"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	gain      = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	loss      = lipgloss.AdaptiveColor{Light: "#D7263D", Dark: "#FF5F5F"}

	titleStyle  = lipgloss.NewStyle().Foreground(highlight).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(subtle)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	gainStyle   = lipgloss.NewStyle().Foreground(gain)
	lossStyle   = lipgloss.NewStyle().Foreground(loss)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// signed colors a return by its sign
func signed(d decimal.Decimal, text string) string {
	switch d.Sign() {
	case 1:
		return gainStyle.Render(text)
	case -1:
		return lossStyle.Render(text)
	default:
		return text
	}
}

func returnLine(r *models.DailyReturn) string {
	return signed(r.DailyReturnUSD, format.SignedUSD(r.DailyReturnUSD)+" ("+format.Percent(r.DailyReturnPct)+")")
}

// renderBalance prints a snapshot with its per-asset breakdown
func renderBalance(s *models.BalanceSnapshot, includeDust bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", titleStyle.Render(s.Exchange+"/"+s.AccountID), mutedStyle.Render(models.DateString(s.SnapshotDate)))
	fmt.Fprintf(&b, "Total: %s\n", titleStyle.Render(format.USD(s.TotalBalanceUSD)))

	rows := service.Breakdown(s, includeDust)
	if len(rows) == 0 {
		b.WriteString(mutedStyle.Render("No assets above dust") + "\n")
		return b.String()
	}

	t := newTable("Asset", "Amount", "USD value")
	for _, row := range rows {
		t.Row(row.Symbol, format.Amount(row.Amount), format.USD(row.USDValue))
	}
	b.WriteString(t.String() + "\n")

	if hidden := len(s.Balances) - len(rows); hidden > 0 {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("%d dust balance(s) hidden, use --all to show", hidden)) + "\n")
	}
	return b.String()
}

// renderHistory prints snapshot totals newest first
func renderHistory(snapshots []*models.BalanceSnapshot) string {
	if len(snapshots) == 0 {
		return mutedStyle.Render("No snapshots stored") + "\n"
	}
	t := newTable("Date", "Total USD", "Assets")
	for _, s := range snapshots {
		t.Row(models.DateString(s.SnapshotDate), format.USD(s.TotalBalanceUSD), fmt.Sprint(len(s.Balances)))
	}
	return t.String() + "\n"
}

// renderReturns prints returns newest first with a total/average footer
func renderReturns(returns []*models.DailyReturn) string {
	if len(returns) == 0 {
		return mutedStyle.Render("No returns stored (need snapshots on two days)") + "\n"
	}
	t := newTable("Date", "Since", "Balance", "Return")
	for _, r := range returns {
		t.Row(
			models.DateString(r.ReturnDate),
			models.DateString(r.PreviousDate),
			format.USD(r.CurrentBalanceUSD),
			returnLine(r),
		)
	}

	summary := service.SummarizeReturns(returns)
	footer := fmt.Sprintf("%d day(s)  total %s  average %s",
		summary.Days,
		signed(summary.TotalUSD, format.SignedUSD(summary.TotalUSD)),
		signed(summary.AveragePct, format.Percent(summary.AveragePct)),
	)
	return t.String() + "\n" + footer + "\n"
}

// renderTrades prints fills newest first
func renderTrades(trades []*models.Trade) string {
	if len(trades) == 0 {
		return mutedStyle.Render("No trades stored") + "\n"
	}
	t := newTable("Time", "Symbol", "Side", "Amount", "Price", "Cost", "Fee")
	for _, tr := range trades {
		fee := ""
		if !tr.FeeCost.IsZero() {
			fee = format.Amount(tr.FeeCost) + " " + tr.FeeCurrency
		}
		side := tr.Side
		if side == models.SideBuy {
			side = gainStyle.Render(side)
		} else if side == models.SideSell {
			side = lossStyle.Render(side)
		}
		t.Row(
			tr.TradeTimestamp.UTC().Format("2006-01-02 15:04:05"),
			tr.Symbol,
			side,
			format.Amount(tr.Amount),
			format.Amount(tr.Price),
			format.Amount(tr.Cost),
			fee,
		)
	}
	return t.String() + "\n"
}

// renderAccounts prints the accounts with stored snapshots
func renderAccounts(accounts []models.AccountSummary) string {
	if len(accounts) == 0 {
		return mutedStyle.Render("No accounts have snapshots yet") + "\n"
	}
	t := newTable("Exchange", "Account", "Last snapshot", "Snapshots")
	for _, acc := range accounts {
		t.Row(acc.Exchange, acc.AccountID, models.DateString(acc.LastSnapshot), fmt.Sprint(acc.SnapshotCount))
	}
	return t.String() + "\n"
}

// renderPull prints the outcome of one pipeline run
func renderPull(res *service.PullResult, syncErr error) string {
	var b strings.Builder
	if res.Snapshot != nil {
		b.WriteString(renderBalance(res.Snapshot, false))
	}
	switch {
	case res.Return != nil:
		fmt.Fprintf(&b, "Daily return vs %s: %s\n", models.DateString(res.Return.PreviousDate), returnLine(res.Return))
	case res.ReturnError != nil:
		b.WriteString(lossStyle.Render("Daily return failed: "+res.ReturnError.Error()) + "\n")
	default:
		b.WriteString(mutedStyle.Render("First snapshot, no return yet") + "\n")
	}
	if syncErr != nil {
		b.WriteString(warnStyle.Render("Trade sync failed: "+syncErr.Error()) + "\n")
	} else {
		fmt.Fprintf(&b, "Trades synced: %d new\n", res.TradesInserted)
	}
	for _, w := range res.Warnings {
		b.WriteString(warnStyle.Render("warning: "+w) + "\n")
	}
	return b.String()
}

// writeBalancesCSV exports snapshots one row per asset
func writeBalancesCSV(w io.Writer, snapshots []*models.BalanceSnapshot) error {
	out := csv.NewWriter(w)
	if err := out.Write([]string{"date", "exchange", "account_id", "asset", "amount", "usd_value", "total_usd"}); err != nil {
		return err
	}
	for _, s := range snapshots {
		total := s.TotalBalanceUSD.StringFixed(2)
		for _, row := range service.Breakdown(s, true) {
			record := []string{
				models.DateString(s.SnapshotDate),
				s.Exchange,
				s.AccountID,
				row.Symbol,
				row.Amount.String(),
				row.USDValue.StringFixed(2),
				total,
			}
			if err := out.Write(record); err != nil {
				return err
			}
		}
	}
	out.Flush()
	return out.Error()
}
