package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/pnl-tracker/internal/config"
	apperrors "github.com/pnl-tracker/internal/errors"
	"github.com/pnl-tracker/internal/format"
	"github.com/pnl-tracker/internal/models"
	"github.com/pnl-tracker/internal/service"
)

// BalanceView is a snapshot as served by the API
type BalanceView struct {
	Exchange        string                 `json:"exchange"`
	AccountID       string                 `json:"accountId"`
	SnapshotDate    string                 `json:"snapshotDate"`
	Timestamp       time.Time              `json:"timestamp"`
	TotalBalanceUSD decimal.Decimal        `json:"totalBalanceUsd"`
	TotalDisplay    string                 `json:"totalDisplay"`
	Breakdown       []service.BreakdownRow `json:"breakdown,omitempty"`
}

// ReturnView is a daily return as served by the API
type ReturnView struct {
	Exchange           string          `json:"exchange"`
	AccountID          string          `json:"accountId"`
	ReturnDate         string          `json:"returnDate"`
	PreviousDate       string          `json:"previousDate"`
	CurrentBalanceUSD  decimal.Decimal `json:"currentBalanceUsd"`
	PreviousBalanceUSD decimal.Decimal `json:"previousBalanceUsd"`
	DailyReturnUSD     decimal.Decimal `json:"dailyReturnUsd"`
	DailyReturnPct     decimal.Decimal `json:"dailyReturnPct"`
	Display            string          `json:"display"`
}

// ReturnHistoryResponse is a page of returns with its summary
type ReturnHistoryResponse struct {
	Returns []ReturnView          `json:"returns"`
	Summary service.ReturnSummary `json:"summary"`
	Page    service.Page          `json:"page"`
}

// PullResponse reports a manual pull
type PullResponse struct {
	RunID          string       `json:"runId"`
	Balance        *BalanceView `json:"balance"`
	Return         *ReturnView  `json:"return,omitempty"`
	TradesInserted int          `json:"tradesInserted"`
	Warnings       []string     `json:"warnings,omitempty"`
	ReturnError    *ErrorBody   `json:"returnError,omitempty"`
	TradeSyncError *ErrorBody   `json:"tradeSyncError,omitempty"`
}

func newBalanceView(s *models.BalanceSnapshot, includeBreakdown, includeDust bool) BalanceView {
	v := BalanceView{
		Exchange:        s.Exchange,
		AccountID:       s.AccountID,
		SnapshotDate:    models.DateString(s.SnapshotDate),
		Timestamp:       s.Timestamp,
		TotalBalanceUSD: s.TotalBalanceUSD,
		TotalDisplay:    format.USD(s.TotalBalanceUSD),
	}
	if includeBreakdown {
		v.Breakdown = service.Breakdown(s, includeDust)
	}
	return v
}

func newReturnView(r *models.DailyReturn) ReturnView {
	return ReturnView{
		Exchange:           r.Exchange,
		AccountID:          r.AccountID,
		ReturnDate:         models.DateString(r.ReturnDate),
		PreviousDate:       models.DateString(r.PreviousDate),
		CurrentBalanceUSD:  r.CurrentBalanceUSD,
		PreviousBalanceUSD: r.PreviousBalanceUSD,
		DailyReturnUSD:     r.DailyReturnUSD,
		DailyReturnPct:     r.DailyReturnPct,
		Display:            format.SignedUSD(r.DailyReturnUSD) + " (" + format.Percent(r.DailyReturnPct) + ")",
	}
}

// accountFromQuery resolves ?exchange=&account= to an account
func (s *Server) accountFromQuery(r *http.Request) (models.Account, error) {
	q := r.URL.Query()
	return s.queryService.ResolveAccount(q.Get("exchange"), q.Get("account"))
}

// pageFromQuery reads ?limit=&offset=
func pageFromQuery(r *http.Request) (service.Page, error) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		return service.Page{}, err
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		return service.Page{}, err
	}
	return service.Page{Limit: limit, Offset: offset}.Normalize()
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.queryService.Accounts(r.Context(), r.URL.Query().Get("exchange"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if accounts == nil {
		accounts = []models.AccountSummary{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
}

func (s *Server) handleLatestBalance(w http.ResponseWriter, r *http.Request) {
	account, err := s.accountFromQuery(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	includeDust, err := queryBool(r, "all")
	if err != nil {
		respondServiceError(w, err)
		return
	}

	snapshot, err := s.queryService.LatestBalance(r.Context(), account)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newBalanceView(snapshot, true, includeDust))
}

func (s *Server) handleBalanceHistory(w http.ResponseWriter, r *http.Request) {
	account, err := s.accountFromQuery(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	page, err := pageFromQuery(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	snapshots, err := s.queryService.BalanceHistory(r.Context(), account, page)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	views := make([]BalanceView, 0, len(snapshots))
	for _, snap := range snapshots {
		views = append(views, newBalanceView(snap, false, false))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"balances": views, "page": page})
}

func (s *Server) handleLatestReturn(w http.ResponseWriter, r *http.Request) {
	account, err := s.accountFromQuery(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	dr, err := s.queryService.LatestReturn(r.Context(), account)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newReturnView(dr))
}

func (s *Server) handleReturnHistory(w http.ResponseWriter, r *http.Request) {
	account, err := s.accountFromQuery(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	page, err := pageFromQuery(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	returns, err := s.queryService.ReturnHistory(r.Context(), account, page)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := ReturnHistoryResponse{
		Returns: make([]ReturnView, 0, len(returns)),
		Summary: service.SummarizeReturns(returns),
		Page:    page,
	}
	for _, dr := range returns {
		resp.Returns = append(resp.Returns, newReturnView(dr))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTradeHistory(w http.ResponseWriter, r *http.Request) {
	account, err := s.accountFromQuery(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	page, err := pageFromQuery(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	trades, err := s.queryService.TradeHistory(r.Context(), account, page)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if trades == nil {
		trades = []*models.Trade{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"trades": trades, "page": page})
}

// handlePull runs the pipeline for a configured account. A trade sync
// failure still returns 200 with the stored snapshot and the sync error.
// A client disconnect only aborts the run while it is fetching or waiting
// for the account lock.
func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	exchange := r.URL.Query().Get("exchange")
	if exchange == "" {
		exchange = config.ExchangeKraken
	}
	id := mux.Vars(r)["account"]

	acc, err := s.accounts.FindAccount(exchange, id)
	if err != nil {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, err.Error(), map[string]interface{}{
			"exchange": exchange,
			"account":  id,
		})
		return
	}

	result, err := s.pullService.PullAndReconcile(r.Context(), acc)
	if result == nil {
		if err == nil {
			err = apperrors.NewInternalError("pull returned no result", nil)
		}
		respondServiceError(w, err)
		return
	}

	resp := PullResponse{
		RunID:          result.RunID.String(),
		TradesInserted: result.TradesInserted,
		Warnings:       result.Warnings,
	}
	if result.Snapshot != nil {
		view := newBalanceView(result.Snapshot, true, false)
		resp.Balance = &view
	}
	if result.Return != nil {
		view := newReturnView(result.Return)
		resp.Return = &view
	}
	if result.ReturnError != nil {
		_, body := errorBody(result.ReturnError)
		resp.ReturnError = &body
	}
	if err != nil {
		_, body := errorBody(err)
		resp.TradeSyncError = &body
	}
	respondJSON(w, http.StatusOK, resp)
}
