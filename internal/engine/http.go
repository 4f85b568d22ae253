package engine

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Phenixis/Predis/internal/ledger"
	"github.com/Phenixis/Predis/internal/model"
)

// accountHeader carries the verified account id injected by the session
// layer. The engine trusts it and performs no credential checks itself.
const accountHeader = "X-Account-ID"

// --- Request/Response types ---

// CreateAccountRequest is the JSON body for account creation. AccountID is
// optional; empty means "generate one".
type CreateAccountRequest struct {
	AccountID string `json:"account_id"`
}

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Question string    `json:"question"`
	Options  []string  `json:"options"`
	EndAt    time.Time `json:"end_at"`
}

// MarketResponse is a market with its options and live odds.
type MarketResponse struct {
	Market  model.Market       `json:"market"`
	Options []model.Option     `json:"options"`
	Odds    []model.OptionOdds `json:"odds"`
}

// WagerRequest is the JSON body for POST /markets/{marketID}/wagers.
// WagerID is the optional idempotency key for safe retries.
type WagerRequest struct {
	OptionID string `json:"option_id"`
	Amount   int64  `json:"amount"`
	WagerID  string `json:"wager_id,omitempty"`
}

// ResolveRequest is the JSON body for POST /markets/{marketID}/resolve.
type ResolveRequest struct {
	CorrectOptionID string `json:"correct_option_id"`
}

// BalanceResponse is the JSON body for GET /accounts/{accountID}/balance.
type BalanceResponse struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
}

// LedgerResponse is one page of ledger history plus the next-page cursor.
type LedgerResponse struct {
	Entries    []model.LedgerEntry `json:"entries"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

// --- HTTP Handlers ---

// HandleCreateAccount handles POST /api/v1/accounts
func (s *Service) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.AccountID == "" {
		req.AccountID = r.Header.Get(accountHeader)
	}

	account, err := s.CreateAccount(r.Context(), req.AccountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// HandleBalance handles GET /api/v1/accounts/{accountID}/balance
func (s *Service) HandleBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	balance, err := ledger.BalanceOf(r.Context(), s.store, accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{AccountID: accountID, Balance: balance})
}

// HandleLedger handles GET /api/v1/accounts/{accountID}/ledger
// Query: ?cursor=<opaque>&limit=<n>. Entries are newest first.
func (s *Service) HandleLedger(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	cursor := r.URL.Query().Get("cursor")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, next, err := ledger.History(r.Context(), s.store, accountID, cursor, limit)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, LedgerResponse{Entries: entries, NextCursor: next})
}

// HandleAccountWagers handles GET /api/v1/accounts/{accountID}/wagers
func (s *Service) HandleAccountWagers(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	wagers, err := s.store.WagersByAccount(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if wagers == nil {
		wagers = []model.Wager{}
	}
	writeJSON(w, http.StatusOK, wagers)
}

// HandleCreateMarket handles POST /api/v1/markets
func (s *Service) HandleCreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	creatorID := r.Header.Get(accountHeader)
	if creatorID == "" {
		writeError(w, "missing "+accountHeader+" header", http.StatusBadRequest)
		return
	}

	market, options, err := s.CreateMarket(r.Context(), creatorID, req.Question, req.Options, req.EndAt)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, MarketResponse{
		Market:  *market,
		Options: options,
		Odds:    oddsTable(market.Pool, options),
	})
}

// HandleListMarkets handles GET /api/v1/markets?state=ACTIVE
func (s *Service) HandleListMarkets(w http.ResponseWriter, r *http.Request) {
	state := model.MarketState(r.URL.Query().Get("state"))

	markets, err := s.store.ListMarkets(r.Context(), state)
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// HandleGetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) HandleGetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	market, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	options, err := s.store.GetOptions(r.Context(), marketID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MarketResponse{
		Market:  *market,
		Options: options,
		Odds:    oddsTable(market.Pool, options),
	})
}

// HandleOdds handles GET /api/v1/markets/{marketID}/odds
func (s *Service) HandleOdds(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	table, err := s.OddsFor(r.Context(), marketID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

// HandlePlaceWager handles POST /api/v1/markets/{marketID}/wagers
func (s *Service) HandlePlaceWager(w http.ResponseWriter, r *http.Request) {
	var req WagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	accountID := r.Header.Get(accountHeader)
	if accountID == "" {
		writeError(w, "missing "+accountHeader+" header", http.StatusBadRequest)
		return
	}

	result, err := s.PlaceWager(r.Context(), PlaceWagerRequest{
		AccountID: accountID,
		MarketID:  chi.URLParam(r, "marketID"),
		OptionID:  req.OptionID,
		Amount:    req.Amount,
		WagerID:   req.WagerID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// HandleResolve handles POST /api/v1/markets/{marketID}/resolve
func (s *Service) HandleResolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	accountID := r.Header.Get(accountHeader)

	summary, err := s.Resolve(r.Context(), chi.URLParam(r, "marketID"), req.CorrectOptionID, accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleCancel handles POST /api/v1/markets/{marketID}/cancel
func (s *Service) HandleCancel(w http.ResponseWriter, r *http.Request) {
	accountID := r.Header.Get(accountHeader)

	summary, err := s.Cancel(r.Context(), chi.URLParam(r, "marketID"), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleDispute handles POST /api/v1/markets/{marketID}/dispute
func (s *Service) HandleDispute(w http.ResponseWriter, r *http.Request) {
	accountID := r.Header.Get(accountHeader)

	market, err := s.Dispute(r.Context(), chi.URLParam(r, "marketID"), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeDomainError maps domain errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrAccountNotFound),
		errors.Is(err, model.ErrMarketNotFound),
		errors.Is(err, model.ErrWagerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrInvalidOption),
		errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, model.ErrInvalidMarket):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, model.ErrInsufficientFunds):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrMarketClosed),
		errors.Is(err, model.ErrMarketNotLocked),
		errors.Is(err, model.ErrAlreadyResolved),
		errors.Is(err, model.ErrAlreadyCancelled),
		errors.Is(err, model.ErrDuplicateWager),
		errors.Is(err, model.ErrAccountExists),
		errors.Is(err, model.ErrMarketExists),
		errors.Is(err, model.ErrVersionConflict):
		status = http.StatusConflict
	}
	writeError(w, err.Error(), status)
}
