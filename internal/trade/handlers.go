package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/amm-engine/internal/model"
	"github.com/atmx/amm-engine/internal/token"
)

// AccountHeader carries the caller identity established by the upstream
// auth layer.
const AccountHeader = "X-Account-ID"

// --- Request/Response types ---

// CreatePoolRequest is the JSON body for POST /pools.
type CreatePoolRequest struct {
	Name     string          `json:"name"`
	Symbol   string          `json:"symbol"`
	ImageRef string          `json:"image_ref"`
	Deposit  decimal.Decimal `json:"deposit"` // initial currency deposit, fee charged on top
}

// BuyRequest is the JSON body for POST /pools/{poolID}/buy.
type BuyRequest struct {
	CurrencyIn decimal.Decimal `json:"currency_in"`
}

// SellRequest is the JSON body for POST /pools/{poolID}/sell.
type SellRequest struct {
	TokensIn decimal.Decimal `json:"tokens_in"`
}

// DepositRequest is the JSON body for POST /accounts/deposit.
type DepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// PoolView is a pool with its current spot price.
type PoolView struct {
	model.Pool
	Price decimal.Decimal `json:"price"`
}

// AccountView is the caller's balance, holdings, and fees paid.
type AccountView struct {
	Account  *model.Account     `json:"account"`
	Holdings []model.Holding    `json:"holdings"`
	Fees     []model.FeeAccrual `json:"fees"`
}

// Routes registers the engine's HTTP API on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/pools", s.ListPools)
	r.Post("/pools", s.HandleCreatePool)
	r.Get("/pools/{poolID}", s.GetPool)
	r.Get("/pools/{poolID}/quote", s.GetQuote)
	r.Get("/pools/{poolID}/history", s.GetPoolHistory)
	r.Post("/pools/{poolID}/buy", s.HandleBuy)
	r.Post("/pools/{poolID}/sell", s.HandleSell)

	r.Get("/accounts/me", s.GetAccount)
	r.Post("/accounts/deposit", s.HandleDeposit)
}

// --- HTTP Handlers ---

// HandleCreatePool handles POST /api/v1/pools
func (s *Service) HandleCreatePool(w http.ResponseWriter, r *http.Request) {
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req CreatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	meta := token.Metadata{Name: req.Name, Symbol: req.Symbol, ImageRef: req.ImageRef}
	pool, err := s.CreatePool(r.Context(), account, meta, req.Deposit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, PoolView{Pool: *pool, Price: pool.Price()})
}

// ListPools handles GET /api/v1/pools
func (s *Service) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.store.ListPools(r.Context())
	if err != nil {
		writeError(w, "failed to list pools", http.StatusInternalServerError)
		return
	}

	views := make([]PoolView, 0, len(pools))
	for _, p := range pools {
		if p.Status != model.PoolActive {
			continue
		}
		views = append(views, PoolView{Pool: p, Price: p.Price()})
	}
	writeJSON(w, http.StatusOK, views)
}

// GetPool handles GET /api/v1/pools/{poolID}
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.store.GetPool(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PoolView{Pool: *pool, Price: pool.Price()})
}

// GetQuote handles GET /api/v1/pools/{poolID}/quote?side=buy|sell&amount=N
// Prices a trade against current reserves without settling it.
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, "amount must be a decimal", http.StatusBadRequest)
		return
	}

	switch r.URL.Query().Get("side") {
	case "buy":
		q, err := s.QuoteBuy(r.Context(), poolID, amount)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	case "sell":
		q, err := s.QuoteSell(r.Context(), poolID, amount)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	default:
		writeError(w, "side must be buy or sell", http.StatusBadRequest)
	}
}

// GetPoolHistory handles GET /api/v1/pools/{poolID}/history
// Returns trade records, from which the price series can be rebuilt.
func (s *Service) GetPoolHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListTradesByPool(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		writeError(w, "failed to get pool history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// HandleBuy handles POST /api/v1/pools/{poolID}/buy
func (s *Service) HandleBuy(w http.ResponseWriter, r *http.Request) {
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.Buy(r.Context(), account, chi.URLParam(r, "poolID"), req.CurrencyIn)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleSell handles POST /api/v1/pools/{poolID}/sell
func (s *Service) HandleSell(w http.ResponseWriter, r *http.Request) {
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req SellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.Sell(r.Context(), account, chi.URLParam(r, "poolID"), req.TokensIn)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetAccount handles GET /api/v1/accounts/me
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	acct, err := s.ledger.Balance(ctx, account)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	holdings, err := s.store.ListHoldings(ctx, account)
	if err != nil {
		writeError(w, "failed to load holdings", http.StatusInternalServerError)
		return
	}
	fees, err := s.store.ListFeesByAccount(ctx, account)
	if err != nil {
		writeError(w, "failed to load fees", http.StatusInternalServerError)
		return
	}
	if holdings == nil {
		holdings = []model.Holding{}
	}
	if fees == nil {
		fees = []model.FeeAccrual{}
	}

	writeJSON(w, http.StatusOK, AccountView{Account: acct, Holdings: holdings, Fees: fees})
}

// HandleDeposit handles POST /api/v1/accounts/deposit
func (s *Service) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := s.ledger.Deposit(ctx, account, req.Amount); err != nil {
		writeServiceError(w, err)
		return
	}
	acct, err := s.ledger.Balance(ctx, account)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// --- Helpers ---

func requireAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	account := r.Header.Get(AccountHeader)
	if account == "" {
		writeError(w, AccountHeader+" header is required", http.StatusUnauthorized)
		return "", false
	}
	return account, true
}

// statusFor maps a settlement error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrPoolNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrPoolInactive),
		errors.Is(err, model.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, model.ErrInsufficientFunds),
		errors.Is(err, model.ErrInsufficientHoldings),
		errors.Is(err, model.ErrBelowMinimum),
		errors.Is(err, model.ErrBelowMinimumOutput),
		errors.Is(err, model.ErrBelowMinimumLiquidity),
		errors.Is(err, model.ErrZeroOutput):
		return http.StatusUnprocessableEntity
	case model.IsUserError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Internal details
// of infrastructure failures are logged, not returned.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		msg = model.ErrPersistenceFailure.Error()
	}
	writeError(w, msg, status)
}

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
