// Package position provides the HTTP handlers for managing collateralized
// DSC positions: deposits, mints, redemptions, burns and liquidations, plus
// the read-only account and collateral queries.
//
// All amounts travel as base-unit decimal strings, never as JSON numbers.
package position

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/atmx/dsc-engine/internal/engine"
	"github.com/atmx/dsc-engine/internal/fixed"
	"github.com/atmx/dsc-engine/internal/health"
	"github.com/atmx/dsc-engine/internal/model"
	"github.com/atmx/dsc-engine/internal/oracle"
	"github.com/atmx/dsc-engine/internal/store"
)

// Faucet credits external wallets. Only wired in dev mode.
type Faucet interface {
	Fund(asset, account string, amount *uint256.Int) error
}

// Service serves the engine over HTTP. Writers hold mu exclusively so
// concurrent requests queue instead of tripping the engine's reentrancy
// guard; readers share it.
type Service struct {
	engine  *engine.Engine
	store   store.Store
	wsHub   *WSHub // optional
	limiter *RateLimiter

	// dev mode only
	prices map[string]*oracle.StaticSource
	faucet Faucet

	mu sync.RWMutex
}

// Option configures a Service.
type Option func(*Service)

// WithRateLimiter throttles mutating endpoints per client.
func WithRateLimiter(l *RateLimiter) Option { return func(s *Service) { s.limiter = l } }

// WithDevTools enables the price override and faucet endpoints.
func WithDevTools(prices map[string]*oracle.StaticSource, faucet Faucet) Option {
	return func(s *Service) {
		s.prices = prices
		s.faucet = faucet
	}
}

// NewService creates a position service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(e *engine.Engine, st store.Store, hub *WSHub, opts ...Option) *Service {
	s := &Service{engine: e, store: st, wsHub: hub}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes mounts the API under r. The caller decides the prefix.
func (s *Service) Routes(r chi.Router) {
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Post("/collateral/deposit", s.DepositCollateral)
		r.Post("/collateral/redeem", s.RedeemCollateral)
		r.Post("/dsc/mint", s.MintDsc)
		r.Post("/dsc/burn", s.BurnDsc)
		r.Post("/positions/deposit-and-mint", s.DepositAndMint)
		r.Post("/positions/redeem-for-dsc", s.RedeemForDsc)
		r.Post("/liquidations", s.Liquidate)
	})

	r.Get("/accounts/{userID}", s.GetAccount)
	r.Get("/accounts/{userID}/history", s.GetAccountHistory)
	r.Get("/accounts/{userID}/journal", s.GetJournalPosition)
	r.Get("/operations/{operationID}", s.GetOperation)
	r.Get("/collateral", s.ListCollateral)
	r.Get("/collateral/{assetID}/usd-value", s.GetUsdValue)
	r.Get("/collateral/{assetID}/token-amount", s.GetTokenAmount)
	r.Get("/params", s.GetParams)

	if s.prices != nil || s.faucet != nil {
		r.Put("/dev/prices/{assetID}", s.SetPrice)
		r.Post("/dev/faucet", s.Fund)
	}
}

// --- Request/Response types ---

// CollateralRequest is the JSON body for deposits and redemptions.
type CollateralRequest struct {
	UserID string `json:"user_id"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// DscRequest is the JSON body for mints and burns.
type DscRequest struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
}

// PositionRequest is the JSON body for the combined operations.
type PositionRequest struct {
	UserID     string `json:"user_id"`
	Asset      string `json:"asset"`
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
}

// LiquidationRequest is the JSON body for POST /liquidations.
type LiquidationRequest struct {
	Liquidator  string `json:"liquidator"`
	Target      string `json:"target"`
	Asset       string `json:"asset"`
	DebtToCover string `json:"debt_to_cover"`
}

// AccountResponse is the account snapshot returned by queries and mutations.
type AccountResponse struct {
	UserID             string            `json:"user_id"`
	Collateral         map[string]string `json:"collateral"`
	CollateralValueUSD string            `json:"collateral_value_usd"`
	Debt               string            `json:"debt"`
	HealthFactor       health.Factor     `json:"health_factor"`
	MaxSafeMint        string            `json:"max_safe_mint"`
	MaxRedeemable      map[string]string `json:"max_redeemable"`
	DebtToCover        string            `json:"debt_to_cover"`
}

// LiquidationResponse reports both sides of a liquidation.
type LiquidationResponse struct {
	Target     AccountResponse `json:"target"`
	Liquidator AccountResponse `json:"liquidator"`
}

// JournalResponse is a position aggregated from the journal, checked against
// the live ledger.
type JournalResponse struct {
	*model.Position
	InSync bool `json:"in_sync"`
}

// CollateralInfo describes one registered asset.
type CollateralInfo struct {
	ID             string `json:"id"`
	Feed           string `json:"feed"`
	PriceUSD       string `json:"price_usd"`
	TotalDeposited string `json:"total_deposited"`
}

// --- Mutating handlers ---

// DepositCollateral handles POST /api/v1/collateral/deposit
func (s *Service) DepositCollateral(w http.ResponseWriter, r *http.Request) {
	var req CollateralRequest
	if !decode(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, "amount", req.Amount)
	if !ok || !requireUser(w, req.UserID) {
		return
	}
	s.mutate(w, r, req.UserID, func() error {
		return s.engine.DepositCollateral(r.Context(), req.UserID, req.Asset, amount)
	})
}

// RedeemCollateral handles POST /api/v1/collateral/redeem
func (s *Service) RedeemCollateral(w http.ResponseWriter, r *http.Request) {
	var req CollateralRequest
	if !decode(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, "amount", req.Amount)
	if !ok || !requireUser(w, req.UserID) {
		return
	}
	s.mutate(w, r, req.UserID, func() error {
		return s.engine.RedeemCollateral(r.Context(), req.UserID, req.Asset, amount)
	})
}

// MintDsc handles POST /api/v1/dsc/mint
func (s *Service) MintDsc(w http.ResponseWriter, r *http.Request) {
	var req DscRequest
	if !decode(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, "amount", req.Amount)
	if !ok || !requireUser(w, req.UserID) {
		return
	}
	s.mutate(w, r, req.UserID, func() error {
		return s.engine.MintDsc(r.Context(), req.UserID, amount)
	})
}

// BurnDsc handles POST /api/v1/dsc/burn
func (s *Service) BurnDsc(w http.ResponseWriter, r *http.Request) {
	var req DscRequest
	if !decode(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, "amount", req.Amount)
	if !ok || !requireUser(w, req.UserID) {
		return
	}
	s.mutate(w, r, req.UserID, func() error {
		return s.engine.BurnDsc(r.Context(), req.UserID, amount)
	})
}

// DepositAndMint handles POST /api/v1/positions/deposit-and-mint
func (s *Service) DepositAndMint(w http.ResponseWriter, r *http.Request) {
	var req PositionRequest
	if !decode(w, r, &req) {
		return
	}
	collateral, ok := parseAmount(w, "collateral", req.Collateral)
	if !ok {
		return
	}
	debt, ok := parseAmount(w, "debt", req.Debt)
	if !ok || !requireUser(w, req.UserID) {
		return
	}
	s.mutate(w, r, req.UserID, func() error {
		return s.engine.DepositCollateralAndMintDsc(r.Context(), req.UserID, req.Asset, collateral, debt)
	})
}

// RedeemForDsc handles POST /api/v1/positions/redeem-for-dsc
func (s *Service) RedeemForDsc(w http.ResponseWriter, r *http.Request) {
	var req PositionRequest
	if !decode(w, r, &req) {
		return
	}
	collateral, ok := parseAmount(w, "collateral", req.Collateral)
	if !ok {
		return
	}
	debt, ok := parseAmount(w, "debt", req.Debt)
	if !ok || !requireUser(w, req.UserID) {
		return
	}
	s.mutate(w, r, req.UserID, func() error {
		return s.engine.RedeemCollateralForDsc(r.Context(), req.UserID, req.Asset, collateral, debt)
	})
}

// Liquidate handles POST /api/v1/liquidations
func (s *Service) Liquidate(w http.ResponseWriter, r *http.Request) {
	var req LiquidationRequest
	if !decode(w, r, &req) {
		return
	}
	debtToCover, ok := parseAmount(w, "debt_to_cover", req.DebtToCover)
	if !ok {
		return
	}
	if req.Liquidator == "" || req.Target == "" {
		writeError(w, "liquidator and target are required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := r.Context()
	if err := s.engine.Liquidate(ctx, req.Liquidator, req.Asset, req.Target, debtToCover); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LiquidationResponse{
		Target:     s.account(r, req.Target),
		Liquidator: s.account(r, req.Liquidator),
	})
}

// mutate runs fn under the writer lock and answers with the user's account.
func (s *Service) mutate(w http.ResponseWriter, r *http.Request, user string, fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.account(r, user))
}

// --- Queries ---

// GetAccount handles GET /api/v1/accounts/{userID}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	s.mu.RLock()
	defer s.mu.RUnlock()

	writeJSON(w, http.StatusOK, s.account(r, userID))
}

// GetAccountHistory handles GET /api/v1/accounts/{userID}/history
// Returns the user's journal entries in commit order.
func (s *Service) GetAccountHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	entries, err := s.store.GetLedgerEntriesByUser(r.Context(), userID)
	if err != nil {
		slog.Error("history query failed", "user", userID, "err", err)
		writeError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetJournalPosition handles GET /api/v1/accounts/{userID}/journal
// Returns the position rebuilt from persisted entries and whether it matches
// the ledger.
func (s *Service) GetJournalPosition(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.store.GetUserPosition(r.Context(), userID)
	if err != nil {
		slog.Error("journal position query failed", "user", userID, "err", err)
		writeError(w, "failed to load journal position", http.StatusInternalServerError)
		return
	}
	inSync := s.matchesLedger(r.Context(), p)
	if !inSync {
		slog.Warn("journal diverges from ledger", "user", userID)
	}
	writeJSON(w, http.StatusOK, JournalResponse{Position: p, InSync: inSync})
}

// GetOperation handles GET /api/v1/operations/{operationID}
func (s *Service) GetOperation(w http.ResponseWriter, r *http.Request) {
	opID := chi.URLParam(r, "operationID")

	entries, err := s.store.GetLedgerEntriesByOperation(r.Context(), opID)
	if err != nil {
		slog.Error("operation query failed", "operation", opID, "err", err)
		writeError(w, "failed to load operation", http.StatusInternalServerError)
		return
	}
	if len(entries) == 0 {
		writeError(w, "operation not found: "+opID, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ListCollateral handles GET /api/v1/collateral
func (s *Service) ListCollateral(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assets := s.engine.CollateralTokens()
	out := make([]CollateralInfo, 0, len(assets))
	for _, asset := range assets {
		out = append(out, CollateralInfo{
			ID:             asset,
			Feed:           describeFeed(s.engine.CollateralTokenPriceFeed(asset)),
			PriceUSD:       s.engine.Price(r.Context(), asset).Dec(),
			TotalDeposited: s.engine.TotalCollateral(asset).Dec(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetUsdValue handles GET /api/v1/collateral/{assetID}/usd-value?amount=
func (s *Service) GetUsdValue(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "assetID")
	if !s.known(asset) {
		writeError(w, "unknown collateral asset: "+asset, http.StatusNotFound)
		return
	}
	amount, err := fixed.Parse(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, "amount: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":     asset,
		"amount":    amount.Dec(),
		"usd_value": s.engine.UsdValue(r.Context(), asset, amount).Dec(),
	})
}

// GetTokenAmount handles GET /api/v1/collateral/{assetID}/token-amount?usd=
func (s *Service) GetTokenAmount(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "assetID")
	if !s.known(asset) {
		writeError(w, "unknown collateral asset: "+asset, http.StatusNotFound)
		return
	}
	usd, err := fixed.Parse(r.URL.Query().Get("usd"))
	if err != nil {
		writeError(w, "usd: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":  asset,
		"usd":    usd.Dec(),
		"amount": s.engine.TokenAmountFromUsd(r.Context(), asset, usd).Dec(),
	})
}

// GetParams handles GET /api/v1/params
func (s *Service) GetParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"debt_asset":                model.DebtAsset,
		"precision":                 s.engine.Precision().Dec(),
		"additional_feed_precision": s.engine.AdditionalFeedPrecision().Dec(),
		"liquidation_threshold":     s.engine.LiquidationThreshold(),
		"liquidation_bonus":         s.engine.LiquidationBonus(),
		"liquidation_precision":     s.engine.LiquidationPrecision(),
		"min_health_factor":         s.engine.MinHealthFactor().Dec(),
		"total_debt":                s.engine.TotalDebt().Dec(),
	})
}

// --- Dev tools ---

// SetPrice handles PUT /api/v1/dev/prices/{assetID}
// Body: {"price": "1800.5"} in whole USD.
func (s *Service) SetPrice(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "assetID")
	src, ok := s.prices[asset]
	if !ok {
		writeError(w, "no static feed for asset: "+asset, http.StatusNotFound)
		return
	}
	var req struct {
		Price string `json:"price"`
	}
	if !decode(w, r, &req) {
		return
	}
	answer, err := fixed.ParseUnits(req.Price, fixed.FeedDecimals)
	if err != nil {
		writeError(w, "price: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	src.Set(answer.ToBig())
	s.mu.Unlock()

	slog.Info("dev price override", "asset", asset, "price", req.Price)
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":     asset,
		"price_usd": s.engine.Price(r.Context(), asset).Dec(),
	})
}

// Fund handles POST /api/v1/dev/faucet
func (s *Service) Fund(w http.ResponseWriter, r *http.Request) {
	if s.faucet == nil {
		writeError(w, "faucet disabled", http.StatusNotFound)
		return
	}
	var req CollateralRequest
	if !decode(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, "amount", req.Amount)
	if !ok || !requireUser(w, req.UserID) {
		return
	}
	if !s.known(req.Asset) {
		writeError(w, "unknown collateral asset: "+req.Asset, http.StatusBadRequest)
		return
	}
	if err := s.faucet.Fund(req.Asset, req.UserID, amount); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	slog.Info("dev faucet", "user", req.UserID, "asset", req.Asset, "amount", amount.Dec())
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

func (s *Service) account(r *http.Request, user string) AccountResponse {
	ctx := r.Context()
	debt, collateralUSD := s.engine.AccountInformation(ctx, user)

	resp := AccountResponse{
		UserID:             user,
		Collateral:         make(map[string]string),
		MaxRedeemable:      make(map[string]string),
		CollateralValueUSD: collateralUSD.Dec(),
		Debt:               debt.Dec(),
		HealthFactor:       s.engine.HealthFactor(ctx, user),
		MaxSafeMint:        s.engine.MaxSafeMint(ctx, user).Dec(),
		DebtToCover:        s.engine.DebtToCoverForHealthyPosition(ctx, user).Dec(),
	}
	for _, asset := range s.engine.CollateralTokens() {
		bal := s.engine.CollateralBalanceOfUser(user, asset)
		if bal.IsZero() {
			continue
		}
		resp.Collateral[asset] = bal.Dec()
		resp.MaxRedeemable[asset] = s.engine.MaxRedeemableCollateral(ctx, asset, user).Dec()
	}
	return resp
}

// matchesLedger compares a journal-derived position with the live ledger.
func (s *Service) matchesLedger(ctx context.Context, p *model.Position) bool {
	debt, _ := s.engine.AccountInformation(ctx, p.UserID)
	if !p.Debt.Equal(fixed.ToDecimal(debt, 0)) {
		return false
	}
	for asset, amt := range p.Collateral {
		if !s.known(asset) && !amt.IsZero() {
			return false
		}
	}
	for _, asset := range s.engine.CollateralTokens() {
		bal := fixed.ToDecimal(s.engine.CollateralBalanceOfUser(p.UserID, asset), 0)
		if !p.Collateral[asset].Equal(bal) {
			return false
		}
	}
	return true
}

func (s *Service) known(asset string) bool {
	return s.engine.CollateralTokenPriceFeed(asset) != nil
}

func describeFeed(src oracle.Source) string {
	switch f := src.(type) {
	case *oracle.ChainlinkSource:
		return "chainlink:" + f.Address().Hex()
	case *oracle.StaticSource:
		return "static"
	default:
		return "custom"
	}
}

// statusFor maps an engine error category to an HTTP status.
func statusFor(err error) int {
	switch engine.Category(err) {
	case "validation":
		return http.StatusBadRequest
	case "transfer_failed":
		return http.StatusPaymentRequired
	case "solvency", "not_eligible", "ineffective":
		return http.StatusConflict
	case "stale_price":
		return http.StatusServiceUnavailable
	case "reentrant":
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("operation failed", "err", err)
	}
	writeError(w, err.Error(), status)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func parseAmount(w http.ResponseWriter, field, s string) (*uint256.Int, bool) {
	v, err := fixed.Parse(s)
	if err != nil {
		writeError(w, field+": "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return v, true
}

func requireUser(w http.ResponseWriter, user string) bool {
	if user == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response failed", "err", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
