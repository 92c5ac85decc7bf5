// Package vault provides the HTTP handlers and orchestration logic for the
// deposit/withdraw accounting engine: entry points validate the request,
// move funds through the external lending gateway, record the result in the
// position ledger, and notify the badge issuer.
//
// Ordering is strict and differs by direction. Deposits transfer externally
// first and credit the ledger only on success, so a position is never
// credited for funds that were not actually deposited. Withdrawals reserve
// ledger principal first and redeem externally second, committing the debit
// only on gateway success and releasing the reservation on failure.
//
// All monetary values use shopspring/decimal — never float64 for money.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/GigaChadds/gaave-core/internal/badge"
	"github.com/GigaChadds/gaave-core/internal/config"
	"github.com/GigaChadds/gaave-core/internal/gateway"
	"github.com/GigaChadds/gaave-core/internal/ledger"
	"github.com/GigaChadds/gaave-core/internal/limits"
	"github.com/GigaChadds/gaave-core/internal/metrics"
	"github.com/GigaChadds/gaave-core/internal/model"
	"github.com/GigaChadds/gaave-core/internal/oracle"
	"github.com/GigaChadds/gaave-core/internal/store"
)

// Operation states. Every failure is logged with the last state reached so
// a partial flow can be traced.
const (
	stateInitiated        = "initiated"
	stateFundsTransferred = "funds_transferred"
	stateLedgerUpdated    = "ledger_updated"
	stateCompleted        = "completed"
)

// Service orchestrates vault operations.
type Service struct {
	assets  map[string]model.Asset // address → asset
	ledger  *ledger.Ledger
	gateway gateway.Client
	quotes  oracle.Client
	store   store.Store
	badges  badge.Issuer
	limiter *limits.DepositLimiter
	hub     *EventHub // optional WebSocket hub for activity broadcasts

	gatewayTimeout time.Duration
}

// NewService creates a new vault service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(
	cfg *config.Config,
	led *ledger.Ledger,
	gw gateway.Client,
	quotes oracle.Client,
	st store.Store,
	badges badge.Issuer,
	limiter *limits.DepositLimiter,
	hub *EventHub,
) *Service {
	assets := make(map[string]model.Asset, len(cfg.Assets))
	for _, a := range cfg.Assets {
		assets[a.Address] = a.Asset
	}
	return &Service{
		assets:         assets,
		ledger:         led,
		gateway:        gw,
		quotes:         quotes,
		store:          st,
		badges:         badges,
		limiter:        limiter,
		hub:            hub,
		gatewayTimeout: cfg.GatewayTimeout,
	}
}

// --- Request/Response types ---

// OperationRequest is the JSON body for POST /deposits and POST /withdrawals.
type OperationRequest struct {
	UserID string          `json:"user_id"`
	Asset  string          `json:"asset"` // asset address
	Amount decimal.Decimal `json:"amount"`
}

// OperationResponse is returned from a completed deposit or withdrawal.
type OperationResponse struct {
	EntryID   string          `json:"entry_id"`
	UserID    string          `json:"user_id"`
	Asset     string          `json:"asset"`
	Symbol    string          `json:"symbol"`
	Kind      string          `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	Receipt   string          `json:"receipt"`
	Principal decimal.Decimal `json:"principal"` // after the operation
}

// --- HTTP Handlers ---

// Deposit handles POST /api/v1/deposits.
// Flow: validate → gateway transfer → ledger credit → badge notify.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req OperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	asset, ok := s.validateRequest(w, &req)
	if !ok {
		return
	}

	state := stateInitiated
	ctx := r.Context()

	// Deposit caps, checked before anything leaves the caller's wallet.
	if err := s.limiter.CheckDeposit(req.Asset, req.Amount, s.ledger.Principals(req.UserID)); err != nil {
		s.failOp(w, "deposit", state, req, err)
		return
	}

	// External transfer must succeed before any ledger mutation.
	receipt, err := s.transfer(ctx, asset, req.Amount)
	if err != nil {
		s.failOp(w, "deposit", state, req, err)
		return
	}
	state = stateFundsTransferred

	if err := s.ledger.Credit(req.UserID, req.Asset, req.Amount); err != nil {
		// Funds are in the pool but the credit was rejected. This only
		// happens on programmer error (unsupported asset already checked);
		// surface loudly.
		s.failOp(w, "deposit", state, req, err)
		return
	}
	state = stateLedgerUpdated

	entry := s.recordEntry(ctx, req, asset, model.EntryDeposit, receipt)
	state = stateCompleted

	principal, _, _ := s.ledger.Principal(req.UserID, req.Asset)
	metrics.DepositsTotal.WithLabelValues(asset.Symbol).Inc()

	slog.Info("deposit completed",
		"entry_id", entry.ID,
		"user", req.UserID,
		"asset", asset.Symbol,
		"amount", req.Amount.String(),
		"receipt", receipt.ID,
		"state", state,
	)

	s.notifyActivity(ctx, req.UserID)
	s.broadcast("deposit_completed", entry)

	writeJSON(w, http.StatusOK, OperationResponse{
		EntryID:   entry.ID,
		UserID:    req.UserID,
		Asset:     req.Asset,
		Symbol:    asset.Symbol,
		Kind:      model.EntryDeposit,
		Amount:    req.Amount,
		Receipt:   receipt.ID,
		Principal: principal,
	})
}

// Withdraw handles POST /api/v1/withdrawals.
// Flow: validate → reserve principal → gateway redemption → commit debit.
// The reservation, not a lock, is held across the external call; a failed
// redemption releases it, restoring the pre-operation ledger state.
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req OperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	asset, ok := s.validateRequest(w, &req)
	if !ok {
		return
	}

	state := stateInitiated
	ctx := r.Context()

	// Compare-and-reserve: a second concurrent withdrawal on the same key
	// sees the reduced availability and fails here.
	if err := s.ledger.Reserve(req.UserID, req.Asset, req.Amount); err != nil {
		s.failOp(w, "withdraw", state, req, err)
		return
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	start := time.Now()
	receipt, err := s.gateway.Withdraw(gwCtx, req.Asset, req.Amount)
	cancel()
	metrics.GatewayLatency.WithLabelValues("withdraw").Observe(time.Since(start).Seconds())

	if err != nil {
		// Surface the gateway's reported error verbatim; never retry a
		// redemption against an external custodian.
		if relErr := s.ledger.Release(req.UserID, req.Asset, req.Amount); relErr != nil {
			slog.Error("reservation release failed", "user", req.UserID, "asset", req.Asset, "err", relErr)
		}
		s.failOp(w, "withdraw", state, req, err)
		return
	}
	state = stateFundsTransferred

	if err := s.ledger.Commit(req.UserID, req.Asset, req.Amount); err != nil {
		s.failOp(w, "withdraw", state, req, err)
		return
	}
	state = stateLedgerUpdated

	entry := s.recordEntry(ctx, req, asset, model.EntryWithdraw, receipt)
	state = stateCompleted

	principal, _, _ := s.ledger.Principal(req.UserID, req.Asset)
	metrics.WithdrawalsTotal.WithLabelValues(asset.Symbol).Inc()

	slog.Info("withdrawal completed",
		"entry_id", entry.ID,
		"user", req.UserID,
		"asset", asset.Symbol,
		"amount", req.Amount.String(),
		"receipt", receipt.ID,
		"state", state,
	)

	s.notifyActivity(ctx, req.UserID)
	s.broadcast("withdraw_completed", entry)

	writeJSON(w, http.StatusOK, OperationResponse{
		EntryID:   entry.ID,
		UserID:    req.UserID,
		Asset:     req.Asset,
		Symbol:    asset.Symbol,
		Kind:      model.EntryWithdraw,
		Amount:    req.Amount,
		Receipt:   receipt.ID,
		Principal: principal,
	})
}

// ListAssets handles GET /api/v1/assets.
func (s *Service) ListAssets(w http.ResponseWriter, _ *http.Request) {
	assets := make([]model.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		assets = append(assets, a)
	}
	writeJSON(w, http.StatusOK, assets)
}

// GetPositions handles GET /api/v1/positions/{userID}.
// Returns every position the user has ever held, each valued with a fresh
// oracle quote.
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	positions := []model.Position{}
	for _, asset := range s.ledger.Assets(userID) {
		pos, err := s.ledger.Valuate(ctx, userID, asset)
		if err != nil {
			if errors.Is(err, oracle.ErrStaleQuote) {
				metrics.StaleQuoteRejections.Inc()
			}
			writeError(w, err.Error(), statusFor(err))
			return
		}
		positions = append(positions, pos)
	}

	writeJSON(w, http.StatusOK, positions)
}

// GetPosition handles GET /api/v1/positions/{userID}/{asset}.
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	asset := chi.URLParam(r, "asset")

	pos, err := s.ledger.Valuate(r.Context(), userID, asset)
	if err != nil {
		if errors.Is(err, oracle.ErrStaleQuote) {
			metrics.StaleQuoteRejections.Inc()
		}
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// GetActivity handles GET /api/v1/activity/{userID}.
// Returns the user's immutable entry history.
func (s *Service) GetActivity(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	entries, err := s.store.GetEntriesByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load activity", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.VaultEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

// --- Orchestration helpers ---

// validateRequest checks the common request fields and resolves the asset.
func (s *Service) validateRequest(w http.ResponseWriter, req *OperationRequest) (model.Asset, bool) {
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return model.Asset{}, false
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return model.Asset{}, false
	}
	asset, ok := s.assets[req.Asset]
	if !ok {
		writeError(w, "unsupported asset: "+req.Asset, http.StatusBadRequest)
		return model.Asset{}, false
	}
	return asset, true
}

// transfer routes a deposit through the native gateway or the pool proxy
// by asset kind, bounded by the configured gateway timeout.
func (s *Service) transfer(ctx context.Context, asset model.Asset, amount decimal.Decimal) (gateway.Receipt, error) {
	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	start := time.Now()
	var receipt gateway.Receipt
	var err error
	if asset.IsNative() {
		receipt, err = s.gateway.DepositNative(gwCtx, amount)
		metrics.GatewayLatency.WithLabelValues("deposit_native").Observe(time.Since(start).Seconds())
	} else {
		receipt, err = s.gateway.DepositToken(gwCtx, asset.Address, amount)
		metrics.GatewayLatency.WithLabelValues("deposit_token").Observe(time.Since(start).Seconds())
	}
	return receipt, err
}

// recordEntry appends the immutable audit record for a completed operation.
// The ledger has already committed; a failed insert is logged, not surfaced,
// so the caller still sees the operation it actually got.
func (s *Service) recordEntry(ctx context.Context, req OperationRequest, asset model.Asset, kind string, receipt gateway.Receipt) *model.VaultEntry {
	entry := &model.VaultEntry{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Asset:     req.Asset,
		Symbol:    asset.Symbol,
		Kind:      kind,
		Amount:    req.Amount,
		Value:     s.entryValue(ctx, req.Asset, req.Amount),
		Receipt:   receipt.ID,
		Timestamp: time.Now().UTC(),
	}

	if err := s.store.InsertEntry(ctx, entry); err != nil {
		slog.Error("audit entry insert failed", "entry_id", entry.ID, "err", err)
	}
	return entry
}

// entryValue prices an amount at the current oracle rate for the audit
// record and badge accounting. Valuation is best-effort here: a missing
// quote degrades to zero value, it never fails the financial operation.
func (s *Service) entryValue(ctx context.Context, asset string, amount decimal.Decimal) decimal.Decimal {
	quote, err := s.quotes.Quote(ctx, asset)
	if err != nil {
		slog.Warn("entry valuation unavailable", "asset", asset, "err", err)
		return decimal.Zero
	}
	return amount.Mul(quote.Rate)
}

// notifyActivity feeds the badge issuer with the user's cumulative activity.
// Fire-and-forget: any failure here is invisible to the caller.
func (s *Service) notifyActivity(ctx context.Context, userID string) {
	summary, err := s.store.GetUserActivity(ctx, userID)
	if err != nil {
		slog.Warn("activity summary unavailable", "user", userID, "err", err)
		return
	}
	s.badges.Notify(badge.Notification{
		UserID:         userID,
		DepositCount:   summary.DepositCount,
		TotalDeposited: summary.TotalDeposited,
	})
}

func (s *Service) broadcast(eventType string, entry *model.VaultEntry) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(Event{
		Type:      eventType,
		UserID:    entry.UserID,
		Asset:     entry.Asset,
		Symbol:    entry.Symbol,
		Amount:    entry.Amount.String(),
		Value:     entry.Value.String(),
		Receipt:   entry.Receipt,
		Timestamp: entry.Timestamp.Format(time.RFC3339),
	})
}

// failOp records the failure stage and writes the mapped error response.
func (s *Service) failOp(w http.ResponseWriter, op, state string, req OperationRequest, err error) {
	metrics.OperationFailures.WithLabelValues(op, state).Inc()
	slog.Warn(op+" failed",
		"user", req.UserID,
		"asset", req.Asset,
		"amount", req.Amount.String(),
		"state", state,
		"err", err,
	)
	writeError(w, err.Error(), statusFor(err))
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrUnsupportedAsset),
		errors.Is(err, oracle.ErrUnsupportedAsset):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrApprovalRequired):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, gateway.ErrInsufficientPoolLiquidity),
		errors.Is(err, limits.ErrAssetCapExceeded),
		errors.Is(err, limits.ErrTotalCapExceeded):
		return http.StatusConflict
	case errors.Is(err, gateway.ErrUnavailable),
		errors.Is(err, oracle.ErrUnavailable),
		errors.Is(err, oracle.ErrStaleQuote):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
