package vault_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/GigaChadds/gaave-core/internal/badge"
	"github.com/GigaChadds/gaave-core/internal/config"
	"github.com/GigaChadds/gaave-core/internal/gateway"
	"github.com/GigaChadds/gaave-core/internal/ledger"
	"github.com/GigaChadds/gaave-core/internal/limits"
	"github.com/GigaChadds/gaave-core/internal/model"
	"github.com/GigaChadds/gaave-core/internal/oracle"
	"github.com/GigaChadds/gaave-core/internal/store"
	"github.com/GigaChadds/gaave-core/internal/vault"
)

const (
	native = model.NativeAssetAddress
	dai    = "0x9A753f0F7886C9fbF63cF59D0D4423C5eFaCE95B"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// --- Stubs ---

// stubGateway is an in-memory gateway.Client with injectable failures.
type stubGateway struct {
	mu            sync.Mutex
	failWith      error // returned by every call when set
	nativeCalls   int
	tokenCalls    int
	withdrawCalls int
}

func (g *stubGateway) receipt(asset string, amount decimal.Decimal, n int) gateway.Receipt {
	return gateway.Receipt{ID: fmt.Sprintf("rcpt-%d", n), Asset: asset, Amount: amount}
}

func (g *stubGateway) DepositNative(_ context.Context, amount decimal.Decimal) (gateway.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nativeCalls++
	if g.failWith != nil {
		return gateway.Receipt{}, g.failWith
	}
	return g.receipt(native, amount, g.nativeCalls), nil
}

func (g *stubGateway) DepositToken(_ context.Context, asset string, amount decimal.Decimal) (gateway.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokenCalls++
	if g.failWith != nil {
		return gateway.Receipt{}, g.failWith
	}
	return g.receipt(asset, amount, g.tokenCalls), nil
}

func (g *stubGateway) Withdraw(_ context.Context, asset string, amount decimal.Decimal) (gateway.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.withdrawCalls++
	if g.failWith != nil {
		return gateway.Receipt{}, g.failWith
	}
	return g.receipt(asset, amount, g.withdrawCalls), nil
}

func (g *stubGateway) setFailure(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failWith = err
}

// stubOracle returns a fixed fresh rate per asset.
type stubOracle struct {
	mu    sync.Mutex
	rates map[string]decimal.Decimal
	age   time.Duration
	err   error
}

func (s *stubOracle) Quote(_ context.Context, asset string) (model.PriceQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return model.PriceQuote{}, s.err
	}
	rate, ok := s.rates[asset]
	if !ok {
		return model.PriceQuote{}, oracle.ErrUnsupportedAsset
	}
	return model.PriceQuote{
		Asset:     asset,
		Rate:      rate,
		Timestamp: time.Now().UTC().Add(-s.age),
	}, nil
}

// recordingIssuer captures badge notifications for assertions.
type recordingIssuer struct {
	mu            sync.Mutex
	notifications []badge.Notification
}

func (r *recordingIssuer) Notify(n badge.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

func (r *recordingIssuer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notifications)
}

// --- Harness ---

type testEnv struct {
	svc     *vault.Service
	ledger  *ledger.Ledger
	gateway *stubGateway
	oracle  *stubOracle
	store   *store.MemoryStore
	badges  *recordingIssuer
	router  chi.Router
}

func testConfig() *config.Config {
	return &config.Config{
		GatewayAddress:   "0x2a58E9bbb5434FdA7FF78051a4B82cb0EF669C17",
		PoolProxyAddress: "0x6C9fB0D5bD9429eb9Cd96B85B81d872281771E6B",
		Assets: []config.AssetConfig{
			{
				Asset: model.Asset{Address: native, Symbol: "MATIC", Kind: model.KindNative, Decimals: 18},
				Feed:  "0xd0D5e3DB44DE05E9F294BB0a3bEEaF030DE24Ada",
			},
			{
				Asset: model.Asset{Address: dai, Symbol: "DAI", Kind: model.KindToken, Decimals: 18},
				Feed:  "0x0FCAa9c899EC5A91eBc3D5Dd869De833b06fB046",
			},
		},
		MaxQuoteAge:    15 * time.Minute,
		GatewayTimeout: 5 * time.Second,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := testConfig()
	gw := &stubGateway{}
	quotes := &stubOracle{rates: map[string]decimal.Decimal{
		native: d(0.85),
		dai:    d(1),
	}}
	ms := store.NewMemoryStore()
	badges := &recordingIssuer{}
	led := ledger.New(cfg.AssetList(), quotes, cfg.MaxQuoteAge)
	limiter := limits.NewDepositLimiter(d(100000), d(250000))

	svc := vault.NewService(cfg, led, gw, quotes, ms, badges, limiter, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/deposits", svc.Deposit)
	r.Post("/api/v1/withdrawals", svc.Withdraw)
	r.Get("/api/v1/assets", svc.ListAssets)
	r.Get("/api/v1/positions/{userID}", svc.GetPositions)
	r.Get("/api/v1/positions/{userID}/{asset}", svc.GetPosition)
	r.Get("/api/v1/activity/{userID}", svc.GetActivity)

	return &testEnv{
		svc:     svc,
		ledger:  led,
		gateway: gw,
		oracle:  quotes,
		store:   ms,
		badges:  badges,
		router:  r,
	}
}

func doOp(t *testing.T, router chi.Router, path string, req vault.OperationRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", path, bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

func deposit(t *testing.T, env *testEnv, user, asset string, amount decimal.Decimal) *httptest.ResponseRecorder {
	t.Helper()
	return doOp(t, env.router, "/api/v1/deposits", vault.OperationRequest{UserID: user, Asset: asset, Amount: amount})
}

func withdraw(t *testing.T, env *testEnv, user, asset string, amount decimal.Decimal) *httptest.ResponseRecorder {
	t.Helper()
	return doOp(t, env.router, "/api/v1/withdrawals", vault.OperationRequest{UserID: user, Asset: asset, Amount: amount})
}

// --- Deposit tests ---

func TestDeposit_Native(t *testing.T) {
	env := newTestEnv(t)

	w := deposit(t, env, "user1", native, d(1))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp vault.OperationResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.EntryID == "" {
		t.Error("expected non-empty entry_id")
	}
	if resp.Receipt == "" {
		t.Error("expected non-empty receipt")
	}
	if !resp.Principal.Equal(d(1)) {
		t.Errorf("expected principal 1, got %s", resp.Principal)
	}
	if env.gateway.nativeCalls != 1 {
		t.Errorf("expected 1 native gateway call, got %d", env.gateway.nativeCalls)
	}

	principal, _, _ := env.ledger.Principal("user1", native)
	if !principal.Equal(d(1)) {
		t.Errorf("ledger principal: expected 1, got %s", principal)
	}
}

func TestDeposit_TokenTakesPoolPath(t *testing.T) {
	env := newTestEnv(t)

	w := deposit(t, env, "user1", dai, d(100))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if env.gateway.tokenCalls != 1 || env.gateway.nativeCalls != 0 {
		t.Errorf("expected token path: native=%d token=%d",
			env.gateway.nativeCalls, env.gateway.tokenCalls)
	}
}

func TestDeposit_UnsupportedAsset(t *testing.T) {
	env := newTestEnv(t)

	w := deposit(t, env, "user1", "0x0000000000000000000000000000000000000bad", d(1))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if env.gateway.nativeCalls+env.gateway.tokenCalls != 0 {
		t.Error("unsupported asset must never reach the gateway")
	}
}

func TestDeposit_NonPositiveAmount(t *testing.T) {
	env := newTestEnv(t)

	w := deposit(t, env, "user1", native, decimal.Zero)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero amount, got %d", w.Code)
	}

	w = deposit(t, env, "user1", native, d(-1))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative amount, got %d", w.Code)
	}
}

func TestDeposit_MissingUser(t *testing.T) {
	env := newTestEnv(t)

	w := deposit(t, env, "", native, d(1))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestDeposit_GatewayFailureLeavesLedgerUnchanged(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.setFailure(gateway.ErrUnavailable)

	w := deposit(t, env, "user1", native, d(1))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}

	// No partial credit: the ledger must look exactly as before.
	principal, reserved, _ := env.ledger.Principal("user1", native)
	if !principal.IsZero() || !reserved.IsZero() {
		t.Errorf("ledger mutated on gateway failure: principal=%s reserved=%s", principal, reserved)
	}

	entries, _ := env.store.GetEntriesByUser(context.Background(), "user1")
	if len(entries) != 0 {
		t.Errorf("no entry may be recorded for a failed deposit, got %d", len(entries))
	}
}

func TestDeposit_ApprovalRequired(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.setFailure(gateway.ErrApprovalRequired)

	w := deposit(t, env, "user1", dai, d(100))
	if w.Code != http.StatusPaymentRequired {
		t.Errorf("expected 402, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDeposit_CapExceeded(t *testing.T) {
	cfg := testConfig()
	gw := &stubGateway{}
	quotes := &stubOracle{rates: map[string]decimal.Decimal{native: d(1), dai: d(1)}}
	ms := store.NewMemoryStore()
	led := ledger.New(cfg.AssetList(), quotes, cfg.MaxQuoteAge)
	limiter := limits.NewDepositLimiter(d(10), d(15))
	svc := vault.NewService(cfg, led, gw, quotes, ms, badge.Nop{}, limiter, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/deposits", svc.Deposit)
	env := &testEnv{svc: svc, ledger: led, gateway: gw, router: r}

	w := deposit(t, env, "user1", native, d(9))
	if w.Code != http.StatusOK {
		t.Fatalf("deposit under cap should succeed: %d %s", w.Code, w.Body.String())
	}

	w = deposit(t, env, "user1", native, d(2))
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for per-asset cap, got %d", w.Code)
	}
	if gw.nativeCalls != 1 {
		t.Errorf("capped deposit must not reach the gateway, calls=%d", gw.nativeCalls)
	}
}

func TestDeposit_EntryRecordedWithValue(t *testing.T) {
	env := newTestEnv(t)

	deposit(t, env, "user1", native, d(2))

	entries, err := env.store.GetEntriesByUser(context.Background(), "user1")
	if err != nil {
		t.Fatalf("failed to get entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	e := entries[0]
	if e.Kind != model.EntryDeposit {
		t.Errorf("expected kind DEPOSIT, got %s", e.Kind)
	}
	if !e.Amount.Equal(d(2)) {
		t.Errorf("expected amount 2, got %s", e.Amount)
	}
	// 2 MATIC at 0.85 = 1.7 quote-currency value.
	if !e.Value.Equal(d(1.7)) {
		t.Errorf("expected value 1.7, got %s", e.Value)
	}
	if e.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}
}

func TestDeposit_BadgeNotified(t *testing.T) {
	env := newTestEnv(t)

	deposit(t, env, "user1", dai, d(500))

	if env.badges.count() != 1 {
		t.Fatalf("expected 1 badge notification, got %d", env.badges.count())
	}

	env.badges.mu.Lock()
	n := env.badges.notifications[0]
	env.badges.mu.Unlock()

	if n.UserID != "user1" {
		t.Errorf("expected user1, got %s", n.UserID)
	}
	if n.DepositCount != 1 {
		t.Errorf("expected deposit count 1, got %d", n.DepositCount)
	}
	if !n.TotalDeposited.Equal(d(500)) {
		t.Errorf("expected total deposited 500, got %s", n.TotalDeposited)
	}
}

func TestDeposit_OracleOutageDoesNotFailDeposit(t *testing.T) {
	env := newTestEnv(t)
	env.oracle.err = oracle.ErrUnavailable

	// Valuation for the audit record is best-effort; the deposit itself
	// must still complete.
	w := deposit(t, env, "user1", native, d(1))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	principal, _, _ := env.ledger.Principal("user1", native)
	if !principal.Equal(d(1)) {
		t.Errorf("expected principal 1, got %s", principal)
	}
}

// --- Withdraw tests ---

func TestWithdraw_Success(t *testing.T) {
	env := newTestEnv(t)
	deposit(t, env, "user1", native, d(2))

	w := withdraw(t, env, "user1", native, d(1.5))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp vault.OperationResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Principal.Equal(d(0.5)) {
		t.Errorf("expected principal 0.5, got %s", resp.Principal)
	}

	_, reserved, _ := env.ledger.Principal("user1", native)
	if !reserved.IsZero() {
		t.Errorf("dangling reservation after commit: %s", reserved)
	}
}

func TestWithdraw_InsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	deposit(t, env, "user1", native, d(1))

	w := withdraw(t, env, "user1", native, d(1.5))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	// Ledger unchanged and the gateway was never contacted.
	principal, reserved, _ := env.ledger.Principal("user1", native)
	if !principal.Equal(d(1)) || !reserved.IsZero() {
		t.Errorf("ledger changed on rejected withdrawal: principal=%s reserved=%s", principal, reserved)
	}
	if env.gateway.withdrawCalls != 0 {
		t.Errorf("insufficient balance must be detected before the gateway, calls=%d", env.gateway.withdrawCalls)
	}
}

func TestWithdraw_GatewayFailureReleasesReservation(t *testing.T) {
	env := newTestEnv(t)
	deposit(t, env, "user1", native, d(2))

	env.gateway.setFailure(gateway.ErrInsufficientPoolLiquidity)
	w := withdraw(t, env, "user1", native, d(1))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for pool liquidity, got %d: %s", w.Code, w.Body.String())
	}

	principal, reserved, _ := env.ledger.Principal("user1", native)
	if !principal.Equal(d(2)) {
		t.Errorf("principal changed on failed redemption: %s", principal)
	}
	if !reserved.IsZero() {
		t.Errorf("reservation not released: %s", reserved)
	}

	// The freed principal is immediately usable again.
	env.gateway.setFailure(nil)
	w = withdraw(t, env, "user1", native, d(2))
	if w.Code != http.StatusOK {
		t.Errorf("expected full withdrawal to succeed after release: %d %s", w.Code, w.Body.String())
	}
}

func TestWithdraw_DepositWithdrawScenario(t *testing.T) {
	env := newTestEnv(t)

	// Deposit 1.0 → principal 1.0.
	if w := deposit(t, env, "user1", native, d(1)); w.Code != http.StatusOK {
		t.Fatalf("deposit failed: %d", w.Code)
	}
	principal, _, _ := env.ledger.Principal("user1", native)
	if !principal.Equal(d(1)) {
		t.Fatalf("expected principal 1, got %s", principal)
	}

	// Withdraw 1.5 → insufficient, principal stays 1.0.
	if w := withdraw(t, env, "user1", native, d(1.5)); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	principal, _, _ = env.ledger.Principal("user1", native)
	if !principal.Equal(d(1)) {
		t.Fatalf("expected principal 1 after rejection, got %s", principal)
	}

	// Withdraw 1.0 → succeeds, principal 0.
	if w := withdraw(t, env, "user1", native, d(1)); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	principal, _, _ = env.ledger.Principal("user1", native)
	if !principal.IsZero() {
		t.Errorf("expected principal 0, got %s", principal)
	}
}

func TestWithdraw_ConcurrentDoubleSpendPrevented(t *testing.T) {
	env := newTestEnv(t)
	deposit(t, env, "user1", native, d(1))

	// Two concurrent withdrawals of 0.7 against principal 1.0: exactly one
	// may succeed.
	var wg sync.WaitGroup
	codes := make(chan int, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := withdraw(t, env, "user1", native, d(0.7))
			codes <- w.Code
		}()
	}
	wg.Wait()
	close(codes)

	var ok, conflict int
	for code := range codes {
		switch code {
		case http.StatusOK:
			ok++
		case http.StatusConflict:
			conflict++
		default:
			t.Fatalf("unexpected status %d", code)
		}
	}

	if ok != 1 || conflict != 1 {
		t.Errorf("double spend: %d successes, %d conflicts", ok, conflict)
	}

	principal, _, _ := env.ledger.Principal("user1", native)
	if !principal.Equal(d(0.3)) {
		t.Errorf("expected principal 0.3, got %s", principal)
	}
}

// --- Query endpoints ---

func TestGetPosition_Valued(t *testing.T) {
	env := newTestEnv(t)
	deposit(t, env, "user1", native, d(2))

	req := httptest.NewRequest("GET", "/api/v1/positions/user1/"+native, nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var pos model.Position
	json.Unmarshal(w.Body.Bytes(), &pos)
	if !pos.Principal.Equal(d(2)) {
		t.Errorf("expected principal 2, got %s", pos.Principal)
	}
	if !pos.Value.Equal(d(1.7)) {
		t.Errorf("expected value 1.7, got %s", pos.Value)
	}
}

func TestGetPosition_StaleQuote(t *testing.T) {
	env := newTestEnv(t)
	deposit(t, env, "user1", native, d(2))

	env.oracle.mu.Lock()
	env.oracle.age = time.Hour
	env.oracle.mu.Unlock()

	req := httptest.NewRequest("GET", "/api/v1/positions/user1/"+native, nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502 for stale quote, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetPositions_Empty(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("GET", "/api/v1/positions/nobody", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var positions []model.Position
	json.Unmarshal(w.Body.Bytes(), &positions)
	if len(positions) != 0 {
		t.Errorf("expected 0 positions, got %d", len(positions))
	}
}

func TestGetActivity_History(t *testing.T) {
	env := newTestEnv(t)
	deposit(t, env, "user1", native, d(1))
	withdraw(t, env, "user1", native, d(0.5))

	req := httptest.NewRequest("GET", "/api/v1/activity/user1", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var entries []model.VaultEntry
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Kind != model.EntryDeposit || entries[1].Kind != model.EntryWithdraw {
		t.Errorf("unexpected entry kinds: %s, %s", entries[0].Kind, entries[1].Kind)
	}
}

func TestListAssets(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("GET", "/api/v1/assets", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var assets []model.Asset
	json.Unmarshal(w.Body.Bytes(), &assets)
	if len(assets) != 2 {
		t.Errorf("expected 2 assets, got %d", len(assets))
	}
}
