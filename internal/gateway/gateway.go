// Package gateway wraps the external lending-pool gateway: native-asset
// deposits through the ETH gateway, ERC-20 deposits and withdrawals through
// the pool proxy. The client never retries — a duplicated transfer against
// an external custodian moves funds twice.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable is returned on transport failure, timeouts, and
	// unexpected gateway responses.
	ErrUnavailable = errors.New("gateway: unavailable")

	// ErrApprovalRequired is returned when the token allowance for the pool
	// proxy is insufficient for the requested deposit.
	ErrApprovalRequired = errors.New("gateway: token approval required")

	// ErrInsufficientPoolLiquidity is returned when the external pool cannot
	// honor a redemption. Surfaced verbatim; never retried here.
	ErrInsufficientPoolLiquidity = errors.New("gateway: insufficient pool liquidity")
)

// Receipt is the gateway's opaque acknowledgement of a completed transfer.
type Receipt struct {
	ID     string          `json:"id"`
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// Client is the boundary to the external lending-pool gateway.
type Client interface {
	// DepositNative forwards the native asset to the configured gateway.
	DepositNative(ctx context.Context, amount decimal.Decimal) (Receipt, error)

	// DepositToken forwards a pre-approved ERC-20 amount to the pool proxy.
	DepositToken(ctx context.Context, asset string, amount decimal.Decimal) (Receipt, error)

	// Withdraw requests redemption of a position from the pool.
	Withdraw(ctx context.Context, asset string, amount decimal.Decimal) (Receipt, error)
}

// HTTPClient talks to a gateway relay over JSON HTTP.
type HTTPClient struct {
	baseURL   string
	gateway   string // ETH gateway contract address
	poolProxy string // lending pool proxy address
	httpc     *http.Client
}

// NewHTTPClient creates a gateway client for the given relay URL and the
// deployed gateway/pool addresses.
func NewHTTPClient(baseURL, gatewayAddr, poolProxyAddr string) *HTTPClient {
	return &HTTPClient{
		baseURL:   baseURL,
		gateway:   gatewayAddr,
		poolProxy: poolProxyAddr,
		httpc:     &http.Client{Timeout: 15 * time.Second},
	}
}

type transferRequest struct {
	Asset  string          `json:"asset,omitempty"`
	Amount decimal.Decimal `json:"amount"`
}

func (c *HTTPClient) DepositNative(ctx context.Context, amount decimal.Decimal) (Receipt, error) {
	url := fmt.Sprintf("%s/gateway/%s/deposit", c.baseURL, c.gateway)
	return c.post(ctx, url, transferRequest{Amount: amount})
}

func (c *HTTPClient) DepositToken(ctx context.Context, asset string, amount decimal.Decimal) (Receipt, error) {
	url := fmt.Sprintf("%s/pool/%s/deposit", c.baseURL, c.poolProxy)
	return c.post(ctx, url, transferRequest{Asset: asset, Amount: amount})
}

func (c *HTTPClient) Withdraw(ctx context.Context, asset string, amount decimal.Decimal) (Receipt, error) {
	url := fmt.Sprintf("%s/pool/%s/withdraw", c.baseURL, c.poolProxy)
	return c.post(ctx, url, transferRequest{Asset: asset, Amount: amount})
}

func (c *HTTPClient) post(ctx context.Context, url string, req transferRequest) (Receipt, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		// Context timeouts land here; treated as a failed call, not a
		// reason to retry.
		return Receipt{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var receipt Receipt
		if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
			return Receipt{}, fmt.Errorf("%w: bad receipt: %v", ErrUnavailable, err)
		}
		return receipt, nil
	case http.StatusPaymentRequired:
		return Receipt{}, fmt.Errorf("%w: asset %s", ErrApprovalRequired, req.Asset)
	case http.StatusConflict:
		return Receipt{}, fmt.Errorf("%w: %s %s", ErrInsufficientPoolLiquidity, req.Amount, req.Asset)
	default:
		return Receipt{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}
