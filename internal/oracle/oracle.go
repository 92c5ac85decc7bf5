// Package oracle fetches exchange rates from per-asset price feeds.
// Each supported asset is priced by exactly one feed; quotes are never
// cached, every valuation re-fetches.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GigaChadds/gaave-core/internal/model"
)

var (
	// ErrUnsupportedAsset is returned when no feed is configured for an asset.
	ErrUnsupportedAsset = errors.New("oracle: unsupported asset")

	// ErrUnavailable is returned when the feed cannot be reached or returns
	// an unusable response.
	ErrUnavailable = errors.New("oracle: feed unavailable")

	// ErrStaleQuote is returned by Fresh when a quote exceeds the max age.
	ErrStaleQuote = errors.New("oracle: quote exceeds max age")
)

// Client fetches the latest price quote for a supported asset.
type Client interface {
	Quote(ctx context.Context, asset string) (model.PriceQuote, error)
}

// Fresh rejects quotes older than maxAge. Consumers call this before using
// a quote for valuation so a stale-derived number is never returned.
func Fresh(q model.PriceQuote, maxAge time.Duration, now time.Time) error {
	if now.Sub(q.Timestamp) > maxAge {
		return fmt.Errorf("%w: quoted at %s", ErrStaleQuote, q.Timestamp.UTC().Format(time.RFC3339))
	}
	return nil
}

// feedResponse is the JSON body served by the feed relay for the latest
// round: the answer as a decimal string plus the round's update time.
type feedResponse struct {
	Answer    string `json:"answer"`
	UpdatedAt int64  `json:"updated_at"` // unix seconds
}

// FeedClient reads Chainlink-style feeds through an HTTP relay, one feed
// address per asset.
type FeedClient struct {
	baseURL string
	feeds   map[string]string // asset address → feed address
	httpc   *http.Client
}

// NewFeedClient creates a feed client for the given relay URL and
// asset → feed mapping.
func NewFeedClient(baseURL string, feeds map[string]string) *FeedClient {
	return &FeedClient{
		baseURL: baseURL,
		feeds:   feeds,
		httpc:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Quote fetches the latest round for the asset's feed.
func (c *FeedClient) Quote(ctx context.Context, asset string) (model.PriceQuote, error) {
	feed, ok := c.feeds[asset]
	if !ok {
		return model.PriceQuote{}, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}

	url := fmt.Sprintf("%s/feeds/%s/latest", c.baseURL, feed)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.PriceQuote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return model.PriceQuote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.PriceQuote{}, fmt.Errorf("%w: feed %s returned %d", ErrUnavailable, feed, resp.StatusCode)
	}

	var body feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.PriceQuote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	rate, err := decimal.NewFromString(body.Answer)
	if err != nil {
		return model.PriceQuote{}, fmt.Errorf("%w: bad answer %q", ErrUnavailable, body.Answer)
	}
	if rate.LessThanOrEqual(decimal.Zero) {
		return model.PriceQuote{}, fmt.Errorf("%w: non-positive answer %s", ErrUnavailable, rate)
	}

	return model.PriceQuote{
		Asset:     asset,
		Rate:      rate,
		Timestamp: time.Unix(body.UpdatedAt, 0).UTC(),
	}, nil
}
