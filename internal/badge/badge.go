// Package badge requests achievement-token issuance for qualifying vault
// activity. Issuance is best-effort and fully decoupled from the financial
// path: notifications go through a buffered channel with a non-blocking
// send, and a failed issuance is logged and counted but never surfaces to
// the deposit or withdrawal that triggered it.
package badge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GigaChadds/gaave-core/internal/metrics"
)

// ErrIssuanceFailed wraps failures reported by the badge contract relay.
var ErrIssuanceFailed = errors.New("badge: issuance failed")

// Tier is an achievement level derived from cumulative deposited value.
type Tier int

const (
	TierNone Tier = iota
	TierBronze
	TierSilver
	TierGold
)

func (t Tier) String() string {
	switch t {
	case TierBronze:
		return "bronze"
	case TierSilver:
		return "silver"
	case TierGold:
		return "gold"
	default:
		return "none"
	}
}

// Tier thresholds in quote-currency value.
var (
	bronzeThreshold = decimal.NewFromInt(100)
	silverThreshold = decimal.NewFromInt(1000)
	goldThreshold   = decimal.NewFromInt(10000)
)

// TierFor returns the highest tier a cumulative deposited value qualifies for.
func TierFor(totalDeposited decimal.Decimal) Tier {
	switch {
	case totalDeposited.GreaterThanOrEqual(goldThreshold):
		return TierGold
	case totalDeposited.GreaterThanOrEqual(silverThreshold):
		return TierSilver
	case totalDeposited.GreaterThanOrEqual(bronzeThreshold):
		return TierBronze
	default:
		return TierNone
	}
}

// Notification summarizes a user's activity after a completed operation.
type Notification struct {
	UserID         string
	DepositCount   int
	TotalDeposited decimal.Decimal
}

// Issuer receives activity notifications. Implementations must never block
// the caller and never return an error to it.
type Issuer interface {
	Notify(n Notification)
}

// Nop discards all notifications. Used when no badge contract is configured.
type Nop struct{}

func (Nop) Notify(Notification) {}

// Worker drains notifications on a single goroutine and requests issuance
// from the badge contract relay once per newly reached tier per user.
type Worker struct {
	ch       chan Notification
	endpoint string // badge relay URL, e.g. http://relay/badges/{contract}/mint
	httpc    *http.Client

	mu      sync.Mutex
	awarded map[string]Tier // highest tier already issued per user

	done chan struct{}
}

// NewWorker creates a badge worker posting to the given relay endpoint.
func NewWorker(endpoint string) *Worker {
	return &Worker{
		ch:       make(chan Notification, 256),
		endpoint: endpoint,
		httpc:    &http.Client{Timeout: 10 * time.Second},
		awarded:  make(map[string]Tier),
		done:     make(chan struct{}),
	}
}

// Notify enqueues a notification. Drops if the buffer is full rather than
// blocking the financial operation that produced it.
func (w *Worker) Notify(n Notification) {
	select {
	case w.ch <- n:
	default:
		metrics.BadgeDropped.Inc()
	}
}

// Run processes notifications until Close is called. Must be called in a
// goroutine.
func (w *Worker) Run() {
	for {
		select {
		case n := <-w.ch:
			w.process(n)
		case <-w.done:
			return
		}
	}
}

// Close stops the worker.
func (w *Worker) Close() {
	close(w.done)
}

func (w *Worker) process(n Notification) {
	tier := TierFor(n.TotalDeposited)
	if tier == TierNone {
		return
	}

	w.mu.Lock()
	already := w.awarded[n.UserID]
	if tier <= already {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	// Issue every tier between the last awarded and the new one so a user
	// jumping straight to gold still receives bronze and silver.
	for t := already + 1; t <= tier; t++ {
		if err := w.issue(n.UserID, t); err != nil {
			slog.Error("badge issuance failed",
				"user", n.UserID,
				"tier", t.String(),
				"err", err,
			)
			metrics.BadgeFailures.Inc()
			return // retry on the next qualifying notification
		}

		w.mu.Lock()
		w.awarded[n.UserID] = t
		w.mu.Unlock()

		metrics.BadgesIssued.WithLabelValues(t.String()).Inc()
		slog.Info("badge issued", "user", n.UserID, "tier", t.String())
	}
}

type issueRequest struct {
	UserID string `json:"user_id"`
	Tier   string `json:"tier"`
}

func (w *Worker) issue(userID string, tier Tier) error {
	body, err := json.Marshal(issueRequest{UserID: userID, Tier: tier.String()})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIssuanceFailed, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIssuanceFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIssuanceFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%w: status %d", ErrIssuanceFailed, resp.StatusCode)
	}
	return nil
}
