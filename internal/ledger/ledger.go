// Package ledger maintains the authoritative mapping from (user, asset) to
// deposited principal. All mutations on one key are serialized; distinct
// keys proceed in parallel.
//
// Withdrawals use a compare-and-reserve step: funds are marked reserved
// before the external redemption call and either committed (debited) on
// success or released on failure, so two concurrent withdrawals can never
// both claim the same principal. The key's lock is never held across an
// external call — only the reservation marker is.
//
// Positions are zeroed, never deleted: historical presence gates badge
// issuance.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GigaChadds/gaave-core/internal/model"
	"github.com/GigaChadds/gaave-core/internal/oracle"
)

var (
	// ErrUnsupportedAsset is returned for assets outside the configured set.
	ErrUnsupportedAsset = errors.New("ledger: unsupported asset")

	// ErrInsufficientBalance is returned when a debit or reservation exceeds
	// the unreserved principal.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
)

type key struct {
	user  string
	asset string
}

// position holds one (user, asset) record. Its mutex serializes all
// mutations on the key.
type position struct {
	mu        sync.Mutex
	principal decimal.Decimal
	reserved  decimal.Decimal // claimed by in-flight withdrawals
}

// available returns the principal not claimed by a pending withdrawal.
// Caller holds p.mu.
func (p *position) available() decimal.Decimal {
	return p.principal.Sub(p.reserved)
}

// Ledger is the authoritative position store.
type Ledger struct {
	mu        sync.RWMutex
	positions map[key]*position

	assets map[string]model.Asset
	quotes oracle.Client
	maxAge time.Duration

	now func() time.Time // overridable in tests
}

// New creates a ledger for the given supported assets, valuing positions
// through the oracle client with the given staleness bound.
func New(assets []model.Asset, quotes oracle.Client, maxQuoteAge time.Duration) *Ledger {
	byAddr := make(map[string]model.Asset, len(assets))
	for _, a := range assets {
		byAddr[a.Address] = a
	}
	return &Ledger{
		positions: make(map[key]*position),
		assets:    byAddr,
		quotes:    quotes,
		maxAge:    maxQuoteAge,
		now:       time.Now,
	}
}

// get returns the position record for a key, creating it on first use.
func (l *Ledger) get(user, asset string) *position {
	k := key{user: user, asset: asset}

	l.mu.RLock()
	p, ok := l.positions[k]
	l.mu.RUnlock()
	if ok {
		return p
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok = l.positions[k]; ok {
		return p
	}
	p = &position{principal: decimal.Zero, reserved: decimal.Zero}
	l.positions[k] = p
	return p
}

// lookup returns an existing position record without creating one.
func (l *Ledger) lookup(user, asset string) (*position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[key{user: user, asset: asset}]
	return p, ok
}

func (l *Ledger) checkAsset(asset string) error {
	if _, ok := l.assets[asset]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	return nil
}

// Credit increases principal for (user, asset). Called only after the
// external transfer has succeeded — never credit funds that were not
// actually deposited.
func (l *Ledger) Credit(user, asset string, amount decimal.Decimal) error {
	if err := l.checkAsset(asset); err != nil {
		return err
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("ledger: credit amount must be positive, got %s", amount)
	}

	p := l.get(user, asset)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.principal = p.principal.Add(amount)
	return nil
}

// Debit decreases principal directly. Fails if amount exceeds the
// unreserved principal, leaving the position unchanged.
func (l *Ledger) Debit(user, asset string, amount decimal.Decimal) error {
	if err := l.checkAsset(asset); err != nil {
		return err
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("ledger: debit amount must be positive, got %s", amount)
	}

	p, ok := l.lookup(user, asset)
	if !ok {
		return fmt.Errorf("%w: no position for %s/%s", ErrInsufficientBalance, user, asset)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if amount.GreaterThan(p.available()) {
		return fmt.Errorf("%w: have %s, want %s", ErrInsufficientBalance, p.available(), amount)
	}
	p.principal = p.principal.Sub(amount)
	return nil
}

// Reserve marks amount as claimed by an in-flight withdrawal. The check
// and the mark are one atomic step: a second reservation on the same key
// sees the reduced availability.
func (l *Ledger) Reserve(user, asset string, amount decimal.Decimal) error {
	if err := l.checkAsset(asset); err != nil {
		return err
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("ledger: reserve amount must be positive, got %s", amount)
	}

	p, ok := l.lookup(user, asset)
	if !ok {
		return fmt.Errorf("%w: no position for %s/%s", ErrInsufficientBalance, user, asset)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if amount.GreaterThan(p.available()) {
		return fmt.Errorf("%w: available %s, want %s", ErrInsufficientBalance, p.available(), amount)
	}
	p.reserved = p.reserved.Add(amount)
	return nil
}

// Commit finalizes a reservation after the external redemption succeeded:
// the reserved amount leaves both principal and the reservation marker.
func (l *Ledger) Commit(user, asset string, amount decimal.Decimal) error {
	p, ok := l.lookup(user, asset)
	if !ok {
		return fmt.Errorf("ledger: commit without reservation for %s/%s", user, asset)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if amount.GreaterThan(p.reserved) {
		return fmt.Errorf("ledger: commit %s exceeds reserved %s for %s/%s", amount, p.reserved, user, asset)
	}
	p.reserved = p.reserved.Sub(amount)
	p.principal = p.principal.Sub(amount)
	return nil
}

// Release drops a reservation after a failed redemption, restoring the
// pre-operation state.
func (l *Ledger) Release(user, asset string, amount decimal.Decimal) error {
	p, ok := l.lookup(user, asset)
	if !ok {
		return fmt.Errorf("ledger: release without reservation for %s/%s", user, asset)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if amount.GreaterThan(p.reserved) {
		return fmt.Errorf("ledger: release %s exceeds reserved %s for %s/%s", amount, p.reserved, user, asset)
	}
	p.reserved = p.reserved.Sub(amount)
	return nil
}

// Principal returns the current principal and reserved amounts for a key.
// A key with no history reports zero for both.
func (l *Ledger) Principal(user, asset string) (principal, reserved decimal.Decimal, err error) {
	if err := l.checkAsset(asset); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	p, ok := l.lookup(user, asset)
	if !ok {
		return decimal.Zero, decimal.Zero, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.principal, p.reserved, nil
}

// Principals returns the user's principal per asset address. Used for
// deposit-cap checks.
func (l *Ledger) Principals(user string) map[string]decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]decimal.Decimal)
	for k, p := range l.positions {
		if k.user != user {
			continue
		}
		p.mu.Lock()
		out[k.asset] = p.principal
		p.mu.Unlock()
	}
	return out
}

// TotalPrincipal sums all users' principal for one asset. The sum never
// exceeds the cumulative amount forwarded to the lending gateway for that
// asset, because credits happen only after successful transfers.
func (l *Ledger) TotalPrincipal(asset string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := decimal.Zero
	for k, p := range l.positions {
		if k.asset != asset {
			continue
		}
		p.mu.Lock()
		total = total.Add(p.principal)
		p.mu.Unlock()
	}
	return total
}

// Valuate prices a position with a fresh oracle quote. A quote older than
// the configured max age fails with ErrStaleQuote rather than producing a
// stale-derived value. The key's lock is not held across the oracle call.
func (l *Ledger) Valuate(ctx context.Context, user, asset string) (model.Position, error) {
	a, ok := l.assets[asset]
	if !ok {
		return model.Position{}, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}

	principal, reserved, err := l.Principal(user, asset)
	if err != nil {
		return model.Position{}, err
	}

	quote, err := l.quotes.Quote(ctx, asset)
	if err != nil {
		return model.Position{}, err
	}
	if err := oracle.Fresh(quote, l.maxAge, l.now()); err != nil {
		return model.Position{}, err
	}

	return model.Position{
		UserID:    user,
		Asset:     asset,
		Symbol:    a.Symbol,
		Principal: principal,
		Reserved:  reserved,
		Rate:      quote.Rate,
		Value:     principal.Mul(quote.Rate),
		QuotedAt:  quote.Timestamp,
	}, nil
}

// Assets returns the user's asset addresses with a position record,
// including zeroed ones.
func (l *Ledger) Assets(user string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []string
	for k := range l.positions {
		if k.user == user {
			out = append(out, k.asset)
		}
	}
	return out
}
