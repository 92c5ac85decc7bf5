// Package limits enforces per-user deposit caps: a cap on any single
// asset's principal and a cap on the user's aggregate principal across all
// assets. Caps are checked before the external transfer so a rejected
// deposit never reaches the gateway.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrAssetCapExceeded is returned when a deposit would push a single
	// asset's principal beyond the per-asset maximum.
	ErrAssetCapExceeded = errors.New("limits: per-asset deposit cap exceeded")

	// ErrTotalCapExceeded is returned when a deposit would push the user's
	// aggregate principal beyond the overall maximum.
	ErrTotalCapExceeded = errors.New("limits: total deposit cap exceeded")
)

// DepositLimiter enforces per-user deposit caps.
type DepositLimiter struct {
	// MaxPerAsset is the maximum principal in any single asset.
	MaxPerAsset decimal.Decimal

	// MaxTotal is the maximum aggregate principal across all assets.
	MaxTotal decimal.Decimal
}

// NewDepositLimiter creates a limiter with the given per-asset and
// aggregate caps.
func NewDepositLimiter(maxPerAsset, maxTotal decimal.Decimal) *DepositLimiter {
	return &DepositLimiter{
		MaxPerAsset: maxPerAsset,
		MaxTotal:    maxTotal,
	}
}

// CheckDeposit validates whether a deposit respects the caps.
//
// Parameters:
//   - asset: address of the asset being deposited
//   - amount: deposit amount
//   - principals: the user's current principal per asset address
//
// Returns nil if the deposit is within limits, or an error describing the
// violation. A deposit landing exactly on a cap is allowed.
func (l *DepositLimiter) CheckDeposit(
	asset string,
	amount decimal.Decimal,
	principals map[string]decimal.Decimal,
) error {
	newInAsset := principals[asset].Add(amount)
	if newInAsset.GreaterThan(l.MaxPerAsset) {
		return ErrAssetCapExceeded
	}

	total := amount
	for _, p := range principals {
		total = total.Add(p)
	}
	if total.GreaterThan(l.MaxTotal) {
		return ErrTotalCapExceeded
	}

	return nil
}
