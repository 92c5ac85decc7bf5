// Package model defines the core domain types shared across the vault service.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetKind distinguishes the chain's native asset from ERC-20 tokens.
// Native deposits are routed through the ETH gateway; token deposits go
// through the lending pool proxy.
type AssetKind string

const (
	KindNative AssetKind = "native"
	KindToken  AssetKind = "erc20"
)

// NativeAssetAddress is the conventional address for the chain's native
// asset (ETH on mainnet, MATIC on Polygon).
const NativeAssetAddress = "0x0000000000000000000000000000000000000000"

// Asset is a deposit asset accepted by the vault. Address identifies the
// ERC-20 contract; the native asset uses NativeAssetAddress.
type Asset struct {
	Address  string    `json:"address" db:"address"`
	Symbol   string    `json:"symbol" db:"symbol"`
	Kind     AssetKind `json:"kind" db:"kind"`
	Decimals int       `json:"decimals" db:"decimals"`
}

// IsNative reports whether deposits of this asset take the native-asset path.
func (a Asset) IsNative() bool {
	return a.Kind == KindNative
}

// Entry kinds for the immutable vault ledger.
const (
	EntryDeposit  = "DEPOSIT"
	EntryWithdraw = "WITHDRAW"
)

// VaultEntry is an immutable record of a completed deposit or withdrawal.
// Once created, these are never modified or deleted.
type VaultEntry struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Asset     string          `json:"asset" db:"asset"` // asset address
	Symbol    string          `json:"symbol" db:"symbol"`
	Kind      string          `json:"kind" db:"kind"` // "DEPOSIT" or "WITHDRAW"
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Value     decimal.Decimal `json:"value" db:"value"` // amount × oracle rate at completion
	Receipt   string          `json:"receipt" db:"receipt"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Position is a user's recorded claim on one asset, with its current
// oracle-derived valuation.
type Position struct {
	UserID    string          `json:"user_id"`
	Asset     string          `json:"asset"`
	Symbol    string          `json:"symbol"`
	Principal decimal.Decimal `json:"principal"`
	Reserved  decimal.Decimal `json:"reserved"` // held by in-flight withdrawals
	Rate      decimal.Decimal `json:"rate"`
	Value     decimal.Decimal `json:"value"` // principal × rate
	QuotedAt  time.Time       `json:"quoted_at"`
}

// PriceQuote is a point-in-time exchange rate reported by an oracle feed.
// Consumers reject quotes older than the configured max age.
type PriceQuote struct {
	Asset     string          `json:"asset"`
	Rate      decimal.Decimal `json:"rate"`
	Timestamp time.Time       `json:"timestamp"`
}

// ActivitySummary aggregates a user's lifetime vault activity. Badge tiers
// are derived from the cumulative deposited value.
type ActivitySummary struct {
	UserID         string          `json:"user_id"`
	DepositCount   int             `json:"deposit_count"`
	WithdrawCount  int             `json:"withdraw_count"`
	TotalDeposited decimal.Decimal `json:"total_deposited"` // Σ deposit values
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"` // Σ withdrawal values
}
