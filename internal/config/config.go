// Package config holds the deployment configuration for the vault core:
// gateway and pool addresses, the supported-asset roster, and the oracle
// feed mapped to each asset. The configuration is validated once at
// construction and immutable afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/GigaChadds/gaave-core/internal/model"
)

var (
	ErrInvalidAddress = errors.New("config: invalid hex address")
	ErrDuplicateAsset = errors.New("config: duplicate asset address")
	ErrMissingFeed    = errors.New("config: asset has no oracle feed")
	ErrNoAssets       = errors.New("config: no supported assets configured")
	ErrMissingGateway = errors.New("config: gateway address is required")
	ErrMissingPool    = errors.New("config: pool proxy address is required")
)

// addressRegex matches a 20-byte hex address with 0x prefix.
var addressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// AssetConfig pairs one supported asset with the oracle feed that prices it.
// The explicit pairing replaces positional token/oracle arrays: an asset
// without a feed is rejected at validation time.
type AssetConfig struct {
	model.Asset
	Feed string `json:"feed"` // oracle feed address for this asset
}

// Config is the immutable deployment configuration consumed by the vault
// core at construction.
type Config struct {
	GatewayAddress   string        `json:"gateway_address"`    // native-asset gateway
	PoolProxyAddress string        `json:"pool_proxy_address"` // ERC-20 lending pool entry point
	Assets           []AssetConfig `json:"assets"`

	// MaxQuoteAge is the staleness bound for oracle quotes. Valuations
	// backed by an older quote are rejected.
	MaxQuoteAge time.Duration `json:"max_quote_age"`

	// GatewayTimeout bounds each external gateway call. A timeout counts
	// as a gateway failure; retries are the caller's responsibility.
	GatewayTimeout time.Duration `json:"gateway_timeout"`
}

// Defaults for the open tuning values. Chainlink feeds on Polygon heartbeat
// at most hourly; 15 minutes rejects anything meaningfully behind that.
const (
	DefaultMaxQuoteAge    = 15 * time.Minute
	DefaultGatewayTimeout = 10 * time.Second
)

// Default returns the Mumbai testnet configuration: the Aave WETHGateway,
// the lending pool proxy, native MATIC, and DAI.
func Default() *Config {
	return &Config{
		GatewayAddress:   "0x2a58E9bbb5434FdA7FF78051a4B82cb0EF669C17",
		PoolProxyAddress: "0x6C9fB0D5bD9429eb9Cd96B85B81d872281771E6B",
		Assets: []AssetConfig{
			{
				Asset: model.Asset{
					Address:  model.NativeAssetAddress,
					Symbol:   "MATIC",
					Kind:     model.KindNative,
					Decimals: 18,
				},
				Feed: "0xd0D5e3DB44DE05E9F294BB0a3bEEaF030DE24Ada",
			},
			{
				Asset: model.Asset{
					Address:  "0x9A753f0F7886C9fbF63cF59D0D4423C5eFaCE95B",
					Symbol:   "DAI",
					Kind:     model.KindToken,
					Decimals: 18,
				},
				Feed: "0x0FCAa9c899EC5A91eBc3D5Dd869De833b06fB046",
			},
		},
		MaxQuoteAge:    DefaultMaxQuoteAge,
		GatewayTimeout: DefaultGatewayTimeout,
	}
}

// Load builds a Config from the environment, falling back to Default for
// anything unset. Asset entries use the form
// SYMBOL:address:kind:decimals:feedAddress, comma separated.
func Load() (*Config, error) {
	cfg := Default()

	if v := os.Getenv("GATEWAY_ADDRESS"); v != "" {
		cfg.GatewayAddress = v
	}
	if v := os.Getenv("POOL_PROXY_ADDRESS"); v != "" {
		cfg.PoolProxyAddress = v
	}
	if v := os.Getenv("VAULT_ASSETS"); v != "" {
		assets, err := parseAssets(v)
		if err != nil {
			return nil, err
		}
		cfg.Assets = assets
	}
	if v := os.Getenv("MAX_QUOTE_AGE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid MAX_QUOTE_AGE: %w", err)
		}
		cfg.MaxQuoteAge = d
	}
	if v := os.Getenv("GATEWAY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid GATEWAY_TIMEOUT: %w", err)
		}
		cfg.GatewayTimeout = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseAssets(raw string) ([]AssetConfig, error) {
	var assets []AssetConfig
	for _, part := range strings.Split(raw, ",") {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) != 5 {
			return nil, fmt.Errorf("config: malformed asset entry %q (want SYMBOL:address:kind:decimals:feed)", part)
		}
		decimals, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, fmt.Errorf("config: invalid decimals in %q: %w", part, err)
		}
		kind := model.AssetKind(fields[2])
		if kind != model.KindNative && kind != model.KindToken {
			return nil, fmt.Errorf("config: unknown asset kind %q", fields[2])
		}
		assets = append(assets, AssetConfig{
			Asset: model.Asset{
				Address:  fields[1],
				Symbol:   fields[0],
				Kind:     kind,
				Decimals: decimals,
			},
			Feed: fields[4],
		})
	}
	return assets, nil
}

// Validate fails fast on malformed configuration: missing addresses,
// duplicate assets, assets without a feed, or bad tuning values.
func (c *Config) Validate() error {
	if c.GatewayAddress == "" {
		return ErrMissingGateway
	}
	if !addressRegex.MatchString(c.GatewayAddress) {
		return fmt.Errorf("%w: gateway %q", ErrInvalidAddress, c.GatewayAddress)
	}
	if c.PoolProxyAddress == "" {
		return ErrMissingPool
	}
	if !addressRegex.MatchString(c.PoolProxyAddress) {
		return fmt.Errorf("%w: pool proxy %q", ErrInvalidAddress, c.PoolProxyAddress)
	}
	if len(c.Assets) == 0 {
		return ErrNoAssets
	}

	seen := make(map[string]bool, len(c.Assets))
	for _, a := range c.Assets {
		if !addressRegex.MatchString(a.Address) {
			return fmt.Errorf("%w: asset %q", ErrInvalidAddress, a.Address)
		}
		if seen[strings.ToLower(a.Address)] {
			return fmt.Errorf("%w: %s", ErrDuplicateAsset, a.Address)
		}
		seen[strings.ToLower(a.Address)] = true

		if a.Feed == "" {
			return fmt.Errorf("%w: %s", ErrMissingFeed, a.Symbol)
		}
		if !addressRegex.MatchString(a.Feed) {
			return fmt.Errorf("%w: feed %q for %s", ErrInvalidAddress, a.Feed, a.Symbol)
		}
		if a.Decimals < 0 || a.Decimals > 18 {
			return fmt.Errorf("config: decimals for %s out of range: %d", a.Symbol, a.Decimals)
		}
	}

	if c.MaxQuoteAge <= 0 {
		return errors.New("config: max quote age must be positive")
	}
	if c.GatewayTimeout <= 0 {
		return errors.New("config: gateway timeout must be positive")
	}
	return nil
}

// AssetList returns the supported assets without their feed pairing.
func (c *Config) AssetList() []model.Asset {
	assets := make([]model.Asset, 0, len(c.Assets))
	for _, a := range c.Assets {
		assets = append(assets, a.Asset)
	}
	return assets
}

// Feeds returns the asset address → feed address mapping for the oracle client.
func (c *Config) Feeds() map[string]string {
	feeds := make(map[string]string, len(c.Assets))
	for _, a := range c.Assets {
		feeds[a.Address] = a.Feed
	}
	return feeds
}
