package config

import (
	"fmt"
	"math/big"
	"strings"

	"swapcore/crypto"
)

// MaxBps is 100% in basis points.
const MaxBps = 10_000

// Validate checks cross-field consistency. It does not touch the filesystem.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLevelDB, BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("backend: unsupported value %q", c.Backend)
	}
	if _, err := crypto.ParseIdentity(c.Admin); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	for i, reporter := range c.Oracle.Reporters {
		if _, err := crypto.ParseIdentity(reporter); err != nil {
			return fmt.Errorf("oracle.reporters[%d]: %w", i, err)
		}
	}
	if c.Oracle.MinConfidence > MaxBps {
		return fmt.Errorf("oracle: min confidence above %d", MaxBps)
	}
	if c.Oracle.MaxPriceAgeSeconds < 0 {
		return fmt.Errorf("oracle: max price age must not be negative")
	}

	declared := make(map[string]struct{}, len(c.Assets))
	for i, asset := range c.Assets {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if symbol == "" {
			return fmt.Errorf("assets[%d]: symbol required", i)
		}
		if asset.Decimals > 36 {
			return fmt.Errorf("assets[%d]: decimals above 36", i)
		}
		if _, dup := declared[symbol]; dup {
			return fmt.Errorf("assets[%d]: duplicate symbol %s", i, symbol)
		}
		declared[symbol] = struct{}{}
	}
	isDeclared := func(asset string) bool {
		_, ok := declared[strings.ToUpper(strings.TrimSpace(asset))]
		return ok
	}
	if native := strings.TrimSpace(c.NativeAsset); native != "" && !isDeclared(native) {
		return fmt.Errorf("native asset %s is not declared", native)
	}
	for i, price := range c.Prices {
		if !isDeclared(price.Asset) {
			return fmt.Errorf("prices[%d]: asset %s is not declared", i, price.Asset)
		}
		if _, err := ParseAmount(price.Price); err != nil {
			return fmt.Errorf("prices[%d]: %w", i, err)
		}
	}
	for i, alloc := range c.Genesis {
		if _, err := crypto.ParseIdentity(alloc.Holder); err != nil {
			return fmt.Errorf("genesis[%d]: %w", i, err)
		}
		if !isDeclared(alloc.Asset) {
			return fmt.Errorf("genesis[%d]: asset %s is not declared", i, alloc.Asset)
		}
		if _, err := ParseAmount(alloc.Amount); err != nil {
			return fmt.Errorf("genesis[%d]: %w", i, err)
		}
	}

	if c.HTLC.FeeBps > 1_000 {
		return fmt.Errorf("htlc: fee above 1000 bps")
	}
	if c.HTLC.ToleranceBps > MaxBps {
		return fmt.Errorf("htlc: tolerance above %d bps", MaxBps)
	}
	if c.HTLC.MinTimelockSeconds <= 0 || c.HTLC.MinTimelockSeconds > c.HTLC.MaxTimelockSeconds {
		return fmt.Errorf("htlc: min timelock > max timelock or zero")
	}
	if c.Router.ExecutionFeeBps > MaxBps || c.Router.DefaultConfidence > MaxBps {
		return fmt.Errorf("router: basis point value above %d", MaxBps)
	}
	if account := strings.TrimSpace(c.Router.Reserve.Account); account != "" {
		if _, err := crypto.ParseIdentity(account); err != nil {
			return fmt.Errorf("router.reserve: %w", err)
		}
		if c.Router.Reserve.SpreadBps >= MaxBps {
			return fmt.Errorf("router.reserve: spread must be below %d bps", MaxBps)
		}
	}
	return nil
}

// ParseAmount parses a positive base-10 integer.
func ParseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return value, nil
}
