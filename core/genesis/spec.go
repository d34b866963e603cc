package genesis

import (
	"fmt"
	"math/big"
	"sort"

	"swapcore/config"
	"swapcore/crypto"
	"swapcore/native/bank"
	"swapcore/native/htlc"
)

// Spec is the parsed bootstrap state of a fresh ledger.
type Spec struct {
	Admin         [20]byte
	Reporters     [][20]byte
	Assets        []AssetSpec
	Prices        []PriceSpec
	Alloc         []AllocationSpec
	HTLC          htlc.Params
	MinConfidence uint32
}

type AssetSpec struct {
	Symbol   string
	Decimals uint8
}

type PriceSpec struct {
	Asset string
	Price *big.Int
}

type AllocationSpec struct {
	Holder [20]byte
	Asset  string
	Amount *big.Int
}

// FromConfig parses the bootstrap sections of a validated configuration.
// Every list is returned in canonical order so applying the same config
// always produces the same event log.
func FromConfig(cfg *config.Config) (*Spec, error) {
	if cfg == nil {
		return nil, fmt.Errorf("genesis: config must not be nil")
	}
	admin, err := crypto.ParseIdentity(cfg.Admin)
	if err != nil {
		return nil, fmt.Errorf("admin: %w", err)
	}
	spec := &Spec{
		Admin:         admin,
		MinConfidence: cfg.Oracle.MinConfidence,
		HTLC: htlc.Params{
			FeeBps:       cfg.HTLC.FeeBps,
			ToleranceBps: cfg.HTLC.ToleranceBps,
			MinTimelock:  cfg.HTLC.MinTimelockSeconds,
			MaxTimelock:  cfg.HTLC.MaxTimelockSeconds,
		},
	}

	seen := make(map[[20]byte]struct{}, len(cfg.Oracle.Reporters))
	for i, raw := range cfg.Oracle.Reporters {
		id, err := crypto.ParseIdentity(raw)
		if err != nil {
			return nil, fmt.Errorf("reporters[%d]: %w", i, err)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		spec.Reporters = append(spec.Reporters, id)
	}
	sort.Slice(spec.Reporters, func(i, j int) bool {
		return string(spec.Reporters[i][:]) < string(spec.Reporters[j][:])
	})

	for _, asset := range cfg.Assets {
		spec.Assets = append(spec.Assets, AssetSpec{Symbol: normalize(asset.Symbol), Decimals: asset.Decimals})
	}
	sort.Slice(spec.Assets, func(i, j int) bool { return spec.Assets[i].Symbol < spec.Assets[j].Symbol })

	for i, price := range cfg.Prices {
		value, err := config.ParseAmount(price.Price)
		if err != nil {
			return nil, fmt.Errorf("prices[%d]: %w", i, err)
		}
		spec.Prices = append(spec.Prices, PriceSpec{Asset: normalize(price.Asset), Price: value})
	}
	sort.SliceStable(spec.Prices, func(i, j int) bool { return spec.Prices[i].Asset < spec.Prices[j].Asset })

	for i, alloc := range cfg.Genesis {
		holder, err := crypto.ParseIdentity(alloc.Holder)
		if err != nil {
			return nil, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		amount, err := config.ParseAmount(alloc.Amount)
		if err != nil {
			return nil, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		spec.Alloc = append(spec.Alloc, AllocationSpec{Holder: holder, Asset: normalize(alloc.Asset), Amount: amount})
	}
	// Outer: holders sorted; inner: symbols sorted.
	sort.SliceStable(spec.Alloc, func(i, j int) bool {
		a, b := spec.Alloc[i], spec.Alloc[j]
		if a.Holder != b.Holder {
			return string(a.Holder[:]) < string(b.Holder[:])
		}
		return a.Asset < b.Asset
	})
	return spec, nil
}

func normalize(symbol string) string {
	return bank.NormalizeAsset(symbol)
}
