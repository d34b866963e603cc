package config

// Asset declares a tradable asset and its base-unit precision.
type Asset struct {
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
}

// Allocation funds a holder at genesis. Amount is a base-10 integer string.
type Allocation struct {
	Holder string `toml:"Holder"`
	Asset  string `toml:"Asset"`
	Amount string `toml:"Amount"`
}

// Price seeds an initial oracle feed. Price is a base-10 integer string with
// eight fractional digits.
type Price struct {
	Asset string `toml:"Asset"`
	Price string `toml:"Price"`
}

// HTLC captures the swap ledger's fee and timelock policy.
type HTLC struct {
	FeeBps             uint32 `toml:"FeeBps"`
	ToleranceBps       uint32 `toml:"ToleranceBps"`
	MinTimelockSeconds int64  `toml:"MinTimelockSeconds"`
	MaxTimelockSeconds int64  `toml:"MaxTimelockSeconds"`
}

// Reserve configures the reserve-backed route provider.
type Reserve struct {
	Account   string `toml:"Account"`
	SpreadBps uint32 `toml:"SpreadBps"`
}

// Router captures the direct swap policy.
type Router struct {
	ExecutionFeeBps   uint32  `toml:"ExecutionFeeBps"`
	DefaultConfidence uint32  `toml:"DefaultConfidence"`
	Reserve           Reserve `toml:"Reserve"`
}

// Oracle captures price registry policy.
type Oracle struct {
	Reporters          []string `toml:"Reporters"`
	MinConfidence      uint32   `toml:"MinConfidence"`
	MaxPriceAgeSeconds int64    `toml:"MaxPriceAgeSeconds"`
}
