package common

import "math/big"

const (
	// PriceDecimals is the number of fractional digits carried by oracle prices.
	PriceDecimals = 8
	// MaxBps is 100% expressed in basis points.
	MaxBps = 10_000
	// MaxConfidence is the upper bound of a confidence score.
	MaxConfidence = 10_000
)

var (
	PriceScale  = big.NewInt(100_000_000)
	BasisPoints = big.NewInt(MaxBps)
)

// CloneBigInt copies v, mapping nil to zero.
func CloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Positive reports whether v is strictly greater than zero.
func Positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

// Pow10 returns 10^n.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// DefaultConfidence stamps quotes and swaps that are not backed by a
// recommendation.
const DefaultConfidence uint32 = 8_500
