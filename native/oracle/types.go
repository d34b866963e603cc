package oracle

import (
	"math/big"

	"swapcore/native/common"
)

// PriceFeed is the latest observation for one asset. Prices carry
// common.PriceDecimals fractional digits.
type PriceFeed struct {
	Asset     string
	Price     *big.Int
	UpdatedAt int64
	Valid     bool
}

// Clone returns a deep copy of the feed.
func (f PriceFeed) Clone() PriceFeed {
	f.Price = common.CloneBigInt(f.Price)
	return f
}

// SwapRecommendation is a confidence-scored expected conversion.
type SwapRecommendation struct {
	Key            [32]byte
	FromAsset      string
	ToAsset        string
	ExpectedAmount *big.Int
	Confidence     uint32
	CreatedAt      int64
	Valid          bool
}

func (r SwapRecommendation) Clone() SwapRecommendation {
	r.ExpectedAmount = common.CloneBigInt(r.ExpectedAmount)
	return r
}

// Conversion is the result of pricing amount of one asset in another.
type Conversion struct {
	Expected     *big.Int
	Price        *big.Int
	FromDecimals uint8
	ToDecimals   uint8
}

type storedFeed struct {
	Asset     string
	Price     *big.Int
	UpdatedAt uint64
	Valid     bool
}

func newStoredFeed(f PriceFeed) *storedFeed {
	return &storedFeed{
		Asset:     f.Asset,
		Price:     common.CloneBigInt(f.Price),
		UpdatedAt: uint64(f.UpdatedAt),
		Valid:     f.Valid,
	}
}

func (s *storedFeed) toFeed() PriceFeed {
	return PriceFeed{
		Asset:     s.Asset,
		Price:     common.CloneBigInt(s.Price),
		UpdatedAt: int64(s.UpdatedAt),
		Valid:     s.Valid,
	}
}

type storedRecommendation struct {
	Key            [32]byte
	FromAsset      string
	ToAsset        string
	ExpectedAmount *big.Int
	Confidence     uint64
	CreatedAt      uint64
	Valid          bool
}

func newStoredRecommendation(r SwapRecommendation) *storedRecommendation {
	return &storedRecommendation{
		Key:            r.Key,
		FromAsset:      r.FromAsset,
		ToAsset:        r.ToAsset,
		ExpectedAmount: common.CloneBigInt(r.ExpectedAmount),
		Confidence:     uint64(r.Confidence),
		CreatedAt:      uint64(r.CreatedAt),
		Valid:          r.Valid,
	}
}

func (s *storedRecommendation) toRecommendation() SwapRecommendation {
	return SwapRecommendation{
		Key:            s.Key,
		FromAsset:      s.FromAsset,
		ToAsset:        s.ToAsset,
		ExpectedAmount: common.CloneBigInt(s.ExpectedAmount),
		Confidence:     uint32(s.Confidence),
		CreatedAt:      int64(s.CreatedAt),
		Valid:          s.Valid,
	}
}
