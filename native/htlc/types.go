package htlc

import (
	"math/big"

	"swapcore/native/common"
)

// Status is the derived lifecycle state of a swap.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusCreated   Status = "created"
	StatusExpired   Status = "expired"
	StatusWithdrawn Status = "withdrawn"
	StatusRefunded  Status = "refunded"
)

// Swap is a hash-time-locked transfer. FromAmount is net of the protocol fee.
type Swap struct {
	Key         [32]byte
	Initiator   [20]byte
	Recipient   [20]byte
	FromAsset   string
	ToAsset     string
	FromAmount  *big.Int
	ToAmount    *big.Int
	Fee         *big.Int
	Hashlock    [32]byte
	Expiry      int64
	CreatedAt   int64
	Withdrawn   bool
	Refunded    bool
	Secret      []byte
	OraclePrice *big.Int
	Confidence  uint32
}

// Clone returns a deep copy of the swap.
func (s *Swap) Clone() *Swap {
	if s == nil {
		return nil
	}
	clone := *s
	clone.FromAmount = common.CloneBigInt(s.FromAmount)
	clone.ToAmount = common.CloneBigInt(s.ToAmount)
	clone.Fee = common.CloneBigInt(s.Fee)
	clone.OraclePrice = common.CloneBigInt(s.OraclePrice)
	clone.Secret = append([]byte(nil), s.Secret...)
	return &clone
}

// Resolved reports whether the swap reached a terminal state.
func (s *Swap) Resolved() bool { return s.Withdrawn || s.Refunded }

// StatusAt derives the lifecycle state at ledger time now.
func (s *Swap) StatusAt(now int64) Status {
	switch {
	case s == nil:
		return StatusUnknown
	case s.Withdrawn:
		return StatusWithdrawn
	case s.Refunded:
		return StatusRefunded
	case now >= s.Expiry:
		return StatusExpired
	default:
		return StatusCreated
	}
}

// InitiateRequest carries the caller-supplied swap terms. RecommendationKey
// is optional; when set the swap is stamped with that recommendation's
// confidence.
type InitiateRequest struct {
	Recipient         [20]byte
	FromAsset         string
	ToAsset           string
	FromAmount        *big.Int
	ToAmount          *big.Int
	Hashlock          [32]byte
	Expiry            int64
	RecommendationKey [32]byte
}

// Params holds the ledger's fee and timelock policy.
type Params struct {
	FeeBps       uint32
	ToleranceBps uint32
	MinTimelock  int64
	MaxTimelock  int64
}

// DefaultParams returns the policy used until an administrator overrides it.
func DefaultParams() Params {
	return Params{
		FeeBps:       25,
		ToleranceBps: 500,
		MinTimelock:  3_600,
		MaxTimelock:  86_400,
	}
}

// MaxFeeBps caps the ledger fee at 10%.
const MaxFeeBps uint32 = 1_000

// Validate checks the policy bounds.
func (p Params) Validate() error {
	if p.FeeBps > MaxFeeBps {
		return common.ValidationError("fee %d bps exceeds %d", p.FeeBps, MaxFeeBps)
	}
	if p.ToleranceBps > common.MaxBps {
		return common.ValidationError("tolerance %d bps exceeds %d", p.ToleranceBps, common.MaxBps)
	}
	if p.MinTimelock <= 0 {
		return common.ValidationError("minimum timelock must be positive")
	}
	if p.MaxTimelock < p.MinTimelock {
		return common.ValidationError("maximum timelock below minimum")
	}
	return nil
}

type storedSwap struct {
	Key         [32]byte
	Initiator   [20]byte
	Recipient   [20]byte
	FromAsset   string
	ToAsset     string
	FromAmount  *big.Int
	ToAmount    *big.Int
	Fee         *big.Int
	Hashlock    [32]byte
	Expiry      uint64
	CreatedAt   uint64
	Withdrawn   bool
	Refunded    bool
	Secret      []byte
	OraclePrice *big.Int
	Confidence  uint64
}

func newStoredSwap(s *Swap) *storedSwap {
	return &storedSwap{
		Key:         s.Key,
		Initiator:   s.Initiator,
		Recipient:   s.Recipient,
		FromAsset:   s.FromAsset,
		ToAsset:     s.ToAsset,
		FromAmount:  common.CloneBigInt(s.FromAmount),
		ToAmount:    common.CloneBigInt(s.ToAmount),
		Fee:         common.CloneBigInt(s.Fee),
		Hashlock:    s.Hashlock,
		Expiry:      uint64(s.Expiry),
		CreatedAt:   uint64(s.CreatedAt),
		Withdrawn:   s.Withdrawn,
		Refunded:    s.Refunded,
		Secret:      append([]byte(nil), s.Secret...),
		OraclePrice: common.CloneBigInt(s.OraclePrice),
		Confidence:  uint64(s.Confidence),
	}
}

func (s *storedSwap) toSwap() *Swap {
	return &Swap{
		Key:         s.Key,
		Initiator:   s.Initiator,
		Recipient:   s.Recipient,
		FromAsset:   s.FromAsset,
		ToAsset:     s.ToAsset,
		FromAmount:  common.CloneBigInt(s.FromAmount),
		ToAmount:    common.CloneBigInt(s.ToAmount),
		Fee:         common.CloneBigInt(s.Fee),
		Hashlock:    s.Hashlock,
		Expiry:      int64(s.Expiry),
		CreatedAt:   int64(s.CreatedAt),
		Withdrawn:   s.Withdrawn,
		Refunded:    s.Refunded,
		Secret:      append([]byte(nil), s.Secret...),
		OraclePrice: common.CloneBigInt(s.OraclePrice),
		Confidence:  uint32(s.Confidence),
	}
}

type storedParams struct {
	FeeBps       uint64
	ToleranceBps uint64
	MinTimelock  uint64
	MaxTimelock  uint64
}
