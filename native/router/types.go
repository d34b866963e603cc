package router

import (
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"swapcore/native/bank"
	"swapcore/native/common"
)

// OutcomeSettled marks an execution whose output reached the caller.
const OutcomeSettled = "settled"

// Config holds the router's static policy.
type Config struct {
	// NativeAsset is settled by value transfer; other assets must carry a
	// zero value.
	NativeAsset       string
	ExecutionFeeBps   uint32
	DefaultConfidence uint32
}

func DefaultConfig() Config {
	return Config{
		ExecutionFeeBps:   10,
		DefaultConfidence: common.DefaultConfidence,
	}
}

func (c Config) normalize() Config {
	c.NativeAsset = bank.NormalizeAsset(c.NativeAsset)
	if c.ExecutionFeeBps > common.MaxBps {
		c.ExecutionFeeBps = common.MaxBps
	}
	if c.DefaultConfidence == 0 || c.DefaultConfidence > common.MaxConfidence {
		c.DefaultConfidence = common.DefaultConfidence
	}
	return c
}

// Quote is the router's answer to GetOptimalRoute.
type Quote struct {
	Route          []byte
	ExpectedOutput *big.Int
	Confidence     uint32
	Fee            *big.Int
	NetAmount      *big.Int
	Price          *big.Int
}

// ExecuteRequest describes a direct swap. Value is the native amount the
// caller attaches; it must equal Amount when FromAsset is the native asset.
type ExecuteRequest struct {
	FromAsset string
	ToAsset   string
	Amount    *big.Int
	MinOutput *big.Int
	Route     []byte
	Value     *big.Int
}

// Execution is the immutable record of a settled direct swap.
type Execution struct {
	Key             [32]byte
	Caller          [20]byte
	FromAsset       string
	ToAsset         string
	RequestedAmount *big.Int
	QuotedAmount    *big.Int
	ActualAmount    *big.Int
	Fee             *big.Int
	Outcome         string
	Route           []byte
	ExecutedAt      int64
}

func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	clone := *e
	clone.RequestedAmount = common.CloneBigInt(e.RequestedAmount)
	clone.QuotedAmount = common.CloneBigInt(e.QuotedAmount)
	clone.ActualAmount = common.CloneBigInt(e.ActualAmount)
	clone.Fee = common.CloneBigInt(e.Fee)
	clone.Route = append([]byte(nil), e.Route...)
	return &clone
}

type storedExecution struct {
	Key             [32]byte
	Caller          [20]byte
	FromAsset       string
	ToAsset         string
	RequestedAmount *big.Int
	QuotedAmount    *big.Int
	ActualAmount    *big.Int
	Fee             *big.Int
	Outcome         string
	Route           []byte
	ExecutedAt      uint64
}

func newStoredExecution(e *Execution) *storedExecution {
	return &storedExecution{
		Key:             e.Key,
		Caller:          e.Caller,
		FromAsset:       e.FromAsset,
		ToAsset:         e.ToAsset,
		RequestedAmount: common.CloneBigInt(e.RequestedAmount),
		QuotedAmount:    common.CloneBigInt(e.QuotedAmount),
		ActualAmount:    common.CloneBigInt(e.ActualAmount),
		Fee:             common.CloneBigInt(e.Fee),
		Outcome:         e.Outcome,
		Route:           append([]byte(nil), e.Route...),
		ExecutedAt:      uint64(e.ExecutedAt),
	}
}

func (s *storedExecution) toExecution() *Execution {
	return (&Execution{
		Key:             s.Key,
		Caller:          s.Caller,
		FromAsset:       s.FromAsset,
		ToAsset:         s.ToAsset,
		RequestedAmount: s.RequestedAmount,
		QuotedAmount:    s.QuotedAmount,
		ActualAmount:    s.ActualAmount,
		Fee:             s.Fee,
		Outcome:         s.Outcome,
		Route:           s.Route,
		ExecutedAt:      int64(s.ExecutedAt),
	}).Clone()
}

// RouteDescriptor is the payload behind the opaque route bytes returned by a
// quote.
type RouteDescriptor struct {
	FromAsset string
	ToAsset   string
	Amount    *big.Int
	QuotedAt  uint64
}

// EncodeRoute serialises a descriptor with RLP.
func EncodeRoute(desc RouteDescriptor) ([]byte, error) {
	desc.Amount = common.CloneBigInt(desc.Amount)
	return rlp.EncodeToBytes(&desc)
}

// DecodeRoute parses route bytes produced by EncodeRoute.
func DecodeRoute(route []byte) (RouteDescriptor, error) {
	var desc RouteDescriptor
	if len(route) == 0 {
		return desc, common.ValidationError("route descriptor required")
	}
	if err := rlp.DecodeBytes(route, &desc); err != nil {
		return RouteDescriptor{}, common.ValidationError("malformed route descriptor: %v", err)
	}
	return desc, nil
}

// matches reports whether the descriptor was quoted for the same swap.
func (d RouteDescriptor) matches(from, to string, amount *big.Int) bool {
	return bank.NormalizeAsset(d.FromAsset) == from &&
		bank.NormalizeAsset(d.ToAsset) == to &&
		d.Amount != nil && d.Amount.Cmp(amount) == 0
}
