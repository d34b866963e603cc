package events

import (
	"math/big"

	"swapcore/core/types"
)

const (
	TypeSwapExecuted      = "router.executed"
	TypeRouterFeesClaimed = "router.fees_withdrawn"
	TypeTokensRescued     = "router.tokens_rescued"
)

type SwapExecuted struct {
	Key             [32]byte
	Caller          [20]byte
	FromAsset       string
	ToAsset         string
	RequestedAmount *big.Int
	QuotedAmount    *big.Int
	ActualAmount    *big.Int
	Fee             *big.Int
}

func (SwapExecuted) EventType() string { return TypeSwapExecuted }

func (e SwapExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeSwapExecuted,
		Attributes: map[string]string{
			"key":             hash32(e.Key),
			"caller":          identity(e.Caller),
			"fromAsset":       normalizeAsset(e.FromAsset),
			"toAsset":         normalizeAsset(e.ToAsset),
			"requestedAmount": formatAmount(e.RequestedAmount),
			"quotedAmount":    formatAmount(e.QuotedAmount),
			"actualAmount":    formatAmount(e.ActualAmount),
			"fee":             formatAmount(e.Fee),
		},
	}
}

type TokensRescued struct {
	Asset  string
	Amount *big.Int
	To     [20]byte
}

func (TokensRescued) EventType() string { return TypeTokensRescued }

func (e TokensRescued) Event() *types.Event {
	return &types.Event{
		Type: TypeTokensRescued,
		Attributes: map[string]string{
			"asset":  normalizeAsset(e.Asset),
			"amount": formatAmount(e.Amount),
			"to":     identity(e.To),
		},
	}
}
