package events

import (
	"encoding/hex"
	"math/big"

	"swapcore/core/types"
)

const (
	TypeSwapInitiated     = "htlc.initiated"
	TypeSwapWithdrawn     = "htlc.withdrawn"
	TypeSwapRefunded      = "htlc.refunded"
	TypeLedgerFeesClaimed = "htlc.fees_withdrawn"
)

type SwapInitiated struct {
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
	OraclePrice *big.Int
}

func (SwapInitiated) EventType() string { return TypeSwapInitiated }

func (e SwapInitiated) Event() *types.Event {
	return &types.Event{
		Type: TypeSwapInitiated,
		Attributes: map[string]string{
			"key":         hash32(e.Key),
			"initiator":   identity(e.Initiator),
			"recipient":   identity(e.Recipient),
			"fromAsset":   normalizeAsset(e.FromAsset),
			"toAsset":     normalizeAsset(e.ToAsset),
			"fromAmount":  formatAmount(e.FromAmount),
			"toAmount":    formatAmount(e.ToAmount),
			"fee":         formatAmount(e.Fee),
			"hashlock":    hash32(e.Hashlock),
			"expiry":      intToString(e.Expiry),
			"oraclePrice": formatAmount(e.OraclePrice),
		},
	}
}

type SwapWithdrawn struct {
	Key       [32]byte
	Secret    []byte
	Recipient [20]byte
	Amount    *big.Int
}

func (SwapWithdrawn) EventType() string { return TypeSwapWithdrawn }

func (e SwapWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeSwapWithdrawn,
		Attributes: map[string]string{
			"key":       hash32(e.Key),
			"secret":    hex.EncodeToString(e.Secret),
			"recipient": identity(e.Recipient),
			"amount":    formatAmount(e.Amount),
		},
	}
}

type SwapRefunded struct {
	Key       [32]byte
	Initiator [20]byte
	Amount    *big.Int
}

func (SwapRefunded) EventType() string { return TypeSwapRefunded }

func (e SwapRefunded) Event() *types.Event {
	return &types.Event{
		Type: TypeSwapRefunded,
		Attributes: map[string]string{
			"key":       hash32(e.Key),
			"initiator": identity(e.Initiator),
			"amount":    formatAmount(e.Amount),
		},
	}
}

// FeesWithdrawn is shared by the ledger and the router; Type distinguishes
// the module the fees were released from.
type FeesWithdrawn struct {
	Type   string
	Asset  string
	Amount *big.Int
	To     [20]byte
}

func (e FeesWithdrawn) EventType() string { return e.Type }

func (e FeesWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: e.Type,
		Attributes: map[string]string{
			"asset":  normalizeAsset(e.Asset),
			"amount": formatAmount(e.Amount),
			"to":     identity(e.To),
		},
	}
}
