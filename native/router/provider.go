package router

import (
	"context"
	"fmt"
	"math/big"

	"swapcore/core/state"
	"swapcore/native/bank"
	"swapcore/native/common"
	"swapcore/native/oracle"
)

// Order is the conversion the router asks a provider to perform. The router
// has already moved Amount of FromAsset to the provider's Account; the
// provider must deliver ToAsset to Recipient.
type Order struct {
	FromAsset string
	ToAsset   string
	Amount    *big.Int
	Route     []byte
	Recipient [20]byte
}

// RouteProvider locates liquidity for a direct swap. Execute runs inside the
// router's transaction; the returned amount is informational only, the
// router measures what Recipient actually received. Providers must pass the
// supplied context to any call back into the protocol.
type RouteProvider interface {
	Account() [20]byte
	Execute(ctx context.Context, store state.Store, order Order) (*big.Int, error)
}

// Converter prices one asset in another inside a transaction.
type Converter interface {
	Convert(store state.Store, from, to string, amount *big.Int) (oracle.Conversion, error)
}

// ReserveProvider fills orders from a liquidity reserve account on the same
// ledger at the oracle rate less a spread.
type ReserveProvider struct {
	reserve   [20]byte
	prices    Converter
	spreadBps uint32
}

func NewReserveProvider(reserve [20]byte, prices Converter, spreadBps uint32) (*ReserveProvider, error) {
	if reserve == ([20]byte{}) {
		return nil, fmt.Errorf("router: reserve account required")
	}
	if prices == nil {
		return nil, fmt.Errorf("router: price source required")
	}
	if spreadBps >= common.MaxBps {
		return nil, fmt.Errorf("router: spread %d bps must be below %d", spreadBps, common.MaxBps)
	}
	return &ReserveProvider{reserve: reserve, prices: prices, spreadBps: spreadBps}, nil
}

func (p *ReserveProvider) Account() [20]byte { return p.reserve }

func (p *ReserveProvider) Execute(ctx context.Context, store state.Store, order Order) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conv, err := p.prices.Convert(store, order.FromAsset, order.ToAsset, order.Amount)
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(conv.Expected, big.NewInt(int64(common.MaxBps-p.spreadBps)))
	out.Quo(out, common.BasisPoints)
	if err := bank.Transfer(store, p.reserve, order.Recipient, order.ToAsset, out); err != nil {
		return nil, fmt.Errorf("reserve fill: %w", err)
	}
	return out, nil
}
