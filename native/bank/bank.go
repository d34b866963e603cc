package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/text/unicode/norm"

	"swapcore/core/state"
	"swapcore/native/common"
)

// ErrInsufficientBalance is returned when a transfer exceeds the sender's
// balance. Settlement engines surface it as an external call failure.
var ErrInsufficientBalance = errors.New("bank: insufficient balance")

// NormalizeAsset canonicalises an asset symbol. Compatibility forms are
// folded first so full-width or ligature input maps to the same key.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(norm.NFKC.String(strings.TrimSpace(asset)))
}

func balanceKey(asset string, holder [20]byte) []byte {
	normalized := NormalizeAsset(asset)
	buf := make([]byte, 0, len("bank/")+len(normalized)+1+len(holder))
	buf = append(buf, "bank/"...)
	buf = append(buf, normalized...)
	buf = append(buf, '/')
	buf = append(buf, holder[:]...)
	return buf
}

// Balance returns the amount of asset held by holder.
func Balance(store state.Store, asset string, holder [20]byte) (*big.Int, error) {
	amount := new(big.Int)
	if _, err := store.KVGet(balanceKey(asset, holder), amount); err != nil {
		return nil, fmt.Errorf("bank: load balance: %w", err)
	}
	return amount, nil
}

func setBalance(store state.Store, asset string, holder [20]byte, amount *big.Int) error {
	if amount.Sign() == 0 {
		return store.KVDelete(balanceKey(asset, holder))
	}
	return store.KVPut(balanceKey(asset, holder), amount)
}

// Transfer moves amount of asset between two holders. A zero amount is a
// no-op.
func Transfer(store state.Store, from, to [20]byte, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("bank: negative transfer amount")
	}
	if NormalizeAsset(asset) == "" {
		return fmt.Errorf("bank: asset required")
	}
	if from == to {
		return nil
	}
	src, err := Balance(store, asset, from)
	if err != nil {
		return err
	}
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s %s", ErrInsufficientBalance, src, amount, NormalizeAsset(asset))
	}
	dst, err := Balance(store, asset, to)
	if err != nil {
		return err
	}
	if err := setBalance(store, asset, from, src.Sub(src, amount)); err != nil {
		return err
	}
	return setBalance(store, asset, to, dst.Add(dst, amount))
}

// Mint credits holder with new units of asset. It backs genesis allocations
// and test fixtures; settlement code never mints.
func Mint(store state.Store, to [20]byte, asset string, amount *big.Int) error {
	if !common.Positive(amount) {
		return fmt.Errorf("bank: mint amount must be positive")
	}
	if NormalizeAsset(asset) == "" {
		return fmt.Errorf("bank: asset required")
	}
	current, err := Balance(store, asset, to)
	if err != nil {
		return err
	}
	return setBalance(store, asset, to, current.Add(current, amount))
}

// Keeper exposes balance queries and genesis funding outside a settlement
// transaction.
type Keeper struct {
	state *state.Manager
}

func NewKeeper(manager *state.Manager) *Keeper {
	return &Keeper{state: manager}
}

// Balance reads a committed balance.
func (k *Keeper) Balance(ctx context.Context, asset string, holder [20]byte) (*big.Int, error) {
	var out *big.Int
	err := k.state.View(ctx, func(tx *state.Tx) error {
		amount, err := Balance(tx, asset, holder)
		out = amount
		return err
	})
	return out, err
}

// Mint credits holder in its own transaction.
func (k *Keeper) Mint(ctx context.Context, to [20]byte, asset string, amount *big.Int) error {
	return k.state.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		return Mint(tx, to, asset, amount)
	})
}
