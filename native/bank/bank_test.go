package bank

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"swapcore/core/state"
	"swapcore/storage"
)

func newKeeper(t *testing.T) (*Keeper, *state.Manager) {
	t.Helper()
	manager, err := state.NewManager(storage.NewMemDB())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return NewKeeper(manager), manager
}

func TestTransferMovesBalance(t *testing.T) {
	keeper, manager := newKeeper(t)
	ctx := context.Background()
	alice, bob := [20]byte{1}, [20]byte{2}
	if err := keeper.Mint(ctx, alice, "eth", big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	err := manager.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		return Transfer(tx, alice, bob, "ETH", big.NewInt(40))
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	a, _ := keeper.Balance(ctx, "eth", alice)
	b, _ := keeper.Balance(ctx, " Eth ", bob)
	if a.Int64() != 60 || b.Int64() != 40 {
		t.Fatalf("unexpected balances %s/%s", a, b)
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	keeper, manager := newKeeper(t)
	ctx := context.Background()
	alice, bob := [20]byte{1}, [20]byte{2}
	if err := keeper.Mint(ctx, alice, "eth", big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	err := manager.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		return Transfer(tx, alice, bob, "eth", big.NewInt(11))
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	a, _ := keeper.Balance(ctx, "eth", alice)
	if a.Int64() != 10 {
		t.Fatalf("balance changed after failed transfer: %s", a)
	}
}

func TestMintRejectsNonPositive(t *testing.T) {
	keeper, _ := newKeeper(t)
	if err := keeper.Mint(context.Background(), [20]byte{1}, "eth", big.NewInt(0)); err == nil {
		t.Fatalf("expected error for zero mint")
	}
}

func TestNormalizeAssetFoldsCompatibilityForms(t *testing.T) {
	if got := NormalizeAsset(" usdc "); got != "USDC" {
		t.Fatalf("unexpected symbol %q", got)
	}
	// Full-width latin letters fold to their ASCII forms.
	if got := NormalizeAsset("ＥＴＨ"); got != "ETH" {
		t.Fatalf("full-width symbol not folded: %q", got)
	}
}
