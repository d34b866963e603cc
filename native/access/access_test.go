package access

import (
	"context"
	"errors"
	"testing"

	"swapcore/core/state"
	"swapcore/native/common"
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

func TestBootstrapOnce(t *testing.T) {
	keeper, _ := newKeeper(t)
	ctx := context.Background()
	admin := [20]byte{0xAA}
	if err := keeper.Bootstrap(ctx, admin); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := keeper.Bootstrap(ctx, [20]byte{0xBB}); !errors.Is(err, common.ErrState) {
		t.Fatalf("expected state error on second bootstrap, got %v", err)
	}
	got, ok, err := keeper.Admin(ctx)
	if err != nil || !ok || got != admin {
		t.Fatalf("unexpected admin %x ok=%v err=%v", got, ok, err)
	}
}

func TestTransferAdminRequiresAdmin(t *testing.T) {
	keeper, _ := newKeeper(t)
	ctx := context.Background()
	admin, other := [20]byte{1}, [20]byte{2}
	if err := keeper.Bootstrap(ctx, admin); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := keeper.TransferAdmin(ctx, other, other); !errors.Is(err, common.ErrNotAdmin) {
		t.Fatalf("expected not admin, got %v", err)
	}
	if err := keeper.TransferAdmin(ctx, admin, other); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got, _, _ := keeper.Admin(ctx); got != other {
		t.Fatalf("admin not transferred")
	}
}

func TestPauseFlags(t *testing.T) {
	keeper, manager := newKeeper(t)
	ctx := context.Background()
	admin := [20]byte{1}
	if err := keeper.Bootstrap(ctx, admin); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if keeper.IsPaused(ctx, common.ModuleHTLC) {
		t.Fatalf("modules start unpaused")
	}
	if err := keeper.SetPaused(ctx, admin, "wallet", true); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected validation error for unknown module, got %v", err)
	}
	if err := keeper.SetPaused(ctx, [20]byte{9}, common.ModuleHTLC, true); !errors.Is(err, common.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if err := keeper.SetPaused(ctx, admin, "HTLC", true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	err := manager.View(ctx, func(tx *state.Tx) error {
		if err := common.Guard(Pauses{Store: tx}, common.ModuleHTLC); !errors.Is(err, common.ErrPaused) {
			t.Fatalf("expected paused guard, got %v", err)
		}
		if err := common.Guard(Pauses{Store: tx}, common.ModuleRouter); err != nil {
			t.Fatalf("router should stay unpaused: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestRequireReporterOrAdmin(t *testing.T) {
	keeper, manager := newKeeper(t)
	ctx := context.Background()
	admin, reporter, stranger := [20]byte{1}, [20]byte{2}, [20]byte{3}
	if err := keeper.Bootstrap(ctx, admin); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := manager.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		return SetReporter(tx, reporter, true)
	}); err != nil {
		t.Fatalf("set reporter: %v", err)
	}
	_ = manager.View(ctx, func(tx *state.Tx) error {
		if err := RequireReporterOrAdmin(tx, admin); err != nil {
			t.Fatalf("admin rejected: %v", err)
		}
		if err := RequireReporterOrAdmin(tx, reporter); err != nil {
			t.Fatalf("reporter rejected: %v", err)
		}
		if err := RequireReporterOrAdmin(tx, stranger); !errors.Is(err, common.ErrNotAllowed) {
			t.Fatalf("expected not allowed, got %v", err)
		}
		return nil
	})
}
