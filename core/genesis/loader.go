package genesis

import (
	"context"
	"fmt"

	"swapcore/core/state"
	"swapcore/native/access"
	"swapcore/native/bank"
	"swapcore/native/common"
	"swapcore/native/htlc"
	"swapcore/native/oracle"
)

var appliedKey = []byte("genesis/applied")

// Applied reports whether the ledger has already been bootstrapped.
func Applied(ctx context.Context, manager *state.Manager) (bool, error) {
	var applied bool
	err := manager.View(ctx, func(tx *state.Tx) error {
		var at uint64
		ok, err := tx.KVGet(appliedKey, &at)
		applied = ok
		return err
	})
	return applied, err
}

// Apply installs spec in a single transaction. It returns false without
// touching state when the ledger was bootstrapped before, so restarting a
// node against existing data is a no-op.
func Apply(ctx context.Context, manager *state.Manager, spec *Spec) (bool, error) {
	if spec == nil {
		return false, fmt.Errorf("genesis spec must not be nil")
	}
	if manager == nil {
		return false, fmt.Errorf("state manager must not be nil")
	}
	applied := false
	err := manager.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		var at uint64
		done, err := tx.KVGet(appliedKey, &at)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := apply(tx, spec); err != nil {
			return err
		}
		applied = true
		return tx.KVPut(appliedKey, uint64(tx.Now()))
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func apply(store state.Store, spec *Spec) error {
	// 1) Administrator
	if _, exists, err := access.Admin(store); err != nil {
		return err
	} else if exists {
		return common.StateError("administrator already configured")
	}
	if err := access.InstallAdmin(store, spec.Admin); err != nil {
		return fmt.Errorf("admin: %w", err)
	}

	// 2) Reporters (sorted)
	for _, reporter := range spec.Reporters {
		if err := oracle.WriteReporter(store, reporter, true); err != nil {
			return fmt.Errorf("reporter: %w", err)
		}
	}

	// 3) Asset precision (sorted)
	for _, asset := range spec.Assets {
		if asset.Decimals > oracle.MaxAssetDecimals {
			return common.ValidationError("asset %s: decimals above %d", asset.Symbol, oracle.MaxAssetDecimals)
		}
		if err := oracle.WriteAssetDecimals(store, asset.Symbol, asset.Decimals); err != nil {
			return fmt.Errorf("asset %s: %w", asset.Symbol, err)
		}
	}

	// 4) Initial prices, reported by the administrator
	for _, price := range spec.Prices {
		if !common.Positive(price.Price) {
			return common.ValidationError("price %s: must be positive", price.Asset)
		}
		if err := oracle.WriteFeed(store, spec.Admin, price.Asset, price.Price); err != nil {
			return fmt.Errorf("price %s: %w", price.Asset, err)
		}
	}

	// 5) Allocations (holders sorted, then symbols)
	for _, alloc := range spec.Alloc {
		if err := bank.Mint(store, alloc.Holder, alloc.Asset, alloc.Amount); err != nil {
			return fmt.Errorf("alloc %x/%s: %w", alloc.Holder, alloc.Asset, err)
		}
	}

	// 6) Module policy
	params := spec.HTLC
	if params == (htlc.Params{}) {
		params = htlc.DefaultParams()
	}
	if err := htlc.WriteParams(store, params); err != nil {
		return fmt.Errorf("htlc params: %w", err)
	}
	minConfidence := spec.MinConfidence
	if minConfidence == 0 {
		minConfidence = oracle.DefaultMinConfidence
	}
	if minConfidence > common.MaxBps {
		return common.ValidationError("min confidence above %d", common.MaxBps)
	}
	return oracle.WriteMinConfidence(store, minConfidence)
}
