package fees

import (
	"fmt"
	"math/big"
	"strings"

	"swapcore/core/state"
	"swapcore/native/common"
)

// Split applies a basis-point fee to gross. The fee is floored and the net
// amount is gross minus the fee, so fee+net always equals gross.
func Split(gross *big.Int, bps uint32) (fee *big.Int, net *big.Int) {
	if gross == nil || gross.Sign() <= 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	if bps > common.MaxBps {
		bps = common.MaxBps
	}
	fee = new(big.Int).Mul(gross, big.NewInt(int64(bps)))
	fee.Quo(fee, big.NewInt(common.MaxBps))
	net = new(big.Int).Sub(gross, fee)
	return fee, net
}

func accruedKey(module, asset string) []byte {
	return []byte(fmt.Sprintf("fees/accrued/%s/%s", strings.ToLower(module), strings.ToUpper(asset)))
}

// Accrued returns the fees a module has collected in asset and not yet
// released.
func Accrued(store state.Store, module, asset string) (*big.Int, error) {
	amount := new(big.Int)
	if _, err := store.KVGet(accruedKey(module, asset), amount); err != nil {
		return nil, fmt.Errorf("fees: load accrued: %w", err)
	}
	return amount, nil
}

// Accrue adds amount to the module's collected fees.
func Accrue(store state.Store, module, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("fees: negative accrual")
	}
	current, err := Accrued(store, module, asset)
	if err != nil {
		return err
	}
	return store.KVPut(accruedKey(module, asset), current.Add(current, amount))
}

// Release deducts amount from the module's collected fees. Requests above the
// accrued total fail with a state error and leave the balance untouched.
func Release(store state.Store, module, asset string, amount *big.Int) error {
	if !common.Positive(amount) {
		return common.ValidationError("amount must be positive")
	}
	current, err := Accrued(store, module, asset)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return common.StateError("amount exceeds accrued fees")
	}
	return store.KVPut(accruedKey(module, asset), current.Sub(current, amount))
}
