package router

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"swapcore/core/events"
	"swapcore/core/state"
	"swapcore/crypto"
	"swapcore/native/access"
	"swapcore/native/bank"
	"swapcore/native/common"
	"swapcore/native/fees"
)

var (
	ErrDuplicateExecution = common.StateError("execution already recorded")
	ErrExecutionNotFound  = common.StateError("execution not found")
	ErrSlippage           = common.ValidationError("slippage too high")
	ErrQuoteBelowMinimum  = common.ValidationError("expected output below minimum")
	ErrRouteMismatch      = common.ValidationError("route descriptor does not match swap")
	ErrValueMismatch      = common.ValidationError("attached value does not match amount")
	ErrUnexpectedValue    = common.ValidationError("value may only accompany the native asset")
	ErrExceedsHoldings    = common.StateError("amount exceeds protocol holdings")
)

func executionKey(key [32]byte) []byte {
	return append([]byte("router/exec/"), key[:]...)
}

// ExecutionKey derives the record key of a direct swap submitted by caller
// at ledger time now.
func ExecutionKey(caller [20]byte, from, to string, amount *big.Int, now int64) ([32]byte, error) {
	return crypto.NewKeyEncoder("router/exec").
		Identity(caller).
		String(bank.NormalizeAsset(from)).
		String(bank.NormalizeAsset(to)).
		Amount(amount).
		Int64(now).
		Sum()
}

// Router quotes and executes direct swaps through a route provider.
type Router struct {
	state    *state.Manager
	prices   Converter
	mu       sync.RWMutex
	provider RouteProvider
	vault    [20]byte
	cfg      Config
	logger   *slog.Logger
}

func New(manager *state.Manager, prices Converter, provider RouteProvider, cfg Config) *Router {
	return &Router{
		state:    manager,
		prices:   prices,
		provider: provider,
		vault:    crypto.ModuleAddress(common.ModuleRouter),
		cfg:      cfg.normalize(),
		logger:   slog.Default(),
	}
}

// SetLogger overrides the router logger.
func (r *Router) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetProvider replaces the route provider. Executions already in flight keep
// the provider they started with.
func (r *Router) SetProvider(provider RouteProvider) {
	r.mu.Lock()
	r.provider = provider
	r.mu.Unlock()
}

func (r *Router) currentProvider() RouteProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.provider
}

// Vault returns the router's custody identity.
func (r *Router) Vault() [20]byte { return r.vault }

// Config returns the router's static policy.
func (r *Router) Config() Config { return r.cfg }

func validatePair(from, to string, amount *big.Int) error {
	if from == "" || to == "" {
		return common.ValidationError("assets required")
	}
	if from == to {
		return common.ValidationError("assets must differ")
	}
	if !common.Positive(amount) {
		return common.ValidationError("amount must be positive")
	}
	return nil
}

// GetOptimalRoute prices amount of fromAsset in toAsset without touching
// state.
func (r *Router) GetOptimalRoute(ctx context.Context, fromAsset, toAsset string, amount *big.Int) (Quote, error) {
	from, to := bank.NormalizeAsset(fromAsset), bank.NormalizeAsset(toAsset)
	if err := validatePair(from, to, amount); err != nil {
		return Quote{}, err
	}
	var quote Quote
	err := r.state.View(ctx, func(tx *state.Tx) error {
		conv, err := r.prices.Convert(tx, from, to, amount)
		if err != nil {
			return err
		}
		route, err := EncodeRoute(RouteDescriptor{FromAsset: from, ToAsset: to, Amount: amount, QuotedAt: uint64(tx.Now())})
		if err != nil {
			return fmt.Errorf("router: encode route: %w", err)
		}
		fee, net := fees.Split(amount, r.cfg.ExecutionFeeBps)
		quote = Quote{
			Route:          route,
			ExpectedOutput: conv.Expected,
			Confidence:     r.cfg.DefaultConfidence,
			Fee:            fee,
			NetAmount:      net,
			Price:          conv.Price,
		}
		return nil
	})
	if err != nil {
		return Quote{}, err
	}
	return quote, nil
}

// ExecuteSwap takes custody of the caller's input, has the provider convert
// the net amount and pays out the measured output. Nothing is recorded
// unless the caller receives at least MinOutput.
func (r *Router) ExecuteSwap(ctx context.Context, caller [20]byte, req ExecuteRequest) (*big.Int, error) {
	record, err := r.Execute(ctx, caller, req)
	if err != nil {
		return nil, err
	}
	return record.ActualAmount, nil
}

// Execute is ExecuteSwap returning the stored execution record.
func (r *Router) Execute(ctx context.Context, caller [20]byte, req ExecuteRequest) (*Execution, error) {
	var out *Execution
	err := r.state.Update(ctx, func(ctx context.Context, tx *state.Tx) error {
		if err := common.Guard(access.Pauses{Store: tx}, common.ModuleRouter); err != nil {
			return err
		}
		from, to := bank.NormalizeAsset(req.FromAsset), bank.NormalizeAsset(req.ToAsset)
		if err := validatePair(from, to, req.Amount); err != nil {
			return err
		}
		if !common.Positive(req.MinOutput) {
			return common.ValidationError("minimum output must be positive")
		}
		now := tx.Now()
		key, err := ExecutionKey(caller, from, to, req.Amount, now)
		if err != nil {
			return common.ValidationError("%v", err)
		}
		if exists, err := tx.KVGet(executionKey(key), nil); err != nil {
			return err
		} else if exists {
			return ErrDuplicateExecution
		}
		if len(req.Route) > 0 {
			desc, err := DecodeRoute(req.Route)
			if err != nil {
				return err
			}
			if !desc.matches(from, to, req.Amount) {
				return ErrRouteMismatch
			}
		}

		conv, err := r.prices.Convert(tx, from, to, req.Amount)
		if err != nil {
			return err
		}
		if conv.Expected.Cmp(req.MinOutput) < 0 {
			return ErrQuoteBelowMinimum
		}
		fee, net := fees.Split(req.Amount, r.cfg.ExecutionFeeBps)

		if r.cfg.NativeAsset != "" && from == r.cfg.NativeAsset {
			if req.Value == nil || req.Value.Cmp(req.Amount) != 0 {
				return ErrValueMismatch
			}
		} else if req.Value != nil && req.Value.Sign() != 0 {
			return ErrUnexpectedValue
		}
		provider := r.currentProvider()
		if provider == nil {
			return common.ExternalCallFailure("route provider unavailable", nil)
		}

		if err := bank.Transfer(tx, caller, r.vault, from, req.Amount); err != nil {
			return common.ExternalCallFailure("asset transfer failed", err)
		}
		before, err := bank.Balance(tx, to, r.vault)
		if err != nil {
			return err
		}
		if err := bank.Transfer(tx, r.vault, provider.Account(), from, net); err != nil {
			return common.ExternalCallFailure("asset transfer failed", err)
		}
		reported, err := provider.Execute(ctx, tx, Order{
			FromAsset: from,
			ToAsset:   to,
			Amount:    net,
			Route:     append([]byte(nil), req.Route...),
			Recipient: r.vault,
		})
		if err != nil {
			return common.ExternalCallFailure("route provider failed", err)
		}
		after, err := bank.Balance(tx, to, r.vault)
		if err != nil {
			return err
		}
		delta := new(big.Int).Sub(after, before)
		if delta.Sign() < 0 {
			return common.ExternalCallFailure("route provider reduced router holdings", nil)
		}
		if reported != nil && reported.Cmp(delta) != 0 {
			r.logger.Warn("route provider output differs from measured delta",
				slog.String("reported", reported.String()),
				slog.String("measured", delta.String()))
		}
		if delta.Cmp(req.MinOutput) < 0 {
			return ErrSlippage
		}
		if err := bank.Transfer(tx, r.vault, caller, to, delta); err != nil {
			return common.ExternalCallFailure("asset transfer failed", err)
		}
		if err := fees.Accrue(tx, common.ModuleRouter, from, fee); err != nil {
			return err
		}
		record := &Execution{
			Key:             key,
			Caller:          caller,
			FromAsset:       from,
			ToAsset:         to,
			RequestedAmount: req.Amount,
			QuotedAmount:    conv.Expected,
			ActualAmount:    delta,
			Fee:             fee,
			Outcome:         OutcomeSettled,
			Route:           req.Route,
			ExecutedAt:      now,
		}
		if err := tx.KVPut(executionKey(key), newStoredExecution(record)); err != nil {
			return err
		}
		tx.Emit(events.SwapExecuted{
			Key:             key,
			Caller:          caller,
			FromAsset:       from,
			ToAsset:         to,
			RequestedAmount: req.Amount,
			QuotedAmount:    conv.Expected,
			ActualAmount:    delta,
			Fee:             fee,
		})
		out = record.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetExecution returns the execution recorded under key.
func (r *Router) GetExecution(ctx context.Context, key [32]byte) (*Execution, bool) {
	var out *Execution
	err := r.state.View(ctx, func(tx *state.Tx) error {
		var stored storedExecution
		ok, err := tx.KVGet(executionKey(key), &stored)
		if err != nil {
			return err
		}
		if !ok {
			return ErrExecutionNotFound
		}
		out = stored.toExecution()
		return nil
	})
	if err != nil {
		if common.KindOf(err) == common.KindUnknown {
			r.logger.Warn("router execution read failed", slog.Any("error", err))
		}
		return nil, false
	}
	return out, true
}

// WithdrawFees releases accrued execution fees.
func (r *Router) WithdrawFees(ctx context.Context, caller [20]byte, asset string, amount *big.Int, to [20]byte) error {
	normalized := bank.NormalizeAsset(asset)
	return r.state.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		if err := access.RequireAdmin(tx, caller); err != nil {
			return err
		}
		if to == ([20]byte{}) {
			return common.ValidationError("recipient required")
		}
		if err := fees.Release(tx, common.ModuleRouter, normalized, amount); err != nil {
			return err
		}
		if err := bank.Transfer(tx, r.vault, to, normalized, amount); err != nil {
			return common.ExternalCallFailure("asset transfer failed", err)
		}
		tx.Emit(events.FeesWithdrawn{Type: events.TypeRouterFeesClaimed, Asset: normalized, Amount: amount, To: to})
		return nil
	})
}

// RescueTokens releases router holdings that are not owed as accrued fees,
// such as assets sent to the vault by mistake.
func (r *Router) RescueTokens(ctx context.Context, caller [20]byte, asset string, amount *big.Int, to [20]byte) error {
	normalized := bank.NormalizeAsset(asset)
	return r.state.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		if err := access.RequireAdmin(tx, caller); err != nil {
			return err
		}
		if to == ([20]byte{}) {
			return common.ValidationError("recipient required")
		}
		if !common.Positive(amount) {
			return common.ValidationError("amount must be positive")
		}
		held, err := bank.Balance(tx, normalized, r.vault)
		if err != nil {
			return err
		}
		accrued, err := fees.Accrued(tx, common.ModuleRouter, normalized)
		if err != nil {
			return err
		}
		if new(big.Int).Sub(held, accrued).Cmp(amount) < 0 {
			return ErrExceedsHoldings
		}
		if err := bank.Transfer(tx, r.vault, to, normalized, amount); err != nil {
			return common.ExternalCallFailure("asset transfer failed", err)
		}
		tx.Emit(events.TokensRescued{Asset: normalized, Amount: amount, To: to})
		return nil
	})
}

// AccruedFees reports unreleased execution fees in asset.
func (r *Router) AccruedFees(ctx context.Context, asset string) (*big.Int, error) {
	var out *big.Int
	err := r.state.View(ctx, func(tx *state.Tx) error {
		var err error
		out, err = fees.Accrued(tx, common.ModuleRouter, bank.NormalizeAsset(asset))
		return err
	})
	return out, err
}
