package htlc

import (
	"bytes"
	"context"
	"encoding/hex"
	"log/slog"
	"math/big"

	"swapcore/core/events"
	"swapcore/core/state"
	"swapcore/crypto"
	"swapcore/native/access"
	"swapcore/native/bank"
	"swapcore/native/common"
	"swapcore/native/fees"
	"swapcore/native/oracle"
	"swapcore/observability/logging"
)

var (
	ErrSwapNotFound     = common.StateError("swap not found")
	ErrSwapResolved     = common.StateError("swap already resolved")
	ErrSwapExpired      = common.StateError("swap expired")
	ErrSwapNotExpired   = common.StateError("swap not yet expired")
	ErrSwapExists       = common.StateError("swap already exists")
	ErrInvalidSecret    = common.ValidationError("invalid secret")
	ErrPriceDeviation   = common.ValidationError("price deviation too high")
	ErrTimelockBounds   = common.ValidationError("expiry outside allowed timelock window")
	ErrTransferFailed   = common.ExternalCallFailure("asset transfer failed", nil)
	paramsKey           = []byte("htlc/params")
	errEmptyRecipient   = common.ValidationError("recipient required")
	errNonPositive      = common.ValidationError("amounts must be positive")
	errSameAsset        = common.ValidationError("assets must differ")
	errEmptyHashlock    = common.ValidationError("hashlock required")
	errAssetUnspecified = common.ValidationError("assets required")
)

func swapKey(key [32]byte) []byte {
	return append([]byte("htlc/swap/"), key[:]...)
}

// PriceSource prices swaps inside the ledger's transaction.
type PriceSource interface {
	Convert(store state.Store, from, to string, amount *big.Int) (oracle.Conversion, error)
	PairConfidence(store state.Store, key [32]byte, from, to string) (uint32, error)
}

// Ledger is the hash-time-lock swap engine. Funds are held by the module
// vault between initiation and resolution.
type Ledger struct {
	state  *state.Manager
	prices PriceSource
	vault  [20]byte
	logger *slog.Logger
}

func NewLedger(manager *state.Manager, prices PriceSource) *Ledger {
	return &Ledger{
		state:  manager,
		prices: prices,
		vault:  crypto.ModuleAddress(common.ModuleHTLC),
		logger: slog.Default(),
	}
}

// SetLogger overrides the ledger logger.
func (l *Ledger) SetLogger(logger *slog.Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// Vault returns the custody identity holding locked funds.
func (l *Ledger) Vault() [20]byte { return l.vault }

// SwapKey derives the record key for a parameter tuple. FromAmount is the
// gross amount as submitted.
func SwapKey(initiator [20]byte, req InitiateRequest) ([32]byte, error) {
	return crypto.NewKeyEncoder("htlc/swap").
		Identity(initiator).
		Identity(req.Recipient).
		String(bank.NormalizeAsset(req.FromAsset)).
		String(bank.NormalizeAsset(req.ToAsset)).
		Amount(req.FromAmount).
		Amount(req.ToAmount).
		Hash32(req.Hashlock).
		Int64(req.Expiry).
		Sum()
}

// InitiateSwap locks FromAmount of FromAsset from caller and records the
// swap.
func (l *Ledger) InitiateSwap(ctx context.Context, caller [20]byte, req InitiateRequest) ([32]byte, error) {
	var key [32]byte
	err := l.state.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		if err := common.Guard(access.Pauses{Store: tx}, common.ModuleHTLC); err != nil {
			return err
		}
		params, err := loadParams(tx)
		if err != nil {
			return err
		}
		from, to := bank.NormalizeAsset(req.FromAsset), bank.NormalizeAsset(req.ToAsset)
		switch {
		case req.Recipient == ([20]byte{}):
			return errEmptyRecipient
		case !common.Positive(req.FromAmount) || !common.Positive(req.ToAmount):
			return errNonPositive
		case from == "" || to == "":
			return errAssetUnspecified
		case from == to:
			return errSameAsset
		case req.Hashlock == ([32]byte{}):
			return errEmptyHashlock
		}
		now := tx.Now()
		if req.Expiry < now+params.MinTimelock || req.Expiry > now+params.MaxTimelock {
			return ErrTimelockBounds
		}

		conv, err := l.prices.Convert(tx, from, to, req.FromAmount)
		if err != nil {
			return err
		}
		if !withinTolerance(conv.Expected, req.ToAmount, params.ToleranceBps) {
			return ErrPriceDeviation
		}
		confidence := common.DefaultConfidence
		if req.RecommendationKey != ([32]byte{}) {
			confidence, err = l.prices.PairConfidence(tx, req.RecommendationKey, from, to)
			if err != nil {
				return err
			}
		}
		fee, net := fees.Split(req.FromAmount, params.FeeBps)

		key, err = SwapKey(caller, req)
		if err != nil {
			return common.ValidationError("%v", err)
		}
		if exists, err := tx.KVGet(swapKey(key), nil); err != nil {
			return err
		} else if exists {
			return ErrSwapExists
		}

		if err := bank.Transfer(tx, caller, l.vault, from, req.FromAmount); err != nil {
			return common.ExternalCallFailure(ErrTransferFailed.Reason, err)
		}
		record := &Swap{
			Key:         key,
			Initiator:   caller,
			Recipient:   req.Recipient,
			FromAsset:   from,
			ToAsset:     to,
			FromAmount:  net,
			ToAmount:    common.CloneBigInt(req.ToAmount),
			Fee:         fee,
			Hashlock:    req.Hashlock,
			Expiry:      req.Expiry,
			CreatedAt:   now,
			OraclePrice: conv.Price,
			Confidence:  confidence,
		}
		if err := tx.KVPut(swapKey(key), newStoredSwap(record)); err != nil {
			return err
		}
		if err := fees.Accrue(tx, common.ModuleHTLC, from, fee); err != nil {
			return err
		}
		tx.Emit(events.SwapInitiated{
			Key:         key,
			Initiator:   caller,
			Recipient:   req.Recipient,
			FromAsset:   from,
			ToAsset:     to,
			FromAmount:  net,
			ToAmount:    record.ToAmount,
			Fee:         fee,
			Hashlock:    req.Hashlock,
			Expiry:      req.Expiry,
			OraclePrice: conv.Price,
		})
		return nil
	})
	if err != nil {
		return [32]byte{}, err
	}
	l.logger.Debug("htlc swap initiated", slog.String("key", crypto.HexKey(key)))
	return key, nil
}

// Withdraw releases the locked funds to the recorded recipient when secret
// opens the hashlock before expiry. Any caller may submit the secret.
func (l *Ledger) Withdraw(ctx context.Context, caller [20]byte, key [32]byte, secret []byte) error {
	return l.state.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		if err := common.Guard(access.Pauses{Store: tx}, common.ModuleHTLC); err != nil {
			return err
		}
		record, err := loadSwap(tx, key)
		if err != nil {
			return err
		}
		if record.Resolved() {
			return ErrSwapResolved
		}
		if tx.Now() >= record.Expiry {
			return ErrSwapExpired
		}
		digest := crypto.HashSecret(secret)
		if !bytes.Equal(digest[:], record.Hashlock[:]) {
			l.logger.Debug("htlc secret rejected",
				slog.String("key", crypto.HexKey(key)),
				logging.MaskField("secret", hex.EncodeToString(secret)))
			return ErrInvalidSecret
		}
		record.Withdrawn = true
		record.Secret = append([]byte(nil), secret...)
		if err := tx.KVPut(swapKey(key), newStoredSwap(record)); err != nil {
			return err
		}
		if err := bank.Transfer(tx, l.vault, record.Recipient, record.FromAsset, record.FromAmount); err != nil {
			return common.ExternalCallFailure(ErrTransferFailed.Reason, err)
		}
		tx.Emit(events.SwapWithdrawn{Key: key, Secret: record.Secret, Recipient: record.Recipient, Amount: record.FromAmount})
		return nil
	})
}

// Refund returns the locked funds to the initiator once the swap expired.
// Any caller may trigger it.
func (l *Ledger) Refund(ctx context.Context, caller [20]byte, key [32]byte) error {
	return l.state.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		if err := common.Guard(access.Pauses{Store: tx}, common.ModuleHTLC); err != nil {
			return err
		}
		record, err := loadSwap(tx, key)
		if err != nil {
			return err
		}
		if record.Resolved() {
			return ErrSwapResolved
		}
		if tx.Now() < record.Expiry {
			return ErrSwapNotExpired
		}
		record.Refunded = true
		if err := tx.KVPut(swapKey(key), newStoredSwap(record)); err != nil {
			return err
		}
		if err := bank.Transfer(tx, l.vault, record.Initiator, record.FromAsset, record.FromAmount); err != nil {
			return common.ExternalCallFailure(ErrTransferFailed.Reason, err)
		}
		tx.Emit(events.SwapRefunded{Key: key, Initiator: record.Initiator, Amount: record.FromAmount})
		return nil
	})
}

// GetSwap returns a copy of the swap stored under key.
func (l *Ledger) GetSwap(ctx context.Context, key [32]byte) (*Swap, bool) {
	var out *Swap
	err := l.state.View(ctx, func(tx *state.Tx) error {
		record, err := loadSwap(tx, key)
		if err != nil {
			return err
		}
		out = record
		return nil
	})
	if err != nil {
		if common.KindOf(err) == common.KindUnknown {
			l.logger.Warn("htlc swap read failed", slog.Any("error", err))
		}
		return nil, false
	}
	return out, true
}

// SwapStatus derives the lifecycle state of key at the current ledger time.
func (l *Ledger) SwapStatus(ctx context.Context, key [32]byte) Status {
	status := StatusUnknown
	_ = l.state.View(ctx, func(tx *state.Tx) error {
		record, err := loadSwap(tx, key)
		if err != nil {
			return err
		}
		status = record.StatusAt(tx.Now())
		return nil
	})
	return status
}

// WithdrawFees releases accrued protocol fees to the supplied identity.
func (l *Ledger) WithdrawFees(ctx context.Context, caller [20]byte, asset string, amount *big.Int, to [20]byte) error {
	normalized := bank.NormalizeAsset(asset)
	return l.state.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		if err := access.RequireAdmin(tx, caller); err != nil {
			return err
		}
		if to == ([20]byte{}) {
			return errEmptyRecipient
		}
		if err := fees.Release(tx, common.ModuleHTLC, normalized, amount); err != nil {
			return err
		}
		if err := bank.Transfer(tx, l.vault, to, normalized, amount); err != nil {
			return common.ExternalCallFailure(ErrTransferFailed.Reason, err)
		}
		tx.Emit(events.FeesWithdrawn{Type: events.TypeLedgerFeesClaimed, Asset: normalized, Amount: amount, To: to})
		return nil
	})
}

// AccruedFees reports the unreleased fees collected in asset.
func (l *Ledger) AccruedFees(ctx context.Context, asset string) (*big.Int, error) {
	var out *big.Int
	err := l.state.View(ctx, func(tx *state.Tx) error {
		var err error
		out, err = fees.Accrued(tx, common.ModuleHTLC, bank.NormalizeAsset(asset))
		return err
	})
	return out, err
}

// SetParams replaces the fee and timelock policy.
func (l *Ledger) SetParams(ctx context.Context, caller [20]byte, params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	return l.state.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		if err := access.RequireAdmin(tx, caller); err != nil {
			return err
		}
		return WriteParams(tx, params)
	})
}

// WriteParams stores a validated policy.
func WriteParams(store state.Store, params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	return store.KVPut(paramsKey, &storedParams{
		FeeBps:       uint64(params.FeeBps),
		ToleranceBps: uint64(params.ToleranceBps),
		MinTimelock:  uint64(params.MinTimelock),
		MaxTimelock:  uint64(params.MaxTimelock),
	})
}

// Params returns the policy in force.
func (l *Ledger) Params(ctx context.Context) (Params, error) {
	var out Params
	err := l.state.View(ctx, func(tx *state.Tx) error {
		var err error
		out, err = loadParams(tx)
		return err
	})
	return out, err
}

func loadParams(store state.Store) (Params, error) {
	var stored storedParams
	ok, err := store.KVGet(paramsKey, &stored)
	if err != nil {
		return Params{}, err
	}
	if !ok {
		return DefaultParams(), nil
	}
	return Params{
		FeeBps:       uint32(stored.FeeBps),
		ToleranceBps: uint32(stored.ToleranceBps),
		MinTimelock:  int64(stored.MinTimelock),
		MaxTimelock:  int64(stored.MaxTimelock),
	}, nil
}

func loadSwap(store state.Store, key [32]byte) (*Swap, error) {
	var stored storedSwap
	ok, err := store.KVGet(swapKey(key), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSwapNotFound
	}
	return stored.toSwap(), nil
}

// withinTolerance reports |expected-actual|*10000 <= toleranceBps*expected.
func withinTolerance(expected, actual *big.Int, toleranceBps uint32) bool {
	diff := new(big.Int).Sub(expected, actual)
	diff.Abs(diff)
	diff.Mul(diff, common.BasisPoints)
	limit := new(big.Int).Mul(expected, big.NewInt(int64(toleranceBps)))
	return diff.Cmp(limit) <= 0
}
