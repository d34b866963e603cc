package oracle

import (
	"context"
	"log/slog"
	"math/big"

	"swapcore/core/events"
	"swapcore/core/state"
	"swapcore/crypto"
	"swapcore/native/access"
	"swapcore/native/bank"
	"swapcore/native/common"
)

const (
	// DefaultMinConfidence is the recommendation floor until an administrator
	// changes it.
	DefaultMinConfidence uint32 = 7_000
	// MaxAssetDecimals bounds the precision accepted for an asset.
	MaxAssetDecimals uint8 = 36
)

var (
	ErrInvalidPrice  = common.StateError("invalid oracle price")
	ErrUnknownAsset  = common.StateError("asset decimals not configured")
	ErrSameAsset     = common.ValidationError("assets must differ")
	ErrKeyCollision  = common.StateError("recommendation already exists")
	minConfidenceKey = []byte("oracle/min-confidence")
)

func feedKey(asset string) []byte {
	return []byte("oracle/feed/" + bank.NormalizeAsset(asset))
}

func recommendationKey(key [32]byte) []byte {
	return append([]byte("oracle/rec/"), key[:]...)
}

func decimalsKey(asset string) []byte {
	return []byte("oracle/decimals/" + bank.NormalizeAsset(asset))
}

// Registry is the price registry: per-asset feeds, confidence-scored swap
// recommendations and the reporter allow-list.
type Registry struct {
	state       *state.Manager
	logger      *slog.Logger
	maxPriceAge int64
}

func NewRegistry(manager *state.Manager) *Registry {
	return &Registry{state: manager, logger: slog.Default()}
}

// SetLogger overrides the registry logger.
func (r *Registry) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetMaxPriceAge treats feeds older than seconds as invalid when pricing. Zero
// disables the check.
func (r *Registry) SetMaxPriceAge(seconds int64) {
	if seconds < 0 {
		seconds = 0
	}
	r.maxPriceAge = seconds
}

// UpdatePriceFeed overwrites the feed for asset and marks it valid.
func (r *Registry) UpdatePriceFeed(ctx context.Context, caller [20]byte, asset string, price *big.Int) error {
	normalized := bank.NormalizeAsset(asset)
	return r.state.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		if err := access.RequireReporterOrAdmin(tx, caller); err != nil {
			return err
		}
		if normalized == "" {
			return common.ValidationError("asset required")
		}
		if !common.Positive(price) {
			return common.ValidationError("price must be positive")
		}
		return WriteFeed(tx, caller, normalized, price)
	})
}

// WriteFeed stores a valid feed observed now and records the update.
// Callers enforce authorization.
func WriteFeed(store state.Store, reporter [20]byte, asset string, price *big.Int) error {
	normalized := bank.NormalizeAsset(asset)
	feed := PriceFeed{Asset: normalized, Price: price, UpdatedAt: store.Now(), Valid: true}
	if err := store.KVPut(feedKey(normalized), newStoredFeed(feed)); err != nil {
		return err
	}
	store.Emit(events.PriceUpdated{Asset: normalized, Price: price, Reporter: reporter, UpdatedAt: feed.UpdatedAt})
	return nil
}

// CreateSwapRecommendation stores a new recommendation keyed by its content
// and creation time.
func (r *Registry) CreateSwapRecommendation(ctx context.Context, caller [20]byte, fromAsset, toAsset string, expectedAmount *big.Int, confidence uint32) ([32]byte, error) {
	from, to := bank.NormalizeAsset(fromAsset), bank.NormalizeAsset(toAsset)
	var key [32]byte
	err := r.state.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		if err := access.RequireReporterOrAdmin(tx, caller); err != nil {
			return err
		}
		if from == "" || to == "" {
			return common.ValidationError("assets required")
		}
		if from == to {
			return ErrSameAsset
		}
		if !common.Positive(expectedAmount) {
			return common.ValidationError("expected amount must be positive")
		}
		if confidence > common.MaxConfidence {
			return common.ValidationError("confidence %d exceeds %d", confidence, common.MaxConfidence)
		}
		floor, err := MinConfidence(tx)
		if err != nil {
			return err
		}
		if confidence < floor {
			return common.ValidationError("confidence %d below minimum %d", confidence, floor)
		}
		now := tx.Now()
		key, err = crypto.NewKeyEncoder("recommendation").
			String(from).
			String(to).
			Amount(expectedAmount).
			Int64(now).
			Sum()
		if err != nil {
			return common.ValidationError("%v", err)
		}
		if exists, err := tx.KVGet(recommendationKey(key), nil); err != nil {
			return err
		} else if exists {
			return ErrKeyCollision
		}
		rec := SwapRecommendation{
			Key:            key,
			FromAsset:      from,
			ToAsset:        to,
			ExpectedAmount: expectedAmount,
			Confidence:     confidence,
			CreatedAt:      now,
			Valid:          true,
		}
		if err := tx.KVPut(recommendationKey(key), newStoredRecommendation(rec)); err != nil {
			return err
		}
		tx.Emit(events.RecommendationCreated{
			Key:            key,
			FromAsset:      from,
			ToAsset:        to,
			ExpectedAmount: expectedAmount,
			Confidence:     confidence,
			CreatedAt:      now,
		})
		return nil
	})
	if err != nil {
		return [32]byte{}, err
	}
	return key, nil
}

// GetPrice returns the feed for asset. Unknown assets yield a zero feed with
// Valid unset.
func (r *Registry) GetPrice(ctx context.Context, asset string) PriceFeed {
	normalized := bank.NormalizeAsset(asset)
	feed := PriceFeed{Asset: normalized, Price: big.NewInt(0)}
	err := r.state.View(ctx, func(tx *state.Tx) error {
		loaded, err := Feed(tx, normalized)
		if err != nil {
			return err
		}
		feed = loaded
		return nil
	})
	if err != nil {
		r.logger.Warn("price feed read failed", slog.String("asset", normalized), slog.Any("error", err))
	}
	return feed
}

// GetSwapRecommendation returns the recommendation stored under key, or a
// zero record with Valid unset.
func (r *Registry) GetSwapRecommendation(ctx context.Context, key [32]byte) SwapRecommendation {
	rec := SwapRecommendation{Key: key, ExpectedAmount: big.NewInt(0)}
	err := r.state.View(ctx, func(tx *state.Tx) error {
		loaded, ok, err := Recommendation(tx, key)
		if err != nil {
			return err
		}
		if ok {
			rec = loaded
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("recommendation read failed", slog.Any("error", err))
	}
	return rec
}

// SetAuthorizedReporter adds or removes a reporter.
func (r *Registry) SetAuthorizedReporter(ctx context.Context, caller, reporter [20]byte, active bool) error {
	if reporter == ([20]byte{}) {
		return common.ValidationError("reporter identity required")
	}
	return r.state.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		if err := access.RequireAdmin(tx, caller); err != nil {
			return err
		}
		return WriteReporter(tx, reporter, active)
	})
}

// WriteReporter toggles reporter membership and records the change.
func WriteReporter(store state.Store, reporter [20]byte, active bool) error {
	if err := access.SetReporter(store, reporter, active); err != nil {
		return err
	}
	store.Emit(events.ReporterUpdated{Reporter: reporter, Active: active})
	return nil
}

// SetMinConfidence changes the floor applied to new recommendations.
func (r *Registry) SetMinConfidence(ctx context.Context, caller [20]byte, value uint32) error {
	return r.state.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		if err := access.RequireAdmin(tx, caller); err != nil {
			return err
		}
		if value > common.MaxConfidence {
			return common.ValidationError("confidence %d exceeds %d", value, common.MaxConfidence)
		}
		return WriteMinConfidence(tx, value)
	})
}

// WriteMinConfidence replaces the recommendation floor and records the
// change.
func WriteMinConfidence(store state.Store, value uint32) error {
	previous, err := MinConfidence(store)
	if err != nil {
		return err
	}
	if err := store.KVPut(minConfidenceKey, uint64(value)); err != nil {
		return err
	}
	store.Emit(events.MinConfidenceUpdated{Previous: previous, Current: value})
	return nil
}

// InvalidatePriceFeed marks the asset's feed invalid without removing it.
func (r *Registry) InvalidatePriceFeed(ctx context.Context, caller [20]byte, asset string) error {
	normalized := bank.NormalizeAsset(asset)
	return r.state.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		if err := access.RequireAdmin(tx, caller); err != nil {
			return err
		}
		var stored storedFeed
		ok, err := tx.KVGet(feedKey(normalized), &stored)
		if err != nil {
			return err
		}
		if !ok {
			return common.StateError("unknown price feed %s", normalized)
		}
		stored.Valid = false
		if err := tx.KVPut(feedKey(normalized), &stored); err != nil {
			return err
		}
		tx.Emit(events.PriceInvalidated{Asset: normalized})
		return nil
	})
}

// InvalidateRecommendation marks a recommendation invalid.
func (r *Registry) InvalidateRecommendation(ctx context.Context, caller [20]byte, key [32]byte) error {
	return r.state.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		if err := access.RequireAdmin(tx, caller); err != nil {
			return err
		}
		var stored storedRecommendation
		ok, err := tx.KVGet(recommendationKey(key), &stored)
		if err != nil {
			return err
		}
		if !ok {
			return common.StateError("unknown recommendation")
		}
		stored.Valid = false
		if err := tx.KVPut(recommendationKey(key), &stored); err != nil {
			return err
		}
		tx.Emit(events.RecommendationInvalidated{Key: key})
		return nil
	})
}

// SetAssetDecimals records the base-unit precision of asset. Conversions
// between assets refuse to run until both sides are configured.
func (r *Registry) SetAssetDecimals(ctx context.Context, caller [20]byte, asset string, decimals uint8) error {
	normalized := bank.NormalizeAsset(asset)
	return r.state.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		if err := access.RequireAdmin(tx, caller); err != nil {
			return err
		}
		if normalized == "" {
			return common.ValidationError("asset required")
		}
		if decimals > MaxAssetDecimals {
			return common.ValidationError("decimals %d exceed %d", decimals, MaxAssetDecimals)
		}
		return WriteAssetDecimals(tx, normalized, decimals)
	})
}

// WriteAssetDecimals stores the precision of asset and records the change.
func WriteAssetDecimals(store state.Store, asset string, decimals uint8) error {
	normalized := bank.NormalizeAsset(asset)
	if err := store.KVPut(decimalsKey(normalized), uint64(decimals)); err != nil {
		return err
	}
	store.Emit(events.AssetDecimalsUpdated{Asset: normalized, Decimals: decimals})
	return nil
}

// AssetDecimals reads the configured precision for asset.
func (r *Registry) AssetDecimals(ctx context.Context, asset string) (uint8, bool, error) {
	var (
		decimals uint8
		ok       bool
	)
	err := r.state.View(ctx, func(tx *state.Tx) error {
		var err error
		decimals, ok, err = AssetDecimals(tx, asset)
		return err
	})
	return decimals, ok, err
}

// CurrentMinConfidence reads the committed recommendation floor.
func (r *Registry) CurrentMinConfidence(ctx context.Context) (uint32, error) {
	var out uint32
	err := r.state.View(ctx, func(tx *state.Tx) error {
		var err error
		out, err = MinConfidence(tx)
		return err
	})
	return out, err
}

// Convert prices amount of from in units of to. It is the quote primitive
// shared by the swap ledger and the router and must run inside their
// transaction.
func (r *Registry) Convert(store state.Store, from, to string, amount *big.Int) (Conversion, error) {
	feed, err := Feed(store, from)
	if err != nil {
		return Conversion{}, err
	}
	if !feed.Valid || !common.Positive(feed.Price) {
		return Conversion{}, ErrInvalidPrice
	}
	if r.maxPriceAge > 0 && store.Now()-feed.UpdatedAt > r.maxPriceAge {
		return Conversion{}, common.StateError("invalid oracle price: feed for %s is stale", feed.Asset)
	}
	fromDecimals, ok, err := AssetDecimals(store, from)
	if err != nil {
		return Conversion{}, err
	}
	if !ok {
		return Conversion{}, common.StateError("%s: %s", ErrUnknownAsset.Reason, bank.NormalizeAsset(from))
	}
	toDecimals, ok, err := AssetDecimals(store, to)
	if err != nil {
		return Conversion{}, err
	}
	if !ok {
		return Conversion{}, common.StateError("%s: %s", ErrUnknownAsset.Reason, bank.NormalizeAsset(to))
	}
	return Conversion{
		Expected:     ScaleAmount(amount, feed.Price, fromDecimals, toDecimals),
		Price:        feed.Price,
		FromDecimals: fromDecimals,
		ToDecimals:   toDecimals,
	}, nil
}

// PairConfidence returns the confidence of a valid recommendation covering
// the from/to pair.
func (r *Registry) PairConfidence(store state.Store, key [32]byte, from, to string) (uint32, error) {
	rec, ok, err := Recommendation(store, key)
	if err != nil {
		return 0, err
	}
	if !ok || !rec.Valid {
		return 0, common.StateError("recommendation not valid")
	}
	if rec.FromAsset != bank.NormalizeAsset(from) || rec.ToAsset != bank.NormalizeAsset(to) {
		return 0, common.ValidationError("recommendation does not cover %s/%s", bank.NormalizeAsset(from), bank.NormalizeAsset(to))
	}
	return rec.Confidence, nil
}

// ScaleAmount computes amount*price/10^8 adjusted from fromDecimals base
// units to toDecimals base units, flooring once at the end.
func ScaleAmount(amount, price *big.Int, fromDecimals, toDecimals uint8) *big.Int {
	if amount == nil || price == nil {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(amount, price)
	num.Mul(num, common.Pow10(toDecimals))
	den := new(big.Int).Mul(common.PriceScale, common.Pow10(fromDecimals))
	return num.Quo(num, den)
}

// Feed loads the stored feed for asset, returning a zero feed when absent.
func Feed(store state.Store, asset string) (PriceFeed, error) {
	normalized := bank.NormalizeAsset(asset)
	var stored storedFeed
	ok, err := store.KVGet(feedKey(normalized), &stored)
	if err != nil {
		return PriceFeed{}, err
	}
	if !ok {
		return PriceFeed{Asset: normalized, Price: big.NewInt(0)}, nil
	}
	return stored.toFeed(), nil
}

// Recommendation loads the recommendation stored under key.
func Recommendation(store state.Store, key [32]byte) (SwapRecommendation, bool, error) {
	var stored storedRecommendation
	ok, err := store.KVGet(recommendationKey(key), &stored)
	if err != nil || !ok {
		return SwapRecommendation{}, false, err
	}
	return stored.toRecommendation(), true, nil
}

// AssetDecimals loads the configured precision for asset.
func AssetDecimals(store state.Store, asset string) (uint8, bool, error) {
	var decimals uint64
	ok, err := store.KVGet(decimalsKey(asset), &decimals)
	if err != nil || !ok {
		return 0, false, err
	}
	return uint8(decimals), true, nil
}

// MinConfidence loads the recommendation floor, falling back to
// DefaultMinConfidence.
func MinConfidence(store state.Store) (uint32, error) {
	var value uint64
	ok, err := store.KVGet(minConfidenceKey, &value)
	if err != nil {
		return 0, err
	}
	if !ok {
		return DefaultMinConfidence, nil
	}
	return uint32(value), nil
}
