package feeder

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"lukechampine.com/blake3"

	"swapcore/native/common"
)

// Quote is a single upstream observation of an asset priced in the quote
// currency.
type Quote struct {
	Rate      *big.Rat
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote.
func (q Quote) Clone() Quote {
	out := q
	if q.Rate != nil {
		out.Rate = new(big.Rat).Set(q.Rate)
	}
	return out
}

// Source resolves a price quote for an asset.
type Source interface {
	Name() string
	Fetch(ctx context.Context, asset, quote string) (Quote, error)
}

// Update is the aggregated result handed to the publisher.
type Update struct {
	Asset   string
	Quote   string
	Median  *big.Rat
	Price   *big.Int
	Feeders []string
	ProofID string
	Time    time.Time
}

// Publisher pushes an aggregated price to the registry.
type Publisher interface {
	PublishPrice(ctx context.Context, update Update) error
}

// PublisherFunc adapts ordinary functions to Publisher.
type PublisherFunc func(ctx context.Context, update Update) error

// PublishPrice implements Publisher.
func (f PublisherFunc) PublishPrice(ctx context.Context, update Update) error {
	if f == nil {
		return nil
	}
	return f(ctx, update)
}

// Recorder persists aggregated snapshots for later inspection.
type Recorder interface {
	RecordUpdate(ctx context.Context, update Update) error
}

// Feeder periodically aggregates source quotes and reports the median.
type Feeder struct {
	logger    *slog.Logger
	sources   []Source
	assets    []string
	quote     string
	minFeeds  int
	maxAge    time.Duration
	interval  time.Duration
	publisher Publisher
	recorder  Recorder
	now       func() time.Time
	once      sync.Once
}

// Option configures a Feeder.
type Option func(*Feeder)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Feeder) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithRecorder stores every published update.
func WithRecorder(r Recorder) Option {
	return func(f *Feeder) { f.recorder = r }
}

// WithClock overrides the wall clock used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(f *Feeder) {
		if now != nil {
			f.now = now
		}
	}
}

// New constructs a feeder.
func New(publisher Publisher, sources []Source, assets []string, quote string, interval, maxAge time.Duration, minFeeds int, opts ...Option) (*Feeder, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher required")
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one source required")
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("at least one asset required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	if minFeeds <= 0 {
		minFeeds = 1
	}
	normalized := make([]string, 0, len(assets))
	for _, asset := range assets {
		if trimmed := strings.ToUpper(strings.TrimSpace(asset)); trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	f := &Feeder{
		logger:    slog.Default(),
		sources:   append([]Source{}, sources...),
		assets:    normalized,
		quote:     strings.ToUpper(strings.TrimSpace(quote)),
		interval:  interval,
		maxAge:    maxAge,
		minFeeds:  minFeeds,
		publisher: publisher,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// Run blocks, periodically polling upstream feeds until the context is cancelled.
func (f *Feeder) Run(ctx context.Context) error {
	if f == nil {
		return fmt.Errorf("feeder not configured")
	}
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	f.once.Do(func() {
		f.logger.Info("price feeder started",
			slog.Int("sources", len(f.sources)),
			slog.Int("assets", len(f.assets)))
	})
	for {
		if err := f.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn("price feeder tick failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs a single aggregation cycle across all configured assets.
// Every asset is attempted; the first failure is returned.
func (f *Feeder) Tick(ctx context.Context) error {
	if f == nil {
		return fmt.Errorf("feeder not configured")
	}
	var first error
	for _, asset := range f.assets {
		if err := f.processAsset(ctx, asset); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f *Feeder) processAsset(ctx context.Context, asset string) error {
	now := f.now()
	quotes := make([]Quote, 0, len(f.sources))
	feeders := make([]string, 0, len(f.sources))
	for _, src := range f.sources {
		if src == nil {
			continue
		}
		observed, err := src.Fetch(ctx, asset, f.quote)
		if err != nil {
			f.logger.Warn("price source failed",
				slog.String("source", src.Name()),
				slog.String("asset", asset),
				slog.Any("error", err))
			continue
		}
		if observed.Rate == nil || observed.Rate.Sign() <= 0 {
			f.logger.Warn("price source returned invalid rate", slog.String("source", src.Name()))
			continue
		}
		if observed.Timestamp.After(now.Add(5 * time.Second)) {
			f.logger.Warn("price source produced future timestamp", slog.String("source", src.Name()))
			continue
		}
		if f.maxAge > 0 && observed.Timestamp.Before(now.Add(-f.maxAge)) {
			f.logger.Warn("price source quote expired", slog.String("source", src.Name()))
			continue
		}
		feeders = append(feeders, src.Name())
		quotes = append(quotes, observed.Clone())
	}
	if len(quotes) < f.minFeeds {
		return fmt.Errorf("insufficient price feeds for %s/%s: %d of %d", asset, f.quote, len(quotes), f.minFeeds)
	}
	median := computeMedian(quotes)
	if median == nil || median.Sign() <= 0 {
		return fmt.Errorf("median computation failed for %s/%s", asset, f.quote)
	}
	price := ToFixedPoint(median)
	if price.Sign() <= 0 {
		return fmt.Errorf("median for %s/%s rounds to zero", asset, f.quote)
	}
	update := Update{
		Asset:   asset,
		Quote:   f.quote,
		Median:  median,
		Price:   price,
		Feeders: feeders,
		ProofID: proofID(asset, f.quote, feeders, now),
		Time:    now,
	}
	if err := f.publisher.PublishPrice(ctx, update); err != nil {
		return fmt.Errorf("publish %s: %w", asset, err)
	}
	if f.recorder != nil {
		if err := f.recorder.RecordUpdate(ctx, update); err != nil {
			f.logger.Warn("record price snapshot failed", slog.String("asset", asset), slog.Any("error", err))
		}
	}
	return nil
}

// ToFixedPoint floors a rational price to the registry's eight-decimal
// fixed-point representation.
func ToFixedPoint(rate *big.Rat) *big.Int {
	if rate == nil {
		return new(big.Int)
	}
	scaled := new(big.Int).Mul(rate.Num(), common.PriceScale)
	return scaled.Quo(scaled, rate.Denom())
}

func computeMedian(quotes []Quote) *big.Rat {
	if len(quotes) == 0 {
		return nil
	}
	sorted := make([]*big.Rat, 0, len(quotes))
	for _, q := range quotes {
		if q.Rate == nil {
			continue
		}
		sorted = append(sorted, new(big.Rat).Set(q.Rate))
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Cmp(sorted[j]) < 0
	})
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return new(big.Rat).Set(sorted[mid])
	}
	sum := new(big.Rat).Add(sorted[mid-1], sorted[mid])
	return sum.Quo(sum, big.NewRat(2, 1))
}

func proofID(asset, quote string, feeders []string, ts time.Time) string {
	digest := blake3.New(32, nil)
	digest.Write([]byte(asset))
	digest.Write([]byte("/"))
	digest.Write([]byte(quote))
	digest.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	sorted := append([]string{}, feeders...)
	sort.Strings(sorted)
	for _, name := range sorted {
		digest.Write([]byte(strings.ToLower(strings.TrimSpace(name))))
	}
	return hex.EncodeToString(digest.Sum(nil))
}
