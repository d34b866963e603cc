package feeder

import (
	"context"
	"math/big"
	"strings"

	"swapcore/services/swapd/archive"
)

// PriceReporter is the registry write path used by the feeder.
type PriceReporter interface {
	UpdatePriceFeed(ctx context.Context, caller [20]byte, asset string, price *big.Int) error
}

// RegistryPublisher reports aggregated prices under a fixed reporter
// identity. The identity must be an authorized reporter or the
// administrator.
type RegistryPublisher struct {
	Registry PriceReporter
	Reporter [20]byte
}

// PublishPrice implements Publisher.
func (p RegistryPublisher) PublishPrice(ctx context.Context, update Update) error {
	return p.Registry.UpdatePriceFeed(ctx, p.Reporter, update.Asset, update.Price)
}

// ArchiveRecorder stores updates as archive price snapshots.
type ArchiveRecorder struct {
	Archive *archive.Archive
}

// RecordUpdate implements Recorder.
func (r ArchiveRecorder) RecordUpdate(ctx context.Context, update Update) error {
	median := ""
	if update.Median != nil {
		median = update.Median.FloatString(18)
	}
	price := ""
	if update.Price != nil {
		price = update.Price.String()
	}
	return r.Archive.RecordSnapshot(ctx, archive.PriceSnapshot{
		Asset:      update.Asset,
		Quote:      update.Quote,
		Median:     median,
		Price:      price,
		Feeders:    strings.Join(update.Feeders, ","),
		ProofID:    update.ProofID,
		ObservedAt: update.Time.UTC(),
	})
}
