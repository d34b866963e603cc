package archive

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"swapcore/core/types"
	"swapcore/observability/metrics"
)

var (
	// ErrGap is returned by Append when an entry does not directly follow
	// the archived head.
	ErrGap = errors.New("archive: sequence gap")
	// ErrChainBroken is returned by Verify when a stored digest does not
	// match its recomputation.
	ErrChainBroken = errors.New("archive: digest chain broken")
	// ErrSnapshotNotFound is returned when no snapshot exists for an asset.
	ErrSnapshotNotFound = errors.New("archive: snapshot not found")
)

// Source exposes the committed ledger log.
type Source interface {
	Events(from uint64, limit int) ([]types.LogEntry, error)
}

// Archive persists the ledger event log with a BLAKE3 digest chain.
type Archive struct {
	db        *gorm.DB
	batchSize int
	logger    *slog.Logger

	mu     sync.Mutex
	head   uint64
	digest [32]byte
}

// Option configures an Archive.
type Option func(*Archive)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Archive) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithBatchSize bounds how many entries Sync pulls per round trip.
func WithBatchSize(n int) Option {
	return func(a *Archive) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

// Open connects to the archive database selected by dsn and migrates the
// schema.
func Open(dsn string, opts ...Option) (*Archive, error) {
	driver, resolved, err := ResolveDSN(dsn)
	if err != nil {
		return nil, err
	}
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(resolved)
	default:
		dialector = sqlite.Open(resolved)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return New(db, opts...)
}

// New wraps an already opened gorm handle.
func New(db *gorm.DB, opts ...Option) (*Archive, error) {
	if db == nil {
		return nil, fmt.Errorf("archive database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	a := &Archive{db: db, batchSize: 256, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	var last Record
	err := db.Order("sequence desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("load archive head: %w", err)
	}
	if last.Sequence > 0 {
		digest, err := decodeDigest(last.Digest)
		if err != nil {
			return nil, err
		}
		a.head, a.digest = last.Sequence, digest
	}
	return a, nil
}

// Close releases the database handle.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Head returns the newest archived sequence.
func (a *Archive) Head() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.head
}

// Append archives entry. Entries at or below the head are ignored so
// replays are harmless; anything beyond head+1 returns ErrGap.
func (a *Archive) Append(ctx context.Context, entry types.LogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.appendLocked(ctx, []types.LogEntry{entry})
}

func (a *Archive) appendLocked(ctx context.Context, entries []types.LogEntry) error {
	head, digest := a.head, a.digest
	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if entry.Sequence <= head {
			continue
		}
		if entry.Sequence != head+1 {
			return fmt.Errorf("%w: have %d, got %d", ErrGap, head, entry.Sequence)
		}
		attrs := map[string]string{}
		typ := ""
		if entry.Event != nil {
			typ = entry.Event.Type
			if entry.Event.Attributes != nil {
				attrs = entry.Event.Attributes
			}
		}
		encoded, err := json.Marshal(attrs)
		if err != nil {
			return fmt.Errorf("encode attributes: %w", err)
		}
		next := Digest(digest, entry)
		records = append(records, Record{
			Sequence:   entry.Sequence,
			Type:       typ,
			LedgerTime: entry.Time,
			Attributes: string(encoded),
			PrevDigest: hex.EncodeToString(digest[:]),
			Digest:     hex.EncodeToString(next[:]),
			ArchivedAt: time.Now().UTC(),
		})
		head, digest = entry.Sequence, next
	}
	if len(records) == 0 {
		return nil
	}
	if err := a.db.WithContext(ctx).Create(&records).Error; err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	a.head, a.digest = head, digest
	metrics.Settlement().SetArchivedSequence(head)
	return nil
}

// Sync copies every committed entry past the head from src.
func (a *Archive) Sync(ctx context.Context, src Source) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	copied := 0
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		entries, err := src.Events(a.head+1, a.batchSize)
		if err != nil {
			return copied, fmt.Errorf("read ledger log: %w", err)
		}
		if len(entries) == 0 {
			return copied, nil
		}
		if err := a.appendLocked(ctx, entries); err != nil {
			return copied, err
		}
		copied += len(entries)
		if len(entries) < a.batchSize {
			return copied, nil
		}
	}
}

// Run keeps the archive in step with the ledger. Live entries are appended
// directly; a gap (for example after the subscriber lagged and dropped
// entries) triggers a Sync from the ledger log.
func (a *Archive) Run(ctx context.Context, src Source, updates <-chan types.LogEntry) error {
	if _, err := a.Sync(ctx, src); err != nil {
		return err
	}
	resync := time.NewTicker(30 * time.Second)
	defer resync.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resync.C:
			if _, err := a.Sync(ctx, src); err != nil && ctx.Err() == nil {
				a.logger.Warn("archive resync failed", slog.Any("error", err))
			}
		case entry, ok := <-updates:
			if !ok {
				return nil
			}
			err := a.Append(ctx, entry)
			if errors.Is(err, ErrGap) {
				_, err = a.Sync(ctx, src)
			}
			if err != nil && ctx.Err() == nil {
				a.logger.Warn("archive append failed",
					slog.Uint64("sequence", entry.Sequence),
					slog.Any("error", err))
			}
		}
	}
}

// Events returns up to limit archived entries starting at from.
func (a *Archive) Events(ctx context.Context, from uint64, limit int) ([]types.LogEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var records []Record
	err := a.db.WithContext(ctx).
		Where("sequence >= ?", from).
		Order("sequence asc").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	out := make([]types.LogEntry, 0, len(records))
	for _, rec := range records {
		entry, err := rec.Entry()
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// Verify recomputes the digest chain from the first record and returns the
// number of records checked.
func (a *Archive) Verify(ctx context.Context) (uint64, error) {
	var (
		prev    [32]byte
		checked uint64
		after   uint64
	)
	for {
		var records []Record
		err := a.db.WithContext(ctx).
			Where("sequence > ?", after).
			Order("sequence asc").
			Limit(a.batchSize).
			Find(&records).Error
		if err != nil {
			return checked, fmt.Errorf("query events: %w", err)
		}
		if len(records) == 0 {
			return checked, nil
		}
		for _, rec := range records {
			if rec.Sequence != after+1 {
				return checked, fmt.Errorf("%w: missing sequence %d", ErrChainBroken, after+1)
			}
			if rec.PrevDigest != hex.EncodeToString(prev[:]) {
				return checked, fmt.Errorf("%w: previous digest mismatch at %d", ErrChainBroken, rec.Sequence)
			}
			entry, err := rec.Entry()
			if err != nil {
				return checked, err
			}
			next := Digest(prev, entry)
			if rec.Digest != hex.EncodeToString(next[:]) {
				return checked, fmt.Errorf("%w: digest mismatch at %d", ErrChainBroken, rec.Sequence)
			}
			prev, after = next, rec.Sequence
			checked++
		}
	}
}

// RecordSnapshot stores an aggregated feeder observation.
func (a *Archive) RecordSnapshot(ctx context.Context, snap PriceSnapshot) error {
	snap.ID = 0
	if snap.ObservedAt.IsZero() {
		snap.ObservedAt = time.Now().UTC()
	}
	if err := a.db.WithContext(ctx).Create(&snap).Error; err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot for asset.
func (a *Archive) LatestSnapshot(ctx context.Context, asset string) (PriceSnapshot, error) {
	var snaps []PriceSnapshot
	err := a.db.WithContext(ctx).
		Where("asset = ?", asset).
		Order("id desc").
		Limit(1).
		Find(&snaps).Error
	if err != nil {
		return PriceSnapshot{}, fmt.Errorf("query snapshot: %w", err)
	}
	if len(snaps) == 0 {
		return PriceSnapshot{}, ErrSnapshotNotFound
	}
	return snaps[0], nil
}
