package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"swapcore/config"
	"swapcore/core/events"
	"swapcore/core/genesis"
	"swapcore/core/state"
	"swapcore/core/types"
	"swapcore/crypto"
	"swapcore/native/access"
	"swapcore/native/bank"
	"swapcore/native/htlc"
	"swapcore/native/oracle"
	"swapcore/native/router"
	"swapcore/observability/metrics"
	"swapcore/storage"
)

// Protocol wires the settlement engines over one ledger.
type Protocol struct {
	db     storage.Database
	logger *slog.Logger

	State  *state.Manager
	Bus    *events.Bus
	Access *access.Keeper
	Bank   *bank.Keeper
	Oracle *oracle.Registry
	Ledger *htlc.Ledger
	Router *router.Router
}

type options struct {
	db        storage.Database
	logger    *slog.Logger
	now       func() int64
	busBuffer int
	provider  router.RouteProvider
}

// Option customises Open.
type Option func(*options)

// WithDatabase hosts the ledger on db instead of the configured backend.
func WithDatabase(db storage.Database) Option { return func(o *options) { o.db = db } }

// WithLogger sets the logger handed to every engine.
func WithLogger(logger *slog.Logger) Option { return func(o *options) { o.logger = logger } }

// WithClock replaces the ledger clock.
func WithClock(now func() int64) Option { return func(o *options) { o.now = now } }

// WithBusBuffer sets the per-subscriber event buffer.
func WithBusBuffer(n int) Option { return func(o *options) { o.busBuffer = n } }

// WithRouteProvider overrides the configured route provider.
func WithRouteProvider(p router.RouteProvider) Option { return func(o *options) { o.provider = p } }

// Open builds the engines described by cfg and bootstraps the ledger on
// first start.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Protocol, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	db := o.db
	if db == nil {
		opened, err := openDatabase(cfg)
		if err != nil {
			return nil, err
		}
		db = opened
	}

	manager, err := state.NewManager(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if o.now != nil {
		manager.SetNowFunc(o.now)
	}
	bus := events.NewBus(o.busBuffer)
	bus.OnDrop(func(types.LogEntry) { metrics.Settlement().RecordSubscriberDrop() })
	manager.SetEmitter(events.Multi{bus, eventCounter{}})

	p := &Protocol{
		db:     db,
		logger: o.logger,
		State:  manager,
		Bus:    bus,
		Access: access.NewKeeper(manager),
		Bank:   bank.NewKeeper(manager),
		Oracle: oracle.NewRegistry(manager),
	}
	p.Oracle.SetLogger(o.logger)
	p.Oracle.SetMaxPriceAge(cfg.Oracle.MaxPriceAgeSeconds)
	p.Ledger = htlc.NewLedger(manager, p.Oracle)
	p.Ledger.SetLogger(o.logger)

	provider := o.provider
	if provider == nil {
		provider, err = reserveProvider(cfg, p.Oracle)
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	p.Router = router.New(manager, p.Oracle, provider, router.Config{
		NativeAsset:       cfg.NativeAsset,
		ExecutionFeeBps:   cfg.Router.ExecutionFeeBps,
		DefaultConfidence: cfg.Router.DefaultConfidence,
	})
	p.Router.SetLogger(o.logger)

	spec, err := genesis.FromConfig(cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("genesis: %w", err)
	}
	applied, err := genesis.Apply(ctx, manager, spec)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("genesis: %w", err)
	}
	if applied {
		o.logger.Info("ledger bootstrapped",
			slog.String("admin", crypto.FormatIdentity(spec.Admin)),
			slog.Int("assets", len(spec.Assets)),
			slog.Int("allocations", len(spec.Alloc)))
	} else {
		o.logger.Info("ledger reopened", slog.Uint64("log_head", manager.LastSequence()))
	}
	return p, nil
}

// Close releases the database.
func (p *Protocol) Close() {
	if p == nil || p.db == nil {
		return
	}
	p.db.Close()
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	case config.BackendLevelDB, "":
		db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
		if err != nil {
			return nil, fmt.Errorf("open leveldb: %w", err)
		}
		return db, nil
	case config.BackendBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		db, err := storage.NewBoltDB(filepath.Join(cfg.DataDir, "ledger.bolt"))
		if err != nil {
			return nil, fmt.Errorf("open bolt: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}

func reserveProvider(cfg *config.Config, prices router.Converter) (router.RouteProvider, error) {
	account := strings.TrimSpace(cfg.Router.Reserve.Account)
	if account == "" {
		return nil, nil
	}
	reserve, err := crypto.ParseIdentity(account)
	if err != nil {
		return nil, fmt.Errorf("router reserve: %w", err)
	}
	provider, err := router.NewReserveProvider(reserve, prices, cfg.Router.Reserve.SpreadBps)
	if err != nil {
		return nil, fmt.Errorf("router reserve: %w", err)
	}
	return provider, nil
}

// eventCounter feeds committed events into the settlement metrics.
type eventCounter struct{}

func (eventCounter) Emit(evt events.Event) {
	metrics.Settlement().RecordEvent(evt.EventType())
}
