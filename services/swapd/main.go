package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	protocolconfig "swapcore/config"
	"swapcore/core"
	"swapcore/crypto"
	"swapcore/observability/logging"
	telemetry "swapcore/observability/otel"
	"swapcore/services/swapd/adapters"
	"swapcore/services/swapd/archive"
	"swapcore/services/swapd/config"
	"swapcore/services/swapd/feeder"
	"swapcore/services/swapd/server"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/swapd/config.yaml", "path to swapd configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("SWAPCORE_ENV"))
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logging.Setup("swapd", env).Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := logging.SetupWithOptions(logging.Options{
		Service:    "swapd",
		Env:        env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err := run(cfg, env, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("swapd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, env string, logger *slog.Logger) error {
	exporting := strings.TrimSpace(cfg.Telemetry.Endpoint) != ""
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "swapd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     exporting,
		Traces:      exporting,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	protocolCfg, err := protocolconfig.Load(cfg.ProtocolPath)
	if err != nil {
		return err
	}
	proto, err := core.Open(rootCtx, protocolCfg, core.WithLogger(logger))
	if err != nil {
		return err
	}
	defer proto.Close()

	store, err := archive.Open(cfg.Archive.DSN, archive.WithLogger(logger), archive.WithBatchSize(cfg.Archive.BatchSize))
	if err != nil {
		return err
	}
	defer store.Close()

	updates, unsubscribe := proto.Bus.Subscribe()
	defer unsubscribe()
	go func() {
		if err := store.Run(rootCtx, proto.State, updates); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event archive stopped", slog.Any("error", err))
			stop()
		}
	}()

	if cfg.Feeder.Enabled {
		prices, err := buildFeeder(cfg.Feeder, proto, store, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := prices.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("price feeder stopped", slog.Any("error", err))
				stop()
			}
		}()
	}

	auth, err := server.NewAuthenticator(server.AuthConfig{
		Secret:    cfg.Auth.Secret,
		Issuer:    cfg.Auth.Issuer,
		Audience:  cfg.Auth.Audience,
		ClockSkew: cfg.Auth.ClockSkew.Duration,
	}, logger)
	if err != nil {
		return err
	}
	srv, err := server.New(server.Config{
		ListenAddress:   cfg.ListenAddress,
		MaxConnections:  cfg.MaxConnections,
		StreamOrigins:   cfg.StreamOrigins,
		ShutdownTimeout: cfg.ShutdownGrace.Duration,
	}, proto, auth,
		server.WithEventLog(store),
		server.WithRateLimiter(server.NewRateLimiter(server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		})),
		server.WithLogger(logger))
	if err != nil {
		return err
	}
	return srv.Run(rootCtx)
}

func buildFeeder(cfg config.FeederConfig, proto *core.Protocol, store *archive.Archive, logger *slog.Logger) (*feeder.Feeder, error) {
	reporter, err := crypto.ParseIdentity(cfg.Reporter)
	if err != nil {
		return nil, err
	}
	sources, err := adapters.NewRegistry().BuildAll(cfg.Sources)
	if err != nil {
		return nil, err
	}
	return feeder.New(
		feeder.RegistryPublisher{Registry: proto.Oracle, Reporter: reporter},
		sources,
		cfg.Assets,
		cfg.Quote,
		cfg.Interval.Duration,
		cfg.MaxAge.Duration,
		cfg.MinFeeds,
		feeder.WithLogger(logger),
		feeder.WithRecorder(feeder.ArchiveRecorder{Archive: store}),
	)
}
