package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/connergroth/EcoVision/internal/auth"
	"github.com/connergroth/EcoVision/internal/config"
	"github.com/connergroth/EcoVision/internal/health"
	"github.com/connergroth/EcoVision/internal/info"
	"github.com/connergroth/EcoVision/internal/ledger"
	"github.com/connergroth/EcoVision/internal/logger"
	"github.com/connergroth/EcoVision/internal/models"
	"github.com/connergroth/EcoVision/internal/pipeline"
	"github.com/connergroth/EcoVision/internal/service"
	"github.com/connergroth/EcoVision/internal/state"
	"github.com/connergroth/EcoVision/internal/vision"
	"github.com/connergroth/EcoVision/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting EcoVision",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	if err := run(cfg, log); err != nil {
		log.Error("Exiting with error", "error", err)
		log.Sync()
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}

func run(cfg *config.Config, log *logger.Logger) (err error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := state.Open(ctx, cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("failed to open ledger store: %w", err)
	}
	defer func() {
		err = multierr.Append(err, store.Close())
	}()

	svcMgr := service.NewManager(log)

	engine := vision.NewHTTPEngine(vision.EngineConfig{
		ServiceURL: cfg.Detection.EngineURL,
		Timeout:    cfg.Detection.EngineTimeout,
	}, log)
	detector := vision.NewDetector(engine, vision.DetectorConfig{
		InputSize:       cfg.Detection.InputSize,
		StreamInputSize: cfg.Detection.StreamInputSize,
		Strides:         cfg.Detection.Strides,
		Labels:          models.ParseLabels(cfg.Detection.Labels),
		Suppress: vision.SuppressOptions{
			ConfThreshold: cfg.Detection.RawConfidence,
			IoUThreshold:  cfg.Detection.IoUThreshold,
			MaxDetections: cfg.Detection.MaxDetections,
			Agnostic:      cfg.Detection.Agnostic,
		},
	}, log)

	healthMgr := health.NewManager(log, svcMgr)
	healthMgr.WatchEvents(ctx, svcMgr.GetEventBus())
	healthMgr.RegisterChecker(health.NewDatabaseChecker(store, cfg.Storage.Driver))
	healthMgr.RegisterChecker(health.NewUpstreamChecker("inference_engine", cfg.Detection.EngineURL, engine))
	if cfg.Storage.Driver == "sqlite" {
		healthMgr.RegisterChecker(health.NewStorageChecker(cfg.Server.DataDir))
	}

	// tiers are tried in order: generated text, external API
	var tiers []info.Tier
	if g := cfg.Info.Generative; g.Enabled {
		gen := info.NewGenerative(info.GenerativeConfig{
			URL:            g.URL,
			APIKey:         g.APIKey,
			Model:          g.Model,
			Provider:       g.Provider,
			MaxTokens:      g.MaxTokens,
			Temperature:    g.Temperature,
			Timeout:        g.Timeout,
			MinInterval:    g.MinInterval,
			MaxAttempts:    g.MaxAttempts,
			InitialBackoff: g.InitialBackoff,
			MaxBackoff:     g.MaxBackoff,
		}, log)
		tiers = append(tiers, gen)
		healthMgr.RegisterChecker(health.NewUpstreamChecker("generative", g.URL, gen))
	}
	var tips web.TipsSource
	if e := cfg.Info.External; e.Enabled {
		ext := info.NewExternal(info.ExternalConfig{
			URL:     e.URL,
			APIKey:  e.APIKey,
			Timeout: e.Timeout,
		}, log)
		tiers = append(tiers, ext)
		tips = ext
	}
	resolver := info.NewResolver(info.NewCache(cfg.Info.Cache.Size, cfg.Info.Cache.TTL), log.Named("info"), tiers...)

	rewards := ledger.New(store, ledger.Config{
		MaxAttempts:    cfg.Ledger.MaxAttempts,
		InitialBackoff: cfg.Ledger.InitialBackoff,
		MaxBackoff:     cfg.Ledger.MaxBackoff,
		HistoryWindow:  cfg.Ledger.HistoryWindow,
	}, log)
	sweeper := ledger.NewSweeper(rewards, ledger.SweeperConfig{
		Interval:  cfg.Ledger.SweepInterval,
		BatchSize: cfg.Ledger.SweepBatch,
	}, log)

	detection := pipeline.New(detector, resolver, rewards, pipeline.Config{
		ConfidenceThreshold: cfg.Detection.ConfidenceThreshold,
		PointsPerRecyclable: cfg.Detection.PointsPerRecyclable,
		InfoBudget:          cfg.Info.Budget,
		CommitReserve:       cfg.Ledger.CommitReserve,
	}, log)
	detection.SetEventBus(svcMgr.GetEventBus())

	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	server := web.NewServer(&cfg.Server, log)
	server.SetDependencies(detection, rewards, verifier,
		auth.NewCachedVerifier(verifier, cfg.Auth.CacheSize, cfg.Auth.CacheTTL))
	server.SetHealth(healthMgr)
	if tips != nil {
		server.SetTips(tips)
	}

	svcMgr.Register(sweeper)
	svcMgr.Register(server)

	if err := svcMgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("Received shutdown signal", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	return svcMgr.Shutdown(shutdownCtx)
}
