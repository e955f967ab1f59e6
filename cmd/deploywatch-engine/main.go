package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deploywatch/deploywatch/internal/api"
	"github.com/deploywatch/deploywatch/internal/cache"
	"github.com/deploywatch/deploywatch/internal/config"
	"github.com/deploywatch/deploywatch/internal/detect"
	"github.com/deploywatch/deploywatch/internal/engine"
	"github.com/deploywatch/deploywatch/internal/metrics"
	"github.com/deploywatch/deploywatch/internal/patterns"
	"github.com/deploywatch/deploywatch/internal/repo"
	"github.com/deploywatch/deploywatch/internal/services"
	"github.com/deploywatch/deploywatch/internal/tracker"
	"github.com/deploywatch/deploywatch/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting deploywatch", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout.Std(),
			ReadTimeout:  cfg.Cache.ReadTimeout.Std(),
			WriteTimeout: cfg.Cache.WriteTimeout.Std(),
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	scmClient := repo.NewSourceControlClient(
		cfg.Clients.SourceControl.BaseURL,
		cfg.Clients.SourceControl.CommitsPath,
		cfg.Clients.SourceControl.DiffPath,
		cfg.Clients.SourceControl.HeadPath,
		cfg.Clients.SourceControl.Token,
		cfg.Clients.SourceControl.Timeout.Std(),
		cacheProvider,
		cfg.Cache.DiffTTL.Std(),
	)
	monitoringClient := repo.NewMonitoringClient(
		cfg.Clients.Monitoring.BaseURL,
		cfg.Clients.Monitoring.AlertsPath,
		cfg.Clients.Monitoring.SnapshotPath,
		cfg.Clients.Monitoring.Timeout.Std(),
		cacheProvider,
		cfg.Cache.AlertsTTL.Std(),
	)

	var archive *repo.PostgresArchive
	if cfg.Archive.Enabled {
		archive, err = repo.NewPostgresArchive(ctx, cfg.Archive.DatabaseURL)
		if err != nil {
			logger.Warn("incident archive unavailable", slog.Any("error", err))
		} else {
			defer archive.Close()
		}
	}

	recommender, err := engine.NewRecommender(logger, cfg.Rules.Path)
	if err != nil {
		logger.Error("failed to load recommendation rule pack", slog.Any("error", err))
		os.Exit(1)
	}

	scorer := engine.NewRiskScorer()
	forensicsEngine := engine.NewForensicsEngine(logger, scmClient, scorer, recommender)
	forensicsService := services.NewForensicsService(logger, forensicsEngine)
	correlator := engine.NewCorrelator(logger, monitoringClient, cfg.Tracker.CorrelationWindow.Std())

	hub := api.NewHub(logger)
	sink := services.NewEventFanout(hub)

	var incidentStore tracker.IncidentStore
	if archive != nil {
		incidentStore = archive
	}
	var patternStore patterns.Store
	if archive != nil {
		patternStore = archive
	}

	trk := tracker.New(
		logger,
		tracker.Options{
			DetectionInterval: cfg.Tracker.DetectionInterval.Std(),
			MonitorInterval:   cfg.Tracker.MonitorInterval.Std(),
			CompletionAfter:   cfg.Tracker.CompletionAfter.Std(),
			Services:          cfg.Tracker.Services,
		},
		scmClient,
		monitoringClient,
		detect.NewDetector(),
		correlator,
		scorer,
		recommender,
		sink,
		incidentStore,
	)

	miner := patterns.NewMiner(logger, patternStore)

	var incidentArchive api.IncidentArchive
	if archive != nil {
		incidentArchive = archive
	}
	handlers := api.NewHandlers(logger, ctx, forensicsService, trk, miner, hub, incidentArchive)
	server := api.NewServer(cfg.Server, handlers)

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	trk.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout.Std())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("deploywatch stopped")
}
