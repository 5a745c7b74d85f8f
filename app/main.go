package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/news-comb/app/api"
	"github.com/lysyi3m/news-comb/app/cache"
	"github.com/lysyi3m/news-comb/app/cfg"
	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/dedup"
	"github.com/lysyi3m/news-comb/app/fetcher"
	"github.com/lysyi3m/news-comb/app/pipeline"
	"github.com/lysyi3m/news-comb/app/report"
	"github.com/lysyi3m/news-comb/app/similarity"
	"github.com/lysyi3m/news-comb/app/sources"
	"github.com/lysyi3m/news-comb/app/tasks"
)

func main() {
	appConfig, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if appConfig == nil {
		// Help was shown
		return
	}

	level := slog.LevelInfo
	if appConfig.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(appConfig, logger); err != nil {
		logger.Error("News Comb stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(appConfig *cfg.Cfg, logger *slog.Logger) error {
	logger.Info("Starting News Comb", "version", appConfig.Version)

	db, err := database.NewConnection(appConfig.DBPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return err
	}
	logger.Info("Database ready", "path", appConfig.DBPath, "migration_version", version, "dirty", dirty)

	itemRepo := database.NewItemRepository(db)
	sourceRepo := database.NewSourceRepository(db)
	runRepo := database.NewRunRepository(db)

	fingerprintCache, err := cache.New(cache.Config{
		Backend:       appConfig.CacheBackend,
		Size:          appConfig.CacheSize,
		TTL:           appConfig.CacheTTL,
		RedisAddr:     appConfig.RedisAddr,
		RedisPassword: appConfig.RedisPassword,
		RedisDB:       appConfig.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer fingerprintCache.Close()
	itemStore := cache.NewCachedStore(itemRepo, fingerprintCache, logger)

	engine := similarity.NewEngine(similarity.Config{
		Threshold:  appConfig.SimilarityThreshold,
		BodyWeight: appConfig.BodyWeight,
	})
	index := dedup.NewIndex(itemStore, engine, dedup.Config{
		WindowAge:       appConfig.WindowAge,
		WindowSize:      appConfig.WindowSize,
		RefreshInterval: appConfig.WindowRefresh,
		StoreTimeout:    appConfig.StoreTimeout,
	}, logger)

	// A cold window is warmed again on the first admission
	if err := index.Warm(context.Background()); err != nil {
		logger.Warn("Failed to warm dedup window", "error", err)
	}

	ingester := pipeline.New(index, pipeline.Config{ItemRetries: appConfig.ItemRetries}, logger)

	httpClient := &http.Client{Timeout: 60 * time.Second}
	registry := fetcher.NewRegistry(httpClient, appConfig.UserAgent)

	reporters := report.Multi{report.NewLogReporter(logger), report.NewStoreReporter(runRepo)}
	if len(appConfig.KafkaBrokers) > 0 {
		kafkaReporter, err := report.NewKafkaReporter(report.KafkaConfig{
			Brokers: appConfig.KafkaBrokers,
			Topic:   appConfig.KafkaTopic,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize Kafka reporter: %w", err)
		}
		defer kafkaReporter.Close()
		reporters = append(reporters, kafkaReporter)
		logger.Info("Publishing ingest reports to Kafka", "topic", appConfig.KafkaTopic)
	}

	configCache := sources.NewConfigCache(appConfig.SourcesDir)
	if err := configCache.Run(); err != nil {
		return fmt.Errorf("failed to load source configurations: %w", err)
	}
	logger.Info("Loaded source configurations", "dir", appConfig.SourcesDir, "count", configCache.GetConfigCount())

	scheduler := tasks.NewScheduler(configCache, sourceRepo, registry, ingester, reporters, tasks.Config{
		Interval:     time.Duration(appConfig.SchedulerInterval) * time.Second,
		WorkerCount:  appConfig.WorkerCount,
		BackoffBase:  appConfig.BackoffBase,
		BackoffMax:   appConfig.BackoffMax,
		FetchRetries: appConfig.FetchRetries,
	}, logger)
	if err := scheduler.Load(context.Background()); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(configCache, scheduler, itemStore, itemRepo, runRepo, index, db, itemStore)
	server := api.NewServer(handler, appConfig.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appConfig.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "port", appConfig.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("Received signal", "signal", sig.String())
	case runErr = <-serverErrChan:
	}

	logger.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Deferred calls stop the scheduler before the reporters, cache and database close
	return runErr
}
