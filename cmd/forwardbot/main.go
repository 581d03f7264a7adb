package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forwardbot/internal/alerthub"
	"forwardbot/internal/config"
	"forwardbot/internal/constants"
	"forwardbot/internal/database"
	"forwardbot/internal/metrics"
	"forwardbot/internal/models"
	"forwardbot/internal/retry"
	"forwardbot/internal/service"
	"forwardbot/internal/tracing"
	"forwardbot/pkg/circuitbreaker"
	"forwardbot/pkg/telegram"
	"forwardbot/pkg/vk"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes account and contact ids)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("forwardbot %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting forwardbot")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	configureLogLevel(logger, cfg.LogLevel, *verbose)

	tracingManager := tracing.NewTracingManager(tracing.ConfigFromModel(cfg.Tracing), logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Initialize database with exponential backoff retry
	var db *database.Database
	backoffConfig := retry.FromRetryConfig(cfg.Retry)
	backoffConfig.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	err = retry.NewBackoff(backoffConfig).Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	cursors, closeCursors, err := newCursorStore(ctx, cfg.CursorStore, db, logger)
	if err != nil {
		return err
	}
	defer closeCursors()

	vkClient := vk.NewClientWithLogger(cfg.VK.APIBaseURL, cfg.VK.APIVersion, &http.Client{
		Timeout: time.Duration(cfg.VK.HTTPTimeoutSec) * time.Second,
	}, logger)

	breaker := circuitbreaker.New("telegram", constants.DefaultCircuitBreakerFailures,
		time.Duration(constants.DefaultCircuitBreakerResetSec)*time.Second,
		circuitbreaker.WithLogger(logger),
		circuitbreaker.WithFailurePredicate(telegram.IsTransient),
	)
	tgClient := telegram.NewClient(telegram.Config{
		BaseURL:    cfg.Telegram.APIBaseURL,
		Token:      cfg.Telegram.BotToken,
		HTTPClient: &http.Client{Timeout: time.Duration(cfg.Telegram.HTTPTimeoutSec) * time.Second},
		Backoff:    retry.NewBackoff(retry.FromRetryConfig(cfg.Retry)),
		Breaker:    breaker,
		Logger:     logger,
	})

	registry := metrics.NewRegistry()
	hub := alerthub.New(logger)
	notifier := service.MultiNotifier{
		service.NewTelegramAdminNotifier(tgClient, cfg.Telegram.AdminChatID),
		hub,
	}
	alerter := service.NewAlerter(notifier, cfg.Scheduler.MaxExceptionCount, registry, logger)

	cacheTTL := time.Duration(cfg.Cache.TTLSec) * time.Second
	accountCache := service.NewAccountCache(db, cacheTTL)
	allowLists := service.NewAllowListCache(db, cfg.Cache.MaxEntries, cacheTTL)

	sink := service.NewTelegramSink(tgClient, logger)
	accounts := service.NewAccountService(db, cursors, accountCache, allowLists, alerter, sink, registry, logger)

	forwarder := service.NewForwarder(service.ForwarderDeps{
		Acquirer:        service.NewCursorAcquirer(cursors, vkClient, time.Duration(cfg.Scheduler.CursorMaxAgeMinutes)*time.Minute, logger),
		Store:           cursors,
		Source:          vkClient,
		AllowLists:      allowLists,
		Resolver:        service.NewAttachmentResolver(vkClient, registry, logger),
		Sink:            sink,
		Metrics:         registry,
		Logger:          logger,
		LongPollWaitSec: cfg.Scheduler.LongPollWaitSec,
		PollGrace:       time.Duration(cfg.Scheduler.LongPollGraceSec) * time.Second,
	})

	scheduler := service.NewAccountScheduler(accounts, forwarder, alerter, accounts,
		time.Duration(cfg.Scheduler.IntervalSec)*time.Second, registry, logger)
	accounts.UseGate(scheduler)
	if err := scheduler.Start(service.WithVerbose(ctx, *verbose)); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer scheduler.Stop()

	server := NewServer(cfg.Server, accounts, scheduler, db, hub, registry, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

func configureLogLevel(logger *logrus.Logger, configured string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - account and contact ids will be logged")
		return
	}

	level, err := logrus.ParseLevel(configured)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", configured)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

// newCursorStore returns the configured cursor backend and its cleanup func
func newCursorStore(ctx context.Context, cfg models.CursorStoreConfig, db *database.Database, logger *logrus.Logger) (service.CursorStore, func(), error) {
	if cfg.Backend != constants.CursorStoreBackendRedis {
		return database.NewSQLiteCursorStore(db), func() {}, nil
	}

	client, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	store := database.NewRedisCursorStore(client)
	if err := store.Ping(ctx); err != nil {
		closeRedis(client, logger)
		return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	logger.Info("Using Redis cursor store")
	return store, func() { closeRedis(client, logger) }, nil
}

func closeRedis(client *redis.Client, logger *logrus.Logger) {
	if err := client.Close(); err != nil {
		logger.Warnf("Failed to close redis client: %v", err)
	}
}
