package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/user-provisioner/internal/account"
	"github.com/cuongbtq/user-provisioner/internal/bootstrap"
	"github.com/cuongbtq/user-provisioner/internal/config"
	"github.com/cuongbtq/user-provisioner/internal/hooks"
	"github.com/cuongbtq/user-provisioner/internal/importer"
	"github.com/cuongbtq/user-provisioner/internal/provision"
	"github.com/cuongbtq/user-provisioner/internal/scheduler"
	"github.com/cuongbtq/user-provisioner/internal/scheduler/storage"
	"github.com/cuongbtq/user-provisioner/internal/worker"
	"github.com/cuongbtq/user-provisioner/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	coreErrLog, err := logger.NewCategoryLog(cfg.Provision.LogDir, "core-errors.log", "user-core")
	if err != nil {
		return fmt.Errorf("failed to open core error log: %w", err)
	}
	defer coreErrLog.Close()

	metaErrLog, err := logger.NewCategoryLog(cfg.Provision.LogDir, "meta-errors.log", "user-meta")
	if err != nil {
		return fmt.Errorf("failed to open meta error log: %w", err)
	}
	defer metaErrLog.Close()

	dbClient, err := bootstrap.InitPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	jobStorage := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)
	accounts := account.NewPostgresStore(dbClient.GetDB(), appLogger.Logger)
	sched := scheduler.New(jobStorage, scheduler.Config{
		MaxRetries:     cfg.Scheduler.MaxRetries,
		TimeoutSeconds: cfg.Scheduler.TimeoutSeconds,
	}, appLogger.Logger)

	registry, err := registerHooks(cfg, accounts, sched, appLogger.Logger, coreErrLog.Logger, metaErrLog.Logger)
	if err != nil {
		return err
	}

	dispatcher := scheduler.NewDispatcher(jobStorage, rabbitClient, scheduler.DispatcherConfig{
		PollInterval: cfg.Scheduler.PollInterval,
		BatchSize:    cfg.Scheduler.BatchSize,
		StaleAfter:   cfg.Scheduler.StaleAfter,
	}, appLogger.Logger.With(slog.String("component", "dispatcher")))

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:            appLogger.Logger,
		Storage:           jobStorage,
		Broker:            rabbitClient,
		Hooks:             registry,
		Concurrency:       cfg.Worker.Concurrency,
		PrefetchCount:     cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := dispatcher.Run(ctx); err != nil {
			errChan <- err
		}
	}()
	go func() {
		defer wg.Done()
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully",
		slog.String("worker_id", workerInstance.ID()),
		slog.Any("hooks", registry.Names()),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", runErr),
		)
	}

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		workerInstance.Stop()
		close(done)
	}()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return runErr
}

// registerHooks wires the two apply phases to their hook names
func registerHooks(cfg *config.Config, accounts account.Store, sched *scheduler.Scheduler, appLogger, coreErrLog, metaErrLog *slog.Logger) (*hooks.Registry, error) {
	core := provision.NewCoreApplier(accounts, provision.CoreConfig{
		Roles:        cfg.Provision.Roles,
		BaselineRole: cfg.Provision.BaselineRole,
		PasswordCost: cfg.Provision.PasswordCost,
	}, appLogger.With(slog.String("hook", provision.HookUserCreation)), coreErrLog)

	// only filters meta items that were scheduled without a key mode
	var allowed []string
	if cfg.Import.MetaMode != string(importer.MetaModeOpen) {
		allow := importer.AllowList(cfg.Import.AllowList)
		if len(allow) == 0 {
			allow = importer.DefaultAllowList()
		}
		allowed = allow.Keys()
	}

	meta := provision.NewMetaApplier(accounts, sched, provision.MetaConfig{
		AllowedKeys:   allowed,
		RetryGroup:    cfg.Provision.RetryGroup,
		RetryDelay:    cfg.Provision.RetryDelay,
		MaxKeyRetries: cfg.Provision.MaxKeyRetries,
	}, appLogger.With(slog.String("hook", provision.HookUserMeta)), metaErrLog)

	registry := hooks.NewRegistry()
	if err := registry.Register(provision.HookUserCreation, core.Handle); err != nil {
		return nil, err
	}
	if err := registry.Register(provision.HookUserMeta, meta.Handle); err != nil {
		return nil, err
	}

	return registry, nil
}
