package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/danyuan/approvalflow/internal/application/dispatcher"
	"github.com/danyuan/approvalflow/internal/application/service"
	"github.com/danyuan/approvalflow/internal/application/workflow"
	"github.com/danyuan/approvalflow/internal/config"
	"github.com/danyuan/approvalflow/internal/infrastructure/persistence/repository"
	httpserver "github.com/danyuan/approvalflow/internal/interfaces/http"
	"github.com/danyuan/approvalflow/internal/worker"
	"github.com/danyuan/approvalflow/pkg/database"
	"github.com/danyuan/approvalflow/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting approval workflow service",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	kvLogger := utils.NewKVLogger(logger)

	// Repositories
	requestRepo := repository.NewRequestRepository(db.DB, logger)
	templateRepo := repository.NewTemplateRepository(db.DB, logger)
	historyRepo := repository.NewHistoryRepository(db.DB, logger)
	notificationRepo := repository.NewNotificationRepository(db.DB, logger)
	txManager := repository.NewTxManager(db)

	// Event dispatcher and notification recording
	eventDispatcher := dispatcher.NewDispatcher(dispatcher.WithLogger(kvLogger))
	notificationService := service.NewNotificationService(
		requestRepo, templateRepo, notificationRepo, kvLogger)
	notificationService.Register(eventDispatcher)

	// Transition engine
	engine := workflow.NewEngine(
		requestRepo,
		templateRepo,
		historyRepo,
		txManager,
		workflow.WithDispatcher(eventDispatcher),
		workflow.WithLogger(kvLogger),
		workflow.WithAdminRole(cfg.Engine.AdminRole),
	)

	templateService := service.NewTemplateService(templateRepo, kvLogger)

	// Background workers
	scheduler := worker.NewDeadlineScheduler(
		requestRepo,
		engine,
		logger,
		worker.WithSweepInterval(cfg.Scheduler.SweepInterval),
		worker.WithBatchSize(cfg.Scheduler.BatchSize),
		worker.WithRecordTimeout(cfg.Scheduler.RecordTimeout),
	)

	workerManager := worker.NewManager(logger)
	workerManager.Register(scheduler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := workerManager.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}

	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, engine, requestRepo, historyRepo, templateService, kvLogger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	cancel()
	workerManager.StopAll()

	if err := eventDispatcher.Close(); err != nil {
		logger.Error("Failed to close dispatcher", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}
