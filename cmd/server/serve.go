package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rpattn/fleetload/internal/config"
	"github.com/rpattn/fleetload/internal/db"
	"github.com/rpattn/fleetload/internal/events"
	"github.com/rpattn/fleetload/internal/ingestion"
	"github.com/rpattn/fleetload/internal/progress"
	"github.com/rpattn/fleetload/internal/repository"
	"github.com/rpattn/fleetload/internal/schema"
	"github.com/rpattn/fleetload/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion API (default)",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := db.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	if err := db.RunMigrations(cfg.Database, logger); err != nil {
		return err
	}

	hub := progress.NewHub(progress.WithBuffer(cfg.Progress.BufferSize))
	var publisher progress.Publisher = hub
	checker := server.NewChecker()
	checker.Register("database", conn)

	if cfg.Progress.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Progress.Redis.Addr(),
			Password: cfg.Progress.Redis.Password,
			DB:       cfg.Progress.Redis.DB,
		})
		defer client.Close()
		relay := progress.NewRedisRelay(client, hub,
			progress.WithChannelPrefix(cfg.Progress.Redis.ChannelPrefix),
			progress.WithRelayLogger(logger.Named("progress")),
		)
		relay.Start(ctx)
		defer relay.Stop()
		publisher = relay
		checker.Register("redis", server.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
		logger.Info("progress relay enabled", zap.String("redis", cfg.Progress.Redis.Addr()))
	}

	var emitter events.Emitter = events.Nop{}
	if cfg.Events.Enabled() {
		emitter = events.NewKafkaEmitter(cfg.Events.Brokers, cfg.Events.Topic, logger.Named("events"))
		logger.Info("lifecycle events enabled", zap.Strings("brokers", cfg.Events.Brokers), zap.String("topic", cfg.Events.Topic))
	}
	defer func() {
		if err := emitter.Close(); err != nil {
			logger.Warn("failed to close event emitter", zap.Error(err))
		}
	}()

	service := ingestion.NewService(
		repository.NewBatchRepository(conn.Pool),
		repository.NewFindingRepository(conn.Pool),
		repository.NewEntityStore(conn),
		repository.NewMasterDataRepository(conn.Pool),
		schema.DefaultRegistry(),
		ingestion.WithStorageDirectory(cfg.Upload.StorageDir),
		ingestion.WithLimits(cfg.Upload.MaxFileSize, cfg.Upload.MaxRows),
		ingestion.WithWorkers(cfg.Pipeline.ValidationWorkers, cfg.Pipeline.CreationWorkers),
		ingestion.WithPipelineTimeout(cfg.Pipeline.Timeout),
		ingestion.WithProgress(publisher),
		ingestion.WithEmitter(emitter),
		ingestion.WithLogger(logger.Named("ingestion")),
	)

	sweeper, err := ingestion.NewSweeper(service, cfg.Sweeper.Schedule, cfg.Sweeper.StaleAfter)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	handler := ingestion.NewHTTPHandler(service, hub)
	srv := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: server.NewRouter(server.Options{
			API:            handler,
			Health:         checker,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Logger:         logger.Named("http"),
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting ingestion server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down server")
	return shutdown(srv, service, cfg.Server, logger)
}

// shutdown stops accepting requests, then gives in-flight batches the rest of
// the grace period before cancelling them.
func shutdown(srv *http.Server, service *ingestion.Service, cfg config.ServerConfig, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http server forced to shutdown", zap.Error(err))
	}
	if err := service.Shutdown(ctx); err != nil {
		logger.Warn("in-flight batches cancelled", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}
