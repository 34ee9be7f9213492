// Package main implements devworkerd, the GOMD mining device worker.
// It drives one attached hashing device: jobs flow in from Kafka, get
// dispatched to the device on an adaptive interval, and solutions flow back
// out audited.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/bardlex/gomd/internal/config"
	"github.com/bardlex/gomd/internal/database"
	"github.com/bardlex/gomd/internal/database/influx"
	"github.com/bardlex/gomd/internal/database/postgres"
	"github.com/bardlex/gomd/internal/database/redis"
	"github.com/bardlex/gomd/internal/device"
	"github.com/bardlex/gomd/internal/messaging"
	"github.com/bardlex/gomd/internal/source"
	"github.com/bardlex/gomd/internal/worker"
	"github.com/bardlex/gomd/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting devworkerd",
		"version", cfg.Version,
		"worker", cfg.WorkerName,
		"device_port", cfg.DevicePort,
	)

	// Create Kafka client
	kafkaClient := messaging.NewKafkaClient(
		cfg.KafkaBrokers,
		logger.Logger,
	)

	// Create database manager. The worker keeps mining without backends;
	// persistence and metrics are simply skipped.
	dbConfig := &database.Config{
		Postgres: &postgres.Config{
			URL: cfg.PostgresURL,
		},
		Redis: &redis.Config{
			URL:          cfg.RedisURL,
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
		},
		Influx: &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		},
	}

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		logger.WithError(err).Warn("running without database backends")
		dbManager = nil
	}

	// Create the service
	service, err := NewWorkerService(cfg, logger, kafkaClient, dbManager)
	if err != nil {
		logger.WithError(err).Error("failed to create worker service")
		os.Exit(1)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start the service
	service.Start(ctx)

	// Wait for shutdown signal
	<-sigChan
	logger.Info("shutdown signal received")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}

	logger.Info("devworkerd stopped")
}

// WorkerService wires the work source, the device worker and the block
// watcher together for one device.
type WorkerService struct {
	cfg    *config.Config
	logger *log.Logger

	kafkaClient *messaging.KafkaClient
	dbManager   *database.Manager

	source  *source.Source
	worker  *worker.Worker
	watcher *source.BlockWatcher

	wg sync.WaitGroup
}

// NewWorkerService builds the service from its configuration. The database
// manager may be nil.
func NewWorkerService(cfg *config.Config, logger *log.Logger, kafkaClient *messaging.KafkaClient, dbManager *database.Manager) (*WorkerService, error) {
	src := source.New(source.Config{
		WorkerName: cfg.WorkerName,
		GroupID:    cfg.KafkaGroupID,
	}, logger, kafkaClient, dbManager)

	opener := device.NewOpener(cfg.DevicePort, cfg.DeviceHashRate)
	wrk := worker.New(worker.Config{
		Name:        cfg.WorkerName,
		BaudRate:    cfg.DeviceBaudRate,
		JobInterval: cfg.JobInterval,
		OnFault:     src.ReportFault,
	}, logger, src, opener)

	// A dispatched job canceled upstream must wake its worker immediately.
	src.OnJobCanceled(wrk.NotifyCanceled)

	watcher, err := source.NewBlockWatcher(cfg.BitcoinZMQAddr, logger, func(blockHash string) {
		src.CancelAll("new block " + blockHash)
	})
	if err != nil {
		return nil, err
	}

	return &WorkerService{
		cfg:         cfg,
		logger:      logger.WithComponent("service"),
		kafkaClient: kafkaClient,
		dbManager:   dbManager,
		source:      src,
		worker:      wrk,
		watcher:     watcher,
	}, nil
}

// Start launches the job feed consumer, the block watcher and the dispatch
// loop.
func (s *WorkerService) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.source.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.WithError(err).Error("job feed consumer failed")
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.watcher.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.WithError(err).Error("block watcher failed")
		}
	}()

	if s.dbManager != nil {
		s.dbManager.StartPeriodicTasks(ctx)
	}

	s.worker.Start()
}

// Shutdown stops the worker and closes every connection, bound by ctx.
func (s *WorkerService) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down service")

	if err := s.worker.Stop(ctx); err != nil {
		s.logger.WithError(err).Error("worker stop failed")
	}

	if s.kafkaClient != nil {
		if err := s.kafkaClient.Close(); err != nil {
			s.logger.WithError(err).Error("failed to close Kafka client")
		}
	}

	if s.dbManager != nil {
		if err := s.dbManager.Close(); err != nil {
			s.logger.WithError(err).Error("failed to close database manager")
		}
	}

	// Wait for the consumer goroutines to drain
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown timeout exceeded")
		return ctx.Err()
	}

	// The ZMQ socket is single-threaded; close it only once the watcher
	// goroutine has exited.
	if err := s.watcher.Close(); err != nil {
		s.logger.Error("failed to close block watcher", "error", err)
	}

	s.logger.Info("all components stopped")
	return nil
}
