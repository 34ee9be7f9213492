package main

import (
	"context"
	"testing"
	"time"

	"github.com/bardlex/gomd/internal/config"
	"github.com/bardlex/gomd/internal/messaging"
	"github.com/bardlex/gomd/pkg/log"
)

func testConfig() *config.Config {
	return &config.Config{
		ServiceName:     "test-devworkerd",
		Version:         "test",
		LogLevel:        "error", // Reduce log noise in tests
		LogFormat:       "json",
		WorkerName:      "test-worker",
		DevicePort:      "sim0",
		DeviceBaudRate:  115200,
		DeviceHashRate:  500e6,
		JobInterval:     time.Minute,
		KafkaBrokers:    []string{"localhost:9092"},
		KafkaGroupID:    "test",
		BitcoinZMQAddr:  "tcp://localhost:28332",
		ShutdownTimeout: 5 * time.Second,
	}
}

func TestNewWorkerService(t *testing.T) {
	cfg := testConfig()
	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger.Logger)

	service, err := NewWorkerService(cfg, logger, kafkaClient, nil)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}
	defer func() {
		if err := service.watcher.Close(); err != nil {
			t.Errorf("watcher close: %v", err)
		}
	}()

	if service.source == nil {
		t.Error("NewWorkerService() did not create the work source")
	}
	if service.worker == nil {
		t.Error("NewWorkerService() did not create the device worker")
	}
	if service.watcher == nil {
		t.Error("NewWorkerService() did not create the block watcher")
	}
	if service.kafkaClient != kafkaClient {
		t.Error("NewWorkerService() did not set kafkaClient correctly")
	}
}

func TestWorkerService_StartShutdown(t *testing.T) {
	if testing.Short() {
		t.Skip("starts real components")
	}

	cfg := testConfig()
	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger.Logger)

	service, err := NewWorkerService(cfg, logger, kafkaClient, nil)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	service.Start(ctx)

	// Let the simulated device come up and pass validation.
	time.Sleep(500 * time.Millisecond)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := service.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
