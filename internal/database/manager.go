// Package database provides unified database management for the GOMD device
// worker. It coordinates operations across PostgreSQL, Redis, and InfluxDB.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/bardlex/gomd/internal/database/influx"
	"github.com/bardlex/gomd/internal/database/postgres"
	"github.com/bardlex/gomd/internal/database/redis"
	"github.com/bardlex/gomd/pkg/circuit"
	"github.com/bardlex/gomd/pkg/errors"
	"github.com/bardlex/gomd/pkg/retry"
)

// Manager coordinates all database operations across PostgreSQL, Redis, and InfluxDB
type Manager struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	Influx   *influx.Client

	// Repositories
	Solutions *postgres.SolutionRepository

	// Error handling
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// Config holds configuration for all database systems
type Config struct {
	Postgres *postgres.Config
	Redis    *redis.Config
	Influx   *influx.Config
}

// NewManager creates a new database manager with all connections
func NewManager(cfg *Config) (*Manager, error) {
	// Initialize PostgreSQL
	pgClient, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_connection",
			"failed to connect to PostgreSQL database")
	}

	// Initialize Redis
	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		if closeErr := pgClient.Close(); closeErr != nil {
			origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
				"failed to connect to Redis database")
			closeErr = errors.Wrap(closeErr, errors.ErrorTypeDatabase, "postgres_cleanup",
				"failed to close PostgreSQL connection during error cleanup")
			return nil, errors.New(errors.ErrorTypeDatabase, "connection_failure",
				"multiple database connection failures").
				WithContext("redis_error", origErr.Error()).
				WithContext("postgres_cleanup_error", closeErr.Error())
		}
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
			"failed to connect to Redis database")
	}

	// Initialize InfluxDB
	influxClient, err := influx.NewClient(cfg.Influx)
	if err != nil {
		var closeErrs []error
		if closeErr := pgClient.Close(); closeErr != nil {
			closeErrs = append(closeErrs, closeErr)
		}
		if closeErr := redisClient.Close(); closeErr != nil {
			closeErrs = append(closeErrs, closeErr)
		}

		origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "influx_connection",
			"failed to connect to InfluxDB database")

		if len(closeErrs) > 0 {
			return nil, origErr.WithContext("cleanup_errors", fmt.Sprintf("%v", closeErrs))
		}
		return nil, origErr
	}

	solutions := postgres.NewSolutionRepository(pgClient.DB())
	schemaCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := solutions.EnsureSchema(schemaCtx); err != nil {
		_ = pgClient.Close()
		_ = redisClient.Close()
		influxClient.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "schema_setup",
			"failed to prepare solutions schema")
	}

	cbConfig := &circuit.Config{
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
	}

	return &Manager{
		Postgres:       pgClient,
		Redis:          redisClient,
		Influx:         influxClient,
		Solutions:      solutions,
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.DatabaseConfig(),
	}, nil
}

// Close closes all database connections
func (m *Manager) Close() error {
	var errs []error

	if err := m.Postgres.Close(); err != nil {
		errs = append(errs, fmt.Errorf("PostgreSQL close error: %w", err))
	}

	if err := m.Redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("redis close error: %w", err))
	}

	m.Influx.Close()

	if len(errs) > 0 {
		return fmt.Errorf("database close errors: %v", errs)
	}

	return nil
}

// Health checks the health of all database connections
func (m *Manager) Health(ctx context.Context) error {
	if err := m.Postgres.Health(ctx); err != nil {
		return fmt.Errorf("PostgreSQL health check failed: %w", err)
	}

	if err := m.Redis.Health(ctx); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	if err := m.Influx.Health(ctx); err != nil {
		return fmt.Errorf("InfluxDB health check failed: %w", err)
	}

	return nil
}

// RecordSolution stores an audited solution: PostgreSQL is the critical
// path, metrics are best effort.
func (m *Manager) RecordSolution(ctx context.Context, sol *postgres.Solution) error {
	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			if err := m.Solutions.CreateSolution(ctx, sol); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "record_solution",
					"failed to store solution in PostgreSQL").
					WithContext("job_id", sol.JobID).
					WithContext("worker", sol.WorkerName).
					WithContext("nonce", sol.Nonce)
			}

			m.Influx.WriteSolutionMetric(sol.WorkerName, sol.JobID, sol.Valid)
			return nil
		})
	})
}

// RecordRateChange refreshes the worker's cached status and writes the
// hashrate sample. Both stores are best effort here.
func (m *Manager) RecordRateChange(ctx context.Context, workerName string, hashesPerSec, jobIntervalSec float64) {
	m.Influx.WriteHashrateMetric(workerName, hashesPerSec/1e6)
	if jobIntervalSec > 0 {
		m.Influx.WriteDispatchMetric(workerName, jobIntervalSec)
	}

	status := &redis.WorkerStatus{
		WorkerName:     workerName,
		HashesPerSec:   hashesPerSec,
		JobIntervalSec: jobIntervalSec,
		UpdatedAt:      time.Now(),
	}
	if err := m.Redis.SetWorkerStatus(ctx, status, 10*time.Minute); err != nil {
		redisErr := errors.Wrap(err, errors.ErrorTypeDatabase, "redis_status_update",
			"failed to update worker status in Redis (non-critical)")
		redisErr.Retryable = false
		fmt.Printf("Warning: %v\n", redisErr)
	}
}

// StartPeriodicTasks starts background tasks for database maintenance
func (m *Manager) StartPeriodicTasks(ctx context.Context) {
	// Flush InfluxDB writes every 10 seconds
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Influx.Flush()
			}
		}
	}()
}
