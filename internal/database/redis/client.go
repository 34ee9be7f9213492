// Package redis provides Redis caching for the GOMD device worker: live
// worker status and a short-lived duplicate-solution guard.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for the device worker
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration
type Config struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
}

// NewClient creates a new Redis client
func NewClient(cfg *Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Worker status

// WorkerStatus is the live view of one device worker, refreshed on every
// rate change and fault.
type WorkerStatus struct {
	WorkerName     string    `json:"worker_name"`
	HashesPerSec   float64   `json:"hashes_per_sec"`
	JobIntervalSec float64   `json:"job_interval_sec"`
	Faults         int64     `json:"faults"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SetWorkerStatus stores the worker's live status with expiration
func (c *Client) SetWorkerStatus(ctx context.Context, status *WorkerStatus, expiration time.Duration) error {
	jsonData, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal worker status: %w", err)
	}

	key := fmt.Sprintf("worker:%s:status", status.WorkerName)
	if err := c.rdb.Set(ctx, key, jsonData, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set worker status: %w", err)
	}

	return nil
}

// GetWorkerStatus retrieves a worker's live status
func (c *Client) GetWorkerStatus(ctx context.Context, workerName string) (*WorkerStatus, error) {
	key := fmt.Sprintf("worker:%s:status", workerName)
	jsonData, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("worker status not found")
		}
		return nil, fmt.Errorf("failed to get worker status: %w", err)
	}

	var status WorkerStatus
	if err := json.Unmarshal([]byte(jsonData), &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal worker status: %w", err)
	}

	return &status, nil
}

// IncrementFaultCount bumps the worker's fault counter and returns the new value
func (c *Client) IncrementFaultCount(ctx context.Context, workerName string) (int64, error) {
	key := fmt.Sprintf("worker:%s:faults", workerName)
	count, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment fault count: %w", err)
	}
	return count, nil
}

// Duplicate solution guard

// MarkSolutionSeen records a (job, nonce) pair and reports whether it was
// new. Devices occasionally replay a solution after a job swap; the guard
// keeps duplicates out of the submission path.
func (c *Client) MarkSolutionSeen(ctx context.Context, jobID string, nonce uint32, expiration time.Duration) (bool, error) {
	key := fmt.Sprintf("solution:%s:%d", jobID, nonce)
	isNew, err := c.rdb.SetNX(ctx, key, 1, expiration).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark solution: %w", err)
	}
	return isNew, nil
}
