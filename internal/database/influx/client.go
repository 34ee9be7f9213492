// Package influx provides InfluxDB time-series operations for the GOMD
// device worker: hashrate samples, dispatch cadence and fault counts.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string
	org      string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	return &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

// Close closes the InfluxDB connection
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Flush forces buffered points out
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("health check failed: %s", msg)
	}

	return nil
}

// Device worker metrics

// WriteHashrateMetric writes a measured device hashrate sample
func (c *Client) WriteHashrateMetric(worker string, mhps float64) {
	tags := map[string]string{
		"worker": worker,
	}

	fields := map[string]interface{}{
		"mhps":           mhps,
		"hashes_per_sec": mhps * 1e6,
	}

	point := write.NewPoint("device_hashrate", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteSolutionMetric writes a candidate nonce report
func (c *Client) WriteSolutionMetric(worker, jobID string, valid bool) {
	tags := map[string]string{
		"worker": worker,
		"valid":  fmt.Sprintf("%t", valid),
	}

	fields := map[string]interface{}{
		"job_id": jobID,
		"count":  1,
	}

	point := write.NewPoint("device_solutions", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteDispatchMetric writes a job dispatch with its calibrated interval
func (c *Client) WriteDispatchMetric(worker string, intervalSec float64) {
	tags := map[string]string{
		"worker": worker,
	}

	fields := map[string]interface{}{
		"job_interval_sec": intervalSec,
		"count":            1,
	}

	point := write.NewPoint("device_dispatches", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteFaultMetric writes a dispatch-cycle fault occurrence
func (c *Client) WriteFaultMetric(worker, errorType string) {
	tags := map[string]string{
		"worker":     worker,
		"error_type": errorType,
	}

	fields := map[string]interface{}{
		"count": 1,
	}

	point := write.NewPoint("device_faults", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteWorkProcessedMetric accumulates hashes attributed to finished jobs
func (c *Client) WriteWorkProcessedMetric(worker string, hashes float64) {
	tags := map[string]string{
		"worker": worker,
	}

	fields := map[string]interface{}{
		"hashes": hashes,
	}

	point := write.NewPoint("device_work", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
