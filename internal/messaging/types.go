package messaging

import "time"

// DeviceJobMessage represents a work unit distributed to device workers.
// The header is a full 80-byte block header template; the worker computes
// the midstate itself before dispatching to hardware.
type DeviceJobMessage struct {
	JobID       string    `json:"job_id"`
	Header      string    `json:"header"` // 80 bytes, hex
	NBits       string    `json:"nbits"`  // compact difficulty target, hex
	BlockHeight int64     `json:"block_height"`
	CleanJobs   bool      `json:"clean_jobs"` // previous work is stale
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// SolutionMessage represents a candidate nonce reported by a device.
type SolutionMessage struct {
	JobID      string    `json:"job_id"`
	WorkerName string    `json:"worker_name"`
	Nonce      uint32    `json:"nonce"`
	Header     string    `json:"header"` // hex, nonce applied
	Valid      bool      `json:"valid"`  // passed the local difficulty-1 audit
	FoundAt    time.Time `json:"found_at"`
}

// RateChangeMessage reports a measured device rate so the job manager can
// size its work buffer.
type RateChangeMessage struct {
	WorkerName     string    `json:"worker_name"`
	HashesPerSec   float64   `json:"hashes_per_sec"`
	JobIntervalSec float64   `json:"job_interval_sec"`
	MeasuredAt     time.Time `json:"measured_at"`
}
