// Package job defines the unit of dispatchable proof-of-work handed to a
// mining device, along with the validation job used to sanity-check the
// device before its measured hashrate is trusted.
package job

import (
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"
)

// Handler receives job lifecycle events. Implemented by the work source so
// that found nonces and accounting flow back to it.
type Handler interface {
	// NonceFound is invoked for every candidate solution the device reports.
	// It is latency-sensitive: implementations must not block.
	NonceFound(j *Job, nonce uint32)

	// HashesProcessed records work performed on the job for statistics.
	// Called at most once per job, when its accounting is finalized.
	HashesProcessed(j *Job, hashes float64)

	// Destroyed is invoked exactly once when the job is finalized. The work
	// source uses it to drop the job from its pending-cancellation registry.
	Destroyed(j *Job)
}

// Job is one unit of dispatchable proof-of-work: an 80-byte block header
// template with a precomputed midstate and a difficulty target. The header,
// midstate and target are opaque to the dispatch core except for the byte
// layout sent on the wire to the device.
type Job struct {
	ID       string
	Header   []byte // 80-byte block header template
	Midstate []byte // 32-byte SHA-256 midstate of the first header block
	Target   []byte // difficulty threshold, opaque here

	// StartTime is stamped by the listener when the device acknowledges the
	// job and cleared when accounting is finalized. Guarded by the dispatch
	// cycle's coordination lock, not by the job itself.
	StartTime time.Time

	// ExpiresAt bounds how long the job remains worth dispatching.
	ExpiresAt time.Time

	canceled  atomic.Bool
	destroyed atomic.Bool
	handler   Handler

	// Validation jobs carry a pre-known correct nonce.
	isValidation  bool
	expectedNonce uint32
}

// New creates a job owned by the given handler. A nil handler is allowed;
// lifecycle notifications are then dropped.
func New(id string, header, midstate, target []byte, handler Handler) *Job {
	return &Job{
		ID:       id,
		Header:   header,
		Midstate: midstate,
		Target:   target,
		handler:  handler,
	}
}

// MarkCanceled flags the job as stale. Called asynchronously by the work
// source when a new block invalidates it. Idempotent; never blocks.
func (j *Job) MarkCanceled() {
	j.canceled.Store(true)
}

// Canceled reports whether the job has been invalidated. Polled, never blocks.
func (j *Job) Canceled() bool {
	return j.canceled.Load()
}

// IsValidation reports whether this is a validation job with a known nonce.
func (j *Job) IsValidation() bool {
	return j.isValidation
}

// ExpectedNonce returns the known-correct nonce of a validation job.
func (j *Job) ExpectedNonce() uint32 {
	return j.expectedNonce
}

// NotifyNonceFound forwards a candidate solution to the work source. Must be
// called before throughput bookkeeping since it is latency-sensitive.
func (j *Job) NotifyNonceFound(nonce uint32) {
	if j.handler != nil {
		j.handler.NonceFound(j, nonce)
	}
}

// RecordHashesProcessed accumulates work performed on this job for
// statistics. Tolerates being called zero or one times per job.
func (j *Job) RecordHashesProcessed(hashes float64) {
	if j.handler != nil && hashes > 0 {
		j.handler.HashesProcessed(j, hashes)
	}
}

// Destroy finalizes the job: accounting is complete and the job is removed
// from any pending-cancellation registry. Callers nil their reference after
// use; a second call is a no-op rather than a double notification.
func (j *Job) Destroy() {
	if !j.destroyed.CompareAndSwap(false, true) {
		return
	}
	if j.handler != nil {
		j.handler.Destroyed(j)
	}
}

// Validation job constants. The 80-byte header embeds its own known-correct
// nonce at bytes 76..80; the midstate matches the first 64 header bytes after
// the 32-bit word swap applied before hashing.
const (
	validationHeaderHex = "00000001c3bf95208a646ee98a58cf97c3a0c4b7bf5de4c89ca044950000052000000000" +
		"24d1fff8d5d73ae11140e4e48032cd88ee01d48c67147f9a09cd41fdec2e25824f5c038d1a0b350c5eb01f04"
	validationMidstateHex = "df321701de16dd67cd596f9a6edd55d3235e32447a0ea72adb2439f25f50aa41"

	// ValidationNonce is the nonce the device must report for the validation
	// header before its throughput measurement is trusted.
	ValidationNonce uint32 = 0x5eb01f04
)

var validationOnce sync.Once
var validationHeader, validationMidstate []byte

func validationData() ([]byte, []byte) {
	validationOnce.Do(func() {
		var err error
		validationHeader, err = hex.DecodeString(validationHeaderHex)
		if err != nil {
			panic("job: bad validation header constant: " + err.Error())
		}
		validationMidstate, err = hex.DecodeString(validationMidstateHex)
		if err != nil {
			panic("job: bad validation midstate constant: " + err.Error())
		}
	})
	return validationHeader, validationMidstate
}

// NewValidation creates the validation job used at cycle start to cross-check
// device correctness. Its results are not forwarded to the work source.
func NewValidation() *Job {
	header, midstate := validationData()
	j := New("validation", append([]byte(nil), header...), append([]byte(nil), midstate...), nil, nil)
	j.isValidation = true
	j.expectedNonce = ValidationNonce
	return j
}
