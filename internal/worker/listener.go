package worker

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/bardlex/gomd/internal/device"
	"github.com/bardlex/gomd/pkg/errors"
)

// minTimingNonce is the smallest nonce considered for throughput
// measurement. Below it the elapsed time is too short for a stable rate.
const minTimingNonce = 0x02000000

// listen is the per-cycle response decoder. It reads tagged messages from
// the device until the cycle faults or the channel is closed, applying state
// transitions under the coordination lock.
func (w *Worker) listen(st *cycleState, ch device.Channel) {
	buf := make([]byte, 1)
	for {
		if st.faulted() {
			return
		}

		if _, err := io.ReadFull(ch, buf); err != nil {
			// Teardown closes the channel out from under us; only a read
			// failure on a live cycle is a fault.
			if !st.faulted() {
				st.fault(errors.Wrap(err, errors.ErrorTypeTransport, "listener_read",
					"device read failed"))
			}
			return
		}

		tag := buf[0]
		w.logger.LogDeviceMessage("recv", tag, 1)

		switch tag {
		case device.RespAck:
			if !w.handleAck(st) {
				return
			}
		case device.RespSolution:
			if !w.handleSolution(st, ch) {
				return
			}
		case device.RespExhausted:
			if !w.handleExhausted(st) {
				return
			}
		default:
			st.fault(errors.New(errors.ErrorTypeProtocol, "listener",
				"unknown response tag from device").WithContext("tag", tag))
			return
		}
	}
}

// handleAck promotes the pending job to current. An ack with no job pending
// means the device and dispatcher have lost sync.
func (w *Worker) handleAck(st *cycleState) bool {
	now := time.Now()

	st.mu.Lock()
	if st.nextJob == nil {
		st.mu.Unlock()
		st.fault(errors.New(errors.ErrorTypeProtocol, "listener",
			"job acknowledgment without a pending job"))
		return false
	}
	st.finishCurrentLocked(now)
	st.job = st.nextJob
	st.nextJob = nil
	st.job.StartTime = now
	st.wakeLocked()
	st.mu.Unlock()
	return true
}

// handleSolution decodes the nonce payload, forwards it, updates the
// throughput measurement and checks validation results.
func (w *Worker) handleSolution(st *cycleState, ch device.Channel) bool {
	payload := make([]byte, device.NonceSize)
	if _, err := io.ReadFull(ch, payload); err != nil {
		if !st.faulted() {
			st.fault(errors.Wrap(err, errors.ErrorTypeTransport, "listener_read",
				"truncated solution payload"))
		}
		return false
	}
	nonce := binary.LittleEndian.Uint32(payload)
	now := time.Now()

	st.mu.Lock()
	j := st.job
	var started time.Time
	if j != nil {
		started = j.StartTime
	}
	st.mu.Unlock()

	// A solution for an already-finished job is stale, not a fault.
	if j == nil {
		w.logger.Warn("discarding solution for finished job", "nonce", nonce)
		return true
	}

	// Forward before bookkeeping; upstream submission is latency-sensitive.
	j.NotifyNonceFound(nonce)
	w.logger.LogSolution(j.ID, nonce)

	if nonce >= minTimingNonce && !started.IsZero() {
		delta := now.Sub(started).Seconds() - w.transportDelay
		if delta > 0 {
			mhps := float64(nonce) / delta / 1e6
			st.mu.Lock()
			st.mhps = mhps
			st.mu.Unlock()
			w.logger.LogHashrate(w.name, mhps)
		}
	}

	if j.IsValidation() {
		if nonce != j.ExpectedNonce() {
			st.fault(errors.New(errors.ErrorTypeDevice, "validation",
				"device returned wrong nonce for validation work").
				WithContext("nonce", nonce).
				WithContext("expected", j.ExpectedNonce()))
			return false
		}
		st.mu.Lock()
		st.checkSuccess = true
		st.wakeLocked()
		st.mu.Unlock()
	}
	return true
}

// handleExhausted finalizes the current job when the device runs out of
// nonce space. Exhausting the validation job means the device is broken.
func (w *Worker) handleExhausted(st *cycleState) bool {
	now := time.Now()

	st.mu.Lock()
	if st.job != nil && st.job.IsValidation() {
		st.mu.Unlock()
		st.fault(errors.New(errors.ErrorTypeDevice, "validation",
			"device exhausted keyspace on validation work"))
		return false
	}
	w.logger.Warn("device exhausted keyspace", "worker", w.name)
	st.finishCurrentLocked(now)
	st.wakeLocked()
	st.mu.Unlock()
	return true
}
