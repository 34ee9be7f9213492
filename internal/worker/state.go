// Package worker implements the device dispatch core: a dispatcher running
// validate-calibrate-dispatch cycles and a listener decoding device
// responses, coordinated through shared state under one lock.
package worker

import (
	"sync"
	"time"

	"github.com/bardlex/gomd/internal/job"
)

// cycleState is the coordination state shared by the dispatcher and listener
// for the duration of one dispatch cycle. Every field is guarded by mu; the
// condition variable wakes the dispatcher from its bounded waits.
type cycleState struct {
	mu   sync.Mutex
	cond *sync.Cond

	// job is the unit currently being worked by the device; nextJob is the
	// unit sent but not yet acknowledged. The ack moves nextJob into job.
	job     *job.Job
	nextJob *job.Job

	// err is the cycle's fault box. First fault wins; the cycle tears down
	// as soon as the dispatcher observes it.
	err error

	// checkSuccess is set when the device solves the validation job with
	// the expected nonce.
	checkSuccess bool

	// mhps is the measured device throughput in MH/s, updated from solution
	// timing and zeroed at teardown.
	mhps float64

	// jobInterval is the calibrated re-dispatch period for this cycle.
	jobInterval time.Duration
}

func newCycleState() *cycleState {
	st := &cycleState{}
	st.cond = sync.NewCond(&st.mu)
	return st
}

// wakeLocked wakes the dispatcher out of a bounded wait. Caller holds mu.
func (st *cycleState) wakeLocked() {
	st.cond.Broadcast()
}

// waitLocked blocks until woken or until d elapses. Caller holds mu; the
// lock is released while waiting. Wakeups can be spurious, so callers
// re-check their condition afterwards.
func (st *cycleState) waitLocked(d time.Duration) {
	t := time.AfterFunc(d, st.cond.Broadcast)
	defer t.Stop()
	st.cond.Wait()
}

// fault records err in the fault box if it is empty and wakes the
// dispatcher. Used by the listener; safe from any goroutine.
func (st *cycleState) fault(err error) {
	st.mu.Lock()
	if st.err == nil {
		st.err = err
	}
	st.wakeLocked()
	st.mu.Unlock()
}

// faulted reports whether the fault box is set.
func (st *cycleState) faulted() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err != nil
}

// finishCurrentLocked finalizes accounting for the current job, credits it
// with elapsed work at the measured rate, and destroys it. Caller holds mu.
func (st *cycleState) finishCurrentLocked(now time.Time) {
	j := st.job
	if j == nil {
		return
	}
	st.job = nil
	if !j.StartTime.IsZero() {
		elapsed := now.Sub(j.StartTime).Seconds()
		if elapsed > 0 && st.mhps > 0 {
			j.RecordHashesProcessed(elapsed * st.mhps * 1e6)
		}
		j.StartTime = time.Time{}
	}
	j.Destroy()
}
