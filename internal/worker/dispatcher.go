package worker

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/bardlex/gomd/internal/device"
	"github.com/bardlex/gomd/internal/job"
	"github.com/bardlex/gomd/pkg/errors"
	"github.com/bardlex/gomd/pkg/log"
)

// Source supplies work to the dispatcher and accepts rate feedback.
type Source interface {
	// FetchJob blocks until a job is available whose remaining validity
	// covers at least minValidity. It honors ctx cancellation.
	FetchJob(ctx context.Context, minValidity time.Duration) (*job.Job, error)

	// RateChanged reports the measured device rate in hashes per second and
	// the calibrated re-dispatch interval in seconds. Must not block.
	RateChanged(worker string, hashesPerSec, intervalSec float64)
}

// Dispatch cycle timing. All waits are bounded; a missed bound is a fault
// that restarts the cycle.
const (
	ackTimeout          = time.Second
	validationTimeout   = 60 * time.Second
	fetchValidityMargin = 2 * time.Second
	listenerJoinTimeout = 5 * time.Second

	failureResetWindow = 5 * time.Minute
	maxQuickFailures   = 5
	quickRetryDelay    = time.Second
	slowRetryDelay     = 30 * time.Second
)

// Interval calibration. The re-dispatch period is derived from how long the
// device takes to exhaust the nonce space at its measured rate, backed off
// for safety and clamped to the configured interval.
const (
	intervalCeiling = 60.0 // seconds
	intervalSafety  = 0.8
	intervalMargin  = 1.0 // seconds
	intervalFloor   = 0.5 // seconds

	// transportBits is the assumed serial framing cost of a solution
	// message, used to correct throughput timing.
	transportBits = 40.0
)

// Config holds per-worker settings.
type Config struct {
	// Name identifies the worker to the work source and in telemetry.
	Name string

	// BaudRate of the device link; only used for the timing correction
	// applied to throughput measurements.
	BaudRate int

	// JobInterval is the configured upper bound on the re-dispatch period.
	JobInterval time.Duration

	// OnFault, if set, is invoked after every cycle fault with the error
	// and the consecutive failure count. Must not block.
	OnFault func(err error, consecutive int)
}

// Worker drives one mining device through repeated dispatch cycles:
// validate, calibrate, then fetch and dispatch jobs until a fault tears the
// cycle down and a fresh one starts after a backoff.
type Worker struct {
	name           string
	jobInterval    time.Duration
	transportDelay float64 // seconds
	onFault        func(err error, consecutive int)

	logger *log.Logger
	source Source
	opener device.Opener

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	mu     sync.Mutex
	active *cycleState
}

// New creates a worker. Start must be called to begin dispatching.
func New(cfg Config, logger *log.Logger, source Source, opener device.Opener) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	delay := 0.0
	if cfg.BaudRate > 0 {
		delay = transportBits / float64(cfg.BaudRate)
	}
	return &Worker{
		name:           cfg.Name,
		jobInterval:    cfg.JobInterval,
		transportDelay: delay,
		onFault:        cfg.OnFault,
		logger:         logger.WithComponent("worker").WithWorker(cfg.Name),
		source:         source,
		opener:         opener,
		ctx:            ctx,
		cancel:         cancel,
		stopped:        make(chan struct{}),
	}
}

// Start launches the dispatch loop in its own goroutine.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		go w.run()
	})
}

// Stop shuts the worker down and waits for the dispatch loop to exit, bound
// by ctx. Safe to call from any goroutine, any number of times.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() {
		w.logger.Info("stopping worker")
		w.cancel()
		w.mu.Lock()
		if st := w.active; st != nil {
			st.mu.Lock()
			st.wakeLocked()
			st.mu.Unlock()
		}
		w.mu.Unlock()
	})

	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "worker_stop",
			"worker did not stop in time")
	}
}

// NotifyCanceled wakes the dispatcher early if the given job occupies one of
// the cycle's dispatch slots. Harmless for jobs this worker never saw or has
// already finished; callers may invoke it repeatedly.
func (w *Worker) NotifyCanceled(j *job.Job) {
	w.mu.Lock()
	st := w.active
	w.mu.Unlock()
	if st == nil {
		return
	}

	st.mu.Lock()
	if st.job == j || st.nextJob == j {
		st.wakeLocked()
	}
	st.mu.Unlock()
}

// run is the restart supervisor: it runs cycles back to back, resetting the
// failure count whenever a cycle survived long enough, and slowing the
// restart cadence when the device keeps failing immediately.
func (w *Worker) run() {
	defer close(w.stopped)

	failures := 0
	for w.ctx.Err() == nil {
		started := time.Now()
		err := w.runCycle()
		if w.ctx.Err() != nil {
			return
		}

		var delay time.Duration
		failures, delay = nextBackoff(failures, time.Since(started))
		if err != nil {
			w.logger.LogFault(w.name, err, failures)
			if w.onFault != nil {
				w.onFault(err, failures)
			}
		}

		select {
		case <-w.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// nextBackoff folds one finished cycle into the consecutive-failure count and
// returns the updated count plus the delay before the next restart. A cycle
// that survived the reset window clears the count first; more than
// maxQuickFailures in a row slows the restart cadence.
func nextBackoff(failures int, cycleDuration time.Duration) (int, time.Duration) {
	if cycleDuration >= failureResetWindow {
		failures = 0
	}
	failures++
	if failures > maxQuickFailures {
		return failures, slowRetryDelay
	}
	return failures, quickRetryDelay
}

// errCycleOver marks the fault box at clean teardown so the listener exits
// quietly instead of reporting the deliberate channel close as a fault.
var errCycleOver = errors.New(errors.ErrorTypeInternal, "teardown", "cycle complete")

// runCycle opens the device, runs one validate-calibrate-dispatch cycle and
// tears everything down again. The returned error is the cycle's fault, nil
// on clean shutdown.
func (w *Worker) runCycle() (err error) {
	ch, oerr := w.opener.Open()
	if oerr != nil {
		return errors.Wrap(oerr, errors.ErrorTypeTransport, "device_open",
			"failed to open device channel")
	}

	st := newCycleState()
	st.jobInterval = w.jobInterval

	w.mu.Lock()
	w.active = st
	w.mu.Unlock()

	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		w.listen(st, ch)
	}()

	defer func() {
		now := time.Now()
		st.mu.Lock()
		if st.err == nil {
			if err != nil {
				st.err = err
			} else {
				st.err = errCycleOver
			}
		} else if err == nil && st.err != errCycleOver {
			err = st.err
		}
		st.finishCurrentLocked(now)
		if nj := st.nextJob; nj != nil {
			st.nextJob = nil
			nj.Destroy()
		}
		st.mhps = 0
		st.wakeLocked()
		st.mu.Unlock()

		// Closing the channel unblocks the listener; close errors at
		// teardown are noise.
		if cerr := ch.Close(); cerr != nil {
			w.logger.Debug("device close failed", "error", cerr.Error())
		}
		select {
		case <-listenerDone:
		case <-time.After(listenerJoinTimeout):
			w.logger.Warn("listener did not exit in time")
		}

		w.mu.Lock()
		w.active = nil
		w.mu.Unlock()
	}()

	return w.dispatch(st, ch)
}

// dispatch runs the cycle body under the coordination lock, releasing it
// only inside bounded waits and around the blocking job fetch.
func (w *Worker) dispatch(st *cycleState, ch device.Channel) error {
	w.logger.Info("starting dispatch cycle")

	st.mu.Lock()
	defer st.mu.Unlock()

	// Validation first: the device must solve known work before its
	// measured rate is trusted.
	if err := w.sendLocked(st, ch, job.NewValidation()); err != nil {
		return err
	}
	if err := w.awaitAckLocked(st); err != nil {
		return err
	}
	if w.ctx.Err() != nil {
		return nil
	}

	deadline := time.Now().Add(validationTimeout)
	for !st.checkSuccess && st.err == nil && w.ctx.Err() == nil {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errors.New(errors.ErrorTypeTimeout, "validation",
				"validation work not solved in time")
		}
		st.waitLocked(remaining)
	}
	if st.err != nil {
		return st.err
	}
	if w.ctx.Err() != nil {
		return nil
	}

	st.jobInterval = calibrateInterval(st.mhps, w.jobInterval)
	w.logger.Info("device calibrated",
		"mhps", st.mhps,
		"job_interval_sec", st.jobInterval.Seconds(),
	)
	w.source.RateChanged(w.name, st.mhps*1e6, st.jobInterval.Seconds())

	for {
		if w.ctx.Err() != nil {
			return nil
		}
		if st.err != nil {
			return st.err
		}

		st.mu.Unlock()
		j, ferr := w.source.FetchJob(w.ctx, st.jobInterval+fetchValidityMargin)
		st.mu.Lock()
		if ferr != nil {
			if w.ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(ferr, errors.ErrorTypeTransport, "fetch_job",
				"work source fetch failed")
		}
		if st.err != nil {
			j.Destroy()
			return st.err
		}
		// A job canceled while we fetched it is discarded, not dispatched.
		if j.Canceled() {
			j.Destroy()
			continue
		}

		if err := w.sendLocked(st, ch, j); err != nil {
			return err
		}
		if err := w.awaitAckLocked(st); err != nil {
			return err
		}
		if w.ctx.Err() != nil {
			return nil
		}
		// Canceled while in flight: replace it immediately instead of
		// letting the device grind on stale work.
		if st.job != nil && st.job.Canceled() {
			continue
		}

		st.waitLocked(st.jobInterval)
		if st.err != nil {
			return st.err
		}
	}
}

// awaitAckLocked waits up to ackTimeout for the pending job to be
// acknowledged, tolerating unrelated wakeups. Caller holds st.mu.
func (w *Worker) awaitAckLocked(st *cycleState) error {
	deadline := time.Now().Add(ackTimeout)
	for st.nextJob != nil && st.err == nil && w.ctx.Err() == nil {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errors.New(errors.ErrorTypeTimeout, "await_ack",
				"device did not acknowledge job")
		}
		st.waitLocked(remaining)
	}
	if st.err != nil {
		return st.err
	}
	return nil
}

// sendLocked stages a job in the pending slot and writes its dispatch frame.
// Caller holds st.mu.
func (w *Worker) sendLocked(st *cycleState, ch device.Channel, j *job.Job) error {
	msg, err := device.EncodeJobMessage(j.Midstate, j.Header)
	if err != nil {
		j.Destroy()
		return err
	}

	st.nextJob = j
	w.logger.LogJobDispatch(j.ID, st.jobInterval.Seconds())
	w.logger.LogDeviceMessage("send", device.MsgJob, len(msg))

	if _, werr := ch.Write(msg); werr != nil {
		return errors.Wrap(werr, errors.ErrorTypeTransport, "send_job",
			"device write failed")
	}
	return nil
}

// calibrateInterval derives the re-dispatch period from the measured rate:
// the time to exhaust the 2^32 nonce space, capped, backed off by a safety
// factor and margin, floored, then clamped to the configured interval.
func calibrateInterval(mhps float64, configured time.Duration) time.Duration {
	if mhps <= 0 {
		return configured
	}
	exhaust := math.Min(intervalCeiling, float64(1<<32)/1e6/mhps)
	secs := math.Max(intervalFloor, exhaust*intervalSafety-intervalMargin)
	d := time.Duration(secs * float64(time.Second))
	if d > configured {
		d = configured
	}
	return d
}
