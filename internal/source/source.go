// Package source implements the work source feeding device workers: a Kafka
// job feed in, solutions and telemetry out, with new-block cancellation.
package source

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bardlex/gomd/internal/database"
	"github.com/bardlex/gomd/internal/database/postgres"
	"github.com/bardlex/gomd/internal/device"
	"github.com/bardlex/gomd/internal/job"
	"github.com/bardlex/gomd/internal/messaging"
	"github.com/bardlex/gomd/pkg/errors"
	"github.com/bardlex/gomd/pkg/log"
)

const (
	// jobBuffer bounds how much work sits fetched-but-undispatched. Old
	// buffered jobs are evicted when fresher work arrives.
	jobBuffer = 4

	// publishTimeout bounds the async publish and persistence calls made
	// off the hot path.
	publishTimeout = 10 * time.Second

	// solutionSeenTTL is how long the duplicate-solution guard remembers a
	// (job, nonce) pair.
	solutionSeenTTL = 10 * time.Minute
)

// Config holds work source settings.
type Config struct {
	WorkerName string
	GroupID    string
}

// Source feeds jobs to workers and routes their results upstream. It
// implements the worker's fetch interface and the job lifecycle handler.
type Source struct {
	cfg    Config
	logger *log.Logger
	kafka  *messaging.KafkaClient
	db     *database.Manager

	registry *job.Registry
	jobs     chan *job.Job

	hookMu      sync.Mutex
	cancelHooks []func(*job.Job)
}

// New creates a work source. The database manager may be nil; persistence
// and metrics are then skipped.
func New(cfg Config, logger *log.Logger, kafkaClient *messaging.KafkaClient, db *database.Manager) *Source {
	return &Source{
		cfg:      cfg,
		logger:   logger.WithComponent("source"),
		kafka:    kafkaClient,
		db:       db,
		registry: job.NewRegistry(),
		jobs:     make(chan *job.Job, jobBuffer),
	}
}

// OnJobCanceled registers a hook invoked for every job invalidated by a
// cancellation sweep. Workers register their wake-up here.
func (s *Source) OnJobCanceled(fn func(*job.Job)) {
	s.hookMu.Lock()
	s.cancelHooks = append(s.cancelHooks, fn)
	s.hookMu.Unlock()
}

// Run consumes the job feed until ctx is canceled.
func (s *Source) Run(ctx context.Context) error {
	s.publishEvent(ctx, "worker_online", nil)
	defer s.publishEvent(context.Background(), "worker_offline", nil)

	reader := s.kafka.GetConsumer(messaging.TopicDeviceJobs, s.cfg.GroupID)
	s.logger.Info("consuming job feed", "topic", messaging.TopicDeviceJobs)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var msg messaging.DeviceJobMessage
		if _, err := s.kafka.ConsumeJSON(ctx, reader, &msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("job feed read failed", "error", err.Error())
			continue
		}

		if err := s.acceptJob(&msg); err != nil {
			s.logger.Error("rejected job message", "job_id", msg.JobID, "error", err.Error())
		}
	}
}

// acceptJob turns a feed message into a dispatchable job and buffers it.
func (s *Source) acceptJob(msg *messaging.DeviceJobMessage) error {
	header, err := hex.DecodeString(msg.Header)
	if err != nil || len(header) != 80 {
		return errors.New(errors.ErrorTypeValidation, "accept_job",
			"job header must be 80 hex-encoded bytes").
			WithContext("job_id", msg.JobID).
			WithContext("header_length", len(header))
	}

	target, err := targetFromBits(msg.NBits)
	if err != nil {
		return err
	}

	if msg.CleanJobs {
		s.CancelAll("new work generation")
	}

	midstate := device.Midstate(header)
	j := job.New(msg.JobID, header, midstate[:], target, s)
	j.ExpiresAt = msg.ExpiresAt

	s.registry.Add(j)
	s.buffer(j)
	s.logger.Debug("job buffered", "job_id", msg.JobID, "height", msg.BlockHeight)
	return nil
}

// buffer enqueues a job, evicting the oldest buffered job if full. Fresher
// work is always worth more than stale work.
func (s *Source) buffer(j *job.Job) {
	for {
		select {
		case s.jobs <- j:
			return
		default:
		}
		select {
		case old := <-s.jobs:
			old.MarkCanceled()
			old.Destroy()
		default:
		}
	}
}

// FetchJob hands out the next live job whose remaining validity covers
// minValidity. Implements the worker's source interface.
func (s *Source) FetchJob(ctx context.Context, minValidity time.Duration) (*job.Job, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case j := <-s.jobs:
			if j.Canceled() {
				j.Destroy()
				continue
			}
			if !j.ExpiresAt.IsZero() && time.Until(j.ExpiresAt) < minValidity {
				j.MarkCanceled()
				j.Destroy()
				s.logger.Debug("dropped short-lived job", "job_id", j.ID)
				continue
			}
			return j, nil
		}
	}
}

// RateChanged reports a device rate measurement upstream. Fire and forget;
// the dispatcher must never block on telemetry.
func (s *Source) RateChanged(worker string, hashesPerSec, intervalSec float64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		msg := messaging.RateChangeMessage{
			WorkerName:     worker,
			HashesPerSec:   hashesPerSec,
			JobIntervalSec: intervalSec,
			MeasuredAt:     time.Now(),
		}
		if s.kafka != nil {
			data, err := json.Marshal(msg)
			if err == nil {
				err = s.kafka.PublishJSON(ctx, messaging.TopicWorkerEvents, worker, data)
			}
			if err != nil {
				s.logger.Error("failed to publish rate change", "error", err.Error())
			}
		}
		if s.db != nil {
			s.db.RecordRateChange(ctx, worker, hashesPerSec, intervalSec)
		}
	}()
}

// ReportFault records a dispatch cycle fault in telemetry. Fire and forget.
func (s *Source) ReportFault(err error, consecutive int) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if s.db != nil {
			s.db.Influx.WriteFaultMetric(s.cfg.WorkerName, string(errors.GetType(err)))
			if _, rerr := s.db.Redis.IncrementFaultCount(ctx, s.cfg.WorkerName); rerr != nil {
				s.logger.Warn("failed to count fault", "error", rerr.Error())
			}
		}
		s.publishEvent(ctx, "worker_fault", map[string]any{
			"error":       err.Error(),
			"consecutive": consecutive,
		})
	}()
}

// CancelAll invalidates every outstanding job and wakes the workers holding
// them. Returns the number of jobs canceled.
func (s *Source) CancelAll(reason string) int {
	s.hookMu.Lock()
	hooks := append([]func(*job.Job)(nil), s.cancelHooks...)
	s.hookMu.Unlock()

	n := s.registry.CancelAll(func(j *job.Job) {
		for _, fn := range hooks {
			fn(j)
		}
	})
	if n > 0 {
		s.logger.Info("canceled outstanding jobs", "count", n, "reason", reason)
	}
	return n
}

// Job lifecycle handler

// NonceFound audits and submits a candidate nonce. The device listener
// calls this on its hot path, so everything heavier than the audit happens
// asynchronously.
func (s *Source) NonceFound(j *job.Job, nonce uint32) {
	valid := device.CheckHeader(j.Header, nonce)
	if !valid {
		s.logger.Warn("device reported nonce failing local audit",
			"job_id", j.ID, "nonce", nonce)
	}

	header := append([]byte(nil), j.Header...)
	binary.BigEndian.PutUint32(header[76:80], nonce)

	go s.submitSolution(&messaging.SolutionMessage{
		JobID:      j.ID,
		WorkerName: s.cfg.WorkerName,
		Nonce:      nonce,
		Header:     hex.EncodeToString(header),
		Valid:      valid,
		FoundAt:    time.Now(),
	})
}

func (s *Source) submitSolution(msg *messaging.SolutionMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if s.db != nil {
		isNew, err := s.db.Redis.MarkSolutionSeen(ctx, msg.JobID, msg.Nonce, solutionSeenTTL)
		if err != nil {
			s.logger.Warn("duplicate guard unavailable", "error", err.Error())
		} else if !isNew {
			s.logger.Debug("suppressing duplicate solution",
				"job_id", msg.JobID, "nonce", msg.Nonce)
			return
		}
	}

	if s.kafka != nil {
		data, err := json.Marshal(msg)
		if err == nil {
			err = s.kafka.PublishJSON(ctx, messaging.TopicSolutions, msg.JobID, data)
		}
		if err != nil {
			s.logger.Error("failed to publish solution",
				"job_id", msg.JobID, "error", err.Error())
		}
	}

	if s.db != nil {
		sol := &postgres.Solution{
			JobID:      msg.JobID,
			WorkerName: msg.WorkerName,
			Nonce:      int64(msg.Nonce),
			Header:     msg.Header,
			Valid:      msg.Valid,
			FoundAt:    msg.FoundAt,
		}
		if err := s.db.RecordSolution(ctx, sol); err != nil {
			s.logger.Error("failed to persist solution",
				"job_id", msg.JobID, "error", err.Error())
		}
	}
}

// HashesProcessed attributes finished work to the worker's statistics.
func (s *Source) HashesProcessed(_ *job.Job, hashes float64) {
	if s.db != nil {
		s.db.Influx.WriteWorkProcessedMetric(s.cfg.WorkerName, hashes)
	}
}

// Destroyed drops a finalized job from the cancellation registry.
func (s *Source) Destroyed(j *job.Job) {
	s.registry.Remove(j)
}

// publishEvent emits a structured worker lifecycle event.
func (s *Source) publishEvent(ctx context.Context, kind string, fields map[string]any) {
	if s.kafka == nil {
		return
	}
	payload := map[string]any{
		"kind":   kind,
		"worker": s.cfg.WorkerName,
		"at":     time.Now().Format(time.RFC3339),
	}
	for k, v := range fields {
		payload[k] = v
	}
	event, err := structpb.NewStruct(payload)
	if err != nil {
		s.logger.Error("failed to build event payload", "kind", kind, "error", err.Error())
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := s.kafka.PublishProto(pubCtx, messaging.TopicWorkerEvents, s.cfg.WorkerName, event); err != nil {
		s.logger.Error("failed to publish event", "kind", kind, "error", err.Error())
	}
}

// targetFromBits expands a compact difficulty encoding into a 32-byte
// big-endian threshold. An empty encoding yields no target.
func targetFromBits(nbits string) ([]byte, error) {
	if nbits == "" {
		return nil, nil
	}
	bits, err := strconv.ParseUint(nbits, 16, 32)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "parse_nbits",
			"invalid compact difficulty encoding").WithContext("nbits", nbits)
	}

	targetInt := blockchain.CompactToBig(uint32(bits))
	raw := targetInt.Bytes()
	if len(raw) > 32 {
		return nil, errors.New(errors.ErrorTypeValidation, "parse_nbits",
			"target exceeds 256 bits").WithContext("nbits", nbits)
	}

	target := make([]byte, 32)
	copy(target[32-len(raw):], raw)
	return target, nil
}
