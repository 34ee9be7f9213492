package device

import (
	"encoding/binary"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/bardlex/gomd/pkg/errors"
)

// SimulatorConfig controls the software device.
type SimulatorConfig struct {
	// Hasher checks candidate nonces. Defaults to SHA256d.
	Hasher Hasher

	// HashRate paces the scan in hashes per second. Zero means unpaced.
	HashRate float64

	// SpaceSize is the number of nonce values scanned before the device
	// reports exhaustion. Defaults to the full 2^32 space.
	SpaceSize uint64
}

// Simulator is an in-process mining device speaking the serial wire
// protocol: it acknowledges each job, scans the nonce space with its
// hasher, and reports solutions and keyspace exhaustion.
type Simulator struct {
	hasher Hasher
	rate   float64
	space  uint64

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool

	wbuf []byte

	scanCancel chan struct{}
	wg         sync.WaitGroup
}

// NewSimulator creates a simulated device. A nil config uses the SHA256d
// hasher, an unpaced scan and the full nonce space.
func NewSimulator(cfg *SimulatorConfig) *Simulator {
	if cfg == nil {
		cfg = &SimulatorConfig{}
	}
	s := &Simulator{
		hasher: cfg.Hasher,
		rate:   cfg.HashRate,
		space:  cfg.SpaceSize,
	}
	if s.hasher == nil {
		s.hasher = SHA256d{}
	}
	if s.space == 0 {
		s.space = 1 << 32
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Write accepts outbound frames from the dispatcher. A complete job message
// acknowledges immediately and restarts the scan on the new work.
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, errors.New(errors.ErrorTypeTransport, "simulator_write",
			"write on closed device")
	}
	s.wbuf = append(s.wbuf, p...)
	if len(s.wbuf) < JobMessageSize {
		s.mu.Unlock()
		return len(p), nil
	}
	frame := s.wbuf[:JobMessageSize]
	rest := append([]byte(nil), s.wbuf[JobMessageSize:]...)
	midstate, tail, err := DecodeJobMessage(frame)
	s.wbuf = rest
	s.mu.Unlock()

	if err != nil {
		return len(p), err
	}

	s.stopScan()

	s.mu.Lock()
	cancel := make(chan struct{})
	s.scanCancel = cancel
	s.emitLocked(RespAck)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.scan(midstate, tail, cancel)
	return len(p), nil
}

// Read blocks until response bytes are available or the device is closed.
func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Close shuts the device down, unblocking any pending Read. Idempotent.
func (s *Simulator) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.scanCancel != nil {
		close(s.scanCancel)
		s.scanCancel = nil
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Simulator) stopScan() {
	s.mu.Lock()
	if s.scanCancel != nil {
		close(s.scanCancel)
		s.scanCancel = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// emitLocked queues response bytes for Read. Caller holds mu.
func (s *Simulator) emitLocked(b ...byte) {
	if s.closed {
		return
	}
	s.buf = append(s.buf, b...)
	s.cond.Broadcast()
}

func (s *Simulator) emit(b ...byte) {
	s.mu.Lock()
	s.emitLocked(b...)
	s.mu.Unlock()
}

// scan walks the nonce space from zero, reporting every solution and
// finally exhaustion. Pacing batches keep the cancel check cheap.
func (s *Simulator) scan(midstate [32]byte, tail [12]byte, cancel <-chan struct{}) {
	defer s.wg.Done()

	const batch = 4096
	start := time.Now()

	for n := uint64(0); n < s.space; n++ {
		if n%batch == 0 {
			select {
			case <-cancel:
				return
			default:
			}
			if s.rate > 0 {
				target := time.Duration(float64(n) / s.rate * float64(time.Second))
				if ahead := target - time.Since(start); ahead > 0 {
					select {
					case <-cancel:
						return
					case <-time.After(ahead):
					}
				}
			}
		}

		nonce := uint32(n)
		if s.hasher.Check(midstate, tail, nonce) {
			var msg [1 + NonceSize]byte
			msg[0] = RespSolution
			binary.LittleEndian.PutUint32(msg[1:], nonce)
			s.emit(msg[:]...)
		}
	}

	select {
	case <-cancel:
	default:
		s.emit(RespExhausted)
	}
}

// NewOpener returns an Opener for the configured device port. Ports with a
// "sim" prefix yield a fresh software simulator per cycle; physical serial
// transports are not handled here.
func NewOpener(port string, hashRate float64) Opener {
	if strings.HasPrefix(port, "sim") {
		return OpenerFunc(func() (Channel, error) {
			return NewSimulator(&SimulatorConfig{HashRate: hashRate}), nil
		})
	}
	return OpenerFunc(func() (Channel, error) {
		return nil, errors.New(errors.ErrorTypeTransport, "device_open",
			"unsupported device port").WithContext("port", port)
	})
}
