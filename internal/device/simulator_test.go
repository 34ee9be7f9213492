package device

import (
	"encoding/binary"
	"io"
	"testing"
	"time"
)

// matchHasher accepts a fixed set of nonces.
type matchHasher map[uint32]bool

func (m matchHasher) Check(_ [32]byte, _ [12]byte, nonce uint32) bool {
	return m[nonce]
}

func sendJob(t *testing.T, sim *Simulator) {
	t.Helper()
	msg, err := EncodeJobMessage(make([]byte, 32), make([]byte, 80))
	if err != nil {
		t.Fatalf("EncodeJobMessage: %v", err)
	}
	if _, err := sim.Write(msg); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func readByte(t *testing.T, sim *Simulator) byte {
	t.Helper()
	buf := make([]byte, 1)
	if _, err := io.ReadFull(sim, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	return buf[0]
}

func TestSimulator_AckSolutionExhaustion(t *testing.T) {
	sim := NewSimulator(&SimulatorConfig{
		Hasher:    matchHasher{42: true},
		SpaceSize: 100,
	})
	defer sim.Close()

	sendJob(t, sim)

	if tag := readByte(t, sim); tag != RespAck {
		t.Fatalf("first response = %d, want ack", tag)
	}

	if tag := readByte(t, sim); tag != RespSolution {
		t.Fatalf("second response = %d, want solution", tag)
	}
	payload := make([]byte, NonceSize)
	if _, err := io.ReadFull(sim, payload); err != nil {
		t.Fatalf("reading nonce payload: %v", err)
	}
	if nonce := binary.LittleEndian.Uint32(payload); nonce != 42 {
		t.Errorf("nonce = %d, want 42", nonce)
	}

	if tag := readByte(t, sim); tag != RespExhausted {
		t.Fatalf("third response = %d, want exhaustion", tag)
	}
}

func TestSimulator_NewJobRestartsScan(t *testing.T) {
	sim := NewSimulator(&SimulatorConfig{
		Hasher:    matchHasher{5: true},
		SpaceSize: 10,
	})
	defer sim.Close()

	sendJob(t, sim)
	if tag := readByte(t, sim); tag != RespAck {
		t.Fatalf("response = %d, want ack", tag)
	}

	// Replacing the job yields a second ack and a fresh scan. The first scan
	// may or may not complete before it is replaced, so read until both the
	// replacement ack and an exhaustion arrived and check the shape of it all.
	sendJob(t, sim)

	acks, solutions, exhaustions := 1, 0, 0
	for exhaustions < 1 || acks < 2 {
		switch tag := readByte(t, sim); tag {
		case RespAck:
			acks++
		case RespSolution:
			solutions++
			payload := make([]byte, NonceSize)
			if _, err := io.ReadFull(sim, payload); err != nil {
				t.Fatalf("reading nonce payload: %v", err)
			}
			if nonce := binary.LittleEndian.Uint32(payload); nonce != 5 {
				t.Errorf("nonce = %d, want 5", nonce)
			}
		case RespExhausted:
			exhaustions++
		default:
			t.Fatalf("unexpected response tag %d", tag)
		}
	}

	if acks != 2 {
		t.Errorf("acks = %d, want 2", acks)
	}
	if solutions == 0 {
		t.Error("expected at least one solution report")
	}
}

func TestSimulator_ValidationSolve(t *testing.T) {
	// Real hasher against the validation work, with the scan pinned to a
	// window just below the known nonce so the test stays fast.
	header := testHeader(t)
	midstate := Midstate(header)

	msg, err := EncodeJobMessage(midstate[:], header)
	if err != nil {
		t.Fatalf("EncodeJobMessage: %v", err)
	}

	sim := NewSimulator(&SimulatorConfig{SpaceSize: 50})
	defer sim.Close()

	if _, err := sim.Write(msg); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if tag := readByte(t, sim); tag != RespAck {
		t.Fatalf("response = %d, want ack", tag)
	}
	// None of the first 50 nonces solve the validation header.
	if tag := readByte(t, sim); tag != RespExhausted {
		t.Fatalf("response = %d, want exhaustion", tag)
	}
}

func TestSimulator_CloseUnblocksRead(t *testing.T) {
	sim := NewSimulator(&SimulatorConfig{SpaceSize: 1})

	errc := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, err := sim.Read(buf)
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := sim.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-errc:
		if err != io.EOF {
			t.Errorf("Read after close = %v, want EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not unblock after Close")
	}

	if err := sim.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestSimulator_WriteAfterClose(t *testing.T) {
	sim := NewSimulator(nil)
	_ = sim.Close()

	if _, err := sim.Write([]byte{MsgJob}); err == nil {
		t.Error("Write on closed device should fail")
	}
}

func TestNewOpener(t *testing.T) {
	op := NewOpener("sim0", 0)
	ch, err := op.Open()
	if err != nil {
		t.Fatalf("Open(sim0): %v", err)
	}
	_ = ch.Close()

	op = NewOpener("/dev/ttyS0", 0)
	if _, err := op.Open(); err == nil {
		t.Error("Open on unsupported port should fail")
	}
}
