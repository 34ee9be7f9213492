package job

import (
	"bytes"
	"encoding/binary"
	"testing"
)

type recordingHandler struct {
	nonces    []uint32
	hashes    []float64
	destroyed int
}

func (h *recordingHandler) NonceFound(_ *Job, nonce uint32)      { h.nonces = append(h.nonces, nonce) }
func (h *recordingHandler) HashesProcessed(_ *Job, n float64)    { h.hashes = append(h.hashes, n) }
func (h *recordingHandler) Destroyed(_ *Job)                     { h.destroyed++ }

func TestJob_CancelIdempotent(t *testing.T) {
	j := New("j1", make([]byte, 80), make([]byte, 32), nil, nil)

	if j.Canceled() {
		t.Fatal("new job should not be canceled")
	}

	j.MarkCanceled()
	j.MarkCanceled()

	if !j.Canceled() {
		t.Error("job should report canceled after MarkCanceled")
	}
}

func TestJob_DestroyNotifiesOnce(t *testing.T) {
	h := &recordingHandler{}
	j := New("j1", make([]byte, 80), make([]byte, 32), nil, h)

	j.Destroy()
	j.Destroy()

	if h.destroyed != 1 {
		t.Errorf("Destroyed notifications = %d, want 1", h.destroyed)
	}
}

func TestJob_ForwardsToHandler(t *testing.T) {
	h := &recordingHandler{}
	j := New("j1", make([]byte, 80), make([]byte, 32), nil, h)

	j.NotifyNonceFound(0x12345678)
	j.RecordHashesProcessed(1e6)
	j.RecordHashesProcessed(0) // no work, no notification

	if len(h.nonces) != 1 || h.nonces[0] != 0x12345678 {
		t.Errorf("nonces = %v, want [0x12345678]", h.nonces)
	}
	if len(h.hashes) != 1 || h.hashes[0] != 1e6 {
		t.Errorf("hashes = %v, want [1e6]", h.hashes)
	}
}

func TestJob_NilHandlerSafe(t *testing.T) {
	j := New("j1", make([]byte, 80), make([]byte, 32), nil, nil)

	j.NotifyNonceFound(1)
	j.RecordHashesProcessed(100)
	j.Destroy()
}

func TestNewValidation(t *testing.T) {
	j := NewValidation()

	if !j.IsValidation() {
		t.Fatal("validation job must report IsValidation")
	}
	if j.ExpectedNonce() != ValidationNonce {
		t.Errorf("ExpectedNonce = %#x, want %#x", j.ExpectedNonce(), ValidationNonce)
	}
	if len(j.Header) != 80 {
		t.Fatalf("validation header length = %d, want 80", len(j.Header))
	}
	if len(j.Midstate) != 32 {
		t.Fatalf("validation midstate length = %d, want 32", len(j.Midstate))
	}

	// The known nonce is embedded big-endian in the last four header bytes.
	embedded := binary.BigEndian.Uint32(j.Header[76:80])
	if embedded != ValidationNonce {
		t.Errorf("embedded nonce = %#x, want %#x", embedded, ValidationNonce)
	}
}

func TestNewValidation_IndependentCopies(t *testing.T) {
	a := NewValidation()
	b := NewValidation()

	a.Header[0] ^= 0xff
	if bytes.Equal(a.Header[:1], b.Header[:1]) {
		t.Error("validation jobs must not share header storage")
	}
}

func TestRegularJob_NotValidation(t *testing.T) {
	j := New("j1", make([]byte, 80), make([]byte, 32), nil, nil)
	if j.IsValidation() {
		t.Error("regular job must not report IsValidation")
	}
}
