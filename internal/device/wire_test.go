package device

import (
	"bytes"
	"testing"

	"github.com/bardlex/gomd/pkg/errors"
)

func TestEncodeJobMessage(t *testing.T) {
	midstate := make([]byte, 32)
	header := make([]byte, 80)
	for i := range midstate {
		midstate[i] = byte(i)
	}
	for i := range header {
		header[i] = byte(0x80 + i)
	}

	msg, err := EncodeJobMessage(midstate, header)
	if err != nil {
		t.Fatalf("EncodeJobMessage: %v", err)
	}
	if len(msg) != JobMessageSize {
		t.Fatalf("message length = %d, want %d", len(msg), JobMessageSize)
	}
	if msg[0] != MsgJob {
		t.Errorf("tag = %d, want %d", msg[0], MsgJob)
	}

	// Midstate goes out byte-reversed.
	if msg[1] != midstate[31] || msg[32] != midstate[0] {
		t.Error("midstate not byte-reversed on the wire")
	}
	// Header tail covers bytes 64..76, also reversed.
	if msg[33] != header[75] || msg[44] != header[64] {
		t.Error("header tail not byte-reversed on the wire")
	}
}

func TestEncodeJobMessage_BadInput(t *testing.T) {
	_, err := EncodeJobMessage(make([]byte, 16), make([]byte, 80))
	if !errors.IsType(err, errors.ErrorTypeProtocol) {
		t.Errorf("short midstate: got %v, want protocol error", err)
	}

	_, err = EncodeJobMessage(make([]byte, 32), make([]byte, 40))
	if !errors.IsType(err, errors.ErrorTypeProtocol) {
		t.Errorf("short header: got %v, want protocol error", err)
	}
}

func TestDecodeJobMessage_RoundTrip(t *testing.T) {
	midstate := make([]byte, 32)
	header := make([]byte, 80)
	for i := range midstate {
		midstate[i] = byte(i * 3)
	}
	for i := range header {
		header[i] = byte(i * 5)
	}

	msg, err := EncodeJobMessage(midstate, header)
	if err != nil {
		t.Fatalf("EncodeJobMessage: %v", err)
	}

	gotMid, gotTail, err := DecodeJobMessage(msg)
	if err != nil {
		t.Fatalf("DecodeJobMessage: %v", err)
	}
	if !bytes.Equal(gotMid[:], midstate) {
		t.Error("midstate did not round-trip")
	}
	if !bytes.Equal(gotTail[:], header[64:76]) {
		t.Error("header tail did not round-trip")
	}
}

func TestDecodeJobMessage_Malformed(t *testing.T) {
	if _, _, err := DecodeJobMessage(make([]byte, 10)); err == nil {
		t.Error("short message accepted")
	}

	bad := make([]byte, JobMessageSize)
	bad[0] = 0x7f
	if _, _, err := DecodeJobMessage(bad); err == nil {
		t.Error("unknown tag accepted")
	}
}
