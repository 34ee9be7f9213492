package device

import (
	"github.com/bardlex/gomd/pkg/errors"
)

// Device wire protocol. Outbound messages are a single tag byte followed by
// the payload; inbound messages are a tag byte optionally followed by a
// 4-byte little-endian nonce.
const (
	// MsgJob is the outbound tag for a job dispatch. Payload: 32-byte
	// reversed midstate followed by the reversed 12-byte header tail
	// (header bytes 64..76).
	MsgJob byte = 1

	// RespAck acknowledges a job: the device has switched to the new work.
	RespAck byte = 1
	// RespSolution reports a candidate nonce. A 4-byte little-endian nonce
	// payload follows.
	RespSolution byte = 2
	// RespExhausted reports that the device scanned the full 2^32 nonce
	// space without finding a solution.
	RespExhausted byte = 3

	// JobMessageSize is the outbound frame size: tag + midstate + tail.
	JobMessageSize = 1 + 32 + 12
	// NonceSize is the payload length following a RespSolution tag.
	NonceSize = 4
)

// reverse returns a byte-reversed copy of b.
func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}

// EncodeJobMessage builds the outbound dispatch frame for a job. Midstate
// and the header tail are transmitted byte-reversed.
func EncodeJobMessage(midstate, header []byte) ([]byte, error) {
	if len(midstate) != 32 {
		return nil, errors.New(errors.ErrorTypeProtocol, "encode_job",
			"midstate must be 32 bytes").WithContext("length", len(midstate))
	}
	if len(header) < 76 {
		return nil, errors.New(errors.ErrorTypeProtocol, "encode_job",
			"header too short for dispatch tail").WithContext("length", len(header))
	}

	msg := make([]byte, 0, JobMessageSize)
	msg = append(msg, MsgJob)
	msg = append(msg, reverse(midstate)...)
	msg = append(msg, reverse(header[64:76])...)
	return msg, nil
}

// DecodeJobMessage parses an outbound dispatch frame back into the midstate
// and header tail in their original byte order. Used by the simulator.
func DecodeJobMessage(msg []byte) (midstate [32]byte, tail [12]byte, err error) {
	if len(msg) != JobMessageSize || msg[0] != MsgJob {
		err = errors.New(errors.ErrorTypeProtocol, "decode_job",
			"malformed job message").WithContext("length", len(msg))
		return
	}
	copy(midstate[:], reverse(msg[1:33]))
	copy(tail[:], reverse(msg[33:45]))
	return
}
