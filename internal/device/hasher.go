package device

import (
	"crypto/sha256"
	"encoding/binary"
	"math/bits"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Hasher checks candidate nonces against a unit of work. The simulator uses
// it to scan the nonce space the way a hardware device would.
type Hasher interface {
	// Check reports whether nonce solves the work at difficulty 1, given the
	// 32-byte midstate and the 12-byte header tail in original byte order.
	Check(midstate [32]byte, tail [12]byte, nonce uint32) bool
}

// SHA256d is the production double-SHA256 hasher. It continues hashing from
// the precomputed midstate instead of rehashing the first header block.
type SHA256d struct{}

// Header bytes are hashed after a 32-bit word swap, so the midstate covers
// the swapped first block and the continuation hashes the swapped tail.

// swapWords byte-reverses every 4-byte word of b. Length must be a
// multiple of 4.
func swapWords(b []byte) []byte {
	out := make([]byte, len(b))
	for i := 0; i+4 <= len(b); i += 4 {
		out[i], out[i+1], out[i+2], out[i+3] = b[i+3], b[i+2], b[i+1], b[i]
	}
	return out
}

// Midstate computes the SHA-256 state after compressing the swapped first
// 64 bytes of an 80-byte block header, packed big-endian.
func Midstate(header []byte) [32]byte {
	state := sha256IV
	compress(&state, swapWords(header[:64]))

	var out [32]byte
	for i, w := range state {
		binary.BigEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// Check implements Hasher. The nonce occupies header bytes 76..80 in
// big-endian order before the word swap.
func (SHA256d) Check(midstate [32]byte, tail [12]byte, nonce uint32) bool {
	var data [16]byte
	copy(data[:12], tail[:])
	binary.BigEndian.PutUint32(data[12:], nonce)

	// Second SHA-256 block: 16 data bytes, padding, 640-bit length.
	var block [64]byte
	copy(block[:16], swapWords(data[:]))
	block[16] = 0x80
	binary.BigEndian.PutUint64(block[56:], 640)

	var state [8]uint32
	for i := range state {
		state[i] = binary.BigEndian.Uint32(midstate[i*4:])
	}
	compress(&state, block[:])

	var digest1 [32]byte
	for i, w := range state {
		binary.BigEndian.PutUint32(digest1[i*4:], w)
	}
	digest2 := sha256.Sum256(digest1[:])
	return zeroTail(digest2[:])
}

// CheckHeader verifies a nonce against a full 80-byte header at difficulty 1.
// Slower than the midstate path; used to audit solutions before they are
// reported upstream.
func CheckHeader(header []byte, nonce uint32) bool {
	if len(header) < 80 {
		return false
	}
	hdr := append([]byte(nil), header[:80]...)
	binary.BigEndian.PutUint32(hdr[76:80], nonce)
	digest := chainhash.DoubleHashB(swapWords(hdr))
	return zeroTail(digest)
}

// zeroTail reports difficulty-1 validity: the last four digest bytes are zero.
func zeroTail(digest []byte) bool {
	return digest[28] == 0 && digest[29] == 0 && digest[30] == 0 && digest[31] == 0
}

var sha256IV = [8]uint32{
	0x6a09e667, 0xbb67ae85, 0x3c6ef372, 0xa54ff53a,
	0x510e527f, 0x9b05688c, 0x1f83d9ab, 0x5be0cd19,
}

var sha256K = [64]uint32{
	0x428a2f98, 0x71374491, 0xb5c0fbcf, 0xe9b5dba5, 0x3956c25b, 0x59f111f1, 0x923f82a4, 0xab1c5ed5,
	0xd807aa98, 0x12835b01, 0x243185be, 0x550c7dc3, 0x72be5d74, 0x80deb1fe, 0x9bdc06a7, 0xc19bf174,
	0xe49b69c1, 0xefbe4786, 0x0fc19dc6, 0x240ca1cc, 0x2de92c6f, 0x4a7484aa, 0x5cb0a9dc, 0x76f988da,
	0x983e5152, 0xa831c66d, 0xb00327c8, 0xbf597fc7, 0xc6e00bf3, 0xd5a79147, 0x06ca6351, 0x14292967,
	0x27b70a85, 0x2e1b2138, 0x4d2c6dfc, 0x53380d13, 0x650a7354, 0x766a0abb, 0x81c2c92e, 0x92722c85,
	0xa2bfe8a1, 0xa81a664b, 0xc24b8b70, 0xc76c51a3, 0xd192e819, 0xd6990624, 0xf40e3585, 0x106aa070,
	0x19a4c116, 0x1e376c08, 0x2748774c, 0x34b0bcb5, 0x391c0cb3, 0x4ed8aa4a, 0x5b9cca4f, 0x682e6ff3,
	0x748f82ee, 0x78a5636f, 0x84c87814, 0x8cc70208, 0x90befffa, 0xa4506ceb, 0xbef9a3f7, 0xc67178f2,
}

// compress applies the SHA-256 compression function to one 64-byte block.
func compress(state *[8]uint32, block []byte) {
	var w [64]uint32
	for i := 0; i < 16; i++ {
		w[i] = binary.BigEndian.Uint32(block[i*4:])
	}
	for i := 16; i < 64; i++ {
		v1 := w[i-2]
		t1 := bits.RotateLeft32(v1, -17) ^ bits.RotateLeft32(v1, -19) ^ (v1 >> 10)
		v2 := w[i-15]
		t2 := bits.RotateLeft32(v2, -7) ^ bits.RotateLeft32(v2, -18) ^ (v2 >> 3)
		w[i] = t1 + w[i-7] + t2 + w[i-16]
	}

	a, b, c, d, e, f, g, h := state[0], state[1], state[2], state[3], state[4], state[5], state[6], state[7]
	for i := 0; i < 64; i++ {
		t1 := h + (bits.RotateLeft32(e, -6) ^ bits.RotateLeft32(e, -11) ^ bits.RotateLeft32(e, -25)) +
			((e & f) ^ (^e & g)) + sha256K[i] + w[i]
		t2 := (bits.RotateLeft32(a, -2) ^ bits.RotateLeft32(a, -13) ^ bits.RotateLeft32(a, -22)) +
			((a & b) ^ (a & c) ^ (b & c))
		h, g, f, e, d, c, b, a = g, f, e, d+t1, c, b, a, t1+t2
	}

	state[0] += a
	state[1] += b
	state[2] += c
	state[3] += d
	state[4] += e
	state[5] += f
	state[6] += g
	state[7] += h
}
