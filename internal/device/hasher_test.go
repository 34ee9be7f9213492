package device

import (
	"bytes"
	"encoding/hex"
	"testing"
)

const (
	testHeaderHex = "00000001c3bf95208a646ee98a58cf97c3a0c4b7bf5de4c89ca044950000052000000000" +
		"24d1fff8d5d73ae11140e4e48032cd88ee01d48c67147f9a09cd41fdec2e25824f5c038d1a0b350c5eb01f04"
	testMidstateHex = "df321701de16dd67cd596f9a6edd55d3235e32447a0ea72adb2439f25f50aa41"
	testNonce       = uint32(0x5eb01f04)
)

func testHeader(t *testing.T) []byte {
	t.Helper()
	header, err := hex.DecodeString(testHeaderHex)
	if err != nil {
		t.Fatalf("bad header fixture: %v", err)
	}
	return header
}

func TestMidstate(t *testing.T) {
	want, _ := hex.DecodeString(testMidstateHex)
	got := Midstate(testHeader(t))
	if !bytes.Equal(got[:], want) {
		t.Errorf("Midstate = %x, want %x", got, want)
	}
}

func TestSHA256d_Check(t *testing.T) {
	header := testHeader(t)
	var midstate [32]byte
	var tail [12]byte
	mid, _ := hex.DecodeString(testMidstateHex)
	copy(midstate[:], mid)
	copy(tail[:], header[64:76])

	h := SHA256d{}

	if !h.Check(midstate, tail, testNonce) {
		t.Error("known-good nonce rejected")
	}
	if h.Check(midstate, tail, testNonce+1) {
		t.Error("wrong nonce accepted")
	}
	if h.Check(midstate, tail, 0) {
		t.Error("zero nonce accepted")
	}
}

func TestCheckHeader(t *testing.T) {
	header := testHeader(t)

	if !CheckHeader(header, testNonce) {
		t.Error("known-good nonce rejected by full-header check")
	}
	if CheckHeader(header, testNonce-1) {
		t.Error("wrong nonce accepted by full-header check")
	}
	if CheckHeader(header[:40], testNonce) {
		t.Error("short header accepted")
	}
}

func TestCheckHeader_MatchesMidstatePath(t *testing.T) {
	header := testHeader(t)
	midstate := Midstate(header)
	var tail [12]byte
	copy(tail[:], header[64:76])
	h := SHA256d{}

	for _, nonce := range []uint32{0, 1, 0xdeadbeef, testNonce, testNonce + 7} {
		if h.Check(midstate, tail, nonce) != CheckHeader(header, nonce) {
			t.Errorf("midstate and full-header checks disagree for nonce %#x", nonce)
		}
	}
}
