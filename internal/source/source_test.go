package source

import (
	"bytes"
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/bardlex/gomd/internal/job"
	"github.com/bardlex/gomd/internal/messaging"
	"github.com/bardlex/gomd/pkg/log"
)

const testHeaderHex = "00000001c3bf95208a646ee98a58cf97c3a0c4b7bf5de4c89ca044950000052000000000" +
	"24d1fff8d5d73ae11140e4e48032cd88ee01d48c67147f9a09cd41fdec2e25824f5c038d1a0b350c5eb01f04"

func testSource() *Source {
	logger := log.New("gomd-test", "test", "error", "text")
	return New(Config{WorkerName: "bench-0", GroupID: "test"}, logger, nil, nil)
}

func fetchOne(t *testing.T, s *Source, minValidity time.Duration) *job.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	j, err := s.FetchJob(ctx, minValidity)
	if err != nil {
		t.Fatalf("FetchJob: %v", err)
	}
	return j
}

func TestAcceptJob(t *testing.T) {
	s := testSource()

	err := s.acceptJob(&messaging.DeviceJobMessage{
		JobID:  "j1",
		Header: testHeaderHex,
		NBits:  "1d00ffff",
	})
	if err != nil {
		t.Fatalf("acceptJob: %v", err)
	}

	j := fetchOne(t, s, 0)
	if j.ID != "j1" {
		t.Errorf("job ID = %q, want j1", j.ID)
	}
	if len(j.Header) != 80 || len(j.Midstate) != 32 {
		t.Errorf("header/midstate lengths = %d/%d, want 80/32", len(j.Header), len(j.Midstate))
	}

	// Difficulty-1 compact target: 0xffff shifted into bytes 4..6.
	want := make([]byte, 32)
	want[4], want[5] = 0xff, 0xff
	if !bytes.Equal(j.Target, want) {
		t.Errorf("target = %x, want %x", j.Target, want)
	}
}

func TestAcceptJob_BadHeader(t *testing.T) {
	s := testSource()

	if err := s.acceptJob(&messaging.DeviceJobMessage{JobID: "j1", Header: "zz"}); err == nil {
		t.Error("non-hex header accepted")
	}
	if err := s.acceptJob(&messaging.DeviceJobMessage{JobID: "j1", Header: "deadbeef"}); err == nil {
		t.Error("short header accepted")
	}
	if err := s.acceptJob(&messaging.DeviceJobMessage{JobID: "j1", Header: testHeaderHex, NBits: "xyz"}); err == nil {
		t.Error("bad nbits accepted")
	}
}

func TestAcceptJob_MidstateMatchesHeader(t *testing.T) {
	s := testSource()
	if err := s.acceptJob(&messaging.DeviceJobMessage{JobID: "j1", Header: testHeaderHex}); err != nil {
		t.Fatalf("acceptJob: %v", err)
	}

	j := fetchOne(t, s, 0)
	wantMid, _ := hex.DecodeString("df321701de16dd67cd596f9a6edd55d3235e32447a0ea72adb2439f25f50aa41")
	if !bytes.Equal(j.Midstate, wantMid) {
		t.Errorf("midstate = %x, want %x", j.Midstate, wantMid)
	}
}

func TestFetchJob_SkipsCanceled(t *testing.T) {
	s := testSource()
	_ = s.acceptJob(&messaging.DeviceJobMessage{JobID: "j1", Header: testHeaderHex})
	_ = s.acceptJob(&messaging.DeviceJobMessage{JobID: "j2", Header: testHeaderHex})

	s.CancelAll("test")
	_ = s.acceptJob(&messaging.DeviceJobMessage{JobID: "j3", Header: testHeaderHex})

	j := fetchOne(t, s, 0)
	if j.ID != "j3" {
		t.Errorf("job ID = %q, want j3 after cancellation sweep", j.ID)
	}
}

func TestFetchJob_SkipsExpiring(t *testing.T) {
	s := testSource()
	_ = s.acceptJob(&messaging.DeviceJobMessage{
		JobID:     "short",
		Header:    testHeaderHex,
		ExpiresAt: time.Now().Add(1 * time.Second),
	})
	_ = s.acceptJob(&messaging.DeviceJobMessage{
		JobID:     "long",
		Header:    testHeaderHex,
		ExpiresAt: time.Now().Add(1 * time.Hour),
	})

	j := fetchOne(t, s, 30*time.Second)
	if j.ID != "long" {
		t.Errorf("job ID = %q, want the job with enough validity left", j.ID)
	}
}

func TestFetchJob_ContextCanceled(t *testing.T) {
	s := testSource()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.FetchJob(ctx, 0); err == nil {
		t.Error("FetchJob on canceled context should fail")
	}
}

func TestBuffer_EvictsOldest(t *testing.T) {
	s := testSource()
	for i := 0; i < jobBuffer+3; i++ {
		if err := s.acceptJob(&messaging.DeviceJobMessage{
			JobID:  string(rune('a' + i)),
			Header: testHeaderHex,
		}); err != nil {
			t.Fatalf("acceptJob %d: %v", i, err)
		}
	}

	// Oldest entries were evicted; the first fetch is not job "a".
	j := fetchOne(t, s, 0)
	if j.ID == "a" {
		t.Error("oldest job should have been evicted from a full buffer")
	}
}

func TestCleanJobsCancelsOutstanding(t *testing.T) {
	s := testSource()
	var woken []*job.Job
	s.OnJobCanceled(func(j *job.Job) { woken = append(woken, j) })

	_ = s.acceptJob(&messaging.DeviceJobMessage{JobID: "j1", Header: testHeaderHex})
	j1 := fetchOne(t, s, 0)

	_ = s.acceptJob(&messaging.DeviceJobMessage{JobID: "j2", Header: testHeaderHex, CleanJobs: true})

	if !j1.Canceled() {
		t.Error("outstanding job should be canceled by clean_jobs")
	}
	if len(woken) == 0 {
		t.Error("cancel hook should have been invoked")
	}

	j2 := fetchOne(t, s, 0)
	if j2.ID != "j2" {
		t.Errorf("job ID = %q, want j2", j2.ID)
	}
	if j2.Canceled() {
		t.Error("the clean job itself must not be canceled")
	}
}

func TestDestroyedRemovesFromRegistry(t *testing.T) {
	s := testSource()
	_ = s.acceptJob(&messaging.DeviceJobMessage{JobID: "j1", Header: testHeaderHex})
	j := fetchOne(t, s, 0)

	if s.registry.Len() != 1 {
		t.Fatalf("registry size = %d, want 1", s.registry.Len())
	}
	j.Destroy()
	if s.registry.Len() != 0 {
		t.Errorf("registry size = %d after destroy, want 0", s.registry.Len())
	}
}

func TestNonceFound_NoBackends(t *testing.T) {
	s := testSource()
	_ = s.acceptJob(&messaging.DeviceJobMessage{JobID: "j1", Header: testHeaderHex})
	j := fetchOne(t, s, 0)

	// Without Kafka or databases this must still be safe to call.
	j.NotifyNonceFound(0x5eb01f04)
	j.NotifyNonceFound(12345)
	time.Sleep(50 * time.Millisecond)
}

func TestTargetFromBits(t *testing.T) {
	tests := []struct {
		name    string
		nbits   string
		wantErr bool
		empty   bool
	}{
		{"difficulty one", "1d00ffff", false, false},
		{"no target", "", false, true},
		{"garbage", "nope", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := targetFromBits(tt.nbits)
			if (err != nil) != tt.wantErr {
				t.Fatalf("targetFromBits(%q) error = %v, wantErr %v", tt.nbits, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.empty {
				if target != nil {
					t.Errorf("target = %x, want nil", target)
				}
				return
			}
			if len(target) != 32 {
				t.Errorf("target length = %d, want 32", len(target))
			}
		})
	}
}
