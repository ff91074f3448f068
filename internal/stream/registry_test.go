package stream

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/radio-recorder/internal/audio"
	"github.com/skypro1111/radio-recorder/internal/metrics"
	"github.com/skypro1111/radio-recorder/internal/storage"
)

var testStart = time.UnixMilli(1700000000000)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testEnv struct {
	base     string
	clock    *fakeClock
	metrics  *metrics.Metrics
	registry *Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	base := t.TempDir()
	layout, err := storage.NewLayout(base)
	if err != nil {
		t.Fatalf("NewLayout failed: %v", err)
	}

	clock := newFakeClock(testStart)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	registry := NewRegistry(testLogger(), layout, m, clock, DefaultIdleTimeout)

	return &testEnv{base: base, clock: clock, metrics: m, registry: registry}
}

// recordings returns the recording files of a talkgroup, oldest first
func (e *testEnv) recordings(t *testing.T, network, dst string) []string {
	t.Helper()

	entries, err := os.ReadDir(filepath.Join(e.base, network, dst))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Slice(files, func(i, j int) bool {
		ti, _ := storage.ParseTimestamp(files[i])
		tj, _ := storage.ParseTimestamp(files[j])
		return ti.Before(tj)
	})
	return files
}

// readPCM checks the container framing and returns the data chunk
func readPCM(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if err := audio.ValidateWAV(data); err != nil {
		t.Fatalf("Recording %s is not a valid WAV file: %v", path, err)
	}

	info, err := audio.GetWAVInfo(data)
	if err != nil {
		t.Fatalf("GetWAVInfo failed: %v", err)
	}
	if info.SampleRate != audio.SampleRate || info.Channels != audio.NumChannels || info.BitsPerSample != audio.BitsPerSample {
		t.Errorf("Unexpected format %+v", info)
	}

	return data[audio.HeaderSize:]
}

func pcm(n int, fill byte) []byte {
	return bytes.Repeat([]byte{fill}, n)
}

func TestNetOneScenarioSingleFile(t *testing.T) {
	env := newTestEnv(t)
	a, b := pcm(320, 0x11), pcm(320, 0x22)

	if err := env.registry.HandlePacket("Net1", Packet{SourceID: "1001", DestinationID: "2", Payload: a}); err != nil {
		t.Fatalf("HandlePacket A failed: %v", err)
	}
	env.clock.Advance(500 * time.Millisecond)
	if err := env.registry.HandlePacket("Net1", Packet{SourceID: "1001", DestinationID: "2", Payload: b}); err != nil {
		t.Fatalf("HandlePacket B failed: %v", err)
	}

	// Reaper ticks while the transmission is still within the threshold
	for _, at := range []time.Duration{1000, 2000, 3000} {
		env.clock.Set(testStart.Add(at * time.Millisecond))
		removed, err := env.registry.SweepIdle("Net1", env.clock.Now(), DefaultIdleTimeout)
		if err != nil {
			t.Fatalf("SweepIdle failed: %v", err)
		}
		if removed != 0 {
			t.Fatalf("Session reaped early at %dms", at)
		}
	}

	removed, err := env.registry.SweepIdle("Net1", testStart.Add(3001*time.Millisecond), DefaultIdleTimeout)
	if err != nil {
		t.Fatalf("SweepIdle failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("Expected 1 session reaped, got %d", removed)
	}

	files := env.recordings(t, "Net1", "2")
	if len(files) != 1 {
		t.Fatalf("Expected 1 recording, got %v", files)
	}
	if files[0] != "transmission_1001_1700000000000.wav" {
		t.Errorf("Unexpected file name %s", files[0])
	}

	got := readPCM(t, filepath.Join(env.base, "Net1", "2", files[0]))
	if !bytes.Equal(got, append(append([]byte{}, a...), b...)) {
		t.Errorf("Recording does not contain A+B in order (%d bytes)", len(got))
	}
}

func TestGapOverThresholdSplitsRecording(t *testing.T) {
	tests := []struct {
		name  string
		sweep bool
	}{
		{"reaped before next packet", true},
		{"next packet arrives before reaper tick", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			first, second := pcm(160, 0x01), pcm(160, 0x02)

			if err := env.registry.HandlePacket("Net1", Packet{SourceID: "1001", DestinationID: "2", Payload: first}); err != nil {
				t.Fatalf("HandlePacket failed: %v", err)
			}

			if tt.sweep {
				removed, _ := env.registry.SweepIdle("Net1", testStart.Add(2600*time.Millisecond), DefaultIdleTimeout)
				if removed != 1 {
					t.Fatalf("Expected session reaped at 2600ms, got %d", removed)
				}
			}

			env.clock.Set(testStart.Add(3000 * time.Millisecond))
			if err := env.registry.HandlePacket("Net1", Packet{SourceID: "1001", DestinationID: "2", Payload: second}); err != nil {
				t.Fatalf("HandlePacket failed: %v", err)
			}
			if err := env.registry.CloseAll(); err != nil {
				t.Fatalf("CloseAll failed: %v", err)
			}

			files := env.recordings(t, "Net1", "2")
			if len(files) != 2 {
				t.Fatalf("Expected 2 recordings, got %v", files)
			}

			t0, _ := storage.ParseTimestamp(files[0])
			t1, _ := storage.ParseTimestamp(files[1])
			if !t1.After(t0) {
				t.Errorf("Expected increasing timestamps, got %v and %v", t0, t1)
			}
			if !t0.Equal(testStart) || !t1.Equal(testStart.Add(3000*time.Millisecond)) {
				t.Errorf("Unexpected timestamps %v and %v", t0, t1)
			}

			if got := readPCM(t, filepath.Join(env.base, "Net1", "2", files[0])); !bytes.Equal(got, first) {
				t.Error("First recording does not contain only the first payload")
			}
			if got := readPCM(t, filepath.Join(env.base, "Net1", "2", files[1])); !bytes.Equal(got, second) {
				t.Error("Second recording does not contain only the second payload")
			}
		})
	}
}

func TestSweepThresholdIsExclusive(t *testing.T) {
	env := newTestEnv(t)

	if err := env.registry.HandlePacket("Net1", Packet{SourceID: "7", DestinationID: "9", Payload: pcm(2, 0)}); err != nil {
		t.Fatalf("HandlePacket failed: %v", err)
	}

	removed, err := env.registry.SweepIdle("Net1", testStart.Add(DefaultIdleTimeout), DefaultIdleTimeout)
	if err != nil || removed != 0 {
		t.Fatalf("Expected session kept at exactly the threshold, removed=%d err=%v", removed, err)
	}

	removed, err = env.registry.SweepIdle("Net1", testStart.Add(DefaultIdleTimeout+time.Millisecond), DefaultIdleTimeout)
	if err != nil || removed != 1 {
		t.Fatalf("Expected session reaped past the threshold, removed=%d err=%v", removed, err)
	}
	if env.registry.ActiveCount("Net1") != 0 {
		t.Error("Expected no active sessions after sweep")
	}
}

func TestInterleavedDestinationsAreSeparated(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 4; i++ {
		env.clock.Advance(100 * time.Millisecond)
		dst := "2"
		if i%2 == 1 {
			dst = "3"
		}
		if err := env.registry.HandlePacket("Net1", Packet{SourceID: "1001", DestinationID: dst, Payload: pcm(4, byte(i))}); err != nil {
			t.Fatalf("HandlePacket failed: %v", err)
		}
	}

	if got := env.registry.ActiveCount("Net1"); got != 2 {
		t.Fatalf("Expected 2 sessions, got %d", got)
	}
	if err := env.registry.CloseAll(); err != nil {
		t.Fatalf("CloseAll failed: %v", err)
	}

	for dst, want := range map[string][]byte{
		"2": {0, 0, 0, 0, 2, 2, 2, 2},
		"3": {1, 1, 1, 1, 3, 3, 3, 3},
	} {
		files := env.recordings(t, "Net1", dst)
		if len(files) != 1 {
			t.Fatalf("Expected 1 recording for destination %s, got %v", dst, files)
		}
		if got := readPCM(t, filepath.Join(env.base, "Net1", dst, files[0])); !bytes.Equal(got, want) {
			t.Errorf("Destination %s: expected %v, got %v", dst, want, got)
		}
	}
}

func TestSourcesShareTalkgroupDirectory(t *testing.T) {
	env := newTestEnv(t)

	for _, src := range []string{"1001", "1002"} {
		if err := env.registry.HandlePacket("Net1", Packet{SourceID: src, DestinationID: "2", Payload: pcm(2, 1)}); err != nil {
			t.Fatalf("HandlePacket failed: %v", err)
		}
	}
	env.registry.CloseAll()

	files := env.recordings(t, "Net1", "2")
	if len(files) != 2 {
		t.Fatalf("Expected 2 recordings, got %v", files)
	}
	sources := map[string]bool{}
	for _, f := range files {
		sources[storage.ParseSourceID(f)] = true
	}
	if !sources["1001"] || !sources["1002"] {
		t.Errorf("Expected one recording per source, got %v", files)
	}
}

func TestCloseNetworkIsolation(t *testing.T) {
	env := newTestEnv(t)

	for _, network := range []string{"Net1", "Net2"} {
		if err := env.registry.HandlePacket(network, Packet{SourceID: "1001", DestinationID: "2", Payload: pcm(8, 1)}); err != nil {
			t.Fatalf("HandlePacket failed: %v", err)
		}
	}

	closed, err := env.registry.CloseNetwork("Net1")
	if err != nil {
		t.Fatalf("CloseNetwork failed: %v", err)
	}
	if closed != 1 {
		t.Errorf("Expected 1 session closed, got %d", closed)
	}
	if env.registry.ActiveCount("Net1") != 0 {
		t.Error("Net1 still has active sessions")
	}
	if env.registry.ActiveCount("Net2") != 1 {
		t.Fatal("Net2 session was affected by closing Net1")
	}

	// The surviving session keeps appending to the same file
	if err := env.registry.HandlePacket("Net2", Packet{SourceID: "1001", DestinationID: "2", Payload: pcm(8, 2)}); err != nil {
		t.Fatalf("HandlePacket failed: %v", err)
	}
	env.registry.CloseAll()

	files := env.recordings(t, "Net2", "2")
	if len(files) != 1 {
		t.Fatalf("Expected 1 Net2 recording, got %v", files)
	}
	if got := readPCM(t, filepath.Join(env.base, "Net2", "2", files[0])); len(got) != 16 {
		t.Errorf("Expected 16 bytes in Net2 recording, got %d", len(got))
	}

	// Closing a network with no sessions is a no-op
	if closed, err := env.registry.CloseNetwork("Net3"); closed != 0 || err != nil {
		t.Errorf("Expected no-op close, got %d, %v", closed, err)
	}
}

func TestHandlePacketRejectsBadDestination(t *testing.T) {
	env := newTestEnv(t)

	err := env.registry.HandlePacket("Net1", Packet{SourceID: "1001", DestinationID: "..", Payload: pcm(2, 0)})
	if !errors.Is(err, storage.ErrInvalidSegment) {
		t.Fatalf("Expected ErrInvalidSegment, got %v", err)
	}
	if env.registry.ActiveCount("Net1") != 0 {
		t.Error("Failed packet must not register a session")
	}
	if got := testutil.ToFloat64(env.metrics.PacketErrors.WithLabelValues("Net1")); got != 1 {
		t.Errorf("Expected 1 packet error, got %v", got)
	}

	// Other keys are unaffected
	if err := env.registry.HandlePacket("Net1", Packet{SourceID: "1001", DestinationID: "2", Payload: pcm(2, 0)}); err != nil {
		t.Fatalf("HandlePacket failed: %v", err)
	}
}

func TestConcurrentPacketsShareOneSession(t *testing.T) {
	env := newTestEnv(t)

	const workers, perWorker, size = 8, 50, 4

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				pkt := Packet{SourceID: "1001", DestinationID: "2", Payload: pcm(size, 0x7f)}
				if err := env.registry.HandlePacket("Net1", pkt); err != nil {
					t.Errorf("HandlePacket failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := env.registry.ActiveCount("Net1"); got != 1 {
		t.Fatalf("Expected exactly 1 session, got %d", got)
	}
	env.registry.CloseAll()

	files := env.recordings(t, "Net1", "2")
	if len(files) != 1 {
		t.Fatalf("Expected 1 recording, got %v", files)
	}
	if got := readPCM(t, filepath.Join(env.base, "Net1", "2", files[0])); len(got) != workers*perWorker*size {
		t.Errorf("Expected %d bytes, got %d", workers*perWorker*size, len(got))
	}
}

func TestConcurrentNetworks(t *testing.T) {
	env := newTestEnv(t)

	var wg sync.WaitGroup
	for n := 0; n < 4; n++ {
		network := fmt.Sprintf("Net%d", n)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				dst := fmt.Sprintf("%d", i%3)
				if err := env.registry.HandlePacket(network, Packet{SourceID: "1", DestinationID: dst, Payload: pcm(2, 1)}); err != nil {
					t.Errorf("HandlePacket failed: %v", err)
				}
			}
			env.registry.SweepIdle(network, env.clock.Now(), DefaultIdleTimeout)
		}()
	}
	wg.Wait()

	if got := env.registry.TotalActive(); got != 12 {
		t.Errorf("Expected 12 sessions across networks, got %d", got)
	}
	if got := len(env.registry.Networks()); got != 4 {
		t.Errorf("Expected 4 networks, got %d", got)
	}
	if err := env.registry.CloseAll(); err != nil {
		t.Fatalf("CloseAll failed: %v", err)
	}
	if got := env.registry.TotalActive(); got != 0 {
		t.Errorf("Expected no sessions after CloseAll, got %d", got)
	}
}

func TestSnapshot(t *testing.T) {
	env := newTestEnv(t)

	env.registry.HandlePacket("Net1", Packet{SourceID: "1001", DestinationID: "2", Payload: pcm(4, 0)})
	env.clock.Advance(time.Second)
	env.registry.HandlePacket("Net2", Packet{SourceID: "1002", DestinationID: "3", Payload: pcm(6, 0)})
	env.registry.HandlePacket("Net2", Packet{SourceID: "1002", DestinationID: "3", Payload: pcm(6, 0)})

	infos := env.registry.Snapshot()
	if len(infos) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(infos))
	}
	if infos[0].Network != "Net1" || infos[1].Network != "Net2" {
		t.Errorf("Expected oldest first, got %s then %s", infos[0].Network, infos[1].Network)
	}
	if infos[1].Packets != 2 || infos[1].Bytes != 12 {
		t.Errorf("Unexpected counters %+v", infos[1])
	}
	if infos[0].ID == "" || infos[0].ID == infos[1].ID {
		t.Error("Expected distinct session ids")
	}
	env.registry.CloseAll()
}

func TestSessionMetrics(t *testing.T) {
	env := newTestEnv(t)

	env.registry.HandlePacket("Net1", Packet{SourceID: "1001", DestinationID: "2", Payload: pcm(10, 0)})
	env.registry.HandlePacket("Net1", Packet{SourceID: "1001", DestinationID: "2", Payload: pcm(10, 0)})

	if got := testutil.ToFloat64(env.metrics.ActiveSessions.WithLabelValues("Net1")); got != 1 {
		t.Errorf("Expected 1 active session, got %v", got)
	}
	if got := testutil.ToFloat64(env.metrics.BytesWritten.WithLabelValues("Net1")); got != 20 {
		t.Errorf("Expected 20 bytes written, got %v", got)
	}

	env.registry.CloseNetwork("Net1")

	if got := testutil.ToFloat64(env.metrics.ActiveSessions.WithLabelValues("Net1")); got != 0 {
		t.Errorf("Expected 0 active sessions, got %v", got)
	}
	if got := testutil.ToFloat64(env.metrics.SessionsClosed.WithLabelValues("Net1", metrics.ReasonNetworkClosed)); got != 1 {
		t.Errorf("Expected 1 network_closed session, got %v", got)
	}
}

func TestWriteFailureAbandonsSession(t *testing.T) {
	env := newTestEnv(t)
	failing := Key{Network: "Net1", SourceID: "1", DestinationID: "2"}

	env.registry.HandlePacket("Net1", Packet{SourceID: "1", DestinationID: "2", Payload: pcm(4, 0x11)})
	env.registry.HandlePacket("Net1", Packet{SourceID: "3", DestinationID: "2", Payload: pcm(4, 0x33)})

	// Closing the writer underneath the session makes the next write fail
	sh := env.registry.shard("Net1")
	sh.mu.Lock()
	sh.sessions[failing].writer.Close()
	sh.mu.Unlock()

	env.clock.Advance(100 * time.Millisecond)
	if err := env.registry.HandlePacket("Net1", Packet{SourceID: "1", DestinationID: "2", Payload: pcm(4, 0x11)}); err == nil {
		t.Fatal("Expected error for a write to a closed recording")
	}

	if got := env.registry.ActiveCount("Net1"); got != 1 {
		t.Errorf("Expected 1 active session after the failure, got %d", got)
	}
	for _, info := range env.registry.Snapshot() {
		if info.SourceID == "1" {
			t.Errorf("Expected failed session to be evicted, found %+v", info)
		}
	}
	if got := testutil.ToFloat64(env.metrics.SessionsClosed.WithLabelValues("Net1", metrics.ReasonWriteError)); got != 1 {
		t.Errorf("Expected 1 write_error session, got %v", got)
	}
	if got := testutil.ToFloat64(env.metrics.PacketErrors.WithLabelValues("Net1")); got != 1 {
		t.Errorf("Expected 1 packet error, got %v", got)
	}

	env.clock.Advance(100 * time.Millisecond)
	if err := env.registry.HandlePacket("Net1", Packet{SourceID: "1", DestinationID: "2", Payload: pcm(4, 0x11)}); err != nil {
		t.Fatalf("HandlePacket after failure failed: %v", err)
	}
	if err := env.registry.HandlePacket("Net1", Packet{SourceID: "3", DestinationID: "2", Payload: pcm(4, 0x33)}); err != nil {
		t.Fatalf("HandlePacket for the other source failed: %v", err)
	}

	if got := env.registry.ActiveCount("Net1"); got != 2 {
		t.Errorf("Expected 2 active sessions, got %d", got)
	}
	if err := env.registry.CloseAll(); err != nil {
		t.Fatalf("CloseAll failed: %v", err)
	}

	files := env.recordings(t, "Net1", "2")
	if len(files) != 3 {
		t.Fatalf("Expected 3 recordings, got %v", files)
	}

	var fromOne, fromThree []string
	for _, f := range files {
		switch storage.ParseSourceID(f) {
		case "1":
			fromOne = append(fromOne, f)
		case "3":
			fromThree = append(fromThree, f)
		}
	}
	if len(fromOne) != 2 {
		t.Errorf("Expected a second recording for source 1, got %v", fromOne)
	}
	if len(fromThree) != 1 {
		t.Fatalf("Expected source 3 to keep one recording, got %v", fromThree)
	}
	if got := readPCM(t, filepath.Join(env.base, "Net1", "2", fromThree[0])); !bytes.Equal(got, pcm(8, 0x33)) {
		t.Errorf("Expected both packets in source 3's recording, got %x", got)
	}
}
