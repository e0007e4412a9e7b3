package nullsink

import (
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mixerd/mixerd/internal/core"
	"github.com/mixerd/mixerd/internal/memblock"
	"github.com/mixerd/mixerd/internal/rtclock"
	"github.com/mixerd/mixerd/internal/sample"
	"github.com/mixerd/mixerd/internal/sink"
)

func newTestCore(t *testing.T) *core.Core {
	t.Helper()
	c, err := core.New(sample.Spec{Format: sample.S16NE, Channels: 2, Rate: 44100}, slog.Default())
	if err != nil {
		t.Fatalf("core.New: %v", err)
	}
	return c
}

// shrinkLatency shortens the render-ahead window for the duration of a
// test so timing assertions don't have to wait out the 2s default.
func shrinkLatency(t *testing.T, d rtclock.Usec) {
	t.Helper()
	old := maxLatency
	maxLatency = d
	t.Cleanup(func() { maxLatency = old })
}

func TestLoadRejectsBadArguments(t *testing.T) {
	c := newTestCore(t)

	for _, args := range []string{"bogus=1", "rate=abc", "channels=99"} {
		if _, err := Load(c, args); err == nil {
			t.Errorf("Load(%q) succeeded, want error", args)
		}
	}
}

func TestLoadAndUnload(t *testing.T) {
	shrinkLatency(t, 100*rtclock.UsecPerMsec)
	c := newTestCore(t)

	mod, err := Load(c, "sink_name=test_null description=Test")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	s, ok := c.GetSink("test_null")
	if !ok {
		t.Fatal("sink not registered with core")
	}
	if s.State() != sink.StateRunning {
		t.Errorf("sink state = %v, want running", s.State())
	}
	if s.Description != "Test" {
		t.Errorf("description = %q, want %q", s.Description, "Test")
	}

	// Shutdown must complete promptly: the device thread acks the
	// shutdown message and exits.
	done := make(chan struct{})
	go func() {
		mod.Unload()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Unload did not complete")
	}

	if _, ok := c.GetSink("test_null"); ok {
		t.Error("sink still registered after unload")
	}
}

func TestLatencyStaysWithinBlock(t *testing.T) {
	shrinkLatency(t, 100*rtclock.UsecPerMsec)
	c := newTestCore(t)

	mod, err := Load(c, "sink_name=lat_test")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer mod.Unload()

	s := mod.Sink()

	// Let the clock run a few cycles.
	time.Sleep(250 * time.Millisecond)

	lat := s.GetLatency()
	if lat < 0 || lat > 100*rtclock.UsecPerMsec {
		t.Errorf("latency = %dus, want within [0, 100ms]", lat)
	}
}

// TestVirtualTimestampTracksWallClock is the end-to-end timing check:
// with one input attached, the rendered byte count over a stretch of
// wall clock matches the sample spec's byte rate, give or take a block.
func TestVirtualTimestampTracksWallClock(t *testing.T) {
	shrinkLatency(t, 50*rtclock.UsecPerMsec)
	c := newTestCore(t)

	mod, err := Load(c, "sink_name=clock_test rate=8000 channels=1 format=u8")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer mod.Unload()

	s := mod.Sink()
	pool := memblock.NewPool()

	// One input delivering silence chunks of 4096 bytes.
	s.AttachInput(&sink.Input{
		ID:   uuid.New(),
		Name: "silence",
		Pop: func(nbytes int) (memblock.Chunk, bool) {
			if nbytes > 4096 {
				nbytes = 4096
			}
			b := pool.New(nbytes)
			ch := memblock.NewChunk(b)
			sample.SilenceChunk(ch, s.Spec)
			return ch, true
		},
	})

	start := time.Now()
	base := s.RenderedBytes.Load()
	time.Sleep(600 * time.Millisecond)
	rendered := s.RenderedBytes.Load() - base
	elapsed := time.Since(start)

	// At 8000 Hz mono u8 the byte rate is 8000 B/s. The device renders
	// up to one block (50ms = 400 bytes) ahead, and scheduling adds
	// slack on top, so bound rather than pin.
	wantMin := uint64(float64(elapsed.Seconds())*8000) - 2*400
	wantMax := uint64(float64(elapsed.Seconds())*8000) + 4*400

	if rendered < wantMin || rendered > wantMax {
		t.Errorf("rendered %d bytes over %v, want within [%d, %d]", rendered, elapsed, wantMin, wantMax)
	}
}

func TestSuspendDisablesRendering(t *testing.T) {
	shrinkLatency(t, 50*rtclock.UsecPerMsec)
	c := newTestCore(t)

	mod, err := Load(c, "sink_name=susp_test rate=8000 channels=1 format=u8")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer mod.Unload()

	s := mod.Sink()
	s.SetState(sink.StateSuspended)

	// Allow any in-flight render cycle to finish before sampling.
	time.Sleep(100 * time.Millisecond)
	base := s.RenderedBytes.Load()
	time.Sleep(200 * time.Millisecond)

	if got := s.RenderedBytes.Load(); got != base {
		t.Errorf("suspended sink rendered %d more bytes", got-base)
	}

	// Resume picks the clock back up.
	s.SetState(sink.StateRunning)
	time.Sleep(150 * time.Millisecond)
	if got := s.RenderedBytes.Load(); got == base {
		t.Error("resumed sink rendered nothing")
	}
}

func TestProcessRewindClampsToBufferedAudio(t *testing.T) {
	// Exercised without a device thread: build the module state by
	// hand on the test goroutine.
	c := newTestCore(t)

	spec := sample.Spec{Format: sample.S16NE, Channels: 2, Rate: 44100}
	pool := memblock.NewPool()
	s, err := sink.New(sink.Data{
		Name:   "rewind_test",
		Driver: "module-null-sink",
		Spec:   spec,
		Map:    sample.DefaultChannelMap(2),
	}, pool, slog.Default())
	if err != nil {
		t.Fatalf("sink.New: %v", err)
	}

	var inputSaw int
	s.ThreadInfo.Inputs = append(s.ThreadInfo.Inputs, &sink.Input{
		ID:            uuid.New(),
		Name:          "in",
		Volume:        sample.CVolumeNorm(2),
		Pop:           func(int) (memblock.Chunk, bool) { return memblock.Chunk{}, false },
		ProcessRewind: func(nbytes int) { inputSaw = nbytes },
	})

	u := &Module{core: c, sink: s, logger: slog.Default()}

	// 100ms of audio buffered ahead of the wall clock is ~17640 bytes
	// at 44100 Hz stereo s16; a rewind request of 8192 fits entirely.
	now := rtclock.Now()
	u.timestamp = now + 100*rtclock.UsecPerMsec
	s.ThreadInfo.RewindNbytes = 8192

	before := u.timestamp
	u.processRewind(now)

	if inputSaw != 8192 {
		t.Errorf("input rewound %d bytes, want 8192", inputSaw)
	}
	wantDec := spec.BytesToUsec(8192)
	if got := before - u.timestamp; got != wantDec {
		t.Errorf("timestamp decreased by %dus, want %dus", got, wantDec)
	}

	// A request beyond what is buffered is clamped to the buffer.
	u.timestamp = now + 10*rtclock.UsecPerMsec // ~1764 bytes buffered
	buffered := spec.UsecToBytes(10 * rtclock.UsecPerMsec)
	s.ThreadInfo.RewindNbytes = 1 << 20

	u.processRewind(now)
	if inputSaw != buffered {
		t.Errorf("input rewound %d bytes, want clamp to %d", inputSaw, buffered)
	}
}

func TestGetLatencyFromMessage(t *testing.T) {
	c := newTestCore(t)

	spec := sample.Spec{Format: sample.S16NE, Channels: 2, Rate: 44100}
	s, err := sink.New(sink.Data{
		Name:   "msg_test",
		Driver: "module-null-sink",
		Spec:   spec,
		Map:    sample.DefaultChannelMap(2),
	}, memblock.NewPool(), slog.Default())
	if err != nil {
		t.Fatalf("sink.New: %v", err)
	}

	u := &Module{core: c, sink: s, logger: slog.Default()}
	s.ProcessMsgFn = u.sinkProcessMsg

	u.timestamp = rtclock.Now() + 80*rtclock.UsecPerMsec

	var lat rtclock.Usec
	if r := s.ProcessMsg(sink.MsgGetLatency, &lat, 0, memblock.Chunk{}); r != 0 {
		t.Fatalf("MsgGetLatency returned %d, want 0", r)
	}
	if lat <= 0 || lat > 80*rtclock.UsecPerMsec {
		t.Errorf("latency = %dus, want within (0, 80ms]", lat)
	}

	// With the virtual timestamp behind the wall clock the latency is
	// clamped to zero.
	u.timestamp = rtclock.Now() - rtclock.UsecPerSec
	if s.ProcessMsg(sink.MsgGetLatency, &lat, 0, memblock.Chunk{}); lat != 0 {
		t.Errorf("latency = %dus with stale timestamp, want 0", lat)
	}
}
