package sink

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/mixerd/mixerd/internal/memblock"
	"github.com/mixerd/mixerd/internal/rtclock"
	"github.com/mixerd/mixerd/internal/sample"
)

func newTestSink(t *testing.T) (*Sink, *memblock.Pool) {
	t.Helper()
	pool := memblock.NewPool()
	spec := sample.Spec{Format: sample.S16NE, Channels: 2, Rate: 44100}
	s, err := New(Data{
		Name:        "test",
		Description: "Test Sink",
		Driver:      "test",
		Spec:        spec,
		Map:         sample.DefaultChannelMap(2),
	}, pool, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, pool
}

// s16Input returns an input that always delivers chunks of the given
// constant sample.
func s16Input(pool *memblock.Pool, name string, value int16, chunkBytes int) *Input {
	return &Input{
		ID:     uuid.New(),
		Name:   name,
		Volume: sample.CVolumeNorm(2),
		Pop: func(nbytes int) (memblock.Chunk, bool) {
			if chunkBytes < nbytes {
				nbytes = chunkBytes
			}
			b := pool.New(nbytes)
			for i := 0; i+2 <= nbytes; i += 2 {
				b.Bytes()[i] = byte(uint16(value))
				b.Bytes()[i+1] = byte(uint16(value) >> 8)
			}
			return memblock.NewChunk(b), true
		},
	}
}

func TestRenderNoInputsIsSilence(t *testing.T) {
	s, _ := newTestSink(t)

	chunk := s.Render(64)
	defer chunk.Block.Release()

	if chunk.Length != 64 {
		t.Fatalf("rendered %d bytes, want 64", chunk.Length)
	}
	silence := make([]byte, 64)
	sample.Silence(silence, s.Spec)
	if !bytes.Equal(chunk.Bytes(), silence) {
		t.Error("render with no inputs is not silence")
	}
	if s.RenderedBytes.Load() != 64 {
		t.Errorf("RenderedBytes = %d, want 64", s.RenderedBytes.Load())
	}
}

func TestRenderMixesInputs(t *testing.T) {
	s, pool := newTestSink(t)

	s.ThreadInfo.Inputs = append(s.ThreadInfo.Inputs,
		s16Input(pool, "a", 1000, 1<<20),
		s16Input(pool, "b", 234, 1<<20),
	)

	chunk := s.Render(16)
	defer chunk.Block.Release()

	if chunk.Length != 16 {
		t.Fatalf("rendered %d bytes, want 16", chunk.Length)
	}
	for i := 0; i < 8; i++ {
		got := int16(uint16(chunk.Bytes()[2*i]) | uint16(chunk.Bytes()[2*i+1])<<8)
		if got != 1234 {
			t.Errorf("sample %d = %d, want 1234", i, got)
		}
	}
}

func TestRenderAppliesMasterMute(t *testing.T) {
	s, pool := newTestSink(t)

	s.ThreadInfo.Inputs = append(s.ThreadInfo.Inputs, s16Input(pool, "a", 5555, 1<<20))
	s.ThreadInfo.Muted = true

	chunk := s.Render(32)
	defer chunk.Block.Release()

	silence := make([]byte, chunk.Length)
	sample.Silence(silence, s.Spec)
	if !bytes.Equal(chunk.Bytes(), silence) {
		t.Error("muted sink rendered non-silence")
	}
}

func TestRenderShortInputTruncates(t *testing.T) {
	s, pool := newTestSink(t)

	// Input delivers only 24 bytes per chunk.
	s.ThreadInfo.Inputs = append(s.ThreadInfo.Inputs, s16Input(pool, "a", 1, 24))

	chunk := s.Render(64)
	defer chunk.Block.Release()

	if chunk.Length != 24 {
		t.Errorf("rendered %d bytes, want 24", chunk.Length)
	}
	if s.Underruns.Load() != 1 {
		t.Errorf("Underruns = %d, want 1", s.Underruns.Load())
	}
}

func TestRenderBadLengthPanics(t *testing.T) {
	s, _ := newTestSink(t)

	defer func() {
		if recover() == nil {
			t.Error("Render with non-frame length did not panic")
		}
	}()
	s.Render(3)
}

func TestProcessRewindPropagatesToInputs(t *testing.T) {
	s, pool := newTestSink(t)

	var rewound int
	in := s16Input(pool, "a", 0, 1<<20)
	in.ProcessRewind = func(nbytes int) { rewound = nbytes }
	s.ThreadInfo.Inputs = append(s.ThreadInfo.Inputs, in)

	s.ThreadInfo.RewindNbytes = 8192
	s.ProcessRewind(8192)

	if rewound != 8192 {
		t.Errorf("input saw rewind of %d bytes, want 8192", rewound)
	}
	if s.ThreadInfo.RewindNbytes != 0 {
		t.Errorf("RewindNbytes = %d after ProcessRewind, want 0", s.ThreadInfo.RewindNbytes)
	}
	if s.RewoundBytes.Load() != 8192 {
		t.Errorf("RewoundBytes = %d, want 8192", s.RewoundBytes.Load())
	}
}

func TestRequestRewindClampsToMaxRewind(t *testing.T) {
	s, _ := newTestSink(t)

	s.ThreadInfo.MaxRewind = 4096
	s.RequestRewind(1 << 20)

	if s.ThreadInfo.RewindNbytes != 4096 {
		t.Errorf("RewindNbytes = %d, want 4096", s.ThreadInfo.RewindNbytes)
	}
}

func TestGenericMsgHandlesStateAndVolume(t *testing.T) {
	s, _ := newTestSink(t)

	if r := s.ProcessMsgGeneric(MsgSetState, StateRunning, 0, memblock.Chunk{}); r != 0 {
		t.Errorf("MsgSetState returned %d, want 0", r)
	}
	if s.ThreadInfo.State != StateRunning {
		t.Errorf("ThreadInfo.State = %v, want running", s.ThreadInfo.State)
	}

	cv := sample.CVolumeSet(2, sample.VolumeNorm/2)
	if r := s.ProcessMsgGeneric(MsgSetVolume, cv, 0, memblock.Chunk{}); r != 0 {
		t.Errorf("MsgSetVolume returned %d, want 0", r)
	}
	if s.ThreadInfo.Volume != cv {
		t.Error("volume not applied to thread info")
	}

	if r := s.ProcessMsgGeneric(MsgSetMute, true, 0, memblock.Chunk{}); r != 0 {
		t.Errorf("MsgSetMute returned %d, want 0", r)
	}
	if !s.ThreadInfo.Muted {
		t.Error("mute not applied to thread info")
	}

	if r := s.ProcessMsgGeneric(12345, nil, 0, memblock.Chunk{}); r != -1 {
		t.Errorf("unknown message returned %d, want -1", r)
	}
}

func TestAddInputUpdatesRequestedLatency(t *testing.T) {
	s, pool := newTestSink(t)

	var updates int
	s.UpdateRequestedLatencyFn = func() { updates++ }
	s.SetLatencyRange(0, 2*rtclock.UsecPerSec)

	a := s16Input(pool, "a", 0, 1<<20)
	a.RequestedLatency = 100 * rtclock.UsecPerMsec
	b := s16Input(pool, "b", 0, 1<<20)
	b.RequestedLatency = 40 * rtclock.UsecPerMsec

	s.ProcessMsgGeneric(MsgAddInput, a, 0, memblock.Chunk{})
	s.ProcessMsgGeneric(MsgAddInput, b, 0, memblock.Chunk{})

	if got := s.RequestedLatencyWithinThread(); got != 40*rtclock.UsecPerMsec {
		t.Errorf("requested latency = %d, want %d", got, 40*rtclock.UsecPerMsec)
	}
	if updates != 2 {
		t.Errorf("latency hook ran %d times, want 2", updates)
	}

	s.ProcessMsgGeneric(MsgRemoveInput, b.ID, 0, memblock.Chunk{})
	if got := s.RequestedLatencyWithinThread(); got != 100*rtclock.UsecPerMsec {
		t.Errorf("requested latency after remove = %d, want %d", got, 100*rtclock.UsecPerMsec)
	}
	if len(s.ThreadInfo.Inputs) != 1 {
		t.Errorf("inputs = %d, want 1", len(s.ThreadInfo.Inputs))
	}
}
