// Package sink implements the output endpoint input streams are mixed
// into. A sink is owned by a device driver: the driver supplies the
// message handler and latency hook, runs a device thread around an
// rtpoll, and pulls rendered audio through Render on that thread.
//
// Everything under ThreadInfo belongs to the device thread; the main
// thread reaches it only through the sink's inbound message queue.
package sink

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mixerd/mixerd/internal/asyncmsgq"
	"github.com/mixerd/mixerd/internal/memblock"
	"github.com/mixerd/mixerd/internal/rtclock"
	"github.com/mixerd/mixerd/internal/rtpoll"
	"github.com/mixerd/mixerd/internal/sample"
)

// State is a sink's lifecycle state.
type State int32

const (
	// StateIdle means linked but not rendering.
	StateIdle State = iota
	// StateRunning means the device thread is rendering on schedule.
	StateRunning
	// StateSuspended means rendering is paused and the device timer
	// disabled.
	StateSuspended
	// StateUnlinked means the sink has been removed and accepts no
	// further work.
	StateUnlinked
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateUnlinked:
		return "unlinked"
	}
	return fmt.Sprintf("invalid(%d)", int32(s))
}

// Control message codes delivered through the sink's inbound queue.
const (
	// MsgSetState carries a State in Data.
	MsgSetState = iota
	// MsgGetLatency writes the predicted buffered duration into the
	// *rtclock.Usec in Data.
	MsgGetLatency
	// MsgSetVolume carries a sample.CVolume in Data.
	MsgSetVolume
	// MsgSetMute carries a bool in Data.
	MsgSetMute
	// MsgAddInput carries an *Input in Data.
	MsgAddInput
	// MsgRemoveInput carries the input's uuid.UUID in Data.
	MsgRemoveInput
)

// Input is one stream connected to a sink. Pop and ProcessRewind are
// invoked on the device thread only.
type Input struct {
	// ID identifies the input across threads.
	ID uuid.UUID

	// Name is a human-readable stream label.
	Name string

	// Volume is the stream's per-channel volume in the mix.
	Volume sample.CVolume

	// RequestedLatency is the stream's declared latency need; zero
	// means no requirement.
	RequestedLatency rtclock.Usec

	// Pop produces up to nbytes of audio. Returning false means no
	// data is available this cycle; the stream is skipped. The sink
	// releases the chunk's block after mixing.
	Pop func(nbytes int) (memblock.Chunk, bool)

	// ProcessRewind tells the stream that nbytes of already-rendered
	// audio were thrown away and will be requested again. Optional.
	ProcessRewind func(nbytes int)
}

// ThreadInfo is the device-thread-private half of a sink.
type ThreadInfo struct {
	State        State
	Inputs       []*Input
	Volume       sample.CVolume
	Muted        bool
	RewindNbytes int
	MaxRewind    int

	// RequestedLatency is the minimum of the connected inputs'
	// declared needs, clamped to the sink's latency range. Zero when
	// no input declares one.
	RequestedLatency rtclock.Usec
}

// Data collects the construction parameters for a sink.
type Data struct {
	Name        string
	Description string
	Driver      string
	Spec        sample.Spec
	Map         sample.ChannelMap
}

// Sink is the rendering endpoint.
type Sink struct {
	Name        string
	Description string
	Driver      string
	Spec        sample.Spec
	Map         sample.ChannelMap

	// Inq is the inbound control queue, drained on the device thread.
	Inq *asyncmsgq.Queue

	// ProcessMsgFn, when set by the driver, intercepts control
	// messages; it normally falls back to ProcessMsgGeneric.
	ProcessMsgFn func(code int, data any, offset int64, chunk memblock.Chunk) int

	// UpdateRequestedLatencyFn is invoked on the device thread when
	// the requested latency changes.
	UpdateRequestedLatencyFn func()

	// Userdata points back at the driver's state.
	Userdata any

	// ThreadInfo is only touched on the device thread.
	ThreadInfo ThreadInfo

	pool   *memblock.Pool
	rtpoll *rtpoll.RTPoll
	logger *slog.Logger

	state atomic.Int32

	// refMu guards the main-thread reference copy of volume and mute,
	// which mirrors what was last sent to the device thread.
	refMu     sync.Mutex
	refVolume sample.CVolume
	refMuted  bool

	minLatency rtclock.Usec
	maxLatency rtclock.Usec

	// Render statistics, written on the device thread and read by the
	// metrics collector.
	RenderedBytes atomic.Uint64
	RenderCycles  atomic.Uint64
	Underruns     atomic.Uint64
	RewoundBytes  atomic.Uint64
}

// New creates a sink. The driver must still call SetAsyncMsgq and
// SetRTPoll before Put.
func New(d Data, pool *memblock.Pool, logger *slog.Logger) (*Sink, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("sink name must not be empty")
	}
	if err := d.Spec.Valid(); err != nil {
		return nil, fmt.Errorf("invalid sample spec: %w", err)
	}
	if d.Map.Channels != d.Spec.Channels {
		return nil, fmt.Errorf("channel map has %d channels, spec has %d", d.Map.Channels, d.Spec.Channels)
	}

	s := &Sink{
		Name:        d.Name,
		Description: d.Description,
		Driver:      d.Driver,
		Spec:        d.Spec,
		Map:         d.Map,
		pool:        pool,
		logger:      logger.With("subsystem", "sink", "sink", d.Name),
	}
	s.ThreadInfo.Volume = sample.CVolumeNorm(d.Spec.Channels)
	s.refVolume = s.ThreadInfo.Volume
	s.state.Store(int32(StateIdle))
	return s, nil
}

// SetAsyncMsgq installs the inbound control queue.
func (s *Sink) SetAsyncMsgq(q *asyncmsgq.Queue) { s.Inq = q }

// SetRTPoll associates the sink with its device thread's poll.
func (s *Sink) SetRTPoll(p *rtpoll.RTPoll) { s.rtpoll = p }

// RTPoll returns the associated poll driver.
func (s *Sink) RTPoll() *rtpoll.RTPoll { return s.rtpoll }

// SetLatencyRange bounds the latency the sink may be asked for.
func (s *Sink) SetLatencyRange(min, max rtclock.Usec) {
	if max <= 0 || (min > 0 && min > max) {
		panic(fmt.Sprintf("sink: invalid latency range [%d, %d]", min, max))
	}
	s.minLatency = min
	s.maxLatency = max
}

// MaxLatency returns the upper latency bound.
func (s *Sink) MaxLatency() rtclock.Usec { return s.maxLatency }

// Put publishes the sink: it becomes visible and starts running.
func (s *Sink) Put() {
	if s.Inq == nil || s.rtpoll == nil {
		panic("sink: Put before SetAsyncMsgq/SetRTPoll")
	}
	s.logger.Info("sink created",
		"spec", s.Spec.String(),
		"channel_map", s.Map.String(),
		"description", s.Description,
	)
	s.SetState(StateRunning)
}

// State returns the sink's state as seen from the main thread.
func (s *Sink) State() State { return State(s.state.Load()) }

// SetState posts a state change to the device thread and waits for it
// to take effect.
func (s *Sink) SetState(st State) {
	s.state.Store(int32(st))
	s.Inq.Send(s, MsgSetState, st, 0, memblock.Chunk{})
}

// Unlink removes the sink from service.
func (s *Sink) Unlink() {
	if s.State() == StateUnlinked {
		return
	}
	s.SetState(StateUnlinked)
	s.logger.Info("sink unlinked")
}

// GetLatency queries the device thread for the predicted buffered
// duration. An unlinked sink reports zero.
func (s *Sink) GetLatency() rtclock.Usec {
	if s.State() == StateUnlinked {
		return 0
	}
	var u rtclock.Usec
	s.Inq.Send(s, MsgGetLatency, &u, 0, memblock.Chunk{})
	return u
}

// SetVolume applies a per-channel volume on the device thread. Values
// above VolumeMax are clamped.
func (s *Sink) SetVolume(cv sample.CVolume) error {
	if cv.Channels != s.Spec.Channels {
		return fmt.Errorf("volume has %d channels, sink has %d", cv.Channels, s.Spec.Channels)
	}
	for i := 0; i < int(cv.Channels); i++ {
		cv.Values[i] = cv.Values[i].Clamp()
	}
	s.Inq.Send(s, MsgSetVolume, cv, 0, memblock.Chunk{})

	s.refMu.Lock()
	s.refVolume = cv
	s.refMu.Unlock()
	return nil
}

// Volume returns the last volume applied from the main thread.
func (s *Sink) Volume() sample.CVolume {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	return s.refVolume
}

// SetMuted mutes or unmutes the sink.
func (s *Sink) SetMuted(muted bool) {
	s.Inq.Send(s, MsgSetMute, muted, 0, memblock.Chunk{})

	s.refMu.Lock()
	s.refMuted = muted
	s.refMu.Unlock()
}

// Muted returns the last mute state applied from the main thread.
func (s *Sink) Muted() bool {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	return s.refMuted
}

// AttachInput connects a stream to the sink.
func (s *Sink) AttachInput(in *Input) {
	if in.ID == (uuid.UUID{}) {
		in.ID = uuid.New()
	}
	if in.Volume.Channels == 0 {
		in.Volume = sample.CVolumeNorm(s.Spec.Channels)
	}
	s.Inq.Send(s, MsgAddInput, in, 0, memblock.Chunk{})
	s.logger.Info("input attached", "input", in.Name, "input_id", in.ID.String())
}

// DetachInput disconnects the stream with the given ID.
func (s *Sink) DetachInput(id uuid.UUID) {
	s.Inq.Send(s, MsgRemoveInput, id, 0, memblock.Chunk{})
	s.logger.Info("input detached", "input_id", id.String())
}

// ProcessMsg implements asyncmsgq.Object. The driver's handler runs
// first when one is installed.
func (s *Sink) ProcessMsg(code int, data any, offset int64, chunk memblock.Chunk) int {
	if s.ProcessMsgFn != nil {
		return s.ProcessMsgFn(code, data, offset, chunk)
	}
	return s.ProcessMsgGeneric(code, data, offset, chunk)
}

// ProcessMsgGeneric handles the control messages every sink supports.
// Drivers delegate here for codes they do not intercept. Runs on the
// device thread.
func (s *Sink) ProcessMsgGeneric(code int, data any, offset int64, chunk memblock.Chunk) int {
	switch code {
	case MsgSetState:
		s.ThreadInfo.State = data.(State)
		return 0

	case MsgSetVolume:
		s.ThreadInfo.Volume = data.(sample.CVolume)
		return 0

	case MsgSetMute:
		s.ThreadInfo.Muted = data.(bool)
		return 0

	case MsgAddInput:
		in := data.(*Input)
		s.ThreadInfo.Inputs = append(s.ThreadInfo.Inputs, in)
		s.updateRequestedLatencyWithinThread()
		return 0

	case MsgRemoveInput:
		id := data.(uuid.UUID)
		for idx, in := range s.ThreadInfo.Inputs {
			if in.ID == id {
				s.ThreadInfo.Inputs = append(s.ThreadInfo.Inputs[:idx], s.ThreadInfo.Inputs[idx+1:]...)
				break
			}
		}
		s.updateRequestedLatencyWithinThread()
		return 0
	}

	s.logger.Warn("unhandled sink message", "code", code)
	return -1
}

// updateRequestedLatencyWithinThread recomputes the requested latency
// as the minimum of the connected inputs' declared needs and notifies
// the driver.
func (s *Sink) updateRequestedLatencyWithinThread() {
	var min rtclock.Usec
	for _, in := range s.ThreadInfo.Inputs {
		if in.RequestedLatency <= 0 {
			continue
		}
		if min == 0 || in.RequestedLatency < min {
			min = in.RequestedLatency
		}
	}

	if min != 0 {
		if s.minLatency > 0 && min < s.minLatency {
			min = s.minLatency
		}
		if s.maxLatency > 0 && min > s.maxLatency {
			min = s.maxLatency
		}
	}
	s.ThreadInfo.RequestedLatency = min

	if s.UpdateRequestedLatencyFn != nil {
		s.UpdateRequestedLatencyFn()
	}
}

// RequestedLatencyWithinThread returns the current requested latency.
// Device thread only.
func (s *Sink) RequestedLatencyWithinThread() rtclock.Usec {
	return s.ThreadInfo.RequestedLatency
}

// RequestRewind asks the sink to rewind up to nbytes of already
// rendered audio on its next cycle. Device thread only; the value is
// clamped to MaxRewind.
func (s *Sink) RequestRewind(nbytes int) {
	if s.ThreadInfo.MaxRewind > 0 && nbytes > s.ThreadInfo.MaxRewind {
		nbytes = s.ThreadInfo.MaxRewind
	}
	if nbytes > s.ThreadInfo.RewindNbytes {
		s.ThreadInfo.RewindNbytes = nbytes
	}
}

// ProcessRewind propagates a rewind of nbytes to the connected inputs
// and resets the pending rewind counter. Device thread only.
func (s *Sink) ProcessRewind(nbytes int) {
	s.ThreadInfo.RewindNbytes = 0
	if nbytes <= 0 {
		return
	}
	for _, in := range s.ThreadInfo.Inputs {
		if in.ProcessRewind != nil {
			in.ProcessRewind(nbytes)
		}
	}
	s.RewoundBytes.Add(uint64(nbytes))
	s.logger.Debug("rewound", "bytes", nbytes)
}

// Render pulls one chunk of up to nbytes of mixed audio from the
// connected inputs. With no inputs (or none with data) the chunk is
// silence of the full length. The caller must release the returned
// chunk's block exactly once. Device thread only.
func (s *Sink) Render(nbytes int) memblock.Chunk {
	if nbytes <= 0 || nbytes%s.Spec.FrameSize() != 0 {
		panic(fmt.Sprintf("sink: render length %d not a positive multiple of frame size %d", nbytes, s.Spec.FrameSize()))
	}

	block := s.pool.New(nbytes)
	chunk := memblock.NewChunk(block)

	infos := make([]sample.MixInfo, 0, len(s.ThreadInfo.Inputs))
	for _, in := range s.ThreadInfo.Inputs {
		c, ok := in.Pop(nbytes)
		if !ok || c.Length == 0 {
			continue
		}
		infos = append(infos, sample.MixInfo{Chunk: c, Volume: in.Volume})
	}

	master := s.ThreadInfo.Volume
	if s.ThreadInfo.Muted {
		master = sample.CVolumeMuted(s.Spec.Channels)
	}

	if len(infos) == 0 {
		sample.SilenceChunk(chunk, s.Spec)
		if len(s.ThreadInfo.Inputs) > 0 {
			s.Underruns.Add(1)
		}
	} else {
		n := sample.Mix(infos, chunk.Bytes(), s.Spec, master)
		for _, mi := range infos {
			mi.Chunk.Block.Release()
		}
		if n == 0 {
			// The inputs delivered nothing usable; hand back silence
			// so the device clock keeps advancing.
			sample.SilenceChunk(chunk, s.Spec)
			s.Underruns.Add(1)
		} else {
			chunk.Length = n
			if n < nbytes {
				s.Underruns.Add(1)
			}
		}
	}

	s.RenderedBytes.Add(uint64(chunk.Length))
	s.RenderCycles.Add(1)
	return chunk
}
