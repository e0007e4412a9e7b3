// Package nullsink implements the clocked null sink: a device driver
// whose thread renders mixed audio on a wall-clock schedule and
// discards it. It is the reference device for the rendering core and
// doubles as a latency sink for testing.
package nullsink

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/mixerd/mixerd/internal/asyncmsgq"
	"github.com/mixerd/mixerd/internal/core"
	"github.com/mixerd/mixerd/internal/memblock"
	"github.com/mixerd/mixerd/internal/modargs"
	"github.com/mixerd/mixerd/internal/rtclock"
	"github.com/mixerd/mixerd/internal/rtpoll"
	"github.com/mixerd/mixerd/internal/sink"
)

const defaultSinkName = "null"

// maxLatency bounds how far ahead of the wall clock the sink renders.
// A variable so tests can shrink the prefill window.
var maxLatency = 2 * rtclock.UsecPerSec

var validModargs = []string{
	"rate",
	"format",
	"channels",
	"sink_name",
	"channel_map",
	"description",
}

// Module is one loaded null sink instance.
type Module struct {
	core *core.Core
	sink *sink.Sink

	poll *rtpoll.RTPoll
	mq   *asyncmsgq.ThreadMQ

	// blockUsec is the target block duration; renders pull
	// UsecToBytes(blockUsec) at a time.
	blockUsec rtclock.Usec

	// timestamp is the virtual playback position: the wall-clock
	// instant up to which audio has already been produced. Device
	// thread only.
	timestamp rtclock.Usec

	done     chan struct{}
	unloadOnce sync.Once
	logger   *slog.Logger
}

// Load parses the module arguments, creates the sink and starts the
// device thread.
//
// Accepted arguments: format, channels, rate, sink_name, channel_map,
// description. Defaults come from the core's default sample spec.
func Load(c *core.Core, argstr string) (*Module, error) {
	ma, err := modargs.Parse(argstr, validModargs)
	if err != nil {
		return nil, fmt.Errorf("parsing module arguments: %w", err)
	}

	spec, cmap, err := ma.SampleSpecAndChannelMap(c.DefaultSpec)
	if err != nil {
		return nil, fmt.Errorf("invalid sample format specification or channel map: %w", err)
	}

	name := ma.Get("sink_name", defaultSinkName)

	u := &Module{
		core:   c,
		done:   make(chan struct{}),
		logger: c.Logger().With("subsystem", "module-null-sink", "sink", name),
	}

	u.poll = rtpoll.New(u.logger)
	u.mq, err = asyncmsgq.NewThreadMQ()
	if err != nil {
		u.poll.Free()
		return nil, fmt.Errorf("creating thread message queues: %w", err)
	}

	s, err := sink.New(sink.Data{
		Name:        name,
		Description: ma.Get("description", "Null Output"),
		Driver:      "module-null-sink",
		Spec:        spec,
		Map:         cmap,
	}, c.Pool(), u.logger)
	if err != nil {
		u.mq.Close()
		u.poll.Free()
		return nil, fmt.Errorf("creating sink: %w", err)
	}

	s.ProcessMsgFn = u.sinkProcessMsg
	s.UpdateRequestedLatencyFn = u.updateRequestedLatency
	s.Userdata = u
	s.SetAsyncMsgq(u.mq.Inq)
	s.SetRTPoll(u.poll)
	s.SetLatencyRange(0, maxLatency)
	u.sink = s

	u.blockUsec = s.MaxLatency()
	s.ThreadInfo.MaxRewind = spec.UsecToBytes(u.blockUsec)

	// The outbound queue must be serviced before the thread can fail
	// over it, and the thread must drain the inbound queue before Put
	// can deliver the first state change.
	c.ServiceQueue(u.mq.Outq)
	go u.thread()

	s.Put()

	if err := c.AddSink(s); err != nil {
		u.Unload()
		return nil, err
	}

	return u, nil
}

// Name returns the module's instance name.
func (u *Module) Name() string {
	return "module-null-sink/" + u.sink.Name
}

// Sink returns the module's sink.
func (u *Module) Sink() *sink.Sink { return u.sink }

// Unload tears the module down: unlinks the sink, shuts the device
// thread down cooperatively and releases the poll and queues. Safe to
// call more than once; only the first call does the work.
func (u *Module) Unload() {
	u.unloadOnce.Do(u.unload)
}

func (u *Module) unload() {
	u.sink.Unlink()
	u.core.RemoveSink(u.sink)

	// Shut the device thread down and join it.
	u.mq.Inq.Send(nil, asyncmsgq.CodeShutdown, nil, 0, memblock.Chunk{})
	<-u.done

	// Stop the main thread's servicing of our outbound queue.
	u.mq.Outq.Send(nil, asyncmsgq.CodeShutdown, nil, 0, memblock.Chunk{})

	u.mq.Close()
	u.poll.Free()
	u.logger.Info("module unloaded")
}

// sinkProcessMsg handles the sink's control messages on the device
// thread, delegating everything it does not intercept to the generic
// handler.
func (u *Module) sinkProcessMsg(code int, data any, offset int64, chunk memblock.Chunk) int {
	switch code {
	case sink.MsgSetState:
		if data.(sink.State) == sink.StateRunning {
			u.timestamp = rtclock.Now()
		}

	case sink.MsgGetLatency:
		now := rtclock.Now()
		var lat rtclock.Usec
		if u.timestamp > now {
			lat = u.timestamp - now
		}
		*data.(*rtclock.Usec) = lat
		return 0
	}

	return u.sink.ProcessMsgGeneric(code, data, offset, chunk)
}

// updateRequestedLatency adopts the inputs' requested latency as the
// block duration. Device thread only.
func (u *Module) updateRequestedLatency() {
	if req := u.sink.RequestedLatencyWithinThread(); req > 0 {
		u.blockUsec = req
	} else {
		u.blockUsec = u.sink.MaxLatency()
	}
}

// processRewind throws away up to the requested number of bytes of
// audio rendered ahead of the wall clock, clamped to what is actually
// buffered.
func (u *Module) processRewind(now rtclock.Usec) {
	rewindNbytes := u.sink.ThreadInfo.RewindNbytes
	u.sink.ThreadInfo.RewindNbytes = 0

	if rewindNbytes <= 0 {
		return
	}
	u.logger.Debug("requested to rewind", "bytes", rewindNbytes)

	if u.timestamp <= now {
		return
	}

	delay := u.timestamp - now
	inBuffer := u.sink.Spec.UsecToBytes(delay)
	if inBuffer <= 0 {
		return
	}

	if rewindNbytes > inBuffer {
		rewindNbytes = inBuffer
	}

	u.sink.ProcessRewind(rewindNbytes)
	u.timestamp -= u.sink.Spec.BytesToUsec(rewindNbytes)
}

// processRender pulls chunks until the virtual timestamp has advanced
// one block past now, discarding each chunk as soon as it is rendered.
func (u *Module) processRender(now rtclock.Usec) {
	// Inputs connected to us won't have more than the configured
	// latency queued, so read at most this many bytes per chunk.
	nbytes := u.sink.Spec.UsecToBytes(u.blockUsec)

	var ate int
	for u.timestamp < now+u.blockUsec {
		chunk := u.sink.Render(nbytes)
		chunk.Block.Release()

		u.timestamp += u.sink.Spec.BytesToUsec(chunk.Length)
		ate += chunk.Length

		if ate >= nbytes {
			break
		}
	}
}

// thread is the device thread: it sleeps in the poll loop and wakes
// precisely when new audio is due, when a message arrives, or when the
// main thread signals it.
func (u *Module) thread() {
	defer close(u.done)

	u.logger.Debug("device thread starting up")

	item := u.poll.NewItemAsyncMsgqRead(rtpoll.PriorityEarly, u.mq.Inq)
	defer item.Free()

	u.timestamp = rtclock.Now()

	for {
		if u.sink.ThreadInfo.State == sink.StateRunning {
			now := rtclock.Now()

			if u.sink.ThreadInfo.RewindNbytes > 0 {
				u.processRewind(now)
			}
			if u.timestamp <= now {
				u.processRender(now)
			}

			// The timer target is exactly the next moment new audio
			// is due.
			u.poll.SetTimerAbsolute(u.timestamp)
		} else {
			u.poll.SetTimerDisabled()
		}

		cont, err := u.poll.Run(true)
		if err != nil {
			// No regular exit: keep processing messages until the
			// shutdown message arrives.
			u.logger.Error("device thread poll failed", "error", err)
			u.mq.Outq.Post(u.core, core.MsgUnloadModule, u, 0, memblock.Chunk{})
			u.mq.Inq.WaitFor(asyncmsgq.CodeShutdown)
			break
		}
		if !cont {
			break
		}
	}

	u.logger.Debug("device thread shutting down")
}
