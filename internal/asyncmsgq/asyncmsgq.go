// Package asyncmsgq implements the single-producer/single-consumer
// message queues the main thread and the device threads talk through.
// Delivery is strictly FIFO; senders may block for an integer reply.
// Both directions of edge (not-empty on the read side, not-full on the
// write side) are visible as readable file descriptors so a queue can
// participate in the realtime poll loop.
package asyncmsgq

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/mixerd/mixerd/internal/fdsem"
	"github.com/mixerd/mixerd/internal/memblock"
)

// CodeShutdown is the distinguished message code that, posted with a
// nil object, terminates the receiver's loop. The receiver must ack it
// via Done before exiting.
const CodeShutdown = -1

// Object is a message target: anything that can process a control
// message on the receiving thread.
type Object interface {
	ProcessMsg(code int, data any, offset int64, chunk memblock.Chunk) int
}

// Message is one queued control message.
type Message struct {
	Object Object
	Code   int
	Data   any
	Offset int64
	Chunk  memblock.Chunk

	reply chan int // non-nil for Send; Done delivers here
}

// Queue is an SPSC FIFO of Messages.
type Queue struct {
	mu     sync.Mutex
	items  []Message
	closed bool

	readSem  *fdsem.FdSem // signalled when the queue becomes non-empty
	writeSem *fdsem.FdSem // signalled when the queue drains (not-full edge)

	// current is the message handed out by Get and not yet acked by
	// Done. Only the receiver touches it.
	current *Message
	hasCur  bool
}

// New creates a queue.
func New() (*Queue, error) {
	rs, err := fdsem.New()
	if err != nil {
		return nil, fmt.Errorf("creating read semaphore: %w", err)
	}
	ws, err := fdsem.New()
	if err != nil {
		rs.Close()
		return nil, fmt.Errorf("creating write semaphore: %w", err)
	}
	return &Queue{readSem: rs, writeSem: ws}, nil
}

// Close releases the queue's descriptors. Messages still queued — and
// any sent afterwards — are dropped with their senders acked (reply 0),
// so a straggling Send can never hang on a receiver that already exited.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	stale := q.items
	q.items = nil
	q.mu.Unlock()

	for i := range stale {
		if stale[i].reply != nil {
			stale[i].reply <- 0
		}
	}

	err := q.readSem.Close()
	if err2 := q.writeSem.Close(); err == nil {
		err = err2
	}
	return err
}

func (q *Queue) push(m Message) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		if m.reply != nil {
			m.reply <- 0
		}
		return
	}
	q.items = append(q.items, m)
	q.mu.Unlock()
	q.readSem.Post()
}

// Post enqueues a fire-and-forget message.
func (q *Queue) Post(o Object, code int, data any, offset int64, chunk memblock.Chunk) {
	q.push(Message{Object: o, Code: code, Data: data, Offset: offset, Chunk: chunk})
}

// Send enqueues a message and blocks until the receiver acks it with
// Done, returning the reply. Must not be called from the receiving
// thread.
func (q *Queue) Send(o Object, code int, data any, offset int64, chunk memblock.Chunk) int {
	reply := make(chan int, 1)
	q.push(Message{Object: o, Code: code, Data: data, Offset: offset, Chunk: chunk, reply: reply})
	return <-reply
}

// Get pops the next message without blocking. The receiver must call
// Done exactly once for every successful Get before the next Get.
func (q *Queue) Get() (*Message, bool) {
	if q.hasCur {
		panic("asyncmsgq: Get before Done of previous message")
	}

	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil, false
	}
	m := q.items[0]
	q.items = q.items[1:]
	empty := len(q.items) == 0
	q.mu.Unlock()

	q.current = &m
	q.hasCur = true

	if empty {
		// The queue drained; wake a writer waiting for the not-full edge.
		q.writeSem.Post()
	}
	return q.current, true
}

// Done acks the message returned by the last Get, delivering the reply
// to a blocked Send if there is one.
func (q *Queue) Done(reply int) {
	if !q.hasCur {
		panic("asyncmsgq: Done without a pending Get")
	}
	m := q.current
	q.current = nil
	q.hasCur = false

	if m.reply != nil {
		m.reply <- reply
	}
}

// Dispatch routes a message to its target object. A nil object accepts
// only CodeShutdown, which is handled by the caller.
func Dispatch(m *Message) int {
	if m.Object == nil {
		panic(fmt.Sprintf("asyncmsgq: message code %d with no target object", m.Code))
	}
	return m.Object.ProcessMsg(m.Code, m.Data, m.Offset, m.Chunk)
}

// ReadFd returns the fd that is readable while the queue is non-empty.
func (q *Queue) ReadFd() int { return q.readSem.Fd() }

// WriteFd returns the fd that is readable when space becomes available.
func (q *Queue) WriteFd() int { return q.writeSem.Fd() }

// ReadBeforePoll declares the receiver's intent to sleep. It returns an
// error when messages are already pending so the caller can skip the
// poll. Stale wakeup tokens from messages the caller already drained
// are consumed here; the queue contents are authoritative.
func (q *Queue) ReadBeforePoll() error {
	q.readSem.AfterPoll()

	q.mu.Lock()
	pending := len(q.items) > 0
	q.mu.Unlock()
	if pending {
		// A post that lands between the drain above and this check
		// leaves its token unconsumed, so the next poll wakes again.
		return fdsem.ErrSignalled
	}
	return nil
}

// ReadAfterPoll consumes the read-side wakeup after the poll returns.
func (q *Queue) ReadAfterPoll() { q.readSem.AfterPoll() }

// WriteBeforePoll declares a writer's intent to sleep on the not-full
// edge.
func (q *Queue) WriteBeforePoll() { _ = q.writeSem.BeforePoll() }

// WriteAfterPoll consumes the write-side wakeup.
func (q *Queue) WriteAfterPoll() { q.writeSem.AfterPoll() }

// WaitFor blocks the receiver until a message with the given code
// arrives, dispatching every message that has a target and acking it
// with the handler's reply (reply 0 for messages without a target),
// including the matching one. It is the escape hatch a failed device thread uses to keep
// servicing its queue until the shutdown message arrives.
func (q *Queue) WaitFor(code int) {
	for {
		if m, ok := q.Get(); ok {
			c := m.Code
			if m.Object != nil {
				q.Done(Dispatch(m))
			} else {
				q.Done(0)
			}
			if c == code {
				return
			}
			continue
		}

		if err := q.ReadBeforePoll(); err != nil {
			continue
		}
		q.waitReadable()
		q.ReadAfterPoll()
	}
}

// Recv blocks until a message is available and returns it. Used by the
// main thread's maintenance loop; device threads use the rtpoll item
// instead.
func (q *Queue) Recv() *Message {
	for {
		if m, ok := q.Get(); ok {
			return m
		}
		if err := q.ReadBeforePoll(); err != nil {
			continue
		}
		q.waitReadable()
		q.ReadAfterPoll()
	}
}

func (q *Queue) waitReadable() {
	fds := []unix.PollFd{{Fd: int32(q.ReadFd()), Events: unix.POLLIN}}
	for {
		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		return
	}
}
