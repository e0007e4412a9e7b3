// Package fdsem implements a one-writer signalling primitive whose
// signalled state is visible as readability of a file descriptor, so it
// composes with the realtime poll loop. An eventfd carries the signal;
// kernels without eventfd fall back to a pipe.
package fdsem

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ErrSignalled is returned by BeforePoll when the semaphore is already
// signalled, so the caller can skip the sleep entirely.
var ErrSignalled = errors.New("fdsem: already signalled")

// FdSem is a file-descriptor-backed semaphore. Post may be called from
// any goroutine; BeforePoll/AfterPoll belong to the single waiter.
type FdSem struct {
	readFd  int
	writeFd int // equals readFd when backed by an eventfd
	eventfd bool

	// signalled counts posts not yet consumed by AfterPoll. It mirrors
	// the fd state so BeforePoll can short-circuit without a syscall.
	signalled atomic.Int32
}

// New creates a semaphore, preferring an eventfd.
func New() (*FdSem, error) {
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err == nil {
		return &FdSem{readFd: efd, writeFd: efd, eventfd: true}, nil
	}
	if !errors.Is(err, unix.ENOSYS) {
		return nil, fmt.Errorf("creating eventfd: %w", err)
	}

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, fmt.Errorf("creating pipe: %w", err)
	}
	return &FdSem{readFd: fds[0], writeFd: fds[1]}, nil
}

// Fd returns the descriptor to poll for readability.
func (s *FdSem) Fd() int { return s.readFd }

// Post signals the semaphore. Multiple posts before the next AfterPoll
// coalesce into one wakeup.
//
// The fd token is always written; the atomic counter is only a hint for
// BeforePoll. Skipping the write when the counter is already positive
// would race with a concurrent drain and lose the wakeup.
func (s *FdSem) Post() {
	s.signalled.Add(1)

	var buf [8]byte
	n := 1
	buf[0] = 'x'
	if s.eventfd {
		// An eventfd transfers a host-order uint64 counter.
		binary.NativeEndian.PutUint64(buf[:], 1)
		n = 8
	}
	for {
		_, err := unix.Write(s.writeFd, buf[:n])
		if err == unix.EINTR {
			continue
		}
		// EAGAIN means the counter/pipe already carries a signal,
		// which is just as good.
		return
	}
}

// BeforePoll declares intent to sleep on the fd. When a post is
// pending it consumes the signal and returns ErrSignalled so the caller
// can short-circuit the poll and restart its loop; otherwise the fd is
// clean and ready to sleep on.
//
// The counter is consumed before the fd is drained, mirroring Post's
// bump-then-write order: whichever side of a racing Post we observe,
// either the counter or an fd token survives to carry the wakeup.
func (s *FdSem) BeforePoll() error {
	if s.signalled.Swap(0) == 0 {
		return nil
	}
	s.drain()
	return ErrSignalled
}

// AfterPoll consumes all pending signals after a wakeup.
func (s *FdSem) AfterPoll() {
	s.signalled.Swap(0)
	s.drain()
}

func (s *FdSem) drain() {
	var buf [64]byte
	for {
		_, err := unix.Read(s.readFd, buf[:])
		if err == unix.EINTR {
			continue
		}
		break
	}
}

// Close releases the descriptors.
func (s *FdSem) Close() error {
	err := unix.Close(s.readFd)
	if !s.eventfd {
		if err2 := unix.Close(s.writeFd); err == nil {
			err = err2
		}
	}
	return err
}
