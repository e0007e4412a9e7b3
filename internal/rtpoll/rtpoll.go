// Package rtpoll implements the single-thread cooperative poll driver a
// device thread runs its life inside. An RTPoll multiplexes a
// priority-ordered set of items — each contributing zero or more OS
// pollfds and up to three hooks — against one absolute-deadline timer.
//
// One run performs: every item's work hook, every item's before hook
// (unwinding already-prepared items in reverse if one refuses), one OS
// poll bounded by the timer, then every item's after hook. Items
// removed while a run is in flight are only marked dead and swept at
// the end of the run, so the item list stays intact while hooks
// execute.
package rtpoll

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/mixerd/mixerd/internal/rtclock"
)

// Priority orders items within a poll. Lower runs first. PriorityNever
// is a sentinel: such items never participate in polling or callbacks.
type Priority int

const (
	PriorityEarly  Priority = -100
	PriorityNormal Priority = 0
	PriorityLate   Priority = 100
	PriorityNever  Priority = math.MaxInt32
)

// maxRelativeTimer is the sanity ceiling for SetTimerRelative.
// Scheduling a device wakeup more than an hour out is always a bug.
const maxRelativeTimer = rtclock.Usec(time.Hour / time.Microsecond)

// initialPollfdAlloc is the starting capacity of the packed pollfd
// arrays.
const initialPollfdAlloc = 32

// RTPoll drives one device thread.
type RTPoll struct {
	pollfd  []unix.PollFd // packed array handed to ppoll
	pollfd2 []unix.PollFd // scratch for rebuilds
	alloc   int
	nUsed   int

	nextElapse   rtclock.Usec
	timerEnabled bool

	scanForDead   bool
	running       bool
	rebuildNeeded bool
	quit          bool
	timerElapsed  bool

	// items is kept sorted by non-decreasing priority.
	items []*Item

	logger  *slog.Logger
	errRate *rate.Limiter
}

// Item is one participant in an RTPoll: a priority, zero or more
// pollfds, and up to three hooks.
//
// Work runs before the sleep; returning >0 restarts the outer loop
// immediately, <0 aborts the run with an error. Before is the final
// check just before the poll, with the same return convention; when it
// refuses, the after hooks of already-prepared items run in reverse.
// After runs on every wakeup.
type Item struct {
	rtpoll *RTPoll
	dead   bool

	priority Priority

	fds  []unix.PollFd // window into the packed array, refreshed on rebuild
	nfds int

	work     func(*Item) int
	before   func(*Item) int
	after    func(*Item)
	userdata any
}

// New creates an empty poll driver.
func New(logger *slog.Logger) *RTPoll {
	if logger == nil {
		logger = slog.Default()
	}
	return &RTPoll{
		pollfd:  make([]unix.PollFd, initialPollfdAlloc),
		pollfd2: make([]unix.PollFd, initialPollfdAlloc),
		alloc:   initialPollfdAlloc,
		logger:  logger.With("subsystem", "rtpoll"),
		errRate: rate.NewLimiter(rate.Every(5*time.Second), 2),
	}
}

// Free destroys the poll and all remaining items. Must not be called
// while a run is in flight.
func (p *RTPoll) Free() {
	if p.running {
		panic("rtpoll: Free during Run")
	}
	for len(p.items) > 0 {
		p.destroyItem(p.items[0])
	}
	p.pollfd = nil
	p.pollfd2 = nil
}

// rebuild compacts every item's pollfds into one contiguous array,
// reallocating the double-buffered scratch when capacity is
// insufficient. Item-owned pollfd slices are invalidated; call sites
// that cache one must re-acquire it afterwards. Rebuild is idempotent.
func (p *RTPoll) rebuild() {
	p.rebuildNeeded = false

	ra := false
	if p.nUsed > p.alloc {
		p.alloc = p.nUsed * 2
		p.pollfd2 = make([]unix.PollFd, p.alloc)
		ra = true
	}

	off := 0
	for _, i := range p.items {
		if i.nfds > 0 {
			w := p.pollfd2[off : off+i.nfds : off+i.nfds]
			if i.fds != nil {
				copy(w, i.fds)
			} else {
				for k := range w {
					w[k] = unix.PollFd{}
				}
			}
			i.fds = w
		} else {
			i.fds = nil
		}
		off += i.nfds
	}

	if off != p.nUsed {
		panic(fmt.Sprintf("rtpoll: pollfd accounting out of sync: packed %d, used %d", off, p.nUsed))
	}

	p.pollfd, p.pollfd2 = p.pollfd2, p.pollfd
	if ra {
		p.pollfd2 = make([]unix.PollFd, p.alloc)
	}
}

func (p *RTPoll) resetAllRevents() {
	for _, i := range p.items {
		if i.dead {
			continue
		}
		for k := range i.fds {
			i.fds[k].Revents = 0
		}
	}
}

// Run performs one iteration of the poll loop: work hooks, before
// hooks, the OS poll (bounded by the timer when enabled, or returning
// immediately when wait is false or quit was requested), then after
// hooks. It returns (true, nil) to continue, (false, nil) after a quit
// request, or an error on an unrecoverable poll failure or a hook
// abort.
//
// At most one Run may be active at a time.
func (p *RTPoll) Run(wait bool) (cont bool, err error) {
	if p.running {
		panic("rtpoll: Run called while already running")
	}
	p.running = true
	p.timerElapsed = false

	defer func() {
		p.running = false
		if p.scanForDead {
			p.scanForDead = false
			live := p.items[:0]
			for _, i := range p.items {
				if i.dead {
					p.removeDead(i)
				} else {
					live = append(live, i)
				}
			}
			p.items = live
		}
		// Every non-error exit reports !quit, including the early
		// finishes below: a work-hook restart still means "keep going".
		if err == nil {
			cont = !p.quit
		}
	}()

	// First, some work.
	for idx := 0; idx < len(p.items); idx++ {
		i := p.items[idx]
		if i.priority >= PriorityNever {
			break
		}
		if i.dead || i.work == nil {
			continue
		}
		if p.quit {
			return false, nil
		}
		if k := i.work(i); k != 0 {
			if k < 0 {
				return false, fmt.Errorf("rtpoll: work callback aborted with %d", k)
			}
			return false, nil
		}
	}

	// Now prepare for entering the sleep.
	for idx := 0; idx < len(p.items); idx++ {
		i := p.items[idx]
		if i.priority >= PriorityNever {
			break
		}
		if i.dead || i.before == nil {
			continue
		}

		k := 0
		if !p.quit {
			k = i.before(i)
		}
		if p.quit || k != 0 {
			// This one won't let us enter the poll; unwind the items
			// whose before hook already ran, in reverse.
			for j := idx - 1; j >= 0; j-- {
				u := p.items[j]
				if u.dead || u.after == nil {
					continue
				}
				u.after(u)
			}
			if k < 0 {
				return false, fmt.Errorf("rtpoll: before callback aborted with %d", k)
			}
			return false, nil
		}
	}

	if p.rebuildNeeded {
		p.rebuild()
	}

	// Calculate the poll timeout.
	var timeout rtclock.Usec
	if wait && !p.quit && p.timerEnabled {
		if now := rtclock.Now(); p.nextElapse > now {
			timeout = p.nextElapse - now
		}
	}

	var n int
	var perr error
	if !wait || p.quit || p.timerEnabled {
		ts := timeout.Timespec()
		n, perr = unix.Ppoll(p.pollfd[:p.nUsed], &ts, nil)
	} else {
		n, perr = unix.Ppoll(p.pollfd[:p.nUsed], nil, nil)
	}

	p.timerElapsed = n == 0 && perr == nil

	if perr != nil {
		if perr == unix.EAGAIN || perr == unix.EINTR {
			// Spurious wake; not an error.
			perr = nil
		} else if p.errRate.Allow() {
			p.logger.Error("poll failed", "error", perr)
		}
		p.resetAllRevents()
	}

	// Tell everyone we left the sleep.
	for idx := 0; idx < len(p.items); idx++ {
		i := p.items[idx]
		if i.priority >= PriorityNever {
			break
		}
		if i.dead || i.after == nil {
			continue
		}
		i.after(i)
	}

	if perr != nil {
		return false, fmt.Errorf("rtpoll: poll: %w", perr)
	}
	return true, nil
}

// SetTimerAbsolute arms the timer for the given monotonic instant.
// Takes effect on the next iteration when called during a run.
func (p *RTPoll) SetTimerAbsolute(u rtclock.Usec) {
	p.nextElapse = u
	p.timerEnabled = true
}

// SetTimerRelative arms the timer for now + u.
func (p *RTPoll) SetTimerRelative(u rtclock.Usec) {
	if u > maxRelativeTimer {
		panic(fmt.Sprintf("rtpoll: relative timer of %dus exceeds one hour", u))
	}
	p.nextElapse = rtclock.Now() + u
	p.timerEnabled = true
}

// SetTimerDisabled disables the timer; with no fds the next Run(true)
// blocks indefinitely.
func (p *RTPoll) SetTimerDisabled() {
	p.nextElapse = 0
	p.timerEnabled = false
}

// Quit requests the loop to stop: the next poll is non-blocking and Run
// returns false at the next completion.
func (p *RTPoll) Quit() {
	p.quit = true
}

// TimerElapsed reports whether the last poll returned because the
// deadline elapsed rather than because an fd fired.
func (p *RTPoll) TimerElapsed() bool {
	return p.timerElapsed
}

// removeDead finalizes a dead item during the post-run sweep; the item
// has already been filtered out of the list.
func (p *RTPoll) removeDead(i *Item) {
	p.nUsed -= i.nfds
	p.rebuildNeeded = true
	i.rtpoll = nil
}

// destroyItem removes an item immediately. Only valid outside a run.
func (p *RTPoll) destroyItem(i *Item) {
	for idx, it := range p.items {
		if it == i {
			p.items = append(p.items[:idx], p.items[idx+1:]...)
			break
		}
	}
	p.nUsed -= i.nfds
	p.rebuildNeeded = true
	i.rtpoll = nil
}
