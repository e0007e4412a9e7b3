package rtpoll

import (
	"sort"

	"golang.org/x/sys/unix"

	"github.com/mixerd/mixerd/internal/asyncmsgq"
	"github.com/mixerd/mixerd/internal/fdsem"
)

// NewItem creates an item with room for nfds pollfds and inserts it in
// priority order, ahead of existing items of equal priority.
func (p *RTPoll) NewItem(prio Priority, nfds int) *Item {
	i := &Item{rtpoll: p, priority: prio, nfds: nfds}

	idx := sort.Search(len(p.items), func(k int) bool {
		return p.items[k].priority >= prio
	})
	p.items = append(p.items, nil)
	copy(p.items[idx+1:], p.items[idx:])
	p.items[idx] = i

	if nfds > 0 {
		p.rebuildNeeded = true
		p.nUsed += nfds
	}
	return i
}

// Free removes the item. During a run it only marks the item dead and
// defers the actual removal to the end of the current run, preserving
// list integrity while hooks execute.
func (i *Item) Free() {
	if i.rtpoll.running {
		i.dead = true
		i.rtpoll.scanForDead = true
		return
	}
	i.rtpoll.destroyItem(i)
}

// PollFds returns the item's pollfd window, rebuilding the packed array
// first if necessary. The returned slice is invalidated by the next
// rebuild; re-acquire it after items are inserted or removed.
func (i *Item) PollFds() []unix.PollFd {
	if i.nfds > 0 && i.rtpoll.rebuildNeeded {
		i.rtpoll.rebuild()
	}
	return i.fds
}

// SetWorkCallback installs the work hook.
func (i *Item) SetWorkCallback(fn func(*Item) int) {
	if i.priority >= PriorityNever {
		panic("rtpoll: callback on PriorityNever item")
	}
	i.work = fn
}

// SetBeforeCallback installs the before hook.
func (i *Item) SetBeforeCallback(fn func(*Item) int) {
	if i.priority >= PriorityNever {
		panic("rtpoll: callback on PriorityNever item")
	}
	i.before = fn
}

// SetAfterCallback installs the after hook.
func (i *Item) SetAfterCallback(fn func(*Item)) {
	if i.priority >= PriorityNever {
		panic("rtpoll: callback on PriorityNever item")
	}
	i.after = fn
}

// SetUserdata attaches opaque data to the item.
func (i *Item) SetUserdata(v any) { i.userdata = v }

// Userdata returns the data attached with SetUserdata.
func (i *Item) Userdata() any { return i.userdata }

// RTPoll returns the poll the item belongs to.
func (i *Item) RTPoll() *RTPoll { return i.rtpoll }

// NewItemFdsem creates an item that wakes the poll when the semaphore
// is posted and consumes the signal on wakeup.
func (p *RTPoll) NewItemFdsem(prio Priority, s *fdsem.FdSem) *Item {
	i := p.NewItem(prio, 1)

	fds := i.PollFds()
	fds[0] = unix.PollFd{Fd: int32(s.Fd()), Events: unix.POLLIN}

	i.before = func(*Item) int {
		if s.BeforePoll() != nil {
			return 1 // already signalled: restart the loop immediately
		}
		return 0
	}
	i.after = func(*Item) {
		s.AfterPoll()
	}
	i.userdata = s
	return i
}

// NewItemAsyncMsgqRead creates an item for the receive side of a
// message queue. Its work hook drains and dispatches one message per
// wakeup; a Shutdown message is acked and quits the poll.
func (p *RTPoll) NewItemAsyncMsgqRead(prio Priority, q *asyncmsgq.Queue) *Item {
	i := p.NewItem(prio, 1)

	fds := i.PollFds()
	fds[0] = unix.PollFd{Fd: int32(q.ReadFd()), Events: unix.POLLIN}

	i.work = func(i *Item) int {
		m, ok := q.Get()
		if !ok {
			return 0
		}
		if m.Object == nil && m.Code == asyncmsgq.CodeShutdown {
			q.Done(0)
			i.rtpoll.Quit()
			return 1
		}
		q.Done(asyncmsgq.Dispatch(m))
		return 1
	}
	i.before = func(*Item) int {
		if q.ReadBeforePoll() != nil {
			return 1
		}
		return 0
	}
	i.after = func(*Item) {
		q.ReadAfterPoll()
	}
	i.userdata = q
	return i
}

// NewItemAsyncMsgqWrite creates an item for the send side of a message
// queue, waking the poll when space becomes available.
func (p *RTPoll) NewItemAsyncMsgqWrite(prio Priority, q *asyncmsgq.Queue) *Item {
	i := p.NewItem(prio, 1)

	fds := i.PollFds()
	fds[0] = unix.PollFd{Fd: int32(q.WriteFd()), Events: unix.POLLIN}

	i.before = func(*Item) int {
		q.WriteBeforePoll()
		return 0
	}
	i.after = func(*Item) {
		q.WriteAfterPoll()
	}
	i.userdata = q
	return i
}
