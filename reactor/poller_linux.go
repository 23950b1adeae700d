//go:build linux

package reactor

import (
	"errors"

	"golang.org/x/sys/unix"
)

// fastPoller manages I/O event registration using epoll (Linux).
//
// Unlike a general purpose poller it is confined to the loop goroutine:
// registration and dispatch never race, so the fd table is unlocked.
type fastPoller struct { // betteralign:ignore
	_        [64]byte             // Cache line padding //nolint:unused
	epfd     int32                // epoll file descriptor
	_        [60]byte             // Pad to cache line //nolint:unused
	eventBuf [256]unix.EpollEvent // Preallocated event buffer
	fds      fdTable
	closed   bool
}

// init initializes the epoll instance.
func (p *fastPoller) init() error {
	if p.closed {
		return ErrPollerClosed
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = int32(epfd)
	p.fds = make(fdTable, initialFDs)
	return nil
}

// close closes the epoll instance.
func (p *fastPoller) close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.epfd > 0 {
		return unix.Close(int(p.epfd))
	}
	return nil
}

// probe reports whether epoll accepts fd, by adding then deleting it.
// Regular files and directories fail with EPERM.
func (p *fastPoller) probe(fd int) error {
	if p.closed {
		return ErrPollerClosed
	}
	if fd < 0 || fd >= maxFDLimit {
		return ErrFDOutOfRange
	}
	if _, ok := p.fds.lookup(fd); ok {
		return ErrFDAlreadyRegistered
	}
	ev := unix.EpollEvent{Fd: int32(fd)}
	if err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		if errors.Is(err, unix.EPERM) {
			return ErrNotPollable
		}
		if errors.Is(err, unix.EEXIST) {
			return ErrFDAlreadyRegistered
		}
		return err
	}
	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_DEL, fd, nil)
}

// register adds fd to the epoll set with the given interest.
func (p *fastPoller) register(fd int, events Events, cb ioCallback) error {
	if p.closed {
		return ErrPollerClosed
	}
	if err := p.fds.insert(fd, fdInfo{callback: cb, events: events}); err != nil {
		return err
	}
	ev := unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		_, _ = p.fds.remove(fd) // Rollback
		if errors.Is(err, unix.EPERM) {
			return ErrNotPollable
		}
		return err
	}
	return nil
}

// modify updates the interest for a registered fd.
func (p *fastPoller) modify(fd int, events Events) error {
	if p.closed {
		return ErrPollerClosed
	}
	old, err := p.fds.setEvents(fd, events)
	if err != nil {
		return err
	}
	ev := unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		_, _ = p.fds.setEvents(fd, old)
		return err
	}
	return nil
}

// unregister removes fd from the epoll set.
func (p *fastPoller) unregister(fd int) error {
	if _, err := p.fds.remove(fd); err != nil {
		return err
	}
	if p.closed {
		return nil
	}
	err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_DEL, fd, nil)
	if errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOENT) {
		// the descriptor was closed before being unregistered
		return nil
	}
	return err
}

// wait blocks for up to timeoutMs (forever if negative) and dispatches
// callbacks inline. Returns the number of events received.
func (p *fastPoller) wait(timeoutMs int) (int, error) {
	if p.closed {
		return 0, ErrPollerClosed
	}
	n, err := unix.EpollWait(int(p.epfd), p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		// re-read per event: earlier callbacks may unregister later fds
		info, ok := p.fds.lookup(fd)
		if !ok || info.callback == nil {
			continue
		}
		events, ioErr := epollToEvents(p.eventBuf[i].Events)
		info.callback(events, ioErr)
	}
	return n, nil
}

// eventsToEpoll converts Events to epoll event flags.
func eventsToEpoll(events Events) uint32 {
	var epollEvents uint32
	if events&Readable != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&Writable != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	if events&Prioritized != 0 {
		epollEvents |= unix.EPOLLPRI
	}
	if events&Disconnect != 0 {
		epollEvents |= unix.EPOLLRDHUP
	}
	return epollEvents
}

// epollToEvents converts epoll event flags to Events.
// A hangup makes pending reads and writes observable, so it sets both.
func epollToEvents(epollEvents uint32) (Events, error) {
	var events Events
	if epollEvents&unix.EPOLLIN != 0 {
		events |= Readable
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= Writable
	}
	if epollEvents&unix.EPOLLPRI != 0 {
		events |= Prioritized
	}
	if epollEvents&unix.EPOLLRDHUP != 0 {
		events |= Disconnect
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= Readable | Writable | Disconnect
	}
	if epollEvents&unix.EPOLLERR != 0 {
		return events, ErrPollFailed
	}
	return events, nil
}
