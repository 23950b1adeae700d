//go:build darwin

package reactor

import (
	"errors"

	"golang.org/x/sys/unix"
)

// fastPoller manages I/O event registration using kqueue (Darwin).
//
// It is confined to the loop goroutine, so the fd table is unlocked.
type fastPoller struct { // betteralign:ignore
	_        [64]byte           // Cache line padding //nolint:unused
	kq       int32              // kqueue file descriptor
	_        [60]byte           // Pad to cache line //nolint:unused
	eventBuf [256]unix.Kevent_t // Preallocated event buffer
	fds      fdTable
	closed   bool
}

// init initializes the kqueue instance.
func (p *fastPoller) init() error {
	if p.closed {
		return ErrPollerClosed
	}
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	p.kq = int32(kq)
	p.fds = make(fdTable, initialFDs)
	return nil
}

// close closes the kqueue instance.
func (p *fastPoller) close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.kq > 0 {
		return unix.Close(int(p.kq))
	}
	return nil
}

// probe reports whether kqueue accepts fd. Regular files are accepted by
// kqueue but always report readiness, so they are rejected up front.
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
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return err
	}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFREG, unix.S_IFDIR:
		return ErrNotPollable
	}
	return nil
}

// register adds fd to the kqueue with the given interest.
func (p *fastPoller) register(fd int, events Events, cb ioCallback) error {
	if p.closed {
		return ErrPollerClosed
	}
	if err := p.fds.insert(fd, fdInfo{callback: cb, events: events}); err != nil {
		return err
	}
	kevents := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevents) > 0 {
		if _, err := unix.Kevent(int(p.kq), kevents, nil, nil); err != nil {
			_, _ = p.fds.remove(fd) // Rollback
			return err
		}
	}
	return nil
}

// modify updates the interest for a registered fd, diffing the filters.
func (p *fastPoller) modify(fd int, events Events) error {
	if p.closed {
		return ErrPollerClosed
	}
	old, err := p.fds.setEvents(fd, events)
	if err != nil {
		return err
	}

	// Delete events that are no longer needed
	if del := old &^ events; del != 0 {
		if kevents := eventsToKevents(fd, del, unix.EV_DELETE); len(kevents) > 0 {
			_, _ = unix.Kevent(int(p.kq), kevents, nil, nil)
		}
	}

	// Add new events
	if add := events &^ old; add != 0 {
		if kevents := eventsToKevents(fd, add, unix.EV_ADD|unix.EV_ENABLE); len(kevents) > 0 {
			if _, err := unix.Kevent(int(p.kq), kevents, nil, nil); err != nil {
				_, _ = p.fds.setEvents(fd, old)
				return err
			}
		}
	}
	return nil
}

// unregister removes fd from the kqueue.
func (p *fastPoller) unregister(fd int) error {
	info, err := p.fds.remove(fd)
	if err != nil {
		return err
	}
	if p.closed {
		return nil
	}
	if kevents := eventsToKevents(fd, info.events, unix.EV_DELETE); len(kevents) > 0 {
		// the fd may already be closed, which removes its filters implicitly
		_, _ = unix.Kevent(int(p.kq), kevents, nil, nil)
	}
	return nil
}

// wait blocks for up to timeoutMs (forever if negative) and dispatches
// callbacks inline. Returns the number of events received.
func (p *fastPoller) wait(timeoutMs int) (int, error) {
	if p.closed {
		return 0, ErrPollerClosed
	}
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMs / 1000),
			Nsec: int64((timeoutMs % 1000) * 1000000),
		}
	}
	n, err := unix.Kevent(int(p.kq), nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Ident)
		info, ok := p.fds.lookup(fd)
		if !ok || info.callback == nil {
			continue
		}
		events, ioErr := keventToEvents(&p.eventBuf[i])
		info.callback(events, ioErr)
	}
	return n, nil
}

// eventsToKevents converts Events to kqueue filters. Disconnect and
// Prioritized have no filter of their own; EOF arrives on the read filter.
func eventsToKevents(fd int, events Events, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if events&(Readable|Disconnect|Prioritized) != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_READ,
			Flags:  flags,
		})
	}
	if events&Writable != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}
	return kevents
}

// keventToEvents converts a kevent to Events.
func keventToEvents(kev *unix.Kevent_t) (Events, error) {
	var events Events
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= Readable
	case unix.EVFILT_WRITE:
		events |= Writable
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= Disconnect
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		if kev.Data != 0 {
			return events, errors.Join(ErrPollFailed, unix.Errno(kev.Data))
		}
		return events, ErrPollFailed
	}
	return events, nil
}
