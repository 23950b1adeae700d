//go:build linux || darwin

package reactor

import (
	"strings"
)

// maxFDLimit is the maximum FD value supported for dynamic growth.
const maxFDLimit = 100000000

// initialFDs is the initial size of the direct-indexed fd table.
const initialFDs = 1024

// Events is a mask of descriptor readiness conditions.
type Events uint32

const (
	// Readable indicates the descriptor is ready for reading.
	Readable Events = 1 << iota
	// Writable indicates the descriptor is ready for writing.
	Writable
	// Disconnect indicates the peer closed its end of the connection.
	Disconnect
	// Prioritized indicates urgent (out-of-band) data is available.
	Prioritized
)

// String returns a human-readable representation of the mask.
func (e Events) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	if e&Readable != 0 {
		parts = append(parts, "readable")
	}
	if e&Writable != 0 {
		parts = append(parts, "writable")
	}
	if e&Disconnect != 0 {
		parts = append(parts, "disconnect")
	}
	if e&Prioritized != 0 {
		parts = append(parts, "prioritized")
	}
	return strings.Join(parts, "|")
}

// ioCallback receives readiness for one descriptor. A non-nil err indicates
// an error condition, in which case events may be empty.
type ioCallback func(events Events, err error)

// fdInfo stores per-FD callback information.
type fdInfo struct {
	callback ioCallback
	events   Events
	active   bool
}

// fdTable is a direct-indexed, growable fd registry. It is only accessed
// from the loop goroutine, so it carries no lock.
type fdTable []fdInfo

func (t *fdTable) lookup(fd int) (fdInfo, bool) {
	if fd < 0 || fd >= len(*t) || !(*t)[fd].active {
		return fdInfo{}, false
	}
	return (*t)[fd], true
}

func (t *fdTable) insert(fd int, info fdInfo) error {
	if fd < 0 || fd >= maxFDLimit {
		return ErrFDOutOfRange
	}
	if fd >= len(*t) {
		// grow in chunks to minimize allocations
		newSize := fd*2 + 1
		if newSize < initialFDs {
			newSize = initialFDs
		}
		if newSize > maxFDLimit {
			newSize = maxFDLimit + 1
		}
		grown := make(fdTable, newSize)
		copy(grown, *t)
		*t = grown
	}
	if (*t)[fd].active {
		return ErrFDAlreadyRegistered
	}
	info.active = true
	(*t)[fd] = info
	return nil
}

func (t *fdTable) setEvents(fd int, events Events) (Events, error) {
	if fd < 0 || fd >= len(*t) || !(*t)[fd].active {
		return 0, ErrFDNotRegistered
	}
	old := (*t)[fd].events
	(*t)[fd].events = events
	return old, nil
}

func (t *fdTable) remove(fd int) (fdInfo, error) {
	if fd < 0 || fd >= len(*t) || !(*t)[fd].active {
		return fdInfo{}, ErrFDNotRegistered
	}
	info := (*t)[fd]
	(*t)[fd] = fdInfo{}
	return info, nil
}
