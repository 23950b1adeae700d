package mainctx

import (
	"strings"

	"golang.org/x/sys/unix"
)

// IOCondition is a mask of descriptor conditions, with values matching
// poll(2).
type IOCondition uint16

const (
	// IOIn indicates data is available to read.
	IOIn IOCondition = 1 << iota
	// IOPri indicates urgent data is available to read.
	IOPri
	// IOOut indicates writing will not block.
	IOOut
	// IOErr indicates an error condition.
	IOErr
	// IOHup indicates the peer hung up.
	IOHup
	// IONval indicates the descriptor is invalid.
	IONval
)

// ioAlways are the conditions reported regardless of the requested mask.
const ioAlways = IOErr | IOHup | IONval

// String returns a human-readable representation of the mask.
func (c IOCondition) String() string {
	if c == 0 {
		return "0"
	}
	var parts []string
	for _, v := range [...]struct {
		bit  IOCondition
		name string
	}{
		{IOIn, "IN"},
		{IOPri, "PRI"},
		{IOOut, "OUT"},
		{IOErr, "ERR"},
		{IOHup, "HUP"},
		{IONval, "NVAL"},
	} {
		if c&v.bit != 0 {
			parts = append(parts, v.name)
		}
	}
	return strings.Join(parts, "|")
}

// PollEvents converts the mask to poll(2) event bits.
func (c IOCondition) PollEvents() int16 {
	var events int16
	if c&IOIn != 0 {
		events |= unix.POLLIN
	}
	if c&IOPri != 0 {
		events |= unix.POLLPRI
	}
	if c&IOOut != 0 {
		events |= unix.POLLOUT
	}
	if c&IOErr != 0 {
		events |= unix.POLLERR
	}
	if c&IOHup != 0 {
		events |= unix.POLLHUP
	}
	if c&IONval != 0 {
		events |= unix.POLLNVAL
	}
	return events
}

// ConditionFromPoll converts poll(2) event bits to a mask.
func ConditionFromPoll(events int16) IOCondition {
	var c IOCondition
	if events&unix.POLLIN != 0 {
		c |= IOIn
	}
	if events&unix.POLLPRI != 0 {
		c |= IOPri
	}
	if events&unix.POLLOUT != 0 {
		c |= IOOut
	}
	if events&unix.POLLERR != 0 {
		c |= IOErr
	}
	if events&unix.POLLHUP != 0 {
		c |= IOHup
	}
	if events&unix.POLLNVAL != 0 {
		c |= IONval
	}
	return c
}

// PollFD pairs a descriptor and its requested conditions with the
// conditions observed by the most recent check.
type PollFD struct {
	FD      int
	Events  IOCondition
	REvents IOCondition
}
