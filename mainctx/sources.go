package mainctx

import (
	"time"
)

// NewTimeoutSource creates a source dispatching fn every interval, until fn
// returns false. The first expiry is interval after creation.
func NewTimeoutSource(interval time.Duration, fn func() bool) *Source {
	if interval < 0 {
		interval = 0
	}
	expiry := time.Now().Add(interval)
	return NewSource(SourceFuncs{
		Prepare: func(*Source) (bool, time.Duration) {
			remaining := time.Until(expiry)
			if remaining <= 0 {
				return true, 0
			}
			return false, remaining
		},
		Check: func(*Source) bool {
			return !time.Now().Before(expiry)
		},
		Dispatch: func(*Source) bool {
			if !fn() {
				return false
			}
			expiry = time.Now().Add(interval)
			return true
		},
	})
}

// NewIdleSource creates a source dispatching fn on every iteration, until
// fn returns false. Its priority is PriorityDefaultIdle.
func NewIdleSource(fn func() bool) *Source {
	s := NewSource(SourceFuncs{
		Prepare: func(*Source) (bool, time.Duration) {
			return true, 0
		},
		Check: func(*Source) bool {
			return true
		},
		Dispatch: func(*Source) bool {
			return fn()
		},
	})
	s.priority = PriorityDefaultIdle
	return s
}

// NewFDSource creates a source dispatching fn whenever fd satisfies cond,
// until fn returns false. Error conditions are always reported.
func NewFDSource(fd int, cond IOCondition, fn func(fd int, revents IOCondition) bool) *Source {
	var pfd *PollFD
	s := NewSource(SourceFuncs{
		Check: func(*Source) bool {
			return pfd.REvents&(pfd.Events|ioAlways) != 0
		},
		Dispatch: func(*Source) bool {
			return fn(pfd.FD, pfd.REvents)
		},
	})
	pfd = s.AddPoll(fd, cond)
	return s
}

// TimeoutAdd attaches a timeout source to c, returning its id.
func (c *Context) TimeoutAdd(interval time.Duration, fn func() bool) uint {
	return c.Attach(NewTimeoutSource(interval, fn))
}

// IdleAdd attaches an idle source to c, returning its id.
func (c *Context) IdleAdd(fn func() bool) uint {
	return c.Attach(NewIdleSource(fn))
}

// FDAdd attaches a descriptor source to c, returning its id.
func (c *Context) FDAdd(fd int, cond IOCondition, fn func(fd int, revents IOCondition) bool) uint {
	return c.Attach(NewFDSource(fd, cond, fn))
}
