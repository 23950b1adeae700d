package bridge

import (
	"time"

	"github.com/joeycumines/go-loopbridge/mainctx"
	"github.com/joeycumines/go-loopbridge/reactor"
)

// Loop is the native reactor a Backend drives. Every method other than
// [Signal.Send] is only called from the owner goroutine.
type Loop interface {
	NewTimer() (Timer, error)
	NewPrepare() (Hook, error)
	NewCheck() (Hook, error)
	NewIdle() (Hook, error)
	// NewSignal creates a started cross-goroutine signal.
	NewSignal(cb func()) (Signal, error)
	// NewPoll fails with an error wrapping [reactor.ErrNotPollable] if the
	// descriptor kind cannot be watched.
	NewPoll(fd int) (PollHandle, error)
	// Run runs one turn, in RunOnce or RunNoWait mode.
	Run(mode reactor.RunMode) (bool, error)
}

// Closer is implemented by every handle. The callback runs on a later turn
// of the loop.
type Closer interface {
	Close(cb func())
}

// Timer is a one-shot timer.
type Timer interface {
	Closer
	Start(timeout time.Duration, cb func()) error
	Stop() error
}

// Hook is a per-turn callback: prepare, check, or idle.
type Hook interface {
	Closer
	Start(cb func()) error
	Stop() error
}

// Signal is a coalescing cross-goroutine wakeup.
type Signal interface {
	Closer
	Send() error
}

// PollHandle watches one descriptor. A non-nil err passed to the callback
// indicates an error condition.
type PollHandle interface {
	Closer
	Start(events mainctx.IOCondition, cb func(err error, revents mainctx.IOCondition)) error
	Stop() error
}

// Context is the scheduler a Backend drives. [*mainctx.Context] implements
// it.
type Context interface {
	Acquire() bool
	Release()
	Prepare() (maxPriority int, timeout time.Duration)
	Check(maxPriority int, fds []mainctx.PollFD) bool
	Dispatch()
}

var _ Context = (*mainctx.Context)(nil)
