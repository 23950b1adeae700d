package reactor

import (
	"sync/atomic"
)

// Async runs a callback on the loop goroutine after [Async.Send] is called
// from any goroutine. Sends that arrive before the callback runs coalesce
// into one invocation.
//
// An Async is active from creation until closed.
type Async struct {
	handle
	cb      func(*Async)
	pending atomic.Bool
	sealed  atomic.Bool
}

// NewAsync creates an active async handle.
func (l *Loop) NewAsync(cb func(*Async)) (*Async, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	if cb == nil {
		return nil, &HandleError{Kind: KindAsync, Op: "init", Cause: errNilCallback}
	}
	a := &Async{cb: cb}
	a.init(l, KindAsync)
	l.asyncs = append(l.asyncs, a)
	a.setActive(true)
	return a, nil
}

// Send requests the callback be run on the loop goroutine. It is safe to
// call from any goroutine, including concurrently with Close, in which case
// it either wakes the loop or returns an error wrapping [ErrHandleClosing].
func (a *Async) Send() error {
	if a.sealed.Load() {
		return &HandleError{Kind: KindAsync, Op: "send", Cause: ErrHandleClosing}
	}
	if !a.pending.CompareAndSwap(false, true) {
		// already pending, the loop will observe it
		return nil
	}
	return a.loop.wake()
}

// Close stops the handle and schedules cb for the closing phase. Pending
// sends are discarded.
func (a *Async) Close(cb func()) {
	a.beginClose(cb)
	a.sealed.Store(true)
	l := a.loop
	for i, v := range l.asyncs {
		if v == a {
			copy(l.asyncs[i:], l.asyncs[i+1:])
			l.asyncs[len(l.asyncs)-1] = nil
			l.asyncs = l.asyncs[:len(l.asyncs)-1]
			break
		}
	}
	a.setActive(false)
}

// runAsyncs invokes the callback of every async handle with a pending send.
func (l *Loop) runAsyncs() {
	if len(l.asyncs) == 0 {
		return
	}
	l.asyncScratch = append(l.asyncScratch[:0], l.asyncs...)
	for i, a := range l.asyncScratch {
		l.asyncScratch[i] = nil
		if a.closing || a.closed {
			continue
		}
		if a.pending.Swap(false) {
			a.cb(a)
		}
	}
}
