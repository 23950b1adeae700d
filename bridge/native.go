package bridge

import (
	"time"

	"github.com/joeycumines/go-loopbridge/mainctx"
	"github.com/joeycumines/go-loopbridge/reactor"
)

// NativeLoop adapts a reactor loop to the Loop interface.
func NativeLoop(l *reactor.Loop) Loop {
	return nativeLoop{l}
}

type nativeLoop struct{ l *reactor.Loop }

func (n nativeLoop) NewTimer() (Timer, error) {
	t, err := n.l.NewTimer()
	if err != nil {
		return nil, err
	}
	return nativeTimer{t}, nil
}

func (n nativeLoop) NewPrepare() (Hook, error) {
	h, err := n.l.NewPrepare()
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (n nativeLoop) NewCheck() (Hook, error) {
	h, err := n.l.NewCheck()
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (n nativeLoop) NewIdle() (Hook, error) {
	h, err := n.l.NewIdle()
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (n nativeLoop) NewSignal(cb func()) (Signal, error) {
	a, err := n.l.NewAsync(func(*reactor.Async) { cb() })
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (n nativeLoop) NewPoll(fd int) (PollHandle, error) {
	p, err := n.l.NewPoll(fd)
	if err != nil {
		return nil, err
	}
	return nativePoll{p}, nil
}

func (n nativeLoop) Run(mode reactor.RunMode) (bool, error) {
	return n.l.Run(mode)
}

type nativeTimer struct{ t *reactor.Timer }

func (n nativeTimer) Start(timeout time.Duration, cb func()) error {
	return n.t.Start(timeout, 0, func(*reactor.Timer) { cb() })
}

func (n nativeTimer) Stop() error { return n.t.Stop() }

func (n nativeTimer) Close(cb func()) { n.t.Close(cb) }

type nativePoll struct{ p *reactor.Poll }

func (n nativePoll) Start(events mainctx.IOCondition, cb func(err error, revents mainctx.IOCondition)) error {
	return n.p.Start(conditionToEvents(events), func(_ *reactor.Poll, err error, events reactor.Events) {
		cb(err, eventsToCondition(events))
	})
}

func (n nativePoll) Stop() error { return n.p.Stop() }

func (n nativePoll) Close(cb func()) { n.p.Close(cb) }

// conditionToEvents translates a requested mask. Interest in input implies
// interest in hangup, which the reactor only reports on request.
func conditionToEvents(c mainctx.IOCondition) reactor.Events {
	var events reactor.Events
	if c&mainctx.IOIn != 0 {
		events |= reactor.Readable | reactor.Disconnect
	}
	if c&mainctx.IOOut != 0 {
		events |= reactor.Writable
	}
	if c&mainctx.IOPri != 0 {
		events |= reactor.Prioritized
	}
	if c&mainctx.IOHup != 0 {
		events |= reactor.Disconnect
	}
	return events
}

// eventsToCondition translates observed readiness.
func eventsToCondition(events reactor.Events) mainctx.IOCondition {
	var c mainctx.IOCondition
	if events&reactor.Readable != 0 {
		c |= mainctx.IOIn
	}
	if events&reactor.Writable != 0 {
		c |= mainctx.IOOut
	}
	if events&reactor.Prioritized != 0 {
		c |= mainctx.IOPri
	}
	if events&reactor.Disconnect != 0 {
		c |= mainctx.IOHup
	}
	return c
}
