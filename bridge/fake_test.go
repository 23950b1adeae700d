package bridge

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-loopbridge/mainctx"
	"github.com/joeycumines/go-loopbridge/reactor"
)

var errInjected = errors.New("injected failure")

// fakeLoop records handle operations. Close callbacks run on Run.
type fakeLoop struct {
	fail    map[string]bool
	events  []string
	closing []func()
	open    map[string]int
	polls   map[int]*fakePoll
	hooks   map[string]*fakeHook
	signal  *fakeSignal
}

func newFakeLoop(fail ...string) *fakeLoop {
	l := &fakeLoop{
		fail:  make(map[string]bool),
		open:  make(map[string]int),
		polls: make(map[int]*fakePoll),
		hooks: make(map[string]*fakeHook),
	}
	for _, f := range fail {
		l.fail[f] = true
	}
	return l
}

func (l *fakeLoop) record(format string, args ...any) {
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *fakeLoop) init(kind string) error {
	if l.fail[kind+" init"] {
		return errInjected
	}
	l.open[kind]++
	l.record("%s init", kind)
	return nil
}

func (l *fakeLoop) NewTimer() (Timer, error) {
	if err := l.init("timer"); err != nil {
		return nil, err
	}
	return &fakeTimer{fakeHandle{loop: l, kind: "timer"}}, nil
}

func (l *fakeLoop) newHook(kind string) (Hook, error) {
	if err := l.init(kind); err != nil {
		return nil, err
	}
	h := &fakeHook{fakeHandle: fakeHandle{loop: l, kind: kind}}
	l.hooks[kind] = h
	return h, nil
}

func (l *fakeLoop) NewPrepare() (Hook, error) { return l.newHook("prepare") }
func (l *fakeLoop) NewCheck() (Hook, error)   { return l.newHook("check") }
func (l *fakeLoop) NewIdle() (Hook, error)    { return l.newHook("idle") }

func (l *fakeLoop) NewSignal(cb func()) (Signal, error) {
	if err := l.init("signal"); err != nil {
		return nil, err
	}
	l.signal = &fakeSignal{fakeHandle: fakeHandle{loop: l, kind: "signal"}, cb: cb}
	return l.signal, nil
}

func (l *fakeLoop) NewPoll(fd int) (PollHandle, error) {
	if l.fail["poll notpollable"] {
		return nil, &reactor.HandleError{Kind: reactor.KindPoll, Op: "init", Cause: reactor.ErrNotPollable}
	}
	if err := l.init("poll"); err != nil {
		return nil, err
	}
	p := &fakePoll{fakeHandle: fakeHandle{loop: l, kind: "poll"}, fd: fd}
	l.polls[fd] = p
	return p, nil
}

// Run runs the started prepare and check hooks, then any close callbacks.
func (l *fakeLoop) Run(reactor.RunMode) (bool, error) {
	for _, kind := range [...]string{"prepare", "check"} {
		if h := l.hooks[kind]; h != nil && h.started {
			h.cb()
		}
	}
	for len(l.closing) > 0 {
		batch := l.closing
		l.closing = nil
		for _, cb := range batch {
			if cb != nil {
				cb()
			}
		}
	}
	return false, nil
}

type fakeHandle struct {
	loop    *fakeLoop
	kind    string
	started bool
	closed  bool
}

func (h *fakeHandle) start() error {
	if h.loop.fail[h.kind+" start"] {
		return errInjected
	}
	h.started = true
	return nil
}

func (h *fakeHandle) Stop() error {
	h.started = false
	return nil
}

func (h *fakeHandle) Close(cb func()) {
	if h.closed {
		panic("fake handle closed twice: " + h.kind)
	}
	h.closed = true
	h.started = false
	h.loop.open[h.kind]--
	h.loop.record("%s close", h.kind)
	h.loop.closing = append(h.loop.closing, cb)
}

type fakeTimer struct{ fakeHandle }

func (t *fakeTimer) Start(time.Duration, func()) error { return t.start() }

type fakeHook struct {
	fakeHandle
	cb func()
}

func (h *fakeHook) Start(cb func()) error {
	if err := h.start(); err != nil {
		return err
	}
	h.cb = cb
	return nil
}

type fakeSignal struct {
	fakeHandle
	cb    func()
	sends atomic.Int32
}

func (s *fakeSignal) Send() error {
	if s.closed {
		return errInjected
	}
	s.sends.Add(1)
	return nil
}

type fakePoll struct {
	fakeHandle
	cb     func(err error, revents mainctx.IOCondition)
	fd     int
	events mainctx.IOCondition
}

func (p *fakePoll) Start(events mainctx.IOCondition, cb func(err error, revents mainctx.IOCondition)) error {
	if err := p.start(); err != nil {
		return err
	}
	p.events = events
	p.cb = cb
	return nil
}

// fakeContext is a Context with scripted results.
type fakeContext struct {
	deny        bool
	maxPriority int
	timeout     time.Duration
	checkResult bool
	checked     [][]mainctx.PollFD
	dispatches  int
}

func (c *fakeContext) Acquire() bool { return !c.deny }
func (c *fakeContext) Release()      {}

func (c *fakeContext) Prepare() (int, time.Duration) { return c.maxPriority, c.timeout }

func (c *fakeContext) Check(_ int, fds []mainctx.PollFD) bool {
	c.checked = append(c.checked, append([]mainctx.PollFD(nil), fds...))
	return c.checkResult
}

func (c *fakeContext) Dispatch() { c.dispatches++ }

// classifyAs returns a classifier reporting the same class for every fd.
func classifyAs(class fdClass) Option {
	return withClassifier(func(int) (fdClass, error) { return class, nil })
}
