package reactor

// PollCallback receives readiness for a [Poll]. If err is non-nil the
// descriptor reported an error condition and events is zero.
type PollCallback func(p *Poll, err error, events Events)

// Poll watches a descriptor for readiness using the native poller.
type Poll struct {
	handle
	cb         PollCallback
	fd         int
	events     Events
	registered bool
}

// NewPoll creates a stopped watcher for fd. It fails with an error wrapping
// [ErrNotPollable] if the native poller cannot watch the descriptor kind,
// and with [ErrFDAlreadyRegistered] if another Poll owns fd.
func (l *Loop) NewPoll(fd int) (*Poll, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	if _, ok := l.polls[fd]; ok {
		return nil, &HandleError{Kind: KindPoll, Op: "init", Cause: ErrFDAlreadyRegistered}
	}
	if err := l.poller.probe(fd); err != nil {
		return nil, &HandleError{Kind: KindPoll, Op: "init", Cause: err}
	}
	p := &Poll{fd: fd}
	p.init(l, KindPoll)
	l.polls[fd] = p
	return p, nil
}

// FD returns the watched descriptor.
func (p *Poll) FD() int { return p.fd }

// Events returns the current interest mask.
func (p *Poll) Events() Events { return p.events }

// Start sets the interest mask and callback, replacing any previous ones.
// Starting with an empty mask stops the watcher.
func (p *Poll) Start(events Events, cb PollCallback) error {
	if err := p.checkUsable("start"); err != nil {
		return err
	}
	if cb == nil {
		return &HandleError{Kind: KindPoll, Op: "start", Cause: errNilCallback}
	}
	events &= Readable | Writable | Disconnect | Prioritized
	if events == 0 {
		return p.Stop()
	}
	var err error
	if p.registered {
		err = p.loop.poller.modify(p.fd, events)
	} else {
		err = p.loop.poller.register(p.fd, events, p.onIO)
	}
	if err != nil {
		return &HandleError{Kind: KindPoll, Op: "start", Cause: err}
	}
	p.registered = true
	p.cb = cb
	p.events = events
	p.setActive(true)
	return nil
}

// Stop removes the descriptor from the native poller.
func (p *Poll) Stop() error {
	p.setActive(false)
	p.events = 0
	if !p.registered {
		return nil
	}
	p.registered = false
	if err := p.loop.poller.unregister(p.fd); err != nil {
		return &HandleError{Kind: KindPoll, Op: "stop", Cause: err}
	}
	return nil
}

// Close stops the watcher and schedules cb for the closing phase. The
// descriptor itself is not closed.
func (p *Poll) Close(cb func()) {
	p.beginClose(cb)
	_ = p.Stop()
	delete(p.loop.polls, p.fd)
}

func (p *Poll) onIO(events Events, err error) {
	if !p.active || p.closing {
		return
	}
	if err != nil {
		p.cb(p, err, 0)
		return
	}
	if events &= p.events; events != 0 {
		p.cb(p, nil, events)
	}
}
