package reactor

// hook is a per-turn callback run in one of the prepare, check, or idle
// phases while active.
type hook struct {
	handle
	cb func()
}

// Prepare runs its callback once per turn, immediately before polling.
type Prepare struct{ hook }

// Check runs its callback once per turn, immediately after polling.
type Check struct{ hook }

// Idle runs its callback once per turn while active, and forces a
// zero-timeout poll.
type Idle struct{ hook }

// NewPrepare creates a stopped prepare hook.
func (l *Loop) NewPrepare() (*Prepare, error) {
	h := &Prepare{}
	if err := l.initHook(&h.hook, KindPrepare); err != nil {
		return nil, err
	}
	return h, nil
}

// NewCheck creates a stopped check hook.
func (l *Loop) NewCheck() (*Check, error) {
	h := &Check{}
	if err := l.initHook(&h.hook, KindCheck); err != nil {
		return nil, err
	}
	return h, nil
}

// NewIdle creates a stopped idle hook.
func (l *Loop) NewIdle() (*Idle, error) {
	h := &Idle{}
	if err := l.initHook(&h.hook, KindIdle); err != nil {
		return nil, err
	}
	return h, nil
}

func (l *Loop) initHook(h *hook, kind HandleKind) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	h.init(l, kind)
	return nil
}

// Start activates the hook. Starting an active hook replaces its callback.
func (h *hook) Start(cb func()) error {
	if err := h.checkUsable("start"); err != nil {
		return err
	}
	if cb == nil {
		return &HandleError{Kind: h.kind, Op: "start", Cause: errNilCallback}
	}
	h.cb = cb
	if h.active {
		return nil
	}
	q := h.loop.hookQueue(h.kind)
	*q = append(*q, h)
	h.setActive(true)
	return nil
}

// Stop deactivates the hook. Stopping an inactive hook is a no-op.
func (h *hook) Stop() error {
	if !h.active {
		return nil
	}
	q := h.loop.hookQueue(h.kind)
	for i, v := range *q {
		if v == h {
			copy((*q)[i:], (*q)[i+1:])
			(*q)[len(*q)-1] = nil
			*q = (*q)[:len(*q)-1]
			break
		}
	}
	h.setActive(false)
	return nil
}

// Close stops the hook and schedules cb for the closing phase.
func (h *hook) Close(cb func()) {
	h.beginClose(cb)
	_ = h.Stop()
}

func (l *Loop) hookQueue(kind HandleKind) *[]*hook {
	switch kind {
	case KindPrepare:
		return &l.prepares
	case KindCheck:
		return &l.checks
	default:
		return &l.idles
	}
}

// runHooks invokes each active hook of the given kind. Hooks started during
// the phase run next turn; hooks stopped during it are skipped.
func (l *Loop) runHooks(kind HandleKind) {
	q := l.hookQueue(kind)
	if len(*q) == 0 {
		return
	}
	l.hookScratch = append(l.hookScratch[:0], *q...)
	for i, h := range l.hookScratch {
		l.hookScratch[i] = nil
		if h.active {
			h.cb()
		}
	}
}
