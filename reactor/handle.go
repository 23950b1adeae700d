package reactor

// HandleKind identifies the type of a handle.
type HandleKind uint8

const (
	// KindTimer identifies a [Timer].
	KindTimer HandleKind = iota + 1
	// KindPrepare identifies a [Prepare] hook.
	KindPrepare
	// KindCheck identifies a [Check] hook.
	KindCheck
	// KindIdle identifies an [Idle] hook.
	KindIdle
	// KindAsync identifies an [Async] signal.
	KindAsync
	// KindPoll identifies a [Poll] watcher.
	KindPoll
)

// String returns the lowercase name of the kind.
func (k HandleKind) String() string {
	switch k {
	case KindTimer:
		return "timer"
	case KindPrepare:
		return "prepare"
	case KindCheck:
		return "check"
	case KindIdle:
		return "idle"
	case KindAsync:
		return "async"
	case KindPoll:
		return "poll"
	default:
		return "unknown"
	}
}

// Handle is the set of operations common to every handle kind.
//
// Apart from [Async.Send], handle methods must only be called from the
// goroutine running the loop (or while no goroutine is running it).
type Handle interface {
	Kind() HandleKind
	Loop() *Loop
	// Close stops the handle and schedules cb for the closing phase of a
	// later turn. Closing a handle twice panics.
	Close(cb func())
	IsActive() bool
	IsClosing() bool
	Ref()
	Unref()
	HasRef() bool
}

var (
	_ Handle = (*Timer)(nil)
	_ Handle = (*Prepare)(nil)
	_ Handle = (*Check)(nil)
	_ Handle = (*Idle)(nil)
	_ Handle = (*Async)(nil)
	_ Handle = (*Poll)(nil)
)

// handle is the state shared by all handle kinds.
type handle struct {
	loop    *Loop
	closeCb func()
	kind    HandleKind
	active  bool
	closing bool
	closed  bool
	unref   bool
}

func (h *handle) init(l *Loop, kind HandleKind) {
	h.loop = l
	h.kind = kind
	l.handles++
}

// Kind returns the handle kind.
func (h *handle) Kind() HandleKind { return h.kind }

// Loop returns the owning loop.
func (h *handle) Loop() *Loop { return h.loop }

// IsActive reports whether the handle is started.
func (h *handle) IsActive() bool { return h.active }

// IsClosing reports whether Close has been called.
func (h *handle) IsClosing() bool { return h.closing || h.closed }

// HasRef reports whether the handle keeps the loop alive while active.
func (h *handle) HasRef() bool { return !h.unref }

// Ref makes the handle keep the loop alive while active. Idempotent.
func (h *handle) Ref() {
	if !h.unref {
		return
	}
	h.unref = false
	if h.active {
		h.loop.activeRefs++
	}
}

// Unref stops the handle from keeping the loop alive. Idempotent.
func (h *handle) Unref() {
	if h.unref {
		return
	}
	h.unref = true
	if h.active {
		h.loop.activeRefs--
	}
}

func (h *handle) setActive(active bool) {
	if h.active == active {
		return
	}
	h.active = active
	if h.unref {
		return
	}
	if active {
		h.loop.activeRefs++
	} else {
		h.loop.activeRefs--
	}
}

// beginClose marks the handle closing and queues it for the closing phase.
// The caller must stop the type-specific machinery afterward.
func (h *handle) beginClose(cb func()) {
	if h.closing || h.closed {
		panic(&HandleError{Kind: h.kind, Op: "close", Cause: ErrHandleClosing})
	}
	h.closing = true
	h.closeCb = cb
	h.loop.closing = append(h.loop.closing, h)
}

// finishClose runs in the closing phase.
func (h *handle) finishClose() {
	h.closing = false
	h.closed = true
	h.loop.handles--
	if cb := h.closeCb; cb != nil {
		h.closeCb = nil
		cb()
	}
}

func (h *handle) checkUsable(op string) error {
	if h.closing || h.closed {
		return &HandleError{Kind: h.kind, Op: op, Cause: ErrHandleClosing}
	}
	return nil
}
