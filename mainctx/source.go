package mainctx

import (
	"sync/atomic"
	"time"
)

// Source priorities. Lower values are higher priority.
const (
	PriorityHigh        = -100
	PriorityDefault     = 0
	PriorityHighIdle    = 100
	PriorityDefaultIdle = 200
	PriorityLow         = 300
)

// SourceFuncs implements the behavior of a [Source]. Every field is optional.
type SourceFuncs struct {
	// Prepare is called before waiting. It reports whether the source is
	// ready without waiting, and otherwise the longest the wait may last
	// (negative for no limit).
	Prepare func(s *Source) (ready bool, timeout time.Duration)
	// Check is called after waiting, with the REvents of the source's
	// PollFD values updated.
	Check func(s *Source) bool
	// Dispatch is called for a ready source. Returning false destroys it.
	Dispatch func(s *Source) bool
	// Finalize is called once, when the source is destroyed.
	Finalize func(s *Source)
}

// Source is an event source attached to at most one [Context].
type Source struct {
	funcs     SourceFuncs
	ctx       atomic.Pointer[Context]
	name      string
	polls     []*PollFD
	id        uint
	priority  int
	ready     bool
	destroyed atomic.Bool
}

// NewSource creates an unattached source with default priority.
func NewSource(funcs SourceFuncs) *Source {
	return &Source{funcs: funcs, priority: PriorityDefault}
}

// ID returns the id assigned by [Context.Attach], or 0 if unattached.
func (s *Source) ID() uint {
	if c := s.ctx.Load(); c != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
	}
	return s.id
}

// Context returns the context the source is attached to, if any.
func (s *Source) Context() *Context { return s.ctx.Load() }

// Name returns the debugging name of the source.
func (s *Source) Name() string { return s.name }

// SetName sets the debugging name of the source.
func (s *Source) SetName(name string) { s.name = name }

// Priority returns the priority of the source.
func (s *Source) Priority() int { return s.priority }

// SetPriority sets the priority. It fails once the source is attached.
func (s *Source) SetPriority(priority int) error {
	if s.ctx.Load() != nil {
		return ErrSourceAttached
	}
	s.priority = priority
	return nil
}

// IsDestroyed reports whether Destroy has been called.
func (s *Source) IsDestroyed() bool { return s.destroyed.Load() }

// AddPoll makes the source watch fd for events. The returned PollFD has its
// REvents updated before each check.
func (s *Source) AddPoll(fd int, events IOCondition) *PollFD {
	pfd := &PollFD{FD: fd, Events: events}
	if c := s.ctx.Load(); c != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		s.polls = append(s.polls, pfd)
		if !s.destroyed.Load() {
			c.addPollLocked(pfd, s.priority)
		}
		return pfd
	}
	s.polls = append(s.polls, pfd)
	return pfd
}

// RemovePoll stops watching the descriptor of a PollFD returned by AddPoll.
func (s *Source) RemovePoll(pfd *PollFD) {
	c := s.ctx.Load()
	if c != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
	}
	for i, v := range s.polls {
		if v != pfd {
			continue
		}
		s.polls = append(s.polls[:i], s.polls[i+1:]...)
		if c != nil && !s.destroyed.Load() {
			c.removePollLocked(pfd)
		}
		return
	}
}

// Destroy detaches the source from its context, and calls Finalize. It is
// safe to call from any goroutine, and more than once.
func (s *Source) Destroy() {
	if !s.destroyed.CompareAndSwap(false, true) {
		return
	}
	if c := s.ctx.Load(); c != nil {
		c.mu.Lock()
		c.detachLocked(s)
		c.mu.Unlock()
	}
	if s.funcs.Finalize != nil {
		s.funcs.Finalize(s)
	}
}
