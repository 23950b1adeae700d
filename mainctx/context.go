package mainctx

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/goroutineid"
	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

// Backend takes over waiting for a Context. Implementations watch the
// descriptors registered through AddFD, and call Prepare, Check and
// Dispatch on the context from their own loop.
//
// AddFD, ModifyFD and RemoveFD are called with the context's internal lock
// held, so they must not call back into the context.
type Backend interface {
	// Acquire reports whether the calling goroutine may own the context.
	Acquire() bool
	// Iterate runs one iteration, returning whether any source was ready.
	Iterate(block, dispatch bool) bool
	AddFD(fd int, events IOCondition, priority int) bool
	ModifyFD(fd int, events IOCondition, priority int) bool
	RemoveFD(fd int) bool
	// Wakeup interrupts a blocked Iterate. Safe for concurrent use.
	Wakeup()
}

// backendRef boxes a Backend for atomic storage.
type backendRef struct{ b Backend }

// pollRecord merges the interest of every PollFD using one descriptor.
type pollRecord struct {
	users      map[*PollFD]int // PollFD -> source priority
	events     IOCondition
	priority   int
	registered bool // accepted by the bound backend
}

func (r *pollRecord) recompute() bool {
	events, priority := IOCondition(0), math.MaxInt
	for pfd, p := range r.users {
		events |= pfd.Events
		if p < priority {
			priority = p
		}
	}
	changed := events != r.events || priority != r.priority
	r.events, r.priority = events, priority
	return changed
}

// Context schedules sources. It is safe for concurrent use, but Prepare,
// Check, Dispatch and Iteration must only be called by the goroutine that
// owns it.
type Context struct {
	logger  *logiface.Logger[logiface.Event]
	backend atomic.Pointer[backendRef]
	owner   atomic.Int64

	mu      sync.Mutex
	sources []*Source // sorted by priority, then id
	polls   map[int]*pollRecord
	pending []*Source
	scratch []*Source
	revents map[int]IOCondition
	nextID  uint
	closed  bool

	depth int // owner only

	wakeRead  int
	wakeWrite int
}

// New creates a context.
func New(opts ...Option) (*Context, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return nil, err
		}
	}
	return &Context{
		logger:    cfg.logger,
		polls:     make(map[int]*pollRecord),
		revents:   make(map[int]IOCondition),
		wakeRead:  fds[0],
		wakeWrite: fds[1],
	}, nil
}

// Close releases the wakeup descriptors. Sources remain attached but are
// never dispatched again.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContextClosed
	}
	c.closed = true
	err := unix.Close(c.wakeRead)
	if err2 := unix.Close(c.wakeWrite); err == nil {
		err = err2
	}
	return err
}

// Acquire attempts to make the calling goroutine the owner. It never
// blocks, and succeeds if the goroutine already owns the context, in which
// case each Acquire must be paired with a Release. A bound backend may
// refuse the goroutine.
func (c *Context) Acquire() bool {
	if ref := c.backend.Load(); ref != nil && !ref.b.Acquire() {
		return false
	}
	self := goroutineid.Get()
	if c.owner.Load() == self || c.owner.CompareAndSwap(0, self) {
		c.depth++
		return true
	}
	return false
}

// Release undoes one Acquire. Calling it without owning the context is a
// no-op.
func (c *Context) Release() {
	if !c.IsOwner() {
		c.logger.Warning().Log("mainctx: release by a goroutine that is not the owner")
		return
	}
	c.depth--
	if c.depth == 0 {
		c.owner.Store(0)
	}
}

// IsOwner reports whether the calling goroutine owns the context.
func (c *Context) IsOwner() bool {
	id := c.owner.Load()
	return id != 0 && id == goroutineid.Get()
}

// Backend returns the bound backend, if any.
func (c *Context) Backend() Backend {
	if ref := c.backend.Load(); ref != nil {
		return ref.b
	}
	return nil
}

// SetBackend binds b, registering every polled descriptor with it. A nil b
// unbinds the current backend, without removing descriptors from it.
func (c *Context) SetBackend(b Backend) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b == nil {
		if c.backend.Swap(nil) != nil {
			for _, rec := range c.polls {
				rec.registered = false
			}
			c.logger.Debug().Log("mainctx: backend unbound")
		}
		return nil
	}
	if c.backend.Load() != nil {
		return ErrBackendBound
	}
	c.backend.Store(&backendRef{b})
	for fd, rec := range c.polls {
		rec.registered = b.AddFD(fd, rec.events, rec.priority)
		if !rec.registered {
			c.logger.Err().
				Int("fd", fd).
				Stringer("events", rec.events).
				Log("mainctx: backend rejected descriptor")
		}
	}
	c.logger.Debug().
		Int("fds", len(c.polls)).
		Log("mainctx: backend bound")
	return nil
}

// Wakeup interrupts a blocked iteration. Safe for concurrent use.
func (c *Context) Wakeup() {
	if ref := c.backend.Load(); ref != nil {
		ref.b.Wakeup()
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	// EAGAIN means a wakeup is already pending
	_, _ = unix.Write(c.wakeWrite, []byte{1})
}

// Attach adds s to the context, returning its id. Attaching a destroyed
// source returns 0.
func (c *Context) Attach(s *Source) uint {
	c.mu.Lock()
	if s.destroyed.Load() || !s.ctx.CompareAndSwap(nil, c) {
		c.mu.Unlock()
		return 0
	}
	c.nextID++
	s.id = c.nextID
	i := sort.Search(len(c.sources), func(i int) bool {
		return c.sources[i].priority > s.priority
	})
	c.sources = append(c.sources, nil)
	copy(c.sources[i+1:], c.sources[i:])
	c.sources[i] = s
	for _, pfd := range s.polls {
		c.addPollLocked(pfd, s.priority)
	}
	id := s.id
	c.mu.Unlock()

	if !c.IsOwner() {
		c.Wakeup()
	}
	return id
}

// FindSource returns the attached source with id, or nil.
func (c *Context) FindSource(id uint) *Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sources {
		if s.id == id {
			return s
		}
	}
	return nil
}

// Remove destroys the attached source with id, reporting whether it existed.
func (c *Context) Remove(id uint) bool {
	s := c.FindSource(id)
	if s == nil {
		return false
	}
	s.Destroy()
	return true
}

// Invoke runs fn on the owning goroutine. If the calling goroutine can
// acquire the context fn runs immediately, otherwise it runs from an idle
// source during the owner's next iteration.
func (c *Context) Invoke(fn func()) {
	if c.Acquire() {
		defer c.Release()
		fn()
		return
	}
	s := NewIdleSource(func() bool {
		fn()
		return false
	})
	s.priority = PriorityDefault
	s.name = "invoke"
	c.Attach(s)
}

func (c *Context) detachLocked(s *Source) {
	for i, v := range c.sources {
		if v == s {
			copy(c.sources[i:], c.sources[i+1:])
			c.sources[len(c.sources)-1] = nil
			c.sources = c.sources[:len(c.sources)-1]
			break
		}
	}
	for _, pfd := range s.polls {
		c.removePollLocked(pfd)
	}
}

func (c *Context) addPollLocked(pfd *PollFD, priority int) {
	rec, ok := c.polls[pfd.FD]
	if !ok {
		rec = &pollRecord{users: make(map[*PollFD]int)}
		c.polls[pfd.FD] = rec
	}
	rec.users[pfd] = priority
	if !rec.recompute() && ok {
		return
	}
	ref := c.backend.Load()
	if ref == nil {
		return
	}
	if rec.registered {
		if ref.b.ModifyFD(pfd.FD, rec.events, rec.priority) {
			return
		}
	} else if rec.registered = ref.b.AddFD(pfd.FD, rec.events, rec.priority); rec.registered {
		return
	}
	c.logger.Err().
		Int("fd", pfd.FD).
		Stringer("events", rec.events).
		Log("mainctx: backend rejected descriptor")
}

func (c *Context) removePollLocked(pfd *PollFD) {
	rec, ok := c.polls[pfd.FD]
	if !ok {
		return
	}
	if _, ok := rec.users[pfd]; !ok {
		return
	}
	delete(rec.users, pfd)
	ref := c.backend.Load()
	if len(rec.users) == 0 {
		delete(c.polls, pfd.FD)
		if ref != nil && rec.registered {
			ref.b.RemoveFD(pfd.FD)
		}
		return
	}
	if rec.recompute() && ref != nil && rec.registered {
		ref.b.ModifyFD(pfd.FD, rec.events, rec.priority)
	}
}

// Prepare runs the prepare phase, returning the priority of the most
// important ready source (math.MaxInt if none) and how long the caller may
// wait (negative for no limit, zero if a source is ready).
func (c *Context) Prepare() (int, time.Duration) {
	c.mu.Lock()
	c.pending = nil
	c.scratch = append(c.scratch[:0], c.sources...)
	snapshot := c.scratch
	c.mu.Unlock()

	maxPriority := math.MaxInt
	timeout := time.Duration(-1)
	nReady := 0
	for _, s := range snapshot {
		if s.destroyed.Load() {
			continue
		}
		if nReady > 0 && s.priority > maxPriority {
			break
		}
		ready := s.ready
		if !ready && s.funcs.Prepare != nil {
			var t time.Duration
			ready, t = s.funcs.Prepare(s)
			if !ready && t >= 0 && (timeout < 0 || t < timeout) {
				timeout = t
			}
		}
		if ready {
			s.ready = true
			nReady++
			maxPriority = s.priority
		}
	}
	if nReady > 0 {
		timeout = 0
	}
	return maxPriority, timeout
}

// Query returns the descriptors that sources at or above maxPriority poll.
func (c *Context) Query(maxPriority int) []PollFD {
	c.mu.Lock()
	defer c.mu.Unlock()
	fds := make([]PollFD, 0, len(c.polls))
	for fd, rec := range c.polls {
		if rec.priority <= maxPriority {
			fds = append(fds, PollFD{FD: fd, Events: rec.events})
		}
	}
	sort.Slice(fds, func(i, j int) bool { return fds[i].FD < fds[j].FD })
	return fds
}

// Check runs the check phase given the readiness observed for fds,
// returning whether any source is ready to dispatch. A descriptor missing
// from fds is treated as not ready. Duplicate entries are merged.
func (c *Context) Check(maxPriority int, fds []PollFD) bool {
	c.mu.Lock()
	clear(c.revents)
	for _, f := range fds {
		c.revents[f.FD] |= f.REvents
	}
	c.scratch = append(c.scratch[:0], c.sources...)
	snapshot := c.scratch
	for _, s := range snapshot {
		for _, pfd := range s.polls {
			pfd.REvents = c.revents[pfd.FD] & (pfd.Events | ioAlways)
		}
	}
	c.mu.Unlock()

	var pending []*Source
	for _, s := range snapshot {
		if s.destroyed.Load() {
			continue
		}
		if len(pending) > 0 && s.priority > maxPriority {
			break
		}
		ready := s.ready
		if !ready && s.funcs.Check != nil {
			ready = s.funcs.Check(s)
		}
		if ready {
			s.ready = true
			pending = append(pending, s)
			maxPriority = s.priority
		}
	}

	c.mu.Lock()
	c.pending = pending
	c.mu.Unlock()
	return len(pending) > 0
}

// Dispatch dispatches the sources found ready by the last Check.
func (c *Context) Dispatch() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, s := range pending {
		if s.destroyed.Load() {
			continue
		}
		s.ready = false
		if s.funcs.Dispatch != nil && !s.funcs.Dispatch(s) {
			s.Destroy()
		}
	}
}

// Iteration runs one iteration, returning whether any source was
// dispatched. If a backend is bound the iteration is delegated to it.
// Otherwise it fails fast, returning false, if the calling goroutine cannot
// acquire the context.
func (c *Context) Iteration(mayBlock bool) bool {
	if ref := c.backend.Load(); ref != nil {
		return ref.b.Iterate(mayBlock, true)
	}
	return c.iterate(mayBlock, true)
}

// Pending reports whether any source is ready, without dispatching.
func (c *Context) Pending() bool {
	if ref := c.backend.Load(); ref != nil {
		return ref.b.Iterate(false, false)
	}
	return c.iterate(false, false)
}

func (c *Context) iterate(block, dispatch bool) bool {
	if !c.Acquire() {
		c.logger.Warning().Log("mainctx: iteration by a goroutine that cannot acquire the context")
		return false
	}
	defer c.Release()

	maxPriority, timeout := c.Prepare()
	if !block {
		timeout = 0
	}
	fds := c.Query(maxPriority)
	if err := c.poll(fds, timeout); err != nil {
		c.logger.Err().Err(err).Log("mainctx: poll failed")
	}
	ready := c.Check(maxPriority, fds)
	if ready && dispatch {
		c.Dispatch()
	}
	return ready
}

// poll waits for fds, the wakeup pipe, or the timeout, filling REvents.
func (c *Context) poll(fds []PollFD, timeout time.Duration) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrContextClosed
	}
	wakeRead := c.wakeRead
	c.mu.Unlock()

	pfds := make([]unix.PollFd, 0, len(fds)+1)
	pfds = append(pfds, unix.PollFd{Fd: int32(wakeRead), Events: unix.POLLIN})
	for _, f := range fds {
		pfds = append(pfds, unix.PollFd{Fd: int32(f.FD), Events: f.Events.PollEvents()})
	}

	ms := -1
	if timeout >= 0 {
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	if _, err := unix.Poll(pfds, ms); err != nil && err != unix.EINTR {
		return err
	}

	if pfds[0].Revents != 0 {
		var buf [64]byte
		for {
			if _, err := unix.Read(wakeRead, buf[:]); err != nil {
				break
			}
		}
	}
	for i := range fds {
		fds[i].REvents = ConditionFromPoll(pfds[i+1].Revents)
	}
	return nil
}
