package bridge

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-loopbridge/mainctx"
	"github.com/joeycumines/goroutineid"
	"github.com/joeycumines/logiface"
)

// lifeState tracks which of the backend's own handles are still open.
type lifeState uint8

const (
	lifeSignal lifeState = 1 << iota
	lifePrepare
	lifeCheck
	lifeTimer
	lifeTrigger
)

// String lists the set bits.
func (s lifeState) String() string {
	names := [...]string{"signal", "prepare", "check", "timer", "trigger"}
	var out []byte
	for i, name := range names {
		if s&(1<<i) == 0 {
			continue
		}
		if len(out) > 0 {
			out = append(out, '|')
		}
		out = append(out, name...)
	}
	if len(out) == 0 {
		return "none"
	}
	return string(out)
}

var backendIDCounter atomic.Uint64

// Backend drives a Context from a Loop. See the package documentation.
//
// Only AddFD, ModifyFD, RemoveFD, Wakeup, Destroy, Acquire, Done and OnFree
// may be called from goroutines other than the owner.
type Backend struct {
	loop    Loop
	ctx     Context
	opts    *backendOptions
	logger  *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter

	signal  Signal
	prepare Hook
	check   Hook
	timer   Timer
	trigger Hook

	staging stagingQueue
	prober  prober

	watches  map[int]*watch
	ready    []mainctx.PollFD
	// fds whose staged add failed on drain, until removed or re-added
	rejected map[int]struct{}

	done   chan struct{}
	freeMu sync.Mutex
	onFree []func()
	freed  bool

	id    uint64
	owner atomic.Int64

	life         lifeState
	closingPolls int
	nativeCount  int
	maxPriority  int

	destroyed    bool
	prepared     bool
	sourcesReady bool
	dispatch     bool
}

// New creates a backend owned by the calling goroutine, which must be the
// goroutine that runs loop. It opens, in order, the signal, the prepare and
// check hooks, the timer, and the idle trigger used by fallback probing.
// If any fails, those already opened are closed, and the error wraps
// ErrCreate.
func New(loop Loop, ctx Context, opts ...Option) (*Backend, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreate, err)
	}

	b := &Backend{
		loop:     loop,
		ctx:      ctx,
		opts:     cfg,
		logger:   cfg.logger,
		watches:  make(map[int]*watch),
		rejected: make(map[int]struct{}),
		done:     make(chan struct{}),
		id:       backendIDCounter.Add(1),
		dispatch: true,
	}
	if len(cfg.warnRates) != 0 {
		b.limiter = catrate.NewLimiter(cfg.warnRates)
	}
	b.staging.init()
	b.owner.Store(goroutineid.Get())

	if err := b.open(); err != nil {
		b.logger.Err().
			Uint64("backend_id", b.id).
			Err(err).
			Log("bridge: backend creation failed")
		b.closeHandles()
		return nil, err
	}

	cfg.metrics.backend(1)
	b.logger.Debug().
		Uint64("backend_id", b.id).
		Bool("fallback", !cfg.noFallback).
		Log("bridge: backend created")

	return b, nil
}

// open creates and starts the backend's handles, setting a life bit for
// each one opened.
func (b *Backend) open() error {
	var err error

	if b.signal, err = b.loop.NewSignal(b.onSignal); err != nil {
		return fmt.Errorf("%w: signal init: %w", ErrCreate, err)
	}
	b.life |= lifeSignal

	if b.prepare, err = b.loop.NewPrepare(); err != nil {
		return fmt.Errorf("%w: prepare init: %w", ErrCreate, err)
	}
	b.life |= lifePrepare

	if b.check, err = b.loop.NewCheck(); err != nil {
		return fmt.Errorf("%w: check init: %w", ErrCreate, err)
	}
	b.life |= lifeCheck

	if b.timer, err = b.loop.NewTimer(); err != nil {
		return fmt.Errorf("%w: timer init: %w", ErrCreate, err)
	}
	b.life |= lifeTimer

	if !b.opts.noFallback {
		if b.trigger, err = b.loop.NewIdle(); err != nil {
			return fmt.Errorf("%w: trigger init: %w", ErrCreate, err)
		}
		b.life |= lifeTrigger
	}

	if err := b.prepare.Start(b.onPrepare); err != nil {
		return fmt.Errorf("%w: prepare start: %w", ErrCreate, err)
	}
	if err := b.check.Start(b.onCheck); err != nil {
		return fmt.Errorf("%w: check start: %w", ErrCreate, err)
	}
	return nil
}

// closeHandles closes every open handle. Each close callback clears its
// life bit, and the last one frees the backend.
func (b *Backend) closeHandles() {
	closeOne := func(c Closer, bit lifeState) {
		if b.life&bit == 0 {
			return
		}
		c.Close(func() {
			b.life &^= bit
			b.maybeFree()
		})
	}
	closeOne(b.signal, lifeSignal)
	closeOne(b.prepare, lifePrepare)
	closeOne(b.check, lifeCheck)
	closeOne(b.timer, lifeTimer)
	closeOne(b.trigger, lifeTrigger)
}

// maybeFree releases the backend once every handle, including every watch's
// poll handle, has confirmed its close.
func (b *Backend) maybeFree() {
	if b.life != 0 || b.closingPolls != 0 {
		return
	}
	b.freeMu.Lock()
	if b.freed {
		b.freeMu.Unlock()
		return
	}
	b.freed = true
	hooks := b.onFree
	b.onFree = nil
	b.freeMu.Unlock()

	b.owner.Store(0)
	b.ready = nil
	close(b.done)

	if b.destroyed {
		// a failed New never counted the backend
		b.opts.metrics.backend(-1)
	}

	b.logger.Debug().
		Uint64("backend_id", b.id).
		Log("bridge: backend freed")

	for _, fn := range hooks {
		fn()
	}
}

// Done is closed once the backend has been freed.
func (b *Backend) Done() <-chan struct{} { return b.done }

// OnFree registers fn to run, on the owner goroutine, when the backend is
// freed. If it already has been, fn runs immediately.
func (b *Backend) OnFree(fn func()) {
	b.freeMu.Lock()
	if !b.freed {
		b.onFree = append(b.onFree, fn)
		b.freeMu.Unlock()
		return
	}
	b.freeMu.Unlock()
	fn()
}

// isOwner reports whether the calling goroutine created the backend.
func (b *Backend) isOwner() bool {
	id := b.owner.Load()
	return id != 0 && id == goroutineid.Get()
}

// Acquire reports whether the calling goroutine may own the context: only
// the owner may, until the backend is freed.
func (b *Backend) Acquire() bool {
	id := b.owner.Load()
	return id == 0 || id == goroutineid.Get()
}

// Wakeup interrupts a blocked iteration. Safe for concurrent use.
func (b *Backend) Wakeup() {
	_ = b.signal.Send()
}

// AddFD starts watching fd for events, replacing any existing watch. From a
// non-owner goroutine the change is staged, and the result is always true.
func (b *Backend) AddFD(fd int, events mainctx.IOCondition, _ int) bool {
	if !b.isOwner() {
		b.staging.add(fd, events)
		b.opts.metrics.staged("add")
		b.Wakeup()
		return true
	}
	b.assertLive("add", fd)
	b.drain()
	return b.addLocal(fd, events)
}

// ModifyFD changes the events watched for fd. Modifying a descriptor that
// is not watched panics with a ContractError, once the change is applied,
// unless a staged add of fd failed, in which case the change is dropped.
func (b *Backend) ModifyFD(fd int, events mainctx.IOCondition, _ int) bool {
	if !b.isOwner() {
		if b.staging.modify(fd, events) {
			b.Wakeup()
		}
		b.opts.metrics.staged("modify")
		return true
	}
	b.assertLive("modify", fd)
	b.drain()
	return b.modifyLocal(fd, events)
}

// RemoveFD stops watching fd. Removing a descriptor that is not watched
// panics with a ContractError, once the change is applied, unless a staged
// add of fd failed, in which case the removal is dropped.
func (b *Backend) RemoveFD(fd int) bool {
	if !b.isOwner() {
		if b.staging.remove(fd) {
			b.Wakeup()
		}
		b.opts.metrics.staged("remove")
		return true
	}
	b.assertLive("remove", fd)
	b.drain()
	return b.removeLocal(fd)
}

func (b *Backend) assertLive(op string, fd int) {
	if b.destroyed {
		contractViolation(op, fd, "backend is being destroyed")
	}
}

// Destroy tears the backend down. On the owner goroutine the handles are
// closed immediately, otherwise the owner is signalled to do so. Either
// way, the backend is freed on a later loop turn. Destroying twice panics
// with a ContractError.
func (b *Backend) Destroy() {
	if b.isOwner() {
		b.destroyLocal()
		return
	}
	if !b.staging.terminate() {
		contractViolation("destroy", -1, "backend already destroyed")
	}
	b.logger.Debug().
		Uint64("backend_id", b.id).
		Log("bridge: destroy requested by non-owner")
	if err := b.signal.Send(); err != nil {
		b.logger.Err().
			Uint64("backend_id", b.id).
			Err(err).
			Log("bridge: failed to signal owner to destroy")
	}
}

// destroyLocal closes every handle. Owner only.
func (b *Backend) destroyLocal() {
	if b.destroyed {
		contractViolation("destroy", -1, "backend already destroyed")
	}
	// a non-owner may already have marked it, in which case this is the
	// owner acting on that request
	_ = b.staging.terminate()
	b.destroyed = true

	b.logger.Debug().
		Uint64("backend_id", b.id).
		Int("watches", len(b.watches)).
		Stringer("life", b.life).
		Log("bridge: destroying backend")

	for _, w := range b.watches {
		b.retire(w)
	}
	b.prober.reset()
	b.closeHandles()
}

// onSignal runs on the owner when the signal is sent. Staged changes are
// applied by the next prepare; only termination is handled here.
func (b *Backend) onSignal() {
	if b.destroyed || !b.staging.isTerminating() {
		return
	}
	b.destroyLocal()
}
