package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/goroutineid"
	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

// ErrLoopAlreadyRunning is returned when Run is called while another
// goroutine is running the loop.
var ErrLoopAlreadyRunning = errors.New("reactor: loop is already running")

// RunMode selects how long [Loop.Run] runs for.
type RunMode int

const (
	// RunDefault runs turns until the loop is no longer alive, or Stop is
	// called.
	RunDefault RunMode = iota
	// RunOnce runs a single turn, blocking for I/O if nothing is pending.
	RunOnce
	// RunNoWait runs a single turn without blocking.
	RunNoWait
)

// String returns a human-readable representation of the mode.
func (m RunMode) String() string {
	switch m {
	case RunDefault:
		return "default"
	case RunOnce:
		return "once"
	case RunNoWait:
		return "nowait"
	default:
		return "unknown"
	}
}

var loopIDCounter atomic.Uint64

// Loop is a single-goroutine, callback-driven reactor. Each turn of
// [Loop.Run] proceeds through these phases:
//
//  1. update the cached now, then fire due timers
//  2. idle hooks
//  3. prepare hooks
//  4. poll for I/O, dispatching readiness and async signals
//  5. check hooks
//  6. close callbacks
//
// With RunOnce, due timers are fired again after the close callbacks.
//
// The loop is alive while any handle is active and referenced, or a close
// callback is pending.
type Loop struct { // betteralign:ignore
	_ [0]func() // Prevent copying

	state fastState

	poller fastPoller

	logger *logiface.Logger[logiface.Event]

	now time.Time

	timers   timerHeap
	prepares []*hook
	checks   []*hook
	idles    []*hook
	asyncs   []*Async
	polls    map[int]*Poll
	closing  []*handle

	hookScratch  []*hook
	asyncScratch []*Async

	id       uint64
	timerSeq uint64
	ownerID  atomic.Int64

	activeRefs int
	handles    int

	wakeMu     sync.RWMutex
	wakeRead   int
	wakeWrite  int
	wakeBuf    [64]byte
	wakeClosed bool

	stopFlag bool
}

// New creates a new loop with its native poller and wake descriptor.
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	wakeRead, wakeWrite, err := createWakeFd()
	if err != nil {
		return nil, fmt.Errorf("reactor: create wake fd: %w", err)
	}

	l := &Loop{
		id:        loopIDCounter.Add(1),
		logger:    cfg.logger,
		polls:     make(map[int]*Poll),
		wakeRead:  wakeRead,
		wakeWrite: wakeWrite,
		now:       time.Now(),
	}

	if err := l.poller.init(); err != nil {
		closeWakeFd(wakeRead, wakeWrite)
		return nil, fmt.Errorf("reactor: init poller: %w", err)
	}

	if err := l.poller.register(wakeRead, Readable, l.onWake); err != nil {
		_ = l.poller.close()
		closeWakeFd(wakeRead, wakeWrite)
		return nil, fmt.Errorf("reactor: register wake fd: %w", err)
	}

	l.logger.Debug().
		Uint64("loop_id", l.id).
		Log("reactor: loop created")

	return l, nil
}

// ID returns a process-unique identifier for the loop.
func (l *Loop) ID() uint64 { return l.id }

// State returns the current loop state.
func (l *Loop) State() LoopState { return l.state.Load() }

// Now returns the cached time, updated at the start of each turn and after
// polling.
func (l *Loop) Now() time.Time { return l.now }

// UpdateTime refreshes the cached time.
func (l *Loop) UpdateTime() { l.now = time.Now() }

// Alive reports whether the loop has active referenced handles or pending
// close callbacks.
func (l *Loop) Alive() bool {
	return l.activeRefs > 0 || len(l.closing) > 0
}

// Stop makes Run return at the end of the current turn, and makes the
// current turn's poll non-blocking.
func (l *Loop) Stop() { l.stopFlag = true }

// Run runs the loop according to mode. It returns whether the loop is still
// alive. It must not be called from a loop callback, nor concurrently.
func (l *Loop) Run(mode RunMode) (bool, error) {
	if !l.state.TryTransition(StateIdle, StateRunning) {
		switch l.state.Load() {
		case StateClosed:
			return false, ErrLoopClosed
		default:
			if l.isLoopThread() {
				return false, ErrReentrantRun
			}
			return false, ErrLoopAlreadyRunning
		}
	}
	l.ownerID.Store(goroutineid.Get())
	defer func() {
		l.ownerID.Store(0)
		l.state.Store(StateIdle)
	}()

	alive := l.Alive()
	if !alive {
		l.UpdateTime()
	}

	for alive && !l.stopFlag {
		l.UpdateTime()
		l.runTimers()

		l.runHooks(KindIdle)
		l.runHooks(KindPrepare)

		timeout := 0
		if mode != RunNoWait {
			timeout = l.backendTimeout()
		}
		if err := l.poll(timeout); err != nil {
			l.stopFlag = false
			return l.Alive(), err
		}

		l.runHooks(KindCheck)
		l.runClosing()

		if mode == RunOnce {
			// progress timers that became due while blocked
			l.UpdateTime()
			l.runTimers()
		}

		alive = l.Alive()
		if mode == RunOnce || mode == RunNoWait {
			break
		}
	}

	l.stopFlag = false
	return alive, nil
}

// BackendTimeout returns the poll timeout, in milliseconds, the next turn
// would use: 0 if stopped, not alive, an idle hook is active, or close
// callbacks are pending; -1 if there is no timer; otherwise the time until
// the earliest timer, rounded up.
func (l *Loop) BackendTimeout() int { return l.backendTimeout() }

func (l *Loop) backendTimeout() int {
	if l.stopFlag || l.activeRefs == 0 || len(l.idles) > 0 || len(l.closing) > 0 {
		return 0
	}
	if len(l.timers) == 0 {
		return -1
	}
	d := l.timers[0].due.Sub(l.now)
	if d <= 0 {
		return 0
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}

func (l *Loop) poll(timeoutMs int) error {
	sleeping := timeoutMs != 0 && l.state.TryTransition(StateRunning, StateSleeping)
	_, err := l.poller.wait(timeoutMs)
	if sleeping {
		l.state.TryTransition(StateSleeping, StateRunning)
	}
	l.UpdateTime()
	if err != nil {
		l.logger.Crit().
			Uint64("loop_id", l.id).
			Int("timeout_ms", timeoutMs).
			Err(err).
			Log("reactor: poll failed")
		return fmt.Errorf("reactor: poll: %w", err)
	}
	return nil
}

func (l *Loop) runClosing() {
	for len(l.closing) > 0 {
		batch := l.closing
		l.closing = nil
		for i, h := range batch {
			batch[i] = nil
			h.finishClose()
		}
	}
}

// Close releases the poller and wake descriptor. It fails with
// [ErrLoopBusy] while handles remain open, including handles whose close
// callbacks have not yet run.
func (l *Loop) Close() error {
	switch l.state.Load() {
	case StateClosed:
		return ErrLoopClosed
	case StateRunning, StateSleeping:
		if l.isLoopThread() {
			return ErrReentrantRun
		}
		return ErrLoopAlreadyRunning
	}
	if l.handles > 0 {
		return ErrLoopBusy
	}
	if !l.state.TryTransition(StateIdle, StateClosed) {
		return ErrLoopAlreadyRunning
	}

	l.wakeMu.Lock()
	l.wakeClosed = true
	_ = l.poller.unregister(l.wakeRead)
	closeWakeFd(l.wakeRead, l.wakeWrite)
	l.wakeMu.Unlock()

	l.logger.Debug().
		Uint64("loop_id", l.id).
		Log("reactor: loop closed")

	return l.poller.close()
}

func (l *Loop) checkOpen() error {
	if l.state.Load() == StateClosed {
		return ErrLoopClosed
	}
	return nil
}

// isLoopThread reports whether the calling goroutine is running the loop.
func (l *Loop) isLoopThread() bool {
	id := l.ownerID.Load()
	return id != 0 && id == goroutineid.Get()
}

// wake interrupts a blocking poll. Safe for concurrent use.
func (l *Loop) wake() error {
	l.wakeMu.RLock()
	defer l.wakeMu.RUnlock()
	if l.wakeClosed {
		return ErrLoopClosed
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(l.wakeWrite, buf[:])
		switch err {
		case nil, unix.EAGAIN:
			// a full pipe or saturated counter is already a pending wake
			return nil
		case unix.EINTR:
			continue
		default:
			return fmt.Errorf("reactor: wake: %w", err)
		}
	}
}

func (l *Loop) onWake(Events, error) {
	for {
		if _, err := unix.Read(l.wakeRead, l.wakeBuf[:]); err != nil {
			break
		}
	}
	l.runAsyncs()
}
