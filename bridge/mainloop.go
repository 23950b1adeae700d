package bridge

import (
	"sync"

	"github.com/joeycumines/go-loopbridge/mainctx"
	"github.com/joeycumines/go-loopbridge/reactor"
)

// MainLoop runs a context from a reactor loop, on the goroutine that calls
// Start (or Run).
type MainLoop struct {
	ctx     *mainctx.Context
	loop    *reactor.Loop
	opts    []Option
	mu      sync.Mutex
	backend *Backend
}

// NewMainLoop pairs ctx with loop. Options are passed to New on Start.
func NewMainLoop(ctx *mainctx.Context, loop *reactor.Loop, opts ...Option) *MainLoop {
	return &MainLoop{ctx: ctx, loop: loop, opts: opts}
}

// Context returns the context.
func (m *MainLoop) Context() *mainctx.Context { return m.ctx }

// Loop returns the reactor loop.
func (m *MainLoop) Loop() *reactor.Loop { return m.loop }

// Backend returns the current backend, or nil if not running.
func (m *MainLoop) Backend() *Backend {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend
}

// IsRunning reports whether Start succeeded, and Quit has not been called.
func (m *MainLoop) IsRunning() bool {
	return m.Backend() != nil
}

// Start acquires the context for the calling goroutine, creates a backend,
// and binds it to the context. The calling goroutine must then run the
// loop. The context is released when the backend is freed, after Quit.
func (m *MainLoop) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend != nil {
		return ErrAlreadyStarted
	}
	if !m.ctx.Acquire() {
		return ErrNotAcquired
	}
	b, err := New(NativeLoop(m.loop), m.ctx, m.opts...)
	if err != nil {
		m.ctx.Release()
		return err
	}
	if err := m.ctx.SetBackend(b); err != nil {
		b.Destroy()
		b.OnFree(m.ctx.Release)
		return err
	}
	b.OnFree(m.ctx.Release)
	m.backend = b
	return nil
}

// Run starts the main loop, then runs the loop until it has no active
// handles, which happens after Quit unless other handles remain open.
func (m *MainLoop) Run() error {
	if err := m.Start(); err != nil {
		return err
	}
	_, err := m.loop.Run(reactor.RunDefault)
	return err
}

// Quit unbinds the backend from the context and destroys it. It is safe to
// call from any goroutine, and more than once.
func (m *MainLoop) Quit() {
	m.mu.Lock()
	b := m.backend
	m.backend = nil
	m.mu.Unlock()
	if b == nil {
		return
	}
	_ = m.ctx.SetBackend(nil)
	b.Destroy()
}
