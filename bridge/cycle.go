package bridge

import (
	"github.com/joeycumines/go-loopbridge/reactor"
)

// onPrepare is the pre-block phase: apply staged changes, prepare the
// context, bound the block with the timer, and seed the ready buffer with
// fallback readiness.
func (b *Backend) onPrepare() {
	b.drain()
	b.prepared = false
	b.ready = b.ready[:0]

	if !b.ctx.Acquire() {
		b.warnAcquire("prepare")
		return
	}
	defer b.ctx.Release()

	maxPriority, timeout := b.ctx.Prepare()
	b.maxPriority = maxPriority
	b.prepared = true
	b.opts.metrics.iteration()

	if timeout >= 0 {
		if err := b.timer.Start(timeout, b.onTimer); err != nil {
			b.logger.Err().
				Uint64("backend_id", b.id).
				Dur("timeout", timeout).
				Err(err).
				Log("bridge: timer start failed")
		}
	}

	if b.prober.len() == 0 {
		return
	}
	ready, err := b.prober.probe(b.ready)
	if err != nil {
		b.logger.Err().
			Uint64("backend_id", b.id).
			Int("fds", b.prober.len()).
			Err(err).
			Log("bridge: fallback probe failed")
	}
	b.ready = ready
	if n := len(b.ready); n > 0 {
		b.opts.metrics.fallbackReady(n)
		// don't block, the fallback descriptors are already ready
		if err := b.trigger.Start(b.onTrigger); err != nil {
			b.logger.Err().
				Uint64("backend_id", b.id).
				Err(err).
				Log("bridge: trigger start failed")
		}
	}
}

// onTimer only exists to end the block.
func (b *Backend) onTimer() {}

// onTrigger only exists to make the block non-blocking.
func (b *Backend) onTrigger() {}

// onCheck is the post-block phase: disarm the timer and trigger, then check
// and optionally dispatch the context.
func (b *Backend) onCheck() {
	_ = b.timer.Stop()
	if b.trigger != nil {
		_ = b.trigger.Stop()
	}

	if !b.prepared {
		return
	}
	b.prepared = false

	if !b.ctx.Acquire() {
		b.warnAcquire("check")
		return
	}
	defer b.ctx.Release()

	if !b.ctx.Check(b.maxPriority, b.ready) {
		return
	}
	b.sourcesReady = true
	b.opts.metrics.sourcesReady()
	if b.dispatch {
		b.ctx.Dispatch()
	}
}

// warnAcquire reports a failure to acquire the context, rate limited.
func (b *Backend) warnAcquire(phase string) {
	b.opts.metrics.acquireFailure()
	if _, ok := b.limiter.Allow(phase); !ok {
		return
	}
	b.logger.Warning().
		Uint64("backend_id", b.id).
		Str("phase", phase).
		Log("bridge: context is owned by another goroutine, skipping cycle")
}

// Iterate runs one loop turn, blocking for readiness or the context's
// timeout if block is set. Ready sources are dispatched only if dispatch is
// set. It returns whether any source was ready. Only the owner may iterate;
// other goroutines get false.
func (b *Backend) Iterate(block, dispatch bool) bool {
	if !b.isOwner() {
		if _, ok := b.limiter.Allow("iterate"); ok {
			b.logger.Warning().
				Uint64("backend_id", b.id).
				Log("bridge: iterate called by a goroutine other than the owner")
		}
		return false
	}
	if b.destroyed {
		return false
	}

	b.sourcesReady = false
	b.dispatch = dispatch
	defer func() { b.dispatch = true }()

	mode := reactor.RunNoWait
	if block {
		mode = reactor.RunOnce
	}
	if _, err := b.loop.Run(mode); err != nil {
		b.logger.Err().
			Uint64("backend_id", b.id).
			Stringer("mode", mode).
			Err(err).
			Log("bridge: loop run failed")
	}
	return b.sourcesReady
}
