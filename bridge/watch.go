package bridge

import (
	"github.com/joeycumines/go-loopbridge/mainctx"
)

// watch is the interest registered for one descriptor. A watch with
// watched unset is fallback-only, and has no poll handle.
type watch struct {
	poll    PollHandle
	fd      int
	events  mainctx.IOCondition
	watched bool
}

// addLocal tracks fd, replacing any existing watch. Owner only.
func (b *Backend) addLocal(fd int, events mainctx.IOCondition) bool {
	if old, ok := b.watches[fd]; ok {
		b.retire(old)
	}

	w := &watch{fd: fd, events: events}

	class, err := b.opts.classify(fd)
	if err != nil {
		b.logger.Err().
			Int("fd", fd).
			Err(err).
			Log("bridge: failed to classify descriptor")
		return false
	}

	if class == classNative {
		if !b.startNative(w) {
			return false
		}
	}

	if !w.watched {
		if b.opts.noFallback {
			b.logger.Err().
				Int("fd", fd).
				Log("bridge: descriptor requires fallback probing, which is disabled")
			return false
		}
		b.prober.add(w)
	}

	b.watches[fd] = w
	delete(b.rejected, fd)
	b.opts.metrics.watch(w.watched, 1)
	return true
}

// startNative opens and starts a poll handle for w. A descriptor the
// reactor refuses leaves w fallback-only, which is not a failure.
func (b *Backend) startNative(w *watch) bool {
	p, err := b.loop.NewPoll(w.fd)
	if err != nil {
		if isNotPollable(err) {
			b.logger.Notice().
				Int("fd", w.fd).
				Err(err).
				Log("bridge: descriptor demoted to fallback probing")
			return true
		}
		b.logger.Err().
			Int("fd", w.fd).
			Err(err).
			Log("bridge: poll init failed")
		return false
	}
	if err := p.Start(w.events, b.pollCallback(w)); err != nil {
		b.logger.Err().
			Int("fd", w.fd).
			Stringer("events", w.events).
			Err(err).
			Log("bridge: poll start failed")
		b.closePoll(p)
		return false
	}
	w.poll = p
	w.watched = true
	b.nativeCount++
	return true
}

// modifyLocal applies a new mask to a tracked fd. Owner only.
func (b *Backend) modifyLocal(fd int, events mainctx.IOCondition) bool {
	w, ok := b.watches[fd]
	if !ok {
		if b.dropRejected("modify", fd, false) {
			return false
		}
		contractViolation("modify", fd, "descriptor is not tracked")
	}
	w.events = events
	if !w.watched {
		b.prober.markDirty()
		return true
	}
	if err := w.poll.Start(events, b.pollCallback(w)); err != nil {
		b.logger.Err().
			Int("fd", fd).
			Stringer("events", events).
			Err(err).
			Log("bridge: poll restart failed")
		return false
	}
	return true
}

// removeLocal stops tracking fd. Owner only.
func (b *Backend) removeLocal(fd int) bool {
	w, ok := b.watches[fd]
	if !ok {
		if b.dropRejected("remove", fd, true) {
			return false
		}
		contractViolation("remove", fd, "descriptor is not tracked")
	}
	b.retire(w)
	return true
}

// dropRejected reports whether fd is untracked because its staged add
// failed, logging the dropped op. A remove ends the rejection.
func (b *Backend) dropRejected(op string, fd int, forget bool) bool {
	if _, ok := b.rejected[fd]; !ok {
		return false
	}
	if forget {
		delete(b.rejected, fd)
	}
	b.logger.Warning().
		Uint64("backend_id", b.id).
		Int("fd", fd).
		Str("op", op).
		Log("bridge: dropped change for descriptor whose add failed")
	return true
}

// retire removes w from the table, closing its poll handle.
func (b *Backend) retire(w *watch) {
	delete(b.watches, w.fd)
	b.opts.metrics.watch(w.watched, -1)
	if !w.watched {
		b.prober.remove(w.fd)
		return
	}
	b.nativeCount--
	b.closePoll(w.poll)
	w.poll = nil
	w.watched = false
}

// closePoll closes p, deferring the backend's release until confirmed.
func (b *Backend) closePoll(p PollHandle) {
	b.closingPolls++
	p.Close(func() {
		b.closingPolls--
		b.maybeFree()
	})
}

// pollCallback appends readiness for w to the ready buffer. The watch stays
// registered on error.
func (b *Backend) pollCallback(w *watch) func(err error, revents mainctx.IOCondition) {
	return func(err error, revents mainctx.IOCondition) {
		if err != nil {
			revents = mainctx.IOErr
		}
		if revents == 0 {
			return
		}
		b.appendReady(mainctx.PollFD{FD: w.fd, Events: w.events, REvents: revents})
	}
}

// appendReady grows the ready buffer geometrically, capped at the number of
// tracked watches, so a full cycle never reallocates twice.
func (b *Backend) appendReady(pfd mainctx.PollFD) {
	if n := len(b.ready); n == cap(b.ready) {
		size := cap(b.ready) * 2
		if limit := len(b.watches); size > limit {
			size = limit
		}
		if size < n+1 {
			size = n + 1
		}
		grown := make([]mainctx.PollFD, n, size)
		copy(grown, b.ready)
		b.ready = grown
	}
	b.ready = append(b.ready, pfd)
}

// watchSnapshot returns the tracked masks, keyed by fd.
func (b *Backend) watchSnapshot() map[int]mainctx.IOCondition {
	m := make(map[int]mainctx.IOCondition, len(b.watches))
	for fd, w := range b.watches {
		m[fd] = w.events
	}
	return m
}
