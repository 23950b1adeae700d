package bridge

import (
	"sync"

	"github.com/joeycumines/go-loopbridge/mainctx"
)

// stagingQueue holds descriptor changes requested by non-owner goroutines,
// until the owner drains them. All fields are guarded by mu.
type stagingQueue struct {
	mu            sync.Mutex
	pendingAdd    map[int]mainctx.IOCondition
	pendingUpdate map[int]mainctx.IOCondition
	pendingRemove map[int]struct{}
	terminating   bool
}

// stagedBatch is a drained set of changes.
type stagedBatch struct {
	add    map[int]mainctx.IOCondition
	update map[int]mainctx.IOCondition
	remove map[int]struct{}
}

func (q *stagingQueue) init() {
	q.pendingAdd = make(map[int]mainctx.IOCondition)
	q.pendingUpdate = make(map[int]mainctx.IOCondition)
	q.pendingRemove = make(map[int]struct{})
}

// lockLive locks q, panicking if the backend is being torn down.
func (q *stagingQueue) lockLive(op string, fd int) {
	q.mu.Lock()
	if q.terminating {
		q.mu.Unlock()
		contractViolation(op, fd, "backend is being destroyed")
	}
}

// add stages a new watch, replacing any pending add. It always needs a wake.
func (q *stagingQueue) add(fd int, events mainctx.IOCondition) {
	q.lockLive("add", fd)
	defer q.mu.Unlock()
	q.pendingAdd[fd] = events
	// a stale update would otherwise clobber the new mask
	delete(q.pendingUpdate, fd)
}

// modify stages a mask change, reporting whether the owner must be woken.
// A pending add is updated in place, since the owner has not seen it.
func (q *stagingQueue) modify(fd int, events mainctx.IOCondition) (wake bool) {
	q.lockLive("modify", fd)
	defer q.mu.Unlock()
	if _, ok := q.pendingAdd[fd]; ok {
		q.pendingAdd[fd] = events
		return false
	}
	q.pendingUpdate[fd] = events
	return true
}

// remove stages a removal, reporting whether the owner must be woken. A
// pending add is cancelled outright, since the owner has not seen it.
func (q *stagingQueue) remove(fd int) (wake bool) {
	q.lockLive("remove", fd)
	defer q.mu.Unlock()
	delete(q.pendingUpdate, fd)
	if _, ok := q.pendingAdd[fd]; ok {
		delete(q.pendingAdd, fd)
		return false
	}
	q.pendingRemove[fd] = struct{}{}
	return true
}

// take swaps out every pending change. The returned batch is nil if there
// was nothing staged.
func (q *stagingQueue) take() *stagedBatch {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pendingAdd) == 0 && len(q.pendingUpdate) == 0 && len(q.pendingRemove) == 0 {
		return nil
	}
	batch := &stagedBatch{
		add:    q.pendingAdd,
		update: q.pendingUpdate,
		remove: q.pendingRemove,
	}
	q.init()
	return batch
}

// terminate marks the backend as being destroyed, discarding staged
// changes. It reports false if it was already marked.
func (q *stagingQueue) terminate() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminating {
		return false
	}
	q.terminating = true
	q.init()
	return true
}

func (q *stagingQueue) isTerminating() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.terminating
}

// drain applies every staged change: removals, then additions, then
// updates. Removal beats an update for the same fd. A staged add that fails
// is recorded as rejected, as the caller was already told it succeeded.
// Owner only.
func (b *Backend) drain() {
	batch := b.staging.take()
	if batch == nil {
		return
	}
	for fd := range batch.remove {
		b.removeLocal(fd)
	}
	for fd, events := range batch.add {
		if !b.addLocal(fd, events) {
			b.rejected[fd] = struct{}{}
			b.logger.Err().
				Int("fd", fd).
				Stringer("events", events).
				Log("bridge: staged add failed")
		}
	}
	for fd, events := range batch.update {
		if _, removed := batch.remove[fd]; removed {
			continue
		}
		b.modifyLocal(fd, events)
	}
}
