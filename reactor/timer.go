package reactor

import (
	"container/heap"
	"time"
)

// Timer fires a callback once after a timeout, then optionally at a fixed
// repeat interval.
type Timer struct {
	handle
	cb     func(*Timer)
	due    time.Time
	repeat time.Duration
	seq    uint64
	index  int // heap index, -1 when not scheduled
}

// NewTimer creates a stopped timer.
func (l *Loop) NewTimer() (*Timer, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	t := &Timer{index: -1}
	t.init(l, KindTimer)
	return t, nil
}

// Start schedules cb to run timeout after the loop's cached now. If repeat
// is non-zero the timer is rescheduled by repeat after each expiry.
// Starting an active timer reschedules it.
func (t *Timer) Start(timeout, repeat time.Duration, cb func(*Timer)) error {
	if err := t.checkUsable("start"); err != nil {
		return err
	}
	if cb == nil {
		return &HandleError{Kind: KindTimer, Op: "start", Cause: errNilCallback}
	}
	if timeout < 0 {
		timeout = 0
	}
	t.unschedule()
	t.cb = cb
	t.repeat = repeat
	t.schedule(timeout)
	return nil
}

// Stop unschedules the timer. Stopping an inactive timer is a no-op.
func (t *Timer) Stop() error {
	t.unschedule()
	return nil
}

// Again restarts a repeating timer using the repeat interval as timeout.
// It has no effect on a timer with no repeat interval.
func (t *Timer) Again() error {
	if err := t.checkUsable("again"); err != nil {
		return err
	}
	if t.cb == nil {
		return &HandleError{Kind: KindTimer, Op: "again", Cause: errNilCallback}
	}
	if t.repeat > 0 {
		t.unschedule()
		t.schedule(t.repeat)
	}
	return nil
}

// Repeat returns the repeat interval.
func (t *Timer) Repeat() time.Duration { return t.repeat }

// SetRepeat sets the repeat interval, taking effect after the next expiry.
func (t *Timer) SetRepeat(repeat time.Duration) { t.repeat = repeat }

// Due returns the time the timer next fires, or the zero time if inactive.
func (t *Timer) Due() time.Time {
	if t.index < 0 {
		return time.Time{}
	}
	return t.due
}

// Close stops the timer and schedules cb for the closing phase.
func (t *Timer) Close(cb func()) {
	t.beginClose(cb)
	t.unschedule()
}

func (t *Timer) schedule(timeout time.Duration) {
	l := t.loop
	l.timerSeq++
	t.seq = l.timerSeq
	t.due = l.now.Add(timeout)
	heap.Push(&l.timers, t)
	t.setActive(true)
}

func (t *Timer) unschedule() {
	if t.index >= 0 {
		heap.Remove(&t.loop.timers, t.index)
	}
	t.setActive(false)
}

// timerHeap is a min-heap of timers ordered by due time, then start order.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// runTimers fires every timer due at or before the cached now.
func (l *Loop) runTimers() {
	for len(l.timers) > 0 {
		t := l.timers[0]
		if t.due.After(l.now) {
			break
		}
		t.unschedule()
		if t.repeat > 0 {
			t.schedule(t.repeat)
		}
		t.cb(t)
	}
}
