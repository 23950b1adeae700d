package mainctx

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/goroutineid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

type fakeBackend struct {
	mu      sync.Mutex
	calls   []string
	reject  map[int]bool
	acquire func() bool
	iterate func(block, dispatch bool) bool
	wakeups atomic.Int32
}

func (f *fakeBackend) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) Acquire() bool {
	if f.acquire != nil {
		return f.acquire()
	}
	return true
}

func (f *fakeBackend) Iterate(block, dispatch bool) bool {
	f.record("iterate %v %v", block, dispatch)
	if f.iterate != nil {
		return f.iterate(block, dispatch)
	}
	return false
}

func (f *fakeBackend) AddFD(fd int, events IOCondition, priority int) bool {
	f.record("add %d %s %d", fd, events, priority)
	return !f.reject[fd]
}

func (f *fakeBackend) ModifyFD(fd int, events IOCondition, priority int) bool {
	f.record("modify %d %s %d", fd, events, priority)
	return true
}

func (f *fakeBackend) RemoveFD(fd int) bool {
	f.record("remove %d", fd)
	return true
}

func (f *fakeBackend) Wakeup() { f.wakeups.Add(1) }

func newTestContext(t *testing.T) *Context {
	t.Helper()
	c, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestContext_IterationNonBlockingWhenEmpty(t *testing.T) {
	c := newTestContext(t)
	start := time.Now()
	assert.False(t, c.Iteration(false))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.False(t, c.Pending())
}

func TestContext_AcquireIsReentrantAndExclusive(t *testing.T) {
	c := newTestContext(t)
	require.True(t, c.Acquire())
	require.True(t, c.Acquire())
	assert.True(t, c.IsOwner())

	other := func() bool {
		ch := make(chan bool)
		go func() {
			ok := c.Acquire()
			if ok {
				c.Release()
			}
			ch <- ok
		}()
		return <-ch
	}

	assert.False(t, other())
	c.Release()
	assert.False(t, other())
	c.Release()
	assert.False(t, c.IsOwner())
	assert.True(t, other())

	// releasing without ownership is tolerated
	c.Release()
	assert.True(t, c.Acquire())
	c.Release()
}

func TestContext_AcquireConsultsBackend(t *testing.T) {
	c := newTestContext(t)
	var allow atomic.Bool
	b := &fakeBackend{acquire: allow.Load}
	require.NoError(t, c.SetBackend(b))
	assert.False(t, c.Acquire())
	allow.Store(true)
	assert.True(t, c.Acquire())
	c.Release()
}

func TestContext_PriorityCutoff(t *testing.T) {
	c := newTestContext(t)
	var order []string

	low := NewIdleSource(func() bool {
		order = append(order, "low")
		return true
	})
	require.NoError(t, low.SetPriority(PriorityLow))
	c.Attach(low)

	var highCalls int
	high := NewIdleSource(func() bool {
		order = append(order, "high")
		highCalls++
		return highCalls < 2
	})
	require.NoError(t, high.SetPriority(PriorityHigh))
	c.Attach(high)
	assert.ErrorIs(t, high.SetPriority(PriorityDefault), ErrSourceAttached)

	for i := 0; i < 3; i++ {
		assert.True(t, c.Iteration(false))
	}
	assert.Equal(t, []string{"high", "high", "low"}, order)
	assert.True(t, high.IsDestroyed())
	assert.Nil(t, c.FindSource(high.ID()))
	assert.Same(t, low, c.FindSource(low.ID()))
}

func TestContext_SamePriorityDispatchedTogether(t *testing.T) {
	c := newTestContext(t)
	var a, b int
	c.IdleAdd(func() bool { a++; return true })
	c.IdleAdd(func() bool { b++; return true })
	assert.True(t, c.Iteration(false))
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

func TestContext_PrepareReportsTimeout(t *testing.T) {
	c := newTestContext(t)
	maxPriority, timeout := c.Prepare()
	assert.Equal(t, math.MaxInt, maxPriority)
	assert.Less(t, timeout, time.Duration(0))

	c.TimeoutAdd(time.Hour, func() bool { return true })
	_, timeout = c.Prepare()
	assert.Greater(t, timeout, 59*time.Minute)
	assert.LessOrEqual(t, timeout, time.Hour)

	c.IdleAdd(func() bool { return true })
	maxPriority, timeout = c.Prepare()
	assert.Equal(t, PriorityDefaultIdle, maxPriority)
	assert.Equal(t, time.Duration(0), timeout)
}

func TestContext_TimeoutSource(t *testing.T) {
	c := newTestContext(t)
	var count int
	start := time.Now()
	id := c.TimeoutAdd(10*time.Millisecond, func() bool {
		count++
		return count < 3
	})
	require.NotZero(t, id)

	deadline := time.Now().Add(5 * time.Second)
	for count < 3 && time.Now().Before(deadline) {
		c.Iteration(true)
	}
	assert.Equal(t, 3, count)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Nil(t, c.FindSource(id))
}

func TestContext_FDSource(t *testing.T) {
	c := newTestContext(t)
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	var got IOCondition
	c.FDAdd(fds[0], IOIn, func(fd int, revents IOCondition) bool {
		assert.Equal(t, fds[0], fd)
		got = revents
		return false
	})

	assert.False(t, c.Iteration(false))

	_, err = unix.Write(fds[1], []byte("x"))
	require.NoError(t, err)
	assert.True(t, c.Iteration(true))
	assert.Equal(t, IOIn, got)
	assert.Empty(t, c.Query(math.MaxInt))
}

func TestContext_CheckMergesAndClears(t *testing.T) {
	c := newTestContext(t)
	s := NewFDSource(7, IOIn, func(int, IOCondition) bool { return true })
	pfd := s.polls[0]
	c.Attach(s)
	require.True(t, c.Acquire())
	defer c.Release()

	maxPriority, _ := c.Prepare()
	assert.True(t, c.Check(maxPriority, []PollFD{
		{FD: 7, Events: IOIn, REvents: IOIn},
		{FD: 7, Events: IOIn, REvents: IOHup},
	}))
	assert.Equal(t, IOIn|IOHup, pfd.REvents)
	c.Dispatch()

	// not reported, so cleared; unrequested conditions are filtered
	maxPriority, _ = c.Prepare()
	assert.False(t, c.Check(maxPriority, []PollFD{{FD: 8, REvents: IOIn}}))
	assert.Zero(t, pfd.REvents)
	assert.False(t, c.Check(maxPriority, []PollFD{{FD: 7, REvents: IOOut}}))
	assert.Zero(t, pfd.REvents)
}

func TestContext_WakeupInterruptsIteration(t *testing.T) {
	c := newTestContext(t)
	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Wakeup()
	}()
	start := time.Now()
	assert.False(t, c.Iteration(true))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestContext_InvokeRunsImmediatelyWhenAcquirable(t *testing.T) {
	c := newTestContext(t)
	var ran bool
	c.Invoke(func() {
		ran = true
		assert.True(t, c.IsOwner())
	})
	assert.True(t, ran)
	assert.False(t, c.IsOwner())
}

func TestContext_InvokeFromOtherGoroutine(t *testing.T) {
	c := newTestContext(t)

	var (
		ownerID   atomic.Int64
		count     atomic.Int32
		ready     = make(chan struct{})
		ranOn     = make(chan int64, 2)
		g         errgroup.Group
		quit      atomic.Bool
		quitTimer uint
	)

	g.Go(func() error {
		if !c.Acquire() {
			return fmt.Errorf("owner failed to acquire")
		}
		defer c.Release()
		ownerID.Store(goroutineid.Get())
		quitTimer = c.TimeoutAdd(5*time.Second, func() bool {
			quit.Store(true)
			return false
		})
		close(ready)
		for !quit.Load() && count.Load() < 2 {
			c.Iteration(true)
		}
		return nil
	})

	<-ready
	for i := 0; i < 2; i++ {
		c.Invoke(func() {
			count.Add(1)
			ranOn <- goroutineid.Get()
		})
	}
	require.NoError(t, g.Wait())
	c.Remove(quitTimer)

	assert.Equal(t, int32(2), count.Load())
	assert.Equal(t, ownerID.Load(), <-ranOn)
	assert.Equal(t, ownerID.Load(), <-ranOn)
}

func TestContext_PollRecordsWithBackend(t *testing.T) {
	c := newTestContext(t)

	// registered before binding, replayed on bind
	first := NewFDSource(3, IOIn, func(int, IOCondition) bool { return true })
	c.Attach(first)

	b := &fakeBackend{reject: map[int]bool{9: true}}
	require.NoError(t, c.SetBackend(b))
	assert.Same(t, b, c.Backend())
	assert.ErrorIs(t, c.SetBackend(&fakeBackend{}), ErrBackendBound)

	second := NewFDSource(3, IOOut, func(int, IOCondition) bool { return true })
	c.Attach(second)
	rejected := NewFDSource(9, IOIn, func(int, IOCondition) bool { return true })
	c.Attach(rejected)

	second.Destroy()
	first.Destroy()
	rejected.Destroy()

	assert.Equal(t, []string{
		"add 3 IN 0",
		"modify 3 IN|OUT 0",
		"add 9 IN 0",
		"modify 3 IN 0",
		"remove 3",
	}, b.Calls())

	require.NoError(t, c.SetBackend(nil))
	assert.Nil(t, c.Backend())
}

func TestContext_PollRecordPriority(t *testing.T) {
	c := newTestContext(t)
	b := &fakeBackend{}
	require.NoError(t, c.SetBackend(b))

	low := NewFDSource(4, IOIn, func(int, IOCondition) bool { return true })
	require.NoError(t, low.SetPriority(PriorityLow))
	c.Attach(low)
	high := NewFDSource(4, IOIn, func(int, IOCondition) bool { return true })
	require.NoError(t, high.SetPriority(PriorityHigh))
	c.Attach(high)
	high.Destroy()

	assert.Equal(t, []string{
		"add 4 IN 300",
		"modify 4 IN -100",
		"modify 4 IN 300",
	}, b.Calls())
	assert.Empty(t, c.Query(PriorityDefault))
	assert.Len(t, c.Query(PriorityLow), 1)
}

func TestContext_IterationDelegatesToBackend(t *testing.T) {
	c := newTestContext(t)
	b := &fakeBackend{iterate: func(block, dispatch bool) bool { return block }}
	require.NoError(t, c.SetBackend(b))
	assert.True(t, c.Iteration(true))
	assert.False(t, c.Pending())
	c.Wakeup()
	assert.Equal(t, []string{"iterate true true", "iterate false false"}, b.Calls())
	assert.Equal(t, int32(1), b.wakeups.Load())
}

func TestContext_AttachFromOtherGoroutineWakes(t *testing.T) {
	c := newTestContext(t)
	b := &fakeBackend{}
	require.NoError(t, c.SetBackend(b))
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.IdleAdd(func() bool { return false })
	}()
	<-done
	assert.Equal(t, int32(1), b.wakeups.Load())
}

func TestContext_Close(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Close(), ErrContextClosed)
	c.Wakeup()
	assert.False(t, c.Iteration(false))
}

func TestSource_DestroyFinalizesOnce(t *testing.T) {
	c := newTestContext(t)
	var finalized int
	s := NewSource(SourceFuncs{Finalize: func(*Source) { finalized++ }})
	s.SetName("test")
	assert.Equal(t, "test", s.Name())
	assert.Zero(t, s.ID())
	id := c.Attach(s)
	assert.Same(t, c, s.Context())
	assert.True(t, c.Remove(id))
	assert.False(t, c.Remove(id))
	s.Destroy()
	assert.Equal(t, 1, finalized)
	assert.Zero(t, c.Attach(s))
}

func TestSource_AddPollAfterAttach(t *testing.T) {
	c := newTestContext(t)
	b := &fakeBackend{}
	require.NoError(t, c.SetBackend(b))
	s := NewSource(SourceFuncs{})
	c.Attach(s)
	pfd := s.AddPoll(5, IOOut)
	s.RemovePoll(pfd)
	s.RemovePoll(pfd)
	assert.Equal(t, []string{"add 5 OUT 0", "remove 5"}, b.Calls())
}
