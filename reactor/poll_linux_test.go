package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPoll_ErrorCondition(t *testing.T) {
	l := newTestLoop(t)
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK))
	defer unix.Close(fds[1])

	p, err := l.NewPoll(fds[1])
	require.NoError(t, err)

	var gotErr error
	var gotEvents Events
	require.NoError(t, p.Start(Writable, func(p *Poll, err error, events Events) {
		gotErr = err
		gotEvents = events
		_ = p.Stop()
	}))

	// the write end of a pipe reports an error once the read end is gone
	require.NoError(t, unix.Close(fds[0]))
	_, err = l.Run(RunOnce)
	require.NoError(t, err)
	assert.ErrorIs(t, gotErr, ErrPollFailed)
	assert.Zero(t, gotEvents)

	shutdownLoop(t, l, p)
}

func TestEpollToEvents(t *testing.T) {
	for _, tc := range [...]struct {
		name   string
		in     uint32
		want   Events
		hasErr bool
	}{
		{"in", unix.EPOLLIN, Readable, false},
		{"out", unix.EPOLLOUT, Writable, false},
		{"pri", unix.EPOLLPRI, Prioritized, false},
		{"rdhup", unix.EPOLLIN | unix.EPOLLRDHUP, Readable | Disconnect, false},
		{"hup", unix.EPOLLHUP, Readable | Writable | Disconnect, false},
		{"err", unix.EPOLLERR, 0, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := epollToEvents(tc.in)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.hasErr, err != nil)
		})
	}
	assert.Equal(t, uint32(unix.EPOLLIN|unix.EPOLLOUT|unix.EPOLLRDHUP|unix.EPOLLPRI),
		eventsToEpoll(Readable|Writable|Disconnect|Prioritized))
}
