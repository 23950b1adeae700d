package bridge

import (
	"errors"
	"sort"

	"github.com/joeycumines/go-loopbridge/mainctx"
	"github.com/joeycumines/go-loopbridge/reactor"
	"golang.org/x/sys/unix"
)

// fdClass is how a descriptor is watched.
type fdClass uint8

const (
	// classNative descriptors are watched by the reactor.
	classNative fdClass = iota
	// classFallback descriptors are probed with poll(2) before each block.
	classFallback
)

// classify inspects the file type of fd. Regular files, directories and
// block devices are always "ready" to epoll and kqueue alike, or refused
// outright, so they are probed instead. Everything else, including
// anonymous inodes such as eventfd, is tried natively first.
func classify(fd int) (fdClass, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return classNative, err
	}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFREG, unix.S_IFDIR, unix.S_IFBLK:
		return classFallback, nil
	default:
		return classNative, nil
	}
}

func isNotPollable(err error) bool {
	return errors.Is(err, reactor.ErrNotPollable)
}

// prober polls fallback-only watches out of band. Owner only.
type prober struct {
	watches  map[int]*watch
	snapshot []unix.PollFd
	dirty    bool
}

func (p *prober) add(w *watch) {
	if p.watches == nil {
		p.watches = make(map[int]*watch)
	}
	p.watches[w.fd] = w
	p.dirty = true
}

func (p *prober) remove(fd int) {
	delete(p.watches, fd)
	p.dirty = true
}

func (p *prober) markDirty() { p.dirty = true }

func (p *prober) len() int { return len(p.watches) }

func (p *prober) reset() {
	p.watches = nil
	p.snapshot = nil
	p.dirty = false
}

// rebuild refreshes the cached poll(2) array from the watches.
func (p *prober) rebuild() {
	p.snapshot = p.snapshot[:0]
	for fd, w := range p.watches {
		p.snapshot = append(p.snapshot, unix.PollFd{
			Fd:     int32(fd),
			Events: w.events.PollEvents(),
		})
	}
	sort.Slice(p.snapshot, func(i, j int) bool { return p.snapshot[i].Fd < p.snapshot[j].Fd })
	p.dirty = false
}

// probe runs a non-blocking poll(2) over the fallback watches, appending
// any ready ones to dst.
func (p *prober) probe(dst []mainctx.PollFD) ([]mainctx.PollFD, error) {
	if len(p.watches) == 0 {
		return dst, nil
	}
	if p.dirty {
		p.rebuild()
	}
	for i := range p.snapshot {
		p.snapshot[i].Revents = 0
	}
	n, err := unix.Poll(p.snapshot, 0)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	for i := 0; n > 0 && i < len(p.snapshot); i++ {
		pfd := &p.snapshot[i]
		if pfd.Revents == 0 {
			continue
		}
		n--
		w := p.watches[int(pfd.Fd)]
		dst = append(dst, mainctx.PollFD{
			FD:      w.fd,
			Events:  w.events,
			REvents: mainctx.ConditionFromPoll(pfd.Revents),
		})
	}
	return dst, nil
}
