//go:build linux

package reactorio

import (
	"sync"

	"golang.org/x/sys/unix"
)

// epollPoller is the default Poller, built directly on epoll the way the
// teacher's minimal ring talks directly to io_uring_enter rather than going
// through a heavier framework.
type epollPoller struct {
	mu     sync.Mutex
	epfd   int
	closed bool
}

// NewPoller creates the platform-default Poller (epoll on Linux).
func NewPoller() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: fd}, nil
}

func toEpollEvents(mask EventMask) uint32 {
	var ev uint32
	if mask&EventReadable != 0 {
		ev |= unix.EPOLLIN
	}
	if mask&EventWritable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func fromEpollEvents(ev uint32) EventMask {
	var mask EventMask
	if ev&unix.EPOLLIN != 0 {
		mask |= EventReadable
	}
	if ev&unix.EPOLLOUT != 0 {
		mask |= EventWritable
	}
	return mask
}

func (p *epollPoller) Add(fd int, mask EventMask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	event := unix.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &event)
}

func (p *epollPoller) Modify(fd int, mask EventMask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	event := unix.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &event)
}

func (p *epollPoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Wait(timeoutMS int) ([]ReadyFD, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	epfd := p.epfd
	p.mu.Unlock()

	events := make([]unix.EpollEvent, 64)
	n, err := unix.EpollWait(epfd, events, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	ready := make([]ReadyFD, 0, n)
	for i := 0; i < n; i++ {
		ready = append(ready, ReadyFD{FD: int(events[i].Fd), Events: fromEpollEvents(events[i].Events)})
	}
	return ready, nil
}

func (p *epollPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.epfd)
}
