//go:build iouring

package reactorio

import (
	"fmt"
	"sync"
	"time"

	"github.com/iceber/iouring-go"
	iouring_syscall "github.com/iceber/iouring-go/syscall"
)

// iouringPoller multiplexes fd readiness via IORING_OP_POLL_ADD instead of
// epoll_wait, for providers that want completions delivered through a
// single shared ring rather than a separate epoll fd. Grounded directly on
// the SubmitRequest/PrepRequest plumbing the real (non-stub) io_uring
// binding used for ublk URING_CMD submission.
type iouringPoller struct {
	mu      sync.Mutex
	ring    *iouring.IOURing
	ch      chan iouring.Result
	pending map[int]struct{}
	closed  bool
}

// NewIOURingPoller creates an iouring-backed Poller. The file is compiled
// only with -tags iouring, and even then NewPoller still returns the epoll
// poller; this one is used only where its constructor is called directly.
func NewIOURingPoller(entries uint) (Poller, error) {
	ring, err := iouring.New(entries)
	if err != nil {
		return nil, fmt.Errorf("reactorio: create io_uring: %w", err)
	}
	return &iouringPoller{
		ring:    ring,
		ch:      make(chan iouring.Result, entries),
		pending: make(map[int]struct{}),
	}, nil
}

func pollMask(mask EventMask) uint32 {
	var m uint32
	if mask&EventReadable != 0 {
		m |= iouring_syscall.POLLIN
	}
	if mask&EventWritable != 0 {
		m |= iouring_syscall.POLLOUT
	}
	return m
}

func (p *iouringPoller) Add(fd int, mask EventMask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	prep := func(sqe iouring_syscall.SubmissionQueueEntry, udata *iouring.UserData) {
		sqe.PrepOperation(iouring_syscall.IORING_OP_POLL_ADD, int32(fd), 0, uint64(pollMask(mask)), 0)
		sqe.SetUserData(uint64(fd))
	}
	if _, err := p.ring.SubmitRequest(prep, p.ch); err != nil {
		return fmt.Errorf("reactorio: poll_add fd %d: %w", fd, err)
	}
	p.pending[fd] = struct{}{}
	return nil
}

// Modify re-arms fd: IORING_OP_POLL_ADD is one-shot, so a new mask is just
// another submission once the previous one has fired.
func (p *iouringPoller) Modify(fd int, mask EventMask) error {
	return p.Add(fd, mask)
}

func (p *iouringPoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, fd)
	return nil
}

func (p *iouringPoller) Wait(timeoutMS int) ([]ReadyFD, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.mu.Unlock()

	var timeout <-chan time.Time
	if timeoutMS >= 0 {
		timer := time.NewTimer(time.Duration(timeoutMS) * time.Millisecond)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res, ok := <-p.ch:
		if !ok {
			return nil, ErrClosed
		}
		fd := int(res.UserData())
		ready := ReadyFD{FD: fd, Events: EventReadable}
		p.mu.Lock()
		_, live := p.pending[fd]
		delete(p.pending, fd)
		p.mu.Unlock()
		if !live {
			return nil, nil // fd was removed after its poll was armed
		}
		return []ReadyFD{ready}, nil
	case <-timeout:
		return nil, nil
	}
}

func (p *iouringPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.ring.Close()
	return nil
}
