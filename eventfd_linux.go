//go:build linux

package loom

import "golang.org/x/sys/unix"

// newEventFD creates a non-blocking eventfd backing a waitHandle, giving it
// a real OS fd internal/reactorio's Poller can register alongside a
// provider's wait-object fd. ok is false if the kernel call fails (e.g.
// fd-table exhaustion), in which case the waitHandle falls back to its
// channel-only signal.
func newEventFD() (fd int, ok bool) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, false
	}
	return fd, true
}

func signalEventFD(fd int) {
	var buf [8]byte
	buf[0] = 1
	_, _ = unix.Write(fd, buf[:])
}

func drainEventFD(fd int) {
	var buf [8]byte
	_, _ = unix.Read(fd, buf[:])
}

func closeEventFD(fd int) {
	_ = unix.Close(fd)
}
