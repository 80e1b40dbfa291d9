//go:build !linux

package loom

// newEventFD reports no FD backing on platforms without eventfd; callers
// fall back to the channel-only waitHandle signal.
func newEventFD() (fd int, ok bool) { return -1, false }

func signalEventFD(fd int) {}

func drainEventFD(fd int) {}

func closeEventFD(fd int) {}
