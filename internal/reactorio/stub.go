//go:build !linux

package reactorio

import "fmt"

// NewPoller is only implemented for Linux (epoll); other platforms fall
// back to the Reactor's timer tick.
func NewPoller() (Poller, error) {
	return nil, fmt.Errorf("reactorio: FD polling not supported on this platform")
}
