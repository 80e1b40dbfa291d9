//go:build linux

package reactorio

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestPollerReportsPipeReadability(t *testing.T) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	if err := p.Add(fds[0], EventReadable); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ready, err := p.Wait(0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("expected no ready fds before any write, got %v", ready)
	}

	if _, err := unix.Write(fds[1], []byte{1}); err != nil {
		t.Fatalf("write: %v", err)
	}

	ready, err = p.Wait(1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(ready) != 1 || ready[0].FD != fds[0] {
		t.Fatalf("expected fds[0] ready, got %v", ready)
	}
	if ready[0].Events&EventReadable == 0 {
		t.Fatalf("expected EventReadable set, got %v", ready[0].Events)
	}
}

func TestPollerRemoveStopsNotifications(t *testing.T) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	if err := p.Add(fds[0], EventReadable); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Remove(fds[0]); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := unix.Write(fds[1], []byte{1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ready, err := p.Wait(50)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("expected no ready fds after Remove, got %v", ready)
	}
}
