package eventloop

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestEventMaskString(t *testing.T) {
	cases := []struct {
		mask EventMask
		want string
	}{
		{0, "0"},
		{Read, "R"},
		{Read | Write, "RW"},
		{Edge | ReadHangUp, "ETRH"},
	}
	for _, c := range cases {
		if got := c.mask.String(); got != c.want {
			t.Errorf("EventMask(%d).String() = %q, want %q", c.mask, got, c.want)
		}
	}
}

func TestLoopFDReadiness(t *testing.T) {
	loop, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer loop.Close()

	readFD, writeFD, err := newNonblockingPipe()
	if err != nil {
		t.Fatalf("newNonblockingPipe: %v", err)
	}
	defer unix.Close(writeFD)

	fired := make(chan EventMask, 1)
	if err := loop.AddFD(readFD, Read, func(ready EventMask) {
		drainPipe(readFD)
		fired <- ready
		loop.Stop()
	}); err != nil {
		t.Fatalf("AddFD: %v", err)
	}
	defer loop.RemoveFD(readFD)
	defer unix.Close(readFD)

	go func() {
		time.Sleep(10 * time.Millisecond)
		unix.Write(writeFD, []byte{'x'})
	}()

	done := make(chan error, 1)
	go func() { done <- loop.Run() }()

	select {
	case ready := <-fired:
		if ready&Read == 0 {
			t.Errorf("expected Read in ready mask, got %v", ready)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fd readiness")
	}

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestLoopTimer(t *testing.T) {
	loop, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer loop.Close()

	fired := make(chan struct{}, 1)
	id, err := loop.AddTimer(10*time.Millisecond, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
		loop.Stop()
	})
	if err != nil {
		t.Fatalf("AddTimer: %v", err)
	}
	defer loop.CancelTimer(id)

	done := make(chan error, 1)
	go func() { done <- loop.Run() }()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for timer")
	}

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
