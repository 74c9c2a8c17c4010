// Package eventloop implements a portable readiness-based dispatcher:
// a single-threaded run loop driving file descriptor readiness,
// periodic timers, and process signals through one OS-native backend
// (epoll on Linux, kqueue on BSD/Darwin).
//
// Timers and signals are layered on top of the fd backend with a self-pipe:
// a helper goroutine (time.Ticker for timers, os/signal.Notify for signals)
// writes a single byte into a non-blocking pipe whose read end is a normal
// registered fd. This keeps the actual callback dispatch single-threaded
// and confined to the poll/callback turn on the loop goroutine, which is
// the ordering guarantee this package exists to provide; it does not
// depend on timerfd/signalfd's exact Linux ABI being mirrored bit for bit.
package eventloop

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// EventMask is the OS-neutral readiness mask.
type EventMask uint32

const (
	Read EventMask = 1 << iota
	Write
	Error
	HangUp
	Edge
	ReadHangUp
)

func (m EventMask) String() string {
	s := ""
	for _, pair := range []struct {
		bit  EventMask
		name string
	}{
		{Read, "R"}, {Write, "W"}, {Error, "E"}, {HangUp, "H"}, {Edge, "ET"}, {ReadHangUp, "RH"},
	} {
		if m&pair.bit != 0 {
			s += pair.name
		}
	}
	if s == "" {
		return "0"
	}
	return s
}

// FDCallback is invoked with the readiness mask observed for a registered fd.
type FDCallback func(ready EventMask)

// TimerCallback is invoked when a periodic timer fires.
type TimerCallback func()

// SignalCallback is invoked when a registered process signal is delivered.
type SignalCallback func()

type readyEvent struct {
	fd    int
	ready EventMask
}

// backend is the platform-specific half of the loop: raw fd readiness
// multiplexing only (see backend_linux.go, backend_darwin.go).
type backend interface {
	init() error
	close() error
	addFD(fd int, mask EventMask) error
	updateFD(fd int, mask EventMask) error
	removeFD(fd int) error
	poll(timeoutMS int) ([]readyEvent, error)
}

// Loop is the single-threaded event dispatcher. All registration calls and
// all callbacks execute on the goroutine that calls Run; Loop itself does
// not spawn goroutines for fd dispatch (timers/signals use small helper
// goroutines that only ever write to a pipe, never call back into Loop
// directly).
type Loop struct {
	be backend

	fdCallbacks map[int]FDCallback

	timers      map[int]*timerSource
	nextTimerID int

	signals map[int]*signalSource

	stopping atomic.Bool
}

type timerSource struct {
	readFD, writeFD int
	ticker          *time.Ticker
	stop            chan struct{}
}

type signalSource struct {
	readFD, writeFD int
	stopCh          chan struct{}
	sigCh           chan os.Signal
}

// New constructs a Loop bound to the best backend for the current platform.
func New() (*Loop, error) {
	be, err := newBackend()
	if err != nil {
		return nil, fmt.Errorf("eventloop: create backend: %w", err)
	}
	if err := be.init(); err != nil {
		return nil, fmt.Errorf("eventloop: init backend: %w", err)
	}
	return &Loop{
		be:          be,
		fdCallbacks: make(map[int]FDCallback),
		timers:      make(map[int]*timerSource),
		signals:     make(map[int]*signalSource),
	}, nil
}

// AddFD registers fd for the given readiness mask.
func (l *Loop) AddFD(fd int, mask EventMask, cb FDCallback) error {
	if err := l.be.addFD(fd, mask); err != nil {
		return fmt.Errorf("eventloop: add fd %d: %w", fd, err)
	}
	l.fdCallbacks[fd] = cb
	return nil
}

// UpdateFD replaces fd's subscription atomically.
func (l *Loop) UpdateFD(fd int, mask EventMask) error {
	if err := l.be.updateFD(fd, mask); err != nil {
		return fmt.Errorf("eventloop: update fd %d: %w", fd, err)
	}
	return nil
}

// RemoveFD cancels fd's subscription.
func (l *Loop) RemoveFD(fd int) error {
	err := l.be.removeFD(fd)
	delete(l.fdCallbacks, fd)
	if err != nil {
		return fmt.Errorf("eventloop: remove fd %d: %w", fd, err)
	}
	return nil
}

func newNonblockingPipe() (readFD, writeFD int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return 0, 0, fmt.Errorf("pipe: %w", err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return 0, 0, fmt.Errorf("set nonblock: %w", err)
		}
	}
	return fds[0], fds[1], nil
}

func drainPipe(fd int) {
	var buf [64]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// AddTimer registers a periodic timer and returns a cancellation token.
func (l *Loop) AddTimer(interval time.Duration, cb TimerCallback) (int, error) {
	readFD, writeFD, err := newNonblockingPipe()
	if err != nil {
		return 0, fmt.Errorf("eventloop: add timer: %w", err)
	}
	ts := &timerSource{readFD: readFD, writeFD: writeFD, ticker: time.NewTicker(interval), stop: make(chan struct{})}

	go func() {
		for {
			select {
			case <-ts.stop:
				return
			case <-ts.ticker.C:
				unix.Write(writeFD, []byte{1})
			}
		}
	}()

	if err := l.be.addFD(readFD, Read); err != nil {
		close(ts.stop)
		ts.ticker.Stop()
		unix.Close(readFD)
		unix.Close(writeFD)
		return 0, fmt.Errorf("eventloop: arm timer fd: %w", err)
	}
	l.fdCallbacks[readFD] = func(EventMask) {
		drainPipe(readFD)
		cb()
	}

	l.nextTimerID++
	id := l.nextTimerID
	l.timers[id] = ts
	return id, nil
}

// CancelTimer cancels a timer by the token returned from AddTimer.
func (l *Loop) CancelTimer(id int) error {
	ts, ok := l.timers[id]
	if !ok {
		return nil
	}
	delete(l.timers, id)
	delete(l.fdCallbacks, ts.readFD)
	close(ts.stop)
	ts.ticker.Stop()
	_ = l.be.removeFD(ts.readFD)
	unix.Close(ts.readFD)
	unix.Close(ts.writeFD)
	return nil
}

// AddSignal registers a callback for a process signal, delivered through
// the loop's own callback dispatch rather than directly from Go's
// os/signal channel. Internally this rides Go's os/signal channel,
// relayed onto the loop goroutine via a self-pipe so the callback still
// runs serialized with every other loop callback.
func (l *Loop) AddSignal(signum int, cb SignalCallback) error {
	readFD, writeFD, err := newNonblockingPipe()
	if err != nil {
		return fmt.Errorf("eventloop: add signal %d: %w", signum, err)
	}
	ss := &signalSource{
		readFD: readFD, writeFD: writeFD,
		stopCh: make(chan struct{}),
		sigCh:  make(chan os.Signal, 1),
	}
	signal.Notify(ss.sigCh, syscall.Signal(signum))

	go func() {
		for {
			select {
			case <-ss.stopCh:
				return
			case <-ss.sigCh:
				unix.Write(writeFD, []byte{1})
			}
		}
	}()

	if err := l.be.addFD(readFD, Read); err != nil {
		signal.Stop(ss.sigCh)
		close(ss.stopCh)
		unix.Close(readFD)
		unix.Close(writeFD)
		return fmt.Errorf("eventloop: arm signal fd: %w", err)
	}
	l.fdCallbacks[readFD] = func(EventMask) {
		drainPipe(readFD)
		cb()
	}
	l.signals[signum] = ss
	return nil
}

// Stop requests the loop to exit at the next wake. Safe to call from
// within a callback; this sets an atomic flag observed at the next wake.
func (l *Loop) Stop() {
	l.stopping.Store(true)
}

// Run blocks, dispatching fd/timer/signal callbacks until Stop is called.
// Interrupted polls are retried transparently; other poll failures are fatal.
func (l *Loop) Run() error {
	for !l.stopping.Load() {
		if err := l.pollOnce(-1); err != nil {
			return err
		}
	}
	return nil
}

// ShutdownGraceful marks the loop as stopping and keeps pumping events
// until activeFDs reports zero or timeout elapses. AddFD, AddTimer and
// AddSignal still accept registrations made after this call.
func (l *Loop) ShutdownGraceful(timeout time.Duration, activeFDs func() int) error {
	l.Stop()
	deadline := time.Now().Add(timeout)
	for activeFDs() > 0 && time.Now().Before(deadline) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		ms := int(remaining / time.Millisecond)
		if ms > 200 {
			ms = 200
		}
		if err := l.pollOnce(ms); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) pollOnce(timeoutMS int) error {
	events, err := l.be.poll(timeoutMS)
	if err != nil {
		return fmt.Errorf("eventloop: poll: %w", err)
	}
	for _, ev := range events {
		if cb, ok := l.fdCallbacks[ev.fd]; ok {
			cb(ev.ready)
		}
	}
	return nil
}

// Close releases the backend's OS resources (epoll/kqueue fd) and any timer
// or signal pipes still registered.
func (l *Loop) Close() error {
	for id := range l.timers {
		_ = l.CancelTimer(id)
	}
	for signum, ss := range l.signals {
		signal.Stop(ss.sigCh)
		close(ss.stopCh)
		_ = l.be.removeFD(ss.readFD)
		unix.Close(ss.readFD)
		unix.Close(ss.writeFD)
		delete(l.signals, signum)
	}
	return l.be.close()
}
