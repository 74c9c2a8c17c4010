//go:build darwin

package eventloop

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func newBackend() (backend, error) {
	return &kqueueBackend{kq: -1, registered: make(map[int]EventMask)}, nil
}

// kqueueBackend drives the loop over kqueue, the BSD/Darwin branch of the
// original event_loop backend.
type kqueueBackend struct {
	kq int
	registered map[int]EventMask
}

func (b *kqueueBackend) init() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return fmt.Errorf("kqueue: %w", err)
	}
	b.kq = kq
	return nil
}

func (b *kqueueBackend) close() error {
	if b.kq != -1 {
		err := unix.Close(b.kq)
		b.kq = -1
		return err
	}
	return nil
}

func (b *kqueueBackend) applyFilters(fd int, mask EventMask, add bool) error {
	var changes []unix.Kevent_t
	flags := uint16(unix.EV_ADD | unix.EV_ENABLE)
	if !add {
		flags = unix.EV_DELETE
	}
	if mask&Edge != 0 {
		flags |= unix.EV_CLEAR
	}
	if mask&Read != 0 || !add {
		changes = append(changes, unix.Kevent_t{
			Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags,
		})
	}
	if mask&Write != 0 || !add {
		changes = append(changes, unix.Kevent_t{
			Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags,
		})
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(b.kq, changes, nil, nil)
	return err
}

func (b *kqueueBackend) addFD(fd int, mask EventMask) error {
	if err := b.applyFilters(fd, mask, true); err != nil {
		return fmt.Errorf("kevent add: %w", err)
	}
	b.registered[fd] = mask
	return nil
}

func (b *kqueueBackend) updateFD(fd int, mask EventMask) error {
	old := b.registered[fd]
	// Remove filters no longer wanted, add filters newly wanted.
	if old&Read != 0 && mask&Read == 0 {
		unix.Kevent(b.kq, []unix.Kevent_t{{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE}}, nil, nil)
	}
	if old&Write != 0 && mask&Write == 0 {
		unix.Kevent(b.kq, []unix.Kevent_t{{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE}}, nil, nil)
	}
	if err := b.applyFilters(fd, mask, true); err != nil {
		return fmt.Errorf("kevent update: %w", err)
	}
	b.registered[fd] = mask
	return nil
}

func (b *kqueueBackend) removeFD(fd int) error {
	mask := b.registered[fd]
	delete(b.registered, fd)
	_ = b.applyFilters(fd, mask, false)
	return nil
}

func (b *kqueueBackend) poll(timeoutMS int) ([]readyEvent, error) {
	var raw [64]unix.Kevent_t
	var timeout *unix.Timespec
	if timeoutMS >= 0 {
		ts := unix.NsecToTimespec(int64(timeoutMS) * int64(1e6))
		timeout = &ts
	}
	n, err := unix.Kevent(b.kq, nil, raw[:], timeout)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("kevent wait: %w", err)
	}
	byFD := make(map[int]EventMask, n)
	for i := 0; i < n; i++ {
		fd := int(raw[i].Ident)
		var mask EventMask
		switch raw[i].Filter {
		case unix.EVFILT_READ:
			mask |= Read
		case unix.EVFILT_WRITE:
			mask |= Write
		}
		if raw[i].Flags&unix.EV_EOF != 0 {
			mask |= HangUp
		}
		if raw[i].Flags&unix.EV_ERROR != 0 {
			mask |= Error
		}
		byFD[fd] |= mask
	}
	out := make([]readyEvent, 0, len(byFD))
	for fd, mask := range byFD {
		out = append(out, readyEvent{fd: fd, ready: mask})
	}
	return out, nil
}
