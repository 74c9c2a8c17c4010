//go:build linux

package eventloop

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func newBackend() (backend, error) {
	return &linuxBackend{epollFD: -1}, nil
}

// linuxBackend drives the loop over epoll and the Linux
// branch of the original event_loop backend.
type linuxBackend struct {
	epollFD int
}

func toEpoll(mask EventMask) uint32 {
	var events uint32
	if mask&Read != 0 {
		events |= unix.EPOLLIN
	}
	if mask&Write != 0 {
		events |= unix.EPOLLOUT
	}
	if mask&Error != 0 {
		events |= unix.EPOLLERR
	}
	if mask&HangUp != 0 {
		events |= unix.EPOLLHUP
	}
	if mask&Edge != 0 {
		events |= unix.EPOLLET
	}
	if mask&ReadHangUp != 0 {
		events |= unix.EPOLLRDHUP
	}
	return events
}

func fromEpoll(events uint32) EventMask {
	var mask EventMask
	if events&unix.EPOLLIN != 0 {
		mask |= Read
	}
	if events&unix.EPOLLOUT != 0 {
		mask |= Write
	}
	if events&unix.EPOLLERR != 0 {
		mask |= Error
	}
	if events&unix.EPOLLHUP != 0 {
		mask |= HangUp
	}
	if events&unix.EPOLLET != 0 {
		mask |= Edge
	}
	if events&unix.EPOLLRDHUP != 0 {
		mask |= ReadHangUp
	}
	return mask
}

func (b *linuxBackend) init() error {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	b.epollFD = fd
	return nil
}

func (b *linuxBackend) close() error {
	if b.epollFD != -1 {
		err := unix.Close(b.epollFD)
		b.epollFD = -1
		return err
	}
	return nil
}

func (b *linuxBackend) addFD(fd int, mask EventMask) error {
	ev := unix.EpollEvent{Events: toEpoll(mask), Fd: int32(fd)}
	if err := unix.EpollCtl(b.epollFD, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add: %w", err)
	}
	return nil
}

func (b *linuxBackend) updateFD(fd int, mask EventMask) error {
	ev := unix.EpollEvent{Events: toEpoll(mask), Fd: int32(fd)}
	if err := unix.EpollCtl(b.epollFD, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl mod: %w", err)
	}
	return nil
}

func (b *linuxBackend) removeFD(fd int) error {
	_ = unix.EpollCtl(b.epollFD, unix.EPOLL_CTL_DEL, fd, nil)
	return nil
}

func (b *linuxBackend) poll(timeoutMS int) ([]readyEvent, error) {
	var raw [64]unix.EpollEvent
	n, err := unix.EpollWait(b.epollFD, raw[:], timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}
	out := make([]readyEvent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, readyEvent{fd: int(raw[i].Fd), ready: fromEpoll(raw[i].Events)})
	}
	return out, nil
}
