//go:build linux

package threadpool

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// linuxNameLimit is TASK_COMM_LEN - 1, the longest name prctl(PR_SET_NAME)
// will store (the kernel null-terminates within 16 bytes), matching the
// original's pthread_setname_np truncation to 15 bytes on Linux.
const linuxNameLimit = 15

// setThreadName names the calling OS thread. Best effort: Go
// goroutines are not pinned to OS threads and Pool's workers do not
// lock theirs, so the name lands on whichever thread runs the worker
// at that moment, and that thread may later run other goroutines.
func setThreadName(name string) {
	if len(name) > linuxNameLimit {
		name = name[:linuxNameLimit]
	}
	buf := make([]byte, len(name)+1)
	copy(buf, name)
	_ = unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&buf[0])), 0, 0, 0)
}
