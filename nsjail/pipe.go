//go:build linux

package nsjail

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MakeSyncPipe creates a close-on-exec pipe used to hold the child at the
// start of its life until the parent has attached it to the cgroup
// hierarchies — the ordering guarantee in the concurrency model that the
// child must not allocate before the cgroup observes its PID.
func MakeSyncPipe() (rfd, wfd int, err error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return -1, -1, err
	}
	return p[0], p[1], nil
}

// WaitForParent blocks until the parent writes one byte, then closes the
// read end.
func WaitForParent(rfd int) error {
	var one [1]byte
	_, err := unix.Read(rfd, one[:])
	_ = unix.Close(rfd)
	return err
}

// SignalChild releases a child blocked in WaitForParent.
func SignalChild(wfd int) error {
	_, err := unix.Write(wfd, []byte{1})
	cerr := unix.Close(wfd)
	if err != nil {
		return err
	}
	return cerr
}

// ClosePipe closes both ends, used on setup failure before the child ever
// blocks.
func ClosePipe(rfd, wfd int) {
	_ = unix.Close(rfd)
	_ = unix.Close(wfd)
}

// ErrnoPipe is the close-on-exec pipe the child uses to report a pre-exec
// setup failure to the parent. Silence after the child's exec (or exit)
// means success — the write end is opened O_CLOEXEC, so a successful
// execve closes it automatically and the parent's read returns EOF.
type ErrnoPipe struct {
	r, w int
}

// NewErrnoPipe creates the pipe.
func NewErrnoPipe() (*ErrnoPipe, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	return &ErrnoPipe{r: p[0], w: p[1]}, nil
}

// WriteFD returns the write-end fd, to be passed to the child via
// ExtraFiles.
func (e *ErrnoPipe) WriteFD() int { return e.w }

// CloseWrite closes the parent's copy of the write end, which must happen
// right after Start so the parent's read sees EOF once the child's own
// copy closes (on exec or explicit close).
func (e *ErrnoPipe) CloseWrite() { _ = unix.Close(e.w) }

// ReadError reads up to one message from the pipe. An empty read means
// the child reached execve without reporting failure.
func (e *ErrnoPipe) ReadError() error {
	buf := make([]byte, 4096)
	n, err := unix.Read(e.r, buf)
	_ = unix.Close(e.r)
	if err != nil {
		return nil // nothing written, pipe closed on exec: success
	}
	if n == 0 {
		return nil
	}
	return fmt.Errorf("child pre-exec setup failed: %s", string(buf[:n]))
}

// SignalError is called by the child (via its own copy of the write fd,
// inherited as an ExtraFiles entry) to report a pre-exec failure before
// exiting, so the parent can distinguish "never reached execve" from a
// normal child exit.
func SignalError(wfd int, msg string) {
	_, _ = unix.Write(wfd, []byte(msg))
	_ = unix.Close(wfd)
}
