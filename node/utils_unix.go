//go:build linux
// +build linux

package node

import (
	"errors"
	"golang.org/x/sys/unix"
	"os"
)

// SetNonblocking turns on O_NONBLOCK for fd and returns the flags it had before.
func SetNonblocking(fd int) (int, error) {
	old, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return 0, os.NewSyscallError("fcntl getfl", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, old|unix.O_NONBLOCK); err != nil {
		return old, os.NewSyscallError("fcntl setfl", err)
	}
	return old, nil
}

func isFDValid(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

// IsTemporaryError checks if the error is temporary, e.g., EAGAIN or EWOULDBLOCK.
func IsTemporaryError(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

func CloseFd(fd int) error {
	if isFDValid(fd) {
		if err := unix.Close(fd); err != nil {
			return err
		}
	}
	return nil
}

// showError writes info to a connection that is about to be refused, then closes it.
func showError(fd int, info string) {
	_, _ = unix.Write(fd, []byte(info))
	_ = unix.Close(fd)
}
