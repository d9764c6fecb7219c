//go:build linux
// +build linux

package node

import (
	"fmt"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
	"os"
	"strings"
	"sync"
)

// https://copyconstruct.medium.com/the-method-to-epolls-madness-d9d2d6378642

// TrigMode selects level- or edge-triggered readiness for a descriptor.
type TrigMode uint8

const (
	LevelTriggered TrigMode = iota
	EdgeTriggered
)

func (m TrigMode) String() string {
	if m == EdgeTriggered {
		return "et"
	}
	return "lt"
}

// ParseTrigMode accepts "lt" or "et".
func ParseTrigMode(s string) (TrigMode, error) {
	switch strings.ToLower(s) {
	case "lt", "level":
		return LevelTriggered, nil
	case "et", "edge":
		return EdgeTriggered, nil
	}
	return 0, fmt.Errorf("node: unknown trigger mode %q", s)
}

// readEvents is the interest set for a read registration.
func readEvents(oneShot bool, mode TrigMode) uint32 {
	ev := uint32(unix.EPOLLIN | unix.EPOLLRDHUP)
	if mode == EdgeTriggered {
		ev |= unix.EPOLLET
	}
	if oneShot {
		ev |= unix.EPOLLONESHOT
	}
	return ev
}

// rearmEvents is the interest set used to re-arm a one-shot registration for ev.
func rearmEvents(ev uint32, mode TrigMode) uint32 {
	ev |= unix.EPOLLONESHOT | unix.EPOLLRDHUP
	if mode == EdgeTriggered {
		ev |= unix.EPOLLET
	}
	return ev
}

// Registry is a wrapper around epoll. It keeps track of the fds that are registered to epoll.
// ModFd may be called from worker goroutines; the other methods belong to the event loop.
type Registry struct {
	epollFd int

	mu       sync.Mutex
	epollSet map[int]uint32
}

func NewRegistry() (*Registry, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &Registry{
		epollFd:  epfd,
		epollSet: make(map[int]uint32),
	}, nil
}

// AddFd registers fd for read readiness and switches it to non-blocking mode. With oneShot set, the fd
// reports a single event and stays silent until ModFd re-arms it.
func (r *Registry) AddFd(fd int, oneShot bool, mode TrigMode) error {
	ev := readEvents(oneShot, mode)
	if err := unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: ev}); err != nil {
		return os.NewSyscallError("epoll_ctl add", err)
	}
	if _, err := SetNonblocking(fd); err != nil {
		return err
	}

	r.mu.Lock()
	r.epollSet[fd] = ev
	r.mu.Unlock()
	return nil
}

// ModFd re-arms a one-shot fd for ev (unix.EPOLLIN or unix.EPOLLOUT).
func (r *Registry) ModFd(fd int, ev uint32, mode TrigMode) error {
	ev = rearmEvents(ev, mode)
	if err := unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: ev}); err != nil {
		return os.NewSyscallError("epoll_ctl mod", err)
	}

	r.mu.Lock()
	if _, ok := r.epollSet[fd]; ok {
		r.epollSet[fd] = ev
	}
	r.mu.Unlock()
	return nil
}

// RemoveFd removes fd from epoll. Unknown fds are ignored.
func (r *Registry) RemoveFd(fd int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.epollSet[fd]; !ok {
		return nil
	}
	delete(r.epollSet, fd)
	if err := unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return os.NewSyscallError("epoll_ctl del", err)
	}
	return nil
}

// Registered reports whether fd is currently registered.
func (r *Registry) Registered(fd int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.epollSet[fd]
	return ok
}

// Wait blocks for at most msec milliseconds (-1 means forever).
func (r *Registry) Wait(events []unix.EpollEvent, msec int) (int, error) {
	return unix.EpollWait(r.epollFd, events, msec)
}

// CloseAllFDs removes and closes every registered fd.
func (r *Registry) CloseAllFDs() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs error
	for fd := range r.epollSet {
		if err := unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("delete fd: %d error: %w", fd, err))
		}
		if err := unix.Close(fd); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close fd: %d error: %w", fd, err))
		}
		delete(r.epollSet, fd)
	}
	return errs
}

// Close closes the epoll fd itself.
func (r *Registry) Close() error {
	return CloseFd(r.epollFd)
}
