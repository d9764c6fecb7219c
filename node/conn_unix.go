//go:build linux
// +build linux

package node

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/fzft/go-mock-webserver/threadpool"
	"github.com/fzft/go-mock-webserver/timer"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
	"sync"
)

const readBufferSize = 2048

var ErrRequestTooLarge = errors.New("node: request exceeds read buffer")

// Conn is one accepted client connection. It implements threadpool.Task; the one-shot epoll registration
// guarantees a single goroutine services it at a time, and mu orders buffer access across the hand-offs.
type Conn[R any] struct {
	fd       int
	addr     string
	mode     TrigMode
	registry *Registry
	handler  Handler[R]
	data     *timer.ClientData

	state    threadpool.State
	improved chan struct{}
	expired  atomic.Bool

	mu              sync.Mutex
	readBuf         []byte
	readIdx         int
	outBuffer       bytes.Buffer
	closeAfterWrite bool
}

func newConn[R any](fd int, addr string, mode TrigMode, registry *Registry, handler Handler[R]) *Conn[R] {
	return &Conn[R]{
		fd:       fd,
		addr:     addr,
		mode:     mode,
		registry: registry,
		handler:  handler,
		improved: make(chan struct{}, 1),
		readBuf:  make([]byte, readBufferSize),
	}
}

func (c *Conn[R]) Fd() int {
	return c.fd
}

func (c *Conn[R]) State() threadpool.State {
	return c.state
}

func (c *Conn[R]) SetState(s threadpool.State) {
	c.state = s
}

// Read pulls pending bytes into the read buffer. Edge-triggered connections are drained until EAGAIN.
// It returns false when the peer closed, the socket failed, or the buffer is already full.
func (c *Conn[R]) Read() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readIdx >= len(c.readBuf) {
		return false
	}

	if c.mode == LevelTriggered {
		n, err := unix.Read(c.fd, c.readBuf[c.readIdx:])
		if err != nil || n <= 0 {
			return false
		}
		c.readIdx += n
		return true
	}

	for c.readIdx < len(c.readBuf) {
		n, err := unix.Read(c.fd, c.readBuf[c.readIdx:])
		if err != nil {
			if IsTemporaryError(err) {
				break
			}
			return false
		}
		if n == 0 {
			return false
		}
		c.readIdx += n
	}
	return true
}

// Write flushes the pending reply. A short write re-arms EPOLLOUT; a completed one re-arms EPOLLIN for the
// next request. It returns false when the connection should be closed.
func (c *Conn[R]) Write() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.outBuffer.Len() > 0 {
		n, err := unix.Write(c.fd, c.outBuffer.Bytes())
		if err != nil {
			if IsTemporaryError(err) {
				return c.registry.ModFd(c.fd, unix.EPOLLOUT, c.mode) == nil
			}
			return false
		}
		c.outBuffer.Next(n)
	}

	if c.closeAfterWrite {
		return false
	}
	return c.registry.ModFd(c.fd, unix.EPOLLIN, c.mode) == nil
}

// Process hands the buffered request to the handler. An incomplete request re-arms EPOLLIN; a reply, or an
// error line for a failed request, is queued and EPOLLOUT is armed.
func (c *Conn[R]) Process(res R) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	reply, err := c.handler.Serve(c.readBuf[:c.readIdx], res)
	if err == nil && reply == nil && c.readIdx >= len(c.readBuf) {
		err = ErrRequestTooLarge
	}
	if err != nil {
		c.readIdx = 0
		c.outBuffer.Reset()
		c.outBuffer.WriteString("ERR " + err.Error() + "\n")
		c.closeAfterWrite = true
		if modErr := c.registry.ModFd(c.fd, unix.EPOLLOUT, c.mode); modErr != nil {
			return fmt.Errorf("%w (re-arm: %v)", err, modErr)
		}
		return err
	}

	if reply == nil {
		return c.registry.ModFd(c.fd, unix.EPOLLIN, c.mode)
	}

	c.readIdx = 0
	c.outBuffer.Write(reply)
	return c.registry.ModFd(c.fd, unix.EPOLLOUT, c.mode)
}

func (c *Conn[R]) Improve() {
	select {
	case c.improved <- struct{}{}:
	default:
	}
}

// MarkExpired flags the connection for eviction and re-arms it for EPOLLOUT. A socket is almost always
// writable, so the event loop sees the flag on its next pass even when it is not waiting on this worker.
func (c *Conn[R]) MarkExpired() {
	c.expired.Store(true)
	_ = c.registry.ModFd(c.fd, unix.EPOLLOUT, c.mode)
}
