//go:build linux
// +build linux

package node

import (
	"errors"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var ErrBridgeClosed = errors.New("node: signal bridge closed")

// SignalBridge turns signal delivery into read readiness on a pipe, so signals are handled on the event loop
// goroutine like any other event. The forwarding goroutine only writes one byte per signal: the signal number.
type SignalBridge struct {
	readFd  int
	writeFd int
	sigCh   chan os.Signal
	done    chan struct{}

	// guards the pipe fds against Close; the numbers may be reused once closed
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewSignalBridge(sigs ...os.Signal) (*SignalBridge, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, os.NewSyscallError("pipe2", err)
	}

	b := &SignalBridge{
		readFd:  p[0],
		writeFd: p[1],
		sigCh:   make(chan os.Signal, 16),
		done:    make(chan struct{}),
	}
	signal.Notify(b.sigCh, sigs...)
	go b.forward()
	return b, nil
}

func (b *SignalBridge) forward() {
	defer close(b.done)
	for sig := range b.sigCh {
		if s, ok := sig.(syscall.Signal); ok {
			_ = b.Notify(s)
		}
	}
}

// Fd is the read end to register with the event loop.
func (b *SignalBridge) Fd() int {
	return b.readFd
}

// Notify writes sig into the pipe as if it had been delivered. A full pipe drops the byte.
func (b *SignalBridge) Notify(sig syscall.Signal) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBridgeClosed
	}
	_, err := unix.Write(b.writeFd, []byte{byte(sig)})
	if err != nil && !IsTemporaryError(err) {
		return os.NewSyscallError("write", err)
	}
	return nil
}

// Drain reads every pending signal byte.
func (b *SignalBridge) Drain() ([]syscall.Signal, error) {
	var sigs []syscall.Signal
	buf := make([]byte, 1024)
	for {
		n, err := unix.Read(b.readFd, buf)
		for i := 0; i < n; i++ {
			sigs = append(sigs, syscall.Signal(buf[i]))
		}
		if err != nil {
			if IsTemporaryError(err) {
				return sigs, nil
			}
			return sigs, os.NewSyscallError("read", err)
		}
		if n < len(buf) {
			return sigs, nil
		}
	}
}

// Close stops signal delivery and closes both pipe ends. Later calls are no-ops.
func (b *SignalBridge) Close() (err error) {
	b.closeOnce.Do(func() {
		signal.Stop(b.sigCh)
		close(b.sigCh)
		<-b.done

		b.mu.Lock()
		defer b.mu.Unlock()
		b.closed = true
		err = multierr.Combine(CloseFd(b.writeFd), CloseFd(b.readFd))
	})
	return err
}
