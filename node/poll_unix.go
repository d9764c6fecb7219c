//go:build linux
// +build linux

package node

import (
	"github.com/fzft/go-mock-webserver/threadpool"
	"github.com/fzft/go-mock-webserver/timer"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"net"
	"os"
	"syscall"
	"time"
)

// Serve runs the event loop until a termination signal arrives, then releases every descriptor.
func (s *Server[R]) Serve() (err error) {
	if s.registry == nil {
		return ErrNotListening
	}
	defer func() {
		err = multierr.Append(err, s.release())
	}()

	events := make([]unix.EpollEvent, s.opts.MaxEvents)
	stop := false
	for !stop {
		// blocks until an event; SIGALRM bounds the wait through the signal bridge
		n, werr := s.registry.Wait(events, -1)
		if werr != nil {
			if werr == unix.EINTR {
				continue
			}
			s.logger.Error("epoll wait error", zap.Error(werr))
			return os.NewSyscallError("epoll_wait", werr)
		}

		timeout := false
		for i := 0; i < n; i++ {
			ev := &events[i]
			fd := int(ev.Fd)
			switch {
			case fd == s.listenFd:
				s.accept()
			case fd == s.bridge.Fd():
				t, st := s.handleSignal()
				timeout = timeout || t
				stop = stop || st
			case ev.Events&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0:
				s.closeConn(fd)
			case ev.Events&unix.EPOLLIN != 0:
				s.handleRead(fd)
			case ev.Events&unix.EPOLLOUT != 0:
				s.handleWrite(fd)
			}
		}

		if timeout {
			s.timerHandler()
		}
	}

	s.logger.Info("Received stop signal. Exiting event loop.")
	return nil
}

// handleSignal drains the signal bridge. It reports whether a sweep is due and whether to stop.
func (s *Server[R]) handleSignal() (timeout, stop bool) {
	sigs, err := s.bridge.Drain()
	if err != nil {
		s.logger.Error("Failed to read from signal pipe", zap.Error(err))
	}
	for _, sig := range sigs {
		switch sig {
		case syscall.SIGALRM:
			timeout = true
		case syscall.SIGTERM, syscall.SIGINT:
			s.logger.Info("signal received", zap.Stringer("signal", sig))
			stop = true
		}
	}
	return timeout, stop
}

// timerHandler sweeps expired connections and re-arms the alarm.
func (s *Server[R]) timerHandler() {
	if n := s.timers.Tick(); n > 0 {
		s.logger.Debug("timer tick", zap.Int("expired", n))
	}
	if err := s.alarm.Arm(); err != nil {
		s.logger.Error("re-arm alarm", zap.Error(err))
	}
}

// accept takes one pending connection in level-triggered mode, or all of them in edge-triggered mode.
func (s *Server[R]) accept() {
	for {
		connFd, sa, err := unix.Accept4(s.listenFd, unix.SOCK_CLOEXEC)
		if err != nil {
			// Handle the case where there are no more connections to accept.
			if !IsTemporaryError(err) {
				s.logger.Error("accept error", zap.Error(err))
			}
			return
		}

		if s.userCount.Load() >= int64(s.opts.MaxFD) {
			showError(connFd, "Internal server busy")
			s.logger.Warn("Internal server busy", zap.Int64("conns", s.userCount.Load()))
			return
		}
		s.addClient(connFd, sockaddrString(sa))

		if s.opts.ListenTrig == LevelTriggered {
			return
		}
	}
}

func (s *Server[R]) addClient(fd int, addr string) {
	if err := s.registry.AddFd(fd, true, s.opts.ConnTrig); err != nil {
		s.logger.Error("register read error", zap.Int("fd", fd), zap.Error(err))
		_ = unix.Close(fd)
		return
	}

	conn := newConn[R](fd, addr, s.opts.ConnTrig, s.registry, s.handler)
	conn.data = &timer.ClientData{Fd: fd, Addr: addr}
	s.timers.Add(time.Now().Add(s.opts.ConnTimeout), conn.data, s.evict)
	s.conns[fd] = conn
	s.userCount.Inc()

	s.logger.Debug("new connection", zap.Int("fd", fd), zap.String("addr", addr))
}

// evict is the timer callback: deregister, close and forget the connection.
func (s *Server[R]) evict(data *timer.ClientData) {
	if err := s.registry.RemoveFd(data.Fd); err != nil {
		s.logger.Warn("deregister fd", zap.Int("fd", data.Fd), zap.Error(err))
	}
	if err := unix.Close(data.Fd); err != nil {
		s.logger.Warn("close fd", zap.Int("fd", data.Fd), zap.Error(err))
	}
	delete(s.conns, data.Fd)
	s.userCount.Dec()
	s.logger.Info("close fd", zap.Int("fd", data.Fd), zap.String("addr", data.Addr))
}

// closeConn tears a connection down ahead of its deadline.
func (s *Server[R]) closeConn(fd int) {
	conn, ok := s.conns[fd]
	if !ok {
		s.logger.Error("close connection", zap.Int("fd", fd), zap.Error(ErrConnNotFound))
		return
	}
	s.timers.Delete(conn.data.Timer)
	s.evict(conn.data)
}

// adjustTimer pushes the connection's deadline out after activity.
func (s *Server[R]) adjustTimer(conn *Conn[R]) {
	s.timers.Adjust(conn.data.Timer, time.Now().Add(s.opts.ConnTimeout))
	s.logger.Debug("adjust timer once", zap.Int("fd", conn.fd))
}

func (s *Server[R]) handleRead(fd int) {
	conn, ok := s.conns[fd]
	if !ok {
		s.logger.Error("read event", zap.Int("fd", fd), zap.Error(ErrConnNotFound))
		return
	}
	if conn.expired.Swap(false) {
		// a worker gave up on this connection while the loop was not waiting for it
		s.closeConn(fd)
		return
	}

	switch s.pool.Model() {
	case threadpool.Reactor:
		s.adjustTimer(conn)
		if !s.pool.Submit(conn, threadpool.StateRead) {
			s.closeConn(fd)
			return
		}
		s.awaitWorker(conn)
	case threadpool.Proactor:
		if !conn.Read() {
			s.closeConn(fd)
			return
		}
		s.logger.Debug("deal with the client", zap.String("addr", conn.addr))
		if !s.pool.SubmitProactor(conn) {
			s.closeConn(fd)
			return
		}
		s.adjustTimer(conn)
	}
}

func (s *Server[R]) handleWrite(fd int) {
	conn, ok := s.conns[fd]
	if !ok {
		s.logger.Error("write event", zap.Int("fd", fd), zap.Error(ErrConnNotFound))
		return
	}
	if conn.expired.Swap(false) {
		// a worker gave up on this connection while the loop was not waiting for it
		s.closeConn(fd)
		return
	}

	switch s.pool.Model() {
	case threadpool.Reactor:
		s.adjustTimer(conn)
		if !s.pool.Submit(conn, threadpool.StateWrite) {
			s.closeConn(fd)
			return
		}
		s.awaitWorker(conn)
	case threadpool.Proactor:
		if !conn.Write() {
			s.closeConn(fd)
			return
		}
		s.adjustTimer(conn)
	}
}

// awaitWorker blocks until the worker finished the I/O step, then evicts the connection if the worker
// flagged it. Eviction stays on this goroutine so the timer registry is never shared.
func (s *Server[R]) awaitWorker(conn *Conn[R]) {
	<-conn.improved
	if conn.expired.Swap(false) {
		s.closeConn(conn.fd)
	}
}

func sockaddrString(sa unix.Sockaddr) string {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return (&net.TCPAddr{IP: net.IP(addr.Addr[:]), Port: addr.Port}).String()
	case *unix.SockaddrInet6:
		return (&net.TCPAddr{IP: net.IP(addr.Addr[:]), Port: addr.Port}).String()
	default:
		return ""
	}
}
