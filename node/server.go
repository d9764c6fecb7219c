//go:build linux
// +build linux

package node

import (
	"errors"
	"fmt"
	"github.com/fzft/go-mock-webserver/threadpool"
	"github.com/fzft/go-mock-webserver/timer"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"os"
	"syscall"
	"time"
)

const (
	DefaultTimeslot  = 5 * time.Second
	DefaultMaxFD     = 65536
	DefaultMaxEvents = 10000
)

// Options configures the event loop.
type Options struct {
	Port       int
	ListenTrig TrigMode
	ConnTrig   TrigMode
	OptLinger  bool

	// Timeslot is the alarm interval between timer sweeps.
	Timeslot time.Duration
	// ConnTimeout is how long an idle connection survives; it defaults to three timeslots.
	ConnTimeout time.Duration

	MaxFD     int // live connection limit
	MaxEvents int // epoll_wait batch size
}

func (o *Options) setDefaults() {
	if o.Timeslot <= 0 {
		o.Timeslot = DefaultTimeslot
	}
	if o.ConnTimeout <= 0 {
		o.ConnTimeout = 3 * o.Timeslot
	}
	if o.MaxFD <= 0 {
		o.MaxFD = DefaultMaxFD
	}
	if o.MaxEvents <= 0 {
		o.MaxEvents = DefaultMaxEvents
	}
}

// Server owns the event loop goroutine: the listening socket, the signal bridge, the alarm and the timer
// registry are only touched from Serve. Request work is handed to the thread pool.
type Server[R any] struct {
	opts    Options
	pool    *threadpool.Pool[R]
	handler Handler[R]
	logger  *zap.Logger

	registry  *Registry
	bridge    *SignalBridge
	alarm     *Alarm
	timers    *timer.Registry
	listenFd  int
	port      int
	conns     map[int]*Conn[R]
	userCount atomic.Int64
}

func NewServer[R any](opts Options, pool *threadpool.Pool[R], handler Handler[R], logger *zap.Logger) *Server[R] {
	opts.setDefaults()
	return &Server[R]{
		opts:     opts,
		pool:     pool,
		handler:  handler,
		logger:   logger,
		listenFd: -1,
		conns:    make(map[int]*Conn[R]),
	}
}

// Listen binds the listening socket and prepares epoll, the signal bridge and the alarm.
func (s *Server[R]) Listen() (err error) {
	defer func() {
		if err != nil {
			err = multierr.Append(err, s.release())
		}
	}()

	if s.listenFd, err = listenTCP(s.opts.Port, s.opts.OptLinger); err != nil {
		s.logger.Error("listen error", zap.Int("port", s.opts.Port), zap.Error(err))
		return err
	}
	sa, err := unix.Getsockname(s.listenFd)
	if err != nil {
		return os.NewSyscallError("getsockname", err)
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		s.port = in4.Port
	}

	if s.registry, err = NewRegistry(); err != nil {
		return err
	}
	if err = s.registry.AddFd(s.listenFd, false, s.opts.ListenTrig); err != nil {
		return err
	}

	if s.bridge, err = NewSignalBridge(syscall.SIGALRM, syscall.SIGTERM, syscall.SIGINT); err != nil {
		return err
	}
	if err = s.registry.AddFd(s.bridge.Fd(), false, LevelTriggered); err != nil {
		return err
	}

	s.timers = timer.New()
	s.alarm = NewAlarm(s.opts.Timeslot)
	if err = s.alarm.Arm(); err != nil {
		return err
	}

	s.logger.Info("listening on ",
		zap.Int("port", s.port),
		zap.Stringer("listen_trig", s.opts.ListenTrig),
		zap.Stringer("conn_trig", s.opts.ConnTrig),
		zap.Stringer("actor_model", s.pool.Model()),
		zap.Duration("timeslot", s.opts.Timeslot),
		zap.String("git_sha1", Build().GitSHA1))
	return nil
}

// Run listens and serves until a termination signal or Stop.
func (s *Server[R]) Run() error {
	if err := s.Listen(); err != nil {
		return err
	}
	err := s.Serve()
	s.logger.Info("shutting down server")
	return err
}

// Stop asks the event loop to exit. It is safe to call from any goroutine; once the server has released its
// descriptors it returns ErrNotListening.
func (s *Server[R]) Stop() error {
	if s.bridge == nil {
		return ErrNotListening
	}
	if err := s.bridge.Notify(syscall.SIGTERM); err != nil {
		if errors.Is(err, ErrBridgeClosed) {
			return ErrNotListening
		}
		return err
	}
	return nil
}

// Port is the bound port, useful when Options.Port was 0.
func (s *Server[R]) Port() int {
	return s.port
}

// ConnCount reports the number of live client connections.
func (s *Server[R]) ConnCount() int64 {
	return s.userCount.Load()
}

// release closes, in order: alarm, client connections, listener, signal bridge, epoll.
func (s *Server[R]) release() error {
	var errs error
	if s.alarm != nil {
		errs = multierr.Append(errs, s.alarm.Disarm())
	}
	if s.timers != nil {
		s.timers.Clear()
	}
	if s.registry != nil && s.bridge != nil {
		errs = multierr.Append(errs, s.registry.RemoveFd(s.bridge.Fd()))
	}
	if s.listenFd >= 0 && (s.registry == nil || !s.registry.Registered(s.listenFd)) {
		errs = multierr.Append(errs, CloseFd(s.listenFd))
	}
	if s.registry != nil {
		// client connections and the listener
		errs = multierr.Append(errs, s.registry.CloseAllFDs())
	}
	if s.bridge != nil {
		errs = multierr.Append(errs, s.bridge.Close())
	}
	if s.registry != nil {
		errs = multierr.Append(errs, s.registry.Close())
	}
	s.conns = make(map[int]*Conn[R])
	s.userCount.Store(0)
	s.listenFd = -1
	return errs
}

func listenTCP(port int, linger bool) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, os.NewSyscallError("setsockopt", err)
	}
	if linger {
		if err = unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 1}); err != nil {
			unix.Close(fd)
			return -1, os.NewSyscallError("setsockopt", err)
		}
	}
	if err = unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind port %d: %w", port, err)
	}
	if err = unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, os.NewSyscallError("listen", err)
	}
	return fd, nil
}
