//go:build linux
// +build linux

package node

import (
	"golang.org/x/sys/unix"
	"os"
	"time"
)

// Alarm is a one-shot SIGALRM countdown that the event loop re-arms after every timer sweep, giving an
// approximately periodic schedule.
type Alarm struct {
	interval time.Duration
}

func NewAlarm(interval time.Duration) *Alarm {
	return &Alarm{interval: interval}
}

// Arm schedules SIGALRM interval from now, replacing any pending countdown.
func (a *Alarm) Arm() error {
	it := unix.Itimerval{Value: unix.NsecToTimeval(a.interval.Nanoseconds())}
	if _, err := unix.Setitimer(unix.ItimerReal, it); err != nil {
		return os.NewSyscallError("setitimer", err)
	}
	return nil
}

// Disarm cancels a pending countdown.
func (a *Alarm) Disarm() error {
	if _, err := unix.Setitimer(unix.ItimerReal, unix.Itimerval{}); err != nil {
		return os.NewSyscallError("setitimer", err)
	}
	return nil
}
