package threadpool

import (
	"context"
	"fmt"
	"strings"
)

// ActorModel selects what a worker does with a dequeued task.
type ActorModel uint8

const (
	// Proactor: the event loop has already moved the bytes; the worker only processes.
	Proactor ActorModel = iota
	// Reactor: the event loop only detects readiness; the worker reads or writes, then processes.
	Reactor
)

func (m ActorModel) String() string {
	switch m {
	case Proactor:
		return "proactor"
	case Reactor:
		return "reactor"
	default:
		return fmt.Sprintf("ActorModel(%d)", uint8(m))
	}
}

// ParseActorModel accepts "proactor" or "reactor", case-insensitively.
func ParseActorModel(s string) (ActorModel, error) {
	switch strings.ToLower(s) {
	case "proactor":
		return Proactor, nil
	case "reactor":
		return Reactor, nil
	}
	return 0, fmt.Errorf("threadpool: unknown actor model %q", s)
}

// State tags a task with the I/O it is waiting on in reactor mode.
type State uint8

const (
	StateRead State = iota
	StateWrite
)

func (s State) String() string {
	if s == StateWrite {
		return "write"
	}
	return "read"
}

// Task is one connection's unit of work. A task is owned by at most one worker at a time.
type Task[R any] interface {
	State() State
	SetState(State)

	// Read and Write move bytes between the socket and the task's buffers; false means the connection is bad.
	Read() bool
	Write() bool

	// Process handles the buffered request using a leased resource.
	Process(res R) error

	// Improve signals the event loop that the worker finished the I/O step it was waiting on.
	Improve()
	// MarkExpired asks the event loop to evict the connection.
	MarkExpired()
}

// Leaser lends out a pooled resource for the duration of fn. connpool.Pool implements it.
type Leaser[R any] interface {
	With(ctx context.Context, fn func(R) error) error
}
