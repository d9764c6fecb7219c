package locker

import (
	"github.com/fzft/go-mock-webserver/list"
	"sync"
	"time"
)

// Cond is a condition variable. Unlike sync.Cond it is not bound to one lock at construction; the lock is
// passed to each wait, and a wait can be bounded by an absolute deadline.
type Cond struct {
	mu      sync.Mutex
	waiters *list.List[chan struct{}]
}

func NewCond() *Cond {
	return &Cond{waiters: list.New[chan struct{}]()}
}

func (c *Cond) enqueue() (chan struct{}, *list.Node[chan struct{}]) {
	ch := make(chan struct{})
	c.mu.Lock()
	node := c.waiters.PushBack(ch)
	c.mu.Unlock()
	return ch, node
}

// Wait atomically releases l and suspends the caller until Signal or Broadcast wakes it, then re-acquires l
// before returning. l must be held by the caller.
func (c *Cond) Wait(l sync.Locker) {
	ch, _ := c.enqueue()
	l.Unlock()
	<-ch
	l.Lock()
}

// WaitUntil behaves like Wait but gives up at deadline. It reports false when the deadline passed without
// a wake-up. l is re-acquired in both cases.
func (c *Cond) WaitUntil(l sync.Locker, deadline time.Time) bool {
	ch, node := c.enqueue()
	l.Unlock()
	defer l.Lock()

	t := time.NewTimer(time.Until(deadline))
	defer t.Stop()

	select {
	case <-ch:
		return true
	case <-t.C:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-ch:
		// signalled between the timer firing and taking c.mu
		return true
	default:
		c.waiters.Remove(node)
		return false
	}
}

// Signal wakes one waiter, if any.
func (c *Cond) Signal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.waiters.PopFront(); ok {
		close(ch)
	}
}

// Broadcast wakes every waiter.
func (c *Cond) Broadcast() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch, ok := c.waiters.PopFront(); ok; ch, ok = c.waiters.PopFront() {
		close(ch)
	}
}
