// Package locker provides the synchronization primitives shared by the worker pool and the resource pool:
// a counting semaphore, a mutex and a condition variable with a deadline-bounded wait.
//
// Construction never degrades silently. Invalid arguments panic, since nothing built on top of a broken
// primitive can run correctly.
package locker

import (
	"fmt"
	"sync"
)

// Semaphore is a counting semaphore with no upper bound.
type Semaphore struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int
}

// NewSemaphore returns a semaphore holding count permits. It panics if count is negative.
func NewSemaphore(count int) *Semaphore {
	if count < 0 {
		panic(fmt.Sprintf("locker: negative semaphore count %d", count))
	}
	s := &Semaphore{count: count}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Acquire blocks until a permit is available and takes it.
func (s *Semaphore) Acquire() {
	s.mu.Lock()
	for s.count == 0 {
		s.cond.Wait()
	}
	s.count--
	s.mu.Unlock()
}

// TryAcquire takes a permit if one is available. It never blocks.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return false
	}
	s.count--
	return true
}

// Release returns a permit and wakes one blocked acquirer.
func (s *Semaphore) Release() {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	s.cond.Signal()
}

// Count reports the permits currently available.
func (s *Semaphore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Mutex is an exclusive lock. A *Mutex satisfies sync.Locker and can be handed to Cond.Wait.
type Mutex struct {
	mu sync.Mutex
}

func NewMutex() *Mutex {
	return &Mutex{}
}

func (m *Mutex) Lock() {
	m.mu.Lock()
}

func (m *Mutex) Unlock() {
	m.mu.Unlock()
}
