// Package threadpool runs a fixed set of workers draining a bounded FIFO work queue.
//
// The event loop is the single producer. Workers block on a counting semaphore that tracks queued items,
// pop the head under the queue lock and dispatch according to the pool's ActorModel.
package threadpool

import (
	"context"
	"errors"
	"github.com/fzft/go-mock-webserver/list"
	"github.com/fzft/go-mock-webserver/locker"
	"go.uber.org/zap"
)

var (
	ErrInvalidWorkers  = errors.New("threadpool: worker count must be positive")
	ErrInvalidCapacity = errors.New("threadpool: queue capacity must be positive")
)

type Pool[R any] struct {
	model    ActorModel
	workers  int
	capacity int

	mu    *locker.Mutex // guards queue
	queue *list.List[Task[R]]
	stat  *locker.Semaphore // queued item count

	leaser Leaser[R]
	logger *zap.Logger
}

// New starts workers goroutines immediately. They live as long as the process.
func New[R any](model ActorModel, leaser Leaser[R], workers, capacity int, logger *zap.Logger) (*Pool[R], error) {
	if workers <= 0 {
		return nil, ErrInvalidWorkers
	}
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}

	p := &Pool[R]{
		model:    model,
		workers:  workers,
		capacity: capacity,
		mu:       locker.NewMutex(),
		queue:    list.New[Task[R]](),
		stat:     locker.NewSemaphore(0),
		leaser:   leaser,
		logger:   logger,
	}
	for i := 0; i < workers; i++ {
		go p.run(i)
	}
	logger.Info("thread pool started",
		zap.Stringer("model", model), zap.Int("workers", workers), zap.Int("capacity", capacity))
	return p, nil
}

// Submit tags task with state and enqueues it. It returns false without blocking when the queue is full.
func (p *Pool[R]) Submit(task Task[R], state State) bool {
	p.mu.Lock()
	if p.queue.Len() >= p.capacity {
		p.mu.Unlock()
		p.logger.Warn("work queue reached max size", zap.Int("capacity", p.capacity))
		return false
	}
	task.SetState(state)
	p.queue.PushBack(task)
	p.mu.Unlock()
	p.stat.Release()
	return true
}

// SubmitProactor enqueues task without touching its state tag.
func (p *Pool[R]) SubmitProactor(task Task[R]) bool {
	p.mu.Lock()
	if p.queue.Len() >= p.capacity {
		p.mu.Unlock()
		p.logger.Warn("work queue reached max size", zap.Int("capacity", p.capacity))
		return false
	}
	p.queue.PushBack(task)
	p.mu.Unlock()
	p.stat.Release()
	return true
}

// Len reports the number of queued, not yet dequeued, tasks.
func (p *Pool[R]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

func (p *Pool[R]) Model() ActorModel {
	return p.model
}

func (p *Pool[R]) run(id int) {
	for {
		p.stat.Acquire()

		p.mu.Lock()
		task, ok := p.queue.PopFront()
		p.mu.Unlock()
		// another worker may have drained the queue first
		if !ok || task == nil {
			continue
		}

		p.dispatch(id, task)
	}
}

func (p *Pool[R]) dispatch(id int, task Task[R]) {
	switch p.model {
	case Reactor:
		p.react(id, task)
	case Proactor:
		defer p.rescue(id, task, nil)
		p.process(id, task)
	}
}

func (p *Pool[R]) react(id int, task Task[R]) {
	improved := false
	defer p.rescue(id, task, &improved)

	switch task.State() {
	case StateRead:
		if !task.Read() {
			task.MarkExpired()
			improved = true
			task.Improve()
			return
		}
		improved = true
		task.Improve()
		p.process(id, task)
	case StateWrite:
		if !task.Write() {
			task.MarkExpired()
		}
		improved = true
		task.Improve()
	}
}

func (p *Pool[R]) process(id int, task Task[R]) {
	if err := p.leaser.With(context.Background(), task.Process); err != nil {
		p.logger.Warn("process task", zap.Int("worker", id), zap.Error(err))
	}
}

// rescue keeps a worker alive across a panicking task. The task is marked for eviction, and the event loop
// is released if it is still waiting on this task.
func (p *Pool[R]) rescue(id int, task Task[R], improved *bool) {
	r := recover()
	if r == nil {
		return
	}
	p.logger.Error("task panicked", zap.Int("worker", id), zap.Any("panic", r), zap.Stack("stack"))
	task.MarkExpired()
	if improved != nil && !*improved {
		task.Improve()
	}
}
