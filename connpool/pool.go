// Package connpool is a fixed-size pool of reusable handles such as database connections.
// Handles are leased for the duration of one request and always returned, including on failure paths.
package connpool

import (
	"context"
	"errors"
	"fmt"
	"github.com/fzft/go-mock-webserver/list"
	"github.com/fzft/go-mock-webserver/locker"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	ErrInvalidSize = errors.New("connpool: size must be positive")
	ErrPoolClosed  = errors.New("connpool: pool closed")
)

// Factory creates one pooled handle.
type Factory[R any] func() (R, error)

// Closer destroys one pooled handle. It may be nil.
type Closer[R any] func(R) error

// Pool holds exactly size handles. Acquire blocks while all of them are leased.
type Pool[R any] struct {
	size   int
	sem    *semaphore.Weighted
	mu     *locker.Mutex
	free   *list.List[R]
	closer Closer[R]
	closed atomic.Bool
	inUse  atomic.Int64
	logger *zap.Logger
}

// New creates size handles up front. If any creation fails, the handles created so far are destroyed.
func New[R any](size int, factory Factory[R], closer Closer[R], logger *zap.Logger) (*Pool[R], error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	p := &Pool[R]{
		size:   size,
		sem:    semaphore.NewWeighted(int64(size)),
		mu:     locker.NewMutex(),
		free:   list.New[R](),
		closer: closer,
		logger: logger,
	}
	for i := 0; i < size; i++ {
		r, err := factory()
		if err != nil {
			logger.Error("connpool: create handle", zap.Int("index", i), zap.Error(err))
			return nil, multierr.Append(fmt.Errorf("connpool: create handle %d: %w", i, err), p.destroyIdle())
		}
		p.free.PushBack(r)
	}
	return p, nil
}

// Acquire leases a handle, blocking until one is free or ctx is done.
func (p *Pool[R]) Acquire(ctx context.Context) (R, error) {
	var zero R
	if p.closed.Load() {
		return zero, ErrPoolClosed
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	p.mu.Lock()
	r, ok := p.free.PopFront()
	p.mu.Unlock()
	if !ok {
		// Close drained the free list while we waited
		p.sem.Release(1)
		return zero, ErrPoolClosed
	}
	p.inUse.Inc()
	return r, nil
}

// Release returns a leased handle. A handle released after Close is destroyed instead.
func (p *Pool[R]) Release(r R) {
	p.inUse.Dec()
	if p.closed.Load() {
		if p.closer != nil {
			if err := p.closer(r); err != nil {
				p.logger.Warn("connpool: close released handle", zap.Error(err))
			}
		}
		p.sem.Release(1)
		return
	}

	p.mu.Lock()
	p.free.PushBack(r)
	p.mu.Unlock()
	p.sem.Release(1)
}

// FreeCount reports the number of idle handles.
func (p *Pool[R]) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.Len()
}

// InUse reports the number of leased handles.
func (p *Pool[R]) InUse() int {
	return int(p.inUse.Load())
}

// Size is the fixed number of handles.
func (p *Pool[R]) Size() int {
	return p.size
}

// Close destroys idle handles; leased ones are destroyed as they come back.
func (p *Pool[R]) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.destroyIdle()
}

func (p *Pool[R]) destroyIdle() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs error
	for r, ok := p.free.PopFront(); ok; r, ok = p.free.PopFront() {
		if p.closer != nil {
			errs = multierr.Append(errs, p.closer(r))
		}
	}
	return errs
}
