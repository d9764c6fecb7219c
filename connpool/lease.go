package connpool

import (
	"context"
	"go.uber.org/atomic"
)

// Lease holds one handle until Release. Release is idempotent, so it is safe to defer it and also call it
// early on a success path.
type Lease[R any] struct {
	pool     *Pool[R]
	res      R
	released atomic.Bool
}

// Lease acquires a handle wrapped in a Lease.
func (p *Pool[R]) Lease(ctx context.Context) (*Lease[R], error) {
	r, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Lease[R]{pool: p, res: r}, nil
}

func (l *Lease[R]) Resource() R {
	return l.res
}

func (l *Lease[R]) Release() {
	if l.released.CompareAndSwap(false, true) {
		l.pool.Release(l.res)
	}
}

// With runs fn with a leased handle and returns the handle when fn returns or panics.
func (p *Pool[R]) With(ctx context.Context, fn func(R) error) error {
	lease, err := p.Lease(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(lease.Resource())
}
