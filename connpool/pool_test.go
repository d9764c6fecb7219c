package connpool

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"testing"
	"time"
)

type handle struct {
	id     int
	closed bool
}

func newTestPool(t *testing.T, size int) (*Pool[*handle], []*handle) {
	var created []*handle
	p, err := New[*handle](size, func() (*handle, error) {
		h := &handle{id: len(created)}
		created = append(created, h)
		return h, nil
	}, func(h *handle) error {
		h.closed = true
		return nil
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return p, created
}

func TestNewInvalidSize(t *testing.T) {
	_, err := New[int](0, func() (int, error) { return 0, nil }, nil, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestNewFactoryFailureDestroysCreated(t *testing.T) {
	var created []*handle
	boom := errors.New("boom")
	_, err := New[*handle](3, func() (*handle, error) {
		if len(created) == 2 {
			return nil, boom
		}
		h := &handle{}
		created = append(created, h)
		return h, nil
	}, func(h *handle) error {
		h.closed = true
		return nil
	}, zaptest.NewLogger(t))

	assert.ErrorIs(t, err, boom)
	for _, h := range created {
		assert.True(t, h.closed)
	}
}

func TestAcquireRelease(t *testing.T) {
	p, _ := newTestPool(t, 2)
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, 0, p.FreeCount())
	assert.Equal(t, 2, p.InUse())

	p.Release(a)
	assert.Equal(t, 1, p.FreeCount())
	p.Release(b)
	assert.Equal(t, 2, p.FreeCount())
	assert.Equal(t, 0, p.InUse())
}

func TestAcquireBlocksWhenExhausted(t *testing.T) {
	p, _ := newTestPool(t, 1)
	h, err := p.Acquire(context.Background())
	require.NoError(t, err)

	got := make(chan *handle)
	go func() {
		r, err := p.Acquire(context.Background())
		if err == nil {
			got <- r
		}
	}()

	select {
	case <-got:
		t.Fatal("acquire succeeded on an exhausted pool")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(h)
	select {
	case r := <-got:
		assert.Same(t, h, r)
	case <-time.After(time.Second):
		t.Fatal("blocked acquire not woken by release")
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	p, _ := newTestPool(t, 1)
	_, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithReleasesOnFailure(t *testing.T) {
	p, _ := newTestPool(t, 2)
	boom := errors.New("process failed")

	err := p.With(context.Background(), func(h *handle) error {
		// still leased while the scope is open
		assert.Equal(t, 1, p.FreeCount())
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, p.FreeCount())
	assert.Equal(t, 0, p.InUse())
}

func TestWithReleasesOnPanic(t *testing.T) {
	p, _ := newTestPool(t, 1)

	assert.Panics(t, func() {
		_ = p.With(context.Background(), func(h *handle) error {
			panic("mid-task")
		})
	})
	assert.Equal(t, 1, p.FreeCount())
}

func TestLeaseReleaseIsIdempotent(t *testing.T) {
	p, _ := newTestPool(t, 2)
	lease, err := p.Lease(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.FreeCount())

	lease.Release()
	lease.Release()
	assert.Equal(t, 2, p.FreeCount())
	assert.Equal(t, 0, p.InUse())
}

func TestClose(t *testing.T) {
	p, created := newTestPool(t, 2)
	leased, err := p.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Close())
	for _, h := range created {
		if h != leased {
			assert.True(t, h.closed)
		}
	}
	assert.False(t, leased.closed)

	p.Release(leased)
	assert.True(t, leased.closed)

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.NoError(t, p.Close())
}
