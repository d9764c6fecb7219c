package timer

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math/rand"
	"testing"
	"time"
)

var epoch = time.Unix(1_700_000_000, 0)

func at(sec int) time.Time {
	return epoch.Add(time.Duration(sec) * time.Second)
}

// expiries returns the traversal order in seconds after epoch.
func expiries(r *Registry) []int {
	out := []int{}
	r.Each(func(_ ID, expire time.Time, _ *ClientData) bool {
		out = append(out, int(expire.Sub(epoch)/time.Second))
		return true
	})
	return out
}

// checkInvariants walks the links in both directions and validates ordering, head/tail and back-references.
func checkInvariants(t *testing.T, r *Registry) {
	t.Helper()
	count := 0
	prev := nilIndex
	for i := r.head; i != nilIndex; i = r.nodes[i].next {
		n := r.nodes[i]
		require.True(t, n.live, "dead node %d linked", i)
		require.Equal(t, prev, n.prev, "broken prev link at %d", i)
		if prev != nilIndex {
			require.False(t, n.expire.Before(r.nodes[prev].expire), "unsorted at %d", i)
		}
		if n.data != nil {
			require.Equal(t, ID{index: i, gen: n.gen}, n.data.Timer, "stale back-reference at %d", i)
		}
		prev = i
		count++
		require.LessOrEqual(t, count, len(r.nodes), "cycle detected")
	}
	require.Equal(t, prev, r.tail)
	require.Equal(t, r.length, count)
}

func TestInsertKeepsAscendingOrder(t *testing.T) {
	r := New()
	for _, sec := range []int{10, 30, 20} {
		r.Add(at(sec), &ClientData{}, nil)
	}
	assert.Equal(t, []int{10, 20, 30}, expiries(r))
	checkInvariants(t, r)
}

func TestConcreteScenario(t *testing.T) {
	r := New()
	data := map[int]*ClientData{}
	for _, sec := range []int{10, 30, 20} {
		data[sec] = &ClientData{Fd: sec}
		r.Add(at(sec), data[sec], nil)
	}

	assert.Equal(t, 2, r.TickAt(at(25)))
	assert.Equal(t, []int{30}, expiries(r))
	assert.True(t, data[10].Timer.IsZero())
	assert.True(t, data[20].Timer.IsZero())

	require.True(t, r.Adjust(data[30].Timer, at(5)))
	id, expire := ID{}, time.Time{}
	r.Each(func(i ID, e time.Time, _ *ClientData) bool {
		id, expire = i, e
		return false
	})
	assert.Equal(t, data[30].Timer, id)
	assert.Equal(t, at(5), expire)
	checkInvariants(t, r)
}

func TestInsertNewHeadFastPath(t *testing.T) {
	r := New()
	r.Add(at(10), nil, nil)
	first := r.Add(at(5), nil, nil)
	assert.Equal(t, first.index, r.head)
	assert.Equal(t, []int{5, 10}, expiries(r))
}

func TestInsertEqualExpiryIsStable(t *testing.T) {
	r := New()
	a := &ClientData{Fd: 1}
	b := &ClientData{Fd: 2}
	c := &ClientData{Fd: 3}
	r.Add(at(10), a, nil)
	r.Add(at(10), b, nil)
	r.Add(at(10), c, nil)

	var fds []int
	r.Each(func(_ ID, _ time.Time, d *ClientData) bool {
		fds = append(fds, d.Fd)
		return true
	})
	assert.Equal(t, []int{1, 2, 3}, fds)
}

func TestAdjust(t *testing.T) {
	tests := []struct {
		name   string
		start  []int
		target int
		to     int
		want   []int
	}{
		{name: "tail stays", start: []int{10, 20, 30}, target: 30, to: 40, want: []int{10, 20, 40}},
		{name: "still before next", start: []int{10, 20, 30}, target: 10, to: 15, want: []int{15, 20, 30}},
		{name: "equal to next", start: []int{10, 20, 30}, target: 10, to: 20, want: []int{20, 20, 30}},
		{name: "head moves to tail", start: []int{10, 20, 30}, target: 10, to: 35, want: []int{20, 30, 35}},
		{name: "head moves to middle", start: []int{10, 20, 30}, target: 10, to: 25, want: []int{20, 25, 30}},
		{name: "interior moves to tail", start: []int{10, 20, 30}, target: 20, to: 50, want: []int{10, 30, 50}},
		{name: "interior moves past equal", start: []int{10, 20, 30, 30}, target: 20, to: 30, want: []int{10, 30, 30, 30}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			ids := map[int]ID{}
			for _, sec := range tt.start {
				ids[sec] = r.Add(at(sec), &ClientData{Fd: sec}, nil)
			}
			require.True(t, r.Adjust(ids[tt.target], at(tt.to)))
			assert.Equal(t, tt.want, expiries(r))
			checkInvariants(t, r)

			got, ok := r.Expire(ids[tt.target])
			require.True(t, ok)
			assert.Equal(t, at(tt.to), got)
		})
	}
}

func TestAdjustMovedTimerGoesAfterEqualEntries(t *testing.T) {
	r := New()
	moved := &ClientData{Fd: 1}
	r.Add(at(10), moved, nil)
	r.Add(at(20), &ClientData{Fd: 2}, nil)
	r.Add(at(20), &ClientData{Fd: 3}, nil)

	require.True(t, r.Adjust(moved.Timer, at(20)))
	// equal to next: fast path leaves it in place
	assert.Equal(t, moved.Timer.index, r.head)

	require.True(t, r.Adjust(moved.Timer, at(21)))
	assert.Equal(t, moved.Timer.index, r.tail)
	checkInvariants(t, r)
}

func TestDelete(t *testing.T) {
	tests := []struct {
		name   string
		target int
		want   []int
	}{
		{name: "head", target: 10, want: []int{20, 30}},
		{name: "interior", target: 20, want: []int{10, 30}},
		{name: "tail", target: 30, want: []int{10, 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			ids := map[int]ID{}
			data := map[int]*ClientData{}
			for _, sec := range []int{10, 20, 30} {
				data[sec] = &ClientData{Fd: sec}
				ids[sec] = r.Add(at(sec), data[sec], nil)
			}
			require.True(t, r.Delete(ids[tt.target]))
			assert.Equal(t, tt.want, expiries(r))
			assert.Equal(t, 2, r.Len())
			assert.True(t, data[tt.target].Timer.IsZero())
			checkInvariants(t, r)
		})
	}
}

func TestDeleteSoleNodeThenReuse(t *testing.T) {
	r := New()
	id := r.Add(at(10), &ClientData{}, nil)
	require.True(t, r.Delete(id))
	assert.Equal(t, nilIndex, r.head)
	assert.Equal(t, nilIndex, r.tail)
	assert.Equal(t, 0, r.Len())

	r.Add(at(7), &ClientData{}, nil)
	r.Add(at(3), &ClientData{}, nil)
	assert.Equal(t, []int{3, 7}, expiries(r))
	checkInvariants(t, r)
}

func TestDeleteAllThenInsert(t *testing.T) {
	r := New()
	var ids []ID
	for _, sec := range []int{5, 1, 3, 4, 2} {
		ids = append(ids, r.Add(at(sec), &ClientData{}, nil))
	}
	for _, id := range ids {
		require.True(t, r.Delete(id))
		checkInvariants(t, r)
	}
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, expiries(r))

	r.Add(at(9), &ClientData{}, nil)
	assert.Equal(t, []int{9}, expiries(r))
}

func TestDoubleDeleteIsRejected(t *testing.T) {
	r := New()
	stale := r.Add(at(10), &ClientData{}, nil)
	require.True(t, r.Delete(stale))

	// the slot is reused by a new timer; the stale ID must not reach it
	fresh := r.Add(at(20), &ClientData{}, nil)
	assert.Equal(t, stale.index, fresh.index)
	assert.False(t, r.Delete(stale))
	assert.False(t, r.Adjust(stale, at(30)))
	assert.Equal(t, []int{20}, expiries(r))

	assert.False(t, r.Delete(ID{}))
	assert.False(t, r.Delete(ID{index: 99, gen: 1}))
}

func TestTickRemovesExpiredPrefix(t *testing.T) {
	now := at(25)
	r := New(WithClock(func() time.Time { return now }))
	var evicted []int
	cb := func(d *ClientData) { evicted = append(evicted, d.Fd) }
	for _, sec := range []int{40, 10, 25, 30, 20} {
		r.Add(at(sec), &ClientData{Fd: sec}, cb)
	}

	assert.Equal(t, 3, r.Tick())
	assert.Equal(t, []int{10, 20, 25}, evicted)
	assert.Equal(t, []int{30, 40}, expiries(r))
	checkInvariants(t, r)

	now = at(29)
	assert.Equal(t, 0, r.Tick())
	assert.Equal(t, 2, r.Len())
}

func TestTickEmptyIsNoop(t *testing.T) {
	called := false
	r := New(WithClock(func() time.Time {
		called = true
		return epoch
	}))
	assert.Equal(t, 0, r.Tick())
	assert.False(t, called)
	assert.Equal(t, 0, r.TickAt(at(100)))
}

func TestTickCallbackMayDelete(t *testing.T) {
	r := New()
	var other *ClientData
	cb := func(d *ClientData) {
		// teardown path racing with expiry: both try to remove the timer
		assert.False(t, r.Delete(d.Timer))
		if other != nil && d != other {
			assert.True(t, r.Delete(other.Timer))
		}
	}
	first := &ClientData{Fd: 1}
	other = &ClientData{Fd: 2}
	r.Add(at(1), first, cb)
	r.Add(at(50), other, cb)

	assert.Equal(t, 1, r.TickAt(at(10)))
	assert.Equal(t, 0, r.Len())
	checkInvariants(t, r)
}

func TestClear(t *testing.T) {
	r := New()
	called := false
	data := &ClientData{}
	r.Add(at(1), data, func(*ClientData) { called = true })
	r.Add(at(2), &ClientData{}, nil)
	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.False(t, called)
	assert.True(t, data.Timer.IsZero())
	checkInvariants(t, r)
}

// applyOps drives a registry from a byte stream and checks the invariants after every operation.
func applyOps(t *testing.T, ops []byte) {
	r := New()
	var live []*ClientData
	expiry := map[*ClientData]int{}
	now := 0

	for k := 0; k+1 < len(ops); k += 2 {
		op, arg := ops[k]%5, int(ops[k+1])
		switch op {
		case 0, 1:
			d := &ClientData{Fd: k}
			expiry[d] = now + arg
			r.Add(at(expiry[d]), d, nil)
			live = append(live, d)
		case 2:
			if len(live) == 0 {
				continue
			}
			d := live[arg%len(live)]
			expiry[d] += arg % 17
			require.True(t, r.Adjust(d.Timer, at(expiry[d])))
		case 3:
			if len(live) == 0 {
				continue
			}
			j := arg % len(live)
			require.True(t, r.Delete(live[j].Timer))
			live = append(live[:j], live[j+1:]...)
		case 4:
			now += arg % 32
			r.TickAt(at(now))
			kept := live[:0]
			for _, d := range live {
				if expiry[d] > now {
					kept = append(kept, d)
				} else {
					require.True(t, d.Timer.IsZero())
				}
			}
			live = kept
		}
		checkInvariants(t, r)
		require.Equal(t, len(live), r.Len())
	}
}

func TestRandomOperationsKeepRegistrySorted(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		ops := make([]byte, 400)
		rnd.Read(ops)
		applyOps(t, ops)
	}
}

func FuzzRegistry(f *testing.F) {
	f.Add([]byte{0, 10, 0, 30, 0, 20, 4, 25, 2, 0})
	f.Add([]byte{1, 5, 1, 5, 3, 0, 3, 0, 0, 1})
	f.Fuzz(func(t *testing.T, ops []byte) {
		applyOps(t, ops)
	})
}
