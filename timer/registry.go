// Package timer tracks one eviction deadline per live connection in a list kept in ascending expiry order.
//
// Nodes live in an arena and link to each other by index. Deleting a timer frees its slot and bumps the
// slot generation, so an ID that was already deleted or expired is rejected instead of corrupting the list.
//
// A Registry is not safe for concurrent use. It belongs to the event loop goroutine; workers never touch it.
package timer

import (
	"time"
)

const nilIndex int32 = -1

// ID names a timer. The zero ID never names a live timer.
type ID struct {
	index int32
	gen   uint32
}

// IsZero reports whether id is the zero ID.
func (id ID) IsZero() bool {
	return id == ID{}
}

// ClientData is the connection a timer guards. Timer points back at the owning timer while it is linked.
type ClientData struct {
	Fd    int
	Addr  string
	Timer ID
}

// Callback evicts the connection whose timer expired.
type Callback func(data *ClientData)

type node struct {
	expire time.Time
	cb     Callback
	data   *ClientData
	prev   int32
	next   int32
	gen    uint32
	live   bool
}

type Registry struct {
	nodes  []node
	free   []int32
	head   int32
	tail   int32
	length int
	now    func() time.Time
}

type Option func(*Registry)

// WithClock replaces time.Now as the clock read by Tick.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		head: nilIndex,
		tail: nilIndex,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add links a new timer for data expiring at expire and sets data.Timer to it.
func (r *Registry) Add(expire time.Time, data *ClientData, cb Callback) ID {
	i := r.alloc()
	n := &r.nodes[i]
	n.expire = expire
	n.cb = cb
	n.data = data

	id := ID{index: i, gen: n.gen}
	if data != nil {
		data.Timer = id
	}
	r.insert(i)
	r.length++
	return id
}

// Adjust moves the timer to its new expiry. Expiries may only be extended: a timer whose expiry moves
// earlier than its predecessor's is not repositioned.
func (r *Registry) Adjust(id ID, expire time.Time) bool {
	i, ok := r.lookup(id)
	if !ok {
		return false
	}
	n := &r.nodes[i]
	n.expire = expire

	next := n.next
	if next == nilIndex || !r.nodes[next].expire.Before(expire) {
		return true
	}

	if i == r.head {
		r.head = next
		r.nodes[next].prev = nilIndex
		n.next = nilIndex
		r.insertAfter(i, r.head)
		return true
	}

	prev := n.prev
	r.nodes[prev].next = next
	r.nodes[next].prev = prev
	n.prev, n.next = nilIndex, nilIndex
	r.insertAfter(i, next)
	return true
}

// Delete unlinks and frees the timer in O(1). It reports false for an ID that is no longer live.
func (r *Registry) Delete(id ID) bool {
	i, ok := r.lookup(id)
	if !ok {
		return false
	}
	r.unlink(i)
	r.release(i)
	return true
}

// Tick expires timers against the registry clock.
func (r *Registry) Tick() int {
	if r.head == nilIndex {
		return 0
	}
	return r.TickAt(r.now())
}

// TickAt unlinks every timer with expiry <= now, in order, and runs its callback. It returns the number of
// timers expired. The timer is already gone when its callback runs, so the callback may freely call Delete.
func (r *Registry) TickAt(now time.Time) int {
	expired := 0
	for r.head != nilIndex {
		i := r.head
		n := &r.nodes[i]
		if now.Before(n.expire) {
			break
		}
		cb, data := n.cb, n.data

		r.unlink(i)
		r.release(i)
		expired++

		if cb != nil {
			cb(data)
		}
	}
	return expired
}

// Len reports the number of live timers.
func (r *Registry) Len() int {
	return r.length
}

// Expire returns the expiry of a live timer.
func (r *Registry) Expire(id ID) (time.Time, bool) {
	i, ok := r.lookup(id)
	if !ok {
		return time.Time{}, false
	}
	return r.nodes[i].expire, true
}

// Each walks the timers in expiry order until fn returns false.
func (r *Registry) Each(fn func(id ID, expire time.Time, data *ClientData) bool) {
	for i := r.head; i != nilIndex; {
		n := &r.nodes[i]
		next := n.next
		if !fn(ID{index: i, gen: n.gen}, n.expire, n.data) {
			return
		}
		i = next
	}
}

// Clear frees every timer without running callbacks.
func (r *Registry) Clear() {
	for r.head != nilIndex {
		i := r.head
		r.unlink(i)
		r.release(i)
	}
}

func (r *Registry) lookup(id ID) (int32, bool) {
	if id.index < 0 || int(id.index) >= len(r.nodes) {
		return nilIndex, false
	}
	n := &r.nodes[id.index]
	if !n.live || n.gen != id.gen {
		return nilIndex, false
	}
	return id.index, true
}

func (r *Registry) alloc() int32 {
	var i int32
	if k := len(r.free); k > 0 {
		i = r.free[k-1]
		r.free = r.free[:k-1]
	} else {
		r.nodes = append(r.nodes, node{})
		i = int32(len(r.nodes) - 1)
	}
	n := &r.nodes[i]
	n.gen++
	n.live = true
	n.prev, n.next = nilIndex, nilIndex
	return i
}

func (r *Registry) release(i int32) {
	n := &r.nodes[i]
	if n.data != nil && n.data.Timer == (ID{index: i, gen: n.gen}) {
		n.data.Timer = ID{}
	}
	gen := n.gen
	*n = node{gen: gen, prev: nilIndex, next: nilIndex}
	r.free = append(r.free, i)
	r.length--
}

func (r *Registry) insert(i int32) {
	if r.head == nilIndex {
		r.head, r.tail = i, i
		return
	}
	if r.nodes[i].expire.Before(r.nodes[r.head].expire) {
		r.nodes[i].next = r.head
		r.nodes[r.head].prev = i
		r.head = i
		return
	}
	r.insertAfter(i, r.head)
}

// insertAfter splices i in before the first node past start that expires strictly later, or at the tail.
// The caller guarantees i does not sort before start.
func (r *Registry) insertAfter(i, start int32) {
	expire := r.nodes[i].expire
	prev := start
	tmp := r.nodes[prev].next
	for tmp != nilIndex {
		if expire.Before(r.nodes[tmp].expire) {
			r.nodes[prev].next = i
			r.nodes[i].prev = prev
			r.nodes[i].next = tmp
			r.nodes[tmp].prev = i
			return
		}
		prev = tmp
		tmp = r.nodes[tmp].next
	}
	r.nodes[prev].next = i
	r.nodes[i].prev = prev
	r.nodes[i].next = nilIndex
	r.tail = i
}

func (r *Registry) unlink(i int32) {
	n := &r.nodes[i]
	switch {
	case i == r.head && i == r.tail:
		r.head, r.tail = nilIndex, nilIndex
	case i == r.head:
		r.head = n.next
		r.nodes[r.head].prev = nilIndex
	case i == r.tail:
		r.tail = n.prev
		r.nodes[r.tail].next = nilIndex
	default:
		r.nodes[n.prev].next = n.next
		r.nodes[n.next].prev = n.prev
	}
	n.prev, n.next = nilIndex, nilIndex
}
