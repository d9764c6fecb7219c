package list

// Node is an element of a List.
type Node[T any] struct {
	Prev  *Node[T]
	Next  *Node[T]
	Value T
}

// List is a doubly linked list. It is not safe for concurrent use; callers guard it.
type List[T any] struct {
	Head   *Node[T]
	Tail   *Node[T]
	Length int
}

func New[T any]() *List[T] {
	return &List[T]{}
}

// PushBack appends value at the tail.
func (l *List[T]) PushBack(value T) *Node[T] {
	node := &Node[T]{Value: value}
	if l.Tail == nil {
		l.Head, l.Tail = node, node
	} else {
		node.Prev, l.Tail.Next, l.Tail = l.Tail, node, node
	}
	l.Length++
	return node
}

// PushFront prepends value at the head.
func (l *List[T]) PushFront(value T) *Node[T] {
	node := &Node[T]{Value: value}
	if l.Head == nil {
		l.Head, l.Tail = node, node
	} else {
		node.Next, l.Head.Prev, l.Head = l.Head, node, node
	}
	l.Length++
	return node
}

// PopFront removes the head and returns its value.
func (l *List[T]) PopFront() (value T, ok bool) {
	if l.Head == nil {
		return value, false
	}
	node := l.Head
	l.Remove(node)
	return node.Value, true
}

// Remove unlinks node from the list.
func (l *List[T]) Remove(node *Node[T]) {
	if node.Prev != nil {
		node.Prev.Next = node.Next
	} else {
		l.Head = node.Next
	}
	if node.Next != nil {
		node.Next.Prev = node.Prev
	} else {
		l.Tail = node.Prev
	}
	node.Next, node.Prev = nil, nil
	l.Length--
}

// Empty drops every element.
func (l *List[T]) Empty() {
	l.Head, l.Tail = nil, nil
	l.Length = 0
}

// Len ...
func (l *List[T]) Len() int {
	return l.Length
}
