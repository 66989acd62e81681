package queue

import "sync/atomic"

type node[T any] struct {
	item T
	next atomic.Pointer[node[T]]
}

// UnboundedQueue is a lock-free linked FIFO (Michael and Scott) with no
// capacity limit. Len is kept exact by pairing every successful push and
// pop with a counter update.
type UnboundedQueue[T any] struct {
	head  atomic.Pointer[node[T]] // sentinel; head.next is the oldest item
	tail  atomic.Pointer[node[T]]
	count atomic.Int64
}

func NewUnboundedQueue[T any]() *UnboundedQueue[T] {
	q := &UnboundedQueue[T]{}
	sentinel := &node[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

func (q *UnboundedQueue[T]) Push(item T) {
	n := &node[T]{item: item}
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if tail != q.tail.Load() {
			continue
		}
		if next != nil {
			// Tail is lagging; help it along.
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			q.count.Add(1)
			return
		}
	}
}

// Pop removes the oldest item without blocking.
func (q *UnboundedQueue[T]) Pop() (T, bool) {
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()
		if head != q.head.Load() {
			continue
		}
		if next == nil {
			var zero T
			return zero, false
		}
		if head == tail {
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		item := next.item
		if q.head.CompareAndSwap(head, next) {
			q.count.Add(-1)
			return item, true
		}
	}
}

// Len returns the number of items pushed and not yet popped. A push that
// has linked its node but not yet counted it may briefly be missing.
func (q *UnboundedQueue[T]) Len() int {
	if n := q.count.Load(); n > 0 {
		return int(n)
	}
	return 0
}

func (q *UnboundedQueue[T]) IsEmpty() bool {
	return q.head.Load().next.Load() == nil
}
