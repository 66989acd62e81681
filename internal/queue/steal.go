package queue

import "sync/atomic"

// Stealer takes items from the front of another worker's local queue.
type Stealer[T any] struct {
	q *UnboundedQueue[T]
}

// Steal removes the oldest item from the owner's queue.
func (s Stealer[T]) Steal() (T, bool) { return s.q.Pop() }

func (s Stealer[T]) IsEmpty() bool { return s.q.IsEmpty() }

// WorkStealingQueue is one worker's FIFO plus handles to its peers. Pop
// serves the local queue first and then tries each peer in the order the
// peers were added.
type WorkStealingQueue[T any] struct {
	local    *UnboundedQueue[T]
	stealers atomic.Pointer[[]Stealer[T]]
}

// NewWorkStealing returns a queue and the Stealer peers use to take from
// it.
func NewWorkStealing[T any]() (*WorkStealingQueue[T], Stealer[T]) {
	q := &WorkStealingQueue[T]{local: NewUnboundedQueue[T]()}
	q.stealers.Store(&[]Stealer[T]{})
	return q, Stealer[T]{q: q.local}
}

// AddStealer registers a peer to steal from once the local queue is empty.
func (q *WorkStealingQueue[T]) AddStealer(s Stealer[T]) {
	for {
		old := q.stealers.Load()
		next := make([]Stealer[T], len(*old), len(*old)+1)
		copy(next, *old)
		next = append(next, s)
		if q.stealers.CompareAndSwap(old, &next) {
			return
		}
	}
}

func (q *WorkStealingQueue[T]) Push(item T) { q.local.Push(item) }

// Pop returns a local item, or else the first item stolen from a peer.
func (q *WorkStealingQueue[T]) Pop() (T, bool) {
	if item, ok := q.local.Pop(); ok {
		return item, true
	}
	for _, s := range *q.stealers.Load() {
		if item, ok := s.Steal(); ok {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// IsEmpty reports whether the local queue is empty. Peers are not
// consulted.
func (q *WorkStealingQueue[T]) IsEmpty() bool { return q.local.IsEmpty() }

func (q *WorkStealingQueue[T]) Len() int { return q.local.Len() }
