// Package queue provides the non-blocking hand-off structures used to pass
// prepared packets between producer and sender goroutines: a bounded MPMC
// ring, an unbounded linked queue and a work-stealing queue.
package queue

import (
	"errors"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// ErrFull is returned by Push when a bounded queue has no free slot.
var ErrFull = errors.New("queue full")

type slot[T any] struct {
	seq  atomic.Uint64
	item T
}

// PacketQueue is a bounded multi-producer multi-consumer FIFO. Each slot
// carries a sequence number that tells producers and consumers whose turn
// it is, so neither side takes a lock.
//
// Len is approximate while other goroutines are pushing or popping. The
// lifetime totals are exact.
type PacketQueue[T any] struct {
	_     cpu.CacheLinePad
	head  atomic.Uint64 // next pop position
	_     cpu.CacheLinePad
	tail  atomic.Uint64 // next push position
	_     cpu.CacheLinePad
	slots []slot[T]
	size  uint64

	enqueued atomic.Uint64
	dequeued atomic.Uint64
}

// NewPacketQueue returns a queue holding at most capacity items. Capacity
// is raised to 1 if smaller.
func NewPacketQueue[T any](capacity int) *PacketQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &PacketQueue[T]{
		slots: make([]slot[T], capacity),
		size:  uint64(capacity),
	}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	return q
}

// Push appends item, or returns ErrFull without blocking. On failure the
// item is not retained.
func (q *PacketQueue[T]) Push(item T) error {
	if !q.push(item) {
		return ErrFull
	}
	q.enqueued.Add(1)
	return nil
}

func (q *PacketQueue[T]) push(item T) bool {
	pos := q.tail.Load()
	for {
		s := &q.slots[pos%q.size]
		seq := s.seq.Load()
		switch diff := int64(seq - pos); {
		case diff == 0:
			if q.tail.CompareAndSwap(pos, pos+1) {
				s.item = item
				s.seq.Store(pos + 1)
				return true
			}
			pos = q.tail.Load()
		case diff < 0:
			return false
		default:
			pos = q.tail.Load()
		}
	}
}

// Pop removes the oldest item. ok is false when the queue is empty.
func (q *PacketQueue[T]) Pop() (item T, ok bool) {
	item, ok = q.pop()
	if ok {
		q.dequeued.Add(1)
	}
	return item, ok
}

func (q *PacketQueue[T]) pop() (T, bool) {
	var zero T
	pos := q.head.Load()
	for {
		s := &q.slots[pos%q.size]
		seq := s.seq.Load()
		switch diff := int64(seq - (pos + 1)); {
		case diff == 0:
			if q.head.CompareAndSwap(pos, pos+1) {
				item := s.item
				s.item = zero
				s.seq.Store(pos + q.size)
				return item, true
			}
			pos = q.head.Load()
		case diff < 0:
			return zero, false
		default:
			pos = q.head.Load()
		}
	}
}

// PushBatch pushes items in order until the queue fills and reports how
// many were accepted. The batch is not atomic.
func (q *PacketQueue[T]) PushBatch(items []T) int {
	n := 0
	for _, item := range items {
		if !q.push(item) {
			break
		}
		n++
	}
	q.enqueued.Add(uint64(n))
	return n
}

// PopBatch pops up to max items, stopping early when the queue empties.
func (q *PacketQueue[T]) PopBatch(max int) []T {
	if max <= 0 {
		return nil
	}
	items := make([]T, 0, min(max, int(q.size)))
	for len(items) < max {
		item, ok := q.pop()
		if !ok {
			break
		}
		items = append(items, item)
	}
	q.dequeued.Add(uint64(len(items)))
	return items
}

func (q *PacketQueue[T]) Len() int {
	for {
		tail := q.tail.Load()
		head := q.head.Load()
		if q.tail.Load() == tail {
			if tail <= head {
				return 0
			}
			return int(min(tail-head, q.size))
		}
	}
}

func (q *PacketQueue[T]) IsEmpty() bool { return q.Len() == 0 }

func (q *PacketQueue[T]) IsFull() bool { return q.Len() == int(q.size) }

func (q *PacketQueue[T]) Cap() int { return int(q.size) }

// TotalEnqueued is the number of successful pushes over the queue's life.
func (q *PacketQueue[T]) TotalEnqueued() uint64 { return q.enqueued.Load() }

// TotalDequeued is the number of successful pops over the queue's life.
func (q *PacketQueue[T]) TotalDequeued() uint64 { return q.dequeued.Load() }
