package queue

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPacketQueueBasic(t *testing.T) {
	q := NewPacketQueue[int](4)
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 4, q.Cap())

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Push(i))
	}
	assert.True(t, q.IsFull())
	assert.ErrorIs(t, q.Push(99), ErrFull)

	for i := 0; i < 4; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v, "FIFO order")
	}
	_, ok := q.Pop()
	assert.False(t, ok)
	assert.EqualValues(t, 4, q.TotalEnqueued())
	assert.EqualValues(t, 4, q.TotalDequeued())
}

func TestPacketQueueNonPowerOfTwo(t *testing.T) {
	q := NewPacketQueue[int](3)
	for round := 0; round < 10; round++ {
		for i := 0; i < 3; i++ {
			require.NoError(t, q.Push(round*3+i))
		}
		require.ErrorIs(t, q.Push(-1), ErrFull)
		for i := 0; i < 3; i++ {
			v, ok := q.Pop()
			require.True(t, ok)
			require.Equal(t, round*3+i, v)
		}
	}
}

func TestPacketQueueBatch(t *testing.T) {
	q := NewPacketQueue[[]byte](5)
	items := make([][]byte, 8)
	for i := range items {
		items[i] = []byte{byte(i)}
	}
	assert.Equal(t, 5, q.PushBatch(items), "partial batch when full")
	assert.Equal(t, 5, q.Len())

	got := q.PopBatch(3)
	require.Len(t, got, 3)
	assert.Equal(t, []byte{0}, got[0])
	assert.Len(t, q.PopBatch(10), 2)
	assert.Empty(t, q.PopBatch(10))
	assert.Nil(t, q.PopBatch(0))

	assert.EqualValues(t, 5, q.TotalEnqueued())
	assert.EqualValues(t, 5, q.TotalDequeued())
}

func TestPacketQueueMinimumCapacity(t *testing.T) {
	q := NewPacketQueue[string](0)
	assert.Equal(t, 1, q.Cap())
	require.NoError(t, q.Push("a"))
	assert.ErrorIs(t, q.Push("b"), ErrFull)
}

func TestPacketQueueConcurrent(t *testing.T) {
	const producers, consumers, perProducer = 4, 4, 5000
	q := NewPacketQueue[int](128)

	var produced, consumed atomic.Int64
	var sum atomic.Int64
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for q.Push(base+i) != nil {
				}
				produced.Add(1)
			}
		}(p * perProducer)
	}

	done := make(chan struct{})
	var cwg sync.WaitGroup
	for c := 0; c < consumers; c++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				if v, ok := q.Pop(); ok {
					sum.Add(int64(v))
					consumed.Add(1)
					continue
				}
				select {
				case <-done:
					if q.IsEmpty() {
						return
					}
				default:
				}
			}
		}()
	}
	wg.Wait()
	close(done)
	cwg.Wait()

	total := producers * perProducer
	assert.EqualValues(t, total, consumed.Load())
	assert.EqualValues(t, total*(total-1)/2, sum.Load(), "every item delivered exactly once")
	assert.EqualValues(t, total, q.TotalEnqueued())
	assert.EqualValues(t, total, q.TotalDequeued())
}

func TestProperty_TotalsMatchOutstanding(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		capacity := rapid.IntRange(1, 64).Draw(rt, "capacity")
		q := NewPacketQueue[int](capacity)
		outstanding := 0

		ops := rapid.SliceOfN(rapid.IntRange(0, 3), 1, 200).Draw(rt, "ops")
		for i, op := range ops {
			switch op {
			case 0:
				if q.Push(i) == nil {
					outstanding++
				}
			case 1:
				if _, ok := q.Pop(); ok {
					outstanding--
				}
			case 2:
				outstanding += q.PushBatch([]int{i, i, i})
			case 3:
				outstanding -= len(q.PopBatch(2))
			}
			diff := int(q.TotalEnqueued() - q.TotalDequeued())
			if diff != outstanding || q.Len() != outstanding || outstanding < 0 || outstanding > capacity {
				rt.Fatalf("totals %d, len %d, outstanding %d", diff, q.Len(), outstanding)
			}
		}
	})
}
