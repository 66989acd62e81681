package ratelimit

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func frozenWindow(w *SlidingWindow, startMs uint64) *atomic.Uint64 {
	var clock atomic.Uint64
	clock.Store(startMs)
	w.now = clock.Load
	return &clock
}

func TestSlidingWindowBasic(t *testing.T) {
	w := NewSlidingWindow(100, 1000)
	frozenWindow(w, 0)
	assert.EqualValues(t, 100, w.MaxCount())

	allowed := 0
	for i := 0; i < 200; i++ {
		if w.TryRecord() {
			allowed++
		}
	}
	assert.Equal(t, 100, allowed)
	assert.EqualValues(t, 100, w.CurrentRate())
}

func TestSlidingWindowSlides(t *testing.T) {
	w := NewSlidingWindow(10, 100)
	clock := frozenWindow(w, 5)
	for w.TryRecord() {
	}
	assert.False(t, w.TryRecord())

	clock.Store(5 + 101)
	assert.True(t, w.TryRecord(), "old events fall out of the window")
}

func TestSlidingWindowDisabled(t *testing.T) {
	w := NewSlidingWindow(0, 1000)
	for i := 0; i < 5000; i++ {
		assert.True(t, w.TryRecord())
	}
}

func TestSlidingWindowSetRate(t *testing.T) {
	w := NewSlidingWindow(10, 1000)
	frozenWindow(w, 0)
	for w.TryRecord() {
	}
	w.SetRate(20)
	assert.EqualValues(t, 20, w.MaxCount())
	assert.True(t, w.TryRecord())

	w.SetRate(0)
	assert.True(t, w.TryRecord())
}

func TestSlidingWindowZeroWindow(t *testing.T) {
	w := NewSlidingWindow(1000, 0)
	assert.NotPanics(t, func() { _ = w.CurrentRate() })
}

func TestProperty_WindowBound(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		rate := rapid.Uint64Range(1, 1000).Draw(rt, "rate")
		windowMs := rapid.Uint64Range(100, 5000).Draw(rt, "windowMs")
		attempts := rapid.IntRange(1, 2000).Draw(rt, "attempts")

		w := NewSlidingWindow(rate, windowMs)
		frozenWindow(w, rapid.Uint64Range(0, 10000).Draw(rt, "now"))
		allowed := uint64(0)
		for i := 0; i < attempts; i++ {
			if w.TryRecord() {
				allowed++
			}
		}
		if limit := rate * windowMs / 1000; allowed > limit {
			rt.Fatalf("allowed %d events, limit %d", allowed, limit)
		}
	})
}
