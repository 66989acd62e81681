package ratelimit

import (
	"sync/atomic"
	"time"
)

const minWindowSlots = 1000

// SlidingWindow admits at most rate*window/1000 events in any trailing
// window of window milliseconds. Event times live in a fixed ring of
// atomics; a slot holding zero is empty.
type SlidingWindow struct {
	windowMs uint64
	maxCount atomic.Uint64
	enabled  atomic.Bool
	slots    []atomic.Uint64 // ms since start, plus one
	writePos atomic.Uint64

	start time.Time
	now   func() uint64
}

// NewSlidingWindow returns a limiter for ratePerSecond events over a
// window of windowMs milliseconds. A zero rate disables limiting.
func NewSlidingWindow(ratePerSecond, windowMs uint64) *SlidingWindow {
	if windowMs == 0 {
		windowMs = 1
	}
	maxCount := ratePerSecond * windowMs / 1000
	w := &SlidingWindow{
		windowMs: windowMs,
		slots:    make([]atomic.Uint64, max(maxCount, minWindowSlots)),
		start:    time.Now(),
	}
	w.now = func() uint64 { return uint64(time.Since(w.start) / time.Millisecond) }
	w.maxCount.Store(maxCount)
	w.enabled.Store(ratePerSecond > 0)
	return w
}

// TryRecord records an event at the current time if the window has room.
func (w *SlidingWindow) TryRecord() bool {
	if !w.enabled.Load() {
		return true
	}
	now := w.now()
	if w.count(now) >= w.maxCount.Load() {
		return false
	}
	pos := (w.writePos.Add(1) - 1) % uint64(len(w.slots))
	w.slots[pos].Store(now + 1)
	return true
}

// CurrentRate returns the events in the current window extrapolated to
// events per second.
func (w *SlidingWindow) CurrentRate() uint64 {
	return w.count(w.now()) * 1000 / w.windowMs
}

// SetRate changes the admitted rate. The ring is not resized, so rates
// whose window count exceeds the ring length are capped by it.
func (w *SlidingWindow) SetRate(ratePerSecond uint64) {
	w.maxCount.Store(ratePerSecond * w.windowMs / 1000)
	w.enabled.Store(ratePerSecond > 0)
}

func (w *SlidingWindow) Window() time.Duration {
	return time.Duration(w.windowMs) * time.Millisecond
}

// MaxCount returns the number of events admitted per window.
func (w *SlidingWindow) MaxCount() uint64 { return w.maxCount.Load() }

func (w *SlidingWindow) count(now uint64) uint64 {
	var windowStart uint64
	if now > w.windowMs {
		windowStart = now - w.windowMs
	}
	var n uint64
	for i := range w.slots {
		ts := w.slots[i].Load()
		if ts == 0 {
			continue
		}
		ts--
		if ts >= windowStart && ts <= now {
			n++
		}
	}
	return n
}
