// Package ratelimit provides the pacing primitives shared by send workers:
// a lock-free token bucket and a sliding-window event counter.
package ratelimit

import (
	"math"
	"math/bits"
	"runtime"
	"sync/atomic"
	"time"
)

// scale is the fixed-point factor applied to token counts so that refills
// shorter than one whole token are not lost.
const scale = 1000

// maxSleep bounds a single sleep inside Acquire.
const maxSleep = time.Millisecond

// TokenBucket is a token-bucket limiter whose state is all atomics, so one
// instance may be shared by many goroutines without a mutex.
//
// The check and the subtraction in TryAcquire are separate atomic steps.
// Under contention the token count can briefly go negative; the next
// refill starts from that deficit, so the long-run rate still holds.
type TokenBucket struct {
	rate       atomic.Uint64
	burst      atomic.Uint64
	tokens     atomic.Int64 // scaled
	lastRefill atomic.Int64 // ns since start
	enabled    atomic.Bool

	start time.Time
	now   func() int64
}

// New returns a bucket that refills at rate tokens/sec up to burst. A zero
// burst means burst equals rate. The bucket starts full. A zero rate
// disables limiting.
func New(rate, burst uint64) *TokenBucket {
	if burst == 0 {
		burst = rate
	}
	b := newBucket()
	b.rate.Store(rate)
	b.burst.Store(burst)
	b.tokens.Store(scaled(burst))
	b.enabled.Store(rate > 0)
	return b
}

// Unlimited returns a disabled bucket. Every acquisition succeeds.
func Unlimited() *TokenBucket {
	b := newBucket()
	b.tokens.Store(math.MaxInt64)
	return b
}

func newBucket() *TokenBucket {
	b := &TokenBucket{start: time.Now()}
	b.now = func() int64 { return int64(time.Since(b.start)) }
	return b
}

// TryAcquire takes n tokens if they are available.
func (b *TokenBucket) TryAcquire(n uint64) bool {
	if !b.enabled.Load() {
		return true
	}
	b.refill()

	needed := scaled(n)
	if b.tokens.Load() >= needed {
		b.tokens.Add(-needed)
		return true
	}
	return false
}

// Acquire blocks until n tokens are taken and returns how long it waited.
// It sleeps at most a millisecond at a time and spins when the estimated
// wait rounds to zero.
func (b *TokenBucket) Acquire(n uint64) time.Duration {
	if !b.enabled.Load() {
		return 0
	}
	begin := time.Now()
	for !b.TryAcquire(n) {
		rate := b.rate.Load()
		if rate == 0 {
			return time.Since(begin)
		}
		deficit := scaled(n) - b.tokens.Load()
		if deficit < 0 {
			deficit = 0
		}
		// deficit/scale tokens at rate tokens/sec.
		wait := time.Duration(float64(deficit) / float64(rate*scale) * float64(time.Second))
		if wait > 0 {
			time.Sleep(min(wait, maxSleep))
		} else {
			runtime.Gosched()
		}
	}
	return time.Since(begin)
}

func (b *TokenBucket) refill() {
	now := b.now()
	last := b.lastRefill.Load()
	if now <= last {
		return
	}
	add := refillAmount(b.rate.Load(), uint64(now-last))
	if add == 0 {
		// Leave lastRefill alone so the fraction keeps accruing.
		return
	}
	if !b.lastRefill.CompareAndSwap(last, now) {
		// Another goroutine claimed this interval.
		return
	}
	limit := scaled(b.burst.Load())
	for {
		cur := b.tokens.Load()
		next := limit
		if cur < limit && add < limit-cur {
			next = cur + add
		}
		if b.tokens.CompareAndSwap(cur, next) {
			return
		}
	}
}

// refillAmount converts elapsed nanoseconds to scaled tokens:
// rate * elapsed / 1e9 * scale, saturating instead of overflowing.
func refillAmount(rate, elapsedNs uint64) int64 {
	const div = uint64(time.Second) / scale
	hi, lo := bits.Mul64(rate, elapsedNs)
	if hi >= div {
		return math.MaxInt64
	}
	q, _ := bits.Div64(hi, lo, div)
	if q > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(q)
}

func scaled(n uint64) int64 {
	if n > math.MaxInt64/scale {
		return math.MaxInt64
	}
	return int64(n * scale)
}

// SetRate changes the refill rate. A zero rate disables limiting. The
// burst is raised to at least the new rate.
func (b *TokenBucket) SetRate(rate uint64) {
	b.rate.Store(rate)
	b.enabled.Store(rate > 0)
	if rate > 0 && b.burst.Load() < rate {
		b.burst.Store(rate)
	}
	if b.tokens.Load() > scaled(b.burst.Load()) {
		b.tokens.Store(scaled(b.burst.Load()))
	}
}

// SetBurst changes the cap. Lowering it takes effect on the next refill.
func (b *TokenBucket) SetBurst(burst uint64) {
	b.burst.Store(burst)
}

func (b *TokenBucket) Rate() uint64 { return b.rate.Load() }

func (b *TokenBucket) Burst() uint64 { return b.burst.Load() }

// Available returns the whole tokens currently in the bucket.
func (b *TokenBucket) Available() uint64 {
	b.refill()
	t := b.tokens.Load()
	if t <= 0 {
		return 0
	}
	return uint64(t / scale)
}

func (b *TokenBucket) IsEnabled() bool { return b.enabled.Load() }

// Reset refills the bucket to its burst.
func (b *TokenBucket) Reset() {
	b.tokens.Store(scaled(b.burst.Load()))
	b.lastRefill.Store(b.now())
}
