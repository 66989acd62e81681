package engine

import (
	"sync/atomic"
	"time"
)

const (
	paceWindow     = time.Second
	maxAdaptiveUS  = 100
	fixedPaceDelay = 50 * time.Microsecond
)

// pacer keeps one worker near its share of the global rate. It estimates
// the worker's own rate over a window that resets every second, so it
// needs no coordination with other workers.
type pacer struct {
	rate    *atomic.Uint64
	threads uint64
	start   time.Time
	count   uint64
}

func newPacer(rate *atomic.Uint64, threads int) *pacer {
	return &pacer{rate: rate, threads: uint64(max(threads, 1)), start: time.Now()}
}

func (p *pacer) budget(limit uint64) uint64 {
	return max(limit/p.threads, 1)
}

// delay returns how long to back off before sending more, or zero. With
// adaptive set the delay grows with the overage up to 100µs; otherwise it
// is a fixed 50µs.
func (p *pacer) delay(adaptive bool) time.Duration {
	limit := p.rate.Load()
	if limit == 0 {
		return 0
	}
	elapsed := time.Since(p.start)
	if elapsed >= paceWindow {
		p.start = time.Now()
		p.count = 0
		return 0
	}
	ms := uint64(max(elapsed.Milliseconds(), 1))
	current := p.count * 1000 / ms
	budget := p.budget(limit)
	if current <= budget {
		return 0
	}
	if !adaptive {
		return fixedPaceDelay
	}
	us := min((current-budget)*10/budget, maxAdaptiveUS)
	return time.Duration(max(us, 1)) * time.Microsecond
}

func (p *pacer) sent(n uint64) { p.count += n }

// batches returns the inner batch size and the number of inner batches to
// run between pacing checks. Unlimited runs use the full sizes; limited
// runs send about a hundredth of a second of budget per check.
func (p *pacer) batches(inner, outer int) (int, int) {
	limit := p.rate.Load()
	if limit == 0 {
		return inner, outer
	}
	n := int(min(p.budget(limit)/100, uint64(inner)))
	return max(n, 1), 1
}
