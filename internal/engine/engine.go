// Package engine runs the multi-goroutine send loops. Each worker owns its
// sockets and keeps local counters that it flushes into shared atomics in
// batches; Stop clears a shared flag and waits for every worker to exit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"netstress/internal/logger"
	"netstress/internal/packet"
	"netstress/internal/ratelimit"
)

const resolveTimeout = 5 * time.Second

// FallbackSender is the backend path used by the raw protocol.
// *backend.Selector implements it.
type FallbackSender interface {
	SendBatchWithFallback(packets [][]byte, dst netip.AddrPort) (int, error)
}

// AuditSink records run boundaries. It is never called per packet.
type AuditSink interface {
	EngineStart(target string, port uint16, protocol string, threads int, rate uint64)
	EngineStop(packets, bytes, errors uint64, elapsed time.Duration)
}

// Engine sends traffic at one resolved destination.
type Engine struct {
	cfg Config
	dst netip.AddrPort

	running atomic.Bool
	state   atomic.Int32
	rate    atomic.Uint64

	packets atomic.Uint64
	bytes   atomic.Uint64
	errs    atomic.Uint64

	startNs atomic.Int64 // unix ns; zero before the first run
	stopNs  atomic.Int64 // unix ns; zero while running

	mu        sync.Mutex // serializes Start and Stop
	wg        sync.WaitGroup
	done      chan struct{}
	timer     *time.Timer
	workerErr atomic.Pointer[error]

	sender FallbackSender
	// bucket paces the backend path, where workers share one budget.
	bucket  *ratelimit.TokenBucket
	builder packet.Builder
	audit   AuditSink
	log     zerolog.Logger
}

type Option func(*Engine)

// WithSelector routes the raw protocol through a backend selector.
func WithSelector(s FallbackSender) Option { return func(e *Engine) { e.sender = s } }

func WithBuilder(b packet.Builder) Option { return func(e *Engine) { e.builder = b } }

func WithAudit(a AuditSink) Option { return func(e *Engine) { e.audit = a } }

func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

// New validates cfg and resolves its target once. Workers never resolve
// again.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()
	addr, err := resolve(ctx, cfg.Target)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		dst:     netip.AddrPortFrom(addr, cfg.Port),
		bucket:  ratelimit.New(cfg.RateLimit, 0),
		builder: packet.NewBuilder(),
		log:     logger.WithComponent("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.rate.Store(cfg.RateLimit)
	e.state.Store(int32(StateIdle))
	return e, nil
}

// resolve prefers an IPv4 address when the name has both families.
func resolve(ctx context.Context, host string) (netip.Addr, error) {
	if host == "" {
		return netip.Addr{}, fmt.Errorf("%w: empty target", ErrInvalidTarget)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap(), nil
	}
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %s: %v", ErrInvalidTarget, host, err)
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("%w: %s: no addresses", ErrInvalidTarget, host)
	}
	for _, a := range addrs {
		if a.Unmap().Is4() {
			return a.Unmap(), nil
		}
	}
	return addrs[0], nil
}

// Destination returns the resolved target address.
func (e *Engine) Destination() netip.AddrPort { return e.dst }

func (e *Engine) Config() Config { return e.cfg }

// Start spawns one worker per configured thread.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running.Load() {
		return ErrAlreadyRunning
	}

	e.packets.Store(0)
	e.bytes.Store(0)
	e.errs.Store(0)
	e.workerErr.Store(nil)
	e.stopNs.Store(0)
	e.startNs.Store(time.Now().UnixNano())
	e.done = make(chan struct{})
	e.running.Store(true)
	e.state.Store(int32(StateRunning))

	for id := 0; id < e.cfg.Threads; id++ {
		e.wg.Add(1)
		go e.runWorker(id)
	}
	if e.cfg.Duration > 0 {
		e.timer = time.AfterFunc(e.cfg.Duration, func() {
			if err := e.Stop(); err == nil {
				e.log.Info().Dur("duration", e.cfg.Duration).Msg("run duration reached")
			}
		})
	}

	e.log.Info().
		Str("target", e.dst.String()).
		Str("protocol", e.cfg.Protocol.String()).
		Int("threads", e.cfg.Threads).
		Uint64("rate", e.rate.Load()).
		Msg("engine started")
	if e.audit != nil {
		e.audit.EngineStart(e.cfg.Target, e.cfg.Port, e.cfg.Protocol.String(), e.cfg.Threads, e.rate.Load())
	}
	return nil
}

// Stop clears the running flag and waits for every worker to return.
// Once it returns no worker touches the counters.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running.Load() {
		return ErrNotRunning
	}

	e.state.Store(int32(StateStopping))
	e.running.Store(false)
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.wg.Wait()
	e.stopNs.Store(time.Now().UnixNano())
	e.state.Store(int32(StateStopped))
	close(e.done)

	st := e.Stats()
	e.log.Info().
		Uint64("packets", st.PacketsSent).
		Uint64("bytes", st.BytesSent).
		Uint64("errors", st.Errors).
		Dur("duration", st.Duration).
		Msg("engine stopped")
	if e.audit != nil {
		e.audit.EngineStop(st.PacketsSent, st.BytesSent, st.Errors, st.Duration)
	}
	if p := e.workerErr.Load(); p != nil {
		return fmt.Errorf("%w: %v", ErrThread, *p)
	}
	return nil
}

// Close stops the engine if it is running. It is safe to call more than
// once.
func (e *Engine) Close() error {
	if err := e.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return nil
}

// Done is closed when the current run ends, whether by Stop or by the
// configured duration. Before the first Start it returns a closed channel.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return e.done
}

func (e *Engine) IsRunning() bool { return e.running.Load() }

func (e *Engine) State() State { return State(e.state.Load()) }

// SetRate changes the global packets/sec budget of a running or idle
// engine. Zero removes the limit.
func (e *Engine) SetRate(pps uint64) {
	e.rate.Store(pps)
	e.bucket.SetRate(pps)
	e.log.Debug().Uint64("rate", pps).Msg("rate changed")
}

func (e *Engine) Rate() uint64 { return e.rate.Load() }

func (e *Engine) Stats() Stats {
	var elapsed time.Duration
	if start := e.startNs.Load(); start != 0 {
		end := e.stopNs.Load()
		if end == 0 {
			end = time.Now().UnixNano()
		}
		elapsed = time.Duration(end - start)
	}
	return snapshot(e.packets.Load(), e.bytes.Load(), e.errs.Load(), elapsed)
}

func (e *Engine) runWorker(id int) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("worker %d: %v", id, r)
			e.workerErr.CompareAndSwap(nil, &err)
			e.errs.Add(1)
			e.log.Error().Err(err).Msg("worker panicked")
		}
	}()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	w := &worker{id: id, e: e, pace: newPacer(&e.rate, e.cfg.Threads)}
	defer w.flush()

	switch e.cfg.Protocol {
	case packet.ProtocolUDP, packet.ProtocolDNS:
		w.datagram()
	case packet.ProtocolTCP, packet.ProtocolHTTP:
		w.stream()
	case packet.ProtocolICMP:
		w.echo()
	case packet.ProtocolRaw:
		w.raw()
	default:
		w.idle("unsupported protocol " + strconv.Itoa(int(e.cfg.Protocol)))
	}
}

// worker is the per-goroutine state. Its counters are only touched by
// its own goroutine until flushed.
type worker struct {
	id   int
	e    *Engine
	pace *pacer

	packets uint64
	bytes   uint64
}

func (w *worker) running() bool { return w.e.running.Load() }

func (w *worker) count(packets, bytes uint64) {
	w.packets += packets
	w.bytes += bytes
}

func (w *worker) flushAt(threshold uint64) {
	if w.packets >= threshold {
		w.flush()
	}
}

func (w *worker) flush() {
	if w.packets == 0 && w.bytes == 0 {
		return
	}
	w.e.packets.Add(w.packets)
	w.e.bytes.Add(w.bytes)
	w.packets, w.bytes = 0, 0
}

func (w *worker) fail() { w.e.errs.Add(1) }

// idleInterval is how often an unusable worker reports itself.
const idleInterval = time.Second

// idle counts one error per interval until the run ends. It stands in for
// a protocol the host cannot send without spinning a CPU.
func (w *worker) idle(reason string) {
	w.e.log.Debug().Int("worker", w.id).Str("reason", reason).Msg("worker degraded to idle")
	for w.running() {
		w.fail()
		w.sleep(idleInterval)
	}
}

// sleep waits for d but wakes early when the run ends.
func (w *worker) sleep(d time.Duration) {
	const step = 10 * time.Millisecond
	for d > 0 && w.running() {
		s := min(d, step)
		time.Sleep(s)
		d -= s
	}
}
