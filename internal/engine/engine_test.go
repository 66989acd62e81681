package engine

import (
	"errors"
	"io"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"netstress/internal/packet"
)

// sink opens a local UDP socket that swallows whatever the engine sends.
func sink(t *testing.T) uint16 {
	t.Helper()
	c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	go func() {
		buf := make([]byte, 65536)
		for {
			if _, _, err := c.ReadFromUDP(buf); err != nil {
				return
			}
		}
	}()
	return uint16(c.LocalAddr().(*net.UDPAddr).Port)
}

func localConfig(port uint16) Config {
	cfg := DefaultConfig()
	cfg.Target = "127.0.0.1"
	cfg.Port = port
	cfg.Threads = 1
	cfg.PacketSize = 64
	return cfg
}

type auditRecorder struct {
	mu     sync.Mutex
	starts int
	stops  int
	last   uint64
}

func (a *auditRecorder) EngineStart(string, uint16, string, int, uint64) {
	a.mu.Lock()
	a.starts++
	a.mu.Unlock()
}

func (a *auditRecorder) EngineStop(packets, _, _ uint64, _ time.Duration) {
	a.mu.Lock()
	a.stops++
	a.last = packets
	a.mu.Unlock()
}

type countingSender struct {
	calls atomic.Int64
	fail  bool
}

func (s *countingSender) SendBatchWithFallback(pkts [][]byte, _ netip.AddrPort) (int, error) {
	s.calls.Add(1)
	if s.fail {
		return 0, errors.New("exhausted")
	}
	return len(pkts), nil
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.EqualValues(t, 80, cfg.Port)
	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, 1472, cfg.PacketSize)
	assert.Equal(t, packet.ProtocolUDP, cfg.Protocol)
	assert.Zero(t, cfg.RateLimit)
	assert.Zero(t, cfg.Duration)
}

func TestNewValidTarget(t *testing.T) {
	cfg := localConfig(8080)
	e, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddrPort("127.0.0.1:8080"), e.Destination())
	assert.Equal(t, StateIdle, e.State())
	assert.False(t, e.IsRunning())
}

func TestNewInvalidTarget(t *testing.T) {
	cfg := localConfig(8080)
	cfg.Target = "invalid.target.address"
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidTarget)

	cfg.Target = ""
	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"no threads":    func(c *Config) { c.Threads = 0 },
		"too many":      func(c *Config) { c.Threads = maxThreads + 1 },
		"empty packet":  func(c *Config) { c.PacketSize = 0 },
		"huge packet":   func(c *Config) { c.PacketSize = packet.MaxPayload + 1 },
		"no port":       func(c *Config) { c.Port = 0 },
		"negative time": func(c *Config) { c.Duration = -time.Second },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := localConfig(8080)
			mutate(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestICMPNeedsNoPort(t *testing.T) {
	cfg := localConfig(0)
	cfg.Protocol = packet.ProtocolICMP
	assert.NoError(t, cfg.Validate())
}

func TestEveryProtocolCreatable(t *testing.T) {
	for _, p := range []packet.Protocol{
		packet.ProtocolUDP, packet.ProtocolTCP, packet.ProtocolHTTP,
		packet.ProtocolICMP, packet.ProtocolDNS, packet.ProtocolRaw,
	} {
		cfg := localConfig(8080)
		cfg.Protocol = p
		_, err := New(cfg)
		assert.NoError(t, err, p.String())
	}
}

func TestInitialStatsZero(t *testing.T) {
	e, err := New(localConfig(8080))
	require.NoError(t, err)
	st := e.Stats()
	assert.Zero(t, st.PacketsSent)
	assert.Zero(t, st.BytesSent)
	assert.Zero(t, st.Errors)
	assert.Zero(t, st.Duration)
}

func TestStateTransitions(t *testing.T) {
	e, err := New(localConfig(sink(t)))
	require.NoError(t, err)

	assert.ErrorIs(t, e.Stop(), ErrNotRunning)
	require.NoError(t, e.Start())
	assert.True(t, e.IsRunning())
	assert.Equal(t, StateRunning, e.State())
	assert.ErrorIs(t, e.Start(), ErrAlreadyRunning)

	require.NoError(t, e.Stop())
	assert.False(t, e.IsRunning())
	assert.Equal(t, StateStopped, e.State())
	assert.ErrorIs(t, e.Stop(), ErrNotRunning)
	assert.NoError(t, e.Close())
}

func TestUDPRunCountsPackets(t *testing.T) {
	a := &auditRecorder{}
	e, err := New(localConfig(sink(t)), WithAudit(a))
	require.NoError(t, err)

	require.NoError(t, e.Start())
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, e.Stop())

	st := e.Stats()
	assert.Greater(t, st.Duration, time.Duration(0))
	assert.Greater(t, st.PacketsSent, uint64(0))
	assert.Equal(t, st.PacketsSent*64, st.BytesSent)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, st, e.Stats(), "stats are frozen after stop")

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Equal(t, 1, a.starts)
	assert.Equal(t, 1, a.stops)
	assert.Equal(t, st.PacketsSent, a.last)
}

func TestStatsNeverDecreaseDuringRun(t *testing.T) {
	cfg := localConfig(sink(t))
	cfg.Threads = 2
	e, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, e.Start())
	var prev Stats
	for deadline := time.Now().Add(50 * time.Millisecond); time.Now().Before(deadline); {
		cur := e.Stats()
		require.GreaterOrEqual(t, cur.PacketsSent, prev.PacketsSent)
		require.GreaterOrEqual(t, cur.BytesSent, prev.BytesSent)
		prev = cur
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, e.Stop())

	st := e.Stats()
	assert.GreaterOrEqual(t, st.PacketsSent, prev.PacketsSent)
	assert.Greater(t, st.PacketsSent, uint64(0))
	assert.Less(t, st.Errors*100, st.PacketsSent, "loopback udp should rarely fail")
}

func TestRestartResetsCounters(t *testing.T) {
	cfg := localConfig(sink(t))
	cfg.RateLimit = 1000
	e, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, e.Start())
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, e.Stop())
	first := e.Stats()

	require.NoError(t, e.Start())
	require.NoError(t, e.Stop())
	second := e.Stats()
	assert.Less(t, second.Duration, first.Duration)
	assert.Equal(t, StateStopped, e.State())
}

func TestDurationStopsRun(t *testing.T) {
	cfg := localConfig(sink(t))
	cfg.Duration = 50 * time.Millisecond
	cfg.RateLimit = 10000
	e, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, e.Start())
	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after its duration")
	}
	assert.False(t, e.IsRunning())
	assert.Equal(t, StateStopped, e.State())
}

func TestDoneBeforeStartIsClosed(t *testing.T) {
	e, err := New(localConfig(8080))
	require.NoError(t, err)
	select {
	case <-e.Done():
	default:
		t.Fatal("expected closed channel")
	}
}

func TestSetRate(t *testing.T) {
	e, err := New(localConfig(8080))
	require.NoError(t, err)
	assert.Zero(t, e.Rate())
	e.SetRate(5000)
	assert.EqualValues(t, 5000, e.Rate())
	e.SetRate(0)
	assert.Zero(t, e.Rate())
}

func TestRateLimitHoldsBack(t *testing.T) {
	cfg := localConfig(sink(t))
	cfg.RateLimit = 1000
	e, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, e.Start())
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, e.Stop())
	// Budget for the first window is 1000; allow one batch of slack.
	assert.LessOrEqual(t, e.Stats().PacketsSent, uint64(1100))
}

func TestRawThroughSender(t *testing.T) {
	cfg := localConfig(9)
	cfg.Protocol = packet.ProtocolRaw
	s := &countingSender{}
	e, err := New(cfg, WithSelector(s))
	require.NoError(t, err)

	require.NoError(t, e.Start())
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, e.Stop())

	st := e.Stats()
	assert.Greater(t, s.calls.Load(), int64(0))
	assert.Greater(t, st.PacketsSent, uint64(0))
	assert.Equal(t, st.PacketsSent*64, st.BytesSent)
	assert.Zero(t, st.Errors)
}

func TestRawExhaustedCountsErrors(t *testing.T) {
	cfg := localConfig(9)
	cfg.Protocol = packet.ProtocolRaw
	e, err := New(cfg, WithSelector(&countingSender{fail: true}))
	require.NoError(t, err)

	require.NoError(t, e.Start())
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, e.Stop())
	assert.Zero(t, e.Stats().PacketsSent)
	assert.Greater(t, e.Stats().Errors, uint64(0))
}

func TestRawWithoutPathIdles(t *testing.T) {
	cfg := localConfig(9)
	cfg.Protocol = packet.ProtocolRaw
	e, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, e.Start())
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, e.Stop())
	assert.Zero(t, e.Stats().PacketsSent)
	assert.EqualValues(t, 1, e.Stats().Errors, "one report per idle interval")
}

func TestHTTPStreamSends(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				_, _ = io.Copy(io.Discard, c)
				_ = c.Close()
			}()
		}
	}()

	cfg := localConfig(uint16(ln.Addr().(*net.TCPAddr).Port))
	cfg.Protocol = packet.ProtocolHTTP
	e, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, e.Start())
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, e.Stop())
	assert.Greater(t, e.Stats().PacketsSent, uint64(0))
}

func TestTCPRefusedCountsErrors(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	require.NoError(t, ln.Close())

	cfg := localConfig(port)
	cfg.Protocol = packet.ProtocolTCP
	cfg.RateLimit = 1000
	e, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, e.Start())
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, e.Stop())
	assert.Zero(t, e.Stats().PacketsSent)
	assert.Greater(t, e.Stats().Errors, uint64(0))
}

func TestValidateProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := Config{
			Target:     "127.0.0.1",
			Port:       rapid.Uint16Range(1, 65535).Draw(t, "port"),
			Threads:    rapid.IntRange(-4, maxThreads+4).Draw(t, "threads"),
			PacketSize: rapid.IntRange(-4, packet.MaxPayload+4).Draw(t, "size"),
			Protocol:   packet.ProtocolUDP,
			RateLimit:  rapid.Uint64().Draw(t, "rate"),
		}
		valid := cfg.Threads >= 1 && cfg.Threads <= maxThreads &&
			cfg.PacketSize >= 1 && cfg.PacketSize <= packet.MaxPayload
		err := cfg.Validate()
		if valid && err != nil {
			t.Fatalf("rejected valid config: %v", err)
		}
		if !valid && !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("accepted invalid config %+v", cfg)
		}
	})
}

func TestSnapshotRates(t *testing.T) {
	st := snapshot(1000, 64000, 3, 2*time.Second)
	assert.EqualValues(t, 500, st.PPS)
	assert.EqualValues(t, 32000, st.BPS)

	st = snapshot(5, 5, 0, 0)
	assert.EqualValues(t, 5000, st.PPS, "elapsed is floored at one millisecond")
}

func TestRawSenderSharesRateBudget(t *testing.T) {
	cfg := localConfig(9)
	cfg.Protocol = packet.ProtocolRaw
	cfg.Threads = 4
	cfg.RateLimit = 2000
	e, err := New(cfg, WithSelector(&countingSender{}))
	require.NoError(t, err)

	require.NoError(t, e.Start())
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, e.Stop())
	// A full bucket plus about a tenth of a second of refill.
	assert.LessOrEqual(t, e.Stats().PacketsSent, uint64(2000+400))
	assert.Greater(t, e.Stats().PacketsSent, uint64(0))
}
