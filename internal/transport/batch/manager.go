package batch

import (
	"net"
	"net/netip"
	"slices"
	"sync/atomic"
)

// Config configures batch send behavior.
type Config struct {
	Enabled   bool
	BatchSize int // 1 to MaxBatch
}

func DefaultConfig() Config {
	return Config{Enabled: true, BatchSize: 32}
}

// Manager chunks sends into sendmmsg calls. Once the kernel rejects the
// call as unsupported the manager writes one datagram at a time for the
// rest of its life.
type Manager struct {
	size    int
	enabled bool
	reason  atomic.Pointer[string] // set when sendmmsg was rejected
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		size:    min(max(cfg.BatchSize, 1), MaxBatch),
		enabled: cfg.Enabled,
	}
}

// Send transmits msgs to dst, or to the connected peer when dst is the
// zero AddrPort, and returns how many were handed to the kernel.
func (m *Manager) Send(conn *net.UDPConn, msgs [][]byte, dst netip.AddrPort) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	if !m.enabled || !m.SyscallAvailable() {
		return m.loop(conn, msgs, dst)
	}

	sent := 0
	for chunk := range slices.Chunk(msgs, m.size) {
		syscalls.Inc()
		n, err := SendBatch(conn, chunk, dst)
		viaSendmmsg.Add(float64(n))
		sent += n
		switch {
		case err != nil && isUnsupported(err):
			m.degrade(err)
			rest, lerr := m.loop(conn, msgs[sent:], dst)
			return sent + rest, lerr
		case err != nil:
			return sent, err
		case n < len(chunk):
			return sent, nil
		}
	}
	return sent, nil
}

func (m *Manager) loop(conn *net.UDPConn, msgs [][]byte, dst netip.AddrPort) (int, error) {
	n, err := sendLoop(conn, msgs, dst)
	viaLoop.Add(float64(n))
	return n, err
}

func (m *Manager) degrade(err error) {
	reason := err.Error()
	if m.reason.CompareAndSwap(nil, &reason) {
		degraded.Inc()
	}
}

func (m *Manager) SyscallAvailable() bool { return m.reason.Load() == nil }

// FallbackReason returns the kernel error that disabled sendmmsg, if any.
func (m *Manager) FallbackReason() string {
	if r := m.reason.Load(); r != nil {
		return *r
	}
	return ""
}

func (m *Manager) BatchSize() int { return m.size }
