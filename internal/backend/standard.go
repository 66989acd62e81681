package backend

import (
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
)

const socketBufferBytes = 4 * 1024 * 1024

func init() {
	Register(TypeRawSocket, func() Backend { return NewStandard() })
}

// Standard sends through unconnected UDP sockets opened with the
// portable net package. It is available everywhere and is the final
// fallback of every priority list.
type Standard struct {
	typ    Type
	sndbuf int // SO_SNDBUF requested for each socket

	mu     sync.Mutex // serializes Init and Cleanup
	v4, v6 atomic.Pointer[net.UDPConn]
}

// NewStandard returns an uninitialized generic socket backend.
func NewStandard() *Standard {
	return &Standard{typ: TypeRawSocket, sndbuf: socketBufferBytes}
}

func (s *Standard) Type() Type { return s.typ }

// Init opens one IPv4 and one IPv6 socket. Either family may be missing
// on the host; Init fails only when neither opens.
func (s *Standard) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.v4.Load() != nil || s.v6.Load() != nil {
		return nil
	}

	c4, err4 := net.ListenUDP("udp4", &net.UDPAddr{})
	c6, err6 := net.ListenUDP("udp6", &net.UDPAddr{})
	if err4 != nil && err6 != nil {
		return socketError("open udp socket", err4)
	}
	if c4 != nil {
		_ = c4.SetWriteBuffer(s.sndbuf)
		s.v4.Store(c4)
	}
	if c6 != nil {
		_ = c6.SetWriteBuffer(s.sndbuf)
		s.v6.Store(c6)
	}
	return nil
}

func (s *Standard) conn(dst netip.AddrPort) (*net.UDPConn, netip.AddrPort, error) {
	addr := dst.Addr().Unmap()
	dst = netip.AddrPortFrom(addr, dst.Port())
	var c *net.UDPConn
	if addr.Is4() {
		c = s.v4.Load()
	} else {
		c = s.v6.Load()
	}
	if c == nil {
		return nil, dst, socketError("send", net.ErrClosed)
	}
	return c, dst, nil
}

func (s *Standard) Send(data []byte, dst netip.AddrPort) (int, error) {
	c, dst, err := s.conn(dst)
	if err != nil {
		return 0, err
	}
	n, err := c.WriteToUDPAddrPort(data, dst)
	if err != nil {
		return n, socketError("sendto", err)
	}
	return n, nil
}

// SendBatch loops over Send. It only reports an error when nothing at all
// was sent.
func (s *Standard) SendBatch(packets [][]byte, dst netip.AddrPort) (int, error) {
	sent := 0
	var lastErr error
	for _, p := range packets {
		if _, err := s.Send(p, dst); err != nil {
			lastErr = err
			continue
		}
		sent++
	}
	if sent == 0 && lastErr != nil {
		return 0, lastErr
	}
	return sent, nil
}

func (s *Standard) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for _, p := range []*atomic.Pointer[net.UDPConn]{&s.v4, &s.v6} {
		if c := p.Swap(nil); c != nil {
			if err := c.Close(); err != nil && first == nil {
				first = socketError("close", err)
			}
		}
	}
	return first
}
