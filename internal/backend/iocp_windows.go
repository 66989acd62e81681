//go:build windows

package backend

// Overlapped sends complete asynchronously, so the IOCP variant asks for
// a deeper send buffer to keep more writes in flight per socket.
const iocpBufferBytes = 16 * 1024 * 1024

func init() {
	Register(TypeIOCP, func() Backend { return NewIOCP() })
}

// NewIOCP returns a backend whose sockets are driven by the Go runtime's
// network poller, which on Windows is an I/O completion port. It shares
// Standard's socket handling and differs in its send buffer depth.
func NewIOCP() *Standard {
	s := NewStandard()
	s.typ = TypeIOCP
	s.sndbuf = iocpBufferBytes
	return s
}
