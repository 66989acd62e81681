//go:build linux

package backend

import (
	"net/netip"

	"netstress/internal/transport/batch"
)

func init() {
	Register(TypeSendmmsg, func() Backend { return NewSendmmsg() })
}

// Sendmmsg coalesces batches into sendmmsg(2) calls. Single sends go
// through the same sockets as Standard.
type Sendmmsg struct {
	*Standard
	mgr *batch.Manager
}

func NewSendmmsg() *Sendmmsg {
	std := NewStandard()
	std.typ = TypeSendmmsg
	return &Sendmmsg{
		Standard: std,
		mgr:      batch.NewManager(batch.Config{Enabled: true, BatchSize: batch.MaxBatch}),
	}
}

func (s *Sendmmsg) SendBatch(packets [][]byte, dst netip.AddrPort) (int, error) {
	if len(packets) == 0 {
		return 0, nil
	}
	c, dst, err := s.conn(dst)
	if err != nil {
		return 0, err
	}
	n, err := s.mgr.Send(c, packets, dst)
	if err != nil && n == 0 {
		return 0, socketError("sendmmsg", err)
	}
	return n, nil
}
