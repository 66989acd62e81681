// Package batch sends many UDP datagrams per system call where the
// platform allows it.
package batch

import (
	"net"
	"net/netip"
)

// MaxBatch bounds the number of messages handed to one sendmmsg call.
const MaxBatch = 64

// sendLoop writes msgs one datagram at a time. An invalid dst writes to
// the connected peer.
func sendLoop(conn *net.UDPConn, msgs [][]byte, dst netip.AddrPort) (int, error) {
	write := func(b []byte) (int, error) { return conn.Write(b) }
	if dst.IsValid() {
		write = func(b []byte) (int, error) { return conn.WriteToUDPAddrPort(b, dst) }
	}
	for i, msg := range msgs {
		if _, err := write(msg); err != nil {
			return i, err
		}
	}
	return len(msgs), nil
}
