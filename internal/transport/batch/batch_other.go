//go:build !linux

package batch

import (
	"net"
	"net/netip"
)

// SendBatch writes msgs one at a time where sendmmsg(2) does not exist.
func SendBatch(conn *net.UDPConn, msgs [][]byte, dst netip.AddrPort) (int, error) {
	return sendLoop(conn, msgs, dst)
}

func isUnsupported(error) bool { return false }
