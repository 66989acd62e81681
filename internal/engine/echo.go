package engine

import (
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
)

const (
	echoFlush    = 100
	echoHeader   = 8
	echoSequence = 16
)

// echo sends ICMP echo requests. It needs either a raw ICMP socket or the
// unprivileged datagram variant; without either, or for an IPv6 target,
// the worker idles and reports an error each second.
func (w *worker) echo() {
	if !w.e.dst.Addr().Is4() {
		w.idle("icmp echo needs an IPv4 target")
		return
	}
	conn, to, err := listenEcho(w.e.dst.Addr().AsSlice())
	if err != nil {
		w.idle("icmp socket unavailable: " + err.Error())
		return
	}
	defer conn.Close()

	id := uint16(os.Getpid() + w.id)
	payload := w.e.builder.Payload(max(w.e.cfg.PacketSize-echoHeader, 0), w.id)
	msgs := make([][]byte, echoSequence)
	for seq := range msgs {
		m, err := w.e.builder.ICMPEcho(id, uint16(seq), payload)
		if err != nil {
			w.idle("icmp echo build failed: " + err.Error())
			return
		}
		msgs[seq] = m
	}

	next := 0
	for w.running() {
		if d := w.pace.delay(true); d > 0 {
			time.Sleep(d)
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if n, err := conn.WriteTo(msgs[next], to); err == nil {
			w.count(1, uint64(n))
		}
		next = (next + 1) % len(msgs)
		w.pace.sent(1)
		w.flushAt(echoFlush)
	}
}

// listenEcho opens a privileged ICMP socket, falling back to the
// unprivileged datagram socket some kernels allow.
func listenEcho(ip net.IP) (*icmp.PacketConn, net.Addr, error) {
	if c, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0"); err == nil {
		return c, &net.IPAddr{IP: ip}, nil
	}
	c, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return nil, nil, err
	}
	return c, &net.UDPAddr{IP: ip}, nil
}
