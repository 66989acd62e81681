package engine

import (
	"net"
	"net/netip"
	"time"

	"netstress/internal/transport/batch"
)

const (
	rawFlush   = 1000
	bucketWait = 100 * time.Microsecond
)

// raw sends through the backend selector when one is attached, otherwise
// through a raw IP socket carrying datagrams the builder assembles.
func (w *worker) raw() {
	payloads := make([][]byte, payloadVariants)
	for i := range payloads {
		payloads[i] = w.e.builder.Payload(w.e.cfg.PacketSize, i+w.id)
	}
	switch {
	case w.e.sender != nil:
		w.rawBackend(payloads)
	case w.e.cfg.RawSocket:
		if err := w.rawSocket(payloads); err != nil {
			w.idle("raw socket unavailable: " + err.Error())
		}
	default:
		w.idle("raw protocol needs a backend selector or raw socket access")
	}
}

func (w *worker) rawBackend(payloads [][]byte) {
	pkts := make([][]byte, batch.MaxBatch)
	for i := range pkts {
		pkts[i] = payloads[i%len(payloads)]
	}
	for w.running() {
		inner, _ := w.pace.batches(len(pkts), 1)
		if !w.e.bucket.TryAcquire(uint64(inner)) {
			time.Sleep(bucketWait)
			continue
		}
		n, err := w.e.sender.SendBatchWithFallback(pkts[:inner], w.e.dst)
		if err != nil {
			// Every backend is exhausted; back off instead of spinning.
			w.fail()
			w.sleep(idleInterval)
			continue
		}
		var sent uint64
		for _, p := range pkts[:n] {
			sent += uint64(len(p))
		}
		w.count(uint64(n), sent)
		w.flushAt(rawFlush)
	}
}

func (w *worker) rawSocket(payloads [][]byte) error {
	network := "ip4:udp"
	if !w.e.dst.Addr().Is4() {
		network = "ip6:udp"
	}
	conn, err := net.ListenPacket(network, "")
	if err != nil {
		return err
	}
	defer conn.Close()

	src, err := outboundAddr(w.e.dst)
	if err != nil {
		return err
	}
	dgrams := make([][]byte, len(payloads))
	for i, p := range payloads {
		if dgrams[i], err = w.e.builder.UDPDatagram(src, w.e.dst, p); err != nil {
			return err
		}
	}
	to := &net.IPAddr{IP: w.e.dst.Addr().AsSlice()}

	next := 0
	for w.running() {
		if d := w.pace.delay(true); d > 0 {
			time.Sleep(d)
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if n, err := conn.WriteTo(dgrams[next], to); err == nil {
			w.count(1, uint64(n))
		}
		next = (next + 1) % len(dgrams)
		w.pace.sent(1)
		w.flushAt(rawFlush)
	}
	return nil
}

// outboundAddr picks the local address the kernel would use to reach dst.
// Connecting a UDP socket sends nothing.
func outboundAddr(dst netip.AddrPort) (netip.AddrPort, error) {
	c, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(dst))
	if err != nil {
		return netip.AddrPort{}, err
	}
	defer c.Close()
	return c.LocalAddr().(*net.UDPAddr).AddrPort(), nil
}
