package engine

import (
	"net"
	"net/netip"
	"time"

	"netstress/internal/packet"
	"netstress/internal/transport/batch"
)

const (
	socketsPerWorker = 4
	payloadVariants  = 16
	innerBatch       = 1000
	outerBatch       = 50
	datagramFlush    = 5000
	sendBufferBytes  = 32 << 20
	writeTimeout     = 100 * time.Millisecond

	dnsQueryName = "example.com"
)

// datagram is the UDP and DNS loop. Each worker connects several sockets
// to the destination and rotates through them and through a set of
// payload variants. Send errors in the loop are not counted; only socket
// setup failures are.
func (w *worker) datagram() {
	raddr := net.UDPAddrFromAddrPort(w.e.dst)
	conns := make([]*net.UDPConn, 0, socketsPerWorker)
	for i := 0; i < socketsPerWorker; i++ {
		c, err := net.DialUDP("udp", nil, raddr)
		if err != nil {
			w.fail()
			continue
		}
		_ = c.SetWriteBuffer(sendBufferBytes)
		conns = append(conns, c)
	}
	if len(conns) == 0 {
		w.e.log.Debug().Int("worker", w.id).Msg("no udp sockets could be opened")
		return
	}
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()

	payloads, err := w.datagramPayloads()
	if err != nil {
		w.fail()
		return
	}
	// One message list per variant; every entry aliases the same payload.
	msgs := make([][][]byte, len(payloads))
	for i, p := range payloads {
		msgs[i] = make([][]byte, innerBatch)
		for j := range msgs[i] {
			msgs[i][j] = p
		}
	}
	mgr := batch.NewManager(batch.Config{Enabled: true, BatchSize: batch.MaxBatch})

	sock, variant := 0, 0
	for w.running() {
		if d := w.pace.delay(true); d > 0 {
			time.Sleep(d)
			continue
		}
		inner, outer := w.pace.batches(innerBatch, outerBatch)
		for i := 0; i < outer && w.running(); i++ {
			c := conns[sock]
			_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
			sent, _ := mgr.Send(c, msgs[variant][:inner], netip.AddrPort{})
			w.count(uint64(sent), uint64(sent*len(payloads[variant])))
			w.pace.sent(uint64(sent))

			sock = (sock + 1) % len(conns)
			variant = (variant + 1) % len(payloads)
		}
		w.flushAt(datagramFlush)
	}
}

func (w *worker) datagramPayloads() ([][]byte, error) {
	out := make([][]byte, payloadVariants)
	for i := range out {
		if w.e.cfg.Protocol == packet.ProtocolDNS {
			q, err := w.e.builder.DNSQuery(dnsQueryName, uint16(w.id*payloadVariants+i))
			if err != nil {
				return nil, err
			}
			out[i] = q
			continue
		}
		out[i] = w.e.builder.Payload(w.e.cfg.PacketSize, i+w.id)
	}
	return out, nil
}
