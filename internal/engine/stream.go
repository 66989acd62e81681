package engine

import (
	"bytes"
	"net"
	"time"

	"netstress/internal/packet"
)

const (
	poolSize       = 10
	connectTimeout = 500 * time.Millisecond
	ioTimeout      = 100 * time.Millisecond
	streamFlush    = 100
	streamFill     = 0xAA
)

// stream is the TCP and HTTP loop. It keeps a small pool of persistent
// connections; a connection that fails a write is closed and its slot is
// refilled with a fresh dial on a later pass.
func (w *worker) stream() {
	var reqs [][]byte
	if w.e.cfg.Protocol == packet.ProtocolHTTP {
		reqs = w.e.builder.HTTPRequests(w.e.cfg.Target, w.id, 0)
	} else {
		reqs = [][]byte{bytes.Repeat([]byte{streamFill}, w.e.cfg.PacketSize)}
	}

	pool := make([]net.Conn, poolSize)
	defer func() {
		for _, c := range pool {
			if c != nil {
				_ = c.Close()
			}
		}
	}()
	dialer := net.Dialer{Timeout: connectTimeout}
	addr := w.e.dst.String()

	slot, next := 0, 0
	for w.running() {
		if d := w.pace.delay(false); d > 0 {
			time.Sleep(d)
			continue
		}
		req := reqs[next%len(reqs)]
		next++

		sent := false
		if c := pool[slot]; c != nil {
			_ = c.SetWriteDeadline(time.Now().Add(ioTimeout))
			if _, err := c.Write(req); err == nil {
				w.count(1, uint64(len(req)))
				sent = true
			} else {
				_ = c.Close()
				pool[slot] = nil
			}
		}
		if !sent {
			w.dialAndSend(&dialer, addr, req, pool, slot)
		}

		slot = (slot + 1) % poolSize
		w.pace.sent(1)
		w.flushAt(streamFlush)
	}
}

func (w *worker) dialAndSend(d *net.Dialer, addr string, req []byte, pool []net.Conn, slot int) {
	c, err := d.Dial("tcp", addr)
	if err != nil {
		w.fail()
		return
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	_ = c.SetDeadline(time.Now().Add(ioTimeout))
	if _, err := c.Write(req); err != nil {
		w.fail()
		_ = c.Close()
		return
	}
	w.count(1, uint64(len(req)))
	pool[slot] = c
}
