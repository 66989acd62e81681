//go:build darwin

package backend

import (
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

const kqueueWaitNanos = 10 * 1000 * 1000

func init() {
	Register(TypeKqueue, func() Backend { return NewKqueue() })
}

// Kqueue sends on non-blocking sockets and, when the send buffer is full,
// waits for writability with kevent instead of spinning.
type Kqueue struct {
	mu     sync.Mutex
	kq     int
	fd4    atomic.Int64
	fd6    atomic.Int64
	inited bool
}

func NewKqueue() *Kqueue {
	k := &Kqueue{kq: -1}
	k.fd4.Store(-1)
	k.fd6.Store(-1)
	return k
}

func (k *Kqueue) Type() Type { return TypeKqueue }

func (k *Kqueue) Init() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.inited {
		return nil
	}
	kq, err := unix.Kqueue()
	if err != nil {
		return socketError("kqueue", err)
	}
	k.kq = kq

	fd4, err4 := openNonblockUDP(unix.AF_INET)
	fd6, err6 := openNonblockUDP(unix.AF_INET6)
	if err4 != nil && err6 != nil {
		_ = unix.Close(kq)
		k.kq = -1
		return socketError("open udp socket", err4)
	}
	if err4 == nil {
		k.fd4.Store(int64(fd4))
	}
	if err6 == nil {
		k.fd6.Store(int64(fd6))
	}
	k.inited = true
	return nil
}

func openNonblockUDP(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, socketBufferBytes)
	return fd, nil
}

func (k *Kqueue) target(dst netip.AddrPort) (int, unix.Sockaddr, error) {
	addr := dst.Addr().Unmap()
	if addr.Is4() {
		fd := int(k.fd4.Load())
		if fd < 0 {
			return -1, nil, socketError("send", unix.EBADF)
		}
		return fd, &unix.SockaddrInet4{Port: int(dst.Port()), Addr: addr.As4()}, nil
	}
	fd := int(k.fd6.Load())
	if fd < 0 {
		return -1, nil, socketError("send", unix.EBADF)
	}
	return fd, &unix.SockaddrInet6{Port: int(dst.Port()), Addr: addr.As16()}, nil
}

func (k *Kqueue) Send(data []byte, dst netip.AddrPort) (int, error) {
	fd, sa, err := k.target(dst)
	if err != nil {
		return 0, err
	}
	err = unix.Sendto(fd, data, 0, sa)
	if errors.Is(err, unix.EAGAIN) {
		if werr := k.waitWritable(fd); werr != nil {
			return 0, socketError("kevent", werr)
		}
		err = unix.Sendto(fd, data, 0, sa)
	}
	if err != nil {
		return 0, socketError("sendto", err)
	}
	return len(data), nil
}

func (k *Kqueue) waitWritable(fd int) error {
	var change unix.Kevent_t
	unix.SetKevent(&change, fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ONESHOT)
	events := make([]unix.Kevent_t, 1)
	timeout := unix.NsecToTimespec(kqueueWaitNanos)
	_, err := unix.Kevent(k.kq, []unix.Kevent_t{change}, events, &timeout)
	if errors.Is(err, unix.EINTR) {
		return nil
	}
	return err
}

func (k *Kqueue) SendBatch(packets [][]byte, dst netip.AddrPort) (int, error) {
	sent := 0
	var lastErr error
	for _, p := range packets {
		if _, err := k.Send(p, dst); err != nil {
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

func (k *Kqueue) Cleanup() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, p := range []*atomic.Int64{&k.fd4, &k.fd6} {
		if fd := p.Swap(-1); fd >= 0 {
			_ = unix.Close(int(fd))
		}
	}
	if k.kq >= 0 {
		_ = unix.Close(k.kq)
		k.kq = -1
	}
	k.inited = false
	return nil
}
