//go:build linux

package batch

import (
	"errors"
	"net"
	"net/netip"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mmsghdr is struct mmsghdr. The compiler pads it to the kernel layout on
// both 32 and 64 bit targets.
type mmsghdr struct {
	hdr  unix.Msghdr
	sent uint32
}

// vector is the scratch space for one SendBatch call: an iovec and a
// header per slot plus room for a destination of either family.
type vector struct {
	iov [MaxBatch]unix.Iovec
	hdr [MaxBatch]mmsghdr
	sa4 unix.RawSockaddrInet4
	sa6 unix.RawSockaddrInet6
}

var vectors = sync.Pool{New: func() any { return new(vector) }}

// address encodes dst for msghdr. An invalid dst yields no name, which
// the kernel accepts on connected sockets.
func (v *vector) address(dst netip.AddrPort) (*byte, uint32) {
	if !dst.IsValid() {
		return nil, 0
	}
	ip := dst.Addr()
	if ip.Is4() || ip.Is4In6() {
		v.sa4 = unix.RawSockaddrInet4{Family: unix.AF_INET, Addr: ip.Unmap().As4()}
		networkPort(&v.sa4.Port, dst.Port())
		return (*byte)(unsafe.Pointer(&v.sa4)), unix.SizeofSockaddrInet4
	}
	v.sa6 = unix.RawSockaddrInet6{Family: unix.AF_INET6, Addr: ip.As16(), Scope_id: scopeID(ip.Zone())}
	networkPort(&v.sa6.Port, dst.Port())
	return (*byte)(unsafe.Pointer(&v.sa6)), unix.SizeofSockaddrInet6
}

// load points one header at each message and returns the used headers.
func (v *vector) load(msgs [][]byte, name *byte, namelen uint32) []mmsghdr {
	for i, msg := range msgs {
		v.iov[i] = unix.Iovec{}
		if len(msg) > 0 {
			v.iov[i].Base = unsafe.SliceData(msg)
			v.iov[i].SetLen(len(msg))
		}
		h := &v.hdr[i]
		*h = mmsghdr{hdr: unix.Msghdr{Name: name, Namelen: namelen, Iov: &v.iov[i]}}
		h.hdr.SetIovlen(1)
	}
	return v.hdr[:len(msgs)]
}

// networkPort stores port big-endian whatever the host byte order.
func networkPort(field *uint16, port uint16) {
	b := (*[2]byte)(unsafe.Pointer(field))
	b[0], b[1] = byte(port>>8), byte(port)
}

func scopeID(zone string) uint32 {
	if zone == "" {
		return 0
	}
	ifi, err := net.InterfaceByName(zone)
	if err != nil {
		return 0
	}
	return uint32(ifi.Index)
}

// isUnsupported reports errors meaning sendmmsg itself is unusable.
func isUnsupported(err error) bool {
	return errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EINVAL)
}

// SendBatch transmits msgs through conn with sendmmsg(2), MaxBatch
// messages per call. An invalid dst sends to the connected peer. A full
// socket buffer parks the goroutine in the runtime poller, so conn's write
// deadline applies. It returns early without error if the kernel accepts
// nothing.
func SendBatch(conn *net.UDPConn, msgs [][]byte, dst netip.AddrPort) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	rc, err := conn.SyscallConn()
	if err != nil {
		return sendLoop(conn, msgs, dst)
	}

	v := vectors.Get().(*vector)
	defer vectors.Put(v)
	name, namelen := v.address(dst)

	done := 0
	for done < len(msgs) {
		hdrs := v.load(msgs[done:min(done+MaxBatch, len(msgs))], name, namelen)
		n, err := writeHeaders(rc, hdrs)
		done += n
		if err != nil {
			return done, err
		}
		if n < len(hdrs) {
			break
		}
	}
	return done, nil
}

// writeHeaders calls sendmmsg until every header is consumed, the kernel
// accepts nothing, or it fails with something other than EAGAIN.
func writeHeaders(rc syscall.RawConn, hdrs []mmsghdr) (int, error) {
	var (
		sent  int
		errno error
	)
	err := rc.Write(func(fd uintptr) bool {
		for sent < len(hdrs) {
			n, _, e := unix.Syscall6(unix.SYS_SENDMMSG, fd,
				uintptr(unsafe.Pointer(&hdrs[sent])), uintptr(len(hdrs)-sent), 0, 0, 0)
			switch {
			case e == unix.EAGAIN:
				return false
			case e == unix.EINTR:
				continue
			case e != 0:
				errno = e
				return true
			case n == 0:
				return true
			}
			sent += int(n)
		}
		return true
	})
	if errno != nil {
		return sent, errno
	}
	return sent, err
}
