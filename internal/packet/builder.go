// Package packet builds the bytes the send workers transmit: UDP and ICMP
// headers with checksums, DNS queries and HTTP request variants. Source
// addresses are always the host's own; nothing here forges headers.
package packet

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/miekg/dns"
)

var (
	ErrFamilyMismatch = errors.New("source and destination address families differ")
	ErrPayloadTooLong = errors.New("payload exceeds datagram limit")
)

// MaxPayload is the largest UDP payload accepted.
const MaxPayload = 65507

// Builder is the packet construction service used by the engine.
type Builder interface {
	// UDPDatagram returns a UDP header plus payload, checksummed over
	// the src/dst pseudo-header, for writing to an ip4:udp or ip6:udp
	// socket.
	UDPDatagram(src, dst netip.AddrPort, payload []byte) ([]byte, error)
	// ICMPEcho returns an ICMPv4 echo request message.
	ICMPEcho(id, seq uint16, payload []byte) ([]byte, error)
	// DNSQuery returns a recursive A query for name in wire format.
	DNSQuery(name string, id uint16) ([]byte, error)
	// HTTPRequests returns n distinct GET requests for host.
	HTTPRequests(host string, worker, n int) [][]byte
	// Payload returns size bytes whose first bytes vary with variant.
	Payload(size, variant int) []byte
}

type builder struct {
	ipv4Pool sync.Pool
	ipv6Pool sync.Pool
	udpPool  sync.Pool
	bufPool  sync.Pool
}

// NewBuilder returns the default gopacket-backed builder.
func NewBuilder() Builder {
	return &builder{
		ipv4Pool: sync.Pool{New: func() any { return &layers.IPv4{} }},
		ipv6Pool: sync.Pool{New: func() any { return &layers.IPv6{} }},
		udpPool:  sync.Pool{New: func() any { return &layers.UDP{} }},
		bufPool:  sync.Pool{New: func() any { return gopacket.NewSerializeBuffer() }},
	}
}

var serializeOpts = gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

func (b *builder) UDPDatagram(src, dst netip.AddrPort, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, len(payload))
	}
	srcIP, dstIP := src.Addr().Unmap(), dst.Addr().Unmap()
	if srcIP.Is4() != dstIP.Is4() {
		return nil, ErrFamilyMismatch
	}

	udp := b.udpPool.Get().(*layers.UDP)
	defer b.udpPool.Put(udp)
	*udp = layers.UDP{
		SrcPort: layers.UDPPort(src.Port()),
		DstPort: layers.UDPPort(dst.Port()),
	}

	var err error
	if srcIP.Is4() {
		ip := b.ipv4Pool.Get().(*layers.IPv4)
		defer b.ipv4Pool.Put(ip)
		*ip = layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IP(srcIP.AsSlice()),
			DstIP:    net.IP(dstIP.AsSlice()),
		}
		err = udp.SetNetworkLayerForChecksum(ip)
	} else {
		ip := b.ipv6Pool.Get().(*layers.IPv6)
		defer b.ipv6Pool.Put(ip)
		*ip = layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: layers.IPProtocolUDP,
			SrcIP:      net.IP(srcIP.AsSlice()),
			DstIP:      net.IP(dstIP.AsSlice()),
		}
		err = udp.SetNetworkLayerForChecksum(ip)
	}
	if err != nil {
		return nil, err
	}
	return b.serialize(udp, gopacket.Payload(payload))
}

func (b *builder) ICMPEcho(id, seq uint16, payload []byte) ([]byte, error) {
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       id,
		Seq:      seq,
	}
	return b.serialize(icmp, gopacket.Payload(payload))
}

func (b *builder) serialize(ls ...gopacket.SerializableLayer) ([]byte, error) {
	buf := b.bufPool.Get().(gopacket.SerializeBuffer)
	defer b.bufPool.Put(buf)
	if err := buf.Clear(); err != nil {
		return nil, err
	}
	if err := gopacket.SerializeLayers(buf, serializeOpts, ls...); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

func (b *builder) DNSQuery(name string, id uint16) ([]byte, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	m.Id = id
	m.RecursionDesired = true
	return m.Pack()
}

func (b *builder) Payload(size, variant int) []byte {
	if size < 0 {
		size = 0
	}
	p := make([]byte, size)
	if size > 0 {
		p[0] = byte(variant)
	}
	if size > 1 {
		p[1] = byte(variant * 17)
	}
	return p
}
