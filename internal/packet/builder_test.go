package packet

import (
	"bytes"
	"fmt"
	"net/netip"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseProtocol(t *testing.T) {
	for _, p := range []Protocol{ProtocolUDP, ProtocolTCP, ProtocolHTTP, ProtocolICMP, ProtocolDNS, ProtocolRaw} {
		got, err := ParseProtocol(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	got, err := ParseProtocol(" HTTP ")
	require.NoError(t, err)
	assert.Equal(t, ProtocolHTTP, got)

	_, err = ParseProtocol("sctp")
	assert.Error(t, err)
	assert.Equal(t, "protocol(42)", Protocol(42).String())

	assert.True(t, ProtocolDNS.Datagram())
	assert.True(t, ProtocolHTTP.Stream())
	assert.False(t, ProtocolICMP.Stream())
}

func TestUDPDatagramChecksum(t *testing.T) {
	b := NewBuilder()
	src := netip.MustParseAddrPort("10.0.0.1:40000")
	dst := netip.MustParseAddrPort("10.0.0.2:53")
	payload := []byte("hello")

	raw, err := b.UDPDatagram(src, dst, payload)
	require.NoError(t, err)
	require.Len(t, raw, 8+len(payload))

	pkt := gopacket.NewPacket(raw, layers.LayerTypeUDP, gopacket.Default)
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	require.True(t, ok)
	assert.EqualValues(t, 40000, udp.SrcPort)
	assert.EqualValues(t, 53, udp.DstPort)
	assert.EqualValues(t, 8+len(payload), udp.Length)
	assert.NotZero(t, udp.Checksum)
	assert.Equal(t, payload, udp.Payload)
}

func TestUDPDatagramIPv6AndMismatch(t *testing.T) {
	b := NewBuilder()
	raw, err := b.UDPDatagram(
		netip.MustParseAddrPort("[::1]:1000"),
		netip.MustParseAddrPort("[::1]:2000"),
		[]byte{1, 2, 3},
	)
	require.NoError(t, err)
	assert.Len(t, raw, 11)

	_, err = b.UDPDatagram(
		netip.MustParseAddrPort("10.0.0.1:1"),
		netip.MustParseAddrPort("[::1]:2"),
		nil,
	)
	assert.ErrorIs(t, err, ErrFamilyMismatch)

	_, err = b.UDPDatagram(
		netip.MustParseAddrPort("10.0.0.1:1"),
		netip.MustParseAddrPort("10.0.0.2:2"),
		make([]byte, MaxPayload+1),
	)
	assert.ErrorIs(t, err, ErrPayloadTooLong)
}

func TestICMPEcho(t *testing.T) {
	raw, err := NewBuilder().ICMPEcho(7, 9, []byte("ping"))
	require.NoError(t, err)

	pkt := gopacket.NewPacket(raw, layers.LayerTypeICMPv4, gopacket.Default)
	icmp, ok := pkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	require.True(t, ok)
	assert.Equal(t, uint8(layers.ICMPv4TypeEchoRequest), icmp.TypeCode.Type())
	assert.EqualValues(t, 7, icmp.Id)
	assert.EqualValues(t, 9, icmp.Seq)
	assert.NotZero(t, icmp.Checksum)
}

func TestDNSQuery(t *testing.T) {
	raw, err := NewBuilder().DNSQuery("example.com", 4242)
	require.NoError(t, err)

	m := new(dns.Msg)
	require.NoError(t, m.Unpack(raw))
	assert.EqualValues(t, 4242, m.Id)
	assert.True(t, m.RecursionDesired)
	require.Len(t, m.Question, 1)
	assert.Equal(t, "example.com.", m.Question[0].Name)
	assert.Equal(t, dns.TypeA, m.Question[0].Qtype)
}

func TestHTTPRequests(t *testing.T) {
	reqs := NewBuilder().HTTPRequests("target.test", 3, 0)
	require.Len(t, reqs, len(userAgents))
	for i, r := range reqs {
		assert.True(t, bytes.HasPrefix(r, []byte(fmt.Sprintf("GET /?r=3-%d ", i))), string(r))
		assert.Contains(t, string(r), "Host: target.test\r\n")
		assert.True(t, bytes.HasSuffix(r, []byte("\r\n\r\n")))
		for j := range reqs[:i] {
			assert.NotEqual(t, reqs[j], r)
		}
	}
}

func TestHTTPRequestsDistinctAcrossWorkers(t *testing.T) {
	b := NewBuilder()
	a := b.HTTPRequests("target.test", 1, 12)[11]
	c := b.HTTPRequests("target.test", 11, 12)[1]
	assert.NotEqual(t, requestLine(a), requestLine(c))
}

func requestLine(r []byte) string {
	line, _, _ := bytes.Cut(r, []byte("\r\n"))
	return string(line)
}

func TestProperty_PayloadSize(t *testing.T) {
	b := NewBuilder()
	rapid.Check(t, func(rt *rapid.T) {
		size := rapid.IntRange(0, 9000).Draw(rt, "size")
		variant := rapid.IntRange(0, 1<<16).Draw(rt, "variant")
		p := b.Payload(size, variant)
		if len(p) != size {
			rt.Fatalf("payload length %d, want %d", len(p), size)
		}
		if size > 0 && p[0] != byte(variant) {
			rt.Fatalf("first byte %d, want %d", p[0], byte(variant))
		}
	})
}
