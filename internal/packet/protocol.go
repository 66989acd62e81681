package packet

import (
	"fmt"
	"strings"
)

// Protocol selects the worker loop and the bytes it sends.
type Protocol int

const (
	ProtocolUDP Protocol = iota
	ProtocolTCP
	ProtocolHTTP
	ProtocolICMP
	ProtocolDNS
	ProtocolRaw
)

var protocolNames = [...]string{
	ProtocolUDP:  "udp",
	ProtocolTCP:  "tcp",
	ProtocolHTTP: "http",
	ProtocolICMP: "icmp",
	ProtocolDNS:  "dns",
	ProtocolRaw:  "raw",
}

func (p Protocol) String() string {
	if p >= 0 && int(p) < len(protocolNames) {
		return protocolNames[p]
	}
	return fmt.Sprintf("protocol(%d)", int(p))
}

func ParseProtocol(s string) (Protocol, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range protocolNames {
		if n == name {
			return Protocol(i), nil
		}
	}
	return 0, fmt.Errorf("unknown protocol %q", s)
}

func (p Protocol) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Protocol) UnmarshalText(b []byte) error {
	v, err := ParseProtocol(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Datagram reports whether the protocol is sent as connected UDP.
func (p Protocol) Datagram() bool { return p == ProtocolUDP || p == ProtocolDNS }

// Stream reports whether the protocol runs over pooled TCP connections.
func (p Protocol) Stream() bool { return p == ProtocolTCP || p == ProtocolHTTP }
