package backend

import (
	"fmt"
	"strings"
)

// Type identifies a transmission path.
type Type int

const (
	TypeNone Type = iota
	// TypeRawSocket is the generic socket path. It is present on every
	// platform and is the last resort of every priority list.
	TypeRawSocket
	// TypeSendmmsg batches datagrams into one sendmmsg(2) call.
	TypeSendmmsg
	// TypeIOUring is completion-queue I/O through io_uring.
	TypeIOUring
	// TypeAFXDP is the AF_XDP kernel-bypass ring.
	TypeAFXDP
	// TypeDPDK is zero-copy kernel bypass through DPDK.
	TypeDPDK
	// TypeIOCP is a Windows I/O completion port.
	TypeIOCP
	// TypeRegisteredIO is Windows Registered I/O (registered buffers).
	TypeRegisteredIO
	// TypeKqueue is BSD/macOS event notification.
	TypeKqueue
)

var typeNames = map[Type]string{
	TypeNone:         "none",
	TypeRawSocket:    "raw_socket",
	TypeSendmmsg:     "sendmmsg",
	TypeIOUring:      "io_uring",
	TypeAFXDP:        "af_xdp",
	TypeDPDK:         "dpdk",
	TypeIOCP:         "iocp",
	TypeRegisteredIO: "registered_io",
	TypeKqueue:       "kqueue",
}

// AllTypes lists every known type except TypeNone.
func AllTypes() []Type {
	return []Type{
		TypeRawSocket, TypeSendmmsg, TypeIOUring, TypeAFXDP,
		TypeDPDK, TypeIOCP, TypeRegisteredIO, TypeKqueue,
	}
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// ParseType accepts the names produced by String, case-insensitively.
// Dashes are treated as underscores so "af-xdp" works too.
func ParseType(s string) (Type, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for t, n := range typeNames {
		if n == norm {
			return t, nil
		}
	}
	return TypeNone, fmt.Errorf("unknown backend type %q", s)
}

// MarshalText lets Type appear as a string in JSON and YAML.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
