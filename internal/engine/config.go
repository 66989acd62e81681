package engine

import (
	"fmt"
	"time"

	"netstress/internal/packet"
)

const maxThreads = 1024

// Config describes one run. The engine keeps its own copy; later changes
// to the caller's value have no effect.
type Config struct {
	Target     string
	Port       uint16
	Threads    int
	PacketSize int
	Protocol   packet.Protocol
	// RateLimit is the global packets/sec budget shared by all workers.
	// Zero means unlimited.
	RateLimit uint64
	// Duration stops the run automatically when non-zero.
	Duration time.Duration
	// RawSocket lets the raw protocol open an ip4:udp socket when no
	// backend selector is attached.
	RawSocket bool
}

func DefaultConfig() Config {
	return Config{
		Port:       80,
		Threads:    4,
		PacketSize: 1472,
		Protocol:   packet.ProtocolUDP,
	}
}

func (c Config) Validate() error {
	if c.Threads < 1 || c.Threads > maxThreads {
		return fmt.Errorf("%w: threads must be 1-%d, got %d", ErrInvalidConfig, maxThreads, c.Threads)
	}
	if c.PacketSize < 1 || c.PacketSize > packet.MaxPayload {
		return fmt.Errorf("%w: packet size must be 1-%d, got %d", ErrInvalidConfig, packet.MaxPayload, c.PacketSize)
	}
	if c.Port == 0 && c.Protocol != packet.ProtocolICMP {
		return fmt.Errorf("%w: port is required for %s", ErrInvalidConfig, c.Protocol)
	}
	if c.Duration < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	return nil
}
