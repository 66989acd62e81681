// Package config loads the netstress YAML file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"netstress/internal/backend"
	"netstress/internal/engine"
	"netstress/internal/logger"
	"netstress/internal/packet"
	"netstress/internal/safety"
)

type Config struct {
	Engine  Engine        `yaml:"engine"`
	Backend Backend       `yaml:"backend"`
	Safety  safety.Config `yaml:"safety"`
	Audit   Audit         `yaml:"audit"`
	Metrics Metrics       `yaml:"metrics"`
	Logging logger.Config `yaml:"logging"`
}

type Engine struct {
	Target     string        `yaml:"target"`
	Port       uint16        `yaml:"port"`
	Threads    int           `yaml:"threads"`
	PacketSize int           `yaml:"packet_size"`
	Protocol   string        `yaml:"protocol"`
	RateLimit  uint64        `yaml:"rate_limit"` // packets/sec, 0 = unlimited
	Duration   time.Duration `yaml:"duration"`
	RawSocket  bool          `yaml:"raw_socket"`
}

type Backend struct {
	Preferred string `yaml:"preferred"` // empty = auto-detect
	Fallback  *bool  `yaml:"fallback"`  // default true
}

type Audit struct {
	Path string `yaml:"path"` // empty keeps the chain in memory only
}

type Metrics struct {
	Listen string `yaml:"listen"` // empty disables the HTTP server
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Finalize fills defaults and validates a Config built in code.
func (c *Config) Finalize() error {
	c.applyDefaults()
	return c.validate()
}

func (c *Config) applyDefaults() {
	def := engine.DefaultConfig()
	if c.Engine.Port == 0 && !strings.EqualFold(c.Engine.Protocol, "icmp") {
		c.Engine.Port = def.Port
	}
	if c.Engine.Threads == 0 {
		c.Engine.Threads = def.Threads
	}
	if c.Engine.PacketSize == 0 {
		c.Engine.PacketSize = def.PacketSize
	}
	if c.Engine.Protocol == "" {
		c.Engine.Protocol = def.Protocol.String()
	}
	if c.Backend.Fallback == nil {
		on := true
		c.Backend.Fallback = &on
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Engine.Target) == "" {
		return fmt.Errorf("engine.target is required")
	}
	ec, err := c.ToEngine()
	if err != nil {
		return err
	}
	if err := ec.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if _, err := c.PreferredBackend(); err != nil {
		return err
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Safety.MaxPPS > 0 && c.Engine.RateLimit > c.Safety.MaxPPS {
		return fmt.Errorf("engine.rate_limit %d exceeds safety.max_pps %d", c.Engine.RateLimit, c.Safety.MaxPPS)
	}
	return nil
}

// ToEngine converts the engine section into the engine's own Config.
func (c *Config) ToEngine() (engine.Config, error) {
	proto, err := packet.ParseProtocol(c.Engine.Protocol)
	if err != nil {
		return engine.Config{}, fmt.Errorf("engine.protocol: %w", err)
	}
	return engine.Config{
		Target:     c.Engine.Target,
		Port:       c.Engine.Port,
		Threads:    c.Engine.Threads,
		PacketSize: c.Engine.PacketSize,
		Protocol:   proto,
		RateLimit:  c.Engine.RateLimit,
		Duration:   c.Engine.Duration,
		RawSocket:  c.Engine.RawSocket,
	}, nil
}

// PreferredBackend returns the configured backend, or backend.TypeNone
// for auto-detection.
func (c *Config) PreferredBackend() (backend.Type, error) {
	if strings.TrimSpace(c.Backend.Preferred) == "" {
		return backend.TypeNone, nil
	}
	t, err := backend.ParseType(c.Backend.Preferred)
	if err != nil {
		return backend.TypeNone, fmt.Errorf("backend.preferred: %w", err)
	}
	return t, nil
}

func (c *Config) FallbackEnabled() bool {
	return c.Backend.Fallback == nil || *c.Backend.Fallback
}
