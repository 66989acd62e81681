// Package safety decides whether a target may be loaded at all. Callers
// consult a Controller before constructing an engine; the engine itself
// performs no authorization.
package safety

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"netstress/internal/logger"
)

// Config lists the authorized targets and the policy toggles.
type Config struct {
	AllowLocalhost bool     `yaml:"allow_localhost"`
	AllowPrivate   bool     `yaml:"allow_private"`
	Strict         bool     `yaml:"strict"`
	MaxPPS         uint64   `yaml:"max_pps"`
	IPs            []string `yaml:"authorized_ips"`
	CIDRs          []string `yaml:"authorized_cidrs"`
	Domains        []string `yaml:"authorized_domains"`
}

// Recorder receives authorization outcomes. The audit log implements it.
type Recorder interface {
	TargetAuthorized(target, reason string)
	TargetRejected(target, reason string)
	EmergencyStop(reason string)
}

type Resolver func(ctx context.Context, host string) ([]netip.Addr, error)

// Controller is a Gate backed by explicit IP, CIDR and domain rules.
type Controller struct {
	mu       sync.RWMutex
	cfg      Config
	ips      map[netip.Addr]struct{}
	prefixes []netip.Prefix
	domains  map[string]struct{}

	stopped    bool
	stopReason string

	resolve  Resolver
	recorder Recorder
	log      zerolog.Logger
}

type Option func(*Controller)

func WithRecorder(r Recorder) Option { return func(c *Controller) { c.recorder = r } }

// WithResolver replaces DNS lookups for hostname targets.
func WithResolver(r Resolver) Option { return func(c *Controller) { c.resolve = r } }

func WithLogger(l zerolog.Logger) Option { return func(c *Controller) { c.log = l } }

// New compiles cfg into a Controller.
func New(cfg Config, opts ...Option) (*Controller, error) {
	c := &Controller{
		cfg:     cfg,
		ips:     make(map[netip.Addr]struct{}),
		domains: make(map[string]struct{}),
		resolve: func(ctx context.Context, host string) ([]netip.Addr, error) {
			return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		},
		log: logger.WithComponent("safety"),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, ip := range cfg.IPs {
		if err := c.AuthorizeIP(ip); err != nil {
			return nil, err
		}
	}
	for _, p := range cfg.CIDRs {
		if err := c.AuthorizeCIDR(p); err != nil {
			return nil, err
		}
	}
	for _, d := range cfg.Domains {
		if err := c.AuthorizeDomain(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Controller) AuthorizeIP(s string) error {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("%w: ip %q", ErrInvalidRule, s)
	}
	c.mu.Lock()
	c.ips[addr.Unmap()] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *Controller) AuthorizeCIDR(s string) error {
	p, err := netip.ParsePrefix(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("%w: cidr %q", ErrInvalidRule, s)
	}
	c.mu.Lock()
	c.prefixes = append(c.prefixes, p.Masked())
	c.mu.Unlock()
	return nil
}

// AuthorizeDomain authorizes a hostname and all of its subdomains.
func (c *Controller) AuthorizeDomain(d string) error {
	d = normalizeDomain(d)
	if d == "" || strings.ContainsAny(d, " /:") {
		return fmt.Errorf("%w: domain %q", ErrInvalidRule, d)
	}
	c.mu.Lock()
	c.domains[d] = struct{}{}
	c.mu.Unlock()
	return nil
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(d, "*.")
	return strings.TrimSuffix(d, ".")
}

// SetMaxPPS changes the rate ceiling. Zero removes it.
func (c *Controller) SetMaxPPS(pps uint64) {
	c.mu.Lock()
	c.cfg.MaxPPS = pps
	c.mu.Unlock()
}

func (c *Controller) MaxPPS() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.MaxPPS
}

// CheckTarget returns ErrUnauthorized unless target, an IP literal or a
// hostname, is covered by the rules. Hostnames not authorized by name are
// resolved, and every resolved address must be authorized.
func (c *Controller) CheckTarget(ctx context.Context, target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return c.reject(target, "empty target")
	}
	if addr, err := netip.ParseAddr(strings.Trim(target, "[]")); err == nil {
		if ok, reason := c.addrAllowed(addr); ok {
			c.accept(target, reason)
			return nil
		}
		return c.reject(target, "address not authorized")
	}

	host := normalizeDomain(target)
	if c.domainAllowed(host) {
		c.accept(target, "authorized domain")
		return nil
	}
	c.mu.RLock()
	strict := c.cfg.Strict
	c.mu.RUnlock()
	if strict {
		return c.reject(target, "domain not authorized")
	}

	addrs, err := c.resolve(ctx, host)
	if err != nil || len(addrs) == 0 {
		return c.reject(target, "unresolvable target")
	}
	for _, a := range addrs {
		if ok, _ := c.addrAllowed(a); !ok {
			return c.reject(target, fmt.Sprintf("resolved address %s not authorized", a))
		}
	}
	c.accept(target, "all resolved addresses authorized")
	return nil
}

func (c *Controller) addrAllowed(addr netip.Addr) (bool, string) {
	addr = addr.Unmap()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.ips[addr]; ok {
		return true, "authorized ip"
	}
	for _, p := range c.prefixes {
		if p.Contains(addr) {
			return true, "authorized cidr " + p.String()
		}
	}
	if c.cfg.Strict {
		return false, ""
	}
	if c.cfg.AllowLocalhost && addr.IsLoopback() {
		return true, "localhost allowed"
	}
	if c.cfg.AllowPrivate && (addr.IsPrivate() || addr.IsLinkLocalUnicast()) {
		return true, "private network allowed"
	}
	return false, ""
}

func (c *Controller) domainAllowed(host string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if host == "localhost" && c.cfg.AllowLocalhost && !c.cfg.Strict {
		return true
	}
	for {
		if _, ok := c.domains[host]; ok {
			return true
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			return false
		}
		host = host[i+1:]
	}
}

// CheckRate fails when pps exceeds the configured ceiling. A zero pps
// means unlimited and so exceeds any ceiling.
func (c *Controller) CheckRate(pps uint64) error {
	limit := c.MaxPPS()
	if limit > 0 && (pps == 0 || pps > limit) {
		return fmt.Errorf("%w: %d > %d", ErrRateExceeded, pps, limit)
	}
	return nil
}

// TriggerEmergencyStop blocks every further check until reset.
func (c *Controller) TriggerEmergencyStop(reason string) {
	c.mu.Lock()
	c.stopped = true
	c.stopReason = reason
	c.mu.Unlock()
	c.log.Warn().Str("reason", reason).Msg("emergency stop triggered")
	if c.recorder != nil {
		c.recorder.EmergencyStop(reason)
	}
}

func (c *Controller) ResetEmergencyStop() {
	c.mu.Lock()
	c.stopped = false
	c.stopReason = ""
	c.mu.Unlock()
	c.log.Info().Msg("emergency stop cleared")
}

// Stopped reports whether an emergency stop is active and why.
func (c *Controller) Stopped() (bool, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopped, c.stopReason
}

// CheckAll passes when no emergency stop is active and target is
// authorized.
func (c *Controller) CheckAll(ctx context.Context, target string) error {
	if stopped, reason := c.Stopped(); stopped {
		return fmt.Errorf("%w: %s", ErrEmergencyStop, reason)
	}
	return c.CheckTarget(ctx, target)
}

func (c *Controller) accept(target, reason string) {
	c.log.Debug().Str("target", target).Str("reason", reason).Msg("target authorized")
	if c.recorder != nil {
		c.recorder.TargetAuthorized(target, reason)
	}
}

func (c *Controller) reject(target, reason string) error {
	c.log.Warn().Str("target", target).Str("reason", reason).Msg("target rejected")
	if c.recorder != nil {
		c.recorder.TargetRejected(target, reason)
	}
	return fmt.Errorf("%w: %s: %s", ErrUnauthorized, target, reason)
}
