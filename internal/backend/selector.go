package backend

import (
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"netstress/internal/logger"
	"netstress/internal/ratelimit"
)

// Send failures can repeat in a hot loop; warnings about them are capped.
const sendWarnsPerSecond = 10

// Selector holds the active Backend and replaces it with the next usable
// one in priority order when sends fail.
type Selector struct {
	mu        sync.RWMutex
	active    Backend
	preferred Type // TypeNone when unset

	caps     Capabilities
	detected bool
	priority []Type
	registry *Registry
	fallback atomic.Bool
	log      zerolog.Logger
	warns    *ratelimit.SlidingWindow
}

// SelectorOption customizes NewSelector.
type SelectorOption func(*Selector)

// WithCapabilities skips detection and uses caps as the host snapshot.
func WithCapabilities(caps Capabilities) SelectorOption {
	return func(s *Selector) { s.caps, s.detected = caps, true }
}

// WithPriority overrides the platform priority list.
func WithPriority(priority []Type) SelectorOption {
	return func(s *Selector) { s.priority = append([]Type(nil), priority...) }
}

// WithRegistry uses r instead of the default registry of compiled-in
// variants.
func WithRegistry(r *Registry) SelectorOption {
	return func(s *Selector) { s.registry = r }
}

func WithLogger(l zerolog.Logger) SelectorOption {
	return func(s *Selector) { s.log = l }
}

// NewSelector detects host capabilities and installs the best available
// backend. If the best one fails to initialize, later entries are tried;
// the generic socket backend is the last resort and is installed even if
// its own Init fails, so the selector is always usable for queries.
func NewSelector(opts ...SelectorOption) *Selector {
	s := &Selector{
		priority: PlatformPriority(),
		registry: DefaultRegistry(),
		log:      logger.WithComponent("backend"),
		warns:    ratelimit.NewSlidingWindow(sendWarnsPerSecond, 1000),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !s.detected {
		s.caps = Detect()
	}
	s.fallback.Store(true)

	for _, t := range s.AvailableBackends() {
		b, err := s.registry.New(t)
		if err != nil {
			continue
		}
		if err := b.Init(); err != nil {
			s.log.Warn().Err(err).Str("backend", t.String()).Msg("backend init failed, trying next")
			_ = b.Cleanup()
			continue
		}
		s.active = b
		break
	}
	if s.active == nil {
		std := NewStandard()
		if err := std.Init(); err != nil {
			s.log.Error().Err(err).Msg("generic socket backend init failed")
		}
		s.active = std
	}
	s.log.Info().Str("backend", s.active.Type().String()).Msg("auto-detected backend")
	return s
}

// NewSelectorWithPreferred builds a selector and immediately switches to
// preferred.
func NewSelectorWithPreferred(preferred Type, opts ...SelectorOption) (*Selector, error) {
	s := NewSelector(opts...)
	if err := s.SetPreferred(preferred); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// BestAvailable returns the first available type in priority order.
func (s *Selector) BestAvailable() Type {
	if avail := s.AvailableBackends(); len(avail) > 0 {
		return avail[0]
	}
	return TypeRawSocket
}

// IsBackendAvailable reports whether t was detected on the host and has
// an implementation compiled in.
func (s *Selector) IsBackendAvailable(t Type) bool {
	if t == TypeNone {
		return false
	}
	return s.caps.Has(t) && s.registry.Has(t)
}

// AvailableBackends returns the available types in priority order.
func (s *Selector) AvailableBackends() []Type {
	out := make([]Type, 0, len(s.priority))
	for _, t := range s.priority {
		if s.IsBackendAvailable(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s *Selector) Capabilities() Capabilities { return s.caps }

// Priority returns a copy of the priority list.
func (s *Selector) Priority() []Type { return append([]Type(nil), s.priority...) }

func (s *Selector) CurrentBackend() Type {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.Type()
}

// Preferred returns the user's explicit choice, or TypeNone.
func (s *Selector) Preferred() Type {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preferred
}

// SetPreferred records t as the user's choice and switches to it. The
// active backend is left unchanged when t is unavailable or fails to
// initialize.
func (s *Selector) SetPreferred(t Type) error {
	if !s.IsBackendAvailable(t) {
		return notAvailable("backend %s is not available on this system", t)
	}
	if err := s.switchTo(t); err != nil {
		return err
	}
	s.mu.Lock()
	s.preferred = t
	s.mu.Unlock()
	return nil
}

func (s *Selector) SetFallbackEnabled(enabled bool) { s.fallback.Store(enabled) }

func (s *Selector) FallbackEnabled() bool { return s.fallback.Load() }

// switchTo builds and initializes a backend of type t outside the lock,
// then swaps it in.
func (s *Selector) switchTo(t Type) error {
	b, err := s.registry.New(t)
	if err != nil {
		return err
	}
	if err := b.Init(); err != nil {
		_ = b.Cleanup()
		return err
	}
	s.install(b)
	s.log.Info().Str("backend", t.String()).Msg("switched backend")
	return nil
}

// install replaces the active backend. The outgoing one is cleaned up
// under the write lock, so no sender still holds it.
func (s *Selector) install(b Backend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.active
	s.active = b
	if old != nil {
		if err := old.Cleanup(); err != nil {
			s.log.Warn().Err(err).Str("backend", old.Type().String()).Msg("cleanup of replaced backend failed")
		}
	}
}

// SendWithFallback sends on the active backend. On failure, and when
// fallback is enabled, it switches to the next usable backend after the
// current one in priority order and retries there, degrading further
// until a send succeeds or the list is exhausted.
func (s *Selector) SendWithFallback(data []byte, dst netip.AddrPort) (int, error) {
	return s.withFallback("send", func(b Backend) (int, error) {
		return b.Send(data, dst)
	})
}

// SendBatchWithFallback is SendWithFallback for batches.
func (s *Selector) SendBatchWithFallback(packets [][]byte, dst netip.AddrPort) (int, error) {
	return s.withFallback("batch send", func(b Backend) (int, error) {
		return b.SendBatch(packets, dst)
	})
}

func (s *Selector) withFallback(op string, send func(Backend) (int, error)) (int, error) {
	// Every successful fallback moves strictly later in the priority list,
	// so the loop ends after at most len(priority)+1 rounds.
	for attempt := 0; attempt <= len(s.priority)+1; attempt++ {
		s.mu.RLock()
		current := s.active.Type()
		n, err := send(s.active)
		s.mu.RUnlock()
		if err == nil {
			return n, nil
		}
		if !s.fallback.Load() {
			return n, err
		}
		if s.warns.TryRecord() {
			s.log.Warn().Err(err).Str("backend", current.String()).Msgf("%s failed, attempting fallback", op)
		}
		if ferr := s.tryFallback(current); ferr != nil {
			return 0, &Error{Kind: ErrNotAvailable, Msg: "no fallback backend available", Err: err}
		}
	}
	return 0, notAvailable("fallback chain exhausted")
}

// tryFallback installs the first backend after from in priority order
// that initializes. Wrapping around to earlier entries is not attempted.
func (s *Selector) tryFallback(from Type) error {
	start := 0
	for i, t := range s.priority {
		if t == from {
			start = i + 1
			break
		}
	}
	for _, t := range s.priority[start:] {
		if !s.IsBackendAvailable(t) {
			continue
		}
		s.log.Debug().Str("backend", t.String()).Msg("attempting fallback")
		b, err := s.registry.New(t)
		if err != nil {
			continue
		}
		if err := b.Init(); err != nil {
			_ = b.Cleanup()
			s.log.Debug().Err(err).Str("backend", t.String()).Msg("fallback candidate init failed")
			continue
		}

		s.mu.Lock()
		if s.active.Type() != from {
			// Another sender already moved on; keep its choice.
			s.mu.Unlock()
			_ = b.Cleanup()
			return nil
		}
		old := s.active
		s.active = b
		if err := old.Cleanup(); err != nil {
			s.log.Warn().Err(err).Str("backend", old.Type().String()).Msg("cleanup of replaced backend failed")
		}
		s.mu.Unlock()
		s.log.Info().Str("from", from.String()).Str("to", t.String()).Msg("fallback successful")
		return nil
	}
	return notAvailable("no fallback backend available after %s", from)
}

// Do runs fn with the active backend held for reading. The backend must
// not be retained after fn returns.
func (s *Selector) Do(fn func(Backend) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.active)
}

// Close releases the active backend's resources.
func (s *Selector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active.Cleanup()
}
