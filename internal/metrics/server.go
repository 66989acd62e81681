package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"netstress/internal/backend"
	"netstress/internal/engine"
	"netstress/internal/logger"
)

const shutdownTimeout = 5 * time.Second

// Status is the body of /status.
type Status struct {
	Timestamp string          `json:"timestamp"`
	Uptime    string          `json:"uptime"`
	GoVersion string          `json:"go_version"`
	Running   bool            `json:"running"`
	Rate      uint64          `json:"rate_limit,omitempty"`
	Stats     engine.Stats    `json:"stats"`
	Backend   *backend.Report `json:"backend,omitempty"`
}

// RateSource is implemented by *engine.Engine.
type RateSource interface {
	Rate() uint64
}

// Server serves /metrics, /status, a plain-text status page and /healthz.
type Server struct {
	addr        string
	registry    *prometheus.Registry
	stats       StatsSource
	backendSrc  BackendSource
	report      func() backend.Report
	enablePprof bool
	startTime   time.Time
	log         zerolog.Logger
}

type ServerOption func(*Server)

// WithPprof enables /debug/pprof/* endpoints.
func WithPprof(enable bool) ServerOption {
	return func(s *Server) { s.enablePprof = enable }
}

// WithReport adds a capability report to /status.
func WithReport(fn func() backend.Report) ServerOption {
	return func(s *Server) { s.report = fn }
}

// WithBackend exports the active backend as a labeled gauge.
func WithBackend(b BackendSource) ServerOption {
	return func(s *Server) { s.backendSrc = b }
}

// NewServer registers the engine collector on a private registry. The
// default registry, which carries the Go and process collectors and the
// batch sender's counters, is served alongside it.
func NewServer(addr string, stats StatsSource, opts ...ServerOption) *Server {
	s := &Server{
		addr:      addr,
		registry:  prometheus.NewRegistry(),
		stats:     stats,
		startTime: time.Now(),
		log:       logger.WithComponent("metrics"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registry.MustRegister(NewCollector(stats, s.backendSrc))
	return s
}

// Handler returns the HTTP routes without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	gatherers := prometheus.Gatherers{s.registry, prometheus.DefaultGatherer}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/debug/status/text", s.handleTextStatus)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("metrics server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) collectStatus() Status {
	st := Status{
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Truncate(time.Second).String(),
		GoVersion: runtime.Version(),
		Running:   s.stats.IsRunning(),
		Stats:     s.stats.Stats(),
	}
	if r, ok := s.stats.(RateSource); ok {
		st.Rate = r.Rate()
	}
	if s.report != nil {
		rep := s.report()
		st.Backend = &rep
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.collectStatus()); err != nil {
		s.log.Debug().Err(err).Msg("status encode failed")
	}
}

func (s *Server) handleTextStatus(w http.ResponseWriter, r *http.Request) {
	st := s.collectStatus()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	fmt.Fprintf(w, "=== netstress ===\n\n")
	fmt.Fprintf(w, "Uptime:       %s\n", st.Uptime)
	fmt.Fprintf(w, "Platform:     %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(w, "Running:      %t\n", st.Running)
	if st.Backend != nil {
		fmt.Fprintf(w, "Backend:      %s\n", st.Backend.Active)
	}
	fmt.Fprintf(w, "\n--- Traffic ---\n")
	fmt.Fprintf(w, "Packets:      %d (%d pps)\n", st.Stats.PacketsSent, st.Stats.PPS)
	fmt.Fprintf(w, "Sent:         %s (%s/s)\n", formatBytes(st.Stats.BytesSent), formatBytes(st.Stats.BPS))
	fmt.Fprintf(w, "Errors:       %d\n", st.Stats.Errors)
	fmt.Fprintf(w, "Elapsed:      %s\n", st.Stats.Duration.Truncate(time.Millisecond))
}

// FormatBytes renders b with a binary unit suffix.
func FormatBytes(b uint64) string { return formatBytes(b) }

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
