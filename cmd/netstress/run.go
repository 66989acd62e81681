package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"netstress/internal/audit"
	"netstress/internal/backend"
	"netstress/internal/config"
	"netstress/internal/engine"
	"netstress/internal/logger"
	"netstress/internal/metrics"
	"netstress/internal/packet"
	"netstress/internal/safety"
)

type runOptions struct {
	configPath    string
	target        string
	port          uint16
	threads       int
	packetSize    int
	protocol      string
	rate          uint64
	duration      time.Duration
	rawSocket     bool
	backend       string
	noFallback    bool
	allow         []string
	allowLocal    bool
	allowPrivate  bool
	maxPPS        uint64
	auditPath     string
	metricsListen string
	logLevel      string
	logFormat     string
	statsInterval time.Duration
}

func newRunCmd() *cobra.Command {
	o := &runOptions{}
	def := engine.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Send traffic at an authorized target",
		Example: `  netstress run --target 127.0.0.1 --port 9000 --allow-localhost --duration 10s
  netstress run --config netstress.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd.Context(), cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", "", "YAML config file; reloaded on change")
	f.StringVarP(&o.target, "target", "t", "", "target host or IP")
	f.Uint16VarP(&o.port, "port", "p", def.Port, "target port")
	f.IntVarP(&o.threads, "threads", "n", def.Threads, "worker goroutines")
	f.IntVarP(&o.packetSize, "size", "s", def.PacketSize, "payload size in bytes")
	f.StringVarP(&o.protocol, "protocol", "P", def.Protocol.String(), "udp, tcp, http, icmp, dns or raw")
	f.Uint64VarP(&o.rate, "rate", "r", 0, "global packets/sec limit, 0 for unlimited")
	f.DurationVarP(&o.duration, "duration", "d", 0, "stop after this long, 0 runs until interrupted")
	f.BoolVar(&o.rawSocket, "raw-socket", false, "let the raw protocol open an IP socket when no backend serves it")
	f.StringVar(&o.backend, "backend", "", "preferred send backend, empty for auto-detection")
	f.BoolVar(&o.noFallback, "no-fallback", false, "fail instead of degrading to the next backend")
	f.StringSliceVar(&o.allow, "allow", nil, "authorized IPs, CIDRs or domains")
	f.BoolVar(&o.allowLocal, "allow-localhost", false, "authorize loopback targets")
	f.BoolVar(&o.allowPrivate, "allow-private", false, "authorize RFC 1918 and other private targets")
	f.Uint64Var(&o.maxPPS, "max-pps", 0, "refuse rates above this ceiling, 0 for none")
	f.StringVar(&o.auditPath, "audit-log", "", "append the audit chain to this JSON-lines file")
	f.StringVar(&o.metricsListen, "metrics", "", "serve /metrics and /status on this address")
	f.StringVar(&o.logLevel, "log-level", "info", "debug, info, warn or error")
	f.StringVar(&o.logFormat, "log-format", "console", "console or json")
	f.DurationVar(&o.statsInterval, "stats-interval", 5*time.Second, "progress log interval, 0 to disable")
	cmd.MarkFlagsMutuallyExclusive("config", "target")
	return cmd
}

// buildConfig turns flags into the same Config a YAML file would produce.
func (o *runOptions) buildConfig() (*config.Config, error) {
	cfg := &config.Config{
		Engine: config.Engine{
			Target:     o.target,
			Port:       o.port,
			Threads:    o.threads,
			PacketSize: o.packetSize,
			Protocol:   o.protocol,
			RateLimit:  o.rate,
			Duration:   o.duration,
			RawSocket:  o.rawSocket,
		},
		Backend: config.Backend{Preferred: o.backend},
		Safety: safety.Config{
			AllowLocalhost: o.allowLocal,
			AllowPrivate:   o.allowPrivate,
			MaxPPS:         o.maxPPS,
		},
		Audit:   config.Audit{Path: o.auditPath},
		Metrics: config.Metrics{Listen: o.metricsListen},
		Logging: logger.Config{Level: o.logLevel, Format: o.logFormat},
	}
	fallback := !o.noFallback
	cfg.Backend.Fallback = &fallback
	if err := addAllowed(&cfg.Safety, o.allow); err != nil {
		return nil, err
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// addAllowed sorts --allow values into IP, CIDR and domain rules.
func addAllowed(s *safety.Config, entries []string) error {
	for _, e := range entries {
		switch {
		case e == "":
			return fmt.Errorf("empty --allow entry")
		case isCIDR(e):
			s.CIDRs = append(s.CIDRs, e)
		case isIP(e):
			s.IPs = append(s.IPs, e)
		default:
			s.Domains = append(s.Domains, e)
		}
	}
	return nil
}

func isCIDR(s string) bool {
	_, err := netip.ParsePrefix(s)
	return err == nil
}

func isIP(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}

func (o *runOptions) run(ctx context.Context, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var (
		cfg      *config.Config
		reloader *config.ReloadableConfig
		err      error
	)
	if o.configPath != "" {
		reloader, err = config.NewReloadable(o.configPath)
		if err != nil {
			return err
		}
		defer reloader.Close()
		cfg = reloader.Get()
	} else if cfg, err = o.buildConfig(); err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	log := logger.WithComponent("cli")

	auditLog, err := openAudit(cfg.Audit.Path)
	if err != nil {
		return err
	}
	defer auditLog.Close()

	gate, err := safety.New(cfg.Safety, safety.WithRecorder(auditLog))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gate.CheckAll(ctx, cfg.Engine.Target); err != nil {
		return err
	}
	if err := gate.CheckRate(cfg.Engine.RateLimit); err != nil {
		return err
	}

	sel, err := newSelector(cfg)
	if err != nil {
		return err
	}
	defer sel.Close()

	ec, err := cfg.ToEngine()
	if err != nil {
		return err
	}
	opts := []engine.Option{engine.WithAudit(auditLog)}
	if ec.Protocol == packet.ProtocolRaw {
		opts = append(opts, engine.WithSelector(sel))
	}
	eng, err := engine.New(ec, opts...)
	if err != nil {
		auditLog.Error(err)
		return err
	}

	if reloader != nil {
		reloader.Watch(func(old, next *config.Config) {
			applyReload(log, gate, eng, old, next)
		})
	}

	if err := eng.Start(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		select {
		case <-eng.Done():
		case <-gctx.Done():
		}
		if err := eng.Close(); err != nil {
			auditLog.Error(err)
			return err
		}
		return nil
	})
	if cfg.Metrics.Listen != "" {
		srv := metrics.NewServer(cfg.Metrics.Listen, eng,
			metrics.WithBackend(sel),
			metrics.WithReport(func() backend.Report { return backend.NewReport(sel) }),
		)
		g.Go(func() error { return srv.Run(gctx) })
	}
	if o.statsInterval > 0 {
		g.Go(func() error {
			progress(gctx, log, eng, o.statsInterval)
			return nil
		})
	}

	err = g.Wait()
	printStats(out, eng.Stats(), sel.CurrentBackend())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openAudit(path string) (*audit.Logger, error) {
	if path == "" {
		return audit.New(), nil
	}
	return audit.Open(path)
}

func newSelector(cfg *config.Config) (*backend.Selector, error) {
	preferred, err := cfg.PreferredBackend()
	if err != nil {
		return nil, err
	}
	var sel *backend.Selector
	if preferred == backend.TypeNone {
		sel = backend.NewSelector()
	} else if sel, err = backend.NewSelectorWithPreferred(preferred); err != nil {
		return nil, err
	}
	sel.SetFallbackEnabled(cfg.FallbackEnabled())
	return sel, nil
}

// applyReload pushes the hot-reloadable fields into the running process.
// A new rate above the new ceiling is refused and the old rate kept.
func applyReload(log zerolog.Logger, gate *safety.Controller, eng *engine.Engine, old, next *config.Config) {
	if lvl, err := logger.ParseLevel(next.Logging.Level); err == nil && next.Logging.Level != old.Logging.Level {
		logger.SetLevel(lvl)
	}
	gate.SetMaxPPS(next.Safety.MaxPPS)
	if next.Engine.RateLimit == old.Engine.RateLimit {
		return
	}
	if err := gate.CheckRate(next.Engine.RateLimit); err != nil {
		log.Warn().Err(err).Msg("reloaded rate refused")
		return
	}
	eng.SetRate(next.Engine.RateLimit)
	log.Info().Uint64("rate", next.Engine.RateLimit).Msg("rate updated from config")
}

func progress(ctx context.Context, log zerolog.Logger, eng *engine.Engine, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := eng.Stats()
			log.Info().
				Uint64("packets", st.PacketsSent).
				Uint64("pps", st.PPS).
				Str("throughput", metrics.FormatBytes(st.BPS)+"/s").
				Uint64("errors", st.Errors).
				Msg("progress")
		}
	}
}

func printStats(w io.Writer, st engine.Stats, b backend.Type) {
	fmt.Fprintf(w, "backend:  %s\n", b)
	fmt.Fprintf(w, "duration: %s\n", st.Duration.Truncate(time.Millisecond))
	fmt.Fprintf(w, "packets:  %d (%d pps)\n", st.PacketsSent, st.PPS)
	fmt.Fprintf(w, "bytes:    %s (%s/s)\n", metrics.FormatBytes(st.BytesSent), metrics.FormatBytes(st.BPS))
	fmt.Fprintf(w, "errors:   %d\n", st.Errors)
}
