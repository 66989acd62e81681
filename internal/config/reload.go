package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"netstress/internal/logger"
)

var ErrReloadInProgress = errors.New("reload already in progress")

// ReloadableConfig watches the config file and swaps in new versions.
// Only the rate limit, the log level and the safety pps ceiling may change
// while running; any other difference is rejected and the old config is
// kept.
type ReloadableConfig struct {
	path    string
	current atomic.Pointer[Config]
	busy    atomic.Bool

	hooksMu sync.RWMutex
	hooks   []func(old, new *Config)

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	closed sync.Once
	log    zerolog.Logger
}

// NewReloadable loads path and starts watching it. The directory is
// watched rather than the file so that editors which replace the file on
// save are still seen.
func NewReloadable(path string) (*ReloadableConfig, error) {
	first, err := Load(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	clean := filepath.Clean(path)
	if err := fsw.Add(filepath.Dir(clean)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(clean), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &ReloadableConfig{
		path:   clean,
		fsw:    fsw,
		cancel: cancel,
		log:    logger.WithComponent("config"),
	}
	r.current.Store(first)
	go r.follow(ctx)
	return r, nil
}

func (r *ReloadableConfig) Get() *Config { return r.current.Load() }

// Watch registers fn to run after each accepted reload.
func (r *ReloadableConfig) Watch(fn func(old, new *Config)) {
	r.hooksMu.Lock()
	r.hooks = append(r.hooks, fn)
	r.hooksMu.Unlock()
}

// Reload reads the file again and applies it if the transition is allowed.
func (r *ReloadableConfig) Reload() error {
	if !r.busy.CompareAndSwap(false, true) {
		return ErrReloadInProgress
	}
	defer r.busy.Store(false)

	next, err := Load(r.path)
	if err != nil {
		return err
	}
	prev := r.Get()
	if err := validateTransition(prev, next); err != nil {
		return fmt.Errorf("reload refused: %w", err)
	}
	r.current.Store(next)

	r.hooksMu.RLock()
	hooks := slices.Clone(r.hooks)
	r.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(prev, next)
	}
	r.log.Info().
		Uint64("rate_limit", next.Engine.RateLimit).
		Str("log_level", next.Logging.Level).
		Uint64("max_pps", next.Safety.MaxPPS).
		Msg("config reloaded")
	return nil
}

// validateTransition rejects every change outside the hot-reloadable
// fields.
func validateTransition(old, new *Config) error {
	if old.Engine.Target != new.Engine.Target {
		return fmt.Errorf("target change requires restart: %s -> %s", old.Engine.Target, new.Engine.Target)
	}
	masked := *new
	masked.Engine.RateLimit = old.Engine.RateLimit
	masked.Logging.Level = old.Logging.Level
	masked.Safety.MaxPPS = old.Safety.MaxPPS
	if !reflect.DeepEqual(*old, masked) {
		return fmt.Errorf("only engine.rate_limit, logging.level and safety.max_pps can change without restart")
	}
	return nil
}

// follow reloads whenever the watched file is written or recreated.
func (r *ReloadableConfig) follow(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != r.path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := r.Reload(); err != nil {
				r.log.Warn().Err(err).Msg("config reload failed")
			}
		case err, ok := <-r.fsw.Errors:
			if !ok {
				return
			}
			r.log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

// Close stops watching. It is safe to call more than once.
func (r *ReloadableConfig) Close() error {
	var err error
	r.closed.Do(func() {
		r.cancel()
		err = r.fsw.Close()
	})
	return err
}
