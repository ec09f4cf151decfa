// Package config provides configuration loading and hot reload.
package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDelay coalesces bursts of file events into one reload.
const reloadDelay = 100 * time.Millisecond

// Holder provides thread-safe access to configuration with hot reload support.
type Holder struct {
	mu       sync.RWMutex
	config   *Config
	path     string
	logger   zerolog.Logger
	onChange []func(*Config)
	onError  []func(error)

	watcher  *fsnotify.Watcher
	triggers chan string
	loopOnce sync.Once
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewHolder loads path and returns a holder for it. Watching starts with
// WatchFile or WatchSignals.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	return &Holder{
		config:   cfg,
		path:     absPath,
		logger:   logger,
		triggers: make(chan string, 1),
		stopCh:   make(chan struct{}),
	}, nil
}

// Get returns the current configuration.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Reload reads the file again. On failure the current configuration is kept
// and OnError listeners are told why.
func (h *Holder) Reload() error {
	next, err := Load(h.path)

	h.mu.Lock()
	prev := h.config
	if err == nil {
		h.config = next
	}
	changed := append([]func(*Config){}, h.onChange...)
	failed := append([]func(error){}, h.onError...)
	h.mu.Unlock()

	if err != nil {
		h.logger.Error().Err(err).Str("path", h.path).Msg("config reload failed, keeping current config")
		for _, fn := range failed {
			fn(err)
		}
		return fmt.Errorf("reload config: %w", err)
	}

	live, restart := Diff(prev, next)
	if len(restart) > 0 {
		h.logger.Warn().Strs("settings", restart).Msg("changed settings take effect after a restart")
	}
	h.logger.Info().Strs("applied", live).Msg("configuration reloaded")

	for _, fn := range changed {
		fn(next)
	}
	return nil
}

// OnChange registers a callback run after every successful reload.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// OnError registers a callback run when a reload fails.
func (h *Holder) OnError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = append(h.onError, fn)
}

// WatchFile reloads when the config file is written or replaced.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// The directory is watched so that atomic saves (rename over) are seen.
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	h.watcher = watcher
	h.startLoop()

	go func() {
		name := filepath.Base(h.path)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) == name && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					h.trigger("file")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				h.logger.Error().Err(err).Msg("config watcher error")
			case <-h.stopCh:
				return
			}
		}
	}()

	h.logger.Info().Str("path", h.path).Msg("watching config file")
	return nil
}

// WatchSignals reloads on SIGHUP.
func (h *Holder) WatchSignals() {
	h.startLoop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-sigCh:
				h.trigger("sighup")
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop ends watching. It is safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) trigger(source string) {
	select {
	case h.triggers <- source:
	default:
	}
}

func (h *Holder) startLoop() {
	h.loopOnce.Do(func() { go h.reloadLoop() })
}

// reloadLoop waits for reloadDelay of quiet after the last trigger.
func (h *Holder) reloadLoop() {
	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

	var source string
	for {
		select {
		case source = <-h.triggers:
			timer.Reset(reloadDelay)
		case <-timer.C:
			h.logger.Debug().Str("source", source).Msg("config change detected")
			_ = h.Reload()
		case <-h.stopCh:
			return
		}
	}
}

// setting is one top-level configuration value compared across reloads.
type setting struct {
	name  string
	live  bool
	value func(*Config) any
}

var settings = []setting{
	{"logging.level", true, func(c *Config) any { return c.Logging.Level }},
	{"auth.api_keys", true, func(c *Config) any { return c.Auth.APIKeys }},
	{"server", false, func(c *Config) any { return c.Server }},
	{"database", false, func(c *Config) any { return c.Database }},
	{"collections", false, func(c *Config) any { return c.Collections }},
	{"query", false, func(c *Config) any { return c.Query }},
	{"auth.jwt_secret", false, func(c *Config) any { return c.Auth.JWTSecret }},
	{"auth.issuer", false, func(c *Config) any { return c.Auth.Issuer }},
	{"auth.token_ttl", false, func(c *Config) any { return c.Auth.TokenTTL }},
	{"auth.api_key_header", false, func(c *Config) any { return c.Auth.APIKeyHeader }},
	{"logging.format", false, func(c *Config) any { return c.Logging.Format }},
	{"metrics", false, func(c *Config) any { return c.Metrics }},
	{"activity", false, func(c *Config) any { return c.Activity }},
}

// Diff names the settings that differ between prev and next, split into
// those applied on reload and those that need a restart.
func Diff(prev, next *Config) (live, restart []string) {
	for _, s := range settings {
		if reflect.DeepEqual(s.value(prev), s.value(next)) {
			continue
		}
		if s.live {
			live = append(live, s.name)
		} else {
			restart = append(restart, s.name)
		}
	}
	return live, restart
}
