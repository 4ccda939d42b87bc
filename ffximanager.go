// Package ffximanager is the embedding facade: process monitoring, ordered
// entities, hotkey resolution, and window activation behind one Manager.
package ffximanager

import (
	"context"
	"time"

	"github.com/atperry7/ffxi-manager-sub000/internal/activate"
	"github.com/atperry7/ffxi-manager-sub000/internal/config"
	"github.com/atperry7/ffxi-manager-sub000/internal/input"
	"github.com/atperry7/ffxi-manager-sub000/internal/logger"
	"github.com/atperry7/ffxi-manager-sub000/internal/manager"
	"github.com/atperry7/ffxi-manager-sub000/internal/monitor"
	"github.com/atperry7/ffxi-manager-sub000/internal/order"
	"github.com/atperry7/ffxi-manager-sub000/internal/server"
	"github.com/atperry7/ffxi-manager-sub000/internal/store"
	"github.com/atperry7/ffxi-manager-sub000/internal/winsys"
)

// Re-export core types for external consumers. These are aliases so
// conversions are zero-cost.

type Config = config.FileConfig

type Profile = monitor.Profile

type TrackedProcess = monitor.TrackedProcess

type Entity = order.Entity

type Result = activate.Result

type Record = store.Record

type Status = server.Status

type Options = manager.Options

type LogConfig = logger.Config

// Manager is a thin facade over internal/manager.Manager. It provides a
// stable public API for embedding.
type Manager struct{ inner *manager.Manager }

func New(opts Options) (*Manager, error) {
	inner, err := manager.New(opts)
	if err != nil {
		return nil, err
	}
	return &Manager{inner: inner}, nil
}

func (m *Manager) Start(ctx context.Context) error { return m.inner.Start(ctx) }
func (m *Manager) Stop()                           { m.inner.Stop() }
func (m *Manager) Reload(fc *Config) error         { return m.inner.Reload(fc) }

func (m *Manager) Trigger(ctx context.Context, bindingID int, source string) Result {
	return m.inner.Trigger(ctx, bindingID, source)
}

func (m *Manager) Status() Status                      { return m.inner.Status() }
func (m *Manager) Processes() []TrackedProcess         { return m.inner.Processes() }
func (m *Manager) Ordered() []Entity                   { return m.inner.Ordered() }
func (m *Manager) MoveToSlot(pid int32, slot int) bool { return m.inner.MoveToSlot(pid, slot) }
func (m *Manager) Recent(ctx context.Context, limit int) ([]Record, error) {
	return m.inner.Recent(ctx, limit)
}

// LoadConfig parses and validates a TOML config file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// WatchConfig reloads on file changes; see config.Watch.
func WatchConfig(path string, onChange func(*Config)) (stop func(), err error) {
	return config.Watch(path, onChange)
}

// OpenHistory opens the activation history store for the given DSN.
func OpenHistory(dsn string) (store.Store, error) { return store.Open(dsn) }

// SetupLogging installs the default structured logger and returns a flush
// function for the file sink.
func SetupLogging(cfg LogConfig) func() error { return logger.SetDefault(cfg) }

// NativeOptions assembles the real window-system collaborators for cfg: the
// X11 connection serves window hooks, focus, and chord grabs; process
// lifecycle comes from a polling source over the OS process table. The
// returned cleanup releases native resources and must run after Stop.
func NativeOptions(cfg *Config) (Options, func(), error) {
	x, err := winsys.NewX11()
	if err != nil {
		return Options{}, nil, err
	}
	go x.Run()

	var providers []input.Provider
	var closers []func()
	if cfg.Input.Controller {
		ev := input.NewEvdevProvider()
		js := input.NewJoystickProvider()
		providers = append(providers, ev, js)
		closers = append(closers, ev.Close, js.Close)
	}

	var hist store.Store
	if cfg.History.DSN != "" {
		h, err := store.Open(cfg.History.DSN)
		if err != nil {
			x.Close()
			return Options{}, nil, err
		}
		hist = h
	}

	opts := Options{
		Config:    cfg,
		Source:    winsys.NewPollingLifecycleSource(2 * time.Second),
		Prober:    &winsys.GopsProber{Locator: x},
		Hooker:    x,
		Focuser:   x,
		Grabber:   x,
		Providers: providers,
		History:   hist,
	}
	cleanup := func() {
		for _, c := range closers {
			c()
		}
		x.Close()
	}
	return opts, cleanup, nil
}
