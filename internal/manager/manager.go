// Package manager wires the monitoring chain, input capture, and the
// activation pipeline into one lifecycle.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/atperry7/ffxi-manager-sub000/internal/activate"
	"github.com/atperry7/ffxi-manager-sub000/internal/config"
	"github.com/atperry7/ffxi-manager-sub000/internal/hotkeymap"
	"github.com/atperry7/ffxi-manager-sub000/internal/input"
	"github.com/atperry7/ffxi-manager-sub000/internal/metrics"
	"github.com/atperry7/ffxi-manager-sub000/internal/monitor"
	"github.com/atperry7/ffxi-manager-sub000/internal/order"
	"github.com/atperry7/ffxi-manager-sub000/internal/server"
	"github.com/atperry7/ffxi-manager-sub000/internal/store"
	"github.com/atperry7/ffxi-manager-sub000/internal/winsys"
	"github.com/atperry7/ffxi-manager-sub000/internal/wintrack"
)

// Options are the native collaborators and knobs a Manager composes. All
// winsys fields are required; History and Registry are optional.
type Options struct {
	Config    *config.FileConfig
	Source    winsys.LifecycleSource
	Prober    winsys.Prober
	Hooker    winsys.WindowHooker
	Focuser   winsys.Focuser
	Grabber   winsys.ChordGrabber
	Providers []input.Provider
	History   store.Store
	Registry  *prometheus.Registry
}

// lazyTracker breaks the construction cycle between the monitoring registry
// (which starts tracking on detection) and the window tracker (which feeds
// window events back into the registry).
type lazyTracker struct {
	mu    sync.RWMutex
	inner *wintrack.Tracker
}

func (l *lazyTracker) set(t *wintrack.Tracker) {
	l.mu.Lock()
	l.inner = t
	l.mu.Unlock()
}

func (l *lazyTracker) StartTrackingProcess(pid int32, name string) error {
	l.mu.RLock()
	t := l.inner
	l.mu.RUnlock()
	if t == nil {
		return nil
	}
	return t.StartTrackingProcess(pid, name)
}

func (l *lazyTracker) StopTrackingProcess(pid int32) {
	l.mu.RLock()
	t := l.inner
	l.mu.RUnlock()
	if t != nil {
		t.StopTrackingProcess(pid)
	}
}

// Manager owns startup and deterministic shutdown of the whole chain.
type Manager struct {
	cfg     *config.FileConfig
	mon     *monitor.Registry
	tracker *wintrack.Tracker
	ord     *order.Registry
	cache   *hotkeymap.Cache
	capture *input.Capture
	orch    *activate.Orchestrator
	hist    store.Store
	promReg *prometheus.Registry

	httpSrv *http.Server
	cancel  context.CancelFunc
	pumpEnd chan struct{}
	log     *slog.Logger

	mu         sync.Mutex
	bindings   []hotkeymap.Binding
	monitorIDs []int64
	startedAt  time.Time
	running    bool
}

func New(opts Options) (*Manager, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("manager requires a config")
	}
	promReg := opts.Registry
	if promReg == nil {
		promReg = prometheus.NewRegistry()
	}
	if err := metrics.Register(promReg); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	m := &Manager{
		cfg:      opts.Config,
		hist:     opts.History,
		promReg:  promReg,
		bindings: opts.Config.HotkeyBindings(),
		log:      slog.Default().With("component", "manager"),
	}

	lt := &lazyTracker{}
	m.mon = monitor.NewRegistry(opts.Source, opts.Prober, lt)
	m.tracker = wintrack.New(opts.Hooker, m.mon)
	lt.set(m.tracker)

	m.ord = order.NewRegistry()
	m.cache = hotkeymap.New(m.ord, m.currentBindings)

	var sink activate.Sink
	if opts.History != nil {
		sink = opts.History
	}
	m.orch = activate.New(m.cache, m.ord, opts.Focuser, sink, opts.Config.Orchestrator())

	m.capture = input.NewCapture(opts.Grabber, opts.Config.PollHz(), opts.Providers...)
	return m, nil
}

func (m *Manager) currentBindings() []hotkeymap.Binding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]hotkeymap.Binding(nil), m.bindings...)
}

// Start brings the chain up: monitoring first so entities exist before any
// binding can fire, then input capture, then the diagnostics server.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("manager already running")
	}
	m.running = true
	m.startedAt = time.Now()
	m.mu.Unlock()

	cctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.ord.ConnectToSource(cctx, m.mon)
	if err := m.mon.Start(cctx); err != nil {
		cancel()
		m.setStopped()
		return fmt.Errorf("start monitoring: %w", err)
	}
	m.mon.StartSweep(monitor.DefaultSweepInterval)

	for _, p := range m.cfg.Profiles() {
		id := m.mon.RegisterMonitor(p)
		m.mu.Lock()
		m.monitorIDs = append(m.monitorIDs, id)
		m.mu.Unlock()
	}

	if err := m.registerBindings(); err != nil {
		m.stopMonitoring()
		cancel()
		m.setStopped()
		return err
	}
	m.capture.Start(cctx)

	m.pumpEnd = make(chan struct{})
	go m.pumpPresses(cctx)

	if m.hist != nil && m.cfg.History.Retention > 0 {
		go m.purgeLoop(cctx)
	}

	if m.cfg.Server.Enabled {
		srv, err := server.NewServer(m.cfg.Server.Listen, "", m, m.promReg)
		if err != nil {
			return fmt.Errorf("start diagnostics server: %w", err)
		}
		m.httpSrv = srv
		m.log.Info("diagnostics server listening", "addr", m.cfg.Server.Listen)
	}
	return nil
}

func (m *Manager) setStopped() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

func (m *Manager) registerBindings() error {
	for _, b := range m.cfg.Bindings {
		if !b.IsEnabled() {
			continue
		}
		if b.Chord != "" {
			if err := m.capture.RegisterBinding(b.ID(), b.Chord); err != nil {
				return fmt.Errorf("bind %q: %w", b.Chord, err)
			}
		}
		if b.Button != nil {
			m.capture.RegisterButton(b.ID(), input.Button{Index: *b.Button})
		}
	}
	return nil
}

// pumpPresses drains the unified press stream into the orchestrator.
func (m *Manager) pumpPresses(ctx context.Context) {
	defer close(m.pumpEnd)
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-m.capture.Presses():
			if !ok {
				return
			}
			m.orch.Trigger(ctx, p.BindingID, p.Source)
		}
	}
}

// purgeLoop trims old activation history on an hourly cadence.
func (m *Manager) purgeLoop(ctx context.Context) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := m.hist.PurgeOlderThan(ctx, m.cfg.History.Retention)
			if err != nil {
				m.log.Warn("history purge", "err", err)
				continue
			}
			if n > 0 {
				m.log.Debug("history purged", "records", n)
			}
		}
	}
}

// Reload applies a changed config: profiles are re-registered wholesale and
// the binding table is swapped, then the mapping cache rebuilds. Activation
// knobs stay as constructed; they require a restart.
func (m *Manager) Reload(fc *config.FileConfig) error {
	if err := fc.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	old := m.monitorIDs
	m.monitorIDs = nil
	m.cfg.Monitors = fc.Monitors
	m.cfg.Bindings = fc.Bindings
	m.bindings = fc.HotkeyBindings()
	m.mu.Unlock()

	for _, id := range old {
		_ = m.mon.UnregisterMonitor(id)
	}
	for _, p := range fc.Profiles() {
		id := m.mon.RegisterMonitor(p)
		m.mu.Lock()
		m.monitorIDs = append(m.monitorIDs, id)
		m.mu.Unlock()
	}

	m.capture.UnregisterAll()
	if err := m.registerBindings(); err != nil {
		return err
	}
	m.cache.RefreshMappings()
	m.log.Info("configuration reloaded",
		"monitors", len(fc.Monitors), "bindings", len(fc.Bindings))
	return nil
}

// Stop shuts the chain down deterministically: input sources first, then
// pending activations, then monitoring, native hooks last.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	if m.httpSrv != nil {
		shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = m.httpSrv.Shutdown(shCtx)
		shCancel()
		m.httpSrv = nil
	}

	m.capture.UnregisterAll()
	m.capture.Stop()
	if m.cancel != nil {
		m.cancel()
	}
	if m.pumpEnd != nil {
		<-m.pumpEnd
	}
	m.orch.Close()

	m.stopMonitoring()

	if m.hist != nil {
		_ = m.hist.Close()
	}
}

func (m *Manager) stopMonitoring() {
	m.mon.StopSweep()
	m.ord.Disconnect()
	m.mon.Stop()
	m.tracker.Close()
}

// Trigger runs one activation outside the input sources, for tests and the
// embedding API.
func (m *Manager) Trigger(ctx context.Context, bindingID int, source string) activate.Result {
	return m.orch.Trigger(ctx, bindingID, source)
}

// --- server.View ---

func (m *Manager) Status() server.Status {
	m.mu.Lock()
	startedAt, running := m.startedAt, m.running
	m.mu.Unlock()
	return server.Status{
		Running:      running,
		StartedAt:    startedAt,
		Tracked:      len(m.mon.AllProcesses()),
		Ordered:      m.ord.Len(),
		MappedSlots:  m.cache.Size(),
		BreakerOpen:  m.orch.BreakerOpen(),
		HistoryReady: m.hist != nil,
	}
}

func (m *Manager) Processes() []monitor.TrackedProcess { return m.mon.AllProcesses() }

func (m *Manager) Ordered() []order.Entity { return m.ord.GetOrdered() }

func (m *Manager) MoveToSlot(pid int32, slot int) bool { return m.ord.MoveToSlot(pid, slot) }

func (m *Manager) Recent(ctx context.Context, limit int) ([]store.Record, error) {
	if m.hist == nil {
		return nil, nil
	}
	return m.hist.Recent(ctx, limit)
}

var _ server.View = (*Manager)(nil)
