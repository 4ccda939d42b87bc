package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/atperry7/ffxi-manager-sub000/internal/metrics"
	"github.com/atperry7/ffxi-manager-sub000/internal/winsys"
)

// WindowTracker is the hook-lifecycle collaborator the registry drives as
// processes come and go. Implemented by wintrack.Tracker.
type WindowTracker interface {
	StartTrackingProcess(pid int32, name string) error
	StopTrackingProcess(pid int32)
}

// Registry owns profile registration, process-lifecycle subscription and the
// canonical process table. One mutex guards the process and profile tables;
// domain events are emitted strictly after it is released.
type Registry struct {
	mu       sync.Mutex
	nextID   int64
	profiles map[int64]Profile
	procs    map[int32]*TrackedProcess
	subs     map[int64][]chan<- Event
	global   []chan<- Event

	src     winsys.LifecycleSource
	prober  winsys.Prober
	tracker WindowTracker

	cancel    context.CancelFunc
	done      chan struct{}
	sweepStop chan struct{}
	log       *slog.Logger
}

func NewRegistry(src winsys.LifecycleSource, prober winsys.Prober, tracker WindowTracker) *Registry {
	return &Registry{
		profiles: make(map[int64]Profile),
		procs:    make(map[int32]*TrackedProcess),
		subs:     make(map[int64][]chan<- Event),
		src:      src,
		prober:   prober,
		tracker:  tracker,
		log:      slog.Default().With("component", "monitor"),
	}
}

// RegisterMonitor registers a profile and returns its monitor id. Processes
// already tracked that match the profile are attached and reported via a
// Detected event.
func (r *Registry) RegisterMonitor(p Profile) int64 {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.profiles[id] = p
	var evs []Event
	for _, tp := range r.procs {
		if p.Matches(tp.Name) {
			tp.Monitors[id] = p.Context
			evs = append(evs, Event{Kind: Detected, MonitorID: id, Process: tp.Clone()})
		}
	}
	r.mu.Unlock()
	r.emit(evs)
	return id
}

// UnregisterMonitor removes a profile. Processes no longer subscribed by any
// monitor are dropped from the table and their window tracking released.
func (r *Registry) UnregisterMonitor(id int64) error {
	r.mu.Lock()
	if _, ok := r.profiles[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown monitor id %d", id)
	}
	delete(r.profiles, id)
	delete(r.subs, id)
	var evs []Event
	var untrack []int32
	for pid, tp := range r.procs {
		if _, ok := tp.Monitors[id]; !ok {
			continue
		}
		delete(tp.Monitors, id)
		if len(tp.Monitors) == 0 {
			tp.State = StateRemoved
			delete(r.procs, pid)
			untrack = append(untrack, pid)
			// Global subscribers still need to observe the drop.
			evs = append(evs, Event{Kind: Removed, MonitorID: id, Process: tp.Clone()})
		}
	}
	n := len(r.procs)
	r.mu.Unlock()
	metrics.SetTrackedProcesses(n)
	for _, pid := range untrack {
		r.stopTracking(pid)
	}
	r.emit(evs)
	return nil
}

// UpdateProfile replaces a profile wholesale. Matching is re-evaluated: newly
// matching processes attach (Detected), no-longer-matching ones detach
// (Removed for that monitor).
func (r *Registry) UpdateProfile(id int64, p Profile) error {
	r.mu.Lock()
	if _, ok := r.profiles[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown monitor id %d", id)
	}
	r.profiles[id] = p
	var evs []Event
	var untrack []int32
	for pid, tp := range r.procs {
		_, attached := tp.Monitors[id]
		matches := p.Matches(tp.Name)
		switch {
		case matches && !attached:
			tp.Monitors[id] = p.Context
			evs = append(evs, Event{Kind: Detected, MonitorID: id, Process: tp.Clone()})
		case !matches && attached:
			delete(tp.Monitors, id)
			evs = append(evs, Event{Kind: Removed, MonitorID: id, Process: tp.Clone()})
			if len(tp.Monitors) == 0 {
				tp.State = StateRemoved
				delete(r.procs, pid)
				untrack = append(untrack, pid)
			}
		}
	}
	n := len(r.procs)
	r.mu.Unlock()
	metrics.SetTrackedProcesses(n)
	for _, pid := range untrack {
		r.stopTracking(pid)
	}
	r.emit(evs)
	return nil
}

// GetProcesses returns deep-cloned snapshots of every process subscribed by
// the monitor, ordered by pid.
func (r *Registry) GetProcesses(id int64) []TrackedProcess {
	r.mu.Lock()
	var out []TrackedProcess
	for _, tp := range r.procs {
		if _, ok := tp.Monitors[id]; ok {
			out = append(out, tp.Clone())
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// AllProcesses returns deep-cloned snapshots of every tracked process
// regardless of monitor, ordered by pid. Diagnostics surface.
func (r *Registry) AllProcesses() []TrackedProcess {
	r.mu.Lock()
	out := make([]TrackedProcess, 0, len(r.procs))
	for _, tp := range r.procs {
		out = append(out, tp.Clone())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// Subscribe registers a per-monitor event channel. Sends never happen under
// the registry lock; a full channel drops the event with a warning.
func (r *Registry) Subscribe(id int64, ch chan<- Event) {
	r.mu.Lock()
	r.subs[id] = append(r.subs[id], ch)
	r.mu.Unlock()
}

// SubscribeGlobal registers a channel receiving every event regardless of
// monitor, for diagnostics and the ordered registry.
func (r *Registry) SubscribeGlobal(ch chan<- Event) {
	r.mu.Lock()
	r.global = append(r.global, ch)
	r.mu.Unlock()
}

// Start subscribes to the lifecycle source and begins consuming its events.
// It also performs an initial scan so processes that predate monitoring are
// picked up immediately.
func (r *Registry) Start(ctx context.Context) error {
	if err := r.src.Start(ctx); err != nil {
		return fmt.Errorf("start lifecycle source: %w", err)
	}
	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.consume(cctx)
	r.rescan()
	return nil
}

// Stop shuts down in deterministic order: unsubscribe from the source first,
// then drain the consume loop, then release per-process hooks.
func (r *Registry) Stop() {
	r.StopSweep()
	r.src.Stop()
	if r.cancel != nil {
		r.cancel()
		<-r.done
		r.cancel = nil
	}
	r.mu.Lock()
	pids := make([]int32, 0, len(r.procs))
	for pid := range r.procs {
		pids = append(pids, pid)
	}
	r.mu.Unlock()
	for _, pid := range pids {
		r.stopTracking(pid)
	}
}

func (r *Registry) consume(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.src.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case winsys.ProcessCreated:
				r.handleCreated(ev.PID, ev.Name)
			case winsys.ProcessTerminated:
				r.handleTerminated(ev.PID)
			}
		}
	}
}

// handleCreated matches a newly reported process against every profile and
// upserts it on match.
func (r *Registry) handleCreated(pid int32, name string) {
	r.mu.Lock()
	matched := r.matchingProfiles(name)
	_, known := r.procs[pid]
	r.mu.Unlock()
	if len(matched) == 0 || known {
		return
	}

	includePath := false
	trackWindows := false
	for id := range matched {
		p := matched[id]
		includePath = includePath || p.IncludePath
		trackWindows = trackWindows || p.TrackWindows || p.TrackTitles
	}
	info, err := r.prober.Info(pid, includePath)
	if err != nil {
		// Short-lived process already gone; nothing to track.
		r.log.Debug("probe failed for new process", "pid", pid, "err", err)
		return
	}
	r.upsertDetected(info, matched, trackWindows)
}

// upsertDetected inserts the process under lock, then starts window tracking
// and emits Detected events per matching profile.
func (r *Registry) upsertDetected(info winsys.ProcessInfo, matched map[int64]Profile, trackWindows bool) {
	now := time.Now()
	r.mu.Lock()
	if _, ok := r.procs[info.PID]; ok {
		r.mu.Unlock()
		return
	}
	tp := &TrackedProcess{
		PID:        info.PID,
		Name:       info.Name,
		ExePath:    info.ExePath,
		StartedAt:  info.StartedAt,
		LastSeen:   now,
		Responding: info.Responding,
		State:      StateDetected,
		Monitors:   make(map[int64]any, len(matched)),
	}
	for _, w := range info.Windows {
		tp.Windows = append(tp.Windows, TrackedWindow{
			Handle:         w.Handle,
			Title:          w.Title,
			MainWindow:     w.MainWindow,
			Visible:        w.Visible,
			TitleUpdatedAt: now,
		})
	}
	var evs []Event
	for id, p := range matched {
		// The profile may have been unregistered while probing.
		if _, still := r.profiles[id]; !still {
			continue
		}
		tp.Monitors[id] = p.Context
		evs = append(evs, Event{Kind: Detected, MonitorID: id, Process: tp.Clone()})
	}
	if len(tp.Monitors) == 0 {
		r.mu.Unlock()
		return
	}
	r.procs[info.PID] = tp
	n := len(r.procs)
	profileNames := make([]string, 0, len(matched))
	for _, p := range matched {
		profileNames = append(profileNames, p.Name)
	}
	r.mu.Unlock()

	metrics.SetTrackedProcesses(n)
	for _, pn := range profileNames {
		metrics.IncDetection(pn)
	}
	if trackWindows && r.tracker != nil {
		if err := r.tracker.StartTrackingProcess(info.PID, info.Name); err != nil {
			r.log.Warn("window tracking failed to start", "pid", info.PID, "err", err)
		}
	}
	r.log.Info("process detected", "pid", info.PID, "name", info.Name)
	r.emit(evs)
}

// handleTerminated removes the process and notifies previously subscribed
// monitors. Removal is terminal for the instance.
func (r *Registry) handleTerminated(pid int32) {
	r.mu.Lock()
	tp, ok := r.procs[pid]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.procs, pid)
	tp.State = StateRemoved
	var evs []Event
	var profileNames []string
	for id := range tp.Monitors {
		evs = append(evs, Event{Kind: Removed, MonitorID: id, Process: tp.Clone()})
		if p, ok := r.profiles[id]; ok {
			profileNames = append(profileNames, p.Name)
		}
	}
	n := len(r.procs)
	r.mu.Unlock()

	metrics.SetTrackedProcesses(n)
	for _, pn := range profileNames {
		metrics.IncRemoval(pn)
	}
	r.stopTracking(pid)
	r.log.Info("process removed", "pid", pid, "name", tp.Name)
	r.emit(evs)
}

// ApplyWindowEvent folds a validated window event into the process table and
// emits Updated. Create racing title-change is treated as upsert by handle,
// never as an error; last write wins per handle.
func (r *Registry) ApplyWindowEvent(ev winsys.WindowEvent) {
	now := time.Now()
	r.mu.Lock()
	tp, ok := r.procs[ev.PID]
	if !ok {
		r.mu.Unlock()
		return
	}
	switch ev.Kind {
	case winsys.WindowDestroyed:
		for i, w := range tp.Windows {
			if w.Handle == ev.Handle {
				tp.Windows = append(tp.Windows[:i], tp.Windows[i+1:]...)
				break
			}
		}
	default:
		found := false
		for i := range tp.Windows {
			if tp.Windows[i].Handle == ev.Handle {
				if ev.Title != "" {
					tp.Windows[i].Title = ev.Title
					tp.Windows[i].TitleUpdatedAt = now
				}
				tp.Windows[i].Visible = true
				found = true
				break
			}
		}
		if !found {
			tp.Windows = append(tp.Windows, TrackedWindow{
				Handle:         ev.Handle,
				Title:          ev.Title,
				MainWindow:     len(tp.Windows) == 0,
				Visible:        true,
				TitleUpdatedAt: now,
			})
		}
	}
	tp.LastSeen = now
	tp.State = StateActive
	evs := r.updatedEventsLocked(tp)
	r.mu.Unlock()
	r.emit(evs)
}

// SetResponding records a health change. Health never affects ordering, only
// the payload carried by Updated events.
func (r *Registry) SetResponding(pid int32, responding bool) {
	r.mu.Lock()
	tp, ok := r.procs[pid]
	if !ok || tp.Responding == responding {
		r.mu.Unlock()
		return
	}
	tp.Responding = responding
	tp.LastSeen = time.Now()
	evs := r.updatedEventsLocked(tp)
	r.mu.Unlock()
	r.emit(evs)
}

func (r *Registry) updatedEventsLocked(tp *TrackedProcess) []Event {
	evs := make([]Event, 0, len(tp.Monitors))
	for id := range tp.Monitors {
		evs = append(evs, Event{Kind: Updated, MonitorID: id, Process: tp.Clone()})
	}
	return evs
}

// matchingProfiles must be called under r.mu.
func (r *Registry) matchingProfiles(name string) map[int64]Profile {
	matched := make(map[int64]Profile)
	for id, p := range r.profiles {
		if p.Matches(name) {
			matched[id] = p
		}
	}
	return matched
}

func (r *Registry) stopTracking(pid int32) {
	if r.tracker != nil {
		r.tracker.StopTrackingProcess(pid)
	}
}

// emit delivers events in order to per-monitor and global subscribers. It is
// always called with the registry lock released.
func (r *Registry) emit(evs []Event) {
	if len(evs) == 0 {
		return
	}
	r.mu.Lock()
	subs := make(map[int64][]chan<- Event, len(r.subs))
	for id, chans := range r.subs {
		subs[id] = append([]chan<- Event(nil), chans...)
	}
	global := append([]chan<- Event(nil), r.global...)
	r.mu.Unlock()

	for _, ev := range evs {
		for _, ch := range subs[ev.MonitorID] {
			r.send(ch, ev)
		}
		for _, ch := range global {
			r.send(ch, ev)
		}
	}
}

func (r *Registry) send(ch chan<- Event, ev Event) {
	select {
	case ch <- ev:
	default:
		r.log.Warn("dropping domain event, subscriber queue full",
			"kind", ev.Kind.String(), "pid", ev.Process.PID)
	}
}
