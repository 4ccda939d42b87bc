package winsys

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// DefaultLifecyclePollInterval is how often the polling source diffs the
// OS process table when no interval is configured.
const DefaultLifecyclePollInterval = time.Second

// PollingLifecycleSource derives create/terminate notifications by diffing
// the OS pid table at a fixed interval. A pid that disappears and reappears
// between two polls is reported as terminate followed by create.
type PollingLifecycleSource struct {
	mu       sync.Mutex
	interval time.Duration
	events   chan LifecycleEvent
	cancel   context.CancelFunc
	done     chan struct{}
	known    map[int32]string
	log      *slog.Logger
}

func NewPollingLifecycleSource(interval time.Duration) *PollingLifecycleSource {
	if interval <= 0 {
		interval = DefaultLifecyclePollInterval
	}
	return &PollingLifecycleSource{
		interval: interval,
		events:   make(chan LifecycleEvent, 128),
		known:    make(map[int32]string),
		log:      slog.Default().With("component", "lifecycle"),
	}
}

func (s *PollingLifecycleSource) Events() <-chan LifecycleEvent { return s.events }

// Start begins polling. The first poll seeds the known set without emitting
// creation events; pre-existing processes are picked up by the registry's
// initial scan instead.
func (s *PollingLifecycleSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil // already running
	}
	if err := s.seed(); err != nil {
		return fmt.Errorf("seed process table: %w", err)
	}
	cctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(cctx)
	return nil
}

// Stop halts polling and waits for the poll loop to drain.
func (s *PollingLifecycleSource) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *PollingLifecycleSource) seed() error {
	pids, err := process.Pids()
	if err != nil {
		return err
	}
	for _, pid := range pids {
		s.known[pid] = ""
	}
	return nil
}

func (s *PollingLifecycleSource) run(ctx context.Context) {
	defer close(s.done)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *PollingLifecycleSource) pollOnce(ctx context.Context) {
	pids, err := process.Pids()
	if err != nil {
		s.log.Warn("process table poll failed", "err", err)
		return
	}
	current := make(map[int32]struct{}, len(pids))
	for _, pid := range pids {
		current[pid] = struct{}{}
	}

	s.mu.Lock()
	var evs []LifecycleEvent
	for pid, name := range s.known {
		if _, ok := current[pid]; !ok {
			delete(s.known, pid)
			evs = append(evs, LifecycleEvent{Kind: ProcessTerminated, PID: pid, Name: name})
		}
	}
	for pid := range current {
		if _, ok := s.known[pid]; !ok {
			name := processName(pid)
			s.known[pid] = name
			evs = append(evs, LifecycleEvent{Kind: ProcessCreated, PID: pid, Name: name})
		}
	}
	s.mu.Unlock()

	for _, ev := range evs {
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func processName(pid int32) string {
	p, err := process.NewProcess(pid)
	if err != nil {
		return ""
	}
	name, err := p.Name()
	if err != nil {
		return ""
	}
	return name
}

// GopsProber implements Prober over gopsutil. Window enumeration is supplied
// by a WindowLocator so process probing stays window-system agnostic.
type GopsProber struct {
	Locator WindowLocator
}

func (g *GopsProber) Exists(pid int32) bool {
	ok, err := process.PidExists(pid)
	return err == nil && ok
}

func (g *GopsProber) ListPIDs() ([]int32, error) {
	return process.Pids()
}

func (g *GopsProber) Info(pid int32, includePath bool) (ProcessInfo, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return ProcessInfo{}, fmt.Errorf("probe pid %d: %w", pid, err)
	}
	info := ProcessInfo{PID: pid, Responding: true}
	if info.Name, err = p.Name(); err != nil {
		return ProcessInfo{}, fmt.Errorf("probe pid %d name: %w", pid, err)
	}
	if includePath {
		// Exe can fail for processes we lack permission to inspect; the path
		// is optional so that is not fatal.
		info.ExePath, _ = p.Exe()
	}
	if ms, err := p.CreateTime(); err == nil {
		info.StartedAt = time.UnixMilli(ms)
	}
	if sts, err := p.Status(); err == nil {
		for _, st := range sts {
			if st == process.Zombie || st == process.Stop {
				info.Responding = false
			}
		}
	}
	if g.Locator != nil {
		if wins, err := g.Locator.WindowsOf(pid); err == nil {
			info.Windows = wins
		}
	}
	return info, nil
}
