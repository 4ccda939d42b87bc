package monitor

import (
	"time"

	"github.com/atperry7/ffxi-manager-sub000/internal/metrics"
)

// DefaultSweepInterval is the safety-sweep period when none is configured.
const DefaultSweepInterval = 30 * time.Second

// SweepOnce reconciles the process table against reality. It covers two
// failure modes of the event path: termination notifications that were
// dropped, and creations that were lost or predate monitoring start.
// The sweep never reorders or silently drops a process established via the
// event path; it only issues the same Detected/Removed events that path would.
func (r *Registry) SweepOnce() {
	// Stale entries: tracked pid no longer exists.
	r.mu.Lock()
	stale := make([]int32, 0)
	for pid := range r.procs {
		if !r.prober.Exists(pid) {
			stale = append(stale, pid)
		}
	}
	r.mu.Unlock()
	for _, pid := range stale {
		metrics.IncSweepRecovery("stale")
		r.log.Warn("sweep removing stale process, termination event was missed", "pid", pid)
		r.handleTerminated(pid)
	}

	r.rescan()
	r.refreshHealth()
}

// rescan walks the OS pid table looking for matching processes the event
// path never reported.
func (r *Registry) rescan() {
	pids, err := r.prober.ListPIDs()
	if err != nil {
		r.log.Warn("sweep pid scan failed", "err", err)
		return
	}
	for _, pid := range pids {
		r.mu.Lock()
		_, known := r.procs[pid]
		nProfiles := len(r.profiles)
		r.mu.Unlock()
		if known || nProfiles == 0 {
			continue
		}
		info, err := r.prober.Info(pid, true)
		if err != nil {
			continue
		}
		r.mu.Lock()
		matched := r.matchingProfiles(info.Name)
		r.mu.Unlock()
		if len(matched) == 0 {
			continue
		}
		trackWindows := false
		for _, p := range matched {
			trackWindows = trackWindows || p.TrackWindows || p.TrackTitles
		}
		metrics.IncSweepRecovery("missed")
		r.upsertDetected(info, matched, trackWindows)
	}
}

// refreshHealth re-probes responding state for every tracked process.
func (r *Registry) refreshHealth() {
	r.mu.Lock()
	pids := make([]int32, 0, len(r.procs))
	for pid := range r.procs {
		pids = append(pids, pid)
	}
	r.mu.Unlock()
	for _, pid := range pids {
		info, err := r.prober.Info(pid, false)
		if err != nil {
			continue
		}
		r.SetResponding(pid, info.Responding)
	}
}

// StartSweep starts a background loop that periodically calls SweepOnce.
func (r *Registry) StartSweep(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	r.mu.Lock()
	if r.sweepStop != nil {
		r.mu.Unlock()
		return // already running
	}
	stop := make(chan struct{})
	r.sweepStop = stop
	r.mu.Unlock()
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				r.SweepOnce()
			case <-stop:
				return
			}
		}
	}()
}

// StopSweep stops the background sweep loop if running.
func (r *Registry) StopSweep() {
	r.mu.Lock()
	ch := r.sweepStop
	r.sweepStop = nil
	r.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}
