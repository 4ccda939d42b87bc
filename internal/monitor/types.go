package monitor

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/atperry7/ffxi-manager-sub000/internal/winsys"
)

// Profile describes which processes matter to one registered monitor and how
// much detail to track for them. Profiles are replaced wholesale on update,
// never patched.
type Profile struct {
	Name         string
	Filters      []string // process-name filters, matched case-insensitively
	TrackWindows bool
	TrackTitles  bool
	IncludePath  bool
	Context      any // opaque caller context, carried per monitor
}

// Matches reports whether a reported process name matches any filter. Both
// sides are normalized first (path stripped, one extension stripped, lowered).
func (p Profile) Matches(name string) bool {
	n := NormalizeName(name)
	if n == "" {
		return false
	}
	for _, f := range p.Filters {
		if NormalizeName(f) == n {
			return true
		}
	}
	return false
}

// NormalizeName strips any path and a single trailing extension and lowers
// the result, so "C:\\Games\\sampleApp.exe", "sampleApp.exe" and "sampleapp"
// all compare equal.
func NormalizeName(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if ext := filepath.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return strings.ToLower(base)
}

// ProcessState is the per-process lifecycle state. Removal is terminal: a
// reused pid after termination always yields a new TrackedProcess.
type ProcessState string

const (
	StateDetected ProcessState = "detected"
	StateActive   ProcessState = "active"
	StateRemoved  ProcessState = "removed"
)

// TrackedWindow is one top-level window owned by a tracked process. The
// handle is observed, not owned; validity must be re-queried before use.
type TrackedWindow struct {
	Handle         winsys.Handle
	Title          string
	MainWindow     bool
	Visible        bool
	TitleUpdatedAt time.Time
}

// TrackedProcess is the canonical record for one discovered process.
type TrackedProcess struct {
	PID        int32
	Name       string
	ExePath    string
	StartedAt  time.Time
	LastSeen   time.Time
	Responding bool
	State      ProcessState
	Monitors   map[int64]any // subscribing monitor id -> that monitor's context
	Windows    []TrackedWindow
}

// Clone returns a deep copy; callers of the registry never see in-progress
// mutation.
func (t *TrackedProcess) Clone() TrackedProcess {
	c := *t
	c.Monitors = make(map[int64]any, len(t.Monitors))
	for id, ctx := range t.Monitors {
		c.Monitors[id] = ctx
	}
	c.Windows = make([]TrackedWindow, len(t.Windows))
	copy(c.Windows, t.Windows)
	return c
}

// MainWindow returns the main window if one is known.
func (t *TrackedProcess) MainWindow() (TrackedWindow, bool) {
	for _, w := range t.Windows {
		if w.MainWindow {
			return w, true
		}
	}
	if len(t.Windows) > 0 {
		return t.Windows[0], true
	}
	return TrackedWindow{}, false
}

// EventKind enumerates domain event kinds emitted by the registry.
type EventKind int

const (
	Detected EventKind = iota
	Updated
	Removed
)

func (k EventKind) String() string {
	switch k {
	case Detected:
		return "detected"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is one domain notification. Process is a deep clone taken under the
// registry lock; the event is emitted strictly after the lock is released.
type Event struct {
	Kind      EventKind
	MonitorID int64
	Process   TrackedProcess
}
