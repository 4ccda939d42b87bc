// Package winsys defines the narrow native-collaborator interfaces the
// monitoring core consumes: process lifecycle notifications, per-process
// window event hooks, the focus-change primitive, and global chord capture.
// The X11 implementation lives in this package; everything above it depends
// only on the interfaces.
package winsys

import (
	"context"
	"time"
)

// Handle is a native window handle. It is observed, never owned: the OS may
// invalidate or reassign it at any time, so validity must be re-queried
// immediately before every use.
type Handle uint32

// WindowInfo is a point-in-time description of one top-level window.
type WindowInfo struct {
	Handle     Handle
	Title      string
	MainWindow bool
	Visible    bool
}

// ProcessInfo is a point-in-time description of one OS process.
type ProcessInfo struct {
	PID        int32
	Name       string
	ExePath    string
	StartedAt  time.Time
	Responding bool
	Windows    []WindowInfo
}

// LifecycleKind enumerates process lifecycle notification kinds.
type LifecycleKind int

const (
	ProcessCreated LifecycleKind = iota
	ProcessTerminated
)

// LifecycleEvent is one process create/terminate notification.
type LifecycleEvent struct {
	Kind LifecycleKind
	PID  int32
	Name string
}

// WindowEventKind enumerates per-window event kinds.
type WindowEventKind int

const (
	WindowCreated WindowEventKind = iota
	WindowDestroyed
	WindowTitleChanged
)

// WindowEvent is one window create/destroy/title notification, already
// resolved to the owning pid. TopLevel is false for child controls, which
// trackers must ignore.
type WindowEvent struct {
	Kind     WindowEventKind
	PID      int32
	Handle   Handle
	Title    string
	TopLevel bool
}

// LifecycleSource emits process create/terminate notifications.
type LifecycleSource interface {
	Start(ctx context.Context) error
	Stop()
	Events() <-chan LifecycleEvent
}

// Prober answers point-in-time questions about processes. Used on detection
// and by the safety sweep.
type Prober interface {
	Exists(pid int32) bool
	Info(pid int32, includePath bool) (ProcessInfo, error)
	ListPIDs() ([]int32, error)
}

// HookHandle identifies one installed window hook.
type HookHandle uint64

// WindowHooker installs scoped, per-process window event hooks. Callbacks are
// invoked off the native event thread.
type WindowHooker interface {
	Hook(pid int32, fn func(WindowEvent)) (HookHandle, error)
	Unhook(h HookHandle)
}

// WindowLocator lists the current top-level windows owned by a pid.
type WindowLocator interface {
	WindowsOf(pid int32) ([]WindowInfo, error)
}

// Focuser performs the native focus change and validity query. Focus blocks
// at most until ctx is done and returns one of the classification errors from
// errors.go on failure.
type Focuser interface {
	Focus(ctx context.Context, h Handle) error
	IsValid(h Handle) bool
}

// ChordGrabber registers global keyboard chords. Both callbacks run off the
// native event thread; release reporting lets callers edge-trigger so a held
// chord never repeats.
type ChordGrabber interface {
	Grab(chord string, onPress, onRelease func()) error
	UngrabAll()
}
