// Package wintrack owns the per-process native window-hook lifecycle and
// translates raw window callbacks into validated domain updates.
package wintrack

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/atperry7/ffxi-manager-sub000/internal/winsys"
)

// titleSentinel is the placeholder the window system can deliver mid-repaint.
const titleSentinel = "NULL"

// Store receives validated window events. Implemented by monitor.Registry.
type Store interface {
	ApplyWindowEvent(ev winsys.WindowEvent)
}

// Tracker installs one scoped hook per tracked pid and validates each
// callback before it reaches the store. Hook handle and callback ownership
// live together in one entry so unregister-before-teardown order is enforced
// by construction.
type Tracker struct {
	mu      sync.Mutex
	hooker  winsys.WindowHooker
	store   Store
	tracked map[int32]winsys.HookHandle
	log     *slog.Logger
}

func New(hooker winsys.WindowHooker, store Store) *Tracker {
	return &Tracker{
		hooker:  hooker,
		store:   store,
		tracked: make(map[int32]winsys.HookHandle),
		log:     slog.Default().With("component", "wintrack"),
	}
}

// StartTrackingProcess installs hooks for pid. A second call for an
// already-tracked pid is a no-op.
func (t *Tracker) StartTrackingProcess(pid int32, name string) error {
	t.mu.Lock()
	if _, ok := t.tracked[pid]; ok {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	hook, err := t.hooker.Hook(pid, t.callbackFor(pid))
	if err != nil {
		return fmt.Errorf("hook pid %d (%s): %w", pid, name, err)
	}

	t.mu.Lock()
	if _, ok := t.tracked[pid]; ok {
		// Lost the race to a concurrent start; release the extra hook.
		t.mu.Unlock()
		t.hooker.Unhook(hook)
		return nil
	}
	t.tracked[pid] = hook
	t.mu.Unlock()
	t.log.Debug("window tracking started", "pid", pid, "name", name)
	return nil
}

// StopTrackingProcess removes hooks for pid. Safe to call repeatedly or for
// a pid that was never tracked.
func (t *Tracker) StopTrackingProcess(pid int32) {
	t.mu.Lock()
	hook, ok := t.tracked[pid]
	delete(t.tracked, pid)
	t.mu.Unlock()
	if ok {
		t.hooker.Unhook(hook)
		t.log.Debug("window tracking stopped", "pid", pid)
	}
}

// Tracked reports whether pid currently has hooks installed.
func (t *Tracker) Tracked(pid int32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tracked[pid]
	return ok
}

// Close releases every hook. Hooks are removed before the tracker discards
// its entries, never after.
func (t *Tracker) Close() {
	t.mu.Lock()
	hooks := make([]winsys.HookHandle, 0, len(t.tracked))
	for _, h := range t.tracked {
		hooks = append(hooks, h)
	}
	t.tracked = make(map[int32]winsys.HookHandle)
	t.mu.Unlock()
	for _, h := range hooks {
		t.hooker.Unhook(h)
	}
}

// callbackFor builds the validated callback for one pid. Validation happens
// here, at the hook boundary; anything that escapes this function is a clean
// domain event.
func (t *Tracker) callbackFor(pid int32) func(winsys.WindowEvent) {
	return func(ev winsys.WindowEvent) {
		// A panic must never unwind into the native hook machinery.
		defer func() {
			if r := recover(); r != nil {
				t.log.Error("panic in window event callback", "pid", pid, "panic", r)
			}
		}()

		// The event's owning pid must match the tracked pid, and only
		// top-level windows matter; child controls are noise.
		if ev.PID != pid || !ev.TopLevel {
			return
		}

		switch ev.Kind {
		case winsys.WindowTitleChanged:
			if !ValidTitle(ev.Title) {
				// Partial or placeholder title mid-repaint; a previously-good
				// title must never be overwritten by it.
				return
			}
		case winsys.WindowCreated:
			if !ValidTitle(ev.Title) {
				// The window itself is real even when its title is not yet;
				// upsert it untitled and wait for a title-changed event.
				ev.Title = ""
			}
		}
		t.store.ApplyWindowEvent(ev)
	}
}

// ValidTitle reports whether an observed title is usable: non-empty,
// non-whitespace, and not the literal placeholder sentinel.
func ValidTitle(title string) bool {
	trimmed := strings.TrimSpace(title)
	return trimmed != "" && trimmed != titleSentinel
}
