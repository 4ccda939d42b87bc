package winsys

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
	"github.com/BurntSushi/xgbutil/keybind"
	"github.com/BurntSushi/xgbutil/xevent"
	"github.com/BurntSushi/xgbutil/xprop"
	"github.com/BurntSushi/xgbutil/xwindow"
)

const focusPollInterval = 25 * time.Millisecond

// X11 implements WindowHooker, WindowLocator, Focuser and ChordGrabber over
// one X connection. Raw X events are pushed onto an internal channel inside
// the xevent callbacks and routed to hook callbacks by a dispatch goroutine,
// keeping hook work off the X event thread.
type X11 struct {
	xu   *xgbutil.XUtil
	root xproto.Window

	mu       sync.Mutex
	hooks    map[HookHandle]*x11Hook
	nextHook HookHandle
	winPID   map[Handle]int32

	raw  chan WindowEvent
	quit chan struct{}
	log  *slog.Logger

	netWMName xproto.Atom
	wmName    xproto.Atom
}

type x11Hook struct {
	pid int32
	fn  func(WindowEvent)
}

// NewX11 connects to the X server and subscribes to top-level window
// structure and property changes on the root window.
func NewX11() (*X11, error) {
	xu, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("connect to X server: %w", err)
	}
	keybind.Initialize(xu)

	x := &X11{
		xu:     xu,
		root:   xu.RootWin(),
		hooks:  make(map[HookHandle]*x11Hook),
		winPID: make(map[Handle]int32),
		raw:    make(chan WindowEvent, 256),
		quit:   make(chan struct{}),
		log:    slog.Default().With("component", "x11"),
	}
	if x.netWMName, err = xprop.Atm(xu, "_NET_WM_NAME"); err != nil {
		x.netWMName = 0
	}
	if x.wmName, err = xprop.Atm(xu, "WM_NAME"); err != nil {
		x.wmName = 0
	}

	if err := xwindow.New(xu, x.root).Listen(xproto.EventMaskSubstructureNotify); err != nil {
		xu.Conn().Close()
		return nil, fmt.Errorf("listen on root window: %w", err)
	}
	x.connectHandlers()
	return x, nil
}

// Run starts the X event loop and the dispatch goroutine. It returns once
// both are running.
func (x *X11) Run() {
	go xevent.Main(x.xu)
	go x.dispatch()
}

// Close stops event handling and closes the X connection. Hooks are
// implicitly released with the connection.
func (x *X11) Close() {
	close(x.quit)
	xevent.Quit(x.xu)
	x.xu.Conn().Close()
}

func (x *X11) connectHandlers() {
	xevent.CreateNotifyFun(func(xu *xgbutil.XUtil, ev xevent.CreateNotifyEvent) {
		x.onCreate(ev.Window)
	}).Connect(x.xu, x.root)

	xevent.DestroyNotifyFun(func(xu *xgbutil.XUtil, ev xevent.DestroyNotifyEvent) {
		x.onDestroy(ev.Window)
	}).Connect(x.xu, x.root)

	xevent.PropertyNotifyFun(func(xu *xgbutil.XUtil, ev xevent.PropertyNotifyEvent) {
		if ev.Atom != x.netWMName && ev.Atom != x.wmName {
			return
		}
		x.onTitle(ev.Window)
	}).Connect(x.xu, x.root)
}

// onCreate runs on the X event thread: resolve ownership, subscribe to the
// new window's property changes, and hand off.
func (x *X11) onCreate(win xproto.Window) {
	defer x.recoverCallback("create")
	pid := x.pidOf(win)
	if pid == 0 {
		return
	}
	// Property changes on non-root windows only arrive if we listen per window.
	_ = xwindow.New(x.xu, win).Listen(xproto.EventMaskPropertyChange)
	x.mu.Lock()
	x.winPID[Handle(win)] = pid
	x.mu.Unlock()
	title, _ := x.titleOf(win)
	x.push(WindowEvent{Kind: WindowCreated, PID: pid, Handle: Handle(win), Title: title, TopLevel: x.isTopLevel(win)})
}

func (x *X11) onDestroy(win xproto.Window) {
	defer x.recoverCallback("destroy")
	x.mu.Lock()
	pid, ok := x.winPID[Handle(win)]
	delete(x.winPID, Handle(win))
	x.mu.Unlock()
	if !ok {
		return
	}
	x.push(WindowEvent{Kind: WindowDestroyed, PID: pid, Handle: Handle(win), TopLevel: true})
}

func (x *X11) onTitle(win xproto.Window) {
	defer x.recoverCallback("title")
	x.mu.Lock()
	pid, ok := x.winPID[Handle(win)]
	x.mu.Unlock()
	if !ok {
		if pid = x.pidOf(win); pid == 0 {
			return
		}
		x.mu.Lock()
		x.winPID[Handle(win)] = pid
		x.mu.Unlock()
	}
	title, err := x.titleOf(win)
	if err != nil {
		return
	}
	x.push(WindowEvent{Kind: WindowTitleChanged, PID: pid, Handle: Handle(win), Title: title, TopLevel: x.isTopLevel(win)})
}

// recoverCallback keeps a panic inside an X callback from unwinding into the
// xevent machinery, which would kill the event loop for every hook.
func (x *X11) recoverCallback(where string) {
	if r := recover(); r != nil {
		x.log.Error("panic in X callback", "where", where, "panic", r)
	}
}

func (x *X11) push(ev WindowEvent) {
	select {
	case x.raw <- ev:
	default:
		// Dispatch queue full; dropping is safer than blocking the X thread.
		// The registry's safety sweep reconciles anything missed here.
		x.log.Warn("dropping window event, dispatch queue full", "pid", ev.PID, "handle", ev.Handle)
	}
}

func (x *X11) dispatch() {
	for {
		select {
		case <-x.quit:
			return
		case ev := <-x.raw:
			x.mu.Lock()
			var fns []func(WindowEvent)
			for _, h := range x.hooks {
				if h.pid == ev.PID {
					fns = append(fns, h.fn)
				}
			}
			x.mu.Unlock()
			for _, fn := range fns {
				fn(ev)
			}
		}
	}
}

// Hook subscribes fn to window events for pid. The X-side event tap is
// connection-wide; hooking only adds a routing entry, so it is cheap and
// cannot fail for a live connection.
func (x *X11) Hook(pid int32, fn func(WindowEvent)) (HookHandle, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.nextHook++
	h := x.nextHook
	x.hooks[h] = &x11Hook{pid: pid, fn: fn}
	return h, nil
}

// Unhook removes the routing entry. Safe to call repeatedly.
func (x *X11) Unhook(h HookHandle) {
	x.mu.Lock()
	delete(x.hooks, h)
	x.mu.Unlock()
}

// WindowsOf enumerates current top-level windows owned by pid via the EWMH
// client list.
func (x *X11) WindowsOf(pid int32) ([]WindowInfo, error) {
	clients, err := ewmh.ClientListGet(x.xu)
	if err != nil {
		return nil, fmt.Errorf("query client list: %w", err)
	}
	var out []WindowInfo
	for _, win := range clients {
		if x.pidOf(win) != pid {
			continue
		}
		info := WindowInfo{Handle: Handle(win)}
		info.Title, _ = x.titleOf(win)
		if attrs, err := xproto.GetWindowAttributes(x.xu.Conn(), win).Reply(); err == nil {
			info.Visible = attrs.MapState == xproto.MapStateViewable
		}
		// First viewable window is treated as the process main window.
		info.MainWindow = len(out) == 0 && info.Visible
		out = append(out, info)
		x.mu.Lock()
		x.winPID[Handle(win)] = pid
		x.mu.Unlock()
	}
	return out, nil
}

// IsValid reports whether the handle still refers to a live window.
func (x *X11) IsValid(h Handle) bool {
	_, err := xproto.GetWindowAttributes(x.xu.Conn(), xproto.Window(h)).Reply()
	return err == nil
}

// Focus asks the window manager to activate h and waits, bounded by ctx, for
// the activation to take effect. Failures are returned as the classified
// sentinel errors.
func (x *X11) Focus(ctx context.Context, h Handle) error {
	win := xproto.Window(h)
	if !x.IsValid(h) {
		return ErrInvalidHandle
	}
	if err := ewmh.ActiveWindowReq(x.xu, win); err != nil {
		return classifyXError(err)
	}
	t := time.NewTicker(focusPollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			if !x.IsValid(h) {
				return ErrInvalidHandle
			}
			if active, err := ewmh.ActiveWindowGet(x.xu); err == nil && active != win {
				if x.isFullscreen(active) {
					return ErrFullscreenExclusive
				}
				return ErrFocusPrevented
			}
			return ErrFocusTimeout
		case <-t.C:
			active, err := ewmh.ActiveWindowGet(x.xu)
			if err == nil && active == win {
				return nil
			}
		}
	}
}

// Grab registers a global chord in xgbutil key-sequence syntax, e.g.
// "mod4-shift-1".
func (x *X11) Grab(chord string, onPress, onRelease func()) error {
	err := keybind.KeyPressFun(func(xu *xgbutil.XUtil, ev xevent.KeyPressEvent) {
		go onPress()
	}).Connect(x.xu, x.root, chord, true)
	if err != nil {
		return fmt.Errorf("grab chord %q: %w", chord, err)
	}
	if onRelease != nil {
		err = keybind.KeyReleaseFun(func(xu *xgbutil.XUtil, ev xevent.KeyReleaseEvent) {
			go onRelease()
		}).Connect(x.xu, x.root, chord, true)
		if err != nil {
			return fmt.Errorf("grab chord release %q: %w", chord, err)
		}
	}
	return nil
}

// UngrabAll releases every grabbed chord.
func (x *X11) UngrabAll() {
	keybind.Detach(x.xu, x.root)
}

func (x *X11) pidOf(win xproto.Window) int32 {
	pid, err := ewmh.WmPidGet(x.xu, win)
	if err != nil {
		return 0
	}
	return int32(pid)
}

func (x *X11) titleOf(win xproto.Window) (string, error) {
	if title, err := ewmh.WmNameGet(x.xu, win); err == nil && title != "" {
		return title, nil
	}
	return icccm.WmNameGet(x.xu, win)
}

// isTopLevel treats direct children of the root window as top-level; window
// managers reparent clients, so membership in the EWMH client list also
// qualifies.
func (x *X11) isTopLevel(win xproto.Window) bool {
	if tree, err := xproto.QueryTree(x.xu.Conn(), win).Reply(); err == nil && tree.Parent == x.root {
		return true
	}
	clients, err := ewmh.ClientListGet(x.xu)
	if err != nil {
		return false
	}
	for _, c := range clients {
		if c == win {
			return true
		}
	}
	return false
}

func (x *X11) isFullscreen(win xproto.Window) bool {
	states, err := ewmh.WmStateGet(x.xu, win)
	if err != nil {
		return false
	}
	for _, st := range states {
		if st == "_NET_WM_STATE_FULLSCREEN" {
			return true
		}
	}
	return false
}

func classifyXError(err error) error {
	switch err.(type) {
	case xproto.WindowError:
		return ErrInvalidHandle
	case xproto.AccessError:
		return ErrAccessDenied
	default:
		return ErrFocusPrevented
	}
}
