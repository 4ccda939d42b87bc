// Package input turns two independent sources, a global keyboard-chord hook
// and a fixed-rate controller poll, into one stream of edge-triggered
// "binding pressed" events.
package input

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atperry7/ffxi-manager-sub000/internal/metrics"
	"github.com/atperry7/ffxi-manager-sub000/internal/winsys"
)

// DefaultPollHz is the controller poll rate when none is configured.
const DefaultPollHz = 60

// rescanEvery controls how often controller providers re-enumerate devices,
// in poll ticks. Hot-plugged devices appear on the next rescan.
const rescanEvery = 120

// Press is one edge-triggered binding activation request.
type Press struct {
	BindingID int
	Source    string // "keyboard", or the controller provider name
	At        time.Time
}

// Button identifies one controller button by index, provider-agnostic.
type Button struct {
	Index int
}

// Capture owns binding registration and both input sources. Bindings are
// idempotent inserts into maps guarded by one mutex; detection is strictly
// edge-triggered, so holding a key or button never repeats an event.
type Capture struct {
	mu      sync.Mutex
	chords  map[int]string // binding id -> grabbed chord
	buttons map[int]Button // binding id -> controller button
	keyHeld map[int]bool   // keyboard edge state per binding id

	grabber   winsys.ChordGrabber
	providers []Provider
	pollHz    int

	active  []Device
	prev    map[string]uint32 // device key -> last button mask
	presses chan Press
	cancel  context.CancelFunc
	done    chan struct{}
	log     *slog.Logger
}

func NewCapture(grabber winsys.ChordGrabber, pollHz int, providers ...Provider) *Capture {
	if pollHz <= 0 {
		pollHz = DefaultPollHz
	}
	return &Capture{
		chords:    make(map[int]string),
		buttons:   make(map[int]Button),
		keyHeld:   make(map[int]bool),
		grabber:   grabber,
		providers: providers,
		pollHz:    pollHz,
		prev:      make(map[string]uint32),
		presses:   make(chan Press, 64),
		log:       slog.Default().With("component", "input"),
	}
}

// Presses is the unified binding-pressed stream.
func (c *Capture) Presses() <-chan Press { return c.presses }

// RegisterBinding grabs a keyboard chord for a binding id. Re-registering
// the same id with the same chord is a no-op.
func (c *Capture) RegisterBinding(id int, chord string) error {
	c.mu.Lock()
	if existing, ok := c.chords[id]; ok && existing == chord {
		c.mu.Unlock()
		return nil
	}
	c.chords[id] = chord
	c.mu.Unlock()

	if c.grabber == nil {
		return nil
	}
	err := c.grabber.Grab(chord,
		func() { c.keyEdge(id, true) },
		func() { c.keyEdge(id, false) },
	)
	if err != nil {
		return fmt.Errorf("register binding %d: %w", id, err)
	}
	return nil
}

// RegisterButton binds a controller button to a binding id. Idempotent.
func (c *Capture) RegisterButton(id int, b Button) {
	c.mu.Lock()
	c.buttons[id] = b
	c.mu.Unlock()
}

// UnregisterAll releases every chord grab and clears all bindings.
func (c *Capture) UnregisterAll() {
	c.mu.Lock()
	c.chords = make(map[int]string)
	c.buttons = make(map[int]Button)
	c.keyHeld = make(map[int]bool)
	c.mu.Unlock()
	if c.grabber != nil {
		c.grabber.UngrabAll()
	}
}

// keyEdge applies the not-pressed -> pressed transition rule for keyboard
// chords. X-style autorepeat delivers repeated presses while held; only the
// first one raises an event.
func (c *Capture) keyEdge(id int, pressed bool) {
	c.mu.Lock()
	was := c.keyHeld[id]
	c.keyHeld[id] = pressed
	c.mu.Unlock()
	if pressed && !was {
		c.emit(Press{BindingID: id, Source: "keyboard", At: time.Now()})
	}
}

// Start begins the controller poll loop. Keyboard chords are event-driven
// and need no loop.
func (c *Capture) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.pollLoop(cctx)
}

// Stop halts polling and waits for the loop to exit.
func (c *Capture) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
		c.cancel = nil
	}
}

func (c *Capture) pollLoop(ctx context.Context) {
	defer close(c.done)
	c.rescan()
	t := time.NewTicker(time.Second / time.Duration(c.pollHz))
	defer t.Stop()
	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			tick++
			if tick%rescanEvery == 0 {
				c.rescan()
			}
			c.pollOnce()
		}
	}
}

// rescan re-enumerates devices across every provider. Devices that vanished
// lose their previous-state entry so a later reconnect starts clean.
func (c *Capture) rescan() {
	var devices []Device
	for _, p := range c.providers {
		devices = append(devices, p.Devices()...)
	}
	seen := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		seen[d.Key()] = struct{}{}
	}
	c.mu.Lock()
	for key := range c.prev {
		if _, ok := seen[key]; !ok {
			delete(c.prev, key)
		}
	}
	c.active = devices
	c.mu.Unlock()
}

// pollOnce samples every active device and raises an event per
// not-pressed -> pressed button transition. A failed per-device read drops
// that device from the active set without raising an error; reconnection is
// picked up on the next rescan.
func (c *Capture) pollOnce() {
	c.mu.Lock()
	devices := append([]Device(nil), c.active...)
	bindings := make(map[int]Button, len(c.buttons))
	for id, b := range c.buttons {
		bindings[id] = b
	}
	c.mu.Unlock()

	var dead []string
	for _, d := range devices {
		mask, err := d.Buttons()
		if err != nil {
			dead = append(dead, d.Key())
			continue
		}
		c.mu.Lock()
		prev := c.prev[d.Key()]
		c.prev[d.Key()] = mask
		c.mu.Unlock()

		newly := mask &^ prev
		if newly == 0 {
			continue
		}
		for id, b := range bindings {
			if b.Index >= 0 && b.Index < 32 && newly&(1<<uint(b.Index)) != 0 {
				c.emit(Press{BindingID: id, Source: d.Source(), At: time.Now()})
			}
		}
	}
	if len(dead) > 0 {
		c.dropDevices(dead)
	}
}

func (c *Capture) dropDevices(keys []string) {
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}
	c.mu.Lock()
	kept := c.active[:0]
	for _, d := range c.active {
		if _, gone := drop[d.Key()]; gone {
			delete(c.prev, d.Key())
			continue
		}
		kept = append(kept, d)
	}
	c.active = kept
	c.mu.Unlock()
	c.log.Debug("controller disconnected", "count", len(keys))
}

func (c *Capture) emit(p Press) {
	metrics.IncPress(p.Source)
	select {
	case c.presses <- p:
	default:
		// A full queue means triggers are arriving faster than activations
		// can drain; the orchestrator's circuit breaker is the real guard,
		// dropping here just keeps the sources from blocking.
		c.log.Warn("dropping binding press, queue full", "binding", p.BindingID)
	}
}
