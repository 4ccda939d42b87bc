package input

import (
	"fmt"
	"sync"

	"github.com/holoplot/go-evdev"
)

// EvdevProvider polls gamepads through the kernel event-device interface.
// This is the primary controller backend; per-key state comes from the
// device's key bitmap so polling never competes with event readers.
type EvdevProvider struct {
	mu   sync.Mutex
	open map[string]*evdevDevice
}

func NewEvdevProvider() *EvdevProvider {
	return &EvdevProvider{open: make(map[string]*evdevDevice)}
}

func (p *EvdevProvider) Name() string { return "evdev" }

// Devices reconciles the open-device cache against the current event-device
// list. Only nodes advertising gamepad buttons are kept.
func (p *EvdevProvider) Devices() []Device {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		paths = nil
	}
	present := make(map[string]struct{}, len(paths))

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ip := range paths {
		present[ip.Path] = struct{}{}
		if _, ok := p.open[ip.Path]; ok {
			continue
		}
		dev, err := evdev.Open(ip.Path)
		if err != nil {
			continue
		}
		if !isGamepad(dev) {
			dev.Close()
			continue
		}
		p.open[ip.Path] = &evdevDevice{path: ip.Path, dev: dev}
	}
	for path, d := range p.open {
		if _, ok := present[path]; !ok {
			d.dev.Close()
			delete(p.open, path)
		}
	}

	out := make([]Device, 0, len(p.open))
	for _, d := range p.open {
		out = append(out, d)
	}
	return out
}

func (p *EvdevProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for path, d := range p.open {
		d.dev.Close()
		delete(p.open, path)
	}
}

func isGamepad(dev *evdev.InputDevice) bool {
	for _, code := range dev.CapableEvents(evdev.EV_KEY) {
		if code == evdev.BTN_SOUTH {
			return true
		}
	}
	return false
}

type evdevDevice struct {
	path string
	dev  *evdev.InputDevice
}

func (d *evdevDevice) Key() string    { return fmt.Sprintf("evdev:%s", d.path) }
func (d *evdevDevice) Source() string { return "evdev" }

// Buttons maps the gamepad button block onto mask bits, button 0 at
// BTN_GAMEPAD.
func (d *evdevDevice) Buttons() (uint32, error) {
	state, err := d.dev.State(evdev.EV_KEY)
	if err != nil {
		return 0, err
	}
	var mask uint32
	for i := 0; i < 16; i++ {
		if state[evdev.BTN_GAMEPAD+evdev.EvCode(i)] {
			mask |= 1 << uint(i)
		}
	}
	return mask, nil
}
