package input

import (
	"fmt"
	"sync"

	"github.com/0xcafed00d/joystick"
)

// maxJoysticks bounds the id probe range during enumeration.
const maxJoysticks = 8

// JoystickProvider is the secondary controller backend, reading the legacy
// joystick interface. Pads that only answer on this API still get polled.
type JoystickProvider struct {
	mu   sync.Mutex
	open map[int]*joystickDevice
}

func NewJoystickProvider() *JoystickProvider {
	return &JoystickProvider{open: make(map[int]*joystickDevice)}
}

func (p *JoystickProvider) Name() string { return "joystick" }

func (p *JoystickProvider) Devices() []Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := 0; id < maxJoysticks; id++ {
		if _, ok := p.open[id]; ok {
			continue
		}
		js, err := joystick.Open(id)
		if err != nil {
			continue
		}
		p.open[id] = &joystickDevice{id: id, js: js, p: p}
	}
	out := make([]Device, 0, len(p.open))
	for _, d := range p.open {
		out = append(out, d)
	}
	return out
}

// Forget releases a device whose reads started failing so a replug can be
// re-opened on the next enumeration.
func (p *JoystickProvider) Forget(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.open[id]; ok {
		d.js.Close()
		delete(p.open, id)
	}
}

func (p *JoystickProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, d := range p.open {
		d.js.Close()
		delete(p.open, id)
	}
}

type joystickDevice struct {
	id int
	js joystick.Joystick
	p  *JoystickProvider
}

func (d *joystickDevice) Key() string    { return fmt.Sprintf("joystick:%d", d.id) }
func (d *joystickDevice) Source() string { return "joystick" }

func (d *joystickDevice) Buttons() (uint32, error) {
	st, err := d.js.Read()
	if err != nil {
		d.p.Forget(d.id)
		return 0, err
	}
	return st.Buttons, nil
}
