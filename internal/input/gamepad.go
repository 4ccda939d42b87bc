package input

// Device is one pollable controller. Buttons returns the current button
// state as a 32-bit mask, bit i for button i.
type Device interface {
	// Key uniquely identifies the device for state bookkeeping (path or
	// provider-scoped index).
	Key() string
	// Source names the provider for event attribution.
	Source() string
	Buttons() (uint32, error)
}

// Provider enumerates the controllers one backend can see. Two backends run
// side by side so whichever API a given pad answers on is the one that
// reports it; duplicate events for the same physical press are absorbed
// downstream by the orchestrator's debounce window.
type Provider interface {
	Name() string
	Devices() []Device
}
