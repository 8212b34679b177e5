package device

import "sync"

// Registry is the system-wide collection of probed devices.
type Registry struct {
	mu      sync.RWMutex
	devices []Device
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add appends devices in order.
func (r *Registry) Add(devs ...Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = append(r.devices, devs...)
}

// All returns a snapshot of every registered device.
func (r *Registry) All() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Device(nil), r.devices...)
}

// OfKind returns the registered devices of kind k in registration order.
func (r *Registry) OfKind(k Kind) []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Device
	for _, d := range r.devices {
		if d.Kind() == k {
			out = append(out, d)
		}
	}
	return out
}

// First returns the earliest registered device of kind k.
func (r *Registry) First(k Kind) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if d.Kind() == k {
			return d, true
		}
	}
	return Device{}, false
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
