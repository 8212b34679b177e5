package probe

import (
	"fmt"
	"slices"

	"github.com/tinyrange/dtboot/internal/device"
	"github.com/tinyrange/dtboot/internal/devicetree"
)

// ProbeFunc constructs a device for a node. Returning device.ErrNotSupported
// declines the node and lets the next matching driver try.
type ProbeFunc func(n *Node) (device.Device, error)

// Driver binds a set of compatible strings to a constructor.
type Driver struct {
	Name       string
	Compatible []string
	Probe      ProbeFunc
}

// Matches reports whether any of the node's compatible strings is one of
// the driver's.
func (d Driver) Matches(compatible devicetree.StringList) bool {
	return compatible.ContainsAny(d.Compatible...)
}

func (d Driver) validate() error {
	if d.Name == "" {
		return fmt.Errorf("driver name is empty: %w", device.ErrInvalidParam)
	}
	if len(d.Compatible) == 0 {
		return fmt.Errorf("driver %q has no compatible strings: %w", d.Name, device.ErrInvalidParam)
	}
	if d.Probe == nil {
		return fmt.Errorf("driver %q has nil probe: %w", d.Name, device.ErrInvalidParam)
	}
	return nil
}

// Registry holds the ordered driver lists consulted during discovery.
// Interrupt-controller drivers are only tried on nodes carrying the
// "interrupt-controller" flag; device drivers are tried on every node.
// Earlier registrations take priority.
type Registry struct {
	controllers []Driver
	devices     []Driver
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterController appends an interrupt-controller driver.
func (r *Registry) RegisterController(d Driver) error {
	if err := r.check(d); err != nil {
		return err
	}
	r.controllers = append(r.controllers, d)
	return nil
}

// RegisterDevice appends an ordinary device driver.
func (r *Registry) RegisterDevice(d Driver) error {
	if err := r.check(d); err != nil {
		return err
	}
	r.devices = append(r.devices, d)
	return nil
}

func (r *Registry) check(d Driver) error {
	if err := d.validate(); err != nil {
		return err
	}
	if slices.Contains(r.Names(), d.Name) {
		return fmt.Errorf("driver %q: %w", d.Name, device.ErrAlreadyExists)
	}
	return nil
}

// Controllers returns the interrupt-controller drivers in priority order.
func (r *Registry) Controllers() []Driver { return slices.Clone(r.controllers) }

// Devices returns the device drivers in priority order.
func (r *Registry) Devices() []Driver { return slices.Clone(r.devices) }

// Names lists every driver name, controllers first.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.controllers)+len(r.devices))
	for _, d := range r.controllers {
		names = append(names, d.Name)
	}
	for _, d := range r.devices {
		names = append(names, d.Name)
	}
	return names
}

// Without returns a copy of the registry with the named drivers removed.
func (r *Registry) Without(names ...string) *Registry {
	keep := func(d Driver) bool { return !slices.Contains(names, d.Name) }
	out := &Registry{}
	for _, d := range r.controllers {
		if keep(d) {
			out.controllers = append(out.controllers, d)
		}
	}
	for _, d := range r.devices {
		if keep(d) {
			out.devices = append(out.devices, d)
		}
	}
	return out
}

func matching(drivers []Driver, compatible devicetree.StringList) []Driver {
	var out []Driver
	for _, d := range drivers {
		if d.Matches(compatible) {
			out = append(out, d)
		}
	}
	return out
}
