package probe

import (
	"fmt"

	"github.com/tinyrange/dtboot/internal/device"
)

// NoIRQ marks a wire-list group that is present but routes no interrupt.
const NoIRQ = 0xffffffff

// binding is one planned register+unmask pair.
type binding struct {
	ctrl device.IrqScheme
	irq  uint32
	dev  device.Device
}

// plan decodes every wire list against the controller table. It does not
// touch any controller, so a structural error leaves the system untouched.
func (b *Builder) plan(devs []pending, intcs map[uint32]intc) ([]binding, error) {
	var out []binding
	for _, p := range devs {
		wire := p.wire
		for len(wire) > 0 {
			phandle := wire[0]
			ic, ok := intcs[phandle]
			if !ok {
				b.log.Warn("no such node as the interrupt-parent", "phandle", fmt.Sprintf("%#x", phandle), "node", p.node)
				return nil, fmt.Errorf("%s: interrupt-parent %#x: %w", p.node, phandle, device.ErrInvalidParam)
			}
			group := 1 + int(ic.cells)
			if len(wire) < group {
				return nil, fmt.Errorf("%s: interrupt group for %#x has %d cells, want %d: %w",
					p.node, phandle, len(wire), group, device.ErrInvalidParam)
			}
			if ic.cells == 0 {
				wire = wire[1:]
				continue
			}
			num := wire[1]
			wire = wire[group:]
			if num == NoIRQ {
				continue
			}

			ctrl, ok := devs[ic.index].dev.Irq()
			if !ok {
				panic(fmt.Sprintf("probe: controller table entry %d for phandle %#x is %s", ic.index, phandle, devs[ic.index].dev))
			}
			out = append(out, binding{ctrl: ctrl, irq: num, dev: p.dev})
		}
	}
	return out, nil
}

// apply issues the planned registrations in order. On failure every binding
// made so far is undone, newest first.
func (b *Builder) apply(bindings []binding) error {
	for i, bd := range bindings {
		b.log.Info("register interrupts", "controller", bd.ctrl.Name(), "device", bd.dev.String(), "irq", bd.irq)
		if err := bd.ctrl.RegisterDevice(bd.irq, bd.dev.Inner()); err != nil {
			b.rollback(bindings[:i])
			return fmt.Errorf("register irq %d on %s for %s: %w: %w", bd.irq, bd.ctrl.Name(), bd.dev, device.ErrInvalidParam, err)
		}
		if err := bd.ctrl.Unmask(bd.irq); err != nil {
			b.rollback(bindings[:i+1])
			return fmt.Errorf("unmask irq %d on %s for %s: %w: %w", bd.irq, bd.ctrl.Name(), bd.dev, device.ErrInvalidParam, err)
		}
	}
	return nil
}

func (b *Builder) rollback(done []binding) {
	for i := len(done) - 1; i >= 0; i-- {
		bd := done[i]
		if err := bd.ctrl.Mask(bd.irq); err != nil {
			b.log.Debug("rollback mask", "controller", bd.ctrl.Name(), "irq", bd.irq, "err", err)
		}
		if err := bd.ctrl.UnregisterDevice(bd.irq); err != nil {
			b.log.Debug("rollback unregister", "controller", bd.ctrl.Name(), "irq", bd.irq, "err", err)
		}
	}
}
