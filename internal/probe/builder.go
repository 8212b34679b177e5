// Package probe discovers devices described by a flattened device tree,
// constructs their drivers and routes their interrupts to the controllers
// found in the same tree.
package probe

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinyrange/dtboot/internal/device"
	"github.com/tinyrange/dtboot/internal/devicetree"
	"github.com/tinyrange/dtboot/internal/iomap"
)

// Module tags every log record emitted while probing.
const Module = "device-tree"

// pending is a discovered device together with its interrupt wire list.
// The wire list is dropped once binding completes.
type pending struct {
	dev  device.Device
	node string
	wire devicetree.InterruptsProp
}

// intc is a controller lookup entry: the controller's position in the
// device list and the #interrupt-cells it declares.
type intc struct {
	index int
	cells uint32
}

// Builder probes a device tree and returns the devices it describes.
type Builder struct {
	tree     *devicetree.Tree
	mapper   iomap.Mapper
	registry *Registry
	log      *slog.Logger
	hook     func(path string)
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.log = l }
}

// WithRegistry replaces the default driver registry.
func WithRegistry(r *Registry) Option {
	return func(b *Builder) { b.registry = r }
}

// WithNodeHook installs a callback run for every visited node.
func WithNodeHook(fn func(path string)) Option {
	return func(b *Builder) { b.hook = fn }
}

// New prepares to probe the blob at dtbBase.
func New(dtbBase uintptr, mapper iomap.Mapper, opts ...Option) (*Builder, error) {
	tree, err := devicetree.FromAddr(dtbBase)
	if err != nil {
		return nil, err
	}
	return NewFromTree(tree, mapper, opts...), nil
}

// NewFromTree prepares to probe an already parsed tree.
func NewFromTree(tree *devicetree.Tree, mapper iomap.Mapper, opts ...Option) *Builder {
	b := &Builder{
		tree:   tree,
		mapper: mapper,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.registry == nil {
		b.registry = DefaultRegistry(DriverOptions{})
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	b.log = b.log.With("module", Module)
	return b
}

// Build walks the tree, constructs every supported device and binds device
// interrupts to their controllers. Node-level failures are logged and the
// node is skipped. A wire list naming an unknown controller, or a controller
// refusing a registration, fails the whole build with device.ErrInvalidParam
// and leaves no interrupt registered.
func (b *Builder) Build() ([]device.Device, error) {
	devs, intcs := b.discover()

	bindings, err := b.plan(devs, intcs)
	if err != nil {
		return nil, err
	}
	if err := b.apply(bindings); err != nil {
		return nil, err
	}

	out := make([]device.Device, len(devs))
	for i, p := range devs {
		out[i] = p.dev
	}
	return out, nil
}

func (b *Builder) discover() ([]pending, map[uint32]intc) {
	var devs []pending
	intcs := make(map[uint32]intc)

	b.tree.Walk(func(node *devicetree.Node, comp devicetree.StringList, props devicetree.InheritProps) {
		if b.hook != nil {
			b.hook(node.Path())
		}
		b.log.Debug("parsing node", "node", node.Path(), "compatible", comp)
		if !node.Enabled() {
			b.log.Debug("skipping disabled node", "node", node.Path())
			return
		}

		if node.HasProp("interrupt-controller") {
			p, phandle, cells, err := b.probeController(node, comp, props, intcs)
			switch {
			case err == nil:
				intcs[phandle] = intc{index: len(devs), cells: cells}
				devs = append(devs, p)
			case errors.Is(err, device.ErrNotSupported):
			default:
				b.log.Warn("failed to parse node", "node", node.Path(), "err", err)
			}
		}

		p, err := b.probeDevice(node, comp, props)
		switch {
		case err == nil:
			devs = append(devs, p)
		case errors.Is(err, device.ErrNotSupported):
		default:
			b.log.Warn("failed to parse node", "node", node.Path(), "err", err)
		}
	})
	return devs, intcs
}

// probeController probes an interrupt controller. A phandle already claimed by
// an earlier controller is refused before any driver runs.
func (b *Builder) probeController(node *devicetree.Node, comp devicetree.StringList, props devicetree.InheritProps, intcs map[uint32]intc) (pending, uint32, uint32, error) {
	phandle, err := node.PropU32("phandle")
	if err != nil {
		return pending{}, 0, 0, err
	}
	if _, dup := intcs[phandle]; dup {
		return pending{}, 0, 0, fmt.Errorf("phandle 0x%x already names a controller: %w", phandle, device.ErrAlreadyExists)
	}
	cells, err := node.PropU32("#interrupt-cells")
	if err != nil {
		return pending{}, 0, 0, err
	}
	p, err := b.probeWith(b.registry.controllers, node, comp, props)
	if err != nil {
		return pending{}, 0, 0, err
	}
	if _, ok := p.dev.Irq(); !ok {
		return pending{}, 0, 0, fmt.Errorf("controller driver built a %s device: %w", p.dev.Kind(), device.ErrInvalidParam)
	}
	return p, phandle, cells, nil
}

func (b *Builder) probeDevice(node *devicetree.Node, comp devicetree.StringList, props devicetree.InheritProps) (pending, error) {
	return b.probeWith(b.registry.devices, node, comp, props)
}

// probeWith tries each matching driver in order until one accepts the node.
func (b *Builder) probeWith(drivers []Driver, node *devicetree.Node, comp devicetree.StringList, props devicetree.InheritProps) (pending, error) {
	candidates := matching(drivers, comp)
	if len(candidates) == 0 {
		return pending{}, device.ErrNotSupported
	}

	wire, err := b.tree.ParseInterrupts(node, props)
	if err != nil {
		return pending{}, fmt.Errorf("interrupts: %w", err)
	}
	n := &Node{
		Node:       node,
		Compatible: comp,
		Props:      props,
		interrupts: wire,
		mapper:     b.mapper,
		log:        b.log,
	}

	for _, d := range candidates {
		dev, err := d.Probe(n)
		if errors.Is(err, device.ErrNotSupported) {
			b.log.Debug("driver declined node", "node", node.Path(), "driver", d.Name, "err", err)
			continue
		}
		if err != nil {
			return pending{}, fmt.Errorf("%s: %w", d.Name, err)
		}
		if dev.Inner() == nil {
			return pending{}, fmt.Errorf("%s returned no device: %w", d.Name, device.ErrInvalidParam)
		}
		return pending{dev: dev, node: node.Path(), wire: wire}, nil
	}
	return pending{}, device.ErrNotSupported
}
