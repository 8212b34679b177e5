// Package device defines the device handles produced by device-tree probing
// and the capability contracts drivers implement.
package device

import "fmt"

// Kind tags the class of a Device.
type Kind int

const (
	KindIrq Kind = iota
	KindUart
	KindBlock
	KindDisplay
	KindInput
	KindNet
)

func (k Kind) String() string {
	switch k {
	case KindIrq:
		return "irq"
	case KindUart:
		return "uart"
	case KindBlock:
		return "block"
	case KindDisplay:
		return "display"
	case KindInput:
		return "input"
	case KindNet:
		return "net"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Device is a class-tagged driver handle. The handle is shared: the device
// list, the controller lookup table and any interrupt dispatch table all
// point at the same driver instance.
type Device struct {
	kind   Kind
	scheme Scheme
}

// NewIrq wraps an interrupt controller.
func NewIrq(s IrqScheme) Device { return Device{kind: KindIrq, scheme: s} }

// NewUart wraps a serial port.
func NewUart(s UartScheme) Device { return Device{kind: KindUart, scheme: s} }

// NewBlock wraps a block device.
func NewBlock(s BlockScheme) Device { return Device{kind: KindBlock, scheme: s} }

// NewDisplay wraps a display controller.
func NewDisplay(s DisplayScheme) Device { return Device{kind: KindDisplay, scheme: s} }

// NewInput wraps an input device.
func NewInput(s InputScheme) Device { return Device{kind: KindInput, scheme: s} }

// NewNet wraps a network interface.
func NewNet(s NetScheme) Device { return Device{kind: KindNet, scheme: s} }

// Kind returns the device class.
func (d Device) Kind() Kind { return d.kind }

// Inner returns the shared driver handle.
func (d Device) Inner() Scheme { return d.scheme }

// Irq returns the controller capability if d is an interrupt controller.
func (d Device) Irq() (IrqScheme, bool) {
	if d.kind != KindIrq {
		return nil, false
	}
	s, ok := d.scheme.(IrqScheme)
	return s, ok
}

func (d Device) Uart() (UartScheme, bool) {
	if d.kind != KindUart {
		return nil, false
	}
	s, ok := d.scheme.(UartScheme)
	return s, ok
}

func (d Device) Block() (BlockScheme, bool) {
	if d.kind != KindBlock {
		return nil, false
	}
	s, ok := d.scheme.(BlockScheme)
	return s, ok
}

func (d Device) Display() (DisplayScheme, bool) {
	if d.kind != KindDisplay {
		return nil, false
	}
	s, ok := d.scheme.(DisplayScheme)
	return s, ok
}

func (d Device) Input() (InputScheme, bool) {
	if d.kind != KindInput {
		return nil, false
	}
	s, ok := d.scheme.(InputScheme)
	return s, ok
}

func (d Device) Net() (NetScheme, bool) {
	if d.kind != KindNet {
		return nil, false
	}
	s, ok := d.scheme.(NetScheme)
	return s, ok
}

func (d Device) String() string {
	if d.scheme == nil {
		return d.kind.String() + "(<nil>)"
	}
	return d.kind.String() + "(" + d.scheme.Name() + ")"
}
