package device

import "net"

// Scheme is the capability every driver handle implements.
type Scheme interface {
	// Name identifies the driver in diagnostics.
	Name() string

	// HandleIRQ is invoked by the owning interrupt controller when the
	// line registered for this device fires. It may run in interrupt
	// context, concurrently with any other method.
	HandleIRQ(irq uint32)
}

// IrqHandler is a bare interrupt callback.
type IrqHandler func(irq uint32)

// IrqScheme is implemented by interrupt controllers.
type IrqScheme interface {
	Scheme

	// IsValidIRQ reports whether irq is a line this controller can route.
	IsValidIRQ(irq uint32) bool

	Mask(irq uint32) error
	Unmask(irq uint32) error

	// RegisterHandler installs a callback for irq.
	RegisterHandler(irq uint32, handler IrqHandler) error

	// RegisterDevice routes irq to dev.HandleIRQ.
	RegisterDevice(irq uint32, dev Scheme) error

	// UnregisterDevice removes whatever was registered for irq.
	UnregisterDevice(irq uint32) error
}

// UartScheme is implemented by serial ports and consoles.
type UartScheme interface {
	Scheme

	// TryRecv returns the next received byte, if one is pending.
	TryRecv() (byte, bool, error)
	Send(ch byte) error
	WriteString(s string) error

	// Subscribe registers fn to run on every receive interrupt.
	Subscribe(fn func(), once bool)
}

// BlockScheme is implemented by block devices.
type BlockScheme interface {
	Scheme

	// Capacity is the device size in 512-byte sectors.
	Capacity() uint64
	BlockSize() uint32
	ReadOnly() bool
}

// DisplayScheme is implemented by display controllers.
type DisplayScheme interface {
	Scheme
	NumScanouts() uint32
}

// InputScheme is implemented by input devices.
type InputScheme interface {
	Scheme
	InputName() string
	Subscribe(fn func(), once bool)
}

// NetScheme is implemented by network interfaces.
type NetScheme interface {
	Scheme
	MACAddress() net.HardwareAddr
	LinkUp() bool
}
