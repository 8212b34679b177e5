// Package irq implements the interrupt controllers device-tree probing can
// instantiate.
package irq

import (
	"fmt"
	"sync"

	"github.com/tinyrange/dtboot/internal/device"
)

// HandlerTable maps interrupt lines to handlers. Dispatch may run from
// interrupt context concurrently with registration.
type HandlerTable struct {
	mu       sync.Mutex
	handlers map[uint32]device.IrqHandler
	devices  map[uint32]device.Scheme
}

// NewHandlerTable returns an empty table.
func NewHandlerTable() *HandlerTable {
	return &HandlerTable{
		handlers: make(map[uint32]device.IrqHandler),
		devices:  make(map[uint32]device.Scheme),
	}
}

// RegisterHandler installs fn for irq.
func (t *HandlerTable) RegisterHandler(irq uint32, fn device.IrqHandler) error {
	if fn == nil {
		return fmt.Errorf("irq %d: nil handler: %w", irq, device.ErrInvalidParam)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.handlers[irq]; exists {
		return fmt.Errorf("irq %d: %w", irq, device.ErrAlreadyExists)
	}
	t.handlers[irq] = fn
	return nil
}

// RegisterDevice routes irq to dev.HandleIRQ.
func (t *HandlerTable) RegisterDevice(irq uint32, dev device.Scheme) error {
	if dev == nil {
		return fmt.Errorf("irq %d: nil device: %w", irq, device.ErrInvalidParam)
	}
	if err := t.RegisterHandler(irq, dev.HandleIRQ); err != nil {
		return err
	}
	t.mu.Lock()
	t.devices[irq] = dev
	t.mu.Unlock()
	return nil
}

// Unregister removes the handler for irq.
func (t *HandlerTable) Unregister(irq uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.handlers[irq]; !exists {
		return fmt.Errorf("irq %d: %w", irq, device.ErrNotFound)
	}
	delete(t.handlers, irq)
	delete(t.devices, irq)
	return nil
}

// Device returns the device registered for irq, if any.
func (t *HandlerTable) Device(irq uint32) (device.Scheme, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.devices[irq]
	return d, ok
}

// Dispatch runs the handler for irq outside the lock and reports whether
// one was registered.
func (t *HandlerTable) Dispatch(irq uint32) bool {
	t.mu.Lock()
	fn := t.handlers[irq]
	t.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(irq)
	return true
}
