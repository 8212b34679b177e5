package irq

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyrange/dtboot/internal/device"
)

// RISC-V interrupt cause numbers for the per-hart controller.
const (
	CauseSupervisorSoft  = 1
	CauseMachineSoft     = 3
	CauseSupervisorTimer = 5
	CauseMachineTimer    = 7
	CauseSupervisorExt   = 9
	CauseMachineExt      = 11

	cpuIntcCauses = 64
)

// CSR sets and clears bits of the hart's interrupt-enable register. The
// default hook only tracks state.
type CSR interface {
	SetEnable(cause uint32)
	ClearEnable(cause uint32)
}

// CPUIntc is the RISC-V per-hart local interrupt controller
// ("riscv,cpu-intc"). It consumes no MMIO window.
type CPUIntc struct {
	mu      sync.Mutex
	enabled uint64
	csr     CSR
	table   *HandlerTable
	log     *slog.Logger
}

// NewCPUIntc creates a per-hart controller. csr may be nil.
func NewCPUIntc(csr CSR) *CPUIntc {
	return &CPUIntc{
		csr:   csr,
		table: NewHandlerTable(),
		log:   slog.Default(),
	}
}

// SetLogger routes dispatch records to l.
func (c *CPUIntc) SetLogger(l *slog.Logger) {
	if l != nil {
		c.log = l
	}
}

// Name implements device.Scheme.
func (c *CPUIntc) Name() string { return "riscv-intc" }

// HandleIRQ dispatches a trap cause to the registered handler.
func (c *CPUIntc) HandleIRQ(cause uint32) {
	c.mu.Lock()
	enabled := cause < cpuIntcCauses && c.enabled&(1<<cause) != 0
	c.mu.Unlock()
	if !enabled {
		c.log.Debug("irq: masked cause on riscv-intc", "cause", cause)
		return
	}
	if !c.table.Dispatch(cause) {
		c.log.Warn("irq: no handler on riscv-intc", "cause", cause)
	}
}

// IsValidIRQ implements device.IrqScheme.
func (c *CPUIntc) IsValidIRQ(cause uint32) bool { return cause < cpuIntcCauses }

// Mask implements device.IrqScheme.
func (c *CPUIntc) Mask(cause uint32) error {
	if !c.IsValidIRQ(cause) {
		return fmt.Errorf("riscv-intc: cause %d: %w", cause, device.ErrInvalidParam)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled &^= 1 << cause
	if c.csr != nil {
		c.csr.ClearEnable(cause)
	}
	return nil
}

// Unmask implements device.IrqScheme.
func (c *CPUIntc) Unmask(cause uint32) error {
	if !c.IsValidIRQ(cause) {
		return fmt.Errorf("riscv-intc: cause %d: %w", cause, device.ErrInvalidParam)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled |= 1 << cause
	if c.csr != nil {
		c.csr.SetEnable(cause)
	}
	return nil
}

// Enabled reports whether cause is unmasked.
func (c *CPUIntc) Enabled(cause uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cause < cpuIntcCauses && c.enabled&(1<<cause) != 0
}

// RegisterHandler implements device.IrqScheme.
func (c *CPUIntc) RegisterHandler(cause uint32, fn device.IrqHandler) error {
	if !c.IsValidIRQ(cause) {
		return fmt.Errorf("riscv-intc: cause %d: %w", cause, device.ErrInvalidParam)
	}
	return c.table.RegisterHandler(cause, fn)
}

// RegisterDevice implements device.IrqScheme.
func (c *CPUIntc) RegisterDevice(cause uint32, dev device.Scheme) error {
	if !c.IsValidIRQ(cause) {
		return fmt.Errorf("riscv-intc: cause %d: %w", cause, device.ErrInvalidParam)
	}
	return c.table.RegisterDevice(cause, dev)
}

// UnregisterDevice implements device.IrqScheme.
func (c *CPUIntc) UnregisterDevice(cause uint32) error {
	return c.table.Unregister(cause)
}

var _ device.IrqScheme = (*CPUIntc)(nil)
