package irq

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyrange/dtboot/internal/device"
	"github.com/tinyrange/dtboot/internal/mmio"
)

// PLIC register offsets
const (
	PLICPriorityBase  = 0x000000 // Priority registers (1024 sources)
	PLICPendingBase   = 0x001000 // Pending bits
	PLICEnableBase    = 0x002000 // Enable bits per context
	PLICThresholdBase = 0x200000 // Threshold and claim per context

	PLICEnableStride  = 0x80
	PLICContextStride = 0x1000
	PLICClaimOffset   = 4

	// PLICMaxSources is the architectural source limit; source 0 is reserved.
	PLICMaxSources = 1024

	// PLICDefaultContext is hart 0 supervisor mode.
	PLICDefaultContext = 1

	plicEnablePriority = 1
)

// PLIC is a driver for the RISC-V Platform Level Interrupt Controller.
type PLIC struct {
	mu      sync.Mutex
	regs    mmio.Region
	ndev    uint32
	context uint32
	table   *HandlerTable
	log     *slog.Logger
}

// NewPLIC binds a PLIC driver to its mapped register window. ndev is the
// highest valid source (the node's "riscv,ndev"); ctx selects the hart
// context whose enable and claim registers are used.
func NewPLIC(regs mmio.Region, ndev, ctx uint32) (*PLIC, error) {
	if ndev == 0 || ndev >= PLICMaxSources {
		return nil, fmt.Errorf("plic: ndev %d out of range: %w", ndev, device.ErrInvalidParam)
	}
	if regs.Size() < PLICThresholdBase+uint64(ctx+1)*PLICContextStride {
		return nil, fmt.Errorf("plic: window of 0x%x bytes too small for context %d: %w",
			regs.Size(), ctx, device.ErrInvalidParam)
	}
	p := &PLIC{
		regs:    regs,
		ndev:    ndev,
		context: ctx,
		table:   NewHandlerTable(),
		log:     slog.Default(),
	}
	p.regs.Write32(p.thresholdReg(), 0)
	return p, nil
}

// SetLogger routes dispatch warnings to l.
func (p *PLIC) SetLogger(l *slog.Logger) {
	if l != nil {
		p.log = l
	}
}

// Name implements device.Scheme.
func (p *PLIC) Name() string { return "riscv-plic" }

// HandleIRQ is called for the upstream external-interrupt cause. It claims
// one pending source, dispatches it and signals completion.
func (p *PLIC) HandleIRQ(uint32) {
	p.mu.Lock()
	source := p.regs.Read32(p.claimReg())
	p.mu.Unlock()
	if source == 0 {
		return
	}

	if !p.table.Dispatch(source) {
		p.log.Warn("irq: no handler on riscv-plic", "source", source)
	}

	p.mu.Lock()
	p.regs.Write32(p.claimReg(), source)
	p.mu.Unlock()
}

// IsValidIRQ implements device.IrqScheme.
func (p *PLIC) IsValidIRQ(source uint32) bool {
	return source > 0 && source <= p.ndev
}

// Mask implements device.IrqScheme.
func (p *PLIC) Mask(source uint32) error {
	if !p.IsValidIRQ(source) {
		return fmt.Errorf("plic: source %d: %w", source, device.ErrInvalidParam)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	reg := p.enableReg(source)
	p.regs.Write32(reg, p.regs.Read32(reg)&^(1<<(source%32)))
	return nil
}

// Unmask implements device.IrqScheme.
func (p *PLIC) Unmask(source uint32) error {
	if !p.IsValidIRQ(source) {
		return fmt.Errorf("plic: source %d: %w", source, device.ErrInvalidParam)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	prio := uint64(PLICPriorityBase + 4*source)
	if p.regs.Read32(prio) == 0 {
		p.regs.Write32(prio, plicEnablePriority)
	}
	reg := p.enableReg(source)
	p.regs.Write32(reg, p.regs.Read32(reg)|1<<(source%32))
	return nil
}

// Enabled reports whether source is enabled for this context.
func (p *PLIC) Enabled(source uint32) bool {
	if !p.IsValidIRQ(source) {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.regs.Read32(p.enableReg(source))&(1<<(source%32)) != 0
}

// RegisterHandler implements device.IrqScheme.
func (p *PLIC) RegisterHandler(source uint32, fn device.IrqHandler) error {
	if !p.IsValidIRQ(source) {
		return fmt.Errorf("plic: source %d: %w", source, device.ErrInvalidParam)
	}
	return p.table.RegisterHandler(source, fn)
}

// RegisterDevice implements device.IrqScheme.
func (p *PLIC) RegisterDevice(source uint32, dev device.Scheme) error {
	if !p.IsValidIRQ(source) {
		return fmt.Errorf("plic: source %d: %w", source, device.ErrInvalidParam)
	}
	return p.table.RegisterDevice(source, dev)
}

// UnregisterDevice implements device.IrqScheme.
func (p *PLIC) UnregisterDevice(source uint32) error {
	return p.table.Unregister(source)
}

func (p *PLIC) enableReg(source uint32) uint64 {
	return PLICEnableBase + uint64(p.context)*PLICEnableStride + uint64(source/32)*4
}

func (p *PLIC) thresholdReg() uint64 {
	return PLICThresholdBase + uint64(p.context)*PLICContextStride
}

func (p *PLIC) claimReg() uint64 {
	return p.thresholdReg() + PLICClaimOffset
}

var _ device.IrqScheme = (*PLIC)(nil)
