//go:build linux || darwin

package irq

import (
	"errors"
	"sync"
	"testing"

	"github.com/tinyrange/dtboot/internal/device"
	"github.com/tinyrange/dtboot/internal/iomap"
	"github.com/tinyrange/dtboot/internal/mmio"
)

const plicTestSize = 0x400000

type countingDevice struct {
	mu   sync.Mutex
	name string
	irqs []uint32
}

func (d *countingDevice) Name() string { return d.name }

func (d *countingDevice) HandleIRQ(irq uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.irqs = append(d.irqs, irq)
}

func newTestPLIC(t *testing.T, ndev uint32) (*PLIC, *iomap.Window) {
	t.Helper()
	sim := iomap.NewSim()
	t.Cleanup(func() { sim.Close() })
	w, err := sim.AddWindow(0x0c000000, plicTestSize)
	if err != nil {
		t.Fatalf("AddWindow: %v", err)
	}
	virt, _ := sim.QueryOrMap(0x0c000000, plicTestSize)
	p, err := NewPLIC(mmio.New(virt, plicTestSize), ndev, PLICDefaultContext)
	if err != nil {
		t.Fatalf("NewPLIC: %v", err)
	}
	return p, w
}

func TestPLICUnmaskProgramsRegisters(t *testing.T) {
	p, w := newTestPLIC(t, 53)

	if err := p.Unmask(10); err != nil {
		t.Fatalf("Unmask: %v", err)
	}
	if got := w.Get32(PLICPriorityBase + 4*10); got != plicEnablePriority {
		t.Fatalf("priority[10] = %d", got)
	}
	enable := uint64(PLICEnableBase + PLICDefaultContext*PLICEnableStride)
	if got := w.Get32(enable); got != 1<<10 {
		t.Fatalf("enable word = %#x", got)
	}
	if !p.Enabled(10) {
		t.Fatal("source 10 not reported enabled")
	}

	if err := p.Unmask(33); err != nil {
		t.Fatalf("Unmask(33): %v", err)
	}
	if got := w.Get32(enable + 4); got != 1<<1 {
		t.Fatalf("second enable word = %#x", got)
	}

	if err := p.Mask(10); err != nil {
		t.Fatalf("Mask: %v", err)
	}
	if got := w.Get32(enable); got != 0 {
		t.Fatalf("enable word after mask = %#x", got)
	}
}

func TestPLICRejectsOutOfRangeSources(t *testing.T) {
	p, _ := newTestPLIC(t, 53)
	dev := &countingDevice{name: "uart"}

	for _, src := range []uint32{0, 54, 0xffff} {
		if err := p.RegisterDevice(src, dev); !errors.Is(err, device.ErrInvalidParam) {
			t.Fatalf("RegisterDevice(%d) error = %v", src, err)
		}
		if err := p.Unmask(src); !errors.Is(err, device.ErrInvalidParam) {
			t.Fatalf("Unmask(%d) error = %v", src, err)
		}
	}
}

func TestPLICClaimDispatchComplete(t *testing.T) {
	p, w := newTestPLIC(t, 53)
	dev := &countingDevice{name: "uart"}
	if err := p.RegisterDevice(10, dev); err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	if err := p.RegisterDevice(10, dev); !errors.Is(err, device.ErrAlreadyExists) {
		t.Fatalf("duplicate RegisterDevice error = %v", err)
	}

	claim := uint64(PLICThresholdBase + PLICDefaultContext*PLICContextStride + PLICClaimOffset)
	w.Put32(claim, 10)
	p.HandleIRQ(CauseSupervisorExt)

	if len(dev.irqs) != 1 || dev.irqs[0] != 10 {
		t.Fatalf("device saw %v", dev.irqs)
	}

	w.Put32(claim, 0)
	p.HandleIRQ(CauseSupervisorExt)
	if len(dev.irqs) != 1 {
		t.Fatalf("empty claim dispatched: %v", dev.irqs)
	}

	if err := p.UnregisterDevice(10); err != nil {
		t.Fatalf("UnregisterDevice: %v", err)
	}
	if err := p.UnregisterDevice(10); !errors.Is(err, device.ErrNotFound) {
		t.Fatalf("second UnregisterDevice error = %v", err)
	}
}

func TestNewPLICValidatesWindow(t *testing.T) {
	sim := iomap.NewSim()
	defer sim.Close()
	if _, err := sim.AddWindow(0x1000, 0x1000); err != nil {
		t.Fatalf("AddWindow: %v", err)
	}
	virt, _ := sim.QueryOrMap(0x1000, 0x1000)
	if _, err := NewPLIC(mmio.New(virt, 0x1000), 31, PLICDefaultContext); !errors.Is(err, device.ErrInvalidParam) {
		t.Fatalf("NewPLIC small window error = %v", err)
	}
}

type recordingCSR struct{ set, cleared []uint32 }

func (r *recordingCSR) SetEnable(c uint32) { r.set = append(r.set, c) }
func (r *recordingCSR) ClearEnable(c uint32) { r.cleared = append(r.cleared, c) }

func TestCPUIntc(t *testing.T) {
	csr := &recordingCSR{}
	c := NewCPUIntc(csr)
	plic := &countingDevice{name: "riscv-plic"}

	if err := c.RegisterDevice(CauseSupervisorExt, plic); err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}

	c.HandleIRQ(CauseSupervisorExt)
	if len(plic.irqs) != 0 {
		t.Fatal("masked cause was dispatched")
	}

	if err := c.Unmask(CauseSupervisorExt); err != nil {
		t.Fatalf("Unmask: %v", err)
	}
	c.HandleIRQ(CauseSupervisorExt)
	if len(plic.irqs) != 1 || plic.irqs[0] != CauseSupervisorExt {
		t.Fatalf("dispatched %v", plic.irqs)
	}
	if len(csr.set) != 1 || csr.set[0] != CauseSupervisorExt {
		t.Fatalf("csr set = %v", csr.set)
	}

	if err := c.Mask(CauseSupervisorExt); err != nil {
		t.Fatalf("Mask: %v", err)
	}
	if c.Enabled(CauseSupervisorExt) {
		t.Fatal("cause still enabled after Mask")
	}
	if err := c.Unmask(64); !errors.Is(err, device.ErrInvalidParam) {
		t.Fatalf("Unmask(64) error = %v", err)
	}
}
