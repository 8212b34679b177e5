//go:build linux || darwin

package probe

import (
	"bytes"
	"errors"
	"runtime"
	"slices"
	"strings"
	"testing"
	"unsafe"

	"github.com/tinyrange/dtboot/internal/device"
	"github.com/tinyrange/dtboot/internal/fdt"
	"github.com/tinyrange/dtboot/internal/iomap"
	"github.com/tinyrange/dtboot/internal/irq"
	"github.com/tinyrange/dtboot/internal/uart"
	"github.com/tinyrange/dtboot/internal/virtio"
)

const (
	uartBase   = 0x10000000
	virtioBase = 0x10001000
	plicBase   = 0x0c000000
	plicSize   = 0x400000
)

func newSim(t *testing.T, windows ...[2]uint64) *iomap.Sim {
	t.Helper()
	sim := iomap.NewSim()
	t.Cleanup(func() { sim.Close() })
	for _, w := range windows {
		if _, err := sim.AddWindow(w[0], w[1]); err != nil {
			t.Fatalf("AddWindow(%#x): %v", w[0], err)
		}
	}
	return sim
}

func ns16550Node(wire ...uint32) fdt.Node {
	n := fdt.Node{
		Name: "serial@10000000",
		Properties: map[string]fdt.Property{
			"compatible": fdt.Strings("ns16550a"),
			"reg":        fdt.Cells(uartBase, 0x1000),
		},
	}
	if len(wire) > 0 {
		n.Properties["interrupts-extended"] = fdt.Cells(wire...)
	}
	return n
}

// uartRegistry pairs the real UART drivers with a recording controller.
func uartRegistry(t *testing.T, rec *recorder) *Registry {
	t.Helper()
	r := DefaultRegistry(DriverOptions{}).Without(DriverCPUIntc, DriverPLIC)
	if err := r.RegisterController(fakeController(rec, "test,intc")); err != nil {
		t.Fatalf("RegisterController: %v", err)
	}
	return r
}

func TestUARTEndToEnd(t *testing.T) {
	tests := []struct {
		name    string
		wire    []uint32
		wantErr bool
		calls   []string
	}{
		{
			name:  "bound",
			wire:  []uint32{1, 5},
			calls: []string{"register intc 5 uart-16550", "unmask intc 5"},
		},
		{
			name: "sentinel",
			wire: []uint32{1, NoIRQ},
		},
		{
			name:    "unknown phandle",
			wire:    []uint32{2, 5},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			sim := newSim(t, [2]uint64{uartBase, 0x1000})
			tree := buildTree(t, intcNode("intc", 1, 1), ns16550Node(tt.wire...))

			devs, err := NewFromTree(tree, sim, WithRegistry(uartRegistry(t, rec)), WithLogger(quietLogger())).Build()
			if tt.wantErr {
				if !errors.Is(err, device.ErrInvalidParam) {
					t.Fatalf("Build error = %v, want ErrInvalidParam", err)
				}
				expectCalls(t, rec)
				return
			}
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if len(devs) != 2 || devs[0].Kind() != device.KindIrq || devs[1].Kind() != device.KindUart {
				t.Fatalf("devices = %v", deviceNames(devs))
			}
			expectCalls(t, rec, tt.calls...)

			if len(tt.calls) > 0 {
				ctrl := devs[0].Inner().(*fakeIntc)
				if ctrl.devs[5] != devs[1].Inner() {
					t.Fatal("controller holds a different handle than the returned uart")
				}
			}
			w, _ := sim.Window(uartBase)
			if got := w.Get8(uart.RegIER); got != 1 {
				t.Fatalf("uart IER = %#x, driver did not initialise the port", got)
			}
		})
	}
}

func TestMappingFailureSkipsNode(t *testing.T) {
	rec := &recorder{}
	sim := newSim(t)
	tree := buildTree(t, intcNode("intc", 1, 1), ns16550Node(1, 5))

	var logs bytes.Buffer
	devs, err := NewFromTree(tree, sim, WithRegistry(uartRegistry(t, rec)), WithLogger(bufferLogger(&logs))).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if want := []string{"irq(intc)"}; !slices.Equal(deviceNames(devs), want) {
		t.Fatalf("devices = %v, want %v", deviceNames(devs), want)
	}
	expectCalls(t, rec)
	if !strings.Contains(logs.String(), "no resources") || !strings.Contains(logs.String(), "serial@10000000") {
		t.Fatalf("expected a warning naming the node, logs:\n%s", logs.String())
	}
	if sim.Queries() != 1 {
		t.Fatalf("mapper queried %d times", sim.Queries())
	}
}

func seedVirtio(w *iomap.Window, id virtio.DeviceType) {
	w.Put32(virtio.VIRTIO_MMIO_MAGIC_VALUE, virtio.MagicValue)
	w.Put32(virtio.VIRTIO_MMIO_VERSION, 2)
	w.Put32(virtio.VIRTIO_MMIO_DEVICE_ID, uint32(id))
	w.Put32(virtio.VIRTIO_MMIO_VENDOR_ID, 0x554d4551)
}

func TestVirtioSignatureMismatchIsSilent(t *testing.T) {
	rec := &recorder{}
	sim := newSim(t, [2]uint64{virtioBase, 0x1000})
	node := fdt.Node{
		Name: "virtio_mmio@10001000",
		Properties: map[string]fdt.Property{
			"compatible":          fdt.Strings("virtio,mmio"),
			"reg":                 fdt.Cells(virtioBase, 0x1000),
			"interrupts-extended": fdt.Cells(1, 1),
		},
	}
	tree := buildTree(t, intcNode("intc", 1, 1), node)

	var logs bytes.Buffer
	devs, err := NewFromTree(tree, sim, WithRegistry(uartRegistry(t, rec)), WithLogger(bufferLogger(&logs))).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(devs) != 1 || logs.Len() != 0 {
		t.Fatalf("devices = %v, logs:\n%s", deviceNames(devs), logs.String())
	}
	expectCalls(t, rec)
}

// riscvVirt is a trimmed QEMU virt machine: a per-hart controller, a PLIC
// cascaded under it, a virtio block device and a legacy-interrupts UART.
func riscvVirt() fdt.Node {
	return fdt.Node{
		Properties: map[string]fdt.Property{
			"#address-cells": fdt.Cells(2),
			"#size-cells":    fdt.Cells(2),
			"compatible":     fdt.Strings("riscv-virtio"),
		},
		Children: []fdt.Node{
			{
				Name: "cpus",
				Properties: map[string]fdt.Property{
					"#address-cells": fdt.Cells(1),
					"#size-cells":    fdt.Cells(0),
				},
				Children: []fdt.Node{
					{
						Name: "cpu@0",
						Properties: map[string]fdt.Property{
							"compatible": fdt.Strings("riscv"),
							"reg":        fdt.Cells(0),
						},
						Children: []fdt.Node{
							{
								Name: "interrupt-controller",
								Properties: map[string]fdt.Property{
									"compatible":           fdt.Strings("riscv,cpu-intc"),
									"interrupt-controller": fdt.Flag(),
									"#interrupt-cells":     fdt.Cells(1),
									"phandle":              fdt.Cells(2),
								},
							},
						},
					},
				},
			},
			{
				Name: "soc",
				Properties: map[string]fdt.Property{
					"#address-cells":   fdt.Cells(2),
					"#size-cells":      fdt.Cells(2),
					"compatible":       fdt.Strings("simple-bus"),
					"interrupt-parent": fdt.Cells(3),
				},
				Children: []fdt.Node{
					{
						Name: "serial@10000000",
						Properties: map[string]fdt.Property{
							"compatible": fdt.Strings("ns16550a"),
							"reg":        fdt.Cells(0, uartBase, 0, 0x100),
							"interrupts": fdt.Cells(10),
						},
					},
					{
						Name: "virtio_mmio@10001000",
						Properties: map[string]fdt.Property{
							"compatible": fdt.Strings("virtio,mmio"),
							"reg":        fdt.Cells(0, virtioBase, 0, 0x1000),
							"interrupts": fdt.Cells(1),
						},
					},
					{
						Name: "plic@c000000",
						Properties: map[string]fdt.Property{
							"compatible":           fdt.Strings("sifive,plic-1.0.0", "riscv,plic0"),
							"reg":                  fdt.Cells(0, plicBase, 0, plicSize),
							"interrupt-controller": fdt.Flag(),
							"#interrupt-cells":     fdt.Cells(1),
							"interrupts-extended":  fdt.Cells(2, irq.CauseSupervisorExt),
							"riscv,ndev":           fdt.Cells(53),
							"phandle":              fdt.Cells(3),
						},
					},
				},
			},
		},
	}
}

func TestRISCVVirtMachine(t *testing.T) {
	sim := newSim(t,
		[2]uint64{plicBase, plicSize},
		[2]uint64{uartBase, 0x1000},
		[2]uint64{virtioBase, 0x1000},
	)
	w, _ := sim.Window(virtioBase)
	seedVirtio(w, virtio.DeviceBlock)
	w.Put32(virtio.VIRTIO_MMIO_CONFIG, 8192)

	blob, err := fdt.Build(riscvVirt())
	if err != nil {
		t.Fatalf("fdt.Build: %v", err)
	}
	tree := mustParse(t, blob)

	devs, err := NewFromTree(tree, sim, WithLogger(quietLogger())).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := []string{"irq(riscv-intc)", "uart(uart-16550)", "block(virtio-blk)", "irq(riscv-plic)"}
	if got := deviceNames(devs); !slices.Equal(got, want) {
		t.Fatalf("devices = %v, want %v", got, want)
	}

	intc := devs[0].Inner().(*irq.CPUIntc)
	plic := devs[3].Inner().(*irq.PLIC)
	if !intc.Enabled(irq.CauseSupervisorExt) {
		t.Error("supervisor external cause not enabled on the hart controller")
	}
	for _, src := range []uint32{1, 10} {
		if !plic.Enabled(src) {
			t.Errorf("PLIC source %d not enabled", src)
		}
	}
	blk, _ := devs[2].Block()
	if blk.Capacity() != 8192 {
		t.Errorf("capacity = %d", blk.Capacity())
	}

	// The hart controller forwards its external cause to the PLIC, which
	// claims source 10 and hands it to the UART.
	fired := 0
	u, _ := devs[1].Uart()
	u.Subscribe(func() { fired++ }, false)
	pw, _ := sim.Window(plicBase)
	pw.Put32(irq.PLICThresholdBase+irq.PLICDefaultContext*irq.PLICContextStride+irq.PLICClaimOffset, 10)
	intc.HandleIRQ(irq.CauseSupervisorExt)
	if fired != 1 {
		t.Fatalf("uart listener fired %d times", fired)
	}
}

func TestMissingControllerDriverFailsBinding(t *testing.T) {
	sim := newSim(t,
		[2]uint64{plicBase, plicSize},
		[2]uint64{uartBase, 0x1000},
		[2]uint64{virtioBase, 0x1000},
	)
	blob, err := fdt.Build(riscvVirt())
	if err != nil {
		t.Fatalf("fdt.Build: %v", err)
	}

	// Without a PLIC driver the soc devices name an interrupt parent that
	// was never discovered.
	r := DefaultRegistry(DriverOptions{}).Without(DriverPLIC)
	_, err = NewFromTree(mustParse(t, blob), sim, WithRegistry(r), WithLogger(quietLogger())).Build()
	if !errors.Is(err, device.ErrInvalidParam) {
		t.Fatalf("Build error = %v, want ErrInvalidParam", err)
	}
}

func TestPLICContextOption(t *testing.T) {
	zero, two := uint32(0), uint32(2)
	tests := []struct {
		name string
		ctx  *uint32
		want uint32
	}{
		{"default", nil, irq.PLICDefaultContext},
		{"machine mode", &zero, 0},
		{"hart 1", &two, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := newSim(t,
				[2]uint64{plicBase, plicSize},
				[2]uint64{uartBase, 0x1000},
				[2]uint64{virtioBase, 0x1000},
			)
			blob, err := fdt.Build(riscvVirt())
			if err != nil {
				t.Fatalf("fdt.Build: %v", err)
			}
			r := DefaultRegistry(DriverOptions{PLICContext: tt.ctx})
			if _, err := NewFromTree(mustParse(t, blob), sim, WithRegistry(r), WithLogger(quietLogger())).Build(); err != nil {
				t.Fatalf("Build: %v", err)
			}

			pw, _ := sim.Window(plicBase)
			for ctx := uint32(0); ctx < 3; ctx++ {
				word := pw.Get32(uint64(irq.PLICEnableBase + ctx*irq.PLICEnableStride))
				if on := word&(1<<10) != 0; on != (ctx == tt.want) {
					t.Errorf("context %d enable word = %#x", ctx, word)
				}
			}
		})
	}
}

func TestControllersLogThroughBuilder(t *testing.T) {
	sim := newSim(t,
		[2]uint64{plicBase, plicSize},
		[2]uint64{uartBase, 0x1000},
		[2]uint64{virtioBase, 0x1000},
	)
	blob, err := fdt.Build(riscvVirt())
	if err != nil {
		t.Fatalf("fdt.Build: %v", err)
	}
	var logs bytes.Buffer
	devs, err := NewFromTree(mustParse(t, blob), sim, WithLogger(bufferLogger(&logs))).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	intc := devs[0].Inner().(*irq.CPUIntc)

	// Source 7 is valid but has no device behind it.
	pw, _ := sim.Window(plicBase)
	pw.Put32(irq.PLICThresholdBase+irq.PLICDefaultContext*irq.PLICContextStride+irq.PLICClaimOffset, 7)
	intc.HandleIRQ(irq.CauseSupervisorExt)

	if err := intc.Unmask(5); err != nil {
		t.Fatalf("Unmask: %v", err)
	}
	intc.HandleIRQ(5)

	for _, want := range []string{"no handler on riscv-plic", "no handler on riscv-intc"} {
		found := false
		for _, line := range strings.Split(logs.String(), "\n") {
			if strings.Contains(line, want) && strings.Contains(line, "module=device-tree") {
				found = true
			}
		}
		if !found {
			t.Errorf("no %q record tagged with the module, logs:\n%s", want, logs.String())
		}
	}
}

func TestNewFromBlobAddress(t *testing.T) {
	rec := &recorder{}
	sim := newSim(t, [2]uint64{uartBase, 0x1000})
	root := fdt.Node{
		Properties: map[string]fdt.Property{
			"#address-cells": fdt.Cells(1),
			"#size-cells":    fdt.Cells(1),
		},
		Children: []fdt.Node{intcNode("intc", 1, 1), ns16550Node(1, 5)},
	}
	blob, err := fdt.Build(root)
	if err != nil {
		t.Fatalf("fdt.Build: %v", err)
	}

	b, err := New(uintptr(unsafe.Pointer(&blob[0])), sim, WithRegistry(uartRegistry(t, rec)), WithLogger(quietLogger()))
	runtime.KeepAlive(blob)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	devs, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(devs) != 2 {
		t.Fatalf("devices = %v", deviceNames(devs))
	}
	expectCalls(t, rec, "register intc 5 uart-16550", "unmask intc 5")

	if _, err := New(0, sim); !errors.Is(err, device.ErrInvalidParam) {
		t.Fatalf("New(0) error = %v", err)
	}
}
