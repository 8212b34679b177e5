package probe

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/tinyrange/dtboot/internal/device"
	"github.com/tinyrange/dtboot/internal/devicetree"
	"github.com/tinyrange/dtboot/internal/fdt"
	"github.com/tinyrange/dtboot/internal/iomap"
)

// recorder collects controller calls across every fake controller in a tree.
type recorder struct {
	calls []string
}

func (r *recorder) add(format string, args ...any) {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

type fakeIntc struct {
	name string
	rec  *recorder
	// lines above max are refused by RegisterDevice.
	max  uint32
	devs map[uint32]device.Scheme
}

func (c *fakeIntc) Name() string { return c.name }
func (c *fakeIntc) HandleIRQ(uint32) {}
func (c *fakeIntc) IsValidIRQ(irq uint32) bool { return irq <= c.max }
func (c *fakeIntc) RegisterHandler(uint32, device.IrqHandler) error {
	return device.ErrNotSupported
}

func (c *fakeIntc) Mask(irq uint32) error {
	c.rec.add("mask %s %d", c.name, irq)
	return nil
}

func (c *fakeIntc) Unmask(irq uint32) error {
	c.rec.add("unmask %s %d", c.name, irq)
	return nil
}

func (c *fakeIntc) RegisterDevice(irq uint32, dev device.Scheme) error {
	c.rec.add("register %s %d %s", c.name, irq, dev.Name())
	if !c.IsValidIRQ(irq) {
		return fmt.Errorf("line %d: %w", irq, device.ErrInvalidParam)
	}
	c.devs[irq] = dev
	return nil
}

func (c *fakeIntc) UnregisterDevice(irq uint32) error {
	c.rec.add("unregister %s %d", c.name, irq)
	delete(c.devs, irq)
	return nil
}

type fakeUart struct{ name string }

func (u *fakeUart) Name() string { return u.name }
func (u *fakeUart) HandleIRQ(uint32) {}
func (u *fakeUart) TryRecv() (byte, bool, error) { return 0, false, nil }
func (u *fakeUart) Send(byte) error { return nil }
func (u *fakeUart) WriteString(string) error { return nil }
func (u *fakeUart) Subscribe(func(), bool) {}

func fakeController(rec *recorder, compatible string) Driver {
	return Driver{
		Name:       "fake-intc",
		Compatible: []string{compatible},
		Probe: func(n *Node) (device.Device, error) {
			return device.NewIrq(&fakeIntc{name: n.Name(), rec: rec, max: 31, devs: map[uint32]device.Scheme{}}), nil
		},
	}
}

func fakeDevice(compatible string) Driver {
	return Driver{
		Name:       "fake-uart",
		Compatible: []string{compatible},
		Probe: func(n *Node) (device.Device, error) {
			return device.NewUart(&fakeUart{name: n.Name()}), nil
		},
	}
}

func fakeRegistry(t *testing.T, rec *recorder) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := r.RegisterController(fakeController(rec, "test,intc")); err != nil {
		t.Fatalf("RegisterController: %v", err)
	}
	if err := r.RegisterDevice(fakeDevice("test,uart")); err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	return r
}

func intcNode(name string, phandle, cells uint32) fdt.Node {
	return fdt.Node{
		Name: name,
		Properties: map[string]fdt.Property{
			"compatible":           fdt.Strings("test,intc"),
			"interrupt-controller": fdt.Flag(),
			"phandle":              fdt.Cells(phandle),
			"#interrupt-cells":     fdt.Cells(cells),
		},
	}
}

func uartNode(name string, wire ...uint32) fdt.Node {
	n := fdt.Node{
		Name: name,
		Properties: map[string]fdt.Property{
			"compatible": fdt.Strings("test,uart"),
		},
	}
	if len(wire) > 0 {
		n.Properties["interrupts-extended"] = fdt.Cells(wire...)
	}
	return n
}

func buildTree(t *testing.T, children ...fdt.Node) *devicetree.Tree {
	t.Helper()
	root := fdt.Node{
		Properties: map[string]fdt.Property{
			"#address-cells": fdt.Cells(1),
			"#size-cells":    fdt.Cells(1),
			"compatible":     fdt.Strings("test,board"),
		},
		Children: children,
	}
	blob, err := fdt.Build(root)
	if err != nil {
		t.Fatalf("fdt.Build: %v", err)
	}
	return mustParse(t, blob)
}

func mustParse(t *testing.T, blob []byte) *devicetree.Tree {
	t.Helper()
	tree, err := devicetree.Parse(blob)
	if err != nil {
		t.Fatalf("devicetree.Parse: %v", err)
	}
	return tree
}

var noMapper = iomap.MapperFunc(func(iomap.PhysAddr, uint64) (iomap.VirtAddr, bool) { return 0, false })

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func deviceNames(devs []device.Device) []string {
	var out []string
	for _, d := range devs {
		out = append(out, d.String())
	}
	return out
}

func expectCalls(t *testing.T, rec *recorder, want ...string) {
	t.Helper()
	if len(want) == 0 && len(rec.calls) == 0 {
		return
	}
	if !slices.Equal(rec.calls, want) {
		t.Fatalf("controller calls:\n got %q\nwant %q", rec.calls, want)
	}
}
