package probe

import (
	"fmt"
	"net"

	"github.com/tinyrange/dtboot/internal/device"
	"github.com/tinyrange/dtboot/internal/ethernet"
	"github.com/tinyrange/dtboot/internal/irq"
	"github.com/tinyrange/dtboot/internal/uart"
	"github.com/tinyrange/dtboot/internal/virtio"
)

// Default driver names, usable with Registry.Without.
const (
	DriverCPUIntc   = "riscv-cpu-intc"
	DriverPLIC      = "riscv-plic"
	DriverVirtio    = "virtio-mmio"
	DriverNS16550   = "ns16550a"
	DriverAllwinner = "allwinner-uart"
	DriverGMAC      = "sunxi-gmac"
)

const defaultPLICSources = 1023

// DriverOptions tune the default drivers.
type DriverOptions struct {
	// PLICContext selects the PLIC hart context; nil means
	// irq.PLICDefaultContext.
	PLICContext *uint32

	// CSR receives per-hart interrupt enable changes. May be nil.
	CSR irq.CSR
}

// DefaultRegistry returns every built-in driver in priority order.
func DefaultRegistry(opts DriverOptions) *Registry {
	r := NewRegistry()
	for _, d := range []Driver{
		{Name: DriverCPUIntc, Compatible: []string{"riscv,cpu-intc"}, Probe: opts.probeCPUIntc},
		{Name: DriverPLIC, Compatible: []string{"riscv,plic0", "sifive,plic-1.0.0", "thead,c900-plic"}, Probe: opts.probePLIC},
	} {
		mustRegister(r.RegisterController(d))
	}
	for _, d := range []Driver{
		{Name: DriverVirtio, Compatible: []string{"virtio,mmio"}, Probe: probeVirtio},
		{Name: DriverNS16550, Compatible: []string{"ns16550a", "ns16550"}, Probe: probeNS16550},
		{Name: DriverAllwinner, Compatible: []string{"allwinner,sun20i-uart"}, Probe: probeAllwinner},
		{Name: DriverGMAC, Compatible: []string{"allwinner,sunxi-gmac"}, Probe: probeGMAC},
	} {
		mustRegister(r.RegisterDevice(d))
	}
	return r
}

func mustRegister(err error) {
	if err != nil {
		panic(err)
	}
}

func (o DriverOptions) plicContext() uint32 {
	if o.PLICContext == nil {
		return irq.PLICDefaultContext
	}
	return *o.PLICContext
}

func (o DriverOptions) probeCPUIntc(n *Node) (device.Device, error) {
	c := irq.NewCPUIntc(o.CSR)
	c.SetLogger(n.Logger())
	return device.NewIrq(c), nil
}

func (o DriverOptions) probePLIC(n *Node) (device.Device, error) {
	regs, err := n.MapReg()
	if err != nil {
		return device.Device{}, err
	}
	ndev, err := n.PropU32Or("riscv,ndev", defaultPLICSources)
	if err != nil {
		return device.Device{}, err
	}
	p, err := irq.NewPLIC(regs, ndev, o.plicContext())
	if err != nil {
		return device.Device{}, err
	}
	p.SetLogger(n.Logger())
	return device.NewIrq(p), nil
}

func probeVirtio(n *Node) (device.Device, error) {
	regs, err := n.MapReg()
	if err != nil {
		return device.Device{}, err
	}
	h, err := virtio.Verify(regs)
	if err != nil {
		return device.Device{}, err
	}
	n.Logger().Info("detected virtio device",
		"node", n.Name(), "vendor", fmt.Sprintf("%#x", h.VendorID()), "type", h.DeviceType(), "version", h.Version())
	return virtio.New(h)
}

func probeNS16550(n *Node) (device.Device, error) {
	regs, err := n.MapReg()
	if err != nil {
		return device.Device{}, err
	}
	shift, err := n.PropU32Or("reg-shift", 0)
	if err != nil {
		return device.Device{}, err
	}
	width, err := n.PropU32Or("reg-io-width", 1)
	if err != nil {
		return device.Device{}, err
	}
	divisor, err := baudDivisor(n)
	if err != nil {
		return device.Device{}, err
	}
	u, err := uart.NewNS16550(regs, shift, width, divisor)
	if err != nil {
		return device.Device{}, err
	}
	return device.NewUart(u), nil
}

// baudDivisor derives the divisor latch value from "clock-frequency" and
// "current-speed". Zero leaves the firmware setting alone.
func baudDivisor(n *Node) (uint16, error) {
	clock, err := n.PropU32Or("clock-frequency", 0)
	if err != nil {
		return 0, err
	}
	speed, err := n.PropU32Or("current-speed", 0)
	if err != nil {
		return 0, err
	}
	if clock == 0 || speed == 0 {
		return 0, nil
	}
	div := clock / (16 * speed)
	if div == 0 || div > 0xffff {
		return 0, fmt.Errorf("baud %d from clock %d: %w", speed, clock, device.ErrInvalidParam)
	}
	return uint16(div), nil
}

func probeAllwinner(n *Node) (device.Device, error) {
	regs, err := n.MapReg()
	if err != nil {
		return device.Device{}, err
	}
	u, err := uart.NewAllwinner(regs)
	if err != nil {
		return device.Device{}, err
	}
	return device.NewUart(u), nil
}

func probeGMAC(n *Node) (device.Device, error) {
	wire := n.Interrupts()
	if len(wire) < 2 {
		return device.Device{}, fmt.Errorf("gmac needs an interrupt, have %d cells: %w", len(wire), device.ErrInvalidParam)
	}
	regs, err := n.MapReg()
	if err != nil {
		return device.Device{}, err
	}
	var mac net.HardwareAddr
	if n.HasProp("local-mac-address") {
		b, err := n.PropBytes("local-mac-address")
		if err != nil {
			return device.Device{}, err
		}
		mac = net.HardwareAddr(b)
	}
	n.Logger().Info("ethernet gmac init", "node", n.Name(), "irq", wire[1])
	g, err := ethernet.New(regs, wire[1], mac)
	if err != nil {
		return device.Device{}, err
	}
	return device.NewNet(g), nil
}
