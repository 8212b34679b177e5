// Package ethernet drives the Allwinner sunxi GMAC found on D1 boards.
package ethernet

import (
	"bytes"
	"fmt"
	"net"
	"sync"

	"github.com/tinyrange/dtboot/internal/device"
	"github.com/tinyrange/dtboot/internal/mmio"
)

// EMAC register offsets
const (
	RegBasicCtl0 = 0x00
	RegBasicCtl1 = 0x04
	RegIntSta    = 0x08
	RegIntEn     = 0x0c
	RegAddrHigh  = 0x50
	RegAddrLow   = 0x54
	RegRGMIISta  = 0xd0

	// WindowSize covers every register the driver touches.
	WindowSize = 0x100
)

const (
	intEnRx     = 1 << 8
	rgmiiLinkUp = 1 << 3
)

// GMAC is a sunxi GMAC controller. Only identification and interrupt
// acknowledgement are handled; descriptor rings are not set up.
type GMAC struct {
	mu       sync.Mutex
	regs     mmio.Region
	irq      uint32
	mac      net.HardwareAddr
	listener device.EventListener
}

// New binds the driver. A non-nil mac (the node's "local-mac-address") is
// programmed into the address registers; otherwise the address left there
// by the boot loader is used.
func New(regs mmio.Region, irq uint32, mac net.HardwareAddr) (*GMAC, error) {
	if regs.Size() < WindowSize {
		return nil, fmt.Errorf("sunxi-gmac: window of 0x%x bytes: %w", regs.Size(), device.ErrInvalidParam)
	}
	g := &GMAC{regs: regs, irq: irq}

	if mac != nil {
		if len(mac) != 6 {
			return nil, fmt.Errorf("sunxi-gmac: local-mac-address of %d bytes: %w", len(mac), device.ErrInvalidFormat)
		}
		g.mac = append(net.HardwareAddr(nil), mac...)
		g.writeMAC()
	} else {
		g.mac = g.readMAC()
	}
	if !validMAC(g.mac) {
		return nil, fmt.Errorf("sunxi-gmac: no usable MAC address (%s): %w", g.mac, device.ErrInvalidParam)
	}

	g.regs.Write32(RegIntSta, g.regs.Read32(RegIntSta))
	g.regs.Write32(RegIntEn, intEnRx)
	return g, nil
}

func (g *GMAC) readMAC() net.HardwareAddr {
	hi := g.regs.Read32(RegAddrHigh)
	lo := g.regs.Read32(RegAddrLow)
	return net.HardwareAddr{
		byte(lo), byte(lo >> 8), byte(lo >> 16), byte(lo >> 24),
		byte(hi), byte(hi >> 8),
	}
}

func (g *GMAC) writeMAC() {
	m := g.mac
	g.regs.Write32(RegAddrHigh, uint32(m[5])<<8|uint32(m[4]))
	g.regs.Write32(RegAddrLow, uint32(m[3])<<24|uint32(m[2])<<16|uint32(m[1])<<8|uint32(m[0]))
}

func validMAC(m net.HardwareAddr) bool {
	if len(m) != 6 || m[0]&1 != 0 {
		return false
	}
	return !bytes.Equal(m, make([]byte, 6))
}

// Name implements device.Scheme.
func (g *GMAC) Name() string { return "sunxi-gmac" }

// IRQ returns the interrupt source number taken from the node.
func (g *GMAC) IRQ() uint32 { return g.irq }

// HandleIRQ acknowledges pending causes and notifies subscribers.
func (g *GMAC) HandleIRQ(uint32) {
	g.mu.Lock()
	pending := g.regs.Read32(RegIntSta)
	if pending != 0 {
		g.regs.Write32(RegIntSta, pending)
	}
	g.mu.Unlock()
	if pending != 0 {
		g.listener.Trigger()
	}
}

// Subscribe registers fn to run on every interrupt, or only the next one.
func (g *GMAC) Subscribe(fn func(), once bool) { g.listener.Subscribe(fn, once) }

// MACAddress implements device.NetScheme.
func (g *GMAC) MACAddress() net.HardwareAddr { return g.mac }

// LinkUp implements device.NetScheme.
func (g *GMAC) LinkUp() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.regs.Read32(RegRGMIISta)&rgmiiLinkUp != 0
}

var _ device.NetScheme = (*GMAC)(nil)
