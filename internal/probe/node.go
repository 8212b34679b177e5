package probe

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/dtboot/internal/device"
	"github.com/tinyrange/dtboot/internal/devicetree"
	"github.com/tinyrange/dtboot/internal/iomap"
	"github.com/tinyrange/dtboot/internal/mmio"
)

// Node is what a driver sees while probing: the tree node, its compatible
// list and inherited properties, plus access to the address mapper. It is
// only valid for the duration of the probe call.
type Node struct {
	*devicetree.Node

	Compatible devicetree.StringList
	Props      devicetree.InheritProps

	interrupts devicetree.InterruptsProp
	mapper     iomap.Mapper
	log        *slog.Logger
}

// Interrupts returns the node's interrupt wire list in extended form.
func (n *Node) Interrupts() devicetree.InterruptsProp { return n.interrupts }

// Logger returns the probe logger annotated with the node path.
func (n *Node) Logger() *slog.Logger { return n.log }

// Reg decodes the node's first address range.
func (n *Node) Reg() (paddr, size uint64, err error) {
	return devicetree.ParseReg(n.Node, n.Props)
}

// MapReg maps the node's first address range. A node without "reg" yields
// device.ErrNotFound; a mapper refusal yields device.ErrNoResources.
func (n *Node) MapReg() (mmio.Region, error) {
	paddr, size, err := n.Reg()
	if err != nil {
		return mmio.Region{}, fmt.Errorf("reg: %w", err)
	}
	return n.Map(paddr, size)
}

// Map maps an arbitrary physical window on behalf of the node's driver.
func (n *Node) Map(paddr iomap.PhysAddr, size uint64) (mmio.Region, error) {
	virt, ok := n.mapper.QueryOrMap(paddr, size)
	if !ok {
		return mmio.Region{}, fmt.Errorf("map 0x%x+0x%x: %w", paddr, size, device.ErrNoResources)
	}
	return mmio.New(virt, size), nil
}
