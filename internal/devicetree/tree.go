// Package devicetree exposes a parsed Flattened Device Tree as a read-only
// tree with a pre-order walk and the property decoders device probing needs.
package devicetree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/tinyrange/dtboot/internal/device"
	"github.com/u-root/u-root/pkg/dt"
)

const (
	fdtMagic      = 0xd00dfeed
	fdtHeaderSize = 0x28

	offSizeDtStrings = 0x20

	// Defaults from the device-tree specification when a parent omits them.
	defaultAddressCells = 2
	defaultSizeCells    = 1
)

// Tree is an immutable parsed device tree.
type Tree struct {
	fdt      *dt.FDT
	phandles map[uint32]*dt.Node
	count    int
}

// Parse decodes an FDT blob.
func Parse(blob []byte) (*Tree, error) {
	if len(blob) < fdtHeaderSize {
		return nil, fmt.Errorf("devicetree: blob of %d bytes is shorter than the header: %w", len(blob), device.ErrInvalidFormat)
	}
	if magic := binary.BigEndian.Uint32(blob); magic != fdtMagic {
		return nil, fmt.Errorf("devicetree: bad magic 0x%08x: %w", magic, device.ErrInvalidFormat)
	}
	// An empty strings block at the end of the blob is read as a zero-length
	// read at EOF, which the reader reports as an error.
	if binary.BigEndian.Uint32(blob[offSizeDtStrings:]) == 0 {
		blob = append(blob[:len(blob):len(blob)], make([]byte, 8)...)
	}
	fdt, err := dt.ReadFDT(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("devicetree: read fdt: %w: %w", device.ErrInvalidFormat, err)
	}
	if fdt.RootNode == nil {
		return nil, fmt.Errorf("devicetree: blob has no root node: %w", device.ErrInvalidFormat)
	}

	t := &Tree{fdt: fdt, phandles: make(map[uint32]*dt.Node)}
	t.index(fdt.RootNode)
	return t, nil
}

// FromAddr parses the blob the boot loader left at base. Only the header is
// read before its magic and total size have been checked.
func FromAddr(base uintptr) (*Tree, error) {
	if base == 0 {
		return nil, fmt.Errorf("devicetree: nil blob address: %w", device.ErrInvalidParam)
	}
	header := unsafe.Slice((*byte)(unsafe.Pointer(base)), fdtHeaderSize)
	if magic := binary.BigEndian.Uint32(header); magic != fdtMagic {
		return nil, fmt.Errorf("devicetree: bad magic 0x%08x at 0x%x: %w", magic, base, device.ErrInvalidFormat)
	}
	total := binary.BigEndian.Uint32(header[4:])
	if total < fdtHeaderSize {
		return nil, fmt.Errorf("devicetree: total size %d too small: %w", total, device.ErrInvalidFormat)
	}
	blob := unsafe.Slice((*byte)(unsafe.Pointer(base)), total)
	return Parse(append([]byte(nil), blob...))
}

func (t *Tree) index(n *dt.Node) {
	t.count++
	if p, ok := n.LookProperty("phandle"); ok {
		if ph, err := p.AsU32(); err == nil {
			t.phandles[ph] = n
		}
	}
	for _, child := range n.Children {
		t.index(child)
	}
}

// NodeCount returns the number of nodes in the tree.
func (t *Tree) NodeCount() int { return t.count }

// InheritProps are the properties a node inherits from its ancestors.
type InheritProps struct {
	// AddressCells and SizeCells are the parent's #address-cells and
	// #size-cells, which govern this node's "reg".
	AddressCells uint32
	SizeCells    uint32

	// InterruptParent is the nearest interrupt-parent phandle, 0 if none.
	InterruptParent uint32
}

// Visitor receives every node of a walk.
type Visitor func(node *Node, compatible StringList, props InheritProps)

// Walk visits every node in pre-order. Nodes passed to fn are only valid for
// the duration of the call.
func (t *Tree) Walk(fn Visitor) {
	root := InheritProps{AddressCells: defaultAddressCells, SizeCells: defaultSizeCells}
	t.walk(t.fdt.RootNode, "/", root, fn)
}

func (t *Tree) walk(n *dt.Node, path string, props InheritProps, fn Visitor) {
	node := &Node{raw: n, path: path}
	if ph, err := node.PropU32("interrupt-parent"); err == nil {
		props.InterruptParent = ph
	}

	comp, _ := node.PropStrings("compatible")
	fn(node, comp, props)

	child := InheritProps{
		AddressCells:    defaultAddressCells,
		SizeCells:       defaultSizeCells,
		InterruptParent: props.InterruptParent,
	}
	if v, err := node.PropU32("#address-cells"); err == nil {
		child.AddressCells = v
	}
	if v, err := node.PropU32("#size-cells"); err == nil {
		child.SizeCells = v
	}
	for _, c := range n.Children {
		childPath := path + c.Name
		if path != "/" {
			childPath = path + "/" + c.Name
		}
		t.walk(c, childPath, child, fn)
	}
}

// InterruptCells returns the #interrupt-cells of the node with phandle ph.
func (t *Tree) InterruptCells(ph uint32) (uint32, error) {
	n, ok := t.phandles[ph]
	if !ok {
		return 0, fmt.Errorf("phandle 0x%x: %w", ph, device.ErrNotFound)
	}
	return (&Node{raw: n}).PropU32("#interrupt-cells")
}
