package devicetree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/tinyrange/dtboot/internal/device"
	"github.com/u-root/u-root/pkg/dt"
)

// StringList is a decoded "compatible"-style string list, most specific first.
type StringList []string

// Contains reports whether any entry equals s.
func (l StringList) Contains(s string) bool {
	return slices.Contains(l, s)
}

// ContainsAny reports whether any entry equals any of want.
func (l StringList) ContainsAny(want ...string) bool {
	for _, w := range want {
		if l.Contains(w) {
			return true
		}
	}
	return false
}

// InterruptsProp is a flattened interrupt wire list of the form
// [phandle, cell...]+ where each group's cell count is the referenced
// controller's #interrupt-cells.
type InterruptsProp []uint32

// Node is a borrowed view of a tree node.
type Node struct {
	raw  *dt.Node
	path string
}

// Name returns the node name including its unit address.
func (n *Node) Name() string { return n.raw.Name }

// Path returns the absolute path of the node.
func (n *Node) Path() string { return n.path }

// HasProp reports whether the property is present, with or without a value.
func (n *Node) HasProp(name string) bool {
	_, ok := n.raw.LookProperty(name)
	return ok
}

// PropBytes returns the raw value of a property.
func (n *Node) PropBytes(name string) ([]byte, error) {
	p, ok := n.raw.LookProperty(name)
	if !ok {
		return nil, fmt.Errorf("property %q: %w", name, device.ErrNotFound)
	}
	return p.Value, nil
}

// PropU32 decodes a single-cell property.
func (n *Node) PropU32(name string) (uint32, error) {
	v, err := n.PropBytes(name)
	if err != nil {
		return 0, err
	}
	if len(v) != 4 {
		return 0, fmt.Errorf("property %q is %d bytes, want 4: %w", name, len(v), device.ErrInvalidFormat)
	}
	return binary.BigEndian.Uint32(v), nil
}

// PropU32Or decodes a single-cell property, returning def if it is absent.
func (n *Node) PropU32Or(name string, def uint32) (uint32, error) {
	if !n.HasProp(name) {
		return def, nil
	}
	return n.PropU32(name)
}

// PropCells decodes a property as an array of 32-bit cells.
func (n *Node) PropCells(name string) ([]uint32, error) {
	v, err := n.PropBytes(name)
	if err != nil {
		return nil, err
	}
	if len(v)%4 != 0 {
		return nil, fmt.Errorf("property %q is %d bytes, not a cell array: %w", name, len(v), device.ErrInvalidFormat)
	}
	cells := make([]uint32, len(v)/4)
	for i := range cells {
		cells[i] = binary.BigEndian.Uint32(v[i*4:])
	}
	return cells, nil
}

// PropString decodes the first string of a string property.
func (n *Node) PropString(name string) (string, error) {
	list, err := n.PropStrings(name)
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "", fmt.Errorf("property %q is empty: %w", name, device.ErrInvalidFormat)
	}
	return list[0], nil
}

// PropStrings decodes a NUL-separated string list.
func (n *Node) PropStrings(name string) (StringList, error) {
	v, err := n.PropBytes(name)
	if err != nil {
		return nil, err
	}
	v = bytes.TrimRight(v, "\x00")
	if len(v) == 0 {
		return StringList{}, nil
	}
	parts := bytes.Split(v, []byte{0})
	out := make(StringList, len(parts))
	for i, p := range parts {
		out[i] = string(p)
	}
	return out, nil
}

// Enabled reports whether the node's status allows probing. A missing
// status means enabled.
func (n *Node) Enabled() bool {
	s, err := n.PropString("status")
	if err != nil {
		return true
	}
	return s == "okay" || s == "ok"
}

// ParseReg decodes the first (address, size) pair of "reg" using the
// parent's cell widths.
func ParseReg(n *Node, props InheritProps) (uint64, uint64, error) {
	cells, err := n.PropCells("reg")
	if err != nil {
		return 0, 0, err
	}
	ac, sc := int(props.AddressCells), int(props.SizeCells)
	if ac < 1 || ac > 2 || sc > 2 {
		return 0, 0, fmt.Errorf("unsupported reg cell widths %d/%d: %w", ac, sc, device.ErrInvalidFormat)
	}
	if len(cells) < ac+sc {
		return 0, 0, fmt.Errorf("reg has %d cells, want %d: %w", len(cells), ac+sc, device.ErrInvalidFormat)
	}
	addr := joinCells(cells[:ac])
	size := joinCells(cells[ac : ac+sc])
	return addr, size, nil
}

func joinCells(cells []uint32) uint64 {
	var v uint64
	for _, c := range cells {
		v = v<<32 | uint64(c)
	}
	return v
}

// ParseInterrupts returns the node's interrupt wire list. An
// "interrupts-extended" property is returned as is. A legacy "interrupts"
// property is expanded against the inherited interrupt-parent, one group per
// specifier. A node raising no interrupts yields an empty list.
func (t *Tree) ParseInterrupts(n *Node, props InheritProps) (InterruptsProp, error) {
	if n.HasProp("interrupts-extended") {
		cells, err := n.PropCells("interrupts-extended")
		if err != nil {
			return nil, err
		}
		return InterruptsProp(cells), nil
	}
	if !n.HasProp("interrupts") || props.InterruptParent == 0 {
		return InterruptsProp{}, nil
	}

	cells, err := n.PropCells("interrupts")
	if err != nil {
		return nil, err
	}
	width, err := t.InterruptCells(props.InterruptParent)
	if err != nil {
		return nil, fmt.Errorf("interrupt-parent: %w", err)
	}
	if width == 0 || len(cells)%int(width) != 0 {
		return nil, fmt.Errorf("interrupts has %d cells, parent 0x%x uses %d per specifier: %w",
			len(cells), props.InterruptParent, width, device.ErrInvalidFormat)
	}
	out := make(InterruptsProp, 0, len(cells)/int(width)*(int(width)+1))
	for i := 0; i < len(cells); i += int(width) {
		out = append(out, props.InterruptParent)
		out = append(out, cells[i:i+int(width)]...)
	}
	return out, nil
}
