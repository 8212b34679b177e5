package fdt

import "fmt"

// Property describes a single device-tree property in a YAML/JSON friendly
// form. Exactly one of the typed fields should be populated.
//
// U32 values are encoded as consecutive big-endian cells, which is also how
// cell arrays such as "interrupts-extended" and "reg" are written when the
// governing #address-cells/#size-cells are 1.
type Property struct {
	Strings []string `yaml:"strings,omitempty" json:"strings,omitempty"`
	U32     []uint32 `yaml:"u32,omitempty" json:"u32,omitempty"`
	U64     []uint64 `yaml:"u64,omitempty" json:"u64,omitempty"`
	Bytes   []byte   `yaml:"bytes,omitempty" json:"bytes,omitempty"`
	Flag    bool     `yaml:"flag,omitempty" json:"flag,omitempty"`
}

// Kind returns the name of the populated field or an empty string if none are set.
func (p Property) Kind() string {
	switch {
	case len(p.Strings) > 0:
		return "strings"
	case len(p.U32) > 0:
		return "u32"
	case len(p.U64) > 0:
		return "u64"
	case len(p.Bytes) > 0:
		return "bytes"
	case p.Flag:
		return "flag"
	default:
		return ""
	}
}

// DefinedCount reports how many distinct fields on the property are populated.
func (p Property) DefinedCount() int {
	count := 0
	if len(p.Strings) > 0 {
		count++
	}
	if len(p.U32) > 0 {
		count++
	}
	if len(p.U64) > 0 {
		count++
	}
	if len(p.Bytes) > 0 {
		count++
	}
	if p.Flag {
		count++
	}
	return count
}

// Strings returns a string-list property.
func Strings(v ...string) Property { return Property{Strings: v} }

// Cells returns a property made of 32-bit cells.
func Cells(v ...uint32) Property { return Property{U32: v} }

// Flag returns an empty, presence-only property.
func Flag() Property { return Property{Flag: true} }

// Node describes a device-tree node.
type Node struct {
	Name       string              `yaml:"name" json:"name"`
	Properties map[string]Property `yaml:"properties,omitempty" json:"properties,omitempty"`
	Children   []Node              `yaml:"children,omitempty" json:"children,omitempty"`
}

// Validate checks that every property in the subtree has exactly one value kind.
func (n Node) Validate() error {
	for name, prop := range n.Properties {
		switch prop.DefinedCount() {
		case 0:
			return fmt.Errorf("node %q: property %q has no values", n.Name, name)
		case 1:
		default:
			return fmt.Errorf("node %q: property %q has multiple value kinds", n.Name, name)
		}
	}
	for _, child := range n.Children {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of nodes in the subtree rooted at n.
func (n Node) Count() int {
	total := 1
	for _, child := range n.Children {
		total += child.Count()
	}
	return total
}
