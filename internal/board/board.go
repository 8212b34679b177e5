// Package board loads YAML board descriptions: a device tree plus the MMIO
// windows a simulated run exposes to drivers.
package board

import (
	"fmt"
	"os"

	"github.com/tinyrange/dtboot/internal/fdt"
	"gopkg.in/yaml.v3"
)

// Board is a machine description.
type Board struct {
	Name    string   `yaml:"name"`
	Tree    fdt.Node `yaml:"tree"`
	Windows []Window `yaml:"windows,omitempty"`
}

// Window is a simulated MMIO region and its register contents at reset.
type Window struct {
	Base uint64     `yaml:"base"`
	Size uint64     `yaml:"size"`
	Regs []Register `yaml:"regs,omitempty"`
}

// Register seeds one register of a window.
type Register struct {
	Offset uint64 `yaml:"offset"`
	Width  int    `yaml:"width,omitempty"`
	Value  uint32 `yaml:"value"`
}

func (b *Board) normalize() {
	if b.Name == "" {
		b.Name = "board"
	}
	for i := range b.Windows {
		for j := range b.Windows[i].Regs {
			if b.Windows[i].Regs[j].Width == 0 {
				b.Windows[i].Regs[j].Width = 4
			}
		}
	}
}

func (b Board) validate() error {
	if err := b.Tree.Validate(); err != nil {
		return fmt.Errorf("board %q: %w", b.Name, err)
	}
	for _, w := range b.Windows {
		if w.Size == 0 {
			return fmt.Errorf("board %q: window 0x%x has zero size", b.Name, w.Base)
		}
		for _, r := range w.Regs {
			switch r.Width {
			case 1, 2, 4:
			default:
				return fmt.Errorf("board %q: window 0x%x: register 0x%x has width %d", b.Name, w.Base, r.Offset, r.Width)
			}
			if r.Offset+uint64(r.Width) > w.Size {
				return fmt.Errorf("board %q: window 0x%x: register 0x%x outside window", b.Name, w.Base, r.Offset)
			}
			if r.Width < 4 && r.Value>>(8*r.Width) != 0 {
				return fmt.Errorf("board %q: window 0x%x: value 0x%x too wide for register 0x%x", b.Name, w.Base, r.Value, r.Offset)
			}
		}
	}
	return nil
}

// Parse decodes a board description.
func Parse(data []byte) (Board, error) {
	var b Board
	if err := yaml.Unmarshal(data, &b); err != nil {
		return Board{}, fmt.Errorf("parse board: %w", err)
	}
	b.normalize()
	if err := b.validate(); err != nil {
		return Board{}, err
	}
	return b, nil
}

// Load reads a board description from path.
func Load(path string) (Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Board{}, fmt.Errorf("read board: %w", err)
	}
	return Parse(data)
}

// Blob encodes the board's tree as an FDT.
func (b Board) Blob() ([]byte, error) {
	return fdt.Build(b.Tree)
}
