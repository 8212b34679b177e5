//go:build linux || darwin

package board

import (
	"fmt"

	"github.com/tinyrange/dtboot/internal/iomap"
)

// Mapper returns a simulated address space holding the board's windows
// with their registers seeded.
func (b Board) Mapper() (*iomap.Sim, error) {
	sim := iomap.NewSim()
	for _, w := range b.Windows {
		win, err := sim.AddWindow(w.Base, w.Size)
		if err != nil {
			sim.Close()
			return nil, fmt.Errorf("board %q: %w", b.Name, err)
		}
		for _, r := range w.Regs {
			switch r.Width {
			case 1:
				win.Put8(r.Offset, uint8(r.Value))
			case 2:
				win.Put16(r.Offset, uint16(r.Value))
			default:
				win.Put32(r.Offset, r.Value)
			}
		}
	}
	return sim, nil
}
