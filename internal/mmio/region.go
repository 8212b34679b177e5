// Package mmio provides register access to a mapped device window.
package mmio

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/tinyrange/dtboot/internal/iomap"
)

// Region is a mapped register window. The zero value is unusable.
// A Region does no locking; drivers serialize register transactions
// themselves.
type Region struct {
	base iomap.VirtAddr
	size uint64
}

// New binds a window of size bytes at base.
func New(base iomap.VirtAddr, size uint64) Region {
	return Region{base: base, size: size}
}

// Base returns the mapped base address.
func (r Region) Base() iomap.VirtAddr { return r.base }

// Size returns the window length in bytes.
func (r Region) Size() uint64 { return r.size }

func (r Region) addr(off uint64, width uint64) unsafe.Pointer {
	if off+width > r.size || off+width < off {
		panic(fmt.Sprintf("mmio: access at 0x%x width %d outside window of 0x%x bytes", off, width, r.size))
	}
	return unsafe.Pointer(r.base + uintptr(off))
}

func (r Region) Read8(off uint64) uint8 {
	return *(*uint8)(r.addr(off, 1))
}

func (r Region) Write8(off uint64, v uint8) {
	*(*uint8)(r.addr(off, 1)) = v
}

func (r Region) Read16(off uint64) uint16 {
	return *(*uint16)(r.addr(off, 2))
}

func (r Region) Write16(off uint64, v uint16) {
	*(*uint16)(r.addr(off, 2)) = v
}

// Read32 is a single 32-bit load that is never merged or elided.
func (r Region) Read32(off uint64) uint32 {
	return atomic.LoadUint32((*uint32)(r.addr(off, 4)))
}

func (r Region) Write32(off uint64, v uint32) {
	atomic.StoreUint32((*uint32)(r.addr(off, 4)), v)
}

// Read64 reads a 64-bit register as two 32-bit halves, low word first.
func (r Region) Read64(off uint64) uint64 {
	lo := r.Read32(off)
	hi := r.Read32(off + 4)
	return uint64(hi)<<32 | uint64(lo)
}

// Sub returns the window [off, off+size) of r.
func (r Region) Sub(off, size uint64) Region {
	r.addr(off, size)
	return Region{base: r.base + uintptr(off), size: size}
}
