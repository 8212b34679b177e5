// Package iomap maps physical MMIO windows into the caller's address space.
package iomap

// PhysAddr is a bus/physical address as written in "reg" properties.
type PhysAddr = uint64

// VirtAddr is an address the running program can dereference.
type VirtAddr = uintptr

// Mapper returns a virtual base for the physical range [paddr, paddr+size).
// A returned mapping must stay valid for the lifetime of the device using it.
// Repeated queries for an already mapped range may return the existing window.
type Mapper interface {
	QueryOrMap(paddr PhysAddr, size uint64) (VirtAddr, bool)
}

// MapperFunc adapts a function to Mapper.
type MapperFunc func(paddr PhysAddr, size uint64) (VirtAddr, bool)

func (f MapperFunc) QueryOrMap(paddr PhysAddr, size uint64) (VirtAddr, bool) {
	return f(paddr, size)
}

// Linear is the mapping used when physical memory is reachable through a
// fixed offset, as in an identity-mapped or direct-mapped kernel.
type Linear struct {
	Offset uint64
}

// QueryOrMap implements Mapper.
func (l Linear) QueryOrMap(paddr PhysAddr, size uint64) (VirtAddr, bool) {
	if size == 0 || paddr+size < paddr {
		return 0, false
	}
	virt := paddr + l.Offset
	if virt < paddr || virt+size < virt {
		return 0, false
	}
	return VirtAddr(virt), true
}

var _ Mapper = Linear{}
