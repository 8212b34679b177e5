//go:build linux || darwin

package iomap

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Sim is a simulated physical address space. Each window is backed by an
// anonymous mapping so its address is stable and can be handed to drivers
// as if it were device memory.
type Sim struct {
	mu      sync.Mutex
	windows []*Window
	queries int
}

// Window is one simulated MMIO region.
type Window struct {
	Base PhysAddr
	Mem  []byte
}

// NewSim returns an empty simulated address space.
func NewSim() *Sim {
	return &Sim{}
}

// AddWindow backs [base, base+size) with fresh zeroed memory.
func (s *Sim) AddWindow(base PhysAddr, size uint64) (*Window, error) {
	if size == 0 {
		return nil, fmt.Errorf("window at 0x%x has zero size", base)
	}
	if base+size < base {
		return nil, fmt.Errorf("window at 0x%x with size 0x%x overflows", base, size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.windows {
		end := w.Base + uint64(len(w.Mem))
		if base < end && w.Base < base+size {
			return nil, fmt.Errorf(
				"window 0x%x-0x%x overlaps existing window 0x%x-0x%x",
				base, base+size-1, w.Base, end-1)
		}
	}

	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap window 0x%x: %w", base, err)
	}

	w := &Window{Base: base, Mem: mem}
	s.windows = append(s.windows, w)
	sort.Slice(s.windows, func(i, j int) bool { return s.windows[i].Base < s.windows[j].Base })
	return w, nil
}

// QueryOrMap implements Mapper. Only ranges fully inside one window map.
func (s *Sim) QueryOrMap(paddr PhysAddr, size uint64) (VirtAddr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++

	w := s.find(paddr, size)
	if w == nil {
		return 0, false
	}
	return VirtAddr(unsafe.Pointer(&w.Mem[paddr-w.Base])), true
}

// Window returns the window containing paddr.
func (s *Sim) Window(paddr PhysAddr) (*Window, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.find(paddr, 1)
	return w, w != nil
}

// Queries reports how many times QueryOrMap has been called.
func (s *Sim) Queries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

// Close releases every window.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, w := range s.windows {
		if err := unix.Munmap(w.Mem); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.windows = nil
	return firstErr
}

func (s *Sim) find(paddr PhysAddr, size uint64) *Window {
	if size == 0 || paddr+size < paddr {
		return nil
	}
	for _, w := range s.windows {
		if paddr >= w.Base && paddr+size <= w.Base+uint64(len(w.Mem)) {
			return w
		}
	}
	return nil
}

// Put8 stores a register value at off.
func (w *Window) Put8(off uint64, v uint8) { w.Mem[off] = v }

// Put16 stores a little-endian register value at off.
func (w *Window) Put16(off uint64, v uint16) { binary.LittleEndian.PutUint16(w.Mem[off:], v) }

// Put32 stores a little-endian register value at off.
func (w *Window) Put32(off uint64, v uint32) { binary.LittleEndian.PutUint32(w.Mem[off:], v) }

// Get8 loads a register value at off.
func (w *Window) Get8(off uint64) uint8 { return w.Mem[off] }

// Get32 loads a little-endian register value at off.
func (w *Window) Get32(off uint64) uint32 { return binary.LittleEndian.Uint32(w.Mem[off:]) }

var _ Mapper = (*Sim)(nil)
