//go:build linux

package iomap

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DevMem maps physical windows through /dev/mem. Windows are cached, so a
// second device inside an already mapped range reuses the mapping.
type DevMem struct {
	mu      sync.Mutex
	fd      int
	page    uint64
	windows []devMemWindow
}

type devMemWindow struct {
	base PhysAddr
	mem  []byte
}

// OpenDevMem opens path (usually /dev/mem) for uncached read/write mapping.
func OpenDevMem(path string) (*DevMem, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &DevMem{fd: fd, page: uint64(os.Getpagesize())}, nil
}

// QueryOrMap implements Mapper.
func (m *DevMem) QueryOrMap(paddr PhysAddr, size uint64) (VirtAddr, bool) {
	if size == 0 || paddr+size < paddr {
		return 0, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.windows {
		if paddr >= w.base && paddr+size <= w.base+uint64(len(w.mem)) {
			return VirtAddr(unsafe.Pointer(&w.mem[paddr-w.base])), true
		}
	}

	start := paddr &^ (m.page - 1)
	end := (paddr + size + m.page - 1) &^ (m.page - 1)
	mem, err := unix.Mmap(m.fd, int64(start), int(end-start), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		slog.Warn("iomap: mmap /dev/mem failed", "paddr", fmt.Sprintf("0x%x", paddr), "size", size, "error", err)
		return 0, false
	}
	m.windows = append(m.windows, devMemWindow{base: start, mem: mem})
	return VirtAddr(unsafe.Pointer(&mem[paddr-start])), true
}

// Close unmaps every window and closes the device file.
func (m *DevMem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, w := range m.windows {
		if err := unix.Munmap(w.mem); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.windows = nil
	if err := unix.Close(m.fd); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

var _ Mapper = (*DevMem)(nil)
