// Package virtio probes virtio-mmio transports and exposes the device
// classes found behind them.
package virtio

import (
	"fmt"
	"sync"

	"github.com/tinyrange/dtboot/internal/device"
	"github.com/tinyrange/dtboot/internal/mmio"
)

const (
	VIRTIO_MMIO_MAGIC_VALUE         = 0x000
	VIRTIO_MMIO_VERSION             = 0x004
	VIRTIO_MMIO_DEVICE_ID           = 0x008
	VIRTIO_MMIO_VENDOR_ID           = 0x00c
	VIRTIO_MMIO_DEVICE_FEATURES     = 0x010
	VIRTIO_MMIO_DEVICE_FEATURES_SEL = 0x014
	VIRTIO_MMIO_DRIVER_FEATURES     = 0x020
	VIRTIO_MMIO_DRIVER_FEATURES_SEL = 0x024
	VIRTIO_MMIO_GUEST_PAGE_SIZE     = 0x028
	VIRTIO_MMIO_INTERRUPT_STATUS    = 0x060
	VIRTIO_MMIO_INTERRUPT_ACK       = 0x064
	VIRTIO_MMIO_STATUS              = 0x070
	VIRTIO_MMIO_CONFIG              = 0x100

	// MagicValue is "virt" in little-endian.
	MagicValue = 0x74726976

	// WindowSize is the minimum transport window: registers plus config space.
	WindowSize = 0x200

	pageSize = 4096
)

// Device status bits
const (
	StatusAcknowledge = 1
	StatusDriver      = 2
	StatusFeaturesOK  = 8
	StatusFailed      = 0x80
)

// Interrupt status bits
const (
	VIRTIO_MMIO_INT_VRING  = 0x1 // Used buffer notification
	VIRTIO_MMIO_INT_CONFIG = 0x2 // Configuration change
)

// DeviceType is the virtio device ID.
type DeviceType uint32

const (
	DeviceNet     DeviceType = 1
	DeviceBlock   DeviceType = 2
	DeviceConsole DeviceType = 3
	DeviceGPU     DeviceType = 16
	DeviceInput   DeviceType = 18
)

func (t DeviceType) String() string {
	switch t {
	case DeviceNet:
		return "net"
	case DeviceBlock:
		return "block"
	case DeviceConsole:
		return "console"
	case DeviceGPU:
		return "gpu"
	case DeviceInput:
		return "input"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

// Header is a verified virtio-mmio transport.
type Header struct {
	regs mmio.Region
}

// Verify checks the transport signature. A window that is not a live
// virtio-mmio device yields device.ErrNotSupported.
func Verify(regs mmio.Region) (*Header, error) {
	if regs.Size() < WindowSize {
		return nil, fmt.Errorf("virtio: window of 0x%x bytes: %w", regs.Size(), device.ErrNotSupported)
	}
	if magic := regs.Read32(VIRTIO_MMIO_MAGIC_VALUE); magic != MagicValue {
		return nil, fmt.Errorf("virtio: bad magic 0x%08x: %w", magic, device.ErrNotSupported)
	}
	if v := regs.Read32(VIRTIO_MMIO_VERSION); v != 1 && v != 2 {
		return nil, fmt.Errorf("virtio: unsupported version %d: %w", v, device.ErrNotSupported)
	}
	// Device ID 0 is a placeholder transport with nothing behind it.
	if regs.Read32(VIRTIO_MMIO_DEVICE_ID) == 0 {
		return nil, fmt.Errorf("virtio: empty transport: %w", device.ErrNotSupported)
	}
	return &Header{regs: regs}, nil
}

func (h *Header) Version() uint32 { return h.regs.Read32(VIRTIO_MMIO_VERSION) }
func (h *Header) DeviceType() DeviceType { return DeviceType(h.regs.Read32(VIRTIO_MMIO_DEVICE_ID)) }
func (h *Header) VendorID() uint32 { return h.regs.Read32(VIRTIO_MMIO_VENDOR_ID) }

// Config returns the device-specific configuration window.
func (h *Header) Config() mmio.Region {
	return h.regs.Sub(VIRTIO_MMIO_CONFIG, h.regs.Size()-VIRTIO_MMIO_CONFIG)
}

// DeviceFeatures reads the low 32 feature bits offered by the device.
func (h *Header) DeviceFeatures() uint32 {
	h.regs.Write32(VIRTIO_MMIO_DEVICE_FEATURES_SEL, 0)
	return h.regs.Read32(VIRTIO_MMIO_DEVICE_FEATURES)
}

// Begin resets the device and negotiates the accepted subset of features.
// It leaves the device in ACKNOWLEDGE|DRIVER(|FEATURES_OK) state; queue setup
// belongs to the class driver.
func (h *Header) Begin(accepted uint32) uint32 {
	h.regs.Write32(VIRTIO_MMIO_STATUS, 0)
	status := uint32(StatusAcknowledge)
	h.regs.Write32(VIRTIO_MMIO_STATUS, status)
	status |= StatusDriver
	h.regs.Write32(VIRTIO_MMIO_STATUS, status)

	features := h.DeviceFeatures() & accepted
	h.regs.Write32(VIRTIO_MMIO_DRIVER_FEATURES_SEL, 0)
	h.regs.Write32(VIRTIO_MMIO_DRIVER_FEATURES, features)

	if h.Version() == 1 {
		h.regs.Write32(VIRTIO_MMIO_GUEST_PAGE_SIZE, pageSize)
	} else {
		status |= StatusFeaturesOK
		h.regs.Write32(VIRTIO_MMIO_STATUS, status)
	}
	return features
}

// AckInterrupt acknowledges whatever interrupt causes are pending and
// returns them.
func (h *Header) AckInterrupt() uint32 {
	pending := h.regs.Read32(VIRTIO_MMIO_INTERRUPT_STATUS)
	if pending != 0 {
		h.regs.Write32(VIRTIO_MMIO_INTERRUPT_ACK, pending)
	}
	return pending
}

// transport is the state every class driver shares.
type transport struct {
	mu       sync.Mutex
	header   *Header
	features uint32
	listener device.EventListener
}

func (t *transport) handleIRQ() {
	t.mu.Lock()
	pending := t.header.AckInterrupt()
	t.mu.Unlock()
	if pending != 0 {
		t.listener.Trigger()
	}
}

func (t *transport) Subscribe(fn func(), once bool) { t.listener.Subscribe(fn, once) }

// New creates the class driver matching the transport's device type.
func New(h *Header) (device.Device, error) {
	switch h.DeviceType() {
	case DeviceBlock:
		return device.NewBlock(NewBlk(h)), nil
	case DeviceGPU:
		return device.NewDisplay(NewGPU(h)), nil
	case DeviceInput:
		return device.NewInput(NewInput(h)), nil
	case DeviceConsole:
		return device.NewUart(NewConsole(h)), nil
	case DeviceNet:
		return device.NewNet(NewNet(h)), nil
	default:
		return device.Device{}, fmt.Errorf("virtio: device %s: %w", h.DeviceType(), device.ErrNotSupported)
	}
}
