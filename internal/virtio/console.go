package virtio

import (
	"fmt"

	"github.com/tinyrange/dtboot/internal/device"
)

// Virtio console feature bits
const (
	VIRTIO_CONSOLE_F_SIZE        = 1 << 0
	VIRTIO_CONSOLE_F_EMERG_WRITE = 1 << 2

	consoleCfgCols    = 0x00
	consoleCfgRows    = 0x02
	consoleCfgEmergWr = 0x08
)

// Console is a virtio console. Output goes through the emergency write
// register; receive needs queues and is not available.
type Console struct {
	transport
	cols, rows uint16
}

// NewConsole negotiates size and emergency write support.
func NewConsole(h *Header) *Console {
	c := &Console{transport: transport{header: h}}
	c.features = h.Begin(VIRTIO_CONSOLE_F_SIZE | VIRTIO_CONSOLE_F_EMERG_WRITE)
	if c.features&VIRTIO_CONSOLE_F_SIZE != 0 {
		cfg := h.Config()
		c.cols = cfg.Read16(consoleCfgCols)
		c.rows = cfg.Read16(consoleCfgRows)
	}
	return c
}

func (c *Console) Name() string { return "virtio-console" }
func (c *Console) HandleIRQ(uint32) { c.handleIRQ() }

// Size returns the console dimensions, zero if the device does not report them.
func (c *Console) Size() (cols, rows uint16) { return c.cols, c.rows }

// TryRecv implements device.UartScheme.
func (c *Console) TryRecv() (byte, bool, error) {
	return 0, false, fmt.Errorf("virtio-console: receive: %w", device.ErrNotSupported)
}

// Send implements device.UartScheme.
func (c *Console) Send(ch byte) error {
	if c.features&VIRTIO_CONSOLE_F_EMERG_WRITE == 0 {
		return fmt.Errorf("virtio-console: emergency write: %w", device.ErrNotSupported)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.header.Config().Write32(consoleCfgEmergWr, uint32(ch))
	return nil
}

// WriteString implements device.UartScheme.
func (c *Console) WriteString(s string) error {
	for i := 0; i < len(s); i++ {
		if err := c.Send(s[i]); err != nil {
			return err
		}
	}
	return nil
}

var _ device.UartScheme = (*Console)(nil)
