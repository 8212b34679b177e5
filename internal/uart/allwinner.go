package uart

import (
	"fmt"
	"sync"

	"github.com/tinyrange/dtboot/internal/device"
	"github.com/tinyrange/dtboot/internal/mmio"
)

// Allwinner sun20i UART register offsets. Registers are 32 bits wide on a
// 4-byte stride.
const (
	awRBR  = 0x00
	awTHR  = 0x00
	awDLL  = 0x00
	awDLH  = 0x04
	awIER  = 0x04
	awFCR  = 0x08
	awLCR  = 0x0c
	awMCR  = 0x10
	awLSR  = 0x14
	awUSR  = 0x7c
	awHALT = 0xa4

	// AllwinnerWindowSize covers every register the driver touches.
	AllwinnerWindowSize = awHALT + 4

	// awDivisor115200 is the divisor for 115200 baud from the 24 MHz APB clock.
	awDivisor115200 = 13
)

// Allwinner drives the UART found on the Allwinner D1 (sun20i).
type Allwinner struct {
	mu       sync.Mutex
	regs     mmio.Region
	listener device.EventListener
}

// NewAllwinner programs the port for 115200 8N1 with FIFOs and the receive
// interrupt enabled.
func NewAllwinner(regs mmio.Region) (*Allwinner, error) {
	if regs.Size() < AllwinnerWindowSize {
		return nil, fmt.Errorf("allwinner uart: window of 0x%x bytes, need 0x%x: %w",
			regs.Size(), AllwinnerWindowSize, device.ErrInvalidParam)
	}
	u := &Allwinner{regs: regs}
	u.init()
	return u, nil
}

func (u *Allwinner) init() {
	// disable interrupts
	u.regs.Write32(awIER, 0)
	// enable fifo
	u.regs.Write32(awFCR, 0b0001)

	// The divisor latch is only writable while the UART is halted.
	u.regs.Write32(awHALT, 0b0000_0001)
	u.regs.Write32(awLCR, 0b1000_0011)
	u.regs.Write32(awDLL, awDivisor115200)
	u.regs.Write32(awDLH, 0)
	// no break | parity disabled | 1 stop bit | 8 data bits
	u.regs.Write32(awLCR, 0b0000_0011)
	u.regs.Write32(awHALT, 0b0000_0110)

	// reset fifo
	u.regs.Write32(awFCR, 0b0111)
	// uart mode
	u.regs.Write32(awMCR, 0)
	// enable receive interrupt
	u.regs.Write32(awIER, 1)
}

// Name implements device.Scheme.
func (u *Allwinner) Name() string { return "uart-allwinner" }

// HandleIRQ notifies receive subscribers.
func (u *Allwinner) HandleIRQ(uint32) { u.listener.Trigger() }

// Subscribe implements device.UartScheme.
func (u *Allwinner) Subscribe(fn func(), once bool) { u.listener.Subscribe(fn, once) }

// TryRecv implements device.UartScheme.
func (u *Allwinner) TryRecv() (byte, bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.regs.Read32(awLSR)&LSRDataReady == 0 {
		return 0, false, nil
	}
	return uint8(u.regs.Read32(awRBR)), true, nil
}

// Send implements device.UartScheme.
func (u *Allwinner) Send(ch byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.send(ch)
	return nil
}

func (u *Allwinner) send(ch byte) {
	for u.regs.Read32(awLSR)&LSRTHREmpty == 0 {
	}
	u.regs.Write32(awTHR, uint32(ch))
}

// WriteString implements device.UartScheme, translating LF to CRLF.
func (u *Allwinner) WriteString(s string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			u.send('\r')
		}
		u.send(s[i])
	}
	return nil
}

var _ device.UartScheme = (*Allwinner)(nil)
