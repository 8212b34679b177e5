// Package uart contains drivers for memory-mapped serial ports.
package uart

import (
	"fmt"
	"sync"

	"github.com/tinyrange/dtboot/internal/device"
	"github.com/tinyrange/dtboot/internal/mmio"
)

// UART register offsets (16550 compatible), in register units.
const (
	RegRBR = 0 // Receive Buffer Register (read)
	RegTHR = 0 // Transmit Holding Register (write)
	RegDLL = 0 // Divisor latch low (DLAB=1)
	RegIER = 1 // Interrupt Enable Register
	RegDLH = 1 // Divisor latch high (DLAB=1)
	RegIIR = 2 // Interrupt Identification Register (read)
	RegFCR = 2 // FIFO Control Register (write)
	RegLCR = 3 // Line Control Register
	RegMCR = 4 // Modem Control Register
	RegLSR = 5 // Line Status Register
	RegMSR = 6 // Modem Status Register
	RegSCR = 7 // Scratch Register
)

// LSR bits
const (
	LSRDataReady = 1 << 0 // Data ready
	LSRTHREmpty  = 1 << 5 // Transmit holding register empty
)

const (
	lcrDLAB      = 0x80
	lcr8N1       = 0x03
	fcrEnable    = 0x01
	fcrResetRxTx = 0x06
	mcrDTRRTSOut = 0x0b
	ierRxAvail   = 0x01
)

// NS16550 drives a 16550-compatible UART behind an MMIO window.
type NS16550 struct {
	mu       sync.Mutex
	regs     mmio.Region
	shift    uint
	width    uint32
	listener device.EventListener
}

// NewNS16550 initializes the port: 8N1, FIFOs on, receive interrupt
// enabled. shift and width come from "reg-shift" and "reg-io-width".
// divisor is written to the baud latch when non-zero.
func NewNS16550(regs mmio.Region, shift, width uint32, divisor uint16) (*NS16550, error) {
	if width != 1 && width != 4 {
		return nil, fmt.Errorf("ns16550: reg-io-width %d: %w", width, device.ErrNotSupported)
	}
	if shift > 4 {
		return nil, fmt.Errorf("ns16550: reg-shift %d: %w", shift, device.ErrInvalidParam)
	}
	u := &NS16550{regs: regs, shift: uint(shift), width: width}
	if need := uint64(RegSCR<<u.shift) + uint64(width); regs.Size() < need {
		return nil, fmt.Errorf("ns16550: window of 0x%x bytes, need 0x%x: %w", regs.Size(), need, device.ErrInvalidParam)
	}
	u.init(divisor)
	return u, nil
}

func (u *NS16550) read(reg uint64) uint8 {
	off := reg << u.shift
	if u.width == 4 {
		return uint8(u.regs.Read32(off))
	}
	return u.regs.Read8(off)
}

func (u *NS16550) write(reg uint64, v uint8) {
	off := reg << u.shift
	if u.width == 4 {
		u.regs.Write32(off, uint32(v))
		return
	}
	u.regs.Write8(off, v)
}

func (u *NS16550) init(divisor uint16) {
	u.write(RegIER, 0)
	if divisor != 0 {
		u.write(RegLCR, lcrDLAB)
		u.write(RegDLL, uint8(divisor))
		u.write(RegDLH, uint8(divisor>>8))
	}
	u.write(RegLCR, lcr8N1)
	u.write(RegFCR, fcrEnable|fcrResetRxTx)
	u.write(RegMCR, mcrDTRRTSOut)
	u.write(RegIER, ierRxAvail)
}

// Name implements device.Scheme.
func (u *NS16550) Name() string { return "uart-16550" }

// HandleIRQ notifies receive subscribers.
func (u *NS16550) HandleIRQ(uint32) { u.listener.Trigger() }

// Subscribe implements device.UartScheme.
func (u *NS16550) Subscribe(fn func(), once bool) { u.listener.Subscribe(fn, once) }

// TryRecv implements device.UartScheme.
func (u *NS16550) TryRecv() (byte, bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.read(RegLSR)&LSRDataReady == 0 {
		return 0, false, nil
	}
	return u.read(RegRBR), true, nil
}

// Send implements device.UartScheme. It polls until the holding register
// is empty.
func (u *NS16550) Send(ch byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.send(ch)
	return nil
}

func (u *NS16550) send(ch byte) {
	for u.read(RegLSR)&LSRTHREmpty == 0 {
	}
	u.write(RegTHR, ch)
}

// WriteString implements device.UartScheme, translating LF to CRLF.
func (u *NS16550) WriteString(s string) error {
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

var _ device.UartScheme = (*NS16550)(nil)
