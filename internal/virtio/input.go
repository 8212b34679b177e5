package virtio

import "github.com/tinyrange/dtboot/internal/device"

const (
	inputCfgSelect = 0x00
	inputCfgSubsel = 0x01
	inputCfgSize   = 0x02
	inputCfgData   = 0x08

	inputCfgIDName = 0x01
	inputNameMax   = 128
)

// Input is a virtio input device.
type Input struct {
	transport
	name string
}

// NewInput reads the device name through the config select window.
func NewInput(h *Header) *Input {
	in := &Input{transport: transport{header: h}}
	in.features = h.Begin(0)

	cfg := h.Config()
	cfg.Write8(inputCfgSelect, inputCfgIDName)
	cfg.Write8(inputCfgSubsel, 0)
	size := int(cfg.Read8(inputCfgSize))
	if size > inputNameMax {
		size = inputNameMax
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = cfg.Read8(inputCfgData + uint64(i))
	}
	in.name = string(buf)
	return in
}

func (in *Input) Name() string { return "virtio-input" }
func (in *Input) HandleIRQ(uint32) { in.handleIRQ() }
func (in *Input) InputName() string { return in.name }

var _ device.InputScheme = (*Input)(nil)
