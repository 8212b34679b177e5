package virtio

import "github.com/tinyrange/dtboot/internal/device"

const gpuCfgNumScanouts = 0x08

// GPU is a virtio GPU.
type GPU struct {
	transport
	scanouts uint32
}

// NewGPU reads the scanout count of a GPU transport.
func NewGPU(h *Header) *GPU {
	g := &GPU{transport: transport{header: h}}
	g.features = h.Begin(0)
	g.scanouts = h.Config().Read32(gpuCfgNumScanouts)
	return g
}

func (g *GPU) Name() string { return "virtio-gpu" }
func (g *GPU) HandleIRQ(uint32) { g.handleIRQ() }
func (g *GPU) NumScanouts() uint32 { return g.scanouts }

var _ device.DisplayScheme = (*GPU)(nil)
