package virtio

import "github.com/tinyrange/dtboot/internal/device"

// Virtio block feature bits
const (
	VIRTIO_BLK_F_RO       = 1 << 5 // Read-only device
	VIRTIO_BLK_F_BLK_SIZE = 1 << 6 // Block size available

	blkCfgCapacity = 0x00
	blkCfgBlkSize  = 0x14

	defaultSectorSize = 512
)

// Blk is a virtio block device.
type Blk struct {
	transport
	capacity  uint64
	blockSize uint32
}

// NewBlk reads the geometry of a block transport.
func NewBlk(h *Header) *Blk {
	b := &Blk{transport: transport{header: h}}
	b.features = h.Begin(VIRTIO_BLK_F_RO | VIRTIO_BLK_F_BLK_SIZE)

	cfg := h.Config()
	b.capacity = cfg.Read64(blkCfgCapacity)
	b.blockSize = defaultSectorSize
	if b.features&VIRTIO_BLK_F_BLK_SIZE != 0 {
		if sz := cfg.Read32(blkCfgBlkSize); sz != 0 {
			b.blockSize = sz
		}
	}
	return b
}

func (b *Blk) Name() string { return "virtio-blk" }
func (b *Blk) HandleIRQ(uint32) { b.handleIRQ() }
func (b *Blk) Capacity() uint64 { return b.capacity }
func (b *Blk) BlockSize() uint32 { return b.blockSize }
func (b *Blk) ReadOnly() bool { return b.features&VIRTIO_BLK_F_RO != 0 }

var _ device.BlockScheme = (*Blk)(nil)
