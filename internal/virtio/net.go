package virtio

import (
	"net"

	"github.com/tinyrange/dtboot/internal/device"
)

// Virtio net feature bits
const (
	VIRTIO_NET_F_MAC    = 1 << 5
	VIRTIO_NET_F_STATUS = 1 << 16

	netCfgMAC    = 0x00
	netCfgStatus = 0x06

	netStatusLinkUp = 1
)

// Net is a virtio network device.
type Net struct {
	transport
	mac net.HardwareAddr
}

// NewNet reads the MAC address when the device offers one.
func NewNet(h *Header) *Net {
	n := &Net{transport: transport{header: h}}
	n.features = h.Begin(VIRTIO_NET_F_MAC | VIRTIO_NET_F_STATUS)
	if n.features&VIRTIO_NET_F_MAC != 0 {
		cfg := h.Config()
		n.mac = make(net.HardwareAddr, 6)
		for i := range n.mac {
			n.mac[i] = cfg.Read8(netCfgMAC + uint64(i))
		}
	}
	return n
}

func (n *Net) Name() string { return "virtio-net" }
func (n *Net) HandleIRQ(uint32) { n.handleIRQ() }
func (n *Net) MACAddress() net.HardwareAddr { return n.mac }

// LinkUp reports the link state. Devices without the status feature are
// always up.
func (n *Net) LinkUp() bool {
	if n.features&VIRTIO_NET_F_STATUS == 0 {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.header.Config().Read16(netCfgStatus)&netStatusLinkUp != 0
}

var _ device.NetScheme = (*Net)(nil)
