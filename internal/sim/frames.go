package sim

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// UDPFrame describes an Ethernet/IPv4/UDP test frame.
type UDPFrame struct {
	SrcMAC, DstMAC   net.HardwareAddr
	SrcIP, DstIP     net.IP
	SrcPort, DstPort uint16
	Payload          []byte
}

// Build serializes the frame with lengths and checksums filled in.
func (f UDPFrame) Build() ([]byte, error) {
	eth := layers.Ethernet{
		SrcMAC:       f.SrcMAC,
		DstMAC:       f.DstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    f.SrcIP,
		DstIP:    f.DstIP,
	}
	udp := layers.UDP{
		SrcPort: layers.UDPPort(f.SrcPort),
		DstPort: layers.UDPPort(f.DstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(&ip); err != nil {
		return nil, err
	}

	buffer := gopacket.NewSerializeBuffer()
	opt := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}
	if err := gopacket.SerializeLayers(buffer, opt, &eth, &ip, &udp, gopacket.Payload(f.Payload)); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
