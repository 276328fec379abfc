package sim

import (
	"encoding/binary"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/ehrlich-b/go-ionic/internal/uapi"
)

var recompute = gopacket.SerializeOptions{ComputeChecksums: true}

// checksumFlags verifies the IPv4 header and TCP/UDP checksums of an Ethernet
// frame the way receive offload would and returns the completion csum flags.
// Frames that are not IPv4 get no flags.
func checksumFlags(frame []byte) uint8 {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		return 0
	}

	flags := uint8(uapi.RxCsumCalc)
	if ipv4ChecksumOK(ip) {
		flags |= uapi.RxCsumIPOK
	} else {
		flags |= uapi.RxCsumIPBad
	}
	if pkt.Layer(layers.LayerTypeDot1Q) != nil {
		flags |= uapi.RxCsumVLAN
	}

	switch l4 := pkt.TransportLayer().(type) {
	case *layers.UDP:
		if l4.Checksum == 0 || udpChecksumOK(ip, l4) {
			flags |= uapi.RxCsumUDPOK
		} else {
			flags |= uapi.RxCsumUDPBad
		}
	case *layers.TCP:
		if tcpChecksumOK(ip, l4) {
			flags |= uapi.RxCsumTCPOK
		} else {
			flags |= uapi.RxCsumTCPBad
		}
	}
	return flags
}

// The helpers below re-serialize a copy of the decoded layer with checksum
// computation on and compare the result with what arrived.

func ipv4ChecksumOK(ip *layers.IPv4) bool {
	hdr := *ip
	buf := gopacket.NewSerializeBuffer()
	if err := hdr.SerializeTo(buf, recompute); err != nil {
		return false
	}
	return binary.BigEndian.Uint16(buf.Bytes()[10:12]) == ip.Checksum
}

func udpChecksumOK(ip *layers.IPv4, udp *layers.UDP) bool {
	hdr := *udp
	if err := hdr.SetNetworkLayerForChecksum(ip); err != nil {
		return false
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, recompute, &hdr, gopacket.Payload(udp.Payload)); err != nil {
		return false
	}
	return binary.BigEndian.Uint16(buf.Bytes()[6:8]) == udp.Checksum
}

func tcpChecksumOK(ip *layers.IPv4, tcp *layers.TCP) bool {
	hdr := *tcp
	if err := hdr.SetNetworkLayerForChecksum(ip); err != nil {
		return false
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, recompute, &hdr, gopacket.Payload(tcp.Payload)); err != nil {
		return false
	}
	return binary.BigEndian.Uint16(buf.Bytes()[16:18]) == tcp.Checksum
}
