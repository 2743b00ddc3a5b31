package packet

import (
	"encoding/binary"
	"fmt"
)

const (
	ARPOpRequest uint16 = 1
	ARPOpReply   uint16 = 2
)

const (
	arpHardwareEthernet uint16 = 1
	arpHWAddrLen               = 6
	arpProtoAddrLen            = 4
)

// ARP is a zero-copy view over an Ethernet/IPv4 ARP packet.
type ARP struct {
	b []byte
}

// ParseARP validates that b holds an Ethernet/IPv4 ARP packet and returns a
// view over it.
func ParseARP(b []byte) (ARP, error) {
	if len(b) < ARPPacketLen {
		return ARP{}, fmt.Errorf("arp packet %d bytes: %w", len(b), ErrTruncated)
	}
	if binary.BigEndian.Uint16(b[0:2]) != arpHardwareEthernet {
		return ARP{}, fmt.Errorf("arp hardware type: %w", ErrMalformed)
	}
	if binary.BigEndian.Uint16(b[2:4]) != EtherTypeIPv4 {
		return ARP{}, fmt.Errorf("arp protocol type: %w", ErrMalformed)
	}
	if b[4] != arpHWAddrLen || b[5] != arpProtoAddrLen {
		return ARP{}, fmt.Errorf("arp address lengths %d/%d: %w", b[4], b[5], ErrMalformed)
	}
	return ARP{b: b}, nil
}

func (a ARP) Op() uint16 {
	return binary.BigEndian.Uint16(a.b[6:8])
}

// SenderHW returns the sender hardware address.
func (a ARP) SenderHW() MACAddr {
	var m MACAddr
	copy(m[:], a.b[8:14])
	return m
}

// SenderIP returns the sender protocol address as a big-endian value.
func (a ARP) SenderIP() uint32 {
	return binary.BigEndian.Uint32(a.b[14:18])
}

// TargetIP returns the target protocol address as a big-endian value.
func (a ARP) TargetIP() uint32 {
	return binary.BigEndian.Uint32(a.b[24:28])
}

// NewARPRequest builds a broadcast who-has frame: "who has targetIP, tell
// srcIP". The target hardware address is left zeroed.
func NewARPRequest(srcHW MACAddr, srcIP, targetIP uint32) []byte {
	frame := make([]byte, EthernetHeaderLen+ARPPacketLen)
	PutEthernetHeader(frame, Broadcast, srcHW, EtherTypeARP)

	p := frame[EthernetHeaderLen:]
	binary.BigEndian.PutUint16(p[0:2], arpHardwareEthernet)
	binary.BigEndian.PutUint16(p[2:4], EtherTypeIPv4)
	p[4] = arpHWAddrLen
	p[5] = arpProtoAddrLen
	binary.BigEndian.PutUint16(p[6:8], ARPOpRequest)
	copy(p[8:14], srcHW[:])
	binary.BigEndian.PutUint32(p[14:18], srcIP)
	binary.BigEndian.PutUint32(p[24:28], targetIP)

	return frame
}
