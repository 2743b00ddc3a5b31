package packet

import (
	"encoding/binary"
	"fmt"
)

// Ethernet is a zero-copy view over a DIX Ethernet frame.
type Ethernet struct {
	b []byte
}

// ParseEthernet validates that b holds at least an Ethernet header and
// returns a view over it.
func ParseEthernet(b []byte) (Ethernet, error) {
	if len(b) < EthernetHeaderLen {
		return Ethernet{}, fmt.Errorf("ethernet header %d bytes: %w", len(b), ErrTruncated)
	}
	return Ethernet{b: b}, nil
}

func (e Ethernet) DstMAC() MACAddr {
	var m MACAddr
	copy(m[:], e.b[0:6])
	return m
}

func (e Ethernet) SrcMAC() MACAddr {
	var m MACAddr
	copy(m[:], e.b[6:12])
	return m
}

func (e Ethernet) EtherType() uint16 {
	return binary.BigEndian.Uint16(e.b[12:14])
}

// Payload returns everything after the Ethernet header.
func (e Ethernet) Payload() []byte {
	return e.b[EthernetHeaderLen:]
}

// PutEthernetHeader serializes an Ethernet header into the first 14 bytes
// of b.
func PutEthernetHeader(b []byte, dst, src MACAddr, etherType uint16) {
	copy(b[0:6], dst[:])
	copy(b[6:12], src[:])
	binary.BigEndian.PutUint16(b[12:14], etherType)
}

// PatchDstMAC overwrites the destination address of a serialized frame.
// Used when the next-hop MAC becomes known after the frame was assembled.
func PatchDstMAC(frame []byte, mac MACAddr) {
	copy(frame[0:6], mac[:])
}
