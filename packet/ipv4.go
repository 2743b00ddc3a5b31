package packet

import (
	"encoding/binary"
	"fmt"
)

// ProtocolICMP is the IPv4 protocol number of ICMP.
const ProtocolICMP = 1

// IPv4 is a zero-copy view over an IPv4 packet (header plus payload).
type IPv4 struct {
	b []byte
}

// ParseIPv4 validates the IPv4 header at the start of b and returns a view
// over the whole packet.
func ParseIPv4(b []byte) (IPv4, error) {
	if len(b) < IPv4MinHeaderLen {
		return IPv4{}, fmt.Errorf("ipv4 header %d bytes: %w", len(b), ErrTruncated)
	}
	if b[0]>>4 != 4 {
		return IPv4{}, fmt.Errorf("ip version %d: %w", b[0]>>4, ErrMalformed)
	}
	hdrLen := int(b[0]&0x0f) * 4
	if hdrLen < IPv4MinHeaderLen || hdrLen > IPv4MaxHeaderLen {
		return IPv4{}, fmt.Errorf("ipv4 header length %d: %w", hdrLen, ErrMalformed)
	}
	if hdrLen > len(b) {
		return IPv4{}, fmt.Errorf("ipv4 header length %d exceeds packet: %w", hdrLen, ErrTruncated)
	}
	totalLen := int(binary.BigEndian.Uint16(b[2:4]))
	if totalLen < hdrLen || totalLen > len(b) {
		return IPv4{}, fmt.Errorf("ipv4 total length %d: %w", totalLen, ErrMalformed)
	}
	return IPv4{b: b}, nil
}

// HeaderLen returns the header length in bytes, options included.
func (ip IPv4) HeaderLen() int {
	return int(ip.b[0]&0x0f) * 4
}

func (ip IPv4) TotalLen() int {
	return int(binary.BigEndian.Uint16(ip.b[2:4]))
}

func (ip IPv4) TTL() uint8 {
	return ip.b[8]
}

func (ip IPv4) SetTTL(ttl uint8) {
	ip.b[8] = ttl
}

func (ip IPv4) Protocol() uint8 {
	return ip.b[9]
}

func (ip IPv4) Checksum() uint16 {
	return binary.BigEndian.Uint16(ip.b[10:12])
}

func (ip IPv4) SetChecksum(v uint16) {
	binary.BigEndian.PutUint16(ip.b[10:12], v)
}

// SrcAddr returns the source address as a big-endian value.
func (ip IPv4) SrcAddr() uint32 {
	return binary.BigEndian.Uint32(ip.b[12:16])
}

// DstAddr returns the destination address as a big-endian value.
func (ip IPv4) DstAddr() uint32 {
	return binary.BigEndian.Uint32(ip.b[16:20])
}

// FixedHeader returns the 20-byte header without options.
func (ip IPv4) FixedHeader() []byte {
	return ip.b[:IPv4MinHeaderLen]
}

// Options returns the option bytes, at most 40 of them.
func (ip IPv4) Options() []byte {
	return ip.b[IPv4MinHeaderLen:ip.HeaderLen()]
}

// Payload returns everything after the header, link-layer padding included.
// The forwarded copy carries it verbatim.
func (ip IPv4) Payload() []byte {
	return ip.b[ip.HeaderLen():]
}

// Packet returns the underlying bytes of the view.
func (ip IPv4) Packet() []byte {
	return ip.b
}
