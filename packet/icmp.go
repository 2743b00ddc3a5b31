package packet

import (
	"encoding/binary"
)

const (
	// ICMPTypeTimeExceeded is the ICMP type of Time Exceeded messages.
	ICMPTypeTimeExceeded = 11
	// ICMPCodeTTLExceeded is the TTL-exceeded-in-transit code.
	ICMPCodeTTLExceeded = 0

	icmpHeaderLen = 8
	// icmpQuoteLen is how much of the offending IP packet is echoed back,
	// counted from the start of its IP header.
	icmpQuoteLen = 64

	icmpReplyTTL = 64
)

// NewTimeExceeded builds a complete Time Exceeded frame quoting the first 64
// bytes of origIP (the offending packet starting at its IP header), zero
// padded when the packet is shorter.
//
// The IPv4 total length field counts only the ICMP part (72), not the IP
// header. This undercount is kept deliberately so emitted frames stay
// byte-identical to existing captures.
func NewTimeExceeded(dst, src MACAddr, srcIP, dstIP uint32, origIP []byte) []byte {
	frame := make([]byte, EthernetHeaderLen+IPv4MinHeaderLen+icmpHeaderLen+icmpQuoteLen)
	PutEthernetHeader(frame, dst, src, EtherTypeIPv4)

	ip := frame[EthernetHeaderLen : EthernetHeaderLen+IPv4MinHeaderLen]
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:4], icmpHeaderLen+icmpQuoteLen)
	ip[8] = icmpReplyTTL
	ip[9] = ProtocolICMP
	binary.BigEndian.PutUint32(ip[12:16], srcIP)
	binary.BigEndian.PutUint32(ip[16:20], dstIP)
	binary.BigEndian.PutUint16(ip[10:12], Checksum(ip))

	icmp := frame[EthernetHeaderLen+IPv4MinHeaderLen : EthernetHeaderLen+IPv4MinHeaderLen+icmpHeaderLen]
	icmp[0] = ICMPTypeTimeExceeded
	icmp[1] = ICMPCodeTTLExceeded

	quote := frame[EthernetHeaderLen+IPv4MinHeaderLen+icmpHeaderLen:]
	copy(quote, origIP)

	binary.BigEndian.PutUint16(icmp[2:4], Checksum2(icmp, quote))

	return frame
}
