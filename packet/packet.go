// Package packet implements bit-exact parsing and serialization of the
// Ethernet, ARP, IPv4 and ICMP headers the router forwards, along with the
// Internet checksum.
//
// Parse functions return zero-copy views into the original buffer. Mutating
// accessors (SetTTL, SetChecksum) write through to that buffer.
package packet

import (
	"errors"
	"net"
)

const (
	// EthernetHeaderLen is the length of a DIX Ethernet header.
	EthernetHeaderLen = 14
	// ARPPacketLen is the length of an Ethernet/IPv4 ARP packet.
	ARPPacketLen = 28
	// IPv4MinHeaderLen is the length of an IPv4 header without options.
	IPv4MinHeaderLen = 20
	// IPv4MaxHeaderLen bounds the header to at most 40 bytes of options.
	IPv4MaxHeaderLen = 60
)

const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
)

var (
	// ErrTruncated reports a buffer too short for the header it claims to
	// hold.
	ErrTruncated = errors.New("truncated packet")
	// ErrMalformed reports a header whose fields fail validation.
	ErrMalformed = errors.New("malformed packet")
)

// MACAddr is an Ethernet hardware address, compared by value.
type MACAddr [6]byte

// Broadcast is the all-ones Ethernet address.
var Broadcast = MACAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func (m MACAddr) String() string {
	return net.HardwareAddr(m[:]).String()
}
