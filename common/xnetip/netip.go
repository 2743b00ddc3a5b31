package xnetip

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
)

// Uint32 returns an IPv4 address as its 32-bit big-endian value.
//
// All interior routing arithmetic (netmask application, subnet comparison)
// operates on this representation.
func Uint32(addr netip.Addr) uint32 {
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:])
}

// FromUint32 converts a 32-bit big-endian value back to an IPv4 address.
func FromUint32(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}

// MaskUint32 returns a 4-byte netmask as its 32-bit big-endian value.
func MaskUint32(mask net.IPMask) (uint32, error) {
	if len(mask) != net.IPv4len {
		return 0, fmt.Errorf("netmask length %d, expected %d", len(mask), net.IPv4len)
	}
	return binary.BigEndian.Uint32(mask), nil
}

// Network returns the network part of addr under mask.
func Network(addr, mask uint32) uint32 {
	return addr & mask
}
