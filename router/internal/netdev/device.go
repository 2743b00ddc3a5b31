package netdev

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"

	"github.com/urouted/urouted/packet"
)

// Info is the addressing the kernel reports for a host interface.
type Info struct {
	HW   packet.MACAddr
	Addr netip.Addr
	Mask net.IPMask
}

// Describe returns the hardware address and the first IPv4 address and
// netmask of the named interface.
func Describe(name string) (Info, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return Info{}, fmt.Errorf("failed to find interface %q: %w", name, err)
	}

	hw := link.Attrs().HardwareAddr
	if len(hw) != 6 {
		return Info{}, fmt.Errorf("interface %q has no Ethernet address", name)
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return Info{}, fmt.Errorf("failed to list addresses of %q: %w", name, err)
	}
	if len(addrs) == 0 {
		return Info{}, fmt.Errorf("interface %q has no IPv4 address", name)
	}

	ip := addrs[0].IPNet.IP.To4()
	if ip == nil {
		return Info{}, fmt.Errorf("interface %q: unexpected address %v", name, addrs[0].IPNet.IP)
	}

	var info Info
	copy(info.HW[:], hw)
	info.Addr = netip.AddrFrom4([4]byte(ip))
	info.Mask = addrs[0].IPNet.Mask
	return info, nil
}
