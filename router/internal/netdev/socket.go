// Package netdev owns the link-layer boundary: raw AF_PACKET sockets bound
// to host interfaces, interface addressing discovered over netlink, and the
// kernel forwarding interlock.
package netdev

import (
	"fmt"
	"time"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// Device is a raw link-layer socket bound to a host network interface.
// All traffic, inbound and outbound, is raw Ethernet starting at the
// destination address.
type Device struct {
	fd      int
	name    string
	link    netlink.Link
	promisc bool
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

// Open creates an AF_PACKET/SOCK_RAW socket bound to the named interface.
// With ipOnly only IPv4 ethertype frames are delivered, otherwise all. When
// promisc is set the interface is put into promiscuous mode for the
// lifetime of the device.
func Open(name string, promisc, ipOnly bool) (*Device, error) {
	proto := uint16(unix.ETH_P_ALL)
	if ipOnly {
		proto = unix.ETH_P_IP
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(proto)))
	if err != nil {
		return nil, fmt.Errorf("failed to create raw socket: %w", err)
	}

	link, err := netlink.LinkByName(name)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to find interface %q: %w", name, err)
	}

	sll := &unix.SockaddrLinklayer{
		Protocol: htons(proto),
		Ifindex:  link.Attrs().Index,
	}
	if err := unix.Bind(fd, sll); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind to %q: %w", name, err)
	}

	if promisc {
		if err := netlink.SetPromiscOn(link); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("failed to enable promiscuous mode on %q: %w", name, err)
		}
	}

	return &Device{
		fd:      fd,
		name:    name,
		link:    link,
		promisc: promisc,
	}, nil
}

// Name returns the interface name the device is bound to.
func (d *Device) Name() string {
	return d.name
}

// Fd returns the raw socket descriptor for multi-device waits.
func (d *Device) Fd() int {
	return d.fd
}

// Read receives at most one frame into buf.
func (d *Device) Read(buf []byte) (int, error) {
	return unix.Read(d.fd, buf)
}

// Write sends one frame, best effort. A short write is reported as an
// error; the caller decides whether that matters.
func (d *Device) Write(frame []byte) (int, error) {
	n, err := unix.Write(d.fd, frame)
	if err != nil {
		return n, err
	}
	if n < len(frame) {
		return n, fmt.Errorf("short write on %s: %d of %d bytes", d.name, n, len(frame))
	}
	return n, nil
}

// Close releases the socket and restores the interface mode.
func (d *Device) Close() error {
	if d.promisc {
		if err := netlink.SetPromiscOff(d.link); err != nil {
			unix.Close(d.fd)
			return fmt.Errorf("failed to disable promiscuous mode on %s: %w", d.name, err)
		}
	}
	return unix.Close(d.fd)
}

// Wait polls the devices for readability, reporting per device whether data
// or an error condition is pending. An interrupted wait returns with no
// device ready.
func Wait(devices []*Device, timeout time.Duration) ([]bool, error) {
	pfds := make([]unix.PollFd, len(devices))
	for i, d := range devices {
		pfds[i] = unix.PollFd{
			Fd:     int32(d.fd),
			Events: unix.POLLIN | unix.POLLERR,
		}
	}

	ready := make([]bool, len(devices))

	n, err := unix.Poll(pfds, int(timeout.Milliseconds()))
	if err == unix.EINTR {
		return ready, nil
	}
	if err != nil {
		return ready, fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return ready, nil
	}

	for i := range pfds {
		ready[i] = pfds[i].Revents&(unix.POLLIN|unix.POLLERR) != 0
	}
	return ready, nil
}
