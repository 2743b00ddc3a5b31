package router

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/urouted/urouted/common/xerror"
	"github.com/urouted/urouted/common/xnetip"
	"github.com/urouted/urouted/common/xpacket"
	"github.com/urouted/urouted/packet"
	"github.com/urouted/urouted/router/internal/arpcache"
)

// fakeConn captures written frames instead of hitting a socket.
type fakeConn struct {
	frames [][]byte
}

func (c *fakeConn) Read(buf []byte) (int, error) {
	return 0, nil
}

func (c *fakeConn) Write(frame []byte) (int, error) {
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return len(frame), nil
}

func (c *fakeConn) Close() error {
	return nil
}

var (
	hwInner  = packet.MACAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01}
	hwOuter  = packet.MACAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x10}
	hwSender = packet.MACAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x99}
	hwTarget = packet.MACAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x02}
)

func mustAddr(s string) uint32 {
	return xnetip.Uint32(netip.MustParseAddr(s))
}

// newTestRouter wires the engine to in-memory ports:
// port 0 is 192.168.1.1/24, port 1 is 10.0.0.1/24, upstream 10.0.0.254.
func newTestRouter(t *testing.T) (*Router, *fakeConn, *fakeConn) {
	inner := &fakeConn{}
	outer := &fakeConn{}

	mask := mustAddr("255.255.255.0")
	r := &Router{
		cfg:     DefaultConfig(),
		nextHop: mustAddr("10.0.0.254"),
		cache:   arpcache.New(arpcache.WithCapacity(64)),
		log:     zap.NewNop().Sugar(),
	}
	r.ifaces[portReceive] = &iface{
		name:    "inner0",
		conn:    inner,
		hw:      hwInner,
		addr:    mustAddr("192.168.1.1"),
		mask:    mask,
		network: mustAddr("192.168.1.0"),
	}
	r.ifaces[portSend] = &iface{
		name:    "outer0",
		conn:    outer,
		hw:      hwOuter,
		addr:    mustAddr("10.0.0.1"),
		mask:    mask,
		network: mustAddr("10.0.0.0"),
	}
	return r, inner, outer
}

func ingressFrame(t *testing.T, ttl uint8) []byte {
	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr(hwSender[:]),
		DstMAC:       net.HardwareAddr(hwInner[:]),
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      ttl,
		Protocol: layers.IPProtocolNoNextHeader,
		SrcIP:    net.ParseIP("192.168.1.5"),
		DstIP:    net.ParseIP("10.0.0.2"),
	}
	return xpacket.LayersToPacket(t, &eth, &ip4, gopacket.Payload("PING")).Data()
}

func arpFrame(t *testing.T, op uint16, senderHW packet.MACAddr, senderIP string, dstHW packet.MACAddr, targetIP string) []byte {
	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr(senderHW[:]),
		DstMAC:       net.HardwareAddr(dstHW[:]),
		EthernetType: layers.EthernetTypeARP,
	}
	arp := layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   senderHW[:],
		SourceProtAddress: net.ParseIP(senderIP).To4(),
		DstHwAddress:      dstHW[:],
		DstProtAddress:    net.ParseIP(targetIP).To4(),
	}
	return xpacket.LayersToPacket(t, &eth, &arp).Data()
}

// requireForwarded checks the egress frame against the ingress one: same IP
// payload, TTL one lower, checksum recomputed and valid.
func requireForwarded(t *testing.T, in, out []byte, dstHW, srcHW packet.MACAddr) {
	t.Helper()

	outEth := xerror.Unwrap(packet.ParseEthernet(out))
	require.Equal(t, dstHW, outEth.DstMAC())
	require.Equal(t, srcHW, outEth.SrcMAC())
	require.Equal(t, packet.EtherTypeIPv4, outEth.EtherType())

	inIP := xerror.Unwrap(packet.ParseIPv4(in[packet.EthernetHeaderLen:]))
	outIP := xerror.Unwrap(packet.ParseIPv4(out[packet.EthernetHeaderLen:]))

	require.Equal(t, inIP.TTL()-1, outIP.TTL())
	require.Equal(t, inIP.Payload(), outIP.Payload())
	require.Equal(t, inIP.Options(), outIP.Options())
	require.Equal(t, inIP.SrcAddr(), outIP.SrcAddr())
	require.Equal(t, inIP.DstAddr(), outIP.DstAddr())
	require.Contains(t, []uint16{0x0000, 0xffff},
		packet.Checksum(out[packet.EthernetHeaderLen:packet.EthernetHeaderLen+outIP.HeaderLen()]))
}

func TestForwardResolvedNextHop(t *testing.T) {
	r, inner, outer := newTestRouter(t)

	r.cache.GetOrInsert(portSend, mustAddr("10.0.0.2"), &hwTarget)

	in := ingressFrame(t, 64)
	r.analyzeFrame(portReceive, in)

	require.Empty(t, inner.frames)
	require.Len(t, outer.frames, 1)
	requireForwarded(t, in, outer.frames[0], hwTarget, hwOuter)
}

func TestForwardTriggersARPThenFlush(t *testing.T) {
	r, inner, outer := newTestRouter(t)

	in := ingressFrame(t, 64)
	r.analyzeFrame(portReceive, in)
	r.flushResolved()

	require.Empty(t, inner.frames)
	require.Len(t, outer.frames, 1)

	// The only egress so far is the broadcast who-has request.
	pkt := xpacket.ParseEtherPacket(outer.frames[0])
	arpLayer := pkt.Layer(layers.LayerTypeARP)
	require.NotNil(t, arpLayer)
	arp := arpLayer.(*layers.ARP)
	require.Equal(t, uint16(layers.ARPRequest), arp.Operation)
	require.Equal(t, net.ParseIP("10.0.0.2").To4(), net.IP(arp.DstProtAddress))
	require.Equal(t, net.ParseIP("10.0.0.1").To4(), net.IP(arp.SourceProtAddress))
	require.Equal(t, hwOuter[:], arp.SourceHwAddress)

	idx, ok := r.cache.Search(portSend, mustAddr("10.0.0.2"))
	require.True(t, ok)
	require.Equal(t, arpcache.StateResolving, r.cache.State(idx))
	// The 14+20+4 byte ingress frame is padded to the 60-byte Ethernet
	// minimum, and the forwarded copy carries that padding verbatim.
	frames, bytes := r.cache.PendingStats(idx)
	require.Equal(t, 1, frames)
	require.Equal(t, 60, bytes)

	// A second datagram while resolving must not emit another request.
	r.analyzeFrame(portReceive, ingressFrame(t, 64))
	require.Len(t, outer.frames, 1)
	frames, _ = r.cache.PendingStats(idx)
	require.Equal(t, 2, frames)

	// The reply unblocks the queue in FIFO order.
	reply := arpFrame(t, uint16(layers.ARPReply), hwTarget, "10.0.0.2", hwOuter, "10.0.0.1")
	r.analyzeFrame(portSend, reply)
	r.flushResolved()

	require.Len(t, outer.frames, 3)
	requireForwarded(t, in, outer.frames[1], hwTarget, hwOuter)
	requireForwarded(t, in, outer.frames[2], hwTarget, hwOuter)

	frames, bytes = r.cache.PendingStats(idx)
	require.Zero(t, frames)
	require.Zero(t, bytes)
	require.Equal(t, arpcache.StateResolved, r.cache.State(idx))
}

func TestPassiveLearnFromBroadcastRequest(t *testing.T) {
	r, inner, outer := newTestRouter(t)

	req := arpFrame(t, uint16(layers.ARPRequest), packet.MACAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x05},
		"10.0.0.5", packet.Broadcast, "10.0.0.1")
	r.analyzeFrame(portSend, req)

	// The router stays silent: no reply, no other egress.
	require.Empty(t, inner.frames)
	require.Empty(t, outer.frames)

	idx, ok := r.cache.Search(portSend, mustAddr("10.0.0.5"))
	require.True(t, ok)
	require.Equal(t, arpcache.StateResolved, r.cache.State(idx))
	require.Equal(t, packet.MACAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x05}, r.cache.MAC(idx))

	// A datagram toward the learned host forwards immediately.
	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr(hwSender[:]),
		DstMAC:       net.HardwareAddr(hwInner[:]),
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolNoNextHeader,
		SrcIP:    net.ParseIP("192.168.1.5"),
		DstIP:    net.ParseIP("10.0.0.5"),
	}
	in := xpacket.LayersToPacket(t, &eth, &ip4, gopacket.Payload("DATA")).Data()
	r.analyzeFrame(portReceive, in)

	require.Len(t, outer.frames, 1)
	requireForwarded(t, in, outer.frames[0],
		packet.MACAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x05}, hwOuter)
}

func TestSelfAddressedDrop(t *testing.T) {
	r, inner, outer := newTestRouter(t)

	before := r.cache.Snapshot()

	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr(hwSender[:]),
		DstMAC:       net.HardwareAddr(hwInner[:]),
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolNoNextHeader,
		SrcIP:    net.ParseIP("192.168.1.5"),
		DstIP:    net.ParseIP("192.168.1.1"),
	}
	r.analyzeFrame(portReceive, xpacket.LayersToPacket(t, &eth, &ip4, gopacket.Payload("HI")).Data())

	require.Empty(t, inner.frames)
	require.Empty(t, outer.frames)
	require.Empty(t, cmp.Diff(before, r.cache.Snapshot()))
}

func TestForeignDhostDrop(t *testing.T) {
	r, inner, outer := newTestRouter(t)

	frame := ingressFrame(t, 64)
	copy(frame[0:6], []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01})
	r.analyzeFrame(portReceive, frame)

	require.Empty(t, inner.frames)
	require.Empty(t, outer.frames)
}

func TestUnknownEtherTypeDrop(t *testing.T) {
	r, inner, outer := newTestRouter(t)

	frame := ingressFrame(t, 64)
	frame[12], frame[13] = 0x86, 0xdd
	r.analyzeFrame(portReceive, frame)

	require.Empty(t, inner.frames)
	require.Empty(t, outer.frames)
}

func TestFailedNextHopDrop(t *testing.T) {
	r, _, outer := newTestRouter(t)

	idx, _, _ := r.cache.GetOrInsert(portSend, mustAddr("10.0.0.2"), nil)
	r.cache.MarkFailed(idx)

	r.analyzeFrame(portReceive, ingressFrame(t, 64))

	require.Empty(t, outer.frames)
	frames, _ := r.cache.PendingStats(idx)
	require.Zero(t, frames)
}

func TestDefaultRouteUsesNextHop(t *testing.T) {
	r, _, outer := newTestRouter(t)

	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr(hwSender[:]),
		DstMAC:       net.HardwareAddr(hwInner[:]),
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolNoNextHeader,
		SrcIP:    net.ParseIP("192.168.1.5"),
		DstIP:    net.ParseIP("8.8.8.8"),
	}
	r.analyzeFrame(portReceive, xpacket.LayersToPacket(t, &eth, &ip4, gopacket.Payload("X")).Data())

	// Off-subnet destination resolves the upstream router, not 8.8.8.8.
	require.Len(t, outer.frames, 1)
	pkt := xpacket.ParseEtherPacket(outer.frames[0])
	arp := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	require.Equal(t, net.ParseIP("10.0.0.254").To4(), net.IP(arp.DstProtAddress))
}

func TestRetransmitDue(t *testing.T) {
	r, _, outer := newTestRouter(t)

	r.analyzeFrame(portReceive, ingressFrame(t, 64))
	require.Len(t, outer.frames, 1)

	// Well past any backoff deadline, the request goes out again.
	r.retransmitDue(time.Now().Add(time.Hour))
	require.Len(t, outer.frames, 2)

	pkt := xpacket.ParseEtherPacket(outer.frames[1])
	arpLayer := pkt.Layer(layers.LayerTypeARP)
	require.NotNil(t, arpLayer)
	arp := arpLayer.(*layers.ARP)
	require.Equal(t, uint16(layers.ARPRequest), arp.Operation)
	require.Equal(t, net.ParseIP("10.0.0.2").To4(), net.IP(arp.DstProtAddress))
}

func TestForwardKeepsIPOptions(t *testing.T) {
	r, _, outer := newTestRouter(t)
	r.cache.GetOrInsert(portSend, mustAddr("10.0.0.2"), &hwTarget)

	// Hand-built frame with a 4-byte options area (IHL 6): three NOPs and
	// an end-of-list.
	in := make([]byte, packet.EthernetHeaderLen+24+4)
	packet.PutEthernetHeader(in, hwInner, hwSender, packet.EtherTypeIPv4)
	hdr := in[packet.EthernetHeaderLen:]
	hdr[0] = 0x46
	hdr[2], hdr[3] = 0, 28
	hdr[8] = 64
	hdr[9] = 17
	copy(hdr[12:16], []byte{192, 168, 1, 5})
	copy(hdr[16:20], []byte{10, 0, 0, 2})
	hdr[20], hdr[21], hdr[22], hdr[23] = 0x01, 0x01, 0x01, 0x00
	copy(hdr[24:], "OPTS")
	cs := packet.Checksum(hdr[:24])
	hdr[10], hdr[11] = byte(cs>>8), byte(cs)

	r.analyzeFrame(portReceive, in)

	require.Len(t, outer.frames, 1)
	requireForwarded(t, in, outer.frames[0], hwTarget, hwOuter)
	out := outer.frames[0]
	require.Equal(t, byte(0x46), out[packet.EthernetHeaderLen])
	require.Equal(t, []byte{0x01, 0x01, 0x01, 0x00},
		out[packet.EthernetHeaderLen+20:packet.EthernetHeaderLen+24])
}
