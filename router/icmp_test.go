package router

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/urouted/urouted/packet"
)

func TestTTLExpiredEmitsTimeExceeded(t *testing.T) {
	r, inner, outer := newTestRouter(t)

	// The next hop being resolved must not matter: the datagram dies here.
	r.cache.GetOrInsert(portSend, mustAddr("10.0.0.2"), &hwTarget)

	in := ingressFrame(t, 1)
	r.analyzeFrame(portReceive, in)

	require.Empty(t, outer.frames)
	require.Len(t, inner.frames, 1)

	out := inner.frames[0]
	require.Len(t, out, 14+20+8+64)

	eth, err := packet.ParseEthernet(out)
	require.NoError(t, err)
	require.Equal(t, hwSender, eth.DstMAC())
	require.Equal(t, hwInner, eth.SrcMAC())
	require.Equal(t, packet.EtherTypeIPv4, eth.EtherType())

	hdr := out[14:34]
	require.Equal(t, mustAddr("192.168.1.1"), binary.BigEndian.Uint32(hdr[12:16]))
	require.Equal(t, mustAddr("192.168.1.5"), binary.BigEndian.Uint32(hdr[16:20]))
	require.Equal(t, byte(packet.ProtocolICMP), hdr[9])
	require.Equal(t, uint16(72), binary.BigEndian.Uint16(hdr[2:4]))
	require.Contains(t, []uint16{0x0000, 0xffff}, packet.Checksum(hdr))

	icmp := out[34:]
	require.Equal(t, byte(packet.ICMPTypeTimeExceeded), icmp[0])
	require.Equal(t, byte(packet.ICMPCodeTTLExceeded), icmp[1])
	require.Contains(t, []uint16{0x0000, 0xffff}, packet.Checksum(icmp))

	// The quote is the offending IP packet from its header on, zero padded
	// to 64 bytes.
	origIP := in[packet.EthernetHeaderLen:]
	require.Equal(t, origIP, out[42:42+len(origIP)])
	for _, b := range out[42+len(origIP):] {
		require.Zero(t, b)
	}
}

func TestTTLZeroAlsoExpires(t *testing.T) {
	r, inner, outer := newTestRouter(t)

	r.analyzeFrame(portReceive, ingressFrame(t, 0))

	require.Empty(t, outer.frames)
	require.Len(t, inner.frames, 1)
	require.Equal(t, byte(packet.ICMPTypeTimeExceeded), inner.frames[0][34])
}
