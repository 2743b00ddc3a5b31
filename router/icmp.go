package router

import (
	"go.uber.org/zap"

	"github.com/urouted/urouted/common/xnetip"
	"github.com/urouted/urouted/packet"
)

// sendTimeExceeded answers an expired datagram with ICMP Time Exceeded on
// the ingress port, quoting the offending IP packet. Sent once, best
// effort.
func (r *Router) sendTimeExceeded(port int, eth packet.Ethernet, ip packet.IPv4) {
	frame := packet.NewTimeExceeded(
		eth.SrcMAC(),
		r.ifaces[port].hw,
		r.ifaces[port].addr,
		ip.SrcAddr(),
		ip.Packet(),
	)

	r.log.Debugw("sending time exceeded",
		zap.Int("port", port),
		zap.Stringer("dst", xnetip.FromUint32(ip.SrcAddr())),
		zap.Int("bytes", len(frame)),
	)
	r.write(port, frame)
}
