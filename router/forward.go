package router

import (
	"encoding/binary"
	"time"

	"go.uber.org/zap"

	"github.com/urouted/urouted/common/xnetip"
	"github.com/urouted/urouted/packet"
	"github.com/urouted/urouted/router/internal/arpcache"
)

// analyzeFrame is the per-frame entry point of the engine.
func (r *Router) analyzeFrame(port int, frame []byte) {
	eth, err := packet.ParseEthernet(frame)
	if err != nil {
		r.log.Debugw("dropping frame", zap.Int("port", port), zap.Error(err))
		return
	}

	// Frames for other stations are none of our business. Broadcast stays
	// in so ARP requests on the wire still teach us sender bindings.
	if dst := eth.DstMAC(); dst != r.ifaces[port].hw && dst != packet.Broadcast {
		r.log.Debugw("frame for another station",
			zap.Int("port", port),
			zap.Stringer("dhost", dst),
		)
		return
	}

	switch eth.EtherType() {
	case packet.EtherTypeARP:
		r.handleARP(port, eth)
	case packet.EtherTypeIPv4:
		r.handleIPv4(port, eth)
	default:
	}
}

// handleARP passively learns the sender binding from any ARP packet seen on
// the wire, request or reply alike. The router itself never answers
// requests for its own address.
func (r *Router) handleARP(port int, eth packet.Ethernet) {
	arp, err := packet.ParseARP(eth.Payload())
	if err != nil {
		r.log.Debugw("dropping arp", zap.Int("port", port), zap.Error(err))
		return
	}

	op := arp.Op()
	if op != packet.ARPOpRequest && op != packet.ARPOpReply {
		return
	}

	mac := arp.SenderHW()
	r.log.Debugw("arp observed",
		zap.Int("port", port),
		zap.Uint16("op", op),
		zap.Stringer("sender", xnetip.FromUint32(arp.SenderIP())),
		zap.Stringer("hw", mac),
	)
	r.cache.GetOrInsert(port, arp.SenderIP(), &mac)
}

// handleIPv4 applies the forwarding decision to one datagram.
func (r *Router) handleIPv4(port int, eth packet.Ethernet) {
	ip, err := packet.ParseIPv4(eth.Payload())
	if err != nil {
		r.log.Debugw("dropping ipv4", zap.Int("port", port), zap.Error(err))
		return
	}

	if ip.TTL() <= 1 {
		r.log.Debugw("ttl expired",
			zap.Int("port", port),
			zap.Stringer("src", xnetip.FromUint32(ip.SrcAddr())),
			zap.Stringer("dst", xnetip.FromUint32(ip.DstAddr())),
		)
		r.sendTimeExceeded(port, eth, ip)
		return
	}

	dst := ip.DstAddr()
	if dst == r.ifaces[portReceive].addr || dst == r.ifaces[portSend].addr {
		// Addressed to the router itself. There is no local stack to
		// consume it.
		r.log.Debugw("addressed to this router", zap.Int("port", port))
		return
	}

	egress, nextHop := r.route(dst)
	out := r.buildForward(egress, ip)

	idx, st, created := r.cache.GetOrInsert(egress, nextHop, nil)
	switch st {
	case arpcache.StateResolved:
		packet.PatchDstMAC(out, r.cache.MAC(idx))
		r.write(egress, out)
	case arpcache.StateResolving:
		r.cache.EnqueuePending(idx, out)
		if created {
			// Exactly one on-demand request per FREE to RESOLVING
			// transition. Retransmits are the schedule's job.
			r.write(egress, packet.NewARPRequest(
				r.ifaces[egress].hw,
				r.ifaces[egress].addr,
				nextHop,
			))
		}
		r.cache.AppendRequest(egress, idx)
	case arpcache.StateFailed:
		r.log.Debugw("next hop unresolvable, dropping",
			zap.Int("port", egress),
			zap.Stringer("next_hop", xnetip.FromUint32(nextHop)),
		)
	}
}

// route picks the egress port and the next-hop address for a destination.
// Destinations on either attached subnet are delivered directly; everything
// else goes to the configured upstream router.
func (r *Router) route(dst uint32) (int, uint32) {
	if xnetip.Network(dst, r.ifaces[portReceive].mask) == r.ifaces[portReceive].network {
		return portReceive, dst
	}
	if xnetip.Network(dst, r.ifaces[portSend].mask) == r.ifaces[portSend].network {
		return portSend, dst
	}
	return portSend, r.nextHop
}

// buildForward assembles the egress frame: our source address, a decremented
// TTL, a recomputed header checksum and the payload verbatim. The
// destination address stays zero until resolution patches it in.
func (r *Router) buildForward(egress int, ip packet.IPv4) []byte {
	hdrLen := ip.HeaderLen()
	payload := ip.Payload()

	out := make([]byte, packet.EthernetHeaderLen+hdrLen+len(payload))
	packet.PutEthernetHeader(out, packet.MACAddr{}, r.ifaces[egress].hw, packet.EtherTypeIPv4)

	hdr := out[packet.EthernetHeaderLen : packet.EthernetHeaderLen+hdrLen]
	copy(hdr, ip.Packet()[:hdrLen])
	copy(out[packet.EthernetHeaderLen+hdrLen:], payload)

	hdr[8]--
	hdr[10], hdr[11] = 0, 0
	binary.BigEndian.PutUint16(hdr[10:12],
		packet.Checksum2(hdr[:packet.IPv4MinHeaderLen], hdr[packet.IPv4MinHeaderLen:]))

	return out
}

// flushResolved drains the resolution-request queue. Requests that find
// their slot still RESOLVING are dropped without requeue: the learn that
// eventually lands will queue a fresh one.
func (r *Router) flushResolved() {
	for {
		req, ok := r.cache.PopRequest()
		if !ok {
			return
		}

		st, port, mac := r.cache.Describe(req.Index)
		switch st {
		case arpcache.StateResolved:
			for {
				frame, ok := r.cache.PopPending(req.Index)
				if !ok {
					break
				}
				packet.PatchDstMAC(frame, mac)
				r.write(port, frame)
			}
		case arpcache.StateResolving:
		default:
			r.cache.DiscardPending(req.Index)
		}
	}
}

// retransmitDue walks RESOLVING entries whose deadline passed and either
// re-sends their ARP request or, once the budget is spent, lets the cache
// fail them.
func (r *Router) retransmitDue(now time.Time) {
	for _, due := range r.cache.DueResolving(now) {
		if !r.cache.ScheduleRetry(due.Index, now) {
			continue
		}
		r.log.Debugw("retransmitting arp request",
			zap.Int("port", due.Port),
			zap.Stringer("addr", xnetip.FromUint32(due.Addr)),
		)
		r.write(due.Port, packet.NewARPRequest(
			r.ifaces[due.Port].hw,
			r.ifaces[due.Port].addr,
			due.Addr,
		))
	}
}
