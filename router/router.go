// Package router implements a user-space two-port IPv4 router on raw
// link-layer sockets: it forwards datagrams between the attached interfaces
// with TTL and checksum maintenance, answers expired TTLs with ICMP Time
// Exceeded, and resolves next-hop hardware addresses over ARP while
// buffering frames that wait on resolution.
package router

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/urouted/urouted/common/xnetip"
	"github.com/urouted/urouted/packet"
	"github.com/urouted/urouted/router/internal/arpcache"
	"github.com/urouted/urouted/router/internal/netdev"
)

const (
	portReceive = 0
	portSend    = 1

	// frameBufSize bounds a single received frame.
	frameBufSize = 2048
	// pollTimeout bounds the multi-socket wait so pending-queue flushes
	// run even when no traffic arrives.
	pollTimeout = time.Second

	statsInterval = 30 * time.Second
)

// frameConn is the slice of a device the forwarding engine uses. Production
// traffic flows through netdev.Device.
type frameConn interface {
	Read(buf []byte) (int, error)
	Write(frame []byte) (int, error)
	Close() error
}

// iface binds one port's addressing to its socket. Immutable after
// initialization.
type iface struct {
	name    string
	conn    frameConn
	hw      packet.MACAddr
	addr    uint32
	mask    uint32
	network uint32
}

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// Option is a function that configures the router.
type Option func(*options)

// WithLog sets the logger for the router.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// Router is the two-port user-space IPv4 router. A single worker owns both
// sockets and every mutation of the ARP cache and its pending queues.
type Router struct {
	cfg     *Config
	ifaces  [2]*iface
	devs    [2]*netdev.Device
	cache   *arpcache.Cache
	nextHop uint32
	log     *zap.SugaredLogger
}

// New opens both ports, disables the kernel forwarding path and prepares
// the ARP cache. Any failure here is fatal for the process.
func New(cfg *Config, opts ...Option) (*Router, error) {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}
	log := o.Log

	nextHop, err := netip.ParseAddr(cfg.NextHop)
	if err != nil || !nextHop.Is4() {
		return nil, fmt.Errorf("invalid next hop %q", cfg.NextHop)
	}

	if err := netdev.DisableKernelForwarding(); err != nil {
		return nil, err
	}

	r := &Router{
		cfg:     cfg,
		nextHop: xnetip.Uint32(nextHop),
		log:     log,
	}

	r.cache = arpcache.New(
		arpcache.WithCapacity(cfg.ARP.Capacity),
		arpcache.WithPendingLimit(int(cfg.ARP.PendingLimit.Bytes())),
		arpcache.WithRetryPolicy(cfg.ARP.RetryInitial, cfg.ARP.RetryMax, cfg.ARP.RetryAttempts),
		arpcache.WithLog(log),
	)

	names := [2]string{cfg.Interfaces.Receive, cfg.Interfaces.Send}
	for port, name := range names {
		dev, err := netdev.Open(name, cfg.Promiscuous, false)
		if err != nil {
			r.closePorts(port)
			return nil, err
		}
		r.devs[port] = dev

		info, err := netdev.Describe(name)
		if err != nil {
			r.closePorts(port + 1)
			return nil, err
		}

		addr := xnetip.Uint32(info.Addr)
		mask, err := xnetip.MaskUint32(info.Mask)
		if err != nil {
			r.closePorts(port + 1)
			return nil, fmt.Errorf("interface %q: %w", name, err)
		}

		r.ifaces[port] = &iface{
			name:    name,
			conn:    dev,
			hw:      info.HW,
			addr:    addr,
			mask:    mask,
			network: xnetip.Network(addr, mask),
		}

		log.Infow("attached interface",
			zap.Int("port", port),
			zap.String("name", name),
			zap.Stringer("hw", info.HW),
			zap.Stringer("addr", info.Addr),
			zap.Stringer("network", xnetip.FromUint32(r.ifaces[port].network)),
			zap.String("netmask", info.Mask.String()),
		)
	}

	log.Infow("next hop", zap.Stringer("addr", nextHop))

	return r, nil
}

func (r *Router) closePorts(n int) {
	for i := 0; i < n; i++ {
		if err := r.devs[i].Close(); err != nil {
			r.log.Warnw("failed to close device", zap.Int("port", i), zap.Error(err))
		}
		r.devs[i] = nil
	}
}

// Close releases both ports.
func (r *Router) Close() error {
	for port, dev := range r.devs {
		if dev == nil {
			continue
		}
		if err := dev.Close(); err != nil {
			r.log.Warnw("failed to close device", zap.Int("port", port), zap.Error(err))
		}
		r.devs[port] = nil
	}
	return nil
}

// Run runs the router until the specified context is canceled.
func (r *Router) Run(ctx context.Context) error {
	r.log.Info("running router")
	defer r.log.Info("stopped router")

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return r.runWorker(ctx)
	})
	wg.Go(func() error {
		return r.runStats(ctx)
	})

	return wg.Wait()
}

// runWorker is the forwarding loop: wait on both sockets, service at most
// one frame per socket, then flush whatever resolution unblocked.
func (r *Router) runWorker(ctx context.Context) error {
	buf := make([]byte, frameBufSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ready, err := netdev.Wait(r.devs[:], pollTimeout)
		if err != nil {
			return fmt.Errorf("failed to wait on sockets: %w", err)
		}

		for port, ok := range ready {
			if !ok {
				continue
			}
			n, err := r.ifaces[port].conn.Read(buf)
			if err != nil {
				r.log.Warnw("read failed", zap.Int("port", port), zap.Error(err))
				continue
			}
			if n == 0 {
				continue
			}
			r.analyzeFrame(port, buf[:n])
		}

		r.retransmitDue(time.Now())
		r.flushResolved()
	}
}

// runStats periodically reports a cache snapshot.
func (r *Router) runStats(ctx context.Context) error {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s := r.cache.Snapshot()
			r.log.Debugw("arp cache",
				zap.Int("resolved", s.Resolved),
				zap.Int("resolving", s.Resolving),
				zap.Int("failed", s.Failed),
				zap.Int("free", s.Free),
				zap.Int("pending_frames", s.PendingFrames),
				zap.Int("pending_bytes", s.PendingBytes),
			)
		}
	}
}

// write sends a frame on the port, best effort. Failures are logged and the
// frame is dropped; packet loss is the network's problem.
func (r *Router) write(port int, frame []byte) {
	if _, err := r.ifaces[port].conn.Write(frame); err != nil {
		r.log.Warnw("write failed",
			zap.Int("port", port),
			zap.Int("bytes", len(frame)),
			zap.Error(err),
		)
		return
	}
	r.log.Debugw("frame sent", zap.Int("port", port), zap.Int("bytes", len(frame)))
}
