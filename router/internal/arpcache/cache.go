// Package arpcache maps (port, IPv4 next-hop) pairs to hardware addresses.
//
// The cache is a fixed-capacity slot table. Entries are created lazily,
// either by forwarding demand or by passively learning sender bindings from
// ARP traffic observed on the wire, and are reclaimed LRU-first when the
// table fills up. Each entry owns a FIFO of serialized frames waiting for
// its address to resolve.
//
// The forwarding worker is the only writer. The mutex exists for snapshot
// readers such as the periodic stats reporter.
package arpcache

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/urouted/urouted/common/xnetip"
	"github.com/urouted/urouted/packet"
)

const (
	// DefaultCapacity is the default number of slots in the table.
	DefaultCapacity = 4096
	// DefaultPendingLimit bounds the bytes queued behind a single
	// unresolved entry.
	DefaultPendingLimit = 1 << 20
	// DefaultRetryAttempts is how many ARP requests are sent in total
	// before an entry is marked FAILED.
	DefaultRetryAttempts = 4
)

// Request identifies a cache slot scheduled for a pending-queue flush.
type Request struct {
	Port  int
	Index int
}

// Retry identifies a RESOLVING slot whose retransmit deadline has passed.
type Retry struct {
	Index int
	Port  int
	Addr  uint32
}

// Option is a function that configures the cache.
type Option func(*options)

type options struct {
	Capacity      int
	PendingLimit  int
	RetryInitial  time.Duration
	RetryMax      time.Duration
	RetryAttempts int
	Clock         func() time.Time
	Log           *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Capacity:      DefaultCapacity,
		PendingLimit:  DefaultPendingLimit,
		RetryInitial:  500 * time.Millisecond,
		RetryMax:      5 * time.Second,
		RetryAttempts: DefaultRetryAttempts,
		Clock:         time.Now,
		Log:           zap.NewNop().Sugar(),
	}
}

// WithCapacity sets the number of slots in the table.
func WithCapacity(capacity int) Option {
	return func(o *options) {
		o.Capacity = capacity
	}
}

// WithPendingLimit caps the bytes queued behind a single unresolved entry.
// The head of the queue is dropped on overflow.
func WithPendingLimit(limit int) Option {
	return func(o *options) {
		o.PendingLimit = limit
	}
}

// WithRetryPolicy sets the ARP retransmit schedule for RESOLVING entries.
func WithRetryPolicy(initial, max time.Duration, attempts int) Option {
	return func(o *options) {
		o.RetryInitial = initial
		o.RetryMax = max
		o.RetryAttempts = attempts
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.Clock = clock
	}
}

// WithLog sets the logger for the cache.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// Cache is the (port, IP) to MAC table with per-entry pending queues and the
// resolution-request FIFO.
type Cache struct {
	mu      sync.Mutex
	entries []entry
	// reqs is the FIFO of flush requests shared across ports.
	reqs []Request

	pendingLimit  int
	retryInitial  time.Duration
	retryMax      time.Duration
	retryAttempts int
	clock         func() time.Time
	log           *zap.SugaredLogger
}

// New creates a cache with every slot free.
func New(opts ...Option) *Cache {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Cache{
		entries:       make([]entry, o.Capacity),
		pendingLimit:  o.PendingLimit,
		retryInitial:  o.RetryInitial,
		retryMax:      o.RetryMax,
		retryAttempts: o.RetryAttempts,
		clock:         o.Clock,
		log:           o.Log,
	}
}

// Capacity returns the number of slots in the table.
func (c *Cache) Capacity() int {
	return len(c.entries)
}

// Search returns the slot index holding (port, addr), side-effect free.
func (c *Cache) Search(port int, addr uint32) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.searchLocked(port, addr)
}

func (c *Cache) searchLocked(port int, addr uint32) (int, bool) {
	for i := range c.entries {
		e := &c.entries[i]
		if e.state != StateFree && e.port == port && e.addr == addr {
			return i, true
		}
	}
	return 0, false
}

// GetOrInsert returns the slot for (port, addr), creating one when missing.
//
// When learned is non-nil the call is a passive learn: the hardware address
// is copied in and the entry becomes RESOLVED no matter what state it was
// in, with a flush request queued if frames were waiting. When learned is
// nil a missing entry is created in RESOLVING state with its first
// retransmit deadline armed; created reports that transition so the caller
// can emit the single on-demand ARP request.
func (c *Cache) GetOrInsert(port int, addr uint32, learned *packet.MACAddr) (idx int, st State, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()

	if i, ok := c.searchLocked(port, addr); ok {
		e := &c.entries[i]
		e.lastTouch = now
		if learned != nil {
			c.learnLocked(i, *learned)
		}
		return i, e.state, false
	}

	i := c.takeSlotLocked()
	e := &c.entries[i]
	e.reset()
	e.port = port
	e.addr = addr
	e.lastTouch = now

	if learned != nil {
		e.state = StateResolved
		e.mac = *learned
	} else {
		e.state = StateResolving
		e.retry = backoff.ExponentialBackOff{
			InitialInterval:     c.retryInitial,
			RandomizationFactor: backoff.DefaultRandomizationFactor,
			Multiplier:          backoff.DefaultMultiplier,
			MaxInterval:         c.retryMax,
		}
		e.retry.Reset()
		e.nextRetry = now.Add(e.retry.NextBackOff())
		e.attempts = 1
	}

	return i, e.state, true
}

// takeSlotLocked returns the first free slot, or reclaims the LRU victim.
func (c *Cache) takeSlotLocked() int {
	victim := -1
	for i := range c.entries {
		e := &c.entries[i]
		if e.state == StateFree {
			return i
		}
		if victim < 0 || e.lastTouch.Before(c.entries[victim].lastTouch) {
			victim = i
		}
	}

	e := &c.entries[victim]
	if e.pending.frames > 0 {
		c.log.Warnw("evicting entry with pending frames",
			zap.Int("port", e.port),
			zap.Stringer("addr", xnetip.FromUint32(e.addr)),
			zap.Int("frames", e.pending.frames),
			zap.Int("bytes", e.pending.bytes),
		)
	}
	e.pending.discard()
	return victim
}

// learnLocked moves an existing entry to RESOLVED with the given address.
func (c *Cache) learnLocked(idx int, mac packet.MACAddr) {
	e := &c.entries[idx]
	e.mac = mac
	if e.state == StateResolved {
		return
	}
	e.state = StateResolved
	if e.pending.frames > 0 {
		c.reqs = append(c.reqs, Request{Port: e.port, Index: idx})
	}
}

// MarkResolved moves the entry to RESOLVED and queues a flush request for
// any frames waiting on it.
func (c *Cache) MarkResolved(idx int, mac packet.MACAddr) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[idx].lastTouch = c.clock()
	c.learnLocked(idx, mac)
}

// MarkFailed moves the entry to FAILED and drops its pending queue.
func (c *Cache) MarkFailed(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.markFailedLocked(idx)
}

func (c *Cache) markFailedLocked(idx int) {
	e := &c.entries[idx]
	if e.pending.frames > 0 {
		c.log.Warnw("resolution failed, dropping pending frames",
			zap.Int("port", e.port),
			zap.Stringer("addr", xnetip.FromUint32(e.addr)),
			zap.Int("frames", e.pending.frames),
			zap.Int("bytes", e.pending.bytes),
		)
	}
	e.state = StateFailed
	e.pending.discard()
}

// State returns the current state of the slot.
func (c *Cache) State(idx int) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.entries[idx].state
}

// MAC returns the hardware address of the slot, valid only for RESOLVED.
func (c *Cache) MAC(idx int) packet.MACAddr {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.entries[idx].mac
}

// Describe returns the slot's current state, owning port and hardware
// address in one consistent read.
func (c *Cache) Describe(idx int) (State, int, packet.MACAddr) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &c.entries[idx]
	return e.state, e.port, e.mac
}

// EnqueuePending appends a serialized frame to the slot's queue, taking
// ownership of the buffer. When the queue would exceed the byte cap, frames
// are dropped from the head until the new one fits.
func (c *Cache) EnqueuePending(idx int, frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &c.entries[idx]
	for e.pending.frames > 0 && e.pending.bytes+len(frame) > c.pendingLimit {
		dropped, _ := e.pending.pop()
		c.log.Warnw("pending queue overflow, dropping oldest frame",
			zap.Int("port", e.port),
			zap.Stringer("addr", xnetip.FromUint32(e.addr)),
			zap.Int("bytes", len(dropped)),
		)
	}
	e.pending.push(frame)
}

// PopPending removes and returns the oldest pending frame of the slot.
func (c *Cache) PopPending(idx int) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[idx].lastTouch = c.clock()
	return c.entries[idx].pending.pop()
}

// DiscardPending drops every pending frame of the slot.
func (c *Cache) DiscardPending(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[idx].pending.discard()
}

// PendingStats returns the frame and byte counters of the slot's queue.
func (c *Cache) PendingStats(idx int) (frames, bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.entries[idx].pending.frames, c.entries[idx].pending.bytes
}

// AppendRequest queues a flush request for the slot.
func (c *Cache) AppendRequest(port, idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reqs = append(c.reqs, Request{Port: port, Index: idx})
}

// PopRequest removes the oldest flush request.
func (c *Cache) PopRequest() (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.reqs) == 0 {
		return Request{}, false
	}
	req := c.reqs[0]
	c.reqs = c.reqs[1:]
	return req, true
}

// DueResolving returns the RESOLVING slots whose retransmit deadline passed.
func (c *Cache) DueResolving(now time.Time) []Retry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due []Retry
	for i := range c.entries {
		e := &c.entries[i]
		if e.state == StateResolving && !e.nextRetry.After(now) {
			due = append(due, Retry{Index: i, Port: e.port, Addr: e.addr})
		}
	}
	return due
}

// ScheduleRetry advances the slot's retransmit schedule. It reports false
// when the attempt budget is exhausted, in which case the entry has been
// marked FAILED and no request should be sent.
func (c *Cache) ScheduleRetry(idx int, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &c.entries[idx]
	if e.state != StateResolving {
		return false
	}
	if e.attempts >= c.retryAttempts {
		c.markFailedLocked(idx)
		return false
	}
	e.attempts++
	e.lastTouch = now
	e.nextRetry = now.Add(e.retry.NextBackOff())
	return true
}

// Stats is a point-in-time summary of the table.
type Stats struct {
	Free          int
	Resolving     int
	Resolved      int
	Failed        int
	PendingFrames int
	PendingBytes  int
	Requests      int
}

// Snapshot summarizes the table for observability. Safe to call from
// outside the forwarding worker.
func (c *Cache) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s Stats
	for i := range c.entries {
		e := &c.entries[i]
		switch e.state {
		case StateFree:
			s.Free++
		case StateResolving:
			s.Resolving++
		case StateResolved:
			s.Resolved++
		case StateFailed:
			s.Failed++
		}
		s.PendingFrames += e.pending.frames
		s.PendingBytes += e.pending.bytes
	}
	s.Requests = len(c.reqs)
	return s
}
