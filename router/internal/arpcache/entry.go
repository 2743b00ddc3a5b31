package arpcache

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/urouted/urouted/packet"
)

// entry is a single cache slot. A slot's position in the table is its
// stable index, used as the handle in resolution requests.
type entry struct {
	state State
	port  int
	addr  uint32
	// mac is valid only while state is StateResolved.
	mac packet.MACAddr
	// lastTouch orders slots for LRU reclamation. It advances on every
	// observation: hit, passive learn, resolve attempt or flush.
	lastTouch time.Time
	pending   sendQueue

	// Retransmit schedule for StateResolving.
	retry     backoff.ExponentialBackOff
	nextRetry time.Time
	attempts  int
}

func (e *entry) reset() {
	*e = entry{}
}
