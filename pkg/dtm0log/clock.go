package dtm0log

import (
	"fmt"
	"sync"
	"time"
)

// Ordering is the result of comparing two TIDs.
type Ordering int

const (
	LT Ordering = -1
	EQ Ordering = 0
	GT Ordering = 1
)

func (o Ordering) String() string {
	switch o {
	case LT:
		return "LT"
	case EQ:
		return "EQ"
	case GT:
		return "GT"
	default:
		return "invalid"
	}
}

// TID is a transaction identifier: a structured value totally ordered by a
// Clock. Phys is a physical timestamp (nanoseconds since the Unix epoch);
// NodeID and Counter break ties between ids minted in the same nanosecond,
// or on different nodes whose clocks agree.
type TID struct {
	Phys    uint64
	NodeID  string
	Counter uint64
}

// IterZeroTID is the sentinel meaning "before the first record". It is
// never a legal record id; TidInvariant rejects it. Conventionally the
// max-physical-timestamp value, so it compares GT every real TID and an
// iterator seeded with it always finds the list head as "next".
var IterZeroTID = TID{Phys: ^uint64(0)}

// TidInvariant rejects the iter-zero sentinel and any structurally
// malformed TID (an empty NodeID is never produced by a real clock).
func TidInvariant(t TID) error {
	if t == IterZeroTID {
		return fmt.Errorf("dtm0log: %w: iter-zero sentinel is not a legal record id", ErrProtocolViolation)
	}
	if t.NodeID == "" {
		return fmt.Errorf("dtm0log: %w: TID has empty NodeID", ErrProtocolViolation)
	}
	return nil
}

// Clock is the external collaborator providing a total order over
// transaction ids and minting new ones for this node. Implementations must
// be safe for concurrent use and stable across the lifetime of any Log that
// borrows them.
type Clock interface {
	// Next returns a new TID, strictly greater (per Compare) than every
	// previous TID this Clock has returned.
	Next() TID
	// Compare returns the total order between a and b.
	Compare(a, b TID) Ordering
}

// TidCompare compares a and b under clock. It is total: exactly one of
// LT, EQ, GT is returned.
func TidCompare(clock Clock, a, b TID) Ordering {
	return clock.Compare(a, b)
}

// PhysicalClock is a Clock implementation driven by the wall clock, with a
// per-node monotonic counter guarding against clock regression or multiple
// TIDs minted within the same nanosecond.
type PhysicalClock struct {
	mu      sync.Mutex
	nodeID  string
	lastPhy uint64
	counter uint64
}

// NewPhysicalClock returns a Clock that ties every TID it mints to nodeID.
func NewPhysicalClock(nodeID string) *PhysicalClock {
	return &PhysicalClock{nodeID: nodeID}
}

// Next returns monotonically increasing TIDs even if the wall clock goes
// backwards or two calls land in the same nanosecond.
func (c *PhysicalClock) Next() TID {
	c.mu.Lock()
	defer c.mu.Unlock()

	phys := uint64(time.Now().UnixNano())
	if phys <= c.lastPhy {
		phys = c.lastPhy
		c.counter++
	} else {
		c.lastPhy = phys
		c.counter = 0
	}

	return TID{Phys: phys, NodeID: c.nodeID, Counter: c.counter}
}

// Compare orders TIDs by physical timestamp first, then by node id, then
// by the tie-breaking counter. Node id ordering is arbitrary but stable,
// which is all totality requires.
func (c *PhysicalClock) Compare(a, b TID) Ordering {
	if a.Phys != b.Phys {
		if a.Phys < b.Phys {
			return LT
		}
		return GT
	}
	if a.NodeID != b.NodeID {
		if a.NodeID < b.NodeID {
			return LT
		}
		return GT
	}
	if a.Counter != b.Counter {
		if a.Counter < b.Counter {
			return LT
		}
		return GT
	}
	return EQ
}
