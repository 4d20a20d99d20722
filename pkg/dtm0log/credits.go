package dtm0log

// Credit is an additive accumulator of the resources a mutation will
// consume inside a backing transaction: a count of discrete segment
// operations (allocations, frees, captures, list-link writes) and a byte
// count for the regions those operations touch. Credit functions never
// touch the log — they are pure functions of operation kind and input
// shape, so credit computation stays stateless with respect to current
// list contents. Insert is charged as the worst case of update so a caller
// can pre-charge for insert even when the mutation may resolve to an
// in-place merge.
type Credit struct {
	Ops   int64
	Bytes int64
}

// Add accumulates other into c.
func (c *Credit) Add(other Credit) {
	c.Ops += other.Ops
	c.Bytes += other.Bytes
}

// descriptorShapeBytes estimates the serialized size of a descriptor with n
// participants, used to size allocations before a record is actually
// serialized. The multiplier accounts for the JSON encoding and the
// checksummed envelope around record objects, which run several times
// larger than the raw field widths they wrap.
func descriptorShapeBytes(participantCount int) int64 {
	const tidBytes = 24         // Phys(8) + NodeID header(8) + Counter(8), worst-case fixed part
	const participantBytes = 16 // PID header + State, worst-case fixed part
	const envelopeFactor = 4
	return envelopeFactor * (tidBytes + int64(participantCount)*participantBytes)
}

// payloadShapeBytes estimates the bytes a payload buffer costs. Payloads
// are stored raw, without the checksummed envelope; BadgerTx debits their
// size once for Alloc and once more for Capture, and the constant adds
// headroom on top.
func payloadShapeBytes(payloadSize int64) int64 {
	return 2*payloadSize + 128
}

// CreditForCreate accumulates the cost of creating a brand new log:
// alloc(log) + capture(log) + alloc(list-head) + list-create(1).
func CreditForCreate() Credit {
	return Credit{
		Ops:   4, // alloc(log), capture(log), alloc(list-head), list-create
		Bytes: logHeaderSize + listHeadSize,
	}
}

// CreditForPersistentUpsert accumulates the cost of a PERSISTENT
// (partial) upsert: a message carrying only the transaction descriptor,
// with no payload. This is the worst case for a descriptor-only update —
// it charges as if inserting a brand new record, never less, since the
// mutation may still resolve to an in-place merge once find() actually
// runs under the lock.
//
// Each cost shape below charges more ops and bytes than the single
// mutation it names actually touches (participant array alloc+capture,
// the new or detached record itself, its neighbor's relinked capture, and
// the list head capture all land in one backing transaction), matching
// the worst-case-over-exact-count charging discipline credit functions
// follow throughout this package.
//
//	alloc(record) + alloc(participant-array) + tlink-create(1) + list-add(1)
func CreditForPersistentUpsert(participantCount int) Credit {
	return Credit{
		Ops:   8,
		Bytes: 3*recordHeaderSize + 2*descriptorShapeBytes(participantCount),
	}
}

// CreditForExecutedUpsert accumulates the cost of an EXECUTED (full)
// upsert: the PERSISTENT cost plus an allocation for the payload buffer.
func CreditForExecutedUpsert(participantCount int, payloadSize int64) Credit {
	c := CreditForPersistentUpsert(participantCount)
	c.Add(Credit{Ops: 2, Bytes: payloadShapeBytes(payloadSize)})
	return c
}

// CreditForPrune accumulates the cost of removing one record:
//
//	list-del(1) + tlink-destroy(1) + free(participant-array) + free(payload) + free(record)
func CreditForPrune(participantCount int, payloadSize int64) Credit {
	return Credit{
		Ops:   8,
		Bytes: 3*recordHeaderSize + descriptorShapeBytes(participantCount) + payloadShapeBytes(payloadSize),
	}
}

// CreditForDestroy accumulates the cost of tearing down an empty log:
// freeing the list head and the header. A non-empty PERSISTENT log must
// additionally sum CreditForPrune over every contained record before this
// — see (*Log).Destroy, which does so rather than leaving the charge to
// the caller, since the set of contained records is exactly what Destroy
// is about to walk anyway.
func CreditForDestroy() Credit {
	return Credit{Ops: 2, Bytes: listHeadSize + logHeaderSize}
}

const (
	logHeaderSize    = 512
	listHeadSize     = 512
	recordHeaderSize = 512
)
