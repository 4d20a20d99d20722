package dtm0log

import (
	"fmt"
	"sync"
)

// Mode selects which list container and credit-governed backing a Log
// uses. It is fixed at construction time and never changes for the
// lifetime of a Log value.
type Mode int

const (
	// ModeVolatile is the heap-resident mode used by clients to track
	// in-flight work. Lost on process restart.
	ModeVolatile Mode = iota
	// ModePersistent is the segment-resident mode used by servers.
	// Survives restart; every mutation runs under a backing transaction.
	ModePersistent
)

func (m Mode) String() string {
	if m == ModePersistent {
		return "PERSISTENT"
	}
	return "VOLATILE"
}

// Log is the facade over the two list containers: one mutex serializes
// every read and write, the way a single lock guards one list regardless
// of which backing realizes it. Callers never see volatileList or the
// persistent-list helpers directly — every exported method dispatches on
// mode internally.
type Log struct {
	mu     sync.Mutex
	mode   Mode
	clock  Clock
	closed bool

	vlist volatileList

	seg *BadgerSegment
}

// NewVolatile allocates and initializes a VOLATILE log bound to clock. The
// returned log is ready for use; there is no separate Close step beyond
// the one shared with PERSISTENT mode.
func NewVolatile(clock Clock) *Log {
	mustf(clock != nil, "dtm0log: NewVolatile requires a non-nil Clock")
	return &Log{mode: ModeVolatile, clock: clock}
}

// CreatePersistent creates a brand-new PERSISTENT log over seg: allocates
// the header and an empty list head inside one backing transaction,
// captures both, and marks the log persistent. Fails if a header already
// exists at seg's fixed header key.
func CreatePersistent(clock Clock, seg *BadgerSegment, nodeID string) (*Log, error) {
	mustf(clock != nil, "dtm0log: CreatePersistent requires a non-nil Clock")
	mustf(seg != nil, "dtm0log: CreatePersistent requires a non-nil Segment")

	if _, err := seg.Get(headerKey()); err == nil {
		return nil, fmt.Errorf("dtm0log: %w: a log header already exists in this segment", ErrProtocolViolation)
	}

	tx, err := seg.BeginTx(CreditForCreate())
	if err != nil {
		return nil, err
	}

	header := logHeaderObj{IsPersistent: true, NodeID: nodeID}
	if err := tx.Capture(headerKey(), marshalHeader(header)); err != nil {
		tx.Abort()
		return nil, err
	}
	if err := plistSaveHead(tx, listHeadObj{}); err != nil {
		tx.Abort()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Log{mode: ModePersistent, clock: clock, seg: seg}, nil
}

// OpenPersistent recovers a PERSISTENT log previously created with
// CreatePersistent: it reads the header and list head back from seg and
// fails with ErrNotFound if either is missing or ErrCorruption if either is
// malformed, the crash-recovery path a server takes on restart.
func OpenPersistent(clock Clock, seg *BadgerSegment) (*Log, error) {
	mustf(clock != nil, "dtm0log: OpenPersistent requires a non-nil Clock")
	mustf(seg != nil, "dtm0log: OpenPersistent requires a non-nil Segment")

	raw, err := seg.Get(headerKey())
	if err != nil {
		return nil, err
	}
	header, err := unmarshalHeader(raw)
	if err != nil {
		return nil, err
	}
	if !header.IsPersistent {
		return nil, fmt.Errorf("dtm0log: %w: header does not mark this segment persistent", ErrCorruption)
	}
	if _, err := plistLoadHead(seg); err != nil {
		return nil, err
	}

	return &Log{mode: ModePersistent, clock: clock, seg: seg}, nil
}

// Close marks the log closed; every subsequent operation other than a
// second Close returns ErrClosed. Close never fails and never blocks on
// I/O — it does not close the underlying Segment, which the caller may
// still own past this Log's lifetime.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Find looks up id and returns a deep copy of the matching record, or nil
// if no record with that TID exists. O(n) in list length.
func (l *Log) Find(id TID) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}
	if err := TidInvariant(id); err != nil {
		return nil, err
	}

	if l.mode == ModeVolatile {
		r := l.vlist.Find(l.clock, id)
		if r == nil {
			return nil, nil
		}
		return r.Clone(), nil
	}

	r, err := plistFind(l.seg, l.clock, id)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Update upserts desc: if no record with desc.ID exists, a new record is
// inserted at the list tail with a deep copy of desc and payload; if one
// exists, desc is merged into its descriptor via Apply and payload is
// attached only if the existing record has none yet. On any failure the
// log is left exactly as it was before the call.
func (l *Log) Update(desc Descriptor, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if err := desc.Validate(); err != nil {
		return err
	}
	if err := TidInvariant(desc.ID); err != nil {
		return err
	}

	if l.mode == ModeVolatile {
		return l.updateVolatile(desc, payload)
	}
	return l.updatePersistent(desc, payload)
}

func (l *Log) updateVolatile(desc Descriptor, payload []byte) error {
	existing := l.vlist.Find(l.clock, desc.ID)
	if existing == nil {
		rec := &Record{Descriptor: desc.Clone()}
		if len(payload) > 0 {
			rec.Payload = append([]byte(nil), payload...)
		}
		l.vlist.InsertTail(rec)
		return nil
	}

	if err := existing.Descriptor.Apply(desc); err != nil {
		return err
	}
	if len(existing.Payload) == 0 && len(payload) > 0 {
		existing.Payload = append([]byte(nil), payload...)
	}
	return nil
}

func (l *Log) updatePersistent(desc Descriptor, payload []byte) error {
	existing, err := plistFind(l.seg, l.clock, desc.ID)
	if err != nil {
		return err
	}

	var credit Credit
	if len(payload) > 0 {
		credit = CreditForExecutedUpsert(len(desc.Participants), int64(len(payload)))
	} else {
		credit = CreditForPersistentUpsert(len(desc.Participants))
	}

	tx, err := l.seg.BeginTx(credit)
	if err != nil {
		return err
	}

	if existing == nil {
		if err := plistInsertTail(tx, desc.Clone(), payload); err != nil {
			tx.Abort()
			return err
		}
		return tx.Commit()
	}

	if err := l.mergePersistent(tx, existing, desc, payload); err != nil {
		tx.Abort()
		return err
	}
	return tx.Commit()
}

// mergePersistent applies the in-place merge branch of Update against an
// existing PERSISTENT record: state-merge the descriptor, re-capture the
// participant array at its existing address, and attach payload if this
// is the first non-empty payload the record has seen.
func (l *Log) mergePersistent(tx Tx, existing *Record, desc Descriptor, payload []byte) error {
	_, obj, err := plistLoadRecord(tx, existing.Descriptor.ID)
	if err != nil {
		return err
	}

	merged := existing.Descriptor.Clone()
	if err := merged.Apply(desc); err != nil {
		return err
	}

	if err := plistRecaptureParticipants(tx, obj.ParticipantArrayAddr, merged.Participants); err != nil {
		return err
	}
	obj.ParticipantCount = len(merged.Participants)

	if !obj.HasPayload && len(payload) > 0 {
		payloadAddr, err := plistSavePayload(tx, payload)
		if err != nil {
			return err
		}
		obj.HasPayload = true
		obj.PayloadAddr = payloadAddr
	}

	return tx.Capture(recordKey(merged.ID), marshalRecordObj(obj))
}

// Prune removes the record matching id and every record preceding it in
// list order, but only if every such record is fully PERSISTENT. Either
// the whole prefix is removed or the log is left unchanged.
func (l *Log) Prune(id TID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if err := TidInvariant(id); err != nil {
		return err
	}

	if l.mode == ModeVolatile {
		return l.pruneVolatile(id)
	}
	return l.prunePersistent(id)
}

func (l *Log) pruneVolatile(id TID) error {
	var stop *Record
	for r := l.vlist.Head(); r != nil; r = l.vlist.Next(r) {
		if !r.Descriptor.StateEq(Persistent) {
			return fmt.Errorf("dtm0log: %w: record %v is not fully persistent", ErrProtocolViolation, r.Descriptor.ID)
		}
		cmp := TidCompare(l.clock, r.Descriptor.ID, id)
		if cmp == EQ {
			stop = r
			break
		}
		if cmp == GT {
			return ErrNotFound
		}
	}
	if stop == nil {
		return ErrNotFound
	}

	for {
		r := l.vlist.PopHead()
		mustf(r != nil, "dtm0log: prune walked past a previously validated stop record")
		if r.Descriptor.ID == stop.Descriptor.ID {
			return nil
		}
	}
}

// CanPrune walks a PERSISTENT log's list verifying every record up to and
// including id is fully PERSISTENT, accumulating the exact PRUNE credits
// those records would cost. It never mutates the log.
func (l *Log) CanPrune(id TID) (bool, Credit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	mustf(l.mode == ModePersistent, "dtm0log: CanPrune called on a VOLATILE log")
	if l.closed {
		return false, Credit{}, ErrClosed
	}
	return l.canPrunePersistentLocked(id)
}

func (l *Log) canPrunePersistentLocked(id TID) (bool, Credit, error) {
	head, err := plistLoadHead(l.seg)
	if err != nil {
		return false, Credit{}, err
	}
	if !head.HasHead {
		return false, Credit{}, ErrNotFound
	}

	var credit Credit
	cur := head.Head
	for {
		rec, obj, err := plistLoadRecord(l.seg, cur)
		if err != nil {
			return false, Credit{}, err
		}
		if !rec.Descriptor.StateEq(Persistent) {
			return false, Credit{}, fmt.Errorf("dtm0log: %w: record %v is not fully persistent", ErrProtocolViolation, rec.Descriptor.ID)
		}
		credit.Add(CreditForPrune(len(rec.Descriptor.Participants), int64(len(rec.Payload))))

		cmp := TidCompare(l.clock, rec.Descriptor.ID, id)
		if cmp == EQ {
			return true, credit, nil
		}
		if cmp == GT {
			return false, Credit{}, ErrNotFound
		}
		if !obj.HasNext {
			return false, Credit{}, ErrNotFound
		}
		cur = obj.Next
	}
}

func (l *Log) prunePersistent(id TID) error {
	ok, credit, err := l.canPrunePersistentLocked(id)
	if err != nil {
		return err
	}
	mustf(ok, "dtm0log: canPrunePersistentLocked reported ok=false with no error")

	tx, err := l.seg.BeginTx(credit)
	if err != nil {
		return err
	}

	for {
		desc, _, err := plistRemoveHead(tx)
		if err != nil {
			tx.Abort()
			return err
		}
		if desc.ID == id {
			break
		}
	}
	return tx.Commit()
}

// Clear drains a VOLATILE log entirely. Every record must already be
// fully PERSISTENT — a client clears its local log only after remote
// durability is confirmed. Calling Clear on a PERSISTENT log is a
// programming error.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	mustf(l.mode == ModeVolatile, "dtm0log: Clear called on a PERSISTENT log")
	if l.closed {
		return ErrClosed
	}

	for r := l.vlist.Head(); r != nil; r = l.vlist.Next(r) {
		if !r.Descriptor.StateEq(Persistent) {
			return fmt.Errorf("dtm0log: %w: record %v is not fully persistent", ErrProtocolViolation, r.Descriptor.ID)
		}
	}
	for l.vlist.Len() > 0 {
		l.vlist.PopHead()
	}
	return nil
}

// Destroy tears down a PERSISTENT log: every contained record is freed
// unconditionally (the fully-PERSISTENT precondition that guards Prune
// does not apply here, since the log itself is going away), then the
// list head and header are freed, all under one backing transaction.
// Calling Destroy on a VOLATILE log is a programming error; use Close.
func (l *Log) Destroy() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	mustf(l.mode == ModePersistent, "dtm0log: Destroy called on a VOLATILE log; use Close")
	if l.closed {
		return ErrClosed
	}

	head, err := plistLoadHead(l.seg)
	if err != nil {
		return err
	}

	var credit Credit
	if head.HasHead {
		cur := head.Head
		for {
			rec, obj, err := plistLoadRecord(l.seg, cur)
			if err != nil {
				return err
			}
			credit.Add(CreditForPrune(len(rec.Descriptor.Participants), int64(len(rec.Payload))))
			if !obj.HasNext {
				break
			}
			cur = obj.Next
		}
	}
	credit.Add(CreditForDestroy())

	tx, err := l.seg.BeginTx(credit)
	if err != nil {
		return err
	}

	for {
		h, err := plistLoadHead(tx)
		if err != nil {
			tx.Abort()
			return err
		}
		if !h.HasHead {
			break
		}
		if _, _, err := plistRemoveHead(tx); err != nil {
			tx.Abort()
			return err
		}
	}

	if err := tx.Free(listHeadKey()); err != nil {
		tx.Abort()
		return err
	}
	if err := tx.Free(headerKey()); err != nil {
		tx.Abort()
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	l.closed = true
	return nil
}
