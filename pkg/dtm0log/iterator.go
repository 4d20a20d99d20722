package dtm0log

// Iterator is a stateless-from-outside forward cursor over a Log's list,
// keyed by the last TID it returned rather than by a node reference, so it
// never holds a pointer that could be invalidated by a concurrent
// mutation. Callers are expected to hold the log across the lifetime of
// an iteration, or restart it, since the iterator makes no attempt to
// survive concurrent mutation.
type Iterator struct {
	log     *Log
	lastTID TID
}

// NewIterator returns an Iterator over log, seeded at the iter-zero
// sentinel so the first Next call yields the list head.
func NewIterator(log *Log) *Iterator {
	mustf(log != nil, "dtm0log: NewIterator requires a non-nil Log")
	return &Iterator{log: log, lastTID: IterZeroTID}
}

// Next returns the next record in list (insertion) order, advancing the
// cursor. The second return value is false at end-of-list, at which point
// the returned record is nil; repeated calls past end-of-list keep
// returning (nil, false, nil) without error.
func (it *Iterator) Next() (*Record, bool, error) {
	it.log.mu.Lock()
	defer it.log.mu.Unlock()

	if it.log.closed {
		return nil, false, ErrClosed
	}

	if it.log.mode == ModeVolatile {
		return it.nextVolatile()
	}
	return it.nextPersistent()
}

func (it *Iterator) nextVolatile() (*Record, bool, error) {
	var next *Record
	if it.lastTID == IterZeroTID {
		next = it.log.vlist.Head()
	} else {
		cur := it.log.vlist.Find(it.log.clock, it.lastTID)
		if cur == nil {
			return nil, false, nil
		}
		next = it.log.vlist.Next(cur)
	}
	if next == nil {
		return nil, false, nil
	}
	it.lastTID = next.Descriptor.ID
	return next.Clone(), true, nil
}

func (it *Iterator) nextPersistent() (*Record, bool, error) {
	head, err := plistLoadHead(it.log.seg)
	if err != nil {
		return nil, false, err
	}
	if !head.HasHead {
		return nil, false, nil
	}

	var cur TID
	if it.lastTID == IterZeroTID {
		cur = head.Head
	} else {
		_, obj, err := plistLoadRecord(it.log.seg, it.lastTID)
		if err != nil {
			return nil, false, err
		}
		if !obj.HasNext {
			return nil, false, nil
		}
		cur = obj.Next
	}

	rec, _, err := plistLoadRecord(it.log.seg, cur)
	if err != nil {
		return nil, false, err
	}
	it.lastTID = rec.Descriptor.ID
	return rec, true, nil
}
