package dtm0log

// volatileLink holds the in-memory doubly-linked list pointers for a
// record owned by a VOLATILE log.
type volatileLink struct {
	prev, next *Record
}

// persistentLink holds the durable doubly-linked list pointers for a
// record owned by a PERSISTENT log. Segment-backed storage has no real
// pointers, so the link is the neighboring records' TIDs; the persistent
// list resolves them with a lookup the way the volatile list follows a
// pointer.
type persistentLink struct {
	hasPrev, hasNext bool
	prev, next       TID
}

// Record is a transaction descriptor plus an optional opaque replay
// payload and this record's list linkage. A record's payload, once
// non-empty, is immutable — Update only attaches a payload to a record
// that has none.
//
// The log exclusively owns Records and their link fields; Find and the
// iterator both hand callers a deep copy of the record they found, so
// callers never hold a reference into the log itself.
type Record struct {
	Descriptor Descriptor
	Payload    []byte

	link  volatileLink
	plink persistentLink
}

// Validate checks the record's invariant: a valid descriptor. The payload
// has no invariant of its own beyond "present or fully materialized",
// which Go's value semantics already guarantee — there is no way to
// observe a half-copied []byte through this API.
func (r *Record) Validate() error {
	return r.Descriptor.Validate()
}

// Clone deep-copies the record's descriptor and payload, dropping list
// linkage — a clone is never a member of any list.
func (r *Record) Clone() *Record {
	clone := &Record{Descriptor: r.Descriptor.Clone()}
	if len(r.Payload) > 0 {
		clone.Payload = append([]byte(nil), r.Payload...)
	}
	return clone
}
