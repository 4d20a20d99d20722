package dtm0log

import (
	"encoding/json"
	"fmt"
)

// persistent_list.go implements the list container capability set
// (head/next/find/insertTail/remove) for a PERSISTENT log over a Segment.
// Unlike volatileList, there is no long-lived Go struct holding the list —
// the list head lives at a fixed segment address and is read fresh (or
// captured through the active Tx) on every call, the way the volatile list
// holds *Record pointers directly in memory. Link fields live inside each
// persisted record as neighboring TIDs (persistentLink), resolved with a
// lookup the same way the in-memory list follows a pointer.

// segReader is satisfied by both Segment and Tx. Read-only scans (Find,
// CanPrune's walk) use a Segment and only ever see committed state.
// Multi-step mutations that read their own prior writes before committing
// (InsertTail linking the old tail, RemoveHead draining a list record by
// record within one transaction) read through the Tx instead, so they
// observe earlier Capture/Free calls from the same transaction.
type segReader interface {
	Get(addr Addr) ([]byte, error)
}

func marshalRecordObj(obj recordObj) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		panic("dtm0log: marshaling record object: " + err.Error())
	}
	return packChecksummed(magicRecord, data)
}

func unmarshalRecordObj(raw []byte) (recordObj, error) {
	var obj recordObj
	payload, err := unpackChecksummed(magicRecord, raw)
	if err != nil {
		return obj, err
	}
	if err := json.Unmarshal(payload, &obj); err != nil {
		return obj, fmt.Errorf("dtm0log: %w: unmarshaling record object: %v", ErrCorruption, err)
	}
	return obj, nil
}

func marshalListHead(obj listHeadObj) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		panic("dtm0log: marshaling list head: " + err.Error())
	}
	return packChecksummed(magicListHead, data)
}

func unmarshalListHead(raw []byte) (listHeadObj, error) {
	var obj listHeadObj
	payload, err := unpackChecksummed(magicListHead, raw)
	if err != nil {
		return obj, err
	}
	if err := json.Unmarshal(payload, &obj); err != nil {
		return obj, fmt.Errorf("dtm0log: %w: unmarshaling list head: %v", ErrCorruption, err)
	}
	return obj, nil
}

func marshalHeader(obj logHeaderObj) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		panic("dtm0log: marshaling log header: " + err.Error())
	}
	return packChecksummed(magicHeader, data)
}

func unmarshalHeader(raw []byte) (logHeaderObj, error) {
	var obj logHeaderObj
	payload, err := unpackChecksummed(magicHeader, raw)
	if err != nil {
		return obj, err
	}
	if err := json.Unmarshal(payload, &obj); err != nil {
		return obj, fmt.Errorf("dtm0log: %w: unmarshaling log header: %v", ErrCorruption, err)
	}
	return obj, nil
}

// plistLoadHead reads the persistent list head object through r.
func plistLoadHead(r segReader) (listHeadObj, error) {
	raw, err := r.Get(listHeadKey())
	if err != nil {
		return listHeadObj{}, err
	}
	return unmarshalListHead(raw)
}

// plistSaveHead captures the list head object through tx.
func plistSaveHead(tx Tx, head listHeadObj) error {
	return tx.Capture(listHeadKey(), marshalListHead(head))
}

// plistLoadRecord reads and validates the record stored at id through r,
// resolving its participant array and (if present) payload buffer
// sub-objects.
func plistLoadRecord(r segReader, id TID) (*Record, recordObj, error) {
	raw, err := r.Get(recordKey(id))
	if err != nil {
		return nil, recordObj{}, err
	}
	obj, err := unmarshalRecordObj(raw)
	if err != nil {
		return nil, recordObj{}, err
	}

	participantsRaw, err := r.Get(obj.ParticipantArrayAddr)
	if err != nil {
		return nil, recordObj{}, fmt.Errorf("dtm0log: %w: reading participant array for %v: %v", ErrCorruption, id, err)
	}
	var participants []Participant
	if err := json.Unmarshal(participantsRaw, &participants); err != nil {
		return nil, recordObj{}, fmt.Errorf("dtm0log: %w: unmarshaling participant array for %v: %v", ErrCorruption, id, err)
	}

	var payload []byte
	if obj.HasPayload {
		payload, err = r.Get(obj.PayloadAddr)
		if err != nil {
			return nil, recordObj{}, fmt.Errorf("dtm0log: %w: reading payload for %v: %v", ErrCorruption, id, err)
		}
	}

	rec := &Record{
		Descriptor: Descriptor{ID: obj.ID, Participants: participants},
		Payload:    payload,
		plink: persistentLink{
			hasPrev: obj.HasPrev, prev: obj.Prev,
			hasNext: obj.HasNext, next: obj.Next,
		},
	}
	return rec, obj, nil
}

// plistSaveParticipants allocates a fresh address for participants and
// captures them through tx, returning the address to store in the owning
// record object.
func plistSaveParticipants(tx Tx, participants []Participant) (Addr, error) {
	data, err := json.Marshal(participants)
	if err != nil {
		return nil, fmt.Errorf("dtm0log: marshaling participants: %w", err)
	}
	addr, err := tx.Alloc(len(data))
	if err != nil {
		return nil, err
	}
	if err := tx.Capture(addr, data); err != nil {
		return nil, err
	}
	return addr, nil
}

// plistRecaptureParticipants re-serializes participants into the same
// already-allocated addr, used when a merge grows a record's participant
// vector in place.
func plistRecaptureParticipants(tx Tx, addr Addr, participants []Participant) error {
	data, err := json.Marshal(participants)
	if err != nil {
		return fmt.Errorf("dtm0log: marshaling participants: %w", err)
	}
	return tx.Capture(addr, data)
}

// plistSavePayload allocates a fresh address for payload and captures it
// through tx. payload attach is one-shot: callers only call this the first
// time a record gets a non-empty payload.
func plistSavePayload(tx Tx, payload []byte) (Addr, error) {
	addr, err := tx.Alloc(len(payload))
	if err != nil {
		return nil, err
	}
	if err := tx.Capture(addr, payload); err != nil {
		return nil, err
	}
	return addr, nil
}

// plistInsertTail allocates and captures a brand-new record at the tail of
// the persistent list, updating the list head and the previous tail's
// link. All reads happen through tx so this composes with other mutations
// already staged in the same transaction.
func plistInsertTail(tx Tx, desc Descriptor, payload []byte) error {
	participantsAddr, err := plistSaveParticipants(tx, desc.Participants)
	if err != nil {
		return err
	}

	var hasPayload bool
	var payloadAddr Addr
	if len(payload) > 0 {
		hasPayload = true
		payloadAddr, err = plistSavePayload(tx, payload)
		if err != nil {
			return err
		}
	}

	head, err := plistLoadHead(tx)
	if err != nil {
		return err
	}

	obj := recordObj{
		ID:                   desc.ID,
		ParticipantCount:     len(desc.Participants),
		ParticipantArrayAddr: participantsAddr,
		HasPayload:           hasPayload,
		PayloadAddr:          payloadAddr,
	}
	if head.HasTail {
		obj.HasPrev = true
		obj.Prev = head.Tail

		_, prevObj, err := plistLoadRecord(tx, head.Tail)
		if err != nil {
			return err
		}
		prevObj.HasNext = true
		prevObj.Next = desc.ID
		if err := tx.Capture(recordKey(head.Tail), marshalRecordObj(prevObj)); err != nil {
			return err
		}
	} else {
		head.HasHead = true
		head.Head = desc.ID
	}
	head.HasTail = true
	head.Tail = desc.ID
	head.Count++

	if err := tx.Capture(recordKey(desc.ID), marshalRecordObj(obj)); err != nil {
		return err
	}
	return plistSaveHead(tx, head)
}

// plistRemoveHead detaches and frees the current head record, repointing
// the new head's back-link (if any). Returns the detached record's
// descriptor and payload size, for credit bookkeeping by the caller. Reads
// happen through tx so repeated calls within one transaction each see the
// previous call's effects.
func plistRemoveHead(tx Tx) (Descriptor, int64, error) {
	head, err := plistLoadHead(tx)
	if err != nil {
		return Descriptor{}, 0, err
	}
	mustf(head.HasHead, "dtm0log: plistRemoveHead called on empty persistent list")

	rec, obj, err := plistLoadRecord(tx, head.Head)
	if err != nil {
		return Descriptor{}, 0, err
	}

	if err := tx.Free(obj.ParticipantArrayAddr); err != nil {
		return Descriptor{}, 0, err
	}
	var payloadSize int64
	if obj.HasPayload {
		payloadSize = int64(len(rec.Payload))
		if err := tx.Free(obj.PayloadAddr); err != nil {
			return Descriptor{}, 0, err
		}
	}
	if err := tx.Free(recordKey(head.Head)); err != nil {
		return Descriptor{}, 0, err
	}

	if obj.HasNext {
		head.Head = obj.Next
		_, nextObj, err := plistLoadRecord(tx, obj.Next)
		if err != nil {
			return Descriptor{}, 0, err
		}
		nextObj.HasPrev = false
		if err := tx.Capture(recordKey(obj.Next), marshalRecordObj(nextObj)); err != nil {
			return Descriptor{}, 0, err
		}
	} else {
		head.HasHead = false
		head.HasTail = false
	}
	head.Count--

	if err := plistSaveHead(tx, head); err != nil {
		return Descriptor{}, 0, err
	}
	return rec.Descriptor, payloadSize, nil
}

// plistFind performs a linear scan over the persistent list, following
// next-links starting at the head, the same O(n) contract as
// volatileList.Find. r is a Segment for a bare lookup outside any
// transaction.
func plistFind(r segReader, clock Clock, id TID) (*Record, error) {
	head, err := plistLoadHead(r)
	if err != nil {
		return nil, err
	}
	if !head.HasHead {
		return nil, nil
	}

	cur := head.Head
	for {
		rec, obj, err := plistLoadRecord(r, cur)
		if err != nil {
			return nil, err
		}
		if TidCompare(clock, rec.Descriptor.ID, id) == EQ {
			return rec, nil
		}
		if !obj.HasNext {
			return nil, nil
		}
		cur = obj.Next
	}
}
