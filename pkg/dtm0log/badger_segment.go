package dtm0log

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/crypto/blake2b"
)

// Key prefixes for the BadgerDB-backed segment, mirroring the
// single-byte-prefix key organization of a KV-backed storage engine: a
// fixed key for the log header, a fixed key for the list head, one key per
// record keyed by its TID for direct lookup, and an auxiliary-allocation
// prefix for the sub-objects (participant array, payload buffer) a record
// references by address.
const (
	prefixHeader   = byte(0x01) // -> serialized logHeaderObj
	prefixListHead = byte(0x02) // -> serialized listHeadObj
	prefixRecord   = byte(0x03) // + encoded TID -> serialized recordObj
	prefixAux      = byte(0x04) // + 8-byte sequence -> raw allocated bytes
)

// Magic numbers tag persisted objects; a mismatch on read is a corruption
// indicator.
const (
	magicHeader   uint32 = 0xD7300001
	magicListHead uint32 = 0xD7300002
	magicRecord   uint32 = 0xD7300003
)

func encodeTID(id TID) []byte {
	buf := make([]byte, 0, 8+2+len(id.NodeID)+8)
	var b8 [8]byte
	binary.BigEndian.PutUint64(b8[:], id.Phys)
	buf = append(buf, b8[:]...)
	var b2 [2]byte
	binary.BigEndian.PutUint16(b2[:], uint16(len(id.NodeID)))
	buf = append(buf, b2[:]...)
	buf = append(buf, []byte(id.NodeID)...)
	binary.BigEndian.PutUint64(b8[:], id.Counter)
	buf = append(buf, b8[:]...)
	return buf
}

func headerKey() Addr   { return Addr{prefixHeader} }
func listHeadKey() Addr { return Addr{prefixListHead} }

func recordKey(id TID) Addr {
	return append(Addr{prefixRecord}, encodeTID(id)...)
}

func auxKey(seq uint64) Addr {
	var b8 [8]byte
	binary.BigEndian.PutUint64(b8[:], seq)
	return append(Addr{prefixAux}, b8[:]...)
}

// checksummed wraps an object with the integrity fields the log header,
// list head, and record objects carry: a magic number identifying its kind
// and a blake2b-256 checksum over its payload, so the persistent list's
// unmarshal helpers can tell a corrupted object from a missing one.
// Participant arrays and payload buffers are stored without this wrapper.
type checksummed struct {
	Magic    uint32
	Checksum [32]byte
	Payload  []byte
}

func packChecksummed(magic uint32, payload []byte) []byte {
	sum := blake2b.Sum256(payload)
	wrapped := checksummed{Magic: magic, Checksum: sum, Payload: payload}
	data, err := json.Marshal(wrapped)
	if err != nil {
		panic(fmt.Sprintf("dtm0log: marshaling checksummed object: %v", err))
	}
	return data
}

func unpackChecksummed(wantMagic uint32, data []byte) ([]byte, error) {
	var wrapped checksummed
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("dtm0log: %w: unmarshaling persisted object: %v", ErrCorruption, err)
	}
	if wrapped.Magic != wantMagic {
		return nil, fmt.Errorf("dtm0log: %w: magic mismatch, want %#x got %#x", ErrCorruption, wantMagic, wrapped.Magic)
	}
	if blake2b.Sum256(wrapped.Payload) != wrapped.Checksum {
		return nil, fmt.Errorf("dtm0log: %w: checksum mismatch", ErrCorruption)
	}
	return wrapped.Payload, nil
}

// logHeaderObj is the persisted log-header object: is-persistent flag plus
// the owning node's identity. The segment and list-head references are
// implicit fixed keys in this KV mapping rather than free-floating
// addresses, since BadgerDB has exactly one segment and one list head per
// database.
type logHeaderObj struct {
	IsPersistent bool
	NodeID       string
}

// listHeadObj links records in insertion order by TID rather than by raw
// pointer, since BadgerDB offers no pointer swizzling.
type listHeadObj struct {
	HasHead bool
	Head    TID
	HasTail bool
	Tail    TID
	Count   int64
}

// recordObj is the persisted form of a Record: inline id, a reference to
// the separately-allocated participant array, an optional reference to the
// separately-allocated payload buffer, and this record's link fields.
type recordObj struct {
	ID                   TID
	ParticipantCount     int
	ParticipantArrayAddr Addr
	HasPayload           bool
	PayloadAddr          Addr
	HasPrev              bool
	Prev                 TID
	HasNext              bool
	Next                 TID
}

// BadgerSegment is the Segment implementation backing a PERSISTENT log: a
// BadgerDB database standing in for the byte-addressable segment, with
// BadgerDB's own transactions providing Tx's redo-logged capture
// semantics.
type BadgerSegment struct {
	db     *badger.DB
	auxSeq uint64
}

// OpenBadgerSegment opens (or creates) a BadgerDB database at dataDir as a
// Segment. Pass inMemory to skip disk entirely (tests, ephemeral runs).
// valueLogFileSizeMB and memTableSizeMB bound BadgerDB's on-disk file sizes;
// passing 0 for either falls back to BadgerDB's own defaults.
func OpenBadgerSegment(dataDir string, inMemory bool, syncWrites bool, valueLogFileSizeMB, memTableSizeMB int) (*BadgerSegment, error) {
	opts := badger.DefaultOptions(dataDir).WithLogger(nil)
	if inMemory {
		opts = opts.WithInMemory(true)
	}
	if syncWrites {
		opts = opts.WithSyncWrites(true)
	}
	if valueLogFileSizeMB > 0 {
		opts = opts.WithValueLogFileSize(int64(valueLogFileSizeMB) << 20)
	}
	if memTableSizeMB > 0 {
		opts = opts.WithMemTableSize(int64(memTableSizeMB) << 20)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("dtm0log: opening badger segment: %w", err)
	}

	maxSeq, err := scanMaxAuxSeq(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("dtm0log: reconciling aux sequence on open: %w", err)
	}
	return &BadgerSegment{db: db, auxSeq: maxSeq}, nil
}

// scanMaxAuxSeq scans every existing prefixAux key and returns the highest
// sequence number found, or 0 if none exist. OpenBadgerSegment seeds
// BadgerSegment.auxSeq with this so that reopening a segment after a
// restart resumes allocation past every address already committed to
// disk — without it, auxSeq would reset to 0 and the next Alloc would
// reuse an address a prior run already captured a record into, silently
// overwriting it.
func scanMaxAuxSeq(db *badger.DB) (uint64, error) {
	var max uint64
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte{prefixAux}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			if len(key) != 1+8 {
				continue
			}
			if seq := binary.BigEndian.Uint64(key[1:]); seq > max {
				max = seq
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return max, nil
}

// Close closes the underlying BadgerDB database.
func (s *BadgerSegment) Close() error {
	return s.db.Close()
}

// BeginTx opens a BadgerDB read-write transaction, pre-charged with acc as
// its credit budget.
func (s *BadgerSegment) BeginTx(acc Credit) (Tx, error) {
	return &BadgerTx{
		seg:       s,
		txn:       s.db.NewTransaction(true),
		remaining: acc,
	}, nil
}

// Get reads the bytes at addr as of the last committed transaction.
func (s *BadgerSegment) Get(addr Addr) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(addr)
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BadgerTx is the Tx implementation wrapping a *badger.Txn. It enforces
// the credit upper bound: every Alloc/Capture/Free debits the budget
// passed to BeginTx, and an operation that would overdraw it fails with
// ErrOutOfMemory before touching the underlying transaction, so credit
// functions that under-counted a mutation's true cost are caught here
// rather than silently exceeding BadgerDB's own resource limits.
type BadgerTx struct {
	seg       *BadgerSegment
	txn       *badger.Txn
	remaining Credit
	done      bool
}

func (t *BadgerTx) debit(ops, bytes int64) error {
	if t.remaining.Ops < ops || t.remaining.Bytes < bytes {
		return fmt.Errorf("dtm0log: %w: credit exhausted (need ops=%d bytes=%d, have ops=%d bytes=%d)",
			ErrOutOfMemory, ops, bytes, t.remaining.Ops, t.remaining.Bytes)
	}
	t.remaining.Ops -= ops
	t.remaining.Bytes -= bytes
	return nil
}

// Alloc reserves a fresh auxiliary address for a sub-object (a
// participant array or a payload buffer) and debits the credit budget for
// it. The address is not durable until Capture writes to it and the
// transaction commits.
func (t *BadgerTx) Alloc(size int) (Addr, error) {
	if err := t.debit(1, int64(size)); err != nil {
		return nil, err
	}
	seq := atomic.AddUint64(&t.seg.auxSeq, 1)
	return auxKey(seq), nil
}

// Get reads the bytes at addr as this transaction would see them,
// including its own uncommitted Capture/Free calls.
func (t *BadgerTx) Get(addr Addr) ([]byte, error) {
	item, err := t.txn.Get(addr)
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var out []byte
	err = item.Value(func(val []byte) error {
		out = append([]byte(nil), val...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Free stages addr for deletion, debiting one op from the credit budget.
func (t *BadgerTx) Free(addr Addr) error {
	if err := t.debit(1, 0); err != nil {
		return err
	}
	return t.txn.Delete(addr)
}

// Capture writes data as the new contents of addr, debiting one op and
// len(data) bytes from the credit budget.
func (t *BadgerTx) Capture(addr Addr, data []byte) error {
	if err := t.debit(1, int64(len(data))); err != nil {
		return err
	}
	return t.txn.Set(addr, data)
}

// Commit makes every Capture/Free in this transaction durable.
func (t *BadgerTx) Commit() error {
	t.done = true
	return t.txn.Commit()
}

// Abort discards every Capture/Free in this transaction.
func (t *BadgerTx) Abort() error {
	if t.done {
		return nil
	}
	t.done = true
	t.txn.Discard()
	return nil
}
