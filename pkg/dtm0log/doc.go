// Package dtm0log implements the DTM0 log: an ordered, deduplicating record
// store that tracks the lifecycle of distributed transactions across a set
// of participating nodes.
//
// For each transaction the log holds a Descriptor (its identity and
// per-participant state vector) and, optionally, an opaque replay payload.
// The log supports two modes behind one interface:
//
//   - VOLATILE: an in-memory instance used by clients to track in-flight
//     work they may need to replay. Created with NewVolatile.
//   - PERSISTENT: an instance backed by a transactional BadgerDB segment
//     used by servers so state survives restart. Created with
//     CreatePersistent or recovered with OpenPersistent.
//
// # Concurrency
//
// A Log owns one mutex that serializes every read and write against its
// list. Every exported method acquires it internally; callers never manage
// the lock themselves.
//
// # Credits
//
// Persistent mutations run under an internally-opened backing transaction
// with a pre-declared credit budget (see the credits.go CreditFor*
// functions and the Segment/Tx interfaces in segment.go). This lets a
// mutation be applied without partial updates: either the whole
// transaction commits, or Badger rolls it back and the log is left exactly
// as it was.
//
// Example Usage:
//
//	clock := dtm0log.NewPhysicalClock("node-1")
//	log := dtm0log.NewVolatile(clock)
//	defer log.Close()
//
//	id := clock.Next()
//	err := log.Update(dtm0log.Descriptor{
//		ID:           id,
//		Participants: []dtm0log.Participant{{PID: "A", State: dtm0log.Executed}},
//	}, []byte("payload"))
package dtm0log
