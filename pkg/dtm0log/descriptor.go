package dtm0log

import "fmt"

// ParticipantState is the lifecycle state of one participant in a
// transaction. States advance monotonically per participant; regression is
// a protocol violation.
type ParticipantState int

const (
	InProgress ParticipantState = iota
	Executed
	Persistent
)

func (s ParticipantState) String() string {
	switch s {
	case InProgress:
		return "IN_PROGRESS"
	case Executed:
		return "EXECUTED"
	case Persistent:
		return "PERSISTENT"
	default:
		return "UNKNOWN"
	}
}

// Participant is one node's state within a transaction descriptor.
type Participant struct {
	PID   string
	State ParticipantState
}

// Descriptor is a transaction's identity plus its per-participant state
// vector. The participant list must be non-empty with unique participant
// ids; Validate checks this.
type Descriptor struct {
	ID           TID
	Participants []Participant
}

// Validate checks the descriptor's invariant: a non-empty participant list
// with unique participant ids.
func (d *Descriptor) Validate() error {
	if len(d.Participants) == 0 {
		return fmt.Errorf("dtm0log: %w: descriptor %v has no participants", ErrProtocolViolation, d.ID)
	}
	seen := make(map[string]struct{}, len(d.Participants))
	for _, p := range d.Participants {
		if _, dup := seen[p.PID]; dup {
			return fmt.Errorf("dtm0log: %w: descriptor %v has duplicate participant %q", ErrProtocolViolation, d.ID, p.PID)
		}
		seen[p.PID] = struct{}{}
	}
	return nil
}

// Clone deep-copies the descriptor, including its participant slice, so
// callers never alias another descriptor's backing array.
func (d *Descriptor) Clone() Descriptor {
	participants := make([]Participant, len(d.Participants))
	copy(participants, d.Participants)
	return Descriptor{ID: d.ID, Participants: participants}
}

// indexOf returns the index of pid in d.Participants, or -1.
func (d *Descriptor) indexOf(pid string) int {
	for i := range d.Participants {
		if d.Participants[i].PID == pid {
			return i
		}
	}
	return -1
}

// Apply merges src into dst in place. dst.ID == src.ID is a precondition —
// callers merge observations of the same transaction only, and a mismatch
// here is a programming error, not a runtime condition to recover from. For
// every participant present in both, dst's state advances to max(dst, src)
// under IN_PROGRESS < EXECUTED < PERSISTENT. A src state strictly lower than
// the corresponding dst state is a regression — a precondition violation,
// never a silently-accepted event — and Apply reports it as
// ErrProtocolViolation without mutating dst at all, so a caller can abort
// its transaction before anything is captured. Participants appearing only
// in src are added. The merge is otherwise idempotent and commutative over
// the set of observations for one TID.
func (d *Descriptor) Apply(src Descriptor) error {
	mustf(d.ID == src.ID, "dtm0log: Apply precondition violated: cannot merge descriptor %v into %v", src.ID, d.ID)

	for _, sp := range src.Participants {
		if i := d.indexOf(sp.PID); i >= 0 && sp.State < d.Participants[i].State {
			return fmt.Errorf("dtm0log: %w: participant %q regressed from %s to %s in descriptor %v",
				ErrProtocolViolation, sp.PID, d.Participants[i].State, sp.State, d.ID)
		}
	}

	for _, sp := range src.Participants {
		if i := d.indexOf(sp.PID); i >= 0 {
			if sp.State > d.Participants[i].State {
				d.Participants[i].State = sp.State
			}
		} else {
			d.Participants = append(d.Participants, sp)
		}
	}
	return nil
}

// StateEq holds iff every participant in d is in state s. Used by prune to
// check "fully persistent" (s == Persistent).
func (d *Descriptor) StateEq(s ParticipantState) bool {
	for _, p := range d.Participants {
		if p.State != s {
			return false
		}
	}
	return true
}
