package dtm0log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorValidateRejectsEmptyParticipants(t *testing.T) {
	d := Descriptor{ID: TID{Phys: 1, NodeID: "n"}}
	err := d.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestDescriptorValidateRejectsDuplicateParticipant(t *testing.T) {
	d := Descriptor{
		ID: TID{Phys: 1, NodeID: "n"},
		Participants: []Participant{
			{PID: "A", State: InProgress},
			{PID: "A", State: Executed},
		},
	}
	err := d.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestDescriptorCloneDeepCopies(t *testing.T) {
	d := Descriptor{
		ID:           TID{Phys: 1, NodeID: "n"},
		Participants: []Participant{{PID: "A", State: InProgress}},
	}
	clone := d.Clone()
	clone.Participants[0].State = Persistent

	assert.Equal(t, InProgress, d.Participants[0].State)
	assert.Equal(t, Persistent, clone.Participants[0].State)
}

func TestDescriptorApplyAdvancesStateMonotonically(t *testing.T) {
	dst := Descriptor{
		ID:           TID{Phys: 1, NodeID: "n"},
		Participants: []Participant{{PID: "A", State: Executed}},
	}
	src := Descriptor{
		ID:           dst.ID,
		Participants: []Participant{{PID: "A", State: Persistent}},
	}

	require.NoError(t, dst.Apply(src))

	assert.Equal(t, Persistent, dst.Participants[0].State)
}

func TestDescriptorApplyRejectsRegression(t *testing.T) {
	dst := Descriptor{
		ID:           TID{Phys: 1, NodeID: "n"},
		Participants: []Participant{{PID: "A", State: Persistent}},
	}
	src := Descriptor{
		ID:           dst.ID,
		Participants: []Participant{{PID: "A", State: InProgress}},
	}

	err := dst.Apply(src)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocolViolation)

	// Rejected merges leave dst untouched.
	assert.Equal(t, Persistent, dst.Participants[0].State)
}

func TestDescriptorApplyAddsNewParticipants(t *testing.T) {
	dst := Descriptor{
		ID:           TID{Phys: 1, NodeID: "n"},
		Participants: []Participant{{PID: "A", State: Executed}},
	}
	src := Descriptor{
		ID:           dst.ID,
		Participants: []Participant{{PID: "B", State: Executed}},
	}

	require.NoError(t, dst.Apply(src))

	require.Len(t, dst.Participants, 2)
	assert.Equal(t, "B", dst.Participants[1].PID)
}

func TestDescriptorApplyRejectsPartialRegressionWithoutMutating(t *testing.T) {
	dst := Descriptor{
		ID: TID{Phys: 1, NodeID: "n"},
		Participants: []Participant{
			{PID: "A", State: Persistent},
			{PID: "B", State: InProgress},
		},
	}
	src := Descriptor{
		ID: dst.ID,
		Participants: []Participant{
			{PID: "A", State: InProgress}, // regression
			{PID: "B", State: Persistent}, // legitimate advance
		},
	}

	err := dst.Apply(src)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocolViolation)

	// Neither participant changed: the whole merge is rejected, not just
	// the regressing participant.
	assert.Equal(t, Persistent, dst.Participants[0].State)
	assert.Equal(t, InProgress, dst.Participants[1].State)
}

func TestDescriptorApplyPanicsOnIDMismatch(t *testing.T) {
	dst := Descriptor{ID: TID{Phys: 1, NodeID: "n"}, Participants: []Participant{{PID: "A"}}}
	src := Descriptor{ID: TID{Phys: 2, NodeID: "n"}, Participants: []Participant{{PID: "A"}}}

	assert.Panics(t, func() {
		dst.Apply(src)
	})
}

func TestDescriptorStateEq(t *testing.T) {
	d := Descriptor{
		Participants: []Participant{
			{PID: "A", State: Persistent},
			{PID: "B", State: Persistent},
		},
	}
	assert.True(t, d.StateEq(Persistent))
	assert.False(t, d.StateEq(Executed))
}
