package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectID_Zero(t *testing.T) {
	assert.True(t, ZeroID.IsZero())
	assert.True(t, ObjectID("0000000000000000000000000000000000000000").IsZero())
	assert.False(t, idA.IsZero())
	assert.Equal(t, ZeroID, ObjectID("000000").Normalize())
	assert.Equal(t, "0", ZeroID.String())
}

func TestResult_Success(t *testing.T) {
	for _, r := range []Result{New, Forced, FastForward, NoChange, Renamed} {
		assert.True(t, r.Success(), r.String())
	}
	for _, r := range []Result{NotAttempted, Rejected, RejectedOther, RejectedMissingObject, RejectedCurrentBranch, LockFailure, IOFailure} {
		assert.False(t, r.Success(), r.String())
	}
	assert.Equal(t, "UNKNOWN", Result(99).String())
}

func TestNewCommand(t *testing.T) {
	assert.Equal(t, Create, NewCommand("refs/heads/a", ZeroID, idA).Type)
	assert.Equal(t, Delete, NewCommand("refs/heads/a", idA, "0000000000000000000000000000000000000000").Type)
	assert.Equal(t, Update, NewCommand("refs/heads/a", idA, idB).Type)

	inv := NewCommand("refs/heads/a", ZeroID, idA).Inverse()
	assert.Equal(t, Delete, inv.Type)
	assert.Equal(t, idA, inv.OldID)
	assert.Equal(t, ZeroID, inv.NewID)
	assert.Equal(t, CmdNotAttempted, inv.Result)
}
