package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryBackoffSeconds(t *testing.T) {
	assert.Equal(t, 30, RetryBackoffSeconds(1))
	assert.Equal(t, 60, RetryBackoffSeconds(2))
	assert.Equal(t, 120, RetryBackoffSeconds(3))
	assert.Equal(t, 1920, RetryBackoffSeconds(7))
	assert.Equal(t, 3600, RetryBackoffSeconds(8))
	assert.Equal(t, 3600, RetryBackoffSeconds(50))

	// Zero and negative attempt counts behave like the first attempt.
	assert.Equal(t, 30, RetryBackoffSeconds(0))
	assert.Equal(t, 30, RetryBackoffSeconds(-3))
}

func TestJobStatusIsTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())
	assert.False(t, JobStatusFailed.IsTerminal())
	assert.True(t, JobStatusDone.IsTerminal())
	assert.True(t, JobStatusDeadLetter.IsTerminal())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitFatal, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitPartial, ExitCode(NewExitError(ExitPartial, errors.New("1 of 2 failed"))))

	lockErr := &LockBusyError{Owner: "sync", PID: 123, Command: "lerim sync"}
	require.True(t, errors.Is(lockErr, ErrLockBusy))
	assert.Equal(t, ExitLockBusy, ExitCode(lockErr))

	// Wrapped lock-busy still maps to its code.
	wrapped := NewExitError(ExitLockBusy, lockErr)
	assert.Equal(t, ExitLockBusy, ExitCode(wrapped))
}

func TestLearningKindValid(t *testing.T) {
	for _, k := range []LearningKind{LearningInsight, LearningProcedure, LearningFriction, LearningPitfall, LearningPreference} {
		assert.True(t, k.Valid(), string(k))
	}
	assert.False(t, LearningKind("hunch").Valid())
}

func TestSyncCountsTotal(t *testing.T) {
	c := SyncCounts{Add: 2, Update: 1, NoOp: 4}
	assert.Equal(t, 7, c.Total())
}
