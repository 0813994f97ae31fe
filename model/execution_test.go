package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateTransition(t *testing.T) {
	allowed := []struct {
		from ExecutionStatus
		to   ExecutionStatus
	}{
		{EXECUTION_PENDING, EXECUTION_RUNNING},
		{EXECUTION_PENDING, EXECUTION_FAILED},
		{EXECUTION_RUNNING, EXECUTION_SUCCESS},
		{EXECUTION_RUNNING, EXECUTION_FAILED},
		{EXECUTION_RUNNING, EXECUTION_TIMEOUT},
		{EXECUTION_RUNNING, EXECUTION_COMPLETED_WITH_ERRORS},
		{EXECUTION_RUNNING, EXECUTION_CANCELLING},
		{EXECUTION_CANCELLING, EXECUTION_CANCELLED},
		{EXECUTION_CANCELLING, EXECUTION_SUCCESS},
	}
	for _, tr := range allowed {
		require.NoError(t, ValidateTransition(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}

	denied := []struct {
		from ExecutionStatus
		to   ExecutionStatus
	}{
		{EXECUTION_PENDING, EXECUTION_SUCCESS},
		{EXECUTION_PENDING, EXECUTION_CANCELLING},
		{EXECUTION_PENDING, EXECUTION_CANCELLED},
		{EXECUTION_RUNNING, EXECUTION_CANCELLED},
		{EXECUTION_RUNNING, EXECUTION_PENDING},
		{EXECUTION_SUCCESS, EXECUTION_RUNNING},
		{EXECUTION_FAILED, EXECUTION_RUNNING},
		{EXECUTION_CANCELLED, EXECUTION_RUNNING},
	}
	for _, tr := range denied {
		require.Error(t, ValidateTransition(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []ExecutionStatus{EXECUTION_SUCCESS, EXECUTION_FAILED,
		EXECUTION_TIMEOUT, EXECUTION_COMPLETED_WITH_ERRORS, EXECUTION_CANCELLED} {
		require.True(t, s.IsTerminal(), string(s))
	}
	for _, s := range []ExecutionStatus{EXECUTION_PENDING, EXECUTION_RUNNING, EXECUTION_CANCELLING} {
		require.False(t, s.IsTerminal(), string(s))
	}
}

func TestFingerprintIgnoresScanTimestamps(t *testing.T) {
	wf := WorkflowDefinition{Name: "greeting", Mode: MODE_SYNC, SourcePath: "/w/greeting.js"}
	withTimestamps := wf
	withTimestamps.Active = true
	require.Equal(t, wf.Fingerprint(), withTimestamps.Fingerprint())

	changed := wf
	changed.Description = "new description"
	require.NotEqual(t, wf.Fingerprint(), changed.Fingerprint())
}
