package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusOptimizing, true},
		{StatusOptimizing, StatusProcessing, true},
		{StatusOptimizing, StatusCompleted, true},
		{StatusProcessing, StatusStoring, true},
		{StatusStoring, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusStoring, StatusFailed, true},
		{StatusPending, StatusProcessing, false},
		{StatusProcessing, StatusOptimizing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusPending, false},
		{StatusCompleted, StatusPending, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTransitionStampsTime(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	f := &KnowledgeFile{Status: StatusPending}

	require.NoError(t, f.Transition(StatusOptimizing, now))
	require.Equal(t, StatusOptimizing, f.Status)
	require.Equal(t, now, f.StatusChangedAt)

	err := f.Transition(StatusPending, now)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, StatusOptimizing, f.Status)
}

func TestResetClearsAttemptFields(t *testing.T) {
	msg := "boom"
	count := 4
	f := &KnowledgeFile{Status: StatusFailed, ProcessingError: &msg, ChunkCount: &count, Generation: 2}

	f.Reset(time.Now())

	require.Equal(t, StatusPending, f.Status)
	require.Nil(t, f.ProcessingError)
	require.Nil(t, f.ChunkCount)
	require.EqualValues(t, 3, f.Generation)
}

func TestCloneIsDeep(t *testing.T) {
	msg := "x"
	f := &KnowledgeFile{ID: "a", ProcessingError: &msg}
	c := f.Clone()
	*c.ProcessingError = "y"
	require.Equal(t, "x", *f.ProcessingError)
}

func TestLabel(t *testing.T) {
	require.Equal(t, "Processed", StatusCompleted.Label())
	require.Equal(t, "Processing", StatusStoring.Label())
	require.Equal(t, "Failed", StatusFailed.Label())
}
