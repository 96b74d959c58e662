package models

import (
	"errors"
	"fmt"
	"time"
)

// Status is the ingestion state of a KnowledgeFile.
type Status string

const (
	StatusPending    Status = "pending"
	StatusOptimizing Status = "optimizing"
	StatusProcessing Status = "processing"
	StatusStoring    Status = "storing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrInvalidTransition is returned when a status change would move backwards
// or leave a terminal state.
var ErrInvalidTransition = errors.New("invalid status transition")

// NonTerminalStatuses lists every status an attempt can still leave.
var NonTerminalStatuses = []Status{StatusPending, StatusOptimizing, StatusProcessing, StatusStoring}

var forward = map[Status][]Status{
	StatusPending:    {StatusOptimizing},
	StatusOptimizing: {StatusProcessing, StatusCompleted},
	StatusProcessing: {StatusStoring},
	StatusStoring:    {StatusCompleted},
}

// Terminal reports whether no further transition is allowed for this attempt.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusOptimizing, StatusProcessing, StatusStoring, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal move within one attempt.
// Any non-terminal status may fail.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Label is the user-facing rendering of the status.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusOptimizing:
		return "Optimizing"
	case StatusProcessing, StatusStoring:
		return "Processing"
	case StatusCompleted:
		return "Processed"
	case StatusFailed:
		return "Failed"
	}
	return string(s)
}

// Transition moves the file to the next status and stamps StatusChangedAt.
func (f *KnowledgeFile) Transition(to Status, now time.Time) error {
	if !CanTransition(f.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f.Status, to)
	}
	f.Status = to
	f.StatusChangedAt = now
	f.UpdatedAt = now
	return nil
}

// Reset returns the file to pending for a fresh attempt. It is the only way
// out of a terminal status.
func (f *KnowledgeFile) Reset(now time.Time) {
	f.Status = StatusPending
	f.ProcessingError = nil
	f.ChunkCount = nil
	f.OptimizedSize = nil
	f.SizeReduction = nil
	f.VectorDocumentID = nil
	f.InlineContent = nil
	f.Generation++
	f.StatusChangedAt = now
	f.UpdatedAt = now
}
