package state

import (
	"errors"
	"time"
)

// Phase is the role a task's current cycle is performing.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseProducing Phase = "producing"
	PhaseVerifying Phase = "verifying"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
	PhaseStopped   Phase = "stopped"
)

// Terminal reports whether no further automatic transition occurs from p.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseStopped:
		return true
	}
	return false
}

// Valid reports whether p is a known phase value.
func (p Phase) Valid() bool {
	switch p {
	case PhaseIdle, PhaseProducing, PhaseVerifying, PhaseCompleted, PhaseFailed, PhaseStopped:
		return true
	}
	return false
}

// StateRecord is the durable state of one task, keyed by task identifier.
// Mutation goes through Store.Mutate exclusively; Version backs the
// optimistic write check against external processes sharing the database.
type StateRecord struct {
	TaskID        string
	Phase         Phase
	Round         int // >= 1 once the first cycle starts
	Attempt       int // retry attempts within the active phase
	StopRequested bool
	LastCause     string // cause text of the most recent transition
	StartedAt     time.Time
	UpdatedAt     time.Time
	Version       int64
}

// Transition is one append-only history entry recording a state machine edge.
type Transition struct {
	Round     int
	Phase     Phase
	Timestamp time.Time
	Detail    string
}

// Mutation computes the next state of a record in place and returns an
// optional history entry describing the edge taken. Returning a nil
// Transition persists the record change without appending history.
type Mutation func(rec *StateRecord) (*Transition, error)

var (
	// ErrNotFound is returned by Load when no record exists for the task.
	ErrNotFound = errors.New("state record not found")

	// ErrConflict signals that the underlying row changed between read and
	// write. Mutate retries it internally; callers never observe it unless
	// the retry budget is exhausted.
	ErrConflict = errors.New("state record version conflict")
)
