package events

import (
	"time"

	"taskmill/internal/state"
)

// Event is the base interface for all run lifecycle events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic routes published events to subscribers.
type Topic string

const (
	TopicRun       Topic = "run"
	TopicScheduler Topic = "scheduler"
)

// Event type constants
const (
	EventTypeRunStarted    = "run.started"
	EventTypeRunFinished   = "run.finished"
	EventTypePhaseFinished = "phase.finished"
	EventTypePhaseRetry    = "phase.retry"
	EventTypeRunRejected   = "run.rejected"
	EventTypeRunDeferred   = "run.deferred"
)

// RunStarted is published when the executor acquires a run handle.
type RunStarted struct {
	ID        string // task identifier
	RunID     string
	Phase     state.Phase
	Round     int
	Timestamp time.Time
}

func (e RunStarted) EventType() string { return EventTypeRunStarted }
func (e RunStarted) TaskID() string    { return e.ID }

// RunFinished is published when a run releases its handle.
type RunFinished struct {
	ID        string
	RunID     string
	Phase     state.Phase
	Round     int
	Cause     string
	Duration  time.Duration
	Timestamp time.Time
}

func (e RunFinished) EventType() string { return EventTypeRunFinished }
func (e RunFinished) TaskID() string    { return e.ID }

// PhaseFinished is published after each phase attempt settles.
type PhaseFinished struct {
	ID        string
	Phase     state.Phase
	Round     int
	Attempt   int
	Err       error
	Timestamp time.Time
}

func (e PhaseFinished) EventType() string { return EventTypePhaseFinished }
func (e PhaseFinished) TaskID() string    { return e.ID }

// PhaseRetry is published when a failed attempt will be retried after a
// backoff delay.
type PhaseRetry struct {
	ID        string
	Phase     state.Phase
	Attempt   int
	Delay     time.Duration
	Timestamp time.Time
}

func (e PhaseRetry) EventType() string { return EventTypePhaseRetry }
func (e PhaseRetry) TaskID() string    { return e.ID }

// RunRejected is published when a firing is skipped because the task
// already has a run in flight.
type RunRejected struct {
	ID        string
	Reason    string
	Timestamp time.Time
}

func (e RunRejected) EventType() string { return EventTypeRunRejected }
func (e RunRejected) TaskID() string    { return e.ID }

// RunDeferred is published when a firing is skipped because the global
// concurrency ceiling was reached.
type RunDeferred struct {
	ID        string
	Timestamp time.Time
}

func (e RunDeferred) EventType() string { return EventTypeRunDeferred }
func (e RunDeferred) TaskID() string    { return e.ID }
