// Package round implements the phase state machine governing the
// producer/verifier alternation of a task: round counting, terminal
// condition detection, and stop-request precedence. Every transition is a
// single state.Mutate call that also appends the edge to the task's history.
package round

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"taskmill/internal/state"
)

// Limits carries the per-task bounds the coordinator enforces.
type Limits struct {
	// MaxRounds bounds the number of producing->verifying cycles.
	MaxRounds int
	// FailAtMaxRounds selects the policy for "verifier still finds issues
	// in the final round": false completes the task with warnings, true
	// fails it.
	FailAtMaxRounds bool
}

// Outcome describes what a verifier result transition decided.
type Outcome int

const (
	OutcomeNextRound Outcome = iota
	OutcomeCompleted
	OutcomeCompletedWithWarnings
	OutcomeFailed
	OutcomeStopped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNextRound:
		return "next-round"
	case OutcomeCompleted:
		return "completed"
	case OutcomeCompletedWithWarnings:
		return "completed-with-warnings"
	case OutcomeFailed:
		return "failed"
	case OutcomeStopped:
		return "stopped"
	}
	return "unknown"
}

// ErrInvalidTransition is returned when a phase result arrives for a record
// that is not in the phase the result belongs to.
var ErrInvalidTransition = errors.New("invalid phase transition")

// Coordinator drives the per-task state machine on top of a state.Store.
type Coordinator struct {
	store state.Store
}

// NewCoordinator creates a Coordinator backed by the given store.
func NewCoordinator(store state.Store) *Coordinator {
	return &Coordinator{store: store}
}

// Begin moves the task into the producing phase for a new run. An idle or
// terminal record starts a fresh cycle at round 1; a record already in
// producing or verifying (a run interrupted by a crash) is resumed where it
// left off. A pending stop request wins and moves the record to stopped.
func (c *Coordinator) Begin(ctx context.Context, taskID string) (*state.StateRecord, error) {
	return c.store.Mutate(ctx, taskID, func(rec *state.StateRecord) (*state.Transition, error) {
		if rec.StopRequested && !rec.Phase.Terminal() {
			return stop(rec, "stop requested before run start"), nil
		}

		switch rec.Phase {
		case state.PhaseProducing, state.PhaseVerifying:
			// Resuming interrupted work; keep round and attempt.
			return &state.Transition{
				Round:  rec.Round,
				Phase:  rec.Phase,
				Detail: fmt.Sprintf("resumed in phase %s at attempt %d", rec.Phase, rec.Attempt),
			}, nil
		}

		detail := "cycle started"
		if rec.Phase.Terminal() {
			detail = fmt.Sprintf("new cycle started (previous cycle %s)", rec.Phase)
		}
		rec.Phase = state.PhaseProducing
		rec.Round = 1
		rec.Attempt = 0
		rec.StopRequested = false
		rec.StartedAt = time.Now().UTC()
		rec.LastCause = detail
		return &state.Transition{Round: 1, Phase: state.PhaseProducing, Detail: detail}, nil
	})
}

// ProducerSucceeded records a successful producing phase: producing ->
// verifying, attempt reset. A pending stop request takes precedence over
// the phase result.
func (c *Coordinator) ProducerSucceeded(ctx context.Context, taskID, detail string) (*state.StateRecord, error) {
	return c.store.Mutate(ctx, taskID, func(rec *state.StateRecord) (*state.Transition, error) {
		if rec.StopRequested && !rec.Phase.Terminal() {
			return stop(rec, "stop requested during producing phase"), nil
		}
		if rec.Phase != state.PhaseProducing {
			return nil, fmt.Errorf("%w: producer result in phase %s", ErrInvalidTransition, rec.Phase)
		}

		rec.Phase = state.PhaseVerifying
		rec.Attempt = 0
		rec.LastCause = detail
		return &state.Transition{Round: rec.Round, Phase: state.PhaseVerifying, Detail: detail}, nil
	})
}

// VerifierReported records the verifier's verdict and computes the next
// phase: another producing round while issues remain and rounds are left,
// otherwise a terminal phase per the max-rounds policy.
func (c *Coordinator) VerifierReported(ctx context.Context, taskID string, issuesFound bool, lim Limits, detail string) (*state.StateRecord, Outcome, error) {
	outcome := OutcomeCompleted

	rec, err := c.store.Mutate(ctx, taskID, func(rec *state.StateRecord) (*state.Transition, error) {
		if rec.StopRequested && !rec.Phase.Terminal() {
			outcome = OutcomeStopped
			return stop(rec, "stop requested during verifying phase"), nil
		}
		if rec.Phase != state.PhaseVerifying {
			return nil, fmt.Errorf("%w: verifier result in phase %s", ErrInvalidTransition, rec.Phase)
		}

		switch {
		case !issuesFound:
			outcome = OutcomeCompleted
			rec.Phase = state.PhaseCompleted
			rec.LastCause = "verification passed: " + detail

		case rec.Round < lim.MaxRounds:
			outcome = OutcomeNextRound
			rec.Phase = state.PhaseProducing
			rec.Round++
			rec.Attempt = 0
			rec.LastCause = fmt.Sprintf("issues found, starting round %d: %s", rec.Round, detail)

		case lim.FailAtMaxRounds:
			outcome = OutcomeFailed
			rec.Phase = state.PhaseFailed
			rec.LastCause = fmt.Sprintf("issues still present after %d rounds: %s", rec.Round, detail)

		default:
			outcome = OutcomeCompletedWithWarnings
			rec.Phase = state.PhaseCompleted
			rec.LastCause = fmt.Sprintf("completed with unresolved issues after %d rounds: %s", rec.Round, detail)
		}

		return &state.Transition{Round: rec.Round, Phase: rec.Phase, Detail: rec.LastCause}, nil
	})
	if err != nil {
		return nil, outcome, err
	}

	if outcome == OutcomeCompletedWithWarnings {
		// Deliberately distinct from clean completion so operators can
		// find tasks that hit the round ceiling.
		log.Printf("WARNING: task %q completed with unresolved issues at round ceiling %d", taskID, lim.MaxRounds)
	}
	return rec, outcome, nil
}

// Fail moves the task to failed after retries are exhausted or a permanent
// error occurred. A pending stop request still wins.
func (c *Coordinator) Fail(ctx context.Context, taskID, cause string) (*state.StateRecord, error) {
	return c.store.Mutate(ctx, taskID, func(rec *state.StateRecord) (*state.Transition, error) {
		if rec.StopRequested && !rec.Phase.Terminal() {
			return stop(rec, "stop requested during failing phase"), nil
		}
		if rec.Phase.Terminal() {
			return nil, nil
		}

		rec.Phase = state.PhaseFailed
		rec.LastCause = cause
		return &state.Transition{Round: rec.Round, Phase: state.PhaseFailed, Detail: cause}, nil
	})
}

// RequestStop sets the durable stop flag. The running executor observes it
// at its next checkpoint; if no run is in flight the scheduler applies the
// transition on its next tick via ApplyStop.
func (c *Coordinator) RequestStop(ctx context.Context, taskID string) (*state.StateRecord, error) {
	return c.store.Mutate(ctx, taskID, func(rec *state.StateRecord) (*state.Transition, error) {
		if rec.Phase.Terminal() || rec.StopRequested {
			return nil, nil
		}
		rec.StopRequested = true
		return nil, nil
	})
}

// ApplyStop transitions a non-terminal record with a pending stop request
// to stopped. No-op otherwise.
func (c *Coordinator) ApplyStop(ctx context.Context, taskID string) (*state.StateRecord, error) {
	return c.store.Mutate(ctx, taskID, func(rec *state.StateRecord) (*state.Transition, error) {
		if rec.Phase.Terminal() || !rec.StopRequested {
			return nil, nil
		}
		return stop(rec, "stop requested"), nil
	})
}

// stop mutates rec into the stopped phase and returns the history entry.
func stop(rec *state.StateRecord, cause string) *state.Transition {
	rec.Phase = state.PhaseStopped
	rec.StopRequested = false
	rec.LastCause = cause
	return &state.Transition{Round: rec.Round, Phase: state.PhaseStopped, Detail: cause}
}
