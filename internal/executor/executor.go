// Package executor drives a single task run end to end: it determines the
// current phase, invokes the phase's collaborator under a timeout, applies
// the retry policy to failures, and reports every outcome to the round
// coordinator for durable persistence. One RunHandle per task prevents
// concurrent runs of the same task.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"taskmill/internal/agent"
	"taskmill/internal/config"
	"taskmill/internal/events"
	"taskmill/internal/metrics"
	"taskmill/internal/notify"
	"taskmill/internal/retry"
	"taskmill/internal/round"
	"taskmill/internal/state"
)

// Executor runs tasks. All dependencies are explicit; there is no
// process-wide instance.
type Executor struct {
	store    state.Store
	coord    *round.Coordinator
	producer agent.Producer
	verifier agent.Verifier
	notifier notify.Sink
	bus      *events.Bus
	metrics  *metrics.Collector
	breakers *BreakerRegistry
	registry *RunRegistry
}

// New creates an Executor. notifier, bus, and collector may be nil.
func New(store state.Store, coord *round.Coordinator, producer agent.Producer, verifier agent.Verifier, notifier notify.Sink, bus *events.Bus, collector *metrics.Collector) *Executor {
	return &Executor{
		store:    store,
		coord:    coord,
		producer: producer,
		verifier: verifier,
		notifier: notifier,
		bus:      bus,
		metrics:  collector,
		breakers: NewBreakerRegistry(),
		registry: NewRunRegistry(),
	}
}

// Registry exposes the run handle registry for the scheduler's in-flight
// checks.
func (e *Executor) Registry() *RunRegistry { return e.registry }

// Run executes one run of the task to a terminal phase or a yield point.
// Returns ErrAlreadyRunning without side effects if the task has a run in
// flight. Context cancellation aborts between checkpoints, leaving the
// record resumable.
func (e *Executor) Run(ctx context.Context, def config.TaskDefinition) error {
	handle, err := e.registry.Acquire(def.ID, def.MaxConcurrentRuns)
	if err != nil {
		log.Printf("executor: task %q: %v", def.ID, err)
		return err
	}
	defer e.registry.Release(handle)

	started := time.Now()
	rec, err := e.coord.Begin(ctx, def.ID)
	if err != nil {
		return fmt.Errorf("failed to begin run for task %q: %w", def.ID, err)
	}

	e.recordStarted()
	e.publish(events.TopicRun, events.RunStarted{
		ID: def.ID, RunID: handle.ID, Phase: rec.Phase, Round: rec.Round, Timestamp: started,
	})

	// The in-flight gauge went up with recordStarted; every exit path from
	// here must balance it and publish RunFinished.
	cause := "run aborted"
	defer func() { e.finish(def.ID, handle.ID, rec, started, cause) }()

	policy := policyFromConfig(def.Retry)
	limits := round.Limits{MaxRounds: def.MaxRounds, FailAtMaxRounds: def.OnMaxRounds == "fail"}
	task := agent.Task{ID: def.ID, Prompt: def.Prompt}

	var artifact agent.Artifact

	for !rec.Phase.Terminal() {
		// Checkpoint: cancellation aborts without a transition, a stop
		// request transitions to stopped before any further phase work.
		if ctx.Err() != nil {
			cause = "run aborted by shutdown"
			return ctx.Err()
		}
		if rec.StopRequested {
			rec, err = e.coord.ApplyStop(ctx, def.ID)
			if err != nil {
				wrapped := fmt.Errorf("failed to apply stop for task %q: %w", def.ID, err)
				cause = wrapped.Error()
				return wrapped
			}
			continue
		}

		switch rec.Phase {
		case state.PhaseProducing:
			rec, artifact, err = e.runProducing(ctx, def, task, policy, rec)
		case state.PhaseVerifying:
			rec, err = e.runVerifying(ctx, def, task, artifact, policy, limits, rec)
		default:
			err = fmt.Errorf("task %q in unexpected phase %s", def.ID, rec.Phase)
			cause = err.Error()
			return err
		}
		if err != nil {
			if ctx.Err() != nil {
				cause = "run aborted by shutdown"
				return ctx.Err()
			}
			cause = err.Error()
			return err
		}
	}

	e.notifyTerminal(def.ID, rec)
	cause = rec.LastCause
	return nil
}

// runProducing executes producing-phase attempts until the phase succeeds,
// exhausts its retries, or is stopped.
func (e *Executor) runProducing(ctx context.Context, def config.TaskDefinition, task agent.Task, policy retry.Policy, rec *state.StateRecord) (*state.StateRecord, agent.Artifact, error) {
	cb := e.breakers.Get("producer")

	artifact, phaseErr := func() (agent.Artifact, error) {
		phaseCtx, cancel := context.WithTimeout(ctx, def.PhaseTimeout.Std())
		defer cancel()
		return throughBreaker(cb, func() (agent.Artifact, error) {
			return e.producer.Produce(phaseCtx, task)
		})
	}()

	e.publish(events.TopicRun, events.PhaseFinished{
		ID: def.ID, Phase: state.PhaseProducing, Round: rec.Round, Attempt: rec.Attempt + 1,
		Err: phaseErr, Timestamp: time.Now(),
	})

	if phaseErr == nil {
		next, err := e.coord.ProducerSucceeded(ctx, def.ID, summaryOr(artifact.Summary, "producer succeeded"))
		return next, artifact, err
	}

	next, err := e.handlePhaseFailure(ctx, def, policy, rec, phaseErr)
	return next, agent.Artifact{}, err
}

// runVerifying executes verifying-phase attempts and lets the coordinator
// decide between another round and a terminal phase.
func (e *Executor) runVerifying(ctx context.Context, def config.TaskDefinition, task agent.Task, artifact agent.Artifact, policy retry.Policy, limits round.Limits, rec *state.StateRecord) (*state.StateRecord, error) {
	cb := e.breakers.Get("verifier")

	report, phaseErr := func() (agent.Report, error) {
		phaseCtx, cancel := context.WithTimeout(ctx, def.PhaseTimeout.Std())
		defer cancel()
		return throughBreaker(cb, func() (agent.Report, error) {
			return e.verifier.Verify(phaseCtx, task, artifact)
		})
	}()

	e.publish(events.TopicRun, events.PhaseFinished{
		ID: def.ID, Phase: state.PhaseVerifying, Round: rec.Round, Attempt: rec.Attempt + 1,
		Err: phaseErr, Timestamp: time.Now(),
	})

	if phaseErr == nil {
		next, outcome, err := e.coord.VerifierReported(ctx, def.ID, report.IssuesFound, limits, summaryOr(report.Summary, "verifier reported"))
		if err != nil {
			return nil, err
		}
		if outcome == round.OutcomeCompletedWithWarnings {
			e.notify(def.ID, next.Phase, notify.LevelWarning, next.LastCause)
		}
		return next, nil
	}

	return e.handlePhaseFailure(ctx, def, policy, rec, phaseErr)
}

// handlePhaseFailure bumps the durable attempt counter and either waits out
// the backoff delay for another attempt of the same phase or transitions
// the task to failed.
func (e *Executor) handlePhaseFailure(ctx context.Context, def config.TaskDefinition, policy retry.Policy, rec *state.StateRecord, phaseErr error) (*state.StateRecord, error) {
	class := retry.Classify(phaseErr)
	attempt := rec.Attempt + 1
	cause := fmt.Sprintf("%s phase attempt %d failed (%s): %v", rec.Phase, attempt, class, phaseErr)

	// Persist the attempt so status reflects the failure mid-retry. Not a
	// phase transition, so no history entry.
	next, err := e.store.Mutate(ctx, def.ID, func(r *state.StateRecord) (*state.Transition, error) {
		if r.Phase.Terminal() {
			return nil, nil
		}
		r.Attempt = attempt
		r.LastCause = cause
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record attempt for task %q: %w", def.ID, err)
	}

	if !retry.ShouldRetry(attempt, policy, class) {
		failed, err := e.coord.Fail(ctx, def.ID, cause)
		if err != nil {
			return nil, err
		}
		return failed, nil
	}

	delay := retry.NextDelay(attempt-1, policy)
	log.Printf("executor: task %q: retrying %s phase in %s (attempt %d/%d)", def.ID, next.Phase, delay.Round(time.Millisecond), attempt, policy.MaxAttempts)
	e.recordRetry()
	e.publish(events.TopicRun, events.PhaseRetry{
		ID: def.ID, Phase: next.Phase, Attempt: attempt, Delay: delay, Timestamp: time.Now(),
	})

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return next, ctx.Err()
	case <-timer.C:
	}

	// Re-read the record: a stop request may have arrived during the wait.
	reloaded, err := e.store.Load(ctx, def.ID)
	if errors.Is(err, state.ErrNotFound) {
		return next, nil
	}
	if err != nil {
		return nil, err
	}
	return reloaded, nil
}

func (e *Executor) notifyTerminal(taskID string, rec *state.StateRecord) {
	switch rec.Phase {
	case state.PhaseCompleted:
		e.notify(taskID, rec.Phase, notify.LevelInfo, rec.LastCause)
	case state.PhaseFailed:
		e.notify(taskID, rec.Phase, notify.LevelError, rec.LastCause)
	case state.PhaseStopped:
		e.notify(taskID, rec.Phase, notify.LevelWarning, rec.LastCause)
	}
}

func (e *Executor) finish(taskID, runID string, rec *state.StateRecord, started time.Time, cause string) {
	duration := time.Since(started)
	phase := state.PhaseIdle
	roundNo := 0
	if rec != nil {
		phase = rec.Phase
		roundNo = rec.Round
	}
	e.recordFinished(phase, duration)
	e.publish(events.TopicRun, events.RunFinished{
		ID: taskID, RunID: runID, Phase: phase, Round: roundNo,
		Cause: cause, Duration: duration, Timestamp: time.Now(),
	})
}

func (e *Executor) publish(topic events.Topic, ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(topic, ev)
	}
}

func (e *Executor) notify(taskID string, phase state.Phase, level notify.Level, message string) {
	if e.notifier != nil {
		e.notifier.Publish(notify.Event{
			TaskID: taskID, Phase: phase, Level: level, Message: message, Timestamp: time.Now(),
		})
	}
}

func (e *Executor) recordStarted() {
	if e.metrics != nil {
		e.metrics.RecordRunStarted()
	}
}

func (e *Executor) recordRetry() {
	if e.metrics != nil {
		e.metrics.RecordRetry()
	}
}

func (e *Executor) recordFinished(phase state.Phase, d time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordRunFinished(string(phase), d)
	}
}

// policyFromConfig converts the per-task retry configuration.
func policyFromConfig(rc config.RetryConfig) retry.Policy {
	return retry.Policy{
		BaseDelay:   rc.BaseDelay.Std(),
		MaxDelay:    rc.MaxDelay.Std(),
		Multiplier:  rc.Multiplier,
		Jitter:      rc.Jitter,
		MaxAttempts: rc.MaxAttempts,
	}
}

func summaryOr(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
