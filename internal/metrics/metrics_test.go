package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_RunLifecycleCounters(t *testing.T) {
	c := NewCollector()

	c.RecordRunStarted()
	c.RecordRunStarted()
	if got := testutil.ToFloat64(c.runsStarted); got != 2 {
		t.Errorf("runs started: got %v", got)
	}
	if got := testutil.ToFloat64(c.runsInFlight); got != 2 {
		t.Errorf("runs in flight: got %v", got)
	}

	c.RecordRunFinished("completed", 3*time.Second)
	c.RecordRunFinished("failed", time.Second)

	if got := testutil.ToFloat64(c.runsCompleted); got != 1 {
		t.Errorf("runs completed: got %v", got)
	}
	if got := testutil.ToFloat64(c.runsFailed); got != 1 {
		t.Errorf("runs failed: got %v", got)
	}
	if got := testutil.ToFloat64(c.runsInFlight); got != 0 {
		t.Errorf("runs in flight after finish: got %v", got)
	}
}

func TestCollector_UnknownTerminalPhaseOnlyObservesDuration(t *testing.T) {
	c := NewCollector()
	c.RecordRunStarted()
	c.RecordRunFinished("producing", time.Second)

	if got := testutil.ToFloat64(c.runsCompleted) + testutil.ToFloat64(c.runsFailed) + testutil.ToFloat64(c.runsStopped); got != 0 {
		t.Errorf("non-terminal phase must not bump terminal counters, got %v", got)
	}
}

func TestCollector_SchedulerCounters(t *testing.T) {
	c := NewCollector()

	c.RecordRetry()
	c.RecordRejected()
	c.RecordRejected()
	c.RecordDeferred()

	if got := testutil.ToFloat64(c.retries); got != 1 {
		t.Errorf("retries: got %v", got)
	}
	if got := testutil.ToFloat64(c.rejected); got != 2 {
		t.Errorf("rejected: got %v", got)
	}
	if got := testutil.ToFloat64(c.deferred); got != 1 {
		t.Errorf("deferred: got %v", got)
	}
}

func TestCollector_IndependentRegistries(t *testing.T) {
	a := NewCollector()
	b := NewCollector()

	a.RecordRunStarted()
	if got := testutil.ToFloat64(b.runsStarted); got != 0 {
		t.Errorf("collectors share state: got %v", got)
	}
}
