package executor

import (
	"errors"
	"testing"
)

func TestRunRegistry_AcquireRelease(t *testing.T) {
	r := NewRunRegistry()

	h, err := r.Acquire("task-a", 1)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !r.Active("task-a") {
		t.Error("task should be active after Acquire")
	}
	if r.Count() != 1 {
		t.Errorf("expected count 1, got %d", r.Count())
	}

	r.Release(h)
	if r.Active("task-a") {
		t.Error("task should be inactive after Release")
	}
	if r.Count() != 0 {
		t.Errorf("expected count 0, got %d", r.Count())
	}
}

func TestRunRegistry_DuplicateFailsFast(t *testing.T) {
	r := NewRunRegistry()

	h, err := r.Acquire("task-a", 1)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer r.Release(h)

	if _, err := r.Acquire("task-a", 1); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	// A different task is unaffected.
	h2, err := r.Acquire("task-b", 1)
	if err != nil {
		t.Fatalf("Acquire for other task failed: %v", err)
	}
	r.Release(h2)
}

func TestRunRegistry_PerTaskLimit(t *testing.T) {
	r := NewRunRegistry()

	h1, err := r.Acquire("task-a", 2)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	h2, err := r.Acquire("task-a", 2)
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if _, err := r.Acquire("task-a", 2); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning at the limit, got %v", err)
	}

	r.Release(h1)
	h3, err := r.Acquire("task-a", 2)
	if err != nil {
		t.Fatalf("Acquire after Release failed: %v", err)
	}
	r.Release(h2)
	r.Release(h3)

	if r.Count() != 0 {
		t.Errorf("expected empty registry, got %d", r.Count())
	}
}

func TestRunRegistry_ReleaseNilIsNoop(t *testing.T) {
	r := NewRunRegistry()
	r.Release(nil)
	if r.Count() != 0 {
		t.Errorf("expected count 0, got %d", r.Count())
	}
}

func TestRunRegistry_ZeroLimitMeansOne(t *testing.T) {
	r := NewRunRegistry()

	h, err := r.Acquire("task-a", 0)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer r.Release(h)

	if _, err := r.Acquire("task-a", 0); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}
