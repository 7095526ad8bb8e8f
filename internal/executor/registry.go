package executor

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyRunning is returned by Acquire when the task has reached its
// per-task concurrent run limit (one, unless configured otherwise).
var ErrAlreadyRunning = errors.New("task already has a run in flight")

// RunHandle is the in-memory token for one in-flight executor run. It
// exists only for the lifetime of the run and prevents the scheduler from
// double-scheduling the same task.
type RunHandle struct {
	ID        string
	TaskID    string
	StartedAt time.Time
}

// RunRegistry tracks in-flight runs per task identifier.
type RunRegistry struct {
	mu   sync.Mutex
	runs map[string][]*RunHandle
}

// NewRunRegistry creates an empty registry.
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{runs: make(map[string][]*RunHandle)}
}

// Acquire registers a new run for the task, failing fast when maxPerTask
// runs are already in flight. maxPerTask <= 0 means 1.
func (r *RunRegistry) Acquire(taskID string, maxPerTask int) (*RunHandle, error) {
	if maxPerTask <= 0 {
		maxPerTask = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.runs[taskID]) >= maxPerTask {
		return nil, ErrAlreadyRunning
	}

	h := &RunHandle{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		StartedAt: time.Now(),
	}
	r.runs[taskID] = append(r.runs[taskID], h)
	return h, nil
}

// Release removes the handle. Must be called on every run exit path.
func (r *RunRegistry) Release(h *RunHandle) {
	if h == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	handles := r.runs[h.TaskID]
	for i, other := range handles {
		if other.ID == h.ID {
			handles = append(handles[:i], handles[i+1:]...)
			break
		}
	}
	if len(handles) == 0 {
		delete(r.runs, h.TaskID)
	} else {
		r.runs[h.TaskID] = handles
	}
}

// Active reports whether the task has at least one run in flight.
func (r *RunRegistry) Active(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs[taskID]) > 0
}

// Count returns the total number of in-flight runs across all tasks.
func (r *RunRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, handles := range r.runs {
		n += len(handles)
	}
	return n
}
