// Package agent defines the collaborator operations the orchestration core
// delegates phase work to, plus a generic subprocess adapter that shells out
// to an AI CLI. The core only depends on the interfaces; everything behind
// them is a thin I/O wrapper.
package agent

import (
	"context"
)

// Task identifies the work item a phase operation runs for.
type Task struct {
	ID     string
	Prompt string // Task-level instruction handed to the agent
}

// Artifact is the output of a producing phase, handed to the verifier.
type Artifact struct {
	Content string
	Summary string
}

// Report is the verifier's verdict on an artifact.
type Report struct {
	IssuesFound bool
	Summary     string
}

// Producer generates the artifact for one producing phase. Implementations
// must honor ctx cancellation and deadlines.
type Producer interface {
	Produce(ctx context.Context, task Task) (Artifact, error)
}

// Verifier reviews an artifact and reports whether blocking issues remain.
type Verifier interface {
	Verify(ctx context.Context, task Task, artifact Artifact) (Report, error)
}
