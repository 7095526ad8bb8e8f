package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"taskmill/internal/retry"
)

// CommandConfig describes the CLI invocation for one agent role.
type CommandConfig struct {
	Command string   // Binary name, e.g. "claude"
	Args    []string // Args appended to every invocation
	Model   string   // Optional model override, passed as --model
	WorkDir string
}

// commandResult is the JSON object the agent CLI prints as its last line.
// Producer runs populate content/summary; verifier runs populate
// issues_found/summary.
type commandResult struct {
	Success     bool   `json:"success"`
	Content     string `json:"content,omitempty"`
	Summary     string `json:"summary,omitempty"`
	IssuesFound bool   `json:"issues_found,omitempty"`
	Error       string `json:"error,omitempty"`
}

// CommandAgent implements Producer and Verifier over a CLI subprocess.
// The prompt goes to stdin; the result is the last JSON line on stdout.
type CommandAgent struct {
	cfg CommandConfig
}

// NewCommandAgent validates the configuration and returns the adapter.
// A missing command is a permanent error: retrying will not install it.
func NewCommandAgent(cfg CommandConfig) (*CommandAgent, error) {
	if cfg.Command == "" {
		return nil, retry.Permanent(fmt.Errorf("agent command is empty"))
	}
	return &CommandAgent{cfg: cfg}, nil
}

// Produce runs the producing prompt through the CLI.
func (a *CommandAgent) Produce(ctx context.Context, task Task) (Artifact, error) {
	res, err := a.invoke(ctx, task.Prompt)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Content: res.Content, Summary: res.Summary}, nil
}

// Verify runs the review prompt (task prompt plus artifact) through the CLI.
func (a *CommandAgent) Verify(ctx context.Context, task Task, artifact Artifact) (Report, error) {
	prompt := fmt.Sprintf("Review the following output for task %s.\n\nTask:\n%s\n\nOutput:\n%s\n", task.ID, task.Prompt, artifact.Content)
	res, err := a.invoke(ctx, prompt)
	if err != nil {
		return Report{}, err
	}
	return Report{IssuesFound: res.IssuesFound, Summary: res.Summary}, nil
}

func (a *CommandAgent) invoke(ctx context.Context, prompt string) (*commandResult, error) {
	args := append([]string{}, a.cfg.Args...)
	if a.cfg.Model != "" {
		args = append(args, "--model", a.cfg.Model)
	}

	cmd := exec.CommandContext(ctx, a.cfg.Command, args...)
	cmd.Dir = a.cfg.WorkDir
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if _, ok := err.(*exec.ExitError); ok {
			// The agent process itself failed; usually rate limits or
			// upstream API errors, worth retrying.
			return nil, retry.Transient(fmt.Errorf("agent command failed: %w (stderr: %s)", err, truncate(stderr.String(), 512)))
		}
		// Binary missing or not executable.
		return nil, retry.Permanent(fmt.Errorf("agent command could not start: %w", err))
	}

	res, err := parseResult(stdout.Bytes())
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("failed to parse agent output: %w", err))
	}
	if !res.Success {
		return nil, retry.Transient(fmt.Errorf("agent reported failure: %s", res.Error))
	}
	return res, nil
}

// parseResult decodes the last non-empty line of output as a commandResult.
// Agents are free to stream progress text before it.
func parseResult(out []byte) (*commandResult, error) {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}
		var res commandResult
		if err := json.Unmarshal(line, &res); err != nil {
			return nil, fmt.Errorf("last output line is not a result object: %w", err)
		}
		return &res, nil
	}
	return nil, fmt.Errorf("agent produced no output")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
