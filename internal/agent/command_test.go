package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"taskmill/internal/retry"
)

// shAgent builds a CommandAgent that runs an inline shell script; the
// prompt arrives on stdin like a real agent CLI.
func shAgent(t *testing.T, script string) *CommandAgent {
	t.Helper()
	a, err := NewCommandAgent(CommandConfig{Command: "sh", Args: []string{"-c", script}})
	if err != nil {
		t.Fatalf("NewCommandAgent failed: %v", err)
	}
	return a
}

func TestNewCommandAgent_EmptyCommand(t *testing.T) {
	_, err := NewCommandAgent(CommandConfig{})
	if err == nil {
		t.Fatal("expected error for empty command")
	}
	if !retry.IsPermanent(err) {
		t.Error("empty command should be a permanent error")
	}
}

func TestCommandAgent_ProduceSuccess(t *testing.T) {
	a := shAgent(t, `cat > /dev/null
echo "working on it..."
echo '{"success":true,"content":"the report","summary":"wrote the report"}'`)

	artifact, err := a.Produce(context.Background(), Task{ID: "t", Prompt: "write a report"})
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	if artifact.Content != "the report" || artifact.Summary != "wrote the report" {
		t.Errorf("unexpected artifact: %+v", artifact)
	}
}

func TestCommandAgent_VerifyReportsIssues(t *testing.T) {
	a := shAgent(t, `cat > /dev/null
echo '{"success":true,"issues_found":true,"summary":"two problems"}'`)

	report, err := a.Verify(context.Background(), Task{ID: "t", Prompt: "p"}, Artifact{Content: "draft"})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !report.IssuesFound || report.Summary != "two problems" {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestCommandAgent_PromptOnStdin(t *testing.T) {
	// Echo the prompt back through the result to prove stdin wiring.
	a := shAgent(t, `p=$(cat)
printf '{"success":true,"content":"%s"}\n' "$p"`)

	artifact, err := a.Produce(context.Background(), Task{ID: "t", Prompt: "hello agent"})
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	if artifact.Content != "hello agent" {
		t.Errorf("prompt did not reach stdin: %q", artifact.Content)
	}
}

func TestCommandAgent_NonZeroExitIsTransient(t *testing.T) {
	a := shAgent(t, `cat > /dev/null; echo "rate limited" >&2; exit 3`)

	_, err := a.Produce(context.Background(), Task{ID: "t", Prompt: "p"})
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if retry.IsPermanent(err) {
		t.Error("non-zero exit should be transient")
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("stderr not surfaced in error: %v", err)
	}
}

func TestCommandAgent_MissingBinaryIsPermanent(t *testing.T) {
	a, err := NewCommandAgent(CommandConfig{Command: "taskmill-no-such-binary"})
	if err != nil {
		t.Fatalf("NewCommandAgent failed: %v", err)
	}

	_, err = a.Produce(context.Background(), Task{ID: "t", Prompt: "p"})
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	if !retry.IsPermanent(err) {
		t.Error("missing binary should be a permanent error")
	}
}

func TestCommandAgent_ReportedFailureIsTransient(t *testing.T) {
	a := shAgent(t, `cat > /dev/null
echo '{"success":false,"error":"upstream 503"}'`)

	_, err := a.Produce(context.Background(), Task{ID: "t", Prompt: "p"})
	if err == nil {
		t.Fatal("expected error for reported failure")
	}
	if retry.IsPermanent(err) {
		t.Error("agent-reported failure should be transient")
	}
	if !strings.Contains(err.Error(), "upstream 503") {
		t.Errorf("agent error text missing: %v", err)
	}
}

func TestCommandAgent_ContextCancellation(t *testing.T) {
	a := shAgent(t, `sleep 30`)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := a.Produce(ctx, Task{ID: "t", Prompt: "p"})
	if err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestParseResult_LastNonEmptyLine(t *testing.T) {
	out := []byte("progress 1\nprogress 2\n{\"success\":true,\"summary\":\"done\"}\n\n")
	res, err := parseResult(out)
	if err != nil {
		t.Fatalf("parseResult failed: %v", err)
	}
	if !res.Success || res.Summary != "done" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestParseResult_NoOutput(t *testing.T) {
	if _, err := parseResult([]byte("  \n\n")); err == nil {
		t.Fatal("expected error for empty output")
	}
}

func TestParseResult_LastLineNotJSON(t *testing.T) {
	if _, err := parseResult([]byte("{\"success\":true}\ntrailing log line")); err == nil {
		t.Fatal("expected error when the last line is not a result object")
	}
}
