package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskmill.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DataDir != "./data" {
		t.Errorf("unexpected default data dir: %q", cfg.DataDir)
	}
	if cfg.Scheduler.MaxConcurrentRuns != 4 {
		t.Errorf("unexpected default ceiling: %d", cfg.Scheduler.MaxConcurrentRuns)
	}
	if len(cfg.Tasks) != 0 {
		t.Errorf("expected no tasks, got %d", len(cfg.Tasks))
	}
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/taskmill
metrics_addr: ":9184"
scheduler:
  max_concurrent_runs: 2
  tick_interval: 500ms
retention:
  sweep_interval: 30m
  retention_period: 720h
  archive:
    enabled: true
    dir: /var/lib/taskmill/archive
notify:
  webhook_url: https://hooks.example.com/taskmill
producer:
  command: claude
  model: opus
verifier:
  command: claude
tasks:
  - id: nightly-report
    schedules: ["0 2 * * *"]
    prompt: "Write the nightly report"
    max_rounds: 5
    on_max_rounds: fail
    phase_timeout: 45m
    retry:
      max_attempts: 4
      base_delay: 10s
      max_delay: 10m
      multiplier: 3.0
      jitter: 0.1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Scheduler.TickInterval.Std() != 500*time.Millisecond {
		t.Errorf("tick interval: got %s", cfg.Scheduler.TickInterval.Std())
	}
	if cfg.Retention.RetentionPeriod.Std() != 720*time.Hour {
		t.Errorf("retention period: got %s", cfg.Retention.RetentionPeriod.Std())
	}

	if len(cfg.Tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(cfg.Tasks))
	}
	task := cfg.Tasks[0]
	if task.MaxRounds != 5 || task.OnMaxRounds != "fail" {
		t.Errorf("task rounds policy: %d %q", task.MaxRounds, task.OnMaxRounds)
	}
	if task.PhaseTimeout.Std() != 45*time.Minute {
		t.Errorf("phase timeout: got %s", task.PhaseTimeout.Std())
	}
	if task.Retry.MaxAttempts != 4 || task.Retry.Multiplier != 3.0 {
		t.Errorf("retry config: %+v", task.Retry)
	}
	// Name defaults to the identifier.
	if task.Name != "nightly-report" {
		t.Errorf("task name default: %q", task.Name)
	}
}

func TestLoad_TaskDefaultsApplied(t *testing.T) {
	path := writeConfig(t, `
tasks:
  - id: minimal
    schedules: ["*/5 * * * *"]
    prompt: "do it"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	task := cfg.Tasks[0]
	if task.MaxRounds != 3 {
		t.Errorf("default max rounds: %d", task.MaxRounds)
	}
	if task.OnMaxRounds != "complete" {
		t.Errorf("default on_max_rounds: %q", task.OnMaxRounds)
	}
	if task.PhaseTimeout.Std() != 30*time.Minute {
		t.Errorf("default phase timeout: %s", task.PhaseTimeout.Std())
	}
	if task.Retry.MaxAttempts != 3 || task.Retry.BaseDelay.Std() != 5*time.Second {
		t.Errorf("default retry: %+v", task.Retry)
	}
	if !task.IsEnabled() {
		t.Error("tasks are enabled by default")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  tick_interval: soon
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestValidate_Errors(t *testing.T) {
	base := func() TaskDefinition {
		t := TaskDefinition{ID: "a", Schedules: []string{"* * * * *"}, Prompt: "p"}
		applyTaskDefaults(&t)
		return t
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "empty id",
			mutate: func(c *Config) {
				t := base()
				t.ID = ""
				c.Tasks = []TaskDefinition{t}
			},
			wantErr: "empty id",
		},
		{
			name: "duplicate id",
			mutate: func(c *Config) {
				c.Tasks = []TaskDefinition{base(), base()}
			},
			wantErr: "duplicate task id",
		},
		{
			name: "no schedules",
			mutate: func(c *Config) {
				t := base()
				t.Schedules = nil
				c.Tasks = []TaskDefinition{t}
			},
			wantErr: "no schedules",
		},
		{
			name: "bad cron expression",
			mutate: func(c *Config) {
				t := base()
				t.Schedules = []string{"not cron"}
				c.Tasks = []TaskDefinition{t}
			},
			wantErr: "invalid cron expression",
		},
		{
			name: "bad on_max_rounds",
			mutate: func(c *Config) {
				t := base()
				t.OnMaxRounds = "explode"
				c.Tasks = []TaskDefinition{t}
			},
			wantErr: "on_max_rounds",
		},
		{
			name: "unknown dependency",
			mutate: func(c *Config) {
				t := base()
				t.DependsOn = []string{"missing"}
				c.Tasks = []TaskDefinition{t}
			},
			wantErr: "unknown task",
		},
		{
			name: "self dependency",
			mutate: func(c *Config) {
				t := base()
				t.DependsOn = []string{"a"}
				c.Tasks = []TaskDefinition{t}
			},
			wantErr: "depends on itself",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestSortTasks_DependencyOrder(t *testing.T) {
	mk := func(id string, deps ...string) TaskDefinition {
		task := TaskDefinition{ID: id, Schedules: []string{"* * * * *"}, DependsOn: deps}
		applyTaskDefaults(&task)
		return task
	}

	order, err := SortTasks([]TaskDefinition{
		mk("deploy", "build", "test"),
		mk("test", "build"),
		mk("build"),
	})
	if err != nil {
		t.Fatalf("SortTasks failed: %v", err)
	}

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	if pos["build"] > pos["test"] || pos["test"] > pos["deploy"] || pos["build"] > pos["deploy"] {
		t.Errorf("bad topological order: %v", order)
	}
}

func TestSortTasks_CycleDetected(t *testing.T) {
	mk := func(id string, deps ...string) TaskDefinition {
		task := TaskDefinition{ID: id, Schedules: []string{"* * * * *"}, DependsOn: deps}
		applyTaskDefaults(&task)
		return task
	}

	_, err := SortTasks([]TaskDefinition{mk("a", "b"), mk("b", "a")})
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("error %q does not mention a cycle", err)
	}
}
