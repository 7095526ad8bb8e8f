package config

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration for YAML fields written as "90s" or "5m".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RetryConfig holds the per-task retry policy parameters.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
	Multiplier  float64  `yaml:"multiplier"`
	Jitter      float64  `yaml:"jitter"`
}

// TaskDefinition describes one schedulable unit. Immutable per load cycle;
// the orchestration core treats it as read-only.
type TaskDefinition struct {
	ID                string      `yaml:"id"`
	Name              string      `yaml:"name"`
	Enabled           *bool       `yaml:"enabled"` // nil means enabled
	Schedules         []string    `yaml:"schedules"`
	Prompt            string      `yaml:"prompt"`
	MaxRounds         int         `yaml:"max_rounds"`
	OnMaxRounds       string      `yaml:"on_max_rounds"` // "complete" (default) or "fail"
	PhaseTimeout      Duration    `yaml:"phase_timeout"`
	MaxConcurrentRuns int         `yaml:"max_concurrent_runs"`
	Retry             RetryConfig `yaml:"retry"`
	DependsOn         []string    `yaml:"depends_on"`
}

// IsEnabled reports whether the task participates in scheduling.
func (t TaskDefinition) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// AgentConfig names the CLI invocation for one agent role.
type AgentConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Model   string   `yaml:"model"`
	WorkDir string   `yaml:"work_dir"`
}

// SchedulerConfig bounds the daemon's firing loop.
type SchedulerConfig struct {
	MaxConcurrentRuns int      `yaml:"max_concurrent_runs"` // global ceiling
	TickInterval      Duration `yaml:"tick_interval"`
}

// ArchiveConfig controls where expired records go.
type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Dir      string `yaml:"dir"`
	Compress *bool  `yaml:"compress"` // nil means compressed
}

// Compressed reports whether archive files are gzip-compressed.
func (a ArchiveConfig) Compressed() bool {
	return a.Compress == nil || *a.Compress
}

// RetentionConfig controls the state sweep.
type RetentionConfig struct {
	SweepInterval   Duration      `yaml:"sweep_interval"`
	RetentionPeriod Duration      `yaml:"retention_period"`
	Archive         ArchiveConfig `yaml:"archive"`
}

// NotifyConfig selects notification sinks.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// Config is the top-level daemon configuration.
type Config struct {
	DataDir     string           `yaml:"data_dir"`
	MetricsAddr string           `yaml:"metrics_addr"` // empty disables the listener
	Scheduler   SchedulerConfig  `yaml:"scheduler"`
	Retention   RetentionConfig  `yaml:"retention"`
	Notify      NotifyConfig     `yaml:"notify"`
	Producer    AgentConfig      `yaml:"producer"`
	Verifier    AgentConfig      `yaml:"verifier"`
	Tasks       []TaskDefinition `yaml:"tasks"`
}

// TaskIDs returns the identifiers of all defined tasks in file order.
func (c *Config) TaskIDs() []string {
	ids := make([]string, len(c.Tasks))
	for i, t := range c.Tasks {
		ids[i] = t.ID
	}
	return ids
}
