package config

import "time"

// DefaultConfig returns the baseline configuration a config file is merged
// over.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Scheduler: SchedulerConfig{
			MaxConcurrentRuns: 4,
			TickInterval:      Duration(time.Second),
		},
		Retention: RetentionConfig{
			SweepInterval:   Duration(time.Hour),
			RetentionPeriod: Duration(90 * 24 * time.Hour),
			Archive: ArchiveConfig{
				Enabled: true,
				Dir:     "./data/archive",
			},
		},
		Producer: AgentConfig{Command: "claude"},
		Verifier: AgentConfig{Command: "claude"},
	}
}

// applyTaskDefaults fills in per-task defaults after load.
func applyTaskDefaults(t *TaskDefinition) {
	if t.Name == "" {
		t.Name = t.ID
	}
	if t.MaxRounds <= 0 {
		t.MaxRounds = 3
	}
	if t.OnMaxRounds == "" {
		t.OnMaxRounds = "complete"
	}
	if t.PhaseTimeout <= 0 {
		t.PhaseTimeout = Duration(30 * time.Minute)
	}
	if t.MaxConcurrentRuns <= 0 {
		t.MaxConcurrentRuns = 1
	}
	if t.Retry.MaxAttempts <= 0 {
		t.Retry.MaxAttempts = 3
	}
	if t.Retry.BaseDelay <= 0 {
		t.Retry.BaseDelay = Duration(5 * time.Second)
	}
	if t.Retry.MaxDelay <= 0 {
		t.Retry.MaxDelay = Duration(5 * time.Minute)
	}
	if t.Retry.Multiplier < 1 {
		t.Retry.Multiplier = 2.0
	}
	if t.Retry.Jitter < 0 || t.Retry.Jitter > 1 {
		t.Retry.Jitter = 0.2
	}
}
