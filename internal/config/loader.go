package config

import (
	"fmt"
	"os"

	"github.com/gammazero/toposort"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration at path, merges it over the defaults,
// applies per-task defaults, and validates the result. A missing file is
// not an error: the defaults alone are returned (with no tasks).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return cfg, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	for i := range cfg.Tasks {
		applyTaskDefaults(&cfg.Tasks[i])
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints: unique task identifiers,
// parseable cron expressions, a sane max-rounds policy, and an acyclic
// dependency closure.
func Validate(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Tasks))
	parser := cron.ParseStandard

	for _, t := range cfg.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task with empty id")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true

		if len(t.Schedules) == 0 {
			return fmt.Errorf("task %q has no schedules", t.ID)
		}
		for _, expr := range t.Schedules {
			if _, err := parser(expr); err != nil {
				return fmt.Errorf("task %q: invalid cron expression %q: %w", t.ID, expr, err)
			}
		}

		switch t.OnMaxRounds {
		case "complete", "fail":
		default:
			return fmt.Errorf("task %q: on_max_rounds must be \"complete\" or \"fail\", got %q", t.ID, t.OnMaxRounds)
		}
	}

	if _, err := SortTasks(cfg.Tasks); err != nil {
		return err
	}
	return nil
}

// SortTasks topologically orders task definitions by their depends_on
// edges. Unknown references and cycles are errors. The returned order is
// used for deterministic scheduler reloads and dependency gating.
func SortTasks(tasks []TaskDefinition) ([]string, error) {
	byID := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = true
	}

	var edges []toposort.Edge
	for _, t := range tasks {
		if len(t.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, dep := range t.DependsOn {
			if !byID[dep] {
				return nil, fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
			if dep == t.ID {
				return nil, fmt.Errorf("task %q depends on itself", t.ID)
			}
			edges = append(edges, toposort.Edge{dep, t.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("task dependencies contain a cycle: %w", err)
	}

	order := make([]string, 0, len(tasks))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	return order, nil
}
