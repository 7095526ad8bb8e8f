// Package scheduler fires task runs from cron schedules. A single ticker
// loop evaluates all schedule entries; each due firing is handed to the
// executor on an errgroup whose limit is the global concurrency ceiling. A
// firing that cannot start is skipped, never queued: missed firings are not
// replayed.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"taskmill/internal/config"
	"taskmill/internal/events"
	"taskmill/internal/executor"
	"taskmill/internal/metrics"
	"taskmill/internal/round"
	"taskmill/internal/state"
)

// entry is one (task, cron expression) pair with its next fire time.
type entry struct {
	def      config.TaskDefinition
	expr     string
	schedule cron.Schedule
	next     time.Time
}

// Scheduler owns the firing loop.
type Scheduler struct {
	store   state.Store
	exec    *executor.Executor
	coord   *round.Coordinator
	bus     *events.Bus
	metrics *metrics.Collector

	tick    time.Duration
	ceiling int

	mu      sync.Mutex
	entries []*entry
	tasks   map[string]config.TaskDefinition
}

// New creates a Scheduler from the scheduler section of the configuration
// and the task definitions. bus and collector may be nil.
func New(cfg config.SchedulerConfig, tasks []config.TaskDefinition, store state.Store, exec *executor.Executor, bus *events.Bus, collector *metrics.Collector) (*Scheduler, error) {
	s := &Scheduler{
		store:   store,
		exec:    exec,
		coord:   round.NewCoordinator(store),
		bus:     bus,
		metrics: collector,
		tick:    cfg.TickInterval.Std(),
		ceiling: cfg.MaxConcurrentRuns,
	}
	if s.tick <= 0 {
		s.tick = time.Second
	}
	if s.ceiling <= 0 {
		s.ceiling = 4
	}
	if err := s.Reload(tasks); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces the schedule entries from a fresh task list. In-flight
// runs keep the definitions they started with; only future firings see the
// new configuration.
func (s *Scheduler) Reload(tasks []config.TaskDefinition) error {
	if _, err := config.SortTasks(tasks); err != nil {
		return err
	}

	now := time.Now()
	var entries []*entry
	byID := make(map[string]config.TaskDefinition, len(tasks))

	for _, def := range tasks {
		byID[def.ID] = def
		if !def.IsEnabled() {
			continue
		}
		for _, expr := range def.Schedules {
			sched, err := cron.ParseStandard(expr)
			if err != nil {
				return err
			}
			entries = append(entries, &entry{
				def:      def,
				expr:     expr,
				schedule: sched,
				next:     sched.Next(now),
			})
		}
	}

	s.mu.Lock()
	s.entries = entries
	s.tasks = byID
	s.mu.Unlock()

	log.Printf("scheduler: loaded %d schedule entries for %d tasks", len(entries), len(tasks))
	return nil
}

// Run executes the firing loop until ctx is cancelled, then waits for
// in-flight runs to drain.
func (s *Scheduler) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(s.ceiling)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	log.Printf("scheduler: running (ceiling %d, tick %s)", s.ceiling, s.tick)

	for {
		select {
		case <-ctx.Done():
			log.Printf("scheduler: shutting down, waiting for %d runs", s.exec.Registry().Count())
			return g.Wait()
		case now := <-ticker.C:
			s.fireDue(ctx, &g, now)
			s.drainControlRequests(ctx, &g)
			s.applyPendingStops(ctx)
		}
	}
}

// fireDue fires every entry whose next time has passed and advances it past
// now, so a slow tick collapses multiple missed firings into one.
func (s *Scheduler) fireDue(ctx context.Context, g *errgroup.Group, now time.Time) {
	s.mu.Lock()
	var due []config.TaskDefinition
	for _, e := range s.entries {
		if !e.next.After(now) {
			due = append(due, e.def)
			e.next = e.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	for _, def := range due {
		s.fire(ctx, g, def)
	}
}

// fire attempts to start one run of the task. Firings are dropped, with an
// event, when the task already has a run in flight, a dependency has not
// completed, or the global ceiling is reached.
func (s *Scheduler) fire(ctx context.Context, g *errgroup.Group, def config.TaskDefinition) {
	if s.exec.Registry().Active(def.ID) && def.MaxConcurrentRuns <= 1 {
		s.reject(def.ID, "run already in flight")
		return
	}
	if blocked, dep := s.dependencyBlocked(ctx, def); blocked {
		s.reject(def.ID, "dependency "+dep+" not completed")
		return
	}

	started := g.TryGo(func() error {
		// Detached from the firing tick; cancelled only by scheduler
		// shutdown through ctx.
		if err := s.exec.Run(ctx, def); err != nil && ctx.Err() == nil {
			log.Printf("scheduler: run of task %q: %v", def.ID, err)
		}
		return nil
	})
	if !started {
		s.deferFiring(def.ID)
	}
}

// dependencyBlocked reports whether any depends_on task lacks a completed
// record. A dependency with no record at all also blocks.
func (s *Scheduler) dependencyBlocked(ctx context.Context, def config.TaskDefinition) (bool, string) {
	for _, dep := range def.DependsOn {
		rec, err := s.store.Load(ctx, dep)
		if err != nil || rec.Phase != state.PhaseCompleted {
			return true, dep
		}
	}
	return false, ""
}

// drainControlRequests handles trigger requests enqueued by the CLI.
func (s *Scheduler) drainControlRequests(ctx context.Context, g *errgroup.Group) {
	reqs, err := s.store.TakeRequests(ctx)
	if err != nil {
		log.Printf("scheduler: taking control requests: %v", err)
		return
	}

	for _, req := range reqs {
		if req.Kind != state.RequestTrigger {
			log.Printf("scheduler: ignoring control request kind %q for task %q", req.Kind, req.TaskID)
			continue
		}
		s.mu.Lock()
		def, ok := s.tasks[req.TaskID]
		s.mu.Unlock()
		if !ok {
			log.Printf("scheduler: trigger for unknown task %q", req.TaskID)
			continue
		}
		log.Printf("scheduler: manual trigger for task %q", req.TaskID)
		s.fire(ctx, g, def)
	}
}

// applyPendingStops finalizes stop requests for tasks with no run in
// flight. Requests against running tasks are observed by the executor at
// its next checkpoint instead.
func (s *Scheduler) applyPendingStops(ctx context.Context) {
	recs, err := s.store.List(ctx)
	if err != nil {
		log.Printf("scheduler: listing records for stop sweep: %v", err)
		return
	}

	for _, rec := range recs {
		if !rec.StopRequested || rec.Phase.Terminal() || s.exec.Registry().Active(rec.TaskID) {
			continue
		}
		if _, err := s.coord.ApplyStop(ctx, rec.TaskID); err != nil {
			log.Printf("scheduler: applying stop for task %q: %v", rec.TaskID, err)
		}
	}
}

func (s *Scheduler) reject(taskID, reason string) {
	log.Printf("scheduler: skipping firing of task %q: %s", taskID, reason)
	if s.metrics != nil {
		s.metrics.RecordRejected()
	}
	if s.bus != nil {
		s.bus.Publish(events.TopicScheduler, events.RunRejected{ID: taskID, Reason: reason, Timestamp: time.Now()})
	}
}

func (s *Scheduler) deferFiring(taskID string) {
	log.Printf("scheduler: deferring firing of task %q: concurrency ceiling reached", taskID)
	if s.metrics != nil {
		s.metrics.RecordDeferred()
	}
	if s.bus != nil {
		s.bus.Publish(events.TopicScheduler, events.RunDeferred{ID: taskID, Timestamp: time.Now()})
	}
}
