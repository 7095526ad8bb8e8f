package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"taskmill/internal/agent"
	"taskmill/internal/config"
	"taskmill/internal/events"
	"taskmill/internal/executor"
	"taskmill/internal/metrics"
	"taskmill/internal/notify"
	"taskmill/internal/retention"
	"taskmill/internal/round"
	"taskmill/internal/scheduler"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduling daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	producer, err := agent.NewCommandAgent(agentCommandConfig(cfg.Producer))
	if err != nil {
		return err
	}
	verifier, err := agent.NewCommandAgent(agentCommandConfig(cfg.Verifier))
	if err != nil {
		return err
	}

	sinks := notify.MultiSink{notify.LogSink{}}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Notify.WebhookURL))
	}

	bus := events.NewBus()
	defer bus.Close()
	go logEvents(bus.SubscribeAll(0))

	collector := metrics.NewCollector()

	exec := executor.New(store, round.NewCoordinator(store), producer, verifier, sinks, bus, collector)

	sched, err := scheduler.New(cfg.Scheduler, cfg.Tasks, store, exec, bus, collector)
	if err != nil {
		return err
	}

	sweeper := retention.NewManager(store, cfg.Retention)

	log.Printf("taskmill: starting daemon with %d tasks (data dir %s)", len(cfg.Tasks), cfg.DataDir)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				reloaded, err := loadConfig()
				if err != nil {
					log.Printf("taskmill: reload failed, keeping current config: %v", err)
					continue
				}
				if err := sched.Reload(reloaded.Tasks); err != nil {
					log.Printf("taskmill: reload rejected: %v", err)
					continue
				}
				log.Printf("taskmill: reloaded %d tasks", len(reloaded.Tasks))
			}
		}
	}()

	var g errgroup.Group
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error {
		if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return collector.Serve(ctx, cfg.MetricsAddr) })
	}

	err = g.Wait()
	log.Printf("taskmill: daemon stopped")
	return err
}

// logEvents drains the bus into the daemon log until the bus closes.
func logEvents(ch <-chan events.Event) {
	for ev := range ch {
		switch e := ev.(type) {
		case events.RunStarted:
			log.Printf("event: run started task=%s run=%s phase=%s round=%d", e.ID, e.RunID, e.Phase, e.Round)
		case events.RunFinished:
			log.Printf("event: run finished task=%s phase=%s round=%d duration=%s cause=%q", e.ID, e.Phase, e.Round, e.Duration.Round(time.Millisecond), e.Cause)
		case events.PhaseRetry:
			log.Printf("event: retry task=%s phase=%s attempt=%d delay=%s", e.ID, e.Phase, e.Attempt, e.Delay.Round(time.Millisecond))
		case events.RunRejected:
			log.Printf("event: firing rejected task=%s reason=%q", e.ID, e.Reason)
		case events.RunDeferred:
			log.Printf("event: firing deferred task=%s", e.ID)
		}
	}
}

func agentCommandConfig(ac config.AgentConfig) agent.CommandConfig {
	return agent.CommandConfig{
		Command: ac.Command,
		Args:    ac.Args,
		Model:   ac.Model,
		WorkDir: ac.WorkDir,
	}
}
