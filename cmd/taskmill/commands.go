package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"taskmill/internal/retention"
	"taskmill/internal/round"
	"taskmill/internal/state"
	"taskmill/internal/tui"
)

func newStatusCmd() *cobra.Command {
	var showHistory int

	cmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show the state record for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Load(cmd.Context(), args[0])
			if errors.Is(err, state.ErrNotFound) {
				return fmt.Errorf("task %q has no state record (never run?)", args[0])
			}
			if err != nil {
				return err
			}

			fmt.Printf("Task:      %s\n", rec.TaskID)
			fmt.Printf("Phase:     %s\n", rec.Phase)
			fmt.Printf("Round:     %d\n", rec.Round)
			fmt.Printf("Attempt:   %d\n", rec.Attempt)
			if rec.StopRequested {
				fmt.Printf("Stop:      requested\n")
			}
			fmt.Printf("Cause:     %s\n", rec.LastCause)
			fmt.Printf("Started:   %s\n", formatTime(rec.StartedAt))
			fmt.Printf("Updated:   %s\n", formatTime(rec.UpdatedAt))

			if showHistory > 0 {
				history, err := store.History(cmd.Context(), rec.TaskID, showHistory)
				if err != nil {
					return err
				}
				fmt.Printf("\nHistory:\n")
				for _, tr := range history {
					fmt.Printf("  %s  round %d  %-12s %s\n", formatTime(tr.Timestamp), tr.Round, tr.Phase, tr.Detail)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&showHistory, "history", 0, "also show the last N transitions")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all task state records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			byID := make(map[string]*state.StateRecord, len(records))
			for _, rec := range records {
				byID[rec.TaskID] = rec
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tENABLED\tPHASE\tROUND\tATTEMPT\tUPDATED")

			// Defined tasks first, in config order.
			for _, def := range cfg.Tasks {
				enabled := "yes"
				if !def.IsEnabled() {
					enabled = "no"
				}
				if rec, ok := byID[def.ID]; ok {
					delete(byID, def.ID)
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
						def.ID, enabled, rec.Phase, rec.Round, rec.Attempt, formatTime(rec.UpdatedAt))
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t-\n", def.ID, enabled)
			}

			// Records for tasks no longer in the configuration.
			for _, rec := range records {
				if _, orphaned := byID[rec.TaskID]; orphaned {
					fmt.Fprintf(w, "%s\t(removed)\t%s\t%d\t%d\t%s\n",
						rec.TaskID, rec.Phase, rec.Round, rec.Attempt, formatTime(rec.UpdatedAt))
				}
			}
			return w.Flush()
		},
	}
}

func newTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <task-id>",
		Short: "Ask the running daemon to fire a task now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !taskDefined(cfg.TaskIDs(), args[0]) {
				return fmt.Errorf("task %q is not defined in %s", args[0], configPath)
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			err = store.EnqueueRequest(cmd.Context(), state.ControlRequest{
				TaskID: args[0],
				Kind:   state.RequestTrigger,
			})
			if err != nil {
				return err
			}
			fmt.Printf("trigger for %q queued; the daemon picks it up on its next tick\n", args[0])
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <task-id>",
		Short: "Request a graceful stop of a task",
		Long: `Sets the durable stop flag on the task's state record. A running
executor observes the flag at its next phase boundary; an idle task is
moved to stopped by the daemon's next scheduler tick.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// RequestStop creates a record if none exists; reject unknown
			// ids before touching the store so a typo does not mint one.
			if !taskDefined(cfg.TaskIDs(), args[0]) {
				return fmt.Errorf("task %q is not defined in %s", args[0], configPath)
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := round.NewCoordinator(store).RequestStop(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if rec.Phase.Terminal() {
				fmt.Printf("task %q is already %s\n", rec.TaskID, rec.Phase)
				return nil
			}
			fmt.Printf("stop requested for %q (currently %s)\n", rec.TaskID, rec.Phase)
			return nil
		},
	}
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired terminal records now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := retention.NewManager(store, cfg.Retention).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("removed %d expired records\n", n)
			return nil
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live view of task state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			return tui.Run(store)
		},
	}
}

func taskDefined(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
