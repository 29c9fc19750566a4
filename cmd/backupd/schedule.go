package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vya-digital/backupd/internal/backup"
	"github.com/vya-digital/backupd/internal/config"
	"github.com/vya-digital/backupd/internal/schedule"
)

func newScheduleCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage and run scheduled backups",
	}
	cmd.AddCommand(
		newScheduleAddCmd(flags),
		newScheduleListCmd(flags),
		newScheduleRemoveCmd(flags),
		newScheduleEnableCmd(flags, true),
		newScheduleEnableCmd(flags, false),
		newScheduleRunCmd(flags),
		newScheduleHistoryCmd(flags),
		newScheduleDaemonCmd(flags),
	)
	return cmd
}

// scheduleDir resolves the schedules directory: explicit setting or
// <config dir>/schedules next to the config file.
func scheduleDir(flags *rootFlags, cfg *config.Config) string {
	if cfg.Scheduler.ConfigDir != "" {
		return cfg.Scheduler.ConfigDir
	}
	return filepath.Join(filepath.Dir(flags.configPath), "schedules")
}

// scheduleSetup loads the app plus the schedule manager and executor.
func scheduleSetup(flags *rootFlags) (*app, *schedule.Manager, *schedule.JobExecutor, error) {
	a, err := newApp(flags)
	if err != nil {
		return nil, nil, nil, err
	}
	manager, err := schedule.NewManager(scheduleDir(flags, a.cfg), a.logger)
	if err != nil {
		return nil, nil, nil, err
	}

	provider := func(databaseID string) (schedule.Configs, error) {
		inst, ok := a.cfg.Instance(databaseID)
		if !ok {
			return schedule.Configs{}, fmt.Errorf("unknown database instance %q", databaseID)
		}
		return schedule.Configs{
			Database: inst,
			Storage:  a.cfg.Storage,
			Backup:   a.cfg.Backup,
			System:   a.cfg.System,
		}, nil
	}

	callbacks := schedule.Callbacks{
		OnSuccess: func(cfg schedule.Config, bc *backup.Context) {
			a.logger.Info("scheduled backup succeeded: " + cfg.Name)
		},
		OnFailure: func(cfg schedule.Config, err error) {
			a.logger.Error("scheduled backup failed: " + cfg.Name + ": " + err.Error())
		},
	}

	executor := schedule.NewJobExecutor(manager, provider, a.metrics, a.alerts, a.notifier, callbacks, a.logger)
	return a, manager, executor, nil
}

func newScheduleAddCmd(flags *rootFlags) *cobra.Command {
	var cfg schedule.Config

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Name = args[0]
			cfg.Enabled = true

			_, manager, _, err := scheduleSetup(flags)
			if err != nil {
				return err
			}
			if err := manager.Add(cfg); err != nil {
				return &usageError{err: err}
			}
			next, _ := cfg.NextRun(time.Now())
			fmt.Printf("schedule %q added; next run %s\n", cfg.Name, next.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.CronExpression, "cron", "", "5-field cron expression (required)")
	cmd.Flags().StringVar(&cfg.DatabaseID, "database", "", "Database instance id (required)")
	cmd.Flags().IntVar(&cfg.RetentionDays, "retention-days", 7, "Days to keep artifacts")
	cmd.Flags().StringVar(&cfg.Compression, "compression", "", "Compression override (gzip, bzip2)")
	cmd.Flags().StringVar(&cfg.StorageType, "storage-type", "", "Storage type override")
	cmd.Flags().StringVar(&cfg.StorageLoc, "storage-location", "", "Storage location override")

	return cmd
}

func newScheduleListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, manager, _, err := scheduleSetup(flags)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCRON\tDATABASE\tENABLED\tNEXT RUN")
			for _, s := range manager.List(false) {
				next := "-"
				if s.Enabled {
					if t, err := s.NextRun(time.Now()); err == nil {
						next = t.Format("2006-01-02 15:04")
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
					s.Name, s.CronExpression, s.DatabaseID, s.Enabled, next)
			}
			return w.Flush()
		},
	}
}

func newScheduleRemoveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, manager, _, err := scheduleSetup(flags)
			if err != nil {
				return err
			}
			if err := manager.Delete(args[0]); err != nil {
				return &usageError{err: err}
			}
			fmt.Printf("schedule %q removed\n", args[0])
			return nil
		},
	}
}

func newScheduleEnableCmd(flags *rootFlags, enable bool) *cobra.Command {
	use, short, verb := "enable <name>", "Enable a schedule", "enabled"
	if !enable {
		use, short, verb = "disable <name>", "Disable a schedule", "disabled"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, manager, _, err := scheduleSetup(flags)
			if err != nil {
				return err
			}
			if err := manager.SetEnabled(args[0], enable); err != nil {
				return &usageError{err: err}
			}
			fmt.Printf("schedule %q %s\n", args[0], verb)
			return nil
		},
	}
}

func newScheduleRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run <name>",
		Short: "Run a schedule immediately, bypassing its cron expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, manager, executor, err := scheduleSetup(flags)
			if err != nil {
				return err
			}
			cfg, ok := manager.Get(args[0])
			if !ok {
				return usagef("unknown schedule %q", args[0])
			}
			if err := executor.ExecuteJob(cmd.Context(), cfg); err != nil {
				return err
			}
			fmt.Printf("schedule %q executed\n", cfg.Name)
			return nil
		},
	}
}

func newScheduleHistoryCmd(flags *rootFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <name>",
		Short: "Show a schedule's execution history for this process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, manager, _, err := scheduleSetup(flags)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "EXECUTION\tSTATUS\tSTART\tDURATION\tARTIFACT\tERROR")
			for _, ex := range manager.History(args[0], limit) {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					ex.ID[:8], ex.Status,
					ex.StartTime.Format("2006-01-02 15:04:05"),
					ex.Duration().Round(time.Second),
					ex.BackupFile, ex.ErrorMessage)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum records to show")
	return cmd
}

func newScheduleDaemonCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the scheduler daemon until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, executor, err := scheduleSetup(flags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			daemon, err := schedule.NewDaemon(executor, a.logger)
			if err != nil {
				return err
			}
			if err := daemon.Start(ctx); err != nil {
				return err
			}

			if a.cfg.Metrics.Enabled {
				server := startMetricsServer(a)
				defer shutdownMetricsServer(server)
			}

			<-ctx.Done()
			return daemon.Stop()
		},
	}
}
