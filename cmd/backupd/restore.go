package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vya-digital/backupd/internal/restore"
)

func newRestoreCmd(flags *rootFlags) *cobra.Command {
	var (
		instanceID string
		artifact   string
		target     string
		maxRetries int
		retryDelay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a backup artifact into a database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if artifact == "" {
				return usagef("--file is required")
			}
			if instanceID == "" {
				return usagef("--instance is required")
			}

			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.logger.Sync() //nolint:errcheck

			inst, ok := a.cfg.Instance(instanceID)
			if !ok {
				return usagef("unknown database instance %q", instanceID)
			}

			rc := restore.NewContext(inst, a.cfg.Storage, artifact)
			rc.TargetDatabase = target

			executor := restore.NewExecutor(restore.ExecutorConfig{
				Strategy:   restore.NewFullStrategy(a.logger),
				MaxRetries: maxRetries,
				RetryDelay: retryDelay,
				Metrics:    a.metrics,
				Alerts:     a.alerts,
				Notifier:   a.notifier,
				Logger:     a.logger,
			})

			if err := executor.Execute(cmd.Context(), rc); err != nil {
				return err
			}
			fmt.Printf("restored %s into %s (%d bytes) in %s\n",
				artifact, rc.Target(), rc.RestoredSize, rc.Duration().Round(time.Second))
			return nil
		},
	}

	cmd.Flags().StringVar(&instanceID, "instance", "", "Database instance id to restore into")
	cmd.Flags().StringVar(&artifact, "file", "", "Backup artifact name in storage")
	cmd.Flags().StringVar(&target, "target", "", "Target database (default: the instance's configured database)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 1, "Attempts")
	cmd.Flags().DurationVar(&retryDelay, "retry-delay", 5*time.Second, "Delay between attempts")

	return cmd
}
