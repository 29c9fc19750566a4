package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vya-digital/backupd/internal/retention"
)

func newRetentionCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Age out stale backup artifacts",
	}
	cmd.AddCommand(newRetentionCleanupCmd(flags), newRetentionSummaryCmd(flags))
	return cmd
}

// buildPolicy picks the bucketed policy when a policy string is given,
// otherwise the default age policy.
func buildPolicy(policyStr string, days int) (retention.Policy, error) {
	if policyStr != "" {
		p, err := retention.ParseBucketPolicy(policyStr)
		if err != nil {
			return nil, &usageError{err: err}
		}
		return p, nil
	}
	if days < 1 {
		return nil, usagef("retention days must be at least 1")
	}
	return retention.AgePolicy{Days: days}, nil
}

func newRetentionCleanupCmd(flags *rootFlags) *cobra.Command {
	var (
		dir       string
		days      int
		policyStr string
		kind      string
		database  string
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete artifacts older than the retention policy allows",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.logger.Sync() //nolint:errcheck

			if dir == "" {
				dir = a.cfg.System.PathZip
			}
			if days == 0 {
				days = a.cfg.Backup.RetentionDays
			}
			policy, err := buildPolicy(policyStr, days)
			if err != nil {
				return err
			}

			engine := retention.New(dir, policy, a.logger)
			stats := engine.Cleanup(retention.Filter{Kind: kind, Database: database}, time.Now(), dryRun)

			mode := ""
			if dryRun {
				mode = " (dry run)"
			}
			fmt.Printf("retention sweep%s: %d total, %d kept, %d deleted, %.2f MB freed\n",
				mode, stats.Total, stats.Kept, stats.Deleted,
				float64(stats.FreedBytes)/(1024*1024))
			for _, e := range stats.Errors {
				fmt.Printf("  error: %s\n", e)
			}
			if len(stats.Errors) > 0 {
				return fmt.Errorf("retention: %d deletion error(s)", len(stats.Errors))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Artifact directory (default: bkp_system.path_zip)")
	cmd.Flags().IntVar(&days, "days", 0, "Retention in days (default: backup.retention_days)")
	cmd.Flags().StringVar(&policyStr, "policy", "", `Bucketed policy, e.g. "24h,7d,4w,12m"`)
	cmd.Flags().StringVar(&kind, "kind", "", "Only sweep artifacts of this kind (mysql, postgresql, files)")
	cmd.Flags().StringVar(&database, "database", "", "Only sweep artifacts of this database")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be deleted without removing anything")

	return cmd
}

func newRetentionSummaryCmd(flags *rootFlags) *cobra.Command {
	var (
		dir  string
		days int
	)

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show the retention state of a backup directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.logger.Sync() //nolint:errcheck

			if dir == "" {
				dir = a.cfg.System.PathZip
			}
			if days == 0 {
				days = a.cfg.Backup.RetentionDays
			}

			engine := retention.New(dir, retention.AgePolicy{Days: days}, a.logger)
			s, err := engine.Summarize(retention.Filter{}, time.Now())
			if err != nil {
				return err
			}

			fmt.Printf("directory:     %s\n", dir)
			fmt.Printf("artifacts:     %d (%.2f MB)\n", s.Total, float64(s.TotalBytes)/(1024*1024))
			fmt.Printf("expired:       %d (%.2f MB)\n", s.Expired, float64(s.ExpiredBytes)/(1024*1024))
			if !s.Oldest.IsZero() {
				fmt.Printf("oldest:        %s\n", s.Oldest.Format("2006-01-02 15:04:05"))
				fmt.Printf("newest:        %s\n", s.Newest.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("retention:     %d day(s)\n", days)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Artifact directory (default: bkp_system.path_zip)")
	cmd.Flags().IntVar(&days, "days", 0, "Retention in days (default: backup.retention_days)")

	return cmd
}
