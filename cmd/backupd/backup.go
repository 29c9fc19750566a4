package main

import (
	"database/sql"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"

	"github.com/vya-digital/backupd/internal/backup"
	"github.com/vya-digital/backupd/internal/config"
	"github.com/vya-digital/backupd/internal/users"
)

func newBackupCmd(flags *rootFlags) *cobra.Command {
	var (
		instanceID  string
		compression string
		policy      string
		maxRetries  int
		retryDelay  time.Duration
		withUsers   bool
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Run a backup for one instance or every enabled instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.logger.Sync() //nolint:errcheck

			instances := a.cfg.Databases
			if instanceID != "" {
				inst, ok := a.cfg.Instance(instanceID)
				if !ok {
					return usagef("unknown database instance %q", instanceID)
				}
				instances = []config.DatabaseInstance{inst}
			}

			var firstErr error
			for _, inst := range instances {
				if !inst.Enabled {
					continue
				}

				backupCfg := a.cfg.Backup
				if compression != "" {
					backupCfg.Compression = compression
				}
				if policy != "" {
					backupCfg.Policy = policy
				}

				bc := backup.NewContext(inst, a.cfg.Storage, backupCfg, a.cfg.System)
				executor := backup.NewExecutor(backup.ExecutorConfig{
					Strategy:    backup.NewFullStrategy(backup.Policy(backupCfg.Policy), a.logger),
					MaxRetries:  maxRetries,
					RetryDelay:  retryDelay,
					CleanupTemp: true,
					Metrics:     a.metrics,
					Alerts:      a.alerts,
					Notifier:    a.notifier,
					Logger:      a.logger,
				})

				if err := executor.Execute(cmd.Context(), bc); err != nil {
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				fmt.Printf("instance %s: %d database(s) backed up, artifact %s\n",
					inst.ID, bc.SucceededCount(), bc.BackupFile)

				if withUsers && inst.Kind == config.KindMySQL {
					if err := backupUsers(cmd, a, inst); err != nil {
						a.logger.Warn("users backup failed: " + err.Error())
					}
				}
			}
			return firstErr
		},
	}

	cmd.Flags().StringVar(&instanceID, "instance", "", "Back up only this database instance id")
	cmd.Flags().StringVar(&compression, "compression", "", "Override compression (gzip, bzip2, zip)")
	cmd.Flags().StringVar(&policy, "policy", "", "Aggregate policy (best-effort, all-or-nothing)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 1, "Attempts per instance")
	cmd.Flags().DurationVar(&retryDelay, "retry-delay", 5*time.Second, "Delay between attempts")
	cmd.Flags().BoolVar(&withUsers, "users", false, "Also back up MySQL user grants")

	return cmd
}

// backupUsers dumps the instance's accounts and grants alongside the
// database artifacts.
func backupUsers(cmd *cobra.Command, a *app, inst config.DatabaseInstance) error {
	mysqlCfg := mysql.NewConfig()
	mysqlCfg.User = inst.Username
	mysqlCfg.Passwd = inst.Password
	mysqlCfg.Net = "tcp"
	mysqlCfg.Addr = net.JoinHostPort(inst.Host, strconv.Itoa(inst.Port))

	connector, err := mysql.NewConnector(mysqlCfg)
	if err != nil {
		return err
	}
	pool := sql.OpenDB(connector)
	defer pool.Close()

	name := fmt.Sprintf("%s_users_%s.sql.gz", time.Now().Format("20060102_150405"), inst.ID)
	outPath := filepath.Join(a.cfg.System.PathSQL, name)

	stats, err := users.NewMySQLBackup(pool, a.logger).Backup(cmd.Context(), outPath, true, true)
	if err != nil {
		return err
	}
	fmt.Printf("instance %s: %d user account(s) backed up to %s\n", inst.ID, stats.Accounts, stats.Path)
	return nil
}
