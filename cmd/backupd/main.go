// backupd is the enterprise database backup and restore engine: it
// dumps MySQL and PostgreSQL instances (plus file-tree snapshots) on a
// schedule or on demand, compresses and stores the artifacts locally or
// on S3, enforces retention, and emits metrics, alerts, and
// notifications for every run.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vya-digital/backupd/internal/backup"
	"github.com/vya-digital/backupd/internal/config"
	"github.com/vya-digital/backupd/internal/logging"
	"github.com/vya-digital/backupd/internal/monitoring"
	"github.com/vya-digital/backupd/internal/vault"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes: 0 success, 1 user error, 2 partial failure, 3 fatal
// engine error.
const (
	exitOK      = 0
	exitUsage   = 1
	exitPartial = 2
	exitFatal   = 3
)

// usageError marks failures caused by the caller: missing arguments,
// invalid files, a vault that does not exist.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var usage *usageError
	if errors.As(err, &usage) {
		return exitUsage
	}
	var partial *backup.PartialError
	if errors.As(err, &partial) {
		return exitPartial
	}
	return exitFatal
}

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	configPath string
	vaultPath  string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "backupd",
		Short: "backupd — enterprise database backup and restore engine",
		Long: `backupd dumps MySQL and PostgreSQL instances and file trees on a
schedule or on demand, stores the artifacts on local or S3 storage,
enforces age-based retention, and emits metrics, alerts, and
notifications for every run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config",
		envOrDefault("BACKUPD_CONFIG", "backupd.yaml"), "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&flags.vaultPath, "vault",
		envOrDefault("BACKUPD_VAULT", ""), "Path to the credential vault (default .secrets/vault.json.enc)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level",
		envOrDefault("BACKUPD_LOG_LEVEL", "info"), "Console log level (debug, info, warn, error)")

	root.AddCommand(
		newVersionCmd(),
		newBackupCmd(flags),
		newRestoreCmd(flags),
		newScheduleCmd(flags),
		newVaultCmd(flags),
		newRetentionCmd(flags),
		newMetricsCmd(flags),
	)

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("backupd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// app bundles the long-lived collaborators the subcommands share.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	vault    *vault.Manager
	metrics  *monitoring.Collector
	alerts   *monitoring.AlertManager
	notifier *monitoring.NotificationManager
}

// newApp loads configuration, opens the vault (resolving credentials
// vault-first), and wires the monitoring stack.
func newApp(flags *rootFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, &usageError{err: err}
	}

	logger, err := logging.New(logging.Settings{
		ConsoleLevel: flags.logLevel,
		FileLevel:    cfg.Log.FileLevel,
		Dir:          cfg.Log.Dir,
		ToFile:       cfg.Log.ToFile,
	})
	if err != nil {
		return nil, err
	}

	vaultPath := flags.vaultPath
	if vaultPath == "" {
		vaultPath = cfg.VaultPath
	}
	v := vault.New(vaultPath, logger)
	if err := v.Load(); err != nil && !errors.Is(err, vault.ErrNotFound) {
		return nil, err
	}
	config.ResolveCredentials(cfg, vaultSource{v}, logger)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		vault:    v,
		metrics:  monitoring.NewCollector(),
		alerts:   monitoring.NewAlertManager(),
		notifier: monitoring.NewNotificationManager(logger),
	}

	if cfg.Email.Enabled {
		email := monitoring.NewEmailChannel(cfg.Email)
		email.AttachmentPath = logging.FilePath(logging.Settings{
			Dir: cfg.Log.Dir, ToFile: cfg.Log.ToFile,
		})
		a.notifier.AddChannel(email)
	}
	if cfg.Webhook.Enabled {
		a.notifier.AddChannel(monitoring.NewWebhookChannel(cfg.Webhook))
	}
	if cfg.Chat.Enabled {
		a.notifier.AddChannel(monitoring.NewChatChannel(cfg.Chat))
	}

	return a, nil
}

// vaultSource adapts the vault manager to the config loader's
// credential source interface.
type vaultSource struct {
	v *vault.Manager
}

func (s vaultSource) Get(id string) (string, string, bool) {
	cred, ok, err := s.v.Get(id)
	if err != nil || !ok {
		return "", "", false
	}
	return cred.Username, cred.Password, true
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
