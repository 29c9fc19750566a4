// Package config defines the structured configuration consumed by the
// backup engine and loads it from a YAML file with BACKUPD_* environment
// overrides layered on top.
//
// Credential resolution: when a vault is available, (username, password)
// pairs are looked up there first — `db_<id>` for database instances and
// `smtp` for mail — and the config file values are used only for ids the
// vault does not hold.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Kind identifies a backup source type.
type Kind string

const (
	KindMySQL      Kind = "mysql"
	KindPostgreSQL Kind = "postgresql"
	KindFiles      Kind = "files"
)

// Valid reports whether k is one of the known source kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindMySQL, KindPostgreSQL, KindFiles:
		return true
	}
	return false
}

// SystemDatabases returns the engine-managed databases that are never
// backed up for this kind.
func (k Kind) SystemDatabases() []string {
	switch k {
	case KindMySQL:
		return []string{"information_schema", "performance_schema", "mysql", "sys"}
	case KindPostgreSQL:
		return []string{"postgres", "template0", "template1"}
	}
	return nil
}

// DatabaseInstance describes one backup source: a MySQL or PostgreSQL
// server, or a set of filesystem glob patterns when Kind is "files".
type DatabaseInstance struct {
	ID       string `koanf:"id" validate:"required"`
	Kind     Kind   `koanf:"kind" validate:"required,oneof=mysql postgresql files"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port" validate:"gte=0,lte=65535"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	// Database is the default database used for adapter connections and
	// as the restore target when none is given.
	Database string `koanf:"database"`
	// Databases is the include-list; empty means all user databases.
	// For Kind "files" the entries are filesystem glob patterns.
	Databases []string `koanf:"databases"`
	// DBIgnore is the exclude-list, merged with the kind's system set.
	DBIgnore   []string `koanf:"db_ignore"`
	Enabled    bool     `koanf:"enabled"`
	SSLEnabled bool     `koanf:"ssl_enabled"`
	SSLCACert  string   `koanf:"ssl_ca_cert"`
}

// CredentialID returns the vault id conventionally holding this
// instance's credentials.
func (d DatabaseInstance) CredentialID() string {
	return "db_" + d.ID
}

// ExcludeSet returns the union of the configured exclude-list and the
// kind's system databases.
func (d DatabaseInstance) ExcludeSet() map[string]struct{} {
	set := make(map[string]struct{})
	for _, name := range d.DBIgnore {
		set[name] = struct{}{}
	}
	for _, name := range d.Kind.SystemDatabases() {
		set[name] = struct{}{}
	}
	return set
}

// StorageSettings selects and parameterizes a storage backend.
type StorageSettings struct {
	Type      string `koanf:"type" validate:"omitempty,oneof=local s3"`
	Path      string `koanf:"path"`
	Bucket    string `koanf:"bucket"`
	Region    string `koanf:"region"`
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Prefix    string `koanf:"prefix"`
}

// BackupSettings parameterizes a single backup run.
type BackupSettings struct {
	RetentionDays int    `koanf:"retention_days" validate:"omitempty,gte=1"`
	Compression   string `koanf:"compression" validate:"omitempty,oneof=gzip bzip2 zip"`
	// Policy selects the aggregate result semantics over multiple target
	// databases: "best-effort" (default) or "all-or-nothing".
	Policy string `koanf:"policy" validate:"omitempty,oneof=best-effort all-or-nothing"`
}

// BackupSystem carries the filesystem layout for local artifacts.
type BackupSystem struct {
	PathSQL        string `koanf:"path_sql"`
	PathZip        string `koanf:"path_zip"`
	PathFiles      string `koanf:"path_files"`
	RetentionFiles int    `koanf:"retention_files"`
}

// EmailSettings configures the SMTP notification channel.
type EmailSettings struct {
	Enabled           bool     `koanf:"enabled"`
	SMTPHost          string   `koanf:"smtp_host"`
	SMTPPort          int      `koanf:"smtp_port" validate:"omitempty,gte=1,lte=65535"`
	SMTPUser          string   `koanf:"smtp_user"`
	SMTPPassword      string   `koanf:"smtp_password"`
	UseTLS            bool     `koanf:"use_tls"`  // STARTTLS
	UseSSL            bool     `koanf:"use_ssl"`  // implicit TLS
	FromEmail         string   `koanf:"from_email"`
	SuccessRecipients []string `koanf:"success_recipients"`
	FailureRecipients []string `koanf:"failure_recipients"`
	TestMode          bool     `koanf:"test_mode"`
}

// WebhookSettings configures the HTTP notification channel.
type WebhookSettings struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url" validate:"omitempty,url"`
	Secret  string `koanf:"secret"`
}

// ChatSettings configures the Slack-compatible notification channel.
type ChatSettings struct {
	Enabled    bool   `koanf:"enabled"`
	WebhookURL string `koanf:"webhook_url" validate:"omitempty,url"`
	Channel    string `koanf:"channel"`
}

// SchedulerSettings configures the schedule daemon.
type SchedulerSettings struct {
	Enabled   bool   `koanf:"enabled"`
	ConfigDir string `koanf:"config_dir"`
}

// MetricsSettings toggles the metrics HTTP endpoint.
type MetricsSettings struct {
	Enabled bool   `koanf:"enabled"`
	Listen  string `koanf:"listen"`
}

// LogSettings mirrors logging.Settings in config form.
type LogSettings struct {
	ConsoleLevel string `koanf:"console_level"`
	FileLevel    string `koanf:"file_level"`
	Dir          string `koanf:"dir"`
	ToFile       bool   `koanf:"to_file"`
}

// Config is the aggregate application configuration.
type Config struct {
	Databases []DatabaseInstance `koanf:"databases" validate:"required,dive"`
	Storage   StorageSettings    `koanf:"storage"`
	Backup    BackupSettings     `koanf:"backup"`
	System    BackupSystem       `koanf:"bkp_system"`
	Email     EmailSettings      `koanf:"email"`
	Webhook   WebhookSettings    `koanf:"webhook"`
	Chat      ChatSettings       `koanf:"chat"`
	Scheduler SchedulerSettings  `koanf:"scheduler"`
	Metrics   MetricsSettings    `koanf:"metrics"`
	Log       LogSettings        `koanf:"log"`
	// VaultPath overrides the default credential vault location.
	VaultPath string `koanf:"vault_path"`
}

// Instance returns the database instance with the given id.
func (c *Config) Instance(id string) (DatabaseInstance, bool) {
	for _, d := range c.Databases {
		if d.ID == id {
			return d, true
		}
	}
	return DatabaseInstance{}, false
}

// Load reads the YAML config file at path and overlays BACKUPD_*
// environment variables (BACKUPD_STORAGE_BUCKET -> storage.bucket).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	if err := k.Load(env.Provider("BACKUPD_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "BACKUPD_")), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("config: failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to decode: %w", err)
	}

	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural constraints on a config, including the
// per-instance tag rules and cross-field invariants the tags cannot
// express (s3 storage needs a bucket, files instances need patterns).
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	seen := make(map[string]struct{})
	for _, d := range cfg.Databases {
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("config: duplicate database id %q", d.ID)
		}
		seen[d.ID] = struct{}{}

		if d.Kind == KindFiles {
			if len(d.Databases) == 0 {
				return fmt.Errorf("config: files instance %q has no glob patterns", d.ID)
			}
			continue
		}
		if d.Host == "" {
			return fmt.Errorf("config: instance %q is missing host", d.ID)
		}
	}

	if cfg.Storage.Type == "s3" && cfg.Storage.Bucket == "" {
		return fmt.Errorf("config: s3 storage requires a bucket")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "local"
	}
	if cfg.Backup.RetentionDays == 0 {
		cfg.Backup.RetentionDays = 7
	}
	if cfg.Backup.Policy == "" {
		cfg.Backup.Policy = "best-effort"
	}
	if cfg.System.PathSQL == "" {
		cfg.System.PathSQL = "/tmp/bkp_sql/"
	}
	if cfg.System.PathZip == "" {
		cfg.System.PathZip = "/tmp/bkpzip/"
	}
	if cfg.System.PathFiles == "" {
		cfg.System.PathFiles = "/tmp/bkp_files/"
	}
	if cfg.System.RetentionFiles == 0 {
		cfg.System.RetentionFiles = 7
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = 587
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9142"
	}
}
