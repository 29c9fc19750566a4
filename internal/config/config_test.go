package config

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

const sampleYAML = `
databases:
  - id: "1"
    kind: mysql
    host: db1.internal
    port: 3306
    username: backup
    password: from-config
    databases: [app, reporting]
    db_ignore: [scratch]
    enabled: true
  - id: docs
    kind: files
    databases: ["/data/docs/**/*.pdf"]
    enabled: true

storage:
  type: s3
  bucket: backups
  region: us-east-1
  prefix: prod

backup:
  retention_days: 14
  compression: gzip

bkp_system:
  path_zip: /var/backups/zip

email:
  enabled: true
  smtp_host: smtp.internal
  from_email: backup@example.com
  failure_recipients: [ops@example.com]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backupd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatal(err)
	}

	if len(cfg.Databases) != 2 {
		t.Fatalf("databases = %d", len(cfg.Databases))
	}
	inst, ok := cfg.Instance("1")
	if !ok || inst.Kind != KindMySQL || inst.Host != "db1.internal" {
		t.Errorf("instance 1 = %+v", inst)
	}
	if inst.CredentialID() != "db_1" {
		t.Errorf("CredentialID = %q", inst.CredentialID())
	}

	if cfg.Storage.Type != "s3" || cfg.Storage.Bucket != "backups" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Backup.RetentionDays != 14 || cfg.Backup.Compression != "gzip" {
		t.Errorf("backup = %+v", cfg.Backup)
	}
	// Defaults fill the gaps.
	if cfg.Backup.Policy != "best-effort" {
		t.Errorf("policy default = %q", cfg.Backup.Policy)
	}
	if cfg.System.PathSQL == "" || cfg.Email.SMTPPort != 587 {
		t.Errorf("defaults not applied: %+v %+v", cfg.System, cfg.Email)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("BACKUPD_STORAGE_BUCKET", "env-bucket")
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Bucket != "env-bucket" {
		t.Errorf("bucket = %q, want env-bucket", cfg.Storage.Bucket)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := map[string]string{
		"unknown kind": `
databases:
  - id: "1"
    kind: oracle
    host: h
    port: 1521
`,
		"duplicate id": `
databases:
  - {id: "1", kind: mysql, host: a, port: 3306}
  - {id: "1", kind: mysql, host: b, port: 3306}
`,
		"files without patterns": `
databases:
  - {id: docs, kind: files}
`,
		"s3 without bucket": `
databases:
  - {id: "1", kind: mysql, host: a, port: 3306}
storage:
  type: s3
`,
		"missing host": `
databases:
  - {id: "1", kind: mysql, port: 3306}
`,
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Errorf("%s: Load succeeded", name)
		}
	}
}

func TestExcludeSetMergesSystemDatabases(t *testing.T) {
	inst := DatabaseInstance{Kind: KindMySQL, DBIgnore: []string{"scratch"}}
	set := inst.ExcludeSet()
	for _, name := range []string{"scratch", "mysql", "sys", "information_schema", "performance_schema"} {
		if _, ok := set[name]; !ok {
			t.Errorf("exclude set missing %q", name)
		}
	}

	pg := DatabaseInstance{Kind: KindPostgreSQL}
	set = pg.ExcludeSet()
	for _, name := range []string{"postgres", "template0", "template1"} {
		if _, ok := set[name]; !ok {
			t.Errorf("postgres exclude set missing %q", name)
		}
	}
}

type mapSource map[string][2]string

func (m mapSource) Get(id string) (string, string, bool) {
	v, ok := m[id]
	return v[0], v[1], ok
}

func TestResolveCredentialsVaultFirst(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatal(err)
	}

	source := mapSource{
		"db_1": {"vault-user", "vault-pass"},
		"smtp": {"mailer", "mail-pass"},
	}
	ResolveCredentials(cfg, source, zap.NewNop())

	inst, _ := cfg.Instance("1")
	if inst.Username != "vault-user" || inst.Password != "vault-pass" {
		t.Errorf("instance credentials = %s/%s, want vault values", inst.Username, inst.Password)
	}
	if cfg.Email.SMTPUser != "mailer" || cfg.Email.SMTPPassword != "mail-pass" {
		t.Errorf("smtp credentials = %s", cfg.Email.SMTPUser)
	}
}

func TestResolveCredentialsFallsBackToConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	ResolveCredentials(cfg, mapSource{}, zap.NewNop())

	inst, _ := cfg.Instance("1")
	if inst.Password != "from-config" {
		t.Errorf("password = %q, want config fallback", inst.Password)
	}
}
