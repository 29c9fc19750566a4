package monitoring

import (
	"strings"
	"testing"
	"time"
)

func TestRecordAndQuery(t *testing.T) {
	c := NewCollector()

	c.RecordBackup(BackupRecord{
		Instance: "prod-mysql-01", Database: "mydb",
		Duration: 120, SizeBytes: 500 << 20, Success: true,
	})
	c.RecordBackup(BackupRecord{
		Instance: "prod-mysql-01", Database: "mydb",
		Duration: 10, Success: false, Error: "connection failed",
	})
	c.RecordRestore(RestoreRecord{
		Instance: "dev-postgres-01", Database: "testdb",
		Duration: 60, SizeBytes: 250 << 20, Success: true,
	})

	backups := c.BackupMetrics()
	if len(backups) != 2 {
		t.Fatalf("BackupMetrics len = %d", len(backups))
	}
	if backups[1].Success || backups[1].Error != "connection failed" {
		t.Errorf("failure record = %+v", backups[1])
	}
	if backups[0].Timestamp.IsZero() {
		t.Error("record not stamped with time")
	}

	if got := len(c.ByType(TypeRestore)); got != 1 {
		t.Errorf("ByType(restore) len = %d", got)
	}
}

func TestInRange(t *testing.T) {
	c := NewCollector()
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	c.RecordBackup(BackupRecord{Instance: "a", Timestamp: base})
	c.RecordBackup(BackupRecord{Instance: "b", Timestamp: base.Add(2 * time.Hour)})
	c.RecordSchedule(ScheduleRecord{Schedule: "s", Timestamp: base.Add(30 * time.Minute)})

	got := c.InRange(base, base.Add(time.Hour))
	if len(got) != 2 {
		t.Errorf("InRange returned %d records, want 2", len(got))
	}
}

func TestClear(t *testing.T) {
	c := NewCollector()
	c.RecordBackup(BackupRecord{Instance: "x"})
	c.Clear()
	if len(c.BackupMetrics()) != 0 {
		t.Error("Clear left records behind")
	}
}

func TestToPrometheus(t *testing.T) {
	c := NewCollector()
	for i := 0; i < 5; i++ {
		c.RecordBackup(BackupRecord{
			Instance: "prod-mysql-01", Database: "db",
			Duration: 100, SizeBytes: 1 << 20, Success: true,
		})
	}
	for i := 0; i < 2; i++ {
		c.RecordBackup(BackupRecord{
			Instance: "prod-mysql-01", Database: "db",
			Duration: 10, Success: false, Error: "boom",
		})
	}
	c.RecordRestore(RestoreRecord{
		Instance: "dev-postgres-01", Database: "testdb",
		Duration: 60, SizeBytes: 1 << 20, Success: true,
	})

	out := c.ToPrometheus()

	for _, want := range []string{
		"# HELP vya_backup_duration_seconds",
		"# TYPE vya_backup_duration_seconds gauge",
		"vya_backup_size_bytes",
		"vya_restore_duration_seconds",
		"vya_restore_size_bytes",
		`vya_backup_total{success="true"} 5`,
		`vya_backup_total{success="false"} 2`,
		`vya_restore_total{success="true"} 1`,
		`instance="prod-mysql-01",database="db"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("exposition missing %q\n%s", want, out)
		}
	}
}
