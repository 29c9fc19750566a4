package schedule

import (
	"testing"
	"time"
)

func validConfig(name, expr string) Config {
	return Config{
		Name:           name,
		CronExpression: expr,
		DatabaseID:     "1",
		Enabled:        true,
		RetentionDays:  7,
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig("nightly", "0 22 * * *").Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cases := map[string]Config{
		"empty name":        validConfig("", "0 22 * * *"),
		"bad cron fields":   validConfig("x", "0 22 * *"),
		"bad cron value":    validConfig("x", "99 22 * * *"),
		"zero retention":    {Name: "x", CronExpression: "0 22 * * *", DatabaseID: "1"},
		"bad compression":   {Name: "x", CronExpression: "0 22 * * *", DatabaseID: "1", RetentionDays: 7, Compression: "lz4"},
		"empty database id": {Name: "x", CronExpression: "0 22 * * *", RetentionDays: 7},
	}
	for name, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate() = nil", name)
		}
	}
}

func TestNextRunIsStrictlyAfterBase(t *testing.T) {
	cfg := validConfig("nightly", "0 22 * * *")
	base := time.Date(2026, 1, 15, 22, 0, 0, 0, time.Local)

	next, err := cfg.NextRun(base)
	if err != nil {
		t.Fatal(err)
	}
	if !next.After(base) {
		t.Errorf("NextRun(%v) = %v, not strictly after", base, next)
	}
	want := time.Date(2026, 1, 16, 22, 0, 0, 0, time.Local)
	if !next.Equal(want) {
		t.Errorf("NextRun = %v, want %v", next, want)
	}
}

func TestIsDue(t *testing.T) {
	cfg := validConfig("nightly", "0 22 * * *")

	due := time.Date(2026, 1, 15, 22, 0, 30, 0, time.Local) // inside the minute
	if !cfg.IsDue(due) {
		t.Error("not due at 22:00:30")
	}
	if cfg.IsDue(time.Date(2026, 1, 15, 22, 1, 0, 0, time.Local)) {
		t.Error("due at 22:01")
	}
	if cfg.IsDue(time.Date(2026, 1, 15, 3, 0, 0, 0, time.Local)) {
		t.Error("due at 03:00")
	}
}

func TestCronFieldExtremes(t *testing.T) {
	cfg := validConfig("extremes", "0 23 31 12 6")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("extreme cron rejected: %v", err)
	}
	// 2026-12-31 is a Thursday; day-of-month and day-of-week are OR'd
	// in standard cron, so the Saturday (6) constraint also fires on
	// every December Saturday. Check the day-of-month side.
	at := time.Date(2026, 12, 31, 23, 0, 0, 0, time.Local)
	if !cfg.IsDue(at) {
		t.Errorf("not due at %v", at)
	}
}

func TestPresets(t *testing.T) {
	cases := []struct {
		cfg  Config
		expr string
	}{
		{Hourly("h", "1", 15), "15 * * * *"},
		{Daily("d", "1", 2, 30), "30 2 * * *"},
		{Weekly("w", "1", 0, 3, 0), "0 3 * * 0"},
		{Monthly("m", "1", 1, 4, 0), "0 4 1 * *"},
	}
	for _, tc := range cases {
		if tc.cfg.CronExpression != tc.expr {
			t.Errorf("preset %s = %q, want %q", tc.cfg.Name, tc.cfg.CronExpression, tc.expr)
		}
		if err := tc.cfg.Validate(); err != nil {
			t.Errorf("preset %s invalid: %v", tc.cfg.Name, err)
		}
	}
}
