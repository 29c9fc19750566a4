package logging

import (
	"strings"
	"testing"
)

func TestSanitizeMasksSecrets(t *testing.T) {
	cases := []struct {
		in   string
		leak string
	}{
		{`connecting with password: "hunter2"`, "hunter2"},
		{`mysqldump --password=topsecret app`, "topsecret"},
		{`env PGPASSWORD=pgpass pg_dump app`, "pgpass"},
		{`env MYSQL_PWD=mpass mysqldump app`, "mpass"},
		{`{"secret": "s3cret-value"}`, "s3cret-value"},
		{`access_key=AKIAEXAMPLE`, "AKIAEXAMPLE"},
	}
	for _, tc := range cases {
		out := Sanitize(tc.in)
		if strings.Contains(out, tc.leak) {
			t.Errorf("Sanitize(%q) = %q, still leaks %q", tc.in, out, tc.leak)
		}
		if !strings.Contains(out, "***") {
			t.Errorf("Sanitize(%q) = %q, no mask applied", tc.in, out)
		}
	}
}

func TestSanitizeLeavesPlainTextAlone(t *testing.T) {
	in := "backup of database app completed in 42s"
	if out := Sanitize(in); out != in {
		t.Errorf("Sanitize(%q) = %q", in, out)
	}
}
