package compress

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSource(t *testing.T, dir string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, "dump.sql")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRoundTripAllMethods(t *testing.T) {
	content := bytes.Repeat([]byte("INSERT INTO t VALUES (1, 'row');\n"), 500)

	for _, tc := range []struct {
		method Method
		suffix string
	}{
		{Gzip, ".gz"},
		{Bzip2, ".bz2"},
		{Zip, ".zip"},
	} {
		t.Run(string(tc.method), func(t *testing.T) {
			dir := t.TempDir()
			src := writeSource(t, dir, content)
			compressed := src + tc.suffix
			restored := filepath.Join(dir, "restored.sql")

			// Method deliberately empty: suffix detection is the
			// production path.
			if err := Compress(src, compressed, ""); err != nil {
				t.Fatalf("Compress: %v", err)
			}
			if err := Decompress(compressed, restored, ""); err != nil {
				t.Fatalf("Decompress: %v", err)
			}

			got, err := os.ReadFile(restored)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, content) {
				t.Errorf("round trip lost data: got %d bytes, want %d", len(got), len(content))
			}
		})
	}
}

func TestCompressZeroByteSource(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, nil)
	compressed := src + ".gz"
	restored := filepath.Join(dir, "out.sql")

	if err := Compress(src, compressed, ""); err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if err := Decompress(compressed, restored, ""); err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	st, err := os.Stat(restored)
	if err != nil {
		t.Fatal(err)
	}
	if st.Size() != 0 {
		t.Errorf("zero-byte dump round trip produced %d bytes", st.Size())
	}
}

func TestDetect(t *testing.T) {
	cases := map[string]Method{
		"a.sql.gz":  Gzip,
		"a.sql.bz2": Bzip2,
		"a.zip":     Zip,
	}
	for path, want := range cases {
		got, ok := Detect(path)
		if !ok || got != want {
			t.Errorf("Detect(%q) = %v/%v, want %v", path, got, ok, want)
		}
	}
	if _, ok := Detect("plain.sql"); ok {
		t.Error("Detect recognized an uncompressed suffix")
	}
}

func TestCompressUnknownMethod(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, []byte("x"))
	err := Compress(src, filepath.Join(dir, "out"), Method("lz4"))
	if err == nil || !strings.Contains(err.Error(), "unknown compression method") {
		t.Errorf("Compress with bogus method = %v", err)
	}
}

func TestRatio(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, bytes.Repeat([]byte("abcd"), 4096))
	compressed := src + ".gz"
	if err := Compress(src, compressed, ""); err != nil {
		t.Fatal(err)
	}

	ratio, ok := Ratio(src, compressed)
	if !ok {
		t.Fatal("Ratio returned not-ok for existing files")
	}
	if ratio <= 1 {
		t.Errorf("highly repetitive input should compress: ratio = %f", ratio)
	}

	if _, ok := Ratio(src, filepath.Join(dir, "missing.gz")); ok {
		t.Error("Ratio ok for missing compressed file")
	}

	empty := filepath.Join(dir, "empty.gz")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, ok := Ratio(src, empty); ok {
		t.Error("Ratio ok for zero-byte compressed file")
	}
}
