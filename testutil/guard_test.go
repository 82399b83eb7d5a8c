package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestInternalImportForbidden(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"stockpile/internal/storage", true},
		{"stockpile/pkg/domain", false},
		{"fmt", false},
	}
	for _, c := range cases {
		if got := InternalImportForbidden(c.in); got != c.want {
			t.Fatalf("InternalImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestOutsideAllowlist(t *testing.T) {
	forbidden := OutsideAllowlist("github.com/google/uuid", "stockpile/pkg/domain")
	cases := []struct {
		in   string
		want bool
	}{
		{"sync", false},
		{"encoding/json", false},
		{"github.com/google/uuid", false},
		{"stockpile/pkg/domain", false},
		{"stockpile/pkg/domainx", true},
		{"stockpile/internal/storage", true},
		{"github.com/goliatone/go-logger/glog", true},
	}
	for _, c := range cases {
		if got := forbidden(c.in); got != c.want {
			t.Fatalf("OutsideAllowlist(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestDirectImportScanSkipsTestsAndDirectories(t *testing.T) {
	dir := t.TempDir()
	write := func(name, src string) {
		t.Helper()
		if err := os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o750); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("ok.go", "package tmp\nimport \"fmt\"\nfunc X() { fmt.Println(1) }\n")
	write("ok_test.go", "package tmp\nimport \"forbidden/pkg\"\n")
	write("sub/nested.go", "package sub\nimport \"forbidden/pkg\"\n")
	write("notes.txt", "import \"forbidden/pkg\"")

	AssertNoDirectImports(t, dir, func(p string) bool { return p == "forbidden/pkg" }, "ignored files")

	write("bad.go", "package tmp\nimport \"forbidden/pkg\"\n")
	viols, err := directImportViolations(dir, func(p string) bool { return p == "forbidden/pkg" })
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "forbidden/pkg (in bad.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}
}

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestFailIfDirectViolations(t *testing.T) {
	rec := &recordingFatal{}
	failIfDirectViolations(rec, "reason", nil)
	if rec.msg != "" {
		t.Fatalf("no violations must not fail")
	}
	failIfDirectViolations(rec, "reason", []string{"a (in x.go)"})
	if rec.msg == "" {
		t.Fatalf("expected failure message")
	}
}

func TestDirectImportScanMissingDir(t *testing.T) {
	if _, err := directImportViolations(filepath.Join(t.TempDir(), "missing"), func(string) bool { return true }); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}
