package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recorder struct{ msg string }

func (r *recorder) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func writeFile(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestPredicates(t *testing.T) {
	cases := []struct {
		pred func(string) bool
		in   string
		want bool
	}{
		{InternalImportForbidden, "evgenkit/internal/core", true},
		{InternalImportForbidden, "evgenkit/internal", true},
		{InternalImportForbidden, "evgenkit/pkg/iface", false},
		{PrefixForbidden("evgenkit/internal/infra"), "evgenkit/internal/infra/archive/s3", true},
		{PrefixForbidden("evgenkit/internal/infra"), "evgenkit/internal/infra", true},
		{PrefixForbidden("evgenkit/internal/infra"), "evgenkit/internal/infrastructure", false},
	}
	for _, c := range cases {
		if got := c.pred(c.in); got != c.want {
			t.Fatalf("predicate(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestDirectImportsIgnoreTestFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.go", "package tmp\nimport \"fmt\"\nfunc X() { fmt.Println(1) }\n")
	writeFile(t, dir, "x_test.go", "package tmp\nimport \"evgenkit/internal/core\"\n")
	AssertNoDirectImports(t, dir, InternalImportForbidden, "test files are exempt")
}

func TestDirectImportViolationsReported(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.go", "package tmp\nimport (\n\t\"evgenkit/internal/core\"\n\t\"strings\"\n)\n")
	viols, err := directImportViolations(dir, InternalImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "evgenkit/internal/core (in bad.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}
	var r recorder
	failIfViolations(&r, "forbidden direct imports", "plugins", viols)
	if !strings.Contains(r.msg, "plugins") || !strings.Contains(r.msg, "bad.go") {
		t.Fatalf("unexpected failure message %q", r.msg)
	}
}

func TestDirectImportParseError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.go", "package\n")
	if _, err := directImportViolations(dir, InternalImportForbidden); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), InternalImportForbidden); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestNoViolationsIsSilent(t *testing.T) {
	var r recorder
	failIfViolations(&r, "x", "y", nil)
	if r.msg != "" {
		t.Fatalf("unexpected failure %q", r.msg)
	}
}

func TestPublicPackagesStayOffInternal(t *testing.T) {
	AssertNoTransitiveDependency(t, "..", "./pkg/...", InternalImportForbidden, "pkg/ is the public plugin surface")
}

func TestTransitiveViolationsFound(t *testing.T) {
	viols, err := transitiveDependencyViolations("..", "./pkg/pluginapi", PrefixForbidden("evgenkit/pkg/object"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(viols) != 1 || viols[0] != "evgenkit/pkg/object" {
		t.Fatalf("expected pkg/object in the dependency graph, got %v", viols)
	}
}
