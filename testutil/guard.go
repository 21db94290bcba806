// Package testutil enforces the repository's import boundaries from package
// tests. The vocabulary package and the assessment engine guard themselves
// with these helpers so a refactor cannot quietly couple them to storage,
// transport, or third-party modules.
package testutil

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// AssertNoDirectImports parses every non-test .go file in dir and fails the
// test when an import path matches forbidden. Build tags are not evaluated;
// subdirectories are not scanned.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(path string) bool, reason string) {
	t.Helper()
	violations, err := scanDirectImports(dir, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	reportViolations(t, reason, violations)
}

// AssertNoTransitiveDependency lists the full dependency closure of pattern
// with the go tool and fails the test when any path matches forbidden.
func AssertNoTransitiveDependency(t testing.TB, pattern string, forbidden func(path string) bool, reason string) {
	t.Helper()
	out, err := goListDeps(pattern)
	if err != nil {
		t.Fatalf("go list -deps %s: %v\n%s", pattern, err, out)
	}
	reportViolations(t, reason, dependencyViolations(out, forbidden))
}

// goListDeps is a test seam.
var goListDeps = func(pattern string) ([]byte, error) {
	return exec.Command("go", "list", "-deps", pattern).CombinedOutput()
}

func dependencyViolations(out []byte, forbidden func(path string) bool) []string {
	var violations []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" && forbidden(line) {
			violations = append(violations, line)
		}
	}
	return violations
}

func scanDirectImports(dir string, forbidden func(path string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var violations []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		parsed, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range parsed.Imports {
			path := strings.Trim(imp.Path.Value, `"`)
			if forbidden(path) {
				violations = append(violations, fmt.Sprintf("%s (in %s)", path, name))
			}
		}
	}
	return violations, nil
}

type fataler interface {
	Fatalf(format string, args ...any)
}

func reportViolations(t fataler, reason string, violations []string) {
	if len(violations) > 0 {
		t.Fatalf("forbidden imports (%s):\n%s", reason, strings.Join(violations, "\n"))
	}
}

// InternalImportForbidden matches any package under an internal tree. The
// standard library's own internal packages appear in dependency listings
// without a leading module segment and do not match.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/")
}

// InfraImportForbidden matches the artifact, history, and service layers.
// The assessment engine must stay runnable without any of them.
func InfraImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/infra/") ||
		strings.HasSuffix(path, "/internal/infra") ||
		strings.HasSuffix(path, "/internal/service")
}

// ThirdPartyImportForbidden matches module paths outside this repository and
// the standard library. The tell is a dot in the first path segment;
// vendored standard-library dependencies keep their vendor/ prefix and stay
// exempt.
func ThirdPartyImportForbidden(path string) bool {
	first, _, _ := strings.Cut(path, "/")
	return strings.Contains(first, ".")
}
