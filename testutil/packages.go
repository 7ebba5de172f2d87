package testutil

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// AssertImportedOnlyBy loads every package matching pattern (tests included)
// and fails if a package outside the allowed prefixes imports target or any
// package below it.
func AssertImportedOnlyBy(t testing.TB, pattern, target string, allowed ...string) {
	t.Helper()
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	viols := importerViolations(pkgs, target, allowed)
	if len(viols) > 0 {
		t.Fatalf("packages importing %s outside %v:\n%s", target, allowed, strings.Join(viols, "\n"))
	}
}

func importerViolations(pkgs []*packages.Package, target string, allowed []string) []string {
	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		// generated test mains import the package under test
		if strings.HasSuffix(pkg.PkgPath, ".test") {
			continue
		}
		if underAny(pkg.PkgPath, append([]string{target}, allowed...)) {
			continue
		}
		for importPath := range pkg.Imports {
			if underAny(importPath, []string{target}) {
				seen[pkg.PkgPath+": "+importPath] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func underAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
