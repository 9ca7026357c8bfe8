// Package testutil holds helpers that keep package boundaries in place:
// backends depend on the domain contracts, and the engine reaches backends
// only through its factories.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

// ModulePath is the import path prefix of this module.
const ModulePath = "scenesync"

// AssertNoDirectImports parses the non-test .go files of dir and fails when
// an import matches forbidden. Build tags are ignored.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	failIfViolations(t, reason, viols)
}

// ModuleImportsOutside matches module-local imports that are not listed in
// allowed. Standard library and third-party imports never match.
func ModuleImportsOutside(allowed ...string) func(string) bool {
	return func(importPath string) bool {
		if importPath != ModulePath && !strings.HasPrefix(importPath, ModulePath+"/") {
			return false
		}
		return !slices.Contains(allowed, importPath)
	}
}

// BackendImportForbidden matches concrete storage and blob backends.
func BackendImportForbidden(importPath string) bool {
	return strings.HasPrefix(importPath, ModulePath+"/internal/infra/")
}

// InternalImportForbidden matches any import path containing /internal/.
func InternalImportForbidden(importPath string) bool {
	return strings.Contains(importPath, "/internal/")
}

func directImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range file.Imports {
			ip := strings.Trim(imp.Path.Value, "\"")
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfViolations(t fatalLogger, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("forbidden direct imports detected (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}
