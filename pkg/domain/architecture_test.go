package domain

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestDomainDoesNotImportInternal keeps the shared contracts free of engine and
// backend implementation packages so every backend can depend on them.
func TestDomainDoesNotImportInternal(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports}
	pkgs, err := packages.Load(cfg, "scenesync/pkg/domain")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	if len(pkgs) == 0 {
		t.Fatalf("domain package not found")
	}

	var violations []string
	for _, pkg := range pkgs {
		for importPath := range pkg.Imports {
			if strings.HasPrefix(importPath, "scenesync/internal") {
				violations = append(violations, importPath)
			}
		}
	}
	sort.Strings(violations)
	for _, v := range violations {
		t.Errorf("domain package must not import internal packages: %s", v)
	}
}
