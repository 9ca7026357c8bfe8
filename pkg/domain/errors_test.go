package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		severity Severity
		code     StatusCode
	}{
		{"nil", nil, SeverityInfo, CodeOK},
		{"type", TypeError{Object: "Surface_0", Param: "geometry"}, SeverityWarning, CodeInvalidArgument},
		{"ordering", OrderingError{Parent: "Surface_0", Child: "Geometry_0"}, SeverityError, CodeOrdering},
		{"wrapped integrity", fmt.Errorf("release: %w", IntegrityError{Op: "release"}), SeverityFatal, CodeIntegrity},
		{"store", StoreError{Op: "open", Err: errors.New("boom")}, SeverityError, CodeStore},
		{"other", errors.New("x"), SeverityError, CodeUnknown},
	}
	for _, tc := range cases {
		sev, code := ClassifyError(tc.err)
		if sev != tc.severity || code != tc.code {
			t.Fatalf("%s: got (%s,%s) want (%s,%s)", tc.name, sev, code, tc.severity, tc.code)
		}
	}
}

func TestOrderingErrorNamesBothObjects(t *testing.T) {
	err := OrderingError{Parent: "Surface_0", ParentKind: KindSurface, Slot: "geometry", Child: "Geometry_0", ChildKind: KindGeometry}
	msg := err.Error()
	if !strings.Contains(msg, "Surface_0") || !strings.Contains(msg, "Geometry_0") || !strings.Contains(msg, "geometry") {
		t.Fatalf("message missing parent/child/slot: %s", msg)
	}
}

func TestStoreErrorUnwraps(t *testing.T) {
	base := errors.New("disk full")
	err := StoreError{Op: "save", Err: base}
	if !errors.Is(err, base) {
		t.Fatalf("expected StoreError to unwrap to base error")
	}
}
