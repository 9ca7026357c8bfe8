package domain

import (
	"errors"
	"fmt"
	"strings"
)

// TypeError reports a parameter or reference value that does not match its
// declared type. The rejected write leaves state untouched.
type TypeError struct {
	Object   string
	Param    string
	Expected []string
	Got      string
}

func (e TypeError) Error() string {
	return fmt.Sprintf("%s: parameter %q expects %s, got %s", e.Object, e.Param, strings.Join(e.Expected, "|"), e.Got)
}

// OrderingError reports a parent committed before a referenced child obtained
// a store identity.
type OrderingError struct {
	Parent     string
	ParentKind Kind
	Slot       string
	Child      string
	ChildKind  Kind
}

func (e OrderingError) Error() string {
	return fmt.Sprintf("%s %s references %s %s through %q before it was committed; commit of %s deferred",
		e.ParentKind, e.Parent, e.ChildKind, e.Child, e.Slot, e.Parent)
}

// IntegrityError reports a caller contract violation such as a double release.
// It is fatal for the session.
type IntegrityError struct {
	Object string
	Op     string
	Reason string
}

func (e IntegrityError) Error() string {
	if e.Object == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Object, e.Reason)
}

// StoreError wraps a failure returned by the document store collaborator.
type StoreError struct {
	Op  string
	Err error
}

func (e StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e StoreError) Unwrap() error { return e.Err }

// ErrEntityExists is returned by stores asked to create an entity at an
// occupied path. Stores return the occupying identity with it so a reopened
// session can adopt entities it wrote earlier.
var ErrEntityExists = errors.New("entity already exists")

// ErrEntityNotFound is returned by stores asked to act on an unknown identity.
var ErrEntityNotFound = errors.New("entity not found")

// ClassifyError maps an engine error to the severity and code reported for it.
func ClassifyError(err error) (Severity, StatusCode) {
	var (
		typeErr      TypeError
		orderingErr  OrderingError
		integrityErr IntegrityError
		storeErr     StoreError
	)
	switch {
	case err == nil:
		return SeverityInfo, CodeOK
	case errors.As(err, &integrityErr):
		return SeverityFatal, CodeIntegrity
	case errors.As(err, &orderingErr):
		return SeverityError, CodeOrdering
	case errors.As(err, &typeErr):
		return SeverityWarning, CodeInvalidArgument
	case errors.As(err, &storeErr):
		return SeverityError, CodeStore
	default:
		return SeverityError, CodeUnknown
	}
}
