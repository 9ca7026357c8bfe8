package domain

import "time"

// Severity classifies a status record.
type Severity string

// Supported severities, most severe first.
const (
	SeverityFatal   Severity = "fatal"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityDebug   Severity = "debug"
)

// StatusCode is the stable machine-readable code attached to a status record.
type StatusCode string

// Stable status codes.
const (
	CodeOK               StatusCode = "ok"
	CodeInvalidArgument  StatusCode = "invalid_argument"
	CodeInvalidOperation StatusCode = "invalid_operation"
	CodeOrdering         StatusCode = "commit_ordering"
	CodeIntegrity        StatusCode = "integrity"
	CodeStore            StatusCode = "store_failure"
	CodeUnknown          StatusCode = "unknown_error"
)

// Status is one record delivered through a session's status channel.
type Status struct {
	Severity Severity   `json:"severity"`
	Code     StatusCode `json:"code"`
	Message  string     `json:"message"`
	Object   string     `json:"object,omitempty"`
	Kind     Kind       `json:"kind,omitempty"`
	RunID    string     `json:"run_id,omitempty"`
	At       time.Time  `json:"at"`
}
