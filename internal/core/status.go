package core

import (
	"sync"
	"time"

	"scenesync/pkg/domain"
)

// StatusFunc receives every diagnostic a session reports.
type StatusFunc func(domain.Status)

// StatusReporter is the single channel for non-fatal and fatal diagnostics.
// Each status is logged at a level matching its severity and forwarded to the
// callback when one is set.
type StatusReporter struct {
	mu       sync.Mutex
	callback StatusFunc
	logger   Logger
	runID    string
	last     domain.Status
	count    int
	now      func() time.Time
}

func newStatusReporter(logger Logger, callback StatusFunc) *StatusReporter {
	if logger == nil {
		logger = noopLogger{}
	}
	return &StatusReporter{callback: callback, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (r *StatusReporter) setRunID(id string) {
	r.mu.Lock()
	r.runID = id
	r.mu.Unlock()
}

// Report classifies err and emits it against o, which may be nil for
// session-level diagnostics.
func (r *StatusReporter) Report(o *Object, err error) {
	if err == nil {
		return
	}
	severity, code := domain.ClassifyError(err)
	st := domain.Status{Severity: severity, Code: code, Message: err.Error()}
	if o != nil {
		st.Object = o.Name()
		st.Kind = o.kind
	}
	r.Emit(st)
}

// Emit stamps and delivers a status.
func (r *StatusReporter) Emit(st domain.Status) {
	r.mu.Lock()
	if st.RunID == "" {
		st.RunID = r.runID
	}
	if st.At.IsZero() {
		st.At = r.now()
	}
	r.last = st
	r.count++
	cb := r.callback
	r.mu.Unlock()

	args := []any{"code", st.Code, "run_id", st.RunID}
	if st.Object != "" {
		args = append(args, "object", st.Object, "kind", st.Kind)
	}
	switch st.Severity {
	case domain.SeverityFatal, domain.SeverityError:
		r.logger.Error(st.Message, args...)
	case domain.SeverityWarning:
		r.logger.Warn(st.Message, args...)
	case domain.SeverityDebug:
		r.logger.Debug(st.Message, args...)
	default:
		r.logger.Info(st.Message, args...)
	}
	if cb != nil {
		cb(st)
	}
}

// LastStatus returns the most recent status and whether any was reported.
func (r *StatusReporter) LastStatus() (domain.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.count > 0
}

// Count returns how many statuses were reported.
func (r *StatusReporter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
