package core

import (
	"context"
	"time"
)

// Operation names reported to metrics and tracing.
const (
	OpOpen           = "session.open"
	OpFlush          = "session.flush"
	OpGarbageCollect = "session.garbage_collect"
	OpSave           = "session.save"
	OpClose          = "session.close"
)

// MetricsRecorder observes the outcome of session operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts spans around session operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended with the operation error, nil on success.
type TraceSpan interface {
	End(err error)
}

// GaugeRecorder is optionally implemented by metrics recorders that track
// worklist and object population.
type GaugeRecorder interface {
	SetWorklist(n int)
	SetLiveObjects(n int)
}

// FlushObserver is optionally implemented by metrics recorders and trace
// spans that want the counters of each flush.
type FlushObserver interface {
	ObserveFlush(ctx context.Context, stats FlushStats)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// observe wraps fn with a span and a metrics observation.
func (s *Session) observe(ctx context.Context, op string, fn func(context.Context) error) error {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(context.WithValue(ctx, spanKey{}, span))
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, s.now().Sub(start))
	return err
}

type spanKey struct{}

// reportFlush hands stats to the metrics recorder and the active span when
// they accept them.
func (s *Session) reportFlush(ctx context.Context, stats FlushStats) {
	if fo, ok := s.metrics.(FlushObserver); ok {
		fo.ObserveFlush(ctx, stats)
	}
	if fo, ok := ctx.Value(spanKey{}).(FlushObserver); ok {
		fo.ObserveFlush(ctx, stats)
	}
}

type runIDKey struct{}

// ContextWithRunID tags ctx with a session run id.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run id stored by ContextWithRunID.
func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
