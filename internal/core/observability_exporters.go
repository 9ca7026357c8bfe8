package core

import (
	"context"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq atomic.Uint64

// ExpvarMetricsRecorder publishes session counters as an expvar map with
// four children: succeeded and failed calls per operation, accumulated
// milliseconds per operation, and flush totals.
type ExpvarMetricsRecorder struct {
	name       string
	succeeded  *expvar.Map
	failed     *expvar.Map
	durationMS *expvar.Map
	flush      *expvar.Map
}

// ExpvarMetricsSnapshot is a point-in-time copy of an ExpvarMetricsRecorder.
type ExpvarMetricsSnapshot struct {
	Succeeded  map[string]int64   `json:"succeeded"`
	Failed     map[string]int64   `json:"failed"`
	DurationMS map[string]float64 `json:"duration_ms"`
	Flush      map[string]int64   `json:"flush"`
}

// NewExpvarMetricsRecorder publishes a recorder under name, or under a
// generated scenesync_session_N name when empty.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("scenesync_session_%d", expvarSeq.Add(1))
	}
	rec := &ExpvarMetricsRecorder{
		name:       name,
		succeeded:  new(expvar.Map).Init(),
		failed:     new(expvar.Map).Init(),
		durationMS: new(expvar.Map).Init(),
		flush:      new(expvar.Map).Init(),
	}
	root := expvar.NewMap(name)
	root.Set("succeeded", rec.succeeded)
	root.Set("failed", rec.failed)
	root.Set("duration_ms", rec.durationMS)
	root.Set("flush", rec.flush)
	return rec
}

// Name returns the expvar key.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	if success {
		r.succeeded.Add(operation, 1)
	} else {
		r.failed.Add(operation, 1)
	}
	r.durationMS.AddFloat(operation, float64(duration)/float64(time.Millisecond))
}

// ObserveFlush implements FlushObserver.
func (r *ExpvarMetricsRecorder) ObserveFlush(_ context.Context, stats FlushStats) {
	r.flush.Add("flushes", 1)
	r.flush.Add("processed", int64(stats.Processed))
	r.flush.Add("created", int64(stats.Created))
	r.flush.Add("deferred", int64(stats.Deferred))
	r.flush.Add("removed", int64(stats.Removed))
	r.flush.Add("failed", int64(stats.Failed))
	r.flush.Add("collected", int64(stats.Collected))
}

// Snapshot copies the current counters.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	return ExpvarMetricsSnapshot{
		Succeeded:  intsOf(r.succeeded),
		Failed:     intsOf(r.failed),
		DurationMS: floatsOf(r.durationMS),
		Flush:      intsOf(r.flush),
	}
}

func intsOf(m *expvar.Map) map[string]int64 {
	out := make(map[string]int64)
	m.Do(func(kv expvar.KeyValue) {
		if v, ok := kv.Value.(*expvar.Int); ok {
			out[kv.Key] = v.Value()
		}
	})
	return out
}

func floatsOf(m *expvar.Map) map[string]float64 {
	out := make(map[string]float64)
	m.Do(func(kv expvar.KeyValue) {
		if v, ok := kv.Value.(*expvar.Float); ok {
			out[kv.Key] = v.Value()
		}
	})
	return out
}

// JSONTraceEntry is one finished span. Flush spans carry the pass counters.
type JSONTraceEntry struct {
	Operation  string      `json:"operation"`
	RunID      string      `json:"run_id,omitempty"`
	Status     string      `json:"status"`
	DurationMS float64     `json:"duration_ms"`
	Error      string      `json:"error,omitempty"`
	Flush      *FlushStats `json:"flush,omitempty"`
}

// JSONTraceTracer logs finished spans as slog JSON records and keeps them
// for Entries.
type JSONTraceTracer struct {
	log     *slog.Logger
	mu      sync.Mutex
	entries []JSONTraceEntry
}

// NewJSONTracer writes one JSON line per span to w. A nil w only retains.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	t := &JSONTraceTracer{}
	if w != nil {
		t.log = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return t
}

// Entries returns the spans finished so far.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]JSONTraceEntry(nil), t.entries...)
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{
		tracer:  t,
		entry:   JSONTraceEntry{Operation: operation, RunID: RunIDFromContext(ctx)},
		started: time.Now(),
	}
}

type jsonTraceSpan struct {
	tracer  *JSONTraceTracer
	entry   JSONTraceEntry
	started time.Time
}

// ObserveFlush implements FlushObserver.
func (s *jsonTraceSpan) ObserveFlush(_ context.Context, stats FlushStats) {
	s.entry.Flush = &stats
}

func (s *jsonTraceSpan) End(err error) {
	e := s.entry
	e.DurationMS = float64(time.Since(s.started)) / float64(time.Millisecond)
	e.Status = "success"
	level := slog.LevelInfo
	if err != nil {
		e.Status = "error"
		e.Error = err.Error()
		level = slog.LevelError
	}

	t := s.tracer
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, e)
	if t.log == nil {
		return
	}
	attrs := []slog.Attr{
		slog.String("operation", e.Operation),
		slog.String("status", e.Status),
		slog.Float64("duration_ms", e.DurationMS),
	}
	if e.RunID != "" {
		attrs = append(attrs, slog.String("run_id", e.RunID))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}
	if e.Flush != nil {
		attrs = append(attrs, slog.Any("flush", e.Flush))
	}
	t.log.LogAttrs(context.Background(), level, "span", attrs...)
}
