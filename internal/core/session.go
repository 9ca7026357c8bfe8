package core

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"scenesync/internal/infra/persistence/memory"
	"scenesync/internal/parallel"
	"scenesync/pkg/domain"
)

var (
	// ErrFlushInProgress is returned by a Flush that overlaps another one.
	ErrFlushInProgress = errors.New("flush already in progress")
	// ErrSessionUnusable is returned once a session hit a fatal error or
	// before it was opened successfully.
	ErrSessionUnusable = errors.New("session unusable")
	// ErrInvalidHandle is returned for handles that are unknown or released.
	ErrInvalidHandle = errors.New("invalid handle")
)

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	config      Config
	logger      Logger
	metrics     MetricsRecorder
	tracer      Tracer
	status      StatusFunc
	coordinator domain.Coordinator
	clock       func() time.Time
}

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) SessionOption {
	return func(o *sessionOptions) { o.config = cfg }
}

// WithLogger sets the session logger.
func WithLogger(l Logger) SessionOption {
	return func(o *sessionOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(m MetricsRecorder) SessionOption {
	return func(o *sessionOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) SessionOption {
	return func(o *sessionOptions) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithStatusFunc installs the status callback.
func WithStatusFunc(fn StatusFunc) SessionOption {
	return func(o *sessionOptions) { o.status = fn }
}

// WithCoordinator joins the session to a group of parallel ranks.
func WithCoordinator(c domain.Coordinator) SessionOption {
	return func(o *sessionOptions) {
		if c != nil {
			o.coordinator = c
		}
	}
}

// WithClock overrides the time source used for durations and status stamps.
func WithClock(now func() time.Time) SessionOption {
	return func(o *sessionOptions) {
		if now != nil {
			o.clock = now
		}
	}
}

// Session owns the retained scene of one client and synchronizes it into a
// document store. A session is used from a single goroutine; only Flush
// guards against overlapping calls.
type Session struct {
	store   domain.DocumentStore
	cfg     Config
	names   *NameAllocator
	handles *handleTable
	work    *worklist
	status  *StatusReporter
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	coord   domain.Coordinator
	now     func() time.Time

	runID         string
	sessionNumber int
	partition     string
	open          bool
	fatal         error
	flushing      atomic.Bool
}

// NewSession builds a session over store. A nil store gets an in-memory one.
func NewSession(store domain.DocumentStore, opts ...SessionOption) *Session {
	o := sessionOptions{
		config:      DefaultConfig(),
		logger:      noopLogger{},
		metrics:     noopMetrics{},
		tracer:      noopTracer{},
		coordinator: parallel.Single(),
		clock:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	if store == nil {
		store = memory.NewStore()
	}
	status := newStatusReporter(o.logger, o.status)
	status.now = o.clock
	return &Session{
		store:         store,
		cfg:           o.config,
		names:         NewNameAllocator(),
		handles:       newHandleTable(),
		work:          newWorklist(),
		status:        status,
		logger:        o.logger,
		metrics:       o.metrics,
		tracer:        o.tracer,
		coord:         o.coordinator,
		now:           o.clock,
		sessionNumber: -1,
	}
}

// Open resolves the session number across ranks, binds the store to this
// rank's partition and starts a new run.
func (s *Session) Open(ctx context.Context) error {
	if s.fatal != nil {
		return s.unusable()
	}
	runID := uuid.NewString()
	ctx = ContextWithRunID(ctx, runID)
	return s.observe(ctx, OpOpen, func(ctx context.Context) error {
		if err := s.cfg.validate(); err != nil {
			return fmt.Errorf("open session: %w", err)
		}
		number, err := s.resolveSessionNumber(ctx)
		if err != nil {
			return fmt.Errorf("open session: %w", err)
		}
		partition := domain.RankPartition(number, s.coord.Rank(), s.coord.Size())
		settings := domain.OpenSettings{Partition: partition, Fresh: s.cfg.CreateNewSession}
		if err := s.store.Open(ctx, settings); err != nil {
			s.open = false
			serr := domain.StoreError{Op: "open", Err: err}
			s.status.Report(nil, serr)
			return fmt.Errorf("open session %s: %w", partition, serr)
		}
		if s.coord.Rank() == 0 && s.coord.Size() > 1 {
			if err := s.writeSceneIndex(ctx, number); err != nil {
				s.status.Report(nil, err)
			}
		}
		s.store.SetActiveTimeRange(s.cfg.TimeStep)
		s.sessionNumber = number
		s.partition = partition
		s.runID = runID
		s.status.setRunID(runID)
		s.open = true
		s.logger.Info("session opened", "partition", partition, "run_id", runID, "rank", s.coord.Rank(), "ranks", s.coord.Size())
		return nil
	})
}

// resolveSessionNumber lets rank 0 pick the number, broadcasts it and waits
// for every rank before any of them writes.
func (s *Session) resolveSessionNumber(ctx context.Context) (int, error) {
	number := 0
	if s.coord.Rank() == 0 {
		if catalog, ok := s.store.(domain.SessionCatalog); ok {
			partitions, err := catalog.Partitions(ctx)
			if err != nil {
				return 0, domain.StoreError{Op: "list_partitions", Err: err}
			}
			number = domain.NextSessionNumber(partitions, s.cfg.CreateNewSession)
		}
	}
	number, err := s.coord.BroadcastInt(ctx, number)
	if err != nil {
		return 0, fmt.Errorf("broadcast session number: %w", err)
	}
	if err := s.coord.Barrier(ctx); err != nil {
		return 0, fmt.Errorf("session barrier: %w", err)
	}
	return number, nil
}

func (s *Session) writeSceneIndex(ctx context.Context, number int) error {
	w, ok := s.store.(domain.SceneIndexWriter)
	if !ok {
		return nil
	}
	size := s.coord.Size()
	parts := make([]string, 0, size)
	for rank := 0; rank < size; rank++ {
		parts = append(parts, domain.RankPartition(number, rank, size))
	}
	if err := w.WriteSceneIndex(ctx, domain.SessionDir(number), parts); err != nil {
		return domain.StoreError{Op: "write_scene_index", Err: err}
	}
	return nil
}

// ObjectOption configures NewObject.
type ObjectOption func(*objectOptions)

type objectOptions struct {
	params map[string]Param
	order  []string
}

// WithParam sets an initial parameter. Objects built with initial parameters
// are committed on the next flush.
func WithParam(name string, p Param) ObjectOption {
	return func(o *objectOptions) {
		if _, ok := o.params[name]; !ok {
			o.order = append(o.order, name)
		}
		o.params[name] = p
	}
}

// WithParams sets several initial parameters in name order.
func WithParams(params map[string]Param) ObjectOption {
	return func(o *objectOptions) {
		for _, name := range slices.Sorted(maps.Keys(params)) {
			WithParam(name, params[name])(o)
		}
	}
}

// NewObject creates an object of kind with an allocated default name and one
// public reference.
func (s *Session) NewObject(kind domain.Kind, opts ...ObjectOption) (Handle, error) {
	if s.fatal != nil {
		return 0, s.unusable()
	}
	if !kind.Valid() {
		return 0, fmt.Errorf("new object: unknown kind %q", kind)
	}
	oo := objectOptions{params: make(map[string]Param)}
	for _, opt := range opts {
		opt(&oo)
	}
	o := s.handles.add(kind, s.names.Allocate(kind.BaseName()))
	if len(oo.order) == 0 {
		return o.handle, nil
	}
	for _, name := range oo.order {
		if err := s.setParam(o, name, oo.params[name]); err != nil {
			return o.handle, err
		}
	}
	if err := o.params.TransferWriteToRead(); err != nil {
		return o.handle, s.fail(o, err)
	}
	s.work.enqueue(o, true)
	return o.handle, nil
}

// Object returns the live object behind h.
func (s *Session) Object(h Handle) (*Object, bool) {
	return s.handles.lookup(h)
}

func (s *Session) resolve(h Handle) (*Object, error) {
	if s.fatal != nil {
		return nil, s.unusable()
	}
	o, ok := s.handles.lookup(h)
	if !ok {
		return nil, fmt.Errorf("handle %d: %w", h, ErrInvalidHandle)
	}
	return o, nil
}

// SetParam stores p in the write buffer of h. Type errors are reported and
// returned without changing the object.
func (s *Session) SetParam(h Handle, name string, p Param) error {
	o, err := s.resolve(h)
	if err != nil {
		return err
	}
	return s.setParam(o, name, p)
}

func (s *Session) setParam(o *Object, name string, p Param) error {
	if p.Type.isObject() {
		p.objects = make([]*Object, 0, len(p.Handles))
		for _, ch := range p.Handles {
			child, ok := s.handles.lookup(ch)
			if !ok {
				terr := domain.TypeError{Object: o.Name(), Param: name, Expected: []string{"live handle"}, Got: fmt.Sprintf("handle %d", ch)}
				s.status.Report(o, terr)
				return fmt.Errorf("set %s: %w", name, errors.Join(terr, ErrInvalidHandle))
			}
			p.objects = append(p.objects, child)
		}
	}
	if err := o.params.Set(name, p); err != nil {
		return s.paramError(o, "set "+name, err)
	}
	return nil
}

// ResetParam restores the declared default of name.
func (s *Session) ResetParam(h Handle, name string) error {
	o, err := s.resolve(h)
	if err != nil {
		return err
	}
	if err := o.params.Reset(name); err != nil {
		return s.paramError(o, "reset "+name, err)
	}
	return nil
}

func (s *Session) paramError(o *Object, op string, err error) error {
	var integrity domain.IntegrityError
	if errors.As(err, &integrity) {
		return s.fail(o, err)
	}
	s.status.Report(o, err)
	return fmt.Errorf("%s: %w", op, err)
}

// Commit publishes the written parameters of h and schedules the object for
// the next flush. With WriteAtCommit on an open session, data is written
// right away and only references wait for the flush.
func (s *Session) Commit(h Handle) error {
	o, err := s.resolve(h)
	if err != nil {
		return err
	}
	if err := o.params.TransferWriteToRead(); err != nil {
		return s.fail(o, err)
	}
	if !s.cfg.WriteAtCommit || !s.open || o.pendingRemoval {
		s.work.enqueue(o, true)
		return nil
	}
	ops := dispatch[o.kind]
	if derr := ops.deferCommit(o); derr != nil {
		s.work.enqueue(o, true)
		return nil
	}
	_, isNew, err := s.ensureIdentity(o)
	if err != nil {
		s.status.Report(o, err)
		return fmt.Errorf("commit %s: %w", o.Name(), err)
	}
	needRefs, err := ops.commitData(s, o, isNew)
	if err != nil {
		s.status.Report(o, err)
		return fmt.Errorf("commit %s: %w", o.Name(), err)
	}
	if needRefs {
		s.work.enqueue(o, false)
		return nil
	}
	o.params.ClearChanged()
	return nil
}

// Remove deletes the store entity of h after the next flush pass. A later
// commit recreates it.
func (s *Session) Remove(h Handle) error {
	o, err := s.resolve(h)
	if err != nil {
		return err
	}
	o.pendingRemoval = true
	s.work.enqueue(o, false)
	return nil
}

// Retain adds a public reference to h.
func (s *Session) Retain(h Handle) error {
	o, err := s.resolve(h)
	if err != nil {
		return err
	}
	o.retainPublic()
	return nil
}

// Release drops a public reference. The handle is invalid once the count
// reaches zero; objects still referenced by parents stay alive privately.
// Releasing an unknown handle is fatal for the session.
func (s *Session) Release(h Handle) error {
	if s.fatal != nil {
		return s.unusable()
	}
	o, ok := s.handles.lookup(h)
	if !ok {
		return s.fail(nil, domain.IntegrityError{Object: fmt.Sprintf("handle %d", h), Op: "release", Reason: "handle is not tracked"})
	}
	if err := o.releasePublic(); err != nil {
		return s.fail(o, err)
	}
	if o.refs.public == 0 {
		s.handles.invalidate(h)
		if o.Privatized() {
			s.logger.Debug("object privatized", "object", o.Name(), "kind", o.kind, "internal_refs", o.refs.internal)
		}
	}
	return nil
}

// Flush runs one kind-ordered commit pass over the worklist followed by
// garbage collection. Overlapping calls get ErrFlushInProgress.
func (s *Session) Flush(ctx context.Context) error {
	if !s.flushing.CompareAndSwap(false, true) {
		return ErrFlushInProgress
	}
	defer s.flushing.Store(false)
	if err := s.usable(); err != nil {
		return err
	}
	return s.observe(ContextWithRunID(ctx, s.runID), OpFlush, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats := s.runFlush()
		collected, err := s.collect()
		stats.Collected = collected
		s.updateGauges()
		s.reportFlush(ctx, stats)
		s.logger.Debug("flush complete",
			"pending", stats.Pending,
			"processed", stats.Processed,
			"created", stats.Created,
			"deferred", stats.Deferred,
			"removed", stats.Removed,
			"failed", stats.Failed,
			"collected", stats.Collected,
		)
		return err
	})
}

// GarbageCollect deletes the store identities of orphaned objects and
// returns how many were deleted.
func (s *Session) GarbageCollect(ctx context.Context) (int, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	var deleted int
	err := s.observe(ContextWithRunID(ctx, s.runID), OpGarbageCollect, func(context.Context) error {
		var err error
		deleted, err = s.collect()
		s.updateGauges()
		return err
	})
	return deleted, err
}

// Save persists the store.
func (s *Session) Save(ctx context.Context) error {
	if err := s.usable(); err != nil {
		return err
	}
	return s.observe(ContextWithRunID(ctx, s.runID), OpSave, func(ctx context.Context) error {
		if err := s.store.Save(ctx); err != nil {
			serr := domain.StoreError{Op: "save", Err: err}
			s.status.Report(nil, serr)
			return serr
		}
		return nil
	})
}

// RenderFrame completes a frame: flush, then save when saving is enabled.
func (s *Session) RenderFrame(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	if !s.cfg.EnableSaving {
		return nil
	}
	return s.Save(ctx)
}

// Close releases the store binding. Pending work is discarded.
func (s *Session) Close(ctx context.Context) error {
	if !s.open {
		return nil
	}
	return s.observe(ContextWithRunID(ctx, s.runID), OpClose, func(ctx context.Context) error {
		s.open = false
		if err := s.store.Close(ctx); err != nil {
			return domain.StoreError{Op: "close", Err: err}
		}
		s.logger.Info("session closed", "partition", s.partition, "run_id", s.runID)
		return nil
	})
}

// SetDeviceParam updates a session-wide setting or triggers a device action.
func (s *Session) SetDeviceParam(ctx context.Context, name string, p Param) error {
	if s.fatal != nil {
		return s.unusable()
	}
	mismatch := func(want ParamType) error {
		err := domain.TypeError{Object: "device", Param: name, Expected: []string{string(want)}, Got: string(p.Type)}
		s.status.Report(nil, err)
		return err
	}
	switch name {
	case DeviceOutputLocation:
		if p.Type != ParamString {
			return mismatch(ParamString)
		}
		s.cfg.OutputLocation = p.Value.String
	case DeviceCreateNewSession, DeviceWriteAtCommit, DeviceEnableSaving:
		if p.Type != ParamBool {
			return mismatch(ParamBool)
		}
		switch name {
		case DeviceCreateNewSession:
			s.cfg.CreateNewSession = p.Value.Bool
		case DeviceWriteAtCommit:
			s.cfg.WriteAtCommit = p.Value.Bool
		default:
			s.cfg.EnableSaving = p.Value.Bool
		}
	case DeviceTimeStep:
		if p.Type != ParamFloat {
			return mismatch(ParamFloat)
		}
		next := s.cfg
		next.TimeStep = p.Value.Float()
		if err := next.validate(); err != nil {
			return mismatch(ParamFloat)
		}
		s.cfg = next
		if s.open {
			s.store.SetActiveTimeRange(next.TimeStep)
		}
	case DeviceGarbageCollect:
		_, err := s.GarbageCollect(ctx)
		return err
	case DeviceRemoveUnusedNames:
		s.names.ClearAll()
	default:
		err := domain.TypeError{Object: "device", Param: name, Expected: []string{"device parameter"}, Got: "unknown"}
		s.status.Report(nil, err)
		return err
	}
	return nil
}

func (s *Session) worldTime() float64 { return s.cfg.TimeStep }

func (s *Session) usable() error {
	if s.fatal != nil {
		return s.unusable()
	}
	if !s.open {
		return fmt.Errorf("session not open: %w", ErrSessionUnusable)
	}
	return nil
}

func (s *Session) unusable() error {
	return fmt.Errorf("%w: %w", ErrSessionUnusable, s.fatal)
}

// fail records a fatal error; every later operation is refused.
func (s *Session) fail(o *Object, err error) error {
	if s.fatal == nil {
		s.fatal = err
	}
	s.status.Report(o, err)
	return fmt.Errorf("%w: %w", ErrSessionUnusable, err)
}

func (s *Session) updateGauges() {
	g, ok := s.metrics.(GaugeRecorder)
	if !ok {
		return
	}
	g.SetWorklist(s.work.len())
	g.SetLiveObjects(len(s.handles.tracked))
}

// Config returns the current settings.
func (s *Session) Config() Config { return s.cfg }

// RunID identifies the current open run; empty before Open.
func (s *Session) RunID() string { return s.runID }

// SessionNumber is the resolved Session_N number, -1 before Open.
func (s *Session) SessionNumber() int { return s.sessionNumber }

// Partition is the store partition this rank writes.
func (s *Session) Partition() string { return s.partition }

// IsOpen reports whether Open succeeded and Close was not called.
func (s *Session) IsOpen() bool { return s.open }

// Err returns the fatal error that made the session unusable, if any.
func (s *Session) Err() error { return s.fatal }

// Status exposes the status reporter.
func (s *Session) Status() *StatusReporter { return s.status }

// Names exposes the name allocator.
func (s *Session) Names() *NameAllocator { return s.names }

// Pending returns the number of worklist entries.
func (s *Session) Pending() int { return s.work.len() }

// Tracked returns the number of objects not yet collected.
func (s *Session) Tracked() int { return len(s.handles.tracked) }

// Store returns the document store.
func (s *Session) Store() domain.DocumentStore { return s.store }
