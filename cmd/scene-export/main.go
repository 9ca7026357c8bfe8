// Command scene-export writes an animated demo scene through one or more
// sessions and reports where each rank's partition ended up.
//
// Storage is chosen with SCENESYNC_STORE_DRIVER (memory, sqlite, postgres,
// blob) and session defaults come from the SCENESYNC_* environment.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"scenesync/internal/core"
	"scenesync/internal/parallel"
	"scenesync/pkg/domain"
)

var (
	exitFunc  = os.Exit
	openStore = core.OpenDocumentStore
)

type options struct {
	ranks      int
	steps      int
	newSession string
	output     string
	logLevel   string
	trace      string
	metrics    string
}

// rankResult summarizes what one rank wrote.
type rankResult struct {
	Rank      int    `json:"rank"`
	Partition string `json:"partition"`
	RunID     string `json:"run_id"`
	Tracked   int    `json:"tracked"`
	Statuses  int    `json:"statuses"`
}

func main() {
	code := cli(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("scene-export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.IntVar(&opts.ranks, "ranks", 1, "number of ranks writing the scene in parallel")
	fs.IntVar(&opts.steps, "steps", 4, "number of animation time steps")
	fs.StringVar(&opts.newSession, "new-session", "", "override usd::createnewsession (true|false)")
	fs.StringVar(&opts.output, "output", "", "override the output location")
	fs.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fs.StringVar(&opts.trace, "trace", "", "write JSON operation spans to this file")
	fs.StringVar(&opts.metrics, "metrics", "", "print session metrics when done (expvar|prometheus)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	results, report, err := run(ctx, opts, stderr)
	if err != nil {
		if _, writeErr := fmt.Fprintf(stderr, "scene export failed: %v\n", err); writeErr != nil {
			return 1
		}
		return 1
	}
	enc := json.NewEncoder(stdout)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return 1
		}
	}
	if report != nil {
		if err := enc.Encode(report); err != nil {
			return 1
		}
	}
	return 0
}

func (o options) config() (core.Config, error) {
	cfg, err := core.ConfigFromEnv()
	if err != nil {
		return core.Config{}, err
	}
	if o.output != "" {
		cfg.OutputLocation = o.output
	}
	switch o.newSession {
	case "":
	case "true":
		cfg.CreateNewSession = true
	case "false":
		cfg.CreateNewSession = false
	default:
		return core.Config{}, fmt.Errorf("invalid -new-session value %q", o.newSession)
	}
	return cfg, nil
}

// metricsReport is printed after the rank results.
type metricsReport struct {
	Expvar     *core.ExpvarMetricsSnapshot `json:"expvar,omitempty"`
	Prometheus map[string]float64          `json:"prometheus,omitempty"`
}

// newMetrics builds the recorder selected by -metrics and the function that
// reports it once every rank is done.
func newMetrics(kind string) (core.MetricsRecorder, func() (*metricsReport, error), error) {
	switch kind {
	case "":
		return nil, func() (*metricsReport, error) { return nil, nil }, nil
	case "expvar":
		rec := core.NewExpvarMetricsRecorder("")
		return rec, func() (*metricsReport, error) {
			snap := rec.Snapshot()
			return &metricsReport{Expvar: &snap}, nil
		}, nil
	case "prometheus":
		reg := prometheus.NewRegistry()
		return core.NewPrometheusMetricsRecorder(reg), func() (*metricsReport, error) {
			families, err := reg.Gather()
			if err != nil {
				return nil, fmt.Errorf("gather metrics: %w", err)
			}
			out := make(map[string]float64)
			for _, mf := range families {
				for _, m := range mf.GetMetric() {
					switch {
					case m.GetCounter() != nil:
						out[mf.GetName()] += m.GetCounter().GetValue()
					case m.GetGauge() != nil:
						out[mf.GetName()] += m.GetGauge().GetValue()
					case m.GetHistogram() != nil:
						out[mf.GetName()+"_count"] += float64(m.GetHistogram().GetSampleCount())
					}
				}
			}
			return &metricsReport{Prometheus: out}, nil
		}, nil
	default:
		return nil, nil, fmt.Errorf("invalid -metrics value %q", kind)
	}
}

func run(ctx context.Context, opts options, logOut io.Writer) (_ []rankResult, _ *metricsReport, err error) {
	if opts.ranks < 1 {
		return nil, nil, fmt.Errorf("ranks must be positive, got %d", opts.ranks)
	}
	if opts.steps < 1 {
		return nil, nil, fmt.Errorf("steps must be positive, got %d", opts.steps)
	}
	cfg, err := opts.config()
	if err != nil {
		return nil, nil, err
	}
	metrics, report, err := newMetrics(opts.metrics)
	if err != nil {
		return nil, nil, err
	}
	logger := core.NewTextLogger(logOut, opts.logLevel)

	var tracer core.Tracer
	if opts.trace != "" {
		f, err := os.Create(opts.trace) // #nosec G304: operator supplied output path
		if err != nil {
			return nil, nil, fmt.Errorf("create trace file: %w", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close trace file: %w", cerr)
			}
		}()
		tracer = core.NewJSONTracer(f)
	}

	var (
		mu      sync.Mutex
		results []rankResult
	)
	err = parallel.Run(ctx, opts.ranks, func(ctx context.Context, coord domain.Coordinator) (rankErr error) {
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		sessionOpts := []core.SessionOption{
			core.WithConfig(cfg),
			core.WithLogger(logger),
			core.WithCoordinator(coord),
			core.WithTracer(tracer),
		}
		if metrics != nil {
			sessionOpts = append(sessionOpts, core.WithMetricsRecorder(metrics))
		}
		s := core.NewSession(store, sessionOpts...)
		if err := s.Open(ctx); err != nil {
			return err
		}
		defer func() {
			if cerr := s.Close(ctx); cerr != nil && rankErr == nil {
				rankErr = fmt.Errorf("close rank %d: %w", coord.Rank(), cerr)
			}
		}()
		if err := exportScene(ctx, s, coord.Rank(), opts.steps); err != nil {
			return err
		}
		mu.Lock()
		results = append(results, rankResult{
			Rank:      coord.Rank(),
			Partition: s.Partition(),
			RunID:     s.RunID(),
			Tracked:   s.Tracked(),
			Statuses:  s.Status().Count(),
		})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Rank < results[j].Rank })
	rep, err := report()
	if err != nil {
		return nil, nil, err
	}
	return results, rep, nil
}

// exportScene builds a spinning triangle seen by one camera and renders one
// frame per step. Each rank offsets its triangle so partitions differ.
func exportScene(ctx context.Context, s *core.Session, rank, steps int) error {
	b := &builder{s: s}
	geom := b.object(domain.KindGeometry,
		core.WithParam("vertex.position", core.FloatArray(0, 0, 0, 1, 0, 0, 0, 1, 0)),
		core.WithParam("primitive.index", core.IntArray(0, 1, 2)),
	)
	mat := b.object(domain.KindMaterial,
		core.WithParam("color", core.Vec3(0.2, 0.4+0.1*float64(rank), 0.9)),
		core.WithParam("roughness", core.Float(0.3)),
	)
	surf := b.object(domain.KindSurface,
		core.WithParam("geometry", core.Ref(geom)),
		core.WithParam("material", core.Ref(mat)),
	)
	grp := b.object(domain.KindGroup, core.WithParam("surface", core.RefArray(surf)))
	inst := b.object(domain.KindInstance, core.WithParam("group", core.Ref(grp)))
	light := b.object(domain.KindLight, core.WithParam("direction", core.Vec3(-1, -1, -1)))
	world := b.object(domain.KindWorld,
		core.WithParam("instance", core.RefArray(inst)),
		core.WithParam("light", core.RefArray(light)),
	)
	cam := b.object(domain.KindCamera,
		core.WithParam("position", core.Vec3(0, 0, 5)),
		core.WithParam("aspect", core.Float(16.0/9.0)),
	)
	frame := b.object(domain.KindFrame,
		core.WithParam("world", core.Ref(world)),
		core.WithParam("camera", core.Ref(cam)),
	)
	if b.err != nil {
		return b.err
	}

	for step := 0; step < steps; step++ {
		if err := s.SetDeviceParam(ctx, core.DeviceTimeStep, core.Float(float64(step))); err != nil {
			return err
		}
		angle := 2 * math.Pi * float64(step) / float64(steps)
		b.set(inst, "transform", core.Mat4(spin(angle, float64(rank))))
		b.set(light, "intensity", core.Float(1+float64(step)))
		b.commit(geom, mat, surf, grp, inst, light, world, cam, frame)
		if b.err != nil {
			return b.err
		}
		if err := s.RenderFrame(ctx); err != nil {
			return err
		}
	}
	for _, h := range []core.Handle{frame, cam, world, light, inst, grp, surf, mat, geom} {
		if err := s.Release(h); err != nil {
			return err
		}
	}
	_, err := s.GarbageCollect(ctx)
	return err
}

// builder keeps the first error so scene construction reads linearly.
type builder struct {
	s   *core.Session
	err error
}

func (b *builder) object(kind domain.Kind, opts ...core.ObjectOption) core.Handle {
	if b.err != nil {
		return 0
	}
	h, err := b.s.NewObject(kind, opts...)
	if err != nil {
		b.err = fmt.Errorf("new %s: %w", kind, err)
	}
	return h
}

func (b *builder) set(h core.Handle, name string, p core.Param) {
	if b.err != nil {
		return
	}
	if err := b.s.SetParam(h, name, p); err != nil {
		b.err = fmt.Errorf("set %s: %w", name, err)
	}
}

func (b *builder) commit(hs ...core.Handle) {
	for _, h := range hs {
		if b.err != nil {
			return
		}
		if err := b.s.Commit(h); err != nil {
			b.err = errors.Join(b.err, err)
		}
	}
}

// spin is a rotation about Y followed by a translation along X, row major.
func spin(angle, offset float64) []float64 {
	c, s := math.Cos(angle), math.Sin(angle)
	return []float64{
		c, 0, -s, 0,
		0, 1, 0, 0,
		s, 0, c, 0,
		offset, 0, 0, 1,
	}
}
