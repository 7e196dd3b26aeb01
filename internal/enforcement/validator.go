package enforcement

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"grimm.is/ztinspect/internal/clock"
	"grimm.is/ztinspect/internal/events"
	"grimm.is/ztinspect/internal/logging"
	"grimm.is/ztinspect/internal/policy"
	"grimm.is/ztinspect/internal/probe"
)

// ErrNoProber is returned by Run when the validator has no prober.
var ErrNoProber = errors.New("no prober configured")

// ErrProbeFailed is returned by Run, alongside the full result, when the
// probing mechanism failed for at least one pair.
var ErrProbeFailed = errors.New("probe execution failed")

// Status is the outcome of one pair.
type Status string

const (
	// StatusPassed: neither probe got through.
	StatusPassed Status = "passed"
	// StatusFailed: at least one probe got through.
	StatusFailed Status = "failed"
	// StatusError: a probe could not run. Never counted as passed.
	StatusError Status = "error"
	// StatusInconclusive: the target did not answer the positive control,
	// so silence on the cross-zone probes proves nothing.
	StatusInconclusive Status = "inconclusive"
)

// Options tune a validation run.
type Options struct {
	Workers         int           // concurrent pairs
	Timeout         time.Duration // per probe
	Port            int           // TCP port probed on the target
	PositiveControl bool
}

// DefaultOptions returns 5 workers, a 3s probe timeout and port 80.
func DefaultOptions() Options {
	return Options{
		Workers: 5,
		Timeout: 3 * time.Second,
		Port:    80,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.Port <= 0 {
		o.Port = d.Port
	}
	return o
}

// Recorder receives per-pair and per-run measurements.
type Recorder interface {
	ObservePair(status string, d time.Duration)
	ObserveRun(r *Result)
}

// PairResult is the observed outcome for one Pair.
type PairResult struct {
	Pair
	Status    Status
	Reachable bool // ICMP echo answered
	PortOpen  bool // TCP connect succeeded
	// ControlReachable is set when the positive control ran.
	ControlReachable *bool
	Err              error
	Duration         time.Duration
}

// Result aggregates one validation run.
type Result struct {
	ID        string
	Policy    string
	Port      int
	StartedAt time.Time
	Duration  time.Duration
	Pairs     []PairResult

	// Total counts scored pairs: every probed pair except inconclusive ones.
	Total        int
	Passed       int
	Failed       int
	Errors       int
	Inconclusive int
	Score        float64 // Passed / Total * 100, 0 when Total is 0

	// Planned is the number of pairs in the plan. It exceeds len(Pairs)
	// when the run was cancelled.
	Planned     int
	ProbeErrors []error
}

// Validator runs enforcement checks.
type Validator struct {
	prober   probe.Prober
	opts     Options
	hub      *events.Hub
	recorder Recorder
	logger   *logging.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithHub publishes progress and pair results to hub.
func WithHub(hub *events.Hub) Option {
	return func(v *Validator) { v.hub = hub }
}

// WithRecorder reports measurements to r.
func WithRecorder(r Recorder) Option {
	return func(v *Validator) { v.recorder = r }
}

// WithLogger overrides the component logger.
func WithLogger(l *logging.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// New creates a Validator.
func New(prober probe.Prober, opts Options, options ...Option) *Validator {
	v := &Validator{
		prober: prober,
		opts:   opts.withDefaults(),
	}
	for _, o := range options {
		o(v)
	}
	if v.logger == nil {
		v.logger = logging.WithComponent("enforcement")
	}
	return v
}

// Options returns the effective options.
func (v *Validator) Options() Options {
	return v.opts
}

// Run probes every planned pair of p. p must not be mutated while Run is in
// progress; callers pass a snapshot.
//
// Cancelling ctx stops dispatching new pairs. Probes already running finish
// or time out on their own. The partial result is returned together with
// ctx.Err(). Probe execution failures are scored per pair and also returned
// as an error wrapping ErrProbeFailed and each *probe.ExecutionError.
func (v *Validator) Run(ctx context.Context, p *policy.Policy) (*Result, error) {
	if v.prober == nil {
		return nil, ErrNoProber
	}
	if len(p.Zones) == 0 {
		return nil, fmt.Errorf("validate %q: no zones defined", p.Name)
	}

	pairs := Plan(p)
	res := &Result{
		ID:        uuid.NewString(),
		Policy:    p.Name,
		Port:      v.opts.Port,
		StartedAt: clock.Now(),
		Planned:   len(pairs),
	}
	v.logger.Info("validation started", "policy", p.Name, "pairs", len(pairs), "workers", v.opts.Workers)
	v.progress(fmt.Sprintf("probing %d zone pairs", len(pairs)), 0)

	results := make([]*PairResult, len(pairs))
	var done atomic.Int64
	// In-flight probes must not be torn down by cancellation.
	probeCtx := context.WithoutCancel(ctx)

	// A pair is dispatched only once a worker slot is free and the run is
	// still live.
	slots := semaphore.NewWeighted(int64(v.opts.Workers))
	var g errgroup.Group
	for i, pair := range pairs {
		if err := slots.Acquire(ctx, 1); err != nil {
			break
		}
		if ctx.Err() != nil {
			slots.Release(1)
			break
		}
		g.Go(func() error {
			defer slots.Release(1)
			pr := v.probePair(probeCtx, pair)
			results[i] = &pr

			n := done.Add(1)
			v.hub.EmitPairResult(pair.SourceZone, pair.TargetZone, string(pr.Status))
			v.progress(fmt.Sprintf("%s <-> %s: %s", pair.SourceZone, pair.TargetZone, pr.Status),
				float64(n)/float64(len(pairs))*100)
			if v.recorder != nil {
				v.recorder.ObservePair(string(pr.Status), pr.Duration)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, pr := range results {
		if pr != nil {
			res.add(*pr)
		}
	}
	res.Duration = clock.Since(res.StartedAt)
	res.score()

	if v.recorder != nil {
		v.recorder.ObserveRun(res)
	}
	v.logger.Info("validation finished",
		"policy", p.Name, "tests", res.Total, "passed", res.Passed,
		"errors", res.Errors, "score", fmt.Sprintf("%.1f", res.Score))

	probeErr := res.probeFailure()
	if err := ctx.Err(); err != nil {
		v.logger.Warn("validation cancelled", "completed", len(res.Pairs), "planned", res.Planned)
		return res, errors.Join(err, probeErr)
	}
	return res, probeErr
}

func (v *Validator) probePair(ctx context.Context, pair Pair) PairResult {
	start := clock.Now()
	pr := PairResult{Pair: pair}
	defer func() { pr.Duration = clock.Since(start) }()

	src, dst := pair.Source.Addr(), pair.Target.Addr()

	if v.opts.PositiveControl {
		ok, err := v.control(ctx, pair)
		if err != nil {
			return v.fail(pr, err)
		}
		pr.ControlReachable = &ok
		if !ok {
			pr.Status = StatusInconclusive
			return pr
		}
	}

	reachable, err := v.prober.Reachable(ctx, src, dst, v.opts.Timeout)
	if err != nil {
		return v.fail(pr, err)
	}
	open, err := v.prober.PortOpen(ctx, dst, v.opts.Port, v.opts.Timeout)
	if err != nil {
		return v.fail(pr, err)
	}

	pr.Reachable, pr.PortOpen = reachable, open
	if reachable || open {
		pr.Status = StatusFailed
		v.logger.Warn("isolation breach", "from", pair.SourceZone, "to", pair.TargetZone,
			"target", dst, "ping", reachable, "tcp", open)
	} else {
		pr.Status = StatusPassed
	}
	return pr
}

// control checks that the target answers at all, probing from another
// member of its own zone.
func (v *Validator) control(ctx context.Context, pair Pair) (bool, error) {
	dst := pair.Target.Addr()
	ok, err := v.prober.Reachable(ctx, pair.Control.Addr(), dst, v.opts.Timeout)
	if err != nil || ok {
		return ok, err
	}
	return v.prober.PortOpen(ctx, dst, v.opts.Port, v.opts.Timeout)
}

func (v *Validator) fail(pr PairResult, err error) PairResult {
	var execErr *probe.ExecutionError
	if !errors.As(err, &execErr) {
		err = &probe.ExecutionError{Op: "probe", Target: pr.Target.Addr(), Err: err}
	}
	pr.Status = StatusError
	pr.Err = err
	v.logger.Error("probe failed", "from", pr.SourceZone, "to", pr.TargetZone, "error", err)
	return pr
}

func (v *Validator) progress(message string, percent float64) {
	v.hub.EmitProgress(events.EventValidateProgress, "enforcement", "validate", message, percent)
}

func (r *Result) add(pr PairResult) {
	r.Pairs = append(r.Pairs, pr)
	switch pr.Status {
	case StatusPassed:
		r.Passed++
	case StatusFailed:
		r.Failed++
	case StatusError:
		r.Errors++
		r.ProbeErrors = append(r.ProbeErrors, pr.Err)
	case StatusInconclusive:
		r.Inconclusive++
	}
}

func (r *Result) score() {
	r.Total = r.Passed + r.Failed + r.Errors
	if r.Total == 0 {
		r.Score = 0
		return
	}
	r.Score = float64(r.Passed) / float64(r.Total) * 100
}

// probeFailure joins the probe execution errors of r, or returns nil when
// every probe ran.
func (r *Result) probeFailure() error {
	if len(r.ProbeErrors) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d pairs: %w",
		ErrProbeFailed, len(r.ProbeErrors), len(r.Pairs), errors.Join(r.ProbeErrors...))
}

// Cancelled reports whether some planned pairs were never probed.
func (r *Result) Cancelled() bool {
	return len(r.Pairs) < r.Planned
}
