// Package engine runs assessment jobs: it plans applicable tests for a
// dataset, dispatches distinct value tuples to a test provider under a
// bounded worker pool with retry, and projects the cached outcomes into the
// raw-results table, the amended dataset, and the digest.
//
// The engine is stateless across jobs. A Runner holds the immutable registry
// and provider; everything mutable lives inside one Run call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"bdqcore/internal/dataset"
	"bdqcore/internal/registry"
	"bdqcore/pkg/bdq"
)

// Engine defaults. Overrides replace them per job.
const (
	DefaultTupleTimeout = 30 * time.Second
	DefaultJobTimeout   = 900 * time.Second
)

// DefaultConcurrency is the worker-pool bound when the job does not override
// it: the logical CPU count clamped to [2, 8].
func DefaultConcurrency() int {
	n := runtime.NumCPU()
	if n < 2 {
		return 2
	}
	if n > 8 {
		return 8
	}
	return n
}

// Overrides are per-job knobs. Zero values select the engine defaults.
type Overrides struct {
	Concurrency        int
	TupleTimeout       time.Duration
	JobTimeout         time.Duration
	Parameters         map[string]string
	ConflictPolicy     ConflictPolicy
	FailOnDuplicateIDs bool
}

// JobRequest is one assessment request: the raw attachment bytes, the
// advisory filename, and the resolved overrides.
type JobRequest struct {
	Input     []byte
	Filename  string
	Overrides Overrides
}

// JobResult carries the artifacts of a successful run.
type JobResult struct {
	RawResults *Table
	Amended    *Table
	Digest     *Digest
	Stats      Stats
	Warnings   []string
}

// Runner executes assessment jobs against a fixed registry and provider. One
// Runner safely serves concurrent jobs.
type Runner struct {
	registry *registry.Registry
	provider bdq.Provider
	retry    RetryPolicy
	log      Logger
	metrics  MetricsRecorder
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger attaches a structured logger. The default discards logs.
func WithLogger(l Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetricsRecorder attaches an operation observer. The default discards
// observations.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithRetryPolicy replaces the provider retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(r *Runner) { r.retry = p }
}

// NewRunner builds a Runner over an immutable registry and a concurrency-safe
// provider.
func NewRunner(reg *registry.Registry, provider bdq.Provider, opts ...Option) *Runner {
	r := &Runner{
		registry: reg,
		provider: provider,
		retry:    DefaultRetryPolicy(),
		log:      noopLogger{},
		metrics:  noopMetricsRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one job end to end. On success every artifact is returned
// together; on fatal failure no artifact is returned and the error is a
// *bdq.JobError carrying the failure kind. Per-tuple failures never fail the
// job; they surface inside the artifacts.
func (r *Runner) Run(ctx context.Context, req JobRequest) (*JobResult, error) {
	start := time.Now()
	res, err := r.run(ctx, req)
	r.metrics.Observe(ctx, "job", err == nil, time.Since(start))
	if err != nil {
		r.log.Warn("job failed", "filename", req.Filename, "kind", string(bdq.KindOf(err)), "error", err, "duration", time.Since(start))
		return nil, err
	}
	r.log.Info("job finished",
		"filename", req.Filename,
		"rows", res.Digest.Rows,
		"planned_tests", res.Digest.PlannedTests,
		"distinct_tuples", res.Digest.DistinctTuples,
		"provider_calls", res.Stats.ProviderCalls,
		"duration", time.Since(start))
	return res, nil
}

func (r *Runner) run(parent context.Context, req JobRequest) (*JobResult, error) {
	if err := parent.Err(); err != nil {
		return nil, bdq.Errorf(bdq.ErrCancelled, "job cancelled before start: %v", err)
	}

	jobTimeout := req.Overrides.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()

	ds, err := dataset.Read(req.Input, req.Filename)
	if err != nil {
		return nil, err
	}
	warnings := ds.Warnings()

	if dups := duplicateIDs(ds); dups > 0 {
		if req.Overrides.FailOnDuplicateIDs {
			return nil, bdq.Errorf(bdq.ErrMalformedRow, "%d record identifier values are shared by multiple rows", dups)
		}
		warnings = append(warnings, fmt.Sprintf("%d record identifier values are shared by multiple rows", dups))
	}

	plan, planWarnings, err := BuildPlan(ds, r.registry, req.Overrides.Parameters)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, planWarnings...)

	concurrency := req.Overrides.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency()
	}
	tupleTimeout := req.Overrides.TupleTimeout
	if tupleTimeout <= 0 {
		tupleTimeout = DefaultTupleTimeout
	}

	r.log.Debug("plan built",
		"filename", req.Filename,
		"rows", ds.Len(),
		"core", string(ds.Core),
		"planned_tests", len(plan.Tests),
		"concurrency", concurrency)

	executor := newExecutor(r.provider, concurrency, tupleTimeout, r.retry, r.log, r.metrics)
	exec, err := executor.Run(ctx, ds, plan)
	if err == nil {
		// A deadline that expired while the last tuples drained still fails
		// the job; partial-budget results are never reported as complete.
		err = ctx.Err()
	}
	if err != nil {
		return nil, r.classify(parent, ctx, err)
	}

	proj, err := Project(ds, plan, exec, req.Overrides.ConflictPolicy)
	if err != nil {
		return nil, err
	}
	stats := exec.Stats()
	return &JobResult{
		RawResults: proj.RawResults,
		Amended:    proj.Amended,
		Digest:     proj.BuildDigest(stats, warnings),
		Stats:      stats,
		Warnings:   warnings,
	}, nil
}

// classify maps a mid-flight context error onto the job taxonomy. Parent
// cancellation wins over the job deadline; anything else mid-execution is an
// engine invariant violation.
func (r *Runner) classify(parent, job context.Context, err error) error {
	if parent.Err() != nil {
		return bdq.Errorf(bdq.ErrCancelled, "job cancelled: %v", parent.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(job.Err(), context.DeadlineExceeded) {
		return bdq.Errorf(bdq.ErrJobTimeout, "job wall-clock budget exceeded")
	}
	var je *bdq.JobError
	if errors.As(err, &je) {
		return err
	}
	return bdq.Errorf(bdq.ErrInternal, "executor: %v", err)
}

// duplicateIDs counts record-identifier values appearing on more than one
// row. Duplicates are legal; they are reported as a warning unless the job
// opted into strict identifiers.
func duplicateIDs(ds *dataset.Dataset) int {
	counts := make(map[string]int, ds.Len())
	for i := 0; i < ds.Len(); i++ {
		counts[ds.RecordID(i)]++
	}
	dups := 0
	for _, n := range counts {
		if n > 1 {
			dups++
		}
	}
	return dups
}
