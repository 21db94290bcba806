package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"bdqcore/internal/dataset"
	"bdqcore/pkg/bdq"
)

// RetryPolicy bounds transient-failure retries for one tuple. A transient
// failure is a provider timeout, a *bdq.TransientError, or an
// EXTERNAL_PREREQUISITES_NOT_MET response.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first.
	MaxRetries int
	// InitialBackoff is the delay floor before the first retry. Each retry
	// doubles the floor up to MaxBackoff; jitter spreads the actual delay
	// over [floor, 2*floor), clamped at MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy retries three times, backing off from one second and
// capping at eight.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialBackoff: time.Second, MaxBackoff: 8 * time.Second}
}

// Stats aggregates execution counters for the digest and job logs.
type Stats struct {
	// Pairs is the number of (planned test, record) combinations.
	Pairs int
	// DistinctTuples counts distinct tuples dispatched, keyed by test ID.
	DistinctTuples map[string]int
	// CacheHits counts pairs whose tuple was already claimed by an earlier
	// pair in this job.
	CacheHits int
	// ProviderCalls counts provider attempts, retries included.
	ProviderCalls int
	// Retries counts attempts beyond the first.
	Retries int
}

// TotalDistinct sums distinct tuples across all tests.
func (s Stats) TotalDistinct() int {
	n := 0
	for _, v := range s.DistinctTuples {
		n += v
	}
	return n
}

// Execution is the populated outcome store of one executor run. The projector
// reads outcomes through it; the digest reads its counters.
type Execution struct {
	cache *tupleCache

	mu    sync.Mutex
	stats Stats
}

// Outcome returns the finalized outcome for the test's tuple.
func (e *Execution) Outcome(p *PlannedTest, t Tuple) (bdq.Outcome, bool) {
	return e.cache.lookup(p.cacheKey(t))
}

// Snapshot copies every finalized (key, outcome) cache entry.
func (e *Execution) Snapshot() map[string]bdq.Outcome {
	return e.cache.snapshot()
}

// Stats returns a copy of the execution counters.
func (e *Execution) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.stats
	out.DistinctTuples = make(map[string]int, len(e.stats.DistinctTuples))
	for id, n := range e.stats.DistinctTuples {
		out.DistinctTuples[id] = n
	}
	return out
}

func (e *Execution) recordAttempts(attempts int) {
	e.mu.Lock()
	e.stats.ProviderCalls += attempts
	e.stats.Retries += attempts - 1
	e.mu.Unlock()
}

// tupleWork is one unit of provider work: a planned test and one of its
// distinct tuples.
type tupleWork struct {
	test  *PlannedTest
	tuple Tuple
}

// Executor computes outcomes for every distinct (test, tuple) pair in a plan
// through a bounded worker pool. An Executor is immutable and serves one
// configuration; per-run state lives in the Execution it returns.
type Executor struct {
	provider     bdq.Provider
	concurrency  int
	tupleTimeout time.Duration
	retry        RetryPolicy
	log          Logger
	metrics      MetricsRecorder

	// sleep and jitter are seams for tests; production uses timer-backed
	// sleeping and uniform jitter.
	sleep  func(ctx context.Context, d time.Duration) bool
	jitter func(d time.Duration) time.Duration
}

func newExecutor(provider bdq.Provider, concurrency int, tupleTimeout time.Duration, retry RetryPolicy, log Logger, metrics MetricsRecorder) *Executor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Executor{
		provider:     provider,
		concurrency:  concurrency,
		tupleTimeout: tupleTimeout,
		retry:        retry,
		log:          log,
		metrics:      metrics,
		sleep:        sleepCtx,
		jitter:       uniformJitter,
	}
}

// Run populates a fresh Execution with one outcome per distinct (test, tuple)
// pair. Scheduling is phase ordered: all validations complete before the
// first amendment dispatches, and so on through issues and measures. The only
// error Run returns is the context's; per-tuple failures become outcomes.
func (x *Executor) Run(ctx context.Context, ds *dataset.Dataset, plan *Plan) (*Execution, error) {
	exec := &Execution{
		cache: newTupleCache(),
		stats: Stats{DistinctTuples: make(map[string]int)},
	}
	phases := x.collect(ds, plan, exec)
	for _, work := range phases {
		if len(work) == 0 {
			continue
		}
		if err := x.runPhase(ctx, work, exec); err != nil {
			return nil, err
		}
		// Cancellation between dispatches drains the queue without running it;
		// the run still fails so partial results are never reported complete.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return exec, nil
}

// collect walks the plan single threaded, recording each test's distinct
// tuples in first-seen row order into per-phase queues. Determinism of the
// queues follows from the walk order.
func (x *Executor) collect(ds *dataset.Dataset, plan *Plan, exec *Execution) [][]tupleWork {
	phases := make([][]tupleWork, 4)
	seen := make(map[string]struct{})
	for i := range plan.Tests {
		p := &plan.Tests[i]
		phase := p.Descriptor.Type.Phase()
		for row := 0; row < ds.Len(); row++ {
			exec.stats.Pairs++
			t := p.tupleAt(ds, row)
			key := p.cacheKey(t)
			if _, dup := seen[key]; dup {
				exec.stats.CacheHits++
				continue
			}
			seen[key] = struct{}{}
			exec.stats.DistinctTuples[p.Descriptor.ID]++
			phases[phase] = append(phases[phase], tupleWork{test: p, tuple: t})
		}
	}
	return phases
}

// runPhase dispatches one phase's queue across the worker pool and waits for
// the phase barrier. Cancellation stops dispatch; queued items are dropped.
func (x *Executor) runPhase(ctx context.Context, work []tupleWork, exec *Execution) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.concurrency)
	for _, w := range work {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, _, err := exec.cache.getOrCompute(gctx, w.test.cacheKey(w.tuple), func() bdq.Outcome {
				return x.computeTuple(gctx, w.test, w.tuple, exec)
			})
			return err
		})
	}
	return g.Wait()
}

// computeTuple produces the single cached outcome for one tuple: it invokes
// the provider, retrying transient failures within the retry budget. Every
// path yields a recordable outcome; transport failures that outlive the
// budget are captured as internal-prerequisite outcomes rather than job
// errors.
func (x *Executor) computeTuple(ctx context.Context, p *PlannedTest, t Tuple, exec *Execution) bdq.Outcome {
	args := p.providerArgs(t)
	floor := x.retry.InitialBackoff
	attempts := 0

	var lastOutcome bdq.Outcome
	var lastErr error
	outcomeFinal := false

	for {
		attempts++
		outcome, err := x.invoke(ctx, p, args)
		switch {
		case err == nil && outcome.Status == bdq.StatusExternalPrereqNotMet:
			// Provider reachable but its own dependency is not; worth
			// retrying, recorded as-is if the budget runs out.
			lastOutcome, lastErr, outcomeFinal = outcome, nil, true
		case err == nil:
			exec.recordAttempts(attempts)
			return x.normalize(p, outcome)
		default:
			var tr *bdq.TransientError
			if !errors.As(err, &tr) {
				exec.recordAttempts(attempts)
				x.log.Warn("provider failed permanently", "test", p.Descriptor.ID, "error", err)
				return bdq.InternalFailure(fmt.Sprintf("provider failure: %v", err))
			}
			lastOutcome, lastErr, outcomeFinal = bdq.Outcome{}, err, false
		}

		if attempts > x.retry.MaxRetries {
			break
		}
		if !x.sleep(ctx, x.delay(floor)) {
			break // job ended during backoff
		}
		floor = floor * 2
		if floor > x.retry.MaxBackoff {
			floor = x.retry.MaxBackoff
		}
	}

	exec.recordAttempts(attempts)
	if outcomeFinal {
		x.log.Warn("external prerequisite still unmet after retries",
			"test", p.Descriptor.ID, "attempts", attempts)
		return lastOutcome
	}
	x.log.Warn("transient provider failure exhausted retries",
		"test", p.Descriptor.ID, "attempts", attempts, "error", lastErr)
	return bdq.InternalFailure(fmt.Sprintf("transient provider failure persisted across %d attempts: %v", attempts, lastErr))
}

// invoke performs one provider attempt under the per-tuple timeout. A timeout
// that fires while the job itself is still live converts to a transient
// error so the retry loop picks it up.
func (x *Executor) invoke(ctx context.Context, p *PlannedTest, args map[string]string) (bdq.Outcome, error) {
	callCtx, cancel := ctx, func() {}
	if x.tupleTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, x.tupleTimeout)
	}
	start := time.Now()
	outcome, err := x.provider.Invoke(callCtx, p.Descriptor.Handle, args)
	cancel()
	x.metrics.Observe(ctx, "provider_invoke", err == nil, time.Since(start))
	if err != nil && callCtx.Err() != nil && ctx.Err() == nil {
		err = bdq.Transient(fmt.Errorf("tuple budget %s exceeded: %w", x.tupleTimeout, err))
	}
	return outcome, err
}

// normalize maps out-of-vocabulary provider statuses onto the internal
// prerequisite disposition, preserving the original status string for the
// report reader. Recognized statuses pass through untouched.
func (x *Executor) normalize(p *PlannedTest, o bdq.Outcome) bdq.Outcome {
	if o.Status.Known() {
		return o
	}
	x.log.Warn("provider returned unrecognized status",
		"test", p.Descriptor.ID, "status", string(o.Status))
	comment := fmt.Sprintf("provider returned unrecognized status %q", string(o.Status))
	if o.Comment != "" {
		comment += ": " + o.Comment
	}
	return bdq.Outcome{Status: bdq.StatusInternalPrereqNotMet, Comment: comment}
}

// delay computes one backoff delay: the floor plus uniform jitter over one
// floor width, clamped at the policy cap. The delay never drops below the
// floor, so the first retry always waits at least InitialBackoff.
func (x *Executor) delay(floor time.Duration) time.Duration {
	if floor <= 0 {
		return 0
	}
	d := floor + x.jitter(floor)
	if d > x.retry.MaxBackoff {
		d = x.retry.MaxBackoff
	}
	return d
}

func uniformJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return rand.N(d)
}

// sleepCtx waits d, reporting false when ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
