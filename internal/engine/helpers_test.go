package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"bdqcore/internal/dataset"
	"bdqcore/internal/registry"
	"bdqcore/pkg/bdq"
)

// providerFunc adapts a bare function to bdq.Provider.
type providerFunc func(ctx context.Context, handle string, args map[string]string) (bdq.Outcome, error)

func (f providerFunc) Invoke(ctx context.Context, handle string, args map[string]string) (bdq.Outcome, error) {
	return f(ctx, handle, args)
}

// callCounter counts provider invocations per handle, safely across workers.
type callCounter struct {
	mu       sync.Mutex
	total    int
	byHandle map[string]int
}

func newCallCounter() *callCounter {
	return &callCounter{byHandle: make(map[string]int)}
}

func (c *callCounter) inc(handle string) {
	c.mu.Lock()
	c.total++
	c.byHandle[handle]++
	c.mu.Unlock()
}

func (c *callCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *callCounter) handleCount(handle string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byHandle[handle]
}

func mustRegistry(t *testing.T, source string) *registry.Registry {
	t.Helper()
	reg, _, err := registry.Load(strings.NewReader(source))
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	return reg
}

func mustDataset(t *testing.T, payload string) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.Read([]byte(payload), "input.csv")
	if err != nil {
		t.Fatalf("read dataset: %v", err)
	}
	return ds
}

func mustPlan(t *testing.T, ds *dataset.Dataset, reg *registry.Registry, params map[string]string) *Plan {
	t.Helper()
	plan, _, err := BuildPlan(ds, reg, params)
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	return plan
}

// quietExecutor builds an executor with instant sleeps and zero jitter so
// retry-heavy tests finish immediately.
func quietExecutor(provider bdq.Provider, concurrency int, retry RetryPolicy) *Executor {
	x := newExecutor(provider, concurrency, 0, retry, noopLogger{}, noopMetricsRecorder{})
	x.sleep = func(ctx context.Context, d time.Duration) bool { return ctx.Err() == nil }
	x.jitter = func(time.Duration) time.Duration { return 0 }
	return x
}

// compliant and the other canned outcomes keep test bodies short.
func compliant() bdq.Outcome {
	return bdq.Outcome{Status: bdq.StatusRunHasResult, Label: bdq.LabelCompliant}
}

func notCompliant(comment string) bdq.Outcome {
	return bdq.Outcome{Status: bdq.StatusRunHasResult, Label: bdq.LabelNotCompliant, Comment: comment}
}

func amended(comment string, pairs ...string) bdq.Outcome {
	o := bdq.Outcome{Status: bdq.StatusAmended, Comment: comment}
	for i := 0; i+1 < len(pairs); i += 2 {
		o.Amendments = append(o.Amendments, bdq.Amendment{Column: pairs[i], Value: pairs[i+1]})
	}
	return o
}

func notAmended() bdq.Outcome {
	return bdq.Outcome{Status: bdq.StatusNotAmended}
}
