package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"bdqcore/pkg/bdq"
)

const countryRegistry = `testID,GUID,type,actedUpon,consulted,parameters,class,handle
VALIDATION_COUNTRYCODE_STANDARD,cc-1,Validation,dwc:countryCode,,,dwc:Location,countrycode_standard
`

func TestExecutorDedup(t *testing.T) {
	// Case variation is preserved: "US" and "us" are distinct tuples.
	ds := mustDataset(t, "occurrenceID,countryCode\no1,US\no2,US\no3,GB\no4,us\no5,XX\n")
	reg := mustRegistry(t, countryRegistry)
	plan := mustPlan(t, ds, reg, nil)

	calls := newCallCounter()
	provider := providerFunc(func(ctx context.Context, handle string, args map[string]string) (bdq.Outcome, error) {
		calls.inc(args["dwc:countryCode"])
		if args["dwc:countryCode"] == "XX" {
			return notCompliant("not a country"), nil
		}
		return compliant(), nil
	})

	exec, err := quietExecutor(provider, 4, DefaultRetryPolicy()).Run(context.Background(), ds, plan)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if calls.count() != 4 {
		t.Fatalf("provider calls = %d, want 4", calls.count())
	}
	for _, value := range []string{"US", "GB", "us", "XX"} {
		if calls.handleCount(value) != 1 {
			t.Fatalf("value %q invoked %d times, want 1", value, calls.handleCount(value))
		}
	}
	stats := exec.Stats()
	if stats.Pairs != 5 || stats.CacheHits != 1 {
		t.Fatalf("pairs = %d hits = %d, want 5 and 1", stats.Pairs, stats.CacheHits)
	}
	if stats.DistinctTuples["VALIDATION_COUNTRYCODE_STANDARD"] != 4 {
		t.Fatalf("distinct tuples = %v", stats.DistinctTuples)
	}
	if stats.ProviderCalls != 4 || stats.Retries != 0 {
		t.Fatalf("provider calls = %d retries = %d", stats.ProviderCalls, stats.Retries)
	}
}

func TestExecutorPhaseBarrier(t *testing.T) {
	ds := mustDataset(t, "occurrenceID,eventDate\no1,a\no2,b\no3,c\no4,d\n")
	reg := mustRegistry(t, `testID,GUID,type,actedUpon,consulted,parameters,class,handle
VALIDATION_EVENTDATE_NOTEMPTY,v-1,Validation,dwc:eventDate,,,dwc:Event,eventdate_notempty
AMENDMENT_EVENTDATE_STANDARDIZED,a-1,Amendment,dwc:eventDate,,,dwc:Event,eventdate_standardized
`)
	plan := mustPlan(t, ds, reg, nil)

	var mu sync.Mutex
	validationsInFlight := 0
	barrierBroken := false
	provider := providerFunc(func(ctx context.Context, handle string, args map[string]string) (bdq.Outcome, error) {
		if handle == "eventdate_notempty" {
			mu.Lock()
			validationsInFlight++
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			validationsInFlight--
			mu.Unlock()
			return compliant(), nil
		}
		mu.Lock()
		if validationsInFlight > 0 {
			barrierBroken = true
		}
		mu.Unlock()
		return notAmended(), nil
	})

	if _, err := quietExecutor(provider, 4, DefaultRetryPolicy()).Run(context.Background(), ds, plan); err != nil {
		t.Fatalf("run: %v", err)
	}
	if barrierBroken {
		t.Fatalf("amendment dispatched while validations were in flight")
	}
}

func TestExecutorRetriesTransientThenSucceeds(t *testing.T) {
	ds := mustDataset(t, "occurrenceID,countryCode\no1,US\n")
	reg := mustRegistry(t, countryRegistry)
	plan := mustPlan(t, ds, reg, nil)

	calls := newCallCounter()
	provider := providerFunc(func(ctx context.Context, handle string, args map[string]string) (bdq.Outcome, error) {
		calls.inc(handle)
		if calls.count() == 1 {
			return bdq.Outcome{}, bdq.Transient(errors.New("connection reset"))
		}
		return compliant(), nil
	})

	x := newExecutor(provider, 1, 0, DefaultRetryPolicy(), noopLogger{}, noopMetricsRecorder{})
	var delays []time.Duration
	x.sleep = func(ctx context.Context, d time.Duration) bool {
		delays = append(delays, d)
		return true
	}
	// Real jitter stays in play; the floor keeps the delay at or above the
	// initial backoff.
	exec, err := x.Run(context.Background(), ds, plan)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if calls.count() != 2 {
		t.Fatalf("provider calls = %d, want 2", calls.count())
	}
	if len(delays) != 1 || delays[0] < time.Second {
		t.Fatalf("backoff delays = %v, want one delay of at least 1s", delays)
	}
	if exec.cache.size() != 1 {
		t.Fatalf("cache holds %d entries, want 1", exec.cache.size())
	}
	stats := exec.Stats()
	if stats.ProviderCalls != 2 || stats.Retries != 1 {
		t.Fatalf("provider calls = %d retries = %d", stats.ProviderCalls, stats.Retries)
	}
}

func TestExecutorBackoffDoublesAndCaps(t *testing.T) {
	ds := mustDataset(t, "occurrenceID,countryCode\no1,US\n")
	reg := mustRegistry(t, countryRegistry)
	plan := mustPlan(t, ds, reg, nil)

	provider := providerFunc(func(ctx context.Context, handle string, args map[string]string) (bdq.Outcome, error) {
		return bdq.Outcome{}, bdq.Transient(errors.New("still down"))
	})

	x := newExecutor(provider, 1, 0, RetryPolicy{MaxRetries: 5, InitialBackoff: time.Second, MaxBackoff: 8 * time.Second}, noopLogger{}, noopMetricsRecorder{})
	var delays []time.Duration
	x.sleep = func(ctx context.Context, d time.Duration) bool {
		delays = append(delays, d)
		return true
	}
	x.jitter = func(time.Duration) time.Duration { return 0 }

	exec, err := x.Run(context.Background(), ds, plan)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delay %d = %v, want %v", i, delays[i], want[i])
		}
	}

	out, ok := exec.Outcome(&plan.Tests[0], plan.Tests[0].tupleAt(ds, 0))
	if !ok {
		t.Fatalf("no cached outcome")
	}
	if out.Status != bdq.StatusInternalPrereqNotMet || !strings.Contains(out.Comment, "6 attempts") {
		t.Fatalf("outcome = %+v, want internal failure after 6 attempts", out)
	}
}

func TestExecutorDelayJitterRange(t *testing.T) {
	x := newExecutor(nil, 1, 0, DefaultRetryPolicy(), noopLogger{}, noopMetricsRecorder{})
	for i := 0; i < 200; i++ {
		d := x.delay(time.Second)
		if d < time.Second || d >= 2*time.Second {
			t.Fatalf("delay(1s) = %v, want [1s, 2s)", d)
		}
	}
	for i := 0; i < 200; i++ {
		if d := x.delay(8 * time.Second); d != 8*time.Second {
			t.Fatalf("delay at cap = %v, want exactly 8s", d)
		}
	}
}

func TestExecutorExternalPrereqRetriedAndCachedAsIs(t *testing.T) {
	ds := mustDataset(t, "occurrenceID,countryCode\no1,US\n")
	reg := mustRegistry(t, countryRegistry)
	plan := mustPlan(t, ds, reg, nil)

	calls := newCallCounter()
	provider := providerFunc(func(ctx context.Context, handle string, args map[string]string) (bdq.Outcome, error) {
		calls.inc(handle)
		return bdq.Outcome{Status: bdq.StatusExternalPrereqNotMet, Comment: "vocabulary service unavailable"}, nil
	})

	exec, err := quietExecutor(provider, 1, DefaultRetryPolicy()).Run(context.Background(), ds, plan)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls.count() != 4 {
		t.Fatalf("provider calls = %d, want 4 (1 + 3 retries)", calls.count())
	}
	out, _ := exec.Outcome(&plan.Tests[0], plan.Tests[0].tupleAt(ds, 0))
	if out.Status != bdq.StatusExternalPrereqNotMet || out.Comment != "vocabulary service unavailable" {
		t.Fatalf("outcome = %+v, want provider's external-prereq outcome verbatim", out)
	}
}

func TestExecutorPermanentErrorNotRetried(t *testing.T) {
	ds := mustDataset(t, "occurrenceID,countryCode\no1,US\n")
	reg := mustRegistry(t, countryRegistry)
	plan := mustPlan(t, ds, reg, nil)

	calls := newCallCounter()
	provider := providerFunc(func(ctx context.Context, handle string, args map[string]string) (bdq.Outcome, error) {
		calls.inc(handle)
		return bdq.Outcome{}, errors.New("unknown handle")
	})

	exec, err := quietExecutor(provider, 1, DefaultRetryPolicy()).Run(context.Background(), ds, plan)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls.count() != 1 {
		t.Fatalf("provider calls = %d, want 1", calls.count())
	}
	out, _ := exec.Outcome(&plan.Tests[0], plan.Tests[0].tupleAt(ds, 0))
	if out.Status != bdq.StatusInternalPrereqNotMet || !strings.Contains(out.Comment, "unknown handle") {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestExecutorNormalizesUnknownStatus(t *testing.T) {
	ds := mustDataset(t, "occurrenceID,countryCode\no1,US\n")
	reg := mustRegistry(t, countryRegistry)
	plan := mustPlan(t, ds, reg, nil)

	provider := providerFunc(func(ctx context.Context, handle string, args map[string]string) (bdq.Outcome, error) {
		return bdq.Outcome{Status: "WEIRD_STATUS", Comment: "from a newer provider"}, nil
	})

	exec, err := quietExecutor(provider, 1, DefaultRetryPolicy()).Run(context.Background(), ds, plan)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	out, _ := exec.Outcome(&plan.Tests[0], plan.Tests[0].tupleAt(ds, 0))
	if out.Status != bdq.StatusInternalPrereqNotMet {
		t.Fatalf("status = %s, want internal prerequisites not met", out.Status)
	}
	if !strings.Contains(out.Comment, `"WEIRD_STATUS"`) || !strings.Contains(out.Comment, "from a newer provider") {
		t.Fatalf("comment = %q, want original status and comment preserved", out.Comment)
	}
}

func TestExecutorTupleTimeoutIsTransient(t *testing.T) {
	ds := mustDataset(t, "occurrenceID,countryCode\no1,US\n")
	reg := mustRegistry(t, countryRegistry)
	plan := mustPlan(t, ds, reg, nil)

	calls := newCallCounter()
	provider := providerFunc(func(ctx context.Context, handle string, args map[string]string) (bdq.Outcome, error) {
		calls.inc(handle)
		<-ctx.Done()
		return bdq.Outcome{}, ctx.Err()
	})

	x := newExecutor(provider, 1, 5*time.Millisecond, RetryPolicy{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}, noopLogger{}, noopMetricsRecorder{})
	x.sleep = func(ctx context.Context, d time.Duration) bool { return true }
	x.jitter = func(time.Duration) time.Duration { return 0 }

	exec, err := x.Run(context.Background(), ds, plan)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls.count() != 2 {
		t.Fatalf("provider calls = %d, want 2 (timeout retried once)", calls.count())
	}
	out, _ := exec.Outcome(&plan.Tests[0], plan.Tests[0].tupleAt(ds, 0))
	if out.Status != bdq.StatusInternalPrereqNotMet || !strings.Contains(out.Comment, "tuple budget") {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestExecutorStopsOnCancel(t *testing.T) {
	ds := mustDataset(t, "occurrenceID,countryCode\no1,US\no2,GB\no3,FR\no4,DE\n")
	reg := mustRegistry(t, countryRegistry)
	plan := mustPlan(t, ds, reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	provider := providerFunc(func(ctx context.Context, handle string, args map[string]string) (bdq.Outcome, error) {
		cancel()
		<-ctx.Done()
		return bdq.Outcome{}, ctx.Err()
	})

	_, err := quietExecutor(provider, 1, RetryPolicy{MaxRetries: 0, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}).Run(ctx, ds, plan)
	if err == nil {
		t.Fatalf("expected error after cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
