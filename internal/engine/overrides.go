package engine

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Recognized override keys of the run_job contract. cancellation_handle is
// accepted for compatibility but carries no value here; cancellation arrives
// through the run context.
const (
	overrideConcurrency    = "concurrency"
	overrideTupleTimeout   = "per_tuple_timeout_seconds"
	overrideJobTimeout     = "job_timeout_seconds"
	overrideParameters     = "parameters"
	overrideConflictPolicy = "conflict_policy"
	overrideStrictIDs      = "fail_on_duplicate_ids"
	overrideCancellation   = "cancellation_handle"
)

// ParseOverrides converts a loosely typed override mapping (decoded from
// JSON or YAML) into engine overrides. Unknown keys and invalid values are
// reported as warnings and ignored; parsing never fails the job.
func ParseOverrides(raw map[string]any) (Overrides, []string) {
	var o Overrides
	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	for _, key := range sortedAnyKeys(raw) {
		value := raw[key]
		switch key {
		case overrideConcurrency:
			n, ok := asInt(value)
			if !ok || n <= 0 {
				warn("override %s: want a positive integer, got %v; ignored", key, value)
				continue
			}
			o.Concurrency = n
		case overrideTupleTimeout:
			d, ok := asSeconds(value)
			if !ok {
				warn("override %s: want positive seconds, got %v; ignored", key, value)
				continue
			}
			o.TupleTimeout = d
		case overrideJobTimeout:
			d, ok := asSeconds(value)
			if !ok {
				warn("override %s: want positive seconds, got %v; ignored", key, value)
				continue
			}
			o.JobTimeout = d
		case overrideParameters:
			params, bad := asStringMap(value)
			if params == nil {
				warn("override %s: want a name to value mapping, got %v; ignored", key, value)
				continue
			}
			for _, name := range bad {
				warn("override %s: value for %s is not scalar; ignored", key, name)
			}
			o.Parameters = params
		case overrideConflictPolicy:
			s, ok := value.(string)
			policy := ConflictPolicy(s)
			if !ok || !policy.Known() {
				warn("override %s: want %s or %s, got %v; ignored", key, LastWriterWins, FirstWriterWins, value)
				continue
			}
			o.ConflictPolicy = policy
		case overrideStrictIDs:
			b, ok := value.(bool)
			if !ok {
				warn("override %s: want a boolean, got %v; ignored", key, value)
				continue
			}
			o.FailOnDuplicateIDs = b
		case overrideCancellation:
			// Cancellation rides the context; nothing to extract.
		default:
			warn("unknown override %q; ignored", key)
		}
	}
	return o, warnings
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func asSeconds(v any) (time.Duration, bool) {
	var secs float64
	switch n := v.(type) {
	case int:
		secs = float64(n)
	case int64:
		secs = float64(n)
	case float64:
		secs = n
	default:
		return 0, false
	}
	if secs <= 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// asStringMap flattens a parameter mapping to strings. Non-mapping inputs
// return a nil map; non-scalar values are skipped and their names returned.
func asStringMap(v any) (map[string]string, []string) {
	var bad []string
	out := make(map[string]string)
	switch m := v.(type) {
	case map[string]string:
		for name, value := range m {
			out[name] = value
		}
	case map[string]any:
		for name, value := range m {
			s, ok := asScalarString(value)
			if !ok {
				bad = append(bad, name)
				continue
			}
			out[name] = s
		}
		sort.Strings(bad)
	default:
		return nil, nil
	}
	return out, bad
}

func asScalarString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case bool:
		return strconv.FormatBool(s), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	default:
		return "", false
	}
}

func sortedAnyKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
