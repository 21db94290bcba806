package bdq

import "context"

// Provider executes test implementations. Invoke resolves the opaque handle
// stored in a descriptor and runs it against named arguments: the data columns
// in their namespaced form plus any declared parameters, all as strings.
//
// Implementations must be safe for concurrent use and must honor ctx
// cancellation and deadlines. A failure that may succeed on retry (network,
// remote overload) is reported as *TransientError; any other error is treated
// as permanent by the engine.
type Provider interface {
	Invoke(ctx context.Context, handle string, args map[string]string) (Outcome, error)
}

// TransientError marks a provider failure worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return "transient provider failure"
	}
	return "transient provider failure: " + e.Err.Error()
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. A nil err yields a bare transient failure.
func Transient(err error) *TransientError { return &TransientError{Err: err} }
