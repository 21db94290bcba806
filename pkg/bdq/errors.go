package bdq

import (
	"errors"
	"fmt"
)

// ErrorKind classifies fatal job failures for callers that format user-facing
// messages. Kinds are stable strings, not Go types.
type ErrorKind string

// Fatal failure kinds. Input and planning kinds abort before any provider
// call; lifecycle kinds may abort mid-flight. Per-tuple failures are never
// fatal and surface as outcomes instead.
const (
	// ErrNoAttachment means the job received zero input bytes.
	ErrNoAttachment ErrorKind = "NoAttachment"
	// ErrEmptyDataset means the table parsed but held no data rows.
	ErrEmptyDataset ErrorKind = "EmptyDataset"
	// ErrNoCoreColumn means neither occurrenceID nor taxonID is present.
	ErrNoCoreColumn ErrorKind = "NoCoreColumn"
	// ErrMalformedRow means a row could not be aligned to the header.
	ErrMalformedRow ErrorKind = "MalformedRow"
	// ErrRegistryInvalid means the test registry failed to load or validate.
	ErrRegistryInvalid ErrorKind = "RegistryInvalid"
	// ErrNoApplicableTests means no registry entry matched the dataset columns.
	ErrNoApplicableTests ErrorKind = "NoApplicableTests"
	// ErrCancelled means the job's cancellation signal was raised.
	ErrCancelled ErrorKind = "Cancelled"
	// ErrJobTimeout means the job wall-clock budget expired.
	ErrJobTimeout ErrorKind = "JobTimeoutExceeded"
	// ErrInternal means an engine invariant was violated.
	ErrInternal ErrorKind = "InternalBug"
)

// JobError is the structured fatal error surfaced by a job run. Context holds
// small diagnostic values (row numbers, column names) safe to show users.
type JobError struct {
	Kind    ErrorKind
	Message string
	Context map[string]string
}

func (e *JobError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errorf builds a JobError with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *JobError {
	return &JobError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithContext returns a copy of the error carrying an added context entry.
func (e *JobError) WithContext(key, value string) *JobError {
	dup := &JobError{Kind: e.Kind, Message: e.Message, Context: make(map[string]string, len(e.Context)+1)}
	for k, v := range e.Context {
		dup.Context[k] = v
	}
	dup.Context[key] = value
	return dup
}

// KindOf extracts the failure kind from err, or ErrInternal when err is not a
// JobError. A nil err yields the empty kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind
	}
	return ErrInternal
}

// NotFoundError reports a registry lookup miss.
type NotFoundError struct {
	Query string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("no test registered for %q", e.Query)
}
