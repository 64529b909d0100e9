package dcb

import (
	"errors"
	"fmt"
)

type (
	// EventStoreError is the base error type for event store operations.
	// It is embedded by the specific error kinds below so callers can
	// errors.As into whichever kind they care about.
	EventStoreError struct {
		Op  string // operation that failed, e.g. "Append", "Read"
		Err error  // underlying error, if any
	}

	// ValidationError reports a malformed event, tag, or query.
	ValidationError struct {
		EventStoreError
		Field string
		Value string
	}

	// AppendConditionFailedError is the single DCB concurrency failure
	// mode: a concurrent append matched the caller's AppendCondition.
	// It carries no additional state, per spec.
	AppendConditionFailedError struct {
		EventStoreError
	}

	// ResourceError wraps an I/O failure against the ledger, event
	// files, or index files. It is fatal to the in-flight operation and
	// is never retried by the core.
	ResourceError struct {
		EventStoreError
		Resource string
	}

	// ConfigurationError reports an invalid configuration knob. Raised
	// only at construction time, never at runtime.
	ConfigurationError struct {
		EventStoreError
		Field string
		Value string
	}

	// BusinessRuleViolation wraps a domain error produced by a caller's
	// apply/decision function. The core never retries it.
	BusinessRuleViolation struct {
		EventStoreError
		Rule string
	}
)

// Error implements error for EventStoreError and, via embedding, for
// every error kind above.
func (e EventStoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

// Unwrap returns the underlying error, if any.
func (e EventStoreError) Unwrap() error {
	return e.Err
}

// ErrAppendConditionFailed is a sentinel usable with errors.Is; the
// concrete error returned by Append is always *AppendConditionFailedError,
// which wraps this sentinel, so both errors.Is(err,
// ErrAppendConditionFailed) and IsAppendConditionFailed detect it.
var ErrAppendConditionFailed = errors.New("append condition failed")

func newAppendConditionFailed(op string) error {
	return &AppendConditionFailedError{EventStoreError{Op: op, Err: ErrAppendConditionFailed}}
}

// =============================================================================
// Error detection helpers
// =============================================================================

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsAppendConditionFailed reports whether err is an
// *AppendConditionFailedError — the sole error ExecuteDecision retries.
func IsAppendConditionFailed(err error) bool {
	var e *AppendConditionFailedError
	return errors.As(err, &e)
}

// IsResourceError reports whether err is a *ResourceError.
func IsResourceError(err error) bool {
	var e *ResourceError
	return errors.As(err, &e)
}

// IsConfigurationError reports whether err is a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}

// IsBusinessRuleViolation reports whether err is a *BusinessRuleViolation.
func IsBusinessRuleViolation(err error) bool {
	var e *BusinessRuleViolation
	return errors.As(err, &e)
}

// =============================================================================
// Error extraction helpers
// =============================================================================

// AsValidationError extracts a *ValidationError from the error chain.
func AsValidationError(err error) (*ValidationError, bool) {
	var e *ValidationError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// AsResourceError extracts a *ResourceError from the error chain.
func AsResourceError(err error) (*ResourceError, bool) {
	var e *ResourceError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// AsBusinessRuleViolation extracts a *BusinessRuleViolation from the
// error chain.
func AsBusinessRuleViolation(err error) (*BusinessRuleViolation, bool) {
	var e *BusinessRuleViolation
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// AsConfigurationError extracts a *ConfigurationError from the error
// chain.
func AsConfigurationError(err error) (*ConfigurationError, bool) {
	var e *ConfigurationError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
