// Package ciriserr defines the error-kind taxonomy shared by every runtime
// component (spec §7). Components never return bare errors for conditions
// the rest of the cascade needs to branch on; they wrap with one of these
// kinds so callers can classify with errors.Is / errors.As instead of
// string-matching.
package ciriserr

import "fmt"

// Kind classifies an error for retry/escalation policy decisions.
type Kind string

const (
	// KindConfiguration is fatal at startup; aborts initialization.
	KindConfiguration Kind = "configuration"
	// KindTransientService is retried via the owning bus; counts toward the
	// circuit breaker's failure threshold.
	KindTransientService Kind = "transient_service"
	// KindValidation marks bad input; the thought is rejected, not retried.
	KindValidation Kind = "validation"
	// KindTimeout is treated as transient and counts toward DMA_RETRY_LIMIT.
	KindTimeout Kind = "timeout"
	// KindConscienceViolation is a normal signal that drives recursive
	// ASPDMA; it is not a failure of the runtime.
	KindConscienceViolation Kind = "conscience_violation"
	// KindDepthExceeded forces DEFER; never retried.
	KindDepthExceeded Kind = "depth_exceeded"
	// KindAuthorityRequired emits a DEFER to the wisdom bus and resumes only
	// on resolution.
	KindAuthorityRequired Kind = "authority_required"
	// KindIntegrityViolation marks an audit-chain break or signature
	// failure; the current operation aborts, an authority is notified, and
	// the processor continues with other tasks.
	KindIntegrityViolation Kind = "integrity_violation"
)

// Error is the concrete error type every component returns for a classified
// failure. Component-internal errors that never cross a suspension-point
// boundary may remain plain fmt.Errorf-wrapped errors.
type Error struct {
	Kind Kind
	Op   string // component/operation that raised it, e.g. "dma.pdma.Evaluate"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err (may be nil) with the given kind and op for classification
// further up the cascade.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			ce = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ce != nil && ce.Kind == kind
}

// Retryable reports whether an error's kind should count toward a retry
// budget (DMA_RETRY_LIMIT / circuit breaker failure count) rather than
// being terminal.
func Retryable(kind Kind) bool {
	switch kind {
	case KindTransientService, KindTimeout:
		return true
	default:
		return false
	}
}
