// Package fault defines the error taxonomy shared by every blobrelay
// subsystem. Each error carries a Kind that maps onto an HTTP status and a
// retryability class, so the API layer can translate failures without
// inspecting messages.
package fault

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an error across component boundaries.
type Kind int

const (
	// Internal is an unclassified failure.
	Internal Kind = iota

	// ValidationFailed means the request was malformed.
	ValidationFailed

	// JobNotFound means the escrow contract has no job for the given id.
	JobNotFound

	// JobAlreadyCompleted means the job was already completed on-chain.
	JobAlreadyCompleted

	// JobExpired means the job passed its refund timeout before submission.
	JobExpired

	// SignatureMismatch means the payload signature does not recover to the
	// job's depositor.
	SignatureMismatch

	// InsufficientDeposit means the escrowed amount does not cover the
	// estimated blob cost.
	InsufficientDeposit

	// JobInFlight means another submission currently holds the job lock.
	JobInFlight

	// UpstreamUnavailable means an RPC or KMS dependency failed.
	UpstreamUnavailable

	// BlobSubmissionFailed means the blob transaction was rejected or
	// reverted after broadcast work began.
	BlobSubmissionFailed
)

// String returns the wire code for the kind, as used in API error bodies.
func (k Kind) String() string {
	switch k {
	case ValidationFailed:
		return "validation_failed"
	case JobNotFound:
		return "job_not_found"
	case JobAlreadyCompleted:
		return "job_already_completed"
	case JobExpired:
		return "job_expired"
	case SignatureMismatch:
		return "signature_mismatch"
	case InsufficientDeposit:
		return "insufficient_deposit"
	case JobInFlight:
		return "job_in_flight"
	case UpstreamUnavailable:
		return "upstream_unavailable"
	case BlobSubmissionFailed:
		return "blob_submission_failed"
	default:
		return "internal"
	}
}

// ParseKind maps a wire code back to its Kind. Unknown codes come back as
// Internal.
func ParseKind(code string) Kind {
	for k := Internal; k <= BlobSubmissionFailed; k++ {
		if k.String() == code {
			return k
		}
	}
	return Internal
}

// HTTPStatus returns the HTTP status code for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case ValidationFailed:
		return http.StatusBadRequest
	case JobNotFound:
		return http.StatusNotFound
	case JobAlreadyCompleted:
		return http.StatusConflict
	case JobExpired:
		return http.StatusGone
	case SignatureMismatch:
		return http.StatusUnauthorized
	case InsufficientDeposit:
		return http.StatusPaymentRequired
	case JobInFlight:
		return http.StatusLocked
	case UpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a client may usefully retry the same request.
// JobInFlight is retryable because the lock holder may release it;
// BlobSubmissionFailed is case-by-case and treated as non-retryable here.
func (k Kind) Retryable() bool {
	switch k {
	case JobInFlight, UpstreamUnavailable:
		return true
	default:
		return false
	}
}

// Error is a classified error. Details is optional structured context safe
// to include in API responses.
type Error struct {
	Kind    Kind
	Message string
	Details string
	cause   error
}

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. The message of the cause is preserved
// through Unwrap for errors.Is/As chains.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithDetails attaches response-safe context and returns the same error.
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.cause.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

// Unwrap exposes the cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// Is matches two fault errors by kind, so sentinel comparisons like
// errors.Is(err, fault.New(fault.JobExpired, "")) work on kind alone.
func (e *Error) Is(target error) bool {
	var fe *Error
	if errors.As(target, &fe) {
		return fe.Kind == e.Kind
	}
	return false
}

// KindOf extracts the Kind from an error chain, defaulting to Internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}

// Permanent reports whether the failure is terminal for the request:
// retrying with the same inputs cannot succeed.
func Permanent(err error) bool {
	switch KindOf(err) {
	case ValidationFailed, JobNotFound, JobAlreadyCompleted, JobExpired,
		SignatureMismatch, InsufficientDeposit:
		return true
	default:
		return false
	}
}

// Truncation bounds for provider error messages. Some providers echo the
// entire blob payload back inside error strings.
const (
	truncateThreshold = 4000
	truncateKeep      = 2000
	truncateMarker    = " ... [truncated] ... "
)

// TruncateMessage bounds an error message to ~4000 characters. Messages over
// the threshold keep the first 2000 characters (or everything before the
// first "params" occurrence, if that comes sooner) and the final 2000.
func TruncateMessage(msg string) string {
	if len(msg) <= truncateThreshold {
		return msg
	}
	head := truncateKeep
	if idx := strings.Index(msg, "params"); idx >= 0 && idx < head {
		head = idx
	}
	return msg[:head] + truncateMarker + msg[len(msg)-truncateKeep:]
}
