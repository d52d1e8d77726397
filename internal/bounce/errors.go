package bounce

import (
	"errors"
	"fmt"
)

// ErrorKind is a stable machine tag carried by request failures and error
// votes. Tags surface verbatim in error bodies and metrics labels.
type ErrorKind string

const (
	KindInvalidRequest       ErrorKind = "invalid_request"
	KindMissingPrompt        ErrorKind = "missing_prompt"
	KindInvalidTaskType      ErrorKind = "invalid_task_type"
	KindInvalidMode          ErrorKind = "invalid_mode"
	KindInvalidDepth         ErrorKind = "invalid_depth"
	KindNoProvidersAvailable ErrorKind = "no_providers_available"
	KindProviderError        ErrorKind = "provider_error"
	KindDeadlineExceeded     ErrorKind = "deadline_exceeded"
	KindNotApproved          ErrorKind = "not_approved"
	KindOverloaded           ErrorKind = "overloaded"
	KindNoValidVotes         ErrorKind = "no_valid_votes"
	KindAllProvidersFailed   ErrorKind = "all_providers_failed"
	KindConfigError          ErrorKind = "config_error"
)

// Validation reports whether the kind is a caller fault surfaced as HTTP 400.
func (k ErrorKind) Validation() bool {
	switch k {
	case KindInvalidRequest, KindMissingPrompt, KindInvalidTaskType, KindInvalidMode, KindInvalidDepth:
		return true
	}
	return false
}

// MetricLabel is the short form used on the errors counter, so dashboards
// group timeouts under "deadline" rather than the full wire tag.
func (k ErrorKind) MetricLabel() string {
	switch k {
	case KindDeadlineExceeded:
		return "deadline"
	case KindProviderError:
		return "provider"
	default:
		return string(k)
	}
}

// RequestError is the error type crossing the orchestrator boundary. It
// pairs a human-readable message with a stable machine tag.
type RequestError struct {
	Kind ErrorKind
	msg  string
}

func (e *RequestError) Error() string { return e.msg }

// Errf builds a RequestError with a formatted message.
func Errf(kind ErrorKind, format string, args ...any) *RequestError {
	return &RequestError{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the machine tag from err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// IsKind reports whether err carries the given tag.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
