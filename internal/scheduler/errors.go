package scheduler

import "fmt"

// ErrorKind classifies scheduler failures so callers can decide between
// retrying, falling back, and giving up.
type ErrorKind string

const (
	// KindCLINotFound means the scheduler binary itself is unreachable.
	// Fatal immediately; retrying cannot help.
	KindCLINotFound ErrorKind = "CLI_NOT_FOUND"
	// KindCommandFailed means a scheduling/polling invocation errored or
	// exited non-zero.
	KindCommandFailed ErrorKind = "COMMAND_FAILED"
	// KindInvalidJSON means the CLI produced output that could not be parsed.
	KindInvalidJSON ErrorKind = "INVALID_JSON"
	// KindSchedulingFailed means both transport variants exhausted their
	// retry budgets.
	KindSchedulingFailed ErrorKind = "SCHEDULING_FAILED"
	// KindJobFailed means the job reached a terminal non-ok status.
	KindJobFailed ErrorKind = "JOB_FAILED"
	// KindTimeout means the overall wait budget was exceeded.
	KindTimeout ErrorKind = "TIMEOUT"
)

// Error is the typed error surfaced by the job client.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// newError builds an *Error with an optional cause.
func newError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the ErrorKind of err when it is (or wraps) a scheduler
// *Error, and empty string otherwise.
func KindOf(err error) ErrorKind {
	for err != nil {
		if se, ok := err.(*Error); ok {
			return se.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

// IsFatal reports whether err should never be retried.
func IsFatal(err error) bool {
	return KindOf(err) == KindCLINotFound
}
