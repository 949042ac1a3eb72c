// Package errkind defines the closed error taxonomy and the process exit
// codes derived from it. Classification is a pure function of an error's
// observable shape (HTTP status, timeout marker, missing credential), never
// of where the error was raised, so retries and CLI callers see the same
// kind for the same failure.
package errkind

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Kind is one of the closed set of failure classes.
type Kind int

const (
	// Validation covers bad CLI arguments and malformed batch files.
	// Never retried.
	Validation Kind = iota
	// Config covers missing or rejected credentials and broken
	// configuration. Fatal, never retried.
	Config
	// Network covers connection failures and timeouts. Retryable.
	Network
	// RateLimit covers admission denial that persisted past the
	// starvation ceiling. Not a task failure until it escalates.
	RateLimit
	// Upstream covers API-level failures (4xx/5xx from the remote
	// endpoint). Retryable only when the transport marks it so.
	Upstream
	// Internal is the fallback for anything unclassified.
	Internal
)

// Process exit codes. One per kind plus the two run outcomes.
const (
	ExitOK              = 0
	ExitPartialFailure  = 1
	ExitValidation      = 2
	ExitConfig          = 3
	ExitNetwork         = 4
	ExitRateLimit       = 5
	ExitUpstream        = 6
	ExitInternal        = 10
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Config:
		return "configuration"
	case Network:
		return "network"
	case RateLimit:
		return "rate-limit"
	case Upstream:
		return "upstream"
	default:
		return "internal"
	}
}

// ExitCode returns the process exit code for the kind.
func (k Kind) ExitCode() int {
	switch k {
	case Validation:
		return ExitValidation
	case Config:
		return ExitConfig
	case Network:
		return ExitNetwork
	case RateLimit:
		return ExitRateLimit
	case Upstream:
		return ExitUpstream
	default:
		return ExitInternal
	}
}

// Error is a classified failure. Message is for humans, Action suggests a
// remedy, Docs optionally points at reference material, and Err carries the
// wrapped technical detail.
type Error struct {
	Kind      Kind
	Message   string
	Action    string
	Docs      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error without a wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Action: defaultAction(kind)}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Action: defaultAction(kind), Err: err}
}

func defaultAction(kind Kind) string {
	switch kind {
	case Validation:
		return "check the command arguments and input file format"
	case Config:
		return "set PROMPTPLANE_API_KEY or pass --config with valid credentials"
	case Network:
		return "check network connectivity and the endpoint URL, then retry"
	case RateLimit:
		return "lower --max-inflight or raise the per-model rate limits"
	case Upstream:
		return "inspect the API error detail; the request may need changes"
	default:
		return "re-run with details and report the full error output"
	}
}

// Classify maps an arbitrary error to a classified *Error. Already
// classified errors pass through unchanged.
func Classify(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		e := Wrap(Network, "operation timed out", err)
		e.Retryable = true
		return e
	}
	var ne net.Error
	if errors.As(err, &ne) {
		e := Wrap(Network, "network failure", err)
		e.Retryable = true
		return e
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		e := Wrap(Network, "request failed", err)
		e.Retryable = true
		return e
	}
	return Wrap(Internal, "unexpected error", err)
}

// FromStatus maps an HTTP status code to a kind.
func FromStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return Config
	case status == 408:
		return Network
	case status == 429:
		return RateLimit
	default:
		return Upstream
	}
}

// RetryableStatus reports whether a response status is worth retrying.
func RetryableStatus(status int) bool {
	switch status {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// IsRetryable reports whether the error should consume a task retry.
func IsRetryable(err error) bool {
	return Classify(err).Retryable
}

// ErrPartialFailure marks a run that finished but had at least one task
// failure; distinct from fatal setup errors.
var ErrPartialFailure = errors.New("run completed with failures")

// ExitCode maps an error (or nil) to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, ErrPartialFailure) {
		return ExitPartialFailure
	}
	return Classify(err).Kind.ExitCode()
}
