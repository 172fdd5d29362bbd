package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited"
	KindMalformed   ErrorKind = "malformed"
	KindTimeout     ErrorKind = "timeout"
	KindUnavailable ErrorKind = "unavailable"
)

// OracleError is returned for every failed completion. All kinds are
// transient from the pipeline's point of view.
type OracleError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *OracleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oracle %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("oracle %s: %s", e.Kind, e.Msg)
}

func (e *OracleError) Unwrap() error {
	return e.Err
}

func (e *OracleError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindMalformed, KindTimeout, KindUnavailable:
		return true
	}
	return false
}

func Malformed(msg string, err error) *OracleError {
	return &OracleError{Kind: KindMalformed, Msg: msg, Err: err}
}

// IsRetryable reports whether err carries a retryable OracleError.
func IsRetryable(err error) bool {
	var oe *OracleError
	if errors.As(err, &oe) {
		return oe.Retryable()
	}
	return false
}

// classify maps a transport error to an OracleError. The ollama client does
// not expose status codes, so rate limiting is recognised from the message.
func classify(err error) *OracleError {
	var oe *OracleError
	if errors.As(err, &oe) {
		return oe
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &OracleError{Kind: KindTimeout, Msg: "completion timed out", Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return &OracleError{Kind: KindRateLimited, Msg: "rate limited", Err: err}
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return &OracleError{Kind: KindTimeout, Msg: "completion timed out", Err: err}
	default:
		return &OracleError{Kind: KindUnavailable, Msg: "completion failed", Err: err}
	}
}
