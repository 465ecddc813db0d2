package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// UpstreamHTTPError is a non-200 reply from the AIDA server
type UpstreamHTTPError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamHTTPError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// ConnectionError means the AIDA server could not be reached
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "connection failed: " + e.Err.Error() }
func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError means the AIDA server did not answer within the deadline
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return "request timed out: " + e.Err.Error() }
func (e *TimeoutError) Unwrap() error { return e.Err }

// UnexpectedError covers everything else: bad input, undecodable replies
type UnexpectedError struct {
	Err error
}

func (e *UnexpectedError) Error() string { return "unexpected error: " + e.Err.Error() }
func (e *UnexpectedError) Unwrap() error { return e.Err }

// Outcomes recorded for every upstream call
const (
	OutcomeSuccess    = "success"
	OutcomeUpstream   = "upstream_error"
	OutcomeConnection = "connection_error"
	OutcomeTimeout    = "timeout"
	OutcomeUnexpected = "unexpected_error"
	OutcomeRejected   = "rejected"
)

// classify maps a transport error onto the bridge taxonomy
func classify(err error) error {
	if err == nil {
		return nil
	}

	var (
		upstream   *UpstreamHTTPError
		connErr    *ConnectionError
		timeoutErr *TimeoutError
		unexpected *UnexpectedError
	)
	if errors.As(err, &upstream) || errors.As(err, &connErr) ||
		errors.As(err, &timeoutErr) || errors.As(err, &unexpected) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Err: err}
	}

	// A caller that went away, or a URL the transport refuses outright,
	// never reached the network
	if errors.Is(err, context.Canceled) {
		return &UnexpectedError{Err: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &ConnectionError{Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if isMalformedTarget(urlErr) {
			return &UnexpectedError{Err: err}
		}
		return &ConnectionError{Err: err}
	}

	return &UnexpectedError{Err: err}
}

// isMalformedTarget reports request URLs net/http rejects before dialing
func isMalformedTarget(err *url.Error) bool {
	msg := err.Err.Error()
	return strings.Contains(msg, "unsupported protocol scheme") ||
		strings.Contains(msg, "no Host in request URL")
}

// outcomeOf names the class of a classified error
func outcomeOf(err error) string {
	var (
		upstream   *UpstreamHTTPError
		connErr    *ConnectionError
		timeoutErr *TimeoutError
	)
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &upstream):
		return OutcomeUpstream
	case errors.As(err, &timeoutErr):
		return OutcomeTimeout
	case errors.As(err, &connErr):
		return OutcomeConnection
	default:
		return OutcomeUnexpected
	}
}
