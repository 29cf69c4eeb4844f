// Package ingesterr defines the closed set of failure kinds produced by the
// ingestion pipeline. The reconnection policy dispatches on Kind (and on
// Cause for transport failures) instead of inspecting error text.
package ingesterr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure
type Kind int

const (
	// KindFatal is any failure the pipeline cannot recover from
	KindFatal Kind = iota
	// KindTransport covers connect failures, HTTP errors, timeouts and resets
	KindTransport
	// KindSink is a failed write to a point sink
	KindSink
	// KindDecode is a malformed protocol line or JSON payload
	KindDecode
	// KindShape is a snapshot sub-tree with an unexpected shape
	KindShape
	// KindCancelled is an operator-requested stop
	KindCancelled
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindTransport:
		return "transport"
	case KindSink:
		return "sink"
	case KindDecode:
		return "decode"
	case KindShape:
		return "shape"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Cause narrows a transport failure
type Cause int

const (
	CauseNone Cause = iota
	// CauseConnect is a dial or TCP-level connect failure
	CauseConnect
	// CauseHTTPStatus is a non-2xx response from the push endpoint
	CauseHTTPStatus
	// CauseTimeout is a connect or read deadline being exceeded
	CauseTimeout
	// CauseReset is a connection dropped mid-stream
	CauseReset
	// CauseNegotiationReset is the peer closing the connection while TLS
	// and the HTTP exchange are still being negotiated. It is transient and
	// reconnects immediately.
	CauseNegotiationReset
)

// String returns the string representation of Cause
func (c Cause) String() string {
	switch c {
	case CauseConnect:
		return "connect"
	case CauseHTTPStatus:
		return "http_status"
	case CauseTimeout:
		return "timeout"
	case CauseReset:
		return "reset"
	case CauseNegotiationReset:
		return "negotiation_reset"
	default:
		return "none"
	}
}

// Error is a classified pipeline failure
type Error struct {
	Kind       Kind
	Cause      Cause
	Op         string
	StatusCode int
	Err        error
}

// Error implements the error interface
func (e *Error) Error() string {
	var msg string
	if e.Cause != CauseNone {
		msg = fmt.Sprintf("%s: %s %s", e.Op, e.Kind, e.Cause)
	} else if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, e.Kind)
	} else {
		msg = e.Kind.String()
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Transport wraps err as a transport failure with the given cause
func Transport(op string, cause Cause, err error) error {
	return &Error{Kind: KindTransport, Cause: cause, Op: op, Err: err}
}

// HTTPStatus reports a non-2xx response from the push endpoint
func HTTPStatus(op string, statusCode int, status string) error {
	return &Error{
		Kind:       KindTransport,
		Cause:      CauseHTTPStatus,
		Op:         op,
		StatusCode: statusCode,
		Err:        errors.New(status),
	}
}

// Sink wraps err as a failed sink write
func Sink(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindSink, Op: op, Err: err}
}

// Decode wraps err as a malformed-input failure
func Decode(op string, err error) error {
	return &Error{Kind: KindDecode, Op: op, Err: err}
}

// Shape wraps err as an unexpected snapshot shape
func Shape(op string, err error) error {
	return &Error{Kind: KindShape, Op: op, Err: err}
}

// Fatal wraps err as an unrecoverable failure
func Fatal(op string, err error) error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

// Cancelled reports an operator-requested stop
func Cancelled(op string, err error) error {
	return &Error{Kind: KindCancelled, Op: op, Err: err}
}

// KindOf returns the Kind of err. Context cancellation maps to
// KindCancelled and untagged errors are KindFatal.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindFatal
}

// CauseOf returns the transport Cause of err, or CauseNone
func CauseOf(err error) Cause {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Cause
	}
	return CauseNone
}

// IsRetryable reports whether the reconnection policy should restart the
// pipeline after err
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindSink:
		return true
	default:
		return false
	}
}
