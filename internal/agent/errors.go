package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hashitfit/coach/internal/assistant"
)

// Kind classifies a workflow failure for the caller.
type Kind string

const (
	// KindTransient covers network failures, rate limiting, remote 5xx and
	// poll timeouts. The caller may retry; the runtime never does.
	KindTransient Kind = "transient"
	// KindProtocol covers runs that end failed or expired and replies that
	// cannot be parsed even after salvage.
	KindProtocol Kind = "protocol"
	// KindValidation covers bad requests rejected before any remote call.
	KindValidation Kind = "validation"
	// KindConfig covers workflows the operator has not configured. Retrying
	// does not help.
	KindConfig Kind = "config"
)

// ErrRunTimeout is returned when a run is still not terminal after the
// configured number of polls.
var ErrRunTimeout = errors.New("run did not finish within the poll limit")

// Error is a request-level workflow failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
	// Detail is extra diagnostic text, e.g. the remote failure reason or the
	// schema violations of a reply.
	Detail string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Err)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the error kind to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindProtocol:
		return http.StatusBadGateway
	case KindConfig:
		return http.StatusInternalServerError
	default:
		return http.StatusServiceUnavailable
	}
}

// KindOf returns the Kind of err, or "" when err is not a workflow error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func validationError(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// callerGone reports whether err comes from the caller cancelling its own
// request rather than from the remote service.
func callerGone(err error) bool {
	return errors.Is(err, context.Canceled)
}

func protocolError(op string, err error, detail string) *Error {
	return &Error{Kind: KindProtocol, Op: op, Err: err, Detail: detail}
}

// remoteError wraps a failed remote or infrastructure call. Errors that are
// already workflow errors pass through unchanged.
func remoteError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	kind := KindProtocol
	switch {
	case assistant.IsTransient(err),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, ErrRunTimeout),
		errors.Is(err, ErrCircuitOpen):
		kind = KindTransient
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
