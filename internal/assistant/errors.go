package assistant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// ErrNoAssistantMessage is returned when a completed run left no assistant
// message on the thread.
var ErrNoAssistantMessage = errors.New("no assistant message on thread")

// Error is a failed remote call.
type Error struct {
	Op        string
	Status    int
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("assistant %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("assistant %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a remote failure the caller may retry
// (network errors, timeouts, rate limiting, 5xx).
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Transient
	}
	return false
}

// classify wraps a go-openai error with its HTTP status and transience.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	e := &Error{Op: op, Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var netErr net.Error
	switch {
	case errors.As(err, &apiErr):
		e.Status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		e.Status = reqErr.HTTPStatusCode
	}

	switch {
	case e.Status > 0:
		e.Transient = transientStatus(e.Status)
	case errors.Is(err, context.Canceled):
		e.Transient = false
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		e.Transient = true
	default:
		// Transport failures without a status (connection refused, reset).
		e.Transient = true
	}
	return e
}

func transientStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusConflict, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	}
	return false
}
