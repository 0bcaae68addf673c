package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed call.
type Kind int

// Failure kinds. Only KindTransport is retried.
const (
	KindTransport Kind = iota
	KindServer
	KindNotFound
	KindClient
	KindAuthExcluded
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindServer:
		return "server"
	case KindNotFound:
		return "not_found"
	case KindClient:
		return "client"
	case KindAuthExcluded:
		return "auth_excluded"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is the rejected result of Send. It carries the original failure:
// the transport error in Err, or the HTTP status and body.
type Error struct {
	Kind       Kind
	Method     string
	Path       string
	StatusCode int
	Body       string
	RetryCount int
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("pipeline: %s %s: %s (%d): %s", e.Method, e.Path, e.Kind, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("pipeline: %s %s: %s: %v", e.Method, e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether the failure is a transport failure.
func (e *Error) Retryable() bool {
	return e != nil && e.Kind == KindTransport
}

// KindOf returns the Kind of a pipeline error, and false for other errors.
func KindOf(err error) (Kind, bool) {
	var pipelineErr *Error
	if errors.As(err, &pipelineErr) {
		return pipelineErr.Kind, true
	}
	return 0, false
}

// IsKind reports whether err is a pipeline error of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// classifyStatus maps a non-2xx status to a Kind.
func classifyStatus(status int) Kind {
	switch {
	case status >= http.StatusInternalServerError:
		return KindServer
	case status == http.StatusNotFound:
		return KindNotFound
	default:
		return KindClient
	}
}

// classifyTransport decides whether an error from the HTTP client is a
// transport failure or the caller giving up. parent is the caller's
// context; the per-attempt timeout lives in a child context, so its
// expiry shows up as a transport failure.
func classifyTransport(parent context.Context) Kind {
	if parent.Err() != nil {
		return KindCanceled
	}
	return KindTransport
}

// userMessage is the text shown for a terminal failure.
func userMessage(e *Error) string {
	switch e.Kind {
	case KindServer:
		return "Server error. Please try again later."
	case KindNotFound:
		return "Resource not found."
	case KindTransport:
		return "Unable to reach the server. Check your connection."
	default:
		if e.Body != "" {
			return e.Body
		}
		if e.Err != nil {
			return e.Err.Error()
		}
		return http.StatusText(e.StatusCode)
	}
}
