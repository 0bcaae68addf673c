package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Header names the pipeline sets on every attempt.
const (
	HeaderRequestID  = "X-Request-ID"
	HeaderRetryCount = "X-Retry-Count"
)

// Request describes one logical call. The pipeline never mutates it; the
// retry counter lives outside the payload so a reused Request template is
// never aliased between calls.
type Request struct {
	Method  string
	Path    string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

// NewJSONRequest builds a Request with a JSON body.
func NewJSONRequest(method, path string, body any) (Request, error) {
	req := Request{Method: method, Path: path, Header: http.Header{}}
	if body == nil {
		return req, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return Request{}, fmt.Errorf("marshal request body: %w", err)
	}
	req.Body = data
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Response is a successful (2xx) response with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RetryCount int
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Attempt is one issuance of a Request.
type Attempt struct {
	CallID     string
	RetryCount int
}

type attemptKey struct{}

func withAttempt(ctx context.Context, a Attempt) context.Context {
	return context.WithValue(ctx, attemptKey{}, a)
}

// AttemptFromContext returns the attempt an outbound HTTP request belongs
// to. Useful to custom transports that need to tell re-issued attempts
// from fresh calls.
func AttemptFromContext(ctx context.Context) (Attempt, bool) {
	a, ok := ctx.Value(attemptKey{}).(Attempt)
	return a, ok
}

// RetryCountFromContext returns the retry count of the attempt, or 0.
func RetryCountFromContext(ctx context.Context) int {
	a, _ := AttemptFromContext(ctx)
	return a.RetryCount
}

// TokenSource supplies the current bearer credential. An empty token
// means the request goes out unauthenticated.
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed credential.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token() string { return string(s) }

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

// Token implements TokenSource.
func (f TokenFunc) Token() string { return f() }
