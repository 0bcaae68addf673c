// Package pipeline sends backend requests with a bearer credential, a
// per-attempt timeout, failure classification and bounded retries for
// transport failures.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/wardline/internal/clock"
	"github.com/ashureev/wardline/internal/notify"
	"github.com/google/uuid"
)

// DefaultTimeout bounds each attempt, not the whole retry chain.
const DefaultTimeout = 30 * time.Second

// maxResponseSize caps how much of a response body is read.
const maxResponseSize int64 = 32 << 20

// Config holds the dependencies of a Pipeline.
type Config struct {
	// BaseURL is the versioned API root, e.g. "http://localhost:8080/api/v1".
	BaseURL string
	// HTTPClient performs attempts. Its own Timeout should be zero or
	// larger than Timeout. If nil, a default client is used.
	HTTPClient *http.Client
	// Tokens supplies the bearer credential. May be nil.
	Tokens TokenSource
	// Policy defaults to DefaultRetryPolicy() when MaxRetries and
	// BaseDelay are both zero.
	Policy RetryPolicy
	// Timeout per attempt. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Coordinator suppresses duplicate "retrying" notifications. If nil,
	// the pipeline creates its own.
	Coordinator *RetryCoordinator
	Notifier    notify.Notifier
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	baseURL     string
	httpClient  *http.Client
	tokens      TokenSource
	policy      RetryPolicy
	timeout     time.Duration
	coordinator *RetryCoordinator
	notifier    notify.Notifier
	clock       clock.Clock
	logger      *slog.Logger
}

// New validates cfg and returns a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("pipeline: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("pipeline: invalid BaseURL %q: %w", cfg.BaseURL, err)
	}

	p := &Pipeline{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  cfg.HTTPClient,
		tokens:      cfg.Tokens,
		policy:      cfg.Policy,
		timeout:     cfg.Timeout,
		coordinator: cfg.Coordinator,
		notifier:    cfg.Notifier,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{}
	}
	if p.policy.MaxRetries == 0 && p.policy.BaseDelay == 0 {
		p.policy = DefaultRetryPolicy()
	}
	if p.policy.MaxRetries < 0 {
		return nil, fmt.Errorf("pipeline: MaxRetries must be >= 0")
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	if p.clock == nil {
		p.clock = clock.Real()
	}
	if p.coordinator == nil {
		p.coordinator = NewRetryCoordinator(p.clock, DefaultNotificationWindow)
	}
	if p.notifier == nil {
		p.notifier = notify.LogNotifier{Logger: cfg.Logger}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p, nil
}

// Policy returns the retry policy in effect.
func (p *Pipeline) Policy() RetryPolicy { return p.policy }

// Send issues req and retries transport failures with exponential
// backoff. Every failure is returned as *Error. Identical bodies are
// re-sent on retry: a write that reached the server before the response
// was lost will be applied twice.
func (p *Pipeline) Send(ctx context.Context, req Request) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	attempt := Attempt{CallID: uuid.NewString()}

	for {
		resp, failure := p.do(ctx, req, attempt)
		if failure == nil {
			return resp, nil
		}
		failure.RetryCount = attempt.RetryCount

		if failure.Kind == KindCanceled {
			return nil, failure
		}
		if p.policy.Excluded(req.Path) {
			failure.Kind = KindAuthExcluded
			p.logger.Debug("Request failed on excluded path, not retrying",
				"method", req.Method, "path", req.Path, "error", failure)
			return nil, failure
		}
		if !failure.Retryable() {
			p.notifyFailure(failure)
			return nil, failure
		}
		if attempt.RetryCount >= p.policy.MaxRetries {
			p.logger.Warn("Request retries exhausted",
				"method", req.Method, "path", req.Path,
				"request_id", attempt.CallID, "retry_count", attempt.RetryCount, "error", failure.Err)
			p.notifyFailure(failure)
			return nil, failure
		}

		attempt.RetryCount++
		delay := p.policy.Delay(attempt.RetryCount)
		p.announceRetry()
		p.logger.Warn("Transport failure, retrying",
			"method", req.Method, "path", req.Path,
			"request_id", attempt.CallID, "retry_count", attempt.RetryCount,
			"delay", delay, "error", failure.Err)

		select {
		case <-ctx.Done():
			return nil, &Error{
				Kind: KindCanceled, Method: req.Method, Path: req.Path,
				RetryCount: attempt.RetryCount, Err: ctx.Err(),
			}
		case <-p.clock.After(delay):
		}
	}
}

// do performs a single attempt.
func (p *Pipeline) do(ctx context.Context, req Request, attempt Attempt) (*Response, *Error) {
	fail := func(kind Kind, err error) *Error {
		return &Error{Kind: kind, Method: req.Method, Path: req.Path, Err: err}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	attemptCtx, cancel := context.WithTimeout(withAttempt(ctx, attempt), timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, method, p.baseURL+req.Path, body)
	if err != nil {
		return nil, fail(KindClient, fmt.Errorf("create request: %w", err))
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if p.tokens != nil {
		if token := p.tokens.Token(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}
	httpReq.Header.Set(HeaderRequestID, attempt.CallID)
	if attempt.RetryCount > 0 {
		httpReq.Header.Set(HeaderRetryCount, strconv.Itoa(attempt.RetryCount))
	}

	res, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fail(classifyTransport(ctx), err)
	}
	defer func() { _ = res.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		// The status line arrived but the body did not.
		return nil, fail(classifyTransport(ctx), fmt.Errorf("read response body: %w", err))
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &Error{
			Kind:       classifyStatus(res.StatusCode),
			Method:     req.Method,
			Path:       req.Path,
			StatusCode: res.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       data,
		RetryCount: attempt.RetryCount,
	}, nil
}

func (p *Pipeline) announceRetry() {
	if !p.coordinator.TryBeginNotification() {
		return
	}
	p.notifier.Notify(notify.Notification{
		Level:   notify.LevelWarning,
		Topic:   notify.TopicRetrying,
		Message: "Connection problem. Retrying...",
		At:      p.clock.Now(),
	})
}

func (p *Pipeline) notifyFailure(failure *Error) {
	p.notifier.Notify(notify.Notification{
		Level:   notify.LevelError,
		Topic:   notify.TopicRequest,
		Message: userMessage(failure),
		At:      p.clock.Now(),
	})
}

// Get is a convenience for a GET with no body.
func (p *Pipeline) Get(ctx context.Context, path string) (*Response, error) {
	return p.Send(ctx, Request{Method: http.MethodGet, Path: path})
}

// PostJSON marshals body and POSTs it to path.
func (p *Pipeline) PostJSON(ctx context.Context, path string, body any) (*Response, error) {
	req, err := NewJSONRequest(http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	return p.Send(ctx, req)
}
