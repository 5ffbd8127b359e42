// Package httptask invokes tasks hosted behind an HTTP endpoint.
//
// The current payload is POSTed as the JSON request body and a 2xx JSON
// response body becomes the next payload. Status codes map onto task error
// classes: 429 is throttled, 5xx is service-unavailable, transport failures
// are transient-client-error and other 4xx responses are client-error. A
// handler can name the class explicitly with the X-Task-Error-Class header.
package httptask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/task"
)

// ErrorClassHeader lets a task handler classify its own failure.
const ErrorClassHeader = "X-Task-Error-Class"

const defaultTimeout = 5 * time.Minute

// Invoker calls one HTTP task endpoint. It is safe for concurrent use.
type Invoker struct {
	name    string
	url     string
	client  *fasthttp.Client
	timeout time.Duration
	headers map[string]string
	logger  *slog.Logger
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithClient sets the fasthttp client. Tests use it to dial in-memory
// listeners.
func WithClient(c *fasthttp.Client) Option {
	return func(i *Invoker) { i.client = c }
}

// WithTimeout bounds each call. Zero keeps the default of five minutes.
func WithTimeout(d time.Duration) Option {
	return func(i *Invoker) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// WithHeader adds a request header to every call.
func WithHeader(key, value string) Option {
	return func(i *Invoker) { i.headers[key] = value }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Invoker) { i.logger = l }
}

// New creates an invoker for the task name served at url.
func New(name, url string, opts ...Option) *Invoker {
	i := &Invoker{
		name:    name,
		url:     url,
		timeout: defaultTimeout,
		headers: make(map[string]string),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.client == nil {
		i.client = &fasthttp.Client{
			Name:                "imagesigner",
			MaxConnsPerHost:     64,
			MaxIdleConnDuration: 90 * time.Second,
		}
	}
	return i
}

// Invoke implements task.Invoker.
func (i *Invoker) Invoke(ctx context.Context, in payload.Value) (payload.Value, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(i.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	for k, v := range i.headers {
		req.Header.Set(k, v)
	}
	req.SetBody(in.Bytes())

	deadline := time.Now().Add(i.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	budget := time.Until(deadline)

	if err := i.client.DoDeadline(req, resp, deadline); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) || time.Now().After(deadline) {
			return payload.Value{}, &task.Error{
				Class:   task.ClassTimeout,
				Message: fmt.Sprintf("%s: no response within %s", i.name, budget),
				Cause:   err,
			}
		}
		return payload.Value{}, &task.Error{
			Class:   task.ClassTransientClientError,
			Message: fmt.Sprintf("%s: %v", i.name, err),
			Cause:   err,
		}
	}

	status := resp.StatusCode()
	body := resp.Body()

	if class := string(resp.Header.Peek(ErrorClassHeader)); class != "" {
		return payload.Value{}, task.Errorf(class, "%s: %s", i.name, snippet(body))
	}

	if status < 200 || status > 299 {
		i.logger.Debug("task endpoint returned error status",
			slog.String("task", i.name),
			slog.Int("status", status),
		)
		return payload.Value{}, task.Errorf(classForStatus(status), "%s: HTTP %d: %s", i.name, status, snippet(body))
	}

	if len(body) == 0 {
		return payload.Empty(), nil
	}

	out, err := payload.Parse(body)
	if err != nil {
		return payload.Value{}, &task.Error{
			Class:   task.ClassMalformedPayload,
			Message: fmt.Sprintf("%s: response is not JSON: %s", i.name, snippet(body)),
			Cause:   err,
		}
	}
	return out, nil
}

func classForStatus(status int) string {
	switch {
	case status == fasthttp.StatusTooManyRequests:
		return task.ClassThrottled
	case status >= 500:
		return task.ClassServiceUnavailable
	case status >= 400:
		return task.ClassClientError
	default:
		return task.ClassUnknown
	}
}

func snippet(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
