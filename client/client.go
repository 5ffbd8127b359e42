// Package client is a Go client for the image signer HTTP API.
//
// Usage:
//
//	c := client.New("http://imagesigner.internal:8080")
//
//	// Start an execution outside the schedule.
//	started, err := c.StartExecution(ctx, "", nil)
//
//	// Follow it until it finishes.
//	events, err := c.Watch(ctx, started.ID)
//	for evt := range events {
//	    fmt.Println(evt.Type)
//	}
//
// Errors returned for 404 responses match ingestion.ErrExecutionNotFound or
// ingestion.ErrTriggerNotFound with errors.Is.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/api"
)

// Client talks to one image signer API server. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// streamClient has no timeout; streams end when ctx is canceled.
	streamClient *http.Client
	bufferSize   int
	logger       *slog.Logger
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		streamClient: &http.Client{},
		bufferSize:   64,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.streamClient.Transport = c.httpClient.Transport
	return c
}

// BaseURL returns the server address the client was created with.
func (c *Client) BaseURL() string { return c.baseURL }

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string

	// sentinel is matched by errors.Is for 404 responses.
	sentinel error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("imagesigner/client: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("imagesigner/client: HTTP %d: %s", e.StatusCode, e.Message)
}

// Is reports whether target is the sentinel for this response.
func (e *APIError) Is(target error) bool {
	return e.sentinel != nil && errors.Is(e.sentinel, target)
}

// Health reports whether the server and its store are reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

// do sends a JSON request and decodes a JSON response into out when out
// is non-nil. notFound becomes the sentinel of a 404 response.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, notFound ...error) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("imagesigner/client: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("imagesigner/client: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("imagesigner/client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.decodeError(resp, notFound)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("imagesigner/client: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) decodeError(resp *http.Response, notFound []error) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body api.ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		apiErr.Code = body.Error
		apiErr.Message = body.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if resp.StatusCode == http.StatusNotFound && len(notFound) > 0 {
		apiErr.sentinel = notFound[0]
	}
	return apiErr
}
