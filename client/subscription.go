package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/stream"
)

// Subscribe opens an event stream on topics and returns a channel of
// events. No topics means the firehose. The channel is closed when ctx is
// canceled or the server ends the stream.
//
// Topics follow the stream convention:
//   - "execution:<executionID>"  events for one execution
//   - "trigger:<triggerID>"      events for one trigger
//   - "executions"               every execution and attempt event
//   - "triggers"                 every schedule event
//   - "firehose"                 everything
func (c *Client) Subscribe(ctx context.Context, topics ...string) (<-chan *stream.Event, error) {
	q := url.Values{}
	for _, topic := range topics {
		q.Add("topic", topic)
	}
	path := "/v1/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return c.openStream(ctx, path, nil, nil)
}

// Watch follows one execution. The channel is closed after the
// execution's terminal event, or immediately when the execution has
// already finished.
func (c *Client) Watch(ctx context.Context, executionID id.ExecutionID) (<-chan *stream.Event, error) {
	ctx, cancel := context.WithCancel(ctx)
	terminal := func(evt *stream.Event) bool {
		return evt.Type == stream.EventExecutionSucceeded || evt.Type == stream.EventExecutionFailed
	}
	ch, err := c.openStream(ctx, "/v1/executions/"+executionID.String()+"/events", terminal, cancel)
	if err != nil {
		cancel()
		return nil, err
	}

	// The stream is open, so a terminal event after this check is seen.
	sum, err := c.GetExecution(ctx, executionID)
	if err != nil {
		cancel()
		return nil, err
	}
	if sum.Status != execlog.StatusRunning {
		cancel()
	}
	return ch, nil
}

// openStream issues the request and starts the reader. until, when set,
// ends the stream after the first event it matches. done runs when the
// reader exits.
func (c *Client) openStream(ctx context.Context, path string, until func(*stream.Event) bool, done func()) (<-chan *stream.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("imagesigner/client: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("imagesigner/client: GET %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.decodeError(resp, []error{ingestion.ErrExecutionNotFound})
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, fmt.Errorf("imagesigner/client: GET %s: unexpected content type %q", path, ct)
	}

	ch := make(chan *stream.Event, c.bufferSize)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		if done != nil {
			defer done()
		}
		err := readEvents(resp.Body, func(evt *stream.Event) bool {
			select {
			case ch <- evt:
			case <-ctx.Done():
				return false
			}
			return until == nil || !until(evt)
		})
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("event stream ended", slog.String("path", path), slog.String("error", err.Error()))
		}
	}()
	return ch, nil
}

// readEvents parses Server-Sent Events from r and hands each decoded event
// to emit until emit returns false or r ends. Comment and id lines are
// skipped.
func readEvents(r io.Reader, emit func(*stream.Event) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) == 0 {
				continue
			}
			var evt stream.Event
			if err := json.Unmarshal([]byte(strings.Join(data, "\n")), &evt); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			data = data[:0]
			if !emit(&evt) {
				return nil
			}
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	return scanner.Err()
}
