package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/api"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
)

// StartExecution starts definition with input and returns without waiting.
// An empty definition starts the image signer; the zero input starts with {}.
func (c *Client) StartExecution(ctx context.Context, definition string, input payload.Value) (*api.StartExecutionResponse, error) {
	var resp api.StartExecutionResponse
	err := c.do(ctx, http.MethodPost, "/v1/executions", nil,
		api.StartExecutionRequest{Definition: definition, Input: input}, &resp,
		ingestion.ErrUnknownDefinition)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListExecutions returns execution summaries, newest first.
func (c *Client) ListExecutions(ctx context.Context, opts execlog.ListOpts) ([]*execlog.Summary, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.Definition != "" {
		q.Set("definition", opts.Definition)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	var out []*execlog.Summary
	if err := c.do(ctx, http.MethodGet, "/v1/executions", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetExecution returns the summary folded from one execution's log.
func (c *Client) GetExecution(ctx context.Context, executionID id.ExecutionID) (*execlog.Summary, error) {
	var out execlog.Summary
	if err := c.do(ctx, http.MethodGet, "/v1/executions/"+executionID.String(), nil, nil, &out,
		ingestion.ErrExecutionNotFound); err != nil {
		return nil, err
	}
	return &out, nil
}

// Records returns the execution log of one execution in sequence order.
func (c *Client) Records(ctx context.Context, executionID id.ExecutionID) ([]*execlog.Record, error) {
	var out []*execlog.Record
	if err := c.do(ctx, http.MethodGet, "/v1/executions/"+executionID.String()+"/records", nil, nil, &out,
		ingestion.ErrExecutionNotFound); err != nil {
		return nil, err
	}
	return out, nil
}

// Attempts returns the task attempts of one execution in log order.
func (c *Client) Attempts(ctx context.Context, executionID id.ExecutionID) ([]execlog.Attempt, error) {
	var out []execlog.Attempt
	if err := c.do(ctx, http.MethodGet, "/v1/executions/"+executionID.String()+"/attempts", nil, nil, &out,
		ingestion.ErrExecutionNotFound); err != nil {
		return nil, err
	}
	return out, nil
}
