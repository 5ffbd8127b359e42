package client

import (
	"context"
	"net/http"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/schedule"
)

// ListTriggers returns every trigger known to the server.
func (c *Client) ListTriggers(ctx context.Context) ([]*schedule.Trigger, error) {
	var out []*schedule.Trigger
	if err := c.do(ctx, http.MethodGet, "/v1/triggers", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTrigger returns one trigger.
func (c *Client) GetTrigger(ctx context.Context, triggerID id.TriggerID) (*schedule.Trigger, error) {
	var out schedule.Trigger
	if err := c.do(ctx, http.MethodGet, "/v1/triggers/"+triggerID.String(), nil, nil, &out,
		ingestion.ErrTriggerNotFound); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnableTrigger resumes firing a trigger and returns its new state.
func (c *Client) EnableTrigger(ctx context.Context, triggerID id.TriggerID) (*schedule.Trigger, error) {
	return c.setEnabled(ctx, triggerID, "enable")
}

// DisableTrigger pauses a trigger and returns its new state. Executions
// already started keep running.
func (c *Client) DisableTrigger(ctx context.Context, triggerID id.TriggerID) (*schedule.Trigger, error) {
	return c.setEnabled(ctx, triggerID, "disable")
}

func (c *Client) setEnabled(ctx context.Context, triggerID id.TriggerID, action string) (*schedule.Trigger, error) {
	var out schedule.Trigger
	if err := c.do(ctx, http.MethodPost, "/v1/triggers/"+triggerID.String()+"/"+action, nil, nil, &out,
		ingestion.ErrTriggerNotFound); err != nil {
		return nil, err
	}
	return &out, nil
}
