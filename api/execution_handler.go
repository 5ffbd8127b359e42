package api

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/workflow"
)

// ListExecutionsRequest holds the query parameters of GET /v1/executions.
type ListExecutionsRequest struct {
	Status     string `query:"status"`
	Definition string `query:"definition"`
	Limit      int    `query:"limit"`
	Offset     int    `query:"offset"`
}

// StartExecutionRequest is the body of POST /v1/executions. An empty
// definition starts the image signer; a missing input starts with {}.
type StartExecutionRequest struct {
	Definition string        `json:"definition"`
	Input      payload.Value `json:"input"`
}

// StartExecutionResponse identifies the started execution.
type StartExecutionResponse struct {
	ID         id.ExecutionID `json:"id"`
	Definition string         `json:"definition"`
	Status     execlog.Status `json:"status"`
}

func (a *API) listExecutions(c *fiber.Ctx) error {
	var req ListExecutionsRequest
	if err := c.QueryParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid query: %v", err))
	}
	status := execlog.Status(req.Status)
	switch status {
	case "", execlog.StatusRunning, execlog.StatusSucceeded, execlog.StatusFailed:
	default:
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("unknown status %q", req.Status))
	}
	if req.Offset < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "offset must be >= 0")
	}

	summaries, err := a.eng.Store().ListExecutions(c.UserContext(), execlog.ListOpts{
		Limit:      pageSize(req.Limit),
		Offset:     req.Offset,
		Status:     status,
		Definition: req.Definition,
	})
	if err != nil {
		return fmt.Errorf("list executions: %w", err)
	}
	if summaries == nil {
		summaries = []*execlog.Summary{}
	}
	return c.JSON(summaries)
}

func (a *API) getExecution(c *fiber.Ctx) error {
	execID, err := parseExecutionID(c)
	if err != nil {
		return err
	}
	sum, err := a.eng.Store().GetExecution(c.UserContext(), execID)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(sum)
}

func (a *API) listRecords(c *fiber.Ctx) error {
	execID, err := parseExecutionID(c)
	if err != nil {
		return err
	}
	records, err := a.eng.Store().Query(c.UserContext(), execID)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(records)
}

func (a *API) listAttempts(c *fiber.Ctx) error {
	execID, err := parseExecutionID(c)
	if err != nil {
		return err
	}
	records, err := a.eng.Store().Query(c.UserContext(), execID)
	if err != nil {
		return mapStoreError(err)
	}
	attempts := execlog.Attempts(records)
	if attempts == nil {
		attempts = []execlog.Attempt{}
	}
	return c.JSON(attempts)
}

func (a *API) startExecution(c *fiber.Ctx) error {
	var req StartExecutionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		}
	}
	if req.Definition == "" {
		req.Definition = workflow.ImageSignerName
	}

	exec, err := a.eng.StartExecution(c.UserContext(), req.Definition, req.Input)
	if err != nil {
		return mapStoreError(err)
	}
	return c.Status(fiber.StatusAccepted).JSON(StartExecutionResponse{
		ID:         exec.ID,
		Definition: exec.Definition.Name(),
		Status:     exec.Status,
	})
}

func parseExecutionID(c *fiber.Ctx) (id.ExecutionID, error) {
	execID, err := id.ParseExecutionID(c.Params("executionId"))
	if err != nil {
		return id.Nil, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid execution ID: %v", err))
	}
	return execID, nil
}
