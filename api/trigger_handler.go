package api

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/schedule"
)

func (a *API) listTriggers(c *fiber.Ctx) error {
	triggers, err := a.eng.Store().ListTriggers(c.UserContext())
	if err != nil {
		return fmt.Errorf("list triggers: %w", err)
	}
	if triggers == nil {
		triggers = []*schedule.Trigger{}
	}
	return c.JSON(triggers)
}

func (a *API) getTrigger(c *fiber.Ctx) error {
	triggerID, err := parseTriggerID(c)
	if err != nil {
		return err
	}
	t, err := a.eng.Store().GetTrigger(c.UserContext(), triggerID)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(t)
}

func (a *API) enableTrigger(c *fiber.Ctx) error {
	return a.setTriggerEnabled(c, true)
}

func (a *API) disableTrigger(c *fiber.Ctx) error {
	return a.setTriggerEnabled(c, false)
}

// setTriggerEnabled flips the flag and returns the updated trigger. The
// scheduler picks the change up on its next poll.
func (a *API) setTriggerEnabled(c *fiber.Ctx, enabled bool) error {
	triggerID, err := parseTriggerID(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()
	if err := a.eng.Store().SetTriggerEnabled(ctx, triggerID, enabled); err != nil {
		return mapStoreError(err)
	}
	t, err := a.eng.Store().GetTrigger(ctx, triggerID)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(t)
}

func parseTriggerID(c *fiber.Ctx) (id.TriggerID, error) {
	triggerID, err := id.ParseTriggerID(c.Params("triggerId"))
	if err != nil {
		return id.Nil, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid trigger ID: %v", err))
	}
	return triggerID, nil
}
