package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/stream"
)

const defaultHeartbeat = 15 * time.Second

// streamEvents serves lifecycle events as Server-Sent Events. Each topic
// query parameter adds a subscription; none means the firehose.
func (a *API) streamEvents(c *fiber.Ctx) error {
	var topics []string
	for _, raw := range c.Context().QueryArgs().PeekMulti("topic") {
		topic := string(raw)
		if err := stream.ValidateTopic(topic); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		topics = append(topics, topic)
	}
	if len(topics) == 0 {
		topics = []string{stream.TopicFirehose}
	}
	return a.serveStream(c, topics)
}

// streamExecutionEvents follows one execution.
func (a *API) streamExecutionEvents(c *fiber.Ctx) error {
	execID, err := parseExecutionID(c)
	if err != nil {
		return err
	}
	if _, err := a.eng.Store().GetExecution(c.UserContext(), execID); err != nil {
		return mapStoreError(err)
	}
	return a.serveStream(c, []string{stream.ExecutionTopic(execID.String())})
}

func (a *API) serveStream(c *fiber.Ctx, topics []string) error {
	broker := a.eng.Stream()
	subID := fmt.Sprintf("sse-%d", a.streams.Add(1))
	sub := broker.Subscribe(subID, topics...)

	c.Set(fiber.HeaderContentType, "text/event-stream; charset=utf-8")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	logger := a.logger.With(slog.String("subscriber", subID))
	heartbeat := a.heartbeat

	// The writer runs after the handler returns, so it must not touch c.
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer broker.RemoveSubscriber(subID)
		logger.Debug("event stream opened", slog.Any("topics", topics))
		if err := writeEvents(w, sub, heartbeat); err != nil {
			logger.Debug("event stream closed", slog.String("error", err.Error()))
		}
	})
	return nil
}

// writeEvents copies events to w until the subscriber closes or a write
// fails. Comment lines keep idle connections open.
func writeEvents(w *bufio.Writer, sub *stream.Subscriber, heartbeat time.Duration) error {
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	var seq int64
	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				return nil
			}
			data, err := json.Marshal(evt)
			if err != nil {
				return err
			}
			seq++
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, evt.Type, data)
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
}
