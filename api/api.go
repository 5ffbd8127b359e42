// Package api serves the execution log and the trigger catalogue over HTTP.
//
// Routes:
//
//	GET  /healthz
//	GET  /v1/executions                   ?status=&definition=&limit=&offset=
//	POST /v1/executions                   {"definition": "...", "input": {...}}
//	GET  /v1/executions/:executionId
//	GET  /v1/executions/:executionId/records
//	GET  /v1/executions/:executionId/attempts
//	GET  /v1/triggers
//	GET  /v1/triggers/:triggerId
//	POST /v1/triggers/:triggerId/enable
//	POST /v1/triggers/:triggerId/disable
//	GET  /v1/events                       ?topic=firehose|executions|triggers|execution:<id>|trigger:<id>
//	GET  /v1/executions/:executionId/events
//
// The events routes stream lifecycle events as Server-Sent Events. A stream
// ends when the server shuts down or its write timeout elapses; EventSource
// clients reconnect on their own.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/engine"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// API wires the HTTP handlers to an engine.
type API struct {
	eng    *engine.Engine
	app    *fiber.App
	logger *slog.Logger

	heartbeat time.Duration
	streams   atomic.Int64
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithHeartbeat sets how often idle event streams send a keep-alive
// comment. The default is 15s.
func WithHeartbeat(d time.Duration) Option {
	return func(a *API) { a.heartbeat = d }
}

// New creates an API serving eng.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default(), heartbeat: defaultHeartbeat}
	for _, opt := range opts {
		opt(a)
	}

	a.app = fiber.New(fiber.Config{
		AppName:               "imagesigner",
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler:          a.errorHandler,
		DisableStartupMessage: true,
	})
	a.app.Use(fiberrecover.New())
	a.app.Use(a.requestLogger)
	a.RegisterRoutes(a.app)
	return a
}

// App returns the underlying Fiber app.
func (a *API) App() *fiber.App { return a.app }

// RegisterRoutes registers every route on router.
func (a *API) RegisterRoutes(router fiber.Router) {
	router.Get("/healthz", a.health)

	v1 := router.Group("/v1")

	v1.Get("/executions", a.listExecutions)
	v1.Post("/executions", a.startExecution)
	v1.Get("/executions/:executionId", a.getExecution)
	v1.Get("/executions/:executionId/records", a.listRecords)
	v1.Get("/executions/:executionId/attempts", a.listAttempts)
	v1.Get("/executions/:executionId/events", a.streamExecutionEvents)

	v1.Get("/triggers", a.listTriggers)
	v1.Get("/triggers/:triggerId", a.getTrigger)
	v1.Post("/triggers/:triggerId/enable", a.enableTrigger)
	v1.Post("/triggers/:triggerId/disable", a.disableTrigger)

	v1.Get("/events", a.streamEvents)
}

// Listen serves on addr until Shutdown is called.
func (a *API) Listen(addr string) error {
	a.logger.Info("api listening", slog.String("address", addr))
	return a.app.Listen(addr)
}

// Shutdown ends open event streams, stops accepting connections and waits
// for in-flight requests until ctx is done.
func (a *API) Shutdown(ctx context.Context) error {
	a.eng.Stream().Close()
	return a.app.ShutdownWithContext(ctx)
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *API) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		a.logger.Error("request failed",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("error", err.Error()),
		)
	}
	return c.Status(code).JSON(ErrorResponse{
		Error:   fmt.Sprintf("error_%d", code),
		Message: err.Error(),
	})
}

func (a *API) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	a.logger.Debug("request",
		slog.String("method", c.Method()),
		slog.String("path", c.Path()),
		slog.Int("status", c.Response().StatusCode()),
		slog.Duration("latency", time.Since(start)),
	)
	return err
}

func (a *API) health(c *fiber.Ctx) error {
	if err := a.eng.Store().Ping(c.UserContext()); err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// mapStoreError turns sentinel errors into HTTP errors.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ingestion.ErrExecutionNotFound),
		errors.Is(err, ingestion.ErrTriggerNotFound),
		errors.Is(err, ingestion.ErrUnknownDefinition):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ingestion.ErrInvalidConfig):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, ingestion.ErrEngineStopped):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}

func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	default:
		return limit
	}
}
