package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/retry"
)

// Error classes. The first three are retryable under retry.DefaultPolicy.
const (
	ClassServiceUnavailable   = retry.ClassServiceUnavailable
	ClassThrottled            = retry.ClassThrottled
	ClassTransientClientError = retry.ClassTransientClientError

	ClassMalformedPayload = "malformed-payload"
	ClassClientError      = "client-error"
	ClassTimeout          = "timeout"
	ClassCanceled         = "canceled"
	ClassPanic            = "panic"
	ClassUnknown          = "unknown"
)

// Error is a classified task failure.
type Error struct {
	Class   string
	Message string
	Cause   error
}

// Errorf builds an *Error with a formatted message.
func Errorf(class, format string, args ...any) *Error {
	return &Error{Class: class, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err returns nil.
func Wrap(class string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Message: err.Error(), Cause: err}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Class
	}
	return e.Class + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// ClassOf returns the class of err. Unclassified errors map to the closest
// known class, falling back to ClassUnknown. A nil err returns "".
func ClassOf(err error) string {
	if err == nil {
		return ""
	}

	var te *Error
	if errors.As(err, &te) && te.Class != "" {
		return te.Class
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	case errors.Is(err, payload.ErrInvalid), errors.Is(err, payload.ErrNoMatch):
		return ClassMalformedPayload
	default:
		return ClassUnknown
	}
}

// Classify returns err as an *Error, classifying it with ClassOf when it is
// not one already.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) && te.Class != "" {
		return te
	}
	return Wrap(ClassOf(err), err)
}
