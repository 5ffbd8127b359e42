// Package retry decides whether a failed task attempt is tried again and
// how long to wait first.
package retry

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/backoff"
)

// Error classes retried by DefaultPolicy.
const (
	ClassServiceUnavailable   = "service-unavailable"
	ClassThrottled            = "throttled"
	ClassTransientClientError = "transient-client-error"
)

// Policy bounds the attempts of one task state.
type Policy struct {
	// Retryable lists the error classes that may be retried.
	Retryable []string `json:"retryable" yaml:"retryable"`

	// MaxAttempts counts every invocation, including the first.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	BaseInterval time.Duration `json:"base_interval" yaml:"base_interval"`
	Multiplier   float64       `json:"multiplier" yaml:"multiplier"`

	// MaxInterval caps the delay. Zero means uncapped.
	MaxInterval time.Duration `json:"max_interval,omitempty" yaml:"max_interval,omitempty"`
}

// DefaultPolicy retries service outages, throttling and transient client
// errors three times in total, waiting 1s then 2s.
func DefaultPolicy() Policy {
	return Policy{
		Retryable:    []string{ClassServiceUnavailable, ClassThrottled, ClassTransientClientError},
		MaxAttempts:  3,
		BaseInterval: time.Second,
		Multiplier:   2,
	}
}

// None is a policy that never retries.
func None() Policy {
	return Policy{MaxAttempts: 1, Multiplier: 1}
}

// Validate reports whether p can be evaluated.
func (p Policy) Validate() error {
	var errs []error
	if p.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts %d must be >= 1", p.MaxAttempts))
	}
	if p.BaseInterval < 0 {
		errs = append(errs, fmt.Errorf("base interval %v must be >= 0", p.BaseInterval))
	}
	if p.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("multiplier %v must be >= 1", p.Multiplier))
	}
	if p.MaxInterval < 0 {
		errs = append(errs, fmt.Errorf("max interval %v must be >= 0", p.MaxInterval))
	}
	return errors.Join(errs...)
}

// Retries reports whether class is listed as retryable.
func (p Policy) Retries(class string) bool {
	return slices.Contains(p.Retryable, class)
}

// Strategy returns the backoff curve of p.
func (p Policy) Strategy() backoff.Strategy {
	return backoff.NewExponential(p.BaseInterval, p.Multiplier, p.MaxInterval)
}

// ShouldRetry evaluates p after attempt (1-indexed) failed with class.
// It returns false once attempt reaches MaxAttempts or when class is not
// retryable; otherwise it returns BaseInterval * Multiplier^(attempt-1),
// capped by MaxInterval. It has no side effects.
func ShouldRetry(p Policy, attempt int, class string) (bool, time.Duration) {
	if attempt >= p.MaxAttempts || !p.Retries(class) {
		return false, 0
	}
	return true, p.Strategy().Delay(attempt)
}
