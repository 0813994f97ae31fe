package api_v1

import (
	"errors"
	"fmt"
)

const KIND_VALIDATION = "VALIDATION_ERROR"
const KIND_NOT_FOUND = "NOT_FOUND"
const KIND_TIMEOUT = "TIMEOUT"
const KIND_EXECUTION = "EXECUTION_ERROR"
const KIND_ASYNC_EXECUTION = "ASYNC_EXECUTION_ERROR"
const KIND_CONFIGURATION = "CONFIGURATION_ERROR"
const KIND_INTEGRATION = "INTEGRATION_ERROR"
const KIND_INTERNAL = "INTERNAL_ERROR"

// ValidationError means the caller's input was rejected before any job
// was enqueued.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e ValidationError) Kind() string { return KIND_VALIDATION }

type NotFoundError struct {
	Resource string
	Name     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.Name)
}

func (e NotFoundError) Kind() string { return KIND_NOT_FOUND }

// TimeoutError means the synchronous wait elapsed. The execution itself may
// still be running; the result stays reachable through the status endpoint.
type TimeoutError struct {
	ExecutionId string
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("execution %s did not finish within the synchronous wait window", e.ExecutionId)
}

func (e TimeoutError) Kind() string { return KIND_TIMEOUT }

// ExecutionError wraps an error raised by workflow code itself.
type ExecutionError struct {
	Type    string
	Message string
}

func (e ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e ExecutionError) Kind() string { return KIND_EXECUTION }

// AsyncExecutionError means the platform failed to hand the job to the
// worker pool. Distinct from the workflow's own failure.
type AsyncExecutionError struct {
	Message string
}

func (e AsyncExecutionError) Error() string { return e.Message }

func (e AsyncExecutionError) Kind() string { return KIND_ASYNC_EXECUTION }

type ConfigurationError struct {
	Message string
}

func (e ConfigurationError) Error() string { return e.Message }

func (e ConfigurationError) Kind() string { return KIND_CONFIGURATION }

type IntegrationError struct {
	Service string
	Message string
}

func (e IntegrationError) Error() string {
	return fmt.Sprintf("integration %s: %s", e.Service, e.Message)
}

func (e IntegrationError) Kind() string { return KIND_INTEGRATION }

type kinder interface {
	Kind() string
}

// KindOf returns the stable error-kind string for an error produced by this
// package, or KIND_INTERNAL for anything else.
func KindOf(err error) string {
	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KIND_INTERNAL
}
