package model

import (
	"fmt"
	"time"
)

type ExecutionStatus string

const EXECUTION_PENDING ExecutionStatus = "PENDING"
const EXECUTION_RUNNING ExecutionStatus = "RUNNING"
const EXECUTION_CANCELLING ExecutionStatus = "CANCELLING"
const EXECUTION_SUCCESS ExecutionStatus = "SUCCESS"
const EXECUTION_FAILED ExecutionStatus = "FAILED"
const EXECUTION_TIMEOUT ExecutionStatus = "TIMEOUT"
const EXECUTION_COMPLETED_WITH_ERRORS ExecutionStatus = "COMPLETED_WITH_ERRORS"
const EXECUTION_CANCELLED ExecutionStatus = "CANCELLED"

var allowedTransitions = map[ExecutionStatus][]ExecutionStatus{
	EXECUTION_PENDING: {EXECUTION_RUNNING, EXECUTION_FAILED},
	EXECUTION_RUNNING: {EXECUTION_CANCELLING, EXECUTION_SUCCESS, EXECUTION_FAILED,
		EXECUTION_TIMEOUT, EXECUTION_COMPLETED_WITH_ERRORS},
	EXECUTION_CANCELLING: {EXECUTION_CANCELLED, EXECUTION_SUCCESS, EXECUTION_FAILED,
		EXECUTION_TIMEOUT, EXECUTION_COMPLETED_WITH_ERRORS},
}

func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case EXECUTION_SUCCESS, EXECUTION_FAILED, EXECUTION_TIMEOUT,
		EXECUTION_COMPLETED_WITH_ERRORS, EXECUTION_CANCELLED:
		return true
	}
	return false
}

func ValidateTransition(from ExecutionStatus, to ExecutionStatus) error {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("illegal status transition %s -> %s", from, to)
}

type ResourceMetrics struct {
	PeakMemoryBytes int64 `json:"peakMemoryBytes"`
	UserCPUMillis   int64 `json:"userCpuMillis"`
	SystemCPUMillis int64 `json:"systemCpuMillis"`
	TotalCPUMillis  int64 `json:"totalCpuMillis"`
}

type Execution struct {
	Id           string          `json:"id"`
	WorkflowName string          `json:"workflowName"`
	OrgId        string          `json:"orgId,omitempty"`
	Params       map[string]any  `json:"params,omitempty"`
	Status       ExecutionStatus `json:"status"`
	Result       map[string]any  `json:"result,omitempty"`
	ErrorType    string          `json:"errorType,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Variables    map[string]any  `json:"variables,omitempty"`
	Metrics      ResourceMetrics `json:"metrics"`
	CreatedAt    time.Time       `json:"createdAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	EndedAt      *time.Time      `json:"endedAt,omitempty"`
}

// ExecutionResult is what the worker pushes back to a waiting sync dispatcher.
type ExecutionResult struct {
	ExecutionId  string          `json:"executionId"`
	Status       ExecutionStatus `json:"status"`
	Result       map[string]any  `json:"result,omitempty"`
	ErrorType    string          `json:"errorType,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// ExecutionJob is the queue message handed from dispatcher to the worker pool.
// Source path and timeout are captured at dispatch time so a concurrent
// registry update does not change a job already in flight.
type ExecutionJob struct {
	ExecutionId    string         `json:"executionId"`
	WorkflowName   string         `json:"workflowName"`
	OrgId          string         `json:"orgId,omitempty"`
	Params         map[string]any `json:"params,omitempty"`
	SourcePath     string         `json:"sourcePath"`
	Mode           ExecutionMode  `json:"mode"`
	TimeoutSeconds int            `json:"timeoutSeconds"`
}
