package model

import "time"

type LogLevel string

const LOG_DEBUG LogLevel = "DEBUG"
const LOG_INFO LogLevel = "INFO"
const LOG_WARN LogLevel = "WARN"
const LOG_ERROR LogLevel = "ERROR"

// ExecutionLogEntry is ordered by (ExecutionId, Sequence). Timestamp is
// informational only; entries can share a timestamp.
type ExecutionLogEntry struct {
	ExecutionId string         `json:"executionId"`
	Sequence    int64          `json:"sequence"`
	Level       LogLevel       `json:"level"`
	Message     string         `json:"message"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}
