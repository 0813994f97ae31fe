package persistence

import (
	"time"

	"github.com/flowplane/flowplane/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return "error in underline storage layer " + e.Message
}

// RegistryStorage is the persisted registry of discovered definitions.
// Rows are soft-deleted only; execution history keeps referring to them.
type RegistryStorage interface {
	SaveWorkflowDefinition(wf model.WorkflowDefinition) error
	GetWorkflowDefinition(name string) (*model.WorkflowDefinition, error)
	ListWorkflowDefinitions(activeOnly bool) ([]model.WorkflowDefinition, error)
	TouchWorkflowDefinition(name string, seenAt time.Time) error

	SaveDataProviderDefinition(dp model.DataProviderDefinition) error
	GetDataProviderDefinition(name string) (*model.DataProviderDefinition, error)
	ListDataProviderDefinitions(activeOnly bool) ([]model.DataProviderDefinition, error)
	TouchDataProviderDefinition(name string, seenAt time.Time) error

	SaveFormDefinition(form model.FormDefinition) error
	ListFormDefinitions(activeOnly bool) ([]model.FormDefinition, error)
	TouchFormDefinition(name string, seenAt time.Time) error

	// DeactivateUnseen soft-deletes every active row whose last_seen_at
	// predates the given pass start. Returns the number of rows deactivated.
	DeactivateUnseen(seenBefore time.Time) (int64, error)
}

type ExecutionStorage interface {
	CreateExecution(exec *model.Execution) error
	GetExecution(id string) (*model.Execution, error)

	// UpdateStatus applies a single state-machine transition. The prior
	// status is a precondition; a row not in `from` leaves the store
	// untouched and returns an error.
	UpdateStatus(id string, from model.ExecutionStatus, to model.ExecutionStatus) error

	// FinishExecution writes the terminal fields (result, error, variables,
	// metrics, ended_at) together with the terminal status transition.
	FinishExecution(exec *model.Execution, from model.ExecutionStatus) error

	MarkStarted(id string, at time.Time) error

	// FailStale force-fails RUNNING and CANCELLING rows whose start
	// predates the cutoff. A worker that died mid-run leaves such rows
	// behind with nobody left to report a terminal status.
	FailStale(startedBefore time.Time, errType string, message string) (int64, error)

	SaveLogEntries(entries []model.ExecutionLogEntry) error
	GetLogEntries(id string, afterSeq int64, limit int) ([]model.ExecutionLogEntry, error)
	MaxLogSequence(id string) (int64, error)
}

// PlatformStorage holds the durable config/secret/role collections that
// buffered workflow writes flush into.
type PlatformStorage interface {
	// ApplyPendingWrites applies all records in one transaction; on any
	// failure nothing is visible afterwards.
	ApplyPendingWrites(records []model.PendingWriteRecord) error

	GetConfigValue(orgId string, key string) (map[string]any, error)
	GetSecretValue(orgId string, key string) (map[string]any, error)
	GetRole(orgId string, name string) (map[string]any, error)
}

// Queue hands execution jobs from the dispatcher to the worker pool with
// at-least-once semantics: a polled job stays claimed until acked, expired
// claims are redelivered, and repeatedly failing deliveries dead-letter.
type Queue interface {
	Push(job model.ExecutionJob) error
	// Poll claims at most one job for the given consumer (prefetch 1).
	Poll(consumerId string) (*model.ExecutionJob, error)
	Ack(consumerId string, executionId string) error
	// RequeueExpired returns (requeued, deadLettered).
	RequeueExpired(claimTimeout time.Duration, maxDeliveries int) (int, int, error)
	Size() (int64, error)
}

// CancelFlags is the advisory cancellation channel between dispatcher and
// worker. Flags expire on their own so a finished worker leaks nothing.
type CancelFlags interface {
	Set(executionId string, ttl time.Duration) error
	IsSet(executionId string) (bool, error)
	Clear(executionId string) error
}

// PendingWriteStore is the transient holding area for buffered writes.
type PendingWriteStore interface {
	Put(rec model.PendingWriteRecord) error
	List(executionId string) ([]model.PendingWriteRecord, error)
	Discard(executionId string) error
}

// LogStore is the bounded durable append log behind the log stream router.
// Consumers keep their own cursors; Trim is driven by the persistence
// consumer's cursor.
type LogStore interface {
	Append(entry model.ExecutionLogEntry) error
	Read(executionId string, afterSeq int64, limit int) ([]model.ExecutionLogEntry, error)
	Trim(executionId string, upToSeq int64) error
	// Dirty returns execution ids with entries appended since the last
	// drain, removing them from the dirty set. An append re-marks the id.
	Dirty() ([]string, error)
	// MarkDirty puts an id back on the dirty set; a consumer that popped
	// it but failed to commit must re-add it or its entries are lost once
	// the execution stops appending.
	MarkDirty(executionId string) error
	Drop(executionId string) error
}

// LogBroadcast is the best-effort low latency fan-out channel. A subscriber
// that was not connected misses nothing retroactively; it backfills from
// the LogStore.
type LogBroadcast interface {
	Publish(entry model.ExecutionLogEntry) error
	Subscribe(executionId string) (LogSubscription, error)
}

type LogSubscription interface {
	Entries() <-chan model.ExecutionLogEntry
	Close() error
}
