package logstream

import (
	"sync"
	"time"

	"github.com/flowplane/flowplane/logger"
	"github.com/flowplane/flowplane/metrics"
	"github.com/flowplane/flowplane/model"
	"github.com/flowplane/flowplane/persistence"
	"go.uber.org/zap"
)

// Router owns the per-execution sequence counters. Each append durably
// writes to the log store and then publishes the same entry best-effort to
// the broadcast channel. The owning worker is the single producer for an
// execution, so the counter needs no persistence across an execution's life.
type Router struct {
	store     persistence.LogStore
	broadcast persistence.LogBroadcast

	mu       sync.Mutex
	counters map[string]int64
}

func NewRouter(store persistence.LogStore, broadcast persistence.LogBroadcast) *Router {
	return &Router{
		store:     store,
		broadcast: broadcast,
		counters:  make(map[string]int64),
	}
}

// Append assigns the next sequence number for the execution and returns it.
// Sequence numbers are strictly increasing and gap-free per execution.
func (r *Router) Append(executionId string, level model.LogLevel, message string, metadata map[string]any) (int64, error) {
	r.mu.Lock()
	seq := r.counters[executionId]
	r.counters[executionId] = seq + 1
	r.mu.Unlock()

	entry := model.ExecutionLogEntry{
		ExecutionId: executionId,
		Sequence:    seq,
		Level:       level,
		Message:     message,
		Metadata:    metadata,
		Timestamp:   time.Now(),
	}
	if err := r.store.Append(entry); err != nil {
		return seq, err
	}
	if err := r.broadcast.Publish(entry); err != nil {
		// broadcast is best effort; live subscribers backfill from the store
		logger.Debug("log broadcast failed", zap.String("execution", executionId), zap.Error(err))
	}
	metrics.LogEntriesAppended.Inc()
	return seq, nil
}

// Release forgets the counter of a finished execution.
func (r *Router) Release(executionId string) {
	r.mu.Lock()
	delete(r.counters, executionId)
	r.mu.Unlock()
}
