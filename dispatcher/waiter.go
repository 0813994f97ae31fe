package dispatcher

import (
	"sync"

	"github.com/flowplane/flowplane/model"
)

// WaiterRegistry correlates sync dispatch calls with worker-side results.
// A waiter holds no worker slot; it only blocks the dispatching caller.
type WaiterRegistry struct {
	mu      sync.Mutex
	waiters map[string]chan model.ExecutionResult
}

func NewWaiterRegistry() *WaiterRegistry {
	return &WaiterRegistry{waiters: make(map[string]chan model.ExecutionResult)}
}

func (w *WaiterRegistry) Register(executionId string) <-chan model.ExecutionResult {
	ch := make(chan model.ExecutionResult, 1)
	w.mu.Lock()
	w.waiters[executionId] = ch
	w.mu.Unlock()
	return ch
}

func (w *WaiterRegistry) Unregister(executionId string) {
	w.mu.Lock()
	delete(w.waiters, executionId)
	w.mu.Unlock()
}

// Complete delivers the result to a registered waiter. A missing or already
// abandoned waiter is fine: the result stays reachable via the status path.
func (w *WaiterRegistry) Complete(result model.ExecutionResult) {
	w.mu.Lock()
	ch, ok := w.waiters[result.ExecutionId]
	if ok {
		delete(w.waiters, result.ExecutionId)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- result:
	default:
	}
}
