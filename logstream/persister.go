package logstream

import (
	"sync"
	"time"

	"github.com/flowplane/flowplane/logger"
	"github.com/flowplane/flowplane/persistence"
	"github.com/flowplane/flowplane/util"
	"go.uber.org/zap"
)

// Persister is the durable consumer of the log stream. It batches entries
// into the long-term store and advances its own cursor per execution; that
// cursor is the basis for trimming the bounded stream. It never reads ahead
// of what is committed, so a crash only re-reads already idempotent inserts.
type Persister struct {
	store      persistence.LogStore
	executions persistence.ExecutionStorage
	batchSize  int

	mu      sync.Mutex
	cursors map[string]int64
	tw      *util.TickWorker
}

func NewPersister(store persistence.LogStore, executions persistence.ExecutionStorage, interval time.Duration, batchSize int, wg *sync.WaitGroup) *Persister {
	p := &Persister{
		store:      store,
		executions: executions,
		batchSize:  batchSize,
		cursors:    make(map[string]int64),
	}
	p.tw = util.NewTickWorker("log-persister", interval, p.Drain, wg)
	return p
}

func (p *Persister) Start() {
	p.tw.Start()
}

func (p *Persister) Stop() {
	p.tw.Stop()
	// final drain so nothing pending is lost on shutdown
	p.Drain()
}

// Drain moves every dirty execution's new entries into the long-term store.
func (p *Persister) Drain() {
	ids, err := p.store.Dirty()
	if err != nil {
		logger.Error("error reading dirty log set", zap.Error(err))
		return
	}
	for _, id := range ids {
		if err := p.drainExecution(id); err != nil {
			logger.Error("error persisting execution logs", zap.String("execution", id), zap.Error(err))
			// Dirty popped the id; put it back so the next tick retries
			if err := p.store.MarkDirty(id); err != nil {
				logger.Error("error re-marking dirty execution", zap.String("execution", id), zap.Error(err))
			}
		}
	}
}

func (p *Persister) drainExecution(id string) error {
	cursor, err := p.cursor(id)
	if err != nil {
		return err
	}
	for {
		entries, err := p.store.Read(id, cursor, p.batchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		if err := p.executions.SaveLogEntries(entries); err != nil {
			return err
		}
		cursor = entries[len(entries)-1].Sequence
		p.setCursor(id, cursor)
		if err := p.store.Trim(id, cursor); err != nil {
			return err
		}
		if len(entries) < p.batchSize {
			return nil
		}
	}
}

// cursor recovers from the long-term store on first contact so a process
// restart resumes where the previous one committed.
func (p *Persister) cursor(id string) (int64, error) {
	p.mu.Lock()
	cursor, ok := p.cursors[id]
	p.mu.Unlock()
	if ok {
		return cursor, nil
	}
	max, err := p.executions.MaxLogSequence(id)
	if err != nil {
		return 0, err
	}
	p.setCursor(id, max)
	return max, nil
}

func (p *Persister) setCursor(id string, cursor int64) {
	p.mu.Lock()
	p.cursors[id] = cursor
	p.mu.Unlock()
}

// Forget drops the in-memory cursor of a finished execution.
func (p *Persister) Forget(id string) {
	p.mu.Lock()
	delete(p.cursors, id)
	p.mu.Unlock()
}

// Release finishes the stream of a terminal execution: one final drain into
// the long-term store, then the bounded stream is deleted outright. If the
// drain fails the stream stays dirty and a later tick retries.
func (p *Persister) Release(id string) {
	if err := p.drainExecution(id); err != nil {
		logger.Error("error draining finished execution logs", zap.String("execution", id), zap.Error(err))
		if err := p.store.MarkDirty(id); err != nil {
			logger.Error("error re-marking dirty execution", zap.String("execution", id), zap.Error(err))
		}
		return
	}
	if err := p.store.Drop(id); err != nil {
		logger.Error("error dropping finished execution stream", zap.String("execution", id), zap.Error(err))
	}
	p.Forget(id)
}
