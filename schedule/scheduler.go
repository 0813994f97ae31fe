package schedule

import (
	"sync"

	"github.com/flowplane/flowplane/dispatcher"
	"github.com/flowplane/flowplane/logger"
	"github.com/flowplane/flowplane/model"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler fires cron-annotated workflows. Reload swaps the whole entry set
// so a rescan is the single source of truth for what is scheduled.
type Scheduler struct {
	dispatcher *dispatcher.Dispatcher

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

func NewScheduler(d *dispatcher.Dispatcher) *Scheduler {
	return &Scheduler{
		dispatcher: d,
		cron:       cron.New(),
		entries:    make(map[string]cron.EntryID),
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("scheduler started")
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("scheduler stopped")
}

// Reload reconciles cron entries against the active workflow set. Removed or
// unscheduled workflows lose their entries; changed expressions are replaced.
func (s *Scheduler) Reload(workflows []model.WorkflowDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]string)
	for _, wf := range workflows {
		if wf.Active && wf.Schedule != "" {
			wanted[wf.Name] = wf.Schedule
		}
	}

	for name, id := range s.entries {
		if _, ok := wanted[name]; !ok {
			s.cron.Remove(id)
			delete(s.entries, name)
			logger.Info("unscheduled workflow", zap.String("workflow", name))
		}
	}

	for name, expr := range wanted {
		if id, ok := s.entries[name]; ok {
			s.cron.Remove(id)
			delete(s.entries, name)
		}
		workflowName := name
		id, err := s.cron.AddFunc(expr, func() { s.fire(workflowName) })
		if err != nil {
			logger.Error("invalid schedule expression",
				zap.String("workflow", name), zap.String("schedule", expr), zap.Error(err))
			continue
		}
		s.entries[name] = id
		logger.Info("scheduled workflow", zap.String("workflow", name), zap.String("schedule", expr))
	}
}

// fire dispatches a scheduled run asynchronously; a scheduled trigger never
// blocks the cron goroutine on workflow completion.
func (s *Scheduler) fire(workflowName string) {
	handle, err := s.dispatcher.Dispatch(dispatcher.DispatchRequest{
		WorkflowName: workflowName,
		Mode:         model.MODE_ASYNC,
	})
	if err != nil {
		logger.Error("error dispatching scheduled workflow", zap.String("workflow", workflowName), zap.Error(err))
		return
	}
	logger.Info("dispatched scheduled workflow",
		zap.String("workflow", workflowName), zap.String("execution", handle.ExecutionId))
}
