package dispatcher

import (
	"time"

	api "github.com/flowplane/flowplane/api/v1"
	"github.com/flowplane/flowplane/logger"
	"github.com/flowplane/flowplane/metrics"
	"github.com/flowplane/flowplane/model"
	"github.com/flowplane/flowplane/persistence"
	"github.com/flowplane/flowplane/registry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Config struct {
	SyncTimeout   time.Duration
	ExecTimeout   time.Duration
	CancelFlagTTL time.Duration
}

type DispatchRequest struct {
	WorkflowName string              `json:"name"`
	Params       map[string]any      `json:"params"`
	Mode         model.ExecutionMode `json:"mode,omitempty"`
	OrgId        string              `json:"orgId,omitempty"`
}

// ExecutionHandle is what a dispatch call returns: for async mode the id and
// pending status, for sync mode the inline result. TimedOut marks a sync
// wait that elapsed while the execution keeps running server-side.
type ExecutionHandle struct {
	ExecutionId  string                `json:"executionId"`
	Status       model.ExecutionStatus `json:"status"`
	Result       map[string]any        `json:"result,omitempty"`
	ErrorType    string                `json:"errorType,omitempty"`
	ErrorMessage string                `json:"errorMessage,omitempty"`
	TimedOut     bool                  `json:"timedOut,omitempty"`
}

type Dispatcher struct {
	registry   *registry.Service
	executions persistence.ExecutionStorage
	queue      persistence.Queue
	flags      persistence.CancelFlags
	waiters    *WaiterRegistry
	conf       Config
}

func NewDispatcher(reg *registry.Service, executions persistence.ExecutionStorage,
	queue persistence.Queue, flags persistence.CancelFlags, waiters *WaiterRegistry, conf Config) *Dispatcher {
	if conf.SyncTimeout == 0 {
		conf.SyncTimeout = 300 * time.Second
	}
	if conf.CancelFlagTTL == 0 {
		conf.CancelFlagTTL = 2 * conf.SyncTimeout
	}
	return &Dispatcher{
		registry:   reg,
		executions: executions,
		queue:      queue,
		flags:      flags,
		waiters:    waiters,
		conf:       conf,
	}
}

// Dispatch validates the request against the registry and parameter schema,
// creates the execution and enqueues it. Validation and not-found failures
// return before anything is persisted or enqueued. On a sync-wait timeout
// the returned handle is non-nil alongside the TimeoutError.
func (d *Dispatcher) Dispatch(req DispatchRequest) (*ExecutionHandle, error) {
	wf, err := d.registry.GetActiveWorkflow(req.WorkflowName)
	if err != nil {
		metrics.DispatchRejected.WithLabelValues(api.KindOf(err)).Inc()
		return nil, err
	}
	if wf.OrgRequired && req.OrgId == "" {
		err := api.ConfigurationError{Message: "workflow " + wf.Name + " requires an organization context"}
		metrics.DispatchRejected.WithLabelValues(err.Kind()).Inc()
		return nil, err
	}
	params, err := ValidateParams(wf.Parameters, req.Params)
	if err != nil {
		metrics.DispatchRejected.WithLabelValues(api.KindOf(err)).Inc()
		return nil, err
	}
	mode := req.Mode
	if mode == "" {
		mode = wf.Mode
	}
	if mode != model.MODE_SYNC && mode != model.MODE_ASYNC {
		err := api.ValidationError{Field: "mode", Message: "must be sync or async"}
		metrics.DispatchRejected.WithLabelValues(err.Kind()).Inc()
		return nil, err
	}

	exec := &model.Execution{
		Id:           uuid.NewString(),
		WorkflowName: wf.Name,
		OrgId:        req.OrgId,
		Params:       params,
		Status:       model.EXECUTION_PENDING,
		CreatedAt:    time.Now(),
	}
	if err := d.executions.CreateExecution(exec); err != nil {
		return nil, api.AsyncExecutionError{Message: "error persisting execution: " + err.Error()}
	}

	job := model.ExecutionJob{
		ExecutionId:    exec.Id,
		WorkflowName:   wf.Name,
		OrgId:          req.OrgId,
		Params:         params,
		SourcePath:     wf.SourcePath,
		Mode:           mode,
		TimeoutSeconds: int(d.conf.ExecTimeout / time.Second),
	}

	var waiter <-chan model.ExecutionResult
	if mode == model.MODE_SYNC {
		waiter = d.waiters.Register(exec.Id)
	}

	if err := d.queue.Push(job); err != nil {
		if waiter != nil {
			d.waiters.Unregister(exec.Id)
		}
		d.failDispatch(exec, err)
		return nil, api.AsyncExecutionError{Message: "error enqueueing execution: " + err.Error()}
	}
	metrics.ExecutionsDispatched.WithLabelValues(string(mode)).Inc()
	logger.Info("execution dispatched", zap.String("workflow", wf.Name),
		zap.String("execution", exec.Id), zap.String("mode", string(mode)))

	if mode == model.MODE_ASYNC {
		return &ExecutionHandle{ExecutionId: exec.Id, Status: model.EXECUTION_PENDING}, nil
	}

	select {
	case result := <-waiter:
		return &ExecutionHandle{
			ExecutionId:  result.ExecutionId,
			Status:       result.Status,
			Result:       result.Result,
			ErrorType:    result.ErrorType,
			ErrorMessage: result.ErrorMessage,
		}, nil
	case <-time.After(d.conf.SyncTimeout):
		// the caller gives up waiting; the job keeps running server-side
		d.waiters.Unregister(exec.Id)
		return &ExecutionHandle{
			ExecutionId: exec.Id,
			Status:      model.EXECUTION_RUNNING,
			TimedOut:    true,
		}, api.TimeoutError{ExecutionId: exec.Id}
	}
}

// failDispatch records an infrastructure failure that happened after the
// execution row was created but before the job reached the queue.
func (d *Dispatcher) failDispatch(exec *model.Execution, cause error) {
	now := time.Now()
	exec.Status = model.EXECUTION_FAILED
	exec.ErrorType = api.KIND_ASYNC_EXECUTION
	exec.ErrorMessage = cause.Error()
	exec.EndedAt = &now
	if err := d.executions.FinishExecution(exec, model.EXECUTION_PENDING); err != nil {
		logger.Error("error recording dispatch failure", zap.String("execution", exec.Id), zap.Error(err))
	}
}

// Cancel sets the advisory cancellation flag for a running execution. The
// worker observes it at its next checkpoint; an execution that already
// finished ignores it (the flag expires on its own).
func (d *Dispatcher) Cancel(executionId string) error {
	exec, err := d.executions.GetExecution(executionId)
	if err != nil {
		return err
	}
	if exec == nil {
		return api.NotFoundError{Resource: "execution", Name: executionId}
	}
	if exec.Status.IsTerminal() {
		return nil
	}
	return d.flags.Set(executionId, d.conf.CancelFlagTTL)
}

func (d *Dispatcher) GetExecution(executionId string) (*model.Execution, error) {
	exec, err := d.executions.GetExecution(executionId)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, api.NotFoundError{Resource: "execution", Name: executionId}
	}
	return exec, nil
}
