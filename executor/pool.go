package executor

import (
	"fmt"
	"sync"
	"time"

	"github.com/flowplane/flowplane/dispatcher"
	"github.com/flowplane/flowplane/logger"
	"github.com/flowplane/flowplane/logstream"
	"github.com/flowplane/flowplane/metrics"
	"github.com/flowplane/flowplane/model"
	"github.com/flowplane/flowplane/persistence"
	"github.com/flowplane/flowplane/util"
	"github.com/flowplane/flowplane/writebuffer"
	"go.uber.org/zap"
)

type Config struct {
	Workers        int
	PollInterval   time.Duration
	ClaimTimeout   time.Duration
	MaxDeliveries  int
	DefaultTimeout time.Duration
}

// Pool runs the worker goroutines. Each worker claims at most one job at a
// time, executes it in an isolated runner and owns every status transition
// for that execution from claim to terminal state.
type Pool struct {
	conf       Config
	queue      persistence.Queue
	flags      persistence.CancelFlags
	executions persistence.ExecutionStorage
	router     *logstream.Router
	writes     *writebuffer.Manager
	waiters    *dispatcher.WaiterRegistry

	stop     chan struct{}
	wg       sync.WaitGroup
	reaper   *util.TickWorker
	onFinish []func(executionId string)
}

func NewPool(conf Config, queue persistence.Queue, flags persistence.CancelFlags,
	executions persistence.ExecutionStorage, router *logstream.Router,
	writes *writebuffer.Manager, waiters *dispatcher.WaiterRegistry) *Pool {
	p := &Pool{
		conf:       conf,
		queue:      queue,
		flags:      flags,
		executions: executions,
		router:     router,
		writes:     writes,
		waiters:    waiters,
		stop:       make(chan struct{}),
	}
	p.reaper = util.NewTickWorker("queue-reaper", conf.ClaimTimeout/2, p.reap, &p.wg)
	return p
}

// OnFinish registers a callback invoked after an execution reaches a
// terminal state. Register before Start.
func (p *Pool) OnFinish(fn func(executionId string)) {
	p.onFinish = append(p.onFinish, fn)
}

func (p *Pool) Start() {
	for i := 0; i < p.conf.Workers; i++ {
		consumerId := fmt.Sprintf("worker-%d", i)
		p.wg.Add(1)
		go p.workerLoop(consumerId)
	}
	p.reaper.Start()
	logger.Info("worker pool started", zap.Int("workers", p.conf.Workers))
}

func (p *Pool) Stop() {
	close(p.stop)
	p.reaper.Stop()
	p.wg.Wait()
	logger.Info("worker pool stopped")
}

func (p *Pool) workerLoop(consumerId string) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		job, err := p.queue.Poll(consumerId)
		if err != nil {
			logger.Error("error polling execution queue", zap.String("consumer", consumerId), zap.Error(err))
			p.sleep(p.conf.PollInterval)
			continue
		}
		if job == nil {
			p.sleep(p.conf.PollInterval)
			continue
		}
		p.handle(consumerId, job)
	}
}

func (p *Pool) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-p.stop:
	}
}

// handle drives one claimed job to a terminal state and acks it. Business
// failures are acked too; only a worker crash leaves the claim for the
// reaper to redeliver.
func (p *Pool) handle(consumerId string, job *model.ExecutionJob) {
	defer func() {
		if err := p.queue.Ack(consumerId, job.ExecutionId); err != nil {
			logger.Error("error acking execution job", zap.String("executionId", job.ExecutionId), zap.Error(err))
		}
	}()

	if err := p.executions.UpdateStatus(job.ExecutionId, model.EXECUTION_PENDING, model.EXECUTION_RUNNING); err != nil {
		// a redelivered job whose first attempt already advanced the row
		logger.Warn("skipping job not in pending state",
			zap.String("executionId", job.ExecutionId), zap.Error(err))
		return
	}
	if err := p.executions.MarkStarted(job.ExecutionId, time.Now()); err != nil {
		logger.Error("error marking execution started", zap.String("executionId", job.ExecutionId), zap.Error(err))
	}

	outcome, buffer, usage := p.execute(job)
	p.finalize(job, outcome, buffer, usage)
}

// execute runs the workflow behind a recover barrier so a defective workflow
// or runner bug can never take the worker down.
func (p *Pool) execute(job *model.ExecutionJob) (outcome *RunOutcome, buffer *writebuffer.Buffer, usage model.ResourceMetrics) {
	buffer = p.writes.Begin(job.ExecutionId, job.OrgId)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic during workflow execution",
				zap.String("executionId", job.ExecutionId), zap.Any("panic", r))
			outcome = &RunOutcome{
				ErrType:    "InternalError",
				ErrMessage: fmt.Sprintf("internal execution failure: %v", r),
			}
		}
	}()

	timeout := p.conf.DefaultTimeout
	if job.TimeoutSeconds > 0 {
		timeout = time.Duration(job.TimeoutSeconds) * time.Second
	}

	before := sampleUsage()
	r := newRunner(job.ExecutionId, job.OrgId, p.flags, p.router, buffer)
	outcome = r.Run(job.SourcePath, job.Params, timeout)
	usage = usageDelta(before, sampleUsage())
	return outcome, buffer, usage
}

// finalize maps the run outcome onto the terminal status, settles the write
// buffer, persists the terminal row and wakes any sync waiter.
func (p *Pool) finalize(job *model.ExecutionJob, outcome *RunOutcome, buffer *writebuffer.Buffer, usage model.ResourceMetrics) {
	from := model.EXECUTION_RUNNING
	now := time.Now()
	exec := &model.Execution{
		Id:        job.ExecutionId,
		Variables: outcome.Variables,
		Metrics:   usage,
		EndedAt:   &now,
	}

	switch {
	case outcome.Cancelled:
		if err := p.executions.UpdateStatus(job.ExecutionId, model.EXECUTION_RUNNING, model.EXECUTION_CANCELLING); err != nil {
			logger.Error("error transitioning to cancelling", zap.String("executionId", job.ExecutionId), zap.Error(err))
		} else {
			from = model.EXECUTION_CANCELLING
		}
		exec.Status = model.EXECUTION_CANCELLED
		p.discard(buffer, job.ExecutionId)
	case outcome.TimedOut:
		exec.Status = model.EXECUTION_TIMEOUT
		exec.ErrorType = "TimeoutError"
		exec.ErrorMessage = "execution exceeded its wall clock budget"
		p.discard(buffer, job.ExecutionId)
	case outcome.ErrType != "":
		exec.Status = model.EXECUTION_FAILED
		exec.ErrorType = outcome.ErrType
		exec.ErrorMessage = outcome.ErrMessage
		p.discard(buffer, job.ExecutionId)
	default:
		exec.Status = model.EXECUTION_SUCCESS
		exec.Result = outcome.Result
		if err := buffer.Flush(); err != nil {
			logger.Error("error flushing buffered platform writes",
				zap.String("executionId", job.ExecutionId), zap.Error(err))
			exec.Status = model.EXECUTION_COMPLETED_WITH_ERRORS
			exec.ErrorType = "WriteFlushError"
			exec.ErrorMessage = "workflow succeeded but buffered platform writes could not be applied"
		}
	}

	if err := p.executions.FinishExecution(exec, from); err != nil {
		logger.Error("error persisting terminal execution state",
			zap.String("executionId", job.ExecutionId),
			zap.String("status", string(exec.Status)), zap.Error(err))
	}

	p.waiters.Complete(model.ExecutionResult{
		ExecutionId:  job.ExecutionId,
		Status:       exec.Status,
		Result:       exec.Result,
		ErrorType:    exec.ErrorType,
		ErrorMessage: exec.ErrorMessage,
	})

	if err := p.flags.Clear(job.ExecutionId); err != nil {
		logger.Error("error clearing cancel flag", zap.String("executionId", job.ExecutionId), zap.Error(err))
	}
	p.router.Release(job.ExecutionId)
	for _, fn := range p.onFinish {
		fn(job.ExecutionId)
	}
	metrics.ExecutionsCompleted.WithLabelValues(string(exec.Status)).Inc()
	logger.Info("execution finished",
		zap.String("executionId", job.ExecutionId),
		zap.String("workflow", job.WorkflowName),
		zap.String("status", string(exec.Status)))
}

func (p *Pool) discard(buffer *writebuffer.Buffer, executionId string) {
	if err := buffer.Discard(); err != nil {
		logger.Error("error discarding buffered platform writes",
			zap.String("executionId", executionId), zap.Error(err))
	}
}

func (p *Pool) reap() {
	requeued, dead, err := p.queue.RequeueExpired(p.conf.ClaimTimeout, p.conf.MaxDeliveries)
	if err != nil {
		logger.Error("error requeuing expired claims", zap.Error(err))
		return
	}
	if requeued > 0 || dead > 0 {
		logger.Info("requeued expired claims", zap.Int("requeued", requeued), zap.Int("deadLettered", dead))
	}

	// a worker that died mid-run leaves its row in RUNNING forever; the
	// watchdog bounds every live run to its wall clock budget, so anything
	// started earlier than budget plus a claim of grace is abandoned
	cutoff := time.Now().Add(-(p.conf.DefaultTimeout + p.conf.ClaimTimeout))
	n, err := p.executions.FailStale(cutoff, "AbandonedError",
		"worker terminated before reporting a terminal status")
	if err != nil {
		logger.Error("error failing abandoned executions", zap.Error(err))
	} else if n > 0 {
		logger.Warn("failed abandoned executions", zap.Int64("count", n))
		metrics.ExecutionsCompleted.WithLabelValues(string(model.EXECUTION_FAILED)).Add(float64(n))
	}

	if size, err := p.queue.Size(); err == nil {
		metrics.QueueDepth.Set(float64(size))
	}
}
