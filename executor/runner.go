package executor

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/flowplane/flowplane/logstream"
	"github.com/flowplane/flowplane/model"
	"github.com/flowplane/flowplane/persistence"
	"github.com/flowplane/flowplane/writebuffer"
)

const interruptCancelled = "cancelled"
const interruptTimeout = "timeout"

// RunOutcome is everything the pool needs to finalize an execution.
type RunOutcome struct {
	Result     map[string]any
	Variables  map[string]any
	ErrType    string
	ErrMessage string
	Cancelled  bool
	TimedOut   bool
}

// runner executes one workflow in an isolated goja VM. The execution context
// exposed to workflow code carries the log call, variable capture, a
// checkpointed sleep and the SDK write calls, all scoped to this execution.
// Cancellation is observed at checkpoints; the watchdog interrupt is the
// hard backstop for timeout and unresponsive code.
type runner struct {
	executionId string
	orgId       string
	vm          *goja.Runtime
	flags       persistence.CancelFlags
	router      *logstream.Router
	buffer      *writebuffer.Buffer
	variables   map[string]any
	// written by the watchdog goroutine, read from workflow checkpoints
	cancelled atomic.Bool
	deadline  time.Time
}

func newRunner(executionId string, orgId string, flags persistence.CancelFlags,
	router *logstream.Router, buffer *writebuffer.Buffer) *runner {
	return &runner{
		executionId: executionId,
		orgId:       orgId,
		vm:          goja.New(),
		flags:       flags,
		router:      router,
		buffer:      buffer,
		variables:   make(map[string]any),
	}
}

func (r *runner) Run(sourcePath string, params map[string]any, timeout time.Duration) *RunOutcome {
	src, err := os.ReadFile(sourcePath)
	if err != nil {
		return &RunOutcome{
			Variables:  r.variables,
			ErrType:    "LoadError",
			ErrMessage: fmt.Sprintf("error loading workflow source: %v", err),
		}
	}

	if err := r.installContext(); err != nil {
		return &RunOutcome{Variables: r.variables, ErrType: "InternalError", ErrMessage: err.Error()}
	}

	r.deadline = time.Now().Add(timeout)
	watchdogStop := make(chan struct{})
	defer close(watchdogStop)
	go r.watchdog(timeout, watchdogStop)

	value, err := r.execute(sourcePath, string(src), params)
	if err != nil {
		return r.outcomeFromError(err)
	}
	return &RunOutcome{Result: exportResult(value), Variables: r.variables}
}

func (r *runner) execute(sourcePath string, src string, params map[string]any) (goja.Value, error) {
	program, err := goja.Compile(sourcePath, src, false)
	if err != nil {
		return nil, err
	}
	if _, err := r.vm.RunProgram(program); err != nil {
		return nil, err
	}
	handler, ok := goja.AssertFunction(r.vm.Get("handler"))
	if !ok {
		return nil, fmt.Errorf("workflow does not define a handler function")
	}
	return handler(goja.Undefined(), r.vm.ToValue(params))
}

// watchdog enforces the wall-clock budget and doubles as the hard-kill
// supervisor for cancellation when workflow code never hits a checkpoint.
func (r *runner) watchdog(timeout time.Duration, stop chan struct{}) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(time.Second)
	defer poll.Stop()
	for {
		select {
		case <-deadline.C:
			r.vm.Interrupt(interruptTimeout)
			return
		case <-poll.C:
			if set, _ := r.flags.IsSet(r.executionId); set {
				r.cancelled.Store(true)
				r.vm.Interrupt(interruptCancelled)
				return
			}
		case <-stop:
			return
		}
	}
}

// checkpoint observes the cancellation flag. Called before every log line
// and inside sleep loops.
func (r *runner) checkpoint() {
	if r.cancelled.Load() {
		return
	}
	if set, _ := r.flags.IsSet(r.executionId); set {
		r.cancelled.Store(true)
		r.vm.Interrupt(interruptCancelled)
	}
}

func (r *runner) installContext() error {
	log := func(level model.LogLevel) func(msg string, meta map[string]any) {
		return func(msg string, meta map[string]any) {
			r.checkpoint()
			r.router.Append(r.executionId, level, msg, meta)
		}
	}
	ctx := map[string]any{
		"executionId": r.executionId,
		"orgId":       r.orgId,
		"log":         log(model.LOG_INFO),
		"debug":       log(model.LOG_DEBUG),
		"info":        log(model.LOG_INFO),
		"warn":        log(model.LOG_WARN),
		"error":       log(model.LOG_ERROR),
		"setVar": func(name string, value goja.Value) {
			r.variables[name] = value.Export()
		},
		"sleep": r.sleep,
		"config": map[string]any{
			"set":    r.throwing2(r.buffer.SetConfig),
			"delete": r.throwing1(r.buffer.DeleteConfig),
		},
		"secrets": map[string]any{
			"set":    r.throwing2(r.buffer.SetSecret),
			"delete": r.throwing1(r.buffer.DeleteSecret),
		},
		"roles": map[string]any{
			"create": r.throwing2(r.buffer.CreateRole),
			"delete": r.throwing1(r.buffer.DeleteRole),
		},
	}
	return r.vm.Set("ctx", ctx)
}

// sleep waits in small slices so cancellation is observed promptly.
func (r *runner) sleep(seconds float64) {
	remaining := time.Duration(seconds * float64(time.Second))
	const slice = 100 * time.Millisecond
	for remaining > 0 {
		r.checkpoint()
		if r.cancelled.Load() {
			return
		}
		if !time.Now().Before(r.deadline) {
			r.vm.Interrupt(interruptTimeout)
			return
		}
		d := slice
		if remaining < slice {
			d = remaining
		}
		time.Sleep(d)
		remaining -= d
	}
}

func (r *runner) throwing1(fn func(string) error) func(string) {
	return func(key string) {
		if err := fn(key); err != nil {
			panic(r.vm.ToValue(err.Error()))
		}
	}
}

func (r *runner) throwing2(fn func(string, map[string]any) error) func(string, map[string]any) {
	return func(key string, payload map[string]any) {
		if err := fn(key, payload); err != nil {
			panic(r.vm.ToValue(err.Error()))
		}
	}
}

func (r *runner) outcomeFromError(err error) *RunOutcome {
	if ierr, ok := err.(*goja.InterruptedError); ok {
		switch ierr.Value() {
		case interruptCancelled:
			return &RunOutcome{Variables: r.variables, Cancelled: true}
		case interruptTimeout:
			return &RunOutcome{Variables: r.variables, TimedOut: true}
		}
	}
	if exc, ok := err.(*goja.Exception); ok {
		errType := "Error"
		message := exc.Error()
		if obj, ok := exc.Value().(*goja.Object); ok {
			if name := obj.Get("name"); name != nil && !goja.IsUndefined(name) {
				errType = name.String()
			}
			if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
				message = msg.String()
			}
		}
		// the full exception text stays in the variable snapshot for
		// operator debugging; it is never returned to callers
		r.variables["exception"] = exc.String()
		return &RunOutcome{Variables: r.variables, ErrType: errType, ErrMessage: message}
	}
	return &RunOutcome{Variables: r.variables, ErrType: "ExecutionError", ErrMessage: err.Error()}
}

func exportResult(value goja.Value) map[string]any {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil
	}
	exported := value.Export()
	if m, ok := exported.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": exported}
}
