package util

import (
	"sync"
	"time"

	"github.com/flowplane/flowplane/logger"
	"go.uber.org/zap"
)

// TickWorker runs fn on a fixed interval until stopped. Used for queue claim
// reaping, periodic workspace rescans and log persistence batching.
type TickWorker struct {
	stop         chan struct{}
	tickInterval time.Duration
	wg           *sync.WaitGroup
	name         string
	fn           func()
	running      bool
}

func NewTickWorker(name string, interval time.Duration, fn func(), wg *sync.WaitGroup) *TickWorker {
	return &TickWorker{
		stop:         make(chan struct{}),
		tickInterval: interval,
		wg:           wg,
		fn:           fn,
		name:         name,
	}
}

func (tw *TickWorker) Start() {
	if tw.running {
		return
	}
	ticker := time.NewTicker(tw.tickInterval)
	tw.wg.Add(1)
	go func() {
		defer tw.wg.Done()
		for {
			select {
			case <-ticker.C:
				tw.fn()
			case <-tw.stop:
				logger.Info("stopping tick worker", zap.String("worker", tw.name))
				ticker.Stop()
				return
			}
		}
	}()
	tw.running = true
	logger.Info("tick worker started", zap.String("worker", tw.name))
}

func (tw *TickWorker) Stop() {
	if !tw.running {
		return
	}
	tw.running = false
	tw.stop <- struct{}{}
}

func (tw *TickWorker) IsRunning() bool {
	return tw.running
}
