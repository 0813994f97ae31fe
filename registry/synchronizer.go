package registry

import (
	"sync"
	"time"

	"github.com/flowplane/flowplane/logger"
	"github.com/flowplane/flowplane/persistence"
	"github.com/flowplane/flowplane/scanner"
	"go.uber.org/zap"
)

// Synchronizer reconciles scanner output against the persisted registry.
// Passes are single-flight: a trigger arriving while a pass runs is coalesced
// into exactly one follow-up pass instead of running concurrently.
type Synchronizer struct {
	scanner *scanner.Scanner
	storage persistence.RegistryStorage
	onSync  []func(*scanner.ScanResult)

	mu      sync.Mutex
	running bool
	pending bool
	wg      sync.WaitGroup
}

func NewSynchronizer(sc *scanner.Scanner, storage persistence.RegistryStorage) *Synchronizer {
	return &Synchronizer{
		scanner: sc,
		storage: storage,
	}
}

// OnSync registers a hook called after every completed pass with the scan
// result, e.g. the cron scheduler reload.
func (s *Synchronizer) OnSync(fn func(*scanner.ScanResult)) {
	s.onSync = append(s.onSync, fn)
}

// Trigger requests a synchronization pass. Safe to call from any goroutine.
func (s *Synchronizer) Trigger() {
	s.mu.Lock()
	if s.running {
		s.pending = true
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	s.wg.Add(1)
	go s.loop()
}

// Wait blocks until no pass is running. Used by shutdown and tests.
func (s *Synchronizer) Wait() {
	s.wg.Wait()
}

func (s *Synchronizer) loop() {
	defer s.wg.Done()
	for {
		s.runPass()
		s.mu.Lock()
		if !s.pending {
			s.running = false
			s.mu.Unlock()
			return
		}
		s.pending = false
		s.mu.Unlock()
	}
}

func (s *Synchronizer) runPass() {
	result, err := s.scanner.Scan()
	if err != nil {
		logger.Error("workspace scan failed", zap.Error(err))
		return
	}
	passStart := time.Now()

	for _, wf := range result.Workflows {
		existing, err := s.storage.GetWorkflowDefinition(wf.Name)
		if err != nil {
			logger.Error("error reading workflow definition", zap.String("name", wf.Name), zap.Error(err))
			continue
		}
		if existing != nil && existing.Active && existing.Fingerprint() == wf.Fingerprint() {
			err = s.storage.TouchWorkflowDefinition(wf.Name, passStart)
		} else {
			wf.Active = true
			wf.LastSeenAt = passStart
			err = s.storage.SaveWorkflowDefinition(wf)
		}
		if err != nil {
			logger.Error("error saving workflow definition", zap.String("name", wf.Name), zap.Error(err))
		}
	}

	for _, dp := range result.Providers {
		existing, err := s.storage.GetDataProviderDefinition(dp.Name)
		if err != nil {
			logger.Error("error reading data provider definition", zap.String("name", dp.Name), zap.Error(err))
			continue
		}
		if existing != nil && existing.Active && existing.Fingerprint() == dp.Fingerprint() {
			err = s.storage.TouchDataProviderDefinition(dp.Name, passStart)
		} else {
			dp.Active = true
			dp.LastSeenAt = passStart
			err = s.storage.SaveDataProviderDefinition(dp)
		}
		if err != nil {
			logger.Error("error saving data provider definition", zap.String("name", dp.Name), zap.Error(err))
		}
	}

	for _, form := range result.Forms {
		form.Active = true
		form.LastSeenAt = passStart
		if err := s.storage.SaveFormDefinition(form); err != nil {
			logger.Error("error saving form definition", zap.String("name", form.Name), zap.Error(err))
		}
	}

	deactivated, err := s.storage.DeactivateUnseen(passStart)
	if err != nil {
		logger.Error("error deactivating unseen definitions", zap.Error(err))
	}
	logger.Info("registry synchronized",
		zap.Int("workflows", len(result.Workflows)),
		zap.Int("providers", len(result.Providers)),
		zap.Int("forms", len(result.Forms)),
		zap.Int64("deactivated", deactivated))

	for _, fn := range s.onSync {
		fn(result)
	}
}
