package inmem

import (
	"fmt"
	"sync"

	"github.com/flowplane/flowplane/model"
	"github.com/flowplane/flowplane/persistence"
)

var _ persistence.PendingWriteStore = new(inMemPendingWriteStore)

type inMemPendingWriteStore struct {
	mu      sync.Mutex
	records map[string]map[string]model.PendingWriteRecord
}

func NewInMemPendingWriteStore() *inMemPendingWriteStore {
	return &inMemPendingWriteStore{records: make(map[string]map[string]model.PendingWriteRecord)}
}

func (s *inMemPendingWriteStore) Put(rec model.PendingWriteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey := s.records[rec.ExecutionId]
	if byKey == nil {
		byKey = make(map[string]model.PendingWriteRecord)
		s.records[rec.ExecutionId] = byKey
	}
	byKey[fmt.Sprintf("%s:%s", rec.Target, rec.Key)] = rec
	return nil
}

func (s *inMemPendingWriteStore) List(executionId string) ([]model.PendingWriteRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []model.PendingWriteRecord
	for _, rec := range s.records[executionId] {
		result = append(result, rec)
	}
	return result, nil
}

func (s *inMemPendingWriteStore) Discard(executionId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, executionId)
	return nil
}
