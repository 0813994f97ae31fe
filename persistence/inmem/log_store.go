package inmem

import (
	"sync"

	"github.com/flowplane/flowplane/model"
	"github.com/flowplane/flowplane/persistence"
)

var _ persistence.LogStore = new(inMemLogStore)
var _ persistence.LogBroadcast = new(inMemLogBroadcast)

type inMemLogStore struct {
	mu      sync.Mutex
	entries map[string][]model.ExecutionLogEntry
	dirty   map[string]bool
	maxLen  int
}

func NewInMemLogStore(maxLen int) *inMemLogStore {
	return &inMemLogStore{
		entries: make(map[string][]model.ExecutionLogEntry),
		dirty:   make(map[string]bool),
		maxLen:  maxLen,
	}
}

func (s *inMemLogStore) Append(entry model.ExecutionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.entries[entry.ExecutionId], entry)
	if s.maxLen > 0 && len(list) > s.maxLen {
		list = list[len(list)-s.maxLen:]
	}
	s.entries[entry.ExecutionId] = list
	s.dirty[entry.ExecutionId] = true
	return nil
}

func (s *inMemLogStore) Read(executionId string, afterSeq int64, limit int) ([]model.ExecutionLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []model.ExecutionLogEntry
	for _, e := range s.entries[executionId] {
		if e.Sequence > afterSeq {
			result = append(result, e)
			if len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

func (s *inMemLogStore) Trim(executionId string, upToSeq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entries[executionId]
	idx := 0
	for idx < len(list) && list[idx].Sequence <= upToSeq {
		idx++
	}
	s.entries[executionId] = list[idx:]
	return nil
}

func (s *inMemLogStore) Dirty() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id := range s.dirty {
		ids = append(ids, id)
	}
	s.dirty = make(map[string]bool)
	return ids, nil
}

func (s *inMemLogStore) MarkDirty(executionId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty[executionId] = true
	return nil
}

func (s *inMemLogStore) Drop(executionId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, executionId)
	delete(s.dirty, executionId)
	return nil
}

type inMemLogBroadcast struct {
	mu   sync.Mutex
	subs map[string][]*inMemLogSubscription
}

func NewInMemLogBroadcast() *inMemLogBroadcast {
	return &inMemLogBroadcast{subs: make(map[string][]*inMemLogSubscription)}
}

func (b *inMemLogBroadcast) Publish(entry model.ExecutionLogEntry) error {
	b.mu.Lock()
	subs := append([]*inMemLogSubscription(nil), b.subs[entry.ExecutionId]...)
	b.mu.Unlock()
	for _, sub := range subs {
		select {
		case sub.entries <- entry:
		default:
			// best effort; slow subscribers backfill from the log store
		}
	}
	return nil
}

func (b *inMemLogBroadcast) Subscribe(executionId string) (persistence.LogSubscription, error) {
	sub := &inMemLogSubscription{
		broadcast:   b,
		executionId: executionId,
		entries:     make(chan model.ExecutionLogEntry, 128),
	}
	b.mu.Lock()
	b.subs[executionId] = append(b.subs[executionId], sub)
	b.mu.Unlock()
	return sub, nil
}

type inMemLogSubscription struct {
	broadcast   *inMemLogBroadcast
	executionId string
	entries     chan model.ExecutionLogEntry
	closeOnce   sync.Once
}

func (s *inMemLogSubscription) Entries() <-chan model.ExecutionLogEntry {
	return s.entries
}

func (s *inMemLogSubscription) Close() error {
	s.closeOnce.Do(func() {
		b := s.broadcast
		b.mu.Lock()
		subs := b.subs[s.executionId]
		for i, sub := range subs {
			if sub == s {
				b.subs[s.executionId] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(s.entries)
	})
	return nil
}
