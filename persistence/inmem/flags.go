package inmem

import (
	"sync"
	"time"

	"github.com/flowplane/flowplane/persistence"
)

var _ persistence.CancelFlags = new(inMemCancelFlags)

type inMemCancelFlags struct {
	mu    sync.Mutex
	flags map[string]time.Time
}

func NewInMemCancelFlags() *inMemCancelFlags {
	return &inMemCancelFlags{flags: make(map[string]time.Time)}
}

func (f *inMemCancelFlags) Set(executionId string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags[executionId] = time.Now().Add(ttl)
	return nil
}

func (f *inMemCancelFlags) IsSet(executionId string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	expiry, ok := f.flags[executionId]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(f.flags, executionId)
		return false, nil
	}
	return true, nil
}

func (f *inMemCancelFlags) Clear(executionId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.flags, executionId)
	return nil
}
