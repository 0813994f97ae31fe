package logstream

import (
	"sync"

	"github.com/flowplane/flowplane/model"
	"github.com/flowplane/flowplane/persistence"
)

// Forwarder is the live consumer of the log stream. Each subscriber gets its
// own cursor: the forwarder backfills from the durable store, then follows
// the broadcast channel, re-reading the store whenever it observes a gap.
// Subscribers always see strictly increasing sequence numbers; redelivered
// entries are dropped.
type Forwarder struct {
	store     persistence.LogStore
	broadcast persistence.LogBroadcast
	batchSize int
}

func NewForwarder(store persistence.LogStore, broadcast persistence.LogBroadcast, batchSize int) *Forwarder {
	return &Forwarder{store: store, broadcast: broadcast, batchSize: batchSize}
}

type Stream struct {
	entries   chan model.ExecutionLogEntry
	stop      chan struct{}
	closeOnce sync.Once
	sub       persistence.LogSubscription
}

func (s *Stream) Entries() <-chan model.ExecutionLogEntry {
	return s.entries
}

func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.sub.Close()
	})
}

// Subscribe starts a live stream beginning at fromSeq. Entries older than
// the retention bound may be gone; the stream then starts at the oldest
// retained entry.
func (f *Forwarder) Subscribe(executionId string, fromSeq int64) (*Stream, error) {
	sub, err := f.broadcast.Subscribe(executionId)
	if err != nil {
		return nil, err
	}
	s := &Stream{
		entries: make(chan model.ExecutionLogEntry, 128),
		stop:    make(chan struct{}),
		sub:     sub,
	}
	go f.run(executionId, fromSeq-1, s)
	return s, nil
}

func (f *Forwarder) run(executionId string, cursor int64, s *Stream) {
	defer close(s.entries)
	cursor, ok := f.backfill(executionId, cursor, s)
	if !ok {
		return
	}
	for {
		select {
		case entry, open := <-s.sub.Entries():
			if !open {
				return
			}
			if entry.Sequence <= cursor {
				continue
			}
			if entry.Sequence > cursor+1 {
				next, ok := f.backfill(executionId, cursor, s)
				if !ok {
					return
				}
				cursor = next
				if entry.Sequence <= cursor {
					continue
				}
			}
			if !s.send(entry) {
				return
			}
			cursor = entry.Sequence
		case <-s.stop:
			return
		}
	}
}

func (f *Forwarder) backfill(executionId string, cursor int64, s *Stream) (int64, bool) {
	for {
		entries, err := f.store.Read(executionId, cursor, f.batchSize)
		if err != nil || len(entries) == 0 {
			return cursor, true
		}
		for _, entry := range entries {
			if entry.Sequence <= cursor {
				continue
			}
			if !s.send(entry) {
				return cursor, false
			}
			cursor = entry.Sequence
		}
		if len(entries) < f.batchSize {
			return cursor, true
		}
	}
}

func (s *Stream) send(entry model.ExecutionLogEntry) bool {
	select {
	case s.entries <- entry:
		return true
	case <-s.stop:
		return false
	}
}
