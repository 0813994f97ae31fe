package logstream

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/flowplane/flowplane/model"
	"github.com/flowplane/flowplane/persistence"
	"github.com/flowplane/flowplane/persistence/inmem"
	"github.com/flowplane/flowplane/persistence/sqlite"
	"github.com/stretchr/testify/require"
)

func TestRouterSequences(t *testing.T) {
	store := inmem.NewInMemLogStore(0)
	broadcast := inmem.NewInMemLogBroadcast()
	router := NewRouter(store, broadcast)

	for i := 0; i < 5; i++ {
		seq, err := router.Append("exec-1", model.LOG_INFO, fmt.Sprintf("line %d", i), nil)
		require.NoError(t, err)
		require.Equal(t, int64(i), seq)
	}
	// an interleaved execution gets its own counter
	seq, err := router.Append("exec-2", model.LOG_INFO, "other", nil)
	require.NoError(t, err)
	require.Zero(t, seq)

	entries, err := store.Read("exec-1", -1, 100)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, e := range entries {
		require.Equal(t, int64(i), e.Sequence)
	}
}

func TestRouterDurableBeforeBroadcast(t *testing.T) {
	store := inmem.NewInMemLogStore(0)
	broadcast := inmem.NewInMemLogBroadcast()
	router := NewRouter(store, broadcast)

	// no subscriber connected; the append must still land in the store
	_, err := router.Append("exec-1", model.LOG_WARN, "nobody listening", nil)
	require.NoError(t, err)
	entries, err := store.Read("exec-1", -1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, model.LOG_WARN, entries[0].Level)
}

func TestPersisterDrainAndTrim(t *testing.T) {
	store := inmem.NewInMemLogStore(0)
	broadcast := inmem.NewInMemLogBroadcast()
	router := NewRouter(store, broadcast)

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	executions := sqlite.NewExecutionStorage(db)

	var wg sync.WaitGroup
	persister := NewPersister(store, executions, time.Hour, 2, &wg)

	for i := 0; i < 5; i++ {
		_, err := router.Append("exec-1", model.LOG_INFO, fmt.Sprintf("line %d", i), nil)
		require.NoError(t, err)
	}

	persister.Drain()

	saved, err := executions.GetLogEntries("exec-1", -1, 100)
	require.NoError(t, err)
	require.Len(t, saved, 5)
	for i, e := range saved {
		require.Equal(t, int64(i), e.Sequence)
		require.Equal(t, fmt.Sprintf("line %d", i), e.Message)
	}

	// everything at or below the persistence cursor is trimmed
	remaining, err := store.Read("exec-1", -1, 100)
	require.NoError(t, err)
	require.Empty(t, remaining)

	// new entries after a drain are picked up by the next one
	_, err = router.Append("exec-1", model.LOG_ERROR, "late line", nil)
	require.NoError(t, err)
	persister.Drain()
	saved, err = executions.GetLogEntries("exec-1", 4, 100)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	require.Equal(t, int64(5), saved[0].Sequence)
}

// flakyExecutions fails a fixed number of SaveLogEntries calls, as a store
// hitting transient errors would.
type flakyExecutions struct {
	persistence.ExecutionStorage
	failures int
}

func (f *flakyExecutions) SaveLogEntries(entries []model.ExecutionLogEntry) error {
	if f.failures > 0 {
		f.failures--
		return persistence.StorageLayerError{Message: "transient write failure"}
	}
	return f.ExecutionStorage.SaveLogEntries(entries)
}

func TestPersisterRetriesAfterSaveFailure(t *testing.T) {
	store := inmem.NewInMemLogStore(0)
	broadcast := inmem.NewInMemLogBroadcast()
	router := NewRouter(store, broadcast)

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	executions := &flakyExecutions{ExecutionStorage: sqlite.NewExecutionStorage(db), failures: 1}

	var wg sync.WaitGroup
	persister := NewPersister(store, executions, time.Hour, 10, &wg)

	for i := 0; i < 3; i++ {
		_, err := router.Append("exec-1", model.LOG_INFO, fmt.Sprintf("line %d", i), nil)
		require.NoError(t, err)
	}

	// first drain hits the transient failure; nothing lands yet
	persister.Drain()
	saved, err := executions.GetLogEntries("exec-1", -1, 100)
	require.NoError(t, err)
	require.Empty(t, saved)

	// the execution appends nothing more, so the only way these entries
	// ever persist is if the failed drain left the id on the dirty set
	persister.Drain()
	saved, err = executions.GetLogEntries("exec-1", -1, 100)
	require.NoError(t, err)
	require.Len(t, saved, 3)
}

func TestPersisterReleaseDropsStream(t *testing.T) {
	store := inmem.NewInMemLogStore(0)
	broadcast := inmem.NewInMemLogBroadcast()
	router := NewRouter(store, broadcast)

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	executions := sqlite.NewExecutionStorage(db)

	var wg sync.WaitGroup
	persister := NewPersister(store, executions, time.Hour, 10, &wg)

	for i := 0; i < 3; i++ {
		_, err := router.Append("exec-1", model.LOG_INFO, fmt.Sprintf("line %d", i), nil)
		require.NoError(t, err)
	}

	persister.Release("exec-1")

	// entries landed in the long-term store before the stream was deleted
	saved, err := executions.GetLogEntries("exec-1", -1, 100)
	require.NoError(t, err)
	require.Len(t, saved, 3)
	remaining, err := store.Read("exec-1", -1, 100)
	require.NoError(t, err)
	require.Empty(t, remaining)
	dirty, err := store.Dirty()
	require.NoError(t, err)
	require.NotContains(t, dirty, "exec-1")
}

func TestPersisterCursorRecovery(t *testing.T) {
	store := inmem.NewInMemLogStore(0)
	broadcast := inmem.NewInMemLogBroadcast()
	router := NewRouter(store, broadcast)

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	executions := sqlite.NewExecutionStorage(db)

	var wg sync.WaitGroup
	first := NewPersister(store, executions, time.Hour, 10, &wg)
	for i := 0; i < 3; i++ {
		_, err := router.Append("exec-1", model.LOG_INFO, fmt.Sprintf("line %d", i), nil)
		require.NoError(t, err)
	}
	first.Drain()

	// a fresh persister (as after a restart) resumes behind the committed
	// cursor without duplicating rows
	_, err = router.Append("exec-1", model.LOG_INFO, "line 3", nil)
	require.NoError(t, err)
	second := NewPersister(store, executions, time.Hour, 10, &wg)
	second.Drain()

	saved, err := executions.GetLogEntries("exec-1", -1, 100)
	require.NoError(t, err)
	require.Len(t, saved, 4)
}

func TestForwarderLiveFollow(t *testing.T) {
	store := inmem.NewInMemLogStore(0)
	broadcast := inmem.NewInMemLogBroadcast()
	router := NewRouter(store, broadcast)
	forwarder := NewForwarder(store, broadcast, 16)

	// two entries exist before the subscriber connects
	for i := 0; i < 2; i++ {
		_, err := router.Append("exec-1", model.LOG_INFO, fmt.Sprintf("line %d", i), nil)
		require.NoError(t, err)
	}

	stream, err := forwarder.Subscribe("exec-1", 0)
	require.NoError(t, err)
	defer stream.Close()

	received := make([]model.ExecutionLogEntry, 0, 4)
	for len(received) < 2 {
		select {
		case e := <-stream.Entries():
			received = append(received, e)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for backfill")
		}
	}

	// live entries continue the same gap-free sequence
	for i := 2; i < 4; i++ {
		_, err := router.Append("exec-1", model.LOG_INFO, fmt.Sprintf("line %d", i), nil)
		require.NoError(t, err)
	}
	for len(received) < 4 {
		select {
		case e := <-stream.Entries():
			received = append(received, e)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for live entries")
		}
	}
	for i, e := range received {
		require.Equal(t, int64(i), e.Sequence)
	}
}

func TestForwarderIndependentOfPersister(t *testing.T) {
	store := inmem.NewInMemLogStore(0)
	broadcast := inmem.NewInMemLogBroadcast()
	router := NewRouter(store, broadcast)
	forwarder := NewForwarder(store, broadcast, 16)

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	var wg sync.WaitGroup
	persister := NewPersister(store, sqlite.NewExecutionStorage(db), time.Hour, 16, &wg)

	stream, err := forwarder.Subscribe("exec-1", 0)
	require.NoError(t, err)
	defer stream.Close()

	_, err = router.Append("exec-1", model.LOG_INFO, "line 0", nil)
	require.NoError(t, err)

	// the persistence consumer draining and trimming must not disturb an
	// already connected live consumer
	persister.Drain()

	_, err = router.Append("exec-1", model.LOG_INFO, "line 1", nil)
	require.NoError(t, err)

	var seqs []int64
	for len(seqs) < 2 {
		select {
		case e := <-stream.Entries():
			seqs = append(seqs, e.Sequence)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for entries")
		}
	}
	require.Equal(t, []int64{0, 1}, seqs)
}
