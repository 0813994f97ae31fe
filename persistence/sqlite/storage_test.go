package sqlite

import (
	"testing"
	"time"

	"github.com/flowplane/flowplane/model"
	"github.com/stretchr/testify/require"
)

func openTestDb(t *testing.T) *registryStorage {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRegistryStorage(db)
}

func TestRegistryStorage(t *testing.T) {
	for scenario, fn := range map[string]func(
		t *testing.T, storage *registryStorage,
	){
		"test save and get workflow":   testSaveGetWorkflow,
		"test upsert workflow":         testUpsertWorkflow,
		"test touch updates last seen": testTouchWorkflow,
		"test deactivate unseen":       testDeactivateUnseen,
		"test list active only":        testListActiveOnly,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, openTestDb(t))
		})
	}
}

func sampleWorkflow(name string, seenAt time.Time) model.WorkflowDefinition {
	return model.WorkflowDefinition{
		Name:        name,
		Description: "a test workflow",
		Category:    "test",
		Tags:        []string{"a", "b"},
		Parameters: []model.ParameterDefinition{
			{Name: "person", Type: model.PARAM_TYPE_STRING, Required: true},
		},
		Mode:       model.MODE_SYNC,
		SourcePath: "/workspace/" + name + ".js",
		Active:     true,
		LastSeenAt: seenAt,
	}
}

func testSaveGetWorkflow(t *testing.T, storage *registryStorage) {
	seenAt := time.Now()
	require.NoError(t, storage.SaveWorkflowDefinition(sampleWorkflow("greeting", seenAt)))

	wf, err := storage.GetWorkflowDefinition("greeting")
	require.NoError(t, err)
	require.NotNil(t, wf)
	require.Equal(t, "greeting", wf.Name)
	require.Equal(t, []string{"a", "b"}, wf.Tags)
	require.Len(t, wf.Parameters, 1)
	require.True(t, wf.Active)
	require.WithinDuration(t, seenAt, wf.LastSeenAt, time.Millisecond)

	missing, err := storage.GetWorkflowDefinition("nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func testUpsertWorkflow(t *testing.T, storage *registryStorage) {
	require.NoError(t, storage.SaveWorkflowDefinition(sampleWorkflow("greeting", time.Now())))
	changed := sampleWorkflow("greeting", time.Now())
	changed.Description = "changed"
	require.NoError(t, storage.SaveWorkflowDefinition(changed))

	wf, err := storage.GetWorkflowDefinition("greeting")
	require.NoError(t, err)
	require.Equal(t, "changed", wf.Description)
}

func testTouchWorkflow(t *testing.T, storage *registryStorage) {
	old := time.Now().Add(-time.Hour)
	require.NoError(t, storage.SaveWorkflowDefinition(sampleWorkflow("greeting", old)))

	now := time.Now()
	require.NoError(t, storage.TouchWorkflowDefinition("greeting", now))
	wf, err := storage.GetWorkflowDefinition("greeting")
	require.NoError(t, err)
	require.WithinDuration(t, now, wf.LastSeenAt, time.Millisecond)
}

func testDeactivateUnseen(t *testing.T, storage *registryStorage) {
	stale := time.Now().Add(-time.Hour)
	require.NoError(t, storage.SaveWorkflowDefinition(sampleWorkflow("stale", stale)))
	require.NoError(t, storage.SaveWorkflowDefinition(sampleWorkflow("fresh", time.Now().Add(time.Second))))

	n, err := storage.DeactivateUnseen(time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	staleWf, err := storage.GetWorkflowDefinition("stale")
	require.NoError(t, err)
	require.False(t, staleWf.Active)
	freshWf, err := storage.GetWorkflowDefinition("fresh")
	require.NoError(t, err)
	require.True(t, freshWf.Active)

	// idempotent: already inactive rows are not counted again
	n, err = storage.DeactivateUnseen(time.Now())
	require.NoError(t, err)
	require.Zero(t, n)
}

func testListActiveOnly(t *testing.T, storage *registryStorage) {
	active := sampleWorkflow("active", time.Now())
	inactive := sampleWorkflow("inactive", time.Now())
	inactive.Active = false
	require.NoError(t, storage.SaveWorkflowDefinition(active))
	require.NoError(t, storage.SaveWorkflowDefinition(inactive))

	all, err := storage.ListWorkflowDefinitions(false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	activeOnly, err := storage.ListWorkflowDefinitions(true)
	require.NoError(t, err)
	require.Len(t, activeOnly, 1)
	require.Equal(t, "active", activeOnly[0].Name)
}

func TestExecutionStorage(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	storage := NewExecutionStorage(db)

	exec := &model.Execution{
		Id:           "exec-1",
		WorkflowName: "greeting",
		OrgId:        "org-1",
		Params:       map[string]any{"person": "ada"},
		Status:       model.EXECUTION_PENDING,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, storage.CreateExecution(exec))

	// precondition mismatch leaves the row untouched
	err = storage.UpdateStatus("exec-1", model.EXECUTION_RUNNING, model.EXECUTION_SUCCESS)
	require.Error(t, err)

	require.NoError(t, storage.UpdateStatus("exec-1", model.EXECUTION_PENDING, model.EXECUTION_RUNNING))
	require.NoError(t, storage.MarkStarted("exec-1", time.Now()))

	ended := time.Now()
	require.NoError(t, storage.FinishExecution(&model.Execution{
		Id:        "exec-1",
		Status:    model.EXECUTION_SUCCESS,
		Result:    map[string]any{"message": "Hello, ada!"},
		Variables: map[string]any{"greeted": "ada"},
		Metrics:   model.ResourceMetrics{PeakMemoryBytes: 1024, UserCPUMillis: 5, SystemCPUMillis: 2},
		EndedAt:   &ended,
	}, model.EXECUTION_RUNNING))

	got, err := storage.GetExecution("exec-1")
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_SUCCESS, got.Status)
	require.Equal(t, "Hello, ada!", got.Result["message"])
	require.Equal(t, "ada", got.Variables["greeted"])
	require.Equal(t, int64(7), got.Metrics.TotalCPUMillis)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.EndedAt)

	// terminal rows accept no further transitions
	err = storage.UpdateStatus("exec-1", model.EXECUTION_SUCCESS, model.EXECUTION_RUNNING)
	require.Error(t, err)
}

func TestFailStale(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	storage := NewExecutionStorage(db)

	seed := func(id string, status model.ExecutionStatus, startedAgo time.Duration) {
		require.NoError(t, storage.CreateExecution(&model.Execution{
			Id: id, WorkflowName: "greeting", Status: model.EXECUTION_PENDING, CreatedAt: time.Now(),
		}))
		require.NoError(t, storage.UpdateStatus(id, model.EXECUTION_PENDING, model.EXECUTION_RUNNING))
		if status == model.EXECUTION_CANCELLING {
			require.NoError(t, storage.UpdateStatus(id, model.EXECUTION_RUNNING, model.EXECUTION_CANCELLING))
		}
		require.NoError(t, storage.MarkStarted(id, time.Now().Add(-startedAgo)))
	}
	seed("stale-running", model.EXECUTION_RUNNING, 2*time.Hour)
	seed("stale-cancelling", model.EXECUTION_CANCELLING, 2*time.Hour)
	seed("fresh-running", model.EXECUTION_RUNNING, time.Second)

	// pending rows have no started_at and are out of scope
	require.NoError(t, storage.CreateExecution(&model.Execution{
		Id: "still-pending", WorkflowName: "greeting", Status: model.EXECUTION_PENDING, CreatedAt: time.Now(),
	}))

	n, err := storage.FailStale(time.Now().Add(-time.Hour), "AbandonedError", "worker lost")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	for _, id := range []string{"stale-running", "stale-cancelling"} {
		exec, err := storage.GetExecution(id)
		require.NoError(t, err)
		require.Equal(t, model.EXECUTION_FAILED, exec.Status)
		require.Equal(t, "AbandonedError", exec.ErrorType)
		require.NotNil(t, exec.EndedAt)
	}
	fresh, err := storage.GetExecution("fresh-running")
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_RUNNING, fresh.Status)
	pending, err := storage.GetExecution("still-pending")
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_PENDING, pending.Status)

	// already swept rows are not counted again
	n, err = storage.FailStale(time.Now().Add(-time.Hour), "AbandonedError", "worker lost")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestExecutionLogStorage(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	storage := NewExecutionStorage(db)

	entries := []model.ExecutionLogEntry{
		{ExecutionId: "exec-1", Sequence: 0, Level: model.LOG_INFO, Message: "first", Timestamp: time.Now()},
		{ExecutionId: "exec-1", Sequence: 1, Level: model.LOG_WARN, Message: "second",
			Metadata: map[string]any{"k": "v"}, Timestamp: time.Now()},
	}
	require.NoError(t, storage.SaveLogEntries(entries))
	// redelivered batches are ignored, not duplicated
	require.NoError(t, storage.SaveLogEntries(entries))

	got, err := storage.GetLogEntries("exec-1", -1, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "v", got[1].Metadata["k"])

	max, err := storage.MaxLogSequence("exec-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), max)
	max, err = storage.MaxLogSequence("unknown")
	require.NoError(t, err)
	require.Equal(t, int64(-1), max)

	after, err := storage.GetLogEntries("exec-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Equal(t, "second", after[0].Message)
}
